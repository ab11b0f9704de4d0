package boxes

import (
	"context"
	"time"

	"github.com/boxlinehq/boxline-backend/pkg/db/models"
	"github.com/boxlinehq/boxline-backend/pkg/enums"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository handles box persistence. Box status is only written through
// UpdateStatus so every actor (webhook handler, sweep, access checker)
// applies the same primitive.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByID(ctx context.Context, id uuid.UUID) (*models.Box, error)
	FindByProviderCustomerID(ctx context.Context, providerCustomerID string) (*models.Box, error)
	Update(ctx context.Context, box *models.Box) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status enums.BoxStatus) error
	UpdateMemberCounts(ctx context.Context, id uuid.UUID, athletes, coaches int) error
	ListExpiredTrials(ctx context.Context, now time.Time, limit int) ([]models.Box, error)
	ListActiveWithEndedCanceledSubscription(ctx context.Context, now time.Time, limit int) ([]models.Box, error)
	ListTrialsEndingWithin(ctx context.Context, now time.Time, window time.Duration, limit int) ([]models.Box, error)
	ListOverageEnabled(ctx context.Context, limit int) ([]models.Box, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a box repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Box, error) {
	var box models.Box
	if err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&box).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &box, nil
}

func (r *repository) FindByProviderCustomerID(ctx context.Context, providerCustomerID string) (*models.Box, error) {
	if providerCustomerID == "" {
		return nil, nil
	}
	var box models.Box
	if err := r.db.WithContext(ctx).
		Where("provider_customer_id = ?", providerCustomerID).
		First(&box).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &box, nil
}

func (r *repository) Update(ctx context.Context, box *models.Box) error {
	return r.db.WithContext(ctx).Save(box).Error
}

func (r *repository) UpdateStatus(ctx context.Context, id uuid.UUID, status enums.BoxStatus) error {
	return r.db.WithContext(ctx).
		Model(&models.Box{}).
		Where("id = ?", id).
		Update("status", status).Error
}

func (r *repository) UpdateMemberCounts(ctx context.Context, id uuid.UUID, athletes, coaches int) error {
	return r.db.WithContext(ctx).
		Model(&models.Box{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"current_athlete_count": athletes,
			"current_coach_count":   coaches,
		}).Error
}

func (r *repository) ListExpiredTrials(ctx context.Context, now time.Time, limit int) ([]models.Box, error) {
	if limit <= 0 {
		limit = 250
	}
	var out []models.Box
	if err := r.db.WithContext(ctx).
		Where("subscription_status = ?", enums.BoxSubscriptionStatusTrial).
		Where("trial_ends_at IS NOT NULL AND trial_ends_at < ?", now).
		Where("provider_subscription_id IS NULL").
		Where("status <> ?", enums.BoxStatusTrialExpired).
		Order("trial_ends_at ASC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *repository) ListActiveWithEndedCanceledSubscription(ctx context.Context, now time.Time, limit int) ([]models.Box, error) {
	if limit <= 0 {
		limit = 250
	}
	var out []models.Box
	if err := r.db.WithContext(ctx).
		Joins("JOIN subscriptions ON subscriptions.box_id = boxes.id").
		Where("boxes.status = ?", enums.BoxStatusActive).
		Where("subscriptions.status = ?", enums.SubscriptionStatusCanceled).
		Where("boxes.subscription_ends_at IS NOT NULL AND boxes.subscription_ends_at < ?", now).
		Order("boxes.subscription_ends_at ASC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *repository) ListTrialsEndingWithin(ctx context.Context, now time.Time, window time.Duration, limit int) ([]models.Box, error) {
	if limit <= 0 {
		limit = 250
	}
	cutoff := now.Add(window)
	var out []models.Box
	if err := r.db.WithContext(ctx).
		Where("subscription_status = ?", enums.BoxSubscriptionStatusTrial).
		Where("trial_ends_at IS NOT NULL AND trial_ends_at >= ? AND trial_ends_at < ?", now, cutoff).
		Where("provider_subscription_id IS NULL").
		Order("trial_ends_at ASC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *repository) ListOverageEnabled(ctx context.Context, limit int) ([]models.Box, error) {
	if limit <= 0 {
		limit = 250
	}
	var out []models.Box
	if err := r.db.WithContext(ctx).
		Where("is_overage_enabled").
		Where("provider_subscription_id IS NOT NULL").
		Order("created_at ASC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
