package billingevents

import (
	"context"
	"time"

	"github.com/boxlinehq/boxline-backend/pkg/db/models"
	"github.com/boxlinehq/boxline-backend/pkg/enums"
	"gorm.io/gorm"
)

// Repository persists received webhook events. Rows live forever as the
// audit trail; only status, retry bookkeeping, and processed_at move.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, event *models.BillingEvent) error
	Update(ctx context.Context, event *models.BillingEvent) error
	FindByProviderEventID(ctx context.Context, providerEventID string) (*models.BillingEvent, error)
	ListDueForRetry(ctx context.Context, now time.Time, limit int) ([]models.BillingEvent, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a billing event repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, event *models.BillingEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *repository) Update(ctx context.Context, event *models.BillingEvent) error {
	return r.db.WithContext(ctx).Save(event).Error
}

func (r *repository) FindByProviderEventID(ctx context.Context, providerEventID string) (*models.BillingEvent, error) {
	if providerEventID == "" {
		return nil, nil
	}
	var event models.BillingEvent
	if err := r.db.WithContext(ctx).
		Where("provider_event_id = ?", providerEventID).
		First(&event).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &event, nil
}

func (r *repository) ListDueForRetry(ctx context.Context, now time.Time, limit int) ([]models.BillingEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	var events []models.BillingEvent
	if err := r.db.WithContext(ctx).
		Where("status = ?", enums.BillingEventStatusFailed).
		Where("next_retry_at IS NOT NULL AND next_retry_at <= ?", now).
		Order("next_retry_at ASC").
		Limit(limit).
		Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}
