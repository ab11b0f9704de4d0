package graceperiods

import (
	"context"
	"time"

	"github.com/boxlinehq/boxline-backend/pkg/db/models"
	"github.com/boxlinehq/boxline-backend/pkg/enums"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository handles grace period persistence.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, gracePeriod *models.GracePeriod) error
	Update(ctx context.Context, gracePeriod *models.GracePeriod) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.GracePeriod, error)
	FindOpen(ctx context.Context, boxID uuid.UUID, reason enums.GracePeriodReason, now time.Time) (*models.GracePeriod, error)
	FindUnresolved(ctx context.Context, boxID uuid.UUID, reason enums.GracePeriodReason) (*models.GracePeriod, error)
	ListOpenByBox(ctx context.Context, boxID uuid.UUID, now time.Time) ([]models.GracePeriod, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a grace period repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, gracePeriod *models.GracePeriod) error {
	return r.db.WithContext(ctx).Create(gracePeriod).Error
}

func (r *repository) Update(ctx context.Context, gracePeriod *models.GracePeriod) error {
	return r.db.WithContext(ctx).Save(gracePeriod).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.GracePeriod, error) {
	var gracePeriod models.GracePeriod
	if err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&gracePeriod).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &gracePeriod, nil
}

func (r *repository) FindOpen(ctx context.Context, boxID uuid.UUID, reason enums.GracePeriodReason, now time.Time) (*models.GracePeriod, error) {
	var gracePeriod models.GracePeriod
	if err := r.db.WithContext(ctx).
		Where("box_id = ?", boxID).
		Where("reason = ?", reason).
		Where("NOT resolved").
		Where("ends_at > ?", now).
		Order("created_at DESC").
		First(&gracePeriod).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &gracePeriod, nil
}

// FindUnresolved matches the predicate of ux_grace_periods_open_reason: no
// expiry filter. A zero-duration window is expired from birth yet still
// occupies the index until resolved.
func (r *repository) FindUnresolved(ctx context.Context, boxID uuid.UUID, reason enums.GracePeriodReason) (*models.GracePeriod, error) {
	var gracePeriod models.GracePeriod
	if err := r.db.WithContext(ctx).
		Where("box_id = ?", boxID).
		Where("reason = ?", reason).
		Where("NOT resolved").
		First(&gracePeriod).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &gracePeriod, nil
}

func (r *repository) ListOpenByBox(ctx context.Context, boxID uuid.UUID, now time.Time) ([]models.GracePeriod, error) {
	var gracePeriods []models.GracePeriod
	if err := r.db.WithContext(ctx).
		Where("box_id = ?", boxID).
		Where("NOT resolved").
		Where("ends_at > ?", now).
		Order("created_at DESC").
		Find(&gracePeriods).Error; err != nil {
		return nil, err
	}
	return gracePeriods, nil
}
