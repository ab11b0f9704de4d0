package usage

import (
	"context"
	"time"

	dbpkg "github.com/boxlinehq/boxline-backend/pkg/db"
	"github.com/boxlinehq/boxline-backend/pkg/db/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository persists overage billing records. The (box, period) unique
// index keeps calculation exactly-once per billing period.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByPeriod(ctx context.Context, boxID uuid.UUID, periodStart, periodEnd time.Time) (*models.OverageBillingRecord, error)
	Create(ctx context.Context, record *models.OverageBillingRecord) error
	ListByBox(ctx context.Context, boxID uuid.UUID, limit int) ([]models.OverageBillingRecord, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns an overage record repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindByPeriod(ctx context.Context, boxID uuid.UUID, periodStart, periodEnd time.Time) (*models.OverageBillingRecord, error) {
	var record models.OverageBillingRecord
	if err := r.db.WithContext(ctx).
		Where("box_id = ?", boxID).
		Where("billing_period_start = ?", periodStart).
		Where("billing_period_end = ?", periodEnd).
		First(&record).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

func (r *repository) Create(ctx context.Context, record *models.OverageBillingRecord) error {
	return r.db.WithContext(ctx).Create(record).Error
}

func (r *repository) ListByBox(ctx context.Context, boxID uuid.UUID, limit int) ([]models.OverageBillingRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var records []models.OverageBillingRecord
	if err := r.db.WithContext(ctx).
		Where("box_id = ?", boxID).
		Order("billing_period_start DESC").
		Limit(limit).
		Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

// IsPeriodConflict reports whether err is the period unique index firing.
func IsPeriodConflict(err error) bool {
	return dbpkg.IsUniqueViolation(err, "ux_overage_box_period")
}
