package usageevents

import (
	"context"

	"github.com/boxlinehq/boxline-backend/pkg/db/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository appends usage/audit events. Rows are never updated or deleted.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Append(ctx context.Context, event *models.UsageEvent) error
	ListByBox(ctx context.Context, boxID uuid.UUID, limit int) ([]models.UsageEvent, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a usage event repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Append(ctx context.Context, event *models.UsageEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *repository) ListByBox(ctx context.Context, boxID uuid.UUID, limit int) ([]models.UsageEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	var events []models.UsageEvent
	if err := r.db.WithContext(ctx).
		Where("box_id = ?", boxID).
		Order("created_at DESC").
		Limit(limit).
		Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}
