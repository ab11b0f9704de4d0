package plans

import (
	"context"

	"github.com/boxlinehq/boxline-backend/pkg/db/models"
	"github.com/boxlinehq/boxline-backend/pkg/enums"
	"gorm.io/gorm"
)

// Repository reads subscription plans. Plans are seeded by migrations and
// treated as read-only at runtime.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindCurrentByTier(ctx context.Context, tier enums.PlanTier) (*models.SubscriptionPlan, error)
	ListCurrent(ctx context.Context) ([]models.SubscriptionPlan, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a plan repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindCurrentByTier(ctx context.Context, tier enums.PlanTier) (*models.SubscriptionPlan, error) {
	var plan models.SubscriptionPlan
	if err := r.db.WithContext(ctx).
		Where("tier = ?", tier).
		Where("is_current_version").
		First(&plan).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &plan, nil
}

func (r *repository) ListCurrent(ctx context.Context) ([]models.SubscriptionPlan, error) {
	var plansList []models.SubscriptionPlan
	if err := r.db.WithContext(ctx).
		Where("is_current_version").
		Order("tier ASC").
		Find(&plansList).Error; err != nil {
		return nil, err
	}
	return plansList, nil
}
