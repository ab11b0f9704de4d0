package memberships

import (
	"context"

	"github.com/boxlinehq/boxline-backend/pkg/db/models"
	"github.com/boxlinehq/boxline-backend/pkg/enums"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// RoleCounts holds active membership counts split by seat type.
type RoleCounts struct {
	Athletes int
	Coaches  int
}

// Repository exposes the membership reads the usage calculator needs.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CountActiveByRole(ctx context.Context, boxID uuid.UUID) (RoleCounts, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a membership repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CountActiveByRole(ctx context.Context, boxID uuid.UUID) (RoleCounts, error) {
	type row struct {
		Role  enums.MemberRole
		Total int64
	}
	var rows []row
	if err := r.db.WithContext(ctx).
		Model(&models.Membership{}).
		Select("role, COUNT(*) AS total").
		Where("box_id = ?", boxID).
		Where("status = ?", enums.MembershipStatusActive).
		Group("role").
		Find(&rows).Error; err != nil {
		return RoleCounts{}, err
	}

	var counts RoleCounts
	for _, entry := range rows {
		if entry.Role.CountsAsCoach() {
			counts.Coaches += int(entry.Total)
			continue
		}
		counts.Athletes += int(entry.Total)
	}
	return counts, nil
}
