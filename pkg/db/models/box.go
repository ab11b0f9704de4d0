package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/boxlinehq/boxline-backend/pkg/enums"
)

// Box is a tenant gym. Status is a projection of subscription and
// grace-period state; only the lifecycle engine writes it.
type Box struct {
	ID                     uuid.UUID                   `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	Name                   string                      `gorm:"column:name;not null"`
	Status                 enums.BoxStatus             `gorm:"column:status;type:box_status;not null;default:'active'"`
	SubscriptionStatus     enums.BoxSubscriptionStatus `gorm:"column:subscription_status;type:box_subscription_status;not null;default:'trial'"`
	SubscriptionTier       *enums.PlanTier             `gorm:"column:subscription_tier;type:plan_tier"`
	ProviderCustomerID     *string                     `gorm:"column:provider_customer_id"`
	ProviderSubscriptionID *string                     `gorm:"column:provider_subscription_id;index"`
	TrialEndsAt            *time.Time                  `gorm:"column:trial_ends_at"`
	SubscriptionStartsAt   *time.Time                  `gorm:"column:subscription_starts_at"`
	SubscriptionEndsAt     *time.Time                  `gorm:"column:subscription_ends_at"`
	IsOverageEnabled       bool                        `gorm:"column:is_overage_enabled;not null;default:false"`
	CurrentAthleteCount    int                         `gorm:"column:current_athlete_count;not null;default:0"`
	CurrentAthleteLimit    int                         `gorm:"column:current_athlete_limit;not null;default:0"`
	CurrentCoachCount      int                         `gorm:"column:current_coach_count;not null;default:0"`
	CurrentCoachLimit      int                         `gorm:"column:current_coach_limit;not null;default:0"`
	CreatedAt              time.Time                   `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt              time.Time                   `gorm:"column:updated_at;autoUpdateTime"`
}
