package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/boxlinehq/boxline-backend/pkg/enums"
)

// Subscription persists billing-provider subscription state per box.
// provider_subscription_id is the upsert key for every state transition.
type Subscription struct {
	ID                     uuid.UUID                `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	BoxID                  uuid.UUID                `gorm:"column:box_id;type:uuid;not null;index"`
	ProviderSubscriptionID string                   `gorm:"column:provider_subscription_id;not null;unique"`
	Status                 enums.SubscriptionStatus `gorm:"column:status;type:subscription_status;not null;default:'active'"`
	PlanTier               *enums.PlanTier          `gorm:"column:plan_tier;type:plan_tier"`
	CurrentPeriodStart     *time.Time               `gorm:"column:current_period_start"`
	CurrentPeriodEnd       time.Time                `gorm:"column:current_period_end;not null"`
	CancelAtPeriodEnd      bool                     `gorm:"column:cancel_at_period_end;not null;default:false"`
	CanceledAt             *time.Time               `gorm:"column:canceled_at"`
	Metadata               json.RawMessage          `gorm:"column:metadata;type:jsonb"`
	CreatedAt              time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt              time.Time                `gorm:"column:updated_at;autoUpdateTime"`
}
