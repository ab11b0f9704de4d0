package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/boxlinehq/boxline-backend/pkg/enums"
)

// OverageBillingRecord is a computed overage charge for one billing period.
// Unique per (box_id, billing_period_start, billing_period_end); a second
// calculation in the same period re-reads the existing row.
type OverageBillingRecord struct {
	ID                 uuid.UUID                  `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	BoxID              uuid.UUID                  `gorm:"column:box_id;type:uuid;not null;uniqueIndex:ux_overage_box_period"`
	SubscriptionID     *uuid.UUID                 `gorm:"column:subscription_id;type:uuid"`
	BillingPeriodStart time.Time                  `gorm:"column:billing_period_start;not null;uniqueIndex:ux_overage_box_period"`
	BillingPeriodEnd   time.Time                  `gorm:"column:billing_period_end;not null;uniqueIndex:ux_overage_box_period"`
	AthleteCount       int                        `gorm:"column:athlete_count;not null"`
	AthleteLimit       int                        `gorm:"column:athlete_limit;not null"`
	AthleteOverage     int                        `gorm:"column:athlete_overage;not null"`
	AthleteRateCents   int64                      `gorm:"column:athlete_rate_cents;not null"`
	CoachCount         int                        `gorm:"column:coach_count;not null"`
	CoachLimit         int                        `gorm:"column:coach_limit;not null"`
	CoachOverage       int                        `gorm:"column:coach_overage;not null"`
	CoachRateCents     int64                      `gorm:"column:coach_rate_cents;not null"`
	TotalOverageCents  int64                      `gorm:"column:total_overage_cents;not null"`
	CurrencyCode       string                     `gorm:"column:currency_code;not null;default:'usd'"`
	Status             enums.OverageBillingStatus `gorm:"column:status;type:overage_billing_status;not null;default:'calculated'"`
	CreatedAt          time.Time                  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time                  `gorm:"column:updated_at;autoUpdateTime"`
}
