package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/boxlinehq/boxline-backend/pkg/enums"
)

// SubscriptionPlan captures a priced tier and its seat limits. Exactly one
// row per tier carries is_current_version = true.
type SubscriptionPlan struct {
	ID                       uuid.UUID       `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	Tier                     enums.PlanTier  `gorm:"column:tier;type:plan_tier;not null"`
	Version                  int             `gorm:"column:version;not null;default:1"`
	IsCurrentVersion         bool            `gorm:"column:is_current_version;not null;default:true"`
	AthleteLimit             int             `gorm:"column:athlete_limit;not null"`
	CoachLimit               int             `gorm:"column:coach_limit;not null"`
	AthleteOveragePriceCents *int64          `gorm:"column:athlete_overage_price_cents"`
	CoachOveragePriceCents   *int64          `gorm:"column:coach_overage_price_cents"`
	MonthlyPrice             decimal.Decimal `gorm:"column:monthly_price;type:numeric(12,2);not null"`
	CurrencyCode             string          `gorm:"column:currency_code;not null;default:'usd'"`
	Features                 pq.StringArray  `gorm:"column:features;type:text[];default:ARRAY[]::text[]"`
	CreatedAt                time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt                time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}
