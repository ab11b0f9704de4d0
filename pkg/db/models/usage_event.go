package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/boxlinehq/boxline-backend/pkg/enums"
)

// UsageEvent is an append-only billable or informational occurrence. Rows
// are never mutated after insert.
type UsageEvent struct {
	ID                 uuid.UUID            `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	BoxID              uuid.UUID            `gorm:"column:box_id;type:uuid;not null;index"`
	EventType          enums.UsageEventType `gorm:"column:event_type;type:usage_event_type;not null"`
	Quantity           int64                `gorm:"column:quantity;not null;default:1"`
	Billable           bool                 `gorm:"column:billable;not null;default:false"`
	BillingPeriodStart *time.Time           `gorm:"column:billing_period_start"`
	BillingPeriodEnd   *time.Time           `gorm:"column:billing_period_end"`
	Metadata           json.RawMessage      `gorm:"column:metadata;type:jsonb"`
	CreatedAt          time.Time            `gorm:"column:created_at;autoCreateTime"`
}
