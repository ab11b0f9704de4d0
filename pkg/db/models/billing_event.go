package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/boxlinehq/boxline-backend/pkg/enums"
)

// BillingEvent is a received provider webhook, persisted for audit and
// retry. provider_event_id is the idempotency key. Rows are never deleted.
type BillingEvent struct {
	ID              uuid.UUID                `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	BoxID           *uuid.UUID               `gorm:"column:box_id;type:uuid;index"`
	EventType       string                   `gorm:"column:event_type;not null"`
	ProviderEventID string                   `gorm:"column:provider_event_id;not null;unique"`
	Data            json.RawMessage          `gorm:"column:data;type:jsonb"`
	Status          enums.BillingEventStatus `gorm:"column:status;type:billing_event_status;not null;default:'pending'"`
	RetryCount      int                      `gorm:"column:retry_count;not null;default:0"`
	MaxRetries      int                      `gorm:"column:max_retries;not null;default:3"`
	NextRetryAt     *time.Time               `gorm:"column:next_retry_at;index"`
	LastError       *string                  `gorm:"column:last_error"`
	ProcessedAt     *time.Time               `gorm:"column:processed_at"`
	CreatedAt       time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time                `gorm:"column:updated_at;autoUpdateTime"`
}

// TerminallyFailed reports whether the event exhausted its retries and now
// needs operator intervention.
func (e *BillingEvent) TerminallyFailed() bool {
	if e == nil {
		return false
	}
	return e.Status == enums.BillingEventStatusFailed && e.NextRetryAt == nil && e.RetryCount >= e.MaxRetries
}
