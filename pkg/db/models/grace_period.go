package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/boxlinehq/boxline-backend/pkg/enums"
)

// GracePeriod is a time-boxed exception that preserves access despite a
// limit breach or billing problem. At most one unresolved, unexpired row
// exists per (box_id, reason); a partial unique index enforces the invariant.
type GracePeriod struct {
	ID              uuid.UUID                 `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	BoxID           uuid.UUID                 `gorm:"column:box_id;type:uuid;not null;index"`
	Reason          enums.GracePeriodReason   `gorm:"column:reason;type:grace_period_reason;not null"`
	Severity        enums.GracePeriodSeverity `gorm:"column:severity;type:grace_period_severity;not null"`
	EndsAt          time.Time                 `gorm:"column:ends_at;not null"`
	Resolved        bool                      `gorm:"column:resolved;not null;default:false"`
	ResolvedAt      *time.Time                `gorm:"column:resolved_at"`
	Resolution      *string                   `gorm:"column:resolution"`
	ResolvedBy      *string                   `gorm:"column:resolved_by"`
	AutoResolve     bool                      `gorm:"column:auto_resolve;not null;default:true"`
	AutoResolved    bool                      `gorm:"column:auto_resolved;not null;default:false"`
	ContextSnapshot json.RawMessage           `gorm:"column:context_snapshot;type:jsonb"`
	CreatedAt       time.Time                 `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time                 `gorm:"column:updated_at;autoUpdateTime"`
}

// ActiveAt reports whether the grace period still preserves access at now.
func (g *GracePeriod) ActiveAt(now time.Time) bool {
	if g == nil || g.Resolved {
		return false
	}
	return now.Before(g.EndsAt)
}
