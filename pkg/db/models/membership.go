package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/boxlinehq/boxline-backend/pkg/enums"
)

// Membership is a user's role-scoped association with a box. The usage
// calculator counts active rows by role against plan limits.
type Membership struct {
	ID        uuid.UUID              `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	BoxID     uuid.UUID              `gorm:"column:box_id;type:uuid;not null;index"`
	UserID    uuid.UUID              `gorm:"column:user_id;type:uuid;not null;index"`
	Role      enums.MemberRole       `gorm:"column:role;type:member_role;not null"`
	Status    enums.MembershipStatus `gorm:"column:status;type:membership_status;not null;default:'active'"`
	CreatedAt time.Time              `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time              `gorm:"column:updated_at;autoUpdateTime"`
}
