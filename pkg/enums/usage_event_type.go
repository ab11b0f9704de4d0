package enums

import "fmt"

// UsageEventType labels append-only usage/audit events.
type UsageEventType string

const (
	UsageEventTypeGracePeriodTriggered UsageEventType = "grace_period_triggered"
	UsageEventTypeGracePeriodResolved  UsageEventType = "grace_period_resolved"
	UsageEventTypeOverageCalculated    UsageEventType = "overage_calculated"
	UsageEventTypeMembershipCount      UsageEventType = "membership_count"
	UsageEventTypeTrialExpired         UsageEventType = "trial_expired"
)

var validUsageEventTypes = []UsageEventType{
	UsageEventTypeGracePeriodTriggered,
	UsageEventTypeGracePeriodResolved,
	UsageEventTypeOverageCalculated,
	UsageEventTypeMembershipCount,
	UsageEventTypeTrialExpired,
}

// String implements fmt.Stringer.
func (t UsageEventType) String() string {
	return string(t)
}

// IsValid reports whether the value is known.
func (t UsageEventType) IsValid() bool {
	for _, candidate := range validUsageEventTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseUsageEventType converts raw input into a UsageEventType.
func ParseUsageEventType(value string) (UsageEventType, error) {
	for _, candidate := range validUsageEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid usage event type %q", value)
}
