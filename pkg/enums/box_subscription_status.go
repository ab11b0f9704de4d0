package enums

import "fmt"

// BoxSubscriptionStatus is the box-level billing posture, coarser than the
// provider subscription state.
type BoxSubscriptionStatus string

const (
	BoxSubscriptionStatusNone     BoxSubscriptionStatus = "none"
	BoxSubscriptionStatusTrial    BoxSubscriptionStatus = "trial"
	BoxSubscriptionStatusActive   BoxSubscriptionStatus = "active"
	BoxSubscriptionStatusPastDue  BoxSubscriptionStatus = "past_due"
	BoxSubscriptionStatusCanceled BoxSubscriptionStatus = "canceled"
)

var validBoxSubscriptionStatuses = []BoxSubscriptionStatus{
	BoxSubscriptionStatusNone,
	BoxSubscriptionStatusTrial,
	BoxSubscriptionStatusActive,
	BoxSubscriptionStatusPastDue,
	BoxSubscriptionStatusCanceled,
}

// String implements fmt.Stringer.
func (s BoxSubscriptionStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is known.
func (s BoxSubscriptionStatus) IsValid() bool {
	for _, candidate := range validBoxSubscriptionStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseBoxSubscriptionStatus converts raw input into a BoxSubscriptionStatus.
func ParseBoxSubscriptionStatus(value string) (BoxSubscriptionStatus, error) {
	for _, candidate := range validBoxSubscriptionStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid box subscription status %q", value)
}
