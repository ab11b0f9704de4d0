package enums

import "fmt"

// BoxStatus is the derived access projection for a box. It is only written by
// the lifecycle engine, the reconciliation sweep, and the access checker's
// lazy trial correction.
type BoxStatus string

const (
	BoxStatusActive        BoxStatus = "active"
	BoxStatusSuspended     BoxStatus = "suspended"
	BoxStatusTrialExpired  BoxStatus = "trial_expired"
	BoxStatusPaymentFailed BoxStatus = "payment_failed"
)

var validBoxStatuses = []BoxStatus{
	BoxStatusActive,
	BoxStatusSuspended,
	BoxStatusTrialExpired,
	BoxStatusPaymentFailed,
}

// String implements fmt.Stringer.
func (s BoxStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is known.
func (s BoxStatus) IsValid() bool {
	for _, candidate := range validBoxStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseBoxStatus converts raw input into a BoxStatus.
func ParseBoxStatus(value string) (BoxStatus, error) {
	for _, candidate := range validBoxStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid box status %q", value)
}
