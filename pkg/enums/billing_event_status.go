package enums

import "fmt"

// BillingEventStatus tracks a webhook event through its processing lifecycle.
// Transitions are monotonic except failed -> processing on retry.
type BillingEventStatus string

const (
	BillingEventStatusPending    BillingEventStatus = "pending"
	BillingEventStatusProcessing BillingEventStatus = "processing"
	BillingEventStatusProcessed  BillingEventStatus = "processed"
	BillingEventStatusFailed     BillingEventStatus = "failed"
)

var validBillingEventStatuses = []BillingEventStatus{
	BillingEventStatusPending,
	BillingEventStatusProcessing,
	BillingEventStatusProcessed,
	BillingEventStatusFailed,
}

// String implements fmt.Stringer.
func (s BillingEventStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is known.
func (s BillingEventStatus) IsValid() bool {
	for _, candidate := range validBillingEventStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseBillingEventStatus converts raw input into a BillingEventStatus.
func ParseBillingEventStatus(value string) (BillingEventStatus, error) {
	for _, candidate := range validBillingEventStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid billing event status %q", value)
}
