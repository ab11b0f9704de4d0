package enums

import "fmt"

// OverageBillingStatus tracks an overage charge from calculation to payment.
// Records are immutable once the status leaves calculated.
type OverageBillingStatus string

const (
	OverageBillingStatusCalculated OverageBillingStatus = "calculated"
	OverageBillingStatusInvoiced   OverageBillingStatus = "invoiced"
	OverageBillingStatusPaid       OverageBillingStatus = "paid"
	OverageBillingStatusWaived     OverageBillingStatus = "waived"
)

var validOverageBillingStatuses = []OverageBillingStatus{
	OverageBillingStatusCalculated,
	OverageBillingStatusInvoiced,
	OverageBillingStatusPaid,
	OverageBillingStatusWaived,
}

// String implements fmt.Stringer.
func (s OverageBillingStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is known.
func (s OverageBillingStatus) IsValid() bool {
	for _, candidate := range validOverageBillingStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseOverageBillingStatus converts raw input into an OverageBillingStatus.
func ParseOverageBillingStatus(value string) (OverageBillingStatus, error) {
	for _, candidate := range validOverageBillingStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid overage billing status %q", value)
}
