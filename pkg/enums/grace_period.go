package enums

import "fmt"

// GracePeriodReason classifies why a box was given a temporary access window.
type GracePeriodReason string

const (
	GracePeriodReasonPaymentFailed        GracePeriodReason = "payment_failed"
	GracePeriodReasonTrialEnding          GracePeriodReason = "trial_ending"
	GracePeriodReasonAthleteLimitExceeded GracePeriodReason = "athlete_limit_exceeded"
	GracePeriodReasonCoachLimitExceeded   GracePeriodReason = "coach_limit_exceeded"
	GracePeriodReasonSubscriptionCanceled GracePeriodReason = "subscription_canceled"
	GracePeriodReasonManual               GracePeriodReason = "manual"
)

var validGracePeriodReasons = []GracePeriodReason{
	GracePeriodReasonPaymentFailed,
	GracePeriodReasonTrialEnding,
	GracePeriodReasonAthleteLimitExceeded,
	GracePeriodReasonCoachLimitExceeded,
	GracePeriodReasonSubscriptionCanceled,
	GracePeriodReasonManual,
}

// String implements fmt.Stringer.
func (r GracePeriodReason) String() string {
	return string(r)
}

// IsValid reports whether the value is known.
func (r GracePeriodReason) IsValid() bool {
	for _, candidate := range validGracePeriodReasons {
		if candidate == r {
			return true
		}
	}
	return false
}

// ParseGracePeriodReason converts raw input into a GracePeriodReason.
func ParseGracePeriodReason(value string) (GracePeriodReason, error) {
	for _, candidate := range validGracePeriodReasons {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid grace period reason %q", value)
}

// GracePeriodSeverity ranks how close a grace period is to blocking access.
type GracePeriodSeverity string

const (
	GracePeriodSeverityInfo     GracePeriodSeverity = "info"
	GracePeriodSeverityWarning  GracePeriodSeverity = "warning"
	GracePeriodSeverityCritical GracePeriodSeverity = "critical"
	GracePeriodSeverityBlocking GracePeriodSeverity = "blocking"
)

var validGracePeriodSeverities = []GracePeriodSeverity{
	GracePeriodSeverityInfo,
	GracePeriodSeverityWarning,
	GracePeriodSeverityCritical,
	GracePeriodSeverityBlocking,
}

// String implements fmt.Stringer.
func (s GracePeriodSeverity) String() string {
	return string(s)
}

// IsValid reports whether the value is known.
func (s GracePeriodSeverity) IsValid() bool {
	for _, candidate := range validGracePeriodSeverities {
		if candidate == s {
			return true
		}
	}
	return false
}
