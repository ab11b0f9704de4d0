package subscriptions

import (
	"strings"

	"github.com/boxlinehq/boxline-backend/pkg/enums"
)

// providerStatusAliases maps raw provider status strings, including the
// spellings some providers use, onto the internal enum.
var providerStatusAliases = map[string]enums.SubscriptionStatus{
	"trialing":           enums.SubscriptionStatusTrialing,
	"on_trial":           enums.SubscriptionStatusTrialing,
	"active":             enums.SubscriptionStatusActive,
	"past_due":           enums.SubscriptionStatusPastDue,
	"pastdue":            enums.SubscriptionStatusPastDue,
	"canceled":           enums.SubscriptionStatusCanceled,
	"cancelled":          enums.SubscriptionStatusCanceled,
	"incomplete":         enums.SubscriptionStatusIncomplete,
	"incomplete_expired": enums.SubscriptionStatusIncompleteExpired,
	"unpaid":             enums.SubscriptionStatusUnpaid,
	"revoked":            enums.SubscriptionStatusRevoked,
}

// mapProviderStatus normalizes a raw provider subscription status. Unknown
// or empty values fall back to the supplied default so a sparse payload
// cannot corrupt the state machine.
func mapProviderStatus(raw string, fallback enums.SubscriptionStatus) enums.SubscriptionStatus {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	if status, ok := providerStatusAliases[normalized]; ok {
		return status
	}
	return fallback
}

// projectBoxStatus derives the box-level access projection from a
// subscription state. incomplete is transitional and leaves the box alone.
func projectBoxStatus(status enums.SubscriptionStatus) (enums.BoxStatus, bool) {
	switch status {
	case enums.SubscriptionStatusActive, enums.SubscriptionStatusTrialing:
		return enums.BoxStatusActive, true
	case enums.SubscriptionStatusPastDue:
		return enums.BoxStatusPaymentFailed, true
	case enums.SubscriptionStatusCanceled, enums.SubscriptionStatusRevoked,
		enums.SubscriptionStatusUnpaid, enums.SubscriptionStatusIncompleteExpired:
		return enums.BoxStatusSuspended, true
	default:
		return "", false
	}
}

// projectBoxSubscriptionStatus derives the coarse box-level billing posture.
func projectBoxSubscriptionStatus(status enums.SubscriptionStatus) enums.BoxSubscriptionStatus {
	switch status {
	case enums.SubscriptionStatusTrialing:
		return enums.BoxSubscriptionStatusTrial
	case enums.SubscriptionStatusActive:
		return enums.BoxSubscriptionStatusActive
	case enums.SubscriptionStatusPastDue:
		return enums.BoxSubscriptionStatusPastDue
	case enums.SubscriptionStatusCanceled, enums.SubscriptionStatusRevoked,
		enums.SubscriptionStatusUnpaid, enums.SubscriptionStatusIncompleteExpired:
		return enums.BoxSubscriptionStatusCanceled
	default:
		return enums.BoxSubscriptionStatusNone
	}
}
