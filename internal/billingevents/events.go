package billingevents

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventKind is the closed set of provider event types the engine consumes.
// Parsing happens once at the processor boundary; handlers dispatch on the
// kind, never on raw strings.
type EventKind string

const (
	EventKindSubscriptionCreated  EventKind = "subscription.created"
	EventKindSubscriptionUpdated  EventKind = "subscription.updated"
	EventKindSubscriptionCanceled EventKind = "subscription.canceled"
	EventKindSubscriptionRevoked  EventKind = "subscription.revoked"
	EventKindInvoicePaid          EventKind = "invoice.paid"
	EventKindInvoicePaymentFailed EventKind = "invoice.payment_failed"
	EventKindCustomerUpdated      EventKind = "customer.updated"
	EventKindCheckoutCompleted    EventKind = "checkout.session.completed"
)

var knownEventKinds = []EventKind{
	EventKindSubscriptionCreated,
	EventKindSubscriptionUpdated,
	EventKindSubscriptionCanceled,
	EventKindSubscriptionRevoked,
	EventKindInvoicePaid,
	EventKindInvoicePaymentFailed,
	EventKindCustomerUpdated,
	EventKindCheckoutCompleted,
}

// String implements fmt.Stringer.
func (k EventKind) String() string {
	return string(k)
}

// ParseEventKind converts a raw provider event type into an EventKind.
// Unknown types return an error; the processor acknowledges them without
// dispatching.
func ParseEventKind(value string) (EventKind, error) {
	for _, candidate := range knownEventKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("unknown billing event type %q", value)
}

// ProviderEvent is the normalized webhook envelope. ID is the provider's
// event id and the idempotency key.
type ProviderEvent struct {
	Type     string          `json:"type" validate:"required"`
	ID       string          `json:"id" validate:"required"`
	Data     json.RawMessage `json:"data" validate:"required"`
	Metadata *EventMetadata  `json:"metadata,omitempty"`
}

// EventMetadata carries optional routing hints set by the provider
// integration.
type EventMetadata struct {
	BoxID  *uuid.UUID `json:"box_id,omitempty"`
	Source string     `json:"source,omitempty"`
}

// SubscriptionEventData is the decoded payload for subscription.* events.
type SubscriptionEventData struct {
	ProviderSubscriptionID string     `json:"subscription_id"`
	ProviderCustomerID     string     `json:"customer_id"`
	Status                 string     `json:"status"`
	PlanTier               string     `json:"plan_tier"`
	CurrentPeriodStart     *time.Time `json:"current_period_start"`
	CurrentPeriodEnd       *time.Time `json:"current_period_end"`
	CancelAtPeriodEnd      bool       `json:"cancel_at_period_end"`
	CanceledAt             *time.Time `json:"canceled_at"`
	EffectiveAt            *time.Time `json:"effective_at"`
	BoxID                  *uuid.UUID `json:"box_id"`
}

// InvoiceEventData is the decoded payload for invoice.* events.
type InvoiceEventData struct {
	ProviderInvoiceID      string     `json:"invoice_id"`
	ProviderSubscriptionID string     `json:"subscription_id"`
	ProviderCustomerID     string     `json:"customer_id"`
	AmountCents            int64      `json:"amount_cents"`
	CurrencyCode           string     `json:"currency_code"`
	PaidAt                 *time.Time `json:"paid_at"`
	BoxID                  *uuid.UUID `json:"box_id"`
}

// CustomerEventData is the decoded payload for customer.updated.
type CustomerEventData struct {
	ProviderCustomerID string     `json:"customer_id"`
	BoxID              *uuid.UUID `json:"box_id"`
}

// CheckoutEventData is the decoded payload for checkout.session.completed.
type CheckoutEventData struct {
	ProviderCustomerID     string     `json:"customer_id"`
	ProviderSubscriptionID string     `json:"subscription_id"`
	PlanTier               string     `json:"plan_tier"`
	TrialEndsAt            *time.Time `json:"trial_ends_at"`
	BoxID                  *uuid.UUID `json:"box_id"`
}

// Handler receives decoded events from the processor. The subscription
// lifecycle service is the production implementation; the processor itself
// knows no subscription semantics.
type Handler interface {
	HandleSubscriptionCreated(ctx context.Context, data SubscriptionEventData) error
	HandleSubscriptionUpdated(ctx context.Context, data SubscriptionEventData) error
	HandleSubscriptionCanceled(ctx context.Context, data SubscriptionEventData) error
	HandleSubscriptionRevoked(ctx context.Context, data SubscriptionEventData) error
	HandleInvoicePaid(ctx context.Context, data InvoiceEventData) error
	HandleInvoicePaymentFailed(ctx context.Context, data InvoiceEventData) error
	HandleCustomerUpdated(ctx context.Context, data CustomerEventData) error
	HandleCheckoutCompleted(ctx context.Context, data CheckoutEventData) error
}
