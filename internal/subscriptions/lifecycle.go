package subscriptions

import (
	"context"
	"time"

	"github.com/boxlinehq/boxline-backend/internal/billingevents"
	"github.com/boxlinehq/boxline-backend/internal/boxes"
	"github.com/boxlinehq/boxline-backend/internal/graceperiods"
	"github.com/boxlinehq/boxline-backend/internal/orders"
	"github.com/boxlinehq/boxline-backend/internal/plans"
	dbpkg "github.com/boxlinehq/boxline-backend/pkg/db"
	"github.com/boxlinehq/boxline-backend/pkg/db/models"
	"github.com/boxlinehq/boxline-backend/pkg/enums"
	pkgerrors "github.com/boxlinehq/boxline-backend/pkg/errors"
	"github.com/boxlinehq/boxline-backend/pkg/logger"
	"github.com/google/uuid"
)

// LifecycleParams groups dependencies for the subscription state machine.
type LifecycleParams struct {
	Boxes         boxes.Repository
	Subscriptions Repository
	Plans         plans.Repository
	Orders        orders.Repository
	Grace         *graceperiods.Manager
	Logger        *logger.Logger
	Now           func() time.Time
}

// Lifecycle applies provider events to subscription and box state. Every
// transition is an upsert keyed on the provider subscription id, so replaying
// an event converges to the same end state. It is the production
// implementation of billingevents.Handler.
type Lifecycle struct {
	boxRepo  boxes.Repository
	subRepo  Repository
	planRepo plans.Repository
	ordRepo  orders.Repository
	grace    *graceperiods.Manager
	logg     *logger.Logger
	now      func() time.Time
}

var _ billingevents.Handler = (*Lifecycle)(nil)

// NewLifecycle builds the subscription state machine service.
func NewLifecycle(params LifecycleParams) (*Lifecycle, error) {
	if params.Boxes == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "box repo required")
	}
	if params.Subscriptions == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "subscription repo required")
	}
	if params.Plans == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "plan repo required")
	}
	if params.Orders == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "order repo required")
	}
	if params.Grace == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "grace period manager required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Lifecycle{
		boxRepo:  params.Boxes,
		subRepo:  params.Subscriptions,
		planRepo: params.Plans,
		ordRepo:  params.Orders,
		grace:    params.Grace,
		logg:     params.Logger,
		now:      now,
	}, nil
}

// HandleSubscriptionCreated activates a subscription for its box and clears
// any billing-failure grace periods left over from a previous subscription.
func (l *Lifecycle) HandleSubscriptionCreated(ctx context.Context, data billingevents.SubscriptionEventData) error {
	if data.ProviderSubscriptionID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "subscription event missing subscription id")
	}
	box, err := l.resolveBox(ctx, data.BoxID, data.ProviderCustomerID, data.ProviderSubscriptionID)
	if err != nil {
		return err
	}

	status := mapProviderStatus(data.Status, enums.SubscriptionStatusActive)
	subscription, err := l.upsert(ctx, box.ID, data, status)
	if err != nil {
		return err
	}

	if err := l.applyPlanTier(ctx, box, subscription.PlanTier); err != nil {
		return err
	}

	box.SubscriptionStatus = projectBoxSubscriptionStatus(status)
	box.ProviderSubscriptionID = &subscription.ProviderSubscriptionID
	if data.ProviderCustomerID != "" {
		box.ProviderCustomerID = &data.ProviderCustomerID
	}
	box.SubscriptionStartsAt = data.CurrentPeriodStart
	box.SubscriptionEndsAt = nil
	if boxStatus, ok := projectBoxStatus(status); ok {
		box.Status = boxStatus
	}
	if err := l.boxRepo.Update(ctx, box); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update box on subscription created")
	}

	if status.GrantsAccess() {
		if err := l.resolveBillingGrace(ctx, box.ID); err != nil {
			return err
		}
	}

	l.logg.Info(l.logg.WithFields(ctx, map[string]any{
		"box_id":                   box.ID,
		"provider_subscription_id": subscription.ProviderSubscriptionID,
		"status":                   status,
	}), "subscription created")
	return nil
}

// HandleSubscriptionUpdated applies a plan or period change. Box status only
// moves when the subscription status moved.
func (l *Lifecycle) HandleSubscriptionUpdated(ctx context.Context, data billingevents.SubscriptionEventData) error {
	if data.ProviderSubscriptionID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "subscription event missing subscription id")
	}
	box, err := l.resolveBox(ctx, data.BoxID, data.ProviderCustomerID, data.ProviderSubscriptionID)
	if err != nil {
		return err
	}

	existing, err := l.subRepo.FindByProviderID(ctx, data.ProviderSubscriptionID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load subscription")
	}
	previousStatus := enums.SubscriptionStatusActive
	if existing != nil {
		previousStatus = existing.Status
	}

	status := mapProviderStatus(data.Status, previousStatus)
	subscription, err := l.upsert(ctx, box.ID, data, status)
	if err != nil {
		return err
	}

	if err := l.applyPlanTier(ctx, box, subscription.PlanTier); err != nil {
		return err
	}

	statusChanged := existing == nil || previousStatus != status
	if statusChanged {
		box.SubscriptionStatus = projectBoxSubscriptionStatus(status)
		if boxStatus, ok := projectBoxStatus(status); ok {
			box.Status = boxStatus
		}
		if status.GrantsAccess() {
			box.SubscriptionEndsAt = nil
		}
	}
	if err := l.boxRepo.Update(ctx, box); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update box on subscription updated")
	}

	// A past_due or canceled subscription coming back to active is a
	// reactivation; the open billing grace windows are no longer needed.
	if statusChanged && status == enums.SubscriptionStatusActive {
		if err := l.resolveBillingGrace(ctx, box.ID); err != nil {
			return err
		}
	}

	l.logg.Info(l.logg.WithFields(ctx, map[string]any{
		"box_id":                   box.ID,
		"provider_subscription_id": subscription.ProviderSubscriptionID,
		"status":                   status,
	}), "subscription updated")
	return nil
}

// HandleSubscriptionCanceled processes both scheduled and immediate
// cancellations.
func (l *Lifecycle) HandleSubscriptionCanceled(ctx context.Context, data billingevents.SubscriptionEventData) error {
	if data.ProviderSubscriptionID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "subscription event missing subscription id")
	}
	box, err := l.resolveBox(ctx, data.BoxID, data.ProviderCustomerID, data.ProviderSubscriptionID)
	if err != nil {
		return err
	}

	now := l.now().UTC()
	if data.CancelAtPeriodEnd {
		// Access continues until the period closes; only the end date moves.
		status := enums.SubscriptionStatusActive
		subscription, err := l.upsert(ctx, box.ID, data, status)
		if err != nil {
			return err
		}
		subscription.CancelAtPeriodEnd = true
		if subscription.CanceledAt == nil {
			canceledAt := now
			if data.CanceledAt != nil {
				canceledAt = data.CanceledAt.UTC()
			}
			subscription.CanceledAt = &canceledAt
		}
		if err := l.subRepo.Update(ctx, subscription); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update subscription on scheduled cancel")
		}

		endsAt := subscription.CurrentPeriodEnd
		if data.EffectiveAt != nil && data.EffectiveAt.Before(endsAt) {
			endsAt = *data.EffectiveAt
		}
		box.SubscriptionEndsAt = &endsAt
		if err := l.boxRepo.Update(ctx, box); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update box on scheduled cancel")
		}

		l.logg.Info(l.logg.WithFields(ctx, map[string]any{
			"box_id":                   box.ID,
			"provider_subscription_id": subscription.ProviderSubscriptionID,
			"ends_at":                  endsAt,
		}), "subscription cancellation scheduled")
		return nil
	}

	return l.suspendCanceled(ctx, box, data, "subscription canceled")
}

// HandleSubscriptionRevoked suspends the box immediately, same path as an
// immediate cancellation.
func (l *Lifecycle) HandleSubscriptionRevoked(ctx context.Context, data billingevents.SubscriptionEventData) error {
	if data.ProviderSubscriptionID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "subscription event missing subscription id")
	}
	box, err := l.resolveBox(ctx, data.BoxID, data.ProviderCustomerID, data.ProviderSubscriptionID)
	if err != nil {
		return err
	}
	return l.suspendCanceled(ctx, box, data, "subscription revoked")
}

// HandleInvoicePaid records the settled invoice as an Order. The unique
// provider invoice id makes duplicate deliveries a no-op; nothing else moves.
func (l *Lifecycle) HandleInvoicePaid(ctx context.Context, data billingevents.InvoiceEventData) error {
	if data.ProviderInvoiceID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "invoice event missing invoice id")
	}
	box, err := l.resolveBox(ctx, data.BoxID, data.ProviderCustomerID, data.ProviderSubscriptionID)
	if err != nil {
		return err
	}

	var subscriptionID *uuid.UUID
	if data.ProviderSubscriptionID != "" {
		subscription, err := l.subRepo.FindByProviderID(ctx, data.ProviderSubscriptionID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load subscription for invoice")
		}
		if subscription != nil {
			subscriptionID = &subscription.ID
		}
	}

	currency := data.CurrencyCode
	if currency == "" {
		currency = "usd"
	}
	paidAt := data.PaidAt
	if paidAt == nil {
		now := l.now().UTC()
		paidAt = &now
	}
	order := &models.Order{
		BoxID:             box.ID,
		SubscriptionID:    subscriptionID,
		ProviderInvoiceID: data.ProviderInvoiceID,
		AmountCents:       data.AmountCents,
		CurrencyCode:      currency,
		PaidAt:            paidAt,
	}
	created, err := l.ordRepo.CreateIfNotExists(ctx, order)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record paid invoice")
	}

	l.logg.Info(l.logg.WithFields(ctx, map[string]any{
		"box_id":              box.ID,
		"provider_invoice_id": data.ProviderInvoiceID,
		"created":             created,
	}), "invoice paid")
	return nil
}

// HandleInvoicePaymentFailed moves the subscription to past_due, marks the
// box, and opens the payment-failed grace window.
func (l *Lifecycle) HandleInvoicePaymentFailed(ctx context.Context, data billingevents.InvoiceEventData) error {
	box, err := l.resolveBox(ctx, data.BoxID, data.ProviderCustomerID, data.ProviderSubscriptionID)
	if err != nil {
		return err
	}

	subscription, err := l.findSubscription(ctx, box.ID, data.ProviderSubscriptionID)
	if err != nil {
		return err
	}
	if subscription != nil && subscription.Status != enums.SubscriptionStatusPastDue {
		subscription.Status = enums.SubscriptionStatusPastDue
		if err := l.subRepo.Update(ctx, subscription); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark subscription past due")
		}
	}

	box.SubscriptionStatus = enums.BoxSubscriptionStatusPastDue
	box.Status = enums.BoxStatusPaymentFailed
	if err := l.boxRepo.Update(ctx, box); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update box on payment failure")
	}

	if _, err := l.grace.Trigger(ctx, box.ID, enums.GracePeriodReasonPaymentFailed, graceperiods.Options{
		ContextSnapshot: map[string]any{
			"provider_invoice_id": data.ProviderInvoiceID,
			"amount_cents":        data.AmountCents,
		},
		TriggeredBy: "billing-webhook",
	}); err != nil {
		return err
	}

	l.logg.Warn(l.logg.WithFields(ctx, map[string]any{
		"box_id":              box.ID,
		"provider_invoice_id": data.ProviderInvoiceID,
	}), "invoice payment failed")
	return nil
}

// HandleCustomerUpdated keeps the provider customer linkage current.
func (l *Lifecycle) HandleCustomerUpdated(ctx context.Context, data billingevents.CustomerEventData) error {
	if data.ProviderCustomerID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "customer event missing customer id")
	}
	box, err := l.resolveBox(ctx, data.BoxID, data.ProviderCustomerID, "")
	if err != nil {
		return err
	}
	if box.ProviderCustomerID == nil || *box.ProviderCustomerID != data.ProviderCustomerID {
		box.ProviderCustomerID = &data.ProviderCustomerID
		if err := l.boxRepo.Update(ctx, box); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update box customer linkage")
		}
	}
	return nil
}

// HandleCheckoutCompleted links the freshly created provider ids to the box.
// The subsequent subscription.created event carries the authoritative state.
func (l *Lifecycle) HandleCheckoutCompleted(ctx context.Context, data billingevents.CheckoutEventData) error {
	if data.ProviderCustomerID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "checkout event missing customer id")
	}
	box, err := l.resolveBox(ctx, data.BoxID, data.ProviderCustomerID, data.ProviderSubscriptionID)
	if err != nil {
		return err
	}

	box.ProviderCustomerID = &data.ProviderCustomerID
	if data.ProviderSubscriptionID != "" {
		box.ProviderSubscriptionID = &data.ProviderSubscriptionID
	}
	if data.TrialEndsAt != nil {
		box.TrialEndsAt = data.TrialEndsAt
		box.SubscriptionStatus = enums.BoxSubscriptionStatusTrial
	}
	if err := l.boxRepo.Update(ctx, box); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update box on checkout completion")
	}

	l.logg.Info(l.logg.WithField(ctx, "box_id", box.ID), "checkout completed")
	return nil
}

// suspendCanceled is the shared immediate-termination path for canceled and
// revoked events. Replaying either event, in either order, converges on the
// same suspended state.
func (l *Lifecycle) suspendCanceled(ctx context.Context, box *models.Box, data billingevents.SubscriptionEventData, logMsg string) error {
	subscription, err := l.upsert(ctx, box.ID, data, enums.SubscriptionStatusCanceled)
	if err != nil {
		return err
	}
	now := l.now().UTC()
	if subscription.CanceledAt == nil {
		canceledAt := now
		if data.CanceledAt != nil {
			canceledAt = data.CanceledAt.UTC()
		}
		subscription.CanceledAt = &canceledAt
		if err := l.subRepo.Update(ctx, subscription); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "stamp cancellation time")
		}
	}

	box.Status = enums.BoxStatusSuspended
	box.SubscriptionStatus = enums.BoxSubscriptionStatusCanceled
	box.SubscriptionEndsAt = &now
	if err := l.boxRepo.Update(ctx, box); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "suspend box")
	}

	if _, err := l.grace.Trigger(ctx, box.ID, enums.GracePeriodReasonSubscriptionCanceled, graceperiods.Options{
		ContextSnapshot: map[string]any{
			"provider_subscription_id": subscription.ProviderSubscriptionID,
		},
		TriggeredBy: "billing-webhook",
	}); err != nil {
		return err
	}

	l.logg.Warn(l.logg.WithFields(ctx, map[string]any{
		"box_id":                   box.ID,
		"provider_subscription_id": subscription.ProviderSubscriptionID,
	}), logMsg)
	return nil
}

// upsert inserts or updates the subscription row keyed on the provider
// subscription id.
func (l *Lifecycle) upsert(ctx context.Context, boxID uuid.UUID, data billingevents.SubscriptionEventData, status enums.SubscriptionStatus) (*models.Subscription, error) {
	subscription, err := l.subRepo.FindByProviderID(ctx, data.ProviderSubscriptionID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load subscription")
	}

	var planTier *enums.PlanTier
	if data.PlanTier != "" {
		if tier, parseErr := enums.ParsePlanTier(data.PlanTier); parseErr == nil {
			planTier = &tier
		}
	}

	periodEnd := l.now().UTC()
	if data.CurrentPeriodEnd != nil {
		periodEnd = data.CurrentPeriodEnd.UTC()
	} else if subscription != nil {
		periodEnd = subscription.CurrentPeriodEnd
	}

	if subscription == nil {
		fresh := &models.Subscription{
			BoxID:                  boxID,
			ProviderSubscriptionID: data.ProviderSubscriptionID,
			Status:                 status,
			PlanTier:               planTier,
			CurrentPeriodStart:     data.CurrentPeriodStart,
			CurrentPeriodEnd:       periodEnd,
			CancelAtPeriodEnd:      data.CancelAtPeriodEnd,
		}
		createErr := l.subRepo.Create(ctx, fresh)
		if createErr == nil {
			return fresh, nil
		}
		if !dbpkg.IsUniqueViolation(createErr, "ux_subscriptions_provider_id") {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, createErr, "create subscription")
		}
		// A concurrent event inserted the row first; apply this event on top
		// of the winner.
		winner, findErr := l.subRepo.FindByProviderID(ctx, data.ProviderSubscriptionID)
		if findErr != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, findErr, "re-read subscription after conflict")
		}
		if winner == nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, createErr, "create subscription")
		}
		subscription = winner
		if data.CurrentPeriodEnd == nil {
			periodEnd = subscription.CurrentPeriodEnd
		}
	}

	subscription.Status = status
	if planTier != nil {
		subscription.PlanTier = planTier
	}
	if data.CurrentPeriodStart != nil {
		subscription.CurrentPeriodStart = data.CurrentPeriodStart
	}
	subscription.CurrentPeriodEnd = periodEnd
	subscription.CancelAtPeriodEnd = data.CancelAtPeriodEnd
	if err := l.subRepo.Update(ctx, subscription); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update subscription")
	}
	return subscription, nil
}

// applyPlanTier refreshes the box seat limits when its tier changed.
func (l *Lifecycle) applyPlanTier(ctx context.Context, box *models.Box, tier *enums.PlanTier) error {
	if tier == nil {
		return nil
	}
	if box.SubscriptionTier != nil && *box.SubscriptionTier == *tier {
		return nil
	}
	plan, err := l.planRepo.FindCurrentByTier(ctx, *tier)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load plan")
	}
	if plan == nil {
		return pkgerrors.New(pkgerrors.CodeNotFound, "subscription plan not found for tier")
	}
	box.SubscriptionTier = tier
	box.CurrentAthleteLimit = plan.AthleteLimit
	box.CurrentCoachLimit = plan.CoachLimit
	return nil
}

// resolveBillingGrace auto-resolves billing-failure windows on reactivation.
func (l *Lifecycle) resolveBillingGrace(ctx context.Context, boxID uuid.UUID) error {
	for _, reason := range []enums.GracePeriodReason{
		enums.GracePeriodReasonPaymentFailed,
		enums.GracePeriodReasonSubscriptionCanceled,
	} {
		if _, err := l.grace.ResolveOpen(ctx, boxID, reason, "subscription reactivated"); err != nil {
			return err
		}
	}
	return nil
}

// resolveBox locates the tenant by explicit metadata, provider customer id,
// or an already linked subscription, in that order. A miss is retryable: the
// linking event may simply not have arrived yet.
func (l *Lifecycle) resolveBox(ctx context.Context, boxID *uuid.UUID, providerCustomerID, providerSubscriptionID string) (*models.Box, error) {
	if boxID != nil && *boxID != uuid.Nil {
		box, err := l.boxRepo.FindByID(ctx, *boxID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load box")
		}
		if box != nil {
			return box, nil
		}
	}
	if providerCustomerID != "" {
		box, err := l.boxRepo.FindByProviderCustomerID(ctx, providerCustomerID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load box by customer")
		}
		if box != nil {
			return box, nil
		}
	}
	if providerSubscriptionID != "" {
		subscription, err := l.subRepo.FindByProviderID(ctx, providerSubscriptionID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load subscription for box lookup")
		}
		if subscription != nil {
			box, err := l.boxRepo.FindByID(ctx, subscription.BoxID)
			if err != nil {
				return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load box by subscription")
			}
			if box != nil {
				return box, nil
			}
		}
	}
	return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no box matches billing event")
}

// findSubscription prefers the provider id lookup, falling back to the box's
// most recent subscription.
func (l *Lifecycle) findSubscription(ctx context.Context, boxID uuid.UUID, providerSubscriptionID string) (*models.Subscription, error) {
	if providerSubscriptionID != "" {
		subscription, err := l.subRepo.FindByProviderID(ctx, providerSubscriptionID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load subscription")
		}
		if subscription != nil {
			return subscription, nil
		}
	}
	subscription, err := l.subRepo.FindLatestByBox(ctx, boxID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load latest subscription")
	}
	return subscription, nil
}
