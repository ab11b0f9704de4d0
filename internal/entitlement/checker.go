package entitlement

import (
	"context"
	"time"

	"github.com/boxlinehq/boxline-backend/internal/boxes"
	"github.com/boxlinehq/boxline-backend/internal/subscriptions"
	"github.com/boxlinehq/boxline-backend/pkg/enums"
	pkgerrors "github.com/boxlinehq/boxline-backend/pkg/errors"
	"github.com/boxlinehq/boxline-backend/pkg/logger"
	"github.com/google/uuid"
)

// Decision is the access verdict for a box. Denial is a value, never an
// error; errors are reserved for I/O failures.
type Decision struct {
	HasAccess bool   `json:"has_access"`
	Reason    string `json:"reason,omitempty"`
}

func allow() Decision {
	return Decision{HasAccess: true}
}

func deny(reason string) Decision {
	return Decision{HasAccess: false, Reason: reason}
}

// CheckerParams groups dependencies for the access checker.
type CheckerParams struct {
	Boxes         boxes.Repository
	Subscriptions subscriptions.Repository
	Logger        *logger.Logger
	Now           func() time.Time
}

// Checker answers "can this box act now" from persisted state. Its single
// permitted write is the lazy trial-expiry correction, applied through the
// same box status primitive the reconciliation sweep uses.
type Checker struct {
	boxRepo boxes.Repository
	subRepo subscriptions.Repository
	logg    *logger.Logger
	now     func() time.Time
}

// NewChecker builds the access decision checker.
func NewChecker(params CheckerParams) (*Checker, error) {
	if params.Boxes == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "box repo required")
	}
	if params.Subscriptions == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "subscription repo required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Checker{
		boxRepo: params.Boxes,
		subRepo: params.Subscriptions,
		logg:    params.Logger,
		now:     now,
	}, nil
}

// CheckAccess evaluates the decision order, first match wins.
func (c *Checker) CheckAccess(ctx context.Context, boxID uuid.UUID) (Decision, error) {
	box, err := c.boxRepo.FindByID(ctx, boxID)
	if err != nil {
		return Decision{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load box")
	}
	if box == nil {
		return Decision{}, pkgerrors.New(pkgerrors.CodeNotFound, "box not found")
	}

	now := c.now().UTC()

	if box.Status != enums.BoxStatusActive {
		return deny(box.Status.String()), nil
	}

	if box.SubscriptionStatus == enums.BoxSubscriptionStatusTrial {
		if box.TrialEndsAt != nil && now.Before(*box.TrialEndsAt) {
			return allow(), nil
		}
		if box.ProviderSubscriptionID == nil {
			// Self-healing read path: flip the projection now rather than
			// waiting for the sweep.
			if err := c.boxRepo.UpdateStatus(ctx, box.ID, enums.BoxStatusTrialExpired); err != nil {
				return Decision{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark trial expired")
			}
			c.logg.Info(c.logg.WithBoxID(ctx, box.ID.String()), "trial expired, box corrected on read")
			return deny("Trial expired without subscription"), nil
		}
	}

	if box.ProviderSubscriptionID == nil {
		return deny("no active subscription or trial"), nil
	}

	subscription, err := c.subRepo.FindByProviderID(ctx, *box.ProviderSubscriptionID)
	if err != nil {
		return Decision{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load subscription")
	}
	if subscription == nil {
		return deny("no active subscription or trial"), nil
	}

	if subscription.Status.GrantsAccess() {
		if now.Before(subscription.CurrentPeriodEnd) {
			return allow(), nil
		}
		return deny("subscription period ended"), nil
	}

	return deny(subscription.Status.String()), nil
}
