package usage

import (
	"context"
	"time"

	"github.com/boxlinehq/boxline-backend/internal/boxes"
	"github.com/boxlinehq/boxline-backend/internal/graceperiods"
	"github.com/boxlinehq/boxline-backend/internal/memberships"
	"github.com/boxlinehq/boxline-backend/internal/plans"
	"github.com/boxlinehq/boxline-backend/internal/subscriptions"
	"github.com/boxlinehq/boxline-backend/internal/usageevents"
	"github.com/boxlinehq/boxline-backend/pkg/db/models"
	"github.com/boxlinehq/boxline-backend/pkg/enums"
	pkgerrors "github.com/boxlinehq/boxline-backend/pkg/errors"
	"github.com/boxlinehq/boxline-backend/pkg/logger"
	"github.com/google/uuid"
)

// SubscriptionUsage is the current seat usage of a box measured against its
// plan limits.
type SubscriptionUsage struct {
	BoxID                  uuid.UUID `json:"box_id"`
	AthleteCount           int       `json:"athlete_count"`
	AthleteLimit           int       `json:"athlete_limit"`
	AthleteOverage         int       `json:"athlete_overage"`
	CoachCount             int       `json:"coach_count"`
	CoachLimit             int       `json:"coach_limit"`
	CoachOverage           int       `json:"coach_overage"`
	EstimatedOverageCents  int64     `json:"estimated_overage_cents"`
	AthleteOverageRateUsed int64     `json:"athlete_overage_rate_cents"`
	CoachOverageRateUsed   int64     `json:"coach_overage_rate_cents"`
}

// OverLimit reports whether either seat type exceeds its plan limit.
func (u *SubscriptionUsage) OverLimit() bool {
	return u.AthleteOverage > 0 || u.CoachOverage > 0
}

// CalculatorParams groups dependencies for the usage calculator.
type CalculatorParams struct {
	Boxes           boxes.Repository
	Memberships     memberships.Repository
	Plans           plans.Repository
	Subscriptions   subscriptions.Repository
	Overages        Repository
	UsageEvents     usageevents.Repository
	Grace           *graceperiods.Manager
	Logger          *logger.Logger
	DefaultRateCent int64
	Now             func() time.Time
}

// Calculator measures seat usage against plan limits and derives overage
// charges. Overage billing and grace periods are mutually exclusive
// remediation paths, gated by box.IsOverageEnabled.
type Calculator struct {
	boxRepo     boxes.Repository
	memberRepo  memberships.Repository
	planRepo    plans.Repository
	subRepo     subscriptions.Repository
	overageRepo Repository
	usageRepo   usageevents.Repository
	grace       *graceperiods.Manager
	logg        *logger.Logger
	defaultRate int64
	now         func() time.Time
}

// NewCalculator builds the usage calculator.
func NewCalculator(params CalculatorParams) (*Calculator, error) {
	if params.Boxes == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "box repo required")
	}
	if params.Memberships == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "membership repo required")
	}
	if params.Plans == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "plan repo required")
	}
	if params.Subscriptions == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "subscription repo required")
	}
	if params.Overages == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "overage repo required")
	}
	if params.UsageEvents == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "usage event repo required")
	}
	if params.Grace == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "grace period manager required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	defaultRate := params.DefaultRateCent
	if defaultRate <= 0 {
		defaultRate = 100
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Calculator{
		boxRepo:     params.Boxes,
		memberRepo:  params.Memberships,
		planRepo:    params.Plans,
		subRepo:     params.Subscriptions,
		overageRepo: params.Overages,
		usageRepo:   params.UsageEvents,
		grace:       params.Grace,
		logg:        params.Logger,
		defaultRate: defaultRate,
		now:         now,
	}, nil
}

// CalculateUsage counts active memberships by seat type and compares them
// against the box's plan limits.
func (c *Calculator) CalculateUsage(ctx context.Context, boxID uuid.UUID) (*SubscriptionUsage, error) {
	box, err := c.boxRepo.FindByID(ctx, boxID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load box")
	}
	if box == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "box not found")
	}
	return c.calculateForBox(ctx, box)
}

func (c *Calculator) calculateForBox(ctx context.Context, box *models.Box) (*SubscriptionUsage, error) {
	counts, err := c.memberRepo.CountActiveByRole(ctx, box.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count memberships")
	}

	athleteLimit := box.CurrentAthleteLimit
	coachLimit := box.CurrentCoachLimit
	athleteRate := c.defaultRate
	coachRate := c.defaultRate
	if box.SubscriptionTier != nil {
		plan, err := c.planRepo.FindCurrentByTier(ctx, *box.SubscriptionTier)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load plan")
		}
		if plan != nil {
			athleteLimit = plan.AthleteLimit
			coachLimit = plan.CoachLimit
			if plan.AthleteOveragePriceCents != nil {
				athleteRate = *plan.AthleteOveragePriceCents
			}
			if plan.CoachOveragePriceCents != nil {
				coachRate = *plan.CoachOveragePriceCents
			}
		}
	}

	athleteOverage := max(0, counts.Athletes-athleteLimit)
	coachOverage := max(0, counts.Coaches-coachLimit)

	return &SubscriptionUsage{
		BoxID:                  box.ID,
		AthleteCount:           counts.Athletes,
		AthleteLimit:           athleteLimit,
		AthleteOverage:         athleteOverage,
		CoachCount:             counts.Coaches,
		CoachLimit:             coachLimit,
		CoachOverage:           coachOverage,
		EstimatedOverageCents:  int64(athleteOverage)*athleteRate + int64(coachOverage)*coachRate,
		AthleteOverageRateUsed: athleteRate,
		CoachOverageRateUsed:   coachRate,
	}, nil
}

// CalculateOverageBilling computes the overage charge for the box's current
// billing period, at most once per period. Duplicate calls and concurrent
// calculations converge on the first persisted record.
func (c *Calculator) CalculateOverageBilling(ctx context.Context, boxID uuid.UUID) (*models.OverageBillingRecord, error) {
	box, err := c.boxRepo.FindByID(ctx, boxID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load box")
	}
	if box == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "box not found")
	}
	if !box.IsOverageEnabled {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "overage billing not enabled for box")
	}

	subscription, err := c.subRepo.FindLatestByBox(ctx, boxID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load subscription")
	}
	if subscription == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no subscription for overage billing")
	}
	periodStart := subscription.CreatedAt.UTC()
	if subscription.CurrentPeriodStart != nil {
		periodStart = subscription.CurrentPeriodStart.UTC()
	}
	periodEnd := subscription.CurrentPeriodEnd.UTC()

	existing, err := c.overageRepo.FindByPeriod(ctx, boxID, periodStart, periodEnd)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "query overage record")
	}
	if existing != nil {
		return existing, nil
	}

	currentUsage, err := c.calculateForBox(ctx, box)
	if err != nil {
		return nil, err
	}

	record := &models.OverageBillingRecord{
		BoxID:              boxID,
		SubscriptionID:     &subscription.ID,
		BillingPeriodStart: periodStart,
		BillingPeriodEnd:   periodEnd,
		AthleteCount:       currentUsage.AthleteCount,
		AthleteLimit:       currentUsage.AthleteLimit,
		AthleteOverage:     currentUsage.AthleteOverage,
		AthleteRateCents:   currentUsage.AthleteOverageRateUsed,
		CoachCount:         currentUsage.CoachCount,
		CoachLimit:         currentUsage.CoachLimit,
		CoachOverage:       currentUsage.CoachOverage,
		CoachRateCents:     currentUsage.CoachOverageRateUsed,
		TotalOverageCents:  currentUsage.EstimatedOverageCents,
		Status:             enums.OverageBillingStatusCalculated,
	}
	if err := c.overageRepo.Create(ctx, record); err != nil {
		if IsPeriodConflict(err) {
			winner, findErr := c.overageRepo.FindByPeriod(ctx, boxID, periodStart, periodEnd)
			if findErr != nil {
				return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, findErr, "re-read overage record after conflict")
			}
			if winner != nil {
				return winner, nil
			}
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create overage record")
	}

	c.appendOverageAudit(ctx, record)

	c.logg.Info(c.logg.WithFields(ctx, map[string]any{
		"box_id":              boxID,
		"total_overage_cents": record.TotalOverageCents,
		"period_start":        periodStart,
		"period_end":          periodEnd,
	}), "overage billing calculated")
	return record, nil
}

// HandleMembershipChange re-evaluates seat usage after a membership mutation.
// Overage-enabled boxes take the billing path; others get a limit grace
// period. Boxes back inside their limits auto-resolve open limit windows.
func (c *Calculator) HandleMembershipChange(ctx context.Context, boxID uuid.UUID) (*SubscriptionUsage, error) {
	box, err := c.boxRepo.FindByID(ctx, boxID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load box")
	}
	if box == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "box not found")
	}

	currentUsage, err := c.calculateForBox(ctx, box)
	if err != nil {
		return nil, err
	}

	if err := c.boxRepo.UpdateMemberCounts(ctx, boxID, currentUsage.AthleteCount, currentUsage.CoachCount); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update member counts")
	}

	if box.IsOverageEnabled {
		// Billing is the remediation; no grace window is opened.
		return currentUsage, nil
	}

	if err := c.reconcileLimitGrace(ctx, boxID, enums.GracePeriodReasonAthleteLimitExceeded, currentUsage.AthleteOverage > 0, currentUsage); err != nil {
		return nil, err
	}
	if err := c.reconcileLimitGrace(ctx, boxID, enums.GracePeriodReasonCoachLimitExceeded, currentUsage.CoachOverage > 0, currentUsage); err != nil {
		return nil, err
	}
	return currentUsage, nil
}

func (c *Calculator) reconcileLimitGrace(ctx context.Context, boxID uuid.UUID, reason enums.GracePeriodReason, breached bool, currentUsage *SubscriptionUsage) error {
	if breached {
		_, err := c.grace.Trigger(ctx, boxID, reason, graceperiods.Options{
			ContextSnapshot: currentUsage,
			TriggeredBy:     "membership-change",
		})
		return err
	}
	_, err := c.grace.ResolveOpen(ctx, boxID, reason, "usage back within plan limits")
	return err
}

func (c *Calculator) appendOverageAudit(ctx context.Context, record *models.OverageBillingRecord) {
	event := &models.UsageEvent{
		BoxID:              record.BoxID,
		EventType:          enums.UsageEventTypeOverageCalculated,
		Quantity:           int64(record.AthleteOverage + record.CoachOverage),
		Billable:           true,
		BillingPeriodStart: &record.BillingPeriodStart,
		BillingPeriodEnd:   &record.BillingPeriodEnd,
	}
	if err := c.usageRepo.Append(ctx, event); err != nil {
		c.logg.Warn(c.logg.WithField(ctx, "box_id", record.BoxID), "failed to append overage usage event")
	}
}
