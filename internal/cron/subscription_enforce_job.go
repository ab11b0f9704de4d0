package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/boxlinehq/boxline-backend/internal/boxes"
	"github.com/boxlinehq/boxline-backend/pkg/db/models"
	"github.com/boxlinehq/boxline-backend/pkg/enums"
	"github.com/boxlinehq/boxline-backend/pkg/logger"
	"go.uber.org/multierr"
)

const defaultSweepLimit = 250

// SubscriptionEnforceJobParams configures the reconciliation sweep.
type SubscriptionEnforceJobParams struct {
	Logger *logger.Logger
	Boxes  boxes.Repository
	Limit  int
	Now    func() time.Time
}

// NewSubscriptionEnforceJob builds the reconciliation sweep. It re-derives
// box status from ground truth to heal drift from missed or terminally
// failed webhooks: expired unconverted trials become trial_expired, and
// active boxes whose canceled subscription has ended become suspended. The
// sweep only flips box status; compensating grace-period logic stays on the
// webhook path.
func NewSubscriptionEnforceJob(params SubscriptionEnforceJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Boxes == nil {
		return nil, fmt.Errorf("box repository required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	limit := params.Limit
	if limit <= 0 {
		limit = defaultSweepLimit
	}
	return &subscriptionEnforceJob{
		logg:  params.Logger,
		boxes: params.Boxes,
		limit: limit,
		now:   now,
	}, nil
}

type subscriptionEnforceJob struct {
	logg  *logger.Logger
	boxes boxes.Repository
	limit int
	now   func() time.Time
}

func (j *subscriptionEnforceJob) Name() string { return "subscription-enforce" }

func (j *subscriptionEnforceJob) Run(ctx context.Context) error {
	now := j.now().UTC()

	var errs error
	expired, err := j.boxes.ListExpiredTrials(ctx, now, j.limit)
	if err != nil {
		errs = multierr.Append(errs, fmt.Errorf("list expired trials: %w", err))
	} else {
		errs = multierr.Append(errs, j.applyStatus(ctx, expired, enums.BoxStatusTrialExpired, "trial expired without subscription"))
	}

	ended, err := j.boxes.ListActiveWithEndedCanceledSubscription(ctx, now, j.limit)
	if err != nil {
		errs = multierr.Append(errs, fmt.Errorf("list ended canceled subscriptions: %w", err))
	} else {
		errs = multierr.Append(errs, j.applyStatus(ctx, ended, enums.BoxStatusSuspended, "canceled subscription ended"))
	}

	reportCtx := j.logg.WithFields(ctx, map[string]any{
		"expired_trials": len(expired),
		"ended_boxes":    len(ended),
	})
	j.logg.Info(reportCtx, "subscription enforce sweep complete")
	return errs
}

func (j *subscriptionEnforceJob) applyStatus(ctx context.Context, targets []models.Box, status enums.BoxStatus, cause string) error {
	var errs error
	for i := range targets {
		box := &targets[i]
		if err := j.boxes.UpdateStatus(ctx, box.ID, status); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("box %s: %w", box.ID, err))
			continue
		}
		logCtx := j.logg.WithFields(ctx, map[string]any{
			"box_id": box.ID,
			"status": status,
			"cause":  cause,
		})
		j.logg.Info(logCtx, "box status enforced")
	}
	return errs
}
