package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/boxlinehq/boxline-backend/internal/boxes"
	"github.com/boxlinehq/boxline-backend/internal/graceperiods"
	"github.com/boxlinehq/boxline-backend/pkg/enums"
	"github.com/boxlinehq/boxline-backend/pkg/logger"
	"go.uber.org/multierr"
)

const defaultTrialNoticeWindow = 7 * 24 * time.Hour

// TrialEndingJobParams configures the trial lookahead job.
type TrialEndingJobParams struct {
	Logger *logger.Logger
	Boxes  boxes.Repository
	Grace  *graceperiods.Manager
	Window time.Duration
	Limit  int
	Now    func() time.Time
}

// NewTrialEndingJob builds the lookahead job that opens a trial_ending grace
// window for boxes whose trial ends soon and has no subscription attached.
// The window dedup makes reruns idempotent.
func NewTrialEndingJob(params TrialEndingJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Boxes == nil {
		return nil, fmt.Errorf("box repository required")
	}
	if params.Grace == nil {
		return nil, fmt.Errorf("grace period manager required")
	}
	window := params.Window
	if window <= 0 {
		window = defaultTrialNoticeWindow
	}
	limit := params.Limit
	if limit <= 0 {
		limit = defaultSweepLimit
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &trialEndingJob{
		logg:   params.Logger,
		boxes:  params.Boxes,
		grace:  params.Grace,
		window: window,
		limit:  limit,
		now:    now,
	}, nil
}

type trialEndingJob struct {
	logg   *logger.Logger
	boxes  boxes.Repository
	grace  *graceperiods.Manager
	window time.Duration
	limit  int
	now    func() time.Time
}

func (j *trialEndingJob) Name() string { return "trial-ending-notice" }

func (j *trialEndingJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	ending, err := j.boxes.ListTrialsEndingWithin(ctx, now, j.window, j.limit)
	if err != nil {
		return fmt.Errorf("list trials ending: %w", err)
	}

	var errs error
	opened := 0
	for i := range ending {
		box := &ending[i]
		result, err := j.grace.Trigger(ctx, box.ID, enums.GracePeriodReasonTrialEnding, graceperiods.Options{
			ContextSnapshot: map[string]any{"trial_ends_at": box.TrialEndsAt},
			TriggeredBy:     j.Name(),
		})
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("box %s: %w", box.ID, err))
			continue
		}
		if !result.WasExisting {
			opened++
		}
	}

	reportCtx := j.logg.WithFields(ctx, map[string]any{
		"candidates": len(ending),
		"opened":     opened,
	})
	j.logg.Info(reportCtx, "trial ending lookahead complete")
	return errs
}
