package cron

import (
	"context"
	"fmt"

	"github.com/boxlinehq/boxline-backend/internal/boxes"
	"github.com/boxlinehq/boxline-backend/internal/usage"
	"github.com/boxlinehq/boxline-backend/pkg/logger"
	"go.uber.org/multierr"
)

// OverageBillingJobParams configures the period-boundary overage job.
type OverageBillingJobParams struct {
	Logger     *logger.Logger
	Boxes      boxes.Repository
	Calculator *usage.Calculator
	Limit      int
}

// NewOverageBillingJob builds the job that computes overage charges for all
// overage-enabled boxes. The per-period unique index makes rerunning the job
// within the same billing period a no-op.
func NewOverageBillingJob(params OverageBillingJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Boxes == nil {
		return nil, fmt.Errorf("box repository required")
	}
	if params.Calculator == nil {
		return nil, fmt.Errorf("usage calculator required")
	}
	limit := params.Limit
	if limit <= 0 {
		limit = defaultSweepLimit
	}
	return &overageBillingJob{
		logg:  params.Logger,
		boxes: params.Boxes,
		calc:  params.Calculator,
		limit: limit,
	}, nil
}

type overageBillingJob struct {
	logg  *logger.Logger
	boxes boxes.Repository
	calc  *usage.Calculator
	limit int
}

func (j *overageBillingJob) Name() string { return "overage-billing" }

func (j *overageBillingJob) Run(ctx context.Context) error {
	candidates, err := j.boxes.ListOverageEnabled(ctx, j.limit)
	if err != nil {
		return fmt.Errorf("list overage-enabled boxes: %w", err)
	}

	var errs error
	calculated := 0
	for i := range candidates {
		box := &candidates[i]
		record, err := j.calc.CalculateOverageBilling(ctx, box.ID)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("box %s: %w", box.ID, err))
			continue
		}
		calculated++
		if record.TotalOverageCents > 0 {
			logCtx := j.logg.WithFields(ctx, map[string]any{
				"box_id":              box.ID,
				"total_overage_cents": record.TotalOverageCents,
			})
			j.logg.Info(logCtx, "overage charge recorded")
		}
	}

	reportCtx := j.logg.WithFields(ctx, map[string]any{
		"candidates": len(candidates),
		"calculated": calculated,
	})
	j.logg.Info(reportCtx, "overage billing loop complete")
	return errs
}
