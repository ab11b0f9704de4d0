package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/boxlinehq/boxline-backend/internal/billingevents"
	"github.com/boxlinehq/boxline-backend/pkg/logger"
	"go.uber.org/multierr"
)

const defaultRetryDrainLimit = 100

// BillingEventRetryJobParams configures the failed-event drain.
type BillingEventRetryJobParams struct {
	Logger    *logger.Logger
	Events    billingevents.Repository
	Processor *billingevents.Processor
	Limit     int
	Now       func() time.Time
}

// NewBillingEventRetryJob builds the drain that replays failed webhook
// events whose backoff has elapsed. Terminally failed events have no
// next_retry_at and are never picked up.
func NewBillingEventRetryJob(params BillingEventRetryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Events == nil {
		return nil, fmt.Errorf("billing event repository required")
	}
	if params.Processor == nil {
		return nil, fmt.Errorf("billing event processor required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	limit := params.Limit
	if limit <= 0 {
		limit = defaultRetryDrainLimit
	}
	return &billingEventRetryJob{
		logg:      params.Logger,
		events:    params.Events,
		processor: params.Processor,
		limit:     limit,
		now:       now,
	}, nil
}

type billingEventRetryJob struct {
	logg      *logger.Logger
	events    billingevents.Repository
	processor *billingevents.Processor
	limit     int
	now       func() time.Time
}

func (j *billingEventRetryJob) Name() string { return "billing-event-retry" }

func (j *billingEventRetryJob) Run(ctx context.Context) error {
	due, err := j.events.ListDueForRetry(ctx, j.now().UTC(), j.limit)
	if err != nil {
		return fmt.Errorf("list events due for retry: %w", err)
	}

	var errs error
	replayed := 0
	for i := range due {
		event := &due[i]
		if _, err := j.processor.ProcessStored(ctx, event); err != nil {
			// The processor already rescheduled or terminalized the event.
			errs = multierr.Append(errs, fmt.Errorf("event %s: %w", event.ProviderEventID, err))
			continue
		}
		replayed++
	}

	reportCtx := j.logg.WithFields(ctx, map[string]any{
		"due":      len(due),
		"replayed": replayed,
	})
	j.logg.Info(reportCtx, "billing event retry drain complete")
	return errs
}
