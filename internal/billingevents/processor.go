package billingevents

import (
	"context"
	"encoding/json"
	"time"

	dbpkg "github.com/boxlinehq/boxline-backend/pkg/db"
	"github.com/boxlinehq/boxline-backend/pkg/db/models"
	"github.com/boxlinehq/boxline-backend/pkg/enums"
	pkgerrors "github.com/boxlinehq/boxline-backend/pkg/errors"
	"github.com/boxlinehq/boxline-backend/pkg/logger"
	"github.com/boxlinehq/boxline-backend/pkg/metrics"
)

const baseRetryDelay = 5 * time.Minute

// Result reports what the processor did with an inbound event.
type Result struct {
	Accepted         bool
	AlreadyProcessed bool
}

// ProcessorParams groups dependencies for the webhook event processor.
type ProcessorParams struct {
	Repo       Repository
	Handler    Handler
	Logger     *logger.Logger
	Metrics    *metrics.BillingEventMetrics
	MaxRetries int
	Now        func() time.Time
}

// Processor normalizes, deduplicates, and dispatches provider events. It
// owns the retry/backoff bookkeeping and knows nothing about subscription
// semantics; those live behind the Handler.
type Processor struct {
	repo       Repository
	handler    Handler
	logg       *logger.Logger
	metrics    *metrics.BillingEventMetrics
	maxRetries int
	now        func() time.Time
}

// NewProcessor builds the webhook event processor.
func NewProcessor(params ProcessorParams) (*Processor, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "billing event repo required")
	}
	if params.Handler == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "event handler required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	maxRetries := params.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Processor{
		repo:       params.Repo,
		handler:    params.Handler,
		logg:       params.Logger,
		metrics:    params.Metrics,
		maxRetries: maxRetries,
		now:        now,
	}, nil
}

// Process persists the raw event, short-circuits already processed ids, and
// dispatches the rest. Replaying the same provider event id produces
// identical state and no duplicate side effects.
func (p *Processor) Process(ctx context.Context, event ProviderEvent) (*Result, error) {
	if event.ID == "" || event.Type == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "billing event requires id and type")
	}

	ctx = p.logg.WithEventID(ctx, event.ID)

	stored, err := p.repo.FindByProviderEventID(ctx, event.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "query billing event")
	}
	if stored == nil {
		stored = &models.BillingEvent{
			EventType:       event.Type,
			ProviderEventID: event.ID,
			Data:            event.Data,
			Status:          enums.BillingEventStatusPending,
			MaxRetries:      p.maxRetries,
		}
		if event.Metadata != nil {
			stored.BoxID = event.Metadata.BoxID
		}
		if err := p.repo.Create(ctx, stored); err != nil {
			if !dbpkg.IsUniqueViolation(err, "ux_billing_events_provider_event_id") {
				return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist billing event")
			}
			// A concurrent delivery persisted the same id first.
			stored, err = p.repo.FindByProviderEventID(ctx, event.ID)
			if err != nil {
				return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "re-read billing event after conflict")
			}
			if stored == nil {
				return nil, pkgerrors.New(pkgerrors.CodeInternal, "billing event vanished after conflict")
			}
		}
	}

	if stored.Status == enums.BillingEventStatusProcessed {
		p.metrics.IncDuplicate(stored.EventType)
		p.logg.Info(ctx, "billing event already processed")
		return &Result{Accepted: true, AlreadyProcessed: true}, nil
	}

	return p.run(ctx, stored)
}

// ProcessStored re-dispatches a persisted event. The retry drain job uses
// this to replay failed events whose backoff has elapsed.
func (p *Processor) ProcessStored(ctx context.Context, stored *models.BillingEvent) (*Result, error) {
	if stored == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "billing event required")
	}
	ctx = p.logg.WithEventID(ctx, stored.ProviderEventID)
	if stored.Status == enums.BillingEventStatusProcessed {
		p.metrics.IncDuplicate(stored.EventType)
		return &Result{Accepted: true, AlreadyProcessed: true}, nil
	}
	return p.run(ctx, stored)
}

func (p *Processor) run(ctx context.Context, stored *models.BillingEvent) (*Result, error) {
	stored.Status = enums.BillingEventStatusProcessing
	if err := p.repo.Update(ctx, stored); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark billing event processing")
	}

	kind, err := ParseEventKind(stored.EventType)
	if err != nil {
		// Forward compatibility: unknown provider types are acknowledged,
		// never retried.
		p.logg.Warn(p.logg.WithField(ctx, "event_type", stored.EventType), "unknown billing event type acknowledged")
		return p.markProcessed(ctx, stored)
	}

	if dispatchErr := p.dispatch(ctx, kind, stored); dispatchErr != nil {
		return p.recordFailure(ctx, stored, dispatchErr)
	}
	return p.markProcessed(ctx, stored)
}

func (p *Processor) dispatch(ctx context.Context, kind EventKind, stored *models.BillingEvent) error {
	switch kind {
	case EventKindSubscriptionCreated, EventKindSubscriptionUpdated,
		EventKindSubscriptionCanceled, EventKindSubscriptionRevoked:
		var data SubscriptionEventData
		if err := json.Unmarshal(stored.Data, &data); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode subscription event payload")
		}
		if data.BoxID == nil {
			data.BoxID = stored.BoxID
		}
		switch kind {
		case EventKindSubscriptionCreated:
			return p.handler.HandleSubscriptionCreated(ctx, data)
		case EventKindSubscriptionUpdated:
			return p.handler.HandleSubscriptionUpdated(ctx, data)
		case EventKindSubscriptionCanceled:
			return p.handler.HandleSubscriptionCanceled(ctx, data)
		default:
			return p.handler.HandleSubscriptionRevoked(ctx, data)
		}
	case EventKindInvoicePaid, EventKindInvoicePaymentFailed:
		var data InvoiceEventData
		if err := json.Unmarshal(stored.Data, &data); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode invoice event payload")
		}
		if data.BoxID == nil {
			data.BoxID = stored.BoxID
		}
		if kind == EventKindInvoicePaid {
			return p.handler.HandleInvoicePaid(ctx, data)
		}
		return p.handler.HandleInvoicePaymentFailed(ctx, data)
	case EventKindCustomerUpdated:
		var data CustomerEventData
		if err := json.Unmarshal(stored.Data, &data); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode customer event payload")
		}
		if data.BoxID == nil {
			data.BoxID = stored.BoxID
		}
		return p.handler.HandleCustomerUpdated(ctx, data)
	case EventKindCheckoutCompleted:
		var data CheckoutEventData
		if err := json.Unmarshal(stored.Data, &data); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode checkout event payload")
		}
		if data.BoxID == nil {
			data.BoxID = stored.BoxID
		}
		return p.handler.HandleCheckoutCompleted(ctx, data)
	}
	return pkgerrors.New(pkgerrors.CodeInternal, "unhandled billing event kind")
}

func (p *Processor) markProcessed(ctx context.Context, stored *models.BillingEvent) (*Result, error) {
	now := p.now().UTC()
	stored.Status = enums.BillingEventStatusProcessed
	stored.ProcessedAt = &now
	stored.NextRetryAt = nil
	stored.LastError = nil
	if err := p.repo.Update(ctx, stored); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark billing event processed")
	}
	p.metrics.IncProcessed(stored.EventType)
	p.logg.Info(p.logg.WithField(ctx, "event_type", stored.EventType), "billing event processed")
	return &Result{Accepted: true}, nil
}

// recordFailure schedules the next attempt with exponential backoff. Events
// that exhaust the budget, or fail non-retryably, become terminal failures
// that stay visible for operators; they are never dropped.
func (p *Processor) recordFailure(ctx context.Context, stored *models.BillingEvent, cause error) (*Result, error) {
	now := p.now().UTC()
	stored.Status = enums.BillingEventStatusFailed
	stored.RetryCount++
	message := cause.Error()
	stored.LastError = &message

	retryable := pkgerrors.IsRetryable(cause)
	if !retryable || stored.RetryCount >= stored.MaxRetries {
		stored.NextRetryAt = nil
	} else {
		delay := baseRetryDelay * time.Duration(1<<(stored.RetryCount-1))
		next := now.Add(delay)
		stored.NextRetryAt = &next
	}

	if err := p.repo.Update(ctx, stored); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record billing event failure")
	}

	p.metrics.IncFailed(stored.EventType)
	logCtx := p.logg.WithFields(ctx, map[string]any{
		"event_type":  stored.EventType,
		"retry_count": stored.RetryCount,
		"retryable":   retryable,
	})
	if stored.NextRetryAt == nil {
		p.metrics.IncTerminalFailure(stored.EventType)
		p.logg.Error(logCtx, "billing event failed terminally", cause)
	} else {
		p.logg.Warn(logCtx, "billing event failed, retry scheduled")
	}

	return &Result{Accepted: false}, cause
}
