package graceperiods

import (
	"context"
	"encoding/json"
	"time"

	"github.com/boxlinehq/boxline-backend/internal/usageevents"
	dbpkg "github.com/boxlinehq/boxline-backend/pkg/db"
	"github.com/boxlinehq/boxline-backend/pkg/db/models"
	"github.com/boxlinehq/boxline-backend/pkg/enums"
	pkgerrors "github.com/boxlinehq/boxline-backend/pkg/errors"
	"github.com/boxlinehq/boxline-backend/pkg/logger"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// policy fixes duration, default severity, and auto-resolve behavior per
// reason. A zero duration means the window blocks immediately.
type policy struct {
	duration    time.Duration
	severity    enums.GracePeriodSeverity
	autoResolve bool
}

var policyByReason = map[enums.GracePeriodReason]policy{
	enums.GracePeriodReasonPaymentFailed:        {duration: 3 * 24 * time.Hour, severity: enums.GracePeriodSeverityCritical, autoResolve: true},
	enums.GracePeriodReasonTrialEnding:          {duration: 7 * 24 * time.Hour, severity: enums.GracePeriodSeverityCritical, autoResolve: true},
	enums.GracePeriodReasonAthleteLimitExceeded: {duration: 14 * 24 * time.Hour, severity: enums.GracePeriodSeverityWarning, autoResolve: true},
	enums.GracePeriodReasonCoachLimitExceeded:   {duration: 14 * 24 * time.Hour, severity: enums.GracePeriodSeverityWarning, autoResolve: true},
	enums.GracePeriodReasonSubscriptionCanceled: {duration: 0, severity: enums.GracePeriodSeverityBlocking, autoResolve: true},
	enums.GracePeriodReasonManual:               {duration: 7 * 24 * time.Hour, severity: enums.GracePeriodSeverityInfo, autoResolve: false},
}

// Options tune a trigger beyond the per-reason policy defaults.
type Options struct {
	Severity        enums.GracePeriodSeverity
	Duration        time.Duration
	ContextSnapshot any
	TriggeredBy     string
}

// TriggerResult reports whether an existing open window was reused.
type TriggerResult struct {
	GracePeriod *models.GracePeriod
	WasExisting bool
}

// ManagerParams groups dependencies for the grace period manager.
type ManagerParams struct {
	Repo      Repository
	UsageRepo usageevents.Repository
	Logger    *logger.Logger
	Now       func() time.Time
}

// Manager creates and resolves grace periods. At most one unresolved,
// unexpired window exists per (box, reason); the partial unique index is the
// arbiter when concurrent triggers race past the existence check.
type Manager struct {
	repo      Repository
	usageRepo usageevents.Repository
	logg      *logger.Logger
	now       func() time.Time
}

// NewManager builds a grace period manager.
func NewManager(params ManagerParams) (*Manager, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "grace period repo required")
	}
	if params.UsageRepo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "usage event repo required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Manager{
		repo:      params.Repo,
		usageRepo: params.UsageRepo,
		logg:      params.Logger,
		now:       now,
	}, nil
}

// WithTx returns a manager whose repositories are bound to the transaction.
func (m *Manager) WithTx(tx *gorm.DB) *Manager {
	if tx == nil {
		return m
	}
	return &Manager{
		repo:      m.repo.WithTx(tx),
		usageRepo: m.usageRepo.WithTx(tx),
		logg:      m.logg,
		now:       m.now,
	}
}

// Trigger opens a grace period for (boxID, reason), reusing an unresolved,
// unexpired one when present.
func (m *Manager) Trigger(ctx context.Context, boxID uuid.UUID, reason enums.GracePeriodReason, opts Options) (*TriggerResult, error) {
	if boxID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "box id is required")
	}
	if !reason.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid grace period reason")
	}

	now := m.now().UTC()
	existing, err := m.repo.FindOpen(ctx, boxID, reason, now)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "query open grace period")
	}
	if existing != nil {
		return &TriggerResult{GracePeriod: existing, WasExisting: true}, nil
	}

	gracePeriod, err := m.build(boxID, reason, opts, now)
	if err != nil {
		return nil, err
	}

	if err := m.repo.Create(ctx, gracePeriod); err != nil {
		if dbpkg.IsUniqueViolation(err, "ux_grace_periods_open_reason") {
			// Lost the insert to the row holding the index. The index predicate
			// is NOT resolved with no expiry clause, so the re-read must match
			// it exactly; a zero-duration window is expired from birth but
			// still owns the slot.
			winner, findErr := m.repo.FindUnresolved(ctx, boxID, reason)
			if findErr != nil {
				return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, findErr, "re-read grace period after conflict")
			}
			if winner != nil {
				return &TriggerResult{GracePeriod: winner, WasExisting: true}, nil
			}
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create grace period")
	}

	m.recordAudit(ctx, gracePeriod, enums.UsageEventTypeGracePeriodTriggered, opts.TriggeredBy)

	logCtx := m.logg.WithFields(ctx, map[string]any{
		"box_id":   boxID,
		"reason":   reason,
		"severity": gracePeriod.Severity,
		"ends_at":  gracePeriod.EndsAt,
	})
	m.logg.Info(logCtx, "grace period opened")

	return &TriggerResult{GracePeriod: gracePeriod, WasExisting: false}, nil
}

// Resolve closes a grace period, stamping who resolved it and whether the
// system did it automatically.
func (m *Manager) Resolve(ctx context.Context, id uuid.UUID, resolution, resolvedBy string, autoResolved bool) (*models.GracePeriod, error) {
	gracePeriod, err := m.repo.FindByID(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load grace period")
	}
	if gracePeriod == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "grace period not found")
	}
	if gracePeriod.Resolved {
		return gracePeriod, nil
	}

	now := m.now().UTC()
	gracePeriod.Resolved = true
	gracePeriod.ResolvedAt = &now
	gracePeriod.AutoResolved = autoResolved
	if resolution != "" {
		gracePeriod.Resolution = &resolution
	}
	if resolvedBy != "" {
		gracePeriod.ResolvedBy = &resolvedBy
	}

	if err := m.repo.Update(ctx, gracePeriod); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "resolve grace period")
	}

	m.recordAudit(ctx, gracePeriod, enums.UsageEventTypeGracePeriodResolved, resolvedBy)

	logCtx := m.logg.WithFields(ctx, map[string]any{
		"box_id":        gracePeriod.BoxID,
		"reason":        gracePeriod.Reason,
		"auto_resolved": autoResolved,
	})
	m.logg.Info(logCtx, "grace period resolved")

	return gracePeriod, nil
}

// ResolveOpen resolves the unresolved window for (boxID, reason) if one
// exists, regardless of expiry: an expired window still occupies
// ux_grace_periods_open_reason until resolved. Used by the lifecycle engine
// on reactivation.
func (m *Manager) ResolveOpen(ctx context.Context, boxID uuid.UUID, reason enums.GracePeriodReason, resolution string) (*models.GracePeriod, error) {
	open, err := m.repo.FindUnresolved(ctx, boxID, reason)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "query open grace period")
	}
	if open == nil {
		return nil, nil
	}
	return m.Resolve(ctx, open.ID, resolution, "system", true)
}

func (m *Manager) build(boxID uuid.UUID, reason enums.GracePeriodReason, opts Options, now time.Time) (*models.GracePeriod, error) {
	pol, ok := policyByReason[reason]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "no policy for grace period reason")
	}

	severity := pol.severity
	if opts.Severity != "" {
		if !opts.Severity.IsValid() {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid grace period severity")
		}
		severity = opts.Severity
	}
	duration := pol.duration
	if opts.Duration > 0 {
		duration = opts.Duration
	}

	var snapshot json.RawMessage
	if opts.ContextSnapshot != nil {
		data, err := json.Marshal(opts.ContextSnapshot)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "marshal context snapshot")
		}
		snapshot = data
	}

	return &models.GracePeriod{
		BoxID:           boxID,
		Reason:          reason,
		Severity:        severity,
		EndsAt:          now.Add(duration),
		AutoResolve:     pol.autoResolve,
		ContextSnapshot: snapshot,
	}, nil
}

func (m *Manager) recordAudit(ctx context.Context, gracePeriod *models.GracePeriod, eventType enums.UsageEventType, actor string) {
	metadata, _ := json.Marshal(map[string]string{
		"reason":   gracePeriod.Reason.String(),
		"severity": gracePeriod.Severity.String(),
		"actor":    actor,
	})
	event := &models.UsageEvent{
		BoxID:     gracePeriod.BoxID,
		EventType: eventType,
		Quantity:  1,
		Billable:  false,
		Metadata:  metadata,
	}
	if err := m.usageRepo.Append(ctx, event); err != nil {
		// Audit only; the grace period itself is already durable.
		m.logg.Warn(m.logg.WithField(ctx, "box_id", gracePeriod.BoxID), "failed to append usage event")
	}
}
