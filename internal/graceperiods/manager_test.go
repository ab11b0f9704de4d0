package graceperiods

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/boxlinehq/boxline-backend/internal/usageevents"
	"github.com/boxlinehq/boxline-backend/pkg/db/models"
	"github.com/boxlinehq/boxline-backend/pkg/enums"
	"github.com/boxlinehq/boxline-backend/pkg/logger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type stubGraceRepo struct {
	rows      map[uuid.UUID]*models.GracePeriod
	createErr error
}

func newStubGraceRepo() *stubGraceRepo {
	return &stubGraceRepo{rows: map[uuid.UUID]*models.GracePeriod{}}
}

func (s *stubGraceRepo) WithTx(tx *gorm.DB) Repository { return s }

func (s *stubGraceRepo) Create(ctx context.Context, gracePeriod *models.GracePeriod) error {
	if s.createErr != nil {
		return s.createErr
	}
	// Emulates ux_grace_periods_open_reason: one unresolved row per
	// (box, reason), expired or not.
	for _, row := range s.rows {
		if row.BoxID == gracePeriod.BoxID && row.Reason == gracePeriod.Reason && !row.Resolved {
			return errors.New(`duplicate key value violates unique constraint "ux_grace_periods_open_reason"`)
		}
	}
	if gracePeriod.ID == uuid.Nil {
		gracePeriod.ID = uuid.New()
	}
	s.rows[gracePeriod.ID] = gracePeriod
	return nil
}

func (s *stubGraceRepo) Update(ctx context.Context, gracePeriod *models.GracePeriod) error {
	s.rows[gracePeriod.ID] = gracePeriod
	return nil
}

func (s *stubGraceRepo) FindByID(ctx context.Context, id uuid.UUID) (*models.GracePeriod, error) {
	return s.rows[id], nil
}

func (s *stubGraceRepo) FindOpen(ctx context.Context, boxID uuid.UUID, reason enums.GracePeriodReason, now time.Time) (*models.GracePeriod, error) {
	for _, row := range s.rows {
		if row.BoxID == boxID && row.Reason == reason && !row.Resolved && row.EndsAt.After(now) {
			return row, nil
		}
	}
	return nil, nil
}

func (s *stubGraceRepo) FindUnresolved(ctx context.Context, boxID uuid.UUID, reason enums.GracePeriodReason) (*models.GracePeriod, error) {
	for _, row := range s.rows {
		if row.BoxID == boxID && row.Reason == reason && !row.Resolved {
			return row, nil
		}
	}
	return nil, nil
}

func (s *stubGraceRepo) ListOpenByBox(ctx context.Context, boxID uuid.UUID, now time.Time) ([]models.GracePeriod, error) {
	var open []models.GracePeriod
	for _, row := range s.rows {
		if row.BoxID == boxID && !row.Resolved && row.EndsAt.After(now) {
			open = append(open, *row)
		}
	}
	return open, nil
}

type stubUsageRepo struct {
	events []*models.UsageEvent
}

func (s *stubUsageRepo) WithTx(tx *gorm.DB) usageevents.Repository { return s }

func (s *stubUsageRepo) Append(ctx context.Context, event *models.UsageEvent) error {
	s.events = append(s.events, event)
	return nil
}

func (s *stubUsageRepo) ListByBox(ctx context.Context, boxID uuid.UUID, limit int) ([]models.UsageEvent, error) {
	return nil, nil
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
}

func newTestManager(t *testing.T, repo Repository, usage *stubUsageRepo, now time.Time) *Manager {
	t.Helper()
	manager, err := NewManager(ManagerParams{
		Repo:      repo,
		UsageRepo: usage,
		Logger:    testLogger(),
		Now:       func() time.Time { return now },
	})
	require.NoError(t, err)
	return manager
}

func TestTriggerOpensWindowWithPolicyDefaults(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	repo := newStubGraceRepo()
	usage := &stubUsageRepo{}
	manager := newTestManager(t, repo, usage, now)

	boxID := uuid.New()
	result, err := manager.Trigger(context.Background(), boxID, enums.GracePeriodReasonPaymentFailed, Options{})
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.False(t, result.WasExisting)
	assert.Equal(t, enums.GracePeriodSeverityCritical, result.GracePeriod.Severity)
	assert.Equal(t, now.Add(3*24*time.Hour), result.GracePeriod.EndsAt)
	assert.True(t, result.GracePeriod.AutoResolve)

	require.Len(t, usage.events, 1)
	assert.Equal(t, enums.UsageEventTypeGracePeriodTriggered, usage.events[0].EventType)
}

func TestTriggerReusesOpenWindow(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	repo := newStubGraceRepo()
	usage := &stubUsageRepo{}
	manager := newTestManager(t, repo, usage, now)

	boxID := uuid.New()
	first, err := manager.Trigger(context.Background(), boxID, enums.GracePeriodReasonAthleteLimitExceeded, Options{})
	require.NoError(t, err)

	second, err := manager.Trigger(context.Background(), boxID, enums.GracePeriodReasonAthleteLimitExceeded, Options{})
	require.NoError(t, err)

	assert.True(t, second.WasExisting)
	assert.Equal(t, first.GracePeriod.ID, second.GracePeriod.ID)
	assert.Len(t, usage.events, 1)
}

func TestTriggerDistinctReasonsCoexist(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	repo := newStubGraceRepo()
	manager := newTestManager(t, repo, &stubUsageRepo{}, now)

	boxID := uuid.New()
	first, err := manager.Trigger(context.Background(), boxID, enums.GracePeriodReasonPaymentFailed, Options{})
	require.NoError(t, err)
	second, err := manager.Trigger(context.Background(), boxID, enums.GracePeriodReasonCoachLimitExceeded, Options{})
	require.NoError(t, err)

	assert.False(t, second.WasExisting)
	assert.NotEqual(t, first.GracePeriod.ID, second.GracePeriod.ID)
}

func TestTriggerSubscriptionCanceledBlocksImmediately(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	repo := newStubGraceRepo()
	manager := newTestManager(t, repo, &stubUsageRepo{}, now)

	result, err := manager.Trigger(context.Background(), uuid.New(), enums.GracePeriodReasonSubscriptionCanceled, Options{})
	require.NoError(t, err)

	assert.Equal(t, enums.GracePeriodSeverityBlocking, result.GracePeriod.Severity)
	assert.False(t, result.GracePeriod.ActiveAt(now))
}

func TestTriggerReusesExpiredBlockingWindow(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	repo := newStubGraceRepo()
	manager := newTestManager(t, repo, &stubUsageRepo{}, now)

	boxID := uuid.New()
	first, err := manager.Trigger(context.Background(), boxID, enums.GracePeriodReasonSubscriptionCanceled, Options{})
	require.NoError(t, err)
	require.False(t, first.WasExisting)

	// The zero-duration window is expired from birth, so the existence check
	// misses it and the second trigger must recover through the unique index.
	second, err := manager.Trigger(context.Background(), boxID, enums.GracePeriodReasonSubscriptionCanceled, Options{})
	require.NoError(t, err)
	assert.True(t, second.WasExisting)
	assert.Equal(t, first.GracePeriod.ID, second.GracePeriod.ID)
	assert.Len(t, repo.rows, 1)
}

func TestResolveOpenClearsExpiredBlockingWindow(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	repo := newStubGraceRepo()
	manager := newTestManager(t, repo, &stubUsageRepo{}, now)

	boxID := uuid.New()
	result, err := manager.Trigger(context.Background(), boxID, enums.GracePeriodReasonSubscriptionCanceled, Options{})
	require.NoError(t, err)

	resolved, err := manager.ResolveOpen(context.Background(), boxID, enums.GracePeriodReasonSubscriptionCanceled, "subscription reactivated")
	require.NoError(t, err)
	require.NotNil(t, resolved)
	assert.Equal(t, result.GracePeriod.ID, resolved.ID)
	assert.True(t, resolved.Resolved)

	// The index slot is free again; a new cancellation opens a fresh window.
	next, err := manager.Trigger(context.Background(), boxID, enums.GracePeriodReasonSubscriptionCanceled, Options{})
	require.NoError(t, err)
	assert.False(t, next.WasExisting)
}

func TestResolveStampsResolutionFields(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	repo := newStubGraceRepo()
	usage := &stubUsageRepo{}
	manager := newTestManager(t, repo, usage, now)

	boxID := uuid.New()
	result, err := manager.Trigger(context.Background(), boxID, enums.GracePeriodReasonPaymentFailed, Options{})
	require.NoError(t, err)

	resolved, err := manager.Resolve(context.Background(), result.GracePeriod.ID, "payment recovered", "system", true)
	require.NoError(t, err)

	assert.True(t, resolved.Resolved)
	require.NotNil(t, resolved.ResolvedAt)
	assert.Equal(t, now, *resolved.ResolvedAt)
	require.NotNil(t, resolved.Resolution)
	assert.Equal(t, "payment recovered", *resolved.Resolution)
	assert.True(t, resolved.AutoResolved)

	require.Len(t, usage.events, 2)
	assert.Equal(t, enums.UsageEventTypeGracePeriodResolved, usage.events[1].EventType)
}

func TestResolveIsIdempotent(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	repo := newStubGraceRepo()
	usage := &stubUsageRepo{}
	manager := newTestManager(t, repo, usage, now)

	result, err := manager.Trigger(context.Background(), uuid.New(), enums.GracePeriodReasonPaymentFailed, Options{})
	require.NoError(t, err)

	_, err = manager.Resolve(context.Background(), result.GracePeriod.ID, "payment recovered", "system", true)
	require.NoError(t, err)
	_, err = manager.Resolve(context.Background(), result.GracePeriod.ID, "payment recovered", "system", true)
	require.NoError(t, err)

	assert.Len(t, usage.events, 2)
}

func TestResolveOpenNoWindowIsNoop(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	manager := newTestManager(t, newStubGraceRepo(), &stubUsageRepo{}, now)

	resolved, err := manager.ResolveOpen(context.Background(), uuid.New(), enums.GracePeriodReasonPaymentFailed, "payment recovered")
	require.NoError(t, err)
	assert.Nil(t, resolved)
}

func TestTriggerRejectsUnknownReason(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	manager := newTestManager(t, newStubGraceRepo(), &stubUsageRepo{}, now)

	_, err := manager.Trigger(context.Background(), uuid.New(), enums.GracePeriodReason("bogus"), Options{})
	require.Error(t, err)
}
