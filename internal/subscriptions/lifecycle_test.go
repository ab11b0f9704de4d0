package subscriptions

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/boxlinehq/boxline-backend/internal/billingevents"
	"github.com/boxlinehq/boxline-backend/internal/boxes"
	"github.com/boxlinehq/boxline-backend/internal/graceperiods"
	"github.com/boxlinehq/boxline-backend/internal/orders"
	"github.com/boxlinehq/boxline-backend/internal/plans"
	"github.com/boxlinehq/boxline-backend/internal/usageevents"
	"github.com/boxlinehq/boxline-backend/pkg/db/models"
	"github.com/boxlinehq/boxline-backend/pkg/enums"
	pkgerrors "github.com/boxlinehq/boxline-backend/pkg/errors"
	"github.com/boxlinehq/boxline-backend/pkg/logger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type stubBoxRepo struct {
	boxes map[uuid.UUID]*models.Box
}

func newStubBoxRepo(seed ...*models.Box) *stubBoxRepo {
	repo := &stubBoxRepo{boxes: map[uuid.UUID]*models.Box{}}
	for _, box := range seed {
		repo.boxes[box.ID] = box
	}
	return repo
}

func (s *stubBoxRepo) WithTx(tx *gorm.DB) boxes.Repository { return s }

func (s *stubBoxRepo) FindByID(ctx context.Context, id uuid.UUID) (*models.Box, error) {
	return s.boxes[id], nil
}

func (s *stubBoxRepo) FindByProviderCustomerID(ctx context.Context, providerCustomerID string) (*models.Box, error) {
	for _, box := range s.boxes {
		if box.ProviderCustomerID != nil && *box.ProviderCustomerID == providerCustomerID {
			return box, nil
		}
	}
	return nil, nil
}

func (s *stubBoxRepo) Update(ctx context.Context, box *models.Box) error {
	s.boxes[box.ID] = box
	return nil
}

func (s *stubBoxRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status enums.BoxStatus) error {
	if box, ok := s.boxes[id]; ok {
		box.Status = status
	}
	return nil
}

func (s *stubBoxRepo) UpdateMemberCounts(ctx context.Context, id uuid.UUID, athletes, coaches int) error {
	if box, ok := s.boxes[id]; ok {
		box.CurrentAthleteCount = athletes
		box.CurrentCoachCount = coaches
	}
	return nil
}

func (s *stubBoxRepo) ListExpiredTrials(ctx context.Context, now time.Time, limit int) ([]models.Box, error) {
	return nil, nil
}

func (s *stubBoxRepo) ListActiveWithEndedCanceledSubscription(ctx context.Context, now time.Time, limit int) ([]models.Box, error) {
	return nil, nil
}

func (s *stubBoxRepo) ListTrialsEndingWithin(ctx context.Context, now time.Time, window time.Duration, limit int) ([]models.Box, error) {
	return nil, nil
}

func (s *stubBoxRepo) ListOverageEnabled(ctx context.Context, limit int) ([]models.Box, error) {
	return nil, nil
}

type stubSubRepo struct {
	subs map[string]*models.Subscription
	// missNextFind makes the next FindByProviderID report no row even though
	// one exists, emulating a concurrent insert landing between the existence
	// check and the create.
	missNextFind bool
}

func newStubSubRepo() *stubSubRepo {
	return &stubSubRepo{subs: map[string]*models.Subscription{}}
}

func (s *stubSubRepo) WithTx(tx *gorm.DB) Repository { return s }

func (s *stubSubRepo) FindByProviderID(ctx context.Context, providerSubscriptionID string) (*models.Subscription, error) {
	if s.missNextFind {
		s.missNextFind = false
		return nil, nil
	}
	return s.subs[providerSubscriptionID], nil
}

func (s *stubSubRepo) FindLatestByBox(ctx context.Context, boxID uuid.UUID) (*models.Subscription, error) {
	var latest *models.Subscription
	for _, sub := range s.subs {
		if sub.BoxID != boxID {
			continue
		}
		if latest == nil || sub.CreatedAt.After(latest.CreatedAt) {
			latest = sub
		}
	}
	return latest, nil
}

func (s *stubSubRepo) Create(ctx context.Context, subscription *models.Subscription) error {
	if _, ok := s.subs[subscription.ProviderSubscriptionID]; ok {
		return errors.New(`duplicate key value violates unique constraint "ux_subscriptions_provider_id"`)
	}
	if subscription.ID == uuid.Nil {
		subscription.ID = uuid.New()
	}
	s.subs[subscription.ProviderSubscriptionID] = subscription
	return nil
}

func (s *stubSubRepo) Update(ctx context.Context, subscription *models.Subscription) error {
	s.subs[subscription.ProviderSubscriptionID] = subscription
	return nil
}

type stubPlanRepo struct {
	plans map[enums.PlanTier]*models.SubscriptionPlan
}

func (s *stubPlanRepo) WithTx(tx *gorm.DB) plans.Repository { return s }

func (s *stubPlanRepo) FindCurrentByTier(ctx context.Context, tier enums.PlanTier) (*models.SubscriptionPlan, error) {
	return s.plans[tier], nil
}

func (s *stubPlanRepo) ListCurrent(ctx context.Context) ([]models.SubscriptionPlan, error) {
	return nil, nil
}

type stubOrderRepo struct {
	orders map[string]*models.Order
}

func newStubOrderRepo() *stubOrderRepo {
	return &stubOrderRepo{orders: map[string]*models.Order{}}
}

func (s *stubOrderRepo) WithTx(tx *gorm.DB) orders.Repository { return s }

func (s *stubOrderRepo) FindByProviderInvoiceID(ctx context.Context, providerInvoiceID string) (*models.Order, error) {
	return s.orders[providerInvoiceID], nil
}

func (s *stubOrderRepo) CreateIfNotExists(ctx context.Context, order *models.Order) (bool, error) {
	if _, ok := s.orders[order.ProviderInvoiceID]; ok {
		return false, nil
	}
	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}
	s.orders[order.ProviderInvoiceID] = order
	return true, nil
}

type stubGraceRepo struct {
	rows map[uuid.UUID]*models.GracePeriod
}

func newStubGraceRepo() *stubGraceRepo {
	return &stubGraceRepo{rows: map[uuid.UUID]*models.GracePeriod{}}
}

func (s *stubGraceRepo) WithTx(tx *gorm.DB) graceperiods.Repository { return s }

func (s *stubGraceRepo) Create(ctx context.Context, gracePeriod *models.GracePeriod) error {
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

type stubUsageEventRepo struct {
	events []*models.UsageEvent
}

func (s *stubUsageEventRepo) WithTx(tx *gorm.DB) usageevents.Repository { return s }

func (s *stubUsageEventRepo) Append(ctx context.Context, event *models.UsageEvent) error {
	s.events = append(s.events, event)
	return nil
}

func (s *stubUsageEventRepo) ListByBox(ctx context.Context, boxID uuid.UUID, limit int) ([]models.UsageEvent, error) {
	return nil, nil
}

type lifecycleFixture struct {
	lifecycle *Lifecycle
	boxRepo   *stubBoxRepo
	subRepo   *stubSubRepo
	orderRepo *stubOrderRepo
	graceRepo *stubGraceRepo
	now       time.Time
}

func newLifecycleFixture(t *testing.T, box *models.Box) *lifecycleFixture {
	t.Helper()
	now := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})

	graceRepo := newStubGraceRepo()
	grace, err := graceperiods.NewManager(graceperiods.ManagerParams{
		Repo:      graceRepo,
		UsageRepo: &stubUsageEventRepo{},
		Logger:    logg,
		Now:       func() time.Time { return now },
	})
	require.NoError(t, err)

	boxRepo := newStubBoxRepo(box)
	subRepo := newStubSubRepo()
	orderRepo := newStubOrderRepo()
	planRepo := &stubPlanRepo{plans: map[enums.PlanTier]*models.SubscriptionPlan{
		enums.PlanTierGrowth: {
			ID:           uuid.New(),
			Tier:         enums.PlanTierGrowth,
			AthleteLimit: 150,
			CoachLimit:   10,
		},
	}}

	lifecycle, err := NewLifecycle(LifecycleParams{
		Boxes:         boxRepo,
		Subscriptions: subRepo,
		Plans:         planRepo,
		Orders:        orderRepo,
		Grace:         grace,
		Logger:        logg,
		Now:           func() time.Time { return now },
	})
	require.NoError(t, err)

	return &lifecycleFixture{
		lifecycle: lifecycle,
		boxRepo:   boxRepo,
		subRepo:   subRepo,
		orderRepo: orderRepo,
		graceRepo: graceRepo,
		now:       now,
	}
}

func activeBox() *models.Box {
	customerID := "cus_123"
	return &models.Box{
		ID:                 uuid.New(),
		Name:               "Iron Anchor CrossFit",
		Status:             enums.BoxStatusActive,
		SubscriptionStatus: enums.BoxSubscriptionStatusTrial,
		ProviderCustomerID: &customerID,
	}
}

func TestSubscriptionCreatedActivatesBox(t *testing.T) {
	box := activeBox()
	fixture := newLifecycleFixture(t, box)

	periodStart := fixture.now
	periodEnd := fixture.now.Add(30 * 24 * time.Hour)
	err := fixture.lifecycle.HandleSubscriptionCreated(context.Background(), billingevents.SubscriptionEventData{
		ProviderSubscriptionID: "sub_1",
		ProviderCustomerID:     "cus_123",
		Status:                 "active",
		PlanTier:               "growth",
		CurrentPeriodStart:     &periodStart,
		CurrentPeriodEnd:       &periodEnd,
	})
	require.NoError(t, err)

	assert.Equal(t, enums.BoxStatusActive, box.Status)
	assert.Equal(t, enums.BoxSubscriptionStatusActive, box.SubscriptionStatus)
	require.NotNil(t, box.ProviderSubscriptionID)
	assert.Equal(t, "sub_1", *box.ProviderSubscriptionID)
	assert.Equal(t, 150, box.CurrentAthleteLimit)
	assert.Equal(t, 10, box.CurrentCoachLimit)

	sub := fixture.subRepo.subs["sub_1"]
	require.NotNil(t, sub)
	assert.Equal(t, enums.SubscriptionStatusActive, sub.Status)
	assert.Equal(t, periodEnd, sub.CurrentPeriodEnd)
}

func TestSubscriptionCreatedResolvesPaymentFailedGrace(t *testing.T) {
	box := activeBox()
	box.Status = enums.BoxStatusPaymentFailed
	fixture := newLifecycleFixture(t, box)

	_, err := fixture.lifecycle.grace.Trigger(context.Background(), box.ID, enums.GracePeriodReasonPaymentFailed, graceperiods.Options{})
	require.NoError(t, err)

	periodEnd := fixture.now.Add(30 * 24 * time.Hour)
	err = fixture.lifecycle.HandleSubscriptionCreated(context.Background(), billingevents.SubscriptionEventData{
		ProviderSubscriptionID: "sub_1",
		ProviderCustomerID:     "cus_123",
		Status:                 "active",
		CurrentPeriodEnd:       &periodEnd,
	})
	require.NoError(t, err)

	open, err := fixture.graceRepo.FindOpen(context.Background(), box.ID, enums.GracePeriodReasonPaymentFailed, fixture.now)
	require.NoError(t, err)
	assert.Nil(t, open)
	assert.Equal(t, enums.BoxStatusActive, box.Status)
}

func TestScheduledCancellationKeepsBoxActive(t *testing.T) {
	box := activeBox()
	fixture := newLifecycleFixture(t, box)

	periodEnd := fixture.now.Add(20 * 24 * time.Hour)
	require.NoError(t, fixture.lifecycle.HandleSubscriptionCreated(context.Background(), billingevents.SubscriptionEventData{
		ProviderSubscriptionID: "sub_1",
		ProviderCustomerID:     "cus_123",
		Status:                 "active",
		CurrentPeriodEnd:       &periodEnd,
	}))

	effectiveAt := fixture.now.Add(10 * 24 * time.Hour)
	err := fixture.lifecycle.HandleSubscriptionCanceled(context.Background(), billingevents.SubscriptionEventData{
		ProviderSubscriptionID: "sub_1",
		ProviderCustomerID:     "cus_123",
		CancelAtPeriodEnd:      true,
		CurrentPeriodEnd:       &periodEnd,
		EffectiveAt:            &effectiveAt,
	})
	require.NoError(t, err)

	assert.Equal(t, enums.BoxStatusActive, box.Status)
	require.NotNil(t, box.SubscriptionEndsAt)
	assert.Equal(t, effectiveAt, *box.SubscriptionEndsAt)

	sub := fixture.subRepo.subs["sub_1"]
	assert.True(t, sub.CancelAtPeriodEnd)
	assert.Equal(t, enums.SubscriptionStatusActive, sub.Status)
	require.NotNil(t, sub.CanceledAt)
}

func TestImmediateCancellationSuspendsBox(t *testing.T) {
	box := activeBox()
	fixture := newLifecycleFixture(t, box)

	err := fixture.lifecycle.HandleSubscriptionCanceled(context.Background(), billingevents.SubscriptionEventData{
		ProviderSubscriptionID: "sub_1",
		ProviderCustomerID:     "cus_123",
		CancelAtPeriodEnd:      false,
	})
	require.NoError(t, err)

	assert.Equal(t, enums.BoxStatusSuspended, box.Status)
	assert.Equal(t, enums.BoxSubscriptionStatusCanceled, box.SubscriptionStatus)
	assert.Equal(t, enums.SubscriptionStatusCanceled, fixture.subRepo.subs["sub_1"].Status)

	var blocking int
	for _, row := range fixture.graceRepo.rows {
		if row.Reason == enums.GracePeriodReasonSubscriptionCanceled {
			blocking++
			assert.Equal(t, enums.GracePeriodSeverityBlocking, row.Severity)
		}
	}
	assert.Equal(t, 1, blocking)
}

func TestCanceledThenRevokedStaysSuspended(t *testing.T) {
	box := activeBox()
	fixture := newLifecycleFixture(t, box)

	data := billingevents.SubscriptionEventData{
		ProviderSubscriptionID: "sub_1",
		ProviderCustomerID:     "cus_123",
	}
	require.NoError(t, fixture.lifecycle.HandleSubscriptionCanceled(context.Background(), data))
	assert.Equal(t, enums.BoxStatusSuspended, box.Status)

	require.NoError(t, fixture.lifecycle.HandleSubscriptionRevoked(context.Background(), data))
	assert.Equal(t, enums.BoxStatusSuspended, box.Status)
	assert.Equal(t, enums.SubscriptionStatusCanceled, fixture.subRepo.subs["sub_1"].Status)

	// The canceled window blocks from birth, so the revoked event must reuse
	// the row holding the unique index rather than fail trying to insert.
	var blocking int
	for _, row := range fixture.graceRepo.rows {
		if row.Reason == enums.GracePeriodReasonSubscriptionCanceled && !row.Resolved {
			blocking++
		}
	}
	assert.Equal(t, 1, blocking)
}

func TestReactivationClearsCanceledGrace(t *testing.T) {
	box := activeBox()
	fixture := newLifecycleFixture(t, box)

	require.NoError(t, fixture.lifecycle.HandleSubscriptionCanceled(context.Background(), billingevents.SubscriptionEventData{
		ProviderSubscriptionID: "sub_1",
		ProviderCustomerID:     "cus_123",
	}))

	periodEnd := fixture.now.Add(30 * 24 * time.Hour)
	require.NoError(t, fixture.lifecycle.HandleSubscriptionCreated(context.Background(), billingevents.SubscriptionEventData{
		ProviderSubscriptionID: "sub_2",
		ProviderCustomerID:     "cus_123",
		Status:                 "active",
		CurrentPeriodEnd:       &periodEnd,
	}))

	assert.Equal(t, enums.BoxStatusActive, box.Status)
	unresolved, err := fixture.graceRepo.FindUnresolved(context.Background(), box.ID, enums.GracePeriodReasonSubscriptionCanceled)
	require.NoError(t, err)
	assert.Nil(t, unresolved)
}

func TestPaymentFailedOpensGraceWindow(t *testing.T) {
	box := activeBox()
	fixture := newLifecycleFixture(t, box)

	periodEnd := fixture.now.Add(30 * 24 * time.Hour)
	require.NoError(t, fixture.lifecycle.HandleSubscriptionCreated(context.Background(), billingevents.SubscriptionEventData{
		ProviderSubscriptionID: "sub_1",
		ProviderCustomerID:     "cus_123",
		Status:                 "active",
		CurrentPeriodEnd:       &periodEnd,
	}))

	err := fixture.lifecycle.HandleInvoicePaymentFailed(context.Background(), billingevents.InvoiceEventData{
		ProviderInvoiceID:      "inv_9",
		ProviderSubscriptionID: "sub_1",
		ProviderCustomerID:     "cus_123",
		AmountCents:            14900,
	})
	require.NoError(t, err)

	assert.Equal(t, enums.BoxStatusPaymentFailed, box.Status)
	assert.Equal(t, enums.BoxSubscriptionStatusPastDue, box.SubscriptionStatus)
	assert.Equal(t, enums.SubscriptionStatusPastDue, fixture.subRepo.subs["sub_1"].Status)

	open, err := fixture.graceRepo.FindOpen(context.Background(), box.ID, enums.GracePeriodReasonPaymentFailed, fixture.now)
	require.NoError(t, err)
	require.NotNil(t, open)
	assert.Equal(t, enums.GracePeriodSeverityCritical, open.Severity)
	assert.Equal(t, fixture.now.Add(3*24*time.Hour), open.EndsAt)
}

func TestInvoicePaidIsIdempotent(t *testing.T) {
	box := activeBox()
	fixture := newLifecycleFixture(t, box)

	data := billingevents.InvoiceEventData{
		ProviderInvoiceID:  "inv_1",
		ProviderCustomerID: "cus_123",
		AmountCents:        9900,
	}
	require.NoError(t, fixture.lifecycle.HandleInvoicePaid(context.Background(), data))
	require.NoError(t, fixture.lifecycle.HandleInvoicePaid(context.Background(), data))

	assert.Len(t, fixture.orderRepo.orders, 1)
	assert.Equal(t, int64(9900), fixture.orderRepo.orders["inv_1"].AmountCents)
	assert.Equal(t, enums.BoxStatusActive, box.Status)
}

func TestUpsertRecoversFromInsertRace(t *testing.T) {
	box := activeBox()
	fixture := newLifecycleFixture(t, box)

	periodEnd := fixture.now.Add(30 * 24 * time.Hour)
	require.NoError(t, fixture.lifecycle.HandleSubscriptionCreated(context.Background(), billingevents.SubscriptionEventData{
		ProviderSubscriptionID: "sub_1",
		ProviderCustomerID:     "cus_123",
		Status:                 "active",
		CurrentPeriodEnd:       &periodEnd,
	}))
	firstID := fixture.subRepo.subs["sub_1"].ID

	// A duplicate delivery races past the existence check and loses the
	// insert to ux_subscriptions_provider_id; it must land on the winner.
	fixture.subRepo.missNextFind = true
	err := fixture.lifecycle.HandleSubscriptionCreated(context.Background(), billingevents.SubscriptionEventData{
		ProviderSubscriptionID: "sub_1",
		ProviderCustomerID:     "cus_123",
		Status:                 "past_due",
	})
	require.NoError(t, err)

	sub := fixture.subRepo.subs["sub_1"]
	assert.Equal(t, firstID, sub.ID)
	assert.Equal(t, enums.SubscriptionStatusPastDue, sub.Status)
	assert.Equal(t, periodEnd, sub.CurrentPeriodEnd)
}

func TestUpdatedWithUnknownBoxIsRetryable(t *testing.T) {
	fixture := newLifecycleFixture(t, activeBox())

	err := fixture.lifecycle.HandleSubscriptionUpdated(context.Background(), billingevents.SubscriptionEventData{
		ProviderSubscriptionID: "sub_unknown",
		ProviderCustomerID:     "cus_other",
	})
	require.Error(t, err)

	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeNotFound, typed.Code())
	assert.True(t, pkgerrors.IsRetryable(err))
}
