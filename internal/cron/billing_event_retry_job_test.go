package cron

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/boxlinehq/boxline-backend/internal/billingevents"
	"github.com/boxlinehq/boxline-backend/pkg/db/models"
	"github.com/boxlinehq/boxline-backend/pkg/enums"
	"github.com/boxlinehq/boxline-backend/pkg/logger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type retryEventRepo struct {
	rows map[string]*models.BillingEvent
}

func (s *retryEventRepo) WithTx(tx *gorm.DB) billingevents.Repository { return s }

func (s *retryEventRepo) Create(ctx context.Context, event *models.BillingEvent) error {
	s.rows[event.ProviderEventID] = event
	return nil
}

func (s *retryEventRepo) Update(ctx context.Context, event *models.BillingEvent) error {
	s.rows[event.ProviderEventID] = event
	return nil
}

func (s *retryEventRepo) FindByProviderEventID(ctx context.Context, providerEventID string) (*models.BillingEvent, error) {
	return s.rows[providerEventID], nil
}

func (s *retryEventRepo) ListDueForRetry(ctx context.Context, now time.Time, limit int) ([]models.BillingEvent, error) {
	var due []models.BillingEvent
	for _, row := range s.rows {
		if row.Status == enums.BillingEventStatusFailed && row.NextRetryAt != nil && !row.NextRetryAt.After(now) {
			due = append(due, *row)
		}
	}
	return due, nil
}

type ackHandler struct {
	handled int
}

func (h *ackHandler) HandleSubscriptionCreated(ctx context.Context, data billingevents.SubscriptionEventData) error {
	h.handled++
	return nil
}

func (h *ackHandler) HandleSubscriptionUpdated(ctx context.Context, data billingevents.SubscriptionEventData) error {
	h.handled++
	return nil
}

func (h *ackHandler) HandleSubscriptionCanceled(ctx context.Context, data billingevents.SubscriptionEventData) error {
	h.handled++
	return nil
}

func (h *ackHandler) HandleSubscriptionRevoked(ctx context.Context, data billingevents.SubscriptionEventData) error {
	h.handled++
	return nil
}

func (h *ackHandler) HandleInvoicePaid(ctx context.Context, data billingevents.InvoiceEventData) error {
	h.handled++
	return nil
}

func (h *ackHandler) HandleInvoicePaymentFailed(ctx context.Context, data billingevents.InvoiceEventData) error {
	h.handled++
	return nil
}

func (h *ackHandler) HandleCustomerUpdated(ctx context.Context, data billingevents.CustomerEventData) error {
	h.handled++
	return nil
}

func (h *ackHandler) HandleCheckoutCompleted(ctx context.Context, data billingevents.CheckoutEventData) error {
	h.handled++
	return nil
}

func TestRetryDrainReplaysDueEvents(t *testing.T) {
	now := time.Date(2026, 8, 1, 3, 0, 0, 0, time.UTC)
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})

	due := now.Add(-time.Minute)
	notDue := now.Add(time.Hour)
	payload, _ := json.Marshal(billingevents.InvoiceEventData{ProviderInvoiceID: "inv_1", ProviderCustomerID: "cus_1"})
	repo := &retryEventRepo{rows: map[string]*models.BillingEvent{
		"evt_due": {
			ID:              uuid.New(),
			EventType:       "invoice.paid",
			ProviderEventID: "evt_due",
			Data:            payload,
			Status:          enums.BillingEventStatusFailed,
			RetryCount:      1,
			MaxRetries:      3,
			NextRetryAt:     &due,
		},
		"evt_later": {
			ID:              uuid.New(),
			EventType:       "invoice.paid",
			ProviderEventID: "evt_later",
			Data:            payload,
			Status:          enums.BillingEventStatusFailed,
			RetryCount:      1,
			MaxRetries:      3,
			NextRetryAt:     &notDue,
		},
	}}

	handler := &ackHandler{}
	processor, err := billingevents.NewProcessor(billingevents.ProcessorParams{
		Repo:    repo,
		Handler: handler,
		Logger:  logg,
		Now:     func() time.Time { return now },
	})
	require.NoError(t, err)

	job, err := NewBillingEventRetryJob(BillingEventRetryJobParams{
		Logger:    logg,
		Events:    repo,
		Processor: processor,
		Now:       func() time.Time { return now },
	})
	require.NoError(t, err)

	require.NoError(t, job.Run(context.Background()))

	assert.Equal(t, 1, handler.handled)
	assert.Equal(t, enums.BillingEventStatusProcessed, repo.rows["evt_due"].Status)
	assert.Equal(t, enums.BillingEventStatusFailed, repo.rows["evt_later"].Status)
}
