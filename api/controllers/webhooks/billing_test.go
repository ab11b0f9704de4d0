package webhooks

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/boxlinehq/boxline-backend/internal/billingevents"
	"github.com/boxlinehq/boxline-backend/pkg/logger"
	"github.com/stretchr/testify/assert"
)

type stubProcessor struct {
	calls  int
	result *billingevents.Result
	err    error
	lastID string
}

func (s *stubProcessor) Process(ctx context.Context, event billingevents.ProviderEvent) (*billingevents.Result, error) {
	s.calls++
	s.lastID = event.ID
	if s.err != nil {
		return nil, s.err
	}
	if s.result != nil {
		return s.result, nil
	}
	return &billingevents.Result{Accepted: true}, nil
}

type stubGuard struct {
	seen    map[string]bool
	deleted []string
}

func newStubGuard() *stubGuard {
	return &stubGuard{seen: map[string]bool{}}
}

func (s *stubGuard) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if s.seen[key] {
		return false, nil
	}
	s.seen[key] = true
	return true, nil
}

func (s *stubGuard) IdempotencyKey(scope, id string) string {
	return "bl:idempotency:" + scope + ":" + id
}

func (s *stubGuard) Del(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		delete(s.seen, key)
		s.deleted = append(s.deleted, key)
	}
	return nil
}

const webhookSecret = "whsec_test"

func sign(body string) string {
	mac := hmac.New(sha256.New, []byte(webhookSecret))
	mac.Write([]byte(body))
	return hex.EncodeToString(mac.Sum(nil))
}

func webhookRequest(body, signature string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/billing", strings.NewReader(body))
	if signature != "" {
		req.Header.Set("Billing-Signature", signature)
	}
	return req
}

func newHandler(processor *stubProcessor, guard IdempotencyGuard) http.HandlerFunc {
	return BillingWebhook(BillingWebhookParams{
		Processor:     processor,
		Guard:         guard,
		SigningSecret: webhookSecret,
		GuardTTL:      time.Hour,
		Logger:        logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
	})
}

const validBody = `{"id":"evt_1","type":"invoice.paid","data":{"invoice_id":"inv_1"}}`

func TestWebhookDispatchesVerifiedEvent(t *testing.T) {
	processor := &stubProcessor{}
	handler := newHandler(processor, newStubGuard())

	rec := httptest.NewRecorder()
	handler(rec, webhookRequest(validBody, sign(validBody)))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, processor.calls)
	assert.Equal(t, "evt_1", processor.lastID)
}

func TestWebhookRejectsMissingSignature(t *testing.T) {
	processor := &stubProcessor{}
	handler := newHandler(processor, newStubGuard())

	rec := httptest.NewRecorder()
	handler(rec, webhookRequest(validBody, ""))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Zero(t, processor.calls)
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	processor := &stubProcessor{}
	handler := newHandler(processor, newStubGuard())

	rec := httptest.NewRecorder()
	handler(rec, webhookRequest(validBody, sign("tampered body")))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Zero(t, processor.calls)
}

func TestWebhookAcceptsPrefixedSignature(t *testing.T) {
	processor := &stubProcessor{}
	handler := newHandler(processor, newStubGuard())

	rec := httptest.NewRecorder()
	handler(rec, webhookRequest(validBody, "sha256="+sign(validBody)))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, processor.calls)
}

func TestWebhookDuplicateShortCircuitsAtGuard(t *testing.T) {
	processor := &stubProcessor{}
	handler := newHandler(processor, newStubGuard())

	first := httptest.NewRecorder()
	handler(first, webhookRequest(validBody, sign(validBody)))
	second := httptest.NewRecorder()
	handler(second, webhookRequest(validBody, sign(validBody)))

	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, 1, processor.calls)
	assert.Contains(t, second.Body.String(), `"already_processed":true`)
}

func TestWebhookClearsGuardOnProcessorFailure(t *testing.T) {
	processor := &stubProcessor{err: assert.AnError}
	guard := newStubGuard()
	handler := newHandler(processor, guard)

	rec := httptest.NewRecorder()
	handler(rec, webhookRequest(validBody, sign(validBody)))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Len(t, guard.deleted, 1)

	// Redelivery reaches the processor again.
	retry := httptest.NewRecorder()
	processor.err = nil
	handler(retry, webhookRequest(validBody, sign(validBody)))
	assert.Equal(t, http.StatusOK, retry.Code)
	assert.Equal(t, 2, processor.calls)
}

func TestWebhookRejectsEnvelopeWithoutID(t *testing.T) {
	processor := &stubProcessor{}
	handler := newHandler(processor, newStubGuard())

	body := `{"type":"invoice.paid","data":{}}`
	rec := httptest.NewRecorder()
	handler(rec, webhookRequest(body, sign(body)))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, processor.calls)
}
