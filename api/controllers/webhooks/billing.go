package webhooks

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/boxlinehq/boxline-backend/api/responses"
	"github.com/boxlinehq/boxline-backend/api/validators"
	"github.com/boxlinehq/boxline-backend/internal/billingevents"
	pkgerrors "github.com/boxlinehq/boxline-backend/pkg/errors"
	"github.com/boxlinehq/boxline-backend/pkg/logger"
)

const (
	signatureHeader = "Billing-Signature"
	guardScope      = "billing-webhook"
)

// EventProcessor ingests a normalized provider event.
type EventProcessor interface {
	Process(ctx context.Context, event billingevents.ProviderEvent) (*billingevents.Result, error)
}

// IdempotencyGuard is a fast-path duplicate filter in front of the durable
// billing_events dedupe. Losing a guard entry is harmless; the processor
// still short-circuits replays.
type IdempotencyGuard interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	IdempotencyKey(scope, id string) string
	Del(ctx context.Context, keys ...string) error
}

// BillingWebhookParams configure the webhook endpoint.
type BillingWebhookParams struct {
	Processor     EventProcessor
	Guard         IdempotencyGuard
	SigningSecret string
	GuardTTL      time.Duration
	Logger        *logger.Logger
}

// BillingWebhook receives provider billing events. The body is verified
// against an HMAC-SHA256 signature before anything is decoded.
func BillingWebhook(params BillingWebhookParams) http.HandlerFunc {
	logg := params.Logger

	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if params.Processor == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "event processor unavailable"))
			return
		}
		if params.SigningSecret == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "signing secret not configured"))
			return
		}

		payload, err := io.ReadAll(r.Body)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body"))
			return
		}

		sigHeader := strings.TrimSpace(r.Header.Get(signatureHeader))
		if sigHeader == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "billing signature missing"))
			return
		}
		if !verifySignature(payload, sigHeader, params.SigningSecret) {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "billing signature mismatch"))
			return
		}

		var event billingevents.ProviderEvent
		if err := json.Unmarshal(payload, &event); err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid webhook payload"))
			return
		}
		if err := validators.ValidateStruct(&event); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		guardKey := ""
		if params.Guard != nil {
			guardKey = params.Guard.IdempotencyKey(guardScope, event.ID)
			fresh, err := params.Guard.SetNX(ctx, guardKey, "1", params.GuardTTL)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check idempotency"))
				return
			}
			if !fresh {
				responses.WriteSuccess(w, map[string]bool{"already_processed": true})
				return
			}
		}

		result, err := params.Processor.Process(ctx, event)
		if err != nil {
			// The event is persisted with retry state; clearing the guard
			// lets a provider redelivery reach the processor again.
			if params.Guard != nil {
				_ = params.Guard.Del(ctx, guardKey)
			}
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, map[string]bool{"already_processed": result.AlreadyProcessed})
	}
}

// verifySignature accepts the hex HMAC-SHA256 of the raw body, with or
// without a "sha256=" prefix.
func verifySignature(payload []byte, header, secret string) bool {
	provided := strings.TrimPrefix(header, "sha256=")
	decoded, err := hex.DecodeString(provided)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hmac.Equal(decoded, mac.Sum(nil))
}
