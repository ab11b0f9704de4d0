package controllers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/boxlinehq/boxline-backend/api/responses"
	"github.com/boxlinehq/boxline-backend/internal/entitlement"
	"github.com/boxlinehq/boxline-backend/internal/usage"
	pkgerrors "github.com/boxlinehq/boxline-backend/pkg/errors"
	"github.com/boxlinehq/boxline-backend/pkg/logger"
)

// AccessChecker answers whether a box may act right now.
type AccessChecker interface {
	CheckAccess(ctx context.Context, boxID uuid.UUID) (entitlement.Decision, error)
}

// UsageReader measures current seat usage against plan limits.
type UsageReader interface {
	CalculateUsage(ctx context.Context, boxID uuid.UUID) (*usage.SubscriptionUsage, error)
}

func boxIDParam(r *http.Request) (uuid.UUID, error) {
	raw := chi.URLParam(r, "boxId")
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid box id")
	}
	return id, nil
}

// BoxAccess returns the entitlement decision for a box. Denials are part of
// the success payload; only lookup failures surface as errors.
func BoxAccess(checker AccessChecker, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		boxID, err := boxIDParam(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		ctx = logg.WithBoxID(ctx, boxID.String())

		decision, err := checker.CheckAccess(ctx, boxID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, decision)
	}
}

// BoxUsage returns the current seat usage for a box.
func BoxUsage(reader UsageReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		boxID, err := boxIDParam(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		ctx = logg.WithBoxID(ctx, boxID.String())

		currentUsage, err := reader.CalculateUsage(ctx, boxID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, currentUsage)
	}
}
