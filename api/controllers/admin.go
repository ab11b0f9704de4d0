package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/boxlinehq/boxline-backend/api/responses"
	"github.com/boxlinehq/boxline-backend/internal/usage"
	"github.com/boxlinehq/boxline-backend/pkg/db/models"
	"github.com/boxlinehq/boxline-backend/pkg/logger"
)

// SweepRunner triggers a full reconciliation cycle on demand.
type SweepRunner interface {
	RunOnce(ctx context.Context) error
}

// MembershipRecalculator re-evaluates seat usage and remediation for a box.
type MembershipRecalculator interface {
	HandleMembershipChange(ctx context.Context, boxID uuid.UUID) (*usage.SubscriptionUsage, error)
}

// OverageBiller computes the overage charge for a box's current period.
type OverageBiller interface {
	CalculateOverageBilling(ctx context.Context, boxID uuid.UUID) (*models.OverageBillingRecord, error)
}

// AdminReconcile runs the reconciliation sweep immediately. The distributed
// lock still applies, so a concurrent scheduled cycle wins.
func AdminReconcile(runner SweepRunner, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if err := runner.RunOnce(ctx); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusAccepted, map[string]string{"status": "reconciled"})
	}
}

// AdminRecalculateUsage replays the membership-change remediation for a box.
func AdminRecalculateUsage(calc MembershipRecalculator, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		boxID, err := boxIDParam(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		ctx = logg.WithBoxID(ctx, boxID.String())

		currentUsage, err := calc.HandleMembershipChange(ctx, boxID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, currentUsage)
	}
}

// AdminOverageBilling forces an overage calculation for the current period.
// Repeat calls return the already-persisted record.
func AdminOverageBilling(biller OverageBiller, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		boxID, err := boxIDParam(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		ctx = logg.WithBoxID(ctx, boxID.String())

		record, err := biller.CalculateOverageBilling(ctx, boxID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, record)
	}
}
