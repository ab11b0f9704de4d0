package controllers

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/boxlinehq/boxline-backend/internal/entitlement"
	pkgerrors "github.com/boxlinehq/boxline-backend/pkg/errors"
	"github.com/boxlinehq/boxline-backend/pkg/logger"
)

type stubChecker struct {
	decision entitlement.Decision
	err      error
	lastID   uuid.UUID
}

func (s *stubChecker) CheckAccess(ctx context.Context, boxID uuid.UUID) (entitlement.Decision, error) {
	s.lastID = boxID
	return s.decision, s.err
}

func accessRouter(checker AccessChecker) http.Handler {
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	r := chi.NewRouter()
	r.Get("/boxes/{boxId}/access", BoxAccess(checker, logg))
	return r
}

func TestBoxAccessReturnsDecision(t *testing.T) {
	boxID := uuid.New()
	checker := &stubChecker{decision: entitlement.Decision{HasAccess: true}}
	router := accessRouter(checker)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boxes/"+boxID.String()+"/access", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, boxID, checker.lastID)
	assert.Contains(t, rec.Body.String(), `"has_access":true`)
}

func TestBoxAccessDenialIsSuccessPayload(t *testing.T) {
	checker := &stubChecker{decision: entitlement.Decision{
		HasAccess: false,
		Reason:    "Trial expired without subscription",
	}}
	router := accessRouter(checker)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boxes/"+uuid.NewString()+"/access", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"has_access":false`)
	assert.Contains(t, rec.Body.String(), "Trial expired without subscription")
}

func TestBoxAccessRejectsMalformedID(t *testing.T) {
	checker := &stubChecker{}
	router := accessRouter(checker)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boxes/not-a-uuid/access", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, uuid.Nil, checker.lastID)
}

func TestBoxAccessUnknownBoxIs404(t *testing.T) {
	checker := &stubChecker{err: pkgerrors.New(pkgerrors.CodeNotFound, "box not found")}
	router := accessRouter(checker)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boxes/"+uuid.NewString()+"/access", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
