package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/boxlinehq/boxline-backend/api/controllers"
	webhookcontrollers "github.com/boxlinehq/boxline-backend/api/controllers/webhooks"
	"github.com/boxlinehq/boxline-backend/api/middleware"
	"github.com/boxlinehq/boxline-backend/pkg/config"
	"github.com/boxlinehq/boxline-backend/pkg/logger"
)

// RouterParams carries everything the HTTP surface depends on.
type RouterParams struct {
	Config       *config.Config
	Logger       *logger.Logger
	DBPinger     controllers.Pinger
	RedisPinger  controllers.Pinger
	Checker      controllers.AccessChecker
	Usage        controllers.UsageReader
	Recalculator controllers.MembershipRecalculator
	OverageBill  controllers.OverageBiller
	Sweep        controllers.SweepRunner
	Processor    webhookcontrollers.EventProcessor
	WebhookGuard webhookcontrollers.IdempotencyGuard
}

func NewRouter(params RouterParams) http.Handler {
	cfg := params.Config
	logg := params.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, controllers.ReadinessDeps(params.DBPinger, params.RedisPinger)))
	})

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/billing", webhookcontrollers.BillingWebhook(webhookcontrollers.BillingWebhookParams{
			Processor:     params.Processor,
			Guard:         params.WebhookGuard,
			SigningSecret: cfg.Billing.WebhookSigningSecret,
			GuardTTL:      cfg.Billing.WebhookIdempotencyTTL,
			Logger:        logg,
		}))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))

		r.Route("/boxes/{boxId}", func(r chi.Router) {
			r.Get("/access", controllers.BoxAccess(params.Checker, logg))
			r.Get("/usage", controllers.BoxUsage(params.Usage, logg))
		})
	})

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.RequireAdmin(logg))

		r.Post("/reconcile", controllers.AdminReconcile(params.Sweep, logg))
		r.Route("/boxes/{boxId}", func(r chi.Router) {
			r.Post("/recalculate", controllers.AdminRecalculateUsage(params.Recalculator, logg))
			r.Post("/overage", controllers.AdminOverageBilling(params.OverageBill, logg))
		})
	})

	return r
}
