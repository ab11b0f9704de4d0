package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/boxlinehq/boxline-backend/api/routes"
	"github.com/boxlinehq/boxline-backend/internal/billingevents"
	"github.com/boxlinehq/boxline-backend/internal/boxes"
	"github.com/boxlinehq/boxline-backend/internal/cron"
	"github.com/boxlinehq/boxline-backend/internal/entitlement"
	"github.com/boxlinehq/boxline-backend/internal/graceperiods"
	"github.com/boxlinehq/boxline-backend/internal/memberships"
	"github.com/boxlinehq/boxline-backend/internal/orders"
	"github.com/boxlinehq/boxline-backend/internal/plans"
	"github.com/boxlinehq/boxline-backend/internal/subscriptions"
	"github.com/boxlinehq/boxline-backend/internal/usage"
	"github.com/boxlinehq/boxline-backend/internal/usageevents"
	"github.com/boxlinehq/boxline-backend/pkg/config"
	"github.com/boxlinehq/boxline-backend/pkg/db"
	"github.com/boxlinehq/boxline-backend/pkg/logger"
	"github.com/boxlinehq/boxline-backend/pkg/metrics"
	"github.com/boxlinehq/boxline-backend/pkg/migrate"
	"github.com/boxlinehq/boxline-backend/pkg/redis"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	conn := dbClient.DB()
	boxRepo := boxes.NewRepository(conn)
	subRepo := subscriptions.NewRepository(conn)
	planRepo := plans.NewRepository(conn)
	orderRepo := orders.NewRepository(conn)
	memberRepo := memberships.NewRepository(conn)
	graceRepo := graceperiods.NewRepository(conn)
	usageEventRepo := usageevents.NewRepository(conn)
	overageRepo := usage.NewRepository(conn)
	eventRepo := billingevents.NewRepository(conn)

	graceManager, err := graceperiods.NewManager(graceperiods.ManagerParams{
		Repo:      graceRepo,
		UsageRepo: usageEventRepo,
		Logger:    logg,
	})
	exitOn(logg, "grace period manager", err)

	lifecycle, err := subscriptions.NewLifecycle(subscriptions.LifecycleParams{
		Boxes:         boxRepo,
		Subscriptions: subRepo,
		Plans:         planRepo,
		Orders:        orderRepo,
		Grace:         graceManager,
		Logger:        logg,
	})
	exitOn(logg, "subscription lifecycle", err)

	processor, err := billingevents.NewProcessor(billingevents.ProcessorParams{
		Repo:       eventRepo,
		Handler:    lifecycle,
		Logger:     logg,
		Metrics:    metrics.NewBillingEventMetrics(prometheus.DefaultRegisterer),
		MaxRetries: cfg.Billing.MaxEventRetries,
	})
	exitOn(logg, "billing event processor", err)

	checker, err := entitlement.NewChecker(entitlement.CheckerParams{
		Boxes:         boxRepo,
		Subscriptions: subRepo,
		Logger:        logg,
	})
	exitOn(logg, "entitlement checker", err)

	calculator, err := usage.NewCalculator(usage.CalculatorParams{
		Boxes:           boxRepo,
		Memberships:     memberRepo,
		Plans:           planRepo,
		Subscriptions:   subRepo,
		Overages:        overageRepo,
		UsageEvents:     usageEventRepo,
		Grace:           graceManager,
		Logger:          logg,
		DefaultRateCent: cfg.Billing.DefaultOverageRateCents,
	})
	exitOn(logg, "usage calculator", err)

	sweep, err := buildSweepService(cfg, logg, redisClient, boxRepo, eventRepo, processor, calculator, graceManager)
	exitOn(logg, "reconciliation sweep", err)

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.RouterParams{
			Config:       cfg,
			Logger:       logg,
			DBPinger:     dbClient,
			RedisPinger:  redisClient,
			Checker:      checker,
			Usage:        calculator,
			Recalculator: calculator,
			OverageBill:  calculator,
			Sweep:        sweep,
			Processor:    processor,
			WebhookGuard: redisClient,
		}),
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "api server shutdown failed", err)
			os.Exit(1)
		}
		logg.Info(ctx, "api server shut down gracefully")
	}
}

// buildSweepService wires the same job set the cron worker runs, so the
// admin reconcile endpoint shares the jobs and the distributed lock.
func buildSweepService(
	cfg *config.Config,
	logg *logger.Logger,
	redisClient *redis.Client,
	boxRepo boxes.Repository,
	eventRepo billingevents.Repository,
	processor *billingevents.Processor,
	calculator *usage.Calculator,
	graceManager *graceperiods.Manager,
) (*cron.Service, error) {
	enforceJob, err := cron.NewSubscriptionEnforceJob(cron.SubscriptionEnforceJobParams{
		Logger: logg,
		Boxes:  boxRepo,
		Limit:  cfg.Cron.SweepBatchSize,
	})
	if err != nil {
		return nil, err
	}
	retryJob, err := cron.NewBillingEventRetryJob(cron.BillingEventRetryJobParams{
		Logger:    logg,
		Events:    eventRepo,
		Processor: processor,
		Limit:     cfg.Cron.RetryDrainBatch,
	})
	if err != nil {
		return nil, err
	}
	overageJob, err := cron.NewOverageBillingJob(cron.OverageBillingJobParams{
		Logger:     logg,
		Boxes:      boxRepo,
		Calculator: calculator,
		Limit:      cfg.Cron.SweepBatchSize,
	})
	if err != nil {
		return nil, err
	}
	trialJob, err := cron.NewTrialEndingJob(cron.TrialEndingJobParams{
		Logger: logg,
		Boxes:  boxRepo,
		Grace:  graceManager,
		Window: cfg.Cron.TrialNoticeWindow,
		Limit:  cfg.Cron.SweepBatchSize,
	})
	if err != nil {
		return nil, err
	}

	// Shared with the cron worker so an admin-triggered run and a scheduled
	// cycle never overlap.
	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey("cron:"+cfg.App.Env), 0)
	if err != nil {
		return nil, err
	}

	return cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: cron.NewRegistry(enforceJob, retryJob, overageJob, trialJob),
		Lock:     lock,
		Interval: cfg.Cron.Interval,
	})
}

func exitOn(logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(context.Background(), "failed to create "+resource, err)
	os.Exit(1)
}
