package main

import (
	"context"
	"errors"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/boxlinehq/boxline-backend/internal/billingevents"
	"github.com/boxlinehq/boxline-backend/internal/boxes"
	"github.com/boxlinehq/boxline-backend/internal/cron"
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

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
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

	enforceJob, err := cron.NewSubscriptionEnforceJob(cron.SubscriptionEnforceJobParams{
		Logger: logg,
		Boxes:  boxRepo,
		Limit:  cfg.Cron.SweepBatchSize,
	})
	exitOn(logg, "subscription enforce job", err)

	retryJob, err := cron.NewBillingEventRetryJob(cron.BillingEventRetryJobParams{
		Logger:    logg,
		Events:    eventRepo,
		Processor: processor,
		Limit:     cfg.Cron.RetryDrainBatch,
	})
	exitOn(logg, "billing event retry job", err)

	overageJob, err := cron.NewOverageBillingJob(cron.OverageBillingJobParams{
		Logger:     logg,
		Boxes:      boxRepo,
		Calculator: calculator,
		Limit:      cfg.Cron.SweepBatchSize,
	})
	exitOn(logg, "overage billing job", err)

	trialJob, err := cron.NewTrialEndingJob(cron.TrialEndingJobParams{
		Logger: logg,
		Boxes:  boxRepo,
		Grace:  graceManager,
		Window: cfg.Cron.TrialNoticeWindow,
		Limit:  cfg.Cron.SweepBatchSize,
	})
	exitOn(logg, "trial ending job", err)

	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey("cron:"+cfg.App.Env), 0)
	exitOn(logg, "cron lock", err)

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: cron.NewRegistry(enforceJob, retryJob, overageJob, trialJob),
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Interval: cfg.Cron.Interval,
	})
	exitOn(logg, "cron service", err)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})
	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

func exitOn(logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(context.Background(), "failed to create "+resource, err)
	os.Exit(1)
}
