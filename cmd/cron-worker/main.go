package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/orgplans-backend/internal/checkout"
	"github.com/angelmondragon/orgplans-backend/internal/cron"
	"github.com/angelmondragon/orgplans-backend/internal/gateway"
	"github.com/angelmondragon/orgplans-backend/internal/notifications"
	"github.com/angelmondragon/orgplans-backend/internal/plans"
	"github.com/angelmondragon/orgplans-backend/internal/subscriptions"
	"github.com/angelmondragon/orgplans-backend/pkg/config"
	"github.com/angelmondragon/orgplans-backend/pkg/db"
	"github.com/angelmondragon/orgplans-backend/pkg/instance"
	"github.com/angelmondragon/orgplans-backend/pkg/logger"
	"github.com/angelmondragon/orgplans-backend/pkg/metrics"
	"github.com/angelmondragon/orgplans-backend/pkg/migrate"
	"github.com/angelmondragon/orgplans-backend/pkg/outbox"
	"github.com/angelmondragon/orgplans-backend/pkg/redis"
	pkgstripe "github.com/angelmondragon/orgplans-backend/pkg/stripe"
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
		Environment: cfg.App.Env,
		Instance:    instance.ID(),
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

	if _, err := pkgstripe.NewClient(context.Background(), cfg.Stripe, logg); err != nil {
		logg.Error(context.Background(), "failed to bootstrap stripe", err)
		os.Exit(1)
	}

	catalog, err := plans.NewDefaultCatalog(cfg.Stripe.PriceRefs())
	if err != nil {
		logg.Error(context.Background(), "failed to build plan catalog", err)
		os.Exit(1)
	}

	billingMetrics := metrics.NewBillingMetrics(prometheus.DefaultRegisterer)
	cronMetrics := metrics.NewCronJobMetrics(prometheus.DefaultRegisterer)

	outboxRepo := outbox.NewRepository(dbClient.DB())
	notifier, err := notifications.NewSubscriptionNotifier(outbox.NewService(outboxRepo, logg))
	if err != nil {
		logg.Error(context.Background(), "failed to create notifier", err)
		os.Exit(1)
	}

	stripeGateway := gateway.NewStripe(gateway.StripeParams{
		Logger:  logg,
		Metrics: billingMetrics,
		Timeout: cfg.Stripe.GatewayTimeout,
	})

	subscriptionRepo := subscriptions.NewRepository(dbClient.DB())
	applier, err := subscriptions.NewApplier(subscriptions.ApplierParams{
		DB:        dbClient,
		Repo:      subscriptionRepo,
		Catalog:   catalog,
		Notifier:  notifier,
		Canceller: stripeGateway,
		Metrics:   billingMetrics,
		Logger:    logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create transition applier", err)
		os.Exit(1)
	}

	expiryJob, err := cron.NewCheckoutExpiryJob(cron.CheckoutExpiryJobParams{
		Logger:     logg,
		Repository: checkout.NewRepository(dbClient.DB()),
		Retention:  cfg.Cron.CheckoutRetention,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create checkout expiry job", err)
		os.Exit(1)
	}
	resyncJob, err := cron.NewSubscriptionResyncJob(cron.SubscriptionResyncJobParams{
		Logger:     logg,
		Repository: subscriptionRepo,
		Gateway:    stripeGateway,
		Applier:    applier,
		Limit:      cfg.Cron.ResyncLimit,
		StaleAfter: cfg.Cron.ResyncStaleAfter,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create subscription resync job", err)
		os.Exit(1)
	}
	retentionJob, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:     logg,
		Repository: outboxRepo,
		DeadLetter: outbox.NewDLQRepository(dbClient.DB()),
		Retention:  cfg.Cron.OutboxRetention,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create outbox retention job", err)
		os.Exit(1)
	}

	lock, err := cron.NewRedisLock(redisClient, cfg.Cron.LockTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	registry := cron.NewRegistry(expiryJob, resyncJob, retentionJob)
	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  cronMetrics,
		Interval: cfg.Cron.Interval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"jobs":        registry.Names(),
	})
	logg.Info(ctx, "starting cron worker")

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error { return service.Run(groupCtx) })
	if cfg.Service.MetricsAddr != "" {
		server := metrics.NewWorkerServer(cfg.Service.MetricsAddr, prometheus.DefaultGatherer, logg)
		group.Go(func() error { return server.Run(groupCtx) })
	}
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}
