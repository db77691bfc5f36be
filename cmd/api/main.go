package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/orgplans-backend/api/routes"
	"github.com/angelmondragon/orgplans-backend/internal/checkout"
	"github.com/angelmondragon/orgplans-backend/internal/gateway"
	"github.com/angelmondragon/orgplans-backend/internal/notifications"
	"github.com/angelmondragon/orgplans-backend/internal/plans"
	"github.com/angelmondragon/orgplans-backend/internal/subscriptions"
	stripewebhook "github.com/angelmondragon/orgplans-backend/internal/webhooks/stripe"
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

	stripeClient, err := pkgstripe.NewClient(context.Background(), cfg.Stripe, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap stripe", err)
		os.Exit(1)
	}

	catalog, err := plans.NewDefaultCatalog(cfg.Stripe.PriceRefs())
	if err != nil {
		logg.Error(context.Background(), "failed to build plan catalog", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "api"

	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	billingMetrics := metrics.NewBillingMetrics(registry)

	notifier, err := notifications.NewSubscriptionNotifier(outbox.NewService(outbox.NewRepository(dbClient.DB()), logg))
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

	subscriptionService, err := subscriptions.NewService(subscriptions.ServiceParams{
		DB:      dbClient,
		Repo:    subscriptionRepo,
		Catalog: catalog,
		Applier: applier,
		Gateway: stripeGateway,
		Logger:  logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create subscription service", err)
		os.Exit(1)
	}

	checkoutRepo := checkout.NewRepository(dbClient.DB())
	frontend := strings.TrimRight(cfg.App.FrontendURL, "/")
	checkoutService, err := checkout.NewService(checkout.ServiceParams{
		Repo:              checkoutRepo,
		Subscriptions:     subscriptionRepo,
		Applier:           applier,
		Gateway:           stripeGateway,
		Catalog:           catalog,
		Metrics:           billingMetrics,
		Logger:            logg,
		SessionTTL:        cfg.Stripe.CheckoutSessionTTL,
		DefaultSuccessURL: frontend + "/billing/success",
		DefaultCancelURL:  frontend + "/billing",
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create checkout service", err)
		os.Exit(1)
	}

	guard, err := stripewebhook.NewEventGuard(redisClient, cfg.Billing.WebhookGuardTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook guard", err)
		os.Exit(1)
	}
	reconciler, err := stripewebhook.NewReconciler(stripewebhook.ReconcilerParams{
		Applier:            applier,
		Subscriptions:      subscriptionRepo,
		Checkouts:          checkoutRepo,
		Catalog:            catalog,
		Guard:              guard,
		Metrics:            billingMetrics,
		Logger:             logg,
		SigningSecret:      stripeClient.SigningSecret(),
		SignatureTolerance: stripeClient.WebhookTolerance(),
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook reconciler", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":          cfg.App.Env,
		"addr":         addr,
		"stripe_env":   stripeClient.Environment(),
		"stripe_live":  stripeClient.IsLive(),
		"plan_aliases": catalog.Aliases(),
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr:              addr,
		ReadHeaderTimeout: 10 * time.Second,
		Handler: routes.NewRouter(cfg, logg, dbClient, redisClient, registry,
			catalog, subscriptionService, checkoutService, reconciler),
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-sigCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "api server shutdown failed", err)
		}
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(ctx, "api server shut down gracefully")
}
