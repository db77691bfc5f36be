package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/orgplans-backend/api/controllers"
	billingcontrollers "github.com/angelmondragon/orgplans-backend/api/controllers/billing"
	subscriptioncontrollers "github.com/angelmondragon/orgplans-backend/api/controllers/subscriptions"
	webhookcontrollers "github.com/angelmondragon/orgplans-backend/api/controllers/webhooks"
	"github.com/angelmondragon/orgplans-backend/api/middleware"
	checkoutsvc "github.com/angelmondragon/orgplans-backend/internal/checkout"
	subscriptionsvc "github.com/angelmondragon/orgplans-backend/internal/subscriptions"
	"github.com/angelmondragon/orgplans-backend/pkg/config"
	"github.com/angelmondragon/orgplans-backend/pkg/db"
	"github.com/angelmondragon/orgplans-backend/pkg/logger"
)

// RedisStore is what the HTTP layer needs from redis: replay storage,
// rate counters and a readiness probe.
type RedisStore interface {
	middleware.ReplayStore
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
	Ping(ctx context.Context) error
}

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisStore RedisStore,
	gatherer prometheus.Gatherer,
	catalog billingcontrollers.PlanCatalog,
	subscriptionsService subscriptionsvc.Service,
	checkoutService checkoutsvc.Service,
	stripeEvents webhookcontrollers.StripeEventHandler,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.Recoverer(logg),
		middleware.CORS(cfg.App.AllowedOrigins()),
	)

	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/health", func(r chi.Router) {
		deps := map[string]controllers.Pinger{}
		if dbP != nil {
			deps["database"] = dbP
		}
		if redisStore != nil {
			deps["redis"] = redisStore
		}
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, deps))
	})

	// Signature-authenticated; never behind the bearer middleware.
	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/stripe", webhookcontrollers.StripeWebhook(stripeEvents, cfg.Billing.WebhookMaxBodyBytes, logg))
	})

	r.Route("/api/v1/plans", func(r chi.Router) {
		r.Get("/", billingcontrollers.PlansList(catalog, logg))
		r.Get("/{planId}", billingcontrollers.PlanDetail(catalog, logg))
	})

	var idempotencyStore middleware.ReplayStore
	var limiter middleware.RateLimiter
	if redisStore != nil {
		idempotencyStore = redisStore
		limiter = redisStore
	}
	checkoutPolicy := middleware.RateLimitPolicy{
		Name:   "checkout",
		Limit:  cfg.Billing.CheckoutRateLimit,
		Window: cfg.Billing.CheckoutRateWindow,
	}

	r.Route("/api/v1/subscription", func(r chi.Router) {
		r.Use(
			middleware.Auth(cfg.JWT, logg),
			middleware.Idempotency(idempotencyStore, cfg.Billing.IdempotencyKeyTTL, logg),
		)
		r.Get("/", subscriptioncontrollers.SubscriptionSnapshot(subscriptionsService, logg))
		r.Get("/history", subscriptioncontrollers.SubscriptionHistory(subscriptionsService, logg))
		r.Post("/units/consume", subscriptioncontrollers.SubscriptionConsumeUnit(subscriptionsService, logg))

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireBillingManager(logg))
			r.With(middleware.OrganizationRateLimit(checkoutPolicy, limiter, logg)).
				Post("/checkout", subscriptioncontrollers.CheckoutStart(checkoutService, logg))
			r.Post("/checkout/verify", subscriptioncontrollers.CheckoutVerify(checkoutService, logg))
			r.Post("/cancel", subscriptioncontrollers.SubscriptionCancel(subscriptionsService, logg))
			r.Post("/portal", subscriptioncontrollers.SubscriptionPortal(subscriptionsService, cfg.App.FrontendURL, logg))
		})
	})

	return r
}
