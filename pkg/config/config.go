package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	Stripe       StripeConfig
	Billing      BillingConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	Cron         CronConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"ORGPLANS_APP_ENV" required:"true"`
	Port         string `envconfig:"ORGPLANS_APP_PORT" required:"true"`
	FrontendURL  string `envconfig:"ORGPLANS_FRONTEND_URL" default:"http://localhost:3000"`
	CORSOrigins  string `envconfig:"ORGPLANS_CORS_ORIGINS"`
	LogLevel     string `envconfig:"ORGPLANS_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"ORGPLANS_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

// AllowedOrigins is the frontend URL plus any comma-separated extra origins.
func (a AppConfig) AllowedOrigins() []string {
	seen := map[string]bool{}
	var out []string
	for _, origin := range append([]string{a.FrontendURL}, strings.Split(a.CORSOrigins, ",")...) {
		origin = strings.TrimRight(strings.TrimSpace(origin), "/")
		if origin == "" || seen[origin] {
			continue
		}
		seen[origin] = true
		out = append(out, origin)
	}
	return out
}

type ServiceConfig struct {
	Kind string `envconfig:"ORGPLANS_SERVICE_KIND" default:"api"`
	// MetricsAddr is where background workers expose /metrics. Empty disables it; the API serves its own.
	MetricsAddr string `envconfig:"ORGPLANS_WORKER_METRICS_ADDR"`
}

type DBConfig struct {
	DSN    string `envconfig:"ORGPLANS_DB_DSN"`
	Driver string `envconfig:"ORGPLANS_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"ORGPLANS_DB_HOST"`
	LegacyPort     int    `envconfig:"ORGPLANS_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"ORGPLANS_DB_USER"`
	LegacyPassword string `envconfig:"ORGPLANS_DB_PASSWORD"`
	LegacyName     string `envconfig:"ORGPLANS_DB_NAME"`
	LegacySSLMode  string `envconfig:"ORGPLANS_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"ORGPLANS_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"ORGPLANS_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"ORGPLANS_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"ORGPLANS_DB_CONN_MAX_IDLE_TIME" default:"10m"`
	// SlowQuery logs statements slower than this at warn. Zero disables it.
	SlowQuery time.Duration `envconfig:"ORGPLANS_DB_SLOW_QUERY" default:"500ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"ORGPLANS_REDIS_URL" required:"true"`
	Address      string        `envconfig:"ORGPLANS_REDIS_ADDR"`
	Password     string        `envconfig:"ORGPLANS_REDIS_PASSWORD"`
	DB           int           `envconfig:"ORGPLANS_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"ORGPLANS_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"ORGPLANS_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"ORGPLANS_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"ORGPLANS_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"ORGPLANS_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"ORGPLANS_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"ORGPLANS_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"ORGPLANS_JWT_EXPIRATION_MINUTES" default:"60"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"ORGPLANS_AUTO_MIGRATE" default:"false"`
}

type StripeConfig struct {
	APIKey string `envconfig:"ORGPLANS_STRIPE_API_KEY"`
	Secret string `envconfig:"ORGPLANS_STRIPE_SECRET"`
	Env    string `envconfig:"ORGPLANS_STRIPE_ENV" default:"test"`

	PricePack10  string `envconfig:"ORGPLANS_STRIPE_PRICE_PACK10"`
	PriceProClub string `envconfig:"ORGPLANS_STRIPE_PRICE_PRO_CLUB"`
	PriceProPME  string `envconfig:"ORGPLANS_STRIPE_PRICE_PRO_PME"`

	// GatewayTimeout bounds a single Stripe call; a failed call is retried once.
	GatewayTimeout     time.Duration `envconfig:"ORGPLANS_STRIPE_GATEWAY_TIMEOUT" default:"8s"`
	CheckoutSessionTTL time.Duration `envconfig:"ORGPLANS_STRIPE_CHECKOUT_SESSION_TTL" default:"1h"`
	// WebhookTolerance bounds how old a signed delivery timestamp may be.
	WebhookTolerance time.Duration `envconfig:"ORGPLANS_STRIPE_WEBHOOK_TOLERANCE" default:"5m"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

// PriceRefs maps canonical plan ids to the configured Stripe price ids.
func (s StripeConfig) PriceRefs() map[string]string {
	return map[string]string{
		"evenementielle-pack10": strings.TrimSpace(s.PricePack10),
		"pro_club":              strings.TrimSpace(s.PriceProClub),
		"pro_pme":               strings.TrimSpace(s.PriceProPME),
	}
}

type BillingConfig struct {
	WebhookGuardTTL     time.Duration `envconfig:"ORGPLANS_BILLING_WEBHOOK_GUARD_TTL" default:"72h"`
	WebhookMaxBodyBytes int64         `envconfig:"ORGPLANS_BILLING_WEBHOOK_MAX_BODY_BYTES" default:"65536"`
	CheckoutRateLimit   int           `envconfig:"ORGPLANS_BILLING_CHECKOUT_RATE_LIMIT" default:"10"`
	CheckoutRateWindow  time.Duration `envconfig:"ORGPLANS_BILLING_CHECKOUT_RATE_WINDOW" default:"1m"`
	IdempotencyKeyTTL   time.Duration `envconfig:"ORGPLANS_BILLING_IDEMPOTENCY_KEY_TTL" default:"24h"`
}

type GCPConfig struct {
	ProjectID string `envconfig:"ORGPLANS_GCP_PROJECT_ID"`
}

type PubSubConfig struct {
	NotificationTopic string `envconfig:"ORGPLANS_PUBSUB_NOTIFICATION_TOPIC" default:"orgplans-billing-notifications"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"ORGPLANS_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"ORGPLANS_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"ORGPLANS_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

type CronConfig struct {
	Interval    time.Duration `envconfig:"ORGPLANS_CRON_INTERVAL" default:"1h"`
	LockTTL     time.Duration `envconfig:"ORGPLANS_CRON_LOCK_TTL" default:"55m"`
	ResyncLimit int           `envconfig:"ORGPLANS_CRON_RESYNC_LIMIT" default:"200"`
	// ResyncStaleAfter skips subscriptions a webhook or verify touched more recently than this.
	ResyncStaleAfter  time.Duration `envconfig:"ORGPLANS_CRON_RESYNC_STALE_AFTER" default:"6h"`
	CheckoutRetention time.Duration `envconfig:"ORGPLANS_CRON_CHECKOUT_RETENTION" default:"720h"`
	OutboxRetention   time.Duration `envconfig:"ORGPLANS_CRON_OUTBOX_RETENTION" default:"720h"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
