package config

// EnvPrefix namespaces every variable read by Load.
const EnvPrefix = "ORGPLANS"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv = "ORGPLANS_APP_ENV"
	EnvPort   = "ORGPLANS_APP_PORT"

	EnvDBDSN  = "ORGPLANS_DB_DSN"
	EnvDBHost = "ORGPLANS_DB_HOST"
	EnvDBUser = "ORGPLANS_DB_USER"
	EnvDBName = "ORGPLANS_DB_NAME"

	EnvRedisURL = "ORGPLANS_REDIS_URL"

	EnvJWTSecret = "ORGPLANS_JWT_SECRET"
	EnvJWTIssuer = "ORGPLANS_JWT_ISSUER"

	EnvStripeAPIKey       = "ORGPLANS_STRIPE_API_KEY"
	EnvStripeSecret       = "ORGPLANS_STRIPE_SECRET"
	EnvStripePricePack10  = "ORGPLANS_STRIPE_PRICE_PACK10"
	EnvStripePriceProClub = "ORGPLANS_STRIPE_PRICE_PRO_CLUB"
	EnvStripeTimeout      = "ORGPLANS_STRIPE_GATEWAY_TIMEOUT"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
