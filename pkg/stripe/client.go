package stripe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/orgplans-backend/pkg/config"
	"github.com/angelmondragon/orgplans-backend/pkg/logger"
)

// Mode is the Stripe account mode a key belongs to.
type Mode string

const (
	ModeTest Mode = "test"
	ModeLive Mode = "live"
)

const (
	appName                 = "orgplans-backend"
	signingSecretPrefix     = "whsec_"
	defaultWebhookTolerance = 5 * time.Minute
)

var keyPrefixes = map[Mode][]string{
	ModeTest: {"sk_test_", "rk_test_"},
	ModeLive: {"sk_live_", "rk_live_"},
}

var (
	errAPIKeyRequired = errors.New("stripe api key is required")
	errSecretRequired = errors.New("stripe webhook signing secret is required")
)

// Client is the process-wide Stripe setup: the SDK backend the gateway calls
// through, and the webhook verification settings the reconciler needs.
type Client struct {
	mode             Mode
	signingSecret    string
	webhookTolerance time.Duration
}

// NewClient configures the SDK backend once. The SDK's own network retries
// are disabled; the gateway bounds every request with a timeout and retries
// transient failures itself.
func NewClient(ctx context.Context, cfg config.StripeConfig, logg *logger.Logger) (*Client, error) {
	mode, err := parseMode(cfg.Environment())
	if err != nil {
		return nil, err
	}
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errAPIKeyRequired
	}
	if !hasAnyPrefix(apiKey, keyPrefixes[mode]) {
		return nil, fmt.Errorf("stripe %s mode requires a %s key (%s)", mode, mode, strings.Join(keyPrefixes[mode], ", "))
	}
	secret := strings.TrimSpace(cfg.Secret)
	switch {
	case secret == "":
		return nil, errSecretRequired
	case !strings.HasPrefix(secret, signingSecretPrefix):
		return nil, fmt.Errorf("stripe webhook signing secret must start with %q", signingSecretPrefix)
	}
	tolerance := cfg.WebhookTolerance
	if tolerance <= 0 {
		tolerance = defaultWebhookTolerance
	}

	stripe.SetAppInfo(&stripe.AppInfo{Name: appName})
	stripe.SetBackend(stripe.APIBackend, stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		HTTPClient:        &http.Client{Timeout: cfg.GatewayTimeout},
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelError},
	}))
	stripe.Key = apiKey

	if logg != nil {
		logg.Info(logg.WithFields(ctx, map[string]any{
			"stripe_mode":       string(mode),
			"webhook_tolerance": tolerance.String(),
		}), "stripe configured")
	}
	return &Client{mode: mode, signingSecret: secret, webhookTolerance: tolerance}, nil
}

// Environment reports the Stripe mode in use as a plain string.
func (c *Client) Environment() string {
	if c == nil {
		return ""
	}
	return string(c.mode)
}

func (c *Client) IsLive() bool {
	return c != nil && c.mode == ModeLive
}

func (c *Client) SigningSecret() string {
	if c == nil {
		return ""
	}
	return c.signingSecret
}

// WebhookTolerance is the maximum age of a signed webhook timestamp.
func (c *Client) WebhookTolerance() time.Duration {
	if c == nil {
		return defaultWebhookTolerance
	}
	return c.webhookTolerance
}

func parseMode(raw string) (Mode, error) {
	switch mode := Mode(strings.ToLower(strings.TrimSpace(raw))); mode {
	case "":
		return ModeTest, nil
	case ModeTest, ModeLive:
		return mode, nil
	default:
		return "", fmt.Errorf("stripe environment must be %q or %q, got %q", ModeTest, ModeLive, raw)
	}
}

func hasAnyPrefix(value string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if strings.HasPrefix(value, prefix) {
			return true
		}
	}
	return false
}
