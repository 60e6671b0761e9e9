package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds application configuration loaded from environment variables.
// Secrets marked required make Load fail, which keeps the server from
// listening at all when it is misconfigured.
type Config struct {
	Port        int    `envconfig:"PORT" default:"8080"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	Version     string `envconfig:"VERSION" default:"dev"`
	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
	BcryptCost  int    `envconfig:"BCRYPT_COST" default:"10"`

	AdminSecretKey string `envconfig:"ADMIN_SECRET_KEY" required:"true"`

	StripeSecretKey     string `envconfig:"STRIPE_SECRET_KEY" default:""`
	StripeWebhookSecret string `envconfig:"STRIPE_WEBHOOK_SECRET" required:"true"`
	// StripePrices maps product codes to recurring price ids,
	// e.g. "monitoring:price_123,conference:price_456".
	StripePrices      map[string]string `envconfig:"STRIPE_PRICES" default:""`
	CheckoutTrialDays int64             `envconfig:"CHECKOUT_TRIAL_DAYS" default:"30"`
	BaseURL           string            `envconfig:"BASE_URL" default:"http://localhost:8080"`

	// DefaultProductCode is applied to checkout events that carry no
	// product_code metadata. Empty means such events are parked for review.
	DefaultProductCode   string `envconfig:"DEFAULT_PRODUCT_CODE" default:""`
	DefaultAccessProduct string `envconfig:"DEFAULT_ACCESS_PRODUCT" default:"monitoring"`

	IdentityProviderURL string `envconfig:"SUPABASE_URL" default:""`
	IdentityServiceKey  string `envconfig:"SUPABASE_SERVICE_ROLE_KEY" default:""`

	ResendAPIKey string `envconfig:"RESEND_API_KEY" default:""`
	MailFrom     string `envconfig:"MAIL_FROM" default:"no-reply@localhost"`

	RedisURL           string        `envconfig:"REDIS_URL" default:""`
	AnonymousFreeLimit int           `envconfig:"ANONYMOUS_FREE_LIMIT" default:"3"`
	AnonymousWindow    time.Duration `envconfig:"ANONYMOUS_WINDOW" default:"24h"`

	ResyncInterval int `envconfig:"RESYNC_INTERVAL" default:"0"`
	ResyncStaleAge int `envconfig:"RESYNC_STALE_AGE" default:"86400"`

	CORSOrigins       []string `envconfig:"CORS_ORIGINS" default:"*"`
	TrustProxyHeaders bool     `envconfig:"TRUST_PROXY_HEADERS" default:"false"`
}

// Load reads configuration from environment variables into a Config struct.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// StripeEnabled reports whether outbound Stripe API calls are configured.
func (c *Config) StripeEnabled() bool {
	return c.StripeSecretKey != ""
}
