package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                        = "DYELOT"
	defaultHTTPAddress               = "0.0.0.0:8080"
	defaultDatabasePath              = "dyelot.db"
	defaultLogLevel                  = "info"
	defaultAuthIssuer                = "dyelot-cli"
	defaultAuthAudience              = "dyelot-api"
	defaultTokenTTLMinutes           = 720
	defaultShopifyAPIVersion         = "2024-10"
	defaultShopifyMaxRetries         = 3
	defaultShopifyInitialBackoffMS   = 500
	defaultShopifyRateLimitFallbackS = 2
	defaultShopifyTimeoutSeconds     = 30
	defaultShopifyRequestsPerSecond  = 2.0
	defaultDedupeTTLMinutes          = 1440
)

// ShopifyConfig tunes the Admin API client and webhook verification.
type ShopifyConfig struct {
	APIVersion        string
	WebhookSecret     string
	MaxRetries        int
	InitialBackoff    time.Duration
	RateLimitFallback time.Duration
	Timeout           time.Duration
	RequestsPerSecond float64
}

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress       string
	DatabasePath      string
	LogLevel          string
	AuthSigningSecret string
	AuthIssuer        string
	AuthAudience      string
	TokenTTL          time.Duration
	Shopify           ShopifyConfig
	RedisAddress      string
	DedupeTTL         time.Duration
	AllowedOrigins    []string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("http.allowed_origins", []string{})
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("auth.issuer", defaultAuthIssuer)
	configViper.SetDefault("auth.audience", defaultAuthAudience)
	configViper.SetDefault("auth.token_ttl_minutes", defaultTokenTTLMinutes)
	configViper.SetDefault("shopify.api_version", defaultShopifyAPIVersion)
	configViper.SetDefault("shopify.max_retries", defaultShopifyMaxRetries)
	configViper.SetDefault("shopify.initial_backoff_ms", defaultShopifyInitialBackoffMS)
	configViper.SetDefault("shopify.rate_limit_fallback_seconds", defaultShopifyRateLimitFallbackS)
	configViper.SetDefault("shopify.timeout_seconds", defaultShopifyTimeoutSeconds)
	configViper.SetDefault("shopify.requests_per_second", defaultShopifyRequestsPerSecond)
	configViper.SetDefault("redis.address", "")
	configViper.SetDefault("webhooks.dedupe_ttl_minutes", defaultDedupeTTLMinutes)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:       configViper.GetString("http.address"),
		DatabasePath:      configViper.GetString("database.path"),
		LogLevel:          configViper.GetString("log.level"),
		AuthSigningSecret: configViper.GetString("auth.signing_secret"),
		AuthIssuer:        configViper.GetString("auth.issuer"),
		AuthAudience:      configViper.GetString("auth.audience"),
		TokenTTL:          time.Duration(configViper.GetInt("auth.token_ttl_minutes")) * time.Minute,
		Shopify: ShopifyConfig{
			APIVersion:        configViper.GetString("shopify.api_version"),
			WebhookSecret:     configViper.GetString("shopify.webhook_secret"),
			MaxRetries:        configViper.GetInt("shopify.max_retries"),
			InitialBackoff:    time.Duration(configViper.GetInt("shopify.initial_backoff_ms")) * time.Millisecond,
			RateLimitFallback: time.Duration(configViper.GetInt("shopify.rate_limit_fallback_seconds")) * time.Second,
			Timeout:           time.Duration(configViper.GetInt("shopify.timeout_seconds")) * time.Second,
			RequestsPerSecond: configViper.GetFloat64("shopify.requests_per_second"),
		},
		RedisAddress:   strings.TrimSpace(configViper.GetString("redis.address")),
		DedupeTTL:      time.Duration(configViper.GetInt("webhooks.dedupe_ttl_minutes")) * time.Minute,
		AllowedOrigins: configViper.GetStringSlice("http.allowed_origins"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.AuthSigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl_minutes must be positive")
	}
	if c.Shopify.MaxRetries < 0 {
		return fmt.Errorf("shopify.max_retries must not be negative")
	}
	if c.DedupeTTL <= 0 {
		return fmt.Errorf("webhooks.dedupe_ttl_minutes must be positive")
	}
	return nil
}

// RequireWebhookSecret reports whether the server can authenticate webhook deliveries.
func (c AppConfig) RequireWebhookSecret() error {
	if strings.TrimSpace(c.Shopify.WebhookSecret) == "" {
		return fmt.Errorf("shopify.webhook_secret is required")
	}
	return nil
}
