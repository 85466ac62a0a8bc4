package internal

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Env         string
	Port        int
	LogLevel    string
	DatabaseUrl string

	// Persistence backends
	StoreBackend   string // "postgres" or "memory"
	CounterStore   string // "postgres", "redis" or "memory"
	RedisURL       string
	RedisKeyPrefix string

	// Catalog source
	CatalogSource string // "embedded", "local" or "r2"
	CatalogPath   string // Base directory for the local source
	CatalogKey    string // Object key of the catalog document

	// R2 (catalog source in production)
	R2AccountID       string
	R2AccessKeyID     string
	R2SecretAccessKey string
	R2BucketName      string
	R2Endpoint        string // Optional S3-compatible endpoint override

	// Prompt throttling
	PromptCooldown      time.Duration
	PromptPendingTTL    time.Duration
	PromptDefaultSnooze time.Duration
	PromptRetention     time.Duration

	// Usage level thresholds (percent)
	QuotaWarningThreshold  float64
	QuotaCriticalThreshold float64

	// Maintenance worker
	WorkerEnabled  bool
	WorkerInterval time.Duration

	// API authentication
	// API_KEYS holds "name:bcrypt-hash" pairs; API_KEY_HASH is a single
	// hash registered as "default". If both are empty /v1 is open.
	APIKeys    string
	APIKeyHash string

	// Per-client rate limiting on /v1
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Stripe tier-change webhook
	// In development the webhook acknowledges and ignores events if this is empty.
	StripeWebhookSecret string

	// Stripe Price IDs mapped to tiers
	StripeUserMonthlyPriceID       string
	StripeUserYearlyPriceID        string
	StripeTeamMonthlyPriceID       string
	StripeTeamYearlyPriceID        string
	StripeEnterpriseMonthlyPriceID string
	StripeEnterpriseYearlyPriceID  string

	// Metrics endpoint authentication
	// If both are empty, the /metrics endpoint will be unprotected (not recommended)
	MetricsUsername string
	MetricsPassword string
}

func NewConfig() (*Config, error) {
	// Load .env file if it exists (ignored in production)
	_ = godotenv.Load()

	cfg := &Config{
		Env:         getEnv("ENV", "development"),
		Port:        getEnvInt("PORT", 8080),
		LogLevel:    getEnv("LOG_LEVEL", "debug"),
		DatabaseUrl: os.Getenv("DATABASE_URL"),

		StoreBackend:   getEnv("STORE_BACKEND", "postgres"),
		RedisURL:       getEnv("REDIS_URL", ""),
		RedisKeyPrefix: getEnv("REDIS_KEY_PREFIX", "sitegate"),

		CatalogSource: getEnv("CATALOG_SOURCE", "embedded"),
		CatalogPath:   getEnv("CATALOG_PATH", "./config"),
		CatalogKey:    getEnv("CATALOG_KEY", "catalog.yaml"),

		R2AccountID:       getEnv("R2_ACCOUNT_ID", ""),
		R2AccessKeyID:     getEnv("R2_ACCESS_KEY_ID", ""),
		R2SecretAccessKey: getEnv("R2_SECRET_ACCESS_KEY", ""),
		R2BucketName:      getEnv("R2_BUCKET_NAME", ""),
		R2Endpoint:        getEnv("R2_ENDPOINT", ""),

		PromptCooldown:      getEnvDuration("PROMPT_COOLDOWN", 72*time.Hour),
		PromptPendingTTL:    getEnvDuration("PROMPT_PENDING_TTL", 24*time.Hour),
		PromptDefaultSnooze: getEnvDuration("PROMPT_DEFAULT_SNOOZE", 24*time.Hour),
		PromptRetention:     getEnvDuration("PROMPT_RETENTION", 2160*time.Hour),

		QuotaWarningThreshold:  getEnvFloat("QUOTA_WARNING_THRESHOLD", 75),
		QuotaCriticalThreshold: getEnvFloat("QUOTA_CRITICAL_THRESHOLD", 90),

		WorkerEnabled:  getEnvBool("WORKER_ENABLED", true),
		WorkerInterval: getEnvDuration("WORKER_INTERVAL", time.Hour),

		APIKeys:    getEnv("API_KEYS", ""),
		APIKeyHash: getEnv("API_KEY_HASH", ""),

		RateLimitRequests: getEnvInt("RATE_LIMIT_REQUESTS", 600),
		RateLimitWindow:   getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),

		StripeWebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),

		StripeUserMonthlyPriceID:       getEnv("STRIPE_USER_MONTHLY_PRICE_ID", ""),
		StripeUserYearlyPriceID:        getEnv("STRIPE_USER_YEARLY_PRICE_ID", ""),
		StripeTeamMonthlyPriceID:       getEnv("STRIPE_TEAM_MONTHLY_PRICE_ID", ""),
		StripeTeamYearlyPriceID:        getEnv("STRIPE_TEAM_YEARLY_PRICE_ID", ""),
		StripeEnterpriseMonthlyPriceID: getEnv("STRIPE_ENTERPRISE_MONTHLY_PRICE_ID", ""),
		StripeEnterpriseYearlyPriceID:  getEnv("STRIPE_ENTERPRISE_YEARLY_PRICE_ID", ""),

		MetricsUsername: getEnv("METRICS_USERNAME", ""),
		MetricsPassword: getEnv("METRICS_PASSWORD", ""),
	}

	// Counters follow the main store unless overridden
	cfg.CounterStore = getEnv("COUNTER_STORE", cfg.StoreBackend)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// UsesPostgres reports whether any store needs DATABASE_URL.
func (c *Config) UsesPostgres() bool {
	return c.StoreBackend == "postgres" || c.CounterStore == "postgres"
}

func (c *Config) validate() error {
	switch c.StoreBackend {
	case "postgres", "memory":
	default:
		return fmt.Errorf("STORE_BACKEND must be either 'postgres' or 'memory', got: %s", c.StoreBackend)
	}

	switch c.CounterStore {
	case "postgres", "memory":
	case "redis":
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required when COUNTER_STORE is 'redis'")
		}
	default:
		return fmt.Errorf("COUNTER_STORE must be 'postgres', 'redis' or 'memory', got: %s", c.CounterStore)
	}

	if c.UsesPostgres() && c.DatabaseUrl == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	switch c.CatalogSource {
	case "embedded", "local":
	case "r2":
		if c.R2AccountID == "" && c.R2Endpoint == "" {
			return fmt.Errorf("R2_ACCOUNT_ID is required when CATALOG_SOURCE is 'r2'")
		}
		if c.R2AccessKeyID == "" {
			return fmt.Errorf("R2_ACCESS_KEY_ID is required when CATALOG_SOURCE is 'r2'")
		}
		if c.R2SecretAccessKey == "" {
			return fmt.Errorf("R2_SECRET_ACCESS_KEY is required when CATALOG_SOURCE is 'r2'")
		}
		if c.R2BucketName == "" {
			return fmt.Errorf("R2_BUCKET_NAME is required when CATALOG_SOURCE is 'r2'")
		}
	default:
		return fmt.Errorf("CATALOG_SOURCE must be 'embedded', 'local' or 'r2', got: %s", c.CatalogSource)
	}

	if c.QuotaWarningThreshold < 0 || c.QuotaCriticalThreshold > 100 || c.QuotaWarningThreshold > c.QuotaCriticalThreshold {
		return fmt.Errorf("quota thresholds must satisfy 0 <= warning (%v) <= critical (%v) <= 100",
			c.QuotaWarningThreshold, c.QuotaCriticalThreshold)
	}

	if c.PromptCooldown <= 0 || c.PromptPendingTTL <= 0 || c.PromptRetention <= 0 {
		return fmt.Errorf("PROMPT_COOLDOWN, PROMPT_PENDING_TTL and PROMPT_RETENTION must be positive")
	}

	if c.RateLimitRequests < 1 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS must be at least 1, got %d", c.RateLimitRequests)
	}

	return nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}
