package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	DatabaseURL        string
	RedisURL           string
	CORSAllowedOrigins []string

	MigrateOnStart bool
	MigrationsDir  string

	CatalogBaseURL     string
	PricingBaseURL     string
	UploadBaseURL      string
	CatalogGroupsFile  string
	CatalogSimpleTypes []string
	CatalogCacheTTL    time.Duration
	CatalogCachePrefix string

	OutboundTimeout     time.Duration
	RetryMaxAttempts    int
	RetryBaseBackoff    time.Duration
	RetryJitter         float64
	CircuitMinRequests  int
	CircuitFailureRatio float64
	CircuitOpenFor      time.Duration

	GlassAndPanelColorID int64

	SessionIdleTTL       time.Duration
	SessionSweepInterval time.Duration
	IdempotencyTTL       time.Duration
	LockTTL              time.Duration
	LockMaxWait          time.Duration

	QueueRedisPrefix       string
	QueueMaxAttempts       int
	QueueConcurrency       int
	QueueVisibilityTimeout time.Duration

	RateLimitWindow time.Duration
	RateLimitMax    int64

	EventsWebhookURL    string
	EventsWebhookSecret string
	EventsWebhookTopics []string

	BodyLimitBytes  int64
	SecurityHeaders bool
	EnableHSTS      bool
	ShutdownTimeout time.Duration
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		DatabaseURL:        k.String("DATABASE_URL"),
		RedisURL:           k.String("REDIS_URL"),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),

		MigrateOnStart: parseBool(k.String("MIGRATE_ON_START"), false),
		MigrationsDir:  valueOrDefault(k.String("MIGRATIONS_DIR"), "migrations"),

		CatalogBaseURL:     strings.TrimSpace(k.String("CATALOG_BASE_URL")),
		PricingBaseURL:     strings.TrimSpace(k.String("PRICING_BASE_URL")),
		UploadBaseURL:      strings.TrimSpace(k.String("UPLOAD_BASE_URL")),
		CatalogGroupsFile:  valueOrDefault(k.String("CATALOG_GROUPS_FILE"), "configs/catalog_groups.yaml"),
		CatalogSimpleTypes: splitAndTrim(k.String("CATALOG_SIMPLE_TYPES")),
		CatalogCacheTTL:    parseDuration(k.String("CATALOG_CACHE_TTL"), "5m"),
		CatalogCachePrefix: valueOrDefault(k.String("CATALOG_CACHE_PREFIX"), "catalog"),

		OutboundTimeout:     parseDuration(k.String("OUTBOUND_TIMEOUT"), "3s"),
		RetryMaxAttempts:    parseInt(k.String("RETRY_MAX_ATTEMPTS"), 3),
		RetryBaseBackoff:    parseDuration(k.String("RETRY_BASE_BACKOFF"), "100ms"),
		RetryJitter:         parseFloat(k.String("RETRY_JITTER"), 0.2),
		CircuitMinRequests:  parseInt(k.String("CIRCUIT_MIN_REQUESTS"), 5),
		CircuitFailureRatio: parseFloat(k.String("CIRCUIT_FAILURE_RATIO"), 0.5),
		CircuitOpenFor:      parseDuration(k.String("CIRCUIT_OPEN_FOR"), "30s"),

		GlassAndPanelColorID: int64(parseInt(k.String("GLASS_AND_PANEL_COLOR_ID"), 0)),

		SessionIdleTTL:       parseDuration(k.String("SESSION_IDLE_TTL"), "2h"),
		SessionSweepInterval: parseDuration(k.String("SESSION_SWEEP_INTERVAL"), "1m"),
		IdempotencyTTL:       parseDuration(k.String("IDEMPOTENCY_TTL"), "24h"),
		LockTTL:              parseDuration(k.String("LOCK_TTL"), "30s"),
		LockMaxWait:          parseDuration(k.String("LOCK_MAX_WAIT"), "5s"),

		QueueRedisPrefix:       valueOrDefault(k.String("QUEUE_REDIS_PREFIX"), "configurator"),
		QueueMaxAttempts:       parseInt(k.String("QUEUE_MAX_ATTEMPTS"), 8),
		QueueConcurrency:       parseInt(k.String("QUEUE_CONCURRENCY"), 4),
		QueueVisibilityTimeout: parseDuration(k.String("QUEUE_VISIBILITY_TIMEOUT"), "60s"),

		RateLimitWindow: parseDuration(k.String("RATE_LIMIT_WINDOW"), "1m"),
		RateLimitMax:    int64(parseInt(k.String("RATE_LIMIT_MAX"), 300)),

		EventsWebhookURL:    strings.TrimSpace(k.String("EVENTS_WEBHOOK_URL")),
		EventsWebhookSecret: k.String("EVENTS_WEBHOOK_SECRET"),
		EventsWebhookTopics: splitAndTrim(k.String("EVENTS_WEBHOOK_TOPICS")),

		BodyLimitBytes:  int64(parseInt(k.String("BODY_LIMIT_BYTES"), 1<<20)),
		SecurityHeaders: parseBool(k.String("SECURITY_HEADERS"), true),
		EnableHSTS:      parseBool(k.String("SECURITY_HSTS"), false),
		ShutdownTimeout: parseDuration(k.String("SHUTDOWN_TIMEOUT"), "15s"),
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.PricingBaseURL == "" {
		return nil, errors.New("PRICING_BASE_URL is required")
	}
	if cfg.CatalogBaseURL == "" {
		return nil, errors.New("CATALOG_BASE_URL is required")
	}
	return cfg, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseInt(value string, fallback int) int {
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return parsed
}

func parseFloat(value string, fallback float64) float64 {
	parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func parseBool(value string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "t", "true", "yes", "on":
		return true
	case "0", "f", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

// MustLoad behaves like Load but panics on error.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests applies env overrides, loads, and restores the previous
// environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
