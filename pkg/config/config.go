package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/invoicer/pkg/observability"
	"github.com/platinummonkey/invoicer/pkg/storage"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Storage       storage.Config
	Auth          AuthConfig
	Billing       BillingConfig
	Plans         PlansConfig
	Scheduler     SchedulerConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string

	// AppURL is the public origin used to build redirect URLs
	AppURL         string
	AllowedOrigins []string
	MaxBodyBytes   int64

	RateLimitRequests int
	RateLimitWindow   time.Duration
}

// AuthConfig holds token signing and optional OIDC login settings
type AuthConfig struct {
	JWTSecret string
	TokenTTL  time.Duration

	OIDCIssuerURL    string
	OIDCClientID     string
	OIDCClientSecret string
	OIDCRedirectURL  string
}

// OIDCEnabled reports whether single sign-on is configured
func (a AuthConfig) OIDCEnabled() bool {
	return a.OIDCIssuerURL != "" && a.OIDCClientID != ""
}

// BillingConfig holds Stripe credentials
type BillingConfig struct {
	StripeSecretKey     string
	StripeWebhookSecret string
	StripeProPriceID    string
}

// Enabled reports whether a Stripe key is configured
func (b BillingConfig) Enabled() bool {
	return b.StripeSecretKey != ""
}

// PlansConfig points at an optional YAML plan catalog
type PlansConfig struct {
	CatalogPath string
	Watch       bool
}

// SchedulerConfig holds cron schedules for background jobs
type SchedulerConfig struct {
	UsageResetSchedule string
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel observability.LogLevel

	MetricsEnabled bool

	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelEnvironment    string
	OTelInsecure       bool
	OTelSampleRatio    float64
}

// LoadConfig loads configuration from INVOICER_* environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Storage:       loadStorageConfig(),
		Auth:          loadAuthConfig(),
		Billing:       loadBillingConfig(),
		Plans:         loadPlansConfig(),
		Scheduler:     loadSchedulerConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:              getEnv("INVOICER_HOST", "0.0.0.0"),
		Port:              getEnv("INVOICER_PORT", "8080"),
		ReadTimeout:       getEnvDuration("INVOICER_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      getEnvDuration("INVOICER_WRITE_TIMEOUT", 30*time.Second),
		IdleTimeout:       getEnvDuration("INVOICER_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout:   getEnvDuration("INVOICER_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:        getEnv("INVOICER_HEALTH_PORT", "9090"),
		AppURL:            strings.TrimRight(getEnv("INVOICER_APP_URL", "http://localhost:3000"), "/"),
		AllowedOrigins:    getEnvList("INVOICER_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
		MaxBodyBytes:      getEnvInt64("INVOICER_MAX_BODY_BYTES", 4<<20),
		RateLimitRequests: getEnvInt("INVOICER_RATE_LIMIT_REQUESTS", 120),
		RateLimitWindow:   getEnvDuration("INVOICER_RATE_LIMIT_WINDOW", time.Minute),
	}
}

func loadStorageConfig() storage.Config {
	cfg := storage.DefaultConfig()

	cfg.ObjectStoreType = getEnv("INVOICER_OBJECT_STORE", cfg.ObjectStoreType)
	cfg.FilesystemRoot = getEnv("INVOICER_FILESYSTEM_ROOT", cfg.FilesystemRoot)

	cfg.PostgresURL = getEnv("INVOICER_POSTGRES_URL", cfg.PostgresURL)
	cfg.PostgresReplicaURLs = getEnv("INVOICER_POSTGRES_REPLICA_URLS", cfg.PostgresReplicaURLs)
	if maxConns := getEnvInt("INVOICER_POSTGRES_MAX_CONNS", 0); maxConns > 0 {
		cfg.PostgresMaxConns = maxConns
	}
	if minConns := getEnvInt("INVOICER_POSTGRES_MIN_CONNS", 0); minConns > 0 {
		cfg.PostgresMinConns = minConns
	}
	cfg.PostgresTimeout = getEnvDuration("INVOICER_POSTGRES_TIMEOUT", cfg.PostgresTimeout)
	cfg.RunMigrations = getEnvBool("INVOICER_RUN_MIGRATIONS", cfg.RunMigrations)

	cfg.S3Endpoint = getEnv("INVOICER_S3_ENDPOINT", cfg.S3Endpoint)
	cfg.S3Region = getEnv("INVOICER_S3_REGION", cfg.S3Region)
	cfg.S3Bucket = getEnv("INVOICER_S3_BUCKET", cfg.S3Bucket)
	cfg.S3AccessKey = getEnv("INVOICER_S3_ACCESS_KEY", cfg.S3AccessKey)
	cfg.S3SecretKey = getEnv("INVOICER_S3_SECRET_KEY", cfg.S3SecretKey)
	cfg.S3UsePathStyle = getEnvBool("INVOICER_S3_USE_PATH_STYLE", cfg.S3UsePathStyle)

	cfg.RedisURL = getEnv("INVOICER_REDIS_URL", cfg.RedisURL)
	cfg.RedisPassword = getEnv("INVOICER_REDIS_PASSWORD", cfg.RedisPassword)
	if redisDB := getEnvInt("INVOICER_REDIS_DB", -1); redisDB >= 0 {
		cfg.RedisDB = redisDB
	}
	if retries := getEnvInt("INVOICER_REDIS_MAX_RETRIES", 0); retries > 0 {
		cfg.RedisMaxRetries = retries
	}
	if poolSize := getEnvInt("INVOICER_REDIS_POOL_SIZE", 0); poolSize > 0 {
		cfg.RedisPoolSize = poolSize
	}

	cfg.CacheEnabled = getEnvBool("INVOICER_CACHE_ENABLED", cfg.CacheEnabled)
	if ttl := getEnvDuration("INVOICER_USER_CACHE_TTL", 0); ttl > 0 {
		cfg.CacheTTL["user"] = ttl
	}
	if ttl := getEnvDuration("INVOICER_PDF_CACHE_TTL", 0); ttl > 0 {
		cfg.CacheTTL["pdf"] = ttl
	}
	if size := getEnvInt("INVOICER_L1_CACHE_SIZE", 0); size > 0 {
		cfg.L1CacheSize = size
	}

	return cfg
}

func loadAuthConfig() AuthConfig {
	return AuthConfig{
		JWTSecret:        getEnv("INVOICER_JWT_SECRET", ""),
		TokenTTL:         getEnvDuration("INVOICER_TOKEN_TTL", 24*time.Hour),
		OIDCIssuerURL:    getEnv("INVOICER_OIDC_ISSUER_URL", ""),
		OIDCClientID:     getEnv("INVOICER_OIDC_CLIENT_ID", ""),
		OIDCClientSecret: getEnv("INVOICER_OIDC_CLIENT_SECRET", ""),
		OIDCRedirectURL:  getEnv("INVOICER_OIDC_REDIRECT_URL", ""),
	}
}

func loadBillingConfig() BillingConfig {
	return BillingConfig{
		StripeSecretKey:     getEnv("INVOICER_STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret: getEnv("INVOICER_STRIPE_WEBHOOK_SECRET", ""),
		StripeProPriceID:    getEnv("INVOICER_STRIPE_PRO_PRICE_ID", ""),
	}
}

func loadPlansConfig() PlansConfig {
	return PlansConfig{
		CatalogPath: getEnv("INVOICER_PLANS_FILE", ""),
		Watch:       getEnvBool("INVOICER_PLANS_WATCH", true),
	}
}

func loadSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		// 00:05 on the first day of every month
		UsageResetSchedule: getEnv("INVOICER_USAGE_RESET_SCHEDULE", "5 0 1 * *"),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLogLevel(getEnv("INVOICER_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("INVOICER_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("INVOICER_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("INVOICER_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("INVOICER_OTEL_SERVICE_NAME", "invoicer"),
		OTelServiceVersion: getEnv("INVOICER_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelEnvironment:    getEnv("INVOICER_OTEL_ENVIRONMENT", ""),
		OTelInsecure:       getEnvBool("INVOICER_OTEL_INSECURE", true),
		OTelSampleRatio:    getEnvFloat("INVOICER_OTEL_SAMPLE_RATIO", 1),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}
	if c.Server.AppURL == "" {
		return fmt.Errorf("app URL is required")
	}

	if c.Storage.PostgresURL == "" {
		return fmt.Errorf("postgres URL is required")
	}
	switch c.Storage.ObjectStoreType {
	case "s3":
		if c.Storage.S3Bucket == "" {
			return fmt.Errorf("S3 bucket is required for s3 object store")
		}
	case "filesystem":
		if c.Storage.FilesystemRoot == "" {
			return fmt.Errorf("filesystem root is required for filesystem object store")
		}
	default:
		return fmt.Errorf("invalid object store type: %s (must be s3 or filesystem)", c.Storage.ObjectStoreType)
	}

	if len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("JWT secret must be at least 32 characters")
	}
	if c.Auth.OIDCIssuerURL != "" && (c.Auth.OIDCClientID == "" || c.Auth.OIDCRedirectURL == "") {
		return fmt.Errorf("OIDC client ID and redirect URL are required when an issuer is set")
	}

	if c.Billing.Enabled() && c.Billing.StripeProPriceID == "" {
		return fmt.Errorf("stripe pro price ID is required when billing is enabled")
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
		if r := c.Observability.OTelSampleRatio; r < 0 || r > 1 {
			return fmt.Errorf("OpenTelemetry sample ratio must be between 0 and 1")
		}
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvList splits a comma-separated variable, dropping blanks
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
