package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

var Module = fx.Module("config",
	fx.Provide(Load),
	fx.Provide(NewPlanCatalogHolder),
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int
	DBAutoMigrate     bool

	Redis         RedisConfig
	Usage         UsageConfig
	AI            AIConfig
	Observability ObservabilityConfig

	// BillingURL is the in-app page users are sent to when a quota is exhausted.
	BillingURL string

	InternalToken string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

func (c RedisConfig) Enabled() bool {
	return strings.TrimSpace(c.Addr) != ""
}

type UsageConfig struct {
	// ResetTimezone names the zone whose local midnight closes a daily window.
	ResetTimezone   string
	SweepEnabled    bool
	SweepSchedule   string
	SweepBatchSize  int
	SubscriptionTTL time.Duration
	PlanCatalogPath string
	DefaultPlanCode string
}

type AIConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float32
	MaxTokens   int
	Language    string
}

// ObservabilityConfig is the raw telemetry surface; internal/observability normalizes it.
type ObservabilityConfig struct {
	LogLevel  string
	LogFormat string

	OTLPEndpoint  string
	OTLPProtocol  string
	SamplingRatio float64

	TracesEnabled  bool
	MetricsEnabled bool
	// PrometheusEnabled serves /metrics for scraping independently of OTLP export.
	PrometheusEnabled bool
	// QuotaSpanAttributes tags request spans with the metered resource and decision.
	QuotaSpanAttributes bool
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()
	otelEnabled := getenvBool("OTEL_ENABLED", false)

	cfg := Config{
		AppName:           getenv("APP_SERVICE", "concierge"),
		AppVersion:        getenv("APP_VERSION", "0.1.0"),
		Environment:       getenv("ENVIRONMENT", "development"),
		HTTPAddr:          getenv("HTTP_ADDR", ":8080"),
		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "concierge"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 10),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 50),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),
		DBAutoMigrate:     getenvBool("DATABASE_AUTO_MIGRATE", true),
		Redis: RedisConfig{
			Addr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
			Password: getenv("REDIS_PASSWORD", ""),
			DB:       getenvInt("REDIS_DB", 0),
		},
		Usage: UsageConfig{
			ResetTimezone:   getenv("USAGE_RESET_TIMEZONE", "Local"),
			SweepEnabled:    getenvBool("USAGE_RESET_SWEEP_ENABLED", false),
			SweepSchedule:   getenv("USAGE_RESET_SWEEP_SCHEDULE", "5 0 * * *"),
			SweepBatchSize:  getenvInt("USAGE_RESET_SWEEP_BATCH", 500),
			SubscriptionTTL: time.Duration(getenvInt("SUBSCRIPTION_CACHE_TTL_SECONDS", 45)) * time.Second,
			PlanCatalogPath: strings.TrimSpace(getenv("PLAN_CATALOG_PATH", "")),
			DefaultPlanCode: strings.ToLower(getenv("DEFAULT_PLAN", "free")),
		},
		AI: AIConfig{
			APIKey:      strings.TrimSpace(getenv("OPENAI_API_KEY", "")),
			BaseURL:     strings.TrimSpace(getenv("OPENAI_BASE_URL", "")),
			Model:       getenv("OPENAI_MODEL", "gpt-4o"),
			Temperature: float32(getenvFloat("OPENAI_TEMPERATURE", 0.7)),
			MaxTokens:   getenvInt("OPENAI_MAX_TOKENS", 200),
			Language:    getenv("AI_REPLY_LANGUAGE", "Japanese"),
		},
		Observability: ObservabilityConfig{
			LogLevel:            getenv("LOG_LEVEL", "info"),
			LogFormat:           getenv("LOG_FORMAT", "json"),
			OTLPEndpoint:        getenv("OTEL_EXPORTER_OTLP_ENDPOINT", getenv("OTLP_ENDPOINT", "localhost:4317")),
			OTLPProtocol:        getenv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc"),
			SamplingRatio:       getenvFloat("OTEL_SAMPLING_RATIO", 0.1),
			TracesEnabled:       getenvBool("OTEL_TRACES_ENABLED", otelEnabled),
			MetricsEnabled:      getenvBool("OTEL_METRICS_ENABLED", otelEnabled),
			PrometheusEnabled:   getenvBool("PROMETHEUS_ENABLED", true),
			QuotaSpanAttributes: getenvBool("OTEL_QUOTA_SPAN_ATTRIBUTES", true),
		},
		BillingURL:    getenv("BILLING_URL", "/settings/billing"),
		InternalToken: strings.TrimSpace(getenv("INTERNAL_API_TOKEN", "")),
	}

	return cfg
}

// ResetLocation resolves the configured reset timezone, falling back to the process zone.
func (c Config) ResetLocation() *time.Location {
	name := strings.TrimSpace(c.Usage.ResetTimezone)
	if name == "" || strings.EqualFold(name, "local") {
		return time.Local
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		log.Printf("[config] unknown USAGE_RESET_TIMEZONE %q, using local: %v", name, err)
		return time.Local
	}
	return loc
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}
