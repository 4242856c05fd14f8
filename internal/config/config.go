package config

import (
	"fmt"
	"time"

	pkgconfig "github.com/utafrali/saga-orchestrator/pkg/config"
)

// Config holds all configuration for the saga orchestrator.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	Version     string `env:"SERVICE_VERSION" envDefault:"0.1.0"`

	// HTTP server
	HTTPPort int `env:"SAGA_HTTP_PORT" envDefault:"8085"`

	// Collaborator base URLs
	WarehouseURL string `env:"WAREHOUSE_SERVICE_URL" envDefault:"http://localhost:8001"`
	EcommerceURL string `env:"ECOMMERCE_SERVICE_URL" envDefault:"http://localhost:8002"`

	// Per-step timeout for collaborator calls.
	StepTimeoutSeconds int `env:"SAGA_STEP_TIMEOUT_SECONDS" envDefault:"30"`

	// PostgreSQL
	UseMemoryRepo bool   `env:"USE_MEMORY_REPO" envDefault:"false"`
	PostgresHost  string `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort  int    `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresUser  string `env:"POSTGRES_USER" envDefault:"saga"`
	PostgresPass  string `env:"POSTGRES_PASSWORD" envDefault:"saga_secret"`
	PostgresDB    string `env:"SAGA_DB_NAME" envDefault:"saga_db"`
	PostgresSSL   string `env:"POSTGRES_SSL_MODE" envDefault:"disable"`

	DBMaxConns            int32 `env:"DB_MAX_CONNS" envDefault:"10"`
	DBMinConns            int32 `env:"DB_MIN_CONNS" envDefault:"2"`
	DBMaxConnLifetimeMins int   `env:"DB_MAX_CONN_LIFETIME_MINS" envDefault:"30"`
	DBMaxConnIdleTimeMins int   `env:"DB_MAX_CONN_IDLE_TIME_MINS" envDefault:"5"`

	// Redis (event deduplication). Optional.
	RedisEnabled  bool   `env:"REDIS_ENABLED" envDefault:"false"`
	RedisHost     string `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort     int    `env:"REDIS_PORT" envDefault:"6379"`
	RedisPassword string `env:"REDIS_PASSWORD" envDefault:""`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`
	// TTL for processed event IDs.
	EventDedupTTLMins int `env:"EVENT_DEDUP_TTL_MINS" envDefault:"60"`

	// Kafka (lifecycle events). Optional.
	KafkaEnabled bool     `env:"KAFKA_ENABLED" envDefault:"false"`
	KafkaBrokers []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`

	// Circuit breaker for collaborator calls.
	CBMaxRequests  uint32  `env:"CB_MAX_REQUESTS" envDefault:"1"`
	CBInterval     int     `env:"CB_INTERVAL_SECONDS" envDefault:"60"`
	CBTimeout      int     `env:"CB_TIMEOUT_SECONDS" envDefault:"30"`
	CBFailureRatio float64 `env:"CB_FAILURE_RATIO" envDefault:"0.5"`
	CBMinRequests  uint32  `env:"CB_MIN_REQUESTS" envDefault:"5"`

	// Rate limiting for POST /start-saga. 0 disables.
	RateLimitRPS   int `env:"RATE_LIMIT_RPS" envDefault:"0"`
	RateLimitBurst int `env:"RATE_LIMIT_BURST" envDefault:"0"`

	// OpenTelemetry tracing. Optional.
	OTELEnabled    bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTELEndpoint   string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4318"`
	OTELSampleRate float64 `env:"OTEL_SAMPLE_RATE" envDefault:"0.1"`
	OTELInsecure   bool    `env:"OTEL_INSECURE" envDefault:"true"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.Load(cfg); err != nil {
		return nil, fmt.Errorf("load saga config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate checks configuration invariants.
func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if c.StepTimeoutSeconds < 1 {
		return fmt.Errorf("invalid step timeout: %d", c.StepTimeoutSeconds)
	}
	if c.WarehouseURL == "" || c.EcommerceURL == "" {
		return fmt.Errorf("collaborator URLs must not be empty")
	}
	if c.OTELSampleRate < 0 || c.OTELSampleRate > 1 {
		return fmt.Errorf("invalid OTEL sample rate: %f", c.OTELSampleRate)
	}
	return nil
}

// StepTimeout returns the per-step deadline as a duration.
func (c *Config) StepTimeout() time.Duration {
	return time.Duration(c.StepTimeoutSeconds) * time.Second
}

// EventDedupTTL returns how long processed event IDs are remembered.
func (c *Config) EventDedupTTL() time.Duration {
	return time.Duration(c.EventDedupTTLMins) * time.Minute
}
