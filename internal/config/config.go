package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds all runtime configuration for the urbanflow orchestrator.
type Config struct {
	// Server configuration
	HTTPPort int    `env:"URBANFLOW_HTTP_PORT" envDefault:"8080"`
	GRPCPort int    `env:"URBANFLOW_GRPC_PORT" envDefault:"9090"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// WorkflowPath points at the declarative workflow definition.
	WorkflowPath string `env:"URBANFLOW_WORKFLOW" envDefault:"workflow.yaml"`

	Redis     RedisConfig
	Postgres  PostgresConfig
	NATS      NATSConfig
	Minio     MinioConfig
	Scheduler SchedulerConfig
	Publisher PublisherConfig
	Timeouts  TimeoutConfig
}

// RedisConfig holds Redis connection configuration. Redis backs the cache
// store adapter, the event bus, and run-state storage.
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Password string `env:"REDIS_PASS"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`

	PoolSize     int           `env:"REDIS_POOL_SIZE" envDefault:"10"`
	MinIdleConns int           `env:"REDIS_MIN_IDLE_CONNS" envDefault:"2"`
	MaxRetries   int           `env:"REDIS_MAX_RETRIES" envDefault:"3"`
	DialTimeout  time.Duration `env:"REDIS_DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"REDIS_READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"REDIS_WRITE_TIMEOUT" envDefault:"3s"`

	// StateTTL bounds how long finished run state is retained.
	StateTTL time.Duration `env:"REDIS_STATE_TTL" envDefault:"24h"`

	// CacheTTL bounds how long published entities stay in the cache store.
	CacheTTL time.Duration `env:"REDIS_CACHE_TTL" envDefault:"1h"`
}

// PostgresConfig holds the relational store connection. Empty DSN disables
// the adapter.
type PostgresConfig struct {
	DSN      string `env:"POSTGRES_DSN"`
	MaxConns int32  `env:"POSTGRES_MAX_CONNS" envDefault:"8"`
}

// NATSConfig holds the triple-stream connection. Empty URL disables the
// adapter.
type NATSConfig struct {
	URL     string `env:"NATS_URL"`
	Subject string `env:"NATS_GRAPH_SUBJECT" envDefault:"graph.ingest.entity"`
}

// MinioConfig holds the durable dead-letter object store. Empty endpoint
// falls back to the in-memory dead-letter store.
type MinioConfig struct {
	Endpoint  string `env:"MINIO_ENDPOINT"`
	AccessKey string `env:"MINIO_ACCESS_KEY"`
	SecretKey string `env:"MINIO_SECRET_KEY"`
	Bucket    string `env:"MINIO_DEADLETTER_BUCKET" envDefault:"urbanflow-deadletter"`
	UseSSL    bool   `env:"MINIO_USE_SSL" envDefault:"false"`
}

// SchedulerConfig tunes agent execution.
type SchedulerConfig struct {
	DefaultParallelism int           `env:"SCHEDULER_DEFAULT_PARALLELISM" envDefault:"4"`
	DefaultTimeout     time.Duration `env:"SCHEDULER_AGENT_TIMEOUT" envDefault:"60s"`
	CancelGrace        time.Duration `env:"SCHEDULER_CANCEL_GRACE" envDefault:"5s"`
}

// PublisherConfig tunes the multi-store fan-out.
type PublisherConfig struct {
	WriteTimeout time.Duration `env:"PUBLISHER_WRITE_TIMEOUT" envDefault:"10s"`
	MaxAttempts  int           `env:"PUBLISHER_MAX_ATTEMPTS" envDefault:"4"`
	RetryBase    time.Duration `env:"PUBLISHER_RETRY_BASE" envDefault:"250ms"`
	RetryMax     time.Duration `env:"PUBLISHER_RETRY_MAX" envDefault:"10s"`
}

// TimeoutConfig holds run-level timeouts.
type TimeoutConfig struct {
	RunTimeout      time.Duration `env:"TIMEOUT_RUN" envDefault:"3600s"`
	ShutdownTimeout time.Duration `env:"TIMEOUT_SHUTDOWN" envDefault:"30s"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if c.GRPCPort < 1 || c.GRPCPort > 65535 {
		return fmt.Errorf("invalid gRPC port: %d", c.GRPCPort)
	}
	if c.Redis.Addr == "" {
		return fmt.Errorf("redis address is required")
	}
	if c.Minio.Endpoint != "" {
		if c.Minio.AccessKey == "" || c.Minio.SecretKey == "" {
			return fmt.Errorf("minio credentials are required when endpoint is set")
		}
	}
	if c.Scheduler.DefaultParallelism < 1 {
		return fmt.Errorf("scheduler parallelism must be at least 1")
	}
	if c.Publisher.MaxAttempts < 1 {
		return fmt.Errorf("publisher max attempts must be at least 1")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}
	return nil
}

// GetHTTPAddr returns the HTTP server address.
func (c *Config) GetHTTPAddr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// GetGRPCAddr returns the gRPC server address.
func (c *Config) GetGRPCAddr() string {
	return fmt.Sprintf(":%d", c.GRPCPort)
}
