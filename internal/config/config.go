package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Store backends
const (
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
)

// Executor modes
const (
	ExecutorHTTP = "http"
	ExecutorLLM  = "llm"
)

// Config holds all configuration for genflow
type Config struct {
	// Server configuration
	HTTPPort int    `env:"GENFLOW_HTTP_PORT" envDefault:"8080"`
	GRPCPort int    `env:"GENFLOW_GRPC_PORT" envDefault:"9090"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Process state backend
	Store StoreConfig

	// Redis configuration
	Redis RedisConfig

	// Event delivery
	Events EventsConfig

	// Archive of finished processes
	Archive ArchiveConfig

	// Step executors
	Executor ExecutorConfig

	// LLM configuration
	LLM LLMConfig

	// Orchestration behaviour
	Orchestrator OrchestratorConfig

	// Worker configuration
	Workers WorkerConfig

	// Expiry of old processes
	Sweep SweepConfig

	// API authentication
	Auth AuthConfig

	// Timeouts
	Timeouts TimeoutConfig
}

// StoreConfig selects where process runs are kept
type StoreConfig struct {
	Backend     string        `env:"STORE_BACKEND" envDefault:"memory"`
	PostgresDSN string        `env:"POSTGRES_DSN"`
	RedisTTL    time.Duration `env:"STORE_REDIS_TTL" envDefault:"48h"`
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Password string `env:"REDIS_PASS"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`

	// Connection pool settings
	PoolSize     int           `env:"REDIS_POOL_SIZE" envDefault:"10"`
	MinIdleConns int           `env:"REDIS_MIN_IDLE_CONNS" envDefault:"2"`
	MaxRetries   int           `env:"REDIS_MAX_RETRIES" envDefault:"3"`
	DialTimeout  time.Duration `env:"REDIS_DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"REDIS_READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"REDIS_WRITE_TIMEOUT" envDefault:"3s"`
}

// EventsConfig holds event buffer and sink configuration
type EventsConfig struct {
	BufferSize         int           `env:"EVENTS_BUFFER_SIZE" envDefault:"100"`
	SinkQueueSize      int           `env:"EVENTS_SINK_QUEUE_SIZE" envDefault:"1000"`
	RedisStreamEnabled bool          `env:"EVENTS_REDIS_STREAM_ENABLED" envDefault:"false"`
	RedisStream        string        `env:"EVENTS_REDIS_STREAM" envDefault:"genflow:events"`
	StreamMaxLen       int64         `env:"EVENTS_STREAM_MAXLEN" envDefault:"10000"`
	AMQPURL            string        `env:"AMQP_URL"`
	AMQPExchange       string        `env:"AMQP_EXCHANGE" envDefault:"genflow.events"`
	WebhookTimeout     time.Duration `env:"WEBHOOK_TIMEOUT" envDefault:"10s"`
	StreamPollInterval time.Duration `env:"EVENTS_STREAM_POLL_INTERVAL" envDefault:"2s"`
	StreamMaxDuration  time.Duration `env:"EVENTS_STREAM_MAX_DURATION" envDefault:"1h"`
}

// ArchiveConfig holds the object store used to archive finished processes
type ArchiveConfig struct {
	Enabled   bool   `env:"ARCHIVE_ENABLED" envDefault:"false"`
	Endpoint  string `env:"ARCHIVE_ENDPOINT" envDefault:"localhost:9000"`
	AccessKey string `env:"ARCHIVE_ACCESS_KEY"`
	SecretKey string `env:"ARCHIVE_SECRET_KEY"`
	Bucket    string `env:"ARCHIVE_BUCKET" envDefault:"genflow"`
	Region    string `env:"ARCHIVE_REGION" envDefault:"us-east-1"`
	UseSSL    bool   `env:"ARCHIVE_USE_SSL" envDefault:"false"`
}

// ExecutorConfig selects how steps are executed
type ExecutorConfig struct {
	Mode        string        `env:"EXECUTOR_MODE" envDefault:"llm"`
	HTTPBaseURL string        `env:"EXECUTOR_HTTP_BASE_URL"`
	HTTPTimeout time.Duration `env:"EXECUTOR_HTTP_TIMEOUT" envDefault:"120s"`
}

// LLMConfig holds LLM provider configuration
type LLMConfig struct {
	Provider string `env:"LLM_PROVIDER" envDefault:"anthropic"`
	APIKey   string `env:"LLM_API_KEY"`
	BaseURL  string `env:"LLM_BASE_URL"`

	// Default model settings
	DefaultModel     string `env:"LLM_DEFAULT_MODEL" envDefault:"claude-sonnet-4-5"`
	DefaultMaxTokens int64  `env:"LLM_DEFAULT_MAX_TOKENS" envDefault:"4096"`
	SystemPrompt     string `env:"LLM_SYSTEM_PROMPT"`
}

// OrchestratorConfig holds step runner and driver settings
type OrchestratorConfig struct {
	RetryBaseDelay            time.Duration `env:"RETRY_BASE_DELAY" envDefault:"1s"`
	ContinueOnOptionalFailure bool          `env:"DRIVER_CONTINUE_ON_OPTIONAL_FAILURE" envDefault:"false"`
	PipelineDir               string        `env:"PIPELINE_DIR"`
}

// WorkerConfig holds worker pool configuration
type WorkerConfig struct {
	PoolSize            int           `env:"WORKER_POOL_SIZE" envDefault:"5"`
	QueueSize           int           `env:"WORKER_QUEUE_SIZE" envDefault:"100"`
	HealthCheckInterval time.Duration `env:"WORKER_HEALTH_CHECK_INTERVAL" envDefault:"30s"`
}

// SweepConfig holds the process expiry schedule
type SweepConfig struct {
	Schedule string        `env:"SWEEP_SCHEDULE" envDefault:"@every 1h"`
	MaxAge   time.Duration `env:"SWEEP_MAX_AGE" envDefault:"24h"`
}

// AuthConfig enables OIDC bearer token checks on the API when Issuer is set
type AuthConfig struct {
	OIDCIssuer   string `env:"AUTH_OIDC_ISSUER"`
	OIDCClientID string `env:"AUTH_OIDC_CLIENT_ID"`
}

// TimeoutConfig holds various timeout configurations
type TimeoutConfig struct {
	ShutdownTimeout time.Duration `env:"TIMEOUT_SHUTDOWN" envDefault:"30s"`
}

// Load reads a .env file when present, then configuration from environment
// variables. Variables already set take precedence over the file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server ports
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if c.GRPCPort < 1 || c.GRPCPort > 65535 {
		return fmt.Errorf("invalid gRPC port: %d", c.GRPCPort)
	}

	// Validate store config
	switch c.Store.Backend {
	case StoreMemory:
	case StoreRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis address is required for the redis store")
		}
	case StorePostgres:
		if c.Store.PostgresDSN == "" {
			return fmt.Errorf("POSTGRES_DSN is required for the postgres store")
		}
	default:
		return fmt.Errorf("unsupported store backend: %s (must be memory, redis, or postgres)", c.Store.Backend)
	}

	// Validate event config
	if c.Events.BufferSize < 1 {
		return fmt.Errorf("event buffer size must be at least 1")
	}
	if c.Events.RedisStreamEnabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis address is required for the event stream")
	}
	if c.Archive.Enabled && (c.Archive.Bucket == "" || c.Archive.AccessKey == "" || c.Archive.SecretKey == "") {
		return fmt.Errorf("archive bucket and credentials are required when the archive is enabled")
	}

	// Validate executor config
	switch c.Executor.Mode {
	case ExecutorHTTP:
		u, err := url.Parse(c.Executor.HTTPBaseURL)
		if err != nil || u.Host == "" {
			return fmt.Errorf("EXECUTOR_HTTP_BASE_URL must be an absolute URL in http mode")
		}
	case ExecutorLLM:
		if c.LLM.APIKey == "" {
			return fmt.Errorf("LLM API key is required")
		}
		if c.LLM.Provider != "anthropic" {
			return fmt.Errorf("unsupported LLM provider: %s (only 'anthropic' is supported)", c.LLM.Provider)
		}
	default:
		return fmt.Errorf("unsupported executor mode: %s (must be http or llm)", c.Executor.Mode)
	}

	// Validate worker config
	if c.Workers.PoolSize < 1 {
		return fmt.Errorf("worker pool size must be at least 1")
	}
	if c.Workers.QueueSize < 1 {
		return fmt.Errorf("worker queue size must be at least 1")
	}

	if c.Sweep.MaxAge <= 0 {
		return fmt.Errorf("sweep max age must be positive")
	}

	if c.Auth.OIDCIssuer != "" && c.Auth.OIDCClientID == "" {
		return fmt.Errorf("AUTH_OIDC_CLIENT_ID is required when AUTH_OIDC_ISSUER is set")
	}

	// Validate log level
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

// GetHTTPAddr returns the HTTP server address
func (c *Config) GetHTTPAddr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// GetGRPCAddr returns the gRPC server address
func (c *Config) GetGRPCAddr() string {
	return fmt.Sprintf(":%d", c.GRPCPort)
}
