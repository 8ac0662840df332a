package config

import (
	"os"
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("LLM_API_KEY", "test-key")
	t.Chdir(t.TempDir())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.GetHTTPAddr() != ":8080" || cfg.GetGRPCAddr() != ":9090" {
		t.Errorf("addrs = %s %s", cfg.GetHTTPAddr(), cfg.GetGRPCAddr())
	}
	if cfg.Store.Backend != StoreMemory || cfg.Executor.Mode != ExecutorLLM {
		t.Errorf("store/executor = %s/%s", cfg.Store.Backend, cfg.Executor.Mode)
	}
	if cfg.Events.BufferSize != 100 || cfg.Events.WebhookTimeout != 10*time.Second {
		t.Errorf("events = %+v", cfg.Events)
	}
	if cfg.Orchestrator.RetryBaseDelay != time.Second || cfg.Orchestrator.ContinueOnOptionalFailure {
		t.Errorf("orchestrator = %+v", cfg.Orchestrator)
	}
	if cfg.Sweep.Schedule != "@every 1h" || cfg.Sweep.MaxAge != 24*time.Hour {
		t.Errorf("sweep = %+v", cfg.Sweep)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("GENFLOW_HTTP_PORT", "8181")
	t.Setenv("STORE_BACKEND", "postgres")
	t.Setenv("POSTGRES_DSN", "postgres://localhost/genflow")
	t.Setenv("EXECUTOR_MODE", "http")
	t.Setenv("EXECUTOR_HTTP_BASE_URL", "http://steps:8000")
	t.Setenv("RETRY_BASE_DELAY", "250ms")
	t.Setenv("DRIVER_CONTINUE_ON_OPTIONAL_FAILURE", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.HTTPPort != 8181 || cfg.Store.Backend != StorePostgres {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.Orchestrator.RetryBaseDelay != 250*time.Millisecond || !cfg.Orchestrator.ContinueOnOptionalFailure {
		t.Errorf("orchestrator = %+v", cfg.Orchestrator)
	}
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	writeFile(t, ".env", "LLM_API_KEY=from-file\nWORKER_POOL_SIZE=9\n")
	t.Cleanup(func() {
		os.Unsetenv("LLM_API_KEY")
		os.Unsetenv("WORKER_POOL_SIZE")
	})

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.LLM.APIKey != "from-file" || cfg.Workers.PoolSize != 9 {
		t.Errorf("cfg = %+v / %+v", cfg.LLM, cfg.Workers)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			HTTPPort: 8080,
			GRPCPort: 9090,
			LogLevel: "info",
			Store:    StoreConfig{Backend: StoreMemory},
			Redis:    RedisConfig{Addr: "localhost:6379"},
			Events:   EventsConfig{BufferSize: 100},
			Executor: ExecutorConfig{Mode: ExecutorLLM},
			LLM:      LLMConfig{Provider: "anthropic", APIKey: "k"},
			Workers:  WorkerConfig{PoolSize: 1, QueueSize: 1},
			Sweep:    SweepConfig{MaxAge: time.Hour},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"bad port", func(c *Config) { c.HTTPPort = 0 }, "HTTP port"},
		{"bad store", func(c *Config) { c.Store.Backend = "etcd" }, "store backend"},
		{"postgres without dsn", func(c *Config) { c.Store.Backend = StorePostgres }, "POSTGRES_DSN"},
		{"no buffer", func(c *Config) { c.Events.BufferSize = 0 }, "buffer size"},
		{"archive without credentials", func(c *Config) { c.Archive.Enabled = true }, "archive"},
		{"http without url", func(c *Config) { c.Executor.Mode = ExecutorHTTP }, "EXECUTOR_HTTP_BASE_URL"},
		{"llm without key", func(c *Config) { c.LLM.APIKey = "" }, "API key"},
		{"unknown provider", func(c *Config) { c.LLM.Provider = "openai" }, "provider"},
		{"bad mode", func(c *Config) { c.Executor.Mode = "grpc" }, "executor mode"},
		{"no workers", func(c *Config) { c.Workers.PoolSize = 0 }, "pool size"},
		{"no sweep age", func(c *Config) { c.Sweep.MaxAge = 0 }, "max age"},
		{"issuer without client", func(c *Config) { c.Auth.OIDCIssuer = "https://idp" }, "CLIENT_ID"},
		{"bad log level", func(c *Config) { c.LogLevel = "trace" }, "log level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func writeFile(t *testing.T, name, content string) {
	t.Helper()
	if err := os.WriteFile(name, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
}
