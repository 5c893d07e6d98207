package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, 9090, cfg.GRPCPort)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "workflow.yaml", cfg.WorkflowPath)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 24*time.Hour, cfg.Redis.StateTTL)
	assert.Equal(t, 4, cfg.Scheduler.DefaultParallelism)
	assert.Equal(t, 4, cfg.Publisher.MaxAttempts)
	assert.Equal(t, time.Hour, cfg.Timeouts.RunTimeout)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("URBANFLOW_HTTP_PORT", "18080")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("SCHEDULER_AGENT_TIMEOUT", "90s")
	t.Setenv("POSTGRES_DSN", "postgres://flow@localhost/urbanflow")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 18080, cfg.HTTPPort)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 90*time.Second, cfg.Scheduler.DefaultTimeout)
	assert.Equal(t, "postgres://flow@localhost/urbanflow", cfg.Postgres.DSN)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg, err := Load()
		require.NoError(t, err)
		return cfg
	}

	t.Run("bad http port", func(t *testing.T) {
		cfg := base()
		cfg.HTTPPort = 0
		require.Error(t, cfg.Validate())
	})

	t.Run("bad log level", func(t *testing.T) {
		cfg := base()
		cfg.LogLevel = "verbose"
		require.Error(t, cfg.Validate())
	})

	t.Run("missing redis addr", func(t *testing.T) {
		cfg := base()
		cfg.Redis.Addr = ""
		require.Error(t, cfg.Validate())
	})

	t.Run("minio endpoint without credentials", func(t *testing.T) {
		cfg := base()
		cfg.Minio.Endpoint = "localhost:9000"
		require.Error(t, cfg.Validate())
	})

	t.Run("addr helpers", func(t *testing.T) {
		cfg := base()
		assert.Equal(t, ":8080", cfg.GetHTTPAddr())
		assert.Equal(t, ":9090", cfg.GetGRPCAddr())
	})
}
