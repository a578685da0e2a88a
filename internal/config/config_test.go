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

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, 9090, cfg.Server.GRPCPort)
	assert.Equal(t, 100, cfg.Sync.BatchSize)
	assert.Equal(t, 3, cfg.Sync.MaxRetries)
	assert.Equal(t, 30*time.Second, cfg.Sync.CallTimeout)
	assert.Equal(t, "source_wins", cfg.Sync.DefaultStrategy)
	assert.Equal(t, "memory", cfg.Cache.Backend)
	assert.Equal(t, 60*time.Second, cfg.Monitor.EvaluationInterval)
	assert.True(t, cfg.Monitoring.MetricsEnabled)
}

func TestValidateConfig(t *testing.T) {
	base := func() Config {
		return Config{
			Server:  ServerConfig{HTTPPort: 8080, GRPCPort: 9090},
			Sync:    SyncConfig{BatchSize: 100, MaxRetries: 3},
			Cache:   CacheConfig{Backend: "memory"},
			Monitor: MonitorConfig{EvaluationInterval: time.Minute},
		}
	}

	assert.NoError(t, validateConfig(base()))

	cfg := base()
	cfg.Server.HTTPPort = 0
	assert.Error(t, validateConfig(cfg))

	cfg = base()
	cfg.Sync.BatchSize = -1
	assert.Error(t, validateConfig(cfg))

	cfg = base()
	cfg.Cache.Backend = "memcached"
	assert.Error(t, validateConfig(cfg))

	cfg = base()
	cfg.Cache.Backend = "redis"
	assert.Error(t, validateConfig(cfg), "redis backend without an address must fail")
	cfg.Cache.RedisAddr = "localhost:6379"
	assert.NoError(t, validateConfig(cfg))

	cfg = base()
	cfg.Monitor.EvaluationInterval = 0
	assert.Error(t, validateConfig(cfg))
}

func TestGetDatabaseURLExpandsEnv(t *testing.T) {
	t.Setenv("SYNC_TEST_DB_PASSWORD", "s3cret")

	cfg := Config{Database: DatabaseConfig{URL: "postgres://app:${SYNC_TEST_DB_PASSWORD}@db:5432/sync"}}
	assert.Equal(t, "postgres://app:s3cret@db:5432/sync", cfg.GetDatabaseURL())
}
