package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/moneymentor/mentor/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "memory", cfg.Store.Backend)
	assert.Equal(t, 5*time.Minute, cfg.Export.Interval.Std())
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mentor.yaml")
	raw := `
server:
  addr: ":9090"
store:
  backend: redis
  redis:
    addr: "redis:6379"
    db: 2
    ttl: "24h"
cache:
  idle_ttl: "30m"
  sweep_interval: "5m"
flush:
  workers: 8
  queue_size: 512
  max_attempts: 3
  base_backoff: "250ms"
export:
  path: "/tmp/engagement.csv"
  interval: "1m"
`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0644))

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "redis", cfg.Store.Backend)
	assert.Equal(t, "redis:6379", cfg.Store.Redis.Addr)
	assert.Equal(t, 2, cfg.Store.Redis.DB)
	assert.Equal(t, 24*time.Hour, cfg.Store.Redis.TTL.Std())
	assert.Equal(t, 30*time.Minute, cfg.Cache.IdleTTL.Std())
	assert.Equal(t, 8, cfg.Flush.Workers)
	assert.Equal(t, 250*time.Millisecond, cfg.Flush.BaseBackoff.Std())
	assert.Equal(t, time.Minute, cfg.Export.Interval.Std())
}

func TestLoad_BadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mentor.yaml")
	require.NoError(t, os.WriteFile(path, []byte("cache:\n  idle_ttl: \"soon\"\n"), 0644))

	_, err := config.Load(path)
	assert.Error(t, err)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("MENTOR_ADDR", ":7070")
	t.Setenv("MENTOR_STORE_BACKEND", "file")
	t.Setenv("MENTOR_STORE_PATH", "/var/lib/mentor")
	t.Setenv("MENTOR_REDIS_DB", "3")

	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, ":7070", cfg.Server.Addr)
	assert.Equal(t, "file", cfg.Store.Backend)
	assert.Equal(t, "/var/lib/mentor", cfg.Store.Path)
	assert.Equal(t, 3, cfg.Store.Redis.DB)
}
