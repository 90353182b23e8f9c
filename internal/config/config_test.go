package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, 15*time.Second, cfg.Picking.CommitTimeout)
	assert.Equal(t, time.Second, cfg.Drafts.Delay)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
http_addr: ":9090"
store:
  driver: mysql
  mysql_dsn: "u:p@tcp(db:3306)/stock"
local:
  backend: badger
  dir: /var/lib/stock
picking:
  commit_timeout: 5s
`), 0o600))

	cfg := DefaultConfig()
	require.NoError(t, cfg.LoadFromFile(path))
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, "mysql", cfg.Store.Driver)
	assert.Equal(t, "badger", cfg.Local.Backend)
	assert.Equal(t, 5*time.Second, cfg.Picking.CommitTimeout)
	assert.Equal(t, 30*time.Second, cfg.Picking.GuardTTL, "unset keys keep defaults")
}

func TestLoadFromFile_RejectsUnknownExtension(t *testing.T) {
	err := DefaultConfig().LoadFromFile("config.toml")
	assert.ErrorIs(t, err, ErrInvalidConfiguration)
}

func TestLoadFromEnv(t *testing.T) {
	wd, _ := os.Getwd()
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	t.Setenv("STOCK_REDIS_ADDR", "redis:6379")
	t.Setenv("STOCK_PICK_COMMIT_TIMEOUT", "2s")
	t.Setenv("STOCK_DRAFTS_ENABLED", "off")
	t.Setenv("STOCK_KAFKA_WORKERS", "8")

	cfg := DefaultConfig()
	require.NoError(t, cfg.LoadFromEnv())
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, 2*time.Second, cfg.Picking.CommitTimeout)
	assert.False(t, cfg.Drafts.Enabled)
	assert.Equal(t, 8, cfg.Kafka.Workers)
}

func TestLoadFromEnv_DotEnv(t *testing.T) {
	dir := t.TempDir()
	wd, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("STOCK_LOG_LEVEL=debug\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("STOCK_LOG_LEVEL") })

	cfg := DefaultConfig()
	require.NoError(t, cfg.LoadFromEnv())
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadFromEnv_BadDuration(t *testing.T) {
	wd, _ := os.Getwd()
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	t.Setenv("STOCK_PICK_GUARD_TTL", "soon")
	err := DefaultConfig().LoadFromEnv()
	assert.ErrorIs(t, err, ErrInvalidConfiguration)
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Store.Driver = "postgres"
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfiguration)

	cfg = DefaultConfig()
	cfg.Local.Dir = ""
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfiguration)

	cfg = DefaultConfig()
	cfg.Kafka.Brokers = "kafka:9092"
	cfg.Kafka.Topic = ""
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfiguration)
}
