package bootstrap

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
app:
  name: inventory-service
  port: 9090
  reservationTTL: 10m
  runReaper: true
storage:
  driver: sqlite
  dsn: "file:stock.db"
infra:
  kafka:
    brokers: ["k1:9092", "k2:9092"]
webhook:
  secret: from-file
`

func TestLoadConfigFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0o600))

	t.Setenv("WEBHOOK_SECRET", "from-env")
	t.Setenv("REDIS_ADDRS", "r1:6379, r2:6379")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.App.Port)
	assert.Equal(t, 10*time.Minute, cfg.App.ReservationTTL)
	assert.True(t, cfg.App.RunReaper)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Infra.Kafka.Brokers)
	assert.Equal(t, "from-env", cfg.Webhook.Secret)
	assert.Equal(t, []string{"r1:6379", "r2:6379"}, cfg.Infra.Redis.Addrs)
	// 未配置的字段保留默认值
	assert.Equal(t, "payment-events", cfg.Infra.Kafka.PaymentTopic)
	assert.Equal(t, time.Minute, cfg.App.ReaperInterval)
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 15*time.Minute, cfg.App.ReservationTTL)
	assert.NotEmpty(t, cfg.Webhook.Rules.Succeeded)
}

func TestLoadConfigRejectsBadTTL(t *testing.T) {
	t.Setenv("RESERVATION_TTL", "soon")
	_, err := LoadConfig("")
	assert.Error(t, err)
}

func TestMergeYAMLLeavesBaseUntouched(t *testing.T) {
	base := DefaultConfig()
	next, err := MergeYAML(base, []byte("app:\n  logLevel: debug\n"))
	require.NoError(t, err)

	assert.Equal(t, "debug", next.App.LogLevel)
	assert.Equal(t, "info", base.App.LogLevel)
	assert.Equal(t, base.App.ReservationTTL, next.App.ReservationTTL)
}

func TestCurrentConfigSwap(t *testing.T) {
	cfg := DefaultConfig()
	cfg.App.Port = 1234
	SetCurrentConfig(cfg)
	assert.Equal(t, 1234, GetCurrentConfig().App.Port)
}
