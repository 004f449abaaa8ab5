package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
storage:
  driver: bolt
  bolt:
    path: /tmp/boost.db
gateway:
  url: http://processor.local/caas/direct/debit
  application-id: APP_000101
  password: secret
  timeout-ms: 3000
  pending-codes:
    - P1003
server:
  port: "9090"
`

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(sampleConfig), 0o600))

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)

	assert.Equal(t, "bolt", cfg.Storage.Driver)
	assert.Equal(t, "/tmp/boost.db", cfg.Storage.Bolt.Path)
	assert.Equal(t, "APP_000101", cfg.Gateway.ApplicationID)
	assert.Equal(t, 3000, cfg.Gateway.TimeoutMs)
	assert.Equal(t, []string{"P1003"}, cfg.Gateway.PendingCodes)
	assert.Equal(t, "9090", cfg.Server.Port)

	// defaults
	assert.Equal(t, "S1000", cfg.Gateway.SuccessCode)
	assert.Equal(t, "S1000", cfg.Webhook.AckCode)
	assert.Equal(t, 800, cfg.Storage.TimeoutMs)
	assert.Equal(t, "boost-notifications", cfg.Kafka.Topic.BoostNotifications)
	assert.Equal(t, 24*60*60*1000, cfg.Sweeper.RepairWindowMs)
}

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Storage.Driver)
	assert.Equal(t, 5000, cfg.Gateway.TimeoutMs)
	assert.Equal(t, "8080", cfg.Server.Port)
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	t.Setenv("BOOST_GATEWAY_TIMEOUT_MS", "1500")
	t.Setenv("BOOST_STORAGE_DRIVER", "mongo")

	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 1500, cfg.Gateway.TimeoutMs)
	assert.Equal(t, "mongo", cfg.Storage.Driver)
}
