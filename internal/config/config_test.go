package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWithoutFile(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "sse", cfg.Client.Transport)
	assert.Equal(t, 2*time.Second, cfg.Client.PollInterval)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.False(t, cfg.Metrics.Enabled)
}

func TestLoadExplicitFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "relay.yaml")
	content := `
log_level: debug
client:
  base_url: http://relay.internal/api
  transport: ws
  poll_interval: 10s
server:
  port: 9090
metrics:
  enabled: true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "http://relay.internal/api", cfg.Client.BaseURL)
	assert.Equal(t, "ws", cfg.Client.Transport)
	assert.Equal(t, 10*time.Second, cfg.Client.PollInterval)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.True(t, cfg.Metrics.Enabled)

	// Untouched keys keep their defaults.
	assert.Equal(t, 30*time.Second, cfg.Client.MaxBackoff)
}

func TestLoadRejectsMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadRejectsUnknownTransport(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "relay.yaml")
	require.NoError(t, os.WriteFile(path, []byte("client:\n  transport: pigeon\n"), 0o644))

	_, err := Load(path)
	assert.ErrorContains(t, err, "unknown transport")
}

func TestEnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("RELAY_CLIENT_TRANSPORT", "ws")
	t.Setenv("RELAY_LOG_LEVEL", "warn")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "ws", cfg.Client.Transport)
	assert.Equal(t, "warn", cfg.LogLevel)
}
