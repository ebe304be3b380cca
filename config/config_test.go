package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.True(t, cfg.All)
	assert.Equal(t, ProviderSynthetic, cfg.Provider.Kind)
	assert.Equal(t, 9090, cfg.Metrics.Port)
}

func TestLoadJSON(t *testing.T) {
	path := writeConfig(t, "config.json", `{
		"sources": ["eeg", "gsr"],
		"all": false,
		"reference": "eeg",
		"provider": {"kind": "udp", "addr": ":9999"},
		"receiver": {"buffer_capacity": 500},
		"quality": {"alert_threshold": 0.6},
		"log_level": "debug"
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"eeg", "gsr"}, cfg.Sources)
	assert.False(t, cfg.All)
	assert.Equal(t, "eeg", cfg.Reference)
	assert.Equal(t, ProviderUDP, cfg.Provider.Kind)
	assert.Equal(t, 500, cfg.Receiver.BufferCapacity)
	assert.InDelta(t, 0.6, cfg.Quality.AlertThreshold, 1e-9)
	// Absent fields keep their defaults
	assert.Equal(t, 5*time.Second, cfg.DiscoverTimeout)
}

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
sources: [eeg]
all: false
provider:
  kind: nats
  addr: nats://localhost:4222
  subject: sensors
recorder:
  enabled: true
  output_dir: /tmp/sessions
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ProviderNATS, cfg.Provider.Kind)
	assert.Equal(t, "sensors", cfg.Provider.Subject)
	assert.True(t, cfg.Recorder.Enabled)
	assert.Equal(t, "/tmp/sessions", cfg.Recorder.OutputDir)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.json")
	require.Error(t, err)
}

func TestLoadMalformedJSON(t *testing.T) {
	path := writeConfig(t, "bad.json", `{"sources": [`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestValidateRejectsUnknownProvider(t *testing.T) {
	cfg := Default()
	cfg.Provider.Kind = "carrier-pigeon"
	require.Error(t, cfg.Validate())
}

func TestValidateRequiresAddrForTransports(t *testing.T) {
	for _, kind := range []string{ProviderUDP, ProviderNATS, ProviderWebSocket} {
		cfg := Default()
		cfg.Provider.Kind = kind
		assert.Error(t, cfg.Validate(), kind)

		cfg.Provider.Addr = "somewhere:1234"
		assert.NoError(t, cfg.Validate(), kind)
	}
}

func TestValidateRejectsBadLogLevel(t *testing.T) {
	cfg := Default()
	cfg.LogLevel = "loud"
	require.Error(t, cfg.Validate())
}

func TestManagerConfigCarriesSettings(t *testing.T) {
	cfg := Default()
	cfg.StopTimeout = 7 * time.Second
	cfg.Quality.AlertThreshold = 0.4

	mc := cfg.ManagerConfig()
	assert.Equal(t, 7*time.Second, mc.StopTimeout)
	assert.InDelta(t, 0.4, mc.Quality.AlertThreshold, 1e-9)
}

func TestSelection(t *testing.T) {
	cfg := Config{Sources: []string{"a"}, All: false}
	sel := cfg.Selection()
	assert.Equal(t, []string{"a"}, sel.Names)
	assert.False(t, sel.All)
}
