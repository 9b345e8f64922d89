package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, []string{"kafka:9092"}, cfg.Brokers)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, "otus-responses", cfg.Topics.Responses)
	assert.Equal(t, 500, cfg.Buffers.HistoryCapacity)
	assert.Equal(t, 200, cfg.Buffers.SnapshotLimit)
	assert.Equal(t, 30*time.Second, cfg.Timeouts.ResponseWait)
	assert.Equal(t, 15*time.Second, cfg.Timeouts.StreamHeartbeat)
}

func TestLoadEmptyPathYieldsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	content := `{
		"brokers": ["b1:9092", "b2:9092"],
		"http": {"addr": ":9999"},
		"timeouts": {"response_wait": 5000000000}
	}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"b1:9092", "b2:9092"}, cfg.Brokers)
	assert.Equal(t, ":9999", cfg.HTTP.Addr)
	assert.Equal(t, 5*time.Second, cfg.Timeouts.ResponseWait)
	// Untouched sections keep their defaults.
	assert.Equal(t, "otus-responses", cfg.Topics.Responses)
}

func TestLoadMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte("{broken"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv(EnvBrokers, " b1:9092, b2:9092 ,")
	t.Setenv(EnvHTTPAddr, ":7070")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, []string{"b1:9092", "b2:9092"}, cfg.Brokers)
	assert.Equal(t, ":7070", cfg.HTTP.Addr)
}

func TestEnvOverridesBeatFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"brokers": ["from-file:9092"]}`), 0o600))
	t.Setenv(EnvBrokers, "from-env:9092")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"from-env:9092"}, cfg.Brokers)
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no brokers", func(c *Config) { c.Brokers = nil }},
		{"no http addr", func(c *Config) { c.HTTP.Addr = "" }},
		{"no response topic", func(c *Config) { c.Topics.Responses = "" }},
		{"no data topics", func(c *Config) { c.Topics.Data = nil }},
		{"data without command topic", func(c *Config) { delete(c.Topics.Commands, "uas") }},
		{"zero history capacity", func(c *Config) { c.Buffers.HistoryCapacity = 0 }},
		{"zero snapshot limit", func(c *Config) { c.Buffers.SnapshotLimit = 0 }},
		{"zero response wait", func(c *Config) { c.Timeouts.ResponseWait = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestChannelsSorted(t *testing.T) {
	cfg := Default()
	cfg.Topics.Data["proxy"] = "otus-proxy-logs"
	cfg.Topics.Commands["proxy"] = "otus-proxy-commands"

	assert.Equal(t, []string{"proxy", "uac", "uas"}, cfg.Channels())
}

func TestHasChannel(t *testing.T) {
	cfg := Default()
	assert.True(t, cfg.HasChannel("uas"))
	assert.False(t, cfg.HasChannel("proxy"))
}

func TestIsTarget(t *testing.T) {
	cfg := Default()
	assert.True(t, cfg.IsTarget("uas"))
	assert.True(t, cfg.IsTarget("uac"))
	assert.True(t, cfg.IsTarget("*"))
	assert.False(t, cfg.IsTarget("proxy"))
	assert.False(t, cfg.IsTarget(""))
}
