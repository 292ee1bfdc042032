package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	path := writeTempConfig(t, `
debug: true
session:
  refresh_interval: 33ms
  depth: 20
transport:
  reconnect:
    policy: exponential
    max_attempts: 5
    delay: 500ms
providers:
  available: [binance, okx]
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.True(t, cfg.Debug)
	assert.True(t, DebugMode)
	assert.Equal(t, 33*time.Millisecond, cfg.Session.RefreshInterval)
	assert.Equal(t, 20, cfg.Session.Depth)
	assert.Equal(t, 2000, cfg.Session.PruneTarget, "defaults survive partial files")
	assert.Equal(t, "exponential", cfg.Transport.Reconnect.Policy)
	assert.Equal(t, 5, cfg.Transport.Reconnect.MaxAttempts)
	assert.Equal(t, []string{"binance", "okx"}, cfg.Providers.Available)
	DebugMode = false
}

func TestLoad_Defaults(t *testing.T) {
	cfg := Default()
	require.NoError(t, validate(cfg))

	assert.Equal(t, 16*time.Millisecond, cfg.Session.RefreshInterval)
	assert.Equal(t, 10, cfg.Transport.Reconnect.MaxAttempts)
	assert.Equal(t, 3*time.Second, cfg.Transport.Reconnect.Delay)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yml"))
	assert.Error(t, err)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("OB_GRPC_ADDR", ":6000")
	t.Setenv("OB_PROVIDERS", "Binance, upbit,")
	t.Setenv("OB_CONSOLE_PROVIDER", "upbit")
	t.Setenv("OB_CONSOLE_SYMBOL", "btc_krw")

	cfg, err := Load(writeTempConfig(t, "{}"))
	require.NoError(t, err)

	assert.Equal(t, ":6000", cfg.Server.GRPCAddr)
	assert.Equal(t, []string{"binance", "upbit"}, cfg.Providers.Available)
	assert.True(t, cfg.Console.Enabled)
	assert.Equal(t, "upbit", cfg.Console.Provider)
	assert.Equal(t, "btc_krw", cfg.Console.Symbol)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"BadPolicy", func(c *Config) { c.Transport.Reconnect.Policy = "forever" }},
		{"ZeroRefresh", func(c *Config) { c.Session.RefreshInterval = 0 }},
		{"NoProviders", func(c *Config) { c.Providers.Available = nil }},
		{"NegativeAttempts", func(c *Config) { c.Transport.Reconnect.MaxAttempts = -1 }},
		{"ConsoleWithoutSymbol", func(c *Config) { c.Console.Enabled = true; c.Console.Symbol = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, validate(cfg))
		})
	}
}
