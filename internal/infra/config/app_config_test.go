package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "app.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(context.Background(), filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatalf("expected error when config file missing")
	}
}

func TestLoadOrDefaultFallsBack(t *testing.T) {
	cfg, loaded, err := LoadOrDefault(context.Background(), filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	require.False(t, loaded)
	require.Equal(t, "http://localhost:3000", cfg.Backend.BaseURL)
	require.Equal(t, 2*time.Second, cfg.Polling.Orchestration)
}

func TestLoadFromYAML(t *testing.T) {
	path := writeConfig(t, `
environment: STAGING
backend:
  baseURL: "http://engine:3000/ "
  timeout: 5s
  requestsPerSecond: 4
polling:
  strategies: 10s
apiServer:
  addr: " :9000 "
defaults:
  symbol: eth-usdt
`)

	cfg, err := Load(context.Background(), path)
	require.NoError(t, err)
	require.Equal(t, EnvStaging, cfg.Environment)
	require.Equal(t, "http://engine:3000", cfg.Backend.BaseURL)
	require.Equal(t, 5*time.Second, cfg.Backend.Timeout)
	require.Equal(t, 10*time.Second, cfg.Polling.Strategies)
	require.Equal(t, 5*time.Second, cfg.Polling.Positions)
	require.Equal(t, ":9000", cfg.APIServer.Addr)
	require.Equal(t, "ETH-USDT", cfg.Defaults.Symbol)
	require.Equal(t, "0.01", cfg.Defaults.QuickSize)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv(envBackendURL, "http://override:4000")
	t.Setenv(envEnvironment, "prod")
	path := writeConfig(t, "backend:\n  baseURL: http://engine:3000\n")

	cfg, err := Load(context.Background(), path)
	require.NoError(t, err)
	require.Equal(t, "http://override:4000", cfg.Backend.BaseURL)
	require.Equal(t, EnvProd, cfg.Environment)
}

func TestLoadDotEnvDoesNotOverrideExisting(t *testing.T) {
	t.Setenv(envAPIAddr, ":7000")
	envPath := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envPath, []byte("STRATDECK_API_ADDR=:7100\n"), 0o600))

	LoadDotEnv(envPath, filepath.Join(t.TempDir(), "absent.env"))

	require.Equal(t, ":7000", os.Getenv(envAPIAddr))
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]func(*AppConfig){
		"environment": func(c *AppConfig) { c.Environment = "qa" },
		"absolute":    func(c *AppConfig) { c.Backend.BaseURL = "engine:3000" },
		"timeout":     func(c *AppConfig) { c.Backend.Timeout = 0 },
		"orchestration": func(c *AppConfig) {
			c.Polling.Orchestration = 0
		},
		"quickSize": func(c *AppConfig) { c.Defaults.QuickSize = "-1" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultAppConfig()
			mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			require.True(t, strings.Contains(err.Error(), name), "error %q should mention %s", err, name)
		})
	}
}

func TestRuntimeStoreReplace(t *testing.T) {
	store, err := NewRuntimeStore(Defaults{})
	require.NoError(t, err)
	require.Equal(t, DefaultDefaults(), store.Snapshot())

	updated, err := store.Replace(Defaults{Symbol: "sol-usdt", QuickSize: "2"})
	require.NoError(t, err)
	require.Equal(t, "SOL-USDT", updated.Symbol)
	require.Equal(t, "15m", updated.Timeframe)
	require.Equal(t, updated, store.Snapshot())

	_, err = store.Replace(Defaults{LiveSize: "abc"})
	require.Error(t, err)
	require.Equal(t, updated, store.Snapshot())
}
