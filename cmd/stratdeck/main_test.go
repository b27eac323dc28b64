package main

import (
	"bytes"
	"context"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coachpo/stratdeck/internal/infra/backend"
	"github.com/coachpo/stratdeck/internal/infra/config"
	httpserver "github.com/coachpo/stratdeck/internal/infra/server/http"
	"github.com/coachpo/stratdeck/internal/infra/telemetry"
)

func TestResolveConfigPath(t *testing.T) {
	require.Equal(t, "custom.yaml", resolveConfigPath("custom.yaml"))
	require.Equal(t, defaultConfigPath, resolveConfigPath(""))
}

func TestTelemetryConfigEnablesWithEndpoint(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")

	cfg := telemetryConfig(config.EnvStaging, config.TelemetryConfig{ServiceName: "deck", EnableMetrics: true})
	require.False(t, cfg.Enabled)
	require.Equal(t, "deck", cfg.ServiceName)
	require.Equal(t, "staging", cfg.Environment)

	cfg = telemetryConfig(config.EnvProd, config.TelemetryConfig{OTLPEndpoint: "collector:4318", EnableMetrics: true})
	require.True(t, cfg.Enabled)
	require.Equal(t, "collector:4318", cfg.OTLPEndpoint)
}

func TestServicesPublishChanges(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"config":{"env":"dev"}}`))
	}))
	defer srv.Close()

	defaults, err := config.NewRuntimeStore(config.DefaultDefaults())
	require.NoError(t, err)
	hub := httpserver.NewHub(8)
	defer hub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc := buildServices(ctx, config.DefaultAppConfig(), backend.NewClient(srv.URL, time.Second), nil, defaults, hub)
	defer svc.close()

	svc.checker.Recheck(ctx)
	svc.positions.SetCollapsed(true)

	frames, stop := hub.Subscribe()
	defer stop()
	require.Len(t, frames, 2)
}

func TestGracefulShutdownRunsSteps(t *testing.T) {
	var buf bytes.Buffer
	logger := log.New(&buf, "", 0)
	cancelled := false

	performGracefulShutdown(context.Background(), logger, gracefulShutdownConfig{
		server:     &http.Server{},
		mainCancel: func() { cancelled = true },
		hub:        httpserver.NewHub(1),
		telemetry:  &telemetry.Provider{},
	})

	require.True(t, cancelled)
	require.Contains(t, buf.String(), "shutdown: stopping control server completed")
	require.Contains(t, buf.String(), "shutdown: shutting down telemetry completed")
	require.NotContains(t, buf.String(), "finished with errors")
}
