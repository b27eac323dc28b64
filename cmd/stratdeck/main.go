// Command stratdeck launches the strategy operations console.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/coachpo/stratdeck/internal/app/diagnostics"
	"github.com/coachpo/stratdeck/internal/app/dispatcher"
	"github.com/coachpo/stratdeck/internal/app/library"
	"github.com/coachpo/stratdeck/internal/app/monitor"
	"github.com/coachpo/stratdeck/internal/app/orchestration"
	"github.com/coachpo/stratdeck/internal/infra/backend"
	"github.com/coachpo/stratdeck/internal/infra/config"
	httpserver "github.com/coachpo/stratdeck/internal/infra/server/http"
	"github.com/coachpo/stratdeck/internal/infra/telemetry"
	"github.com/coachpo/stratdeck/internal/observability"
)

const (
	defaultConfigPath            = "config/app.yaml"
	loggerPrefix                 = "stratdeck "
	streamBuffer                 = 64
	shutdownTimeout              = 30 * time.Second
	controlServerShutdownTimeout = 5 * time.Second
	lifecycleShutdownTimeout     = 10 * time.Second
	telemetryShutdownTimeout     = 5 * time.Second
	controlReadHeaderTimeout     = 5 * time.Second
)

func main() {
	cfgPathFlag, debug := parseFlags()
	ctx, cancel := newSignalContext()
	defer cancel()

	logger := newLogger()
	observability.SetLogger(observability.NewStdLogger(logger, debug))

	config.LoadDotEnv(".env")
	appCfg, loadedFromFile, err := config.LoadOrDefault(ctx, resolveConfigPath(cfgPathFlag))
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	if !loadedFromFile {
		logger.Printf("configuration file not found, using defaults")
	}
	logger.Printf("configuration initialised: env=%s, backend=%s", appCfg.Environment, appCfg.Backend.BaseURL)

	defaults, err := config.NewRuntimeStore(appCfg.Defaults)
	if err != nil {
		logger.Fatalf("initialise defaults: %v", err)
	}

	telemetryProvider, err := initTelemetry(ctx, logger, appCfg.Environment, appCfg.Telemetry)
	if err != nil {
		logger.Fatalf("initialize telemetry: %v", err)
	}
	metrics, err := telemetry.NewMetricsFromProvider(telemetryProvider)
	if err != nil {
		logger.Fatalf("initialize metrics: %v", err)
	}

	client := backend.NewClient(appCfg.Backend.BaseURL, appCfg.Backend.Timeout,
		backend.WithRateLimit(appCfg.Backend.RequestsPerSecond, appCfg.Backend.Burst),
		backend.WithMetrics(metrics),
	)

	hub := httpserver.NewHub(streamBuffer)
	svc := buildServices(ctx, appCfg, client, metrics, defaults, hub)

	var lifecycle conc.WaitGroup
	lifecycle.Go(func() {
		state := svc.checker.Run(ctx)
		logger.Printf("diagnostics: %s", state.Message)
	})
	svc.strategies.Start(ctx)
	svc.positions.Start(ctx)

	apiServer := &http.Server{
		Addr:              appCfg.APIServer.Addr,
		Handler:           httpserver.NewHandler(svc.deps(defaults, hub)),
		ReadHeaderTimeout: controlReadHeaderTimeout,
	}
	startAPIServer(&lifecycle, logger, apiServer)
	logger.Printf("control API listening on %s", apiServer.Addr)

	<-ctx.Done()
	logger.Print("shutdown signal received, initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	shutdownStart := time.Now()
	performGracefulShutdown(shutdownCtx, logger, gracefulShutdownConfig{
		server:     apiServer,
		mainCancel: cancel,
		lifecycle:  &lifecycle,
		services:   svc,
		hub:        hub,
		telemetry:  telemetryProvider,
	})
	logger.Printf("shutdown completed in %v", time.Since(shutdownStart))
}

type services struct {
	checker    *diagnostics.Checker
	strategies *monitor.StrategiesView
	positions  *monitor.PositionsView
	dispatcher *dispatcher.Dispatcher
	session    *orchestration.Session
	batch      *orchestration.Batch
	library    *library.Service
}

// buildServices wires every view to the backend and publishes each change
// onto the push stream.
func buildServices(ctx context.Context, cfg config.AppConfig, client backend.Requester, metrics *telemetry.Metrics, defaults *config.RuntimeStore, hub *httpserver.Hub) *services {
	publish := func(topic string, data any) {
		if err := hub.Publish(topic, data); err != nil {
			observability.Log().Error("stream publish failed",
				observability.F("topic", topic),
				observability.F("error", err.Error()),
			)
		}
	}

	svc := &services{}
	svc.strategies = monitor.NewStrategiesView(client, monitor.Intervals{
		Strategies: cfg.Polling.Strategies,
		Tickers:    cfg.Polling.Tickers,
	}, metrics, func() {
		publish(httpserver.TopicStrategies, map[string]monitor.StrategiesSnapshot{
			string(monitor.TabActive):   svc.strategies.Snapshot(monitor.TabActive),
			string(monitor.TabInactive): svc.strategies.Snapshot(monitor.TabInactive),
		})
	})
	svc.positions = monitor.NewPositionsView(client, cfg.Polling.Positions, metrics, func() {
		publish(httpserver.TopicPositions, svc.positions.Snapshot())
	})
	svc.dispatcher = dispatcher.New(client,
		dispatcher.WithDefaults(defaults.Snapshot),
		dispatcher.WithMetrics(metrics),
		dispatcher.WithRefresh(svc.strategies.Refresh, svc.positions.Refresh),
	)
	svc.session = orchestration.NewSession(client,
		orchestration.WithStatusInterval(cfg.Polling.Orchestration),
		orchestration.WithDefaults(defaults.Snapshot),
		orchestration.WithMetrics(metrics),
		orchestration.WithContext(ctx),
		orchestration.WithOnChange(func(s orchestration.Snapshot) {
			publish(httpserver.TopicOrchestration, s)
		}),
	)
	svc.batch = orchestration.NewBatch(client, func(s orchestration.BatchSnapshot) {
		publish(httpserver.TopicInference, s)
	})
	svc.library = library.New(client, defaults.Snapshot)
	svc.checker = diagnostics.NewChecker(client,
		diagnostics.WithMaxElapsed(cfg.Diagnostics.MaxElapsed),
		diagnostics.WithOnChange(func(s diagnostics.State) {
			publish(httpserver.TopicHealth, s)
		}),
	)
	return svc
}

func (s *services) deps(defaults *config.RuntimeStore, hub *httpserver.Hub) httpserver.Deps {
	return httpserver.Deps{
		Diagnostics: s.checker,
		Strategies:  s.strategies,
		Positions:   s.positions,
		Dispatcher:  s.dispatcher,
		Session:     s.session,
		Batch:       s.batch,
		Library:     s.library,
		Defaults:    defaults,
		Hub:         hub,
		OnDefaults: func(d config.Defaults) {
			observability.Log().Info("defaults replaced",
				observability.F("symbol", d.Symbol),
				observability.F("timeframe", d.Timeframe),
			)
		},
	}
}

func (s *services) close() {
	s.strategies.Close()
	s.positions.Close()
	s.session.Close()
}

func parseFlags() (string, bool) {
	cfgPath := flag.String("config", "", fmt.Sprintf("Path to application configuration file (default: %s)", defaultConfigPath))
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()
	return *cfgPath, *debug
}

func newSignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func newLogger() *log.Logger {
	return log.New(os.Stdout, loggerPrefix, log.LstdFlags|log.Lmicroseconds)
}

func telemetryConfig(env config.Environment, cfg config.TelemetryConfig) telemetry.Config {
	telemetryCfg := telemetry.DefaultConfig()
	if cfg.OTLPEndpoint != "" {
		telemetryCfg.OTLPEndpoint = cfg.OTLPEndpoint
		telemetryCfg.Enabled = true
	}
	if cfg.ServiceName != "" {
		telemetryCfg.ServiceName = cfg.ServiceName
	}
	telemetryCfg.Environment = string(env)
	telemetryCfg.OTLPInsecure = cfg.OTLPInsecure
	telemetryCfg.EnableMetrics = cfg.EnableMetrics
	return telemetryCfg
}

func initTelemetry(ctx context.Context, logger *log.Logger, env config.Environment, cfg config.TelemetryConfig) (*telemetry.Provider, error) {
	telemetryCfg := telemetryConfig(env, cfg)
	provider, err := telemetry.NewProvider(ctx, telemetryCfg)
	if err != nil {
		return nil, fmt.Errorf("initialize telemetry provider: %w", err)
	}
	if telemetryCfg.Enabled {
		logger.Printf("telemetry initialized: endpoint=%s, service=%s", telemetryCfg.OTLPEndpoint, telemetryCfg.ServiceName)
	} else {
		logger.Printf("telemetry disabled")
	}
	return provider, nil
}

func startAPIServer(lifecycle *conc.WaitGroup, logger *log.Logger, server *http.Server) {
	lifecycle.Go(func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Printf("control server: %v", err)
		}
	})
}

type gracefulShutdownConfig struct {
	server     *http.Server
	mainCancel context.CancelFunc
	lifecycle  *conc.WaitGroup
	services   *services
	hub        *httpserver.Hub
	telemetry  *telemetry.Provider
}

func performGracefulShutdown(ctx context.Context, logger *log.Logger, cfg gracefulShutdownConfig) {
	var failures []error
	shutdownStep := func(name string, timeout time.Duration, fn func(context.Context) error) {
		stepCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		logger.Printf("shutdown: %s...", name)
		if err := fn(stepCtx); err != nil {
			failures = append(failures, fmt.Errorf("%s: %w", name, err))
			return
		}
		logger.Printf("shutdown: %s completed", name)
	}

	if cfg.hub != nil {
		cfg.hub.Close()
	}
	if cfg.server != nil {
		shutdownStep("stopping control server", controlServerShutdownTimeout, func(stepCtx context.Context) error {
			return cfg.server.Shutdown(stepCtx)
		})
	}

	logger.Print("shutdown: cancelling main context")
	if cfg.mainCancel != nil {
		cfg.mainCancel()
	}
	if cfg.services != nil {
		cfg.services.close()
	}

	if cfg.lifecycle != nil {
		shutdownStep("waiting for lifecycle goroutines", lifecycleShutdownTimeout, func(stepCtx context.Context) error {
			done := make(chan struct{})
			go func() {
				cfg.lifecycle.Wait()
				close(done)
			}()
			select {
			case <-done:
				return nil
			case <-stepCtx.Done():
				return fmt.Errorf("timeout waiting for goroutines: %w", stepCtx.Err())
			}
		})
	}

	if cfg.telemetry != nil {
		shutdownStep("shutting down telemetry", telemetryShutdownTimeout, func(stepCtx context.Context) error {
			return cfg.telemetry.Shutdown(stepCtx)
		})
	}

	if err := observability.AggregateErrors("shutdown", failures); err != nil {
		logger.Printf("shutdown finished with errors: %v", err)
	}
}

func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return filepath.Clean(defaultConfigPath)
}
