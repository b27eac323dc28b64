package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// AppConfig is the unified stratdeck configuration sourced from YAML and the
// process environment.
type AppConfig struct {
	Environment Environment       `yaml:"environment"`
	Backend     BackendConfig     `yaml:"backend"`
	Polling     PollingConfig     `yaml:"polling"`
	APIServer   APIServerConfig   `yaml:"apiServer"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Diagnostics DiagnosticsConfig `yaml:"diagnostics"`
	Defaults    Defaults          `yaml:"defaults"`
}

// DefaultAppConfig returns the configuration used when no file is supplied.
func DefaultAppConfig() AppConfig {
	return AppConfig{
		Environment: EnvDev,
		Backend: BackendConfig{
			BaseURL:           "http://localhost:3000",
			Timeout:           15 * time.Second,
			RequestsPerSecond: 20,
			Burst:             10,
		},
		Polling: PollingConfig{
			Strategies:    5 * time.Second,
			Tickers:       5 * time.Second,
			Positions:     5 * time.Second,
			Orchestration: 2 * time.Second,
		},
		APIServer: APIServerConfig{Addr: ":8890"},
		Telemetry: TelemetryConfig{
			ServiceName:   "stratdeck",
			OTLPInsecure:  true,
			EnableMetrics: true,
		},
		Diagnostics: DiagnosticsConfig{MaxElapsed: 30 * time.Second},
		Defaults:    DefaultDefaults(),
	}
}

// Load reads and validates an AppConfig from the provided YAML file. Values
// absent from the file keep their defaults; environment overrides win over both.
func Load(ctx context.Context, configPath string) (AppConfig, error) {
	_ = ctx

	reader, closer, err := openConfigFile(configPath)
	if err != nil {
		return AppConfig{}, err
	}
	defer closer()

	bytes, err := io.ReadAll(reader)
	if err != nil {
		return AppConfig{}, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultAppConfig()
	if err := yaml.Unmarshal(bytes, &cfg); err != nil {
		return AppConfig{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return finalise(cfg)
}

// LoadOrDefault behaves like Load but falls back to DefaultAppConfig when the
// file does not exist. The boolean reports whether the file was read.
func LoadOrDefault(ctx context.Context, configPath string) (AppConfig, bool, error) {
	cfg, err := Load(ctx, configPath)
	if err == nil {
		return cfg, true, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return AppConfig{}, false, err
	}
	cfg, err = finalise(DefaultAppConfig())
	if err != nil {
		return AppConfig{}, false, err
	}
	return cfg, false, nil
}

// LoadDotEnv loads KEY=VALUE pairs from the given files into the process
// environment. Variables already set are left untouched and missing files are
// ignored.
func LoadDotEnv(paths ...string) {
	for _, path := range paths {
		_ = godotenv.Load(path)
	}
}

func finalise(cfg AppConfig) (AppConfig, error) {
	cfg.applyEnv(os.LookupEnv)
	cfg.normalise()
	if err := cfg.Validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

func (c *AppConfig) applyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(envBackendURL); ok && strings.TrimSpace(v) != "" {
		c.Backend.BaseURL = v
	}
	if v, ok := lookup(envEnvironment); ok && strings.TrimSpace(v) != "" {
		c.Environment = Environment(v)
	}
	if v, ok := lookup(envAPIAddr); ok && strings.TrimSpace(v) != "" {
		c.APIServer.Addr = v
	}
}

func (c *AppConfig) normalise() {
	c.Environment = Environment(strings.ToLower(strings.TrimSpace(string(c.Environment))))
	c.Backend.BaseURL = normalizeBaseURL(c.Backend.BaseURL)
	c.APIServer.Addr = strings.TrimSpace(c.APIServer.Addr)
	c.Telemetry.OTLPEndpoint = strings.TrimSpace(c.Telemetry.OTLPEndpoint)
	c.Telemetry.ServiceName = strings.TrimSpace(c.Telemetry.ServiceName)

	if c.Backend.Burst <= 0 {
		c.Backend.Burst = 1
	}
	if c.Diagnostics.MaxElapsed < 0 {
		c.Diagnostics.MaxElapsed = 0
	}
	c.Defaults.Normalise()
}

// Validate performs semantic validation on the configuration.
func (c AppConfig) Validate() error {
	switch c.Environment {
	case EnvDev, EnvStaging, EnvProd:
	default:
		return fmt.Errorf("environment must be one of dev, staging, prod")
	}

	if c.Backend.BaseURL == "" {
		return fmt.Errorf("backend baseURL required")
	}
	parsed, err := url.Parse(c.Backend.BaseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("backend baseURL must be an absolute URL")
	}
	if c.Backend.Timeout <= 0 {
		return fmt.Errorf("backend timeout must be >0")
	}
	if c.Backend.RequestsPerSecond < 0 {
		return fmt.Errorf("backend requestsPerSecond must be >=0")
	}

	if c.Polling.Strategies <= 0 {
		return fmt.Errorf("polling strategies must be >0")
	}
	if c.Polling.Tickers <= 0 {
		return fmt.Errorf("polling tickers must be >0")
	}
	if c.Polling.Positions <= 0 {
		return fmt.Errorf("polling positions must be >0")
	}
	if c.Polling.Orchestration <= 0 {
		return fmt.Errorf("polling orchestration must be >0")
	}

	if c.APIServer.Addr == "" {
		return fmt.Errorf("apiServer addr required")
	}
	if c.Telemetry.ServiceName == "" {
		return fmt.Errorf("telemetry serviceName required")
	}
	if err := c.Defaults.Validate(); err != nil {
		return fmt.Errorf("defaults: %w", err)
	}
	return nil
}

func openConfigFile(path string) (io.Reader, func(), error) {
	candidate := strings.TrimSpace(path)
	candidate = filepath.Clean(candidate)

	file, err := os.Open(candidate) // #nosec G304 -- path is operator controlled.
	if err != nil {
		return nil, nil, fmt.Errorf("open app config: %w", err)
	}
	return file, func() { _ = file.Close() }, nil
}
