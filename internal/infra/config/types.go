package config

import (
	"strings"
	"time"
)

// Environment identifies the runtime environment where stratdeck operates.
type Environment string

const (
	// EnvDev marks the development environment.
	EnvDev Environment = "dev"
	// EnvStaging marks the staging environment.
	EnvStaging Environment = "staging"
	// EnvProd marks the production environment.
	EnvProd Environment = "prod"
)

const (
	envBackendURL  = "STRATDECK_BACKEND_URL"
	envEnvironment = "STRATDECK_ENV"
	envAPIAddr     = "STRATDECK_API_ADDR"
)

// BackendConfig locates the strategy backend and bounds the request rate the
// console may impose on it.
type BackendConfig struct {
	BaseURL           string        `yaml:"baseURL"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerSecond float64       `yaml:"requestsPerSecond"`
	Burst             int           `yaml:"burst"`
}

// PollingConfig holds the refresh period of every polled resource.
type PollingConfig struct {
	Strategies    time.Duration `yaml:"strategies"`
	Tickers       time.Duration `yaml:"tickers"`
	Positions     time.Duration `yaml:"positions"`
	Orchestration time.Duration `yaml:"orchestration"`
}

// APIServerConfig configures the console's HTTP control surface.
type APIServerConfig struct {
	Addr string `yaml:"addr"`
}

// TelemetryConfig configures OTLP exporters (metrics only).
type TelemetryConfig struct {
	OTLPEndpoint  string `yaml:"otlpEndpoint"`
	ServiceName   string `yaml:"serviceName"`
	OTLPInsecure  bool   `yaml:"otlpInsecure"`
	EnableMetrics bool   `yaml:"enableMetrics"`
}

// DiagnosticsConfig bounds the startup connectivity check.
type DiagnosticsConfig struct {
	MaxElapsed time.Duration `yaml:"maxElapsed"`
}

// Defaults seeds operator forms when a field is left blank.
type Defaults struct {
	Symbol    string `json:"symbol" yaml:"symbol"`
	Timeframe string `json:"timeframe" yaml:"timeframe"`
	LiveSize  string `json:"liveSize" yaml:"liveSize"`
	QuickSize string `json:"quickSize" yaml:"quickSize"`
}

func normalizeBaseURL(raw string) string {
	return strings.TrimRight(strings.TrimSpace(raw), "/")
}
