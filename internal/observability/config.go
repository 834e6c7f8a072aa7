package observability

import (
	"strings"

	"github.com/revaiconcierge/concierge/internal/config"
)

const (
	defaultServiceName   = "concierge"
	defaultSamplingRatio = 0.1

	protocolGRPC = "grpc"
	protocolHTTP = "http"
)

// Config is the normalized telemetry setup shared by the logger, tracer and meters.
type Config struct {
	ServiceName string
	Environment string
	Version     string

	LogLevel  string
	LogFormat string

	TracingEnabled      bool
	MetricsExport       bool
	PrometheusEnabled   bool
	QuotaSpanAttributes bool

	OTLPEndpoint  string
	OTLPProtocol  string
	SamplingRatio float64
}

func LoadConfig(cfg config.Config) Config {
	obs := cfg.Observability

	serviceName := strings.TrimSpace(cfg.AppName)
	if serviceName == "" {
		serviceName = defaultServiceName
	}

	logFormat := strings.ToLower(strings.TrimSpace(obs.LogFormat))
	if logFormat != "console" {
		logFormat = "json"
	}

	return Config{
		ServiceName:         serviceName,
		Environment:         strings.TrimSpace(cfg.Environment),
		Version:             strings.TrimSpace(cfg.AppVersion),
		LogLevel:            strings.ToLower(strings.TrimSpace(obs.LogLevel)),
		LogFormat:           logFormat,
		TracingEnabled:      obs.TracesEnabled,
		MetricsExport:       obs.MetricsEnabled,
		PrometheusEnabled:   obs.PrometheusEnabled,
		QuotaSpanAttributes: obs.QuotaSpanAttributes,
		OTLPEndpoint:        strings.TrimSpace(obs.OTLPEndpoint),
		OTLPProtocol:        normalizeProtocol(obs.OTLPProtocol),
		SamplingRatio:       clampRatio(obs.SamplingRatio),
	}
}

// Debug widens request logging and attaches stacks to error logs.
func (c Config) Debug() bool {
	if c.LogLevel == "debug" {
		return true
	}
	switch strings.ToLower(strings.TrimSpace(c.Environment)) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

// normalizeProtocol maps OTLP protocol spellings onto the two exporters we build.
func normalizeProtocol(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "http", "http/protobuf", "http/json":
		return protocolHTTP
	default:
		return protocolGRPC
	}
}

func clampRatio(ratio float64) float64 {
	switch {
	case ratio < 0:
		return defaultSamplingRatio
	case ratio > 1:
		return 1
	default:
		return ratio
	}
}
