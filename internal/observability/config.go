package observability

import (
	"os"
	"strconv"
	"strings"

	"github.com/tracklane/tracklane/internal/config"
)

// Config is the shared surface consumed by the logger, tracer and metric
// providers. Values come from the service config with LOG_* and OTEL_*
// environment variables layered on top.
type Config struct {
	ServiceName string
	Environment string
	Version     string

	LogLevel  string
	LogFormat string

	OtelEnabled          bool
	OtelExporterEndpoint string
	OtelExporterProtocol string
	OtelSamplingRatio    float64
}

func LoadConfig(cfg config.Config) Config {
	out := Config{
		ServiceName:          strings.TrimSpace(cfg.AppName),
		Environment:          strings.TrimSpace(envString("DEPLOYMENT_ENV", cfg.Environment)),
		Version:              strings.TrimSpace(envString("SERVICE_VERSION", cfg.AppVersion)),
		LogLevel:             strings.ToLower(strings.TrimSpace(envString("LOG_LEVEL", "info"))),
		LogFormat:            strings.ToLower(strings.TrimSpace(envString("LOG_FORMAT", "json"))),
		OtelEnabled:          envBool("OTEL_ENABLED", true),
		OtelExporterEndpoint: strings.TrimSpace(envString("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.OTLPEndpoint)),
		OtelExporterProtocol: strings.ToLower(strings.TrimSpace(envString("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc"))),
		OtelSamplingRatio:    envFloat("OTEL_SAMPLING_RATIO", 0.1),
	}

	if out.ServiceName == "" {
		out.ServiceName = "tracklane"
	}
	// Signal-specific protocol overrides the shared one, per collector convention.
	if p := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_TRACES_PROTOCOL")); p != "" {
		out.OtelExporterProtocol = strings.ToLower(p)
	}
	if out.OtelSamplingRatio < 0 || out.OtelSamplingRatio > 1 {
		out.OtelSamplingRatio = 0.1
	}

	return out
}

// Debug reports whether verbose diagnostics are on. An explicit debug log
// level or a non-production environment flips it.
func (c Config) Debug() bool {
	if strings.ToLower(strings.TrimSpace(c.LogLevel)) == "debug" {
		return true
	}
	switch strings.ToLower(strings.TrimSpace(c.Environment)) {
	case "dev", "development", "local", "test":
		return true
	}
	return false
}

func envString(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return parsed
}
