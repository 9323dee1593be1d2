package observability

import (
	"math"
	"strings"

	"github.com/smallbiznis/phage/internal/config"
	"github.com/smallbiznis/phage/internal/observability/logger"
	"github.com/smallbiznis/phage/internal/observability/metrics"
	"github.com/smallbiznis/phage/internal/observability/tracing"
)

const (
	defaultServiceName = "phage"
	defaultSampleRatio = 0.1
)

// Config is the telemetry view of config.Config.
type Config struct {
	ServiceName string
	Environment string
	Version     string

	LogLevel  string
	LogFormat string

	TracingEnabled bool
	MetricsEnabled bool
	Endpoint       string
	Protocol       string
	SampleRatio    float64
}

func LoadConfig(cfg config.Config) Config {
	t := cfg.Telemetry

	name := strings.TrimSpace(cfg.AppName)
	if name == "" {
		name = defaultServiceName
	}

	level := t.LogLevel
	if level == "" {
		level = "info"
	}
	format := t.LogFormat
	if format != "console" {
		format = "json"
	}

	protocol := t.OTLPProtocol
	switch protocol {
	case "grpc", "http", "http/protobuf":
	default:
		protocol = "grpc"
	}

	ratio := t.TraceSampleRatio
	if math.IsNaN(ratio) || ratio < 0 || ratio > 1 {
		ratio = defaultSampleRatio
	}

	return Config{
		ServiceName:    name,
		Environment:    strings.TrimSpace(cfg.Environment),
		Version:        strings.TrimSpace(cfg.AppVersion),
		LogLevel:       level,
		LogFormat:      format,
		TracingEnabled: t.TracingEnabled && t.OTLPEndpoint != "",
		MetricsEnabled: t.MetricsEnabled && t.OTLPEndpoint != "",
		Endpoint:       t.OTLPEndpoint,
		Protocol:       protocol,
		SampleRatio:    ratio,
	}
}

// Debug enables stack traces on error logs and verbose request logs.
func (c Config) Debug() bool {
	if c.LogLevel == "debug" {
		return true
	}
	switch strings.ToLower(c.Environment) {
	case "dev", "development", "local", "test":
		return true
	}
	return false
}

func (c Config) logger() logger.Config {
	return logger.Config{
		ServiceName:         c.ServiceName,
		Environment:         c.Environment,
		Version:             c.Version,
		Level:               c.LogLevel,
		Format:              c.LogFormat,
		Debug:               c.Debug(),
		IncludeCaller:       true,
		IncludeStackOnError: c.Debug(),
	}
}

func (c Config) tracing() tracing.Config {
	return tracing.Config{
		Enabled:          c.TracingEnabled,
		ServiceName:      c.ServiceName,
		ServiceVersion:   c.Version,
		Environment:      c.Environment,
		ExporterEndpoint: c.Endpoint,
		ExporterProtocol: c.Protocol,
		SamplingRatio:    c.SampleRatio,
	}
}

func (c Config) metrics() metrics.Config {
	return metrics.Config{
		Enabled:          c.MetricsEnabled,
		ExporterEndpoint: c.Endpoint,
		ExporterProtocol: c.Protocol,
		ServiceName:      c.ServiceName,
		Environment:      c.Environment,
	}
}
