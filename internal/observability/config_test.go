package observability

import (
	"math"
	"testing"

	"github.com/smallbiznis/phage/internal/config"
	"github.com/stretchr/testify/assert"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg := LoadConfig(config.Config{
		Environment: "production",
		AppVersion:  "1.2.0",
		Telemetry: config.TelemetryConfig{
			TracingEnabled:   true,
			MetricsEnabled:   true,
			OTLPEndpoint:     "collector:4317",
			OTLPProtocol:     "thrift",
			TraceSampleRatio: math.NaN(),
		},
	})

	assert.Equal(t, "phage", cfg.ServiceName)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, "grpc", cfg.Protocol)
	assert.Equal(t, 0.1, cfg.SampleRatio)
	assert.True(t, cfg.TracingEnabled)
	assert.False(t, cfg.Debug())

	tc := cfg.tracing()
	assert.Equal(t, "1.2.0", tc.ServiceVersion)
	assert.Equal(t, "collector:4317", tc.ExporterEndpoint)
}

func TestLoadConfigDisablesExportWithoutEndpoint(t *testing.T) {
	cfg := LoadConfig(config.Config{
		AppName:     "phage-worker",
		Environment: "development",
		Telemetry: config.TelemetryConfig{
			LogLevel:       "debug",
			LogFormat:      "console",
			TracingEnabled: true,
			MetricsEnabled: true,
		},
	})

	assert.Equal(t, "phage-worker", cfg.ServiceName)
	assert.False(t, cfg.TracingEnabled)
	assert.False(t, cfg.metrics().Enabled)
	assert.True(t, cfg.Debug())
	assert.Equal(t, "console", cfg.logger().Format)
	assert.True(t, cfg.logger().IncludeStackOnError)
}
