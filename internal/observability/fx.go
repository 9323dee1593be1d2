package observability

import (
	"github.com/smallbiznis/phage/internal/observability/logger"
	"github.com/smallbiznis/phage/internal/observability/metrics"
	"github.com/smallbiznis/phage/internal/observability/tracing"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"
)

var Module = fx.Module("observability",
	fx.Provide(
		LoadConfig,
		func(cfg Config) logger.Config { return cfg.logger() },
		func(cfg Config) tracing.Config { return cfg.tracing() },
		func(cfg Config) metrics.Config { return cfg.metrics() },
		logger.New,
		tracing.NewProvider,
		metrics.NewProvider,
		metrics.New,
		metrics.NewHTTPMetrics,
		metrics.JobsWithConfig,
	),
	fx.Invoke(func(*sdktrace.TracerProvider) {}),
)
