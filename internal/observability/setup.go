package observability

import (
	"context"
	"os"

	"examprep/internal/config"

	autosdk "go.opentelemetry.io/auto/sdk"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/trace"
)

// SetupObservability initializes tracing, metrics, and logging for a service.
// The returned TracerProvider is nil when tracing is disabled; the logger is
// always usable (a no-op when logging is disabled).
func SetupObservability(cfg *config.OpenTelemetryConfig, serviceName string) (trace.TracerProvider, *metric.MeterProvider, *Logger, error) {
	if serviceName != "" {
		cfg.ServiceName = serviceName
	}

	if err := os.Setenv("OTEL_SERVICE_NAME", cfg.ServiceName); err != nil {
		return nil, nil, nil, err
	}
	if err := os.Setenv("OTEL_SERVICE_VERSION", cfg.ServiceVersion); err != nil {
		return nil, nil, nil, err
	}

	// NewLogger degrades to a no-op logger when logging is disabled.
	logger := NewLogger(cfg)

	var tp trace.TracerProvider
	if cfg.EnableTracing {
		if cfg.UseAutoSDK {
			// Auto SDK bridge, spans are produced by the eBPF agent
			tp = autosdk.TracerProvider()
			otel.SetTracerProvider(tp)
			logger.Info(context.Background(), "Tracing enabled with Auto SDK", map[string]interface{}{"service_name": cfg.ServiceName})
		} else {
			stp, err := InitStandardTracing(cfg)
			if err != nil {
				return nil, nil, nil, err
			}
			tp = stp
			otel.SetTracerProvider(tp)
			logger.Info(context.Background(), "Tracing enabled with standard SDK", map[string]interface{}{"service_name": cfg.ServiceName})
		}

		if err := InitTracing(cfg); err != nil {
			return nil, nil, nil, err
		}
		InitGlobalTracer()
	}

	var mp *metric.MeterProvider
	if cfg.EnableMetrics {
		var err error
		mp, err = InitMetrics(cfg)
		if err != nil {
			return nil, nil, nil, err
		}
	}

	return tp, mp, logger, nil
}
