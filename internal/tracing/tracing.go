// Package tracing wires an OpenTelemetry tracer provider around the job
// claim -> stage execution -> terminal event path, emitting spans to the
// stdout exporter.
//
// Grounded on the teacher's internal/observability/otel.go (sync.Once
// guarded InitOTel, env-gated, WithBatcher span processor, ParentBased/
// TraceIDRatioBased sampler, global tracer provider + propagator,
// returned shutdown func). Trimmed relative to the teacher: go.mod here
// carries otel, otel/sdk, otel/trace, and otel/exporters/stdout/stdouttrace
// only, not otel/exporters/otlp/otlptrace/otlptracehttp or
// otel/semconv/v1.27.0, so this package builds its resource attributes by
// hand instead of via the semconv package and exports to stdout rather
// than an OTLP collector.
package tracing

import (
	"context"
	"os"
	"strconv"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	stdouttrace "go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/neurobridge-labs/reelforge/internal/platform/envutil"
	"github.com/neurobridge-labs/reelforge/internal/platform/logger"
)

var (
	once       sync.Once
	tracerName = "github.com/neurobridge-labs/reelforge"
)

// Config controls whether tracing is enabled and at what sample ratio.
type Config struct {
	Enabled     bool
	SampleRatio float64
	ServiceName string
}

// LoadConfig reads OTEL_ENABLED/OTEL_SAMPLE_RATIO/OTEL_SERVICE_NAME from
// the environment, mirroring config.Load's envutil pattern.
func LoadConfig() Config {
	return Config{
		Enabled:     envutil.Bool("OTEL_ENABLED", false),
		SampleRatio: parseRatio(envutil.String("OTEL_SAMPLE_RATIO", "1.0")),
		ServiceName: envutil.String("OTEL_SERVICE_NAME", "reelforge"),
	}
}

func parseRatio(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f < 0 || f > 1 {
		return 1.0
	}
	return f
}

// Init builds the global tracer provider exactly once per process. When
// cfg.Enabled is false it installs a no-op provider so span creation
// elsewhere in the codebase stays a cheap, safe no-op. Returns a shutdown
// func that flushes and detaches the provider.
func Init(ctx context.Context, log *logger.Logger, cfg Config) func(context.Context) error {
	var shutdown func(context.Context) error
	once.Do(func() {
		if !cfg.Enabled {
			otel.SetTracerProvider(trace.NewNoopTracerProvider())
			shutdown = func(context.Context) error { return nil }
			return
		}

		exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			if log != nil {
				log.Error("tracing: build stdout exporter failed", "error", err)
			}
			otel.SetTracerProvider(trace.NewNoopTracerProvider())
			shutdown = func(context.Context) error { return nil }
			return
		}

		res := resource.NewWithAttributes("",
			attribute.String("service.name", cfg.ServiceName),
		)
		tp := sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exporter),
			sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
			sdktrace.WithResource(res),
		)
		otel.SetTracerProvider(tp)

		if log != nil {
			log.Info("tracing initialized", "service", cfg.ServiceName, "sample_ratio", cfg.SampleRatio)
		}
		shutdown = tp.Shutdown
	})
	if shutdown == nil {
		shutdown = func(context.Context) error { return nil }
	}
	return shutdown
}

// Tracer returns the shared tracer used across the control plane.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan begins a span for one step of the
// claim -> execute -> terminal-event path (spec.md §2/§4.3), tagging it
// with the project and job identifiers when known.
func StartSpan(ctx context.Context, name string, projectID, jobID string) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{}
	if projectID != "" {
		attrs = append(attrs, attribute.String("reelforge.project_id", projectID))
	}
	if jobID != "" {
		attrs = append(attrs, attribute.String("reelforge.job_id", jobID))
	}
	return Tracer().Start(ctx, name, trace.WithAttributes(attrs...))
}
