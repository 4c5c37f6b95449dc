// Package telemetry sets up OpenTelemetry tracing for the scraper.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
)

// Config controls the tracer provider.
type Config struct {
	Enabled     bool    `mapstructure:"enabled"`
	ServiceName string  `mapstructure:"service_name"`
	Environment string  `mapstructure:"environment"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// InitTracerProvider installs the global tracer provider and the W3C
// propagators. Spans are recorded by worker setup and unit processing and
// carried to Pub/Sub attributes; no exporter is attached, so a collector
// can be added with sdktrace.WithBatcher later.
func InitTracerProvider(ctx context.Context, cfg Config) (*sdktrace.TracerProvider, error) {
	name := cfg.ServiceName
	if name == "" {
		name = "landscraper"
	}
	attrs := resource.WithAttributes(semconv.ServiceName(name))
	res, err := resource.New(ctx, attrs)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}
	if cfg.Environment != "" {
		res, err = resource.Merge(res, resource.NewSchemaless(semconv.DeploymentEnvironment(cfg.Environment)))
		if err != nil {
			return nil, fmt.Errorf("merge resource: %w", err)
		}
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(cfg)),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	return tp, nil
}

func sampler(cfg Config) sdktrace.Sampler {
	switch {
	case !cfg.Enabled:
		return sdktrace.NeverSample()
	case cfg.SampleRatio <= 0 || cfg.SampleRatio >= 1:
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))
	}
}
