package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

func TestInitTracerProvider(t *testing.T) {
	ctx := context.Background()
	tp, err := InitTracerProvider(ctx, Config{Enabled: true, ServiceName: "landscraper-test", Environment: "test"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = tp.Shutdown(ctx) })

	_, span := otel.Tracer("test").Start(ctx, "unit")
	require.True(t, span.SpanContext().IsSampled())
	span.End()

	carrier := propagation.MapCarrier{}
	spanCtx, span := otel.Tracer("test").Start(ctx, "publish")
	otel.GetTextMapPropagator().Inject(spanCtx, carrier)
	span.End()
	require.Contains(t, carrier, "traceparent")
}

func TestSampler(t *testing.T) {
	t.Parallel()

	require.Contains(t, sampler(Config{}).Description(), "AlwaysOff")
	require.Contains(t, sampler(Config{Enabled: true}).Description(), "AlwaysOn")
	require.Contains(t, sampler(Config{Enabled: true, SampleRatio: 0.25}).Description(), "TraceIDRatioBased")
}
