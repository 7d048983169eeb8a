package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestInitTracerProviderDisabled(t *testing.T) {
	shutdown, err := InitTracerProvider(context.Background(), Config{})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
	require.Contains(t, otel.GetTextMapPropagator().Fields(), "traceparent")
}

func TestInitTracerProviderWithoutExporter(t *testing.T) {
	shutdown, err := InitTracerProvider(context.Background(), Config{
		Enabled:     true,
		ServiceName: "scrapejobs-test",
		Version:     "dev",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = shutdown(context.Background()) })

	_, span := otel.Tracer("test").Start(context.Background(), "op")
	require.True(t, span.SpanContext().IsValid())
	span.End()
}

func TestSampleRatio(t *testing.T) {
	t.Parallel()

	require.InDelta(t, 1.0, sampleRatio(0), 0)
	require.InDelta(t, 1.0, sampleRatio(2), 0)
	require.InDelta(t, 0.25, sampleRatio(0.25), 0)
}
