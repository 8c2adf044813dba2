package telemetry

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

func TestInitTracerProvider(t *testing.T) {
	tp, err := InitTracerProvider(context.Background(), Options{ServiceName: "lcf-connectors-test", SampleRatio: 2})
	require.NoError(t, err)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	ctx, span := Tracer().Start(context.Background(), "test")
	defer span.End()
	assert.True(t, span.SpanContext().IsSampled())

	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	assert.NotEmpty(t, carrier.Get("traceparent"))
}

func TestStdoutExporterWritesSpans(t *testing.T) {
	var out bytes.Buffer
	tp, err := InitTracerProvider(context.Background(), Options{
		ServiceName: "lcf-connectors-test",
		SampleRatio: 1,
		Exporter:    ExporterStdout,
		Writer:      &out,
	})
	require.NoError(t, err)

	_, span := Tracer().Start(context.Background(), "ingest.job")
	span.End()
	require.NoError(t, tp.Shutdown(context.Background()))

	assert.Contains(t, out.String(), `"Name":"ingest.job"`)
	assert.Contains(t, out.String(), "lcf-connectors-test")
}

func TestUnknownExporter(t *testing.T) {
	_, err := InitTracerProvider(context.Background(), Options{Exporter: "zipkin"})
	require.ErrorContains(t, err, "unknown trace exporter: zipkin")
}
