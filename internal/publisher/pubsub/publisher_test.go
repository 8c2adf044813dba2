package pubsub

import (
	"context"
	"encoding/json"
	"testing"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func TestPublishCarriesEventAndTraceContext(t *testing.T) {
	ctx := context.Background()
	srv := pstest.NewServer()
	defer func() { _ = srv.Close() }()

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	client, err := pubsub.NewClient(ctx, "project-id", option.WithGRPCConn(conn))
	require.NoError(t, err)
	defer func() { _ = client.Close() }()

	topic, err := client.CreateTopic(ctx, "documents")
	require.NoError(t, err)
	defer topic.Stop()

	otel.SetTextMapPropagator(propagation.TraceContext{})
	tp := sdktrace.NewTracerProvider()
	defer func() { _ = tp.Shutdown(ctx) }()
	spanCtx, span := tp.Tracer("test").Start(ctx, "ingest")
	defer span.End()

	p := New(topic)
	id, err := p.Publish(spanCtx, "ingested", map[string]string{"document_id": "D1"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "ingested", msgs[0].Attributes["event"])
	assert.Contains(t, msgs[0].Attributes["traceparent"], span.SpanContext().TraceID().String())
	var payload map[string]string
	require.NoError(t, json.Unmarshal(msgs[0].Data, &payload))
	assert.Equal(t, "D1", payload["document_id"])
}

func TestPublishWithoutTopic(t *testing.T) {
	t.Parallel()
	_, err := New(nil).Publish(context.Background(), "ingested", struct{}{})
	require.Error(t, err)
}
