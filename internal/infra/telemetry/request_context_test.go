package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

func TestEnsureRequestMetaGeneratesID(t *testing.T) {
	ctx, meta := EnsureRequestMeta(context.Background(), "", "session-1")
	require.NotEmpty(t, meta.RequestID)
	require.Equal(t, "session-1", meta.SessionID)

	got, ok := RequestIDFromContext(ctx)
	require.True(t, ok)
	require.Equal(t, meta.RequestID, got)
}

func TestEnsureRequestMetaKeepsExisting(t *testing.T) {
	ctx, first := EnsureRequestMeta(context.Background(), "req-123", "s-1")
	_, second := EnsureRequestMeta(ctx, "", "")

	require.Equal(t, first.RequestID, second.RequestID)
	require.Equal(t, "s-1", second.SessionID)
}

func TestTraceSpanFromContext(t *testing.T) {
	traceID, err := trace.TraceIDFromHex("0123456789abcdef0123456789abcdef")
	require.NoError(t, err)
	spanID, err := trace.SpanIDFromHex("0123456789abcdef")
	require.NoError(t, err)
	spanCtx := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: traceID,
		SpanID:  spanID,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), spanCtx)

	gotTraceID, gotSpanID := TraceSpanFromContext(ctx)
	require.Equal(t, traceID.String(), gotTraceID)
	require.Equal(t, spanID.String(), gotSpanID)

	_, meta := EnsureRequestMeta(ctx, "req-1", "")
	require.Equal(t, traceID.String(), meta.TraceID)
}

func TestRequestFields(t *testing.T) {
	fields := RequestFields(RequestMeta{
		RequestID: "req-1",
		SessionID: "s-1",
		TraceID:   "trace-1",
		SpanID:    "span-1",
	})
	require.Len(t, fields, 4)
	require.Equal(t, FieldRequestID, fields[0].Key)
	require.Equal(t, FieldSessionID, fields[1].Key)
	require.Equal(t, FieldTraceID, fields[2].Key)
	require.Equal(t, FieldSpanID, fields[3].Key)

	require.Nil(t, RequestFields(RequestMeta{}))
}
