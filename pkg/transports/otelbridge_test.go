package transports

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/cognia-ai/loghub/pkg/loghub"
)

func bridgeEntry(level, msg string) *loghub.LogEntry {
	return &loghub.LogEntry{
		ID:      "e-1",
		Level:   level,
		Module:  "app.db",
		Message: msg,
	}
}

func attrMap(attrs []attribute.KeyValue) map[string]string {
	out := make(map[string]string, len(attrs))
	for _, a := range attrs {
		out[string(a.Key)] = a.Value.AsString()
	}
	return out
}

func newRecordedSpan(t *testing.T) (context.Context, trace.Span, *tracetest.SpanRecorder) {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	ctx, span := provider.Tracer("test").Start(context.Background(), "operation")
	return ctx, span, recorder
}

func TestOTelBridgeAddsEvent(t *testing.T) {
	ctx, span, recorder := newRecordedSpan(t)
	bridge := NewOTelBridge(WithOTelContextFunc(func() context.Context { return ctx }))

	err := bridge.Log(bridgeEntry("warn", "slow query"))
	require.NoError(t, err)
	span.End()

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	events := spans[0].Events()
	require.Len(t, events, 1)
	assert.Equal(t, "log", events[0].Name)

	attrs := attrMap(events[0].Attributes)
	assert.Equal(t, "warn", attrs["log.severity"])
	assert.Equal(t, "slow query", attrs["log.message"])
	assert.Equal(t, "app.db", attrs["log.module"])
}

func TestOTelBridgeErrorMarksSpan(t *testing.T) {
	ctx, span, recorder := newRecordedSpan(t)
	bridge := NewOTelBridge(WithOTelContextFunc(func() context.Context { return ctx }))

	require.NoError(t, bridge.Log(bridgeEntry("error", "db down")))
	span.End()

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, "db down", spans[0].Status().Description)
	// One log event plus the recorded exception.
	assert.Len(t, spans[0].Events(), 2)
}

func TestOTelBridgeBelowMinLevel(t *testing.T) {
	ctx, span, recorder := newRecordedSpan(t)
	bridge := NewOTelBridge(WithOTelContextFunc(func() context.Context { return ctx }))

	require.NoError(t, bridge.Log(bridgeEntry("info", "routine")))
	span.End()

	require.Len(t, recorder.Ended(), 1)
	assert.Empty(t, recorder.Ended()[0].Events())
}

func TestOTelBridgeCustomMinLevel(t *testing.T) {
	ctx, span, recorder := newRecordedSpan(t)
	bridge := NewOTelBridge(
		WithOTelContextFunc(func() context.Context { return ctx }),
		WithOTelMinLevel(loghub.LevelTrace),
	)

	require.NoError(t, bridge.Log(bridgeEntry("debug", "verbose")))
	span.End()

	assert.Len(t, recorder.Ended()[0].Events(), 1)
}

func TestOTelBridgeNoActiveSpan(t *testing.T) {
	bridge := NewOTelBridge()
	assert.NoError(t, bridge.Log(bridgeEntry("error", "nobody listening")))
}
