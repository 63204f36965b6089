package transports

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/cognia-ai/loghub/pkg/loghub"
)

// ContextFunc supplies the context whose active span receives log events.
// Injected at startup so the bridge works in hosts with different context
// plumbing; the default yields context.Background, making the bridge a
// no-op until a tracing context is wired in.
type ContextFunc func() context.Context

// OTelBridge attaches qualifying entries as timestamped events on the
// currently active distributed-tracing span. Error and fatal entries
// additionally record an exception and mark the span failed. Without an
// active span the bridge does nothing.
type OTelBridge struct {
	minLevel  loghub.Level
	contextFn ContextFunc
}

// OTelOption configures an OTelBridge.
type OTelOption func(*OTelBridge)

// WithOTelMinLevel sets the minimum level attached to spans.
func WithOTelMinLevel(level loghub.Level) OTelOption {
	return func(b *OTelBridge) { b.minLevel = level }
}

// WithOTelContextFunc injects the active-context supplier.
func WithOTelContextFunc(fn ContextFunc) OTelOption {
	return func(b *OTelBridge) {
		if fn != nil {
			b.contextFn = fn
		}
	}
}

// NewOTelBridge creates the bridge. By default only warn and above are
// attached to spans.
func NewOTelBridge(opts ...OTelOption) *OTelBridge {
	b := &OTelBridge{
		minLevel:  loghub.LevelWarn,
		contextFn: context.Background,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name implements loghub.Transport.
func (b *OTelBridge) Name() string { return "otel" }

// Log implements loghub.Transport.
func (b *OTelBridge) Log(entry *loghub.LogEntry) error {
	if entry.LevelValue() < b.minLevel {
		return nil
	}
	span := trace.SpanFromContext(b.contextFn())
	if !span.SpanContext().IsValid() {
		return nil
	}

	attrs := []attribute.KeyValue{
		attribute.String("log.severity", entry.Level),
		attribute.String("log.message", entry.Message),
		attribute.String("log.module", entry.Module),
	}
	if entry.TraceID != "" {
		attrs = append(attrs, attribute.String("log.trace_id", entry.TraceID))
	}
	span.AddEvent("log", trace.WithAttributes(attrs...))

	if entry.LevelValue() >= loghub.LevelError {
		span.RecordError(errors.New(entry.Message))
		span.SetStatus(codes.Error, entry.Message)
	}
	return nil
}
