package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Tracer uses the global OTel tracer provider.
var tracer = otel.Tracer("attrkit")

// SpanManager handles trace span lifecycle.
// Use NewSpanManager() for OTel tracing or NoopSpanManager{} when disabled.
type SpanManager interface {
	// StartFlushSpan starts a span for one flush cycle.
	StartFlushSpan(ctx context.Context, trigger string) (context.Context, trace.Span)

	// StartSendSpan starts a span for one batch send, as a child of the
	// flush span.
	StartSendSpan(ctx context.Context, batchSize int) (context.Context, trace.Span)

	// EndSpanWithError completes a span, optionally recording an error.
	EndSpanWithError(span trace.Span, err error)

	// AddSpanEvent adds an event to the current span in context.
	AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue)
}

// otelSpanManager implements SpanManager using OpenTelemetry.
type otelSpanManager struct{}

// NewSpanManager returns a SpanManager that uses OpenTelemetry.
//
// The span manager uses the global OTel tracer provider. Configure the
// provider before calling this function.
func NewSpanManager() SpanManager {
	return &otelSpanManager{}
}

func (m *otelSpanManager) StartFlushSpan(ctx context.Context, trigger string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "attrkit.flush",
		trace.WithAttributes(attribute.String("trigger", trigger)),
	)
}

func (m *otelSpanManager) StartSendSpan(ctx context.Context, batchSize int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "attrkit.send",
		trace.WithAttributes(attribute.Int("batch_size", batchSize)),
	)
}

func (m *otelSpanManager) EndSpanWithError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

func (m *otelSpanManager) AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	span.AddEvent(name, trace.WithAttributes(attrs...))
}
