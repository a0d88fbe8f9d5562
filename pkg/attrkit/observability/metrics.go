package observability

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsRecorder records SDK metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordEnqueue records acceptance of one event into the queue.
	RecordEnqueue(ctx context.Context, eventName string)

	// RecordDelivery records one batch delivery attempt.
	RecordDelivery(ctx context.Context, outcome string, events int, duration time.Duration)

	// RecordDrop records a non-fatal event loss.
	RecordDrop(ctx context.Context, reason string)

	// RecordConversionValue records a conversion value update.
	RecordConversionValue(ctx context.Context, value int, locked bool)
}

// otelMetrics implements MetricsRecorder using OpenTelemetry.
type otelMetrics struct {
	enqueued        metric.Int64Counter
	deliveries      metric.Int64Counter
	deliveredEvents metric.Int64Counter
	deliveryLatency metric.Float64Histogram
	drops           metric.Int64Counter
	conversionValue metric.Int64Histogram
}

// NewMetricsRecorder returns a MetricsRecorder that uses OpenTelemetry.
// If instrument creation fails, it returns a no-op recorder.
//
// The recorder uses the global OTel meter provider. Configure the
// provider before calling this function:
//
//	import "go.opentelemetry.io/otel"
//	otel.SetMeterProvider(yourProvider)
func NewMetricsRecorder() MetricsRecorder {
	m, err := newOtelMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

func newOtelMetrics() (*otelMetrics, error) {
	meter := otel.Meter("attrkit")

	enqueued, err := meter.Int64Counter("attrkit.events.enqueued",
		metric.WithDescription("Number of events accepted into the queue"),
	)
	if err != nil {
		return nil, err
	}

	deliveries, err := meter.Int64Counter("attrkit.deliveries",
		metric.WithDescription("Number of batch delivery attempts"),
	)
	if err != nil {
		return nil, err
	}

	deliveredEvents, err := meter.Int64Counter("attrkit.deliveries.events",
		metric.WithDescription("Number of events included in delivery attempts"),
	)
	if err != nil {
		return nil, err
	}

	deliveryLatency, err := meter.Float64Histogram("attrkit.delivery.latency_ms",
		metric.WithDescription("Batch delivery latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	drops, err := meter.Int64Counter("attrkit.events.dropped",
		metric.WithDescription("Number of events dropped without delivery"),
	)
	if err != nil {
		return nil, err
	}

	conversionValue, err := meter.Int64Histogram("attrkit.conversion.value",
		metric.WithDescription("Conversion value updates"),
	)
	if err != nil {
		return nil, err
	}

	return &otelMetrics{
		enqueued:        enqueued,
		deliveries:      deliveries,
		deliveredEvents: deliveredEvents,
		deliveryLatency: deliveryLatency,
		drops:           drops,
		conversionValue: conversionValue,
	}, nil
}

// RecordEnqueue records acceptance of one event.
func (m *otelMetrics) RecordEnqueue(ctx context.Context, eventName string) {
	m.enqueued.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event_name", eventName),
	))
}

// RecordDelivery records one batch delivery attempt.
func (m *otelMetrics) RecordDelivery(ctx context.Context, outcome string, events int, duration time.Duration) {
	attrs := []attribute.KeyValue{
		attribute.String("outcome", outcome),
	}
	m.deliveries.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.deliveredEvents.Add(ctx, int64(events), metric.WithAttributes(attrs...))
	m.deliveryLatency.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))
}

// RecordDrop records a non-fatal event loss.
func (m *otelMetrics) RecordDrop(ctx context.Context, reason string) {
	m.drops.Add(ctx, 1, metric.WithAttributes(
		attribute.String("reason", reason),
	))
}

// RecordConversionValue records a conversion value update.
func (m *otelMetrics) RecordConversionValue(ctx context.Context, value int, locked bool) {
	m.conversionValue.Record(ctx, int64(value), metric.WithAttributes(
		attribute.Bool("locked", locked),
	))
}
