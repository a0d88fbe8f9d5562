package observability

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// setupMetricsTest installs a manual-reader meter provider for the test.
func setupMetricsTest(t *testing.T) *sdkmetric.ManualReader {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	original := otel.GetMeterProvider()
	otel.SetMeterProvider(provider)

	t.Cleanup(func() {
		otel.SetMeterProvider(original)
		if err := provider.Shutdown(context.Background()); err != nil {
			t.Logf("Error shutting down meter provider: %v", err)
		}
	})

	return reader
}

func collectMetrics(t *testing.T, reader *sdkmetric.ManualReader) *metricdata.ResourceMetrics {
	var rm metricdata.ResourceMetrics
	err := reader.Collect(context.Background(), &rm)
	require.NoError(t, err)
	return &rm
}

func findMetric(rm *metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func TestNewMetricsRecorder(t *testing.T) {
	setupMetricsTest(t)

	recorder := NewMetricsRecorder()
	require.NotNil(t, recorder)

	_, isNoop := recorder.(NoopMetrics)
	assert.False(t, isNoop, "Expected real metrics recorder, got noop")
}

func TestRecordEnqueue(t *testing.T) {
	reader := setupMetricsTest(t)
	recorder := NewMetricsRecorder()

	recorder.RecordEnqueue(context.Background(), "purchase")
	recorder.RecordEnqueue(context.Background(), "purchase")
	recorder.RecordEnqueue(context.Background(), "screen_view")

	rm := collectMetrics(t, reader)
	m := findMetric(rm, "attrkit.events.enqueued")
	require.NotNil(t, m)

	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok)

	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	assert.Equal(t, int64(3), total)
}

func TestRecordDelivery(t *testing.T) {
	reader := setupMetricsTest(t)
	recorder := NewMetricsRecorder()

	recorder.RecordDelivery(context.Background(), "success", 25, 120*time.Millisecond)
	recorder.RecordDelivery(context.Background(), "retryable", 25, 30*time.Millisecond)

	rm := collectMetrics(t, reader)

	deliveries := findMetric(rm, "attrkit.deliveries")
	require.NotNil(t, deliveries)

	events := findMetric(rm, "attrkit.deliveries.events")
	require.NotNil(t, events)
	sum, ok := events.Data.(metricdata.Sum[int64])
	require.True(t, ok)
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	assert.Equal(t, int64(50), total)

	latency := findMetric(rm, "attrkit.delivery.latency_ms")
	require.NotNil(t, latency)
	hist, ok := latency.Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	var count uint64
	for _, dp := range hist.DataPoints {
		count += dp.Count
	}
	assert.Equal(t, uint64(2), count)
}

func TestRecordDropAndConversionValue(t *testing.T) {
	reader := setupMetricsTest(t)
	recorder := NewMetricsRecorder()

	recorder.RecordDrop(context.Background(), "retry ceiling exceeded")
	recorder.RecordConversionValue(context.Background(), 32, true)

	rm := collectMetrics(t, reader)
	assert.NotNil(t, findMetric(rm, "attrkit.events.dropped"))
	assert.NotNil(t, findMetric(rm, "attrkit.conversion.value"))
}

func TestNoopMetricsIsSafe(t *testing.T) {
	var recorder MetricsRecorder = NoopMetrics{}

	recorder.RecordEnqueue(context.Background(), "x")
	recorder.RecordDelivery(context.Background(), "success", 1, time.Millisecond)
	recorder.RecordDrop(context.Background(), "reason")
	recorder.RecordConversionValue(context.Background(), 1, false)
}
