package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}

	out := make(map[string]metricdata.Aggregation)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func TestMetricsRecords(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer provider.Shutdown(context.Background())

	m, err := NewMetricsFromMeter(provider.Meter("test"))
	if err != nil {
		t.Fatalf("NewMetricsFromMeter() error = %v", err)
	}

	ctx := context.Background()
	m.Request(ctx, "feed", 10*time.Millisecond, nil)
	m.Request(ctx, "feed", 20*time.Millisecond, errors.New("boom"))
	m.Error(ctx, "tags")
	m.Stored(ctx, "items", 16)
	m.Stored(ctx, "items", 0)
	m.Job(ctx, "sizes", time.Second, nil)

	queueLen := 3
	if err := m.ObserveGauge("queue.users", func() int { return queueLen }); err != nil {
		t.Fatalf("ObserveGauge() error = %v", err)
	}

	data := collect(t, reader)

	requests, ok := data["harvester.requests"].(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("requests metric missing or wrong type: %T", data["harvester.requests"])
	}
	var total int64
	for _, dp := range requests.DataPoints {
		total += dp.Value
	}
	if total != 2 {
		t.Errorf("expected 2 requests, got %d", total)
	}

	stored, ok := data["harvester.rows.stored"].(metricdata.Sum[int64])
	if !ok || len(stored.DataPoints) != 1 || stored.DataPoints[0].Value != 16 {
		t.Errorf("unexpected stored metric: %+v", data["harvester.rows.stored"])
	}

	gauge, ok := data["harvester.queue.users"].(metricdata.Gauge[int64])
	if !ok || len(gauge.DataPoints) != 1 || gauge.DataPoints[0].Value != 3 {
		t.Errorf("unexpected queue gauge: %+v", data["harvester.queue.users"])
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	ctx := context.Background()

	m.Request(ctx, "feed", time.Second, nil)
	m.Error(ctx, "feed")
	m.Stored(ctx, "items", 1)
	m.Job(ctx, "sizes", time.Second, nil)
	if err := m.ObserveGauge("queue.users", func() int { return 0 }); err != nil {
		t.Errorf("ObserveGauge on nil metrics: %v", err)
	}
}
