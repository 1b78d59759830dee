package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const metricPrefix = "harvester."

// Metrics is the fire-and-forget counter/timer surface of the ingester. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	requests        metric.Int64Counter
	errors          metric.Int64Counter
	stored          metric.Int64Counter
	requestDuration metric.Float64Histogram
	jobDuration     metric.Float64Histogram
	meter           metric.Meter
}

// NewMetrics creates the instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	return NewMetricsFromMeter(otel.Meter(serviceName))
}

// NewMetricsFromMeter creates the instruments on meter.
func NewMetricsFromMeter(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{meter: meter}
	var err error

	if m.requests, err = meter.Int64Counter(metricPrefix+"requests",
		metric.WithDescription("Outbound requests by kind")); err != nil {
		return nil, fmt.Errorf("create requests counter: %w", err)
	}
	if m.errors, err = meter.Int64Counter(metricPrefix+"errors",
		metric.WithDescription("Failures by kind")); err != nil {
		return nil, fmt.Errorf("create errors counter: %w", err)
	}
	if m.stored, err = meter.Int64Counter(metricPrefix+"rows.stored",
		metric.WithDescription("Rows written by table")); err != nil {
		return nil, fmt.Errorf("create stored counter: %w", err)
	}
	if m.requestDuration, err = meter.Float64Histogram(metricPrefix+"request.duration",
		metric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("create request histogram: %w", err)
	}
	if m.jobDuration, err = meter.Float64Histogram(metricPrefix+"job.duration",
		metric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("create job histogram: %w", err)
	}

	return m, nil
}

// Request records one outbound request of the given kind.
func (m *Metrics) Request(ctx context.Context, kind string, took time.Duration, err error) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("kind", kind), attribute.Bool("ok", err == nil))
	m.requests.Add(ctx, 1, attrs)
	m.requestDuration.Record(ctx, took.Seconds(), attrs)
}

// Error counts a failure of the given kind.
func (m *Metrics) Error(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.errors.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// Stored counts rows written to table.
func (m *Metrics) Stored(ctx context.Context, table string, rows int) {
	if m == nil || rows == 0 {
		return
	}
	m.stored.Add(ctx, int64(rows), metric.WithAttributes(attribute.String("table", table)))
}

// Job records the duration of one scheduled run.
func (m *Metrics) Job(ctx context.Context, name string, took time.Duration, err error) {
	if m == nil {
		return
	}
	m.jobDuration.Record(ctx, took.Seconds(),
		metric.WithAttributes(attribute.String("job", name), attribute.Bool("ok", err == nil)))
}

// ObserveGauge registers a gauge that reads its value from fn on every collection.
func (m *Metrics) ObserveGauge(name string, fn func() int) error {
	if m == nil {
		return nil
	}
	_, err := m.meter.Int64ObservableGauge(metricPrefix+name,
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(fn()))
			return nil
		}))
	if err != nil {
		return fmt.Errorf("create gauge %s: %w", name, err)
	}
	return nil
}
