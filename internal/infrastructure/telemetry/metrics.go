package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Outcome labels.
const (
	OutcomeOK       = "ok"
	OutcomeAbsent   = "absent"
	OutcomeError    = "error"
	OutcomeNotFound = "not_found"
	OutcomeInvalid  = "invalid"
)

// Metrics records service-level instruments. Safe for concurrent use.
type Metrics struct {
	cacheLookups  metric.Int64Counter
	storeCalls    metric.Int64Counter
	storeDuration metric.Float64Histogram
	operations    metric.Int64Counter
}

func NewMetrics(meter metric.Meter) (*Metrics, error) {
	cacheLookups, err := meter.Int64Counter(
		"kv.cache.lookups",
		metric.WithDescription("Cache lookups by result"),
		metric.WithUnit("{lookup}"),
	)
	if err != nil {
		return nil, err
	}

	storeCalls, err := meter.Int64Counter(
		"kv.store.calls",
		metric.WithDescription("Backing store calls by operation and outcome"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, err
	}

	storeDuration, err := meter.Float64Histogram(
		"kv.store.duration_ms",
		metric.WithDescription("Backing store call duration including connection wait"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	operations, err := meter.Int64Counter(
		"kv.operations",
		metric.WithDescription("Create/Read/Delete operations by outcome"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		cacheLookups:  cacheLookups,
		storeCalls:    storeCalls,
		storeDuration: storeDuration,
		operations:    operations,
	}, nil
}

// NoopMetrics discards everything.
func NoopMetrics() *Metrics {
	m, err := NewMetrics(noop.NewMeterProvider().Meter("noop"))
	if err != nil {
		panic(err)
	}
	return m
}

func (m *Metrics) RecordCacheLookup(ctx context.Context, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

func (m *Metrics) RecordStoreCall(ctx context.Context, op string, outcome string, duration time.Duration) {
	opt := metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("outcome", outcome),
	)
	m.storeCalls.Add(ctx, 1, opt)
	m.storeDuration.Record(ctx, float64(duration.Microseconds())/1000, opt)
}

func (m *Metrics) RecordOperation(ctx context.Context, op string, outcome string) {
	m.operations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("outcome", outcome),
	))
}

// GaugeSources are sampled on every collection.
type GaugeSources struct {
	CacheEntries func() int64
	PoolInUse    func() int64
	QueueDepth   func() int64
	ActiveTasks  func() int64
}

// RegisterGauges wires observable gauges. Nil sources are skipped.
func RegisterGauges(meter metric.Meter, src GaugeSources) error {
	gauges := []struct {
		name string
		desc string
		fn   func() int64
	}{
		{"kv.cache.entries", "Entries currently cached", src.CacheEntries},
		{"kv.pool.in_use", "Connections checked out", src.PoolInUse},
		{"kv.worker.queue_depth", "Tasks waiting for a worker", src.QueueDepth},
		{"kv.worker.active", "Tasks currently running", src.ActiveTasks},
	}

	for _, g := range gauges {
		if g.fn == nil {
			continue
		}
		fn := g.fn
		if _, err := meter.Int64ObservableGauge(
			g.name,
			metric.WithDescription(g.desc),
			metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
				o.Observe(fn())
				return nil
			}),
		); err != nil {
			return err
		}
	}
	return nil
}
