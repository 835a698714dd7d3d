// Package observe provides OpenTelemetry metrics and tracing for the embedding server.
//
// Instruments are created from a [metric.MeterProvider]; [InitProvider] wires a Prometheus
// exporter so they can be scraped from /metrics. Tests should build [Metrics] from a
// provider with a ManualReader instead of touching the global one.
package observe

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/hyperjump/embedserver"

// Metrics holds all instruments. Safe for concurrent use.
type Metrics struct {
	meter metric.Meter

	// ModelLoadDuration records how long loading the model took.
	ModelLoadDuration metric.Float64Histogram

	// EncodeDuration tracks model encode latency. Attribute "path" is "single" or "batch".
	EncodeDuration metric.Float64Histogram

	// BatchSize records the number of texts per encode call.
	BatchSize metric.Int64Histogram

	// EmbedRequests counts engine calls by "intent", "path" and "outcome".
	EmbedRequests metric.Int64Counter

	// CacheLookups counts single-item cache lookups by "result" (hit or miss).
	CacheLookups metric.Int64Counter

	// HTTPRequestDuration tracks HTTP handling time by "method", "route" and "status".
	HTTPRequestDuration metric.Float64Histogram
}

var latencyBuckets = []float64{
	0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
}

var batchBuckets = []float64{1, 2, 4, 8, 16, 32, 64, 128, 256}

// NewMetrics creates all instruments from mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{meter: m}

	if met.ModelLoadDuration, err = m.Float64Histogram("embedserver.model.load.duration",
		metric.WithDescription("Time taken to load the embedding model."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 30, 60, 120, 300, 600),
	); err != nil {
		return nil, err
	}
	if met.EncodeDuration, err = m.Float64Histogram("embedserver.encode.duration",
		metric.WithDescription("Latency of model encode calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.BatchSize, err = m.Int64Histogram("embedserver.encode.batch_size",
		metric.WithDescription("Number of texts passed to a single encode call."),
		metric.WithExplicitBucketBoundaries(batchBuckets...),
	); err != nil {
		return nil, err
	}
	if met.EmbedRequests, err = m.Int64Counter("embedserver.embed.requests",
		metric.WithDescription("Embed calls by intent, dispatch path and outcome."),
	); err != nil {
		return nil, err
	}
	if met.CacheLookups, err = m.Int64Counter("embedserver.cache.lookups",
		metric.WithDescription("Single-item result cache lookups by result."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("embedserver.http.request.duration",
		metric.WithDescription("HTTP request processing time."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	return met, nil
}

// NopMetrics returns instruments that record nothing.
func NopMetrics() *Metrics {
	m, err := NewMetrics(noop.NewMeterProvider())
	if err != nil {
		panic("observe: noop meter failed: " + err.Error())
	}
	return m
}

// CacheSnapshot is a point-in-time view of the result cache.
type CacheSnapshot struct {
	Entries   int64
	Capacity  int64
	Evictions int64
}

// ObserveCache registers asynchronous instruments that read snapshot on each collection.
func (m *Metrics) ObserveCache(snapshot func() CacheSnapshot) error {
	entries, err := m.meter.Int64ObservableGauge("embedserver.cache.entries",
		metric.WithDescription("Entries currently held by the result cache."))
	if err != nil {
		return err
	}
	capacity, err := m.meter.Int64ObservableGauge("embedserver.cache.capacity",
		metric.WithDescription("Maximum entries the result cache holds."))
	if err != nil {
		return err
	}
	evictions, err := m.meter.Int64ObservableCounter("embedserver.cache.evictions",
		metric.WithDescription("Entries evicted from the result cache."))
	if err != nil {
		return err
	}
	_, err = m.meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		s := snapshot()
		o.ObserveInt64(entries, s.Entries)
		o.ObserveInt64(capacity, s.Capacity)
		o.ObserveInt64(evictions, s.Evictions)
		return nil
	}, entries, capacity, evictions)
	return err
}

// RecordEmbed counts one engine call.
func (m *Metrics) RecordEmbed(ctx context.Context, intent, path, outcome string) {
	m.EmbedRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("intent", intent),
		attribute.String("path", path),
		attribute.String("outcome", outcome),
	))
}

// RecordCacheLookup counts one single-item cache lookup.
func (m *Metrics) RecordCacheLookup(ctx context.Context, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}
