package observe

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func TestRecordEmbed(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordEmbed(ctx, "query", "single", "ok")
	m.RecordEmbed(ctx, "query", "single", "ok")
	m.RecordEmbed(ctx, "document", "batch", "encode_failure")

	met := findMetric(collect(t, reader), "embedserver.embed.requests")
	if met == nil {
		t.Fatal("embed requests metric not found")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("unexpected data type %T", met.Data)
	}

	want := attribute.NewSet(
		attribute.String("intent", "query"),
		attribute.String("path", "single"),
		attribute.String("outcome", "ok"),
	)
	var found bool
	for _, dp := range sum.DataPoints {
		if dp.Attributes.Equals(&want) {
			found = true
			if dp.Value != 2 {
				t.Errorf("query/single/ok = %d, want 2", dp.Value)
			}
		}
	}
	if !found {
		t.Error("query/single/ok data point missing")
	}
	if len(sum.DataPoints) != 2 {
		t.Errorf("data points = %d, want 2", len(sum.DataPoints))
	}
}

func TestRecordCacheLookup(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()
	m.RecordCacheLookup(ctx, true)
	m.RecordCacheLookup(ctx, false)
	m.RecordCacheLookup(ctx, false)

	met := findMetric(collect(t, reader), "embedserver.cache.lookups")
	if met == nil {
		t.Fatal("cache lookups metric not found")
	}
	sum := met.Data.(metricdata.Sum[int64])
	got := map[string]int64{}
	for _, dp := range sum.DataPoints {
		v, _ := dp.Attributes.Value("result")
		got[v.AsString()] = dp.Value
	}
	if got["hit"] != 1 || got["miss"] != 2 {
		t.Errorf("lookups = %v, want hit=1 miss=2", got)
	}
}

func TestObserveCache(t *testing.T) {
	m, reader := newTestMetrics(t)
	snap := CacheSnapshot{Entries: 3, Capacity: 8, Evictions: 5}
	if err := m.ObserveCache(func() CacheSnapshot { return snap }); err != nil {
		t.Fatal(err)
	}

	rm := collect(t, reader)
	entries := findMetric(rm, "embedserver.cache.entries")
	if entries == nil {
		t.Fatal("cache entries metric not found")
	}
	if g := entries.Data.(metricdata.Gauge[int64]); g.DataPoints[0].Value != 3 {
		t.Errorf("entries = %d, want 3", g.DataPoints[0].Value)
	}
	ev := findMetric(rm, "embedserver.cache.evictions")
	if ev == nil {
		t.Fatal("cache evictions metric not found")
	}
	if s := ev.Data.(metricdata.Sum[int64]); s.DataPoints[0].Value != 5 {
		t.Errorf("evictions = %d, want 5", s.DataPoints[0].Value)
	}
}

func TestNopMetrics(t *testing.T) {
	m := NopMetrics()
	m.RecordEmbed(context.Background(), "query", "single", "ok")
	m.EncodeDuration.Record(context.Background(), 0.1)
}

func TestProvider_Handler(t *testing.T) {
	ctx := context.Background()
	p, err := InitProvider(ctx, ProviderConfig{ServiceName: "embedserver-test"})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = p.Shutdown(ctx) })

	m, err := NewMetrics(p.MeterProvider)
	if err != nil {
		t.Fatal(err)
	}
	m.RecordEmbed(ctx, "document", "batch", "ok")

	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 200 {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "embedserver_embed_requests") {
		t.Error("scrape output missing embed requests counter")
	}
	if !strings.Contains(body, "go_goroutines") {
		t.Error("scrape output missing go collector")
	}
}
