package storage

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

func TestMetricsCounters(t *testing.T) {
	m := NewMetrics()

	m.RecordCacheHit()
	m.RecordCacheHit()
	m.RecordCacheMiss()
	m.RecordRingHit()
	m.RecordFreeListHit()
	m.RecordPolicyVictim()
	m.RecordUnpinSkipped()
	m.RecordBgWriterWakeup()
	m.RecordEviction()
	m.RecordDirtyFlush()
	m.RecordVictimRejection()

	if m.GetCacheHits() != 2 || m.GetCacheMisses() != 1 {
		t.Error("cache counters wrong")
	}
	if rate := m.GetCacheHitRate(); rate < 0.66 || rate > 0.67 {
		t.Errorf("expected hit rate ~2/3, got %f", rate)
	}
	if m.GetRingHits() != 1 || m.GetFreeListHits() != 1 || m.GetPolicyVictims() != 1 {
		t.Error("strategy counters wrong")
	}
	if m.GetUnpinSkips() != 1 || m.GetBgWriterWakeups() != 1 {
		t.Error("contention counters wrong")
	}
	if m.GetEvictions() != 1 || m.GetDirtyFlushes() != 1 || m.GetVictimRejections() != 1 {
		t.Error("pool counters wrong")
	}
}

func TestMetricsHitRateEmpty(t *testing.T) {
	m := NewMetrics()
	if m.GetCacheHitRate() != 0 {
		t.Error("hit rate with no traffic should be 0")
	}
}

func TestMetricsReset(t *testing.T) {
	m := NewMetrics()
	m.RecordCacheHit()
	m.RecordVictimSearchLatency(time.Millisecond)

	m.Reset()

	if m.GetCacheHits() != 0 {
		t.Error("counters should reset")
	}
	if m.GetVictimSearchLatency().Count != 0 {
		t.Error("histograms should reset")
	}
}

func TestHistogramPercentiles(t *testing.T) {
	h := NewHistogram(1000)

	for i := 1; i <= 100; i++ {
		h.Record(float64(i))
	}

	if h.Count() != 100 {
		t.Fatalf("expected 100 samples, got %d", h.Count())
	}

	p50 := h.Percentile(50)
	if p50 < 49 || p50 > 52 {
		t.Errorf("expected p50 near 50, got %f", p50)
	}

	p99 := h.Percentile(99)
	if p99 < 98 || p99 > 100 {
		t.Errorf("expected p99 near 99, got %f", p99)
	}

	mean := h.Mean()
	if mean < 50 || mean > 51 {
		t.Errorf("expected mean 50.5, got %f", mean)
	}
}

func TestHistogramCapacity(t *testing.T) {
	h := NewHistogram(10)

	for i := 0; i < 25; i++ {
		h.Record(float64(i))
	}

	// Oldest samples fell off the front.
	if h.Count() != 10 {
		t.Errorf("expected 10 retained samples, got %d", h.Count())
	}
	if min := h.Percentile(0); min != 15 {
		t.Errorf("expected oldest retained sample 15, got %f", min)
	}
}

func TestHistogramEmpty(t *testing.T) {
	h := NewHistogram(10)
	if h.Percentile(50) != 0 || h.Mean() != 0 {
		t.Error("empty histogram should report zeroes")
	}
}

func TestMetricsPrometheusCollector(t *testing.T) {
	m := NewMetrics()
	m.RecordCacheHit()
	m.RecordRingHit()

	registry := prometheus.NewRegistry()
	if err := registry.Register(m); err != nil {
		t.Fatalf("failed to register collector: %v", err)
	}

	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("gather failed: %v", err)
	}
	if len(families) != 10 {
		t.Errorf("expected 10 metric families, got %d", len(families))
	}

	found := false
	for _, fam := range families {
		if fam.GetName() == "hexpool_buffer_cache_hits_total" {
			found = true
			if v := fam.GetMetric()[0].GetCounter().GetValue(); v != 1 {
				t.Errorf("expected cache hits 1, got %f", v)
			}
		}
	}
	if !found {
		t.Error("cache hits metric not exported")
	}
}

func TestMetricsLogMetrics(t *testing.T) {
	m := NewMetrics()
	m.RecordCacheHit()
	m.RecordVictimSearchLatency(100 * time.Microsecond)

	// Must not panic; the no-op logger still evaluates every field.
	m.LogMetrics(zap.NewNop())
}
