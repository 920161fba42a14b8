package storage

import (
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Histogram tracks latency distribution with percentile support
type Histogram struct {
	samples []float64 // Latencies in microseconds
	mu      sync.Mutex
	maxSize int // Maximum samples to retain
}

// NewHistogram creates a new histogram with a max sample size
func NewHistogram(maxSize int) *Histogram {
	if maxSize <= 0 {
		maxSize = 10000 // Default: keep last 10k samples
	}
	return &Histogram{
		samples: make([]float64, 0, maxSize),
		maxSize: maxSize,
	}
}

// Record adds a latency sample (in microseconds)
func (h *Histogram) Record(latencyUs float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	// If at capacity, drop the oldest sample (FIFO)
	if len(h.samples) >= h.maxSize {
		copy(h.samples, h.samples[1:])
		h.samples = h.samples[:len(h.samples)-1]
	}

	h.samples = append(h.samples, latencyUs)
}

// Percentile calculates the given percentile (0-100)
func (h *Histogram) Percentile(p float64) float64 {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.samples) == 0 {
		return 0
	}

	// Sort a copy so samples stay in arrival order for Record's FIFO drop
	sorted := make([]float64, len(h.samples))
	copy(sorted, h.samples)
	sort.Float64s(sorted)

	rank := (p / 100.0) * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))

	if lower == upper {
		return sorted[lower]
	}

	// Linear interpolation between neighbors
	weight := rank - float64(lower)
	return sorted[lower]*(1-weight) + sorted[upper]*weight
}

// Mean calculates the average latency
func (h *Histogram) Mean() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.samples) == 0 {
		return 0
	}

	sum := 0.0
	for _, v := range h.samples {
		sum += v
	}
	return sum / float64(len(h.samples))
}

// Count returns the number of samples
func (h *Histogram) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.samples)
}

// Reset clears all samples
func (h *Histogram) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.samples = h.samples[:0]
}

// HistogramSnapshot holds current percentile statistics
type HistogramSnapshot struct {
	Count int
	Mean  float64
	P50   float64
	P95   float64
	P99   float64
}

// Snapshot captures current histogram statistics
func (h *Histogram) Snapshot() HistogramSnapshot {
	return HistogramSnapshot{
		Count: h.Count(),
		Mean:  h.Mean(),
		P50:   h.Percentile(50),
		P95:   h.Percentile(95),
		P99:   h.Percentile(99),
	}
}

// Metrics tracks buffer pool and replacement strategy counters
type Metrics struct {
	// Buffer pool
	cacheHits        atomic.Uint64
	cacheMisses      atomic.Uint64
	evictions        atomic.Uint64
	dirtyFlushes     atomic.Uint64
	victimRejections atomic.Uint64

	// Replacement strategy
	ringHits        atomic.Uint64
	freeListHits    atomic.Uint64
	policyVictims   atomic.Uint64
	unpinSkips      atomic.Uint64
	bgwriterWakeups atomic.Uint64

	// Latency histograms (microseconds)
	victimSearchLatency *Histogram
	blockReadLatency    *Histogram
	blockWriteLatency   *Histogram

	startTime time.Time
	mu        sync.RWMutex
}

// NewMetrics creates a new metrics tracker
func NewMetrics() *Metrics {
	return &Metrics{
		startTime:           time.Now(),
		victimSearchLatency: NewHistogram(10000),
		blockReadLatency:    NewHistogram(10000),
		blockWriteLatency:   NewHistogram(10000),
	}
}

// Buffer pool counters

func (m *Metrics) RecordCacheHit()         { m.cacheHits.Add(1) }
func (m *Metrics) RecordCacheMiss()        { m.cacheMisses.Add(1) }
func (m *Metrics) RecordEviction()         { m.evictions.Add(1) }
func (m *Metrics) RecordDirtyFlush()       { m.dirtyFlushes.Add(1) }
func (m *Metrics) RecordVictimRejection()  { m.victimRejections.Add(1) }

// Strategy counters

func (m *Metrics) RecordRingHit()         { m.ringHits.Add(1) }
func (m *Metrics) RecordFreeListHit()     { m.freeListHits.Add(1) }
func (m *Metrics) RecordPolicyVictim()    { m.policyVictims.Add(1) }
func (m *Metrics) RecordUnpinSkipped()    { m.unpinSkips.Add(1) }
func (m *Metrics) RecordBgWriterWakeup()  { m.bgwriterWakeups.Add(1) }

// Latency recording

func (m *Metrics) RecordVictimSearchLatency(d time.Duration) {
	m.victimSearchLatency.Record(float64(d.Microseconds()))
}

func (m *Metrics) RecordBlockReadLatency(d time.Duration) {
	m.blockReadLatency.Record(float64(d.Microseconds()))
}

func (m *Metrics) RecordBlockWriteLatency(d time.Duration) {
	m.blockWriteLatency.Record(float64(d.Microseconds()))
}

// Getters

func (m *Metrics) GetCacheHits() uint64        { return m.cacheHits.Load() }
func (m *Metrics) GetCacheMisses() uint64      { return m.cacheMisses.Load() }
func (m *Metrics) GetEvictions() uint64        { return m.evictions.Load() }
func (m *Metrics) GetDirtyFlushes() uint64     { return m.dirtyFlushes.Load() }
func (m *Metrics) GetVictimRejections() uint64 { return m.victimRejections.Load() }
func (m *Metrics) GetRingHits() uint64         { return m.ringHits.Load() }
func (m *Metrics) GetFreeListHits() uint64     { return m.freeListHits.Load() }
func (m *Metrics) GetPolicyVictims() uint64    { return m.policyVictims.Load() }
func (m *Metrics) GetUnpinSkips() uint64       { return m.unpinSkips.Load() }
func (m *Metrics) GetBgWriterWakeups() uint64  { return m.bgwriterWakeups.Load() }

// GetCacheHitRate returns hits / (hits + misses), or 0 with no traffic
func (m *Metrics) GetCacheHitRate() float64 {
	hits := m.cacheHits.Load()
	misses := m.cacheMisses.Load()
	total := hits + misses
	if total == 0 {
		return 0.0
	}
	return float64(hits) / float64(total)
}

// GetVictimSearchLatency returns a snapshot of victim search latencies
func (m *Metrics) GetVictimSearchLatency() HistogramSnapshot {
	return m.victimSearchLatency.Snapshot()
}

// GetBlockReadLatency returns a snapshot of block read latencies
func (m *Metrics) GetBlockReadLatency() HistogramSnapshot {
	return m.blockReadLatency.Snapshot()
}

// GetBlockWriteLatency returns a snapshot of block write latencies
func (m *Metrics) GetBlockWriteLatency() HistogramSnapshot {
	return m.blockWriteLatency.Snapshot()
}

// GetUptime returns time since the metrics were created or reset
func (m *Metrics) GetUptime() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return time.Since(m.startTime)
}

// Reset resets all metrics (useful for testing)
func (m *Metrics) Reset() {
	m.cacheHits.Store(0)
	m.cacheMisses.Store(0)
	m.evictions.Store(0)
	m.dirtyFlushes.Store(0)
	m.victimRejections.Store(0)
	m.ringHits.Store(0)
	m.freeListHits.Store(0)
	m.policyVictims.Store(0)
	m.unpinSkips.Store(0)
	m.bgwriterWakeups.Store(0)

	m.victimSearchLatency.Reset()
	m.blockReadLatency.Reset()
	m.blockWriteLatency.Reset()

	m.mu.Lock()
	m.startTime = time.Now()
	m.mu.Unlock()
}

// LogMetrics logs all counters through the structured logger
func (m *Metrics) LogMetrics(logger *zap.Logger) {
	victim := m.GetVictimSearchLatency()

	logger.Info("buffer pool metrics",
		zap.Uint64("cache_hits", m.GetCacheHits()),
		zap.Uint64("cache_misses", m.GetCacheMisses()),
		zap.Float64("cache_hit_rate", m.GetCacheHitRate()),
		zap.Uint64("evictions", m.GetEvictions()),
		zap.Uint64("dirty_flushes", m.GetDirtyFlushes()),
		zap.Uint64("victim_rejections", m.GetVictimRejections()),
		zap.Uint64("ring_hits", m.GetRingHits()),
		zap.Uint64("free_list_hits", m.GetFreeListHits()),
		zap.Uint64("policy_victims", m.GetPolicyVictims()),
		zap.Uint64("unpin_skips", m.GetUnpinSkips()),
		zap.Uint64("bgwriter_wakeups", m.GetBgWriterWakeups()),
		zap.Int("victim_search_count", victim.Count),
		zap.Float64("victim_search_p50_us", victim.P50),
		zap.Float64("victim_search_p99_us", victim.P99),
		zap.Duration("uptime", m.GetUptime()),
	)
}

// Prometheus export. Metrics implements prometheus.Collector so the
// counters can be registered with any registry and scraped.

var (
	descCacheHits = prometheus.NewDesc(
		"hexpool_buffer_cache_hits_total", "Buffer table lookups served from the pool", nil, nil)
	descCacheMisses = prometheus.NewDesc(
		"hexpool_buffer_cache_misses_total", "Buffer table lookups that required a page fault", nil, nil)
	descEvictions = prometheus.NewDesc(
		"hexpool_buffer_evictions_total", "Pages evicted from the pool", nil, nil)
	descDirtyFlushes = prometheus.NewDesc(
		"hexpool_buffer_dirty_flushes_total", "Dirty page write-outs", nil, nil)
	descVictimRejections = prometheus.NewDesc(
		"hexpool_buffer_victim_rejections_total", "Dirty victims rejected by bulk-read rings", nil, nil)
	descRingHits = prometheus.NewDesc(
		"hexpool_strategy_ring_hits_total", "Victims recycled from access strategy rings", nil, nil)
	descFreeListHits = prometheus.NewDesc(
		"hexpool_strategy_free_list_hits_total", "Victims taken from the free list", nil, nil)
	descPolicyVictims = prometheus.NewDesc(
		"hexpool_strategy_policy_victims_total", "Victims chosen by the replacement policy", nil, nil)
	descUnpinSkips = prometheus.NewDesc(
		"hexpool_strategy_unpin_skips_total", "Queue updates skipped on strategy latch contention", nil, nil)
	descBgWriterWakeups = prometheus.NewDesc(
		"hexpool_strategy_bgwriter_wakeups_total", "Background writer latch signals", nil, nil)
)

// Describe implements prometheus.Collector
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	ch <- descCacheHits
	ch <- descCacheMisses
	ch <- descEvictions
	ch <- descDirtyFlushes
	ch <- descVictimRejections
	ch <- descRingHits
	ch <- descFreeListHits
	ch <- descPolicyVictims
	ch <- descUnpinSkips
	ch <- descBgWriterWakeups
}

// Collect implements prometheus.Collector
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	counter := func(desc *prometheus.Desc, v uint64) prometheus.Metric {
		return prometheus.MustNewConstMetric(desc, prometheus.CounterValue, float64(v))
	}
	ch <- counter(descCacheHits, m.GetCacheHits())
	ch <- counter(descCacheMisses, m.GetCacheMisses())
	ch <- counter(descEvictions, m.GetEvictions())
	ch <- counter(descDirtyFlushes, m.GetDirtyFlushes())
	ch <- counter(descVictimRejections, m.GetVictimRejections())
	ch <- counter(descRingHits, m.GetRingHits())
	ch <- counter(descFreeListHits, m.GetFreeListHits())
	ch <- counter(descPolicyVictims, m.GetPolicyVictims())
	ch <- counter(descUnpinSkips, m.GetUnpinSkips())
	ch <- counter(descBgWriterWakeups, m.GetBgWriterWakeups())
}
