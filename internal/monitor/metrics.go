package monitor

import (
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// SystemMetrics tracks engine throughput and API performance. Counters are
// atomics so the hot paths never contend on a lock; latency goes through a
// sliding-window histogram with lazily computed percentiles.
type SystemMetrics struct {
	APILatency *LatencyHistogram

	apiRequests     uint64
	apiErrors       uint64
	signalsQueued   uint64
	ordersFilled    uint64
	positionsClosed uint64
	priceUpdates    uint64
}

func NewSystemMetrics() *SystemMetrics {
	return &SystemMetrics{
		APILatency: NewLatencyHistogram(1000),
	}
}

// LatencyHistogram keeps a sliding window of samples in milliseconds.
// Stats are recomputed only when new samples arrived since the last call.
type LatencyHistogram struct {
	mu          sync.Mutex
	samples     []float64
	maxSize     int
	dirty       bool
	cachedStats LatencyStats
}

func NewLatencyHistogram(size int) *LatencyHistogram {
	if size <= 0 {
		size = 1000
	}
	return &LatencyHistogram{
		samples: make([]float64, 0, size),
		maxSize: size,
		dirty:   true,
	}
}

// Record adds a latency sample in milliseconds, evicting the oldest sample
// once the window is full.
func (h *LatencyHistogram) Record(latencyMs float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.samples) >= h.maxSize {
		h.samples = h.samples[1:]
	}
	h.samples = append(h.samples, latencyMs)
	h.dirty = true
}

// RecordDuration converts the duration to milliseconds and records it.
func (h *LatencyHistogram) RecordDuration(d time.Duration) {
	h.Record(float64(d.Nanoseconds()) / 1e6)
}

// Stats returns min, max, avg, p50, p95, p99 over the current window.
func (h *LatencyHistogram) Stats() LatencyStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.dirty && h.cachedStats.Count > 0 {
		return h.cachedStats
	}

	n := len(h.samples)
	if n == 0 {
		return LatencyStats{}
	}

	sorted := make([]float64, n)
	copy(sorted, h.samples)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}

	h.cachedStats = LatencyStats{
		Min:   sorted[0],
		Max:   sorted[n-1],
		Avg:   sum / float64(n),
		P50:   sorted[n/2],
		P95:   sorted[int(float64(n)*0.95)],
		P99:   sorted[int(float64(n)*0.99)],
		Count: n,
	}
	h.dirty = false
	return h.cachedStats
}

// LatencyStats holds computed latency statistics in milliseconds.
type LatencyStats struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
	Count int     `json:"count"`
}

func (m *SystemMetrics) IncrementAPI() {
	atomic.AddUint64(&m.apiRequests, 1)
}

func (m *SystemMetrics) IncrementAPIErrors() {
	atomic.AddUint64(&m.apiErrors, 1)
}

func (m *SystemMetrics) IncrementSignals() {
	atomic.AddUint64(&m.signalsQueued, 1)
}

func (m *SystemMetrics) IncrementOrders() {
	atomic.AddUint64(&m.ordersFilled, 1)
}

func (m *SystemMetrics) IncrementPositionsClosed() {
	atomic.AddUint64(&m.positionsClosed, 1)
}

func (m *SystemMetrics) IncrementPrices() {
	atomic.AddUint64(&m.priceUpdates, 1)
}

// MetricsSnapshot is a point-in-time view served by the control API.
type MetricsSnapshot struct {
	APILatency      LatencyStats `json:"api_latency"`
	APIRequests     uint64       `json:"api_requests"`
	APIErrors       uint64       `json:"api_errors"`
	SignalsQueued   uint64       `json:"signals_queued"`
	OrdersFilled    uint64       `json:"orders_filled"`
	PositionsClosed uint64       `json:"positions_closed"`
	PriceUpdates    uint64       `json:"price_updates"`
	GoroutineCount  int          `json:"goroutine_count"`
	HeapAlloc       uint64       `json:"heap_alloc_bytes"`
	HeapSys         uint64       `json:"heap_sys_bytes"`
	Timestamp       time.Time    `json:"timestamp"`
}

func (m *SystemMetrics) GetSnapshot() MetricsSnapshot {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	return MetricsSnapshot{
		APILatency:      m.APILatency.Stats(),
		APIRequests:     atomic.LoadUint64(&m.apiRequests),
		APIErrors:       atomic.LoadUint64(&m.apiErrors),
		SignalsQueued:   atomic.LoadUint64(&m.signalsQueued),
		OrdersFilled:    atomic.LoadUint64(&m.ordersFilled),
		PositionsClosed: atomic.LoadUint64(&m.positionsClosed),
		PriceUpdates:    atomic.LoadUint64(&m.priceUpdates),
		GoroutineCount:  runtime.NumGoroutine(),
		HeapAlloc:       memStats.HeapAlloc,
		HeapSys:         memStats.HeapSys,
		Timestamp:       time.Now(),
	}
}
