package monitor

import (
	"sort"
	"sync"
	"time"
)

// LatencyHistogram keeps a sliding window of latency samples (ms) and
// computes percentiles lazily.
type LatencyHistogram struct {
	mu      sync.Mutex
	samples []float64
	maxSize int
	next    int
	full    bool
	dirty   bool
	cached  LatencyStats
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

func NewLatencyHistogram(size int) *LatencyHistogram {
	if size <= 0 {
		size = 1000
	}
	return &LatencyHistogram{samples: make([]float64, size), maxSize: size, dirty: true}
}

// Record adds a sample, overwriting the oldest once the window is full.
func (h *LatencyHistogram) Record(ms float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.samples[h.next] = ms
	h.next = (h.next + 1) % h.maxSize
	if h.next == 0 {
		h.full = true
	}
	h.dirty = true
}

func (h *LatencyHistogram) RecordDuration(d time.Duration) {
	h.Record(float64(d.Nanoseconds()) / 1e6)
}

// Stats returns min, max, avg and percentiles over the window.
func (h *LatencyHistogram) Stats() LatencyStats {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.dirty {
		return h.cached
	}
	n := h.next
	if h.full {
		n = h.maxSize
	}
	if n == 0 {
		h.cached, h.dirty = LatencyStats{}, false
		return h.cached
	}
	sorted := make([]float64, n)
	copy(sorted, h.samples[:n])
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}
	h.cached = LatencyStats{
		Min:   sorted[0],
		Max:   sorted[n-1],
		Avg:   sum / float64(n),
		P50:   sorted[n/2],
		P95:   sorted[int(float64(n-1)*0.95)],
		P99:   sorted[int(float64(n-1)*0.99)],
		Count: n,
	}
	h.dirty = false
	return h.cached
}
