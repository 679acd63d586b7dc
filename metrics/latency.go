package metrics

import (
	"math"
	"sort"
	"sync"
	"time"
)

// Latencies collects exact request durations for offline reporting. Unlike
// the Prometheus histograms it keeps every sample, so percentiles are exact.
type Latencies struct {
	mu      sync.Mutex
	samples []time.Duration
	errors  int
}

// Add records one successful request.
func (l *Latencies) Add(d time.Duration) {
	l.mu.Lock()
	l.samples = append(l.samples, d)
	l.mu.Unlock()
}

// AddError records one failed request.
func (l *Latencies) AddError() {
	l.mu.Lock()
	l.errors++
	l.mu.Unlock()
}

// Summary is a point-in-time digest of a Latencies. Durations are
// reported in milliseconds.
type Summary struct {
	Count   int     `json:"count"`
	Errors  int     `json:"errors"`
	TotalMS float64 `json:"total_ms"`
	MeanMS  float64 `json:"mean_ms"`
	MinMS   float64 `json:"min_ms"`
	MaxMS   float64 `json:"max_ms"`
	P50MS   float64 `json:"p50_ms"`
	P90MS   float64 `json:"p90_ms"`
	P95MS   float64 `json:"p95_ms"`
	P99MS   float64 `json:"p99_ms"`
}

// Summary computes totals and percentiles over the samples so far.
func (l *Latencies) Summary() Summary {
	l.mu.Lock()
	ms := make([]float64, len(l.samples))
	for i, d := range l.samples {
		ms[i] = float64(d) / float64(time.Millisecond)
	}
	s := Summary{Count: len(ms), Errors: l.errors}
	l.mu.Unlock()

	if len(ms) == 0 {
		return s
	}
	sort.Float64s(ms)
	for _, v := range ms {
		s.TotalMS += v
	}
	s.MeanMS = s.TotalMS / float64(len(ms))
	s.MinMS = ms[0]
	s.MaxMS = ms[len(ms)-1]
	s.P50MS = Percentile(ms, 50)
	s.P90MS = Percentile(ms, 90)
	s.P95MS = Percentile(ms, 95)
	s.P99MS = Percentile(ms, 99)
	return s
}

// Percentile returns the p-th percentile (0-100) of sorted values, linearly
// interpolating between the two closest ranks.
func Percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n == 1 || p <= 0 {
		return sorted[0]
	}
	if p >= 100 {
		return sorted[n-1]
	}
	rank := p / 100 * float64(n-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	frac := rank - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}
