// Package metrics provides Prometheus metrics and latency statistics for refine runs.
package metrics

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"sync"

	"github.com/gateway-fm/refiner/pkg/types"
)

// StreamingLatencyStats provides streaming percentile calculation.
// Uses reservoir sampling for percentile estimation without storing all samples.
type StreamingLatencyStats struct {
	mu sync.RWMutex

	count int64
	sum   float64
	min   float64
	max   float64

	// Algorithm R (Vitter)
	reservoir     []float64
	reservoirSize int
	seen          int64

	buckets      []int64
	bucketBounds []float64 // ms, ascending
	bucketLabels []string

	// xorshift64* state, per instance
	randState uint64
}

// DefaultReservoirSize is the number of samples kept for percentile estimation.
const DefaultReservoirSize = 10000

// ConfirmationBucketBounds are the histogram bounds (ms) for submission to
// receipt latency on chains with multi-second block times.
var ConfirmationBucketBounds = []float64{5_000, 10_000, 20_000, 60_000}

// NewStreamingLatencyStats creates a calculator with ConfirmationBucketBounds.
func NewStreamingLatencyStats() *StreamingLatencyStats {
	return NewStreamingLatencyStatsWithBounds(ConfirmationBucketBounds)
}

// NewStreamingLatencyStatsWithBounds creates a calculator with custom
// ascending bucket bounds in milliseconds.
func NewStreamingLatencyStatsWithBounds(bounds []float64) *StreamingLatencyStats {
	b := make([]float64, len(bounds))
	copy(b, bounds)
	sort.Float64s(b)
	return &StreamingLatencyStats{
		min:           math.MaxFloat64,
		reservoir:     make([]float64, 0, 64),
		reservoirSize: DefaultReservoirSize,
		buckets:       make([]int64, len(b)+1),
		bucketBounds:  b,
		bucketLabels:  bucketLabels(b),
		randState:     1,
	}
}

func bucketLabels(bounds []float64) []string {
	labels := make([]string, 0, len(bounds)+1)
	lower := "0"
	for _, b := range bounds {
		upper := formatMs(b)
		labels = append(labels, fmt.Sprintf("%s-%s", lower, upper))
		lower = upper
	}
	return append(labels, lower+"+")
}

// formatMs renders a bound as "250ms" or "5s".
func formatMs(ms float64) string {
	if ms >= 1000 && math.Mod(ms, 1000) == 0 {
		return strconv.FormatFloat(ms/1000, 'f', -1, 64) + "s"
	}
	return strconv.FormatFloat(ms, 'f', -1, 64) + "ms"
}

// Add records a latency sample in milliseconds. Safe for concurrent use.
func (s *StreamingLatencyStats) Add(latencyMs float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.count++
	s.sum += latencyMs
	s.seen++

	if latencyMs < s.min {
		s.min = latencyMs
	}
	if latencyMs > s.max {
		s.max = latencyMs
	}

	s.buckets[s.getBucketIndex(latencyMs)]++

	if len(s.reservoir) < s.reservoirSize {
		s.reservoir = append(s.reservoir, latencyMs)
	} else {
		// Replace with probability reservoirSize/seen
		j := s.fastRand() % uint64(s.seen)
		if j < uint64(s.reservoirSize) {
			s.reservoir[j] = latencyMs
		}
	}
}

func (s *StreamingLatencyStats) getBucketIndex(latencyMs float64) int {
	for i, bound := range s.bucketBounds {
		if latencyMs < bound {
			return i
		}
	}
	return len(s.bucketBounds)
}

func (s *StreamingLatencyStats) fastRand() uint64 {
	s.randState ^= s.randState >> 12
	s.randState ^= s.randState << 25
	s.randState ^= s.randState >> 27
	return s.randState * 0x2545F4914F6CDD1D
}

// GetStats returns the current statistics, or nil if no samples were added.
func (s *StreamingLatencyStats) GetStats() *types.LatencyStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.count == 0 {
		return nil
	}

	sorted := make([]float64, len(s.reservoir))
	copy(sorted, s.reservoir)
	sort.Float64s(sorted)

	buckets := make([]types.LatencyBucket, len(s.buckets))
	for i, n := range s.buckets {
		buckets[i] = types.LatencyBucket{Label: s.bucketLabels[i], Count: int(n)}
	}

	return &types.LatencyStats{
		Count:   int(s.count),
		Min:     s.min,
		Max:     s.max,
		Avg:     s.sum / float64(s.count),
		P50:     percentile(sorted, 0.50),
		P75:     percentile(sorted, 0.75),
		P90:     percentile(sorted, 0.90),
		P95:     percentile(sorted, 0.95),
		P99:     percentile(sorted, 0.99),
		Buckets: buckets,
	}
}

// percentile interpolates the p-th percentile of a sorted slice.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}

	idx := p * float64(len(sorted)-1)
	lower := int(idx)
	upper := lower + 1
	if upper >= len(sorted) {
		return sorted[len(sorted)-1]
	}

	frac := idx - float64(lower)
	return sorted[lower]*(1-frac) + sorted[upper]*frac
}

// Reset clears all statistics.
func (s *StreamingLatencyStats) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.count = 0
	s.sum = 0
	s.min = math.MaxFloat64
	s.max = 0
	s.reservoir = s.reservoir[:0]
	s.seen = 0
	for i := range s.buckets {
		s.buckets[i] = 0
	}
}

// Count returns the number of samples recorded.
func (s *StreamingLatencyStats) Count() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count
}
