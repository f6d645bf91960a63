package ingest

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// DefaultLatencyBounds are the histogram upper bounds in milliseconds.
var DefaultLatencyBounds = []float64{1, 2, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000}

// LatencyRecorder accumulates millisecond samples into fixed upper-bound buckets
// plus one overflow bucket.
type LatencyRecorder struct {
	mu     sync.Mutex
	bounds []float64
	counts []uint64
	sum    float64
	count  uint64
}

// LatencySnapshot is a point-in-time copy of the recorder.
type LatencySnapshot struct {
	Bounds   []float64 `json:"bounds"`
	Counts   []uint64  `json:"counts"`
	Overflow uint64    `json:"overflow"`
	Count    uint64    `json:"count"`
	SumMs    float64   `json:"sumMs"`
	MeanMs   float64   `json:"meanMs"`
	P50      float64   `json:"p50"`
	P95      float64   `json:"p95"`
	P99      float64   `json:"p99"`
}

// NewLatencyRecorder builds a recorder over bounds, which must be strictly
// increasing. Empty bounds select DefaultLatencyBounds.
func NewLatencyRecorder(bounds []float64) (*LatencyRecorder, error) {
	if len(bounds) == 0 {
		bounds = DefaultLatencyBounds
	}
	for i := 1; i < len(bounds); i++ {
		if bounds[i] <= bounds[i-1] {
			return nil, fmt.Errorf("latency bounds must be strictly increasing: %v <= %v", bounds[i], bounds[i-1])
		}
	}
	owned := make([]float64, len(bounds))
	copy(owned, bounds)
	return &LatencyRecorder{
		bounds: owned,
		counts: make([]uint64, len(owned)+1),
	}, nil
}

// Record adds a sample expressed in milliseconds.
func (r *LatencyRecorder) Record(ms float64) {
	idx := sort.SearchFloat64s(r.bounds, ms)
	r.mu.Lock()
	r.counts[idx]++
	r.sum += ms
	r.count++
	r.mu.Unlock()
}

// RecordDuration adds d as a millisecond sample.
func (r *LatencyRecorder) RecordDuration(d time.Duration) {
	r.Record(float64(d) / float64(time.Millisecond))
}

// Percentile returns the smallest bound whose cumulative count reaches p of all
// samples, or 0 without samples. Samples only satisfied by the overflow bucket
// report the largest bound.
func (r *LatencyRecorder) Percentile(p float64) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.percentileLocked(p)
}

func (r *LatencyRecorder) percentileLocked(p float64) float64 {
	if r.count == 0 {
		return 0
	}
	target := p * float64(r.count)
	var cumulative uint64
	for i, bound := range r.bounds {
		cumulative += r.counts[i]
		if float64(cumulative) >= target {
			return bound
		}
	}
	return r.bounds[len(r.bounds)-1]
}

// Snapshot copies the bucket counts and derived statistics.
func (r *LatencyRecorder) Snapshot() LatencySnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap := LatencySnapshot{
		Bounds:   make([]float64, len(r.bounds)),
		Counts:   make([]uint64, len(r.bounds)),
		Overflow: r.counts[len(r.bounds)],
		Count:    r.count,
		SumMs:    r.sum,
		P50:      r.percentileLocked(0.50),
		P95:      r.percentileLocked(0.95),
		P99:      r.percentileLocked(0.99),
	}
	copy(snap.Bounds, r.bounds)
	copy(snap.Counts, r.counts[:len(r.bounds)])
	if r.count > 0 {
		snap.MeanMs = r.sum / float64(r.count)
	}
	return snap
}
