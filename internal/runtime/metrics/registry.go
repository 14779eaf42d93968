package metrics

import (
	"math"
	"sync"
	"time"
)

// Snapshot is a point-in-time view of a handler's metrics. Durations are in milliseconds.
type Snapshot struct {
	HandleCount      uint64  `json:"handle_count"`
	ErrorCount       uint64  `json:"error_count"`
	InvalidCount     uint64  `json:"invalid_count"`
	ActiveCount      int32   `json:"active_count"`
	MinDuration      float64 `json:"min_duration_ms"`
	MaxDuration      float64 `json:"max_duration_ms"`
	MeanDuration     float64 `json:"mean_duration_ms"`
	StdDevDuration   float64 `json:"stddev_duration_ms"`
	FullStatsEnabled bool    `json:"full_stats_enabled"`
}

// Registry records per-handler counters and, when full stats are enabled, the
// duration distribution. All state sits behind one lock so Snapshot and Reset
// never interleave.
type Registry struct {
	mu sync.RWMutex

	handleCount  uint64
	errorCount   uint64
	invalidCount uint64
	activeCount  int32

	fullStats bool
	dist      distribution
}

// NewRegistry returns an empty registry with full stats disabled.
func NewRegistry() *Registry {
	return &Registry{}
}

// distribution tracks min/max/mean/variance with Welford's online algorithm.
type distribution struct {
	n    uint64
	min  float64
	max  float64
	mean float64
	m2   float64
}

func (d *distribution) add(ms float64) {
	d.n++
	if d.n == 1 {
		d.min, d.max = ms, ms
	} else {
		d.min = math.Min(d.min, ms)
		d.max = math.Max(d.max, ms)
	}
	delta := ms - d.mean
	d.mean += delta / float64(d.n)
	d.m2 += delta * (ms - d.mean)
}

func (d *distribution) stdDev() float64 {
	if d.n < 2 {
		return 0
	}
	return math.Sqrt(d.m2 / float64(d.n-1))
}

// RecordStart marks an invocation as in flight.
func (r *Registry) RecordStart() {
	r.mu.Lock()
	r.activeCount++
	r.mu.Unlock()
}

// RecordSuccess completes an invocation started with RecordStart.
func (r *Registry) RecordSuccess(d time.Duration) {
	r.finish(d, false)
}

// RecordFailure completes an invocation started with RecordStart and counts it as an error.
func (r *Registry) RecordFailure(d time.Duration) {
	r.finish(d, true)
}

// RecordInvalid counts a message rejected before handler logic ran.
func (r *Registry) RecordInvalid() {
	r.mu.Lock()
	r.invalidCount++
	r.mu.Unlock()
}

func (r *Registry) finish(d time.Duration, failed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.activeCount > 0 {
		r.activeCount--
	}
	r.handleCount++
	if failed {
		r.errorCount++
	}
	if r.fullStats {
		r.dist.add(float64(d) / float64(time.Millisecond))
	}
}

// SetFullStatsEnabled switches between counts-only tracking and full distribution
// tracking. Counts collected so far are kept either way.
func (r *Registry) SetFullStatsEnabled(enabled bool) {
	r.mu.Lock()
	r.fullStats = enabled
	r.mu.Unlock()
}

// FullStatsEnabled reports whether duration statistics are collected.
func (r *Registry) FullStatsEnabled() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.fullStats
}

// Snapshot copies the current state.
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return Snapshot{
		HandleCount:      r.handleCount,
		ErrorCount:       r.errorCount,
		InvalidCount:     r.invalidCount,
		ActiveCount:      r.activeCount,
		MinDuration:      r.dist.min,
		MaxDuration:      r.dist.max,
		MeanDuration:     r.dist.mean,
		StdDevDuration:   r.dist.stdDev(),
		FullStatsEnabled: r.fullStats,
	}
}

// Reset zeroes the counters and the distribution. In-flight invocations are
// still tracked by the active count.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.handleCount = 0
	r.errorCount = 0
	r.invalidCount = 0
	r.dist = distribution{}
}
