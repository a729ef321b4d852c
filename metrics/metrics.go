// Package metrics tracks per-strategy serve latency and cache hit ratios.
package metrics

import (
	"fmt"
	"sync"
	"time"

	"github.com/DataDog/sketches-go/ddsketch"
)

// Tracker records latency quantiles per strategy using DDSketch, plus
// hit/miss counters per cache scope. Safe for concurrent use.
type Tracker struct {
	mu               sync.Mutex
	sketches         map[string]*ddsketch.DDSketch
	hits             map[string]int64
	misses           map[string]int64
	relativeAccuracy float64
}

// NewTracker creates a tracker. relativeAccuracy determines the accuracy of
// quantile estimates (e.g., 0.01 = 1% accuracy).
func NewTracker(relativeAccuracy float64) *Tracker {
	return &Tracker{
		sketches:         make(map[string]*ddsketch.DDSketch),
		hits:             make(map[string]int64),
		misses:           make(map[string]int64),
		relativeAccuracy: relativeAccuracy,
	}
}

// Record records a serve duration for the given strategy.
func (t *Tracker) Record(strategy string, duration time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	sketch, exists := t.sketches[strategy]
	if !exists {
		var err error
		sketch, err = ddsketch.LogUnboundedDenseDDSketch(t.relativeAccuracy)
		if err != nil {
			sketch, _ = ddsketch.NewDefaultDDSketch(t.relativeAccuracy)
		}
		t.sketches[strategy] = sketch
	}

	// Durations are recorded in milliseconds.
	sketch.Add(float64(duration.Microseconds()) / 1000.0)
}

// Hit increments the cache-hit counter for a scope.
func (t *Tracker) Hit(scope string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.hits[scope]++
}

// Miss increments the cache-miss counter for a scope.
func (t *Tracker) Miss(scope string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.misses[scope]++
}

// HitRatio returns hits/(hits+misses) for a scope, or 0 with no data.
func (t *Tracker) HitRatio(scope string) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	total := t.hits[scope] + t.misses[scope]
	if total == 0 {
		return 0
	}
	return float64(t.hits[scope]) / float64(total)
}

// Stats holds latency statistics for one strategy, in milliseconds.
type Stats struct {
	Strategy string
	Count    int64
	Min      float64
	P50      float64
	P90      float64
	P99      float64
	Max      float64
}

// GetStats returns latency statistics for the given strategy.
func (t *Tracker) GetStats(strategy string) (Stats, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	sketch, exists := t.sketches[strategy]
	if !exists {
		return Stats{}, fmt.Errorf("no data for strategy: %s", strategy)
	}

	count := sketch.GetCount()
	if count == 0 {
		return Stats{Strategy: strategy}, nil
	}

	min, _ := sketch.GetMinValue()
	p50, _ := sketch.GetValueAtQuantile(0.50)
	p90, _ := sketch.GetValueAtQuantile(0.90)
	p99, _ := sketch.GetValueAtQuantile(0.99)
	max, _ := sketch.GetMaxValue()

	return Stats{
		Strategy: strategy,
		Count:    int64(count),
		Min:      min,
		P50:      p50,
		P90:      p90,
		P99:      p99,
		Max:      max,
	}, nil
}

// String returns a human-readable line of the statistics.
func (s Stats) String() string {
	if s.Count == 0 {
		return fmt.Sprintf("  %s: no data", s.Strategy)
	}
	return fmt.Sprintf("  %s (n=%d): min=%.2fms p50=%.2fms p90=%.2fms p99=%.2fms max=%.2fms",
		s.Strategy, s.Count, s.Min, s.P50, s.P90, s.P99, s.Max)
}
