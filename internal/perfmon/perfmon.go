// Package perfmon tracks per-validator latency and error statistics.
package perfmon

import (
	"sync"
	"time"
)

// Monitor receives per-validator timing observations. The orchestrator treats
// this as a collaborator interface; Tracker is the in-process default.
type Monitor interface {
	// Record registers one validator run.
	Record(validator string, d time.Duration, failed bool)

	// Snapshot returns a copy of the current stats, keyed by validator name.
	Snapshot() map[string]ValidatorStats
}

// ValidatorStats holds the cumulative stats for one validator.
type ValidatorStats struct {
	Calls       int64
	Errors      int64
	TotalTime   time.Duration
	AverageTime time.Duration
	MaxTime     time.Duration
}

// ErrorRate returns the fraction of calls that failed.
func (s ValidatorStats) ErrorRate() float64 {
	if s.Calls == 0 {
		return 0
	}
	return float64(s.Errors) / float64(s.Calls)
}

// Tracker is a mutex-guarded in-memory Monitor.
type Tracker struct {
	mu    sync.Mutex
	stats map[string]ValidatorStats
}

// NewTracker creates an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{stats: make(map[string]ValidatorStats)}
}

func (t *Tracker) Record(validator string, d time.Duration, failed bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.stats[validator]
	s.Calls++
	if failed {
		s.Errors++
	}
	s.TotalTime += d
	s.AverageTime = s.TotalTime / time.Duration(s.Calls)
	if d > s.MaxTime {
		s.MaxTime = d
	}
	t.stats[validator] = s
}

func (t *Tracker) Snapshot() map[string]ValidatorStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string]ValidatorStats, len(t.stats))
	for k, v := range t.stats {
		out[k] = v
	}
	return out
}

// Nop is a Monitor that discards all observations.
type Nop struct{}

func (Nop) Record(string, time.Duration, bool)    {}
func (Nop) Snapshot() map[string]ValidatorStats   { return nil }
