package checkpoint

import (
	"time"
)

// progressRecord holds one completed refresh.
type progressRecord struct {
	Checkpoint int64
	At         time.Time
}

// Metrics holds per-source refresh history.
type Metrics struct {
	// ProgressPerSecond is checkpoint units (blocks or seconds) gained per
	// wall-clock second across the tracked window.
	ProgressPerSecond float64
	Successes         int
	Failures          int
	LastFailureAt     *time.Time
	StateHistory      []Transition
}

// MetricsCollector tracks source progress over time.
type MetricsCollector struct {
	windowSize    int              // number of completions to track
	progress      []progressRecord // ring buffer of completions
	transitions   []Transition     // recent status changes
	successes     int
	failures      int
	lastFailureAt *time.Time
}

// RecordOutcome records a completed refresh.
func (mc *MetricsCollector) RecordOutcome(checkpoint int64, success bool, at time.Time) {
	if !success {
		mc.failures++
		t := at
		mc.lastFailureAt = &t
		return
	}
	mc.successes++

	record := progressRecord{Checkpoint: checkpoint, At: at}
	if len(mc.progress) >= mc.windowSize {
		copy(mc.progress, mc.progress[1:])
		mc.progress[len(mc.progress)-1] = record
	} else {
		mc.progress = append(mc.progress, record)
	}
}

// RecordTransition records a status transition.
func (mc *MetricsCollector) RecordTransition(t Transition) {
	// Keep only last 10 transitions
	if len(mc.transitions) >= 10 {
		copy(mc.transitions, mc.transitions[1:])
		mc.transitions[len(mc.transitions)-1] = t
	} else {
		mc.transitions = append(mc.transitions, t)
	}
}

// GetMetrics returns current metrics.
func (mc *MetricsCollector) GetMetrics() Metrics {
	m := Metrics{
		Successes:     mc.successes,
		Failures:      mc.failures,
		LastFailureAt: mc.lastFailureAt,
		StateHistory:  make([]Transition, len(mc.transitions)),
	}
	copy(m.StateHistory, mc.transitions)

	if len(mc.progress) >= 2 {
		first := mc.progress[0]
		last := mc.progress[len(mc.progress)-1]
		duration := last.At.Sub(first.At)
		if duration > 0 {
			m.ProgressPerSecond = float64(last.Checkpoint-first.Checkpoint) / duration.Seconds()
		}
	}

	return m
}

// Reset clears all collected metrics.
func (mc *MetricsCollector) Reset() {
	mc.progress = mc.progress[:0]
	mc.transitions = mc.transitions[:0]
	mc.successes = 0
	mc.failures = 0
	mc.lastFailureAt = nil
}
