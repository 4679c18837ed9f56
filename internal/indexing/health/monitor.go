package health

import (
	"context"
	"sync"
	"time"

	"github.com/vietddude/govwatch/internal/core/domain"
	"github.com/vietddude/govwatch/internal/indexing/throttle"
)

// SourceLister lists sources and exposes the rate bounds of each kind.
type SourceLister interface {
	List(ctx context.Context) ([]*domain.Source, error)
	Controller(kind domain.WorkKind) *throttle.RateController
}

// JobCounter counts notification jobs by state.
type JobCounter interface {
	CountByState(ctx context.Context) (map[domain.DispatchState]int, error)
}

// Thresholds tune when components are reported unhealthy.
type Thresholds struct {
	FloorStreak int           // failures at the rate floor before a source is degraded (default: 10)
	FailedJobs  int           // failed jobs before the system is critical (default: 100)
	CacheTTL    time.Duration // minimum time between checks (default: 10s)
}

// DefaultThresholds returns default thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{FloorStreak: 10, FailedJobs: 100, CacheTTL: 10 * time.Second}
}

// Monitor aggregates health status from the checkpoint store and the job store.
type Monitor struct {
	sources    SourceLister
	jobs       JobCounter
	thresholds Thresholds
	lastCheck  time.Time
	lastReport *HealthReport
	mu         sync.Mutex
}

// NewMonitor creates a new health monitor. jobs may be nil.
func NewMonitor(sources SourceLister, jobs JobCounter, thresholds Thresholds) *Monitor {
	def := DefaultThresholds()
	if thresholds.FloorStreak <= 0 {
		thresholds.FloorStreak = def.FloorStreak
	}
	if thresholds.FailedJobs <= 0 {
		thresholds.FailedJobs = def.FailedJobs
	}
	if thresholds.CacheTTL < 0 {
		thresholds.CacheTTL = 0
	}
	return &Monitor{sources: sources, jobs: jobs, thresholds: thresholds}
}

// CheckHealth evaluates every source and the job backlog.
func (m *Monitor) CheckHealth(ctx context.Context) HealthReport {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Rate limit checks to avoid hammering the store
	if m.lastReport != nil && time.Since(m.lastCheck) < m.thresholds.CacheTTL {
		return *m.lastReport
	}

	report := HealthReport{
		SystemStatus: StatusHealthy,
		Sources:      make(map[string]SourceHealth),
	}

	sources, err := m.sources.List(ctx)
	if err != nil {
		report.SystemStatus = StatusCritical
		report.Error = err.Error()
		return report
	}

	for _, src := range sources {
		h := SourceHealth{
			SourceID:        src.ID,
			DAOID:           src.DAOID,
			Kind:            src.Kind,
			Status:          StatusHealthy,
			Checkpoint:      src.Checkpoint,
			Rate:            src.Rate,
			Uptodate:        src.Uptodate,
			FailureStreak:   src.FailureStreak,
			LastRefreshedAt: src.LastRefreshedAt,
		}
		if ctrl := m.sources.Controller(src.Kind); ctrl != nil {
			h.AtFloor = ctrl.AtFloor(src.Rate)
		}

		// Evaluate Status
		if !h.Uptodate || (h.AtFloor && h.FailureStreak >= m.thresholds.FloorStreak) {
			h.Status = StatusDegraded
			report.SystemStatus = StatusDegraded
		}
		report.Sources[src.ID] = h
	}

	if m.jobs != nil {
		counts, err := m.jobs.CountByState(ctx)
		if err == nil {
			report.Jobs = counts
			if counts[domain.DispatchFailed] > m.thresholds.FailedJobs {
				report.SystemStatus = StatusCritical
			}
		}
	}

	m.lastCheck = time.Now()
	m.lastReport = &report
	return report
}
