package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/vietddude/govwatch/internal/indexing/metrics"
)

// TerminalJobDeleter removes finished notification jobs.
type TerminalJobDeleter interface {
	DeleteTerminalBefore(ctx context.Context, t time.Time) (int64, error)
}

// Pruner deletes old data based on retention policy.
type Pruner struct {
	retention time.Duration
	jobs      TerminalJobDeleter
	now       func() time.Time
	log       *slog.Logger
}

// NewPruner creates a new Pruner worker.
func NewPruner(retention time.Duration, jobs TerminalJobDeleter) *Pruner {
	return &Pruner{
		retention: retention,
		jobs:      jobs,
		now:       time.Now,
		log:       slog.Default().With("component", "pruner"),
	}
}

// Start runs the pruner loop.
func (p *Pruner) Start(ctx context.Context) {
	if p.retention <= 0 {
		return // Retention disabled
	}

	// Check every 10% of the retention period, between 1 minute and 1 hour
	interval := min(p.retention/10, 1*time.Hour)
	interval = max(interval, 1*time.Minute)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Initial prune
	p.Prune(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Prune(ctx)
		}
	}
}

// Prune removes terminal jobs last updated before the retention cutoff.
func (p *Pruner) Prune(ctx context.Context) int64 {
	threshold := p.now().Add(-p.retention)

	n, err := p.jobs.DeleteTerminalBefore(ctx, threshold)
	if err != nil {
		p.log.Error("Failed to prune notification jobs", "before", threshold, "error", err)
		return 0
	}
	if n > 0 {
		metrics.JobsPruned.Add(float64(n))
		p.log.Info("Pruned notification jobs", "count", n, "before", threshold)
	}
	return n
}
