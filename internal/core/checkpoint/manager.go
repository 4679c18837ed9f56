package checkpoint

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vietddude/govwatch/internal/core/domain"
	"github.com/vietddude/govwatch/internal/indexing/metrics"
	"github.com/vietddude/govwatch/internal/indexing/throttle"
	"github.com/vietddude/govwatch/internal/infra/storage"
)

// Outcome is the result of one refresh attempt.
type Outcome struct {
	// Err is nil on success. Any error counts as a failed fetch.
	Err error

	// Idle marks an attempt that issued no fetch, such as an empty window.
	// The rate is left alone.
	Idle bool

	// Advance requests Checkpoint to be applied. It is ignored on failure and
	// never moves the stored checkpoint backwards.
	Advance    bool
	Checkpoint int64

	// SetUptodate requests Uptodate to be stored.
	SetUptodate bool
	Uptodate    bool
}

// Manager handles checkpoint and rate bookkeeping for sources.
type Manager interface {
	// Get retrieves a source.
	Get(ctx context.Context, id string) (*domain.Source, error)

	// List retrieves every source.
	List(ctx context.Context) ([]*domain.Source, error)

	// Due returns the sources that are idle and may be queued.
	Due(ctx context.Context) ([]*domain.Source, error)

	// Seed inserts a source from config unless it already exists.
	Seed(ctx context.Context, src domain.Source) (bool, error)

	// MarkQueued flags a source New before its work item is enqueued.
	MarkQueued(ctx context.Context, id string) error

	// Unqueue returns a queued source to Done without touching its rate.
	Unqueue(ctx context.Context, id string, reason string) error

	// Complete applies the outcome of a refresh and returns the stored source.
	Complete(ctx context.Context, id string, out Outcome) (*domain.Source, error)

	// Advance applies the checkpoint and uptodate parts of out, leaving rate
	// and status to whoever scheduled the attempt.
	Advance(ctx context.Context, id string, out Outcome) (*domain.Source, error)

	// Reset forces a checkpoint. It is the only write allowed to move backwards.
	Reset(ctx context.Context, id string, checkpoint int64) error

	// RecoverInFlight returns every source left New by a previous process to Done.
	RecoverInFlight(ctx context.Context) (int, error)

	// Controller returns the rate controller for a kind.
	Controller(kind domain.WorkKind) *throttle.RateController

	// GetMetrics returns progress metrics for a source.
	GetMetrics(id string) Metrics

	// SetStateChangeCallback registers callback for status changes.
	SetStateChangeCallback(fn func(sourceID string, t Transition))
}

// DefaultManager implements Manager over a SourceRepository.
type DefaultManager struct {
	repo        storage.SourceRepository
	controllers map[domain.WorkKind]*throttle.RateController
	locks       sync.Map // source id -> *sync.Mutex

	mu            sync.RWMutex
	stateCallback func(string, Transition)
	history       map[string]*MetricsCollector
}

func (m *DefaultManager) lock(id string) func() {
	v, _ := m.locks.LoadOrStore(id, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func (m *DefaultManager) collector(id string) *MetricsCollector {
	c, ok := m.history[id]
	if !ok {
		c = NewMetricsCollector(100)
		m.history[id] = c
	}
	return c
}

// Get retrieves a source.
func (m *DefaultManager) Get(ctx context.Context, id string) (*domain.Source, error) {
	return m.repo.Get(ctx, id)
}

// List retrieves every source.
func (m *DefaultManager) List(ctx context.Context) ([]*domain.Source, error) {
	return m.repo.List(ctx)
}

// Due returns the sources whose status is Done.
func (m *DefaultManager) Due(ctx context.Context) ([]*domain.Source, error) {
	all, err := m.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list sources: %w", err)
	}
	due := all[:0]
	for _, src := range all {
		if src.Status != domain.RefreshNew {
			due = append(due, src)
		}
	}
	return due, nil
}

// Seed inserts src unless it exists. Rate and status get kind defaults.
func (m *DefaultManager) Seed(ctx context.Context, src domain.Source) (bool, error) {
	ctrl := m.Controller(src.Kind)
	if src.Rate == 0 {
		src.Rate = ctrl.Config().Initial
	}
	src.Rate = ctrl.Clamp(src.Rate)
	src.Status = domain.RefreshDone

	created, err := m.repo.Seed(ctx, &src)
	if err != nil {
		return false, fmt.Errorf("failed to seed source %s: %w", src.ID, err)
	}
	return created, nil
}

func (m *DefaultManager) setStatus(
	ctx context.Context,
	id string,
	to State,
	reason string,
) error {
	defer m.lock(id)()

	src, err := m.repo.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to get source: %w", err)
	}
	if !CanTransition(src.Status, to) {
		return fmt.Errorf("%w: cannot transition from %s to %s", ErrInvalidTransition, src.Status, to)
	}

	from := src.Status
	src.Status = to
	if err := m.repo.Save(ctx, src); err != nil {
		return fmt.Errorf("failed to save source: %w", err)
	}
	m.recordTransition(id, NewTransition(from, to, reason))
	return nil
}

// MarkQueued flags a source New.
func (m *DefaultManager) MarkQueued(ctx context.Context, id string) error {
	return m.setStatus(ctx, id, domain.RefreshNew, "queued")
}

// Unqueue returns a source to Done without an attempt.
func (m *DefaultManager) Unqueue(ctx context.Context, id string, reason string) error {
	return m.setStatus(ctx, id, domain.RefreshDone, reason)
}

// Complete applies out to the source: rate feedback on every attempt, a
// monotone checkpoint move on success, and status Done.
func (m *DefaultManager) Complete(ctx context.Context, id string, out Outcome) (*domain.Source, error) {
	defer m.lock(id)()

	src, err := m.repo.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get source: %w", err)
	}

	ctrl := m.Controller(src.Kind)
	success := out.Err == nil
	now := time.Now()

	if !out.Idle {
		src.Rate = ctrl.Apply(src.Rate, success)
	}
	if success {
		if !out.Idle {
			src.FailureStreak = 0
		}
		if out.Advance && out.Checkpoint > src.Checkpoint {
			src.Checkpoint = out.Checkpoint
		}
		if out.SetUptodate {
			src.Uptodate = out.Uptodate
		}
	} else {
		src.FailureStreak++
	}

	from := src.Status
	src.Status = domain.RefreshDone
	src.LastRefreshedAt = now

	if err := m.repo.Save(ctx, src); err != nil {
		return nil, fmt.Errorf("failed to save source: %w", err)
	}

	outcome := "success"
	switch {
	case !success:
		outcome = "failure"
	case out.Idle:
		outcome = "idle"
	}
	kind := string(src.Kind)
	metrics.RefreshAttempts.WithLabelValues(kind, outcome).Inc()
	metrics.SourceRate.WithLabelValues(src.ID, kind).Set(float64(src.Rate))
	metrics.SourceCheckpoint.WithLabelValues(src.ID, kind).Set(float64(src.Checkpoint))

	m.mu.Lock()
	if !out.Idle {
		m.collector(id).RecordOutcome(src.Checkpoint, success, now)
	}
	m.mu.Unlock()
	if from != domain.RefreshDone {
		m.recordTransition(id, NewTransition(from, domain.RefreshDone, outcome))
	}

	if !success {
		slog.Debug("Refresh failed",
			"source", id,
			"kind", kind,
			"rate", src.Rate,
			"streak", src.FailureStreak,
			"error", out.Err,
		)
	}
	return src, nil
}

// Advance applies a successful outcome's checkpoint and uptodate flag.
func (m *DefaultManager) Advance(ctx context.Context, id string, out Outcome) (*domain.Source, error) {
	if out.Err != nil {
		return nil, out.Err
	}
	defer m.lock(id)()

	src, err := m.repo.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get source: %w", err)
	}
	moved := out.Advance && out.Checkpoint > src.Checkpoint
	flipped := out.SetUptodate && out.Uptodate != src.Uptodate
	if !moved && !flipped {
		return src, nil
	}
	if moved {
		src.Checkpoint = out.Checkpoint
	}
	if out.SetUptodate {
		src.Uptodate = out.Uptodate
	}
	if err := m.repo.Save(ctx, src); err != nil {
		return nil, fmt.Errorf("failed to save source: %w", err)
	}
	metrics.SourceCheckpoint.WithLabelValues(src.ID, string(src.Kind)).Set(float64(src.Checkpoint))
	return src, nil
}

// Reset forces checkpoint and clears the failure streak.
func (m *DefaultManager) Reset(ctx context.Context, id string, checkpoint int64) error {
	defer m.lock(id)()

	src, err := m.repo.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to get source: %w", err)
	}

	prev := src.Checkpoint
	from := src.Status
	src.Checkpoint = checkpoint
	src.Status = domain.RefreshDone
	src.Uptodate = false
	src.FailureStreak = 0
	if err := m.repo.Save(ctx, src); err != nil {
		return fmt.Errorf("failed to save source: %w", err)
	}

	metrics.SourceCheckpoint.WithLabelValues(src.ID, string(src.Kind)).Set(float64(checkpoint))
	m.mu.Lock()
	m.collector(id).Reset()
	m.mu.Unlock()
	if from != domain.RefreshDone {
		m.recordTransition(id, NewTransition(from, domain.RefreshDone, "reset"))
	}

	slog.Warn("Checkpoint reset",
		"source", id,
		"from", prev,
		"to", checkpoint,
	)
	return nil
}

// RecoverInFlight returns sources stuck New to Done.
func (m *DefaultManager) RecoverInFlight(ctx context.Context) (int, error) {
	all, err := m.repo.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list sources: %w", err)
	}
	n := 0
	for _, src := range all {
		if src.Status != domain.RefreshNew {
			continue
		}
		if err := m.Unqueue(ctx, src.ID, "recovered after restart"); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// Controller returns the rate controller for kind.
func (m *DefaultManager) Controller(kind domain.WorkKind) *throttle.RateController {
	if c, ok := m.controllers[kind]; ok {
		return c
	}
	return throttle.NewRateController(kind, throttle.DefaultConfig(kind))
}

// GetMetrics returns progress metrics for a source.
func (m *DefaultManager) GetMetrics(id string) Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if c, ok := m.history[id]; ok {
		return c.GetMetrics()
	}
	return Metrics{}
}

// SetStateChangeCallback registers a callback for status changes.
func (m *DefaultManager) SetStateChangeCallback(fn func(sourceID string, t Transition)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stateCallback = fn
}

func (m *DefaultManager) recordTransition(id string, t Transition) {
	m.mu.Lock()
	m.collector(id).RecordTransition(t)
	cb := m.stateCallback
	m.mu.Unlock()

	if cb != nil {
		cb(id, t)
	}
}

var _ Manager = (*DefaultManager)(nil)
