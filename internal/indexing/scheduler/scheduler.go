// Package scheduler decouples discovering which sources need a refresh from
// doing the refresh.
//
// A single producer ticks at a fixed interval, marks every idle source New
// and pushes one work item per source onto the bounded queue of its kind.
// Each kind has its own queue and worker pool, so a slow upstream for one
// kind never blocks another. A source is never in flight twice: the producer
// skips sources that are New or held by a local worker, and an optional
// shared Locker extends that guarantee across replicas.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vietddude/govwatch/internal/core/checkpoint"
	"github.com/vietddude/govwatch/internal/core/domain"
	"github.com/vietddude/govwatch/internal/indexing/metrics"
	"github.com/vietddude/govwatch/internal/indexing/refresh"
)

// Locker provides a lock shared by every replica.
type Locker interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (release func(), ok bool, err error)
}

// VoterLookup returns the voter addresses to refresh for a DAO.
type VoterLookup interface {
	Voters(daoID string) []string
}

// Config holds scheduler configuration.
type Config struct {
	Tick          time.Duration     // producer interval (default: 1s)
	QueueCapacity int               // per kind (default: 64)
	Workers       int               // per kind (default: 4)
	LockTTL       time.Duration     // shared lock lifetime (default: 2m)
	Kinds         []domain.WorkKind // enabled kinds (default: all)
}

// DefaultConfig returns default scheduler configuration.
func DefaultConfig() Config {
	return Config{
		Tick:          time.Second,
		QueueCapacity: 64,
		Workers:       4,
		LockTTL:       2 * time.Minute,
		Kinds:         domain.AllKinds,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Tick <= 0 {
		c.Tick = def.Tick
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = def.QueueCapacity
	}
	if c.Workers <= 0 {
		c.Workers = def.Workers
	}
	if c.LockTTL <= 0 {
		c.LockTTL = def.LockTTL
	}
	if len(c.Kinds) == 0 {
		c.Kinds = def.Kinds
	}
	return c
}

// Scheduler runs the producer and the per-kind consumer pools.
type Scheduler struct {
	cfg       Config
	manager   checkpoint.Manager
	refresher refresh.Refresher
	locker    Locker
	voters    VoterLookup

	queues map[domain.WorkKind]chan domain.WorkItem

	mu       sync.Mutex
	inflight map[string]struct{}

	running atomic.Bool
	log     *slog.Logger
}

// New creates a scheduler.
func New(cfg Config, manager checkpoint.Manager, refresher refresh.Refresher) *Scheduler {
	cfg = cfg.withDefaults()
	queues := make(map[domain.WorkKind]chan domain.WorkItem, len(cfg.Kinds))
	for _, kind := range cfg.Kinds {
		queues[kind] = make(chan domain.WorkItem, cfg.QueueCapacity)
	}
	return &Scheduler{
		cfg:       cfg,
		manager:   manager,
		refresher: refresher,
		queues:    queues,
		inflight:  make(map[string]struct{}),
		log:       slog.Default().With("component", "scheduler"),
	}
}

// WithLocker enables cross-replica locking.
func (s *Scheduler) WithLocker(l Locker) *Scheduler {
	s.locker = l
	return s
}

// WithVoters sets the voter lookup used for vote kinds.
func (s *Scheduler) WithVoters(v VoterLookup) *Scheduler {
	s.voters = v
	return s
}

// Run starts the worker pools and the producer loop. It blocks until ctx is
// done and every worker has returned.
func (s *Scheduler) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return fmt.Errorf("scheduler already running")
	}
	defer s.running.Store(false)

	s.log.Info("Starting scheduler",
		"kinds", len(s.queues),
		"workers", s.cfg.Workers,
		"tick", s.cfg.Tick,
	)

	var wg sync.WaitGroup
	for _, q := range s.queues {
		for i := 0; i < s.cfg.Workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				s.worker(ctx, q)
			}()
		}
	}

	ticker := time.NewTicker(s.cfg.Tick)
	defer ticker.Stop()

	s.Tick(ctx)
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
			s.Tick(ctx)
		}
	}

	wg.Wait()
	s.drain()
	s.log.Info("Scheduler stopped")
	return nil
}

// Tick runs one producer pass and returns the number of items enqueued.
func (s *Scheduler) Tick(ctx context.Context) int {
	due, err := s.manager.Due(ctx)
	if err != nil {
		s.log.Error("Failed to list due sources", "error", err)
		return 0
	}

	enqueued := 0
	for _, src := range due {
		q, ok := s.queues[src.Kind]
		if !ok {
			continue
		}

		item := domain.WorkItem{SourceID: src.ID, Kind: src.Kind, QueuedAt: time.Now()}
		if src.Kind.Votes() {
			if s.voters != nil {
				item.Voters = s.voters.Voters(src.DAOID)
			}
			if len(item.Voters) == 0 {
				continue
			}
		}

		if !s.claim(src.ID) {
			continue
		}
		if err := s.manager.MarkQueued(ctx, src.ID); err != nil {
			s.release(src.ID)
			s.log.Warn("Failed to mark source queued", "source", src.ID, "error", err)
			continue
		}

		select {
		case q <- item:
			enqueued++
		default:
			s.release(src.ID)
			metrics.QueueDropped.WithLabelValues(string(src.Kind)).Inc()
			if err := s.manager.Unqueue(ctx, src.ID, "queue full"); err != nil {
				s.log.Warn("Failed to unqueue source", "source", src.ID, "error", err)
			}
		}
	}

	for kind, q := range s.queues {
		metrics.QueueDepth.WithLabelValues(string(kind)).Set(float64(len(q)))
	}
	return enqueued
}

func (s *Scheduler) worker(ctx context.Context, q <-chan domain.WorkItem) {
	for {
		select {
		case <-ctx.Done():
			return
		case item := <-q:
			s.process(ctx, item)
		}
	}
}

func (s *Scheduler) process(ctx context.Context, item domain.WorkItem) {
	defer s.release(item.SourceID)

	// bookkeeping must land even if ctx is cancelled mid-fetch
	bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if ctx.Err() != nil {
		if err := s.manager.Unqueue(bg, item.SourceID, "shutdown"); err != nil {
			s.log.Warn("Failed to unqueue source", "source", item.SourceID, "error", err)
		}
		return
	}

	if s.locker != nil {
		unlock, ok, err := s.locker.Acquire(ctx, "source:"+item.SourceID, s.cfg.LockTTL)
		if err != nil || !ok {
			if err != nil {
				s.log.Warn("Failed to acquire source lock", "source", item.SourceID, "error", err)
			} else {
				metrics.LockContention.WithLabelValues(string(item.Kind)).Inc()
			}
			if err := s.manager.Unqueue(bg, item.SourceID, "locked elsewhere"); err != nil {
				s.log.Warn("Failed to unqueue source", "source", item.SourceID, "error", err)
			}
			return
		}
		defer unlock()
	}

	out, err := s.refresher.Refresh(ctx, item)
	if err != nil && ctx.Err() != nil {
		// interrupted by shutdown, not an upstream failure
		if err := s.manager.Unqueue(bg, item.SourceID, "shutdown"); err != nil {
			s.log.Warn("Failed to unqueue source", "source", item.SourceID, "error", err)
		}
		return
	}
	out.Err = err
	if err != nil {
		s.log.Warn("Refresh failed",
			"source", item.SourceID,
			"kind", item.Kind,
			"error", err,
		)
	}

	if _, err := s.manager.Complete(bg, item.SourceID, out); err != nil {
		s.log.Error("Failed to record refresh outcome", "source", item.SourceID, "error", err)
	}
}

// drain returns queued but unprocessed sources to Done.
func (s *Scheduler) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, q := range s.queues {
		for len(q) > 0 {
			item := <-q
			s.release(item.SourceID)
			if err := s.manager.Unqueue(ctx, item.SourceID, "shutdown"); err != nil {
				s.log.Warn("Failed to unqueue source", "source", item.SourceID, "error", err)
			}
		}
	}
}

func (s *Scheduler) claim(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.inflight[id]; ok {
		return false
	}
	s.inflight[id] = struct{}{}
	return true
}

func (s *Scheduler) release(id string) {
	s.mu.Lock()
	delete(s.inflight, id)
	s.mu.Unlock()
}

// InFlight returns the number of sources queued or running in this process.
func (s *Scheduler) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inflight)
}
