package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/vietddude/govwatch/internal/core/checkpoint"
	"github.com/vietddude/govwatch/internal/core/domain"
	"github.com/vietddude/govwatch/internal/infra/storage/memory"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeRefresher advances every source by step and tracks concurrency per source.
type fakeRefresher struct {
	step    int64
	err     error
	block   chan struct{}
	calls   atomic.Int32
	mu      sync.Mutex
	active  map[string]int
	maxSeen int
	items   []domain.WorkItem
	getSrc  func(id string) *domain.Source
}

func (f *fakeRefresher) Refresh(ctx context.Context, item domain.WorkItem) (checkpoint.Outcome, error) {
	f.calls.Add(1)
	f.mu.Lock()
	if f.active == nil {
		f.active = make(map[string]int)
	}
	f.active[item.SourceID]++
	if f.active[item.SourceID] > f.maxSeen {
		f.maxSeen = f.active[item.SourceID]
	}
	f.items = append(f.items, item)
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.active[item.SourceID]--
		f.mu.Unlock()
	}()

	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return checkpoint.Outcome{}, ctx.Err()
		}
	}
	if f.err != nil {
		return checkpoint.Outcome{}, f.err
	}
	src := f.getSrc(item.SourceID)
	return checkpoint.Outcome{Advance: true, Checkpoint: src.Checkpoint + f.step}, nil
}

type staticVoters map[string][]string

func (s staticVoters) Voters(daoID string) []string { return s[daoID] }

type denyLocker struct{ calls atomic.Int32 }

func (d *denyLocker) Acquire(ctx context.Context, name string, ttl time.Duration) (func(), bool, error) {
	d.calls.Add(1)
	return nil, false, nil
}

func setup(t *testing.T, sources ...domain.Source) (*checkpoint.DefaultManager, *fakeRefresher) {
	t.Helper()
	mgr := checkpoint.NewManager(memory.NewSourceRepo(memory.NewMemoryStorage()), nil)
	for _, src := range sources {
		if _, err := mgr.Seed(context.Background(), src); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	ref := &fakeRefresher{step: 10}
	ref.getSrc = func(id string) *domain.Source {
		src, err := mgr.Get(context.Background(), id)
		if err != nil {
			t.Errorf("get %s: %v", id, err)
			return &domain.Source{}
		}
		return src
	}
	return mgr, ref
}

func chain(id string) domain.Source {
	return domain.Source{ID: id, DAOID: "dao-" + id, Kind: domain.KindChainProposals, Family: "governor", Checkpoint: 100}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestTick_EnqueuesOncePerSource(t *testing.T) {
	ctx := context.Background()
	mgr, ref := setup(t, chain("a"), chain("b"))
	s := New(Config{QueueCapacity: 8, Workers: 1}, mgr, ref)

	if n := s.Tick(ctx); n != 2 {
		t.Fatalf("first tick enqueued %d, want 2", n)
	}
	if n := s.Tick(ctx); n != 0 {
		t.Fatalf("second tick enqueued %d, want 0 (sources in flight)", n)
	}

	src, _ := mgr.Get(ctx, "a")
	if src.Status != domain.RefreshNew {
		t.Errorf("status = %s, want new", src.Status)
	}
	if s.InFlight() != 2 {
		t.Errorf("in flight = %d, want 2", s.InFlight())
	}

	s.drain()
	if s.InFlight() != 0 {
		t.Errorf("in flight after drain = %d", s.InFlight())
	}
	src, _ = mgr.Get(ctx, "a")
	if src.Status != domain.RefreshDone {
		t.Errorf("status after drain = %s, want done", src.Status)
	}
}

func TestTick_DropsWhenQueueFull(t *testing.T) {
	ctx := context.Background()
	mgr, ref := setup(t, chain("a"), chain("b"), chain("c"))
	s := New(Config{QueueCapacity: 1, Workers: 1}, mgr, ref)

	if n := s.Tick(ctx); n != 1 {
		t.Fatalf("enqueued %d, want 1", n)
	}

	due, _ := mgr.Due(ctx)
	if len(due) != 2 {
		t.Errorf("dropped sources must be due again, got %d due", len(due))
	}
	for _, src := range due {
		if src.Rate != 1000 {
			t.Errorf("drop must not touch rate, %s has %d", src.ID, src.Rate)
		}
	}
	s.drain()
}

func TestTick_VoteKinds(t *testing.T) {
	ctx := context.Background()
	mgr, ref := setup(t,
		domain.Source{ID: "v1", DAOID: "uni", Kind: domain.KindSnapshotVotes, Family: "snapshot"},
		domain.Source{ID: "v2", DAOID: "comp", Kind: domain.KindSnapshotVotes, Family: "snapshot"},
	)
	s := New(Config{}, mgr, ref).WithVoters(staticVoters{"uni": {"0xa", "0xb"}})

	if n := s.Tick(ctx); n != 1 {
		t.Fatalf("enqueued %d, want only the source with voters", n)
	}
	item := <-s.queues[domain.KindSnapshotVotes]
	if item.SourceID != "v1" || len(item.Voters) != 2 {
		t.Errorf("item = %+v", item)
	}
	s.release(item.SourceID)
}

func TestTick_SkipsDisabledKinds(t *testing.T) {
	ctx := context.Background()
	mgr, ref := setup(t, chain("a"), domain.Source{ID: "s", Kind: domain.KindSnapshotProposals, Family: "snapshot"})
	s := New(Config{Kinds: []domain.WorkKind{domain.KindSnapshotProposals}}, mgr, ref)

	if n := s.Tick(ctx); n != 1 {
		t.Fatalf("enqueued %d, want 1", n)
	}
	s.drain()
}

func TestRun_ProcessesAndAdvances(t *testing.T) {
	mgr, ref := setup(t, chain("a"), chain("b"))
	s := New(Config{Tick: 10 * time.Millisecond, Workers: 2}, mgr, ref)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	waitFor(t, func() bool {
		src, _ := mgr.Get(context.Background(), "b")
		return src.Checkpoint >= 130
	})
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}

	for _, id := range []string{"a", "b"} {
		src, _ := mgr.Get(context.Background(), id)
		if src.Status != domain.RefreshDone {
			t.Errorf("%s status = %s after shutdown, want done", id, src.Status)
		}
		if src.Rate <= 1000 {
			t.Errorf("%s rate = %d, want ramped up", id, src.Rate)
		}
	}
}

func TestRun_SerializesPerSource(t *testing.T) {
	mgr, ref := setup(t, chain("a"))
	s := New(Config{Tick: time.Millisecond, Workers: 4}, mgr, ref)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	waitFor(t, func() bool { return ref.calls.Load() >= 20 })
	cancel()
	<-done

	ref.mu.Lock()
	defer ref.mu.Unlock()
	if ref.maxSeen != 1 {
		t.Errorf("max concurrent refreshes of one source = %d, want 1", ref.maxSeen)
	}
}

func TestRun_FailureBacksOff(t *testing.T) {
	mgr, ref := setup(t, chain("a"))
	ref.err = domain.ErrUpstreamUnavailable
	s := New(Config{Tick: 5 * time.Millisecond, Workers: 1}, mgr, ref)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	waitFor(t, func() bool {
		src, _ := mgr.Get(context.Background(), "a")
		return src.FailureStreak >= 3
	})
	cancel()
	<-done

	src, _ := mgr.Get(context.Background(), "a")
	if src.Checkpoint != 100 {
		t.Errorf("checkpoint = %d, want unchanged 100", src.Checkpoint)
	}
	if src.Rate >= 1000 {
		t.Errorf("rate = %d, want backed off", src.Rate)
	}
}

func TestRun_LockContentionSkipsRefresh(t *testing.T) {
	mgr, ref := setup(t, chain("a"))
	locker := &denyLocker{}
	s := New(Config{Tick: 5 * time.Millisecond, Workers: 1}, mgr, ref).WithLocker(locker)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	waitFor(t, func() bool { return locker.calls.Load() >= 3 })
	cancel()
	<-done

	if ref.calls.Load() != 0 {
		t.Errorf("refresher called %d times while lock held elsewhere", ref.calls.Load())
	}
	src, _ := mgr.Get(context.Background(), "a")
	if src.Rate != 1000 || src.Status != domain.RefreshDone {
		t.Errorf("unexpected source after contention: %+v", src)
	}
}

func TestRun_ShutdownWhileBlocked(t *testing.T) {
	mgr, ref := setup(t, chain("a"))
	ref.block = make(chan struct{})
	s := New(Config{Tick: 5 * time.Millisecond, Workers: 1}, mgr, ref)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	waitFor(t, func() bool { return ref.calls.Load() == 1 })
	cancel()
	<-done

	src, _ := mgr.Get(context.Background(), "a")
	if src.Status != domain.RefreshDone {
		t.Errorf("status = %s, want done", src.Status)
	}
}

func TestRun_ShutdownKeepsRate(t *testing.T) {
	mgr, ref := setup(t, chain("a"))
	ref.block = make(chan struct{})
	before, _ := mgr.Get(context.Background(), "a")
	s := New(Config{Tick: 5 * time.Millisecond, Workers: 1}, mgr, ref)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	waitFor(t, func() bool { return ref.calls.Load() == 1 })
	cancel()
	<-done

	after, _ := mgr.Get(context.Background(), "a")
	if after.Rate != before.Rate {
		t.Errorf("rate = %d, want %d", after.Rate, before.Rate)
	}
	if after.FailureStreak != 0 {
		t.Errorf("failure streak = %d, want 0", after.FailureStreak)
	}
	if after.Checkpoint != before.Checkpoint {
		t.Errorf("checkpoint = %d, want %d", after.Checkpoint, before.Checkpoint)
	}
	if after.Status != domain.RefreshDone {
		t.Errorf("status = %s, want done", after.Status)
	}
}

func TestRun_RejectsSecondRun(t *testing.T) {
	mgr, ref := setup(t)
	s := New(Config{Tick: 5 * time.Millisecond}, mgr, ref)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	waitFor(t, func() bool { return s.running.Load() })

	if err := s.Run(ctx); err == nil {
		t.Error("expected error for concurrent Run")
	}
	cancel()
	<-done
}

func TestVoterIndex_Reload(t *testing.T) {
	ctx := context.Background()
	subs := memory.NewSubscriptionRepo(memory.NewMemoryStorage())
	for _, s := range []domain.Subscription{
		{UserID: "u1", DAOID: "uni", Channel: domain.ChannelDiscord, Address: "0xB"},
		{UserID: "u2", DAOID: "uni", Channel: domain.ChannelEmail, Address: "0xb"},
		{UserID: "u3", DAOID: "uni", Channel: domain.ChannelSlack, Address: "0xa"},
		{UserID: "u4", DAOID: "uni", Channel: domain.ChannelSlack},
	} {
		if err := subs.Add(ctx, s); err != nil {
			t.Fatal(err)
		}
	}

	idx := NewVoterIndex(subs, time.Minute)
	if err := idx.Reload(ctx); err != nil {
		t.Fatalf("reload: %v", err)
	}
	got := idx.Voters("uni")
	if len(got) != 2 {
		t.Fatalf("voters = %v, want two distinct addresses", got)
	}
	if len(idx.Voters("other")) != 0 {
		t.Error("expected no voters for unknown dao")
	}
}
