package worker

import (
	"context"
	"testing"
	"time"

	"github.com/vietddude/govwatch/internal/core/domain"
	"github.com/vietddude/govwatch/internal/infra/storage/memory"
)

func TestPruner_RemovesOnlyOldTerminalJobs(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()

	jobs := []*domain.NotificationJob{
		{ID: "done", UserID: "u", DAOID: "d", ProposalExternalID: "1", Kind: domain.NotifyNewProposal, Channel: domain.ChannelSlack, State: domain.DispatchDispatched},
		{ID: "failed", UserID: "u", DAOID: "d", ProposalExternalID: "2", Kind: domain.NotifyNewProposal, Channel: domain.ChannelSlack, State: domain.DispatchFailed},
		{ID: "pending", UserID: "u", DAOID: "d", ProposalExternalID: "3", Kind: domain.NotifyNewProposal, Channel: domain.ChannelSlack, State: domain.DispatchFirstRetry},
	}
	for _, j := range jobs {
		if _, err := store.Jobs.Create(ctx, j); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	p := NewPruner(time.Hour, store.Jobs)

	// nothing is older than an hour yet
	if n := p.Prune(ctx); n != 0 {
		t.Fatalf("expected nothing pruned, got %d", n)
	}

	p.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	if n := p.Prune(ctx); n != 2 {
		t.Fatalf("expected 2 pruned, got %d", n)
	}

	counts, err := store.Jobs.CountByState(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if counts[domain.DispatchFirstRetry] != 1 || len(counts) != 1 {
		t.Errorf("expected only the pending job to remain, got %v", counts)
	}
}

func TestPruner_DisabledWithoutRetention(t *testing.T) {
	p := NewPruner(0, memory.NewStore().Jobs)

	done := make(chan struct{})
	go func() {
		p.Start(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start should return immediately when retention is disabled")
	}
}
