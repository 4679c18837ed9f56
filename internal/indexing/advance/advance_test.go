package advance

import (
	"testing"
	"time"

	"github.com/vietddude/govwatch/internal/core/domain"
)

func TestOnChain(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	future := now.Add(24 * time.Hour)
	past := now.Add(-24 * time.Hour)

	tests := []struct {
		name       string
		checkpoint int64
		to         int64
		records    []domain.ProposalRecord
		want       int64
	}{
		{
			name:       "open proposal holds the checkpoint",
			checkpoint: 90, to: 150,
			records: []domain.ProposalRecord{
				{ExternalID: "a", Origin: 120, TimeEnd: future},
				{ExternalID: "b", Origin: 90, TimeEnd: past},
			},
			want: 120,
		},
		{
			name:       "lowest open block wins",
			checkpoint: 100, to: 150,
			records: []domain.ProposalRecord{
				{ExternalID: "a", Origin: 140, TimeEnd: future},
				{ExternalID: "b", Origin: 110, TimeEnd: future},
			},
			want: 110,
		},
		{
			name:       "all closed retires window",
			checkpoint: 100, to: 150,
			records: []domain.ProposalRecord{
				{ExternalID: "a", Origin: 130, TimeEnd: past},
			},
			want: 150,
		},
		{
			name:       "nothing fetched retires window",
			checkpoint: 100, to: 150,
			want:       150,
		},
		{
			name:       "never moves backward",
			checkpoint: 100, to: 150,
			records: []domain.ProposalRecord{
				{ExternalID: "a", Origin: 80, TimeEnd: future},
			},
			want: 100,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := OnChain(tt.checkpoint, tt.to, tt.records, now)
			if got != tt.want {
				t.Errorf("OnChain() = %d, want %d", got, tt.want)
			}
			if again := OnChain(tt.checkpoint, tt.to, tt.records, now); again != got {
				t.Errorf("OnChain() not idempotent: %d then %d", got, again)
			}
		})
	}
}

func TestOffChain(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	thisYear := now.Add(72 * time.Hour)
	nextYear := time.Date(2027, 2, 1, 0, 0, 0, 0, time.UTC)
	policy := DefaultPolicy()
	old := now.Add(-30 * 24 * time.Hour).Unix()

	tests := []struct {
		name         string
		checkpoint   int64
		wasUptodate  bool
		records      []domain.ProposalRecord
		want         int64
		wantUptodate bool
		wantPersist  bool
	}{
		{
			name:       "earliest open proposal wins over closed",
			checkpoint: old,
			records: []domain.ProposalRecord{
				{Origin: old + 7200, State: domain.ProposalActive, TimeEnd: thisYear},
				{Origin: old + 3600*5, State: domain.ProposalActive, TimeEnd: thisYear},
				{Origin: old + 3600*10, State: domain.ProposalExecuted, TimeEnd: now.Add(-time.Hour)},
			},
			want:        old + 7200,
			wantPersist: true,
		},
		{
			name:       "latest closed when nothing open",
			checkpoint: old,
			records: []domain.ProposalRecord{
				{Origin: old + 3600*3, State: domain.ProposalExecuted},
				{Origin: old + 3600*9, State: domain.ProposalExecuted},
			},
			want:        old + 3600*9,
			wantPersist: true,
		},
		{
			name:       "open proposal ending next year is ignored",
			checkpoint: old,
			records: []domain.ProposalRecord{
				{Origin: old + 3600*2, State: domain.ProposalActive, TimeEnd: nextYear},
			},
			want:        old,
			wantPersist: false,
		},
		{
			name:         "empty page on a stale checkpoint is not uptodate",
			checkpoint:   old,
			records:      nil,
			want:         old,
			wantUptodate: false,
			wantPersist:  false,
		},
		{
			name:         "lagging source flips out of uptodate",
			checkpoint:   old,
			wasUptodate:  true,
			records:      nil,
			want:         old,
			wantUptodate: false,
			wantPersist:  true,
		},
		{
			name:       "recent open proposal is uptodate",
			checkpoint: now.Unix() - 3*3600,
			records: []domain.ProposalRecord{
				{Origin: now.Unix() - 1800, State: domain.ProposalActive, TimeEnd: thisYear},
			},
			want:         now.Unix() - 1800,
			wantUptodate: true,
			wantPersist:  true,
		},
		{
			name:        "small move on healthy source is not persisted",
			checkpoint:  now.Unix() - 600,
			wasUptodate: true,
			records: []domain.ProposalRecord{
				{Origin: now.Unix() - 300, State: domain.ProposalExecuted},
			},
			want:         now.Unix() - 300,
			wantUptodate: true,
			wantPersist:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := OffChain(tt.checkpoint, tt.wasUptodate, tt.records, now, policy)
			if got.Checkpoint != tt.want {
				t.Errorf("Checkpoint = %d, want %d", got.Checkpoint, tt.want)
			}
			if got.Uptodate != tt.wantUptodate {
				t.Errorf("Uptodate = %v, want %v", got.Uptodate, tt.wantUptodate)
			}
			if got.Persist != tt.wantPersist {
				t.Errorf("Persist = %v, want %v", got.Persist, tt.wantPersist)
			}
			if got.Checkpoint < tt.checkpoint {
				t.Errorf("checkpoint moved backward: %d < %d", got.Checkpoint, tt.checkpoint)
			}
		})
	}
}

func TestVotes(t *testing.T) {
	if got := ChainVotes(100, 150); got != 150 {
		t.Errorf("ChainVotes() = %d, want 150", got)
	}
	if got := ChainVotes(200, 150); got != 200 {
		t.Errorf("ChainVotes() = %d, want 200", got)
	}

	votes := []domain.VoteRecord{{Origin: 500}, {Origin: 900}, {Origin: 700}}
	if got := SnapshotVotes(100, votes); got != 900 {
		t.Errorf("SnapshotVotes() = %d, want 900", got)
	}
	if got := SnapshotVotes(100, nil); got != 100 {
		t.Errorf("SnapshotVotes() on empty = %d, want 100", got)
	}
}
