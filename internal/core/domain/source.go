package domain

import (
	"fmt"
	"time"
)

// WorkKind identifies a refresh stream. Every kind gets its own queue and worker pool.
type WorkKind string

const (
	KindChainProposals    WorkKind = "chain_proposals"
	KindChainVotes        WorkKind = "chain_votes"
	KindSnapshotProposals WorkKind = "snapshot_proposals"
	KindSnapshotVotes     WorkKind = "snapshot_votes"
)

// AllKinds lists every work kind in a stable order.
var AllKinds = []WorkKind{
	KindChainProposals,
	KindChainVotes,
	KindSnapshotProposals,
	KindSnapshotVotes,
}

// ParseWorkKind validates a kind received from config or HTTP.
func ParseWorkKind(s string) (WorkKind, error) {
	for _, k := range AllKinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown work kind %q", s)
}

// OnChain reports whether the checkpoint is a block number.
func (k WorkKind) OnChain() bool {
	return k == KindChainProposals || k == KindChainVotes
}

// Votes reports whether the kind refreshes votes for a voter list.
func (k WorkKind) Votes() bool {
	return k == KindChainVotes || k == KindSnapshotVotes
}

// RefreshStatus marks whether a refresh is outstanding for a source.
type RefreshStatus string

const (
	// RefreshNew means a refresh was queued and has not completed yet.
	RefreshNew RefreshStatus = "new"
	// RefreshDone means the source is idle and may be queued again.
	RefreshDone RefreshStatus = "done"
)

// Source is one refresh stream: a DAO handler paired with a work kind.
// Checkpoint holds a block number for on-chain kinds and a unix timestamp
// (seconds) for off-chain kinds. Address is the governance contract for
// on-chain families, Space the snapshot space; ProposalURL is the prefix the
// proposal id is appended to.
type Source struct {
	ID              string        `db:"id"`
	DAOID           string        `db:"dao_id"`
	Kind            WorkKind      `db:"kind"`
	Family          string        `db:"family"`
	Address         string        `db:"address"`
	Space           string        `db:"space"`
	ProposalURL     string        `db:"proposal_url"`
	Checkpoint      int64         `db:"checkpoint"`
	Rate            int64         `db:"rate"`
	Status          RefreshStatus `db:"status"`
	Uptodate        bool          `db:"uptodate"`
	FailureStreak   int           `db:"failure_streak"`
	Voters          []string      `db:"-"`
	LastRefreshedAt time.Time     `db:"last_refreshed_at"`
	UpdatedAt       time.Time     `db:"updated_at"`
}

// WorkItem is what the producer hands to a consumer pool.
type WorkItem struct {
	SourceID string
	Kind     WorkKind
	Voters   []string
	QueuedAt time.Time
}
