// Package advance computes new source checkpoints from fetch results.
//
// Every function here is pure: running it twice on the same input yields the
// same checkpoint, and the result is never below the previous checkpoint.
package advance

import (
	"time"

	"github.com/vietddude/govwatch/internal/core/domain"
)

// OnChain returns the checkpoint after scanning a window ending at to.
//
// If any fetched proposal is still open, the checkpoint stops at the lowest
// creation block among them so that the next window covers it again and its
// tallies keep refreshing. Otherwise the whole window is retired.
func OnChain(checkpoint, to int64, records []domain.ProposalRecord, now time.Time) int64 {
	next := to
	open := false
	for _, r := range records {
		if !r.Open(now) {
			continue
		}
		if !open || r.Origin < next {
			next = r.Origin
			open = true
		}
	}
	return max(next, checkpoint)
}

// ChainVotes returns the checkpoint after a vote window. Votes never change
// once cast, so the window is always retired.
func ChainVotes(checkpoint, to int64) int64 {
	return max(checkpoint, to)
}

// SnapshotVotes returns the newest vote creation time seen, or the previous
// checkpoint when nothing was returned.
func SnapshotVotes(checkpoint int64, votes []domain.VoteRecord) int64 {
	next := checkpoint
	for _, v := range votes {
		next = max(next, v.Origin)
	}
	return next
}

// Policy tunes the off-chain rule.
type Policy struct {
	// UptodateLag is the largest checkpoint lag behind now that still counts as current.
	UptodateLag time.Duration
	// PersistThreshold is how far the checkpoint must move before it is written.
	PersistThreshold time.Duration
}

// DefaultPolicy returns one hour for both thresholds.
func DefaultPolicy() Policy {
	return Policy{UptodateLag: time.Hour, PersistThreshold: time.Hour}
}

// OffChainResult is the outcome of the off-chain rule.
type OffChainResult struct {
	Checkpoint int64
	Uptodate   bool
	// Persist is false when writing would be redundant.
	Persist bool
}

// OffChain returns the checkpoint (unix seconds) after an off-chain page.
//
// New checkpoint is the earliest creation among proposals still open and
// ending this year, else the latest creation among finally closed proposals,
// else unchanged. The source is uptodate when the checkpoint is within
// UptodateLag of now. The pair is persisted only when uptodate flips or the
// checkpoint moves by more than PersistThreshold.
func OffChain(
	checkpoint int64,
	wasUptodate bool,
	records []domain.ProposalRecord,
	now time.Time,
	policy Policy,
) OffChainResult {
	var (
		minOpen, maxClosed int64
		hasOpen, hasClosed bool
	)

	for _, r := range records {
		switch {
		case r.State == domain.ProposalExecuted:
			if !hasClosed || r.Origin > maxClosed {
				maxClosed = r.Origin
				hasClosed = true
			}
		case r.TimeEnd.UTC().Year() == now.UTC().Year():
			if !hasOpen || r.Origin < minOpen {
				minOpen = r.Origin
				hasOpen = true
			}
		}
	}

	next := checkpoint
	switch {
	case hasOpen:
		next = minOpen
	case hasClosed:
		next = maxClosed
	}
	next = max(next, checkpoint)

	lag := now.Unix() - next
	uptodate := lag < int64(policy.UptodateLag/time.Second)

	moved := next-checkpoint > int64(policy.PersistThreshold/time.Second)

	return OffChainResult{
		Checkpoint: next,
		Uptodate:   uptodate,
		Persist:    moved || uptodate != wasUptodate,
	}
}
