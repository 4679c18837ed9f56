package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/vietddude/govwatch/internal/core/domain"
)

var (
	// ErrSourceNotFound is returned when a source doesn't exist
	ErrSourceNotFound = fmt.Errorf("source %w", domain.ErrNotFound)

	// ErrProposalNotFound is returned when a proposal doesn't exist
	ErrProposalNotFound = fmt.Errorf("proposal %w", domain.ErrNotFound)

	// ErrJobNotFound is returned when a notification job doesn't exist
	ErrJobNotFound = fmt.Errorf("notification job %w", domain.ErrNotFound)
)

// SourceRepository is the checkpoint store.
type SourceRepository interface {
	// Get retrieves a source by id
	Get(ctx context.Context, id string) (*domain.Source, error)

	// List retrieves all sources
	List(ctx context.Context) ([]*domain.Source, error)

	// Seed inserts the source unless one with the same id exists
	Seed(ctx context.Context, src *domain.Source) (bool, error)

	// Save writes checkpoint, rate, status and bookkeeping fields (last write wins)
	Save(ctx context.Context, src *domain.Source) error
}

// ProposalFilter narrows a proposal listing. Zero fields match everything.
type ProposalFilter struct {
	DAOID       string
	States      []domain.ProposalState
	EndAfter    time.Time
	EndBefore   time.Time
	CreatedFrom time.Time
	OnlyVisible bool
}

// ProposalRepository stores normalized proposals keyed by (external_id, dao_id).
type ProposalRepository interface {
	// Upsert inserts or updates a proposal. changed is false when the stored
	// row already had identical fields.
	Upsert(ctx context.Context, rec domain.ProposalRecord) (changed bool, err error)

	// Get retrieves one proposal
	Get(ctx context.Context, daoID, externalID string) (*domain.ProposalRecord, error)

	// List retrieves proposals ordered by end time
	List(ctx context.Context, filter ProposalFilter) ([]domain.ProposalRecord, error)
}

// VoteRepository stores votes keyed by (proposal, dao, voter).
type VoteRepository interface {
	// Upsert inserts or replaces a vote
	Upsert(ctx context.Context, vote domain.VoteRecord) error

	// HasVoted reports whether voter has a vote on the proposal
	HasVoted(ctx context.Context, daoID, proposalExternalID, voter string) (bool, error)
}

// JobRepository stores notification jobs.
type JobRepository interface {
	// Create inserts job unless one with the same dedup key exists
	Create(ctx context.Context, job *domain.NotificationJob) (bool, error)

	// Get retrieves a job by id
	Get(ctx context.Context, id string) (*domain.NotificationJob, error)

	// ListDispatchable returns non-terminal jobs of a channel, oldest first
	ListDispatchable(ctx context.Context, channel domain.ChannelKind, limit int) ([]*domain.NotificationJob, error)

	// Save writes state, message ref and attempt bookkeeping
	Save(ctx context.Context, job *domain.NotificationJob) error

	// FindDispatched returns the dispatched job for a dedup tuple, if any
	FindDispatched(
		ctx context.Context,
		userID, daoID, proposalExternalID string,
		kind domain.NotificationKind,
		channel domain.ChannelKind,
	) (*domain.NotificationJob, error)

	// DeleteTerminalBefore removes terminal jobs last updated before t
	DeleteTerminalBefore(ctx context.Context, t time.Time) (int64, error)

	// CountByState returns job counts grouped by dispatch state
	CountByState(ctx context.Context) (map[domain.DispatchState]int, error)
}

// SubscriptionRepository stores user subscriptions to DAOs.
type SubscriptionRepository interface {
	// Add inserts or replaces a subscription
	Add(ctx context.Context, sub domain.Subscription) error

	// List retrieves all subscriptions
	List(ctx context.Context) ([]domain.Subscription, error)

	// ListByDAO retrieves subscriptions for one DAO
	ListByDAO(ctx context.Context, daoID string) ([]domain.Subscription, error)
}

// Store bundles every repository.
type Store struct {
	Sources       SourceRepository
	Proposals     ProposalRepository
	Votes         VoteRepository
	Jobs          JobRepository
	Subscriptions SubscriptionRepository
}
