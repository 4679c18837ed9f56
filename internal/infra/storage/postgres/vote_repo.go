package postgres

import (
	"context"
	"fmt"

	"github.com/vietddude/govwatch/internal/core/domain"
)

// VoteRepo implements storage.VoteRepository using PostgreSQL.
type VoteRepo struct {
	db *DB
}

// NewVoteRepo creates a new PostgreSQL vote repository.
func NewVoteRepo(db *DB) *VoteRepo {
	return &VoteRepo{db: db}
}

// Upsert inserts or replaces a vote.
func (r *VoteRepo) Upsert(ctx context.Context, v domain.VoteRecord) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO votes (proposal_external_id, dao_id, voter, choice, weight, reason, origin)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (proposal_external_id, dao_id, voter) DO UPDATE SET
			choice = EXCLUDED.choice,
			weight = EXCLUDED.weight,
			reason = EXCLUDED.reason,
			origin = EXCLUDED.origin`,
		v.ProposalExternalID, v.DAOID, v.Voter, v.Choice, v.Weight, v.Reason, v.Origin)
	if err != nil {
		return fmt.Errorf("failed to upsert vote: %w", err)
	}
	return nil
}

// HasVoted reports whether voter has a vote on the proposal.
func (r *VoteRepo) HasVoted(ctx context.Context, daoID, proposalID, voter string) (bool, error) {
	var ok bool
	err := r.db.GetContext(ctx, &ok, `
		SELECT EXISTS (
			SELECT 1 FROM votes
			WHERE dao_id = $1 AND proposal_external_id = $2 AND voter = $3
		)`, daoID, proposalID, voter)
	if err != nil {
		return false, fmt.Errorf("failed to check vote: %w", err)
	}
	return ok, nil
}
