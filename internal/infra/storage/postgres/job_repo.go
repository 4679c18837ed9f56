package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/vietddude/govwatch/internal/core/domain"
	"github.com/vietddude/govwatch/internal/infra/storage"
)

const jobColumns = `id, user_id, dao_id, proposal_external_id, kind, channel, target, state,
	message_ref, attempts, last_error, created_at, updated_at`

// JobRepo implements storage.JobRepository using PostgreSQL.
type JobRepo struct {
	db *DB
}

// NewJobRepo creates a new PostgreSQL notification job repository.
func NewJobRepo(db *DB) *JobRepo {
	return &JobRepo{db: db}
}

func terminalStates() pq.StringArray {
	return pq.StringArray{
		string(domain.DispatchDispatched),
		string(domain.DispatchFailed),
		string(domain.DispatchDeleted),
	}
}

// Create inserts a job unless its dedup tuple already exists.
func (r *JobRepo) Create(ctx context.Context, job *domain.NotificationJob) (bool, error) {
	c := *job
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = c.CreatedAt
	}
	res, err := r.db.NamedExecContext(ctx, `
		INSERT INTO notification_jobs (`+jobColumns+`)
		VALUES (:id, :user_id, :dao_id, :proposal_external_id, :kind, :channel, :target, :state,
			:message_ref, :attempts, :last_error, :created_at, :updated_at)
		ON CONFLICT (user_id, dao_id, proposal_external_id, kind, channel) DO NOTHING`, &c)
	if err != nil {
		return false, fmt.Errorf("failed to create notification job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to create notification job: %w", err)
	}
	return n > 0, nil
}

// Get retrieves a job by id.
func (r *JobRepo) Get(ctx context.Context, id string) (*domain.NotificationJob, error) {
	var job domain.NotificationJob
	err := r.db.GetContext(ctx, &job, `SELECT `+jobColumns+` FROM notification_jobs WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get notification job: %w", err)
	}
	return &job, nil
}

// ListDispatchable returns the non-terminal jobs of a channel, oldest first.
func (r *JobRepo) ListDispatchable(
	ctx context.Context,
	channel domain.ChannelKind,
	limit int,
) ([]*domain.NotificationJob, error) {
	query := `SELECT ` + jobColumns + ` FROM notification_jobs
		WHERE channel = $1 AND NOT (state = ANY($2))
		ORDER BY created_at, id`
	args := []any{string(channel), terminalStates()}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}

	var out []*domain.NotificationJob
	if err := r.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list dispatchable jobs: %w", err)
	}
	return out, nil
}

// Save writes state, message ref and attempt bookkeeping.
func (r *JobRepo) Save(ctx context.Context, job *domain.NotificationJob) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE notification_jobs SET
			target = $2,
			state = $3,
			message_ref = $4,
			attempts = $5,
			last_error = $6,
			updated_at = NOW()
		WHERE id = $1`,
		job.ID, job.Target, string(job.State), string(job.MessageRef), job.Attempts, job.LastError)
	if err != nil {
		return fmt.Errorf("failed to save notification job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to save notification job: %w", err)
	}
	if n == 0 {
		return storage.ErrJobNotFound
	}
	return nil
}

// FindDispatched returns the dispatched job for a dedup tuple.
func (r *JobRepo) FindDispatched(
	ctx context.Context,
	userID, daoID, proposalID string,
	kind domain.NotificationKind,
	channel domain.ChannelKind,
) (*domain.NotificationJob, error) {
	var job domain.NotificationJob
	err := r.db.GetContext(ctx, &job, `SELECT `+jobColumns+` FROM notification_jobs
		WHERE user_id = $1 AND dao_id = $2 AND proposal_external_id = $3
			AND kind = $4 AND channel = $5 AND state = $6`,
		userID, daoID, proposalID, string(kind), string(channel), string(domain.DispatchDispatched))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find dispatched job: %w", err)
	}
	return &job, nil
}

// DeleteTerminalBefore removes terminal jobs last updated before t.
func (r *JobRepo) DeleteTerminalBefore(ctx context.Context, t time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM notification_jobs WHERE state = ANY($1) AND updated_at < $2`,
		terminalStates(), t.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune notification jobs: %w", err)
	}
	return res.RowsAffected()
}

// CountByState returns job counts grouped by dispatch state.
func (r *JobRepo) CountByState(ctx context.Context) (map[domain.DispatchState]int, error) {
	var rows []struct {
		State string `db:"state"`
		Count int    `db:"count"`
	}
	if err := r.db.SelectContext(ctx, &rows,
		`SELECT state, COUNT(*) AS count FROM notification_jobs GROUP BY state`); err != nil {
		return nil, fmt.Errorf("failed to count notification jobs: %w", err)
	}
	out := make(map[domain.DispatchState]int, len(rows))
	for _, row := range rows {
		out[domain.DispatchState(row.State)] = row.Count
	}
	return out, nil
}
