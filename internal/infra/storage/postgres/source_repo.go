package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vietddude/govwatch/internal/core/domain"
	"github.com/vietddude/govwatch/internal/infra/storage"
)

const sourceColumns = `id, dao_id, kind, family, address, space, proposal_url, checkpoint, rate,
	status, uptodate, failure_streak, last_refreshed_at, updated_at`

// SourceRepo implements storage.SourceRepository using PostgreSQL.
type SourceRepo struct {
	db *DB
}

// NewSourceRepo creates a new PostgreSQL source repository.
func NewSourceRepo(db *DB) *SourceRepo {
	return &SourceRepo{db: db}
}

// Get retrieves a source by id.
func (r *SourceRepo) Get(ctx context.Context, id string) (*domain.Source, error) {
	var src domain.Source
	err := r.db.GetContext(ctx, &src, `SELECT `+sourceColumns+` FROM sources WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrSourceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get source: %w", err)
	}
	return &src, nil
}

// List retrieves all sources.
func (r *SourceRepo) List(ctx context.Context) ([]*domain.Source, error) {
	var out []*domain.Source
	if err := r.db.SelectContext(ctx, &out, `SELECT `+sourceColumns+` FROM sources ORDER BY id`); err != nil {
		return nil, fmt.Errorf("failed to list sources: %w", err)
	}
	return out, nil
}

// Seed inserts the source unless it already exists. A restart never
// rewinds a persisted checkpoint.
func (r *SourceRepo) Seed(ctx context.Context, src *domain.Source) (bool, error) {
	res, err := r.db.NamedExecContext(ctx, `
		INSERT INTO sources (id, dao_id, kind, family, address, space, proposal_url,
			checkpoint, rate, status, uptodate, failure_streak, last_refreshed_at, updated_at)
		VALUES (:id, :dao_id, :kind, :family, :address, :space, :proposal_url,
			:checkpoint, :rate, :status, :uptodate, :failure_streak, :last_refreshed_at, NOW())
		ON CONFLICT (id) DO NOTHING`, src)
	if err != nil {
		return false, fmt.Errorf("failed to seed source: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to seed source: %w", err)
	}
	return n > 0, nil
}

// Save writes the mutable fields of a source.
func (r *SourceRepo) Save(ctx context.Context, src *domain.Source) error {
	res, err := r.db.NamedExecContext(ctx, `
		UPDATE sources SET
			address = :address,
			space = :space,
			proposal_url = :proposal_url,
			checkpoint = :checkpoint,
			rate = :rate,
			status = :status,
			uptodate = :uptodate,
			failure_streak = :failure_streak,
			last_refreshed_at = :last_refreshed_at,
			updated_at = NOW()
		WHERE id = :id`, src)
	if err != nil {
		return fmt.Errorf("failed to save source: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to save source: %w", err)
	}
	if n == 0 {
		return storage.ErrSourceNotFound
	}
	return nil
}
