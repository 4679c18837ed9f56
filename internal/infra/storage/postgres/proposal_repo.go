package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/vietddude/govwatch/internal/core/domain"
	"github.com/vietddude/govwatch/internal/infra/storage"
)

const proposalColumns = `external_id, dao_id, source_id, title, time_created, time_start, time_end,
	origin, choices, scores, scores_total, quorum, url, state, visible, estimated`

type proposalRow struct {
	ExternalID  string          `db:"external_id"`
	DAOID       string          `db:"dao_id"`
	SourceID    string          `db:"source_id"`
	Title       string          `db:"title"`
	TimeCreated time.Time       `db:"time_created"`
	TimeStart   time.Time       `db:"time_start"`
	TimeEnd     time.Time       `db:"time_end"`
	Origin      int64           `db:"origin"`
	Choices     pq.StringArray  `db:"choices"`
	Scores      pq.Float64Array `db:"scores"`
	ScoresTotal float64         `db:"scores_total"`
	Quorum      float64         `db:"quorum"`
	URL         string          `db:"url"`
	State       string          `db:"state"`
	Visible     bool            `db:"visible"`
	Estimated   bool            `db:"estimated"`
}

func toProposalRow(p domain.ProposalRecord) proposalRow {
	choices := p.Choices
	if choices == nil {
		choices = []string{}
	}
	scores := p.Scores
	if scores == nil {
		scores = []float64{}
	}
	return proposalRow{
		ExternalID:  p.ExternalID,
		DAOID:       p.DAOID,
		SourceID:    p.SourceID,
		Title:       p.Title,
		TimeCreated: p.TimeCreated.UTC(),
		TimeStart:   p.TimeStart.UTC(),
		TimeEnd:     p.TimeEnd.UTC(),
		Origin:      p.Origin,
		Choices:     choices,
		Scores:      scores,
		ScoresTotal: p.ScoresTotal,
		Quorum:      p.Quorum,
		URL:         p.URL,
		State:       string(p.State),
		Visible:     p.Visible,
		Estimated:   p.Estimated,
	}
}

func (row proposalRow) record() domain.ProposalRecord {
	return domain.ProposalRecord{
		ExternalID:  row.ExternalID,
		DAOID:       row.DAOID,
		SourceID:    row.SourceID,
		Title:       row.Title,
		TimeCreated: row.TimeCreated,
		TimeStart:   row.TimeStart,
		TimeEnd:     row.TimeEnd,
		Origin:      row.Origin,
		Choices:     []string(row.Choices),
		Scores:      []float64(row.Scores),
		ScoresTotal: row.ScoresTotal,
		Quorum:      row.Quorum,
		URL:         row.URL,
		State:       domain.ProposalState(row.State),
		Visible:     row.Visible,
		Estimated:   row.Estimated,
	}
}

// ProposalRepo implements storage.ProposalRepository using PostgreSQL.
type ProposalRepo struct {
	db *DB
}

// NewProposalRepo creates a new PostgreSQL proposal repository.
func NewProposalRepo(db *DB) *ProposalRepo {
	return &ProposalRepo{db: db}
}

// Upsert inserts or updates a proposal. The update is skipped when nothing
// changed, in which case no row comes back.
func (r *ProposalRepo) Upsert(ctx context.Context, rec domain.ProposalRecord) (bool, error) {
	query, args, err := r.db.BindNamed(`
		INSERT INTO proposals (`+proposalColumns+`, updated_at)
		VALUES (:external_id, :dao_id, :source_id, :title, :time_created, :time_start, :time_end,
			:origin, :choices, :scores, :scores_total, :quorum, :url, :state, :visible, :estimated, NOW())
		ON CONFLICT (external_id, dao_id) DO UPDATE SET
			source_id = EXCLUDED.source_id,
			title = EXCLUDED.title,
			time_created = EXCLUDED.time_created,
			time_start = EXCLUDED.time_start,
			time_end = EXCLUDED.time_end,
			origin = EXCLUDED.origin,
			choices = EXCLUDED.choices,
			scores = EXCLUDED.scores,
			scores_total = EXCLUDED.scores_total,
			quorum = EXCLUDED.quorum,
			url = EXCLUDED.url,
			state = EXCLUDED.state,
			visible = EXCLUDED.visible,
			estimated = EXCLUDED.estimated,
			updated_at = NOW()
		WHERE (proposals.title, proposals.time_created, proposals.time_start, proposals.time_end,
			proposals.origin, proposals.choices, proposals.scores, proposals.scores_total,
			proposals.quorum, proposals.url, proposals.state, proposals.visible, proposals.estimated)
		IS DISTINCT FROM (EXCLUDED.title, EXCLUDED.time_created, EXCLUDED.time_start, EXCLUDED.time_end,
			EXCLUDED.origin, EXCLUDED.choices, EXCLUDED.scores, EXCLUDED.scores_total,
			EXCLUDED.quorum, EXCLUDED.url, EXCLUDED.state, EXCLUDED.visible, EXCLUDED.estimated)
		RETURNING external_id`, toProposalRow(rec))
	if err != nil {
		return false, fmt.Errorf("failed to bind proposal upsert: %w", err)
	}

	var id string
	err = r.db.QueryRowxContext(ctx, query, args...).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to upsert proposal: %w", err)
	}
	return true, nil
}

// Get retrieves one proposal.
func (r *ProposalRepo) Get(ctx context.Context, daoID, externalID string) (*domain.ProposalRecord, error) {
	var row proposalRow
	err := r.db.GetContext(ctx, &row,
		`SELECT `+proposalColumns+` FROM proposals WHERE dao_id = $1 AND external_id = $2`,
		daoID, externalID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrProposalNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get proposal: %w", err)
	}
	rec := row.record()
	return &rec, nil
}

// List retrieves proposals matching filter ordered by end time.
func (r *ProposalRepo) List(ctx context.Context, f storage.ProposalFilter) ([]domain.ProposalRecord, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.DAOID != "" {
		add("dao_id = $%d", f.DAOID)
	}
	if len(f.States) > 0 {
		states := make([]string, len(f.States))
		for i, s := range f.States {
			states[i] = string(s)
		}
		add("state = ANY($%d)", pq.Array(states))
	}
	if !f.EndAfter.IsZero() {
		add("time_end > $%d", f.EndAfter.UTC())
	}
	if !f.EndBefore.IsZero() {
		add("time_end < $%d", f.EndBefore.UTC())
	}
	if !f.CreatedFrom.IsZero() {
		add("time_created >= $%d", f.CreatedFrom.UTC())
	}
	if f.OnlyVisible {
		where = append(where, "visible")
	}

	query := `SELECT ` + proposalColumns + ` FROM proposals`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY time_end, dao_id, external_id"

	var rows []proposalRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list proposals: %w", err)
	}
	out := make([]domain.ProposalRecord, len(rows))
	for i, row := range rows {
		out[i] = row.record()
	}
	return out, nil
}
