// Package refresh runs one refresh attempt for a work item: build the window
// or query, fetch, upsert, and compute the checkpoint advancement.
package refresh

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vietddude/govwatch/internal/core/checkpoint"
	"github.com/vietddude/govwatch/internal/core/domain"
	"github.com/vietddude/govwatch/internal/indexing/advance"
	"github.com/vietddude/govwatch/internal/indexing/metrics"
	"github.com/vietddude/govwatch/internal/indexing/throttle"
	"github.com/vietddude/govwatch/internal/indexing/window"
	"github.com/vietddude/govwatch/internal/infra/storage"
	"github.com/vietddude/govwatch/internal/source"
)

// Refresher performs one refresh of a work item. A returned error is a
// failed fetch; the outcome is then ignored apart from its rate feedback.
type Refresher interface {
	Refresh(ctx context.Context, item domain.WorkItem) (checkpoint.Outcome, error)
}

// SourceGetter reads the current state of a source.
type SourceGetter interface {
	Get(ctx context.Context, id string) (*domain.Source, error)
}

// Config tunes the in-process refresher.
type Config struct {
	SafetyLag int64
	Policy    advance.Policy
}

// Service refreshes sources in process.
type Service struct {
	sources   SourceGetter
	registry  *source.Registry
	head      throttle.HeadFetcher
	proposals storage.ProposalRepository
	votes     storage.VoteRepository
	cfg       Config
	now       func() time.Time
	log       *slog.Logger
}

// NewService creates an in-process refresher. head may be nil when no
// on-chain source is configured.
func NewService(
	sources SourceGetter,
	registry *source.Registry,
	head throttle.HeadFetcher,
	proposals storage.ProposalRepository,
	votes storage.VoteRepository,
	cfg Config,
) *Service {
	if cfg.SafetyLag <= 0 {
		cfg.SafetyLag = window.DefaultSafetyLag
	}
	if cfg.Policy == (advance.Policy{}) {
		cfg.Policy = advance.DefaultPolicy()
	}
	return &Service{
		sources:   sources,
		registry:  registry,
		head:      head,
		proposals: proposals,
		votes:     votes,
		cfg:       cfg,
		now:       time.Now,
		log:       slog.Default().With("component", "refresh"),
	}
}

// WithClock replaces the wall clock. Used by tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Refresh dispatches on the item kind.
func (s *Service) Refresh(ctx context.Context, item domain.WorkItem) (checkpoint.Outcome, error) {
	start := time.Now()
	defer func() {
		metrics.RefreshLatency.WithLabelValues(string(item.Kind)).Observe(time.Since(start).Seconds())
	}()

	src, err := s.sources.Get(ctx, item.SourceID)
	if err != nil {
		return checkpoint.Outcome{}, fmt.Errorf("failed to get source: %w", err)
	}
	src.Voters = item.Voters

	fetcher, err := s.registry.Get(src.Family)
	if err != nil {
		return checkpoint.Outcome{}, err
	}

	switch src.Kind {
	case domain.KindChainProposals:
		return s.chainProposals(ctx, src, fetcher)
	case domain.KindChainVotes:
		return s.chainVotes(ctx, src, fetcher)
	case domain.KindSnapshotProposals:
		return s.snapshotProposals(ctx, src, fetcher)
	case domain.KindSnapshotVotes:
		return s.snapshotVotes(ctx, src, fetcher)
	default:
		return checkpoint.Outcome{}, fmt.Errorf("unsupported work kind %q", src.Kind)
	}
}

// plan returns the next window and whether the source has caught up with
// the safe head.
func (s *Service) plan(ctx context.Context, src *domain.Source) (window.Window, bool, error) {
	if s.head == nil {
		return window.Window{}, false, fmt.Errorf("no chain configured for source %s", src.ID)
	}
	head, err := s.head.BlockNumber(ctx)
	if err != nil {
		return window.Window{}, false, fmt.Errorf("failed to get chain head: %w", err)
	}
	w := window.Plan(src.Checkpoint, src.Rate, head, s.cfg.SafetyLag)
	metrics.WindowSize.WithLabelValues(string(src.Kind)).Observe(float64(w.Size()))
	caughtUp := w.Empty() || w.To >= head-s.cfg.SafetyLag
	return w, caughtUp, nil
}

func (s *Service) chainProposals(
	ctx context.Context,
	src *domain.Source,
	fetcher source.Fetcher,
) (checkpoint.Outcome, error) {
	w, caughtUp, err := s.plan(ctx, src)
	if err != nil {
		return checkpoint.Outcome{}, err
	}
	if w.Empty() {
		return checkpoint.Outcome{Idle: true, SetUptodate: true, Uptodate: true}, nil
	}

	records, err := fetcher.FetchProposals(ctx, *src, source.Query{Window: w})
	if err != nil {
		return checkpoint.Outcome{}, fmt.Errorf("failed to fetch proposals: %w", err)
	}
	if err := s.upsertProposals(ctx, src, records); err != nil {
		return checkpoint.Outcome{}, err
	}

	next := advance.OnChain(src.Checkpoint, w.To, records, s.now())
	s.log.Debug("Chain proposals refreshed",
		"source", src.ID,
		"from", w.From,
		"to", w.To,
		"proposals", len(records),
		"checkpoint", next,
	)
	return checkpoint.Outcome{
		Advance:     true,
		Checkpoint:  next,
		SetUptodate: true,
		Uptodate:    caughtUp,
	}, nil
}

func (s *Service) chainVotes(
	ctx context.Context,
	src *domain.Source,
	fetcher source.Fetcher,
) (checkpoint.Outcome, error) {
	if len(src.Voters) == 0 {
		return checkpoint.Outcome{Idle: true}, nil
	}
	w, caughtUp, err := s.plan(ctx, src)
	if err != nil {
		return checkpoint.Outcome{}, err
	}
	if w.Empty() {
		return checkpoint.Outcome{Idle: true, SetUptodate: true, Uptodate: true}, nil
	}

	votes, err := fetcher.FetchVotes(ctx, *src, source.Query{Window: w, Voters: src.Voters})
	if err != nil {
		return checkpoint.Outcome{}, fmt.Errorf("failed to fetch votes: %w", err)
	}
	if err := s.upsertVotes(ctx, src, votes); err != nil {
		return checkpoint.Outcome{}, err
	}

	return checkpoint.Outcome{
		Advance:     true,
		Checkpoint:  advance.ChainVotes(src.Checkpoint, w.To),
		SetUptodate: true,
		Uptodate:    caughtUp,
	}, nil
}

func (s *Service) snapshotProposals(
	ctx context.Context,
	src *domain.Source,
	fetcher source.Fetcher,
) (checkpoint.Outcome, error) {
	limit := int(src.Rate)
	records, err := fetcher.FetchProposals(ctx, *src, source.Query{Since: src.Checkpoint, Limit: limit})
	if err != nil {
		return checkpoint.Outcome{}, fmt.Errorf("failed to fetch proposals: %w", err)
	}
	if err := s.upsertProposals(ctx, src, records); err != nil {
		return checkpoint.Outcome{}, err
	}

	res := advance.OffChain(src.Checkpoint, src.Uptodate, records, s.now(), s.cfg.Policy)
	s.log.Debug("Snapshot proposals refreshed",
		"source", src.ID,
		"since", src.Checkpoint,
		"proposals", len(records),
		"checkpoint", res.Checkpoint,
		"persist", res.Persist,
	)
	return checkpoint.Outcome{
		Advance:     res.Persist,
		Checkpoint:  res.Checkpoint,
		SetUptodate: res.Persist,
		Uptodate:    res.Uptodate,
	}, nil
}

func (s *Service) snapshotVotes(
	ctx context.Context,
	src *domain.Source,
	fetcher source.Fetcher,
) (checkpoint.Outcome, error) {
	if len(src.Voters) == 0 {
		return checkpoint.Outcome{Idle: true}, nil
	}
	limit := int(src.Rate)
	votes, err := fetcher.FetchVotes(ctx, *src, source.Query{
		Since:  src.Checkpoint,
		Limit:  limit,
		Voters: src.Voters,
	})
	if err != nil {
		return checkpoint.Outcome{}, fmt.Errorf("failed to fetch votes: %w", err)
	}
	if err := s.upsertVotes(ctx, src, votes); err != nil {
		return checkpoint.Outcome{}, err
	}

	return checkpoint.Outcome{
		Advance:     true,
		Checkpoint:  advance.SnapshotVotes(src.Checkpoint, votes),
		SetUptodate: true,
		Uptodate:    len(votes) < limit,
	}, nil
}

func (s *Service) upsertProposals(ctx context.Context, src *domain.Source, records []domain.ProposalRecord) error {
	for _, rec := range records {
		changed, err := s.proposals.Upsert(ctx, rec)
		if err != nil {
			return fmt.Errorf("failed to store proposal %s: %w", rec.ExternalID, err)
		}
		if changed {
			metrics.ProposalsUpserted.WithLabelValues(string(src.Kind)).Inc()
		}
	}
	return nil
}

func (s *Service) upsertVotes(ctx context.Context, src *domain.Source, votes []domain.VoteRecord) error {
	for _, v := range votes {
		if err := s.votes.Upsert(ctx, v); err != nil {
			return fmt.Errorf("failed to store vote of %s: %w", v.Voter, err)
		}
	}
	metrics.VotesUpserted.WithLabelValues(string(src.Kind)).Add(float64(len(votes)))
	return nil
}
