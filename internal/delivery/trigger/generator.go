package trigger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/vietddude/govwatch/internal/core/domain"
	"github.com/vietddude/govwatch/internal/infra/storage"
)

// GeneratorConfig holds generator configuration.
type GeneratorConfig struct {
	Interval       time.Duration // time between passes (default: 5m)
	FirstReminder  time.Duration // lead time of the first reminder (default: 24h)
	SecondReminder time.Duration // lead time of the second reminder (default: 6h)
	ReminderWindow time.Duration // width of the reminder window (default: 60m)
	Lookback       time.Duration // how far back new and ended proposals are announced (default: 24h)
}

// DefaultGeneratorConfig returns default generator configuration.
func DefaultGeneratorConfig() GeneratorConfig {
	return GeneratorConfig{
		Interval:       5 * time.Minute,
		FirstReminder:  24 * time.Hour,
		SecondReminder: 6 * time.Hour,
		ReminderWindow: 60 * time.Minute,
		Lookback:       24 * time.Hour,
	}
}

func (c GeneratorConfig) withDefaults() GeneratorConfig {
	def := DefaultGeneratorConfig()
	if c.Interval <= 0 {
		c.Interval = def.Interval
	}
	if c.FirstReminder <= 0 {
		c.FirstReminder = def.FirstReminder
	}
	if c.SecondReminder <= 0 {
		c.SecondReminder = def.SecondReminder
	}
	if c.ReminderWindow <= 0 {
		c.ReminderWindow = def.ReminderWindow
	}
	if c.Lookback <= 0 {
		c.Lookback = def.Lookback
	}
	return c
}

// Generator matches stored proposals against subscriptions and requests
// NewProposal, reminder and Ended jobs.
type Generator struct {
	cfg    GeneratorConfig
	store  *storage.Store
	intake *Intake
	now    func() time.Time
	log    *slog.Logger
}

// NewGenerator creates a generator.
func NewGenerator(cfg GeneratorConfig, store *storage.Store, intake *Intake) *Generator {
	return &Generator{
		cfg:    cfg.withDefaults(),
		store:  store,
		intake: intake,
		now:    time.Now,
		log:    slog.Default().With("component", "generator"),
	}
}

// Run generates jobs every interval until ctx is done.
func (g *Generator) Run(ctx context.Context) error {
	ticker := time.NewTicker(g.cfg.Interval)
	defer ticker.Stop()

	for {
		if n, err := g.Generate(ctx); err != nil && ctx.Err() == nil {
			g.log.Error("Job generation failed", "error", err)
		} else if n > 0 {
			g.log.Info("Jobs generated", "count", n)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Generate runs one pass and returns the number of jobs created.
func (g *Generator) Generate(ctx context.Context) (int, error) {
	subs, err := g.store.Subscriptions.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	byDAO := make(map[string][]domain.Subscription)
	for _, s := range subs {
		byDAO[s.DAOID] = append(byDAO[s.DAOID], s)
	}

	now := g.now()
	created := 0
	for dao, daoSubs := range byDAO {
		n, err := g.generateDAO(ctx, dao, daoSubs, now)
		created += n
		if err != nil {
			return created, err
		}
	}
	return created, nil
}

func (g *Generator) generateDAO(ctx context.Context, dao string, subs []domain.Subscription, now time.Time) (int, error) {
	created := 0

	fresh, err := g.store.Proposals.List(ctx, storage.ProposalFilter{
		DAOID:       dao,
		States:      []domain.ProposalState{domain.ProposalPending, domain.ProposalActive},
		EndAfter:    now,
		CreatedFrom: now.Add(-g.cfg.Lookback),
		OnlyVisible: true,
	})
	if err != nil {
		return created, fmt.Errorf("failed to list new proposals of %s: %w", dao, err)
	}
	n, err := g.request(ctx, fresh, subs, domain.NotifyNewProposal, false)
	created += n
	if err != nil {
		return created, err
	}

	for _, r := range []struct {
		kind domain.NotificationKind
		lead time.Duration
	}{
		{domain.NotifyFirstReminder, g.cfg.FirstReminder},
		{domain.NotifySecondReminder, g.cfg.SecondReminder},
	} {
		ending, err := g.store.Proposals.List(ctx, storage.ProposalFilter{
			DAOID:       dao,
			States:      []domain.ProposalState{domain.ProposalActive},
			EndAfter:    now.Add(r.lead - g.cfg.ReminderWindow),
			EndBefore:   now.Add(r.lead),
			OnlyVisible: true,
		})
		if err != nil {
			return created, fmt.Errorf("failed to list ending proposals of %s: %w", dao, err)
		}
		n, err := g.request(ctx, ending, subs, r.kind, true)
		created += n
		if err != nil {
			return created, err
		}
	}

	recent, err := g.store.Proposals.List(ctx, storage.ProposalFilter{
		DAOID:       dao,
		EndAfter:    now.Add(-g.cfg.Lookback),
		EndBefore:   now,
		OnlyVisible: true,
	})
	if err != nil {
		return created, fmt.Errorf("failed to list ended proposals of %s: %w", dao, err)
	}
	ended := recent[:0]
	for _, p := range recent {
		// still waiting for the refresh that records the final state
		if p.State == domain.ProposalActive || p.State == domain.ProposalPending {
			continue
		}
		ended = append(ended, p)
	}
	n, err = g.request(ctx, ended, subs, domain.NotifyEndedProposal, false)
	return created + n, err
}

// request creates one job per (proposal, subscription). With skipVoted,
// subscribers whose address already voted are left out.
func (g *Generator) request(
	ctx context.Context,
	proposals []domain.ProposalRecord,
	subs []domain.Subscription,
	kind domain.NotificationKind,
	skipVoted bool,
) (int, error) {
	created := 0
	for _, p := range proposals {
		for _, s := range subs {
			if skipVoted && g.voted(ctx, p, s) {
				continue
			}
			ok, err := g.intake.Create(ctx, domain.JobRequest{
				UserID:             s.UserID,
				DAOID:              p.DAOID,
				ProposalExternalID: p.ExternalID,
				Kind:               kind,
				Channel:            s.Channel,
				Target:             s.Target,
			})
			if errors.Is(err, ErrInvalidRequest) {
				g.log.Warn("Skipping subscription", "user", s.UserID, "dao", s.DAOID, "error", err)
				continue
			}
			if err != nil {
				return created, err
			}
			if ok {
				created++
			}
		}
	}
	return created, nil
}

func (g *Generator) voted(ctx context.Context, p domain.ProposalRecord, s domain.Subscription) bool {
	if s.Address == "" || g.store.Votes == nil {
		return false
	}
	ok, err := g.store.Votes.HasVoted(ctx, p.DAOID, p.ExternalID, strings.ToLower(s.Address))
	if err != nil {
		g.log.Warn("Failed to check vote", "proposal", p.ExternalID, "voter", s.Address, "error", err)
		return false
	}
	return ok
}
