// Package bulletin mails a periodic digest of governance activity to every
// email subscriber.
package bulletin

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vietddude/govwatch/internal/core/domain"
	"github.com/vietddude/govwatch/internal/delivery/ladder"
	"github.com/vietddude/govwatch/internal/indexing/metrics"
	"github.com/vietddude/govwatch/internal/infra/storage"
)

// Mailer sends one plain-text mail.
type Mailer interface {
	SendText(ctx context.Context, to, subject, body string) (domain.MessageRef, error)
}

// Config holds bulletin configuration.
type Config struct {
	Interval    time.Duration // time between bulletins (default: 24h)
	Concurrency int           // concurrent sends (default: 10)
}

// DefaultConfig returns default bulletin configuration.
func DefaultConfig() Config {
	return Config{Interval: 24 * time.Hour, Concurrency: 10}
}

// Report summarizes one bulletin run.
type Report struct {
	Recipients int
	Sent       int
	Failed     int
	Skipped    int
}

// Bulletin builds and sends digests.
type Bulletin struct {
	cfg       Config
	subs      storage.SubscriptionRepository
	proposals storage.ProposalRepository
	mailer    Mailer
	now       func() time.Time
	log       *slog.Logger
}

// New creates a bulletin sender.
func New(cfg Config, subs storage.SubscriptionRepository, proposals storage.ProposalRepository, mailer Mailer) *Bulletin {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	return &Bulletin{
		cfg:       cfg,
		subs:      subs,
		proposals: proposals,
		mailer:    mailer,
		now:       time.Now,
		log:       slog.Default().With("component", "bulletin"),
	}
}

// Run sends a bulletin every interval until ctx is done. The first bulletin
// goes out one interval after start.
func (b *Bulletin) Run(ctx context.Context) error {
	ticker := time.NewTicker(b.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			report, err := b.Send(ctx)
			if err != nil {
				b.log.Error("Bulletin failed", "error", err)
				continue
			}
			b.log.Info("Bulletin sent",
				"recipients", report.Recipients,
				"sent", report.Sent,
				"failed", report.Failed,
				"skipped", report.Skipped,
			)
		}
	}
}

// Send mails one digest per email recipient. A failing recipient never
// stops the others.
func (b *Bulletin) Send(ctx context.Context) (Report, error) {
	subs, err := b.subs.List(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("failed to list subscriptions: %w", err)
	}

	recipients := make(map[string][]string)
	for _, s := range subs {
		if s.Channel != domain.ChannelEmail || s.Target == "" {
			continue
		}
		if !slices.Contains(recipients[s.Target], s.DAOID) {
			recipients[s.Target] = append(recipients[s.Target], s.DAOID)
		}
	}

	now := b.now()
	cache := make(map[string]digestEntry)
	for _, daos := range recipients {
		for _, dao := range daos {
			if _, ok := cache[dao]; ok {
				continue
			}
			entry, err := b.collect(ctx, dao, now)
			if err != nil {
				return Report{}, err
			}
			cache[dao] = entry
		}
	}

	var sent, failed, skipped atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.cfg.Concurrency)

	for to, daos := range recipients {
		slices.Sort(daos)
		body := render(daos, cache, now)
		if body == "" {
			skipped.Add(1)
			continue
		}
		g.Go(func() error {
			_, err := b.mailer.SendText(gctx, to, subject(now), body)
			metrics.DeliveryAttempts.WithLabelValues(string(domain.ChannelEmail), string(ladder.Classify(err))).Inc()
			if err != nil {
				failed.Add(1)
				b.log.Warn("Failed to mail bulletin", "to", to, "error", err)
				return nil
			}
			sent.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	return Report{
		Recipients: len(recipients),
		Sent:       int(sent.Load()),
		Failed:     int(failed.Load()),
		Skipped:    int(skipped.Load()),
	}, nil
}

type digestEntry struct {
	active []domain.ProposalRecord
	ended  []domain.ProposalRecord
}

// collect gathers the open proposals of dao and those that ended in the
// last interval.
func (b *Bulletin) collect(ctx context.Context, dao string, now time.Time) (digestEntry, error) {
	active, err := b.proposals.List(ctx, storage.ProposalFilter{
		DAOID:       dao,
		States:      []domain.ProposalState{domain.ProposalActive},
		EndAfter:    now,
		OnlyVisible: true,
	})
	if err != nil {
		return digestEntry{}, fmt.Errorf("failed to list active proposals of %s: %w", dao, err)
	}
	ended, err := b.proposals.List(ctx, storage.ProposalFilter{
		DAOID:       dao,
		EndAfter:    now.Add(-b.cfg.Interval),
		EndBefore:   now,
		OnlyVisible: true,
	})
	if err != nil {
		return digestEntry{}, fmt.Errorf("failed to list ended proposals of %s: %w", dao, err)
	}
	return digestEntry{active: active, ended: ended}, nil
}

func subject(now time.Time) string {
	return "Governance bulletin for " + now.UTC().Format("Jan 2, 2006")
}

func render(daos []string, cache map[string]digestEntry, now time.Time) string {
	var sb strings.Builder
	for _, dao := range daos {
		e := cache[dao]
		if len(e.active) == 0 && len(e.ended) == 0 {
			continue
		}
		fmt.Fprintf(&sb, "%s\n", dao)
		for _, p := range e.active {
			fmt.Fprintf(&sb, "  [open] %s (ends in %s) %s\n", p.Title, p.TimeEnd.Sub(now).Round(time.Hour), p.URL)
		}
		for _, p := range e.ended {
			fmt.Fprintf(&sb, "  [%s] %s %s\n", p.State, p.Title, p.URL)
		}
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}
