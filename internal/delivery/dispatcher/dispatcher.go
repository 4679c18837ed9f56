// Package dispatcher walks pending notification jobs and moves each one
// along the dispatch ladder.
//
// Every pass lists the non-terminal jobs of each configured channel, oldest
// first, and attempts them one at a time behind the channel's pacer. A job
// whose proposal vanished or was hidden is moved to Deleted without a send.
// Ended jobs first edit the message sent for the matching NewProposal job so
// the original announcement reflects the outcome.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vietddude/govwatch/internal/core/domain"
	"github.com/vietddude/govwatch/internal/delivery/channel"
	"github.com/vietddude/govwatch/internal/delivery/ladder"
	"github.com/vietddude/govwatch/internal/delivery/pacer"
	"github.com/vietddude/govwatch/internal/indexing/metrics"
	"github.com/vietddude/govwatch/internal/infra/storage"
)

// saveTimeout bounds the job write that follows a send.
const saveTimeout = 10 * time.Second

// Config holds dispatcher configuration.
type Config struct {
	Interval  time.Duration // time between passes (default: 30s)
	BatchSize int           // jobs per channel per pass (default: 100)
}

// DefaultConfig returns default dispatcher configuration.
func DefaultConfig() Config {
	return Config{Interval: 30 * time.Second, BatchSize: 100}
}

// Dispatcher delivers notification jobs.
type Dispatcher struct {
	cfg      Config
	store    *storage.Store
	channels channel.Set
	pacer    *pacer.Pacer
	now      func() time.Time
	log      *slog.Logger
	running  atomic.Bool
}

// New creates a dispatcher. store must carry Jobs and Proposals; Votes and
// Subscriptions are optional and only used to mark messages as voted.
func New(cfg Config, store *storage.Store, channels channel.Set, p *pacer.Pacer) *Dispatcher {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if p == nil {
		p = pacer.New(pacer.DefaultLimit, nil)
	}
	return &Dispatcher{
		cfg:      cfg,
		store:    store,
		channels: channels,
		pacer:    p,
		now:      time.Now,
		log:      slog.Default().With("component", "dispatcher"),
	}
}

// Run executes a pass every interval until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) error {
	if !d.running.CompareAndSwap(false, true) {
		return fmt.Errorf("dispatcher already running")
	}
	defer d.running.Store(false)

	d.log.Info("Starting dispatcher", "channels", len(d.channels), "interval", d.cfg.Interval)

	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := d.Pass(ctx); err != nil && ctx.Err() == nil {
			d.log.Error("Dispatch pass failed", "error", err)
		}
		select {
		case <-ctx.Done():
			d.log.Info("Dispatcher stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Pass attempts every pending job once. Channels run concurrently, jobs
// within a channel run in order. It returns the number of jobs attempted.
func (d *Dispatcher) Pass(ctx context.Context) (int, error) {
	kinds := make([]domain.ChannelKind, 0, len(d.channels))
	for k := range d.channels {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)

	var attempted atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	for _, kind := range kinds {
		g.Go(func() error {
			jobs, err := d.store.Jobs.ListDispatchable(gctx, kind, d.cfg.BatchSize)
			if err != nil {
				return fmt.Errorf("failed to list %s jobs: %w", kind, err)
			}
			for _, job := range jobs {
				if _, err := d.Dispatch(gctx, job); err != nil {
					if gctx.Err() != nil {
						return gctx.Err()
					}
					d.log.Warn("Job left pending", "job", job.ID, "channel", kind, "error", err)
					continue
				}
				attempted.Add(1)
			}
			return nil
		})
	}
	err := g.Wait()
	return int(attempted.Load()), err
}

// Dispatch makes one attempt for job and persists the resulting state.
// An error means the job was not attempted and is still pending.
func (d *Dispatcher) Dispatch(ctx context.Context, job *domain.NotificationJob) (domain.DispatchState, error) {
	if job.State.Terminal() {
		return job.State, nil
	}
	log := d.log.With("job", job.ID, "channel", job.Channel, "kind", job.Kind, "proposal", job.ProposalExternalID)

	p, err := d.store.Proposals.Get(ctx, job.DAOID, job.ProposalExternalID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return job.State, fmt.Errorf("failed to load proposal: %w", err)
	}
	ch, chErr := d.channels.Get(job.Channel)

	if p == nil || !p.Visible {
		if job.Kind == domain.NotifyEndedProposal && chErr == nil {
			d.deleteInitial(ctx, ch, job, log)
		}
		log.Info("Proposal gone, deleting job")
		return d.finish(ctx, job, ladder.TargetGone, errors.New("proposal no longer exists"), "")
	}
	if chErr != nil {
		return d.finish(ctx, job, ladder.Rejected, chErr, "")
	}

	msg := channel.NewMessage(job.Kind, *p, d.voted(ctx, job), d.now())
	if job.Kind == domain.NotifyEndedProposal {
		d.editInitial(ctx, ch, job, msg, log)
	}

	if err := d.pacer.Wait(ctx, job.Channel); err != nil {
		return job.State, err
	}

	job.Attempts++
	ref, sendErr := ch.Send(ctx, job.Target, msg)
	ev := ladder.Classify(sendErr)
	metrics.DeliveryAttempts.WithLabelValues(string(job.Channel), string(ev)).Inc()

	state, err := d.finish(ctx, job, ev, sendErr, ref)
	if err != nil {
		return state, err
	}
	if sendErr != nil {
		log.Warn("Delivery failed", "attempt", job.Attempts, "state", state, "error", sendErr)
	} else {
		log.Info("Notification delivered", "attempt", job.Attempts)
	}
	return state, nil
}

// finish applies ev to job and saves it.
func (d *Dispatcher) finish(
	ctx context.Context,
	job *domain.NotificationJob,
	ev ladder.Event,
	cause error,
	ref domain.MessageRef,
) (domain.DispatchState, error) {
	if _, err := ladder.Apply(job, ev); err != nil {
		return job.State, err
	}
	if ev == ladder.Sent {
		job.MessageRef = ref
		job.LastError = ""
	} else if cause != nil {
		job.LastError = cause.Error()
	}

	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), saveTimeout)
	defer cancel()
	if err := d.store.Jobs.Save(saveCtx, job); err != nil {
		return job.State, fmt.Errorf("failed to save job: %w", err)
	}
	if job.State.Terminal() {
		metrics.JobsTerminal.WithLabelValues(string(job.State)).Inc()
	}
	return job.State, nil
}

// initial returns the dispatched NewProposal job announcing the same
// proposal to the same user on the same channel.
func (d *Dispatcher) initial(ctx context.Context, job *domain.NotificationJob) *domain.NotificationJob {
	first, err := d.store.Jobs.FindDispatched(ctx,
		job.UserID, job.DAOID, job.ProposalExternalID,
		domain.NotifyNewProposal, job.Channel,
	)
	if err != nil || first.MessageRef == "" {
		return nil
	}
	return first
}

func (d *Dispatcher) editInitial(ctx context.Context, ch channel.Channel, job *domain.NotificationJob, msg channel.Message, log *slog.Logger) {
	first := d.initial(ctx, job)
	if first == nil {
		return
	}
	if err := ch.Edit(ctx, first.Target, first.MessageRef, msg); err != nil && !errors.Is(err, channel.ErrUnsupported) {
		log.Warn("Failed to edit initial message", "initial", first.ID, "error", err)
	}
}

func (d *Dispatcher) deleteInitial(ctx context.Context, ch channel.Channel, job *domain.NotificationJob, log *slog.Logger) {
	first := d.initial(ctx, job)
	if first == nil {
		return
	}
	if err := ch.Delete(ctx, first.Target, first.MessageRef); err != nil && !errors.Is(err, channel.ErrUnsupported) {
		log.Warn("Failed to delete initial message", "initial", first.ID, "error", err)
	}
}

// voted reports whether any address the user subscribed with has voted.
func (d *Dispatcher) voted(ctx context.Context, job *domain.NotificationJob) bool {
	if d.store.Subscriptions == nil || d.store.Votes == nil {
		return false
	}
	subs, err := d.store.Subscriptions.ListByDAO(ctx, job.DAOID)
	if err != nil {
		return false
	}
	for _, sub := range subs {
		if sub.UserID != job.UserID || sub.Address == "" {
			continue
		}
		ok, err := d.store.Votes.HasVoted(ctx, job.DAOID, job.ProposalExternalID, strings.ToLower(sub.Address))
		if err == nil && ok {
			return true
		}
	}
	return false
}
