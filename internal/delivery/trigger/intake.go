// Package trigger turns job creation requests into notification jobs.
//
// Requests arrive from a Feed (an in-process channel or a Redis list fed by
// other services) and from the built-in Generator. Creation is idempotent on
// (user, dao, proposal, kind, channel), so replayed requests are harmless.
package trigger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/govwatch/internal/core/domain"
	"github.com/vietddude/govwatch/internal/indexing/metrics"
	"github.com/vietddude/govwatch/internal/infra/storage"
)

var (
	// ErrInvalidRequest is returned for requests missing a required field.
	ErrInvalidRequest = errors.New("invalid job request")

	// ErrFeedClosed is returned by a feed that will yield nothing more.
	ErrFeedClosed = errors.New("trigger feed closed")
)

// feedRetryDelay is the pause after a feed error.
const feedRetryDelay = time.Second

// Feed yields job creation requests. ok is false when nothing arrived
// before the feed's own wait elapsed.
type Feed interface {
	Next(ctx context.Context) (req domain.JobRequest, ok bool, err error)
}

// ChanFeed is an in-process Feed.
type ChanFeed chan domain.JobRequest

// Next blocks until a request arrives or ctx is done.
func (f ChanFeed) Next(ctx context.Context) (domain.JobRequest, bool, error) {
	select {
	case <-ctx.Done():
		return domain.JobRequest{}, false, ctx.Err()
	case req, open := <-f:
		if !open {
			return domain.JobRequest{}, false, ErrFeedClosed
		}
		return req, true, nil
	}
}

// Intake creates jobs.
type Intake struct {
	jobs  storage.JobRepository
	newID func() string
	log   *slog.Logger
}

// NewIntake creates an intake over jobs.
func NewIntake(jobs storage.JobRepository) *Intake {
	return &Intake{
		jobs:  jobs,
		newID: uuid.NewString,
		log:   slog.Default().With("component", "intake"),
	}
}

// Validate checks that req names a complete job.
func Validate(req domain.JobRequest) error {
	switch {
	case req.UserID == "":
		return fmt.Errorf("%w: missing user_id", ErrInvalidRequest)
	case req.DAOID == "":
		return fmt.Errorf("%w: missing dao_id", ErrInvalidRequest)
	case req.ProposalExternalID == "":
		return fmt.Errorf("%w: missing proposal_external_id", ErrInvalidRequest)
	case req.Target == "":
		return fmt.Errorf("%w: missing target", ErrInvalidRequest)
	}
	switch req.Kind {
	case domain.NotifyNewProposal, domain.NotifyFirstReminder, domain.NotifySecondReminder, domain.NotifyEndedProposal:
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidRequest, req.Kind)
	}
	switch req.Channel {
	case domain.ChannelDiscord, domain.ChannelSlack, domain.ChannelTelegram, domain.ChannelEmail:
	default:
		return fmt.Errorf("%w: unknown channel %q", ErrInvalidRequest, req.Channel)
	}
	return nil
}

// Create stores a NotDispatched job for req. created is false when a job
// with the same dedup key already exists.
func (i *Intake) Create(ctx context.Context, req domain.JobRequest) (bool, error) {
	if err := Validate(req); err != nil {
		return false, err
	}
	job := &domain.NotificationJob{
		ID:                 i.newID(),
		UserID:             req.UserID,
		DAOID:              req.DAOID,
		ProposalExternalID: req.ProposalExternalID,
		Kind:               req.Kind,
		Channel:            req.Channel,
		Target:             req.Target,
		State:              domain.DispatchNotDispatched,
	}
	created, err := i.jobs.Create(ctx, job)
	if err != nil {
		return false, fmt.Errorf("failed to create job: %w", err)
	}
	if created {
		metrics.JobsCreated.WithLabelValues(string(req.Kind)).Inc()
		i.log.Debug("Job created", "job", job.ID, "kind", req.Kind, "channel", req.Channel, "proposal", req.ProposalExternalID)
	}
	return created, nil
}

// Run consumes feed until ctx is done.
func (i *Intake) Run(ctx context.Context, feed Feed) error {
	i.log.Info("Starting intake")
	for {
		req, ok, err := feed.Next(ctx)
		if ctx.Err() != nil {
			i.log.Info("Intake stopped")
			return nil
		}
		if errors.Is(err, ErrFeedClosed) {
			i.log.Info("Trigger feed closed")
			return nil
		}
		if err != nil {
			i.log.Error("Failed to read trigger feed", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(feedRetryDelay):
			}
			continue
		}
		if !ok {
			continue
		}
		if _, err := i.Create(ctx, req); err != nil {
			i.log.Warn("Dropping job request", "user", req.UserID, "proposal", req.ProposalExternalID, "error", err)
		}
	}
}
