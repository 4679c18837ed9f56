package domain

import (
	"fmt"
	"time"
)

// DispatchState is the position of a job on the dispatch ladder.
type DispatchState string

const (
	DispatchNotDispatched DispatchState = "not_dispatched"
	DispatchFirstRetry    DispatchState = "first_retry"
	DispatchSecondRetry   DispatchState = "second_retry"
	DispatchThirdRetry    DispatchState = "third_retry"
	DispatchDispatched    DispatchState = "dispatched"
	DispatchFailed        DispatchState = "failed"
	DispatchDeleted       DispatchState = "deleted"
)

// PendingStates are the states the dispatcher still attempts.
var PendingStates = []DispatchState{
	DispatchNotDispatched,
	DispatchFirstRetry,
	DispatchSecondRetry,
	DispatchThirdRetry,
}

// Terminal reports whether no further attempt will be made.
func (s DispatchState) Terminal() bool {
	return s == DispatchDispatched || s == DispatchFailed || s == DispatchDeleted
}

// NotificationKind is the lifecycle event a job announces.
type NotificationKind string

const (
	NotifyNewProposal    NotificationKind = "new_proposal"
	NotifyFirstReminder  NotificationKind = "first_reminder"
	NotifySecondReminder NotificationKind = "second_reminder"
	NotifyEndedProposal  NotificationKind = "ended_proposal"
)

// ChannelKind names an outbound delivery channel.
type ChannelKind string

const (
	ChannelDiscord  ChannelKind = "discord"
	ChannelSlack    ChannelKind = "slack"
	ChannelTelegram ChannelKind = "telegram"
	ChannelEmail    ChannelKind = "email"
)

// MessageRef is an opaque handle to a sent message.
type MessageRef string

// NotificationJob is one (user, proposal, kind) delivery on one channel.
type NotificationJob struct {
	ID                 string           `db:"id"`
	UserID             string           `db:"user_id"`
	DAOID              string           `db:"dao_id"`
	ProposalExternalID string           `db:"proposal_external_id"`
	Kind               NotificationKind `db:"kind"`
	Channel            ChannelKind      `db:"channel"`
	Target             string           `db:"target"`
	State              DispatchState    `db:"state"`
	MessageRef         MessageRef       `db:"message_ref"`
	Attempts           int              `db:"attempts"`
	LastError          string           `db:"last_error"`
	CreatedAt          time.Time        `db:"created_at"`
	UpdatedAt          time.Time        `db:"updated_at"`
}

// DedupKey identifies the job regardless of its id.
func (j NotificationJob) DedupKey() string {
	return fmt.Sprintf("%s|%s|%s|%s|%s", j.UserID, j.DAOID, j.ProposalExternalID, j.Kind, j.Channel)
}

// JobRequest asks for a job to be created. It is what trigger feeds carry.
type JobRequest struct {
	UserID             string           `json:"user_id"`
	DAOID              string           `json:"dao_id"`
	ProposalExternalID string           `json:"proposal_external_id"`
	Kind               NotificationKind `json:"kind"`
	Channel            ChannelKind      `json:"channel"`
	Target             string           `json:"target"`
}
