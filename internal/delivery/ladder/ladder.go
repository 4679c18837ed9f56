// Package ladder is the dispatch state machine of a notification job.
//
// A job starts NotDispatched and climbs one rung per failed attempt:
//
//	NotDispatched -> FirstRetry -> SecondRetry -> ThirdRetry -> Failed
//
// Any pending state moves to Dispatched on a successful send and to Deleted
// when the proposal or the channel handle is gone. Dispatched, Failed and
// Deleted are terminal and are never attempted again.
package ladder

import (
	"errors"
	"slices"
	"time"

	"github.com/vietddude/govwatch/internal/core/domain"
)

// State is an alias for domain.DispatchState for internal use.
type State = domain.DispatchState

// Event is the result of one dispatch attempt.
type Event string

const (
	// Sent means the channel accepted the message.
	Sent Event = "sent"
	// Transient is a retryable failure.
	Transient Event = "transient"
	// Rejected is a permanent refusal by the channel.
	Rejected Event = "rejected"
	// TargetGone means the proposal, channel handle or referenced message disappeared.
	TargetGone Event = "target_gone"
)

// ErrInvalidTransition is returned when an invalid state transition is attempted.
var ErrInvalidTransition = errors.New("invalid dispatch transition")

// ValidTransitions defines allowed state transitions.
var ValidTransitions = map[State][]State{
	domain.DispatchNotDispatched: {domain.DispatchFirstRetry, domain.DispatchDispatched, domain.DispatchFailed, domain.DispatchDeleted},
	domain.DispatchFirstRetry:    {domain.DispatchSecondRetry, domain.DispatchDispatched, domain.DispatchFailed, domain.DispatchDeleted},
	domain.DispatchSecondRetry:   {domain.DispatchThirdRetry, domain.DispatchDispatched, domain.DispatchFailed, domain.DispatchDeleted},
	domain.DispatchThirdRetry:    {domain.DispatchFailed, domain.DispatchDispatched, domain.DispatchDeleted},
	domain.DispatchDispatched:    {},
	domain.DispatchFailed:        {},
	domain.DispatchDeleted:       {},
}

// CanTransition checks if a transition from one state to another is valid.
func CanTransition(from, to State) bool {
	return slices.Contains(ValidTransitions[from], to)
}

// nextRung is the state a transient failure moves to.
var nextRung = map[State]State{
	domain.DispatchNotDispatched: domain.DispatchFirstRetry,
	domain.DispatchFirstRetry:    domain.DispatchSecondRetry,
	domain.DispatchSecondRetry:   domain.DispatchThirdRetry,
	domain.DispatchThirdRetry:    domain.DispatchFailed,
}

// Next returns the state after event. It is total: terminal states and
// unknown states are returned unchanged.
func Next(from State, ev Event) State {
	if from.Terminal() {
		return from
	}
	if _, ok := nextRung[from]; !ok {
		return from
	}
	switch ev {
	case Sent:
		return domain.DispatchDispatched
	case TargetGone:
		return domain.DispatchDeleted
	case Rejected:
		return domain.DispatchFailed
	case Transient:
		return nextRung[from]
	default:
		return from
	}
}

// Classify maps a channel error to a ladder event. A nil error is Sent and
// errors outside the delivery taxonomy are treated as Transient.
func Classify(err error) Event {
	switch {
	case err == nil:
		return Sent
	case errors.Is(err, domain.ErrTargetGone):
		return TargetGone
	case errors.Is(err, domain.ErrDeliveryRejected):
		return Rejected
	default:
		return Transient
	}
}

// Transition represents a state change with metadata.
type Transition struct {
	From      State
	To        State
	Event     Event
	Timestamp time.Time
}

// Apply moves job along the ladder and returns the recorded transition.
func Apply(job *domain.NotificationJob, ev Event) (Transition, error) {
	to := Next(job.State, ev)
	if to == job.State || !CanTransition(job.State, to) {
		return Transition{}, ErrInvalidTransition
	}
	tr := Transition{From: job.State, To: to, Event: ev, Timestamp: time.Now()}
	job.State = to
	job.UpdatedAt = tr.Timestamp
	return tr, nil
}

// StateDescription returns a human-readable description of a state.
func StateDescription(s State) string {
	switch s {
	case domain.DispatchNotDispatched:
		return "NotDispatched - waiting for the first attempt"
	case domain.DispatchFirstRetry:
		return "FirstRetry - one failed attempt"
	case domain.DispatchSecondRetry:
		return "SecondRetry - two failed attempts"
	case domain.DispatchThirdRetry:
		return "ThirdRetry - three failed attempts, one left"
	case domain.DispatchDispatched:
		return "Dispatched - delivered"
	case domain.DispatchFailed:
		return "Failed - ladder exhausted or rejected"
	case domain.DispatchDeleted:
		return "Deleted - proposal or target no longer exists"
	default:
		return "Unknown state"
	}
}
