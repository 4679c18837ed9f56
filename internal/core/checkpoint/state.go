package checkpoint

import (
	"errors"
	"slices"
	"time"

	"github.com/vietddude/govwatch/internal/core/domain"
)

// State is an alias for domain.RefreshStatus for internal use.
type State = domain.RefreshStatus

// ErrInvalidTransition is returned when an invalid status transition is attempted.
var ErrInvalidTransition = errors.New("invalid status transition")

// ValidTransitions defines allowed status transitions.
var ValidTransitions = map[State][]State{
	domain.RefreshDone: {domain.RefreshNew},
	domain.RefreshNew:  {domain.RefreshDone},
}

// CanTransition checks if a transition from one status to another is valid.
func CanTransition(from, to State) bool {
	return slices.Contains(ValidTransitions[from], to)
}

// Transition represents a status change with metadata.
type Transition struct {
	From      State
	To        State
	Reason    string
	Timestamp time.Time
}

// NewTransition creates a new transition record.
func NewTransition(from, to State, reason string) Transition {
	return Transition{
		From:      from,
		To:        to,
		Reason:    reason,
		Timestamp: time.Now(),
	}
}

// StateDescription returns a human-readable description of a status.
func StateDescription(s State) string {
	switch s {
	case domain.RefreshNew:
		return "New - refresh queued or running"
	case domain.RefreshDone:
		return "Done - idle, eligible for the next tick"
	default:
		return "Unknown status"
	}
}
