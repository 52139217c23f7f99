package runstate

import (
	"errors"
	"time"

	"github.com/vietddude/triage/internal/core/domain"
)

// State is an alias for domain.RunState for internal use.
type State = domain.RunState

// ErrInvalidTransition is returned when an invalid state transition is attempted.
var ErrInvalidTransition = errors.New("invalid state transition")

// ValidTransitions defines allowed state transitions.
// Key is the current state, value is the list of valid next states.
var ValidTransitions = map[State][]State{
	domain.RunStatePendingPurge: {domain.RunStateSnapshotting, domain.RunStateFailed},
	domain.RunStateSnapshotting: {domain.RunStateProcessing, domain.RunStateFailed},
	domain.RunStateProcessing:   {domain.RunStateCompleted, domain.RunStateFailed},
	domain.RunStateCompleted:    {},
	domain.RunStateFailed:       {},
}

// CanTransition checks if a transition from one state to another is valid.
func CanTransition(from, to State) bool {
	validTargets, ok := ValidTransitions[from]
	if !ok {
		return false
	}

	for _, target := range validTargets {
		if target == to {
			return true
		}
	}
	return false
}

// Transition represents a state change with metadata.
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

// IsValid returns true if this transition is allowed by the state machine.
func (t Transition) IsValid() bool {
	return CanTransition(t.From, t.To)
}

// StateDescription returns a human-readable description of a state.
func StateDescription(s State) string {
	switch s {
	case domain.RunStatePendingPurge:
		return "Pending purge - previous analyses not yet deleted"
	case domain.RunStateSnapshotting:
		return "Snapshotting - reading the feedback item list"
	case domain.RunStateProcessing:
		return "Processing - classifying items from the cursor onward"
	case domain.RunStateCompleted:
		return "Completed - every item handled"
	case domain.RunStateFailed:
		return "Failed - run aborted"
	default:
		return "Unknown state"
	}
}
