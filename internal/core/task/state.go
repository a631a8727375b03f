package task

import (
	"errors"
	"time"

	"github.com/vietddude/ingestor/internal/core/domain"
)

// Status is an alias for domain.TaskStatus for internal use.
type Status = domain.TaskStatus

// ErrInvalidTransition is returned when an invalid status transition is attempted.
var ErrInvalidTransition = errors.New("invalid status transition")

// ValidTransitions defines allowed status transitions.
// Leaving error requires an explicit reset, see Manager.Apply.
var ValidTransitions = map[Status][]Status{
	domain.TaskStatusWorking: {domain.TaskStatusStopped, domain.TaskStatusError},
	domain.TaskStatusStopped: {domain.TaskStatusWorking},
	domain.TaskStatusError:   {},
}

// CanTransition checks if a transition from one status to another is valid.
func CanTransition(from, to Status) bool {
	for _, target := range ValidTransitions[from] {
		if target == to {
			return true
		}
	}
	return false
}

// Transition represents a status change with metadata.
type Transition struct {
	From      Status    `json:"from"`
	To        Status    `json:"to"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// NewTransition creates a new transition record.
func NewTransition(from, to Status, reason string) Transition {
	return Transition{
		From:      from,
		To:        to,
		Reason:    reason,
		Timestamp: time.Now(),
	}
}

// StatusDescription returns a human-readable description of a status.
func StatusDescription(s Status) string {
	switch s {
	case domain.TaskStatusWorking:
		return "Working - fetching on every tick"
	case domain.TaskStatusStopped:
		return "Stopped - paused by operator"
	case domain.TaskStatusError:
		return "Error - endpoints exhausted, waiting for reset"
	default:
		return "Unknown status"
	}
}
