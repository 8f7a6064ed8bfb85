package tasks

import (
	"fmt"
	"time"

	"github.com/desertthunder/dlx/internal/models"
)

// Event reports a task lifecycle change.
//
// Events are sent to the channel given to [WithEvents] for display by the CLI
// or for logging. Delivery is best effort.
type Event struct {
	Phase   Phase       // Lifecycle phase
	TaskID  string      // Task the event belongs to
	Kind    models.Kind // Job kind; empty for deletions
	State   models.State
	Message string // Failure message for failed tasks
	At      time.Time
}

// Phase enumerates task lifecycle events.
type Phase int

const (
	PhaseQueued Phase = iota
	PhaseStarted
	PhaseCompleted
	PhaseFailed
	PhaseDeleted
)

func (p Phase) String() string {
	switch p {
	case PhaseQueued:
		return "queued"
	case PhaseStarted:
		return "started"
	case PhaseCompleted:
		return "completed"
	case PhaseFailed:
		return "failed"
	case PhaseDeleted:
		return "deleted"
	default:
		return ""
	}
}

// String renders the event as a single display line.
func (e Event) String() string {
	switch e.Phase {
	case PhaseQueued:
		return fmt.Sprintf("%s queued (%s)", e.TaskID, e.Kind)
	case PhaseStarted:
		return fmt.Sprintf("%s running (%s)", e.TaskID, e.Kind)
	case PhaseCompleted:
		return fmt.Sprintf("%s ✓ completed", e.TaskID)
	case PhaseFailed:
		return fmt.Sprintf("%s ✗ failed: %s", e.TaskID, e.Message)
	case PhaseDeleted:
		return fmt.Sprintf("%s deleted", e.TaskID)
	default:
		return e.TaskID
	}
}
