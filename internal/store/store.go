package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/joescharf/critic/internal/models"
)

// ErrNotFound is returned when no task exists for the given id.
var ErrNotFound = errors.New("task not found")

// InvalidTransitionError is returned when a transition violates the task
// state machine, including any attempt to leave a terminal state.
type InvalidTransitionError struct {
	ID   string
	From models.TaskState
	To   models.TaskState
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition for task %s: %s -> %s", e.ID, e.From, e.To)
}

// Transition describes a single state-machine move. Zero-value fields are
// left unchanged on the task record.
type Transition struct {
	State       models.TaskState
	Progress    *int // applied monotonically within an attempt
	Message     string
	Diagnostics []string // appended
	Result      *models.Report
	Error       *models.TaskError

	// PickUp marks a dispatch pickup: attempt_count is incremented and
	// progress reset to 0 for the new execution attempt.
	PickUp bool
}

// ListFilter narrows ListTasks. Zero values mean "no filter".
type ListFilter struct {
	Repo      string // owner/name
	ChangeSet int
	Limit     int
}

// Store is the single source of truth for task lifecycle. Transition is the
// sole mutation path after creation; implementations serialize transitions
// per task id.
type Store interface {
	// CreateTask persists t in the queued state, assigning an id and
	// timestamps. If a non-terminal task already exists for the same
	// (repo, change-set, analysis type), that task is returned instead and
	// no new record is created.
	CreateTask(ctx context.Context, t *models.Task) (*models.Task, error)

	GetTask(ctx context.Context, id string) (*models.Task, error)

	// Transition validates the move against the state machine and applies
	// it atomically, returning the updated task.
	Transition(ctx context.Context, id string, tr Transition) (*models.Task, error)

	// ListTasks returns tasks newest first.
	ListTasks(ctx context.Context, filter ListFilter) ([]*models.Task, error)

	Migrate(ctx context.Context) error
	Close() error
}
