package tasks

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/desertthunder/dlx/internal/models"
	"github.com/desertthunder/dlx/internal/shared"
)

// record is the registry's private, mutable view of a task.
type record struct {
	task     models.Task
	deleting bool
	done     chan struct{} // closed on the transition into a terminal state
}

// Registry is the in-memory keyed store of task records and the sole owner of
// their state machine. All reads return deep copies taken under the lock, so
// a snapshot never pairs a terminal state with a missing result or error.
type Registry struct {
	mu      sync.RWMutex
	records map[string]*record
	now     func() time.Time
	newID   func() string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		records: make(map[string]*record),
		now:     time.Now,
		newID:   shared.GenerateID,
	}
}

// Create inserts a pending task and returns its identifier.
func (r *Registry) Create(kind models.Kind, req models.Request) (string, error) {
	if !kind.Valid() {
		return "", fmt.Errorf("%w: unknown task kind %q", shared.ErrInvalidRequest, kind)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.newID()
	for _, taken := r.records[id]; taken; _, taken = r.records[id] {
		id = r.newID()
	}

	r.records[id] = &record{
		task: models.Task{
			ID:        id,
			Kind:      kind,
			Request:   req.Clone(),
			State:     models.StatePending,
			CreatedAt: r.now(),
		},
		done: make(chan struct{}),
	}
	return id, nil
}

// Get returns a snapshot of the task.
func (r *Registry) Get(id string) (models.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[id]
	if !ok {
		return models.Task{}, fmt.Errorf("%w: %s", shared.ErrTaskNotFound, id)
	}
	return rec.task.Clone(), nil
}

// List returns snapshots of every task, oldest first. When states are given
// only tasks in one of them are returned.
func (r *Registry) List(states ...models.State) []models.Task {
	r.mu.RLock()
	tasks := make([]models.Task, 0, len(r.records))
	for _, rec := range r.records {
		if len(states) > 0 && !containsState(states, rec.task.State) {
			continue
		}
		tasks = append(tasks, rec.task.Clone())
	}
	r.mu.RUnlock()

	sort.Slice(tasks, func(i, j int) bool {
		if tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].ID < tasks[j].ID
		}
		return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
	})
	return tasks
}

// Counts returns the number of tasks in each state.
func (r *Registry) Counts() map[models.State]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[models.State]int, 4)
	for _, rec := range r.records {
		counts[rec.task.State]++
	}
	return counts
}

// Len returns the number of tracked tasks.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

// Transition moves the task to state to. Entering completed requires a
// non-empty result and entering failed requires an error; neither may be
// supplied otherwise. Any other move fails with [shared.ErrInvalidTransition].
func (r *Registry) Transition(id string, to models.State, result *models.Result, taskErr *models.TaskError) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return fmt.Errorf("%w: %s", shared.ErrTaskNotFound, id)
	}

	from := rec.task.State
	if !from.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s for task %s", shared.ErrInvalidTransition, from, to, id)
	}

	switch to {
	case models.StateRunning:
		if result != nil || taskErr != nil {
			return fmt.Errorf("%w: running task cannot carry a result or error", shared.ErrInvalidTransition)
		}
	case models.StateCompleted:
		if result.Empty() || taskErr != nil {
			return fmt.Errorf("%w: completed task requires a result and no error", shared.ErrInvalidTransition)
		}
	case models.StateFailed:
		if taskErr == nil || result != nil {
			return fmt.Errorf("%w: failed task requires an error and no result", shared.ErrInvalidTransition)
		}
	}

	now := r.now()
	rec.task.State = to
	switch to {
	case models.StateRunning:
		rec.task.StartedAt = &now
	case models.StateCompleted:
		rec.task.Result = result.Clone()
		rec.task.FinishedAt = &now
		close(rec.done)
	case models.StateFailed:
		e := *taskErr
		rec.task.Error = &e
		rec.task.FinishedAt = &now
		close(rec.done)
	}
	return nil
}

// Done returns a channel closed once the task reaches a terminal state.
func (r *Registry) Done(id string) (<-chan struct{}, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", shared.ErrTaskNotFound, id)
	}
	return rec.done, nil
}

// Delete removes a terminal task. purge runs outside the lock before the
// record is removed, so the artifact is gone before the task is; if purge
// fails the record is kept and the error returned. Deleting a pending or
// running task (or one already being deleted) fails with [shared.ErrTaskBusy].
func (r *Registry) Delete(id string, purge func(models.Task) error) error {
	r.mu.Lock()
	rec, ok := r.records[id]
	switch {
	case !ok:
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", shared.ErrTaskNotFound, id)
	case rec.deleting:
		r.mu.Unlock()
		return fmt.Errorf("%w: %s is already being deleted", shared.ErrTaskBusy, id)
	case !rec.task.State.IsTerminal():
		r.mu.Unlock()
		return fmt.Errorf("%w: %s is %s", shared.ErrTaskBusy, id, rec.task.State)
	}
	rec.deleting = true
	snapshot := rec.task.Clone()
	r.mu.Unlock()

	var purgeErr error
	if purge != nil {
		purgeErr = purge(snapshot)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if purgeErr != nil {
		rec.deleting = false
		return purgeErr
	}
	delete(r.records, id)
	return nil
}

func containsState(states []models.State, s models.State) bool {
	for _, candidate := range states {
		if candidate == s {
			return true
		}
	}
	return false
}
