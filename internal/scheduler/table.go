package scheduler

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"warden/internal/id"
)

// table is the shared task store. Every mutation is an atomic
// read-modify-write under one lock; callers only ever see snapshots.
type table struct {
	mu    sync.RWMutex
	tasks map[string]*Task
}

func newTable() *table {
	return &table{tasks: make(map[string]*Task)}
}

func (t *table) create(req SubmitRequest) Task {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	task := &Task{
		ID:        id.NewTaskID(),
		SessionID: req.SessionID,
		UserID:    req.UserID,
		Prompt:    req.Prompt,
		Status:    StatusQueued,
		Priority:  req.Priority,
		CreatedAt: now,
		UpdatedAt: now,
		TimeoutMs: req.TimeoutMs,
		Metadata:  cloneMetadata(req.Metadata),
	}
	t.tasks[task.ID] = task
	return taskSnapshot(task)
}

func (t *table) get(taskID string) (Task, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	task, exists := t.tasks[taskID]
	if !exists {
		return Task{}, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	return taskSnapshot(task), nil
}

func (t *table) list() []Task {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Task, 0, len(t.tasks))
	for _, task := range t.tasks {
		out = append(out, taskSnapshot(task))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func (t *table) remove(taskID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.tasks, taskID)
}

// mutate applies fn to the stored task under the table lock and returns
// the resulting snapshot. fn returning an error leaves the task as it
// found it only if fn itself made no changes; by convention mutators
// validate before writing.
func (t *table) mutate(taskID string, fn func(*Task) error) (Task, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	task, exists := t.tasks[taskID]
	if !exists {
		return Task{}, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	if err := fn(task); err != nil {
		return taskSnapshot(task), err
	}
	task.UpdatedAt = time.Now()
	return taskSnapshot(task), nil
}

// transition moves a task to the given status, enforcing the forward
// state machine. Terminal statuses record CompletedAt; running records
// StartedAt.
func (t *table) transition(taskID string, to Status) (Task, error) {
	return t.mutate(taskID, func(task *Task) error {
		if !validTransition(task.Status, to) {
			return fmt.Errorf("invalid transition %s -> %s for %s", task.Status, to, task.ID)
		}
		task.Status = to
		now := time.Now()
		switch to {
		case StatusRunning:
			task.StartedAt = &now
		case StatusCompleted, StatusFailed, StatusCancelled:
			task.CompletedAt = &now
		}
		return nil
	})
}

func validTransition(from, to Status) bool {
	switch from {
	case StatusQueued:
		return to == StatusRunning || to == StatusCancelled
	case StatusRunning:
		return to == StatusCompleted || to == StatusFailed || to == StatusCancelled
	default:
		return false
	}
}

func taskSnapshot(task *Task) Task {
	out := *task
	out.Metadata = cloneMetadata(task.Metadata)
	if task.StartedAt != nil {
		started := *task.StartedAt
		out.StartedAt = &started
	}
	if task.CompletedAt != nil {
		completed := *task.CompletedAt
		out.CompletedAt = &completed
	}
	if task.ExitCode != nil {
		code := *task.ExitCode
		out.ExitCode = &code
	}
	return out
}

func cloneMetadata(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
