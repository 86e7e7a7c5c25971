package scheduler

import "errors"

var (
	// ErrQueueFull rejects a submission when the queue is at capacity.
	// The caller retries; the scheduler never blocks a submitter.
	ErrQueueFull = errors.New("task queue full")
	// ErrTaskNotFound is returned for unknown task ids.
	ErrTaskNotFound = errors.New("task not found")
	// ErrTaskTerminal rejects cancellation of an already-terminal task.
	ErrTaskTerminal = errors.New("task already terminal")
	// ErrEmptyPrompt rejects submissions without a prompt.
	ErrEmptyPrompt = errors.New("prompt is required")
	// ErrEmptyUserID rejects submissions without a user id.
	ErrEmptyUserID = errors.New("user id is required")
	// ErrNotStarted is returned when submitting before Start.
	ErrNotStarted = errors.New("scheduler not started")
)
