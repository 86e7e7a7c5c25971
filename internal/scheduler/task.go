package scheduler

import "time"

// Status represents the state of a task. Transitions are strictly
// forward: queued -> running -> {completed, failed, cancelled}, plus
// queued -> cancelled for tasks cancelled before dispatch.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// ErrorKind classifies task failures for callers.
type ErrorKind string

const (
	ErrorKindSpawn    ErrorKind = "spawn"
	ErrorKindTimeout  ErrorKind = "timeout"
	ErrorKindProcess  ErrorKind = "process"
	ErrorKindSession  ErrorKind = "session"
	ErrorKindInternal ErrorKind = "internal"
)

// Task tracks one request to the external agent end-to-end.
type Task struct {
	ID        string `json:"task_id"`
	SessionID string `json:"session_id,omitempty"`
	UserID    string `json:"user_id"`
	Prompt    string `json:"prompt"`
	Status    Status `json:"status"`

	// Priority is recorded but does not reorder dispatch; the queue is
	// strictly FIFO.
	Priority int `json:"priority"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	Result    string    `json:"result,omitempty"`
	Error     string    `json:"error,omitempty"`
	ErrorKind ErrorKind `json:"error_kind,omitempty"`
	ExitCode  *int      `json:"exit_code,omitempty"`

	// TimeoutMs overrides the configured default task timeout.
	TimeoutMs int64             `json:"timeout_ms,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// SubmitRequest is the validated shape of a task submission.
type SubmitRequest struct {
	Prompt     string            `json:"prompt"`
	UserID     string            `json:"user_id"`
	SessionID  string            `json:"session_id,omitempty"`
	Priority   int               `json:"priority,omitempty"`
	TimeoutMs  int64             `json:"timeout_ms,omitempty"`
	WorkingDir string            `json:"working_dir,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}
