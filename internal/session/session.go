// Package session provides multi-turn continuity across tasks via
// expiring, atomically-updated in-memory session records.
package session

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a session id is unknown.
	ErrNotFound = errors.New("session not found")
	// ErrExpired is returned when a session exists but is past its
	// expiry. It is distinct from ErrNotFound so callers can react by
	// creating a fresh session.
	ErrExpired = errors.New("session expired")
)

// Session binds multiple tasks to one external conversational context.
type Session struct {
	ID                string            `json:"session_id"`
	UserID            string            `json:"user_id"`
	CreatedAt         time.Time         `json:"created_at"`
	LastAccessedAt    time.Time         `json:"last_accessed_at"`
	ExpiresAt         time.Time         `json:"expires_at"`
	ExternalSessionID string            `json:"external_session_id,omitempty"`
	TaskCount         int               `json:"task_count"`
	Metadata          map[string]string `json:"metadata,omitempty"`
}

// Patch describes a partial session update. Identity fields (id, user id,
// creation time) are immutable and cannot be patched.
type Patch struct {
	// ExternalSessionID sets the agent-side session reference when non-nil.
	ExternalSessionID *string
	// Metadata entries are merged key-wise into the existing map.
	Metadata map[string]string
	// TaskCountDelta increments the task counter. Negative deltas are
	// ignored: the counter never decreases.
	TaskCountDelta int
}

// Store is the session table contract. All operations are atomic with
// respect to concurrent callers and linearizable per session id.
type Store interface {
	Create(userID string, metadata map[string]string) (Session, error)
	Get(sessionID string) (Session, error)
	Update(sessionID string, patch Patch) (Session, error)
	Delete(sessionID string) error
	SweepExpired() int
	ListByUser(userID string) []Session
	Count() int
}
