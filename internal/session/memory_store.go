package session

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"warden/internal/id"
	"warden/internal/logging"
)

// MemoryStore implements Store with in-memory storage. Records live until
// deleted explicitly, swept, or evicted lazily on first access past
// expiry.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
	timeout  time.Duration
	logger   logging.Logger

	// now is swappable in tests.
	now func() time.Time
}

// NewMemoryStore creates a store whose sessions expire timeout after
// their last access.
func NewMemoryStore(timeout time.Duration, logger logging.Logger) *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*Session),
		timeout:  timeout,
		logger:   logging.OrNop(logger),
		now:      time.Now,
	}
}

// Create registers a new session for userID.
func (s *MemoryStore) Create(userID string, metadata map[string]string) (Session, error) {
	if strings.TrimSpace(userID) == "" {
		return Session{}, fmt.Errorf("user id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	sess := &Session{
		ID:             id.NewSessionID(),
		UserID:         userID,
		CreatedAt:      now,
		LastAccessedAt: now,
		ExpiresAt:      now.Add(s.timeout),
		Metadata:       cloneMetadata(metadata),
	}
	s.sessions[sess.ID] = sess
	return snapshot(sess), nil
}

// Get returns the session, refreshing its last-access time and sliding
// its expiry. An expired record is evicted and reported as ErrExpired; a
// later Get on the same id sees ErrNotFound.
func (s *MemoryStore) Get(sessionID string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.liveLocked(sessionID)
	if err != nil {
		return Session{}, err
	}
	s.touchLocked(sess)
	return snapshot(sess), nil
}

// Update merges patch into the session. Missing ids fail with
// ErrNotFound; expired records are evicted first and fail with
// ErrExpired.
func (s *MemoryStore) Update(sessionID string, patch Patch) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.liveLocked(sessionID)
	if err != nil {
		return Session{}, err
	}

	if patch.ExternalSessionID != nil {
		sess.ExternalSessionID = *patch.ExternalSessionID
	}
	if len(patch.Metadata) > 0 {
		if sess.Metadata == nil {
			sess.Metadata = make(map[string]string, len(patch.Metadata))
		}
		for k, v := range patch.Metadata {
			sess.Metadata[k] = v
		}
	}
	if patch.TaskCountDelta > 0 {
		sess.TaskCount += patch.TaskCountDelta
	}
	s.touchLocked(sess)
	return snapshot(sess), nil
}

// Delete removes the session or fails with ErrNotFound.
func (s *MemoryStore) Delete(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[sessionID]; !exists {
		return fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}
	delete(s.sessions, sessionID)
	return nil
}

// SweepExpired removes every record past its expiry and returns how many
// were removed. The periodic trigger lives with the server bootstrap.
func (s *MemoryStore) SweepExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for sid, sess := range s.sessions {
		if now.After(sess.ExpiresAt) {
			delete(s.sessions, sid)
			removed++
		}
	}
	if removed > 0 {
		s.logger.Debug("session: swept %d expired sessions", removed)
	}
	return removed
}

// ListByUser returns snapshots of every session owned by userID, without
// refreshing access times.
func (s *MemoryStore) ListByUser(userID string) []Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Session, 0)
	for _, sess := range s.sessions {
		if sess.UserID == userID {
			out = append(out, snapshot(sess))
		}
	}
	return out
}

// Count returns the number of live records, expired or not.
func (s *MemoryStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// liveLocked resolves a session id to an unexpired record, evicting it
// when past expiry. Callers hold s.mu.
func (s *MemoryStore) liveLocked(sessionID string) (*Session, error) {
	sess, exists := s.sessions[sessionID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}
	if s.now().After(sess.ExpiresAt) {
		delete(s.sessions, sessionID)
		return nil, fmt.Errorf("%w: %s", ErrExpired, sessionID)
	}
	return sess, nil
}

func (s *MemoryStore) touchLocked(sess *Session) {
	now := s.now()
	sess.LastAccessedAt = now
	sess.ExpiresAt = now.Add(s.timeout)
}

func snapshot(sess *Session) Session {
	out := *sess
	out.Metadata = cloneMetadata(sess.Metadata)
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
