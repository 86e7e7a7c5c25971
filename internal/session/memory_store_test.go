package session

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestCreateInitialisesRecord(t *testing.T) {
	store := NewMemoryStore(time.Minute, nil)

	sess, err := store.Create("user-1", map[string]string{"channel": "api"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if sess.ID == "" {
		t.Error("session ID should not be empty")
	}
	if sess.UserID != "user-1" {
		t.Errorf("expected user-1, got %q", sess.UserID)
	}
	if sess.TaskCount != 0 {
		t.Errorf("expected task count 0, got %d", sess.TaskCount)
	}
	if !sess.LastAccessedAt.Equal(sess.CreatedAt) {
		t.Error("LastAccessedAt should equal CreatedAt on create")
	}
	if got := sess.ExpiresAt.Sub(sess.CreatedAt); got != time.Minute {
		t.Errorf("expected expiry one minute out, got %s", got)
	}
	if sess.Metadata["channel"] != "api" {
		t.Error("metadata not stored")
	}
}

func TestCreateRequiresUserID(t *testing.T) {
	store := NewMemoryStore(time.Minute, nil)
	if _, err := store.Create("  ", nil); err == nil {
		t.Error("expected error for blank user id")
	}
}

func TestGetRefreshesAccess(t *testing.T) {
	store := NewMemoryStore(time.Minute, nil)
	now := time.Now()
	store.now = func() time.Time { return now }

	created, _ := store.Create("user-1", nil)

	now = now.Add(30 * time.Second)
	got, err := store.Get(created.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !got.LastAccessedAt.Equal(now) {
		t.Error("Get should refresh LastAccessedAt")
	}
	if !got.ExpiresAt.Equal(now.Add(time.Minute)) {
		t.Error("Get should slide the expiry window")
	}
}

func TestGetExpiredEvicts(t *testing.T) {
	store := NewMemoryStore(time.Minute, nil)
	now := time.Now()
	store.now = func() time.Time { return now }

	created, _ := store.Create("user-1", nil)

	now = now.Add(2 * time.Minute)
	_, err := store.Get(created.ID)
	if !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}

	// The record was evicted: a second access is a plain not-found.
	_, err = store.Get(created.ID)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after eviction, got %v", err)
	}
}

func TestGetUnknown(t *testing.T) {
	store := NewMemoryStore(time.Minute, nil)
	if _, err := store.Get("session-missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateMergesFields(t *testing.T) {
	store := NewMemoryStore(time.Minute, nil)
	created, _ := store.Create("user-1", map[string]string{"a": "1"})

	ext := "ext-abc"
	updated, err := store.Update(created.ID, Patch{
		ExternalSessionID: &ext,
		Metadata:          map[string]string{"b": "2"},
		TaskCountDelta:    1,
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	if updated.ExternalSessionID != "ext-abc" {
		t.Errorf("external session id not attached: %q", updated.ExternalSessionID)
	}
	if updated.Metadata["a"] != "1" || updated.Metadata["b"] != "2" {
		t.Errorf("metadata not merged: %v", updated.Metadata)
	}
	if updated.TaskCount != 1 {
		t.Errorf("expected task count 1, got %d", updated.TaskCount)
	}
	if updated.UserID != created.UserID || !updated.CreatedAt.Equal(created.CreatedAt) {
		t.Error("identity fields must not change")
	}
}

func TestUpdateNegativeDeltaIgnored(t *testing.T) {
	store := NewMemoryStore(time.Minute, nil)
	created, _ := store.Create("user-1", nil)

	_, _ = store.Update(created.ID, Patch{TaskCountDelta: 2})
	updated, _ := store.Update(created.ID, Patch{TaskCountDelta: -5})
	if updated.TaskCount != 2 {
		t.Errorf("task count decreased: %d", updated.TaskCount)
	}
}

func TestUpdateUnknown(t *testing.T) {
	store := NewMemoryStore(time.Minute, nil)
	if _, err := store.Update("session-missing", Patch{}); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestConcurrentUpdatesLoseNothing(t *testing.T) {
	store := NewMemoryStore(time.Minute, nil)
	created, _ := store.Create("user-1", nil)

	const n = 100
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			if _, err := store.Update(created.ID, Patch{TaskCountDelta: 1}); err != nil {
				t.Errorf("Update failed: %v", err)
			}
		}()
	}
	wg.Wait()

	got, err := store.Get(created.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.TaskCount != n {
		t.Errorf("expected task count %d, got %d", n, got.TaskCount)
	}
}

func TestDelete(t *testing.T) {
	store := NewMemoryStore(time.Minute, nil)
	created, _ := store.Create("user-1", nil)

	if err := store.Delete(created.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := store.Delete(created.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on double delete, got %v", err)
	}
}

func TestSweepExpired(t *testing.T) {
	store := NewMemoryStore(time.Minute, nil)
	now := time.Now()
	store.now = func() time.Time { return now }

	old1, _ := store.Create("user-1", nil)
	old2, _ := store.Create("user-1", nil)

	now = now.Add(30 * time.Second)
	fresh, _ := store.Create("user-2", nil)

	now = now.Add(45 * time.Second) // old1/old2 expired, fresh still live
	if removed := store.SweepExpired(); removed != 2 {
		t.Errorf("expected 2 removed, got %d", removed)
	}
	if store.Count() != 1 {
		t.Errorf("expected 1 remaining, got %d", store.Count())
	}
	if _, err := store.Get(fresh.ID); err != nil {
		t.Errorf("fresh session should survive the sweep: %v", err)
	}
	for _, sid := range []string{old1.ID, old2.ID} {
		if _, err := store.Get(sid); !errors.Is(err, ErrNotFound) {
			t.Errorf("swept session %s should be gone, got %v", sid, err)
		}
	}
}

func TestListByUser(t *testing.T) {
	store := NewMemoryStore(time.Minute, nil)
	_, _ = store.Create("user-1", nil)
	_, _ = store.Create("user-1", nil)
	_, _ = store.Create("user-2", nil)

	if got := len(store.ListByUser("user-1")); got != 2 {
		t.Errorf("expected 2 sessions for user-1, got %d", got)
	}
	if got := len(store.ListByUser("user-3")); got != 0 {
		t.Errorf("expected 0 sessions for user-3, got %d", got)
	}
	if store.Count() != 3 {
		t.Errorf("expected count 3, got %d", store.Count())
	}
}

func TestSnapshotsAreCopies(t *testing.T) {
	store := NewMemoryStore(time.Minute, nil)
	created, _ := store.Create("user-1", map[string]string{"a": "1"})

	created.Metadata["a"] = "mutated"
	got, _ := store.Get(created.ID)
	if got.Metadata["a"] != "1" {
		t.Error("store state leaked through returned snapshot")
	}
}
