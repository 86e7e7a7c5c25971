package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"warden/internal/scheduler"
	"warden/internal/wire"
)

func newBroadcaster(t *testing.T) *Broadcaster {
	t.Helper()
	b, err := NewBroadcaster(16, nil)
	require.NoError(t, err)
	return b
}

func collect(ch <-chan StreamEvent, n int, timeout time.Duration) []StreamEvent {
	out := make([]StreamEvent, 0, n)
	deadline := time.After(timeout)
	for len(out) < n {
		select {
		case ev := <-ch:
			out = append(out, ev)
		case <-deadline:
			return out
		}
	}
	return out
}

func TestBroadcasterDeliversToSubscriber(t *testing.T) {
	b := newBroadcaster(t)
	task := scheduler.Task{ID: "task-1", SessionID: "session-1", Status: scheduler.StatusRunning}

	ch, cancel := b.Subscribe("task-1")
	defer cancel()

	b.HandleEvent(task, wire.Event{Type: wire.EventOutput, Content: "line one"})
	b.HandleEvent(task, wire.Event{Type: wire.EventToolUse, ToolName: "bash"})

	events := collect(ch, 2, time.Second)
	require.Len(t, events, 2)
	assert.Equal(t, StreamOutput, events[0].Type)
	assert.Equal(t, "line one", events[0].Content)
	assert.Equal(t, StreamProgress, events[1].Type)
	assert.Equal(t, "bash", events[1].ToolName)
}

func TestBroadcasterReplaysHistoryToLateSubscriber(t *testing.T) {
	b := newBroadcaster(t)
	task := scheduler.Task{ID: "task-1"}

	b.HandleEvent(task, wire.Event{Type: wire.EventOutput, Content: "early"})
	task.Status = scheduler.StatusCompleted
	task.Result = "done"
	b.HandleTransition(task)

	ch, cancel := b.Subscribe("task-1")
	defer cancel()

	events := collect(ch, 2, time.Second)
	require.Len(t, events, 2)
	assert.Equal(t, "early", events[0].Content)
	assert.Equal(t, StreamCompleted, events[1].Type)
	assert.Equal(t, "done", events[1].Result)
}

func TestBroadcasterReplaysLongHistoryIncludingTerminal(t *testing.T) {
	b := newBroadcaster(t)
	task := scheduler.Task{ID: "task-1"}

	// Well past the live-subscriber buffer size.
	for i := 0; i < 100; i++ {
		b.HandleEvent(task, wire.Event{Type: wire.EventOutput, Content: "chunk"})
	}
	task.Status = scheduler.StatusCompleted
	task.Result = "done"
	b.HandleTransition(task)

	ch, cancel := b.Subscribe("task-1")
	defer cancel()

	events := collect(ch, 101, 2*time.Second)
	require.Len(t, events, 101)
	last := events[len(events)-1]
	assert.Equal(t, StreamCompleted, last.Type)
	assert.True(t, last.Status.Terminal())
}

func TestBroadcasterIsolatesTasks(t *testing.T) {
	b := newBroadcaster(t)

	ch, cancel := b.Subscribe("task-a")
	defer cancel()

	b.HandleEvent(scheduler.Task{ID: "task-b"}, wire.Event{Type: wire.EventOutput, Content: "other"})
	b.HandleEvent(scheduler.Task{ID: "task-a"}, wire.Event{Type: wire.EventOutput, Content: "mine"})

	events := collect(ch, 1, time.Second)
	require.Len(t, events, 1)
	assert.Equal(t, "mine", events[0].Content)
}

func TestBroadcasterFailedTransition(t *testing.T) {
	b := newBroadcaster(t)
	ch, cancel := b.Subscribe("task-1")
	defer cancel()

	b.HandleTransition(scheduler.Task{
		ID:     "task-1",
		Status: scheduler.StatusFailed,
		Error:  "timed out",
	})

	events := collect(ch, 1, time.Second)
	require.Len(t, events, 1)
	assert.Equal(t, StreamError, events[0].Type)
	assert.Equal(t, "timed out", events[0].Error)
	assert.Equal(t, scheduler.StatusFailed, events[0].Status)
}

func TestBroadcasterDropsWhenSubscriberIsFull(t *testing.T) {
	b := newBroadcaster(t)
	_, cancel := b.Subscribe("task-1")
	defer cancel()

	task := scheduler.Task{ID: "task-1"}
	for i := 0; i < subscriberBuffer+10; i++ {
		b.HandleEvent(task, wire.Event{Type: wire.EventOutput, Content: "x"})
	}

	sent, dropped := b.Stats()
	assert.EqualValues(t, subscriberBuffer, sent)
	assert.EqualValues(t, 10, dropped)
}

func TestBroadcasterUnsubscribeIdempotent(t *testing.T) {
	b := newBroadcaster(t)
	_, cancel := b.Subscribe("task-1")
	cancel()
	cancel()
	assert.Equal(t, 0, b.SubscriberCount("task-1"))

	// Publishing after unsubscribe only lands in history.
	b.HandleEvent(scheduler.Task{ID: "task-1"}, wire.Event{Type: wire.EventOutput, Content: "late"})
	assert.Len(t, b.History("task-1"), 1)
}

func TestBroadcasterSkipsDecodeErrors(t *testing.T) {
	b := newBroadcaster(t)
	ch, cancel := b.Subscribe("task-1")
	defer cancel()

	b.HandleEvent(scheduler.Task{ID: "task-1"}, wire.Event{Type: wire.EventDecodeError, Raw: "garbage"})

	select {
	case ev := <-ch:
		t.Fatalf("unexpected event %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
	assert.Empty(t, b.History("task-1"))
}
