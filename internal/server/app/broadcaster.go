// Package app holds the server-side application services sitting between
// the HTTP layer and the scheduler: event broadcasting and health.
package app

import (
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"warden/internal/logging"
	"warden/internal/scheduler"
	"warden/internal/wire"
)

// StreamEventType classifies events pushed to streaming clients.
type StreamEventType string

const (
	StreamConnected StreamEventType = "connected"
	StreamProgress  StreamEventType = "progress"
	StreamOutput    StreamEventType = "output"
	StreamCompleted StreamEventType = "completed"
	StreamError     StreamEventType = "error"
)

// StreamEvent is the client-facing shape of one task event.
type StreamEvent struct {
	Type      StreamEventType  `json:"type"`
	TaskID    string           `json:"task_id"`
	SessionID string           `json:"session_id,omitempty"`
	Status    scheduler.Status `json:"status,omitempty"`
	Content   string           `json:"content,omitempty"`
	ToolName  string           `json:"tool_name,omitempty"`
	Result    string           `json:"result,omitempty"`
	Error     string           `json:"error,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

const subscriberBuffer = 64

// Broadcaster fans task events out to per-task subscribers and keeps a
// bounded per-task history so late subscribers can replay. It implements
// scheduler.Observer and never blocks the workers: a subscriber that
// cannot keep up loses events.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]map[int]chan StreamEvent
	nextID      int

	history *lru.Cache[string, []StreamEvent]

	logger logging.Logger

	eventsSent    atomic.Int64
	eventsDropped atomic.Int64
}

// NewBroadcaster creates a Broadcaster retaining history for up to
// historyTasks recent tasks.
func NewBroadcaster(historyTasks int, logger logging.Logger) (*Broadcaster, error) {
	if historyTasks <= 0 {
		historyTasks = 256
	}
	history, err := lru.New[string, []StreamEvent](historyTasks)
	if err != nil {
		return nil, err
	}
	return &Broadcaster{
		subscribers: make(map[string]map[int]chan StreamEvent),
		history:     history,
		logger:      logging.OrNop(logger),
	}, nil
}

// Subscribe registers a listener for one task. History recorded so far is
// replayed into the channel first; the channel is sized so the full
// replay always fits, terminal event included. The returned func
// unsubscribes and closes the channel; it is safe to call more than once.
func (b *Broadcaster) Subscribe(taskID string) (<-chan StreamEvent, func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	replay, _ := b.history.Get(taskID)
	ch := make(chan StreamEvent, len(replay)+subscriberBuffer)
	// Preload the replay before registering, still under the lock, so
	// live publishes cannot interleave ahead of older history.
	for _, ev := range replay {
		ch <- ev
	}
	if b.subscribers[taskID] == nil {
		b.subscribers[taskID] = make(map[int]chan StreamEvent)
	}
	b.subscribers[taskID][id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			if subs := b.subscribers[taskID]; subs != nil {
				delete(subs, id)
				if len(subs) == 0 {
					delete(b.subscribers, taskID)
				}
			}
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// SubscriberCount reports active listeners for a task.
func (b *Broadcaster) SubscriberCount(taskID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[taskID])
}

// History returns the retained events for a task, oldest first.
func (b *Broadcaster) History(taskID string) []StreamEvent {
	b.mu.RLock()
	defer b.mu.RUnlock()
	events, _ := b.history.Get(taskID)
	out := make([]StreamEvent, len(events))
	copy(out, events)
	return out
}

// HandleEvent implements scheduler.Observer for per-process events.
func (b *Broadcaster) HandleEvent(task scheduler.Task, ev wire.Event) {
	stream, ok := translate(task, ev)
	if !ok {
		return
	}
	b.publish(stream)
}

// HandleTransition implements scheduler.Observer for terminal statuses.
func (b *Broadcaster) HandleTransition(task scheduler.Task) {
	ev := StreamEvent{
		TaskID:    task.ID,
		SessionID: task.SessionID,
		Status:    task.Status,
		Timestamp: time.Now(),
	}
	switch task.Status {
	case scheduler.StatusFailed:
		ev.Type = StreamError
		ev.Error = task.Error
		ev.Result = task.Result
	default:
		ev.Type = StreamCompleted
		ev.Result = task.Result
	}
	b.publish(ev)
}

// maxHistoryPerTask caps the replay buffer of one task.
const maxHistoryPerTask = 1000

func (b *Broadcaster) publish(ev StreamEvent) {
	b.mu.Lock()
	events, _ := b.history.Get(ev.TaskID)
	if len(events) < maxHistoryPerTask {
		b.history.Add(ev.TaskID, append(events, ev))
	}
	subs := make([]chan StreamEvent, 0, len(b.subscribers[ev.TaskID]))
	for _, ch := range b.subscribers[ev.TaskID] {
		subs = append(subs, ch)
	}
	b.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- ev:
			b.eventsSent.Add(1)
		default:
			b.eventsDropped.Add(1)
			b.logger.Debug("broadcaster: dropped %s event for %s, slow subscriber", ev.Type, ev.TaskID)
		}
	}
}

// Stats reports delivery counters for diagnostics.
func (b *Broadcaster) Stats() (sent, dropped int64) {
	return b.eventsSent.Load(), b.eventsDropped.Load()
}

// translate maps one decoded agent event onto the client shape. Decode
// errors stay internal.
func translate(task scheduler.Task, ev wire.Event) (StreamEvent, bool) {
	out := StreamEvent{
		TaskID:    task.ID,
		SessionID: task.SessionID,
		Status:    scheduler.StatusRunning,
		Timestamp: time.Now(),
	}
	switch ev.Type {
	case wire.EventStart:
		out.Type = StreamProgress
		out.Content = "agent started"
	case wire.EventOutput:
		out.Type = StreamOutput
		out.Content = ev.Content
	case wire.EventToolUse:
		out.Type = StreamProgress
		out.ToolName = ev.ToolName
		out.Content = "running tool"
	case wire.EventToolResult:
		out.Type = StreamProgress
		out.ToolName = ev.ToolName
		out.Content = "tool finished"
	case wire.EventError:
		out.Type = StreamError
		out.Error = ev.Message
	case wire.EventComplete:
		out.Type = StreamProgress
		out.Content = "agent finished"
	default:
		return StreamEvent{}, false
	}
	return out, true
}
