package http

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"warden/internal/logging"
	"warden/internal/scheduler"
	"warden/internal/server/app"
)

const streamHeartbeat = 15 * time.Second

// StreamHandler serves live task event streams over SSE and WebSocket.
type StreamHandler struct {
	broadcaster *app.Broadcaster
	scheduler   *scheduler.Scheduler
	upgrader    websocket.Upgrader
	logger      logging.Logger
}

func NewStreamHandler(broadcaster *app.Broadcaster, sched *scheduler.Scheduler, allowedOrigins []string, logger logging.Logger) *StreamHandler {
	origins := make(map[string]bool, len(allowedOrigins))
	allowAll := false
	for _, origin := range allowedOrigins {
		if origin == "*" {
			allowAll = true
		}
		origins[origin] = true
	}
	return &StreamHandler{
		broadcaster: broadcaster,
		scheduler:   sched,
		logger:      logging.OrNop(logger),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || allowAll || origins[origin]
			},
		},
	}
}

// SSE streams task events as Server-Sent Events. History is replayed
// first, then live events until the task is terminal or the client goes
// away. A comment heartbeat keeps intermediaries from closing the
// connection.
func (h *StreamHandler) SSE(c *gin.Context) {
	taskID := c.Param("id")
	task, err := h.scheduler.Get(taskID)
	if err != nil {
		respondError(c, err)
		return
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, errorBody{Error: "streaming unsupported"})
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	events, unsubscribe := h.broadcaster.Subscribe(taskID)
	defer unsubscribe()

	connected := app.StreamEvent{
		Type:      app.StreamConnected,
		TaskID:    taskID,
		SessionID: task.SessionID,
		Status:    task.Status,
		Timestamp: time.Now(),
	}
	if err := writeSSE(c.Writer, connected); err != nil {
		return
	}
	flusher.Flush()

	// An already-terminal task gets its history replay and nothing more.
	ticker := time.NewTicker(streamHeartbeat)
	defer ticker.Stop()

	for {
		select {
		case ev := <-events:
			if err := writeSSE(c.Writer, ev); err != nil {
				return
			}
			flusher.Flush()
			if ev.Status.Terminal() {
				return
			}
		case <-ticker.C:
			if _, err := fmt.Fprint(c.Writer, ": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case <-c.Request.Context().Done():
			h.logger.Debug("stream: sse client for %s disconnected", taskID)
			return
		}
	}
}

func writeSSE(w io.Writer, ev app.StreamEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
	return err
}

// WebSocket streams the same events as SSE over a websocket. Each event
// is one JSON text message.
func (h *StreamHandler) WebSocket(c *gin.Context) {
	taskID := c.Param("id")
	task, err := h.scheduler.Get(taskID)
	if err != nil {
		respondError(c, err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("stream: websocket upgrade for %s: %v", taskID, err)
		return
	}
	defer conn.Close()

	events, unsubscribe := h.broadcaster.Subscribe(taskID)
	defer unsubscribe()

	// Drain reads so close frames and pings are processed.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	connected := app.StreamEvent{
		Type:      app.StreamConnected,
		TaskID:    taskID,
		SessionID: task.SessionID,
		Status:    task.Status,
		Timestamp: time.Now(),
	}
	if err := conn.WriteJSON(connected); err != nil {
		return
	}

	ticker := time.NewTicker(streamHeartbeat)
	defer ticker.Stop()

	for {
		select {
		case ev := <-events:
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
			if ev.Status.Terminal() {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "task finished"))
				return
			}
		case <-ticker.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			h.logger.Debug("stream: websocket client for %s disconnected", taskID)
			return
		case <-c.Request.Context().Done():
			return
		}
	}
}
