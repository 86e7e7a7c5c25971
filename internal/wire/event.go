// Package wire decodes the external agent's line-delimited JSON output
// protocol into a stream of typed events.
package wire

import (
	"encoding/json"
	"fmt"
	"strings"
)

// EventType discriminates the closed set of protocol events.
type EventType string

const (
	EventStart      EventType = "start"
	EventOutput     EventType = "output"
	EventToolUse    EventType = "tool_use"
	EventToolResult EventType = "tool_result"
	EventError      EventType = "error"
	EventComplete   EventType = "complete"

	// EventDecodeError is not part of the protocol: it marks one line
	// that could not be decoded. The raw line rides along in Raw.
	EventDecodeError EventType = "decode_error"
)

// Event is one decoded unit from the agent's stdout. Fields are populated
// according to Type; the rest stay zero.
type Event struct {
	Type      EventType       `json:"type"`
	TaskID    string          `json:"taskId,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`
	Content   string          `json:"content,omitempty"`
	ToolName  string          `json:"toolName,omitempty"`
	ToolInput json.RawMessage `json:"toolInput,omitempty"`
	Message   string          `json:"message,omitempty"`
	Success   *bool           `json:"success,omitempty"`
	Result    string          `json:"result,omitempty"`

	// Raw carries the offending line for decode_error events.
	Raw string `json:"-"`
}

var knownTypes = map[EventType]bool{
	EventStart:      true,
	EventOutput:     true,
	EventToolUse:    true,
	EventToolResult: true,
	EventError:      true,
	EventComplete:   true,
}

// Parse decodes a single protocol line. A syntactically valid JSON object
// with an unknown or missing type discriminant is still a parse failure:
// the event set is closed.
func Parse(line []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(line, &ev); err != nil {
		return Event{}, err
	}
	ev.Type = EventType(strings.TrimSpace(string(ev.Type)))
	if !knownTypes[ev.Type] {
		return Event{}, fmt.Errorf("unknown event type %q", ev.Type)
	}
	return ev, nil
}

// Succeeded reports whether a complete event carries an explicit success
// flag set to true.
func (e Event) Succeeded() bool {
	return e.Type == EventComplete && e.Success != nil && *e.Success
}
