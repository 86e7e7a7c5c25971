package wire

import (
	"context"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chunkReader returns its chunks one Read call at a time, regardless of
// buffer size, to exercise decode behaviour across arbitrary boundaries.
type chunkReader struct {
	chunks []string
}

func (c *chunkReader) Read(p []byte) (int, error) {
	if len(c.chunks) == 0 {
		return 0, io.EOF
	}
	chunk := c.chunks[0]
	c.chunks = c.chunks[1:]
	n := copy(p, chunk)
	if n < len(chunk) {
		c.chunks = append([]string{chunk[n:]}, c.chunks...)
	}
	return n, nil
}

func collect(t *testing.T, r io.Reader) []Event {
	t.Helper()
	var events []Event
	for ev := range Decode(context.Background(), r, nil) {
		events = append(events, ev)
	}
	return events
}

func TestDecodeAcrossChunkBoundaries(t *testing.T) {
	r := &chunkReader{chunks: []string{
		`{"type":"start"`,
		`,"taskId":"t1"}` + "\n" + `{"type":"output"`,
		`,"content":"hi"}` + "\n",
	}}

	events := collect(t, r)
	require.Len(t, events, 2)
	assert.Equal(t, EventStart, events[0].Type)
	assert.Equal(t, "t1", events[0].TaskID)
	assert.Equal(t, EventOutput, events[1].Type)
	assert.Equal(t, "hi", events[1].Content)
}

func TestDecodeMalformedLineDoesNotStopStream(t *testing.T) {
	input := `{"type":"start","sessionId":"ext-1"}` + "\n" +
		`this is not json` + "\n" +
		`{"type":"output","content":"after"}` + "\n"

	events := collect(t, strings.NewReader(input))
	require.Len(t, events, 3)
	assert.Equal(t, EventStart, events[0].Type)
	assert.Equal(t, EventDecodeError, events[1].Type)
	assert.Equal(t, "this is not json", events[1].Raw)
	assert.Equal(t, "after", events[2].Content)
}

func TestDecodeUnknownTypeIsDecodeError(t *testing.T) {
	events := collect(t, strings.NewReader(`{"type":"telemetry","x":1}`+"\n"))
	require.Len(t, events, 1)
	assert.Equal(t, EventDecodeError, events[0].Type)
}

func TestDecodeSkipsEmptyLines(t *testing.T) {
	input := "\n\n" + `{"type":"complete","success":true}` + "\n\n"
	events := collect(t, strings.NewReader(input))
	require.Len(t, events, 1)
	assert.True(t, events[0].Succeeded())
}

func TestDecodeTrailingPartialLine(t *testing.T) {
	// Valid JSON without a trailing newline is still decoded at close.
	events := collect(t, strings.NewReader(`{"type":"output","content":"tail"}`))
	require.Len(t, events, 1)
	assert.Equal(t, "tail", events[0].Content)

	// A truncated fragment is dropped without a decode_error.
	events = collect(t, strings.NewReader(`{"type":"output","content":"hi"}`+"\n"+`{"type":"comp`))
	require.Len(t, events, 1)
	assert.Equal(t, "hi", events[0].Content)
}

func TestDecodePreservesOrder(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 50; i++ {
		fmt.Fprintf(&sb, `{"type":"output","content":"%d"}`+"\n", i)
	}

	events := collect(t, strings.NewReader(sb.String()))
	require.Len(t, events, 50)
	for i, ev := range events {
		assert.Equal(t, fmt.Sprintf("%d", i), ev.Content)
	}
}

func TestDecodeCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ch := Decode(ctx, strings.NewReader(`{"type":"output","content":"x"}`+"\n"), nil)
	var events []Event
	for ev := range ch {
		events = append(events, ev)
	}
	// At most the already-buffered event comes through; the channel closes.
	assert.LessOrEqual(t, len(events), 1)
}

func TestParseRejectsMissingType(t *testing.T) {
	_, err := Parse([]byte(`{"content":"hi"}`))
	assert.Error(t, err)
}
