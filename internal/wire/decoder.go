package wire

import (
	"bufio"
	"bytes"
	"context"
	"io"

	"warden/internal/logging"
)

const decoderBuffer = 64 * 1024

// Decode consumes r line by line and emits one Event per syntactically
// complete unit, in byte-arrival order, until r is exhausted or ctx is
// cancelled. The channel is closed when decoding ends.
//
// A complete line that fails to decode produces one decode_error event
// and does not stop the stream. The final unterminated line, if any, gets
// one best-effort decode at close and is dropped silently on failure:
// abrupt process termination routinely truncates the last line.
func Decode(ctx context.Context, r io.Reader, logger logging.Logger) <-chan Event {
	logger = logging.OrNop(logger)
	ch := make(chan Event, 16)

	go func() {
		defer close(ch)
		reader := bufio.NewReaderSize(r, decoderBuffer)

		for {
			if ctx.Err() != nil {
				return
			}

			line, err := reader.ReadBytes('\n')
			if err == nil {
				ev, ok := decodeLine(line)
				if !ok {
					continue
				}
				if !emit(ctx, ch, ev) {
					return
				}
				continue
			}

			if err != io.EOF {
				logger.Warn("wire: read error, terminating stream: %v", err)
				return
			}

			// EOF with a leftover fragment: one last attempt, no
			// decode_error on failure.
			trimmed := bytes.TrimSpace(line)
			if len(trimmed) > 0 {
				if ev, perr := Parse(trimmed); perr == nil {
					emit(ctx, ch, ev)
				} else {
					logger.Debug("wire: dropping trailing partial line (%d bytes)", len(trimmed))
				}
			}
			return
		}
	}()

	return ch
}

// decodeLine handles one newline-terminated unit. Empty lines are skipped
// (ok=false); malformed lines become decode_error events.
func decodeLine(line []byte) (Event, bool) {
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 {
		return Event{}, false
	}
	ev, err := Parse(trimmed)
	if err != nil {
		return Event{Type: EventDecodeError, Raw: string(trimmed)}, true
	}
	return ev, true
}

func emit(ctx context.Context, ch chan<- Event, ev Event) bool {
	select {
	case ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
