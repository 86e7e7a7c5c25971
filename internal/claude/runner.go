// Package claude invokes the external agent CLI for one task: it builds
// the command line, supervises the process, and folds the decoded event
// stream into a result.
package claude

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"warden/internal/logging"
	"warden/internal/supervisor"
	"warden/internal/wire"
)

// Config configures the agent binary invocation.
type Config struct {
	BinaryPath  string
	APIKey      string
	ConfigDir   string
	Model       string
	GraceWindow time.Duration
	Env         map[string]string
}

// Request describes one execution of the agent.
type Request struct {
	TaskID string
	Prompt string
	// ResumeSessionID continues an existing agent-side conversation.
	ResumeSessionID string
	WorkingDir      string
	// OnEvent receives every decoded event as it arrives, including
	// decode_error markers. Optional.
	OnEvent func(wire.Event)
}

// Result is the folded outcome of one agent run.
type Result struct {
	// Output is the accumulated, trimmed output text.
	Output string
	// ExternalSessionID is the agent-side session reference from the
	// first start event, when one was seen.
	ExternalSessionID string
	// Succeeded reports whether a complete event carried success=true.
	Succeeded bool
	// ExitCode is the process exit code, -1 when killed by signal.
	ExitCode int
}

// ProcessError reports a run whose process exited non-zero without ever
// signalling success. The accumulated output and stderr tail ride along
// as diagnostic context.
type ProcessError struct {
	ExitCode   int
	Output     string
	StderrTail string
}

func (e *ProcessError) Error() string {
	msg := fmt.Sprintf("agent process exited with code %d", e.ExitCode)
	if tail := compact(e.StderrTail, 400); tail != "" {
		msg = fmt.Sprintf("%s | stderr tail: %s", msg, tail)
	}
	return msg
}

// handle is the slice of supervisor.Handle the runner needs; tests swap
// in scripted fakes.
type handle interface {
	Stdout() io.Reader
	StderrTail() string
	Wait(ctx context.Context) error
	ExitCode() int
	Release()
}

// Runner executes agent requests. Safe for concurrent use.
type Runner struct {
	cfg     Config
	logger  logging.Logger
	acquire func(ctx context.Context, cfg supervisor.Config) (handle, error)
}

// NewRunner creates a Runner for the configured binary.
func NewRunner(cfg Config, logger logging.Logger) *Runner {
	if strings.TrimSpace(cfg.BinaryPath) == "" {
		cfg.BinaryPath = "claude"
	}
	logger = logging.OrNop(logger)
	return &Runner{
		cfg:    cfg,
		logger: logger,
		acquire: func(ctx context.Context, scfg supervisor.Config) (handle, error) {
			h, err := supervisor.Acquire(ctx, scfg, logger)
			if err != nil {
				return nil, err
			}
			return h, nil
		},
	}
}

// Execute runs the agent once and folds its event stream. The process is
// guaranteed terminated on every return path. A cancelled or timed-out
// ctx releases the process immediately and surfaces ctx.Err(); the
// partial result accompanies it.
func (r *Runner) Execute(ctx context.Context, req Request) (*Result, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, fmt.Errorf("prompt is required")
	}

	h, err := r.acquire(ctx, supervisor.Config{
		Command:     r.cfg.BinaryPath,
		Args:        r.buildArgs(req),
		Env:         r.buildEnv(),
		WorkingDir:  req.WorkingDir,
		GraceWindow: r.cfg.GraceWindow,
	})
	if err != nil {
		return nil, err
	}
	defer h.Release()

	result := &Result{ExitCode: -1}
	var out strings.Builder
	events := wire.Decode(ctx, h.Stdout(), r.logger)

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return r.finish(ctx, h, result, &out)
			}
			r.apply(ev, req.TaskID, result, &out)
			if req.OnEvent != nil {
				req.OnEvent(ev)
			}
		case <-ctx.Done():
			h.Release()
			// The release closes stdout, which ends the decoder; drain
			// so its goroutine exits.
			for range events {
			}
			result.Output = strings.TrimSpace(out.String())
			result.ExitCode = h.ExitCode()
			return result, ctx.Err()
		}
	}
}

// apply folds one decoded event into the accumulating result.
func (r *Runner) apply(ev wire.Event, taskID string, result *Result, out *strings.Builder) {
	switch ev.Type {
	case wire.EventStart:
		if result.ExternalSessionID == "" && ev.SessionID != "" {
			result.ExternalSessionID = ev.SessionID
		}
	case wire.EventOutput:
		appendLine(out, ev.Content)
	case wire.EventError:
		appendLine(out, "[agent error] "+ev.Message)
	case wire.EventComplete:
		if ev.Success != nil {
			result.Succeeded = *ev.Success
		}
		appendLine(out, ev.Result)
	case wire.EventDecodeError:
		r.logger.Warn("claude: skipping undecodable line for task %s: %q", taskID, truncate(ev.Raw, 200))
	}
}

func (r *Runner) finish(ctx context.Context, h handle, result *Result, out *strings.Builder) (*Result, error) {
	waitErr := h.Wait(ctx)
	result.ExitCode = h.ExitCode()
	result.Output = strings.TrimSpace(out.String())

	if ctx.Err() != nil {
		h.Release()
		return result, ctx.Err()
	}
	if !result.Succeeded && result.ExitCode != 0 {
		if waitErr != nil {
			r.logger.Debug("claude: process wait: %v", waitErr)
		}
		return result, &ProcessError{
			ExitCode:   result.ExitCode,
			Output:     result.Output,
			StderrTail: h.StderrTail(),
		}
	}
	return result, nil
}

// buildArgs assembles the agent CLI invocation: print mode with
// structured stream output, optional model and session resume, prompt
// last after the terminator.
func (r *Runner) buildArgs(req Request) []string {
	args := []string{"-p", "--output-format", "stream-json", "--verbose"}
	if r.cfg.Model != "" {
		args = append(args, "--model", r.cfg.Model)
	}
	if req.ResumeSessionID != "" {
		args = append(args, "--resume", req.ResumeSessionID)
	}
	return append(args, "--", req.Prompt)
}

// buildEnv injects the credential and config-directory variables the
// agent binary requires, plus any extra configured pairs.
func (r *Runner) buildEnv() map[string]string {
	env := make(map[string]string, len(r.cfg.Env)+2)
	for k, v := range r.cfg.Env {
		env[k] = v
	}
	if r.cfg.APIKey != "" {
		env["ANTHROPIC_API_KEY"] = r.cfg.APIKey
	}
	if r.cfg.ConfigDir != "" {
		env["CLAUDE_CONFIG_DIR"] = r.cfg.ConfigDir
	}
	return env
}

func appendLine(out *strings.Builder, line string) {
	if line == "" {
		return
	}
	if out.Len() > 0 {
		out.WriteByte('\n')
	}
	out.WriteString(line)
}

func truncate(input string, limit int) string {
	if limit <= 0 || len(input) <= limit {
		return input
	}
	return input[:limit]
}

func compact(tail string, limit int) string {
	trimmed := strings.TrimSpace(tail)
	if trimmed == "" {
		return ""
	}
	compacted := strings.Join(strings.Fields(trimmed), " ")
	return truncate(compacted, limit)
}
