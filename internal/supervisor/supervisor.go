// Package supervisor owns the lifecycle of one external agent process per
// task: spawn, stream, and guaranteed graceful-then-forced termination.
package supervisor

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"warden/internal/logging"
)

// DefaultGraceWindow is how long Release waits between SIGTERM and SIGKILL.
const DefaultGraceWindow = time.Second

// Config defines how to spawn the external agent process.
type Config struct {
	Command     string
	Args        []string
	Env         map[string]string
	WorkingDir  string
	GraceWindow time.Duration
}

// SpawnError reports that the process could not be started at all:
// missing executable, permission denied, or resource exhaustion. The
// supervisor never retries; the caller decides.
type SpawnError struct {
	Command string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn %s: %v", e.Command, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// Handle is a live supervised process. It exists for the duration of one
// task execution and is never shared across tasks. Release is safe to
// call any number of times and on every exit path.
type Handle struct {
	cmd        *exec.Cmd
	stdout     io.ReadCloser
	stderrTail *tailBuffer
	done       chan struct{}
	grace      time.Duration
	logger     logging.Logger

	releaseOnce sync.Once

	mu      sync.Mutex
	waitErr error
	pgid    int
}

// Acquire spawns the configured process and returns a handle bound to it.
// It never returns a handle without a live process: any startup failure
// surfaces as a *SpawnError.
func Acquire(ctx context.Context, cfg Config, logger logging.Logger) (*Handle, error) {
	logger = logging.OrNop(logger)
	if ctx == nil {
		ctx = context.Background()
	}

	cmd := exec.CommandContext(ctx, cfg.Command, cfg.Args...)
	if cfg.WorkingDir != "" {
		cmd.Dir = cfg.WorkingDir
	}
	if len(cfg.Env) > 0 {
		env := append([]string{}, os.Environ()...)
		for k, v := range cfg.Env {
			env = append(env, fmt.Sprintf("%s=%s", k, v))
		}
		cmd.Env = env
	}
	// Own process group so Release can signal the agent and any children
	// it forks in one shot.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &SpawnError{Command: cfg.Command, Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, &SpawnError{Command: cfg.Command, Err: err}
	}
	if err := cmd.Start(); err != nil {
		return nil, &SpawnError{Command: cfg.Command, Err: err}
	}

	grace := cfg.GraceWindow
	if grace <= 0 {
		grace = DefaultGraceWindow
	}

	h := &Handle{
		cmd:        cmd,
		stdout:     stdout,
		stderrTail: newTailBuffer(defaultStderrTail),
		done:       make(chan struct{}),
		grace:      grace,
		logger:     logger,
	}
	if cmd.Process != nil {
		h.pgid, _ = syscall.Getpgid(cmd.Process.Pid)
	}

	go func() {
		err := cmd.Wait()
		h.mu.Lock()
		h.waitErr = err
		h.mu.Unlock()
		close(h.done)
	}()

	go func() {
		_, _ = io.Copy(h.stderrTail, stderr)
	}()

	return h, nil
}

// Stdout returns the process's standard output stream. It closes when the
// process exits or is released.
func (h *Handle) Stdout() io.Reader {
	return h.stdout
}

// StderrTail returns the last few KB of standard error, for diagnostics.
// Stderr is never mixed into the primary result stream.
func (h *Handle) StderrTail() string {
	return h.stderrTail.String()
}

// PID returns the OS process id.
func (h *Handle) PID() int {
	if h.cmd.Process != nil {
		return h.cmd.Process.Pid
	}
	return 0
}

// Done is closed once the process has exited.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the process exits or ctx is cancelled, and returns
// the wait error (nil on clean exit).
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.waitErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ExitCode returns the process exit code once it has exited, or -1 if it
// is still running or was killed by a signal without a code.
func (h *Handle) ExitCode() int {
	select {
	case <-h.done:
	default:
		return -1
	}
	if state := h.cmd.ProcessState; state != nil {
		return state.ExitCode()
	}
	return -1
}

// Release terminates the process if it is still alive: SIGTERM to the
// process group, then SIGKILL after the grace window. It is idempotent,
// never blocks past the grace window, and never returns an error;
// termination is a cleanup path and failures are logged only.
func (h *Handle) Release() {
	h.releaseOnce.Do(h.terminate)
}

func (h *Handle) terminate() {
	select {
	case <-h.done:
		return
	default:
	}

	if h.cmd.Process == nil {
		return
	}
	pgid := h.pgid
	if pgid == 0 {
		pgid = h.cmd.Process.Pid
	}

	if err := syscall.Kill(-pgid, syscall.SIGTERM); err != nil {
		h.logger.Warn("supervisor: SIGTERM pid=%d failed: %v", h.cmd.Process.Pid, err)
	}

	select {
	case <-h.done:
	case <-time.After(h.grace):
		h.logger.Warn("supervisor: pid=%d did not exit within %s, sending SIGKILL", h.cmd.Process.Pid, h.grace)
		if err := syscall.Kill(-pgid, syscall.SIGKILL); err != nil {
			h.logger.Warn("supervisor: SIGKILL pid=%d failed: %v", h.cmd.Process.Pid, err)
		}
	}
}
