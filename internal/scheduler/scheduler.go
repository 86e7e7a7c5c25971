// Package scheduler owns the task queue, concurrency-limited dispatch,
// the task state machine, cancellation, and timeout enforcement. It
// composes the session store and the agent runner per task.
//
// The queue is a bounded FIFO buffer. Cancelling a queued task marks it
// terminal immediately but leaves its slot occupied until a worker
// drains it, trading exact capacity accounting for a lock-free queue.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"warden/internal/claude"
	"warden/internal/logging"
	"warden/internal/session"
	"warden/internal/supervisor"
	"warden/internal/wire"
)

// Config sizes the scheduler. Worker count and queue capacity are fixed
// for the life of the scheduler.
type Config struct {
	// Workers bounds simultaneous running tasks.
	Workers int
	// QueueCapacity bounds waiting tasks; submissions beyond it are
	// rejected, never blocked.
	QueueCapacity int
	// DefaultTaskTimeout applies when a task carries no override.
	DefaultTaskTimeout time.Duration
}

// Runner executes one agent request. *claude.Runner is the production
// implementation.
type Runner interface {
	Execute(ctx context.Context, req claude.Request) (*claude.Result, error)
}

// Observer receives task lifecycle notifications for external streaming.
// Both methods are called from worker goroutines and must not block.
type Observer interface {
	// HandleEvent fires for every decoded event of a running task.
	HandleEvent(task Task, ev wire.Event)
	// HandleTransition fires on every terminal transition.
	HandleTransition(task Task)
}

// Scheduler accepts task submissions into a bounded FIFO queue and
// dispatches them to a fixed pool of workers.
type Scheduler struct {
	cfg      Config
	tasks    *table
	sessions session.Store
	runner   Runner
	observer Observer
	logger   logging.Logger
	metrics  *Metrics

	queue   chan string
	cancels sync.Map // task id -> context.CancelFunc

	started  atomic.Bool
	stopOnce sync.Once
	stop     context.CancelFunc
	group    *errgroup.Group
}

// New creates a Scheduler. observer and metrics may be nil.
func New(cfg Config, sessions session.Store, runner Runner, observer Observer, metrics *Metrics, logger logging.Logger) *Scheduler {
	if cfg.Workers <= 0 {
		cfg.Workers = 5
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = 100
	}
	if cfg.DefaultTaskTimeout <= 0 {
		cfg.DefaultTaskTimeout = 5 * time.Minute
	}
	return &Scheduler{
		cfg:      cfg,
		tasks:    newTable(),
		sessions: sessions,
		runner:   runner,
		observer: observer,
		logger:   logging.OrNop(logger),
		metrics:  metrics,
		queue:    make(chan string, cfg.QueueCapacity),
	}
}

// Start launches the worker pool. It returns immediately; workers run
// until Stop or ctx cancellation.
func (s *Scheduler) Start(ctx context.Context) {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.stop = cancel
	s.group, runCtx = errgroup.WithContext(runCtx)
	for i := 0; i < s.cfg.Workers; i++ {
		worker := i
		s.group.Go(func() error {
			s.workerLoop(runCtx, worker)
			return nil
		})
	}
	s.logger.Info("scheduler: started %d workers, queue capacity %d", s.cfg.Workers, s.cfg.QueueCapacity)
}

// Stop cancels running tasks and waits for the workers to drain. Safe to
// call more than once.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		if s.stop != nil {
			s.stop()
		}
		if s.group != nil {
			_ = s.group.Wait()
		}
		s.logger.Info("scheduler: stopped")
	})
}

// Submit validates the request shape and enqueues a new task. It returns
// as soon as the task is queued; the caller never waits for a worker.
func (s *Scheduler) Submit(req SubmitRequest) (Task, error) {
	if !s.started.Load() {
		return Task{}, ErrNotStarted
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return Task{}, ErrEmptyPrompt
	}
	if strings.TrimSpace(req.UserID) == "" {
		return Task{}, ErrEmptyUserID
	}
	if req.WorkingDir != "" {
		if req.Metadata == nil {
			req.Metadata = make(map[string]string, 1)
		}
		req.Metadata["working_dir"] = req.WorkingDir
	}

	task := s.tasks.create(req)
	select {
	case s.queue <- task.ID:
	default:
		s.tasks.remove(task.ID)
		s.metrics.taskRejected()
		return Task{}, fmt.Errorf("%w: capacity %d", ErrQueueFull, s.cfg.QueueCapacity)
	}
	s.metrics.taskSubmitted()
	s.logger.Debug("scheduler: queued %s for user %s", task.ID, task.UserID)
	return task, nil
}

// Get returns a snapshot of the task or ErrTaskNotFound.
func (s *Scheduler) Get(taskID string) (Task, error) {
	return s.tasks.get(taskID)
}

// List returns snapshots of all known tasks, newest first.
func (s *Scheduler) List() []Task {
	return s.tasks.list()
}

// QueueDepth reports how many tasks are waiting for a worker slot.
func (s *Scheduler) QueueDepth() int {
	return len(s.queue)
}

// Capacity reports the configured queue capacity.
func (s *Scheduler) Capacity() int {
	return s.cfg.QueueCapacity
}

// Cancel cancels a task. A queued task transitions to cancelled directly
// and no process is ever spawned for it; a running task has its process
// released asynchronously and reaches cancelled once torn down. Tasks
// already terminal fail with ErrTaskTerminal.
//
// Removal from the queue is lazy: a cancelled queued task keeps its
// buffer slot until a worker dequeues and skips it, so under sustained
// load Submit can report a full queue while some slots hold cancelled
// entries. Slots are reclaimed as soon as a worker frees up.
func (s *Scheduler) Cancel(taskID string) error {
	task, err := s.tasks.mutate(taskID, func(t *Task) error {
		if t.Status.Terminal() {
			return fmt.Errorf("%w: %s is %s", ErrTaskTerminal, t.ID, t.Status)
		}
		if t.Status == StatusQueued {
			t.Status = StatusCancelled
			now := time.Now()
			t.CompletedAt = &now
		}
		return nil
	})
	if err != nil {
		return err
	}

	if task.Status == StatusCancelled {
		// Cancelled before dispatch: the worker skips it on dequeue.
		s.metrics.taskTerminal(StatusCancelled)
		s.bumpSession(task, "")
		s.notifyTransition(task)
		s.logger.Info("scheduler: cancelled queued task %s", task.ID)
		return nil
	}

	// Running: trigger teardown. The worker observes the stream closing
	// and forces the final status to cancelled.
	if cancel, ok := s.cancels.Load(taskID); ok {
		cancel.(context.CancelFunc)()
		s.logger.Info("scheduler: cancelling running task %s", taskID)
	}
	return nil
}

func (s *Scheduler) workerLoop(ctx context.Context, worker int) {
	for {
		select {
		case <-ctx.Done():
			return
		case taskID := <-s.queue:
			s.metrics.taskDequeued()
			// The cancel func must be registered before the task is
			// visibly running, or a Cancel racing the dispatch would
			// find neither a queued task nor a cancel func and do
			// nothing.
			taskCtx, cancelTask := context.WithCancel(ctx)
			s.cancels.Store(taskID, cancelTask)
			task, err := s.tasks.transition(taskID, StatusRunning)
			if err != nil {
				// Cancelled while queued; nothing to run.
				s.cancels.Delete(taskID)
				cancelTask()
				continue
			}
			s.metrics.taskStarted()
			s.logger.Debug("scheduler: worker %d picked up %s", worker, task.ID)
			s.runTask(taskCtx, task)
			s.cancels.Delete(taskID)
			cancelTask()
		}
	}
}

// runTask executes one dispatched task end to end: session resolution,
// agent execution, event forwarding, and the terminal transition. ctx is
// the per-task cancellable context registered by the worker.
func (s *Scheduler) runTask(ctx context.Context, task Task) {
	timeout := s.effectiveTimeout(task)
	runCtx, cancelTimeout := context.WithTimeout(ctx, timeout)
	defer cancelTimeout()

	sess, err := s.resolveSession(&task)
	if err != nil {
		final := s.fail(task.ID, ErrorKindSession, err.Error(), nil, "")
		s.metrics.taskFinished(final.Status)
		s.notifyTransition(final)
		return
	}

	result, execErr := s.runner.Execute(runCtx, claude.Request{
		TaskID:          task.ID,
		Prompt:          task.Prompt,
		ResumeSessionID: sess.ExternalSessionID,
		WorkingDir:      task.Metadata["working_dir"],
		OnEvent: func(ev wire.Event) {
			s.notifyEvent(task, ev)
		},
	})

	final := s.settle(task, result, execErr, timeout)
	externalID := ""
	if result != nil {
		externalID = result.ExternalSessionID
	}
	s.bumpSession(final, externalID)
	s.metrics.taskFinished(final.Status)
	s.notifyTransition(final)
}

// settle maps the runner outcome onto a terminal status.
func (s *Scheduler) settle(task Task, result *claude.Result, execErr error, timeout time.Duration) Task {
	switch {
	case execErr == nil:
		return s.complete(task.ID, result.Output)

	case errors.Is(execErr, context.DeadlineExceeded):
		return s.fail(task.ID, ErrorKindTimeout,
			fmt.Sprintf("task timed out after %s", timeout), nil, partialOutput(result))

	case errors.Is(execErr, context.Canceled):
		return s.forceCancelled(task.ID)

	default:
		var spawnErr *supervisor.SpawnError
		if errors.As(execErr, &spawnErr) {
			return s.fail(task.ID, ErrorKindSpawn, spawnErr.Error(), nil, "")
		}
		var procErr *claude.ProcessError
		if errors.As(execErr, &procErr) {
			code := procErr.ExitCode
			return s.fail(task.ID, ErrorKindProcess, procErr.Error(), &code, procErr.Output)
		}
		return s.fail(task.ID, ErrorKindInternal, execErr.Error(), nil, partialOutput(result))
	}
}

func (s *Scheduler) complete(taskID, output string) Task {
	task, err := s.tasks.mutate(taskID, func(t *Task) error {
		if !validTransition(t.Status, StatusCompleted) {
			return fmt.Errorf("invalid transition %s -> completed", t.Status)
		}
		t.Status = StatusCompleted
		t.Result = output
		now := time.Now()
		t.CompletedAt = &now
		return nil
	})
	if err != nil {
		s.logger.Warn("scheduler: complete %s: %v", taskID, err)
	}
	return task
}

func (s *Scheduler) fail(taskID string, kind ErrorKind, msg string, exitCode *int, output string) Task {
	task, err := s.tasks.mutate(taskID, func(t *Task) error {
		if !validTransition(t.Status, StatusFailed) {
			return fmt.Errorf("invalid transition %s -> failed", t.Status)
		}
		t.Status = StatusFailed
		t.Error = msg
		t.ErrorKind = kind
		t.ExitCode = exitCode
		if output != "" {
			t.Result = output
		}
		now := time.Now()
		t.CompletedAt = &now
		return nil
	})
	if err != nil {
		s.logger.Warn("scheduler: fail %s: %v", taskID, err)
	}
	return task
}

func (s *Scheduler) forceCancelled(taskID string) Task {
	task, err := s.tasks.mutate(taskID, func(t *Task) error {
		if !validTransition(t.Status, StatusCancelled) {
			return fmt.Errorf("invalid transition %s -> cancelled", t.Status)
		}
		t.Status = StatusCancelled
		now := time.Now()
		t.CompletedAt = &now
		return nil
	})
	if err != nil {
		s.logger.Warn("scheduler: cancel %s: %v", taskID, err)
	}
	return task
}

// resolveSession binds the task to a live session, creating one when the
// submission named none. The stored task record picks up the session id.
func (s *Scheduler) resolveSession(task *Task) (session.Session, error) {
	if task.SessionID == "" {
		sess, err := s.sessions.Create(task.UserID, nil)
		if err != nil {
			return session.Session{}, err
		}
		task.SessionID = sess.ID
		if _, err := s.tasks.mutate(task.ID, func(t *Task) error {
			t.SessionID = sess.ID
			return nil
		}); err != nil {
			s.logger.Warn("scheduler: attach session to %s: %v", task.ID, err)
		}
		return sess, nil
	}
	return s.sessions.Get(task.SessionID)
}

// bumpSession records a terminal transition on the bound session: task
// count up by one, external session reference attached once known.
func (s *Scheduler) bumpSession(task Task, externalID string) {
	if task.SessionID == "" {
		return
	}
	patch := session.Patch{TaskCountDelta: 1}
	if externalID != "" {
		patch.ExternalSessionID = &externalID
	}
	if _, err := s.sessions.Update(task.SessionID, patch); err != nil {
		s.logger.Warn("scheduler: update session %s for %s: %v", task.SessionID, task.ID, err)
	}
}

func (s *Scheduler) effectiveTimeout(task Task) time.Duration {
	if task.TimeoutMs > 0 {
		return time.Duration(task.TimeoutMs) * time.Millisecond
	}
	return s.cfg.DefaultTaskTimeout
}

func (s *Scheduler) notifyEvent(task Task, ev wire.Event) {
	if s.observer != nil {
		s.observer.HandleEvent(task, ev)
	}
}

func (s *Scheduler) notifyTransition(task Task) {
	if s.observer != nil {
		s.observer.HandleTransition(task)
	}
}

func partialOutput(result *claude.Result) string {
	if result == nil {
		return ""
	}
	return result.Output
}
