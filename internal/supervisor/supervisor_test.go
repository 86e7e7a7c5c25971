package supervisor

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"
)

func shell(script string, grace time.Duration) Config {
	return Config{
		Command:     "/bin/sh",
		Args:        []string{"-c", script},
		GraceWindow: grace,
	}
}

func TestAcquireStreamsStdout(t *testing.T) {
	h, err := Acquire(context.Background(), shell("echo hello", time.Second), nil)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer h.Release()

	out, err := io.ReadAll(h.Stdout())
	if err != nil {
		t.Fatalf("read stdout: %v", err)
	}
	if strings.TrimSpace(string(out)) != "hello" {
		t.Errorf("expected 'hello', got %q", out)
	}

	if err := h.Wait(context.Background()); err != nil {
		t.Errorf("wait: %v", err)
	}
	if code := h.ExitCode(); code != 0 {
		t.Errorf("expected exit code 0, got %d", code)
	}
}

func TestAcquireMissingBinary(t *testing.T) {
	_, err := Acquire(context.Background(), Config{Command: "/nonexistent/agent-binary"}, nil)
	if err == nil {
		t.Fatal("expected spawn error")
	}
	var spawnErr *SpawnError
	if !errors.As(err, &spawnErr) {
		t.Fatalf("expected *SpawnError, got %T: %v", err, err)
	}
	if spawnErr.Command != "/nonexistent/agent-binary" {
		t.Errorf("spawn error should carry the command, got %q", spawnErr.Command)
	}
}

func TestStderrTailCapturedSeparately(t *testing.T) {
	h, err := Acquire(context.Background(), shell("echo out; echo diag >&2", time.Second), nil)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer h.Release()

	out, _ := io.ReadAll(h.Stdout())
	_ = h.Wait(context.Background())

	if strings.Contains(string(out), "diag") {
		t.Error("stderr leaked into stdout stream")
	}
	if !strings.Contains(h.StderrTail(), "diag") {
		t.Errorf("stderr tail missing diagnostics, got %q", h.StderrTail())
	}
}

func TestReleaseTerminatesWithinGrace(t *testing.T) {
	h, err := Acquire(context.Background(), shell("sleep 30", 200*time.Millisecond), nil)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	start := time.Now()
	h.Release()

	select {
	case <-h.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("process did not exit after Release")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("release took %s, expected under a second", elapsed)
	}
}

func TestReleaseForcesStubbornProcess(t *testing.T) {
	// Ignores SIGTERM; must be SIGKILLed after the grace window.
	h, err := Acquire(context.Background(), shell(`trap '' TERM; sleep 30`, 200*time.Millisecond), nil)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	// Give the shell a moment to install the trap.
	time.Sleep(100 * time.Millisecond)
	h.Release()

	select {
	case <-h.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("stubborn process not force-killed")
	}
}

func TestReleaseIdempotent(t *testing.T) {
	h, err := Acquire(context.Background(), shell("sleep 30", 100*time.Millisecond), nil)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	h.Release()
	h.Release()
	h.Release()

	select {
	case <-h.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("process did not exit")
	}
}

func TestExitCodeNonZero(t *testing.T) {
	h, err := Acquire(context.Background(), shell("exit 3", time.Second), nil)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer h.Release()

	if err := h.Wait(context.Background()); err == nil {
		t.Error("expected wait error for non-zero exit")
	}
	if code := h.ExitCode(); code != 3 {
		t.Errorf("expected exit code 3, got %d", code)
	}
}

func TestExitCodeBeforeExit(t *testing.T) {
	h, err := Acquire(context.Background(), shell("sleep 5", 100*time.Millisecond), nil)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer h.Release()

	if code := h.ExitCode(); code != -1 {
		t.Errorf("expected -1 while running, got %d", code)
	}
}
