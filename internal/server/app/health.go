package app

import (
	"context"
	"fmt"
	"os/exec"
	"sync"

	"warden/internal/scheduler"
	"warden/internal/session"
)

// HealthStatus is the readiness of one component.
type HealthStatus string

const (
	HealthStatusReady    HealthStatus = "ready"
	HealthStatusNotReady HealthStatus = "not_ready"
	HealthStatusDegraded HealthStatus = "degraded"
)

// ComponentHealth is one probe result.
type ComponentHealth struct {
	Name    string         `json:"name"`
	Status  HealthStatus   `json:"status"`
	Message string         `json:"message,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// HealthProbe checks one component.
type HealthProbe interface {
	Check(ctx context.Context) ComponentHealth
}

// HealthChecker aggregates probes for the health endpoint.
type HealthChecker struct {
	mu     sync.RWMutex
	probes []HealthProbe
}

func NewHealthChecker() *HealthChecker {
	return &HealthChecker{}
}

// RegisterProbe adds a probe. Safe to call concurrently with CheckAll.
func (h *HealthChecker) RegisterProbe(probe HealthProbe) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.probes = append(h.probes, probe)
}

// CheckAll runs every probe and returns the per-component results.
func (h *HealthChecker) CheckAll(ctx context.Context) []ComponentHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()

	results := make([]ComponentHealth, 0, len(h.probes))
	for _, probe := range h.probes {
		results = append(results, probe.Check(ctx))
	}
	return results
}

// Ready reports whether no component is not_ready. Degraded components
// do not fail readiness.
func (h *HealthChecker) Ready(ctx context.Context) bool {
	for _, result := range h.CheckAll(ctx) {
		if result.Status == HealthStatusNotReady {
			return false
		}
	}
	return true
}

// AgentBinaryProbe verifies the agent executable is resolvable.
type AgentBinaryProbe struct {
	Binary string
}

func (p *AgentBinaryProbe) Check(ctx context.Context) ComponentHealth {
	path, err := exec.LookPath(p.Binary)
	if err != nil {
		return ComponentHealth{
			Name:    "agent_binary",
			Status:  HealthStatusNotReady,
			Message: fmt.Sprintf("agent binary %q not found in PATH", p.Binary),
		}
	}
	return ComponentHealth{
		Name:    "agent_binary",
		Status:  HealthStatusReady,
		Details: map[string]any{"path": path},
	}
}

// QueueProbe reports scheduler queue pressure. A full queue is degraded,
// not down: running tasks still drain it.
type QueueProbe struct {
	Scheduler *scheduler.Scheduler
}

func (p *QueueProbe) Check(ctx context.Context) ComponentHealth {
	depth := p.Scheduler.QueueDepth()
	capacity := p.Scheduler.Capacity()
	status := HealthStatusReady
	message := ""
	if depth >= capacity {
		status = HealthStatusDegraded
		message = "task queue at capacity"
	}
	return ComponentHealth{
		Name:    "scheduler",
		Status:  status,
		Message: message,
		Details: map[string]any{"queue_depth": depth, "queue_capacity": capacity},
	}
}

// SessionStoreProbe reports the live session count.
type SessionStoreProbe struct {
	Store session.Store
}

func (p *SessionStoreProbe) Check(ctx context.Context) ComponentHealth {
	return ComponentHealth{
		Name:    "session_store",
		Status:  HealthStatusReady,
		Details: map[string]any{"sessions": p.Store.Count()},
	}
}
