package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"warden/internal/session"
)

type staticProbe struct {
	health ComponentHealth
}

func (p staticProbe) Check(ctx context.Context) ComponentHealth { return p.health }

func TestHealthCheckerAggregatesProbes(t *testing.T) {
	h := NewHealthChecker()
	h.RegisterProbe(staticProbe{ComponentHealth{Name: "a", Status: HealthStatusReady}})
	h.RegisterProbe(staticProbe{ComponentHealth{Name: "b", Status: HealthStatusDegraded}})

	results := h.CheckAll(context.Background())
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].Name)
	assert.True(t, h.Ready(context.Background()))
}

func TestHealthCheckerNotReady(t *testing.T) {
	h := NewHealthChecker()
	h.RegisterProbe(staticProbe{ComponentHealth{Name: "a", Status: HealthStatusReady}})
	h.RegisterProbe(staticProbe{ComponentHealth{Name: "b", Status: HealthStatusNotReady}})

	assert.False(t, h.Ready(context.Background()))
}

func TestAgentBinaryProbe(t *testing.T) {
	ready := &AgentBinaryProbe{Binary: "sh"}
	result := ready.Check(context.Background())
	assert.Equal(t, HealthStatusReady, result.Status)

	missing := &AgentBinaryProbe{Binary: "definitely-not-a-real-binary"}
	result = missing.Check(context.Background())
	assert.Equal(t, HealthStatusNotReady, result.Status)
	assert.Contains(t, result.Message, "not found")
}

func TestSessionStoreProbe(t *testing.T) {
	store := session.NewMemoryStore(time.Hour, nil)
	_, err := store.Create("u1", nil)
	require.NoError(t, err)

	probe := &SessionStoreProbe{Store: store}
	result := probe.Check(context.Background())
	assert.Equal(t, HealthStatusReady, result.Status)
	assert.Equal(t, 1, result.Details["sessions"])
}
