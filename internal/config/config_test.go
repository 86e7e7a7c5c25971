package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "claude", cfg.AgentBinary)
	assert.Equal(t, 5, cfg.Workers)
	assert.Equal(t, 100, cfg.QueueCapacity)
	assert.Equal(t, 5*time.Minute, cfg.TaskTimeout)
	assert.Equal(t, 30*time.Minute, cfg.SessionTimeout)
	assert.Equal(t, time.Second, cfg.GraceWindow)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	t.Setenv("WARDEN_PORT", "9090")
	t.Setenv("WARDEN_WORKERS", "2")
	t.Setenv("WARDEN_AGENT_BINARY", "/usr/local/bin/claude")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, 2, cfg.Workers)
	assert.Equal(t, "/usr/local/bin/claude", cfg.AgentBinary)
}

func TestLoadYAMLFile(t *testing.T) {
	content := `
port: 7070
workers: 3
task_timeout: 90s
agent_model: opus
allowed_origins:
  - https://example.com
`
	path := filepath.Join(t.TempDir(), "warden.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Port)
	assert.Equal(t, 3, cfg.Workers)
	assert.Equal(t, 90*time.Second, cfg.TaskTimeout)
	assert.Equal(t, "opus", cfg.AgentModel)
	assert.Equal(t, []string{"https://example.com"}, cfg.AllowedOrigins)
	// Untouched keys keep their defaults.
	assert.Equal(t, 100, cfg.QueueCapacity)
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	base, err := Load("")
	require.NoError(t, err)

	bad := base
	bad.Workers = 0
	assert.Error(t, bad.Validate())

	bad = base
	bad.QueueCapacity = -1
	assert.Error(t, bad.Validate())

	bad = base
	bad.AgentBinary = "  "
	assert.Error(t, bad.Validate())

	assert.NoError(t, base.Validate())
}
