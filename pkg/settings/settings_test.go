package settings

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cognia-ai/loghub/pkg/loghub"
)

func writeSettings(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	def := loghub.DefaultConfig()
	assert.Equal(t, def.MinLevel, cfg.MinLevel)
	assert.Equal(t, def.EnableConsole, cfg.EnableConsole)
	assert.Equal(t, def.MaxStorageEntries, cfg.MaxStorageEntries)
}

func TestLoadFromFile(t *testing.T) {
	path := writeSettings(t, `
min_level: debug
enable_console: false
enable_storage: true
max_storage_entries: 500
retention_days: 3
buffer_size: 10
flush_interval_ms: 250
sampling:
  app.worker:
    rate: 0.1
    min_interval_ms: 1000
    burst_limit: 5
redaction:
  replacement: "***"
  max_depth: 4
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, loghub.LevelDebug, cfg.MinLevel)
	assert.False(t, cfg.EnableConsole)
	assert.True(t, cfg.EnableStorage)
	assert.Equal(t, 500, cfg.MaxStorageEntries)
	assert.Equal(t, 3, cfg.RetentionDays)
	assert.Equal(t, 10, cfg.BufferSize)
	assert.Equal(t, 250*time.Millisecond, cfg.FlushInterval)

	require.Contains(t, cfg.Sampling, "app.worker")
	rule := cfg.Sampling["app.worker"]
	assert.Equal(t, 0.1, rule.Rate)
	assert.Equal(t, time.Second, rule.MinInterval)
	assert.Equal(t, 5, rule.BurstLimit)

	assert.Equal(t, "***", cfg.Redaction.Replacement)
	assert.Equal(t, 4, cfg.Redaction.MaxDepth)
	// Untouched redaction fields keep their defaults.
	assert.True(t, cfg.Redaction.Enabled)
	assert.NotEmpty(t, cfg.Redaction.Keys)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeSettings(t, "min_level: debug\n")
	t.Setenv("LOGHUB_MIN_LEVEL", "error")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, loghub.LevelError, cfg.MinLevel)
}

func TestLoadEnvSectionKeys(t *testing.T) {
	t.Setenv("LOGHUB_REDACTION_REPLACEMENT", "<cut>")
	t.Setenv("LOGHUB_ENABLE_CONSOLE", "false")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "<cut>", cfg.Redaction.Replacement)
	assert.False(t, cfg.EnableConsole)
}

func TestLoadRejectsBadLevel(t *testing.T) {
	path := writeSettings(t, "min_level: verbose\n")
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := writeSettings(t, "min_level: [unterminated\n")
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsRemoteWithoutEndpoint(t *testing.T) {
	path := writeSettings(t, "enable_remote: true\n")
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRemoteEndpoint(t *testing.T) {
	path := writeSettings(t, `
enable_remote: true
remote_endpoint: "https://ingest.example.com/v1/logs"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.True(t, cfg.EnableRemote)
	assert.Equal(t, "https://ingest.example.com/v1/logs", cfg.RemoteEndpoint)
}
