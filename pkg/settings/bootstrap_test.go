package settings

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cognia-ai/loghub/pkg/loghub"
)

func bootstrapConfig(t *testing.T) loghub.Config {
	t.Helper()
	cfg := loghub.DefaultConfig()
	cfg.EnableConsole = false
	cfg.SessionFile = filepath.Join(t.TempDir(), "session")
	return cfg
}

func TestBootstrapMinimal(t *testing.T) {
	hub, err := Bootstrap(bootstrapConfig(t), "")
	require.NoError(t, err)
	defer hub.Shutdown(context.Background())

	assert.Nil(t, hub.Transport("storage"))
	assert.Nil(t, hub.Transport("remote"))
}

func TestBootstrapWithStorage(t *testing.T) {
	cfg := bootstrapConfig(t)
	cfg.EnableStorage = true
	storePath := filepath.Join(t.TempDir(), "logs.jsonl")

	hub, err := Bootstrap(cfg, storePath)
	require.NoError(t, err)
	defer hub.Shutdown(context.Background())

	require.NotNil(t, hub.Transport("storage"))

	// Entries flow end to end into the store file.
	hub.Logger("app").Info("persisted")
	require.NoError(t, hub.Flush(context.Background()))
	assert.FileExists(t, storePath)
}

func TestBootstrapWithRemote(t *testing.T) {
	cfg := bootstrapConfig(t)
	cfg.EnableRemote = true
	cfg.RemoteEndpoint = "https://ingest.example.com/v1/logs"

	hub, err := Bootstrap(cfg, "")
	require.NoError(t, err)
	defer hub.Shutdown(context.Background())

	assert.NotNil(t, hub.Transport("remote"))
}

func TestBootstrapRejectsInvalidConfig(t *testing.T) {
	cfg := bootstrapConfig(t)
	cfg.EnableRemote = true // endpoint missing
	_, err := Bootstrap(cfg, "")
	require.Error(t, err)
}
