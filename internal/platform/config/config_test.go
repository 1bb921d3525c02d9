package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.True(t, cfg.Webhooks.VerifySignature)
	assert.Equal(t, 300*time.Second, cfg.Webhooks.SignatureTolerance)
	assert.Equal(t, time.Minute, cfg.Queue.PollInterval)
	assert.Equal(t, "memory", cfg.RateLimit.Store)
	assert.Equal(t, 160, cfg.Channels.SMS.MaxLength)
	assert.NotEmpty(t, cfg.Queue.WorkerID)
}

func TestLoad_FileAndEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := []byte(`
webhooks:
  verify_signature: true
  default_rate_limit: 10
queue:
  batch_size: 7
  worker_id: worker-a
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))
	t.Setenv("WEBHOOKS_VERIFY_SIGNATURE", "false")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.False(t, cfg.Webhooks.VerifySignature)
	assert.Equal(t, 10, cfg.Webhooks.DefaultRateLimit)
	assert.Equal(t, 7, cfg.Queue.BatchSize)
	assert.Equal(t, "worker-a", cfg.Queue.WorkerID)
}
