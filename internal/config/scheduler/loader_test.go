package scheduler_config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, cfg.Sched.Tick)
	assert.Equal(t, 100, cfg.Sched.BatchLimit)
	assert.Equal(t, time.Duration(0), cfg.Sched.LateTolerance)
	assert.Equal(t, 90*time.Second, cfg.Dispatch.Timeout)
	assert.Equal(t, time.Hour, cfg.Prune.Every)
	assert.False(t, cfg.Kafka.Enable)
	assert.Equal(t, "scheduler", cfg.App.Name)
	assert.Equal(t, 5, cfg.Outbox.MaxDeliveries)
	assert.Equal(t, "Beacon/1.0", cfg.HTTP.UserAgent)
	assert.True(t, cfg.HTTP.VerifiesTLS())
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scheduler.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
sched:
  tick: 5s
  late_tolerance: 2m
dispatch:
  enrich: false
smtp:
  addr: mail.example.com:587
http:
  verify_tls: false
`), 0o600))
	t.Setenv("SCHED_WORKERS", "3")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, cfg.Sched.Tick)
	assert.Equal(t, 2*time.Minute, cfg.Sched.LateTolerance)
	assert.Equal(t, 3, cfg.Sched.Workers)
	assert.False(t, cfg.Dispatch.Enrich)
	assert.Equal(t, "mail.example.com:587", cfg.SMTP.Addr)
	assert.False(t, cfg.HTTP.VerifiesTLS())
}

func TestLoad_Invalid(t *testing.T) {
	t.Setenv("SCHED_TICK", "0s")
	_, err := Load("")
	assert.ErrorContains(t, err, "sched.tick")
}

func TestValidate_KafkaNeedsTopic(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	cfg.Kafka.Enable = true
	cfg.Kafka.Topic = ""
	assert.Error(t, cfg.Validate())
}
