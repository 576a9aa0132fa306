package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadUsesDefaultsWhenUnset(t *testing.T) {
	cfg := Load()
	assert.Equal(t, "./data/queue", cfg.QueueRoot)
	assert.Equal(t, "./data/runs", cfg.RunsRoot)
	assert.Equal(t, 300*time.Second, cfg.StaleLeaseAge)
	assert.Equal(t, 3, cfg.ReflectionMaxAttempts)
	assert.Equal(t, 70, cfg.ReflectionFloor)
	assert.Equal(t, 2, cfg.RecoveryMaxRetries)
	assert.Equal(t, int64(50*1024*1024), cfg.ObjectStoreInlineLimitBytes)
	assert.Equal(t, 80.0, cfg.CPUQuotaPercent)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadReadsOverridesFromEnv(t *testing.T) {
	t.Setenv("SHORTSD_QUEUE_ROOT", "/tmp/queue")
	t.Setenv("SHORTSD_REFLECTION_MAX_ATTEMPTS", "5")
	t.Setenv("SHORTSD_STALE_LEASE_AGE", "2m")
	t.Setenv("SHORTSD_CPU_QUOTA_PERCENT", "45.5")
	t.Setenv("LOG_LEVEL", "debug")

	cfg := Load()
	assert.Equal(t, "/tmp/queue", cfg.QueueRoot)
	assert.Equal(t, 5, cfg.ReflectionMaxAttempts)
	assert.Equal(t, 2*time.Minute, cfg.StaleLeaseAge)
	assert.Equal(t, 45.5, cfg.CPUQuotaPercent)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadFallsBackOnMalformedEnvValues(t *testing.T) {
	t.Setenv("SHORTSD_REFLECTION_MAX_ATTEMPTS", "not-a-number")
	t.Setenv("SHORTSD_STALE_LEASE_AGE", "not-a-duration")
	t.Setenv("SHORTSD_CPU_QUOTA_PERCENT", "not-a-float")
	t.Setenv("SHORTSD_OBJECT_STORE_INLINE_LIMIT", "not-an-int64")

	cfg := Load()
	assert.Equal(t, 3, cfg.ReflectionMaxAttempts)
	assert.Equal(t, 300*time.Second, cfg.StaleLeaseAge)
	assert.Equal(t, 80.0, cfg.CPUQuotaPercent)
	assert.Equal(t, int64(50*1024*1024), cfg.ObjectStoreInlineLimitBytes)
}
