// Package config provides environment-based configuration for shortsd.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all shortsd configuration values loaded from environment
// variables. There is no config file — env-var-only, matching the teacher.
type Config struct {
	// QueueRoot is the root of the work-queue directory tree (§6.5).
	QueueRoot string

	// RunsRoot is the root under which per-run workspaces are created (§6.4).
	RunsRoot string

	// StaleLeaseAge is how old a processing/ item's heartbeat must be before
	// reap_stale_leases reclaims it (default 300s, §4.1).
	StaleLeaseAge time.Duration

	// HeartbeatInterval is how often the active consumer refreshes the lock
	// file's heartbeat while a run is in flight (§4.1).
	HeartbeatInterval time.Duration

	// ReflectionMaxAttempts bounds the generator-critic loop (§4.7, default 3).
	ReflectionMaxAttempts int

	// ReflectionFloor is loaded from the environment (default 70) but no
	// component reads it: the reflection loop uses a stage descriptor's
	// QAFloor, or reflection.DefaultFloor when that is unset.
	ReflectionFloor int

	// RecoveryMaxRetries bounds level-1 retry before advancing the ladder
	// (§4.9, default 2).
	RecoveryMaxRetries int

	// HookInterJobDelay paces FireAsyncAssetGen submissions (§4.8, default 5s).
	HookInterJobDelay time.Duration

	// HookAwaitTimeout is loaded from the environment but not applied:
	// AwaitAsyncAssetGen waits until every task finishes or its context is
	// cancelled.
	HookAwaitTimeout time.Duration

	// ObjectStoreInlineLimitBytes is the messenger's inline file size ceiling
	// above which ObjectStore.Upload is used instead (§6.1, default 50MB).
	ObjectStoreInlineLimitBytes int64

	// MemoryEnvelopeBytes and CPUQuotaPercent describe the resource envelope
	// (§5). They are loaded but not read: no component samples a
	// ResourceProbe against them.
	MemoryEnvelopeBytes int64
	CPUQuotaPercent     float64

	// LogLevel controls the verbosity of structured logging.
	LogLevel string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		QueueRoot:                   getEnv("SHORTSD_QUEUE_ROOT", "./data/queue"),
		RunsRoot:                    getEnv("SHORTSD_RUNS_ROOT", "./data/runs"),
		StaleLeaseAge:               getEnvDuration("SHORTSD_STALE_LEASE_AGE", 300*time.Second),
		HeartbeatInterval:           getEnvDuration("SHORTSD_HEARTBEAT_INTERVAL", 30*time.Second),
		ReflectionMaxAttempts:       getEnvInt("SHORTSD_REFLECTION_MAX_ATTEMPTS", 3),
		ReflectionFloor:             getEnvInt("SHORTSD_REFLECTION_FLOOR", 70),
		RecoveryMaxRetries:          getEnvInt("SHORTSD_RECOVERY_MAX_RETRIES", 2),
		HookInterJobDelay:           getEnvDuration("SHORTSD_HOOK_INTER_JOB_DELAY", 5*time.Second),
		HookAwaitTimeout:            getEnvDuration("SHORTSD_HOOK_AWAIT_TIMEOUT", 20*time.Minute),
		ObjectStoreInlineLimitBytes: getEnvInt64("SHORTSD_OBJECT_STORE_INLINE_LIMIT", 50*1024*1024),
		MemoryEnvelopeBytes:         getEnvInt64("SHORTSD_MEMORY_ENVELOPE_BYTES", 3<<30),
		CPUQuotaPercent:             getEnvFloat("SHORTSD_CPU_QUOTA_PERCENT", 80),
		LogLevel:                    getEnv("LOG_LEVEL", "info"),
	}
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if val, ok := os.LookupEnv(key); ok {
		if n, err := strconv.ParseInt(val, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if val, ok := os.LookupEnv(key); ok {
		if n, err := strconv.ParseFloat(val, 64); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if val, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return fallback
}
