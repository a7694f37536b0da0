// Package config loads the control plane's environment-driven
// configuration once at process start, the way the teacher's
// internal/app.LoadConfig does.
package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/neurobridge-labs/reelforge/internal/platform/envutil"
	"github.com/neurobridge-labs/reelforge/internal/platform/logger"
)

type Config struct {
	// Database
	DatabaseURL string

	// Job control plane
	MaxConcurrentJobsPerProject int
	MaxParallelJobs             int
	DefaultMaxRetries           int
	ExecutionMode               string // SEQUENTIAL | PARALLEL

	// Lock manager
	LockTTL             time.Duration
	HeartbeatInterval   time.Duration
	LockSweepInterval   time.Duration

	// Monitor
	MonitorFrequency    time.Duration
	StaleJobDeadline    time.Duration

	// Circuit breaker
	CircuitMaxRequests      uint32
	CircuitInterval         time.Duration
	CircuitTimeout          time.Duration
	CircuitFailureThreshold uint32

	// Event bus
	EventBusAddr string

	// Object store (external collaborator; only a bucket name is needed here)
	ObjectStoreBucket string

	// HTTP
	HTTPPort string

	// Executor
	Executor         string // sql | temporal
	TemporalHostPort string
	TemporalTaskQueue string

	LogMode string
}

// yamlOverlay is the optional config.yaml shape (CONFIG_FILE env var).
// Only fields an operator plausibly wants to pin per-environment without
// redeploying are exposed here; everything else stays env-only. Zero
// values are "not set" and never override the env-derived default.
type yamlOverlay struct {
	ExecutionMode     string `yaml:"execution_mode"`
	LockTTL           string `yaml:"lock_ttl"`
	HeartbeatInterval string `yaml:"heartbeat_interval"`
	MonitorFrequency  string `yaml:"monitor_frequency"`
	Executor          string `yaml:"executor"`
}

// applyOverlay reads CONFIG_FILE (if set) and overrides cfg's fields with
// any non-zero values it finds. Grounded on the teacher's
// learning_build.yaml embed-and-unmarshal pattern
// (internal/jobs/pipeline/learning_build/spec.go), adapted from a
// compile-time embedded pipeline spec to a runtime-optional operator
// overlay file.
func applyOverlay(cfg *Config, log *logger.Logger) {
	path := envutil.String("CONFIG_FILE", "")
	if path == "" {
		return
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if log != nil {
			log.Warn("config overlay: read failed, ignoring", "path", path, "error", err)
		}
		return
	}
	var overlay yamlOverlay
	if err := yaml.Unmarshal(raw, &overlay); err != nil {
		if log != nil {
			log.Warn("config overlay: parse failed, ignoring", "path", path, "error", err)
		}
		return
	}
	if overlay.ExecutionMode != "" {
		cfg.ExecutionMode = overlay.ExecutionMode
	}
	if overlay.Executor != "" {
		cfg.Executor = overlay.Executor
	}
	if d, err := time.ParseDuration(overlay.LockTTL); err == nil {
		cfg.LockTTL = d
	}
	if d, err := time.ParseDuration(overlay.HeartbeatInterval); err == nil {
		cfg.HeartbeatInterval = d
	}
	if d, err := time.ParseDuration(overlay.MonitorFrequency); err == nil {
		cfg.MonitorFrequency = d
	}
}

func Load(log *logger.Logger) Config {
	cfg := Config{
		DatabaseURL: envutil.String("DATABASE_URL", "postgres://localhost:5432/reelforge?sslmode=disable"),

		MaxConcurrentJobsPerProject: envutil.Int("MAX_CONCURRENT_JOBS_PER_PROJECT", 10),
		MaxParallelJobs:             envutil.Int("MAX_PARALLEL_JOBS", 2),
		DefaultMaxRetries:           envutil.Int("MAX_RETRIES", 2),
		ExecutionMode:               envutil.String("EXECUTION_MODE", "SEQUENTIAL"),

		LockTTL:           envutil.Duration("LOCK_TTL", 60*time.Second),
		HeartbeatInterval: envutil.Duration("LOCK_HEARTBEAT_INTERVAL", 20*time.Second),
		LockSweepInterval: envutil.Duration("LOCK_SWEEP_INTERVAL", 30*time.Second),

		MonitorFrequency: envutil.Duration("MONITOR_FREQUENCY", 60*time.Second),
		StaleJobDeadline: envutil.Duration("STALE_JOB_DEADLINE", 10*time.Minute),

		CircuitMaxRequests:      uint32(envutil.Int("CIRCUIT_MAX_REQUESTS", 1)),
		CircuitInterval:         envutil.Duration("CIRCUIT_INTERVAL", 60*time.Second),
		CircuitTimeout:          envutil.Duration("CIRCUIT_TIMEOUT", 30*time.Second),
		CircuitFailureThreshold: uint32(envutil.Int("CIRCUIT_FAILURE_THRESHOLD", 5)),

		EventBusAddr:      envutil.String("EVENT_BUS_ADDR", "localhost:6379"),
		ObjectStoreBucket: envutil.String("OBJECT_STORE_BUCKET", ""),

		HTTPPort: envutil.String("PORT", "8080"),

		Executor:          envutil.String("EXECUTOR", "sql"),
		TemporalHostPort:  envutil.String("TEMPORAL_HOST_PORT", "localhost:7233"),
		TemporalTaskQueue: envutil.String("TEMPORAL_TASK_QUEUE", "reelforge-workflows"),

		LogMode: envutil.String("LOG_MODE", "development"),
	}
	applyOverlay(&cfg, log)
	if log != nil {
		log.Info("configuration loaded",
			"max_concurrent_jobs_per_project", cfg.MaxConcurrentJobsPerProject,
			"max_parallel_jobs", cfg.MaxParallelJobs,
			"execution_mode", cfg.ExecutionMode,
			"lock_ttl", cfg.LockTTL,
			"heartbeat_interval", cfg.HeartbeatInterval,
			"monitor_frequency", cfg.MonitorFrequency,
			"executor", cfg.Executor,
		)
	}
	return cfg
}
