// Package config loads the single merged runtime Config (spec §6) that
// cmd/coordinatord wires into every package below it. Defaults follow the
// teacher's getEnvDefault env-override convention rather than a config
// library: the teacher never reaches for viper, so neither do we.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/swarmguard/coordination/internal/coordination/balancer"
	"github.com/swarmguard/coordination/internal/coordination/breaker"
	"github.com/swarmguard/coordination/internal/coordination/executor"
	"github.com/swarmguard/coordination/internal/coordination/scheduler"
	"github.com/swarmguard/coordination/internal/coordination/workflow"
)

// ResourceLimits bounds a single task's resource envelope (spec §6
// resourceLimits).
type ResourceLimits struct {
	MemoryBytes int64
	CPUCores    float64
	DiskBytes   int64
}

// Config is the merged runtime configuration recognized by the
// coordination daemon (spec §6).
type Config struct {
	MaxConcurrentTasks int
	DefaultTimeout     time.Duration
	RetryAttempts      int
	RetryBackoffBase   float64
	RetryBackoffMax    time.Duration
	ResourceLimits     ResourceLimits

	MaxQueueSize      int
	PersistenceDir    string
	EnablePersistence bool

	HealthCheckInterval time.Duration
	RebalanceInterval   time.Duration
	PredictionWindow    time.Duration

	CheckpointInterval time.Duration
	KillTimeout        time.Duration
	CleanupInterval    time.Duration

	ConsensusThreshold    float64
	MaxDecompositionDepth int

	EnableCircuitBreaker     bool
	EnableWorkStealing       bool
	EnableCheckpointing      bool
	EnableTopologyAwareness  bool
}

// Default returns the coordination daemon's out-of-the-box configuration.
func Default() Config {
	return Config{
		MaxConcurrentTasks: 10,
		DefaultTimeout:      30 * time.Second,
		RetryAttempts:       3,
		RetryBackoffBase:    2,
		RetryBackoffMax:     60 * time.Second,
		ResourceLimits: ResourceLimits{
			MemoryBytes: 512 << 20,
			CPUCores:    1,
			DiskBytes:   1 << 30,
		},
		MaxQueueSize:      1000,
		PersistenceDir:    "./data",
		EnablePersistence: true,

		HealthCheckInterval: 15 * time.Second,
		RebalanceInterval:   30 * time.Second,
		PredictionWindow:    10 * time.Second,

		CheckpointInterval: 30 * time.Second,
		KillTimeout:        5 * time.Second,
		CleanupInterval:    time.Minute,

		ConsensusThreshold:    0.5,
		MaxDecompositionDepth: 5,

		EnableCircuitBreaker:    true,
		EnableWorkStealing:      true,
		EnableCheckpointing:     true,
		EnableTopologyAwareness: true,
	}
}

// Load starts from Default and overlays any SWARMGUARD_* environment
// variables that are set, following the teacher's getEnvDefault pattern.
func Load() Config {
	cfg := Default()

	cfg.MaxConcurrentTasks = envInt("SWARMGUARD_MAX_CONCURRENT_TASKS", cfg.MaxConcurrentTasks)
	cfg.DefaultTimeout = envDuration("SWARMGUARD_DEFAULT_TIMEOUT", cfg.DefaultTimeout)
	cfg.RetryAttempts = envInt("SWARMGUARD_RETRY_ATTEMPTS", cfg.RetryAttempts)
	cfg.RetryBackoffBase = envFloat("SWARMGUARD_RETRY_BACKOFF_BASE", cfg.RetryBackoffBase)
	cfg.RetryBackoffMax = envDuration("SWARMGUARD_RETRY_BACKOFF_MAX", cfg.RetryBackoffMax)
	cfg.ResourceLimits.MemoryBytes = envInt64("SWARMGUARD_RESOURCE_MEMORY_BYTES", cfg.ResourceLimits.MemoryBytes)
	cfg.ResourceLimits.CPUCores = envFloat("SWARMGUARD_RESOURCE_CPU_CORES", cfg.ResourceLimits.CPUCores)
	cfg.ResourceLimits.DiskBytes = envInt64("SWARMGUARD_RESOURCE_DISK_BYTES", cfg.ResourceLimits.DiskBytes)

	cfg.MaxQueueSize = envInt("SWARMGUARD_MAX_QUEUE_SIZE", cfg.MaxQueueSize)
	cfg.PersistenceDir = envString("SWARMGUARD_PERSISTENCE_DIR", cfg.PersistenceDir)
	cfg.EnablePersistence = envBool("SWARMGUARD_ENABLE_PERSISTENCE", cfg.EnablePersistence)

	cfg.HealthCheckInterval = envDuration("SWARMGUARD_HEALTH_CHECK_INTERVAL", cfg.HealthCheckInterval)
	cfg.RebalanceInterval = envDuration("SWARMGUARD_REBALANCE_INTERVAL", cfg.RebalanceInterval)
	cfg.PredictionWindow = envDuration("SWARMGUARD_PREDICTION_WINDOW", cfg.PredictionWindow)

	cfg.CheckpointInterval = envDuration("SWARMGUARD_CHECKPOINT_INTERVAL", cfg.CheckpointInterval)
	cfg.KillTimeout = envDuration("SWARMGUARD_KILL_TIMEOUT", cfg.KillTimeout)
	cfg.CleanupInterval = envDuration("SWARMGUARD_CLEANUP_INTERVAL", cfg.CleanupInterval)

	cfg.ConsensusThreshold = envFloat("SWARMGUARD_CONSENSUS_THRESHOLD", cfg.ConsensusThreshold)
	cfg.MaxDecompositionDepth = envInt("SWARMGUARD_MAX_DECOMPOSITION_DEPTH", cfg.MaxDecompositionDepth)

	cfg.EnableCircuitBreaker = envBool("SWARMGUARD_ENABLE_CIRCUIT_BREAKER", cfg.EnableCircuitBreaker)
	cfg.EnableWorkStealing = envBool("SWARMGUARD_ENABLE_WORK_STEALING", cfg.EnableWorkStealing)
	cfg.EnableCheckpointing = envBool("SWARMGUARD_ENABLE_CHECKPOINTING", cfg.EnableCheckpointing)
	cfg.EnableTopologyAwareness = envBool("SWARMGUARD_ENABLE_TOPOLOGY_AWARENESS", cfg.EnableTopologyAwareness)

	return cfg
}

// ExecutorConfig projects Config onto the Background Executor's Config.
func (c Config) ExecutorConfig() executor.Config {
	cfg := executor.DefaultConfig()
	cfg.MaxQueueSize = c.MaxQueueSize
	cfg.MaxConcurrentTasks = c.MaxConcurrentTasks
	cfg.RetryBackoffBase = c.RetryBackoffBase
	cfg.RetryBackoffMax = c.RetryBackoffMax
	cfg.PersistenceEnabled = c.EnablePersistence
	return cfg
}

// BalancerConfig projects Config onto the Load Balancer's Config.
func (c Config) BalancerConfig() balancer.Config {
	cfg := balancer.DefaultConfig()
	cfg.HealthCheckInterval = c.HealthCheckInterval
	cfg.RebalanceInterval = c.RebalanceInterval
	cfg.PredictionWindow = c.PredictionWindow
	cfg.PredictionsEnabled = c.EnableTopologyAwareness
	return cfg
}

// SchedulerConfig projects Config onto the Scheduler's Config.
func (c Config) SchedulerConfig() scheduler.Config {
	cfg := scheduler.Config{
		DefaultStrategy: scheduler.CapabilityWeighted,
		MaxRetries:      c.RetryAttempts,
	}
	if c.EnableWorkStealing {
		cfg.StealInterval = 2 * time.Second
		cfg.StealThreshold = 2
		cfg.MaxStealBatch = 3
	}
	return cfg
}

// BreakerConfig projects Config onto the Circuit Breaker's Config.
func (c Config) BreakerConfig() breaker.Config {
	return breaker.Config{
		FailureThreshold: c.RetryAttempts + 2,
		SuccessThreshold: 2,
		Timeout:          c.RetryBackoffMax,
		HalfOpenLimit:    1,
	}
}

// WorkflowConfig projects Config onto the Workflow Orchestrator's Config.
func (c Config) WorkflowConfig() workflow.Config {
	cfg := workflow.DefaultConfig()
	cfg.DefaultTaskTimeout = c.DefaultTimeout
	if c.EnableCheckpointing {
		cfg.CheckpointInterval = c.CheckpointInterval
	} else {
		cfg.CheckpointInterval = 0
	}
	return cfg
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envInt64(key string, def int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
