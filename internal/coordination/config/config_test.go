package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultIsSane(t *testing.T) {
	cfg := Default()
	require.Greater(t, cfg.MaxConcurrentTasks, 0)
	require.Greater(t, cfg.MaxQueueSize, 0)
	require.True(t, cfg.EnableCircuitBreaker)
}

func TestLoadOverridesFromEnv(t *testing.T) {
	os.Setenv("SWARMGUARD_MAX_CONCURRENT_TASKS", "42")
	os.Setenv("SWARMGUARD_ENABLE_WORK_STEALING", "false")
	os.Setenv("SWARMGUARD_DEFAULT_TIMEOUT", "2m")
	t.Cleanup(func() {
		os.Unsetenv("SWARMGUARD_MAX_CONCURRENT_TASKS")
		os.Unsetenv("SWARMGUARD_ENABLE_WORK_STEALING")
		os.Unsetenv("SWARMGUARD_DEFAULT_TIMEOUT")
	})

	cfg := Load()
	require.Equal(t, 42, cfg.MaxConcurrentTasks)
	require.False(t, cfg.EnableWorkStealing)
	require.Equal(t, 2*time.Minute, cfg.DefaultTimeout)
}

func TestLoadIgnoresInvalidEnvValues(t *testing.T) {
	os.Setenv("SWARMGUARD_MAX_CONCURRENT_TASKS", "not-a-number")
	t.Cleanup(func() { os.Unsetenv("SWARMGUARD_MAX_CONCURRENT_TASKS") })

	cfg := Load()
	require.Equal(t, Default().MaxConcurrentTasks, cfg.MaxConcurrentTasks)
}

func TestProjections(t *testing.T) {
	cfg := Default()

	execCfg := cfg.ExecutorConfig()
	require.Equal(t, cfg.MaxConcurrentTasks, execCfg.MaxConcurrentTasks)

	balCfg := cfg.BalancerConfig()
	require.Equal(t, cfg.RebalanceInterval, balCfg.RebalanceInterval)

	schedCfg := cfg.SchedulerConfig()
	require.Equal(t, cfg.RetryAttempts, schedCfg.MaxRetries)

	wfCfg := cfg.WorkflowConfig()
	require.Equal(t, cfg.CheckpointInterval, wfCfg.CheckpointInterval)

	cfg.EnableCheckpointing = false
	wfCfg = cfg.WorkflowConfig()
	require.Equal(t, time.Duration(0), wfCfg.CheckpointInterval)
}
