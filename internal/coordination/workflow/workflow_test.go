package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/swarmguard/coordination/internal/coordination/balancer"
	"github.com/swarmguard/coordination/internal/coordination/events"
	"github.com/swarmguard/coordination/internal/coordination/executor"
	"github.com/swarmguard/coordination/internal/coordination/hive"
	"github.com/swarmguard/coordination/internal/coordination/types"
)

func testOrchestrator(t *testing.T) (*Orchestrator, *events.Bus) {
	t.Helper()
	bus := events.NewBus()

	execCfg := executor.DefaultConfig()
	execCfg.PersistenceEnabled = false
	execCfg.HealthSweepInterval = 10 * time.Millisecond
	ex := executor.New(execCfg, bus, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go ex.Run(ctx)
	t.Cleanup(cancel)

	bal := balancer.New(balancer.DefaultConfig(), bus)
	bal.RegisterAgent(&types.Agent{
		ID: "a", MaxConcurrentTasks: 5, Status: types.AgentAvailable,
		Capabilities: types.NewCapabilitySet("coding"),
	})

	hv := hive.New(bus)
	hv.UpdateAgent(hive.AgentView{ID: "a", SuccessRate: 0.9, Reliability: 0.9, Capabilities: types.NewCapabilitySet("coding")})

	cfg := DefaultConfig()
	cfg.CheckpointInterval = 0
	o, err := New(cfg, bus, nil, ex, bal, hv)
	require.NoError(t, err)
	return o, bus
}

func sh(script string) TaskDef {
	return TaskDef{Command: "sh", Args: []string{"-c", script}}
}

func TestValidateRejectsCycle(t *testing.T) {
	wf := Workflow{
		ID: "w1",
		Tasks: []TaskDef{
			{ID: "a", Kind: KindAtomic, TaskType: "build", DependsOn: []string{"b"}},
			{ID: "b", Kind: KindAtomic, TaskType: "build", DependsOn: []string{"a"}},
		},
	}
	err := Validate(wf)
	require.Error(t, err)
}

func TestExecuteWorkflowSequentialOrder(t *testing.T) {
	o, _ := testOrchestrator(t)

	t1 := sh("echo one")
	t1.ID, t1.Kind, t1.TaskType = "t1", KindAtomic, "build"
	t2 := sh("echo two")
	t2.ID, t2.Kind, t2.TaskType, t2.DependsOn = "t2", KindAtomic, "build", []string{"t1"}
	t3 := sh("echo three")
	t3.ID, t3.Kind, t3.TaskType, t3.DependsOn = "t3", KindAtomic, "build", []string{"t2"}

	wf := Workflow{ID: "seq", Strategy: Sequential, Tasks: []TaskDef{t1, t2, t3}}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	exec, err := o.ExecuteWorkflow(ctx, wf)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, exec.Status())
	require.True(t, exec.isDone("t1"))
	require.True(t, exec.isDone("t2"))
	require.True(t, exec.isDone("t3"))
}

func TestExecuteWorkflowConditionalSkipsWhenGuardFalse(t *testing.T) {
	o, _ := testOrchestrator(t)

	def := sh("echo should-not-run")
	def.ID, def.Kind, def.TaskType = "guarded", KindConditional, "build"
	def.Conditions = []string{"vars.enabled == true"}

	wf := Workflow{ID: "cond", Tasks: []TaskDef{def}, Variables: map[string]interface{}{"enabled": false}}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	exec, err := o.ExecuteWorkflow(ctx, wf)
	require.NoError(t, err)
	result, ok := exec.result("guarded")
	require.True(t, ok)
	require.Equal(t, "skipped", result)
}

func TestExecuteWorkflowLoopIterates(t *testing.T) {
	o, _ := testOrchestrator(t)

	inner := sh("echo tick")
	inner.ID, inner.Kind, inner.TaskType = "tick", KindAtomic, "build"

	loopDef := TaskDef{
		ID: "loop", Kind: KindLoop, TaskType: "control",
		LoopTaskID: "tick", MaxIterations: 3,
	}

	wf := Workflow{ID: "loopy", Tasks: []TaskDef{inner, loopDef}}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	exec, err := o.ExecuteWorkflow(ctx, wf)
	require.NoError(t, err)
	result, ok := exec.result("loop")
	require.True(t, ok)
	require.Len(t, result.([]interface{}), 3)
}

func TestExecuteWorkflowForkJoin(t *testing.T) {
	o, _ := testOrchestrator(t)

	f1 := sh("echo f1")
	f1.ID, f1.Kind, f1.TaskType = "f1", KindFork, "build"
	f2 := sh("echo f2")
	f2.ID, f2.Kind, f2.TaskType = "f2", KindFork, "build"
	join := TaskDef{ID: "j", Kind: KindJoin, TaskType: "join", DependsOn: []string{"f1", "f2"}}

	wf := Workflow{ID: "forkjoin", Strategy: ForkJoin, Tasks: []TaskDef{f1, f2, join}}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	exec, err := o.ExecuteWorkflow(ctx, wf)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, exec.Status())

	joined, ok := exec.result("j")
	require.True(t, ok)
	gathered := joined.(map[string]interface{})
	require.Contains(t, gathered, "f1")
	require.Contains(t, gathered, "f2")
}

func TestExecuteWorkflowCapacityExceeded(t *testing.T) {
	o, _ := testOrchestrator(t)
	o.cfg.MaxConcurrentWorkflows = 1

	slow := sh("sleep 1")
	slow.ID, slow.Kind, slow.TaskType = "slow", KindAtomic, "build"
	wf := Workflow{ID: "slowwf", Tasks: []TaskDef{slow}}

	ctx := context.Background()
	done := make(chan struct{})
	go func() {
		o.ExecuteWorkflow(ctx, wf)
		close(done)
	}()

	require.Eventually(t, func() bool {
		o.mu.Lock()
		n := len(o.active)
		o.mu.Unlock()
		return n == 1
	}, time.Second, 5*time.Millisecond)

	wf2 := Workflow{ID: "slowwf2", Tasks: []TaskDef{slow}}
	_, err := o.ExecuteWorkflow(ctx, wf2)
	require.ErrorIs(t, err, types.ErrCapacityExceeded)

	<-done
}

func TestPauseBlocksDispatchUntilResume(t *testing.T) {
	o, _ := testOrchestrator(t)

	t1 := sh("echo first")
	t1.ID, t1.Kind, t1.TaskType = "t1", KindAtomic, "build"
	t2 := sh("echo second")
	t2.ID, t2.Kind, t2.TaskType, t2.DependsOn = "t2", KindAtomic, "build", []string{"t1"}

	wf := Workflow{ID: "pausable", Tasks: []TaskDef{t1, t2}}

	ctx := context.Background()
	resultCh := make(chan error, 1)
	var execID string
	go func() {
		exec, err := o.ExecuteWorkflow(ctx, wf)
		if exec != nil {
			execID = exec.ID
		}
		resultCh <- err
	}()

	require.Eventually(t, func() bool {
		o.mu.Lock()
		n := len(o.active)
		o.mu.Unlock()
		return n == 1
	}, time.Second, 5*time.Millisecond)

	o.mu.Lock()
	var id string
	for k := range o.active {
		id = k
	}
	o.mu.Unlock()

	require.NoError(t, o.Pause(id))
	require.NoError(t, o.Resume(id))

	select {
	case err := <-resultCh:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("workflow did not complete after resume")
	}
	_ = execID
}
