package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/swarmguard/coordination/internal/coordination/balancer"
	"github.com/swarmguard/coordination/internal/coordination/events"
	"github.com/swarmguard/coordination/internal/coordination/executor"
	"github.com/swarmguard/coordination/internal/coordination/hive"
	"github.com/swarmguard/coordination/internal/coordination/persistence"
	"github.com/swarmguard/coordination/internal/coordination/types"
)

// Config tunes the Workflow Orchestrator.
type Config struct {
	MaxConcurrentWorkflows int
	CheckpointInterval     time.Duration
	DefaultTaskTimeout     time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxConcurrentWorkflows: 20,
		CheckpointInterval:     30 * time.Second,
		DefaultTaskTimeout:     5 * time.Minute,
	}
}

type tracked struct {
	exec   *Execution
	wf     Workflow
	cancel context.CancelFunc
}

// Orchestrator executes Workflows on top of the Background Executor, Load
// Balancer, and Hive (spec §4.7). It composes those components rather than
// extending a shared base type (spec Design Notes §9 "flatten
// orchestrator-extends-scheduler inheritance").
type Orchestrator struct {
	cfg   Config
	bus   *events.Bus
	store *persistence.Store
	exec  *executor.Executor
	bal   *balancer.Balancer
	hv    *hive.Hive
	cond  *ConditionEvaluator

	mu     sync.Mutex
	active map[string]*tracked
}

func New(cfg Config, bus *events.Bus, store *persistence.Store, exec *executor.Executor, bal *balancer.Balancer, hv *hive.Hive) (*Orchestrator, error) {
	cond, err := NewConditionEvaluator()
	if err != nil {
		return nil, err
	}
	return &Orchestrator{
		cfg:    cfg,
		bus:    bus,
		store:  store,
		exec:   exec,
		bal:    bal,
		hv:     hv,
		cond:   cond,
		active: make(map[string]*tracked),
	}, nil
}

// ExecuteWorkflow validates and runs wf to completion, blocking until the
// execution reaches a terminal status. Concurrency is capped at
// MaxConcurrentWorkflows (spec §4.7 "Concurrency cap").
func (o *Orchestrator) ExecuteWorkflow(ctx context.Context, wf Workflow) (*Execution, error) {
	if err := Validate(wf); err != nil {
		return nil, err
	}

	o.mu.Lock()
	if len(o.active) >= o.cfg.MaxConcurrentWorkflows {
		o.mu.Unlock()
		return nil, types.ErrCapacityExceeded
	}
	execCtx, cancel := context.WithCancel(ctx)
	exec := newExecution(uuid.NewString(), wf.ID, wf.Variables)
	t := &tracked{exec: exec, wf: wf, cancel: cancel}
	o.active[exec.ID] = t
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		delete(o.active, exec.ID)
		o.mu.Unlock()
		cancel()
	}()

	exec.setStatus(StatusRunning)
	o.publish(events.WorkflowStarted, exec.ID)

	if o.store != nil && o.cfg.CheckpointInterval > 0 {
		stopCheckpoint := make(chan struct{})
		defer close(stopCheckpoint)
		go o.runCheckpointing(execCtx, exec, stopCheckpoint)
	}

	var err error
	if wf.Strategy == Consensus {
		err = o.executeConsensus(execCtx, wf, exec)
	} else {
		err = o.executeGraph(execCtx, wf, exec)
	}

	switch {
	case execCtx.Err() != nil && ctx.Err() == nil:
		// Only Cancel cancels execCtx while the run is in flight; it has
		// already published WorkflowCancelled, so keep the status cancelled.
		exec.setStatus(StatusCancelled)
	case err != nil:
		exec.setStatus(StatusFailed)
		o.publish(events.WorkflowFailed, exec.ID)
	default:
		exec.setStatus(StatusCompleted)
		o.publish(events.WorkflowCompleted, exec.ID)
	}
	if o.store != nil {
		o.store.PutExecution(wf.ID, exec.ID, exec.snapshot())
	}
	return exec, err
}

// Cancel transitions a running execution to cancelled and terminates its
// in-flight subtasks by cancelling its context (spec §4.7 "Cancel also
// terminates all in-flight subtasks").
func (o *Orchestrator) Cancel(executionID string) error {
	o.mu.Lock()
	t, ok := o.active[executionID]
	o.mu.Unlock()
	if !ok {
		return fmt.Errorf("workflow execution not found or already terminal: %s", executionID)
	}
	t.cancel()
	t.exec.setStatus(StatusCancelled)
	o.publish(events.WorkflowCancelled, executionID)
	return nil
}

// Pause blocks new task dispatch on executionID until Resume is called.
func (o *Orchestrator) Pause(executionID string) error {
	o.mu.Lock()
	t, ok := o.active[executionID]
	o.mu.Unlock()
	if !ok {
		return fmt.Errorf("workflow execution not found or already terminal: %s", executionID)
	}
	t.exec.pause()
	o.publish(events.WorkflowPaused, executionID)
	return nil
}

func (o *Orchestrator) Resume(executionID string) error {
	o.mu.Lock()
	t, ok := o.active[executionID]
	o.mu.Unlock()
	if !ok {
		return fmt.Errorf("workflow execution not found or already terminal: %s", executionID)
	}
	t.exec.resume()
	o.publish(events.WorkflowResumed, executionID)
	return nil
}

// Progress returns the live progress snapshot for a running execution.
func (o *Orchestrator) Progress(executionID string) (Progress, bool) {
	o.mu.Lock()
	t, ok := o.active[executionID]
	o.mu.Unlock()
	if !ok {
		return Progress{}, false
	}
	return t.exec.Progress(len(t.wf.Tasks)), true
}

func (o *Orchestrator) runCheckpointing(ctx context.Context, exec *Execution, stop <-chan struct{}) {
	ticker := time.NewTicker(o.cfg.CheckpointInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			cp := exec.snapshot()
			if err := o.store.PutCheckpoint(exec.WorkflowID, len(cp.Completed)+len(cp.Failed), cp); err == nil {
				o.publish(events.WorkflowCheckpoint, exec.ID)
			}
		}
	}
}

// RecoverFromCheckpoint restores the latest persisted checkpoint for a
// workflow into a fresh Execution, re-queuing anything recorded as
// "running" at checkpoint time (spec §4.7 recovery rule).
func (o *Orchestrator) RecoverFromCheckpoint(wf Workflow) (*Execution, bool, error) {
	if o.store == nil {
		return nil, false, nil
	}
	var cp Checkpoint
	found, err := o.store.LatestCheckpoint(wf.ID, &cp)
	if err != nil || !found {
		return nil, found, err
	}
	exec := newExecution(cp.ExecutionID, wf.ID, cp.Variables)
	exec.restore(cp)
	return exec, true, nil
}

func (o *Orchestrator) publish(topic events.Topic, executionID string) {
	if o.bus == nil {
		return
	}
	o.bus.Publish(context.Background(), topic, executionID)
}
