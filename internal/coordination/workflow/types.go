// Package workflow implements the Workflow Orchestrator (spec §4.7): it
// executes a user-defined Workflow — a {tasks, dependencies, conditions,
// loops, variables, strategy} blob — on top of the Hive, Load Balancer, and
// Background Executor, with checkpointing and cron/event triggers.
package workflow

import (
	"context"
	"sync"
	"time"

	"github.com/swarmguard/coordination/internal/coordination/hive"
	"github.com/swarmguard/coordination/internal/coordination/types"
)

// Strategy names a workflow execution strategy (spec §4.7).
type Strategy string

const (
	Sequential   Strategy = "sequential"
	Parallel     Strategy = "parallel"
	Adaptive     Strategy = "adaptive"
	Consensus    Strategy = "consensus"
	Pipeline     Strategy = "pipeline"
	Conditional  Strategy = "conditional"
	Loop         Strategy = "loop"
	ForkJoin     Strategy = "fork-join"
	MapReduce    Strategy = "map-reduce"
	EventDriven  Strategy = "event-driven"
)

// TaskKind names a workflow task's execution shape (spec §4.7 "per-task
// execution path").
type TaskKind string

const (
	KindAtomic      TaskKind = "atomic"
	KindComposite   TaskKind = "composite"
	KindConditional TaskKind = "conditional"
	KindLoop        TaskKind = "loop"
	KindFork        TaskKind = "fork"
	KindJoin        TaskKind = "join"
)

// TaskDef is one task entry in a Workflow definition.
type TaskDef struct {
	ID            string
	Kind          TaskKind
	TaskType      string // domain type passed through to the executor/scheduler
	DependsOn     []string
	Requirements  types.CapabilitySet
	Priority      types.Priority

	// atomic
	Command string
	Args    []string

	// conditional: guard is the conjunction of these CEL expressions
	// evaluated against the execution's variables.
	Conditions []string

	// loop
	LoopTaskID    string
	MaxIterations int

	// fork/join
	Branches []string // task ids belonging to this fork/join group

	// composite: decomposed and run via the Hive orchestrator
	Subtasks []hive.Subtask

	// event-driven
	TriggerEvent string
}

// Workflow is a user-defined composite plan (spec §4.7, Glossary).
type Workflow struct {
	ID        string
	Name      string
	Strategy  Strategy
	Tasks     []TaskDef
	Variables map[string]interface{}
	CreatedAt time.Time
}

// Status is the lifecycle state of one WorkflowExecution.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Progress is the spec §4.7 progress/metrics shape.
type Progress struct {
	TotalTasks            int
	CompletedTasks        int
	FailedTasks           int
	RunningTasks          int
	PendingTasks          int
	Percentage            float64
	EstimatedTimeRemaining time.Duration
}

// Execution is the live/terminal state of one workflow run.
type Execution struct {
	ID         string
	WorkflowID string

	mu        sync.Mutex
	status    Status
	completed map[string]bool
	failed    map[string]bool
	running   map[string]bool
	results   map[string]interface{}
	variables map[string]interface{}

	taskDurations map[string]time.Duration
	startedAt     time.Time
	updatedAt     time.Time

	cancel    func()
	pauseGate chan struct{} // non-nil and open while paused; closed on resume
}

func newExecution(id, workflowID string, variables map[string]interface{}) *Execution {
	vars := make(map[string]interface{}, len(variables))
	for k, v := range variables {
		vars[k] = v
	}
	return &Execution{
		ID:            id,
		WorkflowID:    workflowID,
		status:        StatusPending,
		completed:     make(map[string]bool),
		failed:        make(map[string]bool),
		running:       make(map[string]bool),
		results:       make(map[string]interface{}),
		variables:     vars,
		taskDurations: make(map[string]time.Duration),
		startedAt:     time.Now(),
		updatedAt:     time.Now(),
	}
}

func (e *Execution) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

func (e *Execution) setStatus(s Status) {
	e.mu.Lock()
	e.status = s
	e.updatedAt = time.Now()
	e.mu.Unlock()
}

func (e *Execution) markRunning(taskID string) {
	e.mu.Lock()
	e.running[taskID] = true
	e.updatedAt = time.Now()
	e.mu.Unlock()
}

func (e *Execution) markDone(taskID string, success bool, result interface{}, dur time.Duration) {
	e.mu.Lock()
	delete(e.running, taskID)
	if success {
		e.completed[taskID] = true
		e.results[taskID] = result
	} else {
		e.failed[taskID] = true
	}
	e.taskDurations[taskID] = dur
	e.updatedAt = time.Now()
	e.mu.Unlock()
}

func (e *Execution) isDone(taskID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.completed[taskID] || e.failed[taskID]
}

func (e *Execution) dependenciesSatisfied(def TaskDef) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, dep := range def.DependsOn {
		if !e.completed[dep] {
			return false
		}
	}
	return true
}

func (e *Execution) result(taskID string) (interface{}, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.results[taskID]
	return v, ok
}

// Variables returns a copy of the execution's variable bindings, for
// condition evaluation.
func (e *Execution) Variables() map[string]interface{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	return cloneVars(e.variables)
}

// pause installs an open gate that blocks new task dispatch until resume
// closes it.
func (e *Execution) pause() {
	e.mu.Lock()
	if e.pauseGate == nil {
		e.pauseGate = make(chan struct{})
	}
	e.status = StatusPaused
	e.mu.Unlock()
}

func (e *Execution) resume() {
	e.mu.Lock()
	if e.pauseGate != nil {
		close(e.pauseGate)
		e.pauseGate = nil
	}
	e.status = StatusRunning
	e.mu.Unlock()
}

// awaitUnpaused blocks while the execution is paused.
func (e *Execution) awaitUnpaused(ctx context.Context) {
	for {
		e.mu.Lock()
		gate := e.pauseGate
		e.mu.Unlock()
		if gate == nil {
			return
		}
		select {
		case <-gate:
		case <-ctx.Done():
			return
		}
	}
}

// Progress computes the spec §4.7 progress snapshot against total.
func (e *Execution) Progress(total int) Progress {
	e.mu.Lock()
	defer e.mu.Unlock()

	completed := len(e.completed)
	failed := len(e.failed)
	running := len(e.running)
	pending := total - completed - failed - running
	if pending < 0 {
		pending = 0
	}

	var percentage float64
	if total > 0 {
		percentage = float64(completed+failed) / float64(total) * 100
	}

	var avg time.Duration
	if len(e.taskDurations) > 0 {
		var sum time.Duration
		for _, d := range e.taskDurations {
			sum += d
		}
		avg = sum / time.Duration(len(e.taskDurations))
	}
	remaining := time.Duration(pending) * avg

	return Progress{
		TotalTasks:             total,
		CompletedTasks:         completed,
		FailedTasks:            failed,
		RunningTasks:           running,
		PendingTasks:           pending,
		Percentage:             percentage,
		EstimatedTimeRemaining: remaining,
	}
}

// Checkpoint is the persisted snapshot spec §4.7 checkpointing describes.
type Checkpoint struct {
	ExecutionID string
	WorkflowID  string
	Completed   map[string]bool
	Failed      map[string]bool
	Running     map[string]bool
	Variables   map[string]interface{}
	Timestamp   time.Time
}

func (e *Execution) snapshot() Checkpoint {
	e.mu.Lock()
	defer e.mu.Unlock()
	cp := Checkpoint{
		ExecutionID: e.ID,
		WorkflowID:  e.WorkflowID,
		Completed:   cloneSet(e.completed),
		Failed:      cloneSet(e.failed),
		Running:     cloneSet(e.running),
		Variables:   cloneVars(e.variables),
		Timestamp:   time.Now(),
	}
	return cp
}

func (e *Execution) restore(cp Checkpoint) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.completed = cloneSet(cp.Completed)
	e.failed = cloneSet(cp.Failed)
	// Tasks recorded as running at checkpoint time are re-queued, not
	// resumed in place (spec §4.7 recovery rule).
	e.running = make(map[string]bool)
	e.variables = cloneVars(cp.Variables)
}

func cloneSet(m map[string]bool) map[string]bool {
	out := make(map[string]bool, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneVars(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
