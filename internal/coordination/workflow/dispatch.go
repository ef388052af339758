package workflow

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/swarmguard/coordination/internal/coordination/events"
	"github.com/swarmguard/coordination/internal/coordination/executor"
	"github.com/swarmguard/coordination/internal/coordination/graph"
	"github.com/swarmguard/coordination/internal/coordination/hive"
	"github.com/swarmguard/coordination/internal/coordination/types"
)

// executeGraph runs every task in wf to completion respecting declared
// dependencies, fanning out newly-ready tasks as their predecessors
// complete. fork-join and map-reduce strategies need no special-casing
// here: both are already expressed as ordinary dependency edges (join/
// reduce tasks depend on every fork/map task), so the same dependency-
// driven dispatch handles sequential, parallel, adaptive, pipeline,
// fork-join, and map-reduce alike.
func (o *Orchestrator) executeGraph(ctx context.Context, wf Workflow, exec *Execution) error {
	byID := make(map[string]TaskDef, len(wf.Tasks))
	ids := make([]string, 0, len(wf.Tasks))
	for _, t := range wf.Tasks {
		byID[t.ID] = t
		ids = append(ids, t.ID)
	}

	order, err := graph.SortByDependencies(ids, func(id string) []string { return byID[id].DependsOn })
	if err != nil {
		return err
	}

	g := graph.New()
	for _, id := range order {
		if err := g.AddTask(id, byID[id].DependsOn); err != nil {
			return err
		}
	}

	// errgroup fans ready tasks out across goroutines and collects the
	// first error, cancelling egCtx for every sibling still in flight
	// (spec-supplemented fork-join/map-reduce fan-out wiring).
	eg, egCtx := errgroup.WithContext(ctx)

	var runOne func(id string)
	runOne = func(id string) {
		eg.Go(func() error {
			exec.awaitUnpaused(egCtx)
			if egCtx.Err() != nil {
				return egCtx.Err()
			}

			def := byID[id]
			exec.markRunning(id)

			if def.TriggerEvent != "" {
				if _, err := events.WaitFor(egCtx, o.bus, []events.Topic{events.Topic(def.TriggerEvent)}, func(events.Event) bool { return true }); err != nil {
					exec.markDone(id, false, nil, 0)
					o.fanOutFailure(g, id)
					return err
				}
			}

			result, err := o.runTask(egCtx, wf, exec, def)
			if err != nil {
				exec.markDone(id, false, nil, 0)
				g.MarkFailed(id)
				return err
			}

			exec.markDone(id, true, result, 0)
			for _, childID := range g.MarkCompleted(id) {
				runOne(childID)
			}
			return nil
		})
	}

	for _, id := range g.GetReadyTasks() {
		runOne(id)
	}

	return eg.Wait()
}

func (o *Orchestrator) fanOutFailure(g *graph.Graph, id string) {
	g.MarkFailed(id)
}

// executeConsensus delegates an entire consensus-strategy workflow to the
// Hive orchestrator's consensus-based decomposition, converting each
// TaskDef into a hive.Subtask and dispatching through the same per-kind
// runTask logic via the Hive's Runner contract.
func (o *Orchestrator) executeConsensus(ctx context.Context, wf Workflow, exec *Execution) error {
	if o.hv == nil {
		return fmt.Errorf("workflow %s: consensus strategy requires a hive orchestrator", wf.ID)
	}
	byID := make(map[string]TaskDef, len(wf.Tasks))
	subtasks := make([]hive.Subtask, 0, len(wf.Tasks))
	for _, t := range wf.Tasks {
		byID[t.ID] = t
		subtasks = append(subtasks, hive.Subtask{
			ID:           t.ID,
			Type:         t.TaskType,
			Requirements: t.Requirements,
			DependsOn:    t.DependsOn,
		})
	}
	if err := o.hv.Decompose(wf.ID, subtasks, hive.ConsensusBased); err != nil {
		return err
	}

	runner := func(ctx context.Context, st *hive.Subtask) (interface{}, error) {
		def := byID[st.ID]
		exec.markRunning(st.ID)
		result, err := o.runTask(ctx, wf, exec, def)
		exec.markDone(st.ID, err == nil, result, 0)
		return result, err
	}
	return o.hv.Execute(ctx, wf.ID, runner)
}

// runTask dispatches one task by its execution kind (spec §4.7 "Per-task
// execution path").
func (o *Orchestrator) runTask(ctx context.Context, wf Workflow, exec *Execution, def TaskDef) (interface{}, error) {
	switch def.Kind {
	case KindAtomic, KindFork, KindJoin:
		if def.Kind == KindJoin {
			return o.gatherJoin(exec, def), nil
		}
		if def.Command == "" {
			return nil, nil // pure synchronization node
		}
		return o.runAtomic(ctx, def)
	case KindComposite:
		return o.runComposite(ctx, wf, exec, def)
	case KindConditional:
		return o.runConditional(ctx, exec, def)
	case KindLoop:
		return o.runLoop(ctx, wf, exec, def)
	default:
		return nil, fmt.Errorf("workflow %s: task %s: unknown kind %q", wf.ID, def.ID, def.Kind)
	}
}

func (o *Orchestrator) gatherJoin(exec *Execution, def TaskDef) map[string]interface{} {
	gathered := make(map[string]interface{}, len(def.DependsOn))
	for _, dep := range def.DependsOn {
		if v, ok := exec.result(dep); ok {
			gathered[dep] = v
		}
	}
	return gathered
}

// runAtomic requests an agent from the Load Balancer, submits the task to
// the Background Executor, and waits for its terminal event.
func (o *Orchestrator) runAtomic(ctx context.Context, def TaskDef) (interface{}, error) {
	if o.bal != nil {
		decision := o.bal.Select(ctx, def.Requirements, "")
		if decision.SelectedAgent == "" {
			return nil, types.ErrNoAdmissibleAgent
		}
	}

	id, err := o.exec.Submit(executor.Request{
		Type:     def.TaskType,
		Command:  def.Command,
		Args:     def.Args,
		Priority: def.Priority,
		Options:  executor.Options{Timeout: o.cfg.DefaultTaskTimeout},
	})
	if err != nil {
		return nil, err
	}

	ev, err := events.WaitFor(ctx, o.bus, []events.Topic{events.TaskCompleted, events.TaskFailed}, func(ev events.Event) bool {
		switch p := ev.Payload.(type) {
		case events.TaskCompletedPayload:
			return p.TaskID == id
		case events.TaskFailedPayload:
			return p.TaskID == id
		default:
			return false
		}
	})
	if err != nil {
		return nil, err
	}
	switch p := ev.Payload.(type) {
	case events.TaskFailedPayload:
		return nil, p.Err
	case events.TaskCompletedPayload:
		return p.Result, nil
	default:
		return nil, nil
	}
}

// runComposite delegates decomposition to the Hive orchestrator and waits
// for every subtask to finish; subtasks describe their command via
// Input["command"]/Input["args"].
func (o *Orchestrator) runComposite(ctx context.Context, wf Workflow, exec *Execution, def TaskDef) (interface{}, error) {
	if o.hv == nil {
		return nil, fmt.Errorf("workflow %s: composite task %s requires a hive orchestrator", wf.ID, def.ID)
	}
	if err := o.hv.Decompose(def.ID, def.Subtasks, hive.Adaptive); err != nil {
		return nil, err
	}
	runner := func(ctx context.Context, st *hive.Subtask) (interface{}, error) {
		command, _ := st.Input["command"].(string)
		var args []string
		if raw, ok := st.Input["args"].([]string); ok {
			args = raw
		}
		if command == "" {
			return nil, nil
		}
		return o.runAtomic(ctx, TaskDef{TaskType: st.Type, Command: command, Args: args, Requirements: st.Requirements})
	}
	if err := o.hv.Execute(ctx, def.ID, runner); err != nil {
		return nil, err
	}
	return "composite-completed", nil
}

// runConditional evaluates the conjunction of def.Conditions against the
// execution's variables; a false guard yields a "skipped" result rather
// than running the underlying atomic task (spec §4.7).
func (o *Orchestrator) runConditional(ctx context.Context, exec *Execution, def TaskDef) (interface{}, error) {
	ok, err := o.cond.EvalAll(def.Conditions, exec.Variables())
	if err != nil {
		return nil, err
	}
	if !ok {
		return "skipped", nil
	}
	return o.runAtomic(ctx, def)
}

// runLoop iterates the referenced task while its guard holds, capped at
// MaxIterations (spec §4.7 "loop").
func (o *Orchestrator) runLoop(ctx context.Context, wf Workflow, exec *Execution, def TaskDef) (interface{}, error) {
	var inner TaskDef
	found := false
	for _, t := range wf.Tasks {
		if t.ID == def.LoopTaskID {
			inner = t
			found = true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("workflow %s: loop task %s references unknown task %s", wf.ID, def.ID, def.LoopTaskID)
	}

	var results []interface{}
	for i := 0; i < def.MaxIterations; i++ {
		if len(def.Conditions) > 0 {
			ok, err := o.cond.EvalAll(def.Conditions, exec.Variables())
			if err != nil {
				return nil, err
			}
			if !ok {
				break
			}
		}
		result, err := o.runTask(ctx, wf, exec, inner)
		if err != nil {
			return results, err
		}
		results = append(results, result)
	}
	return results, nil
}
