// Package hive implements the Hive Orchestrator (spec §4.6): it breaks one
// composite task into a DAG of subtasks, scores and assigns agents to them,
// and drives execution under one of several decomposition strategies. Named
// after the "hive"/agent-pool terminology used across the example pack's
// swarm-coordination code, reshaped around this runtime's dependency graph
// and event bus instead of ad hoc goroutine fan-out.
package hive

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/swarmguard/coordination/internal/coordination/events"
	"github.com/swarmguard/coordination/internal/coordination/graph"
	"github.com/swarmguard/coordination/internal/coordination/types"
)

// Strategy names a decomposition strategy (spec §4.6).
type Strategy string

const (
	Sequential      Strategy = "sequential"
	Parallel        Strategy = "parallel"
	Hierarchical    Strategy = "hierarchical"
	Pipeline        Strategy = "pipeline"
	Adaptive        Strategy = "adaptive"
	ConsensusBased  Strategy = "consensus-based"
)

// Subtask is one node produced by decomposing a composite task.
type Subtask struct {
	ID           string
	CompositeID  string
	Type         string
	Requirements types.CapabilitySet
	DependsOn    []string
	Level        int    // for hierarchical decomposition
	Stage        string // for pipeline decomposition
	Input        map[string]interface{}

	Status      types.TaskStatus
	AssignedTo  string
	Result      interface{}
	Err         error
}

// AgentView is the subset of agent state the hive needs to score
// candidates; supplied by the caller so the hive package does not need a
// dependency on the balancer's or scheduler's registries.
type AgentView struct {
	ID           string
	Capabilities types.CapabilitySet
	Workload     float64
	SuccessRate  float64
	Reliability  float64
}

// Runner executes one subtask and returns its result. The hive package is
// execution-agnostic: callers wire it to the Background Executor, a plugin,
// or a remote call.
type Runner func(ctx context.Context, st *Subtask) (interface{}, error)

// Hive drives decomposition and execution of composite tasks.
type Hive struct {
	bus   *events.Bus
	cache *ResultCache

	mu        sync.Mutex
	agents    map[string]AgentView
	topology  Topology
	graphs    map[string]*graph.Graph   // compositeID -> its subtask DAG
	subtasks  map[string]map[string]*Subtask // compositeID -> subtaskID -> Subtask
}

func New(bus *events.Bus) *Hive {
	return &Hive{
		bus:      bus,
		cache:    NewResultCache(1000, 30*time.Minute),
		agents:   make(map[string]AgentView),
		graphs:   make(map[string]*graph.Graph),
		subtasks: make(map[string]map[string]*Subtask),
	}
}

// UpdateAgent refreshes the hive's view of one agent, for scoring.
func (h *Hive) UpdateAgent(a AgentView) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.agents[a.ID] = a
}

// Decompose builds the subtask DAG for a composite task under strategy and
// registers it for execution.
func (h *Hive) Decompose(compositeID string, subtasks []Subtask, strategy Strategy) error {
	switch strategy {
	case Sequential:
		chainSequential(subtasks)
	case Hierarchical:
		chainHierarchical(subtasks)
	case Pipeline:
		// no edges are derived from Stage: stages run in order only as far
		// as the caller's own DependsOn edges say so, and Execute does not
		// read Stage.
	case Parallel, Adaptive, ConsensusBased:
		// no inherent edges; Execute runs these exactly as it runs parallel
	}

	byID := make(map[string]*Subtask, len(subtasks))
	ids := make([]string, 0, len(subtasks))
	for i := range subtasks {
		st := &subtasks[i]
		st.CompositeID = compositeID
		st.Status = types.TaskCreated
		byID[st.ID] = st
		ids = append(ids, st.ID)
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

	h.mu.Lock()
	h.graphs[compositeID] = g
	h.subtasks[compositeID] = byID
	h.mu.Unlock()
	return nil
}

func chainSequential(subtasks []Subtask) {
	for i := 1; i < len(subtasks); i++ {
		subtasks[i].DependsOn = append(subtasks[i].DependsOn, subtasks[i-1].ID)
	}
}

func chainHierarchical(subtasks []Subtask) {
	byLevel := make(map[int][]string)
	for _, st := range subtasks {
		byLevel[st.Level] = append(byLevel[st.Level], st.ID)
	}
	for i := range subtasks {
		if subtasks[i].Level == 0 {
			continue
		}
		subtasks[i].DependsOn = append(subtasks[i].DependsOn, byLevel[subtasks[i].Level-1]...)
	}
}

// ScoreAgent implements spec §4.6's per-subtask agent score: 0.4*successRate
// + 0.3*(1-min(workload,1)) + 0.2*coverage + 0.1*reliability.
func ScoreAgent(a AgentView, required types.CapabilitySet) float64 {
	workloadTerm := a.Workload
	if workloadTerm > 1 {
		workloadTerm = 1
	}
	coverage := a.Capabilities.CoverageRatio(required)
	return 0.4*a.SuccessRate + 0.3*(1-workloadTerm) + 0.2*coverage + 0.1*a.Reliability
}

// BestAgent picks the highest-scoring admissible agent for required
// capabilities; ties break by lower workload, then lower id.
func (h *Hive) BestAgent(required types.CapabilitySet) (string, float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var candidates []AgentView
	for _, a := range h.agents {
		candidates = append(candidates, a)
	}
	if len(candidates) == 0 {
		return "", 0
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].ID < candidates[j].ID })

	best := candidates[0]
	bestScore := ScoreAgent(best, required)
	for _, c := range candidates[1:] {
		score := ScoreAgent(c, required)
		if score > bestScore ||
			(score == bestScore && c.Workload < best.Workload) {
			best = c
			bestScore = score
		}
	}
	return best.ID, bestScore
}

// Execute runs every subtask of compositeID to completion under run,
// respecting dependency order; it waits on the event bus rather than
// polling for a subtask's dependencies to complete (spec §4.6 "Dependency
// waits").
func (h *Hive) Execute(ctx context.Context, compositeID string, run Runner) error {
	h.mu.Lock()
	g := h.graphs[compositeID]
	subtasks := h.subtasks[compositeID]
	h.mu.Unlock()
	if g == nil {
		return nil
	}

	// errgroup fans subtasks out across goroutines and collects the first
	// error, cancelling egCtx for every sibling still in flight.
	eg, egCtx := errgroup.WithContext(ctx)

	var runOne func(id string)
	runOne = func(id string) {
		eg.Go(func() error {
			if !g.IsTaskReady(id) {
				if _, err := events.WaitFor(egCtx, h.bus, []events.Topic{events.TaskCompleted, events.TaskFailed}, func(events.Event) bool {
					return g.IsTaskReady(id)
				}); err != nil {
					return err
				}
			}

			st := subtasks[id]
			if agentID, _ := h.BestAgent(st.Requirements); agentID != "" {
				st.AssignedTo = agentID
			}
			st.Status = types.TaskRunning
			if cached, ok := h.cache.Get(cacheKey(compositeID, id)); ok {
				st.Result = cached
				st.Status = types.TaskCompleted
				h.completeAndFanOut(egCtx, g, subtasks, id, runOne)
				return nil
			}

			result, err := run(egCtx, st)
			if err != nil {
				st.Status = types.TaskFailed
				st.Err = err
				h.publish(events.TaskFailed, events.TaskFailedPayload{TaskID: id, Err: err})
				g.MarkFailed(id)
				return err
			}

			st.Result = result
			st.Status = types.TaskCompleted
			h.cache.Put(cacheKey(compositeID, id), result)
			h.completeAndFanOut(egCtx, g, subtasks, id, runOne)
			return nil
		})
	}

	for _, id := range g.GetReadyTasks() {
		runOne(id)
	}

	return eg.Wait()
}

func (h *Hive) completeAndFanOut(ctx context.Context, g *graph.Graph, subtasks map[string]*Subtask, id string, runOne func(string)) {
	h.publish(events.TaskCompleted, events.TaskCompletedPayload{TaskID: id})
	for _, childID := range g.MarkCompleted(id) {
		runOne(childID)
	}
}

func cacheKey(compositeID, subtaskID string) string {
	return compositeID + "/" + subtaskID
}

func (h *Hive) publish(topic events.Topic, payload interface{}) {
	if h.bus == nil {
		return
	}
	h.bus.Publish(context.Background(), topic, payload)
}
