// Package scheduler owns the assignment protocol between tasks and agents
// (spec §4.5): capability-weighted/round-robin/least-loaded/affinity
// strategies, completion/failure bookkeeping, and a periodic work-stealing
// pass. It consults the dependency graph on completion/failure and the
// event bus for notification, but keeps its own agent registry separate
// from the balancer's — the scheduler is the authority for task
// assignment, the balancer for ad hoc selection requests.
package scheduler

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/swarmguard/coordination/internal/coordination/events"
	"github.com/swarmguard/coordination/internal/coordination/graph"
	"github.com/swarmguard/coordination/internal/coordination/types"
)

// Strategy names a scheduler-level assignment rule.
type Strategy string

const (
	CapabilityWeighted Strategy = "capability-weighted"
	RoundRobin         Strategy = "round-robin"
	LeastLoaded        Strategy = "least-loaded"
	Affinity           Strategy = "affinity"
)

// typeStats is the rolling per-(agent,taskType) performance record used by
// the affinity strategy and completion bookkeeping.
type typeStats struct {
	count       int
	successes   int
	meanDuration time.Duration
	lastSuccess time.Time
}

func (s *typeStats) successRate() float64 {
	if s.count == 0 {
		return 0
	}
	return float64(s.successes) / float64(s.count)
}

type agentState struct {
	agent     *types.Agent
	taskCount int
	lastType  map[string]*typeStats // taskType -> rolling stats
}

type assignment struct {
	taskID    string
	agentID   string
	taskType  string
	assignedAt time.Time
	retryCount int
}

// Config tunes the scheduler's work-stealing pass.
type Config struct {
	DefaultStrategy Strategy
	MaxRetries      int
	StealInterval   time.Duration
	StealThreshold  int
	MaxStealBatch   int
}

func DefaultConfig() Config {
	return Config{
		DefaultStrategy: CapabilityWeighted,
		MaxRetries:      3,
		StealInterval:   10 * time.Second,
		StealThreshold:  3,
		MaxStealBatch:   2,
	}
}

// Scheduler assigns tasks to agents and tracks per-agent load and
// per-(agent,type) performance.
type Scheduler struct {
	cfg   Config
	bus   *events.Bus
	graph *graph.Graph

	mu          sync.Mutex
	agents      map[string]*agentState
	assignments map[string]*assignment
	pending     map[string][]*pendingTask // agentID -> its queue of not-yet-run assignments
	rrIdx       int
}

// pendingTask is a task assigned to an agent but not yet started — the
// unit work-stealing moves between agent queues.
type pendingTask struct {
	taskID       string
	taskType     string
	priority     types.Priority
	requirements types.CapabilitySet
	enqueuedAt   time.Time
}

func New(cfg Config, bus *events.Bus, g *graph.Graph) *Scheduler {
	return &Scheduler{
		cfg:         cfg,
		bus:         bus,
		graph:       g,
		agents:      make(map[string]*agentState),
		assignments: make(map[string]*assignment),
		pending:     make(map[string][]*pendingTask),
	}
}

// RegisterAgent adds an agent's profile to the scheduler's own registry.
func (s *Scheduler) RegisterAgent(a *types.Agent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agents[a.ID] = &agentState{agent: a, lastType: make(map[string]*typeStats)}
}

// AssignTask implements the assignTask(task, agent?, strategy?) protocol
// (spec §4.5). If agentID is non-empty its admissibility is checked first;
// otherwise the strategy selects among admissible agents.
func (s *Scheduler) AssignTask(taskID, taskType string, priority types.Priority, requirements types.CapabilitySet, agentID string, strategy Strategy) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strategy == "" {
		strategy = s.cfg.DefaultStrategy
	}

	var chosen *agentState
	if agentID != "" {
		st, ok := s.agents[agentID]
		if !ok || !admissible(st) {
			return "", types.ErrNoAdmissibleAgent
		}
		chosen = st
	} else {
		chosen = s.selectLocked(taskType, requirements, strategy)
		if chosen == nil {
			return "", types.ErrNoAdmissibleAgent
		}
	}

	chosen.taskCount++
	chosen.agent.CurrentLoad++
	s.assignments[taskID] = &assignment{
		taskID:     taskID,
		agentID:    chosen.agent.ID,
		taskType:   taskType,
		assignedAt: time.Now(),
	}
	s.pending[chosen.agent.ID] = append(s.pending[chosen.agent.ID], &pendingTask{
		taskID: taskID, taskType: taskType, priority: priority,
		requirements: requirements, enqueuedAt: time.Now(),
	})

	s.publish(events.TaskAssigned, events.TaskAssignedPayload{
		TaskID: taskID, AgentID: chosen.agent.ID, Strategy: string(strategy),
	})
	return chosen.agent.ID, nil
}

func admissible(st *agentState) bool {
	return st.agent.HasCapacity() && st.agent.Status != types.AgentOffline && st.agent.Status != types.AgentUnresponsive
}

func (s *Scheduler) selectLocked(taskType string, requirements types.CapabilitySet, strategy Strategy) *agentState {
	var candidates []*agentState
	for _, st := range s.agents {
		if admissible(st) {
			candidates = append(candidates, st)
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].agent.ID < candidates[j].agent.ID })

	switch strategy {
	case RoundRobin:
		chosen := candidates[s.rrIdx%len(candidates)]
		s.rrIdx++
		return chosen
	case LeastLoaded:
		best := candidates[0]
		for _, c := range candidates[1:] {
			if c.taskCount < best.taskCount {
				best = c
			}
		}
		return best
	case Affinity:
		if best := s.affinityCandidateLocked(candidates, taskType); best != nil {
			return best
		}
		return s.capabilityWeightedLocked(candidates, requirements)
	default:
		return s.capabilityWeightedLocked(candidates, requirements)
	}
}

func (s *Scheduler) affinityCandidateLocked(candidates []*agentState, taskType string) *agentState {
	var best *agentState
	var bestSuccess time.Time
	for _, c := range candidates {
		st, ok := c.lastType[taskType]
		if !ok || st.successRate() < 0.8 {
			continue
		}
		if best == nil || st.lastSuccess.After(bestSuccess) {
			best = c
			bestSuccess = st.lastSuccess
		}
	}
	return best
}

// capabilityWeightedLocked scores each candidate per spec §4.5: 0.6 times
// requirement coverage, 0.3 times inverse load (capped at 10), 0.1 times
// priority/10. Falls back to the first available agent if no requirement
// overlaps at all.
func (s *Scheduler) capabilityWeightedLocked(candidates []*agentState, requirements types.CapabilitySet) *agentState {
	best := candidates[0]
	bestScore := -1.0
	anyOverlap := false
	for _, c := range candidates {
		coverage := c.agent.Capabilities.CoverageRatio(requirements)
		if coverage > 0 {
			anyOverlap = true
		}
		loadTerm := 1 - math.Min(1, float64(c.taskCount)/10)
		priorityTerm := float64(c.agent.Priority) / 10
		score := 0.6*coverage + 0.3*loadTerm + 0.1*priorityTerm
		if score > bestScore {
			bestScore = score
			best = c
		}
	}
	if !anyOverlap {
		return candidates[0]
	}
	return best
}

// CompleteTask decrements agent load, updates rolling stats, notifies the
// dependency graph, and emits task:completed. Returns the task ids that
// became newly ready as a result.
func (s *Scheduler) CompleteTask(taskID string, duration time.Duration) []string {
	s.mu.Lock()
	a, ok := s.assignments[taskID]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	st := s.agents[a.agentID]
	if st != nil {
		st.taskCount--
		if st.taskCount < 0 {
			st.taskCount = 0
		}
		st.agent.CurrentLoad--
		if st.agent.CurrentLoad < 0 {
			st.agent.CurrentLoad = 0
		}
		s.updateTypeStatsLocked(st, a.taskType, true, duration)
	}
	delete(s.assignments, taskID)
	s.mu.Unlock()

	s.publish(events.TaskCompleted, events.TaskCompletedPayload{TaskID: taskID})

	if s.graph != nil {
		return s.graph.MarkCompleted(taskID)
	}
	return nil
}

// FailTask updates stats with success=false and, if retryCount < maxRetries,
// reassigns the task to the least-loaded admissible agent other than the
// previous one (falling back to the previous agent when no other is
// admissible). When retries are exhausted or no agent is admissible, it
// marks the failure in the dependency graph and returns the resulting
// transitive unreachable set.
func (s *Scheduler) FailTask(taskID string, taskType string, requirements types.CapabilitySet, priority types.Priority, retryErr error) (reassignedAgent string, unreachable []string) {
	s.mu.Lock()
	a, ok := s.assignments[taskID]
	if !ok {
		s.mu.Unlock()
		return "", nil
	}
	prevAgent := a.agentID
	if st := s.agents[prevAgent]; st != nil {
		st.taskCount--
		if st.taskCount < 0 {
			st.taskCount = 0
		}
		st.agent.CurrentLoad--
		if st.agent.CurrentLoad < 0 {
			st.agent.CurrentLoad = 0
		}
		s.updateTypeStatsLocked(st, taskType, false, 0)
	}

	if a.retryCount < s.cfg.MaxRetries {
		var alt *agentState
		for _, st := range s.agents {
			if st.agent.ID == prevAgent || !admissible(st) {
				continue
			}
			if alt == nil || st.taskCount < alt.taskCount {
				alt = st
			}
		}
		if alt == nil {
			if st := s.agents[prevAgent]; st != nil && admissible(st) {
				alt = st
			}
		}
		if alt != nil {
			a.retryCount++
			a.agentID = alt.agent.ID
			a.assignedAt = time.Now()
			alt.taskCount++
			alt.agent.CurrentLoad++
			s.mu.Unlock()
			s.publish(events.TaskRetry, taskID)
			return alt.agent.ID, nil
		}
	}

	delete(s.assignments, taskID)
	s.mu.Unlock()

	s.publish(events.TaskFailed, events.TaskFailedPayload{TaskID: taskID, Err: retryErr})
	if s.graph != nil {
		return "", s.graph.MarkFailed(taskID)
	}
	return "", nil
}

func (s *Scheduler) updateTypeStatsLocked(st *agentState, taskType string, success bool, duration time.Duration) {
	ts, ok := st.lastType[taskType]
	if !ok {
		ts = &typeStats{}
		st.lastType[taskType] = ts
	}
	ts.count++
	if success {
		ts.successes++
		ts.lastSuccess = time.Now()
		if ts.meanDuration == 0 {
			ts.meanDuration = duration
		} else {
			ts.meanDuration = (ts.meanDuration + duration) / 2
		}
	}
}

func (s *Scheduler) publish(topic events.Topic, payload interface{}) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(context.Background(), topic, payload)
}
