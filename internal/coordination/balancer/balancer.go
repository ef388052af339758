// Package balancer implements the Load Balancer (spec §4.4): given a task
// and the agent registry, admit a filtered candidate set and pick one agent
// under one of several selection strategies.
package balancer

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/swarmguard/coordination/internal/coordination/events"
	"github.com/swarmguard/coordination/internal/coordination/types"
)

// Strategy names the selection rule (spec §4.4 table).
type Strategy string

const (
	RoundRobin         Strategy = "round-robin"
	LeastConnections   Strategy = "least-connections"
	LeastLoaded        Strategy = "least-loaded"
	WeightedRoundRobin Strategy = "weighted-round-robin"
	PerformanceBased   Strategy = "performance-based"
	CostBased          Strategy = "cost-based"
	Hybrid             Strategy = "hybrid"
	Predictive         Strategy = "predictive"
	Adaptive           Strategy = "adaptive"
)

// Decision is the strategy's verdict on one selection request.
type Decision struct {
	SelectedAgent string
	Confidence    float64
	Reasoning     string
	Alternatives  []string
}

// Config tunes admission thresholds and periodic tasks.
type Config struct {
	MaxLoadThreshold    float64
	ErrorRateThreshold  float64
	HealthCheckInterval time.Duration
	RebalanceInterval   time.Duration
	PredictionWindow    time.Duration
	PredictionsEnabled  bool
	DefaultStrategy     Strategy
}

func DefaultConfig() Config {
	return Config{
		MaxLoadThreshold:    0.8,
		ErrorRateThreshold:  0.25,
		HealthCheckInterval: 15 * time.Second,
		RebalanceInterval:   1 * time.Minute,
		PredictionWindow:    10 * time.Second,
		PredictionsEnabled:  false,
		DefaultStrategy:     Hybrid,
	}
}

type prediction struct {
	predictedLoad float64
	confidence    float64
	factors       []string
}

// Balancer selects one agent per request from a shared registry.
type Balancer struct {
	cfg Config
	bus *events.Bus

	mu            sync.Mutex
	agents        map[string]*types.Agent
	roundRobinIdx int
	loadHistory   map[string][]float64
	predictions   map[string]prediction
	systemErrRate float64
	systemLoad    float64
	rules         []Rule
}

func New(cfg Config, bus *events.Bus) *Balancer {
	return &Balancer{
		cfg:         cfg,
		bus:         bus,
		agents:      make(map[string]*types.Agent),
		loadHistory: make(map[string][]float64),
		predictions: make(map[string]prediction),
	}
}

// RegisterAgent adds or replaces an agent's profile in the registry.
func (b *Balancer) RegisterAgent(a *types.Agent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.agents[a.ID] = a
	b.recordLoadLocked(a.ID, a.Workload())
}

func (b *Balancer) UnregisterAgent(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.agents, id)
	delete(b.loadHistory, id)
	delete(b.predictions, id)
}

func (b *Balancer) recordLoadLocked(id string, load float64) {
	h := append(b.loadHistory[id], load)
	if len(h) > 10 {
		h = h[len(h)-10:]
	}
	b.loadHistory[id] = h
}

// admissibleLocked filters out agents at capacity, overloaded, or erroring
// too often (spec §4.4 agent filter).
func (b *Balancer) admissibleLocked(required types.CapabilitySet) []*types.Agent {
	var out []*types.Agent
	for _, a := range b.agents {
		if a.Status == types.AgentOffline || a.Status == types.AgentUnresponsive {
			continue
		}
		if a.CurrentLoad >= a.MaxConcurrentTasks {
			continue
		}
		if a.Utilization() > b.cfg.MaxLoadThreshold {
			continue
		}
		if a.Metrics.ErrorRate > b.cfg.ErrorRateThreshold {
			continue
		}
		if required != 0 && a.Capabilities.CoverageRatio(required) == 0 {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Select picks one agent for required capabilities under strategy (or the
// configured default). Returns a zero-agent Decision, never blocks, when no
// agent is admissible (spec invariant).
func (b *Balancer) Select(ctx context.Context, required types.CapabilitySet, strategy Strategy) Decision {
	b.mu.Lock()
	defer b.mu.Unlock()

	if rule, action := b.matchRuleLocked(required); rule != nil {
		if action.SelectedAgent != "" {
			return Decision{SelectedAgent: action.SelectedAgent, Confidence: 1, Reasoning: "rule:" + rule.Name}
		}
		if action.Strategy != "" {
			strategy = action.Strategy
		}
	}

	if strategy == "" {
		strategy = b.cfg.DefaultStrategy
	}
	if strategy == Adaptive {
		strategy = b.resolveAdaptiveLocked()
	}

	candidates := b.admissibleLocked(required)
	if len(candidates) == 0 {
		return Decision{Reasoning: "no admissible agent"}
	}

	var dec Decision
	switch strategy {
	case RoundRobin:
		dec = b.selectRoundRobinLocked(candidates)
	case LeastConnections:
		dec = selectBy(candidates, func(a *types.Agent) float64 { return float64(a.ActiveConnections) }, false)
	case LeastLoaded:
		dec = selectBy(candidates, func(a *types.Agent) float64 { return float64(a.CurrentLoad) }, false)
	case WeightedRoundRobin:
		dec = b.selectWeightedLocked(candidates)
	case PerformanceBased:
		dec = selectBy(candidates, performanceScore, true)
	case CostBased:
		dec = selectBy(candidates, costScore, false)
	case Predictive:
		dec = b.selectPredictiveLocked(candidates)
	case Hybrid:
		dec = selectBy(candidates, func(a *types.Agent) float64 { return hybridScore(a) }, true)
	default:
		dec = selectBy(candidates, func(a *types.Agent) float64 { return hybridScore(a) }, true)
	}
	return dec
}

func (b *Balancer) selectRoundRobinLocked(candidates []*types.Agent) Decision {
	idx := b.roundRobinIdx % len(candidates)
	b.roundRobinIdx++
	return decisionFor(candidates, idx, 1.0/float64(len(candidates)), "round-robin")
}

func (b *Balancer) selectWeightedLocked(candidates []*types.Agent) Decision {
	var total int
	for _, a := range candidates {
		total += a.MaxConcurrentTasks
	}
	if total == 0 {
		return decisionFor(candidates, 0, 0, "weighted-round-robin (no capacity)")
	}
	target := (b.roundRobinIdx * 2654435761) % total
	b.roundRobinIdx++
	cum := 0
	for i, a := range candidates {
		cum += a.MaxConcurrentTasks
		if target < cum {
			return decisionFor(candidates, i, float64(a.MaxConcurrentTasks)/float64(total), "weighted-round-robin")
		}
	}
	return decisionFor(candidates, len(candidates)-1, 0, "weighted-round-robin")
}

func (b *Balancer) selectPredictiveLocked(candidates []*types.Agent) Decision {
	best := -1
	bestScore := -1.0
	for i, a := range candidates {
		p, ok := b.predictions[a.ID]
		score := 0.5
		if ok && a.MaxConcurrentTasks > 0 {
			score = (1 - p.predictedLoad/float64(a.MaxConcurrentTasks)) * p.confidence
		}
		if score > bestScore {
			bestScore = score
			best = i
		}
	}
	if best < 0 {
		best = 0
	}
	return decisionFor(candidates, best, bestScore, "predictive")
}

func (b *Balancer) resolveAdaptiveLocked() Strategy {
	switch {
	case b.systemErrRate > 0.10:
		return PerformanceBased
	case b.systemLoad > 0.80:
		return LeastLoaded
	case b.cfg.PredictionsEnabled:
		return Predictive
	default:
		return Hybrid
	}
}

// UpdateSystemStats feeds the adaptive strategy's decision inputs.
func (b *Balancer) UpdateSystemStats(errRate, load float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.systemErrRate = errRate
	b.systemLoad = load
}

func decisionFor(candidates []*types.Agent, idx int, confidence float64, reason string) Decision {
	alts := make([]string, 0, 3)
	for i, a := range candidates {
		if i == idx {
			continue
		}
		alts = append(alts, a.ID)
		if len(alts) == 3 {
			break
		}
	}
	return Decision{
		SelectedAgent: candidates[idx].ID,
		Confidence:    confidence,
		Reasoning:     reason,
		Alternatives:  alts,
	}
}

// selectBy picks the extreme-scoring candidate; maximize controls whether
// higher or lower score wins.
func selectBy(candidates []*types.Agent, score func(*types.Agent) float64, maximize bool) Decision {
	best := 0
	bestScore := score(candidates[0])
	for i := 1; i < len(candidates); i++ {
		s := score(candidates[i])
		if (maximize && s > bestScore) || (!maximize && s < bestScore) {
			bestScore = s
			best = i
		}
	}
	conf := math.Min(1, math.Max(0, bestScore))
	return decisionFor(candidates, best, conf, "scored selection")
}

// responseTimeThresholdMs and errorRateThreshold normalize the
// performance-based score's inputs into [0,1] ranges (spec §4.4).
const responseTimeThresholdMs = 2000.0
const errorRateThreshold = 1.0

func performanceScore(a *types.Agent) float64 {
	rtMs := float64(a.Metrics.ResponseTime) / float64(time.Millisecond)
	throughputN := math.Min(1, a.Metrics.Speed/10)
	return 0.3*(1-math.Min(1, rtMs/responseTimeThresholdMs)) +
		0.4*(1-math.Min(1, a.Metrics.ErrorRate/errorRateThreshold)) +
		0.3*throughputN
}

func costScore(a *types.Agent) float64 {
	rtMs := float64(a.Metrics.ResponseTime) / float64(time.Millisecond)
	return 1 * (1 + a.Utilization()) * (1 + rtMs/1000)
}

func hybridScore(a *types.Agent) float64 {
	cost := costScore(a)
	return 0.4*performanceScore(a) + 0.4*(1-a.Utilization()) + 0.2*(1/(1+cost))
}
