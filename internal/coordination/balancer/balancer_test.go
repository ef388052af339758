package balancer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/swarmguard/coordination/internal/coordination/types"
)

func agent(id string, load, max int) *types.Agent {
	return &types.Agent{
		ID:                 id,
		MaxConcurrentTasks: max,
		CurrentLoad:        load,
		Status:             types.AgentAvailable,
		Capabilities:       types.NewCapabilitySet("coding"),
	}
}

func TestSelectFiltersOverloadedAgents(t *testing.T) {
	b := New(DefaultConfig(), nil)
	b.RegisterAgent(agent("full", 5, 5))
	b.RegisterAgent(agent("ok", 1, 5))

	dec := b.Select(context.Background(), 0, LeastLoaded)
	require.Equal(t, "ok", dec.SelectedAgent)
}

func TestSelectNoAdmissibleAgentReturnsZeroDecision(t *testing.T) {
	b := New(DefaultConfig(), nil)
	b.RegisterAgent(agent("full", 5, 5))

	dec := b.Select(context.Background(), 0, LeastLoaded)
	require.Empty(t, dec.SelectedAgent)
}

func TestRoundRobinCycles(t *testing.T) {
	b := New(DefaultConfig(), nil)
	b.RegisterAgent(agent("a", 0, 5))
	b.RegisterAgent(agent("b", 0, 5))

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		dec := b.Select(context.Background(), 0, RoundRobin)
		seen[dec.SelectedAgent] = true
	}
	require.Len(t, seen, 2)
}

func TestRulePreemptsStrategy(t *testing.T) {
	b := New(DefaultConfig(), nil)
	b.RegisterAgent(agent("a", 0, 5))
	b.RegisterAgent(agent("pinned", 0, 5))

	b.SetRules([]Rule{{
		Name:      "pin-agent",
		Condition: func(types.CapabilitySet) bool { return true },
		Action:    RuleAction{SelectedAgent: "pinned"},
		Priority:  10,
		Enabled:   true,
	}})

	dec := b.Select(context.Background(), 0, LeastLoaded)
	require.Equal(t, "pinned", dec.SelectedAgent)
}

func TestCapabilityFilterExcludesUncoveredAgents(t *testing.T) {
	b := New(DefaultConfig(), nil)
	coder := agent("coder", 0, 5)
	coder.Capabilities = types.NewCapabilitySet("coding")
	reviewer := agent("reviewer", 0, 5)
	reviewer.Capabilities = types.NewCapabilitySet("review")
	b.RegisterAgent(coder)
	b.RegisterAgent(reviewer)

	dec := b.Select(context.Background(), types.NewCapabilitySet("review"), LeastLoaded)
	require.Equal(t, "reviewer", dec.SelectedAgent)
}

func TestAdaptiveStrategyRespondsToSystemErrorRate(t *testing.T) {
	b := New(DefaultConfig(), nil)
	b.RegisterAgent(agent("a", 0, 5))
	b.UpdateSystemStats(0.2, 0.1)

	b.mu.Lock()
	resolved := b.resolveAdaptiveLocked()
	b.mu.Unlock()
	require.Equal(t, PerformanceBased, resolved)
}
