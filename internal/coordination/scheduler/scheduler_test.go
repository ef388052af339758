package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/swarmguard/coordination/internal/coordination/graph"
	"github.com/swarmguard/coordination/internal/coordination/types"
)

func newAgent(id string, max int) *types.Agent {
	return &types.Agent{
		ID:                 id,
		MaxConcurrentTasks: max,
		Status:             types.AgentAvailable,
		Capabilities:       types.NewCapabilitySet("coding"),
	}
}

func TestAssignTaskCapabilityWeighted(t *testing.T) {
	s := New(DefaultConfig(), nil, graph.New())
	s.RegisterAgent(newAgent("a", 5))
	s.RegisterAgent(newAgent("b", 5))

	agentID, err := s.AssignTask("t1", "build", types.PriorityNormal, types.NewCapabilitySet("coding"), "", "")
	require.NoError(t, err)
	require.Contains(t, []string{"a", "b"}, agentID)
}

func TestAssignTaskExplicitAgentMustBeAdmissible(t *testing.T) {
	s := New(DefaultConfig(), nil, graph.New())
	s.RegisterAgent(newAgent("a", 0))

	_, err := s.AssignTask("t1", "build", types.PriorityNormal, 0, "a", "")
	require.ErrorIs(t, err, types.ErrNoAdmissibleAgent)
}

func TestCompleteTaskNotifiesGraph(t *testing.T) {
	g := graph.New()
	require.NoError(t, g.AddTask("t1", nil))
	require.NoError(t, g.AddTask("t2", []string{"t1"}))

	s := New(DefaultConfig(), nil, g)
	s.RegisterAgent(newAgent("a", 5))
	_, err := s.AssignTask("t1", "build", types.PriorityNormal, 0, "a", "")
	require.NoError(t, err)

	ready := s.CompleteTask("t1", 10*time.Millisecond)
	require.Equal(t, []string{"t2"}, ready)
}

func TestFailTaskReassignsWithinRetryBudget(t *testing.T) {
	s := New(DefaultConfig(), nil, graph.New())
	s.RegisterAgent(newAgent("a", 5))
	s.RegisterAgent(newAgent("b", 5))
	_, err := s.AssignTask("t1", "build", types.PriorityNormal, 0, "a", "")
	require.NoError(t, err)

	newAgentID, unreachable := s.FailTask("t1", "build", 0, types.PriorityNormal, nil)
	require.Equal(t, "b", newAgentID)
	require.Nil(t, unreachable)
}

func TestFailTaskSurfacesAfterRetriesExhausted(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxRetries = 0
	g := graph.New()
	require.NoError(t, g.AddTask("t1", nil))
	require.NoError(t, g.AddTask("t2", []string{"t1"}))

	s := New(cfg, nil, g)
	s.RegisterAgent(newAgent("a", 5))
	_, err := s.AssignTask("t1", "build", types.PriorityNormal, 0, "a", "")
	require.NoError(t, err)

	newAgentID, unreachable := s.FailTask("t1", "build", 0, types.PriorityNormal, nil)
	require.Empty(t, newAgentID)
	require.Equal(t, []string{"t2"}, unreachable)
}

func TestWorkStealingMovesTasksFromOverloadedAgent(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StealThreshold = 2
	cfg.MaxStealBatch = 5
	s := New(cfg, nil, graph.New())
	s.RegisterAgent(newAgent("busy", 10))
	s.RegisterAgent(newAgent("idle", 10))

	for i := 0; i < 4; i++ {
		_, err := s.AssignTask(string(rune('a'+i)), "build", types.PriorityNormal, types.NewCapabilitySet("coding"), "busy", "")
		require.NoError(t, err)
	}

	s.stealPass()

	s.mu.Lock()
	busyCount := s.agents["busy"].taskCount
	idleCount := s.agents["idle"].taskCount
	s.mu.Unlock()

	require.Less(t, busyCount, 4)
	require.Greater(t, idleCount, 0)
}
