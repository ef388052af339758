package hive

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/swarmguard/coordination/internal/coordination/events"
	"github.com/swarmguard/coordination/internal/coordination/types"
)

var errBoom = errors.New("boom")

func TestScoreAgentFavorsHigherSuccessAndLowerWorkload(t *testing.T) {
	strong := AgentView{ID: "a", SuccessRate: 0.9, Workload: 0.1, Reliability: 0.9, Capabilities: types.NewCapabilitySet("coding")}
	weak := AgentView{ID: "b", SuccessRate: 0.3, Workload: 0.9, Reliability: 0.5, Capabilities: types.NewCapabilitySet("coding")}

	required := types.NewCapabilitySet("coding")
	require.Greater(t, ScoreAgent(strong, required), ScoreAgent(weak, required))
}

func TestBestAgentPrefersLowerWorkload(t *testing.T) {
	h := New(nil)
	h.UpdateAgent(AgentView{ID: "b", SuccessRate: 0.5, Workload: 0.5, Reliability: 0.5})
	h.UpdateAgent(AgentView{ID: "a", SuccessRate: 0.5, Workload: 0.2, Reliability: 0.5})

	id, _ := h.BestAgent(0)
	require.Equal(t, "a", id)
}

func TestDecomposeSequentialChainsDependencies(t *testing.T) {
	h := New(nil)
	subtasks := []Subtask{{ID: "s1"}, {ID: "s2"}, {ID: "s3"}}
	require.NoError(t, h.Decompose("c1", subtasks, Sequential))

	h.mu.Lock()
	g := h.graphs["c1"]
	h.mu.Unlock()
	require.True(t, g.IsTaskReady("s1"))
	require.False(t, g.IsTaskReady("s2"))
}

func TestDecomposeHierarchicalLevelsGateReadiness(t *testing.T) {
	h := New(nil)
	subtasks := []Subtask{
		{ID: "root", Level: 0},
		{ID: "childA", Level: 1},
		{ID: "childB", Level: 1},
	}
	require.NoError(t, h.Decompose("c1", subtasks, Hierarchical))

	h.mu.Lock()
	g := h.graphs["c1"]
	h.mu.Unlock()
	require.True(t, g.IsTaskReady("root"))
	require.False(t, g.IsTaskReady("childA"))
	require.False(t, g.IsTaskReady("childB"))
}

func TestExecuteRunsAllSubtasksInDependencyOrder(t *testing.T) {
	bus := events.NewBus()
	h := New(bus)
	h.UpdateAgent(AgentView{ID: "a", SuccessRate: 0.8, Reliability: 0.8})

	subtasks := []Subtask{{ID: "s1"}, {ID: "s2"}, {ID: "s3"}}
	require.NoError(t, h.Decompose("c1", subtasks, Sequential))

	var order []string
	var mu sync.Mutex
	run := func(ctx context.Context, st *Subtask) (interface{}, error) {
		mu.Lock()
		order = append(order, st.ID)
		mu.Unlock()
		return "ok", nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.Execute(ctx, "c1", run))
	require.Equal(t, []string{"s1", "s2", "s3"}, order)
}

func TestExecuteStopsFanOutOnFailure(t *testing.T) {
	bus := events.NewBus()
	h := New(bus)

	subtasks := []Subtask{{ID: "s1"}, {ID: "s2"}}
	require.NoError(t, h.Decompose("c1", subtasks, Sequential))

	run := func(ctx context.Context, st *Subtask) (interface{}, error) {
		if st.ID == "s1" {
			return nil, errBoom
		}
		return "ok", nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := h.Execute(ctx, "c1", run)
	require.ErrorIs(t, err, errBoom)
}

func TestTallyRequiresQuorumAndMajority(t *testing.T) {
	votes := []Vote{
		{Choice: VoteApprove}, {Choice: VoteApprove}, {Choice: VoteReject},
	}
	res := Tally("p1", votes, 10, 0.3)
	require.True(t, res.QuorumMet)
	require.True(t, res.Approved)

	short := Tally("p1", votes[:1], 10, 0.5)
	require.False(t, short.QuorumMet)
	require.False(t, short.Approved)
}

func TestRefreshTopologyGroupsCollaboratingAgents(t *testing.T) {
	h := New(nil)
	subtasks := []Subtask{{ID: "s1"}, {ID: "s2"}}
	require.NoError(t, h.Decompose("c1", subtasks, Parallel))

	h.mu.Lock()
	h.subtasks["c1"]["s1"].AssignedTo = "a"
	h.subtasks["c1"]["s2"].AssignedTo = "b"
	h.mu.Unlock()

	h.RefreshTopology()
	topo := h.Topology()
	require.Len(t, topo.Clusters, 1)
	require.ElementsMatch(t, []string{"a", "b"}, topo.Clusters[0])
}
