package graph

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/swarmguard/coordination/internal/coordination/types"
)

func linear(t *testing.T) *Graph {
	t.Helper()
	g := New()
	require.NoError(t, g.AddTask("a", nil))
	require.NoError(t, g.AddTask("b", []string{"a"}))
	require.NoError(t, g.AddTask("c", []string{"b"}))
	return g
}

func TestAddTaskRejectsUnknownDependency(t *testing.T) {
	g := New()
	err := g.AddTask("a", []string{"b"})
	require.ErrorIs(t, err, types.ErrUnknownDependency)
	// the rejected insertion must not leave partial state behind
	require.Equal(t, 0, g.Size())
}

func TestSortByDependenciesRejectsCycle(t *testing.T) {
	deps := map[string][]string{"a": {"b"}, "b": {"a"}}
	_, err := SortByDependencies([]string{"a", "b"}, func(id string) []string { return deps[id] })
	require.ErrorIs(t, err, types.ErrCircularDependency)
}

func TestSortByDependenciesRejectsUnknownDependency(t *testing.T) {
	deps := map[string][]string{"a": {"ghost"}}
	_, err := SortByDependencies([]string{"a"}, func(id string) []string { return deps[id] })
	require.ErrorIs(t, err, types.ErrUnknownDependency)
}

func TestSortByDependenciesOrdersDependenciesFirst(t *testing.T) {
	deps := map[string][]string{"deploy": {"test", "lint"}, "test": {"build"}, "lint": {"build"}, "build": nil}
	order, err := SortByDependencies([]string{"deploy", "test", "lint", "build"}, func(id string) []string { return deps[id] })
	require.NoError(t, err)
	require.Len(t, order, 4)

	pos := make(map[string]int, len(order))
	for i, id := range order {
		pos[id] = i
	}
	require.Less(t, pos["build"], pos["test"])
	require.Less(t, pos["build"], pos["lint"])
	require.Less(t, pos["test"], pos["deploy"])
	require.Less(t, pos["lint"], pos["deploy"])
}

func TestReadinessIsMonotone(t *testing.T) {
	g := linear(t)
	require.True(t, g.IsTaskReady("a"))
	require.False(t, g.IsTaskReady("b"))
	require.False(t, g.IsTaskReady("c"))

	newlyReady := g.MarkCompleted("a")
	require.Equal(t, []string{"b"}, newlyReady)
	require.True(t, g.IsTaskReady("b"))

	newlyReady = g.MarkCompleted("b")
	require.Equal(t, []string{"c"}, newlyReady)
	require.True(t, g.IsTaskReady("c"))
}

func TestTopologicalSortOrdersDependenciesFirst(t *testing.T) {
	g := New()
	require.NoError(t, g.AddTask("build", nil))
	require.NoError(t, g.AddTask("test", []string{"build"}))
	require.NoError(t, g.AddTask("lint", []string{"build"}))
	require.NoError(t, g.AddTask("deploy", []string{"test", "lint"}))

	order, err := g.TopologicalSort()
	require.NoError(t, err)
	require.Len(t, order, 4)

	pos := make(map[string]int, len(order))
	for i, id := range order {
		pos[id] = i
	}
	require.Less(t, pos["build"], pos["test"])
	require.Less(t, pos["build"], pos["lint"])
	require.Less(t, pos["test"], pos["deploy"])
	require.Less(t, pos["lint"], pos["deploy"])
}

func TestMarkFailedClosureIsTransitive(t *testing.T) {
	g := New()
	require.NoError(t, g.AddTask("root", nil))
	require.NoError(t, g.AddTask("child", []string{"root"}))
	require.NoError(t, g.AddTask("grandchild", []string{"child"}))
	require.NoError(t, g.AddTask("unrelated", nil))

	unreachable := g.MarkFailed("root")
	require.ElementsMatch(t, []string{"child", "grandchild"}, unreachable)
	require.False(t, g.IsTaskReady("child"))
	require.False(t, g.IsTaskReady("grandchild"))
	require.True(t, g.IsTaskReady("unrelated"))
}

func TestFindCriticalPath(t *testing.T) {
	g := New()
	require.NoError(t, g.AddTask("a", nil))
	require.NoError(t, g.AddTask("b", []string{"a"}))
	require.NoError(t, g.AddTask("c", []string{"b"}))
	require.NoError(t, g.AddTask("d", []string{"a"}))

	path, err := g.FindCriticalPath()
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "c"}, path)
}

func TestRemoveTaskClearsEdges(t *testing.T) {
	g := linear(t)
	g.RemoveTask("b")
	require.Equal(t, 2, g.Size())
	require.True(t, g.IsTaskReady("a"))
	// c's dependency on b is gone, so c is now a root
	require.True(t, g.IsTaskReady("c"))
}

func TestAddTaskWithAlreadyCompletedDependency(t *testing.T) {
	g := New()
	require.NoError(t, g.AddTask("a", nil))
	g.MarkCompleted("a")
	require.NoError(t, g.AddTask("b", []string{"a"}))
	require.True(t, g.IsTaskReady("b"), "joining a dependency that already completed must not block readiness")
}
