// Package graph maintains the dependency DAG over tasks: which tasks are
// ready to run, which become ready once a task completes, and which are
// unreachable once a task fails. It is the leaf dependency of the
// coordination substrate — the scheduler, hive, and workflow packages all
// consult it instead of tracking dependency edges themselves.
package graph

import (
	"fmt"
	"sort"
	"sync"

	"github.com/swarmguard/coordination/internal/coordination/types"
)

// node is one task's position in the DAG. inDegree counts unresolved
// dependencies still to complete; it is decremented as those dependencies
// reach a terminal success.
type node struct {
	id        string
	deps      map[string]struct{}
	dependents map[string]struct{}
	inDegree  int
	done      bool
	failed    bool
}

// Graph tracks task dependency edges and derives readiness from them. It
// mirrors the teacher's DAG-engine buildDAG/Kahn's-algorithm split, but as a
// long-lived mutable structure instead of a one-shot workflow compile: tasks
// are added and resolved incrementally as they arrive and finish.
type Graph struct {
	mu    sync.RWMutex
	nodes map[string]*node
}

func New() *Graph {
	return &Graph{nodes: make(map[string]*node)}
}

// AddTask registers a task with its declared dependencies. Every dependency
// must already be known to the graph — either still pending/running or
// already completed — or AddTask fails with ErrUnknownDependency and adds
// nothing; callers inserting a whole pre-declared task set at once (a
// workflow definition, a hive decomposition) must insert in an order where
// each task's dependencies were added first, e.g. via SortByDependencies.
func (g *Graph) AddTask(id string, dependsOn []string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.nodes[id]; exists {
		return fmt.Errorf("task %s already in graph", id)
	}

	for _, dep := range dependsOn {
		if _, ok := g.nodes[dep]; !ok {
			return fmt.Errorf("%w: task %s depends on unknown task %s", types.ErrUnknownDependency, id, dep)
		}
	}

	n := &node{
		id:         id,
		deps:       make(map[string]struct{}, len(dependsOn)),
		dependents: make(map[string]struct{}),
	}
	for _, dep := range dependsOn {
		n.deps[dep] = struct{}{}
	}
	g.nodes[id] = n

	inDegree := 0
	var failedDep bool
	for _, dep := range dependsOn {
		parent := g.nodes[dep]
		parent.dependents[id] = struct{}{}
		switch {
		case parent.failed:
			failedDep = true
		case !parent.done:
			inDegree++
		}
	}
	n.inDegree = inDegree
	n.failed = failedDep

	if g.hasCycleLocked() {
		g.removeLocked(id)
		return fmt.Errorf("%w: adding %s introduces a cycle", types.ErrCircularDependency, id)
	}

	return nil
}

// SortByDependencies orders a not-yet-inserted batch of task ids so that
// every dependency precedes its dependents, for callers that must insert a
// whole pre-declared task set (a workflow definition, a hive decomposition)
// into a fresh Graph via AddTask in one pass. depsOf returns the declared
// dependencies of one id in the batch. Returns ErrUnknownDependency if a
// dependency falls outside the batch entirely, or ErrCircularDependency if
// the declared edges contain a cycle.
func SortByDependencies(ids []string, depsOf func(id string) []string) ([]string, error) {
	known := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		known[id] = struct{}{}
	}
	for _, id := range ids {
		for _, dep := range depsOf(id) {
			if _, ok := known[dep]; !ok {
				return nil, fmt.Errorf("%w: task %s depends on unknown task %s", types.ErrUnknownDependency, id, dep)
			}
		}
	}

	inDegree := make(map[string]int, len(ids))
	dependents := make(map[string][]string, len(ids))
	for _, id := range ids {
		deps := depsOf(id)
		inDegree[id] = len(deps)
		for _, dep := range deps {
			dependents[dep] = append(dependents[dep], id)
		}
	}

	var queue []string
	for _, id := range ids {
		if inDegree[id] == 0 {
			queue = append(queue, id)
		}
	}

	order := make([]string, 0, len(ids))
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		order = append(order, cur)
		for _, child := range dependents[cur] {
			inDegree[child]--
			if inDegree[child] == 0 {
				queue = append(queue, child)
			}
		}
	}

	if len(order) != len(ids) {
		return nil, fmt.Errorf("%w: task batch contains a cycle", types.ErrCircularDependency)
	}
	return order, nil
}

// RemoveTask deletes a task and its edges from the graph, e.g. when a task
// is cancelled before it ever runs.
func (g *Graph) RemoveTask(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.removeLocked(id)
}

func (g *Graph) removeLocked(id string) {
	n, ok := g.nodes[id]
	if !ok {
		return
	}
	for dep := range n.deps {
		if parent, ok := g.nodes[dep]; ok {
			delete(parent.dependents, id)
		}
	}
	for child := range n.dependents {
		if c, ok := g.nodes[child]; ok {
			delete(c.deps, id)
			if !n.done && c.inDegree > 0 {
				c.inDegree--
			}
		}
	}
	delete(g.nodes, id)
}

// MarkCompleted records id as successfully finished and decrements the
// in-degree of every dependent, returning the ids that became ready as a
// result (spec §8 property: readiness is monotone — a completion can only
// open up new ready tasks, never close any).
func (g *Graph) MarkCompleted(id string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	n, ok := g.nodes[id]
	if !ok {
		return nil
	}
	n.done = true

	var newlyReady []string
	for childID := range n.dependents {
		child := g.nodes[childID]
		if child == nil || child.done || child.failed {
			continue
		}
		child.inDegree--
		if child.inDegree == 0 {
			newlyReady = append(newlyReady, childID)
		}
	}
	return newlyReady
}

// MarkFailed records id as failed and returns the transitive closure of
// dependents that can no longer run (spec §8 property: failure propagation
// is transitively closed — every descendant, not just direct children, is
// reported unreachable).
func (g *Graph) MarkFailed(id string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	n, ok := g.nodes[id]
	if !ok {
		return nil
	}
	n.failed = true

	var unreachable []string
	seen := map[string]bool{id: true}
	queue := []string{id}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		curNode := g.nodes[cur]
		if curNode == nil {
			continue
		}
		for childID := range curNode.dependents {
			if seen[childID] {
				continue
			}
			seen[childID] = true
			if child := g.nodes[childID]; child != nil {
				child.failed = true
			}
			unreachable = append(unreachable, childID)
			queue = append(queue, childID)
		}
	}
	return unreachable
}

// IsTaskReady reports whether every dependency of id has completed and none
// has failed.
func (g *Graph) IsTaskReady(id string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[id]
	if !ok {
		return false
	}
	return !n.done && !n.failed && n.inDegree == 0
}

// GetReadyTasks returns every task whose dependencies are all satisfied and
// that has not itself run yet.
func (g *Graph) GetReadyTasks() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var ready []string
	for id, n := range g.nodes {
		if !n.done && !n.failed && n.inDegree == 0 {
			ready = append(ready, id)
		}
	}
	return ready
}

// TopologicalSort returns a valid execution order over every tracked node,
// completed or not, via Kahn's algorithm, or ErrCycleDetected if the graph
// is not acyclic. AddTask already rejects cycles on insertion, so this
// mainly serves callers that want a deterministic, conflict-free full
// ordering (nodes that become ready together are taken in id order), e.g.
// the workflow package's Validate.
func (g *Graph) TopologicalSort() ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	inDegree := make(map[string]int, len(g.nodes))
	for id, n := range g.nodes {
		inDegree[id] = len(n.deps)
	}

	var queue []string
	for id, d := range inDegree {
		if d == 0 {
			queue = append(queue, id)
		}
	}
	sort.Strings(queue)

	var order []string
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		order = append(order, cur)
		var ready []string
		for childID := range g.nodes[cur].dependents {
			inDegree[childID]--
			if inDegree[childID] == 0 {
				ready = append(ready, childID)
			}
		}
		sort.Strings(ready)
		queue = append(queue, ready...)
	}

	if len(order) != len(g.nodes) {
		return nil, types.ErrCycleDetected
	}
	return order, nil
}

// FindCriticalPath returns the longest chain of dependencies (by node
// count) terminating in a leaf, i.e. the path whose length lower-bounds the
// workflow's completion time under infinite parallelism.
func (g *Graph) FindCriticalPath() ([]string, error) {
	order, err := g.TopologicalSort()
	if err != nil {
		return nil, err
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	longest := make(map[string]int, len(order))
	prev := make(map[string]string, len(order))
	for _, id := range order {
		n := g.nodes[id]
		best := 0
		var bestParent string
		for dep := range n.deps {
			if longest[dep]+1 > best {
				best = longest[dep] + 1
				bestParent = dep
			}
		}
		longest[id] = best
		if bestParent != "" {
			prev[id] = bestParent
		}
	}

	var endID string
	var endLen = -1
	for id, l := range longest {
		if l > endLen {
			endLen = l
			endID = id
		}
	}
	if endID == "" {
		return nil, nil
	}

	var path []string
	for cur := endID; cur != ""; {
		path = append([]string{cur}, path...)
		cur = prev[cur]
	}
	return path, nil
}

// hasCycleLocked runs a DFS cycle check over the whole graph. Called while
// holding g.mu for writing.
func (g *Graph) hasCycleLocked() bool {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(g.nodes))

	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = gray
		n := g.nodes[id]
		for dep := range n.deps {
			switch color[dep] {
			case gray:
				return true
			case white:
				if visit(dep) {
					return true
				}
			}
		}
		color[id] = black
		return false
	}

	for id := range g.nodes {
		if color[id] == white {
			if visit(id) {
				return true
			}
		}
	}
	return false
}

// Size returns the number of tasks currently tracked.
func (g *Graph) Size() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}
