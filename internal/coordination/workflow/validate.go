package workflow

import (
	"fmt"

	"github.com/swarmguard/coordination/internal/coordination/graph"
)

// Validate checks a Workflow before execution (spec §4.7 "Validation before
// execution"): every task carries a non-empty id/task type, and the
// declared dependencies form a DAG. It reuses the Dependency Graph package's
// own topological sort rather than reimplementing Kahn's algorithm here.
func Validate(wf Workflow) error {
	if len(wf.Tasks) == 0 {
		return fmt.Errorf("workflow %s: no tasks defined", wf.ID)
	}

	byID := make(map[string]TaskDef, len(wf.Tasks))
	ids := make([]string, 0, len(wf.Tasks))
	for _, t := range wf.Tasks {
		if t.ID == "" {
			return fmt.Errorf("workflow %s: task with empty id", wf.ID)
		}
		if t.Kind == "" || t.TaskType == "" {
			return fmt.Errorf("workflow %s: task %s missing a non-empty task definition (kind/type)", wf.ID, t.ID)
		}
		byID[t.ID] = t
		ids = append(ids, t.ID)
	}

	order, err := graph.SortByDependencies(ids, func(id string) []string { return byID[id].DependsOn })
	if err != nil {
		return fmt.Errorf("workflow %s: %w", wf.ID, err)
	}

	g := graph.New()
	for _, id := range order {
		if err := g.AddTask(id, byID[id].DependsOn); err != nil {
			return fmt.Errorf("workflow %s: %w", wf.ID, err)
		}
	}
	if _, err := g.TopologicalSort(); err != nil {
		return fmt.Errorf("workflow %s: %w", wf.ID, err)
	}
	return nil
}
