package workflow

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

// ConditionEvaluator compiles and caches CEL programs for task guards
// (spec §4.7 "conditional" strategy, loop guards). Workflow variables are
// exposed to expressions as a single "vars" map, e.g. `vars.retries < 3`.
// This replaces the teacher's evaluateCondition, which always returned
// true.
type ConditionEvaluator struct {
	env *cel.Env

	mu       sync.Mutex
	programs map[string]cel.Program
}

func NewConditionEvaluator() (*ConditionEvaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("vars", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("create CEL env: %w", err)
	}
	return &ConditionEvaluator{env: env, programs: make(map[string]cel.Program)}, nil
}

func (c *ConditionEvaluator) compile(expr string) (cel.Program, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if prg, ok := c.programs[expr]; ok {
		return prg, nil
	}

	ast, issues := c.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile condition %q: %w", expr, issues.Err())
	}
	prg, err := c.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("build program for %q: %w", expr, err)
	}
	c.programs[expr] = prg
	return prg, nil
}

// Eval runs expr against vars and requires a boolean result.
func (c *ConditionEvaluator) Eval(expr string, vars map[string]interface{}) (bool, error) {
	prg, err := c.compile(expr)
	if err != nil {
		return false, err
	}
	out, _, err := prg.Eval(map[string]interface{}{"vars": vars})
	if err != nil {
		return false, fmt.Errorf("eval condition %q: %w", expr, err)
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("condition %q did not evaluate to a bool", expr)
	}
	return b, nil
}

// EvalAll is the conjunction of every guard in conditions; an empty list is
// vacuously true (an unconditional task).
func (c *ConditionEvaluator) EvalAll(conditions []string, vars map[string]interface{}) (bool, error) {
	for _, expr := range conditions {
		ok, err := c.Eval(expr, vars)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}
