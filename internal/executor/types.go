// Package executor drives a flat DAG of plan steps to completion with safe
// parallelism, a shared execution context, and self-healing script retries.
package executor

import (
	"context"
	"fmt"
	"strings"
)

// Step is one node of a plan. Immutable once the plan is built.
type Step struct {
	ID          string         `json:"id"`
	Description string         `json:"description"`
	Action      string         `json:"action"`
	Args        map[string]any `json:"args"`
	DependsOn   []string       `json:"depends_on"`
}

// Plan is an ordered list of steps forming a DAG via DependsOn edges.
type Plan struct {
	Steps []*Step `json:"steps"`
}

// StepStatus is reported on every step state transition.
type StepStatus string

const (
	StatusStarting StepStatus = "starting"
	StatusSuccess  StepStatus = "success"
	StatusError    StepStatus = "error"
	StatusSkipped  StepStatus = "skipped"
)

// StepResult is written exactly once per step per run.
type StepResult struct {
	StepID string     `json:"step_id"`
	Status StepStatus `json:"status"`
	Output any        `json:"output,omitempty"`
	Error  string     `json:"error,omitempty"`
}

// ProgressFunc is invoked on every step state transition.
type ProgressFunc func(stepID string, status StepStatus, completed, total int)

// DispatchFunc invokes a registered tool by action name. An unregistered
// name must be reported as an error, not a panic.
type DispatchFunc func(ctx context.Context, action string, args map[string]any) (any, error)

// RegenerateFunc asks an external reasoner for a fixed version of a failing
// script, given the code, the captured error and a preview of the context
// variables currently available.
type RegenerateFunc func(ctx context.Context, code, errMsg, contextPreview string) (string, error)

// Validate checks the DAG invariants: unique ids, dependencies that
// reference steps in the same plan, no self-edges, no cycles.
func (p *Plan) Validate() error {
	ids := make(map[string]*Step, len(p.Steps))
	for _, s := range p.Steps {
		if s.ID == "" {
			return fmt.Errorf("step with empty id")
		}
		if _, dup := ids[s.ID]; dup {
			return fmt.Errorf("duplicate step id '%s'", s.ID)
		}
		ids[s.ID] = s
	}

	for _, s := range p.Steps {
		for _, dep := range s.DependsOn {
			if dep == s.ID {
				return fmt.Errorf("step '%s' depends on itself", s.ID)
			}
			if _, ok := ids[dep]; !ok {
				return fmt.Errorf("unknown dependency '%s' in step '%s'", dep, s.ID)
			}
		}
	}

	if cycle := p.detectCycle(); len(cycle) > 0 {
		return fmt.Errorf("circular dependency detected: %s", strings.Join(cycle, " -> "))
	}
	return nil
}

// detectCycle runs a DFS over the dependency edges and returns the first
// cycle found, or nil.
func (p *Plan) detectCycle() []string {
	edges := make(map[string][]string, len(p.Steps))
	for _, s := range p.Steps {
		edges[s.ID] = s.DependsOn
	}

	visited := make(map[string]bool)
	onStack := make(map[string]bool)
	var path []string

	var visit func(id string) []string
	visit = func(id string) []string {
		visited[id] = true
		onStack[id] = true
		path = append(path, id)

		for _, dep := range edges[id] {
			if !visited[dep] {
				if cycle := visit(dep); cycle != nil {
					return cycle
				}
			} else if onStack[dep] {
				for i, n := range path {
					if n == dep {
						return append(path[i:len(path):len(path)], dep)
					}
				}
			}
		}

		onStack[id] = false
		path = path[:len(path)-1]
		return nil
	}

	for _, s := range p.Steps {
		if !visited[s.ID] {
			if cycle := visit(s.ID); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}
