package executor

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/rahul/sahayak/internal/sandbox"
)

// Executor runs one plan at a time. A single mutex guards the shared
// execution context and the completed/failed/running bookkeeping sets;
// everything else is per-step and race-free by the DAG invariant.
type Executor struct {
	Dispatch   DispatchFunc
	Sandbox    sandbox.Runner
	Regenerate RegenerateFunc
	Progress   ProgressFunc
}

func New(dispatch DispatchFunc, runner sandbox.Runner) *Executor {
	return &Executor{
		Dispatch: dispatch,
		Sandbox:  runner,
	}
}

// run-scoped state, mutated only under mu.
type runState struct {
	mu        sync.Mutex
	completed map[string]bool
	failed    map[string]bool
	running   map[string]bool
	results   map[string]*StepResult
	context   map[string]any
	total     int
}

func (st *runState) doneCount() int {
	return len(st.completed) + len(st.failed)
}

// Run drives the plan to completion and returns exactly one StepResult per
// step. Steps whose dependencies failed are skipped eagerly and never run.
func (e *Executor) Run(ctx context.Context, plan *Plan) (map[string]*StepResult, error) {
	if err := plan.Validate(); err != nil {
		return nil, fmt.Errorf("invalid plan: %w", err)
	}

	st := &runState{
		completed: make(map[string]bool),
		failed:    make(map[string]bool),
		running:   make(map[string]bool),
		results:   make(map[string]*StepResult, len(plan.Steps)),
		context:   make(map[string]any),
		total:     len(plan.Steps),
	}

	for {
		st.mu.Lock()
		if st.doneCount() == st.total {
			st.mu.Unlock()
			break
		}

		ready, resolved := e.schedule(plan, st)

		if len(ready) == 0 {
			if len(st.running) == 0 {
				// No step is ready and nothing is in flight: a malformed
				// plan left orphans. Force-resolve them as skipped.
				for _, s := range plan.Steps {
					if st.completed[s.ID] || st.failed[s.ID] {
						continue
					}
					st.failed[s.ID] = true
					st.results[s.ID] = &StepResult{
						StepID: s.ID,
						Status: StatusSkipped,
						Error:  "Dependency failed: step could not be scheduled",
					}
					e.notify(st, s.ID, StatusSkipped)
				}
			}
			st.mu.Unlock()
			continue
		}

		for _, s := range ready {
			st.running[s.ID] = true
		}
		st.mu.Unlock()

		if len(ready) == 1 {
			e.runStep(ctx, ready[0], resolved[ready[0].ID], st)
		} else {
			var wg sync.WaitGroup
			for _, s := range ready {
				wg.Add(1)
				go func(step *Step) {
					defer wg.Done()
					e.runStep(ctx, step, resolved[step.ID], st)
				}(s)
			}
			wg.Wait()
		}
	}

	return st.results, nil
}

// schedule computes the ready set and eagerly cascades failures. It must be
// called with st.mu held. Argument resolution happens here so every step in
// a batch sees the context exactly as committed by earlier rounds.
func (e *Executor) schedule(plan *Plan, st *runState) ([]*Step, map[string]map[string]any) {
	var ready []*Step
	resolved := make(map[string]map[string]any)

	for _, s := range plan.Steps {
		if st.completed[s.ID] || st.failed[s.ID] || st.running[s.ID] {
			continue
		}

		failedDep := ""
		allDone := true
		for _, dep := range s.DependsOn {
			if st.failed[dep] {
				failedDep = dep
				break
			}
			if !st.completed[dep] {
				allDone = false
			}
		}

		if failedDep != "" {
			st.failed[s.ID] = true
			st.results[s.ID] = &StepResult{
				StepID: s.ID,
				Status: StatusSkipped,
				Error:  fmt.Sprintf("Dependency failed: %s", failedDep),
			}
			e.notify(st, s.ID, StatusSkipped)
			continue
		}
		if !allDone {
			continue
		}

		ready = append(ready, s)
		resolved[s.ID] = ResolveArgs(s.Args, st.context)
	}

	return ready, resolved
}

// runStep executes one step and commits its result under the lock.
func (e *Executor) runStep(ctx context.Context, step *Step, args map[string]any, st *runState) {
	st.mu.Lock()
	e.notify(st, step.ID, StatusStarting)
	snapshot := make(map[string]any, len(st.context))
	for k, v := range st.context {
		snapshot[k] = v
	}
	st.mu.Unlock()

	var result *StepResult
	var harvested map[string]any

	if step.Action == "script" {
		code, _ := args["code"].(string)
		if code == "" {
			result = &StepResult{StepID: step.ID, Status: StatusError, Error: "script step has no code argument"}
		} else if e.Sandbox == nil {
			result = &StepResult{StepID: step.ID, Status: StatusError, Error: "no script runner configured"}
		} else {
			result, harvested = e.runScriptStep(ctx, step, code, snapshot)
		}
	} else {
		result = e.runToolStep(ctx, step, args)
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	delete(st.running, step.ID)
	st.results[step.ID] = result

	if result.Status == StatusSuccess {
		st.completed[step.ID] = true
		for k, v := range harvested {
			st.context[k] = v
		}
		if result.Output != nil {
			st.context[step.ID] = result.Output
		}
		e.notify(st, step.ID, StatusSuccess)
	} else {
		st.failed[step.ID] = true
		e.notify(st, step.ID, StatusError)
	}
}

// runToolStep calls the registered dispatcher. Tool steps are never
// retried; a dispatcher panic is converted to an error result.
func (e *Executor) runToolStep(ctx context.Context, step *Step, args map[string]any) (result *StepResult) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("tool %s panicked on step %s: %v", step.Action, step.ID, r)
			result = &StepResult{StepID: step.ID, Status: StatusError, Error: sanitizeError(fmt.Sprintf("%v", r))}
		}
	}()

	if e.Dispatch == nil {
		return &StepResult{StepID: step.ID, Status: StatusError, Error: "no tool dispatcher configured"}
	}

	output, err := e.Dispatch(ctx, step.Action, args)
	if err != nil {
		return &StepResult{StepID: step.ID, Status: StatusError, Error: sanitizeError(err.Error())}
	}
	return &StepResult{StepID: step.ID, Status: StatusSuccess, Output: output}
}

// notify fires the progress callback. Must be called with st.mu held so the
// counts are consistent with the transition being reported.
func (e *Executor) notify(st *runState, stepID string, status StepStatus) {
	if e.Progress == nil {
		return
	}
	e.Progress(stepID, status, st.doneCount(), st.total)
}
