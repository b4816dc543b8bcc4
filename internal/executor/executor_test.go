package executor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rahul/sahayak/internal/sandbox"
	"github.com/rahul/sahayak/internal/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingDispatch tracks invocations and can fail or block per action.
type recordingDispatch struct {
	mu      sync.Mutex
	calls   []string
	fail    map[string]bool
	delay   time.Duration
	outputs map[string]any
}

func (d *recordingDispatch) fn() DispatchFunc {
	return func(ctx context.Context, action string, args map[string]any) (any, error) {
		d.mu.Lock()
		d.calls = append(d.calls, action)
		d.mu.Unlock()
		if d.delay > 0 {
			time.Sleep(d.delay)
		}
		if d.fail[action] {
			return nil, errors.New("tool blew up")
		}
		if out, ok := d.outputs[action]; ok {
			return out, nil
		}
		return "ok:" + action, nil
	}
}

func (d *recordingDispatch) called(action string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, c := range d.calls {
		if c == action {
			return true
		}
	}
	return false
}

func step(id, action string, deps ...string) *Step {
	return &Step{ID: id, Description: id, Action: action, DependsOn: deps}
}

func TestRun_OneResultPerStep(t *testing.T) {
	d := &recordingDispatch{}
	e := New(d.fn(), nil)

	plan := &Plan{Steps: []*Step{
		step("a", "t1"),
		step("b", "t2", "a"),
		step("c", "t3", "a"),
		step("d", "t4", "b", "c"),
	}}

	results, err := e.Run(context.Background(), plan)
	require.NoError(t, err)
	require.Len(t, results, 4)
	for _, s := range plan.Steps {
		res, ok := results[s.ID]
		require.True(t, ok, "missing result for %s", s.ID)
		assert.Equal(t, StatusSuccess, res.Status)
	}
}

func TestRun_CascadeSkipMentionsFailedDependency(t *testing.T) {
	d := &recordingDispatch{fail: map[string]bool{"broken": true}}
	e := New(d.fn(), nil)

	plan := &Plan{Steps: []*Step{
		step("a", "broken"),
		step("b", "never_runs", "a"),
		step("c", "never_runs_either", "b"),
	}}

	results, err := e.Run(context.Background(), plan)
	require.NoError(t, err)

	assert.Equal(t, StatusError, results["a"].Status)
	assert.Equal(t, StatusSkipped, results["b"].Status)
	assert.Contains(t, results["b"].Error, "a")
	assert.Equal(t, StatusSkipped, results["c"].Status)

	assert.False(t, d.called("never_runs"), "skipped step's tool must never be invoked")
	assert.False(t, d.called("never_runs_either"))
}

func TestRun_ReadyBatchRunsConcurrently(t *testing.T) {
	d := &recordingDispatch{delay: 150 * time.Millisecond}
	e := New(d.fn(), nil)

	plan := &Plan{Steps: []*Step{
		step("a", "t1"),
		step("b", "t2"),
		step("c", "t3"),
	}}

	start := time.Now()
	results, err := e.Run(context.Background(), plan)
	require.NoError(t, err)
	require.Len(t, results, 3)

	// Wall clock close to one delay, not three.
	assert.Less(t, time.Since(start), 400*time.Millisecond)
}

func TestRun_ContextFlowsBetweenRounds(t *testing.T) {
	var seen map[string]any
	dispatch := func(ctx context.Context, action string, args map[string]any) (any, error) {
		if action == "produce" {
			return map[string]any{"name": "artifact.txt"}, nil
		}
		seen = args
		return "done", nil
	}
	e := New(dispatch, nil)

	plan := &Plan{Steps: []*Step{
		{ID: "make", Action: "produce"},
		{ID: "use", Action: "consume", DependsOn: []string{"make"}, Args: map[string]any{
			"whole":   "make",
			"indexed": "make['name']",
		}},
	}}

	_, err := e.Run(context.Background(), plan)
	require.NoError(t, err)
	require.NotNil(t, seen)
	assert.Equal(t, map[string]any{"name": "artifact.txt"}, seen["whole"])
	assert.Equal(t, "artifact.txt", seen["indexed"])
}

func TestRun_ScriptVariablesVisibleToLaterSteps(t *testing.T) {
	runner := &fakeRunner{results: []sandbox.Result{scriptSuccess(`{"x": 5}`, `null`)}}
	var got any
	dispatch := func(ctx context.Context, action string, args map[string]any) (any, error) {
		got = args["value"]
		return nil, nil
	}
	e := &Executor{Dispatch: dispatch, Sandbox: runner}

	plan := &Plan{Steps: []*Step{
		{ID: "declare", Action: "script", Args: map[string]any{"code": "x = 5"}},
		{ID: "read", Action: "echo", DependsOn: []string{"declare"}, Args: map[string]any{"value": "x"}},
	}}

	_, err := e.Run(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, float64(5), got)
}

func TestRun_UnknownToolReportsError(t *testing.T) {
	dispatch := func(ctx context.Context, action string, args map[string]any) (any, error) {
		return nil, fmt.Errorf("tool '%s' not registered, available: file_op, shell", action)
	}
	e := New(dispatch, nil)

	plan := &Plan{Steps: []*Step{step("x", "nope")}}
	results, err := e.Run(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, StatusError, results["x"].Status)
	assert.Contains(t, results["x"].Error, "not registered")
}

func TestRun_ProgressTransitions(t *testing.T) {
	var mu sync.Mutex
	var transitions []StepStatus
	d := &recordingDispatch{fail: map[string]bool{"bad": true}}
	e := New(d.fn(), nil)
	e.Progress = func(stepID string, status StepStatus, completed, total int) {
		mu.Lock()
		transitions = append(transitions, status)
		mu.Unlock()
		assert.Equal(t, 3, total)
	}

	plan := &Plan{Steps: []*Step{
		step("good", "fine"),
		step("fails", "bad"),
		step("skipped", "x", "fails"),
	}}

	_, err := e.Run(context.Background(), plan)
	require.NoError(t, err)

	counts := map[StepStatus]int{}
	for _, s := range transitions {
		counts[s]++
	}
	assert.Equal(t, 2, counts[StatusStarting])
	assert.Equal(t, 1, counts[StatusSuccess])
	assert.Equal(t, 1, counts[StatusError])
	assert.Equal(t, 1, counts[StatusSkipped])
}

func TestValidate_RejectsBadPlans(t *testing.T) {
	cycle := &Plan{Steps: []*Step{
		step("a", "t", "b"),
		step("b", "t", "a"),
	}}
	assert.Error(t, cycle.Validate())

	unknown := &Plan{Steps: []*Step{step("a", "t", "ghost")}}
	assert.Error(t, unknown.Validate())

	selfDep := &Plan{Steps: []*Step{step("a", "t", "a")}}
	assert.Error(t, selfDep.Validate())

	dup := &Plan{Steps: []*Step{step("a", "t"), step("a", "t")}}
	assert.Error(t, dup.Validate())

	ok := &Plan{Steps: []*Step{step("a", "t"), step("b", "t", "a")}}
	assert.NoError(t, ok.Validate())
}

func TestRun_ListEmptyDirThroughRegistry(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, "empty"), 0o755))

	registry := tools.NewRegistry()
	registry.Register(tools.NewFileOpTool(root))

	e := New(registry.Dispatch, nil)
	plan := &Plan{Steps: []*Step{{
		ID:     "s1",
		Action: "file_op",
		Args:   map[string]any{"op": "list", "path": "empty"},
	}}}

	results, err := e.Run(context.Background(), plan)
	require.NoError(t, err)

	res := results["s1"]
	require.NotNil(t, res)
	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, []any{}, res.Output, "an empty directory lists as a structured empty array")
}
