package agent

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rahul/sahayak/internal/safety"
	"github.com/rahul/sahayak/internal/sandbox"
)

type fakeReasoner struct {
	thoughts    []Thought
	idx         int
	reflections []Reflection
	ridx        int
	subtasks    []SubTask

	thinkCalls   int
	reflectCalls int
	mergeCalls   int
	merged       string
	mergeErr     error
}

func (f *fakeReasoner) Think(ctx context.Context, in ThinkInput) (Thought, error) {
	f.thinkCalls++
	if len(f.thoughts) == 0 {
		return Thought{}, nil
	}
	t := f.thoughts[f.idx]
	if f.idx < len(f.thoughts)-1 {
		f.idx++
	}
	return t, nil
}

func (f *fakeReasoner) Reflect(ctx context.Context, goal, history, contextJSON string) (Reflection, error) {
	f.reflectCalls++
	if len(f.reflections) == 0 {
		return Reflection{Verified: true}, nil
	}
	r := f.reflections[f.ridx]
	if f.ridx < len(f.reflections)-1 {
		f.ridx++
	}
	return r, nil
}

func (f *fakeReasoner) Decompose(ctx context.Context, goal string) ([]SubTask, error) {
	return f.subtasks, nil
}

func (f *fakeReasoner) Merge(ctx context.Context, goal, results string) (string, error) {
	f.mergeCalls++
	return f.merged, f.mergeErr
}

func (f *fakeReasoner) FixScript(ctx context.Context, purpose, code, errMsg string) (string, error) {
	return code, nil
}

// fakeSandbox returns canned results and records what it ran.
type fakeSandbox struct {
	results  []sandbox.Result
	programs []string
}

func (f *fakeSandbox) Run(ctx context.Context, code string) sandbox.Result {
	f.programs = append(f.programs, code)
	if len(f.results) == 0 {
		return sandbox.Result{Output: "ok"}
	}
	r := f.results[0]
	if len(f.results) > 1 {
		f.results = f.results[1:]
	}
	return r
}

func (f *fakeSandbox) Name() string { return "fake" }

func newTestAgent(r Reasoner) *Agent {
	a := New(r, safety.NewCommandAnalyzer(), safety.NewPermissionChecker(nil, nil, true), &fakeSandbox{})
	a.WorkDir = "/tmp"
	return a
}

func TestConversationalCompletion(t *testing.T) {
	r := &fakeReasoner{
		thoughts: []Thought{
			{Reasoning: "simple question", Response: "Paris", Complete: true},
		},
	}
	a := newTestAgent(r)

	state := a.Run(context.Background(), "capital of France?")

	require.Equal(t, StatusCompleted, state.Status)
	assert.Equal(t, "Paris", state.FinalAnswer)
	assert.Zero(t, r.reflectCalls, "pure conversation must not trigger reflection")
}

func TestReflectionRejectsThenAccepts(t *testing.T) {
	r := &fakeReasoner{
		thoughts: []Thought{
			{Reasoning: "check", Action: "shell", ActionInput: "echo hello", Description: "greeting"},
			{Reasoning: "looks done", Complete: true, Response: "done early"},
			{Reasoning: "retry", Action: "shell", ActionInput: "echo world"},
			{Reasoning: "now done", Complete: true, Response: "raw answer"},
		},
		reflections: []Reflection{
			{Verified: false, Reason: "second half missing"},
			{Verified: true, Summary: "printed both words"},
		},
	}
	a := newTestAgent(r)

	state := a.Run(context.Background(), "print two words")

	require.Equal(t, StatusCompleted, state.Status)
	assert.Equal(t, "printed both words", state.FinalAnswer, "verified completion prefers the reflection summary")
	assert.Equal(t, 2, r.reflectCalls)

	// The rejected completion turn carries the reflection's reason and the
	// loop kept going afterwards.
	var rejected *Turn
	for i := range state.Turns {
		if strings.Contains(state.Turns[i].Err, "second half missing") {
			rejected = &state.Turns[i]
		}
	}
	require.NotNil(t, rejected, "rejection should be recorded on a turn")
	assert.Greater(t, len(state.Turns), rejected.Iteration, "turns continued after the rejection")
}

func TestRepetitionGuardIdenticalCommand(t *testing.T) {
	r := &fakeReasoner{
		thoughts: []Thought{
			{Reasoning: "look", Action: "shell", ActionInput: "echo same"},
		},
	}
	a := newTestAgent(r)

	state := a.Run(context.Background(), "find something")

	require.Equal(t, StatusCompleted, state.Status)
	assert.Contains(t, state.FinalAnswer, "couldn't find")
	assert.Len(t, state.Turns, 2, "guard fires on the second identical proposal")
}

func TestRepetitionGuardReadOnlyStreak(t *testing.T) {
	r := &fakeReasoner{
		thoughts: []Thought{
			{Action: "shell", ActionInput: "ls /tmp"},
			{Action: "shell", ActionInput: "ls /var"},
			{Action: "shell", ActionInput: "ls /etc"},
		},
	}
	a := newTestAgent(r)

	state := a.Run(context.Background(), "find a file")

	require.Equal(t, StatusCompleted, state.Status)
	assert.Contains(t, state.FinalAnswer, "couldn't find")
	assert.Len(t, state.Turns, 3, "third consecutive read-only lookup forces completion")
}

func TestBlockedActionRefusedNotCrashed(t *testing.T) {
	r := &fakeReasoner{
		thoughts: []Thought{
			{Reasoning: "power off", Action: "shell", ActionInput: "shutdown now"},
			{Reasoning: "fine", Complete: true, Response: "could not do it"},
		},
		reflections: []Reflection{{Verified: true, Summary: "refused as required"}},
	}
	a := newTestAgent(r)

	state := a.Run(context.Background(), "turn off the machine")

	require.Equal(t, StatusCompleted, state.Status)
	require.NotEmpty(t, state.Turns)
	assert.Contains(t, state.Turns[0].Err, "blocked")
	assert.Empty(t, state.Turns[0].Result, "a blocked command must not execute")
}

func TestConfirmationTimeoutDenies(t *testing.T) {
	r := &fakeReasoner{
		thoughts: []Thought{
			{Action: "shell", ActionInput: "rm important.txt"},
			{Complete: true, Response: "stopping"},
		},
		reflections: []Reflection{{Verified: true, Summary: "stopped"}},
	}
	a := newTestAgent(r)
	a.ConfirmTimeout = 50 * time.Millisecond
	a.Confirm = func(command, reason, message string) bool {
		time.Sleep(time.Second)
		return true
	}

	start := time.Now()
	state := a.Run(context.Background(), "delete a file")

	require.NotEmpty(t, state.Turns)
	assert.Contains(t, state.Turns[0].Err, "denied")
	assert.Less(t, time.Since(start), time.Second, "timeout must not wait for the slow callback")
}

func TestConfirmationApproveRuns(t *testing.T) {
	asked := 0
	r := &fakeReasoner{
		thoughts: []Thought{
			{Action: "shell", ActionInput: "chmod 644 /tmp/nothing_here_at_all 2>/dev/null; echo approved-ran"},
			{Complete: true, Response: "done"},
		},
		reflections: []Reflection{{Verified: true, Summary: "done"}},
	}
	a := newTestAgent(r)
	a.Confirm = func(command, reason, message string) bool {
		asked++
		return true
	}

	state := a.Run(context.Background(), "loosen permissions")

	require.NotEmpty(t, state.Turns)
	assert.Equal(t, 1, asked)
	assert.Contains(t, state.Turns[0].Result, "approved-ran")
}

func TestNoConfirmChannelRefuses(t *testing.T) {
	r := &fakeReasoner{
		thoughts: []Thought{
			{Action: "shell", ActionInput: "rm notes.txt"},
			{Complete: true, Response: "ok"},
		},
		reflections: []Reflection{{Verified: true}},
	}
	a := newTestAgent(r)
	a.Confirm = nil

	state := a.Run(context.Background(), "clean up")

	require.NotEmpty(t, state.Turns)
	assert.Contains(t, state.Turns[0].Err, "refused")
}

func TestThreeConsecutiveFailures(t *testing.T) {
	r := &fakeReasoner{
		thoughts: []Thought{
			{Action: "shell", ActionInput: "false one"},
			{Action: "shell", ActionInput: "false two"},
			{Action: "shell", ActionInput: "false three"},
		},
	}
	a := newTestAgent(r)

	state := a.Run(context.Background(), "do something doomed")

	require.Equal(t, StatusFailed, state.Status)
	assert.NotEmpty(t, state.LastError)
	assert.Len(t, state.Turns, 3)
}

func TestSuccessResetsFailureCounter(t *testing.T) {
	r := &fakeReasoner{
		thoughts: []Thought{
			{Action: "shell", ActionInput: "false one"},
			{Action: "shell", ActionInput: "false two"},
			{Action: "shell", ActionInput: "echo recovered", Description: "recovery step"},
			{Action: "shell", ActionInput: "false three"},
			{Action: "shell", ActionInput: "false four"},
			{Complete: true, Response: "giving up"},
		},
		reflections: []Reflection{{Verified: true, Summary: "partial"}},
	}
	a := newTestAgent(r)

	state := a.Run(context.Background(), "flaky work")

	assert.NotEqual(t, StatusFailed, state.Status, "a success in between resets the counter")
	assert.Equal(t, "recovered", state.Context["recovery_step"])
}

func TestUnknownToolIsError(t *testing.T) {
	r := &fakeReasoner{
		thoughts: []Thought{
			{Action: "teleport", ActionInput: "somewhere"},
			{Complete: true, Response: "ok"},
		},
		reflections: []Reflection{{Verified: true}},
	}
	a := newTestAgent(r)

	state := a.Run(context.Background(), "impossible")

	require.NotEmpty(t, state.Turns)
	assert.Contains(t, state.Turns[0].Err, "unknown tool")
}

func TestScriptActionInjectsContext(t *testing.T) {
	sb := &fakeSandbox{results: []sandbox.Result{{Output: "ran"}}}
	r := &fakeReasoner{
		thoughts: []Thought{
			{Action: "shell", ActionInput: "echo forty-two", Description: "the answer"},
			{Action: "script", ActionInput: "print(the_answer)"},
			{Complete: true, Response: "ok"},
		},
		reflections: []Reflection{{Verified: true, Summary: "ok"}},
	}
	a := newTestAgent(r)
	a.Sandbox = sb

	state := a.Run(context.Background(), "use earlier output")

	require.Equal(t, StatusCompleted, state.Status)
	require.Len(t, sb.programs, 1)
	assert.Contains(t, sb.programs[0], "the_answer = _json.loads(")
	assert.Contains(t, sb.programs[0], "print(the_answer)")
}

func TestMaxIterations(t *testing.T) {
	r := &fakeReasoner{
		thoughts: []Thought{{Reasoning: "hmm", Confidence: 0}},
	}
	a := newTestAgent(r)
	a.MaxIterations = 3

	state := a.Run(context.Background(), "never finishes")

	assert.Equal(t, StatusMaxIterations, state.Status)
	assert.Len(t, state.Turns, 3)
}

func TestProgressCallbackFires(t *testing.T) {
	r := &fakeReasoner{
		thoughts: []Thought{{Response: "hi", Complete: true}},
	}
	a := newTestAgent(r)

	var iterations []int
	a.Progress = func(iteration int, status Status, thoughtPreview, actionName string) {
		iterations = append(iterations, iteration)
	}

	a.Run(context.Background(), "say hi")

	assert.Equal(t, []int{1}, iterations)
}

func TestContextKeyFallback(t *testing.T) {
	key := contextKey(Thought{Action: "shell"}, 4)
	assert.Equal(t, "shell_4", key)

	key = contextKey(Thought{Action: "shell", Description: "Disk Usage Report!"}, 4)
	assert.Equal(t, "disk_usage_report", key)
}

func TestSanitizeTraceback(t *testing.T) {
	msg := "Traceback (most recent call last):\n  File \"x.py\", line 1\nValueError: bad input"
	assert.Equal(t, "ValueError: bad input", sanitize(msg))
}

func TestHistoryFeedsFirstObservation(t *testing.T) {
	r := &fakeReasoner{
		thoughts: []Thought{{Response: "hello Raj", Complete: true}},
	}
	a := newTestAgent(r)
	a.History = "[human] my name is Raj\n[ai] noted"

	state := a.Run(context.Background(), "greet me by name")

	require.Equal(t, StatusCompleted, state.Status)
	require.NotEmpty(t, state.Turns)
	first := state.Turns[0].Observation
	assert.Equal(t, "initial", first.Source)
	assert.Contains(t, first.Content, "my name is Raj")
}
