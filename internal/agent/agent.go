package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/exec"
	"regexp"
	"runtime"
	"strings"
	"time"

	"github.com/rahul/sahayak/internal/observability"
	"github.com/rahul/sahayak/internal/safety"
	"github.com/rahul/sahayak/internal/sandbox"
)

const (
	defaultMaxIterations  = 15
	defaultConfirmTimeout = 60 * time.Second
	shellActionTimeout    = 2 * time.Minute
	contextDumpLimit      = 4000
	observationLimit      = 2000
)

// DefaultReadOnlyCommands is the repetition guard's built-in whitelist of
// search and listing commands.
var DefaultReadOnlyCommands = []string{"ls", "find", "grep", "rg", "cat", "pwd", "which", "head", "tail"}

// ConfirmFunc asks a human whether a flagged action may run. The agent
// awaits it with a bounded timeout and treats timeout as denial.
type ConfirmFunc func(command, reason, message string) bool

// Agent runs the observe/think/act/reflect loop towards one goal.
type Agent struct {
	Reasoner Reasoner
	Analyzer *safety.CommandAnalyzer
	Checker  *safety.PermissionChecker
	Sandbox  sandbox.Runner
	Confirm  ConfirmFunc
	Events   *observability.Logger
	Progress ProgressFunc

	ChatID string
	TaskID string

	MaxIterations       int
	ConfirmTimeout      time.Duration
	RequireConfirmation bool
	ReadOnlyCommands    []string
	WorkDir             string

	// History carries recent conversation context into the first
	// observation, so the goal is read against what was said before.
	History string

	isSubAgent bool
}

func New(reasoner Reasoner, analyzer *safety.CommandAnalyzer, checker *safety.PermissionChecker, runner sandbox.Runner) *Agent {
	home, _ := os.UserHomeDir()
	return &Agent{
		Reasoner:            reasoner,
		Analyzer:            analyzer,
		Checker:             checker,
		Sandbox:             runner,
		MaxIterations:       defaultMaxIterations,
		ConfirmTimeout:      defaultConfirmTimeout,
		RequireConfirmation: true,
		ReadOnlyCommands:    DefaultReadOnlyCommands,
		WorkDir:             home,
	}
}

func (a *Agent) maxIterations() int {
	if a.MaxIterations > 0 {
		return a.MaxIterations
	}
	return defaultMaxIterations
}

func (a *Agent) confirmTimeout() time.Duration {
	if a.ConfirmTimeout > 0 {
		return a.ConfirmTimeout
	}
	return defaultConfirmTimeout
}

// Run drives the loop to a terminal state. It never returns a nil State and
// never panics on reasoning failures; a bad turn simply makes no progress.
func (a *Agent) Run(ctx context.Context, goal string) *State {
	state := &State{Goal: goal, Status: StatusRunning, Context: make(map[string]any)}

	if !a.isSubAgent {
		if a.runDecomposed(ctx, goal, state) {
			return state
		}
	}

	obs := Observation{Content: "ready", Source: "initial"}
	if a.History != "" {
		obs.Content = "Recent conversation:\n" + a.History
	}
	consecutiveFailures := 0

	for iteration := 1; iteration <= a.maxIterations(); iteration++ {
		turn := Turn{Iteration: iteration, Observation: obs}

		thought, err := a.Reasoner.Think(ctx, a.thinkInput(goal, state, obs))
		if err != nil {
			log.Printf("[agent] reasoning failed on iteration %d: %v", iteration, err)
			turn.Err = fmt.Sprintf("reasoning failed: %v", err)
			state.Turns = append(state.Turns, turn)
			a.report(iteration, state.Status, "", "")
			continue
		}
		turn.Thought = thought
		a.report(iteration, state.Status, preview(thought.Reasoning), thought.Action)

		if thought.Complete || thought.Action == "done" {
			if done := a.checkCompletion(ctx, goal, state, &turn, thought); done {
				state.Turns = append(state.Turns, turn)
				return state
			}
			obs = Observation{Content: turn.Err, Source: "reflection"}
			state.Turns = append(state.Turns, turn)
			continue
		}

		if thought.Action == "" {
			obs = Observation{Content: "no action was proposed; decide a concrete next step or finish", Source: "action"}
			state.Turns = append(state.Turns, turn)
			continue
		}

		turn.ActionName = thought.Action
		turn.ActionInput = thought.ActionInput

		if msg, stuck := a.checkRepetition(state.Turns, thought.Action, thought.ActionInput); stuck {
			turn.Err = "repetition guard tripped"
			state.Status = StatusCompleted
			state.FinalAnswer = msg
			state.Turns = append(state.Turns, turn)
			return state
		}

		if refusal, allowed := a.gate(thought.Action, thought.ActionInput); !allowed {
			turn.Err = refusal
			obs = Observation{Content: refusal, Source: "safety"}
			consecutiveFailures++
			state.Turns = append(state.Turns, turn)
			if consecutiveFailures >= 3 {
				state.Status = StatusFailed
				state.LastError = refusal
				return state
			}
			continue
		}

		if a.Events != nil {
			a.Events.LogAction(a.ChatID, a.TaskID, thought.Action, thought.ActionInput)
		}

		output, actErr := a.act(ctx, thought.Action, thought.ActionInput, state.Context)
		if actErr != nil {
			msg := sanitize(actErr.Error())
			turn.Err = msg
			obs = Observation{Content: "action failed: " + msg, Source: "action"}
			consecutiveFailures++
			state.Turns = append(state.Turns, turn)
			if consecutiveFailures >= 3 {
				state.Status = StatusFailed
				state.LastError = msg
				return state
			}
			continue
		}

		consecutiveFailures = 0
		turn.Result = output
		state.Context[contextKey(thought, iteration)] = output
		obs = Observation{Content: truncate(output, observationLimit), Source: "action"}
		state.Turns = append(state.Turns, turn)
	}

	state.Status = StatusMaxIterations
	return state
}

// checkCompletion decides whether a claimed completion stands. It returns
// true when the run is over; otherwise turn.Err explains the rejection.
func (a *Agent) checkCompletion(ctx context.Context, goal string, state *State, turn *Turn, thought Thought) bool {
	// A purely conversational run needs no verification.
	if !state.UsedTools() {
		state.Status = StatusCompleted
		state.FinalAnswer = firstNonEmpty(thought.Response, thought.Reasoning)
		return true
	}

	refl, err := a.Reasoner.Reflect(ctx, goal, summarizeTurns(state.Turns, len(state.Turns)), contextDump(state.Context))
	if a.Events != nil {
		a.Events.LogReflection(a.ChatID, a.TaskID, err == nil && refl.Verified, refl.Reason)
	}
	if err == nil && refl.Verified {
		state.Status = StatusCompleted
		state.FinalAnswer = firstNonEmpty(refl.Summary, thought.Response, thought.Reasoning)
		return true
	}

	reason := "completion could not be verified"
	if err == nil && refl.Reason != "" {
		reason = refl.Reason
	}
	turn.Err = "completion rejected: " + reason
	return false
}

// checkRepetition detects the agent spinning its wheels: the same command
// again within the recent turns, or a third consecutive read-only lookup.
func (a *Agent) checkRepetition(turns []Turn, action, input string) (string, bool) {
	recent := turns
	if len(recent) > 5 {
		recent = recent[len(recent)-5:]
	}

	for _, t := range recent {
		if t.ActionName == action && t.ActionInput == input && input != "" {
			return "I couldn't find what you're looking for; I kept arriving at the same step without new information. Try rephrasing the goal or narrowing it down.", true
		}
	}

	if action == "shell" && a.isReadOnly(input) {
		streak := 0
		for i := len(turns) - 1; i >= 0; i-- {
			if turns[i].ActionName == "shell" && a.isReadOnly(turns[i].ActionInput) {
				streak++
				continue
			}
			break
		}
		if streak >= 2 {
			return "I couldn't find what you're looking for after several searches. Try rephrasing the goal or pointing me at a more specific location.", true
		}
	}

	return "", false
}

func (a *Agent) isReadOnly(command string) bool {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return false
	}
	base := fields[0]
	if idx := strings.LastIndex(base, "/"); idx >= 0 {
		base = base[idx+1:]
	}
	whitelist := a.ReadOnlyCommands
	if len(whitelist) == 0 {
		whitelist = DefaultReadOnlyCommands
	}
	for _, w := range whitelist {
		if base == w {
			return true
		}
	}
	return false
}

// gate applies the safety analysis to shell and script actions. It returns
// (refusal message, false) when the action must not run.
func (a *Agent) gate(action, input string) (string, bool) {
	var finding safety.Finding
	var pathLevel safety.AccessLevel
	var worstPath string

	switch action {
	case "shell":
		finding = a.Analyzer.ClassifyCommand(input)
		if a.Checker != nil {
			pathLevel, worstPath = a.Checker.CheckCommand(input)
		}
	case "script":
		finding = a.Analyzer.ClassifyScript(input)
	default:
		return "", true
	}

	verdict := "allowed"
	defer func() {
		if a.Events != nil {
			a.Events.LogSafety(a.ChatID, a.TaskID, truncate(input, 200), finding.Level.String(), verdict)
		}
	}()

	if finding.Level >= safety.Blocked {
		verdict = "refused"
		return fmt.Sprintf("action blocked: %s", finding.Reason), false
	}
	if pathLevel == safety.Sensitive || pathLevel == safety.Denied {
		verdict = "refused"
		return fmt.Sprintf("action blocked: access to %s is not permitted", worstPath), false
	}

	needsConfirm := finding.Level >= safety.Warning || pathLevel == safety.NeedsConfirmation
	if !needsConfirm || !a.RequireConfirmation {
		return "", true
	}

	if a.Confirm == nil {
		verdict = "refused"
		return "action refused: it requires confirmation but no confirmation channel is available", false
	}

	reason := finding.Reason
	if reason == "" {
		reason = fmt.Sprintf("touches %s", worstPath)
	}
	if !a.awaitConfirm(input, reason, fmt.Sprintf("The agent wants to run a flagged %s action.", action)) {
		verdict = "denied"
		return "action denied by user", false
	}
	verdict = "confirmed"
	return "", true
}

// awaitConfirm runs the confirmation callback with a hard deadline. Timeout
// means deny.
func (a *Agent) awaitConfirm(command, reason, message string) bool {
	ch := make(chan bool, 1)
	go func() {
		ch <- a.Confirm(command, reason, message)
	}()
	select {
	case ok := <-ch:
		return ok
	case <-time.After(a.confirmTimeout()):
		log.Printf("[agent] confirmation timed out after %s, denying", a.confirmTimeout())
		return false
	}
}

func (a *Agent) act(ctx context.Context, action, input string, contextMap map[string]any) (string, error) {
	switch action {
	case "shell":
		return a.runShell(ctx, input)
	case "script":
		return a.runScript(ctx, input, contextMap)
	default:
		return "", fmt.Errorf("unknown tool '%s'", action)
	}
}

func (a *Agent) runShell(ctx context.Context, command string) (string, error) {
	cmdCtx, cancel := context.WithTimeout(ctx, shellActionTimeout)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, "bash", "-c", expandTilde(command))
	cmd.Dir = expandTilde(a.WorkDir)

	output, err := cmd.CombinedOutput()
	result := strings.TrimSpace(string(output))

	if cmdCtx.Err() == context.DeadlineExceeded {
		return "", fmt.Errorf("command timed out after %s", shellActionTimeout)
	}
	if err != nil {
		if result != "" {
			return "", fmt.Errorf("%s", sanitize(result))
		}
		return "", err
	}
	if result == "" {
		result = "(no output)"
	}
	return result, nil
}

func (a *Agent) runScript(ctx context.Context, code string, contextMap map[string]any) (string, error) {
	if a.Sandbox == nil {
		return "", fmt.Errorf("no script runner configured")
	}

	res := a.Sandbox.Run(ctx, injectContext(code, contextMap))
	if a.Events != nil {
		a.Events.LogSandbox(a.TaskID, a.Sandbox.Name(), res.ExitCode)
	}
	if !res.OK() {
		msg := res.Err.Error()
		if res.Output != "" {
			msg = res.Output
		}
		return "", fmt.Errorf("%s", sanitize(msg))
	}
	return res.Output, nil
}

// injectContext prepends assignments so accumulated results are visible to
// the script as plain variables. Values go through JSON to keep quoting safe.
func injectContext(code string, contextMap map[string]any) string {
	if len(contextMap) == 0 {
		return code
	}

	var b strings.Builder
	b.WriteString("import json as _json\n")
	for name, val := range contextMap {
		if !isPythonIdent(name) {
			continue
		}
		data, err := json.Marshal(val)
		if err != nil {
			continue
		}
		lit, _ := json.Marshal(string(data))
		fmt.Fprintf(&b, "%s = _json.loads(%s)\n", name, lit)
	}
	b.WriteString(code)
	return b.String()
}

func isPythonIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func (a *Agent) thinkInput(goal string, state *State, obs Observation) ThinkInput {
	return ThinkInput{
		Goal:        goal,
		RecentTurns: summarizeTurns(state.Turns, 5),
		Observation: obs.Content,
		ContextJSON: contextDump(state.Context),
		WorkDir:     expandTilde(a.WorkDir),
		Platform:    runtime.GOOS + "/" + runtime.GOARCH,
	}
}

func (a *Agent) report(iteration int, status Status, thoughtPreview, actionName string) {
	if a.Progress != nil {
		a.Progress(iteration, status, thoughtPreview, actionName)
	}
	if a.Events != nil {
		a.Events.LogIteration(a.ChatID, a.TaskID, iteration, string(status), thoughtPreview, actionName)
	}
}

func summarizeTurns(turns []Turn, n int) string {
	if len(turns) == 0 {
		return "(none)"
	}
	if len(turns) > n {
		turns = turns[len(turns)-n:]
	}

	var b strings.Builder
	for _, t := range turns {
		outcome := truncate(t.Result, 200)
		if t.Err != "" {
			outcome = "error: " + truncate(t.Err, 200)
		}
		fmt.Fprintf(&b, "turn %d: %s %s -> %s\n", t.Iteration, t.ActionName, truncate(t.ActionInput, 120), outcome)
	}
	return strings.TrimRight(b.String(), "\n")
}

func contextDump(contextMap map[string]any) string {
	data, err := json.Marshal(contextMap)
	if err != nil {
		return "{}"
	}
	return truncate(string(data), contextDumpLimit)
}

var nonIdentRun = regexp.MustCompile(`[^a-z0-9]+`)

// contextKey derives the context map key for an action's output from the
// thought's own label, falling back to tool name plus iteration.
func contextKey(thought Thought, iteration int) string {
	slug := nonIdentRun.ReplaceAllString(strings.ToLower(thought.Description), "_")
	slug = strings.Trim(slug, "_")
	if len(slug) > 40 {
		slug = slug[:40]
	}
	if slug == "" || !isPythonIdent(slug) {
		return fmt.Sprintf("%s_%d", thought.Action, iteration)
	}
	return slug
}

// sanitize compresses stack traces and long error dumps into one short line.
func sanitize(msg string) string {
	lines := strings.Split(strings.TrimSpace(msg), "\n")
	out := lines[0]
	if strings.Contains(msg, "Traceback") {
		out = lines[len(lines)-1]
	}
	if len(out) > 200 {
		out = out[:200] + "..."
	}
	return out
}

func expandTilde(s string) string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return s
	}
	if s == "~" {
		return home
	}
	if strings.HasPrefix(s, "~/") {
		return home + s[1:]
	}
	// Expand occurrences inside command text as well.
	s = strings.ReplaceAll(s, " ~/", " "+home+"/")
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func preview(s string) string {
	return truncate(strings.TrimSpace(s), 80)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return "done"
}
