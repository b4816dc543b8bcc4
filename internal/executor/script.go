package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/rahul/sahayak/internal/sandbox"
)

const (
	tagResult    = "__RESULT__:"
	tagTraceVars = "__TRACE_VARS__:"
	tagTraceErr  = "__TRACE_ERROR__:"

	maxScriptRetries = 2
)

// scriptOutcome is the parsed result of one sandbox run of a script step.
type scriptOutcome struct {
	value  any            // the value bound to the step's own id, if any
	vars   map[string]any // every JSON-serializable variable the script declared
	stdout string         // tag-free output lines
	errMsg string         // non-empty when the run failed
}

// buildScriptProgram wraps the agent-authored body with a prologue that
// pre-declares every context entry as a variable and an epilogue that
// harvests whatever the script produced into tagged output lines. The body
// and context are JSON-embedded so arbitrary quoting in the script cannot
// break the wrapper.
func buildScriptProgram(body string, stepID string, ctx map[string]any) (string, error) {
	ctxJSON, err := json.Marshal(exportableContext(ctx))
	if err != nil {
		return "", fmt.Errorf("serialize context: %w", err)
	}
	bodyJSON, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("serialize script body: %w", err)
	}
	stepJSON, err := json.Marshal(stepID)
	if err != nil {
		return "", fmt.Errorf("serialize step id: %w", err)
	}

	var b strings.Builder
	b.WriteString("import json as _json\n")
	b.WriteString("import sys as _sys\n")
	fmt.Fprintf(&b, "_ctx = _json.loads(%s)\n", pyString(string(ctxJSON)))
	b.WriteString("for _k, _v in _ctx.items():\n")
	b.WriteString("    globals()[_k] = _v\n")
	fmt.Fprintf(&b, "_step_id = _json.loads(%s)\n", pyString(string(stepJSON)))
	fmt.Fprintf(&b, "_body = _json.loads(%s)\n", pyString(string(bodyJSON)))
	b.WriteString("_err = None\n")
	b.WriteString("try:\n")
	b.WriteString("    exec(compile(_body, '<step>', 'exec'), globals())\n")
	b.WriteString("except Exception as _e:\n")
	b.WriteString("    _err = '%s: %s' % (type(_e).__name__, _e)\n")
	b.WriteString("_vars = {}\n")
	b.WriteString("for _k, _v in list(globals().items()):\n")
	b.WriteString("    if _k.startswith('_'):\n")
	b.WriteString("        continue\n")
	b.WriteString("    try:\n")
	b.WriteString("        _json.dumps(_v)\n")
	b.WriteString("    except (TypeError, ValueError):\n")
	b.WriteString("        continue\n")
	b.WriteString("    _vars[_k] = _v\n")
	fmt.Fprintf(&b, "print(%q + _json.dumps(_vars))\n", tagTraceVars)
	fmt.Fprintf(&b, "print(%q + _json.dumps(_vars.get(_step_id)))\n", tagResult)
	b.WriteString("if _err is not None:\n")
	fmt.Fprintf(&b, "    print(%q + _err.replace('\\n', ' '))\n", tagTraceErr)
	b.WriteString("    _sys.exit(1)\n")
	return b.String(), nil
}

// pyString renders a JSON document as a single-quoted-safe python string
// literal by reusing its JSON encoding.
func pyString(jsonDoc string) string {
	encoded, _ := json.Marshal(jsonDoc)
	return string(encoded)
}

// exportableContext filters the context down to entries that can be
// pre-declared as python variables.
func exportableContext(ctx map[string]any) map[string]any {
	out := make(map[string]any, len(ctx))
	for k, v := range ctx {
		if !isPythonIdent(k) {
			continue
		}
		if _, err := json.Marshal(v); err != nil {
			continue
		}
		out[k] = v
	}
	return out
}

func isPythonIdent(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !isIdentChar(s[i], i == 0) {
			return false
		}
	}
	return true
}

// parseScriptOutput extracts the tagged lines from the combined output of a
// sandbox run and decides success or failure from the error tag.
func parseScriptOutput(res sandbox.Result) scriptOutcome {
	var out scriptOutcome
	var plain []string

	for _, line := range strings.Split(res.Output, "\n") {
		switch {
		case strings.HasPrefix(line, tagTraceVars):
			if err := json.Unmarshal([]byte(line[len(tagTraceVars):]), &out.vars); err != nil {
				out.vars = nil
			}
		case strings.HasPrefix(line, tagResult):
			_ = json.Unmarshal([]byte(line[len(tagResult):]), &out.value)
		case strings.HasPrefix(line, tagTraceErr):
			out.errMsg = strings.TrimSpace(line[len(tagTraceErr):])
		default:
			plain = append(plain, line)
		}
	}
	out.stdout = strings.TrimRight(strings.Join(plain, "\n"), "\n")

	// A run can fail without ever reaching the epilogue, for example when
	// the interpreter itself is missing or the sandbox timed out.
	if out.errMsg == "" && !res.OK() {
		out.errMsg = sanitizeError(res.Err.Error() + ": " + out.stdout)
	}
	return out
}

// ContextPreview renders a short textual description of every context
// variable: name, runtime type, truncated value. Sorted for stable prompts.
func ContextPreview(ctx map[string]any) string {
	names := make([]string, 0, len(ctx))
	for k := range ctx {
		names = append(names, k)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		v := ctx[name]
		val := fmt.Sprintf("%v", v)
		if len(val) > 120 {
			val = val[:120] + "..."
		}
		fmt.Fprintf(&b, "- %s (%T): %s\n", name, v, val)
	}
	return b.String()
}

// runScriptStep executes a script step, merging harvested variables into the
// shared context on success and retrying with regenerated code on failure.
func (e *Executor) runScriptStep(ctx context.Context, step *Step, code string, snapshot map[string]any) (*StepResult, map[string]any) {
	lastErr := "script produced no result"

	for attempt := 0; attempt <= maxScriptRetries; attempt++ {
		program, err := buildScriptProgram(code, step.ID, snapshot)
		if err != nil {
			return &StepResult{StepID: step.ID, Status: StatusError, Error: sanitizeError(err.Error())}, nil
		}

		res := e.Sandbox.Run(ctx, program)
		out := parseScriptOutput(res)

		if out.errMsg == "" {
			value := out.value
			if value == nil && out.stdout != "" {
				value = out.stdout
			}
			// The step's own id is excluded from the harvest so a later
			// merge cannot shadow the result binding.
			harvested := make(map[string]any, len(out.vars))
			for k, v := range out.vars {
				if k == step.ID {
					continue
				}
				harvested[k] = v
			}
			return &StepResult{StepID: step.ID, Status: StatusSuccess, Output: value}, harvested
		}

		lastErr = out.errMsg
		if e.Regenerate == nil || attempt == maxScriptRetries {
			break
		}

		fixed, regenErr := e.Regenerate(ctx, code, out.errMsg, ContextPreview(snapshot))
		if regenErr != nil || strings.TrimSpace(fixed) == "" {
			break
		}
		if fixed == code {
			// Identical code would fail identically; stop early.
			break
		}
		code = fixed
	}

	return &StepResult{StepID: step.ID, Status: StatusError, Error: sanitizeError(lastErr)}, nil
}

// sanitizeError compresses raw technical error text to a short
// human-readable line. Stack traces and long dumps are never surfaced.
func sanitizeError(msg string) string {
	msg = strings.TrimSpace(msg)
	if msg == "" {
		return "unknown error"
	}

	lines := strings.Split(msg, "\n")
	// Python tracebacks put the useful line last; everything else leads
	// with it.
	pick := strings.TrimSpace(lines[0])
	if strings.HasPrefix(lines[0], "Traceback") {
		pick = strings.TrimSpace(lines[len(lines)-1])
	}
	if pick == "" {
		pick = strings.TrimSpace(msg)
	}
	if len(pick) > 200 {
		pick = pick[:200] + "..."
	}
	return pick
}
