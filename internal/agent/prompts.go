package agent

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// PromptManager serves the reasoning prompt templates. Each template has a
// built-in default which a file of the same name in the prompts directory
// overrides, so operators can tune the agent's voice without rebuilding.
type PromptManager struct {
	Directory string
}

func NewPromptManager(dir string) *PromptManager {
	return &PromptManager{Directory: dir}
}

var builtinPrompts = map[string]string{
	"think.md": `You are a local-machine assistant working towards a goal through small concrete steps.

GOAL: %[1]s

RECENT TURNS:
%[2]s

CURRENT OBSERVATION:
%[3]s

ACCUMULATED CONTEXT (JSON):
%[4]s

WORKING DIRECTORY: %[5]s
PLATFORM: %[6]s

Decide the single next step. Respond with ONLY a JSON object:
{"reasoning": "...", "action": "shell" | "script" | "done" | "", "action_input": "...", "description": "short snake_case label for the result", "response": "direct answer if no action is needed", "complete": true/false, "confidence": 0.0-1.0}

Use "shell" for a single command, "script" for multi-step Python, "done" when the goal is met. For plain questions answer directly with "response" and "complete": true.`,

	"reflect.md": `A task run claims to be complete. Verify it against the evidence.

GOAL: %[1]s

STEP HISTORY:
%[2]s

ACCUMULATED CONTEXT (JSON):
%[3]s

Respond with ONLY a JSON object:
{"verified": true/false, "reason": "...", "summary": "final answer for the user if verified"}`,

	"decompose.md": `Decide whether this goal splits into independent subtasks that can run in parallel.

GOAL: %[1]s

If it does not split cleanly, respond with an empty array: []
Otherwise respond with ONLY a JSON array:
[{"id": "t1", "description": "...", "dependencies": []}, ...]

Only subtasks with an empty "dependencies" list will run.`,

	"merge.md": `Combine the results of parallel subtasks into one coherent answer for the user.

GOAL: %[1]s

SUBTASK RESULTS:
%[2]s

Respond with the merged answer as plain text.`,

	"fix_script.md": `A Python script failed. Produce a corrected version.

PURPOSE: %[1]s

SCRIPT:
%[2]s

ERROR:
%[3]s

Respond with ONLY the corrected Python code, no fences, no commentary.`,
}

// Get returns the named template, preferring a file override when the
// prompts directory carries one.
func (pm *PromptManager) Get(name string) (string, error) {
	if pm.Directory != "" {
		path := filepath.Join(pm.Directory, name)
		if data, err := os.ReadFile(path); err == nil {
			return string(data), nil
		}
	}
	if tmpl, ok := builtinPrompts[name]; ok {
		return tmpl, nil
	}
	return "", fmt.Errorf("unknown prompt template %s", name)
}

// Render fills the named template with fmt-style arguments.
func (pm *PromptManager) Render(name string, args ...any) (string, error) {
	tmpl, err := pm.Get(name)
	if err != nil {
		return "", err
	}
	out := fmt.Sprintf(tmpl, args...)
	if strings.Contains(out, "%!") {
		return "", fmt.Errorf("prompt template %s does not match its arguments", name)
	}
	return out, nil
}
