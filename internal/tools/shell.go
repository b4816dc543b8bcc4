package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/rahul/sahayak/internal/safety"
)

const shellTimeout = 2 * time.Minute

// ConfirmFunc asks the operator whether a flagged command may run. The
// prompt describes the command and why it was flagged.
type ConfirmFunc func(ctx context.Context, prompt string) bool

// ShellTool executes commands through bash after checking them against the
// command classifier and the path permission rules.
type ShellTool struct {
	Analyzer *safety.CommandAnalyzer
	Checker  *safety.PermissionChecker
	Confirm  ConfirmFunc
	WorkDir  string
}

func NewShellTool(analyzer *safety.CommandAnalyzer, checker *safety.PermissionChecker, confirm ConfirmFunc) *ShellTool {
	home, _ := os.UserHomeDir()
	return &ShellTool{
		Analyzer: analyzer,
		Checker:  checker,
		Confirm:  confirm,
		WorkDir:  home,
	}
}

func (s *ShellTool) Name() string {
	return "shell"
}

func (s *ShellTool) Description() string {
	return "Execute system shell commands. Destructive commands are blocked or require confirmation."
}

func (s *ShellTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"command": map[string]any{
				"type":        "string",
				"description": "The shell command to execute",
			},
		},
		"required": []string{"command"},
	}
}

func (s *ShellTool) Execute(ctx context.Context, input string) (string, error) {
	var args struct {
		Command string `json:"command"`
	}

	if err := json.Unmarshal([]byte(input), &args); err != nil {
		return "", fmt.Errorf("invalid input: %v", err)
	}

	if args.Command == "" {
		return "", fmt.Errorf("empty command")
	}

	if msg, err := s.gate(ctx, args.Command); err != nil {
		return "", err
	} else if msg != "" {
		return msg, nil
	}

	cmdCtx, cancel := context.WithTimeout(ctx, shellTimeout)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, "bash", "-c", args.Command)
	cmd.Dir = s.WorkDir

	output, err := cmd.CombinedOutput()

	result := strings.TrimSpace(string(output))
	if result == "" {
		result = "(no output)"
	}

	if cmdCtx.Err() == context.DeadlineExceeded {
		return "", fmt.Errorf("command timed out after %s\nOutput: %s", shellTimeout, result)
	}
	if err != nil {
		return fmt.Sprintf("Command failed with error: %v\nOutput: %s", err, result), nil
	}
	return result, nil
}

// gate applies the safety analysis. It returns a non-empty message when the
// command was refused or denied, and an error only for internal failures.
func (s *ShellTool) gate(ctx context.Context, command string) (string, error) {
	finding := s.Analyzer.ClassifyCommand(command)

	var pathLevel safety.AccessLevel
	var worstPath string
	if s.Checker != nil {
		pathLevel, worstPath = s.Checker.CheckCommand(command)
	}

	if finding.Level >= safety.Blocked || pathLevel == safety.Denied || pathLevel == safety.Sensitive {
		reason := finding.Reason
		if reason == "" {
			reason = fmt.Sprintf("access to %s is not permitted", worstPath)
		}
		return fmt.Sprintf("Command refused: %s", reason), nil
	}

	needsConfirm := finding.Level >= safety.Warning || pathLevel == safety.NeedsConfirmation
	if !needsConfirm {
		return "", nil
	}

	if s.Confirm == nil {
		return "Command refused: confirmation required but no confirmation channel is available", nil
	}

	prompt := fmt.Sprintf("Allow command?\n  %s", command)
	if finding.Reason != "" {
		prompt += fmt.Sprintf("\nFlagged: %s", finding.Reason)
	}
	if pathLevel == safety.NeedsConfirmation && worstPath != "" {
		prompt += fmt.Sprintf("\nTouches: %s", worstPath)
	}
	if !s.Confirm(ctx, prompt) {
		return "Command denied by user", nil
	}
	return "", nil
}
