package tools

import (
	"context"
	"strings"
	"testing"

	"github.com/rahul/sahayak/internal/safety"
)

func newTestShell(confirm ConfirmFunc) *ShellTool {
	checker := safety.NewPermissionChecker(nil, nil, true)
	s := NewShellTool(safety.NewCommandAnalyzer(), checker, confirm)
	return s
}

func TestShellRunsSafeCommand(t *testing.T) {
	s := newTestShell(func(ctx context.Context, prompt string) bool {
		t.Error("safe command should not need confirmation")
		return false
	})

	out, err := s.Execute(context.Background(), `{"command":"echo hello"}`)
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if out != "hello" {
		t.Errorf("unexpected output: %q", out)
	}
}

func TestShellRefusesBlocked(t *testing.T) {
	s := newTestShell(func(ctx context.Context, prompt string) bool {
		t.Error("blocked command must never reach confirmation")
		return true
	})

	out, err := s.Execute(context.Background(), `{"command":"sudo rm -rf /"}`)
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if !strings.Contains(out, "refused") {
		t.Errorf("expected refusal, got: %q", out)
	}
}

func TestShellConfirmationDeny(t *testing.T) {
	asked := false
	s := newTestShell(func(ctx context.Context, prompt string) bool {
		asked = true
		if !strings.Contains(prompt, "rm") {
			t.Errorf("prompt should include the command, got: %q", prompt)
		}
		return false
	})

	out, err := s.Execute(context.Background(), `{"command":"rm notes.txt"}`)
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if !asked {
		t.Fatal("dangerous command should have asked for confirmation")
	}
	if !strings.Contains(out, "denied") {
		t.Errorf("expected denial, got: %q", out)
	}
}

func TestShellConfirmationApprove(t *testing.T) {
	s := newTestShell(func(ctx context.Context, prompt string) bool {
		return true
	})
	s.WorkDir = t.TempDir()

	out, err := s.Execute(context.Background(), `{"command":"touch a.txt && rm a.txt && echo done"}`)
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if !strings.Contains(out, "done") {
		t.Errorf("approved command should run, got: %q", out)
	}
}

func TestShellNoConfirmChannel(t *testing.T) {
	s := newTestShell(nil)

	out, err := s.Execute(context.Background(), `{"command":"rm notes.txt"}`)
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if !strings.Contains(out, "refused") {
		t.Errorf("flagged command without a confirmation channel should be refused, got: %q", out)
	}
}
