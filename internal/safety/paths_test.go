package safety

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCheckPath_SensitiveNeverDowngraded(t *testing.T) {
	// Allow-listing ~/.ssh must not override the sensitive classification.
	p := NewPermissionChecker([]string{"~/.ssh"}, nil, true)

	if got := p.CheckPath("~/.ssh/id_rsa"); got != Sensitive {
		t.Errorf("~/.ssh/id_rsa = %s, want sensitive", got)
	}
	if got := p.CheckPath("~/.ssh"); got != Sensitive {
		t.Errorf("~/.ssh = %s, want sensitive", got)
	}
	if got := p.CheckPath("/etc/shadow"); got != Sensitive {
		t.Errorf("/etc/shadow = %s, want sensitive", got)
	}
	if got := p.CheckPath("~/project/server.pem"); got != Sensitive {
		t.Errorf("*.pem = %s, want sensitive", got)
	}
	if got := p.CheckPath("~/project/.env"); got != Sensitive {
		t.Errorf(".env = %s, want sensitive", got)
	}
}

func TestCheckPath_DeniedBeatsAllowed(t *testing.T) {
	p := NewPermissionChecker([]string{"~/work"}, []string{"~/work/private"}, true)

	if got := p.CheckPath("~/work/notes.txt"); got != Allowed {
		t.Errorf("allowed subpath = %s, want allowed", got)
	}
	if got := p.CheckPath("~/work/private/diary.txt"); got != Denied {
		t.Errorf("denied subpath = %s, want denied", got)
	}
}

func TestCheckPath_OutsideAllowListNeedsConfirmation(t *testing.T) {
	p := NewPermissionChecker([]string{"~/work"}, nil, true)
	if got := p.CheckPath("/opt/data/file.txt"); got != NeedsConfirmation {
		t.Errorf("outside allow-list = %s, want needs_confirmation", got)
	}

	relaxed := NewPermissionChecker([]string{"~/work"}, nil, false)
	if got := relaxed.CheckPath("/opt/data/file.txt"); got != Allowed {
		t.Errorf("confirmation disabled = %s, want allowed", got)
	}
}

func TestCheckPath_DefaultsWithoutAllowList(t *testing.T) {
	p := NewPermissionChecker(nil, nil, true)

	home, _ := os.UserHomeDir()
	if got := p.CheckPath(filepath.Join(home, "notes.txt")); got != Allowed {
		t.Errorf("home path = %s, want allowed", got)
	}
	if got := p.CheckPath(filepath.Join(os.TempDir(), "scratch.txt")); got != Allowed {
		t.Errorf("temp path = %s, want allowed", got)
	}
	if got := p.CheckPath("/opt/data/file.txt"); got != NeedsConfirmation {
		t.Errorf("system path = %s, want needs_confirmation", got)
	}
}

func TestExtractPaths(t *testing.T) {
	paths := ExtractPaths("cp /etc/hosts ~/backup/hosts 2>/dev/null")

	want := map[string]bool{"/etc/hosts": false, "~/backup/hosts": false}
	for _, p := range paths {
		if p == "/dev/null" {
			t.Error("/dev/null should be excluded from extraction")
		}
		if _, ok := want[p]; ok {
			want[p] = true
		}
	}
	for p, found := range want {
		if !found {
			t.Errorf("expected %s to be extracted, got %v", p, paths)
		}
	}
}

func TestExtractPaths_IgnoresFlags(t *testing.T) {
	for _, p := range ExtractPaths("ls -la --color=auto") {
		if p == "-la" || p == "--color=auto" {
			t.Errorf("flag %q extracted as a path", p)
		}
	}
}

func TestCheckCommand_WorstWins(t *testing.T) {
	p := NewPermissionChecker(nil, nil, true)
	level, path := p.CheckCommand("cat ~/notes.txt ~/.ssh/id_rsa")
	if level != Sensitive {
		t.Errorf("CheckCommand = %s, want sensitive", level)
	}
	if path != "~/.ssh/id_rsa" {
		t.Errorf("worst path = %q, want ~/.ssh/id_rsa", path)
	}
}
