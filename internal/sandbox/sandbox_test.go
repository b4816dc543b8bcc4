package sandbox

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

// The host runner does not care what interpreter it is given, so the tests
// drive it with sh to stay independent of a python install.

func TestHostRunner_Success(t *testing.T) {
	r := NewHostRunner(10 * time.Second)
	r.Python = "sh"

	res := r.Run(context.Background(), "echo hello")
	if !res.OK() {
		t.Fatalf("expected success, got %v", res.Err)
	}
	if strings.TrimSpace(res.Output) != "hello" {
		t.Errorf("output = %q, want hello", res.Output)
	}
}

func TestHostRunner_NonZeroExit(t *testing.T) {
	r := NewHostRunner(10 * time.Second)
	r.Python = "sh"

	res := r.Run(context.Background(), "echo broken >&2; exit 3")
	if res.OK() {
		t.Fatal("expected failure")
	}
	var exitErr *ExitError
	if !errors.As(res.Err, &exitErr) {
		t.Fatalf("expected ExitError, got %T", res.Err)
	}
	if exitErr.Code != 3 {
		t.Errorf("exit code = %d, want 3", exitErr.Code)
	}
	if !strings.Contains(res.Output, "broken") {
		t.Errorf("stderr should be captured in output, got %q", res.Output)
	}
}

func TestHostRunner_Timeout(t *testing.T) {
	r := NewHostRunner(200 * time.Millisecond)
	r.Python = "sh"

	res := r.Run(context.Background(), "sleep 5")
	if res.OK() {
		t.Fatal("expected timeout failure")
	}
	var timeoutErr *TimeoutError
	if !errors.As(res.Err, &timeoutErr) {
		t.Fatalf("expected TimeoutError, got %T: %v", res.Err, res.Err)
	}
}

func TestDockerRunner_Args(t *testing.T) {
	d := NewDockerRunner("", 0)
	args := strings.Join(d.args("/tmp/sbx"), " ")

	for _, want := range []string{
		"--network none",
		"--cap-drop ALL",
		"--security-opt no-new-privileges",
		"--read-only",
		"--pids-limit 64",
		"/tmp/sbx:/sandbox:ro",
		"python:3.12-slim",
	} {
		if !strings.Contains(args, want) {
			t.Errorf("docker args missing %q: %s", want, args)
		}
	}
}

func TestDockerRunner_MissingEngineIsConfigError(t *testing.T) {
	d := NewDockerRunner("", time.Second)
	d.Docker = "definitely-not-a-real-binary"

	res := d.Run(context.Background(), "print('hi')")
	var cfgErr *ConfigError
	if !errors.As(res.Err, &cfgErr) {
		t.Fatalf("expected ConfigError, got %T: %v", res.Err, res.Err)
	}
}
