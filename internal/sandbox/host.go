package sandbox

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"time"
)

// HostRunner writes the script to a temporary file and runs it directly on
// the host with the inherited environment and the real filesystem. This is
// the default backend: the point of the system is real side effects on the
// user's machine, not hermetic isolation.
type HostRunner struct {
	Python  string
	Timeout time.Duration
	WorkDir string
}

func NewHostRunner(timeout time.Duration) *HostRunner {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.TempDir()
	}
	return &HostRunner{
		Python:  "python3",
		Timeout: timeout,
		WorkDir: home,
	}
}

func (h *HostRunner) Name() string {
	return "host"
}

func (h *HostRunner) Run(ctx context.Context, code string) Result {
	f, err := os.CreateTemp("", "sahayak-script-*.py")
	if err != nil {
		return Result{Err: &ConfigError{Msg: "cannot create temporary script file: " + err.Error()}}
	}
	path := f.Name()
	// The script file is always removed, whatever happens during the run.
	defer os.Remove(path)

	if _, err := f.WriteString(code); err != nil {
		f.Close()
		return Result{Err: &ConfigError{Msg: "cannot write script file: " + err.Error()}}
	}
	f.Close()

	runCtx, cancel := context.WithTimeout(ctx, h.Timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, h.Python, filepath.Clean(path))
	cmd.Dir = h.WorkDir
	cmd.Env = os.Environ()

	output, err := cmd.CombinedOutput()
	text := string(output)

	if runCtx.Err() == context.DeadlineExceeded {
		return Result{Output: text, ExitCode: -1, Err: &TimeoutError{Seconds: h.Timeout.Seconds()}}
	}
	if err != nil {
		code := -1
		if cmd.ProcessState != nil {
			code = cmd.ProcessState.ExitCode()
		}
		return Result{Output: text, ExitCode: code, Err: &ExitError{Code: code, Output: text}}
	}

	return Result{Output: text, ExitCode: 0}
}
