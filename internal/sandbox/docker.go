package sandbox

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"
)

// DockerRunner executes the script inside a freshly created, network-less
// container with resource caps, no capabilities, and a read-only root
// filesystem. The script directory is mounted read-only.
type DockerRunner struct {
	Docker      string
	Image       string
	Timeout     time.Duration
	MemoryLimit string
	CPULimit    string
	PidsLimit   int
}

func NewDockerRunner(image string, timeout time.Duration) *DockerRunner {
	if image == "" {
		image = "python:3.12-slim"
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &DockerRunner{
		Docker:      "docker",
		Image:       image,
		Timeout:     timeout,
		MemoryLimit: "256m",
		CPULimit:    "1.0",
		PidsLimit:   64,
	}
}

func (d *DockerRunner) Name() string {
	return "docker"
}

// args builds the docker run invocation for a script mounted at dir.
func (d *DockerRunner) args(dir string) []string {
	return []string{
		"run", "--rm",
		"--network", "none",
		"--memory", d.MemoryLimit,
		"--cpus", d.CPULimit,
		"--pids-limit", strconv.Itoa(d.PidsLimit),
		"--cap-drop", "ALL",
		"--security-opt", "no-new-privileges",
		"--read-only",
		"--tmpfs", "/tmp:rw,size=16m",
		"--user", "65534:65534",
		"-v", dir + ":/sandbox:ro",
		d.Image,
		"python3", "/sandbox/script.py",
	}
}

func (d *DockerRunner) Run(ctx context.Context, code string) Result {
	if _, err := exec.LookPath(d.Docker); err != nil {
		return Result{Err: &ConfigError{Msg: "container engine not available: docker binary not found in PATH"}}
	}

	dir, err := os.MkdirTemp("", "sahayak-sandbox-")
	if err != nil {
		return Result{Err: &ConfigError{Msg: "cannot create sandbox directory: " + err.Error()}}
	}
	defer os.RemoveAll(dir)

	if err := os.WriteFile(filepath.Join(dir, "script.py"), []byte(code), 0644); err != nil {
		return Result{Err: &ConfigError{Msg: "cannot write sandbox script: " + err.Error()}}
	}

	runCtx, cancel := context.WithTimeout(ctx, d.Timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, d.Docker, d.args(dir)...)
	output, runErr := cmd.CombinedOutput()
	text := string(output)

	if runCtx.Err() == context.DeadlineExceeded {
		return Result{Output: text, ExitCode: -1, Err: &TimeoutError{Seconds: d.Timeout.Seconds()}}
	}
	if runErr != nil {
		code := -1
		if cmd.ProcessState != nil {
			code = cmd.ProcessState.ExitCode()
		}
		// Exit code 125 is the docker CLI itself failing, which means the
		// engine is misconfigured or unreachable, not that the script broke.
		if code == 125 {
			return Result{Output: text, ExitCode: code, Err: &ConfigError{Msg: "container engine unreachable or misconfigured: " + firstLine(text)}}
		}
		return Result{Output: text, ExitCode: code, Err: &ExitError{Code: code, Output: text}}
	}

	return Result{Output: text, ExitCode: 0}
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}
