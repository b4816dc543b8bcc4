// Package sandbox executes agent-authored scripts, either directly on the
// host or inside an isolated container. Both backends share one result shape
// so callers never care which is active.
package sandbox

import (
	"context"
	"fmt"
)

// Result carries the outcome of one script run. Exactly one of Output or
// Err is meaningful; Output may still hold captured text on failure.
type Result struct {
	Output   string
	ExitCode int
	Err      error
}

// OK reports whether the run succeeded.
func (r Result) OK() bool {
	return r.Err == nil
}

// Runner executes one script and returns its captured output.
type Runner interface {
	Run(ctx context.Context, code string) Result
	Name() string
}

// TimeoutError marks a run that exceeded its wall-clock bound.
type TimeoutError struct {
	Seconds float64
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("script timed out after %.0f seconds", e.Seconds)
}

// ExitError marks a run that finished with a non-zero exit code.
type ExitError struct {
	Code   int
	Output string
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("script exited with code %d", e.Code)
}

// ConfigError marks a backend that is not usable at all, for example a
// container engine that is unreachable. It is distinct from script failure
// so callers do not retry it.
type ConfigError struct {
	Msg string
}

func (e *ConfigError) Error() string {
	return e.Msg
}
