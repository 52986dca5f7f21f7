package hypervisor

import (
	"fmt"
	"strings"
)

// ToolNotFoundError reports a missing precondition: the hypervisor tool
// binary or the VM base directory does not exist. Never retried.
type ToolNotFoundError struct{ Path string }

func (e *ToolNotFoundError) Error() string { return "hypervisor tool not found: " + e.Path }

// NotFoundError reports that a required resource (source image, target
// config file, host interface) could not be resolved to any candidate.
type NotFoundError struct{ What, Name string }

func (e *NotFoundError) Error() string { return e.What + " not found: " + e.Name }

// AmbiguousError reports that a pattern matched more than one candidate
// where exactly one is required. The match is never guessed.
type AmbiguousError struct {
	What       string
	Pattern    string
	Candidates []string
}

func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("%s pattern %q matched %d candidates: %s",
		e.What, e.Pattern, len(e.Candidates), strings.Join(e.Candidates, ", "))
}

// CommandError reports a driver operation whose underlying tool invocation
// exited non-zero. The captured output is included so the failure can be
// diagnosed without re-running the command.
type CommandError struct {
	Op       string
	ExitCode int
	Output   string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s failed with exit code %d: %s", e.Op, e.ExitCode, strings.TrimSpace(e.Output))
}

// IPTimeoutError reports that the guest never published an IP address within
// the polling budget.
type IPTimeoutError struct {
	Target   string
	Attempts int
}

func (e *IPTimeoutError) Error() string {
	return fmt.Sprintf("timed out waiting for IP address of %s after %d attempts", e.Target, e.Attempts)
}

// UnexpectedOutputError reports tool output that matched neither the success
// nor the pending pattern. It is treated as a defect in our assumptions
// about the tool's output format, never guessed at or retried.
type UnexpectedOutputError struct {
	Op     string
	Output string
}

func (e *UnexpectedOutputError) Error() string {
	return fmt.Sprintf("unexpected output from %s: %q", e.Op, strings.TrimSpace(e.Output))
}

// StopVerificationError reports an instance that still shows as running
// after a stop command succeeded.
type StopVerificationError struct{ Target string }

func (e *StopVerificationError) Error() string {
	return "instance still running after stop: " + e.Target
}
