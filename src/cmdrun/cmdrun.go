package cmdrun

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/sirupsen/logrus"
)

// Result holds the outcome of one hypervisor tool invocation. A non-zero
// exit code is a normal, inspectable result, not an error: callers decide
// what a given exit code means for the operation they ran.
type Result struct {
	ExitCode int
	Output   string
}

// OK reports whether the command exited zero.
func (r Result) OK() bool { return r.ExitCode == 0 }

// Lines splits the combined output into lines, dropping the trailing empty
// line produced by a final newline.
func (r Result) Lines() []string {
	out := strings.Split(r.Output, "\n")
	if n := len(out); n > 0 && out[n-1] == "" {
		out = out[:n-1]
	}
	return out
}

// Runner executes a command given as a discrete argument vector. There is no
// shell in the path, so spaces and other metacharacters in arguments need no
// escaping.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (Result, error)
}

// ExecRunner runs commands via os/exec, blocking until the subprocess exits
// and capturing stdout and stderr interleaved.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) (Result, error) {
	logrus.WithField("argv", append([]string{name}, args...)).Debug("exec")
	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.CombinedOutput()
	res := Result{Output: string(out)}
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			// The process never ran (binary missing, context done, ...).
			return Result{ExitCode: -1, Output: string(out)}, fmt.Errorf("run %s: %w", name, err)
		}
		res.ExitCode = exitErr.ExitCode()
	}
	logrus.WithFields(logrus.Fields{"exit": res.ExitCode, "output": strings.TrimSpace(res.Output)}).Debug("exec done")
	return res, nil
}
