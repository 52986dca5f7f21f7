package cmdrun

import (
	"context"
	"strings"
	"testing"
)

func TestExecRunnerCapturesCombinedOutputAndExitCode(t *testing.T) {
	res, err := ExecRunner{}.Run(context.Background(), "sh", "-c", "echo out; echo err 1>&2; exit 3")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.ExitCode != 3 {
		t.Fatalf("expected exit code 3, got %d", res.ExitCode)
	}
	if !strings.Contains(res.Output, "out") || !strings.Contains(res.Output, "err") {
		t.Fatalf("expected stdout and stderr interleaved, got %q", res.Output)
	}
	if res.OK() {
		t.Fatal("non-zero exit must not report OK")
	}
}

func TestExecRunnerArgumentsNeedNoEscaping(t *testing.T) {
	// A single argv element with spaces and metacharacters must arrive at
	// the subprocess unmangled, since no shell is in the path.
	arg := `a b;$(reboot) "quoted"`
	res, err := ExecRunner{}.Run(context.Background(), "printf", "%s", arg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Output != arg {
		t.Fatalf("argument mangled: got %q, want %q", res.Output, arg)
	}
}

func TestExecRunnerMissingBinary(t *testing.T) {
	_, err := ExecRunner{}.Run(context.Background(), "/no/such/binary-anywhere")
	if err == nil {
		t.Fatal("expected an error for a binary that cannot be started")
	}
}

func TestFakeRunnerConsumesScriptedQueue(t *testing.T) {
	f := NewFake()
	f.Script("tool get ip", Result{ExitCode: 1, Output: "No value set!\n"})
	f.Script("tool get ip", Result{Output: "Value: 10.0.0.5\n"})

	first, err := f.Run(context.Background(), "tool", "get", "ip")
	if err != nil || first.ExitCode != 1 {
		t.Fatalf("first response: %+v, %v", first, err)
	}
	second, err := f.Run(context.Background(), "tool", "get", "ip")
	if err != nil || second.Output != "Value: 10.0.0.5\n" {
		t.Fatalf("second response: %+v, %v", second, err)
	}
	// Last scripted response repeats once the queue is exhausted.
	third, err := f.Run(context.Background(), "tool", "get", "ip")
	if err != nil || third.Output != "Value: 10.0.0.5\n" {
		t.Fatalf("third response: %+v, %v", third, err)
	}
	if len(f.Calls) != 3 {
		t.Fatalf("expected 3 recorded calls, got %d", len(f.Calls))
	}
}

func TestFakeRunnerUnscriptedCommand(t *testing.T) {
	f := NewFake()
	if _, err := f.Run(context.Background(), "tool", "surprise"); err == nil {
		t.Fatal("expected an error for an unscripted command")
	}
}

func TestResultLines(t *testing.T) {
	r := Result{Output: "one\ntwo\n"}
	lines := r.Lines()
	if len(lines) != 2 || lines[0] != "one" || lines[1] != "two" {
		t.Fatalf("unexpected lines: %#v", lines)
	}
	if got := (Result{}).Lines(); len(got) != 0 {
		t.Fatalf("empty output must yield no lines, got %#v", got)
	}
}
