package cmdrun

import (
	"context"
	"fmt"
	"strings"
)

// FakeRunner is an in-memory Runner for unit tests. Responses are keyed by
// the full argument vector joined with single spaces; each scripted slice is
// consumed head-first and its last element repeats once exhausted, so a
// polling loop can be scripted as pending, pending, value.
type FakeRunner struct {
	Responses map[string][]Result
	// OnRun, when set, is invoked before the response lookup. Tests use it
	// for side effects the real tool would have, such as creating the cloned
	// config file on disk.
	OnRun func(name string, args []string)
	// Calls records every issued command in order.
	Calls []string
}

func NewFake() *FakeRunner {
	return &FakeRunner{Responses: map[string][]Result{}}
}

// Script appends a response for the given argument vector.
func (f *FakeRunner) Script(key string, res Result) {
	f.Responses[key] = append(f.Responses[key], res)
}

func (f *FakeRunner) Run(_ context.Context, name string, args ...string) (Result, error) {
	key := strings.Join(append([]string{name}, args...), " ")
	f.Calls = append(f.Calls, key)
	if f.OnRun != nil {
		f.OnRun(name, args)
	}
	queue, ok := f.Responses[key]
	if !ok || len(queue) == 0 {
		return Result{}, fmt.Errorf("no scripted response for %q", key)
	}
	res := queue[0]
	if len(queue) > 1 {
		f.Responses[key] = queue[1:]
	}
	return res, nil
}
