package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"ansible-vmmanager/src/hypervisor"
	"ansible-vmmanager/src/instance"
)

// fakeDriver is an in-memory hypervisor for engine tests. It records every
// operation so ordering and idempotence can be asserted.
type fakeDriver struct {
	exists  bool
	running bool
	ip      string
	// pendingQueries is how many IP queries report "not yet" before ip is
	// returned. Negative means pending forever.
	pendingQueries int
	// startHasNoEffect simulates a hypervisor that accepts the start command
	// but never brings the VM up.
	startHasNoEffect bool

	ops     []string
	queries int
}

func (f *fakeDriver) ListInstances(ctx context.Context) ([]string, error) { return nil, nil }
func (f *fakeDriver) ListRunning(ctx context.Context) ([]string, error)   { return nil, nil }

func (f *fakeDriver) Exists(ctx context.Context, inst instance.Instance) (bool, error) {
	return f.exists, nil
}

func (f *fakeDriver) IsRunning(ctx context.Context, inst instance.Instance) (bool, error) {
	return f.running, nil
}

func (f *fakeDriver) Clone(ctx context.Context, inst instance.Instance) error {
	f.ops = append(f.ops, "clone")
	f.exists = true
	return nil
}

func (f *fakeDriver) ConfigureNetwork(ctx context.Context, inst instance.Instance) error {
	f.ops = append(f.ops, "network")
	return nil
}

func (f *fakeDriver) ConfigureMemory(ctx context.Context, inst instance.Instance) error {
	f.ops = append(f.ops, "memory")
	return nil
}

func (f *fakeDriver) Start(ctx context.Context, inst instance.Instance) error {
	f.ops = append(f.ops, "start")
	if !f.startHasNoEffect {
		f.running = true
	}
	return nil
}

func (f *fakeDriver) Stop(ctx context.Context, inst instance.Instance) error {
	f.ops = append(f.ops, "stop")
	f.running = false
	return nil
}

func (f *fakeDriver) Delete(ctx context.Context, inst instance.Instance) error {
	f.ops = append(f.ops, "delete")
	f.exists = false
	f.running = false
	return nil
}

func (f *fakeDriver) QueryIPAddress(ctx context.Context, inst instance.Instance) (string, bool, error) {
	f.queries++
	if f.pendingQueries < 0 || f.queries <= f.pendingQueries {
		return "", true, nil
	}
	return f.ip, false, nil
}

func noSleep(time.Duration) {}

func testOptions() Options {
	return Options{Sleep: noSleep}
}

func TestEnsureRunningIsIdempotent(t *testing.T) {
	d := &fakeDriver{ip: "10.1.2.3"}
	inst := instance.New("base", "web01")

	first, err := Ensure(context.Background(), d, inst, StateRunning, testOptions())
	if err != nil {
		t.Fatalf("first ensure: %v", err)
	}
	if !first.Changed || first.IPAddress != "10.1.2.3" {
		t.Fatalf("unexpected first result: %+v", first)
	}

	second, err := Ensure(context.Background(), d, inst, StateRunning, testOptions())
	if err != nil {
		t.Fatalf("second ensure: %v", err)
	}
	if second.Changed {
		t.Fatal("second ensure must report no change")
	}
	if second.IPAddress != first.IPAddress {
		t.Fatalf("ip addresses differ: %q vs %q", first.IPAddress, second.IPAddress)
	}
}

func TestEnsureRunningOperationOrder(t *testing.T) {
	d := &fakeDriver{ip: "10.1.2.3"}
	inst := instance.New("base", "web01")

	if _, err := Ensure(context.Background(), d, inst, StateRunning, testOptions()); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	want := []string{"clone", "network", "memory", "start"}
	if len(d.ops) != len(want) {
		t.Fatalf("unexpected operations: %v", d.ops)
	}
	for i, op := range want {
		if d.ops[i] != op {
			t.Fatalf("operation %d: got %q, want %q (all: %v)", i, d.ops[i], op, d.ops)
		}
	}
}

func TestEnsureRunningSkipsConfigurationWhenTargetExists(t *testing.T) {
	d := &fakeDriver{exists: true, ip: "10.1.2.3"}
	inst := instance.New("base", "web01")

	res, err := Ensure(context.Background(), d, inst, StateRunning, testOptions())
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if !res.Changed {
		t.Fatal("starting a stopped instance is a change")
	}
	if len(d.ops) != 1 || d.ops[0] != "start" {
		t.Fatalf("expected only start, got %v", d.ops)
	}
}

func TestEnsureRunningFailsWhenStartHasNoEffect(t *testing.T) {
	d := &fakeDriver{exists: true, startHasNoEffect: true}
	inst := instance.New("base", "web01")

	if _, err := Ensure(context.Background(), d, inst, StateRunning, testOptions()); err == nil {
		t.Fatal("expected a post-start verification failure")
	}
}

func TestEnsureAbsentIsIdempotent(t *testing.T) {
	d := &fakeDriver{exists: true, running: true}
	inst := instance.New("base", "web01")

	first, err := Ensure(context.Background(), d, inst, StateAbsent, testOptions())
	if err != nil {
		t.Fatalf("first ensure: %v", err)
	}
	if !first.Changed {
		t.Fatal("deleting an existing instance is a change")
	}
	second, err := Ensure(context.Background(), d, inst, StateAbsent, testOptions())
	if err != nil {
		t.Fatalf("second ensure: %v", err)
	}
	if second.Changed {
		t.Fatal("second ensure must report no change")
	}
}

func TestEnsureAbsentOnMissingTargetIsNoOp(t *testing.T) {
	d := &fakeDriver{}
	inst := instance.New("base", "web01")

	res, err := Ensure(context.Background(), d, inst, StateAbsent, testOptions())
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if res.Changed || len(d.ops) != 0 {
		t.Fatalf("expected a no-op, got changed=%v ops=%v", res.Changed, d.ops)
	}
}

func TestEnsureValidatesInstance(t *testing.T) {
	d := &fakeDriver{}
	inst := instance.New("web01", "web01")

	if _, err := Ensure(context.Background(), d, inst, StateRunning, testOptions()); err == nil {
		t.Fatal("expected a validation error")
	}
	if len(d.ops) != 0 {
		t.Fatalf("no driver operation may run on invalid input, got %v", d.ops)
	}
}

func TestEnsureRejectsUnknownState(t *testing.T) {
	d := &fakeDriver{}
	if _, err := Ensure(context.Background(), d, instance.New("base", "web01"), State("paused"), testOptions()); err == nil {
		t.Fatal("expected an error for an unknown state")
	}
}

func TestWaitForIPRetriesOnlyOnPending(t *testing.T) {
	d := &fakeDriver{ip: "10.9.8.7", pendingQueries: 3}
	sleeps := 0
	opts := Options{Sleep: func(time.Duration) { sleeps++ }}

	ip, err := WaitForIP(context.Background(), d, instance.New("base", "web01"), opts)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if ip != "10.9.8.7" {
		t.Fatalf("unexpected ip %q", ip)
	}
	if d.queries != 4 || sleeps != 3 {
		t.Fatalf("expected 4 queries and 3 sleeps, got %d/%d", d.queries, sleeps)
	}
}

func TestWaitForIPTimesOutAfterBudget(t *testing.T) {
	d := &fakeDriver{pendingQueries: -1}
	sleeps := 0
	interval := 250 * time.Millisecond
	opts := Options{IPInterval: interval, Sleep: func(dur time.Duration) {
		if dur != interval {
			t.Fatalf("unexpected sleep interval %v", dur)
		}
		sleeps++
	}}

	_, err := WaitForIP(context.Background(), d, instance.New("base", "web01"), opts)
	var timeout *hypervisor.IPTimeoutError
	if !errors.As(err, &timeout) {
		t.Fatalf("expected IPTimeoutError, got %v", err)
	}
	if timeout.Attempts != 60 || d.queries != 60 {
		t.Fatalf("expected exactly 60 attempts, got %d (queries %d)", timeout.Attempts, d.queries)
	}
	if sleeps != 60 {
		t.Fatalf("expected a sleep per attempt, got %d", sleeps)
	}
}

func TestWaitForIPHonorsSmallerBudget(t *testing.T) {
	d := &fakeDriver{pendingQueries: -1}
	opts := Options{IPAttempts: 5, Sleep: noSleep}

	_, err := WaitForIP(context.Background(), d, instance.New("base", "web01"), opts)
	var timeout *hypervisor.IPTimeoutError
	if !errors.As(err, &timeout) {
		t.Fatalf("expected IPTimeoutError, got %v", err)
	}
	if d.queries != 5 {
		t.Fatalf("expected 5 queries, got %d", d.queries)
	}
}
