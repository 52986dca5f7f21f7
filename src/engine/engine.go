package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"ansible-vmmanager/src/hypervisor"
	"ansible-vmmanager/src/instance"
)

// State is the desired end state of a reconciliation.
type State string

const (
	StateRunning State = "running"
	StateAbsent  State = "absent"
)

// Valid reports whether s is a recognized desired state.
func (s State) Valid() bool { return s == StateRunning || s == StateAbsent }

// Options tunes the engine. The zero value gets the defaults: 60 IP polling
// attempts one second apart, real sleeping.
type Options struct {
	// IPAttempts caps how often the guest is asked for its address before
	// the wait fails with an IPTimeoutError.
	IPAttempts int
	// IPInterval is the pause between polling attempts.
	IPInterval time.Duration
	// Sleep is swapped out in tests so polling bounds can be asserted
	// without real delays.
	Sleep func(time.Duration)
}

const (
	defaultIPAttempts = 60
	defaultIPInterval = time.Second
)

func (o Options) withDefaults() Options {
	if o.IPAttempts <= 0 {
		o.IPAttempts = defaultIPAttempts
	}
	if o.IPInterval <= 0 {
		o.IPInterval = defaultIPInterval
	}
	if o.Sleep == nil {
		o.Sleep = time.Sleep
	}
	return o
}

// Result reports the outcome of one Ensure call.
type Result struct {
	// Changed is true when any driver operation mutated hypervisor state.
	Changed bool
	// IPAddress is the guest's IPv4 address; set only for StateRunning.
	IPAddress string
}

// Ensure converges the instance to the desired state with the minimal
// sequence of driver operations, re-querying the hypervisor before acting so
// repeated calls stay idempotent. Operations are strictly ordered; nothing
// runs concurrently for one instance.
func Ensure(ctx context.Context, d hypervisor.Driver, inst instance.Instance, desired State, opts Options) (Result, error) {
	if err := inst.Validate(); err != nil {
		return Result{}, err
	}
	switch desired {
	case StateRunning:
		return ensureRunning(ctx, d, inst, opts)
	case StateAbsent:
		return ensureAbsent(ctx, d, inst)
	default:
		return Result{}, fmt.Errorf("unknown desired state %q", desired)
	}
}

func ensureRunning(ctx context.Context, d hypervisor.Driver, inst instance.Instance, opts Options) (Result, error) {
	running, err := d.IsRunning(ctx, inst)
	if err != nil {
		return Result{}, err
	}
	if running {
		ip, err := WaitForIP(ctx, d, inst, opts)
		if err != nil {
			return Result{}, err
		}
		return Result{Changed: false, IPAddress: ip}, nil
	}

	exists, err := d.Exists(ctx, inst)
	if err != nil {
		return Result{}, err
	}
	if !exists {
		logrus.WithField("target", inst.TargetImage).Debug("target absent, cloning")
		if err := d.Clone(ctx, inst); err != nil {
			return Result{}, err
		}
		if err := d.ConfigureNetwork(ctx, inst); err != nil {
			return Result{}, err
		}
		if err := d.ConfigureMemory(ctx, inst); err != nil {
			return Result{}, err
		}
	}
	if err := d.Start(ctx, inst); err != nil {
		return Result{}, err
	}
	running, err = d.IsRunning(ctx, inst)
	if err != nil {
		return Result{}, err
	}
	if !running {
		return Result{}, fmt.Errorf("instance %q not running after start", inst.TargetImage)
	}
	ip, err := WaitForIP(ctx, d, inst, opts)
	if err != nil {
		return Result{}, err
	}
	return Result{Changed: true, IPAddress: ip}, nil
}

func ensureAbsent(ctx context.Context, d hypervisor.Driver, inst instance.Instance) (Result, error) {
	exists, err := d.Exists(ctx, inst)
	if err != nil {
		return Result{}, err
	}
	if !exists {
		return Result{Changed: false}, nil
	}
	if err := d.Delete(ctx, inst); err != nil {
		return Result{}, err
	}
	return Result{Changed: true}, nil
}

// WaitForIP polls the driver for the guest's address, retrying only on the
// driver's explicit "not yet assigned" signal. Every other failure surfaces
// immediately.
func WaitForIP(ctx context.Context, d hypervisor.Driver, inst instance.Instance, opts Options) (string, error) {
	opts = opts.withDefaults()
	for attempt := 1; attempt <= opts.IPAttempts; attempt++ {
		ip, pending, err := d.QueryIPAddress(ctx, inst)
		if err != nil {
			return "", err
		}
		if !pending {
			return ip, nil
		}
		logrus.WithFields(logrus.Fields{"target": inst.TargetImage, "attempt": attempt}).Debug("guest IP not yet assigned")
		opts.Sleep(opts.IPInterval)
	}
	return "", &hypervisor.IPTimeoutError{Target: inst.TargetImage, Attempts: opts.IPAttempts}
}
