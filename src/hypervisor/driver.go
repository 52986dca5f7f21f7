package hypervisor

import (
	"context"

	"ansible-vmmanager/src/instance"
)

// Driver abstracts one hypervisor's command-line control plane. Keep it
// narrow: only the capabilities the reconciliation engine needs, so drivers
// stay small and a fake runner can stand in for the tool in tests.
//
// Drivers never cache hypervisor state; every query re-runs the tool so the
// engine always acts on fresh observations.
type Driver interface {
	// ListInstances returns the identifiers of all VMs the hypervisor knows
	// about (registry entries, or config files under the base directory).
	ListInstances(ctx context.Context) ([]string, error)
	// ListRunning returns the identifiers of the currently running VMs.
	ListRunning(ctx context.Context) ([]string, error)
	// Exists reports whether the instance's target is present.
	Exists(ctx context.Context, inst instance.Instance) (bool, error)
	// IsRunning reports whether the instance's target is currently running.
	IsRunning(ctx context.Context, inst instance.Instance) (bool, error)
	// Clone creates the target from the source image. It is a no-op when the
	// target already exists.
	Clone(ctx context.Context, inst instance.Instance) error
	// ConfigureNetwork sets the mode of the target's primary network adapter.
	ConfigureNetwork(ctx context.Context, inst instance.Instance) error
	// ConfigureMemory sets the target's memory allocation.
	ConfigureMemory(ctx context.Context, inst instance.Instance) error
	// Start powers the target on, with or without a GUI per inst.Headless.
	Start(ctx context.Context, inst instance.Instance) error
	// Stop powers the target off. It is a no-op when the target is not
	// running, and verifies afterwards that the target actually stopped.
	Stop(ctx context.Context, inst instance.Instance) error
	// Delete removes the target, stopping it first when running.
	Delete(ctx context.Context, inst instance.Instance) error
	// QueryIPAddress asks the guest for its IPv4 address once. pending is
	// true when the guest has not published an address yet; the engine owns
	// the retry loop.
	QueryIPAddress(ctx context.Context, inst instance.Instance) (ip string, pending bool, err error)
}
