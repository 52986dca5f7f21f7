package instance

import "fmt"

// CloneType selects how the target's disk relates to the source's.
type CloneType string

const (
	CloneLinked CloneType = "linked"
	CloneFull   CloneType = "full"
)

// NetworkType selects the mode of the VM's primary network adapter.
type NetworkType string

const (
	NetworkBridged  NetworkType = "bridged"
	NetworkNAT      NetworkType = "nat"
	NetworkHostOnly NetworkType = "hostonly"
)

// DefaultMemsizeMB is the memory allocation used when none is requested.
const DefaultMemsizeMB = 512

// Instance describes one managed VM for a single reconciliation call. It is
// a transient descriptor: the hypervisor's own records are the persistent
// entity, and this struct carries no identity beyond TargetImage.
type Instance struct {
	// SourceImage names the template VM to clone from.
	SourceImage string
	// TargetImage names the VM under management. It uniquely identifies the
	// managed resource within the hypervisor's namespace.
	TargetImage string
	CloneType   CloneType
	NetworkType NetworkType
	MemsizeMB   int
	Headless    bool
}

// New returns an Instance with defaults applied for zero-valued optional
// fields. Callers still must Validate before handing it to a driver.
func New(source, target string) Instance {
	return Instance{
		SourceImage: source,
		TargetImage: target,
		CloneType:   CloneLinked,
		NetworkType: NetworkBridged,
		MemsizeMB:   DefaultMemsizeMB,
	}
}

// Validate checks the descriptor's invariants. It does not consult the
// hypervisor; existence of the source is checked by the driver at clone time.
func (i Instance) Validate() error {
	if i.SourceImage == "" {
		return fmt.Errorf("source_image must not be empty")
	}
	if i.TargetImage == "" {
		return fmt.Errorf("target_image must not be empty")
	}
	if i.TargetImage == i.SourceImage {
		return fmt.Errorf("target_image %q must differ from source_image (self-referential clone)", i.TargetImage)
	}
	if i.MemsizeMB <= 0 {
		return fmt.Errorf("memsize must be a positive number of MB, got %d", i.MemsizeMB)
	}
	switch i.CloneType {
	case CloneLinked, CloneFull:
	default:
		return fmt.Errorf("clone_type must be %q or %q, got %q", CloneLinked, CloneFull, i.CloneType)
	}
	switch i.NetworkType {
	case NetworkBridged, NetworkNAT, NetworkHostOnly:
	default:
		return fmt.Errorf("network_type must be one of %q, %q, %q, got %q",
			NetworkBridged, NetworkNAT, NetworkHostOnly, i.NetworkType)
	}
	return nil
}
