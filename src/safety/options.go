package safety

// Options carries the global safety flags that gate destructive operations.
type Options struct {
	// DryRun reports what would change without touching the hypervisor
	// (Ansible check mode).
	DryRun bool
	// Yes answers confirmation prompts non-interactively.
	Yes bool
}
