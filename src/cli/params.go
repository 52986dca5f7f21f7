package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/pflag"

	"ansible-vmmanager/src/cmdrun"
	"ansible-vmmanager/src/hypervisor"
	"ansible-vmmanager/src/instance"
)

// ensureParams is the orchestrator-facing parameter set of the ensure
// operation. JSON tags match the Ansible option names so an args file can be
// decoded straight into it.
type ensureParams struct {
	Driver      string `json:"driver"`
	SourceImage string `json:"source_image"`
	TargetImage string `json:"target_image"`
	Memsize     int    `json:"memsize"`
	CloneType   string `json:"clone_type"`
	NetworkType string `json:"network_type"`
	Headless    bool   `json:"headless"`
	State       string `json:"state"`
	ToolPath    string `json:"tool_path"`
	VMBaseDir   string `json:"vm_base_dir"`
	IPWait      int    `json:"ip_wait"`
}

// paramFlags maps args-file keys to the ensure command's flag names, so file
// values only apply where the flag was not set explicitly.
var paramFlags = map[string]string{
	"driver":       "driver",
	"source_image": "source-image",
	"target_image": "target-image",
	"memsize":      "memsize",
	"clone_type":   "clone-type",
	"network_type": "network-type",
	"headless":     "headless",
	"state":        "state",
	"tool_path":    "tool-path",
	"vm_base_dir":  "vm-base-dir",
	"ip_wait":      "ip-wait",
}

// applyArgsFile overlays values from an Ansible-style JSON args file onto p.
// Explicitly set flags win over the file; the file wins over flag defaults.
func applyArgsFile(flags *pflag.FlagSet, path string, p *ensureParams) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read args file: %w", err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parse args file: %w", err)
	}
	for key := range raw {
		if _, ok := paramFlags[key]; !ok {
			return fmt.Errorf("args file: unknown parameter %q", key)
		}
	}
	assign := func(key string, dst any) error {
		msg, ok := raw[key]
		if !ok || flags.Changed(paramFlags[key]) {
			return nil
		}
		if err := json.Unmarshal(msg, dst); err != nil {
			return fmt.Errorf("args file: parameter %q: %w", key, err)
		}
		return nil
	}
	for key, dst := range map[string]any{
		"driver":       &p.Driver,
		"source_image": &p.SourceImage,
		"target_image": &p.TargetImage,
		"memsize":      &p.Memsize,
		"clone_type":   &p.CloneType,
		"network_type": &p.NetworkType,
		"headless":     &p.Headless,
		"state":        &p.State,
		"tool_path":    &p.ToolPath,
		"vm_base_dir":  &p.VMBaseDir,
		"ip_wait":      &p.IPWait,
	} {
		if err := assign(key, dst); err != nil {
			return err
		}
	}
	return nil
}

// applyDriverDefaults fills in the per-backend tool path and base directory
// when the caller left them empty.
func applyDriverDefaults(p *ensureParams) {
	switch p.Driver {
	case "fusion":
		if p.ToolPath == "" {
			p.ToolPath = hypervisor.DefaultVmrunPath
		}
		if p.VMBaseDir == "" {
			if home, err := os.UserHomeDir(); err == nil {
				p.VMBaseDir = filepath.Join(home, "Documents", "Virtual Machines.localized")
			}
		}
	case "vbox":
		if p.ToolPath == "" {
			p.ToolPath = hypervisor.DefaultVBoxManagePath
		}
	}
}

// toInstance builds the VM descriptor from the parameters.
func (p ensureParams) toInstance() instance.Instance {
	inst := instance.New(p.SourceImage, p.TargetImage)
	if p.Memsize > 0 {
		inst.MemsizeMB = p.Memsize
	}
	if p.CloneType != "" {
		inst.CloneType = instance.CloneType(p.CloneType)
	}
	if p.NetworkType != "" {
		inst.NetworkType = instance.NetworkType(p.NetworkType)
	}
	inst.Headless = p.Headless
	return inst
}

// newDriver builds the hypervisor driver for the selected backend. Swapped
// out in tests via SetDriverFactoryForTest.
var newDriver = func(p ensureParams) (hypervisor.Driver, error) {
	runner := cmdrun.ExecRunner{}
	switch p.Driver {
	case "fusion":
		return hypervisor.NewFusion(p.ToolPath, p.VMBaseDir, runner)
	case "vbox":
		return hypervisor.NewVirtualBox(p.ToolPath, runner)
	default:
		return nil, fmt.Errorf("unknown driver %q (expected fusion or vbox)", p.Driver)
	}
}

// SetDriverFactoryForTest replaces the driver factory and returns a restore
// function.
func SetDriverFactoryForTest(fn func(ensureParams) (hypervisor.Driver, error)) func() {
	old := newDriver
	newDriver = fn
	return func() { newDriver = old }
}
