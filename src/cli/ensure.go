package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"ansible-vmmanager/src/engine"
	"ansible-vmmanager/src/hypervisor"
	"ansible-vmmanager/src/instance"
	"ansible-vmmanager/src/safety"
)

// moduleResult is the JSON contract consumed by the outer orchestrator.
type moduleResult struct {
	Changed      bool         `json:"changed"`
	Msg          string       `json:"msg"`
	AnsibleFacts *moduleFacts `json:"ansible_facts,omitempty"`
	Failed       bool         `json:"failed,omitempty"`
}

type moduleFacts struct {
	IPAddress string `json:"ipaddress"`
}

func writeResult(w io.Writer, res moduleResult) {
	_ = json.NewEncoder(w).Encode(res)
}

func newEnsureCmd(stdout, stderr io.Writer) *cobra.Command {
	var p ensureParams
	var argsFile string
	cmd := &cobra.Command{
		Use:   "ensure",
		Short: "Converge a VM to the requested state and print the result as JSON",
		Long: `Converge a VM to the requested state and print the result as JSON.

The result is a single JSON object with "changed", "msg" and, for a running
instance, "ansible_facts.ipaddress". Repeated invocations are idempotent:
once the VM is in the requested state, further runs report changed=false.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if argsFile != "" {
				if err := applyArgsFile(cmd.Flags(), argsFile, &p); err != nil {
					return fail(stdout, err)
				}
			}
			applyDriverDefaults(&p)

			inst := p.toInstance()
			if err := inst.Validate(); err != nil {
				return fail(stdout, err)
			}
			state := engine.State(p.State)
			if !state.Valid() {
				return fail(stdout, fmt.Errorf("state must be %q or %q, got %q",
					engine.StateRunning, engine.StateAbsent, p.State))
			}
			if p.Driver == "vbox" && inst.CloneType == instance.CloneFull {
				return fail(stdout, fmt.Errorf("the vbox driver only supports linked clones"))
			}

			drv, err := newDriver(p)
			if err != nil {
				return fail(stdout, err)
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			opts := getSafetyOptions(cmd)

			if opts.DryRun {
				return dryRun(ctx, stdout, drv, inst, state)
			}
			if state == engine.StateAbsent {
				exists, err := drv.Exists(ctx, inst)
				if err != nil {
					return fail(stdout, err)
				}
				if exists {
					ok, err := safety.Confirm(opts, cmd.InOrStdin(), stderr,
						fmt.Sprintf("Delete VM %q", inst.TargetImage))
					if err != nil {
						return fail(stdout, err)
					}
					if !ok {
						return fail(stdout, fmt.Errorf("aborted: deletion of %q not confirmed", inst.TargetImage))
					}
				}
			}

			res, err := engine.Ensure(ctx, drv, inst, state, engine.Options{IPAttempts: p.IPWait})
			if err != nil {
				return fail(stdout, err)
			}
			out := moduleResult{
				Changed: res.Changed,
				Msg:     fmt.Sprintf("instance: %s %s", inst.TargetImage, state),
			}
			if state == engine.StateRunning {
				out.AnsibleFacts = &moduleFacts{IPAddress: res.IPAddress}
			}
			writeResult(stdout, out)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&p.Driver, "driver", "", "Hypervisor backend: fusion or vbox (required)")
	flags.StringVar(&p.SourceImage, "source-image", "", "Name of the source VM to clone from")
	flags.StringVar(&p.TargetImage, "target-image", "", "Name of the VM to manage")
	flags.IntVar(&p.Memsize, "memsize", instance.DefaultMemsizeMB, "Memory to allocate to the VM, in MB")
	flags.StringVar(&p.CloneType, "clone-type", string(instance.CloneLinked), "Clone type: linked or full (fusion only)")
	flags.StringVar(&p.NetworkType, "network-type", string(instance.NetworkBridged), "Network mode: bridged, nat or hostonly")
	flags.BoolVar(&p.Headless, "headless", false, "Start the VM without a GUI")
	flags.StringVar(&p.State, "state", string(engine.StateRunning), "Desired state: running or absent")
	flags.StringVar(&p.ToolPath, "tool-path", "", "Path to vmrun or VBoxManage (backend default when empty)")
	flags.StringVar(&p.VMBaseDir, "vm-base-dir", "", "Fusion VM folder (default ~/Documents/Virtual Machines.localized)")
	flags.IntVar(&p.IPWait, "ip-wait", 60, "Polling attempts while waiting for the guest IP, one second apart")
	flags.StringVar(&argsFile, "args-file", "", "Ansible-style JSON args file; explicit flags take precedence")
	_ = cmd.MarkFlagRequired("driver")

	return cmd
}

// dryRun reports whether an ensure would change anything, without mutating
// hypervisor state. Only read-only driver queries are issued.
func dryRun(ctx context.Context, stdout io.Writer, drv hypervisor.Driver, inst instance.Instance, state engine.State) error {
	var changed bool
	switch state {
	case engine.StateRunning:
		running, err := drv.IsRunning(ctx, inst)
		if err != nil {
			return fail(stdout, err)
		}
		changed = !running
	case engine.StateAbsent:
		exists, err := drv.Exists(ctx, inst)
		if err != nil {
			return fail(stdout, err)
		}
		changed = exists
	}
	writeResult(stdout, moduleResult{
		Changed: changed,
		Msg:     fmt.Sprintf("instance: %s %s (check mode)", inst.TargetImage, state),
	})
	return nil
}

// fail emits the failure half of the result contract and propagates the
// error so the process exits non-zero.
func fail(stdout io.Writer, err error) error {
	writeResult(stdout, moduleResult{Failed: true, Msg: err.Error()})
	return err
}
