package cli

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newListCmd(stdout, stderr io.Writer) *cobra.Command {
	var p ensureParams
	var runningOnly bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the VMs known to the selected hypervisor",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			applyDriverDefaults(&p)
			drv, err := newDriver(p)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			running, err := drv.ListRunning(ctx)
			if err != nil {
				return err
			}
			runningSet := map[string]bool{}
			for _, name := range running {
				runningSet[name] = true
			}
			names := running
			if !runningOnly {
				if names, err = drv.ListInstances(ctx); err != nil {
					return err
				}
			}
			w := tabwriter.NewWriter(stdout, 0, 2, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tRUNNING")
			for _, name := range names {
				state := "no"
				if runningSet[name] {
					state = "yes"
				}
				fmt.Fprintf(w, "%s\t%s\n", name, state)
			}
			return w.Flush()
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&p.Driver, "driver", "", "Hypervisor backend: fusion or vbox (required)")
	flags.StringVar(&p.ToolPath, "tool-path", "", "Path to vmrun or VBoxManage (backend default when empty)")
	flags.StringVar(&p.VMBaseDir, "vm-base-dir", "", "Fusion VM folder (default ~/Documents/Virtual Machines.localized)")
	flags.BoolVar(&runningOnly, "running", false, "List only running VMs")
	_ = cmd.MarkFlagRequired("driver")

	return cmd
}
