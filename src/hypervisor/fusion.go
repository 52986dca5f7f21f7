package hypervisor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"ansible-vmmanager/src/cmdrun"
	"ansible-vmmanager/src/instance"
)

// DefaultVmrunPath is where VMware Fusion installs its control tool.
const DefaultVmrunPath = "/Applications/VMware Fusion.app/Contents/Library/vmrun"

var ipv4Regexp = regexp.MustCompile(`^\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}$`)

// vmrun exits non-zero while the guest has no address yet; only these
// messages are treated as the benign not-ready signal. Any other failure is
// a CommandError.
var fusionIPPendingPrefixes = []string{
	"Error: Unable to get the IP address",
	"Error: The VMware Tools are not running",
}

// Fusion drives VMware Fusion through the vmrun tool. VMs are identified by
// the path of their vmx config file under a base directory; settings that
// vmrun cannot change (display name, memory, adapter mode) are applied by
// rewriting the vmx file directly.
type Fusion struct {
	vmrun   string
	baseDir string
	run     cmdrun.Runner
}

// NewFusion validates the tool and base directory preconditions and returns
// a Fusion driver.
func NewFusion(vmrunPath, baseDir string, runner cmdrun.Runner) (*Fusion, error) {
	if fi, err := os.Stat(vmrunPath); err != nil || fi.IsDir() {
		return nil, &ToolNotFoundError{Path: vmrunPath}
	}
	if fi, err := os.Stat(baseDir); err != nil || !fi.IsDir() {
		return nil, &ToolNotFoundError{Path: baseDir}
	}
	return &Fusion{vmrun: vmrunPath, baseDir: baseDir, run: runner}, nil
}

// vmxPath derives the on-disk identity of a VM from its name.
func (f *Fusion) vmxPath(name string) string {
	return filepath.Join(f.baseDir, name+".vmwarevm", name+".vmx")
}

// ListInstances scans the base directory for vmx config files, one per
// <name>.vmwarevm bundle.
func (f *Fusion) ListInstances(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(f.baseDir)
	if err != nil {
		return nil, fmt.Errorf("read vm base dir: %w", err)
	}
	var out []string
	for _, e := range entries {
		name, ok := strings.CutSuffix(e.Name(), ".vmwarevm")
		if !ok || !e.IsDir() {
			continue
		}
		if _, err := os.Stat(f.vmxPath(name)); err == nil {
			out = append(out, name)
		}
	}
	return out, nil
}

// ListRunning returns the names of the running VMs that live under the base
// directory. VMs running from elsewhere are reported by their vmx path.
func (f *Fusion) ListRunning(ctx context.Context) ([]string, error) {
	paths, err := f.listRunningPaths(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(paths))
	for _, path := range paths {
		out = append(out, f.nameForPath(path))
	}
	return out, nil
}

// listRunningPaths parses `vmrun list`, whose output is a count header
// followed by one bare vmx path per line.
func (f *Fusion) listRunningPaths(ctx context.Context) ([]string, error) {
	res, err := f.run.Run(ctx, f.vmrun, "list")
	if err != nil {
		return nil, err
	}
	if !res.OK() {
		return nil, &CommandError{Op: "vmrun list", ExitCode: res.ExitCode, Output: res.Output}
	}
	var out []string
	for _, line := range res.Lines() {
		if line == "" || strings.HasPrefix(line, "Total running VMs") {
			continue
		}
		out = append(out, line)
	}
	return out, nil
}

// nameForPath inverts vmxPath for paths under the base directory.
func (f *Fusion) nameForPath(path string) string {
	bundle := filepath.Dir(path)
	if filepath.Dir(bundle) != f.baseDir {
		return path
	}
	name, ok := strings.CutSuffix(filepath.Base(bundle), ".vmwarevm")
	if !ok {
		return path
	}
	return name
}

func (f *Fusion) Exists(ctx context.Context, inst instance.Instance) (bool, error) {
	_, err := os.Stat(f.vmxPath(inst.TargetImage))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

func (f *Fusion) IsRunning(ctx context.Context, inst instance.Instance) (bool, error) {
	paths, err := f.listRunningPaths(ctx)
	if err != nil {
		return false, err
	}
	target := f.vmxPath(inst.TargetImage)
	for _, path := range paths {
		if path == target {
			return true, nil
		}
	}
	return false, nil
}

// Clone copies the source bundle to the target path and rewrites the display
// name and memory size in the new vmx. A no-op when the target exists.
func (f *Fusion) Clone(ctx context.Context, inst instance.Instance) error {
	source := f.vmxPath(inst.SourceImage)
	if _, err := os.Stat(source); err != nil {
		return &NotFoundError{What: "source image", Name: source}
	}
	target := f.vmxPath(inst.TargetImage)
	if _, err := os.Stat(target); err == nil {
		return nil
	}
	res, err := f.run.Run(ctx, f.vmrun, "clone", source, target, string(inst.CloneType))
	if err != nil {
		return err
	}
	if !res.OK() {
		return &CommandError{Op: "vmrun clone", ExitCode: res.ExitCode, Output: res.Output}
	}
	logrus.WithFields(logrus.Fields{"source": inst.SourceImage, "target": inst.TargetImage}).Debug("cloned vm")
	// Both spellings occur in the wild depending on the Fusion release.
	return rewriteVMX(target, map[string]string{
		"displayname": inst.TargetImage,
		"displayName": inst.TargetImage,
		"memsize":     strconv.Itoa(inst.MemsizeMB),
	})
}

// ConfigureMemory re-applies the memory setting to the target's vmx. The
// rewrite is idempotent, so calling it after Clone is harmless.
func (f *Fusion) ConfigureMemory(ctx context.Context, inst instance.Instance) error {
	target := f.vmxPath(inst.TargetImage)
	if _, err := os.Stat(target); err != nil {
		return &NotFoundError{What: "target image", Name: target}
	}
	return rewriteVMX(target, map[string]string{"memsize": strconv.Itoa(inst.MemsizeMB)})
}

// ConfigureNetwork sets the primary adapter mode in the target's vmx. A vmx
// without an ethernet0.connectionType line is left untouched.
func (f *Fusion) ConfigureNetwork(ctx context.Context, inst instance.Instance) error {
	target := f.vmxPath(inst.TargetImage)
	if _, err := os.Stat(target); err != nil {
		return &NotFoundError{What: "target image", Name: target}
	}
	return rewriteVMX(target, map[string]string{
		"ethernet0.connectionType": string(inst.NetworkType),
	})
}

func (f *Fusion) Start(ctx context.Context, inst instance.Instance) error {
	target := f.vmxPath(inst.TargetImage)
	if _, err := os.Stat(target); err != nil {
		return &NotFoundError{What: "target image", Name: target}
	}
	gui := "gui"
	if inst.Headless {
		gui = "nogui"
	}
	res, err := f.run.Run(ctx, f.vmrun, "start", target, gui)
	if err != nil {
		return err
	}
	if !res.OK() {
		return &CommandError{Op: "vmrun start", ExitCode: res.ExitCode, Output: res.Output}
	}
	return nil
}

func (f *Fusion) Stop(ctx context.Context, inst instance.Instance) error {
	running, err := f.IsRunning(ctx, inst)
	if err != nil {
		return err
	}
	if !running {
		return nil
	}
	res, err := f.run.Run(ctx, f.vmrun, "stop", f.vmxPath(inst.TargetImage))
	if err != nil {
		return err
	}
	if !res.OK() {
		return &CommandError{Op: "vmrun stop", ExitCode: res.ExitCode, Output: res.Output}
	}
	running, err = f.IsRunning(ctx, inst)
	if err != nil {
		return err
	}
	if running {
		return &StopVerificationError{Target: inst.TargetImage}
	}
	return nil
}

func (f *Fusion) Delete(ctx context.Context, inst instance.Instance) error {
	target := f.vmxPath(inst.TargetImage)
	if _, err := os.Stat(target); err != nil {
		return &NotFoundError{What: "target image", Name: target}
	}
	if err := f.Stop(ctx, inst); err != nil {
		return err
	}
	res, err := f.run.Run(ctx, f.vmrun, "deleteVM", target)
	if err != nil {
		return err
	}
	if !res.OK() {
		return &CommandError{Op: "vmrun deleteVM", ExitCode: res.ExitCode, Output: res.Output}
	}
	logrus.WithField("target", inst.TargetImage).Debug("deleted vm")
	return nil
}

// QueryIPAddress runs `vmrun getGuestIPAddress` once. vmrun signals "no
// address yet" with a non-zero exit and a well-known message; that is the
// only case reported as pending.
func (f *Fusion) QueryIPAddress(ctx context.Context, inst instance.Instance) (string, bool, error) {
	res, err := f.run.Run(ctx, f.vmrun, "getGuestIPAddress", f.vmxPath(inst.TargetImage))
	if err != nil {
		return "", false, err
	}
	if !res.OK() {
		for _, prefix := range fusionIPPendingPrefixes {
			if strings.HasPrefix(strings.TrimSpace(res.Output), prefix) {
				return "", true, nil
			}
		}
		return "", false, &CommandError{Op: "vmrun getGuestIPAddress", ExitCode: res.ExitCode, Output: res.Output}
	}
	ip := strings.TrimSpace(res.Output)
	if !ipv4Regexp.MatchString(ip) {
		return "", false, &UnexpectedOutputError{Op: "vmrun getGuestIPAddress", Output: res.Output}
	}
	return ip, false, nil
}
