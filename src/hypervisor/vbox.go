package hypervisor

import (
	"context"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"ansible-vmmanager/src/cmdrun"
	"ansible-vmmanager/src/instance"
)

// DefaultVBoxManagePath is the conventional location of the VirtualBox tool.
const DefaultVBoxManagePath = "/usr/bin/VBoxManage"

// SnapshotName is the well-known snapshot linked clones are taken from. It
// is created lazily on first clone and never duplicated.
const SnapshotName = "ansible-snapshot"

// guestIPProperty is the guest property VirtualBox publishes the primary
// IPv4 address under.
const guestIPProperty = "/VirtualBox/GuestInfo/Net/0/V4/IP"

const noSnapshotsSentinel = "This machine does not have any snapshots"
const noValueSentinel = "No value set!"

var (
	quotedNameRegexp = regexp.MustCompile(`^"(.*)"`)
	snapshotRegexp   = regexp.MustCompile(`Name: (.*) \(UUID: ([^)]+)\)`)
	guestIPRegexp    = regexp.MustCompile(`^Value: (\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3})$`)
	bridgedIfRegexp  = regexp.MustCompile(`^Name:\s+(en0.+|eth.+)$`)
	hostonlyIfRegexp = regexp.MustCompile(`^Name:\s+(.+)$`)
)

// Snapshot is one entry of a VM's snapshot list.
type Snapshot struct {
	Name string
	UUID uuid.UUID
}

// VirtualBox drives VirtualBox through the VBoxManage tool. VMs live in a
// managed registry keyed by name, and cloning is always linked against the
// well-known snapshot of the source.
type VirtualBox struct {
	vboxmanage string
	run        cmdrun.Runner
}

// NewVirtualBox validates the tool precondition and returns a driver.
func NewVirtualBox(vboxmanagePath string, runner cmdrun.Runner) (*VirtualBox, error) {
	if fi, err := os.Stat(vboxmanagePath); err != nil || fi.IsDir() {
		return nil, &ToolNotFoundError{Path: vboxmanagePath}
	}
	return &VirtualBox{vboxmanage: vboxmanagePath, run: runner}, nil
}

// ListInstances parses `VBoxManage list vms`, one quoted name per line.
func (v *VirtualBox) ListInstances(ctx context.Context) ([]string, error) {
	return v.listVMs(ctx, "vms")
}

// ListRunning parses `VBoxManage list runningvms`.
func (v *VirtualBox) ListRunning(ctx context.Context) ([]string, error) {
	return v.listVMs(ctx, "runningvms")
}

func (v *VirtualBox) listVMs(ctx context.Context, which string) ([]string, error) {
	res, err := v.run.Run(ctx, v.vboxmanage, "list", which)
	if err != nil {
		return nil, err
	}
	if !res.OK() {
		return nil, &CommandError{Op: "VBoxManage list " + which, ExitCode: res.ExitCode, Output: res.Output}
	}
	var out []string
	for _, line := range res.Lines() {
		if line == "" {
			continue
		}
		m := quotedNameRegexp.FindStringSubmatch(line)
		if m == nil {
			return nil, &UnexpectedOutputError{Op: "VBoxManage list " + which, Output: line}
		}
		out = append(out, m[1])
	}
	return out, nil
}

func (v *VirtualBox) Exists(ctx context.Context, inst instance.Instance) (bool, error) {
	vms, err := v.ListInstances(ctx)
	if err != nil {
		return false, err
	}
	return contains(vms, inst.TargetImage), nil
}

func (v *VirtualBox) IsRunning(ctx context.Context, inst instance.Instance) (bool, error) {
	running, err := v.ListRunning(ctx)
	if err != nil {
		return false, err
	}
	return contains(running, inst.TargetImage), nil
}

// ResolveSource matches the configured source image pattern against the
// registry by substring. Exactly one candidate must match; zero or several
// is fatal, never guessed.
func (v *VirtualBox) ResolveSource(ctx context.Context, pattern string) (string, error) {
	vms, err := v.ListInstances(ctx)
	if err != nil {
		return "", err
	}
	var candidates []string
	for _, vm := range vms {
		if strings.Contains(vm, pattern) {
			candidates = append(candidates, vm)
		}
	}
	switch len(candidates) {
	case 0:
		return "", &NotFoundError{What: "source image", Name: pattern}
	case 1:
		return candidates[0], nil
	default:
		return "", &AmbiguousError{What: "source image", Pattern: pattern, Candidates: candidates}
	}
}

// ListSnapshots parses `VBoxManage snapshot <vm> list`. The tool exits
// non-zero with a sentinel message when the VM has no snapshots; that case
// is an empty list, not an error.
func (v *VirtualBox) ListSnapshots(ctx context.Context, vm string) ([]Snapshot, error) {
	res, err := v.run.Run(ctx, v.vboxmanage, "snapshot", vm, "list")
	if err != nil {
		return nil, err
	}
	if strings.Contains(res.Output, noSnapshotsSentinel) {
		return nil, nil
	}
	if !res.OK() {
		return nil, &CommandError{Op: "VBoxManage snapshot list", ExitCode: res.ExitCode, Output: res.Output}
	}
	var out []Snapshot
	for _, line := range res.Lines() {
		if !strings.Contains(line, "Name:") {
			continue
		}
		m := snapshotRegexp.FindStringSubmatch(line)
		if m == nil {
			return nil, &UnexpectedOutputError{Op: "VBoxManage snapshot list", Output: line}
		}
		id, err := uuid.Parse(m[2])
		if err != nil {
			return nil, &UnexpectedOutputError{Op: "VBoxManage snapshot list", Output: line}
		}
		out = append(out, Snapshot{Name: m[1], UUID: id})
	}
	return out, nil
}

// EnsureSnapshot guarantees the well-known linking snapshot exists on the
// source. Concurrent reconciliations of targets sharing one source can race
// here, so a failed take is re-checked against the list and counted as
// success when the snapshot turned up anyway.
func (v *VirtualBox) EnsureSnapshot(ctx context.Context, vm string) error {
	snaps, err := v.ListSnapshots(ctx, vm)
	if err != nil {
		return err
	}
	if hasSnapshot(snaps, SnapshotName) {
		return nil
	}
	res, err := v.run.Run(ctx, v.vboxmanage, "snapshot", vm, "take", SnapshotName)
	if err != nil {
		return err
	}
	if res.OK() {
		logrus.WithField("source", vm).Debug("created linking snapshot")
		return nil
	}
	snaps, listErr := v.ListSnapshots(ctx, vm)
	if listErr == nil && hasSnapshot(snaps, SnapshotName) {
		return nil
	}
	return &CommandError{Op: "VBoxManage snapshot take", ExitCode: res.ExitCode, Output: res.Output}
}

// Clone resolves the source, ensures the linking snapshot, and registers a
// linked clone under the target name.
func (v *VirtualBox) Clone(ctx context.Context, inst instance.Instance) error {
	exists, err := v.Exists(ctx, inst)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	source, err := v.ResolveSource(ctx, inst.SourceImage)
	if err != nil {
		return err
	}
	if err := v.EnsureSnapshot(ctx, source); err != nil {
		return err
	}
	res, err := v.run.Run(ctx, v.vboxmanage, "clonevm", source,
		"--options", "link", "--name", inst.TargetImage, "--snapshot", SnapshotName, "--register")
	if err != nil {
		return err
	}
	if !res.OK() {
		return &CommandError{Op: "VBoxManage clonevm", ExitCode: res.ExitCode, Output: res.Output}
	}
	logrus.WithFields(logrus.Fields{"source": source, "target": inst.TargetImage}).Debug("cloned vm")
	return nil
}

// ConfigureNetwork sets the mode of nic1 and, for bridged and hostonly
// modes, binds the adapter to the single matching host interface. Zero or
// multiple interface matches is fatal.
func (v *VirtualBox) ConfigureNetwork(ctx context.Context, inst instance.Instance) error {
	res, err := v.run.Run(ctx, v.vboxmanage, "modifyvm", inst.TargetImage, "--nic1", string(inst.NetworkType))
	if err != nil {
		return err
	}
	if !res.OK() {
		return &CommandError{Op: "VBoxManage modifyvm --nic1", ExitCode: res.ExitCode, Output: res.Output}
	}
	switch inst.NetworkType {
	case instance.NetworkBridged:
		name, err := v.resolveInterface(ctx, "bridgedifs", bridgedIfRegexp, "bridged interface")
		if err != nil {
			return err
		}
		return v.modifyVM(ctx, inst.TargetImage, "--bridgeadapter1", name)
	case instance.NetworkHostOnly:
		name, err := v.resolveInterface(ctx, "hostonlyifs", hostonlyIfRegexp, "hostonly interface")
		if err != nil {
			return err
		}
		return v.modifyVM(ctx, inst.TargetImage, "--hostonlyadapter1", name)
	}
	return nil
}

// resolveInterface filters `VBoxManage list <which>` through re and requires
// exactly one match.
func (v *VirtualBox) resolveInterface(ctx context.Context, which string, re *regexp.Regexp, what string) (string, error) {
	res, err := v.run.Run(ctx, v.vboxmanage, "list", which)
	if err != nil {
		return "", err
	}
	if !res.OK() {
		return "", &CommandError{Op: "VBoxManage list " + which, ExitCode: res.ExitCode, Output: res.Output}
	}
	var matches []string
	for _, line := range res.Lines() {
		if m := re.FindStringSubmatch(line); m != nil {
			matches = append(matches, m[1])
		}
	}
	switch len(matches) {
	case 0:
		return "", &NotFoundError{What: what, Name: re.String()}
	case 1:
		return matches[0], nil
	default:
		return "", &AmbiguousError{What: what, Pattern: re.String(), Candidates: matches}
	}
}

func (v *VirtualBox) modifyVM(ctx context.Context, target string, args ...string) error {
	argv := append([]string{"modifyvm", target}, args...)
	res, err := v.run.Run(ctx, v.vboxmanage, argv...)
	if err != nil {
		return err
	}
	if !res.OK() {
		return &CommandError{Op: "VBoxManage " + strings.Join(argv[:2], " "), ExitCode: res.ExitCode, Output: res.Output}
	}
	return nil
}

func (v *VirtualBox) ConfigureMemory(ctx context.Context, inst instance.Instance) error {
	return v.modifyVM(ctx, inst.TargetImage, "--memory", strconv.Itoa(inst.MemsizeMB))
}

func (v *VirtualBox) Start(ctx context.Context, inst instance.Instance) error {
	kind := "gui"
	if inst.Headless {
		kind = "headless"
	}
	res, err := v.run.Run(ctx, v.vboxmanage, "startvm", inst.TargetImage, "--type", kind)
	if err != nil {
		return err
	}
	if !res.OK() {
		return &CommandError{Op: "VBoxManage startvm", ExitCode: res.ExitCode, Output: res.Output}
	}
	return nil
}

func (v *VirtualBox) Stop(ctx context.Context, inst instance.Instance) error {
	running, err := v.IsRunning(ctx, inst)
	if err != nil {
		return err
	}
	if !running {
		return nil
	}
	res, err := v.run.Run(ctx, v.vboxmanage, "controlvm", inst.TargetImage, "poweroff")
	if err != nil {
		return err
	}
	if !res.OK() {
		return &CommandError{Op: "VBoxManage controlvm poweroff", ExitCode: res.ExitCode, Output: res.Output}
	}
	running, err = v.IsRunning(ctx, inst)
	if err != nil {
		return err
	}
	if running {
		return &StopVerificationError{Target: inst.TargetImage}
	}
	return nil
}

func (v *VirtualBox) Delete(ctx context.Context, inst instance.Instance) error {
	if err := v.Stop(ctx, inst); err != nil {
		return err
	}
	res, err := v.run.Run(ctx, v.vboxmanage, "unregistervm", inst.TargetImage, "--delete")
	if err != nil {
		return err
	}
	if !res.OK() {
		return &CommandError{Op: "VBoxManage unregistervm", ExitCode: res.ExitCode, Output: res.Output}
	}
	logrus.WithField("target", inst.TargetImage).Debug("deleted vm")
	return nil
}

// QueryIPAddress reads the guest IP property once. A successful run either
// carries the "no value" sentinel (pending) or a Value line with a dotted
// quad; anything else is unexpected output and fails immediately.
func (v *VirtualBox) QueryIPAddress(ctx context.Context, inst instance.Instance) (string, bool, error) {
	res, err := v.run.Run(ctx, v.vboxmanage, "guestproperty", "get", inst.TargetImage, guestIPProperty)
	if err != nil {
		return "", false, err
	}
	if !res.OK() {
		return "", false, &CommandError{Op: "VBoxManage guestproperty get", ExitCode: res.ExitCode, Output: res.Output}
	}
	out := strings.TrimSpace(res.Output)
	if out == noValueSentinel {
		return "", true, nil
	}
	if m := guestIPRegexp.FindStringSubmatch(out); m != nil {
		return m[1], false, nil
	}
	return "", false, &UnexpectedOutputError{Op: "VBoxManage guestproperty get", Output: res.Output}
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

func hasSnapshot(snaps []Snapshot, name string) bool {
	for _, s := range snaps {
		if s.Name == name {
			return true
		}
	}
	return false
}
