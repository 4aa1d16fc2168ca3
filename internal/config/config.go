// Package config resolves a run's targets from either a TOML file or the
// CLI one-liner form into the immutable [Target] values the driver
// consumes. Decoding uses github.com/pelletier/go-toml/v2.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/pelletier/go-toml/v2"

	"github.com/vmforge/vmforge/internal/qemu"
)

// Mode identifies which of the three target shapes a Target uses.
type Mode int

const (
	// ModeImageOnly boots a fully self-contained bootable disk image.
	ModeImageOnly Mode = iota
	// ModeKernelOnly boots a kernel on top of a shared rootfs.
	ModeKernelOnly
	// ModeImageWithKernel boots a kernel with an image attached as a
	// secondary disk.
	ModeImageWithKernel
)

func (m Mode) String() string {
	switch m {
	case ModeImageOnly:
		return "image"
	case ModeKernelOnly:
		return "kernel"
	case ModeImageWithKernel:
		return "image+kernel"
	default:
		return "unknown"
	}
}

// Mount describes one additional 9p export from the host into the guest.
type Mount struct {
	HostPath string `toml:"host_path"`
	Writable bool   `toml:"writable"`
}

// VMConfig carries the QEMU-level knobs for one target.
type VMConfig struct {
	NumCPUs    int               `toml:"num_cpus"`
	Memory     string            `toml:"memory"`
	Bios       string            `toml:"bios"`
	ExtraArgs  []string          `toml:"extra_args"`
	Mounts     map[string]Mount  `toml:"mounts"`
}

// DefaultVMConfig returns the baseline VM shape: 2 vCPUs, 4G memory.
func DefaultVMConfig() VMConfig {
	return VMConfig{NumCPUs: 2, Memory: "4G"}
}

// rawTarget is the TOML-decodable shape; fields default to the zero value
// and are filled in by Resolve.
type rawTarget struct {
	Name       string   `toml:"name"`
	Command    string   `toml:"command"`
	Image      string   `toml:"image"`
	Kernel     string   `toml:"kernel"`
	Rootfs     string   `toml:"rootfs"`
	KernelArgs string   `toml:"kernel_args"`
	UEFI       bool     `toml:"uefi"`
	Arch       string   `toml:"arch"`
	VM         VMConfig `toml:"vm"`
}

// file is the top-level TOML document shape: an array of [[target]]
// tables.
type file struct {
	Target []rawTarget `toml:"target"`
}

// Target is the resolved, validated input to the driver.
type Target struct {
	Name       string
	Mode       Mode
	Image      string
	Kernel     string
	Rootfs     string
	KernelArgs string
	UEFI       bool
	Arch       string
	Command    string
	VM         VMConfig
	Rootdir    string
	Env        []string
}

// LoadFile parses a TOML config at path and resolves every [[target]] table
// into a validated Target. Relative paths inside each target (image,
// kernel, rootfs, bios, mount host_path) are resolved against the
// directory containing path, the target's `rootdir` anchor.
func LoadFile(path string) ([]Target, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var f file
	if err := toml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if len(f.Target) == 0 {
		return nil, fmt.Errorf("config %s: no [[target]] tables", path)
	}

	rootdir, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("resolve rootdir: %w", err)
	}

	seen := make(map[string]bool, len(f.Target))
	targets := make([]Target, 0, len(f.Target))
	for i, raw := range f.Target {
		t, err := resolve(raw, rootdir)
		if err != nil {
			return nil, fmt.Errorf("target[%d] %q: %w", i, raw.Name, err)
		}
		if seen[t.Name] {
			return nil, fmt.Errorf("target[%d]: duplicate target name %q", i, t.Name)
		}
		seen[t.Name] = true
		targets = append(targets, t)
	}
	return targets, nil
}

// OneLiner builds a single Target from the CLI flag form: exactly one of
// image/kernel is supplied directly instead of via a config file.
func OneLiner(name, command, image, kernel, rootfs, arch, kernelArgs string, uefi bool, vm VMConfig) (Target, error) {
	raw := rawTarget{
		Name:       name,
		Command:    command,
		Image:      image,
		Kernel:     kernel,
		Rootfs:     rootfs,
		KernelArgs: kernelArgs,
		UEFI:       uefi,
		Arch:       arch,
		VM:         vm,
	}
	cwd, err := os.Getwd()
	if err != nil {
		return Target{}, fmt.Errorf("getwd: %w", err)
	}
	return resolve(raw, cwd)
}

func resolve(raw rawTarget, rootdir string) (Target, error) {
	if raw.Name == "" {
		return Target{}, fmt.Errorf("missing required field: name")
	}
	if raw.Command == "" {
		return Target{}, fmt.Errorf("missing required field: command")
	}

	hasImage := raw.Image != ""
	hasKernel := raw.Kernel != ""

	var mode Mode
	switch {
	case hasImage && hasKernel:
		mode = ModeImageWithKernel
	case hasImage:
		mode = ModeImageOnly
	case hasKernel:
		mode = ModeKernelOnly
	default:
		return Target{}, fmt.Errorf("exactly one of image or kernel is required")
	}

	if raw.Rootfs != "" && !hasKernel {
		return Target{}, fmt.Errorf("rootfs requires kernel")
	}
	if raw.KernelArgs != "" && !hasKernel {
		return Target{}, fmt.Errorf("kernel_args is only valid with a kernel target")
	}
	if mode == ModeKernelOnly && raw.Rootfs == "" {
		return Target{}, fmt.Errorf("kernel-only targets require rootfs")
	}
	if raw.UEFI && mode == ModeKernelOnly {
		return Target{}, fmt.Errorf("must specify image with uefi")
	}

	arch := raw.Arch
	if arch == "" {
		arch = qemu.HostArch()
	}
	if _, ok := qemu.LookupPlatform(arch); !ok {
		return Target{}, fmt.Errorf("unsupported arch %q", arch)
	}

	vm := raw.VM
	if vm.NumCPUs == 0 {
		vm.NumCPUs = DefaultVMConfig().NumCPUs
	}
	if vm.Memory == "" {
		vm.Memory = DefaultVMConfig().Memory
	}

	resolvePath := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(rootdir, p)
	}

	image := resolvePath(raw.Image)
	kernel := resolvePath(raw.Kernel)
	rootfs := resolvePath(raw.Rootfs)
	bios := resolvePath(vm.Bios)
	vm.Bios = bios

	for _, path := range []string{image, kernel, rootfs} {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); err != nil {
			return Target{}, fmt.Errorf("stat %s: %w", path, err)
		}
	}

	seenTags := make(map[string]bool, len(vm.Mounts))
	resolvedMounts := make(map[string]Mount, len(vm.Mounts))
	for guestPath, m := range vm.Mounts {
		tag := MountTag(guestPath)
		if seenTags[tag] {
			return Target{}, fmt.Errorf("duplicate mount tag derived from %q", guestPath)
		}
		seenTags[tag] = true

		hostPath := resolvePath(m.HostPath)
		if _, err := os.Stat(hostPath); err != nil {
			return Target{}, fmt.Errorf("mount %s: stat host_path %s: %w", guestPath, hostPath, err)
		}
		resolvedMounts[guestPath] = Mount{HostPath: hostPath, Writable: m.Writable}
	}
	vm.Mounts = resolvedMounts

	if raw.UEFI && vm.Bios == "" {
		found, err := qemu.DiscoverUEFIFirmware(arch)
		if err != nil {
			return Target{}, fmt.Errorf("uefi firmware: %w", err)
		}
		vm.Bios = found
	}

	return Target{
		Name:       raw.Name,
		Mode:       mode,
		Image:      image,
		Kernel:     kernel,
		Rootfs:     rootfs,
		KernelArgs: raw.KernelArgs,
		UEFI:       raw.UEFI,
		Arch:       arch,
		Command:    raw.Command,
		VM:         vm,
		Rootdir:    rootdir,
		Env:        os.Environ(),
	}, nil
}

// MountTag derives a stable 9p export tag from a guest mount path, distinct
// from the reserved "root" and "vmtest" tags. The driver uses the same
// derivation when composing QEMU's fsdev/device arguments and again when
// issuing the guest-side mount command, so the two agree without either
// side tracking the other's iteration order.
func MountTag(guestPath string) string {
	clean := filepath.Clean(guestPath)
	tag := regexp.MustCompile(`[^a-zA-Z0-9_]+`).ReplaceAllString(clean, "_")
	if tag == "" || tag == "_" {
		tag = "mount"
	}
	return "m" + tag
}

// FilterByName keeps only targets whose Name equals name, when name is
// non-empty. It mirrors the CLI's `--name` flag.
func FilterByName(targets []Target, name string) []Target {
	if name == "" {
		return targets
	}
	out := make([]Target, 0, len(targets))
	for _, t := range targets {
		if t.Name == name {
			out = append(out, t)
		}
	}
	return out
}

// FilterByRegex keeps only targets whose Name matches the compiled regex,
// mirroring the original's `-f/--filter` flag.
func FilterByRegex(targets []Target, re *regexp.Regexp) []Target {
	if re == nil {
		return targets
	}
	out := make([]Target, 0, len(targets))
	for _, t := range targets {
		if re.MatchString(t.Name) {
			out = append(out, t)
		}
	}
	return out
}
