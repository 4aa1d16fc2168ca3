package qemu

import (
	"fmt"
	"os"
	"runtime"
)

// Platform captures the architecture-specific QEMU defaults: a single
// table is enough for the supported architectures; there is no second
// implementation that would justify a heavier platform-module abstraction.
type Platform struct {
	Binary        string // qemu-system-<arch>
	Machine       string // -machine value (empty means let QEMU pick its default)
	KVMCPU        string // -cpu value under KVM acceleration
	TCGCPU        string // -cpu value when KVM is unavailable
	ConsoleDevice string // kernel console= device name
}

var platforms = map[string]Platform{
	"x86_64": {
		Binary:        "qemu-system-x86_64",
		Machine:       "q35",
		KVMCPU:        "host",
		TCGCPU:        "qemu64",
		ConsoleDevice: "ttyS0",
	},
	"aarch64": {
		Binary:        "qemu-system-aarch64",
		Machine:       "virt",
		KVMCPU:        "host",
		TCGCPU:        "max",
		ConsoleDevice: "ttyAMA0",
	},
	"s390x": {
		Binary:        "qemu-system-s390x",
		Machine:       "s390-ccw-virtio",
		KVMCPU:        "host",
		TCGCPU:        "max",
		ConsoleDevice: "ttysclp0",
	},
}

// HostArch maps Go's GOARCH to the architecture names used throughout this
// package and in Target.Arch.
func HostArch() string {
	switch runtime.GOARCH {
	case "amd64":
		return "x86_64"
	case "arm64":
		return "aarch64"
	case "s390x":
		return "s390x"
	default:
		return runtime.GOARCH
	}
}

// LookupPlatform returns the defaults table entry for arch.
func LookupPlatform(arch string) (Platform, bool) {
	p, ok := platforms[arch]
	return p, ok
}

// SupportsKVM reports whether the host can accelerate a VM of the given
// target architecture: /dev/kvm must exist and the target arch must match
// the host's.
func SupportsKVM(arch string) bool {
	if arch != HostArch() {
		return false
	}
	_, err := os.Stat("/dev/kvm")
	return err == nil
}

// uefiFirmwareCandidates is the short ordered list of well-known firmware
// paths consulted when uefi=true and no explicit bios path was given.
var uefiFirmwareCandidates = map[string][]string{
	"x86_64": {
		"/usr/share/OVMF/OVMF_CODE.fd",
		"/usr/share/ovmf/OVMF.fd",
		"/usr/share/edk2/ovmf/OVMF_CODE.fd",
		"/usr/share/qemu/OVMF.fd",
	},
	"aarch64": {
		"/usr/share/AAVMF/AAVMF_CODE.fd",
		"/usr/share/edk2/aarch64/QEMU_EFI.fd",
		"/usr/share/qemu-efi-aarch64/QEMU_EFI.fd",
	},
}

// DiscoverUEFIFirmware searches uefiFirmwareCandidates for arch and returns
// the first path that exists. It returns an error (surfaced by the driver
// as Error{Config}) when none is found.
func DiscoverUEFIFirmware(arch string) (string, error) {
	for _, candidate := range uefiFirmwareCandidates[arch] {
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("no UEFI firmware found for %s in well-known paths", arch)
}
