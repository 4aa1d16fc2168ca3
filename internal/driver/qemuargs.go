package driver

import (
	"fmt"
	"sort"
	"strings"

	"github.com/vmforge/vmforge/internal/config"
	"github.com/vmforge/vmforge/internal/qemu"
)

// outputPortName is the driver-chosen virtio-serial port name the command
// script redirects its output onto. It is fixed rather than randomized
// per run: exactly one such device exists per QEMU instance, so no
// collision is possible within or across runs.
const outputPortName = "org.vmtest.cmd_out.0"

const guestAgentPortName = "org.qemu.guest_agent.0"

// sharedGuestPath is where the 9p export tagged "vmtest" — the host's
// working directory — is mounted inside the guest.
const sharedGuestPath = "/mnt/vmtest"

// qemuSpec is the fully-resolved shape of one QEMU invocation: the argv
// plus the bits later phases need (whether an output chardev exists, the
// rootfs 9p write mode, the kernel cmdline actually used).
type qemuSpec struct {
	binary         string
	args           []string
	hasOutputPort  bool
	rootfsWritable bool
	shouldCD       bool
}

// composeArgs builds the QEMU argv deterministically.
func (d *Driver) composeArgs(paths resourcePaths) (qemuSpec, error) {
	t := d.target
	platform, ok := qemu.LookupPlatform(t.Arch)
	if !ok {
		return qemuSpec{}, fmt.Errorf("unsupported arch %q", t.Arch)
	}

	useKVM := qemu.SupportsKVM(t.Arch)
	cpuModel := platform.TCGCPU
	if useKVM {
		cpuModel = platform.KVMCPU
	}

	spec := qemuSpec{binary: platform.Binary}
	args := []string{}

	if useKVM {
		args = append(args, "-accel", "kvm")
	} else {
		args = append(args, "-accel", "tcg")
	}
	if platform.Machine != "" {
		args = append(args, "-machine", platform.Machine)
	}
	args = append(args, "-cpu", cpuModel)
	args = append(args, "-smp", itoa(t.VM.NumCPUs))
	args = append(args, "-m", t.VM.Memory)
	args = append(args, "-nographic", "-no-reboot")

	if d.isKernelMode() {
		args = append(args, "-serial", "stdio")
	} else {
		args = append(args, "-serial", "file:"+paths.tempDir+"/boot.log")
	}

	args = append(args,
		"-chardev", "socket,id=qmpsock,path="+paths.qmpSock+",server=on,wait=off",
		"-mon", "chardev=qmpsock,mode=control",
	)

	args = append(args,
		"-chardev", "socket,id=qgasock,path="+paths.qgaSock+",server=on,wait=off",
		"-device", "virtio-serial",
		"-device", "virtserialport,chardev=qgasock,name="+guestAgentPortName,
	)

	if d.isKernelMode() {
		args = append(args,
			"-chardev", "socket,id=cmdoutsock,path="+paths.cmdOutSock+",server=on,wait=off",
			"-device", "virtserialport,chardev=cmdoutsock,name="+outputPortName,
		)
		spec.hasOutputPort = true
	}

	if t.UEFI {
		if t.VM.Bios == "" {
			return qemuSpec{}, fmt.Errorf("uefi requested but no firmware located")
		}
		args = append(args, "-bios", t.VM.Bios)
	}

	switch t.Mode {
	case config.ModeImageOnly, config.ModeImageWithKernel:
		args = append(args,
			"-drive", "file="+t.Image+",format=raw,if=none,id=drive0",
			"-device", "virtio-blk-pci,drive=drive0",
		)
	}

	if d.isKernelMode() {
		spec.rootfsWritable = strings.Contains(t.KernelArgs, "rw")
		args = append(args,
			"-kernel", t.Kernel,
			"-initrd", paths.initramfsPath,
			"-fsdev", "local,id=rootfsdev,path="+t.Rootfs+",security_model=mapped-xattr"+readOnlySuffix(!spec.rootfsWritable),
			"-device", "virtio-9p-pci,fsdev=rootfsdev,mount_tag=root",
			"-append", kernelCmdline(platform, t.KernelArgs),
		)
	}

	spec.shouldCD = true
	args = append(args,
		"-fsdev", "local,id=vmtestdev,path="+t.Rootdir+",security_model=mapped-xattr",
		"-device", "virtio-9p-pci,fsdev=vmtestdev,mount_tag=vmtest",
	)

	for _, guestPath := range sortedMountKeys(t.VM.Mounts) {
		m := t.VM.Mounts[guestPath]
		tag := config.MountTag(guestPath)
		args = append(args,
			"-fsdev", "local,id=fsdev_"+tag+",path="+m.HostPath+",security_model=mapped-xattr"+readOnlySuffix(!m.Writable),
			"-device", "virtio-9p-pci,fsdev=fsdev_"+tag+",mount_tag="+tag,
		)
	}

	args = append(args, t.VM.ExtraArgs...)

	spec.args = args
	return spec, nil
}

func readOnlySuffix(readOnly bool) string {
	if readOnly {
		return ",readonly=on"
	}
	return ""
}

// kernelCmdline builds the documented exact prefix — "ro" always, since
// the kernel's own cmdline parsing takes the last ro/rw token, so a
// kernel_args="rw" override takes effect by appearing after this prefix,
// not by this function substituting it.
func kernelCmdline(p qemu.Platform, userArgs string) string {
	cmdline := fmt.Sprintf(
		"root=root rootflags=trans=virtio,version=9p2000.L rootfstype=9p ro console=%s panic=-1",
		p.ConsoleDevice,
	)
	if userArgs != "" {
		cmdline += " " + userArgs
	}
	return cmdline
}

func qemuSupportsKVMFor(arch string) bool {
	return qemu.SupportsKVM(arch)
}

// sortedMountKeys returns m's guest paths in a fixed order, so the QEMU
// argv composed here and the guest-side mount commands issued later agree
// on which fsdev is which without depending on Go's randomized map order.
func sortedMountKeys(m map[string]config.Mount) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func itoa(n int) string {
	if n <= 0 {
		return "2"
	}
	return fmt.Sprintf("%d", n)
}
