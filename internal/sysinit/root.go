package sysinit

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/sys/unix"
)

const (
	initramfsRootMount = "/mnt/root"
	rootTag            = "root"
)

// PivotToSharedRoot mounts the host rootfs shared via the 9p export
// tagged rootTag — the same tag the driver attaches the rootfs drive
// under — and chroots into it, so that everything run after this point
// (including the QEMU Guest Agent and user commands it launches) sees
// the host's own filesystem rather than the initramfs this program was
// unpacked from.
//
// The mount options are read back from /proc/cmdline's rootflags=
// rather than hardcoded, so a future change to the driver's kernel
// command line construction only needs to change one place.
func PivotToSharedRoot() error {
	cmdline, err := os.ReadFile("/proc/cmdline")
	if err != nil {
		return fmt.Errorf("read /proc/cmdline: %w", err)
	}
	opts := rootflagsFrom(string(cmdline))
	readOnly := !strings.Contains(opts, "rw")

	if err := os.MkdirAll(initramfsRootMount, defaultDirMode); err != nil {
		return fmt.Errorf("mkdir %s: %w", initramfsRootMount, err)
	}

	var flags uintptr
	if readOnly {
		flags |= unix.MS_RDONLY
	}
	if err := unix.Mount(rootTag, initramfsRootMount, "9p", flags, opts); err != nil {
		return fmt.Errorf("mount 9p root: %w", err)
	}

	if err := unix.Chdir(initramfsRootMount); err != nil {
		return fmt.Errorf("chdir %s: %w", initramfsRootMount, err)
	}
	if err := unix.Chroot("."); err != nil {
		return fmt.Errorf("chroot %s: %w", initramfsRootMount, err)
	}
	if err := unix.Chdir("/"); err != nil {
		return fmt.Errorf("chdir /: %w", err)
	}

	return nil
}

// rootflagsFrom extracts the value of rootflags= from a kernel command
// line, falling back to the default 9p mount options if absent (e.g.
// when this binary is exercised outside a real boot, in tests).
func rootflagsFrom(cmdline string) string {
	const def = "trans=virtio,version=9p2000.L"
	for _, field := range strings.Fields(cmdline) {
		if v, ok := strings.CutPrefix(field, "rootflags="); ok {
			return v
		}
	}
	return def
}
