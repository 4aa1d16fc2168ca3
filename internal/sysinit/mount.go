package sysinit

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

const defaultDirMode = 0o755

// mountPoint describes one pseudo-filesystem mount.
type mountPoint struct {
	path    string
	fsType  string
	mayFail bool
}

// essentialMountPoints is the full set of pseudo-filesystems init mounts
// before handing off to the guest command. proc is mounted first and
// separately, because it must shadow whatever /proc the 9p root export
// inherited from the host.
func essentialMountPoints() []mountPoint {
	return []mountPoint{
		{path: "/dev", fsType: "devtmpfs"},
		{path: "/dev/shm", fsType: "tmpfs"},
		{path: "/tmp", fsType: "tmpfs"},
		{path: "/run", fsType: "tmpfs"},
		{path: "/mnt", fsType: "tmpfs"},
		{path: "/sys", fsType: "sysfs"},
		{path: "/sys/fs/cgroup", fsType: "cgroup2"},
		{path: "/sys/kernel/debug", fsType: "debugfs", mayFail: true},
		{path: "/sys/kernel/tracing", fsType: "tracefs", mayFail: true},
	}
}

// MountEarlyProc mounts a minimal /proc inside the initramfs, before the
// shared host rootfs is available, so PivotToSharedRoot can read
// /proc/cmdline to learn the 9p mount options the driver composed.
func MountEarlyProc() error {
	return mount("/proc", "proc", "proc")
}

// MountEssentials mounts /proc (shadowing the host's inherited copy) and
// then the rest of essentialMountPoints, in order, best-effort for the
// mayFail set.
func MountEssentials() error {
	if err := mount("/proc", "proc", "proc"); err != nil {
		return fmt.Errorf("mount /proc: %w", err)
	}

	for _, mp := range essentialMountPoints() {
		if err := mount(mp.path, mp.fsType, mp.fsType); err != nil {
			if mp.mayFail {
				continue
			}
			return fmt.Errorf("mount %s: %w", mp.path, err)
		}
	}

	return nil
}

func mount(path, source, fsType string) error {
	if err := os.MkdirAll(path, defaultDirMode); err != nil {
		return fmt.Errorf("mkdir %s: %w", path, err)
	}
	if err := unix.Mount(source, path, fsType, 0, ""); err != nil {
		return fmt.Errorf("mount syscall: %w", err)
	}
	return nil
}

// CreateDevSymlinks creates /dev/fd -> /proc/self/fd when absent.
func CreateDevSymlinks() error {
	const link, target = "/dev/fd", "/proc/self/fd"
	if _, err := os.Lstat(link); err == nil {
		return nil
	}
	if err := os.Symlink(target, link); err != nil {
		return fmt.Errorf("symlink %s -> %s: %w", link, target, err)
	}
	return nil
}
