// Command vmtest-init is the PID-1 binary embedded into the initramfs
// built for kernel targets. It has no flags: its entire behavior is
// driven by /proc/cmdline and the guest's virtio devices.
package main

import "github.com/vmforge/vmforge/internal/sysinit"

func main() {
	sysinit.Run()
}
