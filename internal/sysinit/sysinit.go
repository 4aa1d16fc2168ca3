// Package sysinit is the guest-side PID-1 run by kernel targets. It is
// grounded on aibor-virtrun's sysinit package (mount table
// shape, symlink helper, PID-1 guard) adapted to this domain: instead of
// running a test binary and printing its exit code, it locates and
// launches the QEMU Guest Agent and powers the guest off when that agent
// exits for any reason.
package sysinit

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// ErrNotPidOne is returned (and immediately fatal) when this program is
// not running as PID 1.
var ErrNotPidOne = errors.New("sysinit: process is not PID 1")

// IsPidOne reports whether the running process has PID 1.
func IsPidOne() bool {
	return os.Getpid() == 1
}

// Logger writes guest-init progress. Before /dev/kmsg is mounted there is
// no guest console guarantee, so the zero-value Logger writes to stderr;
// call UseKmsg once /dev exists.
type Logger struct {
	out *os.File
}

// NewLogger returns a Logger writing to stderr until UseKmsg succeeds.
func NewLogger() *Logger {
	return &Logger{out: os.Stderr}
}

// UseKmsg switches the logger to /dev/kmsg if it can be opened.
func (l *Logger) UseKmsg() {
	f, err := os.OpenFile("/dev/kmsg", os.O_WRONLY, 0)
	if err != nil {
		return
	}
	l.out = f
}

func (l *Logger) Printf(format string, args ...any) {
	fmt.Fprintf(l.out, "vmtest-init: "+format+"\n", args...)
}

// Poweroff shuts the guest down immediately. It is the trap Run installs
// on exit: the kernel panics if PID 1 exits without this.
func Poweroff(log *Logger) {
	if err := unix.Reboot(unix.LINUX_REBOOT_CMD_POWER_OFF); err != nil {
		log.Printf("poweroff failed: %v", err)
	}
}

// Run is the guest init entry point. It must be called exactly once, as
// PID 1; it never returns normally — either a setup step fails and it
// powers off directly, or it runs to completion and powers off in a
// deferred call. No code path may otherwise let PID 1 exit, or the
// kernel panics.
func Run() {
	log := NewLogger()

	if !IsPidOne() {
		log.Printf("%v", ErrNotPidOne)
		os.Exit(1)
	}

	defer Poweroff(log)

	if err := MountEarlyProc(); err != nil {
		log.Printf("mount early proc: %v", err)
		return
	}
	if err := PivotToSharedRoot(); err != nil {
		log.Printf("pivot to shared root: %v", err)
		return
	}

	if err := MountEssentials(); err != nil {
		log.Printf("mount essentials: %v", err)
		return
	}
	log.UseKmsg()
	log.Printf("mounted pseudo filesystems")

	if err := CreateDevSymlinks(); err != nil {
		log.Printf("dev symlinks: %v", err)
		return
	}

	port, err := FindGuestAgentPort(defaultPortScanAttempts, defaultPortScanInterval)
	if err != nil {
		log.Printf("guest agent port: %v", err)
		return
	}
	log.Printf("found guest agent port at %s", port)

	if err := RunGuestAgent(log, port); err != nil {
		log.Printf("guest agent: %v", err)
		return
	}
}
