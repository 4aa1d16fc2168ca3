// Package scope implements the Resource Scope: a LIFO-release cleanup
// utility for the temp files, directories, child processes, and sockets a
// driver run acquires. It is built on gvisor's cleanup.Cleanup, the
// rollback-on-error primitive used around QEMU process spawn.
package scope

import (
	"log/slog"
	"net"
	"os"
	"os/exec"
	"syscall"
	"time"

	"gvisor.dev/gvisor/pkg/cleanup"
)

// Scope accumulates release actions and runs them in LIFO order exactly
// once, on Close. A failed escalation (e.g. a process that won't die) is
// logged and the remaining releases still run.
type Scope struct {
	log *slog.Logger
	cu  cleanup.Cleanup
}

// New creates an empty Scope. log may be nil, in which case a discard
// logger is used.
func New(log *slog.Logger) *Scope {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	s := &Scope{log: log}
	s.cu = cleanup.Make(func() {})
	return s
}

// AddTempPath registers a file or directory for removal on Close.
func (s *Scope) AddTempPath(path string) {
	s.cu.Add(func() {
		if err := os.RemoveAll(path); err != nil && !os.IsNotExist(err) {
			s.log.Warn("scope: failed to remove temp path", "path", path, "error", err)
		}
	})
}

// AddCloser registers c for Close on scope exit.
func (s *Scope) AddCloser(c interface{ Close() error }) {
	s.cu.Add(func() {
		if err := c.Close(); err != nil {
			s.log.Warn("scope: failed to close resource", "error", err)
		}
	})
}

// AddListener registers a net.Listener for Close, additionally removing a
// backing unix socket path if one is supplied (net.UnixListener does this
// itself, but server-mode char devices created by QEMU do not).
func (s *Scope) AddListener(l net.Listener) {
	s.AddCloser(l)
}

// AddProcess registers a child process for termination and starts the
// single goroutine that reaps it, returning a channel closed once that
// reap completes. proc must not be waited on by any other caller — Scope
// is the sole reaper for the lifetime of the process, so other code that
// needs to know when the process has exited (e.g. a driver's own shutdown
// sequencing) must select on the returned channel rather than calling
// Wait itself.
//
// On Close, the process is sent SIGTERM; if it has not exited within
// grace, it is escalated to SIGKILL. Failure to signal or reap is logged,
// never fatal.
func (s *Scope) AddProcess(proc *os.Process, grace time.Duration) <-chan struct{} {
	exited := make(chan struct{})
	if proc == nil {
		close(exited)
		s.cu.Add(func() {})
		return exited
	}

	go func() {
		proc.Wait()
		close(exited)
	}()

	s.cu.Add(func() {
		if err := proc.Signal(syscall.SIGTERM); err != nil {
			s.log.Debug("scope: SIGTERM failed, process likely already dead", "pid", proc.Pid, "error", err)
		}

		select {
		case <-exited:
			return
		case <-time.After(grace):
		}

		s.log.Warn("scope: process did not exit after grace, escalating to SIGKILL", "pid", proc.Pid)
		if err := proc.Signal(syscall.SIGKILL); err != nil {
			s.log.Warn("scope: SIGKILL failed", "pid", proc.Pid, "error", err)
			return
		}
		<-exited
	})
	return exited
}

// AddCmd is a convenience wrapper around AddProcess for an *exec.Cmd that
// has already been started.
func (s *Scope) AddCmd(cmd *exec.Cmd, grace time.Duration) <-chan struct{} {
	if cmd.Process == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return s.AddProcess(cmd.Process, grace)
}

// Add registers an arbitrary release action.
func (s *Scope) Add(release func()) {
	s.cu.Add(release)
}

// Close runs every registered release action in LIFO order. It is safe to
// call multiple times; only the first call has an effect.
func (s *Scope) Close() {
	s.cu.Clean()
}
