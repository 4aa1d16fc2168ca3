package driver

import (
	"bufio"
	"fmt"
	"os/exec"
	"syscall"

	"github.com/vmforge/vmforge/internal/events"
	"github.com/vmforge/vmforge/internal/scope"
)

// spawnedProcess is the running QEMU child, grounded on
// lib/hypervisor/qemu/process.go's StartVM: exec.Command with its own
// process group so the driver's escalation (scope.AddProcess) can signal
// it without taking the caller's own group down too.
//
// exited is the channel scope.AddProcess returns: Scope is this process's
// sole reaper (its one call to Process.Wait is started the moment the
// process is registered), so anything else that needs to know when QEMU
// has exited — shutdown's waitExit in particular — selects on exited
// instead of calling Wait itself.
type spawnedProcess struct {
	cmd    *exec.Cmd
	exited <-chan struct{}
}

// spawn starts QEMU, registering it with sc for SIGTERM/SIGKILL release
// on scope exit. For kernel-mode targets, QEMU's console is wired to
// stdio; spawn tails it and emits a BootLog event per line. Image-mode
// targets route the console to a file instead and are not streamed live.
func (d *Driver) spawn(sc *scope.Scope, spec qemuSpec, sink events.Sink) (*spawnedProcess, error) {
	d.log.Debug("driver: composed qemu invocation", "binary", spec.binary, "args", spec.args)

	cmd := exec.Command(spec.binary, spec.args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var stdout *bufio.Scanner
	if d.isKernelMode() {
		pipe, err := cmd.StdoutPipe()
		if err != nil {
			return nil, fmt.Errorf("create stdout pipe: %w", err)
		}
		stdout = bufio.NewScanner(pipe)
		cmd.Stderr = cmd.Stdout
	} else {
		cmd.Stdout = nil
		cmd.Stderr = nil
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", spec.binary, err)
	}
	exited := sc.AddProcess(cmd.Process, d.timeouts.ShutdownGraceKill)

	if stdout != nil {
		go func() {
			for stdout.Scan() {
				sink.Send(events.Event{Kind: events.BootLog, Line: stdout.Text()})
			}
		}()
	}

	return &spawnedProcess{cmd: cmd, exited: exited}, nil
}
