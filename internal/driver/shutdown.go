package driver

import (
	"context"
	"time"

	"github.com/vmforge/vmforge/internal/qemu"
	"github.com/vmforge/vmforge/internal/qga"
)

// syncGuestFilesystems best-effort flushes the guest's filesystems before
// shutdown, so writes to writable mounts are visible on the host once the
// run completes. A failure here is logged, never escalated: it must not
// mask the command's own exit code.
func (d *Driver) syncGuestFilesystems(ctx context.Context, qgaClient *qga.Client) {
	if qgaClient == nil {
		return
	}
	syncCtx, cancel := context.WithTimeout(ctx, d.timeouts.QGARPC)
	defer cancel()
	if _, err := d.guestExecAndWait(syncCtx, qgaClient, "/bin/sync", nil, nil); err != nil {
		d.log.Warn("driver: guest filesystem sync failed", "error", err)
	}
}

// shutdown tears QEMU down in order: ACPI powerdown over QMP, a grace
// period waiting for QEMU to exit on its own, then quit, then the
// Resource Scope's own SIGTERM/SIGKILL escalation takes over when
// sc.Close runs. shutdown never returns an error: every path it can fail
// on is already a "best effort, log and move on" situation by the time
// it's called.
func (d *Driver) shutdown(proc *spawnedProcess, qmpClient *qemu.Client) {
	d.shutdownWithGrace(proc, qmpClient, d.timeouts.ShutdownGraceACPI, d.timeouts.ShutdownGraceKill)
}

// cancelShutdown is the fast path used when ctx has been cancelled: ACPI
// powerdown then quit, each bounded by CancelGrace instead of the longer
// ShutdownGrace* constants, so cancellation-to-Error{Cancelled} stays
// within its documented bound even after the Resource Scope's own
// SIGTERM/SIGKILL escalation runs on top of it in sc.Close.
func (d *Driver) cancelShutdown(proc *spawnedProcess, qmpClient *qemu.Client) {
	d.shutdownWithGrace(proc, qmpClient, d.timeouts.CancelGrace, d.timeouts.CancelGrace)
}

func (d *Driver) shutdownWithGrace(proc *spawnedProcess, qmpClient *qemu.Client, acpiGrace, killGrace time.Duration) {
	if proc == nil {
		return
	}

	if qmpClient != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), acpiGrace)
		defer cancel()

		if err := qmpClient.SystemPowerdown(shutdownCtx); err != nil {
			d.log.Debug("driver: system_powerdown failed, falling back to quit", "error", err)
		} else if waitExit(proc, acpiGrace) {
			return
		}

		quitCtx, cancel2 := context.WithTimeout(context.Background(), killGrace)
		defer cancel2()
		if err := qmpClient.Quit(quitCtx); err != nil {
			d.log.Debug("driver: qmp quit failed, scope will escalate to signals", "error", err)
		}
	}

	waitExit(proc, killGrace)
}

// waitExit waits up to grace for proc's process to have been reaped,
// reporting whether it was. It never calls Wait itself — scope.AddProcess
// started the sole reaping goroutine when proc was registered and
// shutdown only ever selects on the channel it returned, so repeated
// calls (once after ACPI powerdown, again after quit) share the same
// underlying wait instead of racing separate Wait calls against it.
func waitExit(proc *spawnedProcess, grace time.Duration) bool {
	select {
	case <-proc.exited:
		return true
	case <-time.After(grace):
		return false
	}
}
