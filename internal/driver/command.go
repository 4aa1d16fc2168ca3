package driver

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vmforge/vmforge/internal/config"
	"github.com/vmforge/vmforge/internal/events"
	"github.com/vmforge/vmforge/internal/qga"
	"github.com/vmforge/vmforge/internal/script"
)

const guestScriptPath = "/tmp/vmtest-cmd.sh"

// maxMountAttempts bounds the retry loop in mountUserVolumes: early in
// boot the guest kernel may not have finished probing virtio-9p devices
// yet, so a mount racing that shows up as a transient failure rather than
// a permanent one.
const maxMountAttempts = 10

// mountUserVolumes mounts each of the target's extra 9p exports inside the
// guest via guest-exec, best-effort: a failed mount is reported through
// the caller's SetupEnd event but does not abort the run.
func (d *Driver) mountUserVolumes(ctx context.Context, qgaClient *qga.Client) error {
	for _, guestPath := range sortedMountKeys(d.target.VM.Mounts) {
		m := d.target.VM.Mounts[guestPath]
		tag := config.MountTag(guestPath)
		if err := d.mountOne(ctx, qgaClient, tag, guestPath, m); err != nil {
			return fmt.Errorf("mount %s: %w", guestPath, err)
		}
	}
	return nil
}

func (d *Driver) mountOne(ctx context.Context, qgaClient *qga.Client, tag, guestPath string, m config.Mount) error {
	opts := "trans=virtio,version=9p2000.L"
	if !m.Writable {
		opts += ",ro"
	}
	shellCmd := fmt.Sprintf("mkdir -p %q && mount -t 9p -o %s %s %q", guestPath, opts, tag, guestPath)

	var lastErr error
	for attempt := 0; attempt < maxMountAttempts; attempt++ {
		exitCode, err := d.guestExecAndWait(ctx, qgaClient, "/bin/sh", []string{"-c", shellCmd}, nil)
		if err == nil && exitCode == 0 {
			return nil
		}
		if err != nil {
			lastErr = err
		} else {
			lastErr = fmt.Errorf("mount exited %d", exitCode)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(d.timeouts.MountRetry):
		}
	}
	return lastErr
}

// guestExecAndWait runs path/args to completion via guest-exec and polling
// guest-exec-status, discarding output. Used for the small maintenance
// commands (mount, sync) that don't need the command-output port.
func (d *Driver) guestExecAndWait(ctx context.Context, qgaClient *qga.Client, path string, args, env []string) (int, error) {
	pid, err := qgaClient.GuestExec(ctx, d.timeouts.QGARPC, path, args, env, qga.GuestExecCaptureMode{})
	if err != nil {
		return 0, err
	}
	for {
		status, err := qgaClient.GuestExecStatus(ctx, d.timeouts.QGARPC, pid)
		if err != nil {
			return 0, err
		}
		if status.Exited {
			return exitCodeOf(status), nil
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(250 * time.Millisecond):
		}
	}
}

func exitCodeOf(status *qga.ExecStatus) int {
	if status.Exitcode != nil {
		return *status.Exitcode
	}
	if status.Signal != nil {
		return 128 + *status.Signal
	}
	return 0
}

// runCommand renders the target's command into a guest script, writes it
// via guest-file-*, dispatches it with guest-exec, and streams its
// output. When outConn is non-nil (kernel mode with a live command-output
// port), output is read from outConn and emitted as
// OutputChunk events as it arrives; otherwise output is recovered from
// guest-exec-status's own out-data/err-data fields once the command exits.
func (d *Driver) runCommand(ctx context.Context, qgaClient *qga.Client, spec qemuSpec, outConn io.Reader, sink events.Sink) (int, error) {
	rendered, err := script.Render(script.Context{
		ShouldCD:              spec.shouldCD,
		HostShared:            sharedGuestPath,
		CommandOutputPortName: outputPortName,
		Command:               d.target.Command,
	})
	if err != nil {
		return 0, events.NewError(events.KindCommandDispatch, fmt.Errorf("render script: %w", err))
	}

	if err := d.writeGuestFile(ctx, qgaClient, guestScriptPath, []byte(rendered)); err != nil {
		return 0, events.NewError(events.KindCommandDispatch, fmt.Errorf("write guest script: %w", err))
	}

	pid, err := qgaClient.GuestExec(ctx, d.timeouts.QGARPC, "/bin/bash", []string{guestScriptPath}, d.target.Env, qga.GuestExecCaptureMode{Merged: outConn == nil, Flag: outConn == nil})
	if err != nil {
		return 0, events.NewError(events.KindCommandDispatch, fmt.Errorf("guest-exec: %w", err))
	}

	// The output reader and the status poller are fanned in with
	// errgroup: whichever returns a non-nil error first determines the
	// run's outcome, and a command-only context lets the poller unblock
	// the reader once the guest process has actually exited, since the
	// output port otherwise stays open for the life of the VM.
	g, _ := errgroup.WithContext(ctx)
	var finalStatus *qga.ExecStatus

	g.Go(func() error {
		if outConn == nil {
			return nil
		}
		return d.streamOutput(outConn, sink)
	})

	g.Go(func() error {
		status, err := d.pollExecStatus(ctx, qgaClient, pid)
		if err != nil {
			return err
		}
		finalStatus = status
		if closer, ok := outConn.(io.Closer); ok {
			closer.Close()
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return 0, events.NewError(events.KindCancelled, ctx.Err())
		}
		return 0, events.NewError(events.KindGuestAgentProtocol, fmt.Errorf("guest-exec-status: %w", err))
	}

	if outConn == nil {
		if out := finalStatus.OutData(); len(out) > 0 {
			sink.Send(events.Event{Kind: events.OutputChunk, Data: out})
		}
		if errOut := finalStatus.ErrData(); len(errOut) > 0 {
			sink.Send(events.Event{Kind: events.OutputChunk, Data: errOut})
		}
	}
	return exitCodeOf(finalStatus), nil
}

// streamOutput copies from conn into OutputChunk events until conn is
// closed (by pollExecStatus, once the guest process exits) or a read
// error occurs; both are expected endings, not failures.
func (d *Driver) streamOutput(conn io.Reader, sink events.Sink) error {
	r := bufio.NewReaderSize(conn, 32*1024)
	buf := make([]byte, 32*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			sink.Send(events.Event{Kind: events.OutputChunk, Data: chunk})
		}
		if err != nil {
			return nil
		}
	}
}

// pollExecStatus polls guest-exec-status until the guest process exits.
func (d *Driver) pollExecStatus(ctx context.Context, qgaClient *qga.Client, pid int64) (*qga.ExecStatus, error) {
	for {
		status, err := qgaClient.GuestExecStatus(ctx, d.timeouts.QGARPC, pid)
		if err != nil {
			return nil, err
		}
		if status.Exited {
			return status, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(250 * time.Millisecond):
		}
	}
}

func (d *Driver) writeGuestFile(ctx context.Context, qgaClient *qga.Client, path string, data []byte) error {
	handle, err := qgaClient.GuestFileOpen(ctx, d.timeouts.QGARPC, path, "w")
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	if _, err := qgaClient.GuestFileWrite(ctx, d.timeouts.QGARPC, handle, data); err != nil {
		qgaClient.GuestFileClose(ctx, d.timeouts.QGARPC, handle)
		return fmt.Errorf("write: %w", err)
	}
	return qgaClient.GuestFileClose(ctx, d.timeouts.QGARPC, handle)
}
