package driver

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/vmforge/vmforge/internal/qemu"
	"github.com/vmforge/vmforge/internal/qga"
	"github.com/vmforge/vmforge/internal/scope"
)

// socketPollInterval bounds how often handshakeQMP/handshakeQGA re-check
// for a not-yet-created server socket, mirroring process.go's
// waitForSocket dial-retry loop.
const socketPollInterval = 100 * time.Millisecond

// handshakeQMP waits for QEMU's QMP socket to appear, connects, and
// subscribes to lifecycle events.
func (d *Driver) handshakeQMP(ctx context.Context, sc *scope.Scope, socketPath string) (*qemu.Client, error) {
	if err := waitForSocket(ctx, socketPath, d.timeouts.QMPSocketAppear); err != nil {
		return nil, fmt.Errorf("wait for qmp socket: %w", err)
	}
	client, err := qemu.Connect(socketPath)
	if err != nil {
		return nil, fmt.Errorf("connect qmp: %w", err)
	}
	sc.AddCloser(client)
	return client, nil
}

// handshakeQGA waits for the guest agent socket and pings it until it
// answers, the whole step bounded by a single QGALiveness deadline. QEMU
// creates the socket as soon as it starts, well
// before the guest agent inside the VM is actually listening, so most of
// the budget is typically spent inside Ping's own retry loop rather than
// waiting for the socket file itself — but both phases draw from the same
// 60s window instead of each getting their own.
func (d *Driver) handshakeQGA(ctx context.Context, sc *scope.Scope, socketPath string) (*qga.Client, error) {
	deadline := time.Now().Add(d.timeouts.QGALiveness)

	if err := waitForSocket(ctx, socketPath, d.timeouts.QGALiveness); err != nil {
		return nil, fmt.Errorf("wait for qga socket: %w", err)
	}
	client, err := qga.Dial(ctx, socketPath)
	if err != nil {
		return nil, fmt.Errorf("dial qga: %w", err)
	}
	sc.AddCloser(client)

	remaining := time.Until(deadline)
	if remaining <= 0 {
		return nil, fmt.Errorf("guest agent liveness: exceeded %s budget waiting for socket", d.timeouts.QGALiveness)
	}
	if err := client.Ping(ctx, remaining); err != nil {
		return nil, fmt.Errorf("guest agent liveness: %w", err)
	}
	return client, nil
}

// waitForSocket polls for path to exist as a socket file, bounded by
// timeout and ctx, grounded on process.go's isSocketInUse/waitForSocket.
func waitForSocket(ctx context.Context, path string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		if info, err := os.Stat(path); err == nil && info.Mode()&os.ModeSocket != 0 {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("socket %s did not appear within %s", path, timeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(socketPollInterval):
		}
	}
}
