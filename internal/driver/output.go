package driver

import (
	"context"
	"fmt"
	"net"

	"github.com/vmforge/vmforge/internal/scope"
)

// acceptOutput dials the command-output virtio-serial chardev socket
// (kernel mode only). QEMU is the server side of this socket, exactly as
// it is for QMP and QGA, so "accepting" the output port means dialing it
// once it exists and then holding the connection open for runCommand to
// read from once the guest's script redirects its output onto the
// matching /dev/vport. Image-mode targets have no such
// port; runCommand falls back to polling guest-exec-status directly in
// that case, so acceptOutput returns a nil conn without error.
func (d *Driver) acceptOutput(ctx context.Context, sc *scope.Scope, paths resourcePaths, spec qemuSpec) (net.Conn, error) {
	if !spec.hasOutputPort {
		return nil, nil
	}

	if err := waitForSocket(ctx, paths.cmdOutSock, d.timeouts.OutputAccept); err != nil {
		return nil, fmt.Errorf("wait for command output socket: %w", err)
	}

	dialer := net.Dialer{}
	conn, err := dialer.DialContext(ctx, "unix", paths.cmdOutSock)
	if err != nil {
		return nil, fmt.Errorf("dial command output socket: %w", err)
	}
	sc.AddCloser(conn)
	return conn, nil
}
