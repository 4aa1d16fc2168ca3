// Package qemu wires up the QMP control channel and the QEMU command line
// for a single target. The QMP transport is digitalocean/go-qemu;
// everything here beyond that wrapping (command-line assembly, process
// lifecycle, cancellation) is specific to a one-shot, single-target run
// rather than a pooled multi-tenant hypervisor.
package qemu

import (
	"context"
	"fmt"
	"time"

	"github.com/digitalocean/go-qemu/qemu"
	"github.com/digitalocean/go-qemu/qmp"
	"github.com/digitalocean/go-qemu/qmp/raw"

	"github.com/vmforge/vmforge/internal/events"
)

// connectTimeout bounds the initial dial to the QMP socket once it exists;
// the caller is responsible for retrying until the socket appears at all
// (see WaitForSocket).
const connectTimeout = 2 * time.Second

// Client is a thin, cancellable wrapper around go-qemu's SocketMonitor,
// Domain, and raw.Monitor.
type Client struct {
	domain *qemu.Domain
	raw    *raw.Monitor
	mon    *qmp.SocketMonitor
}

// Connect dials the QMP socket and performs the qmp_capabilities
// handshake. Callers must have already confirmed the socket exists
// (WaitForSocket); Connect itself does not retry.
func Connect(socketPath string) (*Client, error) {
	mon, err := qmp.NewSocketMonitor("unix", socketPath, connectTimeout)
	if err != nil {
		return nil, fmt.Errorf("create qmp socket monitor: %w", err)
	}
	if err := mon.Connect(); err != nil {
		return nil, fmt.Errorf("qmp handshake: %w", err)
	}
	domain, err := qemu.NewDomain(mon, "vmtest")
	if err != nil {
		mon.Disconnect()
		return nil, fmt.Errorf("create qmp domain: %w", err)
	}
	return &Client{domain: domain, raw: raw.NewMonitor(mon), mon: mon}, nil
}

// Close disconnects from QMP.
func (c *Client) Close() error {
	return c.domain.Close()
}

// Events subscribes to QMP events (SHUTDOWN, RESET, POWERDOWN, etc). The
// returned channel is closed when the connection ends.
func (c *Client) Events() (chan qmp.Event, chan struct{}, error) {
	return c.domain.Events()
}

// run executes cmd, racing it against ctx so a cancellation observed while
// a QMP reply is outstanding returns promptly rather than blocking for the
// underlying library's own timeout.
func (c *Client) run(ctx context.Context, cmd qmp.Command) ([]byte, error) {
	type result struct {
		data []byte
		err  error
	}
	done := make(chan result, 1)
	go func() {
		data, err := c.domain.Run(cmd)
		done <- result{data, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, events.NewError(events.KindQmpProtocol, r.err)
		}
		return r.data, nil
	case <-ctx.Done():
		return nil, events.NewError(events.KindCancelled, ctx.Err())
	}
}

// QueryStatus returns QEMU's reported VM status.
func (c *Client) QueryStatus(ctx context.Context) (raw.StatusInfo, error) {
	type result struct {
		info raw.StatusInfo
		err  error
	}
	done := make(chan result, 1)
	go func() {
		info, err := c.raw.QueryStatus()
		done <- result{info, err}
	}()
	select {
	case r := <-done:
		if r.err != nil {
			return raw.StatusInfo{}, events.NewError(events.KindQmpProtocol, r.err)
		}
		return r.info, nil
	case <-ctx.Done():
		return raw.StatusInfo{}, events.NewError(events.KindCancelled, ctx.Err())
	}
}

// SystemPowerdown requests ACPI shutdown (graceful).
func (c *Client) SystemPowerdown(ctx context.Context) error {
	_, err := c.run(ctx, qmp.Command{Execute: "system_powerdown"})
	return err
}

// Quit terminates the QEMU process immediately.
func (c *Client) Quit(ctx context.Context) error {
	_, err := c.run(ctx, qmp.Command{Execute: "quit"})
	return err
}
