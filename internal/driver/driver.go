// Package driver implements the VM Driver: the per-target state machine
// that composes a QEMU command line, spawns QEMU, attaches to QMP and
// QGA, orchestrates boot → command → capture → shutdown, and emits a
// strictly ordered status event stream. Orchestration follows a phased
// prepare/spawn/handshake/run/teardown sequence with forward-only state
// transitions, scoped to a single-target, single-run driver rather than
// a pooled multi-tenant hypervisor.
package driver

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vmforge/vmforge/internal/config"
	"github.com/vmforge/vmforge/internal/events"
	"github.com/vmforge/vmforge/internal/qemu"
	"github.com/vmforge/vmforge/internal/scope"
)

// Timeouts holds the per-phase bounds, each overridable.
type Timeouts struct {
	QMPSocketAppear  time.Duration
	QGALiveness      time.Duration
	QGARPC           time.Duration
	OutputAccept     time.Duration
	ShutdownGraceACPI time.Duration
	ShutdownGraceKill time.Duration
	CancelGrace      time.Duration
	MountRetry       time.Duration
}

// DefaultTimeouts returns the documented default bounds for each phase.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		QMPSocketAppear:   30 * time.Second,
		QGALiveness:       60 * time.Second,
		QGARPC:            5 * time.Second,
		OutputAccept:      30 * time.Second,
		ShutdownGraceACPI: 5 * time.Second,
		ShutdownGraceKill: 5 * time.Second,
		CancelGrace:       3 * time.Second,
		MountRetry:        500 * time.Millisecond,
	}
}

// Result is a target's single final outcome.
type Result struct {
	ExitCode int
	Err      *events.DriverError
}

// Ok reports whether the target completed with no infrastructure error
// (its command may still have exited non-zero — that's still Ok).
func (r Result) Ok() bool {
	return r.Err == nil
}

// Driver owns a single target's VM lifecycle. A Driver is consumed by one
// Run call; subsequent calls return the first outcome without repeating
// any side effect.
type Driver struct {
	target   config.Target
	log      *slog.Logger
	timeouts Timeouts

	mu     sync.Mutex
	ran    bool
	result Result
}

// New returns a Driver for target. log may be nil.
func New(target config.Target, log *slog.Logger) *Driver {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Driver{
		target:   target,
		log:      log.With("target", target.Name),
		timeouts: DefaultTimeouts(),
	}
}

// WithTimeouts overrides the default phase timeouts.
func (d *Driver) WithTimeouts(t Timeouts) *Driver {
	d.timeouts = t
	return d
}

// Run executes target's VM lifecycle to completion, emitting status
// events to sink, and returns the final Result. Run is idempotent: a
// second call returns the cached Result from the first, without spawning
// anything.
func (d *Driver) Run(ctx context.Context, sink events.Sink) Result {
	d.mu.Lock()
	if d.ran {
		r := d.result
		d.mu.Unlock()
		return r
	}
	d.ran = true
	d.mu.Unlock()

	result := d.runOnce(ctx, sink)

	d.mu.Lock()
	d.result = result
	d.mu.Unlock()
	return result
}

// runOnce is the actual state machine. Every resource it acquires is
// registered with sc and released in LIFO order on return — normal,
// erroring, or cancelled.
func (d *Driver) runOnce(ctx context.Context, sink events.Sink) Result {
	sc := scope.New(d.log)
	defer sc.Close()

	state := StateNew

	paths, err := d.prepare(sc)
	if err != nil {
		return d.terminal(sink, events.KindSetup, fmt.Errorf("prepare: %w", err))
	}

	spec, err := d.composeArgs(paths)
	if err != nil {
		return d.terminal(sink, events.KindConfig, fmt.Errorf("compose qemu args: %w", err))
	}

	proc, err := d.spawn(sc, spec, sink)
	if err != nil {
		return d.terminal(sink, events.KindQemu, fmt.Errorf("spawn qemu: %w", err))
	}

	state = d.advance(state, StateBooting)

	qmpClient, err := d.handshakeQMP(ctx, sc, paths.qmpSock)
	if err != nil {
		return d.abort(ctx, sink, proc, nil, events.KindQmpProtocol, err)
	}
	sink.Send(events.Event{Kind: events.Booting})

	if !qemuSupportsKVMFor(d.target.Arch) {
		sink.Send(events.Event{Kind: events.Note, Line: "emulating"})
	}

	qgaClient, err := d.handshakeQGA(ctx, sc, paths.qgaSock)
	if err != nil {
		return d.abort(ctx, sink, proc, qmpClient, events.KindGuestAgentTimeout, err)
	}
	state = d.advance(state, StateAgentHandshake)
	sink.Send(events.Event{Kind: events.Ready})

	outReader, err := d.acceptOutput(ctx, sc, paths, spec)
	if err != nil {
		return d.abort(ctx, sink, proc, qmpClient, events.KindSetup, err)
	}

	state = d.advance(state, StateRunningCommand)
	sink.Send(events.Event{Kind: events.SetupStart})
	if err := d.mountUserVolumes(ctx, qgaClient); err != nil {
		sink.Send(events.Event{Kind: events.SetupEnd, Err: events.NewError(events.KindSetup, err)})
	} else {
		sink.Send(events.Event{Kind: events.SetupEnd})
	}

	sink.Send(events.Event{Kind: events.CommandStart})
	exitCode, cmdErr := d.runCommand(ctx, qgaClient, spec, outReader, sink)

	d.syncGuestFilesystems(ctx, qgaClient)

	state = d.advance(state, StateShuttingDown)
	if ctx.Err() != nil {
		d.cancelShutdown(proc, qmpClient)
	} else {
		d.shutdown(proc, qmpClient)
	}
	state = d.advance(state, StateTerminated)
	_ = state

	if cmdErr != nil {
		var derr *events.DriverError
		if asDriverError(cmdErr, &derr) {
			sink.Send(events.Event{Kind: events.Error, Err: derr})
			return Result{Err: derr}
		}
		derr = events.NewError(events.KindGuestAgentProtocol, cmdErr)
		sink.Send(events.Event{Kind: events.Error, Err: derr})
		return Result{Err: derr}
	}

	sink.Send(events.Event{Kind: events.Finished, ExitCode: exitCode})
	return Result{ExitCode: exitCode}
}

func (d *Driver) advance(from, to State) State {
	if err := from.canTransitionTo(to); err != nil {
		d.log.Warn("driver: non-fatal state transition violation", "error", err)
	}
	return to
}

// terminal builds the terminal Result for kind/err, additionally emitting
// the matching events.Error on sink: the final event on the channel must
// always be exactly one of Finished/Error, even for failures that occur
// before the VM ever reaches a state that would otherwise emit anything.
func (d *Driver) terminal(sink events.Sink, kind events.ErrorKind, err error) Result {
	derr := events.NewError(kind, err)
	sink.Send(events.Event{Kind: events.Error, Err: derr})
	return Result{Err: derr}
}

// abort is called for failures in Prepare/Spawn/Handshake: it still
// attempts a clean shutdown of whatever was already started before
// surfacing the error. A failure caused by context cancellation is always
// reported as Cancelled regardless of which phase it interrupted, and uses
// the fast CancelGrace-bounded shutdown path instead of the normal one so
// the cancellation bound holds even once the Resource Scope's own
// SIGTERM/SIGKILL escalation runs on top of it.
func (d *Driver) abort(ctx context.Context, sink events.Sink, proc *spawnedProcess, qmp *qemu.Client, kind events.ErrorKind, err error) Result {
	cancelled := ctx.Err() != nil
	if cancelled {
		d.cancelShutdown(proc, qmp)
		kind = events.KindCancelled
	} else {
		d.shutdown(proc, qmp)
	}
	return d.terminal(sink, kind, err)
}

func asDriverError(err error, out **events.DriverError) bool {
	type unwrapper interface{ Unwrap() error }
	for e := err; e != nil; {
		if de, ok := e.(*events.DriverError); ok {
			*out = de
			return true
		}
		u, ok := e.(unwrapper)
		if !ok {
			return false
		}
		e = u.Unwrap()
	}
	return false
}
