package main

import (
	"log/slog"
	"os"

	"golang.org/x/term"
)

// deferredLogPath is where host-side diagnostic logs go when stdout is an
// interactive terminal, so they don't interleave with target output.
const deferredLogPath = ".vmtest.log"

// setupLogging builds the process-wide slog.Logger per the ambient
// logging stack: level from VMTEST_LOG (or -verbose), output to stderr
// normally, or to deferredLogPath when stdout is a TTY so diagnostics
// don't interleave with the target output printed by main. The returned
// func closes the log file, if one was opened, and must be deferred by
// the caller.
func setupLogging(verbose bool) (*slog.Logger, func()) {
	level := levelFromEnv()
	if verbose {
		level = slog.LevelDebug
	}

	out := os.Stderr
	closeFn := func() {}

	if term.IsTerminal(int(os.Stdout.Fd())) {
		if f, err := os.OpenFile(deferredLogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644); err == nil {
			out = f
			closeFn = func() { f.Close() }
		}
	}

	handler := slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})
	return slog.New(handler), closeFn
}

func levelFromEnv() slog.Level {
	switch os.Getenv("VMTEST_LOG") {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
