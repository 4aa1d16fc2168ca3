// Command vmtest runs a user-supplied shell command inside one or more
// ephemeral QEMU VMs and reports a pass/fail per target.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"regexp"
	"syscall"

	"github.com/vmforge/vmforge/internal/config"
	"github.com/vmforge/vmforge/internal/driver"
	"github.com/vmforge/vmforge/internal/events"
)

func main() {
	os.Exit(run())
}

// run returns the process exit code: 0 iff every target finished with
// exit code 0, 1 otherwise.
func run() int {
	cfg, err := parseArgs(os.Args)
	if err != nil {
		return 1
	}

	log, closeLog := setupLogging(cfg.verbose)
	defer closeLog()

	targets, err := resolveTargets(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "vmtest: %v\n", err)
		return 1
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	allPassed := true
	for _, t := range targets {
		if !runTarget(ctx, log, t) {
			allPassed = false
		}
	}
	if !allPassed {
		return 1
	}
	return 0
}

// resolveTargets decides between the CLI one-liner form and a TOML config
// file, matching the original's conflicts_with: a bare kernel/image flag
// bypasses config-file loading and its --name/--filter selection
// entirely.
func resolveTargets(cfg cliConfig) ([]config.Target, error) {
	if cfg.isOneLiner() {
		if cfg.command == "" {
			return nil, fmt.Errorf("a command is required")
		}
		vm := config.DefaultVMConfig()
		if cfg.numCPUs > 0 {
			vm.NumCPUs = cfg.numCPUs
		}
		if cfg.memory != "" {
			vm.Memory = cfg.memory
		}
		t, err := config.OneLiner("cli", cfg.command, cfg.image, cfg.kernel, cfg.rootfs, cfg.arch, cfg.kernelArgs, cfg.uefi, vm)
		if err != nil {
			return nil, fmt.Errorf("resolve cli target: %w", err)
		}
		return []config.Target{t}, nil
	}

	targets, err := config.LoadFile(cfg.configPath)
	if err != nil {
		return nil, err
	}

	targets = config.FilterByName(targets, cfg.name)
	if cfg.filter != "" {
		re, err := regexp.Compile(cfg.filter)
		if err != nil {
			return nil, fmt.Errorf("compile --filter regex: %w", err)
		}
		targets = config.FilterByRegex(targets, re)
	}
	if len(targets) == 0 {
		return nil, fmt.Errorf("no targets matched")
	}
	return targets, nil
}

// runTarget drives one target to completion, printing its status events
// in arrival order under a heading, and reports whether it passed.
func runTarget(ctx context.Context, log *slog.Logger, target config.Target) bool {
	fmt.Printf("=== %s ===\n", target.Name)

	sink := make(chan events.Event, 64)
	resultCh := make(chan driver.Result, 1)

	d := driver.New(target, log)
	go func() {
		resultCh <- d.Run(ctx, sink)
		close(sink)
	}()

	for ev := range sink {
		printEvent(target.Name, ev)
	}
	result := <-resultCh

	if !result.Ok() {
		fmt.Printf("%s: error: %v\n", target.Name, result.Err)
		return false
	}
	fmt.Printf("%s: exit code %d\n", target.Name, result.ExitCode)
	return result.ExitCode == 0
}

func printEvent(name string, ev events.Event) {
	switch ev.Kind {
	case events.BootLog:
		fmt.Printf("%s: %s\n", name, ev.Line)
	case events.Note:
		fmt.Printf("%s: note: %s\n", name, ev.Line)
	case events.OutputChunk:
		os.Stdout.Write(ev.Data)
	case events.SetupEnd:
		if ev.Err != nil {
			fmt.Printf("%s: mount setup: %v\n", name, ev.Err)
		}
	}
}
