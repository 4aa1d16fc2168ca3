package main

import (
	"flag"
	"fmt"
	"strings"
)

// cliConfig is the parsed form of the CLI one-liner and config-file
// selection flags. Both the config-file path and the bare kernel/image/
// command flags coexist on the flag set; resolveTargets
// decides which form applies the same way the original distinguishes
// them with clap's conflicts_with.
type cliConfig struct {
	command    string
	kernel     string
	rootfs     string
	image      string
	arch       string
	configPath string
	name       string
	filter     string
	kernelArgs string
	uefi       bool
	verbose    bool
	numCPUs    int
	memory     string
}

func parseArgs(args []string) (cliConfig, error) {
	cfg := cliConfig{configPath: "./vmtest.toml"}

	fs := flag.NewFlagSet(fmt.Sprintf("%s [flags] [command]", args[0]), flag.ContinueOnError)

	fs.StringVar(&cfg.kernel, "kernel", "", "path to a kernel to boot (kernel target)")
	fs.StringVar(&cfg.kernel, "k", "", "shorthand for -kernel")
	fs.StringVar(&cfg.rootfs, "rootfs", "", "path to a directory shared as the kernel target's rootfs")
	fs.StringVar(&cfg.rootfs, "r", "", "shorthand for -rootfs")
	fs.StringVar(&cfg.image, "image", "", "path to a bootable disk image (image target)")
	fs.StringVar(&cfg.image, "i", "", "shorthand for -image")
	fs.StringVar(&cfg.arch, "arch", "", "target architecture (default: host)")
	fs.StringVar(&cfg.arch, "a", "", "shorthand for -arch")
	fs.StringVar(&cfg.configPath, "config", cfg.configPath, "path to a TOML target list")
	fs.StringVar(&cfg.configPath, "c", cfg.configPath, "shorthand for -config")
	fs.StringVar(&cfg.name, "name", "", "run only the target with this exact name")
	fs.StringVar(&cfg.filter, "filter", "", "run only targets whose name matches this regex")
	fs.StringVar(&cfg.filter, "f", "", "shorthand for -filter")
	fs.StringVar(&cfg.kernelArgs, "kernel-args", "", "extra kernel command line (kernel target only)")
	fs.BoolVar(&cfg.uefi, "uefi", false, "boot via UEFI firmware")
	fs.BoolVar(&cfg.verbose, "verbose", false, "enable debug-level host logging")
	fs.BoolVar(&cfg.verbose, "v", false, "shorthand for -verbose")
	fs.IntVar(&cfg.numCPUs, "num-cpus", 0, "override the target's vCPU count")
	fs.StringVar(&cfg.memory, "memory", "", "override the target's memory size (e.g. 4G)")

	if err := fs.Parse(args[1:]); err != nil {
		return cliConfig{}, err
	}

	if rest := fs.Args(); len(rest) > 0 {
		cfg.command = strings.Join(rest, " ")
	}

	return cfg, nil
}

// isOneLiner reports whether the CLI one-liner form (bare kernel/image)
// was used instead of a config file.
func (c cliConfig) isOneLiner() bool {
	return c.kernel != "" || c.image != ""
}
