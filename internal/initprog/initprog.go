// Package initprog embeds the pre-compiled guest-init binaries (cmd/vmtest-init)
// for every supported architecture. Grounded on aibor-virtrun's
// internal/initprog: the binaries are produced by `go generate` — listed
// explicitly in the go:embed directive so a missing build fails at compile
// time rather than silently shipping a stale binary — and are statically
// linked so the host's libc does not leak into the guest's PID 1.
package initprog

import (
	"embed"
	"fmt"
	"io/fs"
)

//go:generate env CGO_ENABLED=0 GOOS=linux GOARCH=amd64 go build -buildvcs=false -trimpath -ldflags "-s -w" -o bin/x86_64 ../../cmd/vmtest-init
//go:generate env CGO_ENABLED=0 GOOS=linux GOARCH=arm64 go build -buildvcs=false -trimpath -ldflags "-s -w" -o bin/aarch64 ../../cmd/vmtest-init
//go:generate env CGO_ENABLED=0 GOOS=linux GOARCH=s390x go build -buildvcs=false -trimpath -ldflags "-s -w" -o bin/s390x ../../cmd/vmtest-init

//go:embed bin
var bins embed.FS

// For opens the pre-built vmtest-init binary for arch ("x86_64", "aarch64",
// "s390x" — the same names used throughout internal/qemu and Target.Arch).
func For(arch string) (fs.File, error) {
	switch arch {
	case "x86_64", "aarch64", "s390x":
		f, err := bins.Open("bin/" + arch)
		if err != nil {
			return nil, fmt.Errorf("open embedded init for %s: %w", arch, err)
		}
		return f, nil
	default:
		return nil, fmt.Errorf("arch not supported: %s", arch)
	}
}
