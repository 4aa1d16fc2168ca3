package driver

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/vmforge/vmforge/internal/config"
	"github.com/vmforge/vmforge/internal/initramfs"
	"github.com/vmforge/vmforge/internal/scope"
)

// resourcePaths collects every filesystem path Prepare allocates.
type resourcePaths struct {
	tempDir      string
	qmpSock      string
	qgaSock      string
	cmdOutSock   string // kernel mode only
	initramfsPath string // kernel mode only
}

// prepare allocates a private temp directory, the three socket paths, and
// (kernel mode only) the initramfs image. Everything it creates is
// registered with sc for release on scope exit.
func (d *Driver) prepare(sc *scope.Scope) (resourcePaths, error) {
	tempDir, err := os.MkdirTemp("", "vmtest-"+sanitize(d.target.Name)+"-*")
	if err != nil {
		return resourcePaths{}, fmt.Errorf("create temp dir: %w", err)
	}
	sc.AddTempPath(tempDir)

	paths := resourcePaths{
		tempDir: tempDir,
		qmpSock: filepath.Join(tempDir, "qmp.sock"),
		qgaSock: filepath.Join(tempDir, "qga.sock"),
	}

	if d.isKernelMode() {
		paths.cmdOutSock = filepath.Join(tempDir, "cmd_out.sock")

		archivePath, err := initramfs.Build(tempDir, d.target.Arch)
		if err != nil {
			return resourcePaths{}, fmt.Errorf("build initramfs: %w", err)
		}
		sc.AddTempPath(archivePath)
		paths.initramfsPath = archivePath
	}

	return paths, nil
}

func (d *Driver) isKernelMode() bool {
	return d.target.Mode == config.ModeKernelOnly || d.target.Mode == config.ModeImageWithKernel
}

func sanitize(name string) string {
	out := make([]rune, 0, len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	if len(out) == 0 {
		return "target"
	}
	return string(out)
}
