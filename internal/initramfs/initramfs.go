// Package initramfs builds the in-memory cpio archive the driver passes
// to QEMU's -initrd flag for kernel targets.
// Archive writing is grounded on aibor-virtrun's internal/initramfs/cpio.go,
// adapted here to a flat, minimal tree: one init binary plus the handful
// of directories it needs to exist before it can mount anything onto them.
package initramfs

import (
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/cavaliergopher/cpio"

	"github.com/vmforge/vmforge/internal/initprog"
)

// directories is the minimal set of mount points vmtest-init needs to
// exist before MountEssentials and PivotToSharedRoot can populate them.
var directories = []string{
	"/proc",
	"/sys",
	"/dev",
	"/dev/shm",
	"/tmp",
	"/run",
	"/mnt",
	"/mnt/root",
}

// Build writes a gzip-less cpio archive for arch containing vmtest-init at
// /init to a fresh file under dir and returns its path. The caller owns
// removal of the returned path (the driver registers it with its Resource
// Scope).
func Build(dir, arch string) (string, error) {
	initBin, err := initprog.For(arch)
	if err != nil {
		return "", fmt.Errorf("locate init binary: %w", err)
	}
	defer initBin.Close()

	out, err := os.CreateTemp(dir, "initramfs-*.cpio")
	if err != nil {
		return "", fmt.Errorf("create initramfs file: %w", err)
	}
	defer out.Close()

	w := cpio.NewWriter(out)
	for _, d := range directories {
		if err := writeDirectory(w, d); err != nil {
			return "", fmt.Errorf("write directory %s: %w", d, err)
		}
	}
	if err := writeRegular(w, "/init", initBin, 0o755); err != nil {
		return "", fmt.Errorf("write /init: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("close cpio writer: %w", err)
	}

	return out.Name(), nil
}

func writeDirectory(w *cpio.Writer, path string) error {
	return w.WriteHeader(&cpio.Header{
		Name:  path,
		Mode:  cpio.TypeDir | 0o755,
		Links: 2,
	})
}

func writeRegular(w *cpio.Writer, path string, src fs.File, mode fs.FileMode) error {
	info, err := src.Stat()
	if err != nil {
		return fmt.Errorf("stat: %w", err)
	}

	hdr, err := cpio.FileInfoHeader(info, "")
	if err != nil {
		return fmt.Errorf("create header: %w", err)
	}
	hdr.Name = path
	hdr.Mode = cpio.FileMode(mode)

	if err := w.WriteHeader(hdr); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if _, err := io.Copy(w, src); err != nil {
		return fmt.Errorf("write body: %w", err)
	}
	return nil
}
