package config

import (
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTemp(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadFile_Basic(t *testing.T) {
	dir := t.TempDir()
	writeTemp(t, dir, "bzImage", "kernel")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "root"), 0o755))

	toml := `
[[target]]
name = "boot"
command = "uname -r"
kernel = "bzImage"
rootfs = "root"
`
	cfgPath := writeTemp(t, dir, "vmtest.toml", toml)

	targets, err := LoadFile(cfgPath)
	require.NoError(t, err)
	require.Len(t, targets, 1)

	target := targets[0]
	assert.Equal(t, "boot", target.Name)
	assert.Equal(t, ModeKernelOnly, target.Mode)
	assert.Equal(t, "uname -r", target.Command)
	assert.Equal(t, filepath.Join(dir, "bzImage"), target.Kernel)
	assert.Equal(t, filepath.Join(dir, "root"), target.Rootfs)
	assert.Equal(t, DefaultVMConfig().NumCPUs, target.VM.NumCPUs)
	assert.Equal(t, DefaultVMConfig().Memory, target.VM.Memory)
}

func TestLoadFile_DuplicateNames(t *testing.T) {
	dir := t.TempDir()
	image := writeTemp(t, dir, "disk.raw", "image")
	_ = image

	toml := `
[[target]]
name = "dup"
command = "true"
image = "disk.raw"

[[target]]
name = "dup"
command = "true"
image = "disk.raw"
`
	cfgPath := writeTemp(t, dir, "vmtest.toml", toml)
	_, err := LoadFile(cfgPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate target name")
}

func TestResolve_RequiresImageOrKernel(t *testing.T) {
	_, err := resolve(rawTarget{Name: "x", Command: "true"}, t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exactly one of image or kernel")
}

func TestResolve_KernelOnlyRequiresRootfs(t *testing.T) {
	dir := t.TempDir()
	writeTemp(t, dir, "bzImage", "kernel")

	_, err := resolve(rawTarget{Name: "x", Command: "true", Kernel: "bzImage"}, dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "require rootfs")
}

func TestResolve_UEFIRequiresImage(t *testing.T) {
	dir := t.TempDir()
	writeTemp(t, dir, "bzImage", "kernel")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "root"), 0o755))

	_, err := resolve(rawTarget{Name: "x", Command: "true", Kernel: "bzImage", Rootfs: "root", UEFI: true}, dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must specify image with uefi")
}

func TestResolve_RootfsRequiresKernel(t *testing.T) {
	dir := t.TempDir()
	image := writeTemp(t, dir, "disk.raw", "image")
	rootDir := filepath.Join(dir, "root")
	require.NoError(t, os.Mkdir(rootDir, 0o755))
	_ = image

	_, err := resolve(rawTarget{Name: "x", Command: "true", Image: "disk.raw", Rootfs: "root"}, dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rootfs requires kernel")
}

func TestResolve_ImageWithKernel(t *testing.T) {
	dir := t.TempDir()
	writeTemp(t, dir, "disk.raw", "image")
	writeTemp(t, dir, "bzImage", "kernel")

	target, err := resolve(rawTarget{Name: "x", Command: "true", Image: "disk.raw", Kernel: "bzImage"}, dir)
	require.NoError(t, err)
	assert.Equal(t, ModeImageWithKernel, target.Mode)
}

func TestResolve_DefaultsArchToHost(t *testing.T) {
	dir := t.TempDir()
	writeTemp(t, dir, "disk.raw", "image")

	target, err := resolve(rawTarget{Name: "x", Command: "true", Image: "disk.raw"}, dir)
	require.NoError(t, err)
	assert.NotEmpty(t, target.Arch)
}

func TestResolve_UnsupportedArch(t *testing.T) {
	dir := t.TempDir()
	writeTemp(t, dir, "disk.raw", "image")

	_, err := resolve(rawTarget{Name: "x", Command: "true", Image: "disk.raw", Arch: "sparc64"}, dir)
	require.Error(t, err)
}

func TestResolve_MountsResolvedAndTagged(t *testing.T) {
	dir := t.TempDir()
	writeTemp(t, dir, "disk.raw", "image")
	dataDir := filepath.Join(dir, "data")
	require.NoError(t, os.Mkdir(dataDir, 0o755))

	target, err := resolve(rawTarget{
		Name: "x", Command: "true", Image: "disk.raw",
		VM: VMConfig{Mounts: map[string]Mount{
			"/data": {HostPath: "data", Writable: true},
		}},
	}, dir)
	require.NoError(t, err)
	mount, ok := target.VM.Mounts["/data"]
	require.True(t, ok)
	assert.Equal(t, dataDir, mount.HostPath)
	assert.True(t, mount.Writable)
}

func TestMountTag_Stable(t *testing.T) {
	a := MountTag("/data")
	b := MountTag("/data")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, MountTag("/other"))
}

func TestFilterByName(t *testing.T) {
	targets := []Target{{Name: "a"}, {Name: "b"}}
	assert.Len(t, FilterByName(targets, ""), 2)
	assert.Len(t, FilterByName(targets, "a"), 1)
	assert.Equal(t, "a", FilterByName(targets, "a")[0].Name)
}

func TestFilterByRegex(t *testing.T) {
	targets := []Target{{Name: "boot-kernel"}, {Name: "boot-image"}, {Name: "other"}}
	re := regexp.MustCompile(`^boot-`)
	filtered := FilterByRegex(targets, re)
	assert.Len(t, filtered, 2)
}

func TestOneLiner_MissingCommand(t *testing.T) {
	_, err := OneLiner("cli", "", "disk.raw", "", "", "", "", false, DefaultVMConfig())
	require.Error(t, err)
}
