package qemu

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupPlatform_Known(t *testing.T) {
	p, ok := LookupPlatform("x86_64")
	require.True(t, ok)
	assert.Equal(t, "qemu-system-x86_64", p.Binary)
	assert.Equal(t, "ttyS0", p.ConsoleDevice)
}

func TestLookupPlatform_Unknown(t *testing.T) {
	_, ok := LookupPlatform("sparc64")
	assert.False(t, ok)
}

func TestHostArch_KnownMapping(t *testing.T) {
	arch := HostArch()
	assert.Contains(t, []string{"x86_64", "aarch64", "s390x"}, arch)
}

func TestSupportsKVM_MismatchedArch(t *testing.T) {
	other := "aarch64"
	if HostArch() == "aarch64" {
		other = "x86_64"
	}
	assert.False(t, SupportsKVM(other))
}

func TestDiscoverUEFIFirmware_NotFound(t *testing.T) {
	_, err := DiscoverUEFIFirmware("sparc64")
	assert.Error(t, err)
}

func TestDiscoverUEFIFirmware_UsesFirstExistingCandidate(t *testing.T) {
	orig := uefiFirmwareCandidates["x86_64"]
	defer func() { uefiFirmwareCandidates["x86_64"] = orig }()

	dir := t.TempDir()
	fake := filepath.Join(dir, "OVMF_CODE.fd")
	require.NoError(t, os.WriteFile(fake, []byte("fw"), 0o644))

	uefiFirmwareCandidates["x86_64"] = []string{
		filepath.Join(dir, "missing.fd"),
		fake,
	}

	path, err := DiscoverUEFIFirmware("x86_64")
	require.NoError(t, err)
	assert.Equal(t, fake, path)
}
