package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseArgs_KernelOneLiner(t *testing.T) {
	cfg, err := parseArgs([]string{"vmtest", "-kernel", "bzImage", "-rootfs", "root", "uname", "-r"})
	require.NoError(t, err)
	assert.Equal(t, "bzImage", cfg.kernel)
	assert.Equal(t, "root", cfg.rootfs)
	assert.Equal(t, "uname -r", cfg.command)
	assert.True(t, cfg.isOneLiner())
}

func TestParseArgs_ShortAliases(t *testing.T) {
	cfg, err := parseArgs([]string{"vmtest", "-i", "disk.raw", "-a", "aarch64", "-v"})
	require.NoError(t, err)
	assert.Equal(t, "disk.raw", cfg.image)
	assert.Equal(t, "aarch64", cfg.arch)
	assert.True(t, cfg.verbose)
}

func TestParseArgs_DefaultConfigPath(t *testing.T) {
	cfg, err := parseArgs([]string{"vmtest"})
	require.NoError(t, err)
	assert.Equal(t, "./vmtest.toml", cfg.configPath)
	assert.False(t, cfg.isOneLiner())
}

func TestParseArgs_ConfigFileForm(t *testing.T) {
	cfg, err := parseArgs([]string{"vmtest", "-c", "targets.toml", "-name", "boot"})
	require.NoError(t, err)
	assert.Equal(t, "targets.toml", cfg.configPath)
	assert.Equal(t, "boot", cfg.name)
	assert.False(t, cfg.isOneLiner())
}

func TestParseArgs_InvalidFlag(t *testing.T) {
	_, err := parseArgs([]string{"vmtest", "-does-not-exist"})
	assert.Error(t, err)
}

func TestParseArgs_FilterAndNumCPUs(t *testing.T) {
	cfg, err := parseArgs([]string{"vmtest", "-f", "^boot-", "-num-cpus", "4", "-memory", "2G"})
	require.NoError(t, err)
	assert.Equal(t, "^boot-", cfg.filter)
	assert.Equal(t, 4, cfg.numCPUs)
	assert.Equal(t, "2G", cfg.memory)
}
