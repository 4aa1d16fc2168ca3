package script

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRender_ShouldCD(t *testing.T) {
	out, err := Render(Context{
		ShouldCD:              true,
		HostShared:            "/mnt/vmtest",
		CommandOutputPortName: "org.vmtest.cmd_out.0",
		Command:               "uname -r",
	})
	require.NoError(t, err)
	assert.Contains(t, out, "cd /mnt/vmtest || true")
	assert.Contains(t, out, "uname -r")
	assert.Contains(t, out, "org.vmtest.cmd_out.0")
}

func TestRender_NoCD(t *testing.T) {
	out, err := Render(Context{
		ShouldCD:              false,
		HostShared:            "/mnt/vmtest",
		CommandOutputPortName: "org.vmtest.cmd_out.0",
		Command:               "echo hi",
	})
	require.NoError(t, err)
	assert.NotContains(t, out, "cd /mnt/vmtest")
}

func TestRender_CommandPassedVerbatim(t *testing.T) {
	cmd := `echo "hello $USER" && exit 3`
	out, err := Render(Context{
		HostShared:            "/mnt/vmtest",
		CommandOutputPortName: "org.vmtest.cmd_out.0",
		Command:               cmd,
	})
	require.NoError(t, err)
	assert.Contains(t, out, cmd)
}

func TestRender_Deterministic(t *testing.T) {
	ctx := Context{
		ShouldCD:              true,
		HostShared:            "/mnt/vmtest",
		CommandOutputPortName: "org.vmtest.cmd_out.0",
		Command:               "true",
	}
	a, err := Render(ctx)
	require.NoError(t, err)
	b, err := Render(ctx)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestRender_Shebang(t *testing.T) {
	out, err := Render(Context{HostShared: "/mnt/vmtest", CommandOutputPortName: "x", Command: "true"})
	require.NoError(t, err)
	assert.Contains(t, out, "#!/bin/bash")
}
