package driver

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vmforge/vmforge/internal/qga"
)

func intPtr(n int) *int { return &n }

func TestExitCodeOf_Exitcode(t *testing.T) {
	status := &qga.ExecStatus{Exitcode: intPtr(3)}
	assert.Equal(t, 3, exitCodeOf(status))
}

func TestExitCodeOf_Signal(t *testing.T) {
	status := &qga.ExecStatus{Signal: intPtr(9)}
	assert.Equal(t, 137, exitCodeOf(status))
}

func TestExitCodeOf_Neither(t *testing.T) {
	status := &qga.ExecStatus{}
	assert.Equal(t, 0, exitCodeOf(status))
}

func TestExitCodeOf_PrefersExitcodeOverSignal(t *testing.T) {
	status := &qga.ExecStatus{Exitcode: intPtr(0), Signal: intPtr(9)}
	assert.Equal(t, 0, exitCodeOf(status))
}
