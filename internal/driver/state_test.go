package driver

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransitionTo_ForwardOnly(t *testing.T) {
	assert.NoError(t, StateNew.canTransitionTo(StateBooting))
	assert.NoError(t, StateBooting.canTransitionTo(StateAgentHandshake))
	assert.NoError(t, StateAgentHandshake.canTransitionTo(StateRunningCommand))
	assert.NoError(t, StateRunningCommand.canTransitionTo(StateShuttingDown))
	assert.NoError(t, StateShuttingDown.canTransitionTo(StateTerminated))
}

func TestCanTransitionTo_RejectsBackEdges(t *testing.T) {
	assert.Error(t, StateBooting.canTransitionTo(StateNew))
	assert.Error(t, StateRunningCommand.canTransitionTo(StateBooting))
	assert.Error(t, StateTerminated.canTransitionTo(StateNew))
}

func TestCanTransitionTo_RejectsSkips(t *testing.T) {
	assert.Error(t, StateNew.canTransitionTo(StateRunningCommand))
	assert.Error(t, StateBooting.canTransitionTo(StateTerminated))
}

func TestCanTransitionTo_AnyStateCanShutDown(t *testing.T) {
	assert.NoError(t, StateNew.canTransitionTo(StateShuttingDown))
	assert.NoError(t, StateBooting.canTransitionTo(StateShuttingDown))
	assert.NoError(t, StateAgentHandshake.canTransitionTo(StateShuttingDown))
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "New", StateNew.String())
	assert.Equal(t, "Terminated", StateTerminated.String())
	assert.Equal(t, "Unknown", State(99).String())
}
