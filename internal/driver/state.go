package driver

import "fmt"

// State is a node in the driver's state machine. Only forward
// transitions are legal; CanTransitionTo enforces that the same way the
// teacher's lib/instances/state.go enforces its own VM lifecycle.
type State int

const (
	StateNew State = iota
	StateBooting
	StateAgentHandshake
	StateRunningCommand
	StateShuttingDown
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "New"
	case StateBooting:
		return "Booting"
	case StateAgentHandshake:
		return "AgentHandshake"
	case StateRunningCommand:
		return "RunningCommand"
	case StateShuttingDown:
		return "ShuttingDown"
	case StateTerminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// forwardTransitions lists, for each state, the states it may advance to.
// There is no back edge anywhere: the driver's lifecycle is strictly
// linear, one run per Driver, with no restart transition.
var forwardTransitions = map[State][]State{
	StateNew:             {StateBooting, StateShuttingDown},
	StateBooting:         {StateAgentHandshake, StateShuttingDown},
	StateAgentHandshake:  {StateRunningCommand, StateShuttingDown},
	StateRunningCommand:  {StateShuttingDown},
	StateShuttingDown:    {StateTerminated},
	StateTerminated:      {},
}

// canTransitionTo reports whether moving from s to target is a legal
// forward transition.
func (s State) canTransitionTo(target State) error {
	for _, allowed := range forwardTransitions[s] {
		if allowed == target {
			return nil
		}
	}
	return fmt.Errorf("illegal state transition %s -> %s", s, target)
}
