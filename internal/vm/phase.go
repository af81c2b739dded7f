package vm

import "fmt"

// Phase describes the VM lifecycle state as seen by the manager.
type Phase uint8

const (
	PhaseUnknown Phase = iota
	PhaseAbsent
	PhaseInitializing
	PhaseStarting
	PhaseRunning
	PhaseStopping
	PhaseStopped
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseAbsent:
		return "absent"
	case PhaseInitializing:
		return "initializing"
	case PhaseStarting:
		return "starting"
	case PhaseRunning:
		return "running"
	case PhaseStopping:
		return "stopping"
	case PhaseStopped:
		return "stopped"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// CanTransition reports whether the manager may move from p to to.
// A machine only reaches running through initializing and starting.
func (p Phase) CanTransition(to Phase) bool {
	switch p {
	case PhaseAbsent:
		return to == PhaseInitializing
	case PhaseInitializing:
		return to == PhaseStarting || to == PhaseFailed
	case PhaseStarting:
		return to == PhaseRunning || to == PhaseStopping || to == PhaseFailed
	case PhaseRunning:
		return to == PhaseStopping
	case PhaseStopping:
		return to == PhaseStopped || to == PhaseFailed
	case PhaseStopped:
		return to == PhaseStarting
	case PhaseFailed:
		return to == PhaseStarting || to == PhaseStopping
	default:
		return false
	}
}

// TransitionError reports a rejected phase change.
type TransitionError struct {
	From, To Phase
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("machine phase transition: %s -> %s", e.From, e.To)
}
