package types

import "sync/atomic"

type LifecycleManager interface {
	Start() error
	Stop() error
	IsRunning() bool
}

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "stopped"
	}
}

// StateHolder is the CAS-driven lifecycle state shared by every component.
// The zero value is StateStopped.
type StateHolder struct {
	state atomic.Int32
}

func (h *StateHolder) Get() State {
	return State(h.state.Load())
}

func (h *StateHolder) Set(s State) {
	h.state.Store(int32(s))
}

func (h *StateHolder) Transition(from, to State) bool {
	return h.state.CompareAndSwap(int32(from), int32(to))
}

func (h *StateHolder) IsRunning() bool {
	return h.Get() == StateRunning
}
