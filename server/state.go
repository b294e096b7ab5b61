package server

import (
	"fmt"
	"sync/atomic"
)

// State is the lifecycle phase of a module host.
//
//	AwaitingHandshake ──ParentInfo──→ Ready ──Shutdown/InitAbort──→ ShuttingDown
//	        │                          │                                │
//	        └──── error/timeout ───────┴──────── Serve returns ─────────┴──→ Terminated
type State int32

const (
	StateAwaitingHandshake State = iota
	StateReady
	StateShuttingDown
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateAwaitingHandshake:
		return "AwaitingHandshake"
	case StateReady:
		return "Ready"
	case StateShuttingDown:
		return "ShuttingDown"
	case StateTerminated:
		return "Terminated"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// stateMachine only moves forward. Transitions happen on the pump; the
// current state may be read from anywhere.
type stateMachine struct {
	v atomic.Int32
}

func (m *stateMachine) load() State {
	return State(m.v.Load())
}

// advance moves from one state to a later one and reports whether the
// machine was in from.
func (m *stateMachine) advance(from, to State) bool {
	if to <= from {
		return false
	}
	return m.v.CompareAndSwap(int32(from), int32(to))
}

// terminate moves to StateTerminated from any state.
func (m *stateMachine) terminate() State {
	return State(m.v.Swap(int32(StateTerminated)))
}
