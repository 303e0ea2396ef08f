package bridge

import "sync/atomic"

// State is the lifecycle phase of a bridge.
type State int32

const (
	// Idle: no editor attached yet.
	Idle State = iota
	// Initialized: editor handshake done, relay connection open.
	Initialized
	// Running: loops started.
	Running
	// ShuttingDown is terminal.
	ShuttingDown
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Initialized:
		return "initialized"
	case Running:
		return "running"
	case ShuttingDown:
		return "shutting down"
	default:
		return "unknown"
	}
}

type stateBox struct {
	v atomic.Int32
}

func (b *stateBox) load() State { return State(b.v.Load()) }

func (b *stateBox) store(s State) { b.v.Store(int32(s)) }

// advance moves from one of the given states to next and reports whether it
// did.
func (b *stateBox) advance(next State, from ...State) bool {
	for _, f := range from {
		if b.v.CompareAndSwap(int32(f), int32(next)) {
			return true
		}
	}
	return false
}
