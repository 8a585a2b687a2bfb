package rpc

import "fmt"

// State is the connection lifecycle.
type State int32

const (
	StateDisconnected State = iota
	StateDiscovering
	StateHandshaking
	StateReady
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateDiscovering:
		return "discovering"
	case StateHandshaking:
		return "handshaking"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Connected reports whether a transport is held in this state.
func (s State) Connected() bool {
	return s == StateHandshaking || s == StateReady
}
