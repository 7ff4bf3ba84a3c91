package client

import (
	"errors"
	"fmt"
)

// State is the lifecycle position of a client session.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateJoining
	StateSynced
)

var ErrInvalidTransition = errors.New("invalid state transition")

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateJoining:
		return "joining"
	case StateSynced:
		return "synced"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Live reports whether the transport is up, whatever the join progress.
func (s State) Live() bool {
	return s >= StateConnected
}

// transition validates s -> to. Any state may drop to disconnected; synced may re-enter
// joining when the identity changes.
func (s State) transition(to State) error {
	if to == StateDisconnected {
		return nil
	}
	ok := false
	switch s {
	case StateDisconnected:
		ok = to == StateConnecting
	case StateConnecting:
		ok = to == StateConnected
	case StateConnected:
		ok = to == StateJoining
	case StateJoining:
		ok = to == StateSynced || to == StateConnected
	case StateSynced:
		ok = to == StateJoining
	}
	if !ok {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s, to)
	}
	return nil
}
