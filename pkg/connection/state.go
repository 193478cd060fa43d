// Package connection manages peer connection lifecycle: dialing known and
// bootstrap nodes, classifying connected peers by role, the periodic
// reconnection and keep-alive sweep, and the server-connection flag.
package connection

import "fmt"

// ConnectionState represents the state of a peer connection.
type ConnectionState int

const (
	// StateDisconnected indicates no connection exists.
	StateDisconnected ConnectionState = iota

	// StateConnecting indicates an outbound dial is in progress.
	StateConnecting

	// StateConnected indicates a live connection.
	StateConnected

	// StateBackoff indicates the last dial failed and the reconnection
	// sweep skips the peer until its next attempt time.
	StateBackoff
)

// String returns a human-readable representation of the connection state.
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "Disconnected"
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	case StateBackoff:
		return "Backoff"
	default:
		return fmt.Sprintf("Unknown(%d)", s)
	}
}

// IsActive returns true if the peer is connected or being dialed.
func (s ConnectionState) IsActive() bool {
	return s == StateConnecting || s == StateConnected
}

var validTransitions = map[ConnectionState][]ConnectionState{
	StateDisconnected: {StateConnecting, StateConnected},
	StateConnecting:   {StateConnected, StateDisconnected, StateBackoff},
	StateConnected:    {StateDisconnected},
	StateBackoff:      {StateConnecting, StateConnected, StateDisconnected},
}

// CanTransitionTo checks if a transition from the current state to
// the target state is valid.
func (s ConnectionState) CanTransitionTo(target ConnectionState) bool {
	for _, t := range validTransitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

// ValidateTransition returns an error if the transition is invalid.
func (s ConnectionState) ValidateTransition(target ConnectionState) error {
	if !s.CanTransitionTo(target) {
		return fmt.Errorf("invalid state transition: %s -> %s", s, target)
	}
	return nil
}
