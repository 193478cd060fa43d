package connection

import (
	"fmt"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
)

// PeerConnection tracks the dial state of a single peer.
type PeerConnection struct {
	PeerID peer.ID

	State           ConnectionState
	Backoff         *DialBackoff
	LastError       error
	LastStateChange time.Time

	mu sync.RWMutex
}

// NewPeerConnection creates a connection record in the Disconnected state.
func NewPeerConnection(peerID peer.ID, now time.Time) *PeerConnection {
	return &PeerConnection{
		PeerID:          peerID,
		State:           StateDisconnected,
		LastStateChange: now,
	}
}

// TransitionTo moves to newState. Transitions to the current state are
// accepted as no-ops.
func (pc *PeerConnection) TransitionTo(newState ConnectionState, now time.Time) error {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	if pc.State == newState {
		return nil
	}
	if err := pc.State.ValidateTransition(newState); err != nil {
		return fmt.Errorf("peer %s: %w", pc.PeerID, err)
	}
	pc.State = newState
	pc.LastStateChange = now
	if newState == StateConnected {
		pc.Backoff = nil
		pc.LastError = nil
	}
	return nil
}

// GetState returns the current state.
func (pc *PeerConnection) GetState() ConnectionState {
	pc.mu.RLock()
	defer pc.mu.RUnlock()
	return pc.State
}

// Fail records a failed dial and enters backoff.
func (pc *PeerConnection) Fail(err error, bc *BackoffCalculator, now time.Time) {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	if pc.Backoff == nil {
		pc.Backoff = &DialBackoff{}
	}
	bc.ScheduleNext(pc.Backoff, now)
	pc.LastError = err
	pc.State = StateBackoff
	pc.LastStateChange = now
}

// ReadyToDial reports whether the sweep may dial the peer at now.
func (pc *PeerConnection) ReadyToDial(now time.Time) bool {
	pc.mu.RLock()
	defer pc.mu.RUnlock()

	switch pc.State {
	case StateDisconnected:
		return true
	case StateBackoff:
		return pc.Backoff == nil || !now.Before(pc.Backoff.NextAttempt)
	default:
		return false
	}
}

// GetError returns the last dial error.
func (pc *PeerConnection) GetError() error {
	pc.mu.RLock()
	defer pc.mu.RUnlock()
	return pc.LastError
}
