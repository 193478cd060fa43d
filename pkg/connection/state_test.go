package connection

import (
	"testing"
)

func TestConnectionState_String(t *testing.T) {
	tests := []struct {
		state    ConnectionState
		expected string
	}{
		{StateDisconnected, "Disconnected"},
		{StateConnecting, "Connecting"},
		{StateConnected, "Connected"},
		{StateBackoff, "Backoff"},
		{ConnectionState(999), "Unknown(999)"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.state.String(); got != tt.expected {
				t.Errorf("String() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestConnectionState_IsActive(t *testing.T) {
	tests := []struct {
		state    ConnectionState
		isActive bool
	}{
		{StateDisconnected, false},
		{StateConnecting, true},
		{StateConnected, true},
		{StateBackoff, false},
	}

	for _, tt := range tests {
		t.Run(tt.state.String(), func(t *testing.T) {
			if got := tt.state.IsActive(); got != tt.isActive {
				t.Errorf("IsActive() = %v, want %v", got, tt.isActive)
			}
		})
	}
}

func TestConnectionState_CanTransitionTo(t *testing.T) {
	tests := []struct {
		name          string
		from          ConnectionState
		to            ConnectionState
		canTransition bool
	}{
		{"disconnected -> connecting", StateDisconnected, StateConnecting, true},
		{"disconnected -> connected (inbound)", StateDisconnected, StateConnected, true},
		{"disconnected -> backoff", StateDisconnected, StateBackoff, false},

		{"connecting -> connected", StateConnecting, StateConnected, true},
		{"connecting -> backoff", StateConnecting, StateBackoff, true},
		{"connecting -> disconnected", StateConnecting, StateDisconnected, true},

		{"connected -> disconnected", StateConnected, StateDisconnected, true},
		{"connected -> connecting", StateConnected, StateConnecting, false},
		{"connected -> backoff", StateConnected, StateBackoff, false},

		{"backoff -> connecting", StateBackoff, StateConnecting, true},
		{"backoff -> connected", StateBackoff, StateConnected, true},
		{"backoff -> disconnected", StateBackoff, StateDisconnected, true},

		{"unknown -> connecting", ConnectionState(42), StateConnecting, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.from.CanTransitionTo(tt.to); got != tt.canTransition {
				t.Errorf("CanTransitionTo() = %v, want %v", got, tt.canTransition)
			}
			err := tt.from.ValidateTransition(tt.to)
			if (err == nil) != tt.canTransition {
				t.Errorf("ValidateTransition() error = %v", err)
			}
		})
	}
}
