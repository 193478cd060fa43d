package cinderlink

import (
	"time"

	"github.com/blockberries/cinderlink/pkg/message"
	"github.com/blockberries/cinderlink/pkg/plugin"
)

// Lifecycle events delivered to plugins and to Client.Events.
const (
	EventClientLoaded      = message.EventClientLoaded
	EventClientReady       = message.EventClientReady
	EventPeerConnect       = message.EventPeerConnect
	EventPeerDisconnect    = message.EventPeerDisconnect
	EventServerConnect     = message.EventServerConnect
	EventPeerAuthenticated = message.EventPeerAuthenticated
	EventIdentityResolved  = message.EventIdentityResolved
)

// Event is a lifecycle event. Payload is a *peers.Peer for peer events,
// an *identity.Resolved for identity/resolved and nil for client events.
type Event struct {
	Name      string
	Payload   any
	Timestamp time.Time
}

// State is the client lifecycle state.
type State int32

const (
	// StateCreated is the state after New.
	StateCreated State = iota

	// StateStarting is the state while plugins start.
	StateStarting

	// StateRunning accepts sends, requests and publishes.
	StateRunning

	// StateStopping is the state while the client flushes and shuts down.
	StateStopping

	// StateStopped is terminal.
	StateStopped
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "Created"
	case StateStarting:
		return "Starting"
	case StateRunning:
		return "Running"
	case StateStopping:
		return "Stopping"
	case StateStopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// eventSink routes inbound messages to the plugin host and fans lifecycle
// events out to both the plugin host and the application channel.
type eventSink struct {
	plugins *plugin.Host
	app     func(Event) bool
	now     func() time.Time
}

func (s *eventSink) DispatchDirect(msg *message.Incoming) {
	s.plugins.DispatchDirect(msg)
}

func (s *eventSink) DispatchBroadcast(msg *message.Incoming) {
	s.plugins.DispatchBroadcast(msg)
}

func (s *eventSink) EmitLifecycle(event string, payload any) {
	s.plugins.EmitLifecycle(event, payload)
	s.app(Event{Name: event, Payload: payload, Timestamp: s.now()})
}
