// Package message defines the message shapes exchanged between the router,
// the plugin host and plugins, together with the reserved topic and event
// names of the Cinderlink protocol.
package message

import (
	"errors"
	"fmt"
	"time"
	"unicode"

	json "github.com/json-iterator/go"
	"github.com/libp2p/go-libp2p/core/peer"
)

// Reserved broadcast and direct topics.
const (
	TopicPeerConnect             = "peer/connect"
	TopicPeerDisconnect          = "peer/disconnect"
	TopicIdentityResolveRequest  = "identity/resolve/request"
	TopicIdentityResolveResponse = "identity/resolve/response"
	TopicIdentitySetRequest      = "identity/set/request"
	TopicIdentitySetResponse     = "identity/set/response"
	TopicKeepAlive               = "cinderlink/keepalive"
)

// Lifecycle events delivered to plugins on the lifecycle bus.
const (
	EventClientLoaded      = "client/loaded"
	EventClientReady       = "client/ready"
	EventPeerConnect       = "peer/connect"
	EventPeerDisconnect    = "peer/disconnect"
	EventServerConnect     = "server/connect"
	EventPeerAuthenticated = "peer/authenticated"
	EventIdentityResolved  = "identity/resolved"
)

// RequestIDField is the payload field carrying request correlation ids.
const RequestIDField = "requestId"

// ErrInvalidTopic is returned for empty or malformed topics.
var ErrInvalidTopic = errors.New("invalid topic")

// Outgoing is a message handed to the router for delivery.
type Outgoing struct {
	Topic   string
	Payload any
}

// Incoming is a decoded message delivered to handlers.
type Incoming struct {
	Topic   string
	Payload json.RawMessage

	// PeerID is the transport-level peer the message arrived from.
	PeerID peer.ID

	// Sender is the DID of the author, if the envelope carried one.
	Sender string

	Signed    bool
	Encrypted bool

	ReceivedAt time.Time
}

// Decode unmarshals the payload into v.
func (m *Incoming) Decode(v any) error {
	if len(m.Payload) == 0 {
		return fmt.Errorf("message %s: empty payload", m.Topic)
	}
	return json.Unmarshal(m.Payload, v)
}

// RequestID returns the correlation id embedded in the payload, if any.
func (m *Incoming) RequestID() string {
	if len(m.Payload) == 0 || m.Payload[0] != '{' {
		return ""
	}
	return json.Get(m.Payload, RequestIDField).ToString()
}

// Wire is the plaintext carried inside a codec envelope.
type Wire struct {
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ValidateTopic checks that a topic is non-empty and contains no whitespace
// or control characters.
func ValidateTopic(topic string) error {
	if topic == "" {
		return fmt.Errorf("%w: topic cannot be empty", ErrInvalidTopic)
	}
	for i, r := range topic {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return fmt.Errorf("%w: invalid character %q at position %d", ErrInvalidTopic, r, i)
		}
	}
	return nil
}
