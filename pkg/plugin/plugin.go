// Package plugin hosts Cinderlink feature modules. Each plugin declares
// handlers for four event classes: direct messages, broadcast messages,
// client lifecycle events and events emitted by other plugins. The Host
// binds them to one bus per class and keeps the subscription handles so a
// plugin can be unbound when it fails, stops or is replaced.
package plugin

import (
	"context"
	"errors"

	"github.com/blockberries/cinderlink/pkg/message"
)

// Sentinel errors for plugin registration.
var (
	// ErrPluginExists is returned by Register under PolicyReject when the
	// id is taken.
	ErrPluginExists = errors.New("plugin already registered")

	// ErrPluginNotFound is returned for unknown plugin ids.
	ErrPluginNotFound = errors.New("plugin not found")

	// ErrInvalidPlugin is returned for a nil plugin or an empty id.
	ErrInvalidPlugin = errors.New("invalid plugin")

	// ErrPluginReplaced is returned by StartPlugin when another plugin
	// with the same id was registered while this one was starting.
	ErrPluginReplaced = errors.New("plugin replaced while starting")
)

// MessageHandler handles a decoded direct or broadcast message.
type MessageHandler func(msg *message.Incoming)

// EventHandler handles a lifecycle or inter-plugin event.
type EventHandler func(event string, payload any)

// Handlers are the bindings a plugin declares. Broadcast topics are
// subscribed on the router when the plugin starts.
type Handlers struct {
	Direct       map[string]MessageHandler
	Broadcast    map[string]MessageHandler
	Lifecycle    map[string]EventHandler
	PluginEvents map[string]EventHandler
}

// Plugin is a feature module.
type Plugin interface {
	ID() string
	Handlers() Handlers
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// State is the lifecycle state of a registered plugin.
type State int

const (
	StateRegistered State = iota
	StateStarting
	StateStarted
	StateStopping
	StateStopped
	StateFailed
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateRegistered:
		return "registered"
	case StateStarting:
		return "starting"
	case StateStarted:
		return "started"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Policy decides what Register does with a duplicate id.
type Policy int

const (
	// PolicyReplace unbinds and stops the previous plugin.
	PolicyReplace Policy = iota

	// PolicyReject refuses the new plugin with ErrPluginExists.
	PolicyReject
)
