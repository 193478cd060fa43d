package plugin

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/multierr"

	"github.com/blockberries/cinderlink/internal/eventdispatch"
	"github.com/blockberries/cinderlink/internal/observability"
	"github.com/blockberries/cinderlink/pkg/message"
)

// DefaultBufferSize is the per-bus queue length.
const DefaultBufferSize = 256

// Subscriber joins broadcast topics on behalf of plugins.
type Subscriber interface {
	Subscribe(topic string) error
}

// Config configures a Host.
type Config struct {
	Policy     Policy
	BufferSize int
	Logger     observability.Logger
	Metrics    observability.Metrics
}

type entry struct {
	plugin   Plugin
	state    State
	bindings []*eventdispatch.Subscription
}

func (e *entry) unbind() {
	unsubscribe(e.bindings)
	e.bindings = nil
}

// Host registers plugins and routes events to them. It is safe for
// concurrent use.
type Host struct {
	config Config

	direct    *eventdispatch.Bus[*message.Incoming]
	broadcast *eventdispatch.Bus[*message.Incoming]
	lifecycle *eventdispatch.Bus[any]
	plugins   *eventdispatch.Bus[any]

	subscriber atomic.Pointer[Subscriber]

	mu      sync.Mutex
	entries map[string]*entry
	order   []string
	running bool
}

// NewHost creates a plugin host with its four buses running.
func NewHost(config Config) *Host {
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultBufferSize
	}
	if config.Logger == nil {
		config.Logger = observability.NopLogger{}
	}
	if config.Metrics == nil {
		config.Metrics = observability.NopMetrics{}
	}

	h := &Host{config: config, entries: make(map[string]*entry)}
	opts := func(bus string) []eventdispatch.BusOption {
		return []eventdispatch.BusOption{
			eventdispatch.WithDropHandler(func(topic string) {
				config.Metrics.EventDropped(bus)
				config.Logger.Warn("event dropped", "bus", bus, "topic", topic)
			}),
			eventdispatch.WithPanicHandler(func(topic string, recovered any) {
				config.Logger.Error("plugin handler panicked", "bus", bus, "topic", topic, "panic", recovered)
			}),
		}
	}
	h.direct = eventdispatch.NewBus[*message.Incoming]("direct", config.BufferSize, opts("direct")...)
	h.broadcast = eventdispatch.NewBus[*message.Incoming]("broadcast", config.BufferSize, opts("broadcast")...)
	h.lifecycle = eventdispatch.NewBus[any]("lifecycle", config.BufferSize, opts("lifecycle")...)
	h.plugins = eventdispatch.NewBus[any]("plugin", config.BufferSize, opts("plugin")...)
	return h
}

// SetSubscriber installs the router used for broadcast topics.
func (h *Host) SetSubscriber(s Subscriber) {
	h.subscriber.Store(&s)
}

// Register adds p. If the host is running the plugin is started at once.
// A duplicate id is handled per the configured Policy.
func (h *Host) Register(ctx context.Context, p Plugin) error {
	if p == nil || p.ID() == "" {
		return ErrInvalidPlugin
	}
	id := p.ID()

	h.mu.Lock()
	old, exists := h.entries[id]
	if exists && h.config.Policy == PolicyReject {
		h.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrPluginExists, id)
	}
	var stopOld Plugin
	if exists {
		// A plugin still starting is retired by its own StartPlugin call.
		old.unbind()
		if old.state == StateStarted {
			old.state = StateStopping
			stopOld = old.plugin
		}
	} else {
		h.order = append(h.order, id)
	}
	h.entries[id] = &entry{plugin: p, state: StateRegistered}
	running := h.running
	h.mu.Unlock()

	if stopOld != nil {
		h.config.Logger.Info("replacing plugin", "plugin", id)
		if err := safeStop(ctx, stopOld); err != nil {
			h.config.Logger.Error("failed to stop replaced plugin", "plugin", id, "error", err)
		}
	}
	if running {
		return h.StartPlugin(ctx, id)
	}
	return nil
}

// StartPlugin binds the plugin's handlers and calls its Start. If Start
// fails the bindings are removed and the plugin is dropped.
func (h *Host) StartPlugin(ctx context.Context, id string) error {
	h.mu.Lock()
	e, ok := h.entries[id]
	if !ok {
		h.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrPluginNotFound, id)
	}
	if e.state == StateStarted || e.state == StateStarting {
		h.mu.Unlock()
		return nil
	}
	e.state = StateStarting
	h.mu.Unlock()

	bindings, err := h.bind(e.plugin)
	if err != nil {
		unsubscribe(bindings)
	} else {
		h.mu.Lock()
		current := h.entries[id] == e
		if current {
			e.bindings = bindings
		}
		h.mu.Unlock()
		if !current {
			unsubscribe(bindings)
			return h.retire(ctx, e, false)
		}
		err = safeStart(ctx, e.plugin)
	}

	h.mu.Lock()
	if err != nil {
		e.unbind()
		e.state = StateFailed
		if h.entries[id] == e {
			delete(h.entries, id)
			h.removeOrder(id)
		}
		h.mu.Unlock()
		h.config.Metrics.PluginStarted("failure")
		h.config.Logger.Error("plugin failed to start", "plugin", id, "error", err)
		return fmt.Errorf("start plugin %s: %w", id, err)
	}
	if h.entries[id] != e {
		h.mu.Unlock()
		return h.retire(ctx, e, true)
	}
	e.state = StateStarted
	h.mu.Unlock()
	h.config.Metrics.PluginStarted("success")
	h.config.Logger.Debug("plugin started", "plugin", id)
	return nil
}

// retire unbinds an entry that was replaced while it was starting and
// stops its plugin if Start already ran.
func (h *Host) retire(ctx context.Context, e *entry, started bool) error {
	id := e.plugin.ID()
	h.mu.Lock()
	e.unbind()
	e.state = StateStopping
	h.mu.Unlock()

	if started {
		if err := safeStop(ctx, e.plugin); err != nil {
			h.config.Logger.Error("failed to stop replaced plugin", "plugin", id, "error", err)
		}
	}
	h.mu.Lock()
	e.state = StateStopped
	h.mu.Unlock()
	h.config.Logger.Info("plugin replaced while starting", "plugin", id)
	return fmt.Errorf("%w: %s", ErrPluginReplaced, id)
}

func unsubscribe(subs []*eventdispatch.Subscription) {
	for _, sub := range subs {
		sub.Unsubscribe()
	}
}

func (h *Host) bind(p Plugin) ([]*eventdispatch.Subscription, error) {
	handlers := p.Handlers()
	var subs []*eventdispatch.Subscription

	for topic, fn := range handlers.Direct {
		subs = append(subs, h.direct.Subscribe(topic, func(_ string, msg *message.Incoming) { fn(msg) }))
	}
	for topic, fn := range handlers.Broadcast {
		subs = append(subs, h.broadcast.Subscribe(topic, func(_ string, msg *message.Incoming) { fn(msg) }))
		if s := h.subscriber.Load(); s != nil {
			if err := (*s).Subscribe(topic); err != nil {
				return subs, fmt.Errorf("subscribe %s: %w", topic, err)
			}
		}
	}
	for event, fn := range handlers.Lifecycle {
		subs = append(subs, h.lifecycle.Subscribe(event, func(name string, payload any) { fn(name, payload) }))
	}
	for event, fn := range handlers.PluginEvents {
		subs = append(subs, h.plugins.Subscribe(event, func(name string, payload any) { fn(name, payload) }))
	}
	return subs, nil
}

// StartAll marks the host running and starts every registered plugin.
// Failures are isolated per plugin and returned combined.
func (h *Host) StartAll(ctx context.Context) error {
	h.mu.Lock()
	h.running = true
	ids := append([]string(nil), h.order...)
	h.mu.Unlock()

	var errs error
	for _, id := range ids {
		if err := h.StartPlugin(ctx, id); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

// StopAll stops started plugins in reverse registration order and unbinds
// their handlers. Failures are isolated per plugin and returned combined.
func (h *Host) StopAll(ctx context.Context) error {
	h.mu.Lock()
	h.running = false
	var started []*entry
	for i := len(h.order) - 1; i >= 0; i-- {
		e := h.entries[h.order[i]]
		if e != nil && e.state == StateStarted {
			e.state = StateStopping
			e.unbind()
			started = append(started, e)
		}
	}
	h.mu.Unlock()

	var errs error
	for _, e := range started {
		id := e.plugin.ID()
		if err := safeStop(ctx, e.plugin); err != nil {
			h.config.Logger.Error("plugin failed to stop", "plugin", id, "error", err)
			errs = multierr.Append(errs, fmt.Errorf("stop plugin %s: %w", id, err))
		}
		h.mu.Lock()
		e.state = StateStopped
		h.mu.Unlock()
	}
	return errs
}

// HasPlugin reports whether id is registered.
func (h *Host) HasPlugin(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.entries[id]
	return ok
}

// Plugin returns the plugin registered as id.
func (h *Host) Plugin(id string) (Plugin, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	e, ok := h.entries[id]
	if !ok {
		return nil, false
	}
	return e.plugin, true
}

// State returns the state of plugin id.
func (h *Host) State(id string) (State, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	e, ok := h.entries[id]
	if !ok {
		return StateFailed, false
	}
	return e.state, true
}

// IDs returns registered plugin ids in registration order.
func (h *Host) IDs() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.order...)
}

// EmitLifecycle publishes a client lifecycle event.
func (h *Host) EmitLifecycle(event string, payload any) {
	h.lifecycle.Publish(event, payload)
}

// EmitPluginEvent publishes an inter-plugin event.
func (h *Host) EmitPluginEvent(event string, payload any) {
	h.plugins.Publish(event, payload)
}

// DispatchDirect routes a direct message to plugins by topic.
func (h *Host) DispatchDirect(msg *message.Incoming) {
	h.direct.Publish(msg.Topic, msg)
}

// DispatchBroadcast routes a broadcast message to plugins by topic.
func (h *Host) DispatchBroadcast(msg *message.Incoming) {
	h.broadcast.Publish(msg.Topic, msg)
}

// Close stops the buses after draining queued events.
func (h *Host) Close() {
	h.direct.Close()
	h.broadcast.Close()
	h.lifecycle.Close()
	h.plugins.Close()
}

func (h *Host) removeOrder(id string) {
	for i, v := range h.order {
		if v == id {
			h.order = append(h.order[:i], h.order[i+1:]...)
			return
		}
	}
}

func safeStart(ctx context.Context, p Plugin) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return p.Start(ctx)
}

func safeStop(ctx context.Context, p Plugin) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return p.Stop(ctx)
}
