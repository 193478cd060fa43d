// Package router sends and receives Cinderlink messages. It encodes
// outgoing messages through the codec gateway, delivers them as direct
// frames or gossipsub broadcasts, correlates request/response pairs and
// hands decoded inbound messages to a Dispatcher.
package router

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	json "github.com/json-iterator/go"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/blockberries/cinderlink/internal/flow"
	"github.com/blockberries/cinderlink/internal/observability"
	"github.com/blockberries/cinderlink/pkg/codec"
	"github.com/blockberries/cinderlink/pkg/connection"
	"github.com/blockberries/cinderlink/pkg/message"
	"github.com/blockberries/cinderlink/pkg/peers"
	"github.com/blockberries/cinderlink/pkg/protocol"
)

var (
	// ErrPeerNotAuthenticated is returned when encrypting to a peer whose DID
	// is not yet known and no recipients were given.
	ErrPeerNotAuthenticated = errors.New("peer not authenticated")

	// ErrRouterClosed is returned by operations after Close.
	ErrRouterClosed = errors.New("router is closed")

	// ErrInvalidRequestPayload is returned when a request payload is not a
	// JSON object and cannot carry a request id.
	ErrInvalidRequestPayload = errors.New("request payload must be an object")
)

// Transport is the wire surface used by the router.
type Transport interface {
	ID() peer.ID
	IsConnected(peerID peer.ID) bool
	SendFrame(ctx context.Context, peerID peer.ID, data []byte) error
	Publish(ctx context.Context, topic string, data []byte) error
	Subscribe(topic string, handler protocol.BroadcastHandler) (func(), error)
}

// Connector dials peers.
type Connector interface {
	Connect(ctx context.Context, peerID peer.ID, role peers.Role) error
}

// Dispatcher receives decoded inbound messages and lifecycle events.
type Dispatcher interface {
	DispatchDirect(msg *message.Incoming)
	DispatchBroadcast(msg *message.Incoming)
	EmitLifecycle(event string, payload any)
}

// OfflineSync stores messages for peers that are not connected and
// forwards them when the peer returns.
type OfflineSync interface {
	SendOffline(ctx context.Context, toDID string, msg message.Outgoing, enc codec.Encoding) error
}

// Config configures a Router. Zero values get defaults.
type Config struct {
	// RequestTimeout bounds the wait for a response in Request.
	RequestTimeout time.Duration

	// RetryDelay is the delay before the first send retry; later retries
	// back off exponentially up to MaxRetryDelay.
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration

	// MaxInFlight caps concurrent direct deliveries. Once reached, new
	// sends wait until half have completed.
	MaxInFlight int

	// OfflineSync returns the registered offline-sync extension, or nil.
	OfflineSync func() OfflineSync

	Clock   clock.Clock
	Logger  observability.Logger
	Metrics observability.Metrics
	Tracer  observability.Tracer
}

func (c *Config) applyDefaults() {
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 3 * time.Second
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = time.Second
	}
	if c.MaxRetryDelay <= 0 {
		c.MaxRetryDelay = 30 * time.Second
	}
	if c.MaxInFlight <= 0 {
		c.MaxInFlight = flow.DefaultHigh
	}
	if c.Clock == nil {
		c.Clock = clock.New()
	}
	if c.Logger == nil {
		c.Logger = observability.NopLogger{}
	}
	if c.Metrics == nil {
		c.Metrics = observability.NopMetrics{}
	}
	if c.Tracer == nil {
		c.Tracer = observability.NopTracer{}
	}
}

// Router is safe for concurrent use.
type Router struct {
	transport Transport
	registry  *peers.Registry
	connector Connector
	codec     *codec.Gateway
	dispatch  Dispatcher
	config    Config

	subsMu sync.Mutex
	subs   map[string]func()

	pendingMu sync.Mutex
	pending   map[string]chan *message.Incoming

	window *flow.Window

	ctx    context.Context
	cancel context.CancelFunc
	closed atomic.Bool
}

// New creates a router.
func New(
	transport Transport,
	registry *peers.Registry,
	connector Connector,
	gateway *codec.Gateway,
	dispatch Dispatcher,
	config Config,
) *Router {
	config.applyDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	window := flow.NewWindow(config.MaxInFlight, config.MaxInFlight/2)
	window.OnBlocked(config.Metrics.SendBlocked)
	return &Router{
		transport: transport,
		registry:  registry,
		connector: connector,
		codec:     gateway,
		dispatch:  dispatch,
		config:    config,
		subs:      make(map[string]func()),
		pending:   make(map[string]chan *message.Incoming),
		window:    window,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Subscribe joins a broadcast topic. Subscribing twice is a no-op.
func (r *Router) Subscribe(topic string) error {
	if err := message.ValidateTopic(topic); err != nil {
		return err
	}
	if r.closed.Load() {
		return ErrRouterClosed
	}

	r.subsMu.Lock()
	defer r.subsMu.Unlock()
	if _, ok := r.subs[topic]; ok {
		return nil
	}
	cancel, err := r.transport.Subscribe(topic, r.HandleBroadcast)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	r.subs[topic] = cancel
	return nil
}

// Unsubscribe leaves a broadcast topic. Unsubscribing from a topic that
// is not subscribed is a no-op.
func (r *Router) Unsubscribe(topic string) error {
	r.subsMu.Lock()
	cancel, ok := r.subs[topic]
	delete(r.subs, topic)
	r.subsMu.Unlock()

	if ok {
		cancel()
	}
	return nil
}

// Subscriptions returns the subscribed topics in sorted order.
func (r *Router) Subscriptions() []string {
	r.subsMu.Lock()
	defer r.subsMu.Unlock()
	topics := make([]string, 0, len(r.subs))
	for t := range r.subs {
		topics = append(topics, t)
	}
	sort.Strings(topics)
	return topics
}

// Publish encodes msg once and broadcasts it. Transport failures are
// logged and not returned; encoding failures are.
func (r *Router) Publish(ctx context.Context, msg message.Outgoing, enc codec.Encoding) (err error) {
	if !enc.Valid() {
		return codec.ErrInvalidEncoding
	}
	if err := message.ValidateTopic(msg.Topic); err != nil {
		return err
	}
	if r.closed.Load() {
		return ErrRouterClosed
	}

	ctx, end := r.config.Tracer.Start(ctx, "publish", "topic", msg.Topic)
	defer func() { end(err) }()

	data, err := r.encode(ctx, msg, enc)
	if err != nil {
		return err
	}
	if perr := r.transport.Publish(ctx, msg.Topic, data); perr != nil {
		r.config.Metrics.PublishResult("failure")
		r.config.Logger.Warn("publish failed", "topic", msg.Topic, "error", perr)
		return nil
	}
	r.config.Metrics.PublishResult("success")
	return nil
}

// Close cancels all subscriptions and fails pending requests.
func (r *Router) Close() {
	if !r.closed.CompareAndSwap(false, true) {
		return
	}
	r.cancel()
	r.window.Close()

	r.subsMu.Lock()
	for topic, cancel := range r.subs {
		cancel()
		delete(r.subs, topic)
	}
	r.subsMu.Unlock()
}

func (r *Router) encode(ctx context.Context, msg message.Outgoing, enc codec.Encoding) ([]byte, error) {
	payload, err := marshalPayload(msg.Payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", msg.Topic, err)
	}
	plain, err := json.Marshal(&message.Wire{Topic: msg.Topic, Payload: payload})
	if err != nil {
		return nil, err
	}
	return r.codec.Encode(ctx, plain, enc)
}

func marshalPayload(v any) (json.RawMessage, error) {
	switch p := v.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return p, nil
	default:
		return json.Marshal(v)
	}
}

// newBackoff returns the retry schedule for one send.
func (r *Router) newBackoff(base time.Duration) *connection.BackoffCalculator {
	maxDelay := r.config.MaxRetryDelay
	if base > maxDelay {
		maxDelay = base
	}
	return connection.NewBackoffCalculator(base, maxDelay)
}
