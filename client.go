package cinderlink

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/ipfs/go-cid"
	json "github.com/json-iterator/go"
	ic "github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
	"go.uber.org/multierr"

	"github.com/blockberries/cinderlink/internal/eventdispatch"
	"github.com/blockberries/cinderlink/pkg/codec"
	"github.com/blockberries/cinderlink/pkg/connection"
	"github.com/blockberries/cinderlink/pkg/crypto"
	"github.com/blockberries/cinderlink/pkg/dag"
	"github.com/blockberries/cinderlink/pkg/identity"
	"github.com/blockberries/cinderlink/pkg/kv"
	"github.com/blockberries/cinderlink/pkg/message"
	"github.com/blockberries/cinderlink/pkg/naming"
	"github.com/blockberries/cinderlink/pkg/peers"
	"github.com/blockberries/cinderlink/pkg/plugin"
	"github.com/blockberries/cinderlink/pkg/plugins/identityserver"
	"github.com/blockberries/cinderlink/pkg/protocol"
	"github.com/blockberries/cinderlink/pkg/router"
)

// OfflineSyncPluginID is the plugin id the router asks for when a direct
// message targets a disconnected peer. The plugin must implement
// router.OfflineSync.
const OfflineSyncPluginID = "offlineSync"

// Transport is the wire layer the client runs on. *protocol.Host
// implements it.
type Transport interface {
	ID() peer.ID
	Connect(ctx context.Context, pi peer.AddrInfo) error
	Disconnect(peerID peer.ID) error
	IsConnected(peerID peer.ID) bool
	PeerAddrs(peerID peer.ID) []multiaddr.Multiaddr
	AddAddrs(peerID peer.ID, addrs []multiaddr.Multiaddr)
	SendFrame(ctx context.Context, peerID peer.ID, data []byte) error
	Publish(ctx context.Context, topic string, data []byte) error
	Subscribe(topic string, handler protocol.BroadcastHandler) (func(), error)
	SetFrameHandler(fn protocol.FrameHandler)
	SetConnHandlers(onConnect, onDisconnect func(peer.ID))
	Close() error
}

// announcement is the payload of the peer/connect and peer/disconnect
// broadcasts.
type announcement struct {
	PeerID string     `json:"peerId"`
	DID    string     `json:"did"`
	Role   peers.Role `json:"role"`
}

// Client is the Cinderlink client. It owns the transport, peer registry,
// connection manager, router, plugin host and identity resolver, and is the
// only surface applications use.
//
// All public methods are safe for concurrent use.
type Client struct {
	config *Config

	id        *crypto.Identity
	transport Transport
	blocklist *protocol.Blocklist
	registry  *peers.Registry
	db        *kv.DB
	store     *dag.Store
	plugins   *plugin.Host
	manager   *connection.Manager
	router    *router.Router
	identity  *identity.Resolver
	events    *eventdispatch.Dispatcher[Event]

	state atomic.Int32

	// schemaMu serializes read-modify-save of the identity document.
	schemaMu sync.Mutex
	// resolved is closed once the first identity resolution after Start
	// has finished. Identity writes wait for it.
	resolved chan struct{}

	// lifecycleMu serializes Start and Stop.
	lifecycleMu sync.Mutex
	runCtx      context.Context
	runCancel   context.CancelFunc
	wg          sync.WaitGroup
}

// New creates a client with the given configuration. The client does not
// touch the network until Start.
func New(cfg *Config) (_ *Client, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	cfg.applyDefaults()

	c := &Client{config: cfg, resolved: make(chan struct{})}
	var cleanup []func() error
	defer func() {
		if err == nil {
			return
		}
		for i := len(cleanup) - 1; i >= 0; i-- {
			_ = cleanup[i]()
		}
	}()

	c.id, err = crypto.NewIdentity(cfg.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create identity: %w", err)
	}
	cleanup = append(cleanup, func() error { c.id.Close(); return nil })

	self, err := peerIDFromKey(cfg.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to derive peer id: %w", err)
	}

	c.events = eventdispatch.NewDispatcher[Event](cfg.EventBufferSize, func() {
		cfg.Metrics.EventDropped("client")
	})
	cleanup = append(cleanup, func() error { c.events.Close(); return nil })

	registryPath, storePath := "", ""
	if cfg.DataDir != "" {
		registryPath = filepath.Join(cfg.DataDir, "peers.json")
		storePath = filepath.Join(cfg.DataDir, "store")
	}
	c.registry, err = peers.New(registryPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open peer registry: %w", err)
	}
	cleanup = append(cleanup, c.registry.Close)

	c.db, err = kv.Open(storePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	cleanup = append(cleanup, c.db.Close)

	gateway := codec.NewGateway(codec.NewEnvelopeCodec(c.id))
	c.store, err = dag.New(c.db, codec.NewSelfSealer(gateway, c.id.DID()), dag.DefaultCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create content store: %w", err)
	}

	c.blocklist = protocol.NewBlocklist()
	gater := protocol.NewConnectionGater(c.blocklist)
	var names naming.Resolver = cfg.NameResolver
	if cfg.Transport != nil {
		c.transport = cfg.Transport
		if c.transport.ID() != self {
			return nil, fmt.Errorf("%w: transport peer id %s does not match private key", ErrInvalidConfig, c.transport.ID())
		}
	} else {
		h, err := c.newHost(gater)
		if err != nil {
			return nil, err
		}
		c.transport = h
		if names == nil && h.ValueStore() != nil {
			dr, err := naming.NewDHTResolver(h.ValueStore(), h.PrivateKey())
			if err != nil {
				_ = h.Close()
				return nil, fmt.Errorf("failed to create name resolver: %w", err)
			}
			names = dr
		}
	}
	cleanup = append(cleanup, c.transport.Close)

	c.plugins = plugin.NewHost(plugin.Config{
		Policy:     cfg.PluginPolicy,
		BufferSize: cfg.EventBufferSize,
		Logger:     cfg.Logger,
		Metrics:    cfg.Metrics,
	})
	cleanup = append(cleanup, func() error { c.plugins.Close(); return nil })
	sink := &eventSink{plugins: c.plugins, app: c.events.Emit, now: cfg.Clock.Now}

	c.manager = connection.NewManager(context.Background(), c.transport, c.registry, connection.ManagerConfig{
		BootstrapAddrs:    cfg.BootstrapAddrs,
		RelayAddrs:        cfg.RelayAddrs,
		KeepAliveInterval: cfg.KeepAliveInterval,
		DialTimeout:       cfg.DialTimeout,
		RetryBaseDelay:    cfg.RetryDelay,
		RetryMaxDelay:     cfg.MaxRetryDelay,
		Clock:             cfg.Clock,
		Logger:            cfg.Logger,
		Metrics:           cfg.Metrics,
	}, sink)
	cleanup = append(cleanup, func() error { c.manager.Close(); return nil })
	gater.SetDialStateChecker(c.manager)

	c.router = router.New(c.transport, c.registry, c.manager, gateway, sink, router.Config{
		RequestTimeout: cfg.RequestTimeout,
		RetryDelay:     cfg.RetryDelay,
		MaxRetryDelay:  cfg.MaxRetryDelay,
		MaxInFlight:    cfg.MaxInFlightSends,
		OfflineSync:    c.offlineSync,
		Clock:          cfg.Clock,
		Logger:         cfg.Logger,
		Metrics:        cfg.Metrics,
		Tracer:         cfg.Tracer,
	})
	c.manager.SetProber(c.router)
	c.plugins.SetSubscriber(c.router)

	c.identity = identity.New(c.store, kv.NewCache(c.db.Store("c/")), names, c.router, c.registry, sink, identity.Config{
		Self:               self,
		DID:                c.id.DID(),
		Wallet:             cfg.Wallet,
		ResolveTimeout:     cfg.IdentityResolveTimeout,
		SaveDebounce:       cfg.SaveDebounce,
		RemotePushInterval: cfg.RemotePushInterval,
		PublishIdentity:    cfg.PublishIdentity,
		Clock:              cfg.Clock,
		Logger:             cfg.Logger,
		Metrics:            cfg.Metrics,
		Tracer:             cfg.Tracer,
	})

	if cfg.Role == peers.RoleServer {
		srv := identityserver.New(c.db, c.router, cfg.Logger)
		if err := c.plugins.Register(context.Background(), srv); err != nil {
			return nil, fmt.Errorf("failed to register identity server: %w", err)
		}
	}

	c.state.Store(int32(StateCreated))
	return c, nil
}

func (c *Client) newHost(gater *protocol.ConnectionGater) (*protocol.Host, error) {
	var bootstrap []peer.AddrInfo
	for _, addr := range c.config.BootstrapAddrs {
		pi, err := peer.AddrInfoFromP2pAddr(addr)
		if err != nil {
			continue
		}
		bootstrap = append(bootstrap, *pi)
	}
	h, err := protocol.NewHost(context.Background(), protocol.HostConfig{
		PrivateKey:        c.config.PrivateKey,
		ListenAddrs:       c.config.ListenAddrs,
		ProtocolID:        protocol.DirectProtocolID(CurrentVersion().String()),
		Gater:             gater,
		EnableDHT:         c.config.EnableDHT,
		DHTServer:         c.config.Role == peers.RoleServer,
		DHTBootstrapPeers: bootstrap,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create libp2p host: %w", err)
	}
	return h, nil
}

func (c *Client) offlineSync() router.OfflineSync {
	p, ok := c.plugins.Plugin(OfflineSyncPluginID)
	if !ok {
		return nil
	}
	s, _ := p.(router.OfflineSync)
	return s
}

// Start attaches the transport handlers, starts every registered plugin,
// announces the node on peer/connect and emits client/ready. Identity
// resolution and the reconnection sweep then run in the background until
// Stop.
func (c *Client) Start(ctx context.Context) error {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()

	if State(c.state.Load()) != StateCreated {
		return ErrClientAlreadyStarted
	}
	c.state.Store(int32(StateStarting))
	logger := c.config.Logger
	logger.Info("starting client", "peer", c.transport.ID(), "did", c.id.DID(), "role", c.config.Role)

	c.transport.SetFrameHandler(c.router.HandleStream)
	c.transport.SetConnHandlers(c.manager.HandleConnected, c.manager.HandleDisconnected)
	for _, topic := range []string{message.TopicPeerConnect, message.TopicPeerDisconnect} {
		if err := c.router.Subscribe(topic); err != nil {
			logger.Warn("failed to subscribe", "topic", topic, "error", err)
		}
	}

	c.plugins.EmitLifecycle(EventClientLoaded, nil)
	c.events.Emit(Event{Name: EventClientLoaded, Timestamp: c.config.Clock.Now()})
	if err := c.plugins.StartAll(ctx); err != nil {
		logger.Error("plugins failed to start", "error", err)
	}

	if err := c.router.Publish(ctx, message.Outgoing{
		Topic:   message.TopicPeerConnect,
		Payload: c.announcement(),
	}, codec.Signed); err != nil {
		logger.Warn("failed to announce peer/connect", "error", err)
	}

	c.runCtx, c.runCancel = context.WithCancel(context.Background())
	c.state.Store(int32(StateRunning))
	c.plugins.EmitLifecycle(EventClientReady, nil)
	c.events.Emit(Event{Name: EventClientReady, Timestamp: c.config.Clock.Now()})

	c.wg.Add(1)
	go c.run(c.runCtx)
	return nil
}

// run dials the bootstrap servers, resolves the identity once they had a
// chance to answer and then keeps the reconnection sweep going.
func (c *Client) run(ctx context.Context) {
	defer c.wg.Done()
	c.manager.ConnectToNodes(ctx)
	if _, _, err := c.identity.Resolve(ctx); err != nil {
		c.config.Logger.Warn("identity resolve failed", "error", err)
	}
	close(c.resolved)
	c.manager.Run(ctx)
}

// Stop announces peer/disconnect, flushes the identity, stops every plugin
// and closes the transport. Each step is best-effort: Stop always
// completes and returns the combined errors. Stopping a client that was
// never started only releases its resources; stopping twice is a no-op.
func (c *Client) Stop(ctx context.Context) error {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()

	switch State(c.state.Load()) {
	case StateCreated:
		c.state.Store(int32(StateStopped))
		return c.release()
	case StateRunning:
	default:
		return nil
	}
	c.state.Store(int32(StateStopping))
	logger := c.config.Logger
	logger.Info("stopping client", "peer", c.transport.ID())

	c.runCancel()

	var (
		mu   sync.Mutex
		errs error
		wg   sync.WaitGroup
	)
	collect := func(err error) {
		mu.Lock()
		errs = multierr.Append(errs, err)
		mu.Unlock()
	}
	wg.Add(3)
	go func() {
		defer wg.Done()
		err := c.router.Publish(ctx, message.Outgoing{
			Topic:   message.TopicPeerDisconnect,
			Payload: c.announcement(),
		}, codec.Signed)
		if err != nil {
			logger.Warn("failed to announce peer/disconnect", "error", err)
		}
	}()
	go func() {
		defer wg.Done()
		if err := c.identity.Flush(ctx); err != nil {
			logger.Warn("failed to flush identity", "error", err)
			collect(fmt.Errorf("flush identity: %w", err))
		}
	}()
	go func() {
		defer wg.Done()
		if err := c.plugins.StopAll(ctx); err != nil {
			logger.Error("plugins failed to stop", "error", err)
			collect(err)
		}
	}()
	wg.Wait()

	c.wg.Wait()
	errs = multierr.Append(errs, c.release())
	c.state.Store(int32(StateStopped))
	return errs
}

// release closes components in reverse order of construction.
func (c *Client) release() error {
	c.router.Close()
	c.manager.Close()
	c.identity.Close()
	c.plugins.Close()
	err := multierr.Combine(
		c.transport.Close(),
		c.registry.Close(),
		c.db.Close(),
	)
	c.events.Close()
	c.id.Close()
	return err
}

func (c *Client) announcement() announcement {
	return announcement{
		PeerID: c.transport.ID().String(),
		DID:    c.id.DID(),
		Role:   c.config.Role,
	}
}

func (c *Client) requireRunning() error {
	if State(c.state.Load()) != StateRunning {
		return ErrClientNotRunning
	}
	return nil
}

// awaitIdentity blocks until the initial identity resolution has finished
// so that writes build on the resolved document rather than an empty one.
func (c *Client) awaitIdentity(ctx context.Context) error {
	if err := c.requireRunning(); err != nil {
		return err
	}
	select {
	case <-c.resolved:
		return nil
	default:
	}
	select {
	case <-c.resolved:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.runCtx.Done():
		return ErrClientNotRunning
	}
}

// latest returns the document identity writes build on, waiting for the
// initial resolution while the client is running.
func (c *Client) latest() *identity.Document {
	_ = c.awaitIdentity(context.Background())
	return c.identity.Latest()
}

// State returns the lifecycle state.
func (c *Client) State() State {
	return State(c.state.Load())
}

// PeerID returns the local peer ID.
func (c *Client) PeerID() peer.ID {
	return c.transport.ID()
}

// DID returns the local DID.
func (c *Client) DID() string {
	return c.id.DID()
}

// Address returns the wallet address, or "" when no wallet is configured.
func (c *Client) Address() string {
	if c.config.Wallet == nil {
		return ""
	}
	return c.config.Wallet.Address()
}

// Addrs returns the listen addresses when the transport exposes them.
func (c *Client) Addrs() []multiaddr.Multiaddr {
	if a, ok := c.transport.(interface{ Addrs() []multiaddr.Multiaddr }); ok {
		return a.Addrs()
	}
	return nil
}

// Events returns the lifecycle event channel. Events are dropped when the
// channel is full. It is closed by Stop.
func (c *Client) Events() <-chan Event {
	return c.events.Events()
}

// Send delivers msg to peerID as a direct message.
func (c *Client) Send(ctx context.Context, peerID peer.ID, msg message.Outgoing, enc codec.Encoding, opts ...router.SendOption) error {
	if err := c.requireRunning(); err != nil {
		return err
	}
	return wrapSendError(c.router.Send(ctx, peerID, msg, enc, opts...), peerID, msg.Topic)
}

// Request sends msg and waits for the response carrying the same request
// id. A nil message with a nil error means no answer arrived in time.
func (c *Client) Request(ctx context.Context, peerID peer.ID, msg message.Outgoing, enc codec.Encoding, opts ...router.RequestOption) (*message.Incoming, error) {
	if err := c.requireRunning(); err != nil {
		return nil, err
	}
	resp, err := c.router.Request(ctx, peerID, msg, enc, opts...)
	return resp, wrapSendError(err, peerID, msg.Topic)
}

// Publish broadcasts msg on its topic.
func (c *Client) Publish(ctx context.Context, msg message.Outgoing, enc codec.Encoding) error {
	if err := c.requireRunning(); err != nil {
		return err
	}
	return c.router.Publish(ctx, msg, enc)
}

// Subscribe joins a broadcast topic. It may be called before Start.
func (c *Client) Subscribe(topic string) error {
	return c.router.Subscribe(topic)
}

// Unsubscribe leaves a broadcast topic.
func (c *Client) Unsubscribe(topic string) error {
	return c.router.Unsubscribe(topic)
}

// Subscriptions returns the joined broadcast topics.
func (c *Client) Subscriptions() []string {
	return c.router.Subscriptions()
}

// AddPlugin registers p. Plugins added while the client runs start at once.
func (c *Client) AddPlugin(ctx context.Context, p plugin.Plugin) error {
	return c.plugins.Register(ctx, p)
}

// HasPlugin reports whether a plugin with id is registered.
func (c *Client) HasPlugin(id string) bool {
	return c.plugins.HasPlugin(id)
}

// Plugin returns the plugin registered under id.
func (c *Client) Plugin(id string) (plugin.Plugin, bool) {
	return c.plugins.Plugin(id)
}

// EmitPluginEvent publishes an inter-plugin event.
func (c *Client) EmitPluginEvent(event string, payload any) {
	c.plugins.EmitPluginEvent(event, payload)
}

// Connect dials peerID and registers it with role.
func (c *Client) Connect(ctx context.Context, peerID peer.ID, role peers.Role) error {
	if err := c.requireRunning(); err != nil {
		return err
	}
	return c.manager.Connect(ctx, peerID, role)
}

// ConnectAddr dials a full /p2p multiaddr.
func (c *Client) ConnectAddr(ctx context.Context, addr multiaddr.Multiaddr, role peers.Role) error {
	pi, err := peer.AddrInfoFromP2pAddr(addr)
	if err != nil {
		return err
	}
	c.transport.AddAddrs(pi.ID, pi.Addrs)
	return c.Connect(ctx, pi.ID, role)
}

// BlockPeer refuses all connections with peerID and drops the current one.
func (c *Client) BlockPeer(peerID peer.ID) {
	c.blocklist.Block(peerID)
	if c.transport.IsConnected(peerID) {
		_ = c.transport.Disconnect(peerID)
	}
}

// UnblockPeer lifts a block.
func (c *Client) UnblockPeer(peerID peer.ID) {
	c.blocklist.Unblock(peerID)
}

// HasServerConnection reports whether any server is connected.
func (c *Client) HasServerConnection() bool {
	return c.manager.HasServerConnection()
}

// Peers returns a snapshot of the peer registry.
func (c *Client) Peers() []*peers.Peer {
	return c.registry.ListPeers()
}

// Peer returns one registry entry.
func (c *Client) Peer(peerID peer.ID) (*peers.Peer, error) {
	return c.registry.GetPeer(peerID)
}

// Identity returns the current identity root and document.
func (c *Client) Identity() (cid.Cid, *identity.Document) {
	return c.identity.CID(), c.identity.Document()
}

// ResolveIdentity runs a resolve pass now.
func (c *Client) ResolveIdentity(ctx context.Context) (cid.Cid, *identity.Document, error) {
	return c.identity.Resolve(ctx)
}

// Save persists the identity root, debounced unless req.ForceImmediate.
// It requires a running client and waits for the initial identity
// resolution.
func (c *Client) Save(ctx context.Context, req identity.SaveRequest) error {
	if !req.CID.Defined() && req.Document == nil {
		return identity.ErrNothingToSave
	}
	if err := c.awaitIdentity(ctx); err != nil {
		return err
	}
	return c.identity.Save(ctx, req)
}

// AddSchema stores blob under name in the identity document and saves it.
// Like Save, it waits for the initial identity resolution.
func (c *Client) AddSchema(ctx context.Context, name string, blob json.RawMessage) error {
	if err := ValidateSchemaName(name); err != nil {
		return err
	}
	if err := c.awaitIdentity(ctx); err != nil {
		return err
	}
	c.schemaMu.Lock()
	defer c.schemaMu.Unlock()
	doc := c.identity.Latest().WithSchema(name, blob, c.config.Clock.Now().UnixMilli())
	return c.identity.Save(ctx, identity.SaveRequest{Document: doc})
}

// Schema returns the schema blob stored under name, including schemas
// whose save is still pending.
func (c *Client) Schema(name string) (json.RawMessage, error) {
	return c.latest().Schema(name)
}

// Schemas returns the names of all stored schemas.
func (c *Client) Schemas() []string {
	return c.latest().SchemaNames()
}

// Store returns the content store.
func (c *Client) Store() *dag.Store {
	return c.store
}

func peerIDFromKey(priv ed25519.PrivateKey) (peer.ID, error) {
	key, err := ic.UnmarshalEd25519PrivateKey(priv)
	if err != nil {
		return "", err
	}
	return peer.IDFromPrivateKey(key)
}
