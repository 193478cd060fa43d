package connection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/blockberries/cinderlink/internal/observability"
	"github.com/blockberries/cinderlink/pkg/message"
	"github.com/blockberries/cinderlink/pkg/peers"
)

// sweepConcurrency bounds parallel dials in one ConnectToNodes pass.
const sweepConcurrency = 8

// ErrNoAddresses is returned when a peer has no known or relay address.
var ErrNoAddresses = errors.New("no addresses for peer")

// HostConnector is the transport surface the manager needs.
type HostConnector interface {
	ID() peer.ID
	Connect(ctx context.Context, pi peer.AddrInfo) error
	IsConnected(peerID peer.ID) bool
	PeerAddrs(peerID peer.ID) []multiaddr.Multiaddr
	AddAddrs(peerID peer.ID, addrs []multiaddr.Multiaddr)
}

// Prober sends a signed keep-alive to a connected peer.
type Prober interface {
	Probe(ctx context.Context, peerID peer.ID) error
}

// EventEmitter receives lifecycle events (peer/connect, peer/disconnect,
// server/connect) with the affected *peers.Peer as payload.
type EventEmitter interface {
	EmitLifecycle(event string, payload any)
}

// ManagerConfig contains configuration for the connection manager.
type ManagerConfig struct {
	// BootstrapAddrs are full /p2p multiaddrs of server nodes.
	BootstrapAddrs []multiaddr.Multiaddr

	// RelayAddrs are circuit relays used for peers with no known address.
	// Only the first is used.
	RelayAddrs []multiaddr.Multiaddr

	// KeepAliveInterval is the period of the reconnection sweep.
	KeepAliveInterval time.Duration

	// DialTimeout bounds a single dial.
	DialTimeout time.Duration

	// RetryBaseDelay and RetryMaxDelay bound the sweep's per-peer backoff.
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration

	Clock   clock.Clock
	Logger  observability.Logger
	Metrics observability.Metrics
}

func (c *ManagerConfig) applyDefaults() {
	if c.KeepAliveInterval <= 0 {
		c.KeepAliveInterval = 10 * time.Second
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 30 * time.Second
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = time.Second
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 30 * time.Second
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
}

// Manager dials peers, keeps the registry's connection flags current and
// tracks whether any server is connected. All public methods are safe for
// concurrent use.
type Manager struct {
	host     HostConnector
	registry *peers.Registry
	config   ManagerConfig
	events   EventEmitter
	backoff  *BackoffCalculator

	bootstrap map[peer.ID]peer.AddrInfo

	connections map[peer.ID]*PeerConnection
	mu          sync.RWMutex

	dials     singleflight.Group
	hasServer atomic.Bool

	// eventsMu orders connect/disconnect bookkeeping so each transition
	// emits once.
	eventsMu sync.Mutex

	proberMu sync.RWMutex
	prober   Prober

	ctx    context.Context
	cancel context.CancelFunc
}

// NewManager creates a connection manager. Bootstrap addresses that do
// not carry a /p2p component are logged and skipped.
func NewManager(
	ctx context.Context,
	host HostConnector,
	registry *peers.Registry,
	config ManagerConfig,
	events EventEmitter,
) *Manager {
	config.applyDefaults()
	managerCtx, cancel := context.WithCancel(ctx)

	m := &Manager{
		host:        host,
		registry:    registry,
		config:      config,
		events:      events,
		backoff:     NewBackoffCalculator(config.RetryBaseDelay, config.RetryMaxDelay),
		bootstrap:   make(map[peer.ID]peer.AddrInfo),
		connections: make(map[peer.ID]*PeerConnection),
		ctx:         managerCtx,
		cancel:      cancel,
	}

	for _, addr := range config.BootstrapAddrs {
		pi, err := peer.AddrInfoFromP2pAddr(addr)
		if err != nil {
			config.Logger.Warn("ignoring bootstrap address", "addr", addr.String(), "error", err)
			continue
		}
		if existing, ok := m.bootstrap[pi.ID]; ok {
			pi.Addrs = append(existing.Addrs, pi.Addrs...)
		}
		m.bootstrap[pi.ID] = *pi
	}
	return m
}

// SetProber installs the keep-alive prober. The router is built after the
// manager, so this is set late.
func (m *Manager) SetProber(p Prober) {
	m.proberMu.Lock()
	m.prober = p
	m.proberMu.Unlock()
}

// Connect dials peerID and registers it with role if it is new.
//
// It is a no-op for the local peer and for peers that are already
// connected. Peers with no known address are dialed through the first
// relay. Concurrent calls for the same peer share one dial. A failed dial
// is logged and returned; callers treat it as non-fatal.
func (m *Manager) Connect(ctx context.Context, peerID peer.ID, role peers.Role) error {
	if peerID == m.host.ID() {
		return nil
	}
	m.registry.AddPeer(peerID, role)

	if m.host.IsConnected(peerID) {
		m.HandleConnected(peerID)
		return nil
	}

	// Only the caller that ran the dial probes, and it does so after the
	// shared call returns: a probe may re-enter Connect for the same peer.
	var leader bool
	v, err, _ := m.dials.Do(peerID.String(), func() (any, error) {
		leader = true
		return m.dial(ctx, peerID)
	})
	if err != nil {
		return err
	}
	if dialed, _ := v.(bool); dialed && leader {
		m.probe(ctx, peerID)
	}
	return nil
}

// dial reports whether it established the connection itself.
func (m *Manager) dial(ctx context.Context, peerID peer.ID) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	addrs := m.host.PeerAddrs(peerID)
	if len(addrs) == 0 {
		relay, err := m.relayAddr(peerID)
		if err != nil {
			m.config.Metrics.DialAttempt("skipped")
			m.config.Logger.Warn("cannot dial peer", "peer", peerID, "error", err)
			return false, err
		}
		m.host.AddAddrs(peerID, []multiaddr.Multiaddr{relay})
		addrs = []multiaddr.Multiaddr{relay}
	}

	conn := m.connection(peerID)
	if err := conn.TransitionTo(StateConnecting, m.config.Clock.Now()); err != nil {
		// Connected through an inbound connection meanwhile.
		if conn.GetState() == StateConnected {
			return false, nil
		}
		return false, err
	}

	dialCtx, cancel := context.WithTimeout(ctx, m.config.DialTimeout)
	defer cancel()
	stop := context.AfterFunc(m.ctx, cancel)
	defer stop()

	if err := m.host.Connect(dialCtx, peer.AddrInfo{ID: peerID, Addrs: addrs}); err != nil {
		conn.Fail(err, m.backoff, m.config.Clock.Now())
		m.config.Metrics.DialAttempt("failure")
		m.config.Logger.Warn("dial failed", "peer", peerID, "error", err)
		return false, fmt.Errorf("failed to connect to peer %s: %w", peerID, err)
	}
	m.config.Metrics.DialAttempt("success")

	m.HandleConnected(peerID)
	return true, nil
}

func (m *Manager) relayAddr(peerID peer.ID) (multiaddr.Multiaddr, error) {
	if len(m.config.RelayAddrs) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoAddresses, peerID)
	}
	circuit, err := multiaddr.NewMultiaddr("/p2p-circuit/p2p/" + peerID.String())
	if err != nil {
		return nil, err
	}
	return m.config.RelayAddrs[0].Encapsulate(circuit), nil
}

func (m *Manager) probe(ctx context.Context, peerID peer.ID) {
	m.proberMu.RLock()
	p := m.prober
	m.proberMu.RUnlock()
	if p == nil {
		return
	}
	if err := p.Probe(ctx, peerID); err != nil {
		m.config.Logger.Debug("keep-alive probe failed", "peer", peerID, "error", err)
	}
}

// ConnectToNodes runs one reconnection sweep over the bootstrap nodes.
// Connected nodes are probed; disconnected nodes are dialed unless they
// are backing off from a recent failure. Failures are isolated per node.
func (m *Manager) ConnectToNodes(ctx context.Context) {
	self := m.host.ID()
	now := m.config.Clock.Now()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(sweepConcurrency)
	for id, pi := range m.bootstrap {
		if id == self {
			continue
		}
		if m.host.IsConnected(id) {
			g.Go(func() error {
				m.probe(gctx, id)
				return nil
			})
			continue
		}
		if !m.connection(id).ReadyToDial(now) {
			m.config.Metrics.DialAttempt("skipped")
			continue
		}
		m.host.AddAddrs(id, pi.Addrs)
		g.Go(func() error {
			_ = m.Connect(gctx, id, peers.RoleServer) // logged in dial
			return nil
		})
	}
	_ = g.Wait()
}

// Run sweeps immediately and then every KeepAliveInterval until ctx is
// done or the manager is closed.
func (m *Manager) Run(ctx context.Context) {
	ticker := m.config.Clock.Ticker(m.config.KeepAliveInterval)
	defer ticker.Stop()

	m.ConnectToNodes(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.ConnectToNodes(ctx)
		}
	}
}

// IsBootstrap reports whether peerID is a configured bootstrap node.
func (m *Manager) IsBootstrap(peerID peer.ID) bool {
	_, ok := m.bootstrap[peerID]
	return ok
}

// HandleConnected classifies a newly connected peer and marks it
// connected. Bootstrap nodes are servers; unknown peers are ordinary peers.
func (m *Manager) HandleConnected(peerID peer.ID) {
	if peerID == m.host.ID() {
		return
	}
	role := peers.RolePeer
	if m.IsBootstrap(peerID) {
		role = peers.RoleServer
	}
	p, _ := m.registry.AddPeer(peerID, role)
	m.OnPeerConnect(p)
}

// HandleDisconnected marks a registered peer disconnected.
func (m *Manager) HandleDisconnected(peerID peer.ID) {
	p, err := m.registry.GetPeer(peerID)
	if err != nil {
		return
	}
	m.OnPeerDisconnect(p)
}

// OnPeerConnect marks p connected and emits server/connect for servers or
// peer/connect otherwise. Peers without a role are ignored. Events fire
// only on the transition from disconnected.
func (m *Manager) OnPeerConnect(p *peers.Peer) {
	if p == nil || !p.Role.Valid() {
		return
	}
	m.eventsMu.Lock()
	defer m.eventsMu.Unlock()

	before, err := m.registry.GetPeer(p.ID)
	if err != nil {
		return
	}
	updated, err := m.registry.SetConnected(p.ID, true)
	if err != nil {
		return
	}
	_ = m.connection(p.ID).TransitionTo(StateConnected, m.config.Clock.Now())
	if before.Connected {
		return
	}

	m.config.Metrics.PeerConnected(string(updated.Role))
	if updated.IsServer() {
		m.hasServer.Store(true)
		m.config.Logger.Info("server connected", "peer", updated.ID)
		m.emit(message.EventServerConnect, updated)
		return
	}
	m.config.Logger.Debug("peer connected", "peer", updated.ID)
	m.emit(message.EventPeerConnect, updated)
}

// OnPeerDisconnect marks p disconnected, emits peer/disconnect and
// recomputes the server flag when a server leaves. Events fire only on
// the transition from connected. Dial state is kept for bootstrap nodes
// only.
func (m *Manager) OnPeerDisconnect(p *peers.Peer) {
	if p == nil {
		return
	}
	m.eventsMu.Lock()
	defer m.eventsMu.Unlock()

	before, err := m.registry.GetPeer(p.ID)
	if err != nil || !before.Connected {
		return
	}
	updated, err := m.registry.SetConnected(p.ID, false)
	if err != nil {
		return
	}
	if m.IsBootstrap(p.ID) {
		_ = m.connection(p.ID).TransitionTo(StateDisconnected, m.config.Clock.Now())
	} else {
		m.forget(p.ID)
	}

	m.config.Metrics.PeerDisconnected(string(updated.Role))
	m.config.Logger.Debug("peer disconnected", "peer", updated.ID, "role", updated.Role)
	m.emit(message.EventPeerDisconnect, updated)
	if updated.IsServer() {
		m.hasServer.Store(m.registry.HasConnectedServer())
	}
}

// HasServerConnection reports whether at least one server is connected.
func (m *Manager) HasServerConnection() bool {
	return m.hasServer.Load()
}

// GetState returns the dial state of a peer.
func (m *Manager) GetState(peerID peer.ID) ConnectionState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if conn, ok := m.connections[peerID]; ok {
		return conn.GetState()
	}
	return StateDisconnected
}

// IsConnecting reports whether an outbound dial to peerID is in flight.
func (m *Manager) IsConnecting(peerID peer.ID) bool {
	return m.GetState(peerID) == StateConnecting
}

// Close stops the sweep and aborts in-flight dials.
func (m *Manager) Close() {
	m.cancel()
}

func (m *Manager) connection(peerID peer.ID) *PeerConnection {
	m.mu.Lock()
	defer m.mu.Unlock()
	conn, ok := m.connections[peerID]
	if !ok {
		conn = NewPeerConnection(peerID, m.config.Clock.Now())
		m.connections[peerID] = conn
	}
	return conn
}

func (m *Manager) forget(peerID peer.ID) {
	m.mu.Lock()
	delete(m.connections, peerID)
	m.mu.Unlock()
}

func (m *Manager) emit(event string, p *peers.Peer) {
	if m.events != nil {
		m.events.EmitLifecycle(event, p)
	}
}
