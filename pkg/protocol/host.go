package protocol

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/peerstore"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/libp2p/go-libp2p/core/routing"
	"github.com/libp2p/go-libp2p/p2p/net/connmgr"
	"github.com/multiformats/go-multiaddr"

	"github.com/blockberries/cinderlink/pkg/naming"
	"github.com/blockberries/cinderlink/pkg/streams"
)

// HostConfig contains configuration for creating a libp2p host.
type HostConfig struct {
	// PrivateKey is the Ed25519 private key for the host identity. It is the
	// same key that backs the node's DID.
	PrivateKey ed25519.PrivateKey

	// ListenAddrs are the multiaddresses to listen on.
	ListenAddrs []multiaddr.Multiaddr

	// ProtocolID is the direct-stream protocol. Defaults to
	// DirectProtocolID(DefaultVersion).
	ProtocolID protocol.ID

	// Gater enforces the blocklist. Optional.
	Gater *ConnectionGater

	// EnableDHT starts a Kademlia DHT under ProtocolPrefix with the name
	// record validator installed.
	EnableDHT bool

	// DHTServer runs the DHT in server mode. Servers should set this.
	DHTServer bool

	// DHTBootstrapPeers seed the DHT routing table.
	DHTBootstrapPeers []peer.AddrInfo

	ConnMgrLowWater  int
	ConnMgrHighWater int
}

// DefaultHostConfig returns a HostConfig with sensible defaults.
func DefaultHostConfig() HostConfig {
	return HostConfig{
		ProtocolID:       DirectProtocolID(DefaultVersion),
		ConnMgrLowWater:  100,
		ConnMgrHighWater: 400,
	}
}

// Host wraps a libp2p host with the Cinderlink protocols attached.
type Host struct {
	host   host.Host
	pubsub *pubsub.PubSub
	dht    *dht.IpfsDHT
	config HostConfig

	ctx    context.Context
	cancel context.CancelFunc

	topicsMu sync.Mutex
	topics   map[string]*pubsub.Topic

	handlersMu   sync.RWMutex
	onFrames     FrameHandler
	onConnect    func(peer.ID)
	onDisconnect func(peer.ID)
}

// NewHost creates a libp2p host, attaches gossipsub, the direct-stream
// handler, connection notifications and (optionally) the DHT.
func NewHost(ctx context.Context, cfg HostConfig) (*Host, error) {
	if cfg.ProtocolID == "" {
		cfg.ProtocolID = DirectProtocolID(DefaultVersion)
	}
	if cfg.ConnMgrHighWater == 0 {
		cfg.ConnMgrLowWater, cfg.ConnMgrHighWater = 100, 400
	}

	priv, err := crypto.UnmarshalEd25519PrivateKey(cfg.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to convert private key: %w", err)
	}

	listenAddrs := make([]string, len(cfg.ListenAddrs))
	for i, ma := range cfg.ListenAddrs {
		listenAddrs[i] = ma.String()
	}

	cm, err := connmgr.NewConnManager(cfg.ConnMgrLowWater, cfg.ConnMgrHighWater, connmgr.WithGracePeriod(time.Minute))
	if err != nil {
		return nil, fmt.Errorf("failed to create connection manager: %w", err)
	}

	hctx, cancel := context.WithCancel(ctx)
	h := &Host{
		config: cfg,
		ctx:    hctx,
		cancel: cancel,
		topics: make(map[string]*pubsub.Topic),
	}

	opts := []libp2p.Option{
		libp2p.Identity(priv),
		libp2p.ListenAddrStrings(listenAddrs...),
		libp2p.ConnectionManager(cm),
		libp2p.EnableHolePunching(),
		libp2p.EnableRelay(),
		libp2p.NATPortMap(),
	}
	if cfg.Gater != nil {
		opts = append(opts, libp2p.ConnectionGater(cfg.Gater))
	}
	if cfg.EnableDHT {
		opts = append(opts, libp2p.Routing(func(lh host.Host) (routing.PeerRouting, error) {
			mode := dht.ModeClient
			if cfg.DHTServer {
				mode = dht.ModeServer
			}
			d, err := dht.New(hctx, lh,
				dht.Mode(mode),
				dht.ProtocolPrefix(ProtocolPrefix),
				dht.NamespacedValidator(naming.Namespace, naming.Validator{}),
				dht.BootstrapPeers(cfg.DHTBootstrapPeers...),
			)
			h.dht = d
			return d, err
		}))
	}

	lh, err := libp2p.New(opts...)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create libp2p host: %w", err)
	}
	h.host = lh

	ps, err := pubsub.NewGossipSub(hctx, lh)
	if err != nil {
		h.Close()
		return nil, fmt.Errorf("failed to create pubsub: %w", err)
	}
	h.pubsub = ps

	if h.dht != nil {
		if err := h.dht.Bootstrap(hctx); err != nil {
			h.Close()
			return nil, fmt.Errorf("failed to bootstrap DHT: %w", err)
		}
	}

	lh.SetStreamHandler(cfg.ProtocolID, h.handleStream)
	lh.Network().Notify(&network.NotifyBundle{
		ConnectedF:    h.connected,
		DisconnectedF: h.disconnected,
	})

	return h, nil
}

// ID returns the peer ID of this host.
func (h *Host) ID() peer.ID {
	return h.host.ID()
}

// Addrs returns the addresses this host is listening on.
func (h *Host) Addrs() []multiaddr.Multiaddr {
	return h.host.Addrs()
}

// AddrInfo returns the peer.AddrInfo for this host.
func (h *Host) AddrInfo() peer.AddrInfo {
	return peer.AddrInfo{ID: h.host.ID(), Addrs: h.host.Addrs()}
}

// ProtocolID returns the direct-stream protocol.
func (h *Host) ProtocolID() protocol.ID {
	return h.config.ProtocolID
}

// Connect adds pi's addresses to the peerstore and dials it.
func (h *Host) Connect(ctx context.Context, pi peer.AddrInfo) error {
	h.host.Peerstore().AddAddrs(pi.ID, pi.Addrs, peerstore.PermanentAddrTTL)
	if err := h.host.Connect(ctx, pi); err != nil {
		return fmt.Errorf("failed to connect to peer %s: %w", pi.ID, err)
	}
	return nil
}

// Disconnect closes all connections to a peer.
func (h *Host) Disconnect(peerID peer.ID) error {
	return h.host.Network().ClosePeer(peerID)
}

// IsConnected checks if there is an active connection to a peer.
func (h *Host) IsConnected(peerID peer.ID) bool {
	return h.host.Network().Connectedness(peerID) == network.Connected
}

// PeerAddrs returns the known addresses of a peer.
func (h *Host) PeerAddrs(peerID peer.ID) []multiaddr.Multiaddr {
	return h.host.Peerstore().Addrs(peerID)
}

// AddAddrs records addresses for a peer.
func (h *Host) AddAddrs(peerID peer.ID, addrs []multiaddr.Multiaddr) {
	h.host.Peerstore().AddAddrs(peerID, addrs, peerstore.PermanentAddrTTL)
}

// SendFrame opens a stream on the direct protocol, writes data as one
// frame and closes the stream.
func (h *Host) SendFrame(ctx context.Context, peerID peer.ID, data []byte) error {
	s, err := h.host.NewStream(ctx, peerID, h.config.ProtocolID)
	if err != nil {
		return fmt.Errorf("open stream to %s: %w", peerID, err)
	}
	if err := streams.WriteFrame(ctx, s, data); err != nil {
		_ = s.Reset()
		return err
	}
	return s.Close()
}

// ValueStore returns the DHT, or nil if it is disabled.
func (h *Host) ValueStore() routing.ValueStore {
	if h.dht == nil {
		return nil
	}
	return h.dht
}

// PrivateKey returns the host's libp2p private key.
func (h *Host) PrivateKey() crypto.PrivKey {
	return h.host.Peerstore().PrivKey(h.host.ID())
}

// LibP2PHost returns the underlying libp2p host.
func (h *Host) LibP2PHost() host.Host {
	return h.host
}

// Close shuts down pubsub, the DHT and the host.
func (h *Host) Close() error {
	h.cancel()

	h.topicsMu.Lock()
	for name, t := range h.topics {
		_ = t.Close()
		delete(h.topics, name)
	}
	h.topicsMu.Unlock()

	if h.dht != nil {
		_ = h.dht.Close()
	}
	if h.host == nil {
		return nil
	}
	return h.host.Close()
}
