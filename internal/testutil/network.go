// Package testutil provides an in-memory transport network and recording
// doubles for testing Cinderlink components without sockets.
package testutil

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	ic "github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
	"github.com/stretchr/testify/require"

	"github.com/blockberries/cinderlink/pkg/codec"
	"github.com/blockberries/cinderlink/pkg/crypto"
	"github.com/blockberries/cinderlink/pkg/protocol"
	"github.com/blockberries/cinderlink/pkg/streams"
)

// Sentinel errors for network operations.
var (
	ErrUnreachable  = errors.New("peer unreachable")
	ErrNotConnected = errors.New("not connected to peer")
)

// Frame records a direct frame written by a node.
type Frame struct {
	To   peer.ID
	Data []byte
}

// Broadcast records a message published by a node.
type Broadcast struct {
	Topic string
	Data  []byte
}

// Network connects in-memory nodes. Direct frames and broadcasts are
// delivered on their own goroutine, as libp2p does.
type Network struct {
	mu    sync.RWMutex
	nodes map[peer.ID]*Node
	port  int
}

// NewNetwork creates an empty network.
func NewNetwork() *Network {
	return &Network{nodes: make(map[peer.ID]*Node)}
}

// NewNode adds a node with a fresh Ed25519 identity.
func (n *Network) NewNode(t testing.TB) *Node {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return n.NewNodeWithKey(t, priv)
}

// NewNodeWithKey adds a node for priv. A closed node's key can be reused to
// model a restart.
func (n *Network) NewNodeWithKey(t testing.TB, priv ed25519.PrivateKey) *Node {
	t.Helper()
	id, err := PeerIDFromKey(priv)
	require.NoError(t, err)
	identity, err := crypto.NewIdentity(priv)
	require.NoError(t, err)
	t.Cleanup(identity.Close)

	n.mu.Lock()
	defer n.mu.Unlock()
	n.port++
	addr, err := multiaddr.NewMultiaddr(fmt.Sprintf("/ip4/127.0.0.1/tcp/%d", 40000+n.port))
	require.NoError(t, err)

	node := &Node{
		net:       n,
		id:        id,
		priv:      priv,
		identity:  identity,
		gateway:   codec.NewGateway(codec.NewEnvelopeCodec(identity)),
		addr:      addr,
		addrs:     make(map[peer.ID][]multiaddr.Multiaddr),
		connected: make(map[peer.ID]bool),
		subs:      make(map[string]map[int]protocol.BroadcastHandler),
	}
	n.nodes[id] = node
	return node
}

func (n *Network) node(id peer.ID) *Node {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.nodes[id]
}

func (n *Network) all() []*Node {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]*Node, 0, len(n.nodes))
	for _, node := range n.nodes {
		out = append(out, node)
	}
	return out
}

// PeerIDFromKey derives the libp2p peer ID of an Ed25519 key.
func PeerIDFromKey(priv ed25519.PrivateKey) (peer.ID, error) {
	key, err := ic.UnmarshalEd25519PrivateKey(priv)
	if err != nil {
		return "", err
	}
	return peer.IDFromPrivateKey(key)
}

// Node is one endpoint of a Network. It satisfies the transport surfaces
// of the connection manager and the router.
type Node struct {
	net      *Network
	id       peer.ID
	priv     ed25519.PrivateKey
	identity *crypto.Identity
	gateway  *codec.Gateway
	addr     multiaddr.Multiaddr

	mu           sync.Mutex
	addrs        map[peer.ID][]multiaddr.Multiaddr
	connected    map[peer.ID]bool
	subs         map[string]map[int]protocol.BroadcastHandler
	nextSub      int
	onFrames     protocol.FrameHandler
	onConnect    func(peer.ID)
	onDisconnect func(peer.ID)
	frames       []Frame
	broadcasts   []Broadcast
	sendErr      error
	unreachable  bool
	dials        atomic.Int32
}

// ID returns the node's peer ID.
func (n *Node) ID() peer.ID { return n.id }

// PrivateKey returns the node's Ed25519 key.
func (n *Node) PrivateKey() ed25519.PrivateKey { return n.priv }

// Identity returns the DID identity backed by the node's key.
func (n *Node) Identity() *crypto.Identity { return n.identity }

// DID returns the node's DID.
func (n *Node) DID() string { return n.identity.DID() }

// Gateway returns a codec gateway for the node's identity.
func (n *Node) Gateway() *codec.Gateway { return n.gateway }

// P2PAddr returns the node's full address including /p2p.
func (n *Node) P2PAddr() multiaddr.Multiaddr {
	ma, _ := multiaddr.NewMultiaddr(n.addr.String() + "/p2p/" + n.id.String())
	return ma
}

// Connect opens a connection to pi.ID. Both sides see a connect
// notification.
func (n *Node) Connect(ctx context.Context, pi peer.AddrInfo) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	n.dials.Add(1)
	if len(pi.Addrs) > 0 {
		n.AddAddrs(pi.ID, pi.Addrs)
	}
	remote := n.net.node(pi.ID)
	if remote == nil || remote.isUnreachable() {
		return fmt.Errorf("%w: %s", ErrUnreachable, pi.ID)
	}
	if n.setConnected(pi.ID, true) {
		n.notify(pi.ID, true)
	}
	if remote.setConnected(n.id, true) {
		remote.notify(n.id, true)
	}
	return nil
}

// Disconnect closes the connection to peerID on both sides.
func (n *Node) Disconnect(peerID peer.ID) error {
	if n.setConnected(peerID, false) {
		n.notify(peerID, false)
	}
	if remote := n.net.node(peerID); remote != nil && remote.setConnected(n.id, false) {
		remote.notify(n.id, false)
	}
	return nil
}

// IsConnected reports whether a connection to peerID is open.
func (n *Node) IsConnected(peerID peer.ID) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.connected[peerID]
}

// PeerAddrs returns addresses recorded for peerID, falling back to the
// address the network knows for it.
func (n *Node) PeerAddrs(peerID peer.ID) []multiaddr.Multiaddr {
	n.mu.Lock()
	addrs := n.addrs[peerID]
	n.mu.Unlock()
	if len(addrs) > 0 {
		return addrs
	}
	if remote := n.net.node(peerID); remote != nil {
		return []multiaddr.Multiaddr{remote.addr}
	}
	return nil
}

// AddAddrs records addresses for peerID.
func (n *Node) AddAddrs(peerID peer.ID, addrs []multiaddr.Multiaddr) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.addrs[peerID] = append(n.addrs[peerID], addrs...)
}

// SendFrame writes data as one frame on a new stream to peerID.
func (n *Node) SendFrame(ctx context.Context, peerID peer.ID, data []byte) error {
	n.mu.Lock()
	sendErr := n.sendErr
	connected := n.connected[peerID]
	n.mu.Unlock()

	if sendErr != nil {
		return sendErr
	}
	if !connected {
		return fmt.Errorf("%w: %s", ErrNotConnected, peerID)
	}
	remote := n.net.node(peerID)
	if remote == nil {
		return fmt.Errorf("%w: %s", ErrUnreachable, peerID)
	}

	var buf bytes.Buffer
	if err := streams.WriteFrame(ctx, &buf, data); err != nil {
		return err
	}
	n.mu.Lock()
	n.frames = append(n.frames, Frame{To: peerID, Data: append([]byte(nil), data...)})
	n.mu.Unlock()

	remote.mu.Lock()
	handler := remote.onFrames
	remote.mu.Unlock()
	if handler != nil {
		from := n.id
		go handler(from, &buf)
	}
	return nil
}

// Publish delivers data to every other node subscribed to topic.
func (n *Node) Publish(ctx context.Context, topic string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	n.mu.Lock()
	n.broadcasts = append(n.broadcasts, Broadcast{Topic: topic, Data: append([]byte(nil), data...)})
	n.mu.Unlock()

	for _, remote := range n.net.all() {
		if remote.id == n.id {
			continue
		}
		for _, h := range remote.handlers(topic) {
			from := n.id
			go h(topic, from, data)
		}
	}
	return nil
}

// Subscribe registers handler for broadcasts on topic until the returned
// func is called.
func (n *Node) Subscribe(topic string, handler protocol.BroadcastHandler) (func(), error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.subs[topic] == nil {
		n.subs[topic] = make(map[int]protocol.BroadcastHandler)
	}
	id := n.nextSub
	n.nextSub++
	n.subs[topic][id] = handler

	var once sync.Once
	return func() {
		once.Do(func() {
			n.mu.Lock()
			defer n.mu.Unlock()
			delete(n.subs[topic], id)
			if len(n.subs[topic]) == 0 {
				delete(n.subs, topic)
			}
		})
	}, nil
}

// SetFrameHandler installs the inbound direct stream handler.
func (n *Node) SetFrameHandler(fn protocol.FrameHandler) {
	n.mu.Lock()
	n.onFrames = fn
	n.mu.Unlock()
}

// SetConnHandlers installs connect/disconnect callbacks.
func (n *Node) SetConnHandlers(onConnect, onDisconnect func(peer.ID)) {
	n.mu.Lock()
	n.onConnect = onConnect
	n.onDisconnect = onDisconnect
	n.mu.Unlock()
}

// Close disconnects every peer and removes the node from the network.
func (n *Node) Close() error {
	n.mu.Lock()
	ids := make([]peer.ID, 0, len(n.connected))
	for id, ok := range n.connected {
		if ok {
			ids = append(ids, id)
		}
	}
	n.mu.Unlock()
	for _, id := range ids {
		_ = n.Disconnect(id)
	}

	n.net.mu.Lock()
	delete(n.net.nodes, n.id)
	n.net.mu.Unlock()
	return nil
}

// SetSendError makes every SendFrame fail with err until reset with nil.
func (n *Node) SetSendError(err error) {
	n.mu.Lock()
	n.sendErr = err
	n.mu.Unlock()
}

// SetUnreachable makes dials to this node fail.
func (n *Node) SetUnreachable(v bool) {
	n.mu.Lock()
	n.unreachable = v
	n.mu.Unlock()
}

// Frames returns the direct frames this node has written.
func (n *Node) Frames() []Frame {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Frame(nil), n.frames...)
}

// Broadcasts returns the messages this node has published.
func (n *Node) Broadcasts() []Broadcast {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Broadcast(nil), n.broadcasts...)
}

// Dials returns how many times Connect was called.
func (n *Node) Dials() int {
	return int(n.dials.Load())
}

// Subscribed reports whether any handler is registered for topic.
func (n *Node) Subscribed(topic string) bool {
	return len(n.handlers(topic)) > 0
}

func (n *Node) handlers(topic string) []protocol.BroadcastHandler {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]protocol.BroadcastHandler, 0, len(n.subs[topic]))
	for _, h := range n.subs[topic] {
		out = append(out, h)
	}
	return out
}

func (n *Node) isUnreachable() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.unreachable
}

// setConnected updates the flag and reports whether it changed.
func (n *Node) setConnected(peerID peer.ID, v bool) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.connected[peerID] == v {
		return false
	}
	if v {
		n.connected[peerID] = true
	} else {
		delete(n.connected, peerID)
	}
	return true
}

func (n *Node) notify(peerID peer.ID, connected bool) {
	n.mu.Lock()
	fn := n.onDisconnect
	if connected {
		fn = n.onConnect
	}
	n.mu.Unlock()
	if fn != nil {
		go fn(peerID)
	}
}
