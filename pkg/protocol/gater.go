package protocol

import (
	"sync"

	"github.com/libp2p/go-libp2p/core/connmgr"
	"github.com/libp2p/go-libp2p/core/control"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
)

// BlockChecker reports whether a peer is blocked.
type BlockChecker interface {
	IsBlocked(peerID peer.ID) bool
}

// DialStateChecker reports whether an outbound dial to a peer is in flight.
type DialStateChecker interface {
	IsConnecting(peerID peer.ID) bool
}

// Blocklist is a concurrent set of blocked peers.
type Blocklist struct {
	mu    sync.RWMutex
	peers map[peer.ID]struct{}
}

// NewBlocklist returns a blocklist containing ids.
func NewBlocklist(ids ...peer.ID) *Blocklist {
	b := &Blocklist{peers: make(map[peer.ID]struct{}, len(ids))}
	for _, id := range ids {
		b.peers[id] = struct{}{}
	}
	return b
}

// Block adds id.
func (b *Blocklist) Block(id peer.ID) {
	b.mu.Lock()
	b.peers[id] = struct{}{}
	b.mu.Unlock()
}

// Unblock removes id.
func (b *Blocklist) Unblock(id peer.ID) {
	b.mu.Lock()
	delete(b.peers, id)
	b.mu.Unlock()
}

// IsBlocked implements BlockChecker.
func (b *Blocklist) IsBlocked(id peer.ID) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.peers[id]
	return ok
}

// ConnectionGater rejects blocked peers at every stage and drops inbound
// connections from peers we are already dialing.
type ConnectionGater struct {
	blocked BlockChecker
	dialing DialStateChecker
	mu      sync.RWMutex
}

var _ connmgr.ConnectionGater = (*ConnectionGater)(nil)

// NewConnectionGater creates a gater backed by blocked.
func NewConnectionGater(blocked BlockChecker) *ConnectionGater {
	return &ConnectionGater{blocked: blocked}
}

// SetDialStateChecker installs the dial-state source. It is set after
// construction because the connection manager is built after the host.
func (g *ConnectionGater) SetDialStateChecker(c DialStateChecker) {
	g.mu.Lock()
	g.dialing = c
	g.mu.Unlock()
}

// InterceptPeerDial implements connmgr.ConnectionGater.
func (g *ConnectionGater) InterceptPeerDial(p peer.ID) bool {
	return !g.blocked.IsBlocked(p)
}

// InterceptAddrDial implements connmgr.ConnectionGater.
func (g *ConnectionGater) InterceptAddrDial(p peer.ID, _ multiaddr.Multiaddr) bool {
	return !g.blocked.IsBlocked(p)
}

// InterceptAccept implements connmgr.ConnectionGater. The peer is not
// known yet, so everything is accepted here.
func (g *ConnectionGater) InterceptAccept(network.ConnMultiaddrs) bool {
	return true
}

// InterceptSecured implements connmgr.ConnectionGater.
func (g *ConnectionGater) InterceptSecured(dir network.Direction, p peer.ID, _ network.ConnMultiaddrs) bool {
	if g.blocked.IsBlocked(p) {
		return false
	}
	if dir != network.DirInbound {
		return true
	}

	g.mu.RLock()
	dialing := g.dialing
	g.mu.RUnlock()
	// Our outbound dial wins.
	return dialing == nil || !dialing.IsConnecting(p)
}

// InterceptUpgraded implements connmgr.ConnectionGater.
func (g *ConnectionGater) InterceptUpgraded(conn network.Conn) (bool, control.DisconnectReason) {
	if g.blocked.IsBlocked(conn.RemotePeer()) {
		return false, 0
	}
	return true, 0
}
