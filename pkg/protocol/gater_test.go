package protocol

import (
	"testing"

	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
)

const testPeerIDStr = "QmYyQSo1c1Ym7orWxLYvCrM2EmxFTANf8wXmmE7DWjhx5N"

type connAddrs struct {
	local, remote multiaddr.Multiaddr
}

func (m *connAddrs) LocalMultiaddr() multiaddr.Multiaddr  { return m.local }
func (m *connAddrs) RemoteMultiaddr() multiaddr.Multiaddr { return m.remote }

type upgradedConn struct {
	network.Conn
	remote peer.ID
}

func (c *upgradedConn) RemotePeer() peer.ID { return c.remote }

type dialing map[peer.ID]bool

func (d dialing) IsConnecting(id peer.ID) bool { return d[id] }

func mustParsePeerID(t *testing.T, s string) peer.ID {
	t.Helper()
	id, err := peer.Decode(s)
	if err != nil {
		t.Fatalf("failed to parse peer ID: %v", err)
	}
	return id
}

func mustParseMultiaddr(t *testing.T, s string) multiaddr.Multiaddr {
	t.Helper()
	ma, err := multiaddr.NewMultiaddr(s)
	if err != nil {
		t.Fatalf("failed to parse multiaddr: %v", err)
	}
	return ma
}

func testAddrs(t *testing.T) *connAddrs {
	return &connAddrs{
		local:  mustParseMultiaddr(t, "/ip4/127.0.0.1/tcp/9000"),
		remote: mustParseMultiaddr(t, "/ip4/192.168.1.1/tcp/9001"),
	}
}

func TestBlocklist(t *testing.T) {
	id := mustParsePeerID(t, testPeerIDStr)
	b := NewBlocklist()

	if b.IsBlocked(id) {
		t.Error("empty blocklist blocks peer")
	}
	b.Block(id)
	if !b.IsBlocked(id) {
		t.Error("blocked peer not reported")
	}
	b.Unblock(id)
	if b.IsBlocked(id) {
		t.Error("unblocked peer still reported")
	}

	if !NewBlocklist(id).IsBlocked(id) {
		t.Error("initial ids not blocked")
	}
}

func TestConnectionGater_Dial(t *testing.T) {
	id := mustParsePeerID(t, testPeerIDStr)
	b := NewBlocklist()
	g := NewConnectionGater(b)
	addr := mustParseMultiaddr(t, "/ip4/127.0.0.1/tcp/9000")

	if !g.InterceptPeerDial(id) || !g.InterceptAddrDial(id, addr) {
		t.Error("unblocked peer dial rejected")
	}

	b.Block(id)
	if g.InterceptPeerDial(id) || g.InterceptAddrDial(id, addr) {
		t.Error("blocked peer dial allowed")
	}
}

func TestConnectionGater_InterceptAccept(t *testing.T) {
	g := NewConnectionGater(NewBlocklist())
	if !g.InterceptAccept(testAddrs(t)) {
		t.Error("InterceptAccept should always allow")
	}
}

func TestConnectionGater_InterceptSecured(t *testing.T) {
	id := mustParsePeerID(t, testPeerIDStr)
	b := NewBlocklist()
	g := NewConnectionGater(b)
	addrs := testAddrs(t)

	for _, dir := range []network.Direction{network.DirInbound, network.DirOutbound} {
		if !g.InterceptSecured(dir, id, addrs) {
			t.Errorf("unblocked peer rejected (%v)", dir)
		}
	}

	b.Block(id)
	for _, dir := range []network.Direction{network.DirInbound, network.DirOutbound} {
		if g.InterceptSecured(dir, id, addrs) {
			t.Errorf("blocked peer allowed (%v)", dir)
		}
	}
}

func TestConnectionGater_InboundWhileDialing(t *testing.T) {
	id := mustParsePeerID(t, testPeerIDStr)
	g := NewConnectionGater(NewBlocklist())
	addrs := testAddrs(t)

	state := dialing{}
	g.SetDialStateChecker(state)

	if !g.InterceptSecured(network.DirInbound, id, addrs) {
		t.Error("inbound rejected while not dialing")
	}

	state[id] = true
	if g.InterceptSecured(network.DirInbound, id, addrs) {
		t.Error("inbound allowed while dialing")
	}
	if !g.InterceptSecured(network.DirOutbound, id, addrs) {
		t.Error("outbound rejected while dialing")
	}
}

func TestConnectionGater_InterceptUpgraded(t *testing.T) {
	id := mustParsePeerID(t, testPeerIDStr)
	b := NewBlocklist()
	g := NewConnectionGater(b)
	conn := &upgradedConn{remote: id}

	if ok, _ := g.InterceptUpgraded(conn); !ok {
		t.Error("unblocked peer rejected")
	}
	b.Block(id)
	if ok, _ := g.InterceptUpgraded(conn); ok {
		t.Error("blocked peer allowed")
	}
}
