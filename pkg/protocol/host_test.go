package protocol

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockberries/cinderlink/pkg/streams"
)

func generateTestKey(t *testing.T) ed25519.PrivateKey {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	return priv
}

func newTestHost(t *testing.T, mutate ...func(*HostConfig)) *Host {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	cfg := DefaultHostConfig()
	cfg.PrivateKey = generateTestKey(t)
	cfg.ListenAddrs = []multiaddr.Multiaddr{mustParseMultiaddr(t, "/ip4/127.0.0.1/tcp/0")}
	cfg.ConnMgrLowWater, cfg.ConnMgrHighWater = 10, 20
	for _, m := range mutate {
		m(&cfg)
	}

	h, err := NewHost(ctx, cfg)
	if err != nil {
		t.Fatalf("NewHost failed: %v", err)
	}
	t.Cleanup(func() { h.Close() })
	return h
}

func TestDirectProtocolID(t *testing.T) {
	assert.Equal(t, "/cinderlink/2.1.0", string(DirectProtocolID("2.1.0")))
	assert.Equal(t, "/cinderlink/"+DefaultVersion, string(DirectProtocolID("")))
}

func TestNewHost(t *testing.T) {
	h := newTestHost(t)

	if h.ID() == "" {
		t.Error("host should have a peer ID")
	}
	if len(h.Addrs()) == 0 {
		t.Error("host should have listen addresses")
	}
	if h.ValueStore() != nil {
		t.Error("DHT should be disabled by default")
	}
	if h.PrivateKey() == nil {
		t.Error("host should expose its private key")
	}
	if h.ProtocolID() != DirectProtocolID(DefaultVersion) {
		t.Errorf("ProtocolID() = %s", h.ProtocolID())
	}
}

func TestNewHost_WithDHT(t *testing.T) {
	h := newTestHost(t, func(c *HostConfig) {
		c.EnableDHT = true
		c.DHTServer = true
	})
	if h.ValueStore() == nil {
		t.Error("ValueStore() should return the DHT")
	}
}

func TestHost_ConnectNotifies(t *testing.T) {
	h1 := newTestHost(t)
	h2 := newTestHost(t)

	var mu sync.Mutex
	var connected, disconnected []peer.ID
	h2.SetConnHandlers(
		func(id peer.ID) { mu.Lock(); connected = append(connected, id); mu.Unlock() },
		func(id peer.ID) { mu.Lock(); disconnected = append(disconnected, id); mu.Unlock() },
	)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, h1.Connect(ctx, h2.AddrInfo()))

	require.Eventually(t, func() bool { return h2.IsConnected(h1.ID()) }, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(connected) > 0 && connected[0] == h1.ID()
	}, 5*time.Second, 10*time.Millisecond)

	assert.NotEmpty(t, h1.PeerAddrs(h2.ID()))

	require.NoError(t, h1.Disconnect(h2.ID()))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(disconnected) == 1 && disconnected[0] == h1.ID()
	}, 5*time.Second, 10*time.Millisecond)
}

func TestHost_SendFrame(t *testing.T) {
	h1 := newTestHost(t)
	h2 := newTestHost(t)

	type frame struct {
		from peer.ID
		data string
	}
	got := make(chan frame, 4)
	h2.SetFrameHandler(func(from peer.ID, r io.Reader) {
		_ = streams.ReadAll(r, func(b []byte) { got <- frame{from, string(b)} })
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, h1.Connect(ctx, h2.AddrInfo()))
	require.NoError(t, h1.SendFrame(ctx, h2.ID(), []byte("envelope")))

	select {
	case f := <-got:
		assert.Equal(t, h1.ID(), f.from)
		assert.Equal(t, "envelope", f.data)
	case <-ctx.Done():
		t.Fatal("frame not delivered")
	}
}

func TestHost_SendFrame_NoHandler(t *testing.T) {
	h1 := newTestHost(t)
	h2 := newTestHost(t, func(c *HostConfig) { c.ProtocolID = DirectProtocolID("9.9.9") })

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, h1.Connect(ctx, h2.AddrInfo()))
	assert.Error(t, h1.SendFrame(ctx, h2.ID(), []byte("x")))
}

func TestHost_PublishSubscribe(t *testing.T) {
	h1 := newTestHost(t)
	h2 := newTestHost(t)

	got := make(chan string, 16)
	cancelSub, err := h2.Subscribe("peer/connect", func(topic string, from peer.ID, data []byte) {
		if from == h1.ID() {
			got <- topic + ":" + string(data)
		}
	})
	require.NoError(t, err)
	defer cancelSub()

	selfGot := make(chan struct{}, 1)
	cancelSelf, err := h1.Subscribe("peer/connect", func(string, peer.ID, []byte) { selfGot <- struct{}{} })
	require.NoError(t, err)
	defer cancelSelf()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	require.NoError(t, h1.Connect(ctx, h2.AddrInfo()))

	require.Eventually(t, func() bool {
		return len(h1.TopicPeers("peer/connect")) > 0
	}, 10*time.Second, 50*time.Millisecond)

	require.NoError(t, h1.Publish(ctx, "peer/connect", []byte("hello")))
	select {
	case m := <-got:
		assert.Equal(t, "peer/connect:hello", m)
	case <-ctx.Done():
		t.Fatal("broadcast not delivered")
	}

	select {
	case <-selfGot:
		t.Error("publisher received its own message")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestHost_Blocklist(t *testing.T) {
	h2 := newTestHost(t)
	blocked := NewBlocklist(h2.ID())
	h1 := newTestHost(t, func(c *HostConfig) { c.Gater = NewConnectionGater(blocked) })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.Error(t, h1.Connect(ctx, h2.AddrInfo()))

	blocked.Unblock(h2.ID())
	assert.NoError(t, h1.Connect(ctx, h2.AddrInfo()))
}
