package router

import (
	"io"

	json "github.com/json-iterator/go"
	ic "github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/blockberries/cinderlink/pkg/crypto"
	"github.com/blockberries/cinderlink/pkg/message"
	"github.com/blockberries/cinderlink/pkg/peers"
	"github.com/blockberries/cinderlink/pkg/streams"
)

// HandleStream reads direct frames from an inbound stream until EOF.
func (r *Router) HandleStream(from peer.ID, rd io.Reader) {
	err := streams.ReadAll(rd, func(data []byte) {
		r.handleDirect(from, data)
	})
	if err != nil {
		r.config.Logger.Debug("inbound stream error", "peer", from, "error", err)
	}
}

// HandleBroadcast decodes a gossipsub message. Messages whose author
// cannot be identified are dropped.
func (r *Router) HandleBroadcast(topic string, from peer.ID, data []byte) {
	msg := r.decode(from, data)
	if msg == nil {
		return
	}
	if msg.Sender == "" || from == "" {
		r.config.Logger.Debug("dropping anonymous broadcast", "topic", topic)
		return
	}
	msg.Topic = topic
	r.observe(msg)
	r.dispatch.DispatchBroadcast(msg)
}

func (r *Router) handleDirect(from peer.ID, data []byte) {
	msg := r.decode(from, data)
	if msg == nil {
		return
	}
	r.observe(msg)

	if msg.Topic == message.TopicKeepAlive {
		return
	}
	if id := msg.RequestID(); id != "" && r.resolve(id, msg) {
		return
	}
	r.dispatch.DispatchDirect(msg)
}

// decode opens an envelope and checks that the claimed sender DID is the
// key behind the transport peer ID.
func (r *Router) decode(from peer.ID, data []byte) *message.Incoming {
	dec, err := r.codec.Decode(r.ctx, data)
	if err != nil {
		r.config.Logger.Debug("dropping undecodable message", "peer", from, "error", err)
		return nil
	}
	if dec.Sender != "" && from != "" && !didMatchesPeer(dec.Sender, from) {
		r.config.Logger.Warn("dropping message with mismatched sender", "peer", from, "sender", dec.Sender)
		return nil
	}

	var w message.Wire
	if err := json.Unmarshal(dec.Payload, &w); err != nil {
		r.config.Logger.Debug("dropping malformed message", "peer", from, "error", err)
		return nil
	}
	r.config.Metrics.MessageReceived(w.Topic, len(data))

	return &message.Incoming{
		Topic:      w.Topic,
		Payload:    w.Payload,
		PeerID:     from,
		Sender:     dec.Sender,
		Signed:     dec.Signed,
		Encrypted:  dec.Encrypted,
		ReceivedAt: r.config.Clock.Now(),
	}
}

// observe registers unknown senders, refreshes last-seen and binds the DID
// on the first signed message.
func (r *Router) observe(msg *message.Incoming) {
	if msg.PeerID == "" {
		return
	}
	r.registry.AddPeer(msg.PeerID, peers.RolePeer)
	r.registry.Touch(msg.PeerID)

	if !msg.Signed || msg.Sender == "" {
		return
	}
	set, err := r.registry.SetDID(msg.PeerID, msg.Sender)
	if err != nil || !set {
		return
	}
	p, err := r.registry.GetPeer(msg.PeerID)
	if err != nil {
		return
	}
	r.config.Logger.Debug("peer authenticated", "peer", msg.PeerID, "did", msg.Sender)
	r.dispatch.EmitLifecycle(message.EventPeerAuthenticated, p)
}

func didMatchesPeer(did string, id peer.ID) bool {
	pub, err := crypto.PublicKeyFromDID(did)
	if err != nil {
		return false
	}
	key, err := ic.UnmarshalEd25519PublicKey(pub)
	if err != nil {
		return false
	}
	return id.MatchesPublicKey(key)
}
