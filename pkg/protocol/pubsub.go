package protocol

import (
	"context"
	"fmt"

	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/peer"
)

// BroadcastHandler receives messages published on a topic by other peers.
type BroadcastHandler func(topic string, from peer.ID, data []byte)

func (h *Host) topic(name string) (*pubsub.Topic, error) {
	h.topicsMu.Lock()
	defer h.topicsMu.Unlock()

	if t, ok := h.topics[name]; ok {
		return t, nil
	}
	t, err := h.pubsub.Join(name)
	if err != nil {
		return nil, fmt.Errorf("join topic %q: %w", name, err)
	}
	h.topics[name] = t
	return t, nil
}

// Publish broadcasts data on topic.
func (h *Host) Publish(ctx context.Context, topic string, data []byte) error {
	t, err := h.topic(topic)
	if err != nil {
		return err
	}
	return t.Publish(ctx, data)
}

// Subscribe delivers messages on topic to handler until the returned
// cancel func is called. Messages published by this host are skipped.
func (h *Host) Subscribe(topic string, handler BroadcastHandler) (func(), error) {
	t, err := h.topic(topic)
	if err != nil {
		return nil, err
	}
	sub, err := t.Subscribe()
	if err != nil {
		return nil, fmt.Errorf("subscribe to %q: %w", topic, err)
	}

	ctx, cancel := context.WithCancel(h.ctx)
	go func() {
		for {
			msg, err := sub.Next(ctx)
			if err != nil {
				return
			}
			if msg.ReceivedFrom == h.host.ID() {
				continue
			}
			handler(topic, peer.ID(msg.From), msg.Data)
		}
	}()

	return func() {
		cancel()
		sub.Cancel()
	}, nil
}

// TopicPeers lists peers known to be subscribed to topic.
func (h *Host) TopicPeers(topic string) []peer.ID {
	return h.pubsub.ListPeers(topic)
}
