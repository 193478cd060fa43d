package router

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/blockberries/cinderlink/internal/flow"
	"github.com/blockberries/cinderlink/pkg/codec"
	"github.com/blockberries/cinderlink/pkg/message"
	"github.com/blockberries/cinderlink/pkg/peers"
)

type sendOptions struct {
	retries    int
	retryDelay time.Duration
}

// SendOption configures a single Send.
type SendOption func(*sendOptions)

// WithRetries retries a failed delivery up to n more times.
func WithRetries(n int) SendOption {
	return func(o *sendOptions) {
		if n > 0 {
			o.retries = n
		}
	}
}

// WithRetryDelay sets the delay before the first retry.
func WithRetryDelay(d time.Duration) SendOption {
	return func(o *sendOptions) {
		if d > 0 {
			o.retryDelay = d
		}
	}
}

// Send delivers msg to peerID as a direct frame.
//
// enc must sign or encrypt. Sending to the local peer is a no-op. An
// unknown peer is dialed first. Encrypting without recipients targets
// the peer's DID, which must be known. A disconnected peer with a known
// DID is handed to the offline-sync extension when one is registered.
// Delivery is retried with exponential backoff per the options; the
// final error is returned.
func (r *Router) Send(ctx context.Context, peerID peer.ID, msg message.Outgoing, enc codec.Encoding, opts ...SendOption) (err error) {
	if !enc.Valid() {
		return codec.ErrInvalidEncoding
	}
	if err := message.ValidateTopic(msg.Topic); err != nil {
		return err
	}
	if r.closed.Load() {
		return ErrRouterClosed
	}
	if peerID == r.transport.ID() {
		return nil
	}

	o := sendOptions{retryDelay: r.config.RetryDelay}
	for _, opt := range opts {
		opt(&o)
	}

	ctx, end := r.config.Tracer.Start(ctx, "send", "peer.id", peerID.String(), "topic", msg.Topic)
	defer func() { end(err) }()

	if !r.registry.HasPeer(peerID) {
		if cerr := r.connector.Connect(ctx, peerID, peers.RolePeer); cerr != nil {
			r.config.Logger.Debug("connect before send failed", "peer", peerID, "error", cerr)
		}
	}
	p, _ := r.registry.GetPeer(peerID)

	if enc.Encrypt && len(enc.Recipients) == 0 {
		if p == nil || p.DID == "" {
			return fmt.Errorf("%w: %s", ErrPeerNotAuthenticated, peerID)
		}
		enc.Recipients = []string{p.DID}
	}

	if p != nil && !p.Connected && p.DID != "" {
		if offline := r.offlineSync(); offline != nil {
			r.config.Logger.Debug("peer offline, storing message", "peer", peerID, "topic", msg.Topic)
			return offline.SendOffline(ctx, p.DID, msg, enc)
		}
	}

	data, err := r.encode(ctx, msg, enc)
	if err != nil {
		return err
	}

	backoff := r.newBackoff(o.retryDelay)
	for attempt := 0; ; attempt++ {
		derr := r.deliver(ctx, peerID, data)
		if derr == nil {
			r.config.Metrics.MessageSent(msg.Topic, len(data))
			return nil
		}
		if attempt >= o.retries || ctx.Err() != nil {
			r.config.Logger.Warn("send failed", "peer", peerID, "topic", msg.Topic, "attempts", attempt+1, "error", derr)
			return fmt.Errorf("send %s to %s: %w", msg.Topic, peerID, derr)
		}

		delay := backoff.NextDelay(attempt)
		r.config.Metrics.SendRetry()
		r.config.Logger.Debug("retrying send", "peer", peerID, "topic", msg.Topic, "delay", delay, "error", derr)

		timer := r.config.Clock.Timer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-r.ctx.Done():
			timer.Stop()
			return ErrRouterClosed
		}
	}
}

// SendAsync runs Send in the background. The channel receives the final
// result once and is then closed.
func (r *Router) SendAsync(ctx context.Context, peerID peer.ID, msg message.Outgoing, enc codec.Encoding, opts ...SendOption) <-chan error {
	done := make(chan error, 1)
	go func() {
		defer close(done)
		done <- r.Send(ctx, peerID, msg, enc, opts...)
	}()
	return done
}

// Probe sends a signed keep-alive to peerID.
func (r *Router) Probe(ctx context.Context, peerID peer.ID) error {
	return r.Send(ctx, peerID, message.Outgoing{
		Topic:   message.TopicKeepAlive,
		Payload: map[string]int64{"timestamp": r.config.Clock.Now().UnixMilli()},
	}, codec.Signed)
}

// deliver holds a window slot for one attempt; backoff waits do not.
func (r *Router) deliver(ctx context.Context, peerID peer.ID, data []byte) error {
	if err := r.window.Acquire(ctx); err != nil {
		if errors.Is(err, flow.ErrClosed) {
			return ErrRouterClosed
		}
		return err
	}
	defer r.window.Release()

	if !r.transport.IsConnected(peerID) {
		if err := r.connector.Connect(ctx, peerID, peers.RolePeer); err != nil {
			return err
		}
	}
	return r.transport.SendFrame(ctx, peerID, data)
}

func (r *Router) offlineSync() OfflineSync {
	if r.config.OfflineSync == nil {
		return nil
	}
	return r.config.OfflineSync()
}
