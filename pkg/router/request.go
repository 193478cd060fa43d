package router

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	json "github.com/json-iterator/go"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/blockberries/cinderlink/pkg/codec"
	"github.com/blockberries/cinderlink/pkg/message"
)

type requestOptions struct {
	timeout time.Duration
	send    []SendOption
}

// RequestOption configures a single Request.
type RequestOption func(*requestOptions)

// WithTimeout overrides the response timeout.
func WithTimeout(d time.Duration) RequestOption {
	return func(o *requestOptions) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithSendOptions applies send options to the request's delivery.
func WithSendOptions(opts ...SendOption) RequestOption {
	return func(o *requestOptions) {
		o.send = append(o.send, opts...)
	}
}

// Request sends msg to peerID with a fresh request id embedded in its
// payload and waits for the response carrying the same id.
//
// A timeout yields (nil, nil). Each request resolves at most once; a
// response that arrives after the timeout is dropped.
func (r *Router) Request(ctx context.Context, peerID peer.ID, msg message.Outgoing, enc codec.Encoding, opts ...RequestOption) (resp *message.Incoming, err error) {
	o := requestOptions{timeout: r.config.RequestTimeout}
	for _, opt := range opts {
		opt(&o)
	}

	id := uuid.NewString()
	payload, err := withRequestID(msg.Payload, id)
	if err != nil {
		return nil, err
	}

	ctx, end := r.config.Tracer.Start(ctx, "request", "peer.id", peerID.String(), "topic", msg.Topic, "request.id", id)
	defer func() { end(err) }()

	timer := r.config.Clock.Timer(o.timeout)
	defer timer.Stop()

	ch := r.addPending(id)
	defer r.removePending(id)

	if err := r.Send(ctx, peerID, message.Outgoing{Topic: msg.Topic, Payload: payload}, enc, o.send...); err != nil {
		r.config.Metrics.RequestResult("error")
		return nil, err
	}

	select {
	case resp := <-ch:
		r.config.Metrics.RequestResult("ok")
		return resp, nil
	case <-timer.C:
		r.config.Metrics.RequestResult("timeout")
		r.config.Logger.Debug("request timed out", "peer", peerID, "topic", msg.Topic, "request_id", id)
		return nil, nil
	case <-ctx.Done():
		r.config.Metrics.RequestResult("error")
		return nil, ctx.Err()
	case <-r.ctx.Done():
		return nil, ErrRouterClosed
	}
}

// PendingRequests returns the number of requests awaiting a response.
func (r *Router) PendingRequests() int {
	r.pendingMu.Lock()
	defer r.pendingMu.Unlock()
	return len(r.pending)
}

func (r *Router) addPending(id string) chan *message.Incoming {
	ch := make(chan *message.Incoming, 1)
	r.pendingMu.Lock()
	r.pending[id] = ch
	r.pendingMu.Unlock()
	return ch
}

func (r *Router) removePending(id string) {
	r.pendingMu.Lock()
	delete(r.pending, id)
	r.pendingMu.Unlock()
}

// resolve hands msg to the waiter for id. It reports false if no request
// with that id is pending.
func (r *Router) resolve(id string, msg *message.Incoming) bool {
	r.pendingMu.Lock()
	ch, ok := r.pending[id]
	delete(r.pending, id)
	r.pendingMu.Unlock()

	if ok {
		ch <- msg
	}
	return ok
}

// withRequestID returns the JSON payload with the requestId field set.
// A nil payload becomes an object holding only the id.
func withRequestID(payload any, id string) (json.RawMessage, error) {
	raw, err := marshalPayload(payload)
	if err != nil {
		return nil, err
	}
	fields := make(map[string]json.RawMessage)
	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, &fields); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRequestPayload, err)
		}
	}
	idJSON, err := json.Marshal(id)
	if err != nil {
		return nil, err
	}
	fields[message.RequestIDField] = idJSON
	return json.Marshal(fields)
}
