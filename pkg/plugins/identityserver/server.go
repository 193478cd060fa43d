// Package identityserver is the server-side plugin for the identity
// topics. It keeps the latest root CID, and the sealed root block when the
// client sends it, for every DID that pushes one, and answers resolve
// requests from the owning DID.
package identityserver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ipfs/go-cid"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/blockberries/cinderlink/internal/observability"
	"github.com/blockberries/cinderlink/pkg/codec"
	"github.com/blockberries/cinderlink/pkg/crypto"
	"github.com/blockberries/cinderlink/pkg/identity"
	"github.com/blockberries/cinderlink/pkg/kv"
	"github.com/blockberries/cinderlink/pkg/message"
	"github.com/blockberries/cinderlink/pkg/plugin"
	"github.com/blockberries/cinderlink/pkg/router"
)

// ID is the plugin id.
const ID = "identityServer"

// replyTimeout bounds a single response send.
const replyTimeout = 5 * time.Second

// Errors reported in identity/set/response.
var (
	ErrUnsigned        = errors.New("identity push must be signed")
	ErrDIDMismatch     = errors.New("identity push did does not match sender")
	ErrBlockMismatch   = errors.New("block does not match cid")
	ErrAddressMismatch = errors.New("wallet address differs from bound address")
)

// Sender delivers responses.
type Sender interface {
	Send(ctx context.Context, peerID peer.ID, msg message.Outgoing, enc codec.Encoding, opts ...router.SendOption) error
}

// record is the stored state for one DID.
type record struct {
	CID       string `json:"cid"`
	Address   string `json:"address,omitempty"`
	Block     []byte `json:"block,omitempty"`
	UpdatedAt int64  `json:"updatedAt"`
}

// Plugin implements plugin.Plugin.
type Plugin struct {
	records *kv.Store
	sender  Sender
	logger  observability.Logger

	// serializes read-modify-write of records
	mu sync.Mutex

	wg     sync.WaitGroup
	lmu    sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

var _ plugin.Plugin = (*Plugin)(nil)

// New creates the plugin. Records live under the i/ keyspace of db.
func New(db *kv.DB, sender Sender, logger observability.Logger) *Plugin {
	if logger == nil {
		logger = observability.NopLogger{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Plugin{
		records: db.Store("i/"),
		sender:  sender,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// ID implements plugin.Plugin.
func (p *Plugin) ID() string { return ID }

// Handlers implements plugin.Plugin.
func (p *Plugin) Handlers() plugin.Handlers {
	return plugin.Handlers{
		Direct: map[string]plugin.MessageHandler{
			message.TopicIdentityResolveRequest: p.handleResolve,
			message.TopicIdentitySetRequest:     p.handleSet,
		},
	}
}

// Start implements plugin.Plugin.
func (p *Plugin) Start(context.Context) error {
	p.lmu.Lock()
	defer p.lmu.Unlock()
	if p.ctx.Err() != nil {
		p.ctx, p.cancel = context.WithCancel(context.Background())
	}
	return nil
}

// Stop waits for in-flight responses.
func (p *Plugin) Stop(ctx context.Context) error {
	p.lmu.Lock()
	p.cancel()
	p.lmu.Unlock()
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Lookup returns the stored root CID for did.
func (p *Plugin) Lookup(did string) (cid.Cid, error) {
	rec, err := p.load(did)
	if err != nil {
		return cid.Undef, err
	}
	return cid.Decode(rec.CID)
}

func (p *Plugin) handleSet(msg *message.Incoming) {
	var req identity.SetRequest
	if err := msg.Decode(&req); err != nil {
		p.logger.Debug("malformed identity push", "peer", msg.PeerID, "error", err)
		return
	}
	err := p.store(msg, &req)
	if err != nil {
		p.logger.Warn("rejected identity push", "peer", msg.PeerID, "did", msg.Sender, "error", err)
	}
	if req.RequestID == "" {
		return
	}
	resp := identity.SetResponse{RequestID: req.RequestID, Success: err == nil}
	if err != nil {
		resp.Error = err.Error()
	}
	p.reply(msg.PeerID, message.TopicIdentitySetResponse, resp)
}

func (p *Plugin) store(msg *message.Incoming, req *identity.SetRequest) error {
	if !msg.Signed || msg.Sender == "" {
		return ErrUnsigned
	}
	if req.DID != "" && req.DID != msg.Sender {
		return ErrDIDMismatch
	}
	c, err := cid.Decode(req.CID)
	if err != nil {
		return fmt.Errorf("invalid cid: %w", err)
	}
	if len(req.Block) > 0 {
		sum, err := c.Prefix().Sum(req.Block)
		if err != nil || !sum.Equals(c) {
			return ErrBlockMismatch
		}
	}
	if len(req.Signature) > 0 {
		if err := crypto.VerifyWalletSignature(req.Address, identity.WalletMessage(req.CID), req.Signature); err != nil {
			return err
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	rec, err := p.load(msg.Sender)
	if err != nil && !kv.IsNotFound(err) {
		return err
	}
	if rec == nil {
		rec = &record{}
	}
	if len(req.Signature) > 0 {
		if rec.Address != "" && rec.Address != req.Address {
			return ErrAddressMismatch
		}
		rec.Address = req.Address
	}
	rec.CID = c.String()
	rec.Block = req.Block
	rec.UpdatedAt = msg.ReceivedAt.UnixMilli()
	return p.records.PutJSON(msg.Sender, rec)
}

// handleResolve answers with the sender's root. Only the owning DID can
// resolve its root.
func (p *Plugin) handleResolve(msg *message.Incoming) {
	if !msg.Signed || msg.Sender == "" {
		return
	}
	var req identity.ResolveRequest
	if err := msg.Decode(&req); err != nil {
		p.logger.Debug("malformed identity resolve", "peer", msg.PeerID, "error", err)
		return
	}
	resp := identity.ResolveResponse{RequestID: msg.RequestID()}
	if req.DID == "" || req.DID == msg.Sender {
		rec, err := p.load(msg.Sender)
		switch {
		case err == nil:
			resp.CID = rec.CID
			resp.Block = rec.Block
		case !kv.IsNotFound(err):
			p.logger.Warn("failed to read identity record", "did", msg.Sender, "error", err)
		}
	}
	p.reply(msg.PeerID, message.TopicIdentityResolveResponse, resp)
}

func (p *Plugin) load(did string) (*record, error) {
	var rec record
	if err := p.records.GetJSON(did, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (p *Plugin) reply(to peer.ID, topic string, payload any) {
	p.lmu.Lock()
	parent := p.ctx
	p.wg.Add(1)
	p.lmu.Unlock()
	go func() {
		defer p.wg.Done()
		ctx, cancel := context.WithTimeout(parent, replyTimeout)
		defer cancel()
		err := p.sender.Send(ctx, to, message.Outgoing{Topic: topic, Payload: payload}, codec.Signed)
		if err != nil {
			p.logger.Warn("failed to send identity response", "peer", to, "topic", topic, "error", err)
		}
	}()
}
