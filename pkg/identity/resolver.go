package identity

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/ipfs/go-cid"
	json "github.com/json-iterator/go"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/blockberries/cinderlink/internal/observability"
	"github.com/blockberries/cinderlink/pkg/codec"
	"github.com/blockberries/cinderlink/pkg/crypto"
	"github.com/blockberries/cinderlink/pkg/message"
	"github.com/blockberries/cinderlink/pkg/naming"
	"github.com/blockberries/cinderlink/pkg/peers"
	"github.com/blockberries/cinderlink/pkg/router"
)

// RootCIDKey is the local cache slot holding the current root CID.
const RootCIDKey = "rootCID"

// ErrNothingToSave is returned by Save without a CID or a document.
var ErrNothingToSave = errors.New("save needs a cid or a document")

// ContentStore holds sealed identity documents.
type ContentStore interface {
	StoreEncrypted(ctx context.Context, v any) (cid.Cid, error)
	LoadDecrypted(ctx context.Context, c cid.Cid, v any) error
	GetBlock(ctx context.Context, c cid.Cid) ([]byte, error)
	PutBlock(ctx context.Context, data []byte, codec uint64) (cid.Cid, error)
	Pin(ctx context.Context, c cid.Cid) error
	Unpin(ctx context.Context, c cid.Cid) error
}

// Cache is the persistent local slot store.
type Cache interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
}

// Messenger sends identity requests to servers.
type Messenger interface {
	Send(ctx context.Context, peerID peer.ID, msg message.Outgoing, enc codec.Encoding, opts ...router.SendOption) error
	Request(ctx context.Context, peerID peer.ID, msg message.Outgoing, enc codec.Encoding, opts ...router.RequestOption) (*message.Incoming, error)
}

// ServerSet lists connected servers.
type ServerSet interface {
	ConnectedServers() []*peers.Peer
}

// EventEmitter receives the identity/resolved event.
type EventEmitter interface {
	EmitLifecycle(event string, payload any)
}

// Config configures a Resolver. Zero durations get defaults.
type Config struct {
	// Self is the local peer, resolved through the name service.
	Self peer.ID

	// DID is the local DID sent with identity pushes.
	DID string

	// Wallet signs identity pushes. Optional.
	Wallet *crypto.Wallet

	// ResolveTimeout bounds each server resolve request.
	ResolveTimeout time.Duration

	// SaveDebounce collapses Save calls within the window into one write.
	SaveDebounce time.Duration

	// RemotePushInterval is the minimum gap between server pushes unless
	// ForceRemote is set.
	RemotePushInterval time.Duration

	// PublishIdentity publishes each saved root to the name service.
	PublishIdentity bool

	Clock   clock.Clock
	Logger  observability.Logger
	Metrics observability.Metrics
	Tracer  observability.Tracer
}

func (c *Config) applyDefaults() {
	if c.ResolveTimeout <= 0 {
		c.ResolveTimeout = 5 * time.Second
	}
	if c.SaveDebounce <= 0 {
		c.SaveDebounce = 10 * time.Second
	}
	if c.RemotePushInterval <= 0 {
		c.RemotePushInterval = 10 * time.Second
	}
	if c.Clock == nil {
		c.Clock = clock.New()
	}
	if c.Logger == nil {
		c.Logger = observability.NopLogger{}
	}
	if c.Metrics == nil {
		c.Metrics = observability.NopMetrics{}
	}
	if c.Tracer == nil {
		c.Tracer = observability.NopTracer{}
	}
}

// SaveRequest is one Save call. When CID is undefined the Document is
// sealed and stored first.
type SaveRequest struct {
	CID            cid.Cid
	Document       *Document
	ForceRemote    bool
	ForceImmediate bool
}

// Resolved is the payload of the identity/resolved event.
type Resolved struct {
	CID      cid.Cid
	Document *Document
	Source   string
}

// Resolver is safe for concurrent use.
type Resolver struct {
	store     ContentStore
	cache     Cache
	names     naming.Resolver
	messenger Messenger
	servers   ServerSet
	events    EventEmitter
	config    Config

	mu          sync.Mutex
	cid         cid.Cid
	doc         *Document
	lastSavedAt time.Time

	// single pending write
	pending *SaveRequest
	timer   *clock.Timer
	gen     uint64

	saveMu sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a resolver. names may be nil when no name service is
// available.
func New(
	store ContentStore,
	cache Cache,
	names naming.Resolver,
	messenger Messenger,
	servers ServerSet,
	events EventEmitter,
	config Config,
) *Resolver {
	config.applyDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Resolver{
		store:     store,
		cache:     cache,
		names:     names,
		messenger: messenger,
		servers:   servers,
		events:    events,
		config:    config,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Resolve gathers the root from the local cache, the name service and the
// first connected server that answers, and keeps the newest. A source that
// fails is treated as absent. The winner is cached and announced as
// identity/resolved.
func (r *Resolver) Resolve(ctx context.Context) (_ cid.Cid, _ *Document, err error) {
	ctx, end := r.config.Tracer.Start(ctx, "identity.resolve")
	defer func() { end(err) }()

	var best Resolved
	consider := func(source string, c cid.Cid) {
		if !c.Defined() {
			return
		}
		doc, err := r.load(ctx, c)
		if err != nil {
			r.config.Logger.Debug("identity candidate unavailable", "source", source, "cid", c, "error", err)
			return
		}
		r.config.Logger.Debug("identity candidate", "source", source, "cid", c, "updated_at", doc.UpdatedAt)
		if best.Document == nil || doc.UpdatedAt > best.Document.UpdatedAt {
			best = Resolved{CID: c, Document: doc, Source: source}
		}
	}

	consider("local", r.localCID())
	consider("naming", r.namingCID(ctx))
	consider("server", r.serverCID(ctx))

	if best.Document == nil {
		best.Source = "none"
	} else {
		r.mu.Lock()
		r.cid = best.CID
		r.doc = best.Document
		r.mu.Unlock()
	}
	r.config.Metrics.IdentityResolved(best.Source)
	if r.events != nil {
		r.events.EmitLifecycle(message.EventIdentityResolved, &Resolved{
			CID:      best.CID,
			Document: best.Document.Clone(),
			Source:   best.Source,
		})
	}
	return best.CID, best.Document.Clone(), nil
}

func (r *Resolver) localCID() cid.Cid {
	s, ok, err := r.cache.Get(RootCIDKey)
	if err != nil || !ok {
		return cid.Undef
	}
	c, err := cid.Decode(s)
	if err != nil {
		r.config.Logger.Warn("invalid cached root cid", "value", s, "error", err)
		return cid.Undef
	}
	return c
}

func (r *Resolver) namingCID(ctx context.Context) cid.Cid {
	if r.names == nil {
		return cid.Undef
	}
	c, err := r.names.Resolve(ctx, r.config.Self)
	if err != nil {
		if !errors.Is(err, naming.ErrNotFound) {
			r.config.Logger.Debug("name resolution failed", "error", err)
		}
		return cid.Undef
	}
	return c
}

// serverCID asks connected servers in turn and returns the first CID
// received. A sealed block in the response is stored after its hash is
// checked.
func (r *Resolver) serverCID(ctx context.Context) cid.Cid {
	if r.messenger == nil || r.servers == nil {
		return cid.Undef
	}
	for _, p := range r.servers.ConnectedServers() {
		resp, err := r.messenger.Request(ctx, p.ID, message.Outgoing{
			Topic:   message.TopicIdentityResolveRequest,
			Payload: ResolveRequest{},
		}, codec.Signed, router.WithTimeout(r.config.ResolveTimeout))
		if err != nil || resp == nil {
			r.config.Logger.Debug("server did not resolve identity", "peer", p.ID, "error", err)
			continue
		}
		var body ResolveResponse
		if err := resp.Decode(&body); err != nil || body.CID == "" {
			continue
		}
		c, err := cid.Decode(body.CID)
		if err != nil {
			r.config.Logger.Debug("server returned invalid cid", "peer", p.ID, "error", err)
			continue
		}
		if len(body.Block) > 0 {
			got, err := r.store.PutBlock(ctx, body.Block, c.Prefix().Codec)
			if err != nil || !got.Equals(c) {
				r.config.Logger.Warn("server block does not match cid", "peer", p.ID, "cid", c)
				continue
			}
		}
		return c
	}
	return cid.Undef
}

func (r *Resolver) load(ctx context.Context, c cid.Cid) (*Document, error) {
	var doc Document
	if err := r.store.LoadDecrypted(ctx, c, &doc); err != nil {
		return nil, err
	}
	if doc.Schemas == nil {
		doc.Schemas = make(map[string]json.RawMessage)
	}
	return &doc, nil
}

// Save schedules a write of req. Calls within SaveDebounce of each other
// collapse into one write with the last call's arguments; ForceImmediate
// writes synchronously and drops any pending write. A request carrying
// only a CID loads that root's document first and fails if it cannot.
func (r *Resolver) Save(ctx context.Context, req SaveRequest) error {
	if !req.CID.Defined() && req.Document == nil {
		return ErrNothingToSave
	}
	if req.Document == nil {
		doc, err := r.load(ctx, req.CID)
		if err != nil {
			return fmt.Errorf("load identity document %s: %w", req.CID, err)
		}
		req.Document = doc
	}
	if req.ForceImmediate {
		r.mu.Lock()
		r.cancelPendingLocked()
		r.mu.Unlock()
		return r.save(ctx, req)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancelPendingLocked()
	r.pending = &req
	gen := r.gen
	r.timer = r.config.Clock.AfterFunc(r.config.SaveDebounce, func() { r.fire(gen) })
	return nil
}

// Flush writes the pending save, if any, now.
func (r *Resolver) Flush(ctx context.Context) error {
	r.mu.Lock()
	req := r.pending
	r.cancelPendingLocked()
	r.mu.Unlock()

	if req == nil {
		return nil
	}
	return r.save(ctx, *req)
}

// HasPending reports whether a debounced save is waiting.
func (r *Resolver) HasPending() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pending != nil
}

// cancelPendingLocked drops the pending write. Callers hold mu.
func (r *Resolver) cancelPendingLocked() {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.pending = nil
	r.gen++
}

func (r *Resolver) fire(gen uint64) {
	r.mu.Lock()
	if gen != r.gen || r.pending == nil {
		r.mu.Unlock()
		return
	}
	req := *r.pending
	r.pending = nil
	r.timer = nil
	r.gen++
	r.mu.Unlock()

	if err := r.save(r.ctx, req); err != nil {
		r.config.Logger.Error("debounced identity save failed", "error", err)
	}
}

// save writes the root to the local cache, moves the pin, pushes to
// servers unless throttled and optionally publishes to the name service.
func (r *Resolver) save(ctx context.Context, req SaveRequest) (err error) {
	r.saveMu.Lock()
	defer r.saveMu.Unlock()

	ctx, end := r.config.Tracer.Start(ctx, "identity.save")
	defer func() { end(err) }()

	c := req.CID
	if !c.Defined() {
		if c, err = r.store.StoreEncrypted(ctx, req.Document); err != nil {
			return fmt.Errorf("store identity document: %w", err)
		}
	}
	if err := r.cache.Set(RootCIDKey, c.String()); err != nil {
		return fmt.Errorf("cache root cid: %w", err)
	}

	r.mu.Lock()
	prev := r.cid
	r.mu.Unlock()

	if err := r.store.Pin(ctx, c); err != nil {
		r.config.Logger.Warn("failed to pin identity root", "cid", c, "error", err)
	}
	if prev.Defined() && !prev.Equals(c) {
		if err := r.store.Unpin(ctx, prev); err != nil {
			r.config.Logger.Warn("failed to unpin previous identity root", "cid", prev, "error", err)
		}
	}

	now := r.config.Clock.Now()
	r.mu.Lock()
	r.cid = c
	r.doc = req.Document.Clone()
	push := req.ForceRemote || r.lastSavedAt.IsZero() || now.Sub(r.lastSavedAt) >= r.config.RemotePushInterval
	if push {
		r.lastSavedAt = now
	}
	r.mu.Unlock()

	if push {
		r.push(ctx, c)
	}
	if r.config.PublishIdentity && r.names != nil {
		if err := r.names.Publish(ctx, c); err != nil {
			r.config.Logger.Warn("failed to publish identity root", "cid", c, "error", err)
		}
	}
	r.config.Metrics.IdentitySaved(push)
	return nil
}

// push sends identity/set/request to every connected server. Failures are
// logged.
func (r *Resolver) push(ctx context.Context, c cid.Cid) {
	if r.messenger == nil || r.servers == nil {
		return
	}
	servers := r.servers.ConnectedServers()
	if len(servers) == 0 {
		return
	}

	req := SetRequest{CID: c.String(), DID: r.config.DID}
	if block, err := r.store.GetBlock(ctx, c); err == nil {
		req.Block = block
	}
	if r.config.Wallet != nil {
		sig, err := r.config.Wallet.SignMessage(WalletMessage(req.CID))
		if err != nil {
			r.config.Logger.Warn("failed to sign identity push", "error", err)
		} else {
			req.Address = r.config.Wallet.Address()
			req.Signature = sig
		}
	}

	for _, p := range servers {
		err := r.messenger.Send(ctx, p.ID, message.Outgoing{
			Topic:   message.TopicIdentitySetRequest,
			Payload: req,
		}, codec.Signed)
		if err != nil {
			r.config.Logger.Warn("failed to push identity to server", "peer", p.ID, "error", err)
		}
	}
}

// CID returns the current root CID.
func (r *Resolver) CID() cid.Cid {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cid
}

// Document returns a copy of the current root document, or nil.
func (r *Resolver) Document() *Document {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.doc.Clone()
}

// Latest returns a copy of the document of the pending write, if it has
// one, and otherwise of the current document.
func (r *Resolver) Latest() *Document {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pending != nil && r.pending.Document != nil {
		return r.pending.Document.Clone()
	}
	return r.doc.Clone()
}

// LastSavedAt returns when servers were last pushed to.
func (r *Resolver) LastSavedAt() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastSavedAt
}

// Close drops any pending write without flushing it.
func (r *Resolver) Close() {
	r.mu.Lock()
	r.cancelPendingLocked()
	r.mu.Unlock()
	r.cancel()
}
