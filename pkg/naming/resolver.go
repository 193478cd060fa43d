package naming

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ipfs/go-cid"
	ic "github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/routing"
)

// DHTResolver stores name records in a routing.ValueStore, normally the
// node's Kademlia DHT.
type DHTResolver struct {
	store routing.ValueStore
	priv  ic.PrivKey
	self  peer.ID

	mu      sync.Mutex
	lastSeq uint64
}

// NewDHTResolver returns a resolver publishing as the owner of priv.
func NewDHTResolver(store routing.ValueStore, priv ic.PrivKey) (*DHTResolver, error) {
	self, err := peer.IDFromPrivateKey(priv)
	if err != nil {
		return nil, err
	}
	return &DHTResolver{store: store, priv: priv, self: self}, nil
}

// Resolve implements Resolver.
func (r *DHTResolver) Resolve(ctx context.Context, id peer.ID) (cid.Cid, error) {
	key := Key(id)
	val, err := r.store.GetValue(ctx, key)
	if errors.Is(err, routing.ErrNotFound) {
		return cid.Undef, ErrNotFound
	}
	if err != nil {
		return cid.Undef, fmt.Errorf("resolve %s: %w", id, err)
	}
	rec, err := parse(key, val)
	if err != nil {
		return cid.Undef, err
	}
	return cid.Decode(rec.CID)
}

// Publish implements Resolver. Sequence numbers are wall-clock
// milliseconds, bumped if the clock has not advanced.
func (r *DHTResolver) Publish(ctx context.Context, c cid.Cid) error {
	r.mu.Lock()
	seq := uint64(time.Now().UnixMilli())
	if seq <= r.lastSeq {
		seq = r.lastSeq + 1
	}
	r.lastSeq = seq
	r.mu.Unlock()

	val, err := NewRecord(r.priv, c, seq)
	if err != nil {
		return err
	}
	if err := r.store.PutValue(ctx, Key(r.self), val); err != nil {
		return fmt.Errorf("publish name record: %w", err)
	}
	return nil
}

// MemoryNamespace is a process-local name service shared by several
// resolvers.
type MemoryNamespace struct {
	mu    sync.RWMutex
	roots map[peer.ID]cid.Cid
}

// NewMemoryNamespace returns an empty namespace.
func NewMemoryNamespace() *MemoryNamespace {
	return &MemoryNamespace{roots: make(map[peer.ID]cid.Cid)}
}

// Resolver returns a resolver that publishes as self.
func (n *MemoryNamespace) Resolver(self peer.ID) *MemoryResolver {
	return &MemoryResolver{ns: n, self: self}
}

// MemoryResolver is a Resolver over a MemoryNamespace.
type MemoryResolver struct {
	ns   *MemoryNamespace
	self peer.ID
}

// Resolve implements Resolver.
func (r *MemoryResolver) Resolve(ctx context.Context, id peer.ID) (cid.Cid, error) {
	if err := ctx.Err(); err != nil {
		return cid.Undef, err
	}
	r.ns.mu.RLock()
	defer r.ns.mu.RUnlock()
	c, ok := r.ns.roots[id]
	if !ok {
		return cid.Undef, ErrNotFound
	}
	return c, nil
}

// Publish implements Resolver.
func (r *MemoryResolver) Publish(ctx context.Context, c cid.Cid) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.ns.mu.Lock()
	defer r.ns.mu.Unlock()
	r.ns.roots[r.self] = c
	return nil
}
