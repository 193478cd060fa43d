package peers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
)

// flushInterval is how often batched changes (last-seen, connection flags)
// are written out.
const flushInterval = 5 * time.Second

// ErrPeerNotFound indicates the peer is not in the registry.
var ErrPeerNotFound = errors.New("peer not found")

// Registry tracks peers. Additions and authentication are persisted
// immediately; last-seen updates are batched and flushed periodically.
// With an empty path the registry lives in memory only.
//
// All methods are safe for concurrent use.
type Registry struct {
	storage *storage
	peers   map[peer.ID]*Peer
	mu      sync.RWMutex
	dirty   bool

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// New opens a registry persisted at path, or an in-memory one if path is "".
func New(path string) (*Registry, error) {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Registry{
		peers:  make(map[peer.ID]*Peer),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	if path == "" {
		close(r.done)
		return r, nil
	}

	r.storage = newStorage(path)
	data, err := r.storage.load()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("load peer registry: %w", err)
	}
	for _, p := range data.Peers {
		if p == nil || p.ID == "" || !p.Role.Valid() {
			continue
		}
		p.Connected = false
		r.peers[p.ID] = p
	}

	go r.flushLoop()
	return r, nil
}

// AddPeer registers id with role if it is unknown and returns the entry.
// An existing entry keeps its original role. created reports whether a new
// entry was made.
func (r *Registry) AddPeer(id peer.ID, role Role) (p *Peer, created bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.peers[id]; ok {
		return existing.Clone(), false
	}

	now := time.Now()
	entry := &Peer{
		ID:        id,
		Role:      role,
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.peers[id] = entry
	_ = r.saveLocked() // retried by the flush loop
	return entry.Clone(), true
}

// HasPeer reports whether id is registered.
func (r *Registry) HasPeer(id peer.ID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.peers[id]
	return ok
}

// GetPeer returns a copy of the entry for id.
func (r *Registry) GetPeer(id peer.ID) (*Peer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.peers[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPeerNotFound, id)
	}
	return p.Clone(), nil
}

// SetConnected updates the connection flag and returns the updated entry.
func (r *Registry) SetConnected(id peer.ID, connected bool) (*Peer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.peers[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPeerNotFound, id)
	}
	now := time.Now()
	p.Connected = connected
	if connected {
		p.LastSeenAt = now
	}
	p.UpdatedAt = now
	r.dirty = true
	return p.Clone(), nil
}

// SetDID records the peer's DID. It reports true only for the call that
// actually set it; later calls, and calls with an empty did, are no-ops.
func (r *Registry) SetDID(id peer.ID, did string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.peers[id]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrPeerNotFound, id)
	}
	if did == "" || p.DID != "" {
		return false, nil
	}
	p.DID = did
	p.UpdatedAt = time.Now()
	_ = r.saveLocked() // retried by the flush loop
	return true, nil
}

// Touch bumps the last-seen time of a registered peer.
func (r *Registry) Touch(id peer.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.peers[id]; ok {
		p.LastSeenAt = time.Now()
		r.dirty = true
	}
}

// ListPeers returns copies of every entry.
func (r *Registry) ListPeers() []*Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Peer, 0, len(r.peers))
	for _, p := range r.peers {
		out = append(out, p.Clone())
	}
	return out
}

// ConnectedServers returns copies of connected server entries.
func (r *Registry) ConnectedServers() []*Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Peer
	for _, p := range r.peers {
		if p.Connected && p.IsServer() {
			out = append(out, p.Clone())
		}
	}
	return out
}

// HasConnectedServer reports whether any server is connected.
func (r *Registry) HasConnectedServer() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.peers {
		if p.Connected && p.IsServer() {
			return true
		}
	}
	return false
}

// Count returns the number of registered peers.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}

// Flush writes pending batched changes.
func (r *Registry) Flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.dirty {
		return nil
	}
	return r.saveLocked()
}

// Close stops the flush loop and writes pending changes.
func (r *Registry) Close() error {
	r.cancel()
	<-r.done
	return r.Flush()
}

// saveLocked persists the registry. Must be called with mu held.
func (r *Registry) saveLocked() error {
	if r.storage == nil {
		r.dirty = false
		return nil
	}
	data := &registryData{
		Version: currentVersion,
		Peers:   make(map[string]*Peer, len(r.peers)),
	}
	for id, p := range r.peers {
		data.Peers[id.String()] = p
	}
	if err := r.storage.save(data); err != nil {
		r.dirty = true
		return err
	}
	r.dirty = false
	return nil
}

func (r *Registry) flushLoop() {
	defer close(r.done)

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			_ = r.Flush() // retried next tick
		}
	}
}
