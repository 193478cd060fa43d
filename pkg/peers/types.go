// Package peers is the registry of known peers: their role, their DID once
// authenticated, and whether they are currently connected. It is the single
// source of truth for peer state; other components read clones and mutate
// only through Registry methods.
package peers

import (
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
)

// Role classifies a peer.
type Role string

const (
	// RoleUnknown is the zero value; connection events for such peers are ignored.
	RoleUnknown Role = ""

	// RolePeer is an ordinary client node.
	RolePeer Role = "peer"

	// RoleServer is an infrastructure node that stores identity roots.
	RoleServer Role = "server"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RolePeer || r == RoleServer
}

// Peer is a registry entry.
type Peer struct {
	ID peer.ID `json:"peer_id"`

	// DID is set at most once, when the first verified signed message
	// arrives from the peer.
	DID string `json:"did,omitempty"`

	// Role is fixed at creation.
	Role Role `json:"role"`

	// Connected is runtime state and is not persisted.
	Connected bool `json:"-"`

	LastSeenAt time.Time `json:"last_seen_at,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Authenticated reports whether the peer's DID is known.
func (p *Peer) Authenticated() bool {
	return p.DID != ""
}

// IsServer reports whether the peer has the server role.
func (p *Peer) IsServer() bool {
	return p.Role == RoleServer
}

// Clone returns a copy of p.
func (p *Peer) Clone() *Peer {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}

// registryData is the persisted form of the registry.
type registryData struct {
	Version int              `json:"version"`
	Peers   map[string]*Peer `json:"peers"`
}
