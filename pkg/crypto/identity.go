package crypto

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"sync"
)

// ErrIdentityClosed is returned after Close has zeroed the key material.
var ErrIdentityClosed = errors.New("identity is closed")

// Identity is a node's DID key pair. It signs envelopes and derives
// per-counterparty wrapping keys, caching them by remote DID.
//
// Identity is safe for concurrent use.
type Identity struct {
	private ed25519.PrivateKey
	public  ed25519.PublicKey
	did     string

	x25519Private []byte
	x25519Public  []byte

	sharedKeys map[string][]byte
	mu         sync.RWMutex
	closed     bool
}

// NewIdentity builds an Identity from an Ed25519 private key.
func NewIdentity(privateKey ed25519.PrivateKey) (*Identity, error) {
	if err := ValidateEd25519PrivateKey(privateKey); err != nil {
		return nil, err
	}
	public := privateKey.Public().(ed25519.PublicKey)

	did, err := DIDFromPublicKey(public)
	if err != nil {
		return nil, err
	}
	xPriv, err := Ed25519PrivateToX25519(privateKey)
	if err != nil {
		return nil, err
	}
	xPub, err := Ed25519PublicToX25519(public)
	if err != nil {
		SecureZero(xPriv)
		return nil, err
	}

	return &Identity{
		private:       privateKey,
		public:        public,
		did:           did,
		x25519Private: xPriv,
		x25519Public:  xPub,
		sharedKeys:    make(map[string][]byte),
	}, nil
}

// DID returns the did:key identifier of this identity.
func (id *Identity) DID() string {
	return id.did
}

// PublicKey returns the Ed25519 public key.
func (id *Identity) PublicKey() ed25519.PublicKey {
	return id.public
}

// PrivateKey returns the Ed25519 private key. Callers must not modify it.
func (id *Identity) PrivateKey() ed25519.PrivateKey {
	return id.private
}

// Sign signs msg with the Ed25519 key.
func (id *Identity) Sign(msg []byte) ([]byte, error) {
	id.mu.RLock()
	defer id.mu.RUnlock()
	if id.closed {
		return nil, ErrIdentityClosed
	}
	return ed25519.Sign(id.private, msg), nil
}

// SharedKey returns the wrapping key shared with the holder of remoteDID.
// Both sides derive the same key, so it is cached by DID.
func (id *Identity) SharedKey(remoteDID string) ([]byte, error) {
	id.mu.RLock()
	if id.closed {
		id.mu.RUnlock()
		return nil, ErrIdentityClosed
	}
	if key, ok := id.sharedKeys[remoteDID]; ok {
		out := append([]byte(nil), key...)
		id.mu.RUnlock()
		return out, nil
	}
	xPriv := append([]byte(nil), id.x25519Private...)
	id.mu.RUnlock()
	defer SecureZero(xPriv)

	remoteEd, err := PublicKeyFromDID(remoteDID)
	if err != nil {
		return nil, err
	}
	remoteX, err := Ed25519PublicToX25519(remoteEd)
	if err != nil {
		return nil, err
	}
	key, err := DeriveSharedKey(xPriv, remoteX)
	if err != nil {
		return nil, fmt.Errorf("shared key with %s: %w", remoteDID, err)
	}

	id.mu.Lock()
	defer id.mu.Unlock()
	if id.closed {
		SecureZero(key)
		return nil, ErrIdentityClosed
	}
	id.sharedKeys[remoteDID] = key
	return append([]byte(nil), key...), nil
}

// ForgetPeer drops the cached wrapping key for remoteDID.
func (id *Identity) ForgetPeer(remoteDID string) {
	id.mu.Lock()
	defer id.mu.Unlock()
	if key, ok := id.sharedKeys[remoteDID]; ok {
		SecureZero(key)
		delete(id.sharedKeys, remoteDID)
	}
}

// Close zeros private key material and the shared-key cache.
func (id *Identity) Close() {
	id.mu.Lock()
	defer id.mu.Unlock()
	if id.closed {
		return
	}
	id.closed = true
	for _, key := range id.sharedKeys {
		SecureZero(key)
	}
	id.sharedKeys = nil
	SecureZero(id.x25519Private)
}
