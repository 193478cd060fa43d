// Package crypto holds the key material and primitives behind Cinderlink
// envelopes: Ed25519 identities addressed by did:key, their X25519
// counterparts for key agreement, ChaCha20-Poly1305 sealing, and the
// secp256k1 wallet used to sign identity pushes.
package crypto

import (
	"crypto/ed25519"
	"crypto/sha512"
	"errors"
	"fmt"

	"filippo.io/edwards25519"
)

// X25519KeySize is the size of X25519 public and private keys in bytes.
const X25519KeySize = 32

// ErrInvalidKey is returned for keys with the wrong size or encoding.
var ErrInvalidKey = errors.New("invalid key")

// Ed25519PrivateToX25519 derives the X25519 scalar matching an Ed25519 key:
// SHA-512 of the seed, lower half, clamped.
func Ed25519PrivateToX25519(edPriv ed25519.PrivateKey) ([]byte, error) {
	if len(edPriv) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("%w: ed25519 private key is %d bytes, want %d",
			ErrInvalidKey, len(edPriv), ed25519.PrivateKeySize)
	}

	digest := sha512.Sum512(edPriv.Seed())
	defer SecureZero(digest[:])

	scalar := make([]byte, X25519KeySize)
	copy(scalar, digest[:X25519KeySize])
	scalar[0] &= 248
	scalar[31] &= 127
	scalar[31] |= 64
	return scalar, nil
}

// Ed25519PublicToX25519 maps an Edwards point to its Montgomery u-coordinate.
func Ed25519PublicToX25519(edPub ed25519.PublicKey) ([]byte, error) {
	if len(edPub) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: ed25519 public key is %d bytes, want %d",
			ErrInvalidKey, len(edPub), ed25519.PublicKeySize)
	}
	point, err := new(edwards25519.Point).SetBytes(edPub)
	if err != nil {
		return nil, fmt.Errorf("%w: not a curve point: %v", ErrInvalidKey, err)
	}
	return point.BytesMontgomery(), nil
}

// ValidateEd25519PrivateKey checks the size of an Ed25519 private key.
func ValidateEd25519PrivateKey(key ed25519.PrivateKey) error {
	if len(key) != ed25519.PrivateKeySize {
		return fmt.Errorf("%w: ed25519 private key is %d bytes, want %d",
			ErrInvalidKey, len(key), ed25519.PrivateKeySize)
	}
	return nil
}

// SecureZero overwrites b with zeros.
func SecureZero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
