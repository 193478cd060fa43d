package crypto

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

const (
	// SharedKeySize is the size of a derived wrapping key in bytes.
	SharedKeySize = 32

	hkdfInfo = "cinderlink-v1-envelope-key"
)

// DeriveSharedKey runs X25519 between a local scalar and a remote public key
// and stretches the result with HKDF-SHA256. The raw secret never leaves
// this function.
func DeriveSharedKey(localPrivate, remotePublic []byte) ([]byte, error) {
	if len(localPrivate) != X25519KeySize || len(remotePublic) != X25519KeySize {
		return nil, fmt.Errorf("%w: x25519 keys must be %d bytes", ErrInvalidKey, X25519KeySize)
	}

	secret, err := curve25519.X25519(localPrivate, remotePublic)
	if err != nil {
		// X25519 rejects low-order points with an all-zero output.
		return nil, fmt.Errorf("x25519: %w", err)
	}
	defer SecureZero(secret)

	key := make([]byte, SharedKeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(hkdfInfo)), key); err != nil {
		return nil, fmt.Errorf("hkdf: %w", err)
	}
	return key, nil
}

// X25519PublicFromPrivate computes the public key for an X25519 scalar.
func X25519PublicFromPrivate(privateKey []byte) ([]byte, error) {
	if len(privateKey) != X25519KeySize {
		return nil, fmt.Errorf("%w: x25519 private key is %d bytes", ErrInvalidKey, len(privateKey))
	}
	return curve25519.X25519(privateKey, curve25519.Basepoint)
}
