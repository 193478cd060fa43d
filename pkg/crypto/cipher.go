package crypto

import (
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

const (
	// NonceSize is the ChaCha20-Poly1305 nonce size.
	NonceSize = chacha20poly1305.NonceSize

	// TagSize is the Poly1305 tag size.
	TagSize = chacha20poly1305.Overhead

	// KeySize is the ChaCha20-Poly1305 key size.
	KeySize = chacha20poly1305.KeySize
)

// ErrDecrypt is returned when a ciphertext fails authentication.
var ErrDecrypt = errors.New("decryption failed")

// Seal encrypts plaintext under key with a random nonce.
// Output layout: nonce || ciphertext || tag.
func Seal(key, plaintext, additionalData []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}

	out := make([]byte, NonceSize, NonceSize+len(plaintext)+TagSize)
	if _, err := rand.Read(out); err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}
	return aead.Seal(out, out[:NonceSize], plaintext, additionalData), nil
}

// Open reverses Seal. additionalData must match what was sealed.
func Open(key, sealed, additionalData []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if len(sealed) < NonceSize+TagSize {
		return nil, fmt.Errorf("%w: ciphertext is %d bytes", ErrDecrypt, len(sealed))
	}
	plaintext, err := aead.Open(nil, sealed[:NonceSize], sealed[NonceSize:], additionalData)
	if err != nil {
		return nil, ErrDecrypt
	}
	return plaintext, nil
}

// NewContentKey returns a fresh random symmetric key.
func NewContentKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("content key: %w", err)
	}
	return key, nil
}
