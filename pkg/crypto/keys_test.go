package crypto

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"testing"
)

func generateTestEd25519Key(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate Ed25519 key: %v", err)
	}
	return pub, priv
}

func TestEd25519PrivateToX25519_Clamped(t *testing.T) {
	_, priv := generateTestEd25519Key(t)

	scalar, err := Ed25519PrivateToX25519(priv)
	if err != nil {
		t.Fatalf("conversion failed: %v", err)
	}
	if len(scalar) != X25519KeySize {
		t.Fatalf("scalar size = %d, want %d", len(scalar), X25519KeySize)
	}
	if scalar[0]&7 != 0 || scalar[31]&128 != 0 || scalar[31]&64 == 0 {
		t.Errorf("scalar is not clamped: %x", scalar)
	}
}

func TestEd25519PrivateToX25519_InvalidInput(t *testing.T) {
	for _, key := range []ed25519.PrivateKey{nil, {}, make([]byte, 31)} {
		if _, err := Ed25519PrivateToX25519(key); err == nil {
			t.Errorf("expected error for %d-byte key", len(key))
		}
	}
}

func TestEd25519ToX25519_KeyPairConsistency(t *testing.T) {
	pub, priv := generateTestEd25519Key(t)

	xPriv, err := Ed25519PrivateToX25519(priv)
	if err != nil {
		t.Fatalf("private conversion failed: %v", err)
	}
	xPub, err := Ed25519PublicToX25519(pub)
	if err != nil {
		t.Fatalf("public conversion failed: %v", err)
	}
	derived, err := X25519PublicFromPrivate(xPriv)
	if err != nil {
		t.Fatalf("X25519PublicFromPrivate failed: %v", err)
	}
	if !bytes.Equal(derived, xPub) {
		t.Error("converted public key does not match converted private key")
	}
}

func TestEd25519PublicToX25519_InvalidInput(t *testing.T) {
	if _, err := Ed25519PublicToX25519(make([]byte, 16)); err == nil {
		t.Error("expected error for short key")
	}
}

func TestSecureZero(t *testing.T) {
	b := []byte{1, 2, 3}
	SecureZero(b)
	if !bytes.Equal(b, []byte{0, 0, 0}) {
		t.Errorf("SecureZero left %v", b)
	}
}
