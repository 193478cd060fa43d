package crypto

import (
	"bytes"
	"testing"
)

func TestDeriveSharedKey_Symmetric(t *testing.T) {
	alicePub, alicePriv := generateTestEd25519Key(t)
	bobPub, bobPriv := generateTestEd25519Key(t)

	aliceX, _ := Ed25519PrivateToX25519(alicePriv)
	bobX, _ := Ed25519PrivateToX25519(bobPriv)
	alicePubX, _ := Ed25519PublicToX25519(alicePub)
	bobPubX, _ := Ed25519PublicToX25519(bobPub)

	k1, err := DeriveSharedKey(aliceX, bobPubX)
	if err != nil {
		t.Fatalf("alice derive failed: %v", err)
	}
	k2, err := DeriveSharedKey(bobX, alicePubX)
	if err != nil {
		t.Fatalf("bob derive failed: %v", err)
	}
	if !bytes.Equal(k1, k2) {
		t.Error("shared keys differ")
	}
	if len(k1) != SharedKeySize {
		t.Errorf("key size = %d, want %d", len(k1), SharedKeySize)
	}
}

func TestDeriveSharedKey_LowOrderPoint(t *testing.T) {
	_, priv := generateTestEd25519Key(t)
	xPriv, _ := Ed25519PrivateToX25519(priv)

	if _, err := DeriveSharedKey(xPriv, make([]byte, X25519KeySize)); err == nil {
		t.Error("expected error for all-zero public key")
	}
}

func TestDeriveSharedKey_InvalidSizes(t *testing.T) {
	if _, err := DeriveSharedKey(make([]byte, 31), make([]byte, 32)); err == nil {
		t.Error("expected error for short private key")
	}
	if _, err := DeriveSharedKey(make([]byte, 32), make([]byte, 33)); err == nil {
		t.Error("expected error for long public key")
	}
}
