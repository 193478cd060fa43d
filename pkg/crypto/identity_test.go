package crypto

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func newTestIdentity(t *testing.T) *Identity {
	t.Helper()
	_, priv := generateTestEd25519Key(t)
	id, err := NewIdentity(priv)
	if err != nil {
		t.Fatalf("NewIdentity failed: %v", err)
	}
	return id
}

func TestDID_RoundTrip(t *testing.T) {
	pub, _ := generateTestEd25519Key(t)

	did, err := DIDFromPublicKey(pub)
	if err != nil {
		t.Fatalf("DIDFromPublicKey failed: %v", err)
	}
	if !strings.HasPrefix(did, "did:key:z6Mk") {
		t.Errorf("did = %s, want did:key:z6Mk prefix", did)
	}

	decoded, err := PublicKeyFromDID(did)
	if err != nil {
		t.Fatalf("PublicKeyFromDID failed: %v", err)
	}
	if !bytes.Equal(decoded, pub) {
		t.Error("decoded key differs")
	}
}

func TestPublicKeyFromDID_Invalid(t *testing.T) {
	for _, did := range []string{"", "did:web:example.com", "did:key:abc", "did:key:z0OIl"} {
		if _, err := PublicKeyFromDID(did); !errors.Is(err, ErrInvalidDID) {
			t.Errorf("PublicKeyFromDID(%q) error = %v, want ErrInvalidDID", did, err)
		}
	}
}

func TestIdentity_SignVerify(t *testing.T) {
	id := newTestIdentity(t)

	sig, err := id.Sign([]byte("hello"))
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	if err := VerifyDID(id.DID(), []byte("hello"), sig); err != nil {
		t.Errorf("VerifyDID failed: %v", err)
	}
	if err := VerifyDID(id.DID(), []byte("hellO"), sig); err == nil {
		t.Error("VerifyDID accepted a modified message")
	}
}

func TestIdentity_SharedKeyAgreement(t *testing.T) {
	alice := newTestIdentity(t)
	bob := newTestIdentity(t)

	k1, err := alice.SharedKey(bob.DID())
	if err != nil {
		t.Fatalf("alice SharedKey failed: %v", err)
	}
	k2, err := bob.SharedKey(alice.DID())
	if err != nil {
		t.Fatalf("bob SharedKey failed: %v", err)
	}
	if !bytes.Equal(k1, k2) {
		t.Error("shared keys differ")
	}

	// cached copy must not alias the cache entry
	k1[0] ^= 0xff
	again, _ := alice.SharedKey(bob.DID())
	if bytes.Equal(again, k1) {
		t.Error("SharedKey returned an aliased slice")
	}
}

func TestIdentity_Close(t *testing.T) {
	id := newTestIdentity(t)
	id.Close()
	id.Close()

	if _, err := id.Sign([]byte("x")); !errors.Is(err, ErrIdentityClosed) {
		t.Errorf("Sign after Close error = %v", err)
	}
	if _, err := id.SharedKey(id.DID()); !errors.Is(err, ErrIdentityClosed) {
		t.Errorf("SharedKey after Close error = %v", err)
	}
}
