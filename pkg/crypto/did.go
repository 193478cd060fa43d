package crypto

import (
	"bytes"
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"
	"github.com/multiformats/go-varint"
)

const (
	didKeyPrefix = "did:key:"

	// multibase prefix for base58btc.
	base58btcPrefix = 'z'

	// multicodec code for an ed25519 public key.
	ed25519PubCodec = 0xed
)

// ErrInvalidDID is returned for identifiers that are not ed25519 did:key DIDs.
var ErrInvalidDID = errors.New("invalid did")

// DIDFromPublicKey encodes an Ed25519 public key as a did:key identifier.
func DIDFromPublicKey(pub ed25519.PublicKey) (string, error) {
	if len(pub) != ed25519.PublicKeySize {
		return "", fmt.Errorf("%w: ed25519 public key is %d bytes", ErrInvalidKey, len(pub))
	}
	buf := append(varint.ToUvarint(ed25519PubCodec), pub...)
	return didKeyPrefix + string(base58btcPrefix) + base58.Encode(buf), nil
}

// PublicKeyFromDID decodes the Ed25519 public key embedded in a did:key.
func PublicKeyFromDID(did string) (ed25519.PublicKey, error) {
	rest, ok := strings.CutPrefix(did, didKeyPrefix)
	if !ok || len(rest) < 2 || rest[0] != base58btcPrefix {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDID, did)
	}
	raw, err := base58.Decode(rest[1:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDID, err)
	}
	codec, n, err := varint.FromUvarint(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDID, err)
	}
	if codec != ed25519PubCodec || len(raw)-n != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: unsupported key type 0x%x", ErrInvalidDID, codec)
	}
	return bytes.Clone(raw[n:]), nil
}

// VerifyDID checks sig over msg against the key embedded in did.
func VerifyDID(did string, msg, sig []byte) error {
	pub, err := PublicKeyFromDID(did)
	if err != nil {
		return err
	}
	if !ed25519.Verify(pub, msg, sig) {
		return fmt.Errorf("signature does not match %s", did)
	}
	return nil
}
