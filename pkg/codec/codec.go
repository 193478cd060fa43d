// Package codec turns message plaintext into signed and/or encrypted
// envelopes and back. Gateway is the only entry point the router uses; it
// refuses to produce an envelope that is neither signed nor encrypted.
package codec

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors for envelope operations.
var (
	// ErrInvalidEncoding indicates an encoding that neither signs nor encrypts.
	ErrInvalidEncoding = errors.New("invalid encoding: message must be signed or encrypted")

	// ErrNoRecipients indicates encryption was requested without recipients.
	ErrNoRecipients = errors.New("encryption requires at least one recipient")

	// ErrNotRecipient indicates the local identity cannot open the envelope.
	ErrNotRecipient = errors.New("envelope is not addressed to this identity")

	// ErrBadSignature indicates a signature that does not verify.
	ErrBadSignature = errors.New("envelope signature invalid")

	// ErrMalformed indicates bytes that do not parse as an envelope.
	ErrMalformed = errors.New("malformed envelope")
)

// Encoding selects how an outgoing message is protected.
type Encoding struct {
	Sign    bool
	Encrypt bool

	// Recipients are the DIDs able to decrypt. Required when Encrypt is set;
	// the router fills it from the peer registry when left empty.
	Recipients []string
}

// Valid reports whether the encoding signs or encrypts.
func (e Encoding) Valid() bool {
	return e.Sign || e.Encrypt
}

// Signed is the common sign-only encoding.
var Signed = Encoding{Sign: true}

// Decoded is the result of opening an envelope.
type Decoded struct {
	Payload   []byte
	Sender    string
	Signed    bool
	Encrypted bool
}

// Codec encodes and decodes envelopes for one local identity.
type Codec interface {
	Encode(ctx context.Context, payload []byte, enc Encoding) ([]byte, error)
	Decode(ctx context.Context, data []byte) (*Decoded, error)
}

// Gateway wraps a Codec and enforces the sign-or-encrypt invariant.
type Gateway struct {
	codec Codec
}

// NewGateway creates a gateway over c.
func NewGateway(c Codec) *Gateway {
	return &Gateway{codec: c}
}

// Encode protects payload. It fails with ErrInvalidEncoding before touching
// the codec if enc neither signs nor encrypts.
func (g *Gateway) Encode(ctx context.Context, payload []byte, enc Encoding) ([]byte, error) {
	if !enc.Valid() {
		return nil, ErrInvalidEncoding
	}
	if enc.Encrypt && len(enc.Recipients) == 0 {
		return nil, ErrNoRecipients
	}
	return g.codec.Encode(ctx, payload, enc)
}

// Decode opens an envelope. Envelopes that are neither signed nor encrypted
// are rejected.
func (g *Gateway) Decode(ctx context.Context, data []byte) (*Decoded, error) {
	dec, err := g.codec.Decode(ctx, data)
	if err != nil {
		return nil, err
	}
	if !dec.Signed && !dec.Encrypted {
		return nil, ErrInvalidEncoding
	}
	return dec, nil
}

// SelfSealer encrypts blobs to the gateway's own identity. The content store
// uses it for encrypted documents.
type SelfSealer struct {
	gateway *Gateway
	self    string
}

// NewSelfSealer seals to selfDID through g.
func NewSelfSealer(g *Gateway, selfDID string) *SelfSealer {
	return &SelfSealer{gateway: g, self: selfDID}
}

// Seal signs and encrypts data to the local identity.
func (s *SelfSealer) Seal(ctx context.Context, data []byte) ([]byte, error) {
	return s.gateway.Encode(ctx, data, Encoding{Sign: true, Encrypt: true, Recipients: []string{s.self}})
}

// Open decrypts data sealed by Seal and checks it came from the local identity.
func (s *SelfSealer) Open(ctx context.Context, data []byte) ([]byte, error) {
	dec, err := s.gateway.Decode(ctx, data)
	if err != nil {
		return nil, err
	}
	if !dec.Encrypted || dec.Sender != s.self {
		return nil, fmt.Errorf("%w: sealed by %q", ErrNotRecipient, dec.Sender)
	}
	return dec.Payload, nil
}
