package codec

import (
	"context"
	"fmt"

	json "github.com/json-iterator/go"

	"github.com/blockberries/cinderlink/pkg/crypto"
)

const envelopeVersion = 1

// envelope is the wire form of an encoded message.
//
// Signed only: Payload and Signature are set.
// Encrypted: Ciphertext holds a sealed body (payload plus optional signature)
// under a random content key; each recipient gets the content key wrapped
// with the X25519 key it shares with Sender.
type envelope struct {
	Version    int         `json:"v"`
	Sender     string      `json:"sender"`
	Payload    []byte      `json:"payload,omitempty"`
	Signature  []byte      `json:"sig,omitempty"`
	Ciphertext []byte      `json:"ct,omitempty"`
	Recipients []recipient `json:"rcpt,omitempty"`
}

type recipient struct {
	DID string `json:"did"`
	Key []byte `json:"key"`
}

type sealedBody struct {
	Payload   []byte `json:"payload"`
	Signature []byte `json:"sig,omitempty"`
}

// EnvelopeCodec is the Codec backed by a DID identity.
type EnvelopeCodec struct {
	identity *crypto.Identity
}

var _ Codec = (*EnvelopeCodec)(nil)

// NewEnvelopeCodec creates a codec that signs as, and decrypts for, id.
func NewEnvelopeCodec(id *crypto.Identity) *EnvelopeCodec {
	return &EnvelopeCodec{identity: id}
}

// Encode implements Codec.
func (c *EnvelopeCodec) Encode(ctx context.Context, payload []byte, enc Encoding) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var sig []byte
	if enc.Sign {
		s, err := c.identity.Sign(payload)
		if err != nil {
			return nil, fmt.Errorf("sign envelope: %w", err)
		}
		sig = s
	}

	env := envelope{Version: envelopeVersion, Sender: c.identity.DID()}
	if !enc.Encrypt {
		env.Payload = payload
		env.Signature = sig
		return json.Marshal(&env)
	}

	body, err := json.Marshal(&sealedBody{Payload: payload, Signature: sig})
	if err != nil {
		return nil, err
	}
	contentKey, err := crypto.NewContentKey()
	if err != nil {
		return nil, err
	}
	defer crypto.SecureZero(contentKey)

	if env.Ciphertext, err = crypto.Seal(contentKey, body, []byte(env.Sender)); err != nil {
		return nil, fmt.Errorf("encrypt envelope: %w", err)
	}
	for _, did := range enc.Recipients {
		wrapKey, err := c.identity.SharedKey(did)
		if err != nil {
			return nil, fmt.Errorf("recipient %s: %w", did, err)
		}
		wrapped, err := crypto.Seal(wrapKey, contentKey, []byte(did))
		crypto.SecureZero(wrapKey)
		if err != nil {
			return nil, fmt.Errorf("wrap key for %s: %w", did, err)
		}
		env.Recipients = append(env.Recipients, recipient{DID: did, Key: wrapped})
	}
	return json.Marshal(&env)
}

// Decode implements Codec.
func (c *EnvelopeCodec) Decode(ctx context.Context, data []byte) (*Decoded, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Version != envelopeVersion || env.Sender == "" {
		return nil, fmt.Errorf("%w: version %d sender %q", ErrMalformed, env.Version, env.Sender)
	}

	dec := &Decoded{Sender: env.Sender, Payload: env.Payload}
	sig := env.Signature

	if len(env.Ciphertext) > 0 {
		body, err := c.open(&env)
		if err != nil {
			return nil, err
		}
		dec.Payload = body.Payload
		dec.Encrypted = true
		sig = body.Signature
	}

	if len(sig) > 0 {
		if err := crypto.VerifyDID(env.Sender, dec.Payload, sig); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadSignature, err)
		}
		dec.Signed = true
	}
	return dec, nil
}

func (c *EnvelopeCodec) open(env *envelope) (*sealedBody, error) {
	self := c.identity.DID()

	var wrapped []byte
	for _, r := range env.Recipients {
		if r.DID == self {
			wrapped = r.Key
			break
		}
	}
	if wrapped == nil {
		return nil, ErrNotRecipient
	}

	wrapKey, err := c.identity.SharedKey(env.Sender)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	defer crypto.SecureZero(wrapKey)

	contentKey, err := crypto.Open(wrapKey, wrapped, []byte(self))
	if err != nil {
		return nil, fmt.Errorf("unwrap content key: %w", err)
	}
	defer crypto.SecureZero(contentKey)

	plain, err := crypto.Open(contentKey, env.Ciphertext, []byte(env.Sender))
	if err != nil {
		return nil, fmt.Errorf("decrypt envelope: %w", err)
	}

	var body sealedBody
	if err := json.Unmarshal(plain, &body); err != nil {
		return nil, fmt.Errorf("%w: body: %v", ErrMalformed, err)
	}
	return &body, nil
}
