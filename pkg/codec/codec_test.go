package codec

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"testing"

	json "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockberries/cinderlink/pkg/crypto"
)

func newTestGateway(t testing.TB) (*Gateway, *crypto.Identity) {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	id, err := crypto.NewIdentity(priv)
	require.NoError(t, err)
	return NewGateway(NewEnvelopeCodec(id)), id
}

type countingCodec struct {
	calls int
}

func (c *countingCodec) Encode(ctx context.Context, payload []byte, enc Encoding) ([]byte, error) {
	c.calls++
	return payload, nil
}

func (c *countingCodec) Decode(ctx context.Context, data []byte) (*Decoded, error) {
	c.calls++
	return &Decoded{Payload: data}, nil
}

func TestGateway_RejectsUnprotectedEncoding(t *testing.T) {
	inner := &countingCodec{}
	g := NewGateway(inner)

	_, err := g.Encode(context.Background(), []byte("x"), Encoding{})
	assert.ErrorIs(t, err, ErrInvalidEncoding)
	assert.Zero(t, inner.calls, "codec must not be reached")

	_, err = g.Decode(context.Background(), []byte("x"))
	assert.ErrorIs(t, err, ErrInvalidEncoding)
}

func TestGateway_EncryptNeedsRecipients(t *testing.T) {
	g, _ := newTestGateway(t)
	_, err := g.Encode(context.Background(), []byte("x"), Encoding{Encrypt: true})
	assert.ErrorIs(t, err, ErrNoRecipients)
}

func TestEnvelope_SignedRoundTrip(t *testing.T) {
	alice, aliceID := newTestGateway(t)
	bob, _ := newTestGateway(t)
	ctx := context.Background()

	data, err := alice.Encode(ctx, []byte(`{"hello":"world"}`), Signed)
	require.NoError(t, err)

	dec, err := bob.Decode(ctx, data)
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"hello":"world"}`), dec.Payload)
	assert.Equal(t, aliceID.DID(), dec.Sender)
	assert.True(t, dec.Signed)
	assert.False(t, dec.Encrypted)
}

func TestEnvelope_EncryptedRoundTrip(t *testing.T) {
	alice, aliceID := newTestGateway(t)
	bob, bobID := newTestGateway(t)
	carol, _ := newTestGateway(t)
	ctx := context.Background()

	for _, enc := range []Encoding{
		{Encrypt: true, Recipients: []string{bobID.DID()}},
		{Sign: true, Encrypt: true, Recipients: []string{bobID.DID()}},
	} {
		data, err := alice.Encode(ctx, []byte("secret"), enc)
		require.NoError(t, err)

		dec, err := bob.Decode(ctx, data)
		require.NoError(t, err)
		assert.Equal(t, []byte("secret"), dec.Payload)
		assert.Equal(t, aliceID.DID(), dec.Sender)
		assert.True(t, dec.Encrypted)
		assert.Equal(t, enc.Sign, dec.Signed)

		_, err = carol.Decode(ctx, data)
		assert.ErrorIs(t, err, ErrNotRecipient)
	}
}

func TestEnvelope_TamperedSignature(t *testing.T) {
	alice, _ := newTestGateway(t)
	bob, _ := newTestGateway(t)
	ctx := context.Background()

	data, err := alice.Encode(ctx, []byte("payload"), Signed)
	require.NoError(t, err)

	var env envelope
	require.NoError(t, json.Unmarshal(data, &env))
	env.Payload = []byte("pAyload")
	forged, err := json.Marshal(&env)
	require.NoError(t, err)

	_, err = bob.Decode(ctx, forged)
	assert.True(t, errors.Is(err, ErrBadSignature), "got %v", err)
}

func TestEnvelope_Malformed(t *testing.T) {
	g, _ := newTestGateway(t)
	_, err := g.Decode(context.Background(), []byte("not json"))
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = g.Decode(context.Background(), []byte(`{"v":1}`))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestSelfSealer(t *testing.T) {
	g, id := newTestGateway(t)
	other, _ := newTestGateway(t)
	ctx := context.Background()
	sealer := NewSelfSealer(g, id.DID())

	sealed, err := sealer.Seal(ctx, []byte(`{"updatedAt":1}`))
	require.NoError(t, err)

	plain, err := sealer.Open(ctx, sealed)
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"updatedAt":1}`), plain)

	_, err = other.Decode(ctx, sealed)
	assert.ErrorIs(t, err, ErrNotRecipient)
}
