package naming

import (
	"context"
	"crypto/rand"
	"sync"
	"testing"

	"github.com/ipfs/go-cid"
	ic "github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/routing"
	"github.com/multiformats/go-multihash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// valueStore is a routing.ValueStore that keeps the best record per key
// according to Validator, like the DHT does.
type valueStore struct {
	mu   sync.Mutex
	vals map[string][]byte
}

func newValueStore() *valueStore {
	return &valueStore{vals: make(map[string][]byte)}
}

func (s *valueStore) PutValue(_ context.Context, key string, val []byte, _ ...routing.Option) error {
	v := Validator{}
	if err := v.Validate(key, val); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.vals[key]; ok {
		i, err := v.Select(key, [][]byte{old, val})
		if err != nil {
			return err
		}
		if i == 0 {
			return nil
		}
	}
	s.vals[key] = val
	return nil
}

func (s *valueStore) GetValue(_ context.Context, key string, _ ...routing.Option) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.vals[key]
	if !ok {
		return nil, routing.ErrNotFound
	}
	return v, nil
}

func (s *valueStore) SearchValue(ctx context.Context, key string, opts ...routing.Option) (<-chan []byte, error) {
	ch := make(chan []byte, 1)
	if v, err := s.GetValue(ctx, key, opts...); err == nil {
		ch <- v
	}
	close(ch)
	return ch, nil
}

func newKey(t *testing.T) (ic.PrivKey, peer.ID) {
	t.Helper()
	priv, _, err := ic.GenerateEd25519Key(rand.Reader)
	require.NoError(t, err)
	id, err := peer.IDFromPrivateKey(priv)
	require.NoError(t, err)
	return priv, id
}

func testCID(t *testing.T, s string) cid.Cid {
	t.Helper()
	h, err := multihash.Sum([]byte(s), multihash.SHA2_256, -1)
	require.NoError(t, err)
	return cid.NewCidV1(cid.DagJSON, h)
}

func TestValidator_AcceptsSignedRecord(t *testing.T) {
	priv, id := newKey(t)
	val, err := NewRecord(priv, testCID(t, "a"), 1)
	require.NoError(t, err)

	assert.NoError(t, Validator{}.Validate(Key(id), val))
}

func TestValidator_RejectsForeignKey(t *testing.T) {
	priv, _ := newKey(t)
	_, other := newKey(t)
	val, err := NewRecord(priv, testCID(t, "a"), 1)
	require.NoError(t, err)

	assert.ErrorIs(t, Validator{}.Validate(Key(other), val), ErrInvalidRecord)
}

func TestValidator_RejectsGarbage(t *testing.T) {
	_, id := newKey(t)
	assert.ErrorIs(t, Validator{}.Validate(Key(id), []byte("nope")), ErrInvalidRecord)
	assert.ErrorIs(t, Validator{}.Validate("/other/x", []byte("{}")), ErrInvalidRecord)
}

func TestValidator_SelectHighestSeq(t *testing.T) {
	priv, id := newKey(t)
	v1, err := NewRecord(priv, testCID(t, "a"), 1)
	require.NoError(t, err)
	v5, err := NewRecord(priv, testCID(t, "b"), 5)
	require.NoError(t, err)

	i, err := Validator{}.Select(Key(id), [][]byte{v1, []byte("bad"), v5})
	require.NoError(t, err)
	assert.Equal(t, 2, i)
}

func TestDHTResolver_PublishResolve(t *testing.T) {
	store := newValueStore()
	priv, id := newKey(t)
	r, err := NewDHTResolver(store, priv)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = r.Resolve(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)

	first := testCID(t, "first")
	second := testCID(t, "second")
	require.NoError(t, r.Publish(ctx, first))
	require.NoError(t, r.Publish(ctx, second))

	got, err := r.Resolve(ctx, id)
	require.NoError(t, err)
	assert.True(t, got.Equals(second))

	// Another node resolves the same record.
	otherPriv, _ := newKey(t)
	other, err := NewDHTResolver(store, otherPriv)
	require.NoError(t, err)
	got, err = other.Resolve(ctx, id)
	require.NoError(t, err)
	assert.True(t, got.Equals(second))
}

func TestMemoryResolver(t *testing.T) {
	ns := NewMemoryNamespace()
	_, a := newKey(t)
	_, b := newKey(t)
	ra := ns.Resolver(a)
	rb := ns.Resolver(b)
	ctx := context.Background()

	c := testCID(t, "root")
	require.NoError(t, ra.Publish(ctx, c))

	got, err := rb.Resolve(ctx, a)
	require.NoError(t, err)
	assert.True(t, got.Equals(c))

	_, err = ra.Resolve(ctx, b)
	assert.ErrorIs(t, err, ErrNotFound)
}
