// Package dag is the content-addressed document store. Blocks are keyed by
// CIDv1 (sha2-256) and kept in a badger keyspace, with an LRU cache in
// front. Documents can be stored as plain dag-json or sealed to the local
// identity before hashing.
package dag

import (
	"context"
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/ipfs/go-cid"
	json "github.com/json-iterator/go"
	"github.com/multiformats/go-multihash"

	"github.com/blockberries/cinderlink/pkg/kv"
)

// DefaultCacheSize is the number of blocks kept in memory.
const DefaultCacheSize = 256

var (
	// ErrBlockNotFound is returned when no block exists for a CID.
	ErrBlockNotFound = errors.New("block not found")

	// ErrBlockCorrupt is returned when stored bytes do not hash to their CID.
	ErrBlockCorrupt = errors.New("block does not match its CID")

	// ErrNoSealer is returned by encrypted operations on a store without a sealer.
	ErrNoSealer = errors.New("store has no sealer")
)

// Sealer encrypts documents to, and decrypts them for, the local identity.
type Sealer interface {
	Seal(ctx context.Context, data []byte) ([]byte, error)
	Open(ctx context.Context, data []byte) ([]byte, error)
}

// Store is a content-addressed block store.
type Store struct {
	blocks *kv.Store
	pins   *kv.Store
	cache  *lru.Cache[string, []byte]
	sealer Sealer
}

// New creates a store over db. sealer may be nil if encrypted documents
// are not used.
func New(db *kv.DB, sealer Sealer, cacheSize int) (*Store, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, err := lru.New[string, []byte](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create block cache: %w", err)
	}
	return &Store{
		blocks: db.Store("b/"),
		pins:   db.Store("p/"),
		cache:  cache,
		sealer: sealer,
	}, nil
}

// Sum computes the CID of data under codec without storing it.
func Sum(data []byte, codec uint64) (cid.Cid, error) {
	hash, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		return cid.Undef, err
	}
	return cid.NewCidV1(codec, hash), nil
}

// PutBlock stores raw bytes under their CID.
func (s *Store) PutBlock(ctx context.Context, data []byte, codec uint64) (cid.Cid, error) {
	if err := ctx.Err(); err != nil {
		return cid.Undef, err
	}
	c, err := Sum(data, codec)
	if err != nil {
		return cid.Undef, err
	}
	key := c.KeyString()
	if ok, err := s.blocks.Has(key); err != nil {
		return cid.Undef, err
	} else if !ok {
		if err := s.blocks.Put(key, data); err != nil {
			return cid.Undef, fmt.Errorf("put block: %w", err)
		}
	}
	s.cache.Add(key, data)
	return c, nil
}

// GetBlock returns the bytes stored under c.
func (s *Store) GetBlock(ctx context.Context, c cid.Cid) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !c.Defined() {
		return nil, fmt.Errorf("%w: undefined cid", ErrBlockNotFound)
	}
	key := c.KeyString()
	if data, ok := s.cache.Get(key); ok {
		return data, nil
	}

	data, err := s.blocks.Get(key)
	if kv.IsNotFound(err) {
		return nil, fmt.Errorf("%w: %s", ErrBlockNotFound, c)
	}
	if err != nil {
		return nil, err
	}
	sum, err := c.Prefix().Sum(data)
	if err != nil || !sum.Equals(c) {
		return nil, fmt.Errorf("%w: %s", ErrBlockCorrupt, c)
	}
	s.cache.Add(key, data)
	return data, nil
}

// Has reports whether a block for c is stored.
func (s *Store) Has(c cid.Cid) (bool, error) {
	return s.blocks.Has(c.KeyString())
}

// Store encodes v as JSON and stores it as a dag-json block.
func (s *Store) Store(ctx context.Context, v any) (cid.Cid, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return cid.Undef, fmt.Errorf("encode document: %w", err)
	}
	return s.PutBlock(ctx, data, cid.DagJSON)
}

// Load decodes the dag-json block at c into v.
func (s *Store) Load(ctx context.Context, c cid.Cid, v any) error {
	data, err := s.GetBlock(ctx, c)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode document %s: %w", c, err)
	}
	return nil
}

// StoreEncrypted encodes v as JSON, seals it and stores the envelope as a
// raw block.
func (s *Store) StoreEncrypted(ctx context.Context, v any) (cid.Cid, error) {
	if s.sealer == nil {
		return cid.Undef, ErrNoSealer
	}
	data, err := json.Marshal(v)
	if err != nil {
		return cid.Undef, fmt.Errorf("encode document: %w", err)
	}
	sealed, err := s.sealer.Seal(ctx, data)
	if err != nil {
		return cid.Undef, fmt.Errorf("seal document: %w", err)
	}
	return s.PutBlock(ctx, sealed, cid.Raw)
}

// LoadDecrypted opens the sealed block at c and decodes it into v.
func (s *Store) LoadDecrypted(ctx context.Context, c cid.Cid, v any) error {
	if s.sealer == nil {
		return ErrNoSealer
	}
	sealed, err := s.GetBlock(ctx, c)
	if err != nil {
		return err
	}
	data, err := s.sealer.Open(ctx, sealed)
	if err != nil {
		return fmt.Errorf("open document %s: %w", c, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode document %s: %w", c, err)
	}
	return nil
}
