package dag

import (
	"context"
	"fmt"

	"github.com/ipfs/go-cid"
)

// Pin marks c as retained. The block must already be stored.
func (s *Store) Pin(ctx context.Context, c cid.Cid) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ok, err := s.Has(c)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("pin %s: %w", c, ErrBlockNotFound)
	}
	return s.pins.Put(c.KeyString(), nil)
}

// Unpin releases c. Unpinning an unpinned CID is a no-op.
func (s *Store) Unpin(ctx context.Context, c cid.Cid) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.pins.Delete(c.KeyString())
}

// IsPinned reports whether c is pinned.
func (s *Store) IsPinned(c cid.Cid) (bool, error) {
	return s.pins.Has(c.KeyString())
}

// Pins lists pinned CIDs.
func (s *Store) Pins() ([]cid.Cid, error) {
	keys, err := s.pins.Keys("")
	if err != nil {
		return nil, err
	}
	out := make([]cid.Cid, 0, len(keys))
	for _, k := range keys {
		c, err := cid.Cast([]byte(k))
		if err != nil {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}
