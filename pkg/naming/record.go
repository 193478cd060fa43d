// Package naming maps a node's public key to the most recently published
// CID of its identity document. Records are signed by the node's libp2p key
// and stored in a dedicated DHT namespace.
package naming

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ipfs/go-cid"
	json "github.com/json-iterator/go"
	record "github.com/libp2p/go-libp2p-record"
	ic "github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
)

// Namespace is the DHT namespace for name records.
const Namespace = "cinderlink"

var (
	// ErrNotFound is returned when no record exists for a peer.
	ErrNotFound = errors.New("name record not found")

	// ErrInvalidRecord is returned for malformed or badly signed records.
	ErrInvalidRecord = errors.New("invalid name record")
)

// Resolver resolves and publishes identity roots.
type Resolver interface {
	// Resolve returns the latest CID published by id, or ErrNotFound.
	Resolve(ctx context.Context, id peer.ID) (cid.Cid, error)

	// Publish announces c as the local node's current root.
	Publish(ctx context.Context, c cid.Cid) error
}

// Record is a signed name entry.
type Record struct {
	CID       string `json:"cid"`
	Seq       uint64 `json:"seq"`
	Signature []byte `json:"sig"`
}

// Key returns the namespaced DHT key for id.
func Key(id peer.ID) string {
	return "/" + Namespace + "/" + string(id)
}

func signedBytes(c string, seq uint64) []byte {
	return []byte("cinderlink-name:" + c + ":" + strconv.FormatUint(seq, 10))
}

// NewRecord signs a record for c with priv.
func NewRecord(priv ic.PrivKey, c cid.Cid, seq uint64) ([]byte, error) {
	sig, err := priv.Sign(signedBytes(c.String(), seq))
	if err != nil {
		return nil, fmt.Errorf("sign name record: %w", err)
	}
	return json.Marshal(Record{CID: c.String(), Seq: seq, Signature: sig})
}

// Validator checks that records under /cinderlink/<peer-id> are signed by
// the key embedded in the peer ID, and prefers the highest sequence number.
type Validator struct{}

var _ record.Validator = Validator{}

// Validate implements record.Validator.
func (Validator) Validate(key string, value []byte) error {
	_, err := parse(key, value)
	return err
}

// Select implements record.Validator.
func (Validator) Select(key string, vals [][]byte) (int, error) {
	best := -1
	var bestRec *Record
	for i, v := range vals {
		rec, err := parse(key, v)
		if err != nil {
			continue
		}
		if bestRec == nil || rec.Seq > bestRec.Seq ||
			(rec.Seq == bestRec.Seq && bytes.Compare(v, vals[best]) > 0) {
			best, bestRec = i, rec
		}
	}
	if best < 0 {
		return 0, ErrInvalidRecord
	}
	return best, nil
}

func parse(key string, value []byte) (*Record, error) {
	rest, ok := strings.CutPrefix(key, "/"+Namespace+"/")
	if !ok {
		return nil, fmt.Errorf("%w: bad key namespace", ErrInvalidRecord)
	}
	id, err := peer.IDFromBytes([]byte(rest))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	pub, err := id.ExtractPublicKey()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}

	var rec Record
	if err := json.Unmarshal(value, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	if _, err := cid.Decode(rec.CID); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	ok, err = pub.Verify(signedBytes(rec.CID, rec.Seq), rec.Signature)
	if err != nil || !ok {
		return nil, fmt.Errorf("%w: bad signature", ErrInvalidRecord)
	}
	return &rec, nil
}
