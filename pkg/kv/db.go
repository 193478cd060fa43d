// Package kv provides prefix-isolated key/value stores on top of a single
// badger database. Each component gets its own keyspace:
//
//	b/  content blocks
//	p/  pins
//	c/  local cache slots
//	i/  identity server records
package kv

import (
	"fmt"
	"os"

	"github.com/dgraph-io/badger/v4"
)

// DB owns the badger database shared by all stores.
type DB struct {
	db *badger.DB
}

// Open opens the database at path. An empty path opens an in-memory
// database that does not survive restarts.
func Open(path string) (*DB, error) {
	opts := badger.DefaultOptions(path)
	if path == "" {
		opts = opts.WithInMemory(true)
	} else if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &DB{db: db}, nil
}

// Store returns a store whose keys are transparently prefixed with prefix.
func (d *DB) Store(prefix string) *Store {
	return &Store{db: d.db, prefix: []byte(prefix)}
}

// Close closes the database.
func (d *DB) Close() error {
	return d.db.Close()
}
