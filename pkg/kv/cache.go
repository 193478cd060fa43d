package kv

// Cache is a set of named string slots that survive restarts when the
// underlying DB is on disk.
type Cache struct {
	store *Store
}

// NewCache returns a cache over store.
func NewCache(store *Store) *Cache {
	return &Cache{store: store}
}

// Get returns the slot value and whether it was set.
func (c *Cache) Get(key string) (string, bool, error) {
	val, err := c.store.Get(key)
	if IsNotFound(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return string(val), true, nil
}

// Set writes the slot.
func (c *Cache) Set(key, value string) error {
	return c.store.Put(key, []byte(value))
}
