package kv

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open("")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestStore_GetPutDelete(t *testing.T) {
	s := openTestDB(t).Store("b/")

	_, err := s.Get("missing")
	assert.True(t, IsNotFound(err))

	require.NoError(t, s.Put("k", []byte("v")))
	got, err := s.Get("k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

	ok, err := s.Has("k")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, s.Delete("k"))
	require.NoError(t, s.Delete("k"))
	ok, err = s.Has("k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_PrefixIsolation(t *testing.T) {
	db := openTestDB(t)
	a := db.Store("a/")
	b := db.Store("b/")

	require.NoError(t, a.Put("k", []byte("from-a")))
	_, err := b.Get("k")
	assert.True(t, IsNotFound(err))

	require.NoError(t, b.Put("k", []byte("from-b")))
	got, err := a.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "from-a", string(got))
}

func TestStore_Keys(t *testing.T) {
	db := openTestDB(t)
	s := db.Store("p/")
	other := db.Store("q/")

	require.NoError(t, s.Put("x/1", nil))
	require.NoError(t, s.Put("x/2", nil))
	require.NoError(t, s.Put("y/1", nil))
	require.NoError(t, other.Put("x/3", nil))

	keys, err := s.Keys("x/")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"x/1", "x/2"}, keys)
}

func TestStore_JSON(t *testing.T) {
	s := openTestDB(t).Store("j/")
	type rec struct {
		CID string `json:"cid"`
		Seq int    `json:"seq"`
	}

	require.NoError(t, s.PutJSON("r", rec{CID: "bafy", Seq: 3}))
	var out rec
	require.NoError(t, s.GetJSON("r", &out))
	assert.Equal(t, rec{CID: "bafy", Seq: 3}, out)
}

func TestCache(t *testing.T) {
	c := NewCache(openTestDB(t).Store("c/"))

	_, ok, err := c.Get("rootCID")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set("rootCID", "bafyroot"))
	v, ok, err := c.Get("rootCID")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "bafyroot", v)
}

func TestOpen_OnDiskSurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	db, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, NewCache(db.Store("c/")).Set("rootCID", "bafyroot"))
	require.NoError(t, db.Close())

	db, err = Open(dir)
	require.NoError(t, err)
	defer db.Close()
	v, ok, err := NewCache(db.Store("c/")).Get("rootCID")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "bafyroot", v)
}
