package kv

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sensei-labs/senseid/config"
	"github.com/sensei-labs/senseid/store"
)

func newTestDB(t *testing.T) *store.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "senseid.db")
	db, err := store.Open(&config.Database{Backend: "sqlite", DSN: dsn})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestPutGetDelete(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	s := New(db, "node-1")

	v, err := s.Get(ctx, "foo")
	require.NoError(t, err)
	require.Nil(t, v)

	require.NoError(t, s.Put(ctx, "foo", []byte("bar"), 1))
	v, err = s.Get(ctx, "foo")
	require.NoError(t, err)
	require.Equal(t, []byte("bar"), v)

	require.NoError(t, s.Delete(ctx, "foo"))
	v, err = s.Get(ctx, "foo")
	require.NoError(t, err)
	require.Nil(t, v)
}

func TestMustGetMissingIsError(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	s := New(db, "node-1")

	_, err := s.MustGet(ctx, KeySeed)
	require.Error(t, err)
}

func TestListKeysPrefix(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	s := New(db, "node-1")

	require.NoError(t, s.Put(ctx, MonitorKey("txid:0"), []byte("a"), 1))
	require.NoError(t, s.Put(ctx, MonitorKey("txid:1"), []byte("b"), 1))
	require.NoError(t, s.Put(ctx, KeyGraph, []byte("c"), 1))

	keys, err := s.ListKeys(ctx, PrefixMonitor)
	require.NoError(t, err)
	require.Len(t, keys, 2)
}

func TestNamespaceIsolatedPerNode(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	a := New(db, "node-a")
	b := New(db, "node-b")

	require.NoError(t, a.Put(ctx, "key", []byte("a-value"), 1))
	v, err := b.Get(ctx, "key")
	require.NoError(t, err)
	require.Nil(t, v)
}
