package persist

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sensei-labs/senseid/config"
	"github.com/sensei-labs/senseid/kv"
	"github.com/sensei-labs/senseid/store"
)

func newTestKV(t *testing.T) *kv.Store {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "senseid.db")
	db, err := store.Open(&config.Database{Backend: "sqlite", DSN: dsn})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return kv.New(db, "node-1")
}

func TestMonitorRoundTrip(t *testing.T) {
	ctx := context.Background()
	p := New(newTestKV(t), Config{})

	_, found, err := p.GetMonitor(ctx, "txid:0")
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, p.PutMonitor(ctx, "txid:0", 1, []byte("state-v1")))
	mon, found, err := p.GetMonitor(ctx, "txid:0")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, uint64(1), mon.Sequence)
	require.Equal(t, []byte("state-v1"), mon.Payload)

	require.NoError(t, p.PutMonitor(ctx, "txid:0", 2, []byte("state-v2")))
	mon, _, err = p.GetMonitor(ctx, "txid:0")
	require.NoError(t, err)
	require.Equal(t, uint64(2), mon.Sequence)
	require.Equal(t, []byte("state-v2"), mon.Payload)
}

func TestMonitorCorruptionDetected(t *testing.T) {
	ctx := context.Background()
	kvStore := newTestKV(t)
	p := New(kvStore, Config{})

	require.NoError(t, p.PutMonitor(ctx, "txid:0", 1, []byte("state")))

	// Directly corrupt the stored bytes, bypassing the TLV encoder.
	require.NoError(t, kvStore.Put(ctx, kv.MonitorKey("txid:0"), []byte("not-a-tlv-stream"), 0))

	_, _, err := p.GetMonitor(ctx, "txid:0")
	require.Error(t, err)
}

func TestListMonitorOutpoints(t *testing.T) {
	ctx := context.Background()
	p := New(newTestKV(t), Config{})

	require.NoError(t, p.PutMonitor(ctx, "txid:0", 1, []byte("a")))
	require.NoError(t, p.PutMonitor(ctx, "txid:1", 1, []byte("b")))

	outpoints, err := p.ListMonitorOutpoints(ctx)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"txid:0", "txid:1"}, outpoints)
}

func TestGraphFlushOnStop(t *testing.T) {
	ctx := context.Background()
	p := New(newTestKV(t), Config{})
	p.Start()

	p.MarkGraphDirty([]byte("graph-snapshot"))
	p.Stop()

	snap, err := p.LoadGraph(ctx)
	require.NoError(t, err)
	require.Equal(t, []byte("graph-snapshot"), snap)
}

func TestSeedEncryptionRoundTrip(t *testing.T) {
	ctx := context.Background()
	p := New(newTestKV(t), Config{})

	passphrase := []byte("correct horse battery staple")
	seed := []byte("0123456789abcdef0123456789abcdef")

	require.NoError(t, p.StoreSeed(ctx, passphrase, seed))

	loaded, err := p.LoadSeed(ctx, passphrase)
	require.NoError(t, err)
	require.Equal(t, seed, loaded)

	_, err = p.LoadSeed(ctx, []byte("wrong passphrase"))
	require.Error(t, err)
}

func TestMacaroonEncryptionRoundTrip(t *testing.T) {
	ctx := context.Background()
	p := New(newTestKV(t), Config{})

	passphrase := []byte("passphrase")
	mac := []byte("fake-macaroon-bytes")

	require.NoError(t, p.StoreMacaroon(ctx, passphrase, "mac-1", mac))

	loaded, err := p.LoadMacaroon(ctx, passphrase, "mac-1")
	require.NoError(t, err)
	require.Equal(t, mac, loaded)
}
