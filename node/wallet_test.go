package node

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/require"

	"github.com/sensei-labs/senseid/config"
	"github.com/sensei-labs/senseid/kv"
	"github.com/sensei-labs/senseid/persist"
	"github.com/sensei-labs/senseid/store"
)

func newTestDB(t *testing.T) *store.DB {
	t.Helper()
	dir := t.TempDir()
	db, err := store.Open(&config.Database{Backend: "sqlite", DSN: filepath.Join(dir, "senseid.db")})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestWallet(t *testing.T, db *store.DB, nodeID string) *Wallet {
	t.Helper()
	ctx := context.Background()
	persister := persist.New(kv.New(db, nodeID), persist.Config{})
	w, err := newWallet(ctx, db, nodeID, []byte("passphrase"), persister, &chaincfg.RegressionNetParams, nil, nil)
	require.NoError(t, err)
	return w
}

func TestWalletSeedPersistsAcrossRestarts(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	persister := persist.New(kv.New(db, "node-1"), persist.Config{})

	w1, err := newWallet(ctx, db, "node-1", []byte("pw"), persister, &chaincfg.RegressionNetParams, nil, nil)
	require.NoError(t, err)

	w2, err := newWallet(ctx, db, "node-1", []byte("pw"), persister, &chaincfg.RegressionNetParams, nil, nil)
	require.NoError(t, err)

	require.Equal(t, w1.seed, w2.seed, "restarting a node must reuse its sealed seed, not mint a new one")
}

func TestIdentityKeyIsStable(t *testing.T) {
	w := newTestWallet(t, newTestDB(t), "node-1")

	k1, err := w.IdentityKey()
	require.NoError(t, err)
	k2, err := w.IdentityKey()
	require.NoError(t, err)

	require.True(t, k1.PubKey().IsEqual(k2.PubKey()), "identity key must be deterministic across calls")
}

func TestGetUnusedAddressAdvancesDerivationIndex(t *testing.T) {
	db := newTestDB(t)
	w := newTestWallet(t, db, "node-1")
	ctx := context.Background()

	addr1, err := w.GetUnusedAddress(ctx, KeychainExternal)
	require.NoError(t, err)
	addr2, err := w.GetUnusedAddress(ctx, KeychainExternal)
	require.NoError(t, err)

	require.NotEqual(t, addr1, addr2, "every call must hand out a fresh address")
}
