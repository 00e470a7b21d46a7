package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sensei-labs/senseid/config"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()

	dir := t.TempDir()
	dsn := filepath.Join(dir, "senseid.db")

	db, err := Open(&config.Database{Backend: "sqlite", DSN: dsn})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return db
}

func TestNodeCRUD(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	n := &Node{
		ID: "node-1", Role: NodeRoleDefault, Username: "alice", Alias: "alice-node",
		Network: "regtest", ListenAddr: "0.0.0.0", ListenPort: 9735,
		Status: NodeStatusStopped, CreatedAt: 1, UpdatedAt: 1,
	}
	require.NoError(t, db.CreateNode(ctx, n))

	got, err := db.GetNode(ctx, "node-1")
	require.NoError(t, err)
	require.Equal(t, n.Username, got.Username)

	got2, err := db.GetNodeByUsername(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, n.ID, got2.ID)

	require.NoError(t, db.UpdateNodeStatus(ctx, "node-1", NodeStatusRunning, 2))
	got3, err := db.GetNode(ctx, "node-1")
	require.NoError(t, err)
	require.Equal(t, NodeStatusRunning, got3.Status)

	require.NoError(t, db.DeleteNode(ctx, "node-1"))
	_, err = db.GetNode(ctx, "node-1")
	require.Error(t, err)
}

func TestListNodesPagination(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		n := &Node{
			ID: string(rune('a' + i)), Username: "user" + string(rune('a'+i)),
			Alias: "a", Network: "regtest", ListenAddr: "0.0.0.0", ListenPort: 9735,
			CreatedAt: int64(i), UpdatedAt: int64(i),
		}
		require.NoError(t, db.CreateNode(ctx, n))
	}

	res, err := db.ListNodes(ctx, ListNodesParams{Limit: 2})
	require.NoError(t, err)
	require.Len(t, res.Nodes, 2)
	require.True(t, res.HasMore)
	require.Equal(t, 5, res.Total)
}

func TestAccessTokenSingleUseRedeem(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	tok := &AccessToken{
		ID: "tok-1", Token: "abc123", Name: "bootstrap", Scope: "*",
		SingleUse: true, ExpiresAt: 0, CreatedAt: 1, UpdatedAt: 1,
	}
	require.NoError(t, db.CreateAccessToken(ctx, tok))

	got, err := db.RedeemAccessToken(ctx, "abc123")
	require.NoError(t, err)
	require.Equal(t, "bootstrap", got.Name)

	_, err = db.RedeemAccessToken(ctx, "abc123")
	require.Error(t, err)
}

func TestMacaroonUpsert(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.UpsertMacaroon(ctx, &Macaroon{
		ID: "mac-1", NodeID: "node-1", EncryptedMacaroon: []byte("v1"), CreatedAt: 1, UpdatedAt: 1,
	}))
	require.NoError(t, db.UpsertMacaroon(ctx, &Macaroon{
		ID: "mac-2", NodeID: "node-1", EncryptedMacaroon: []byte("v2"), CreatedAt: 1, UpdatedAt: 2,
	}))

	got, err := db.GetMacaroon(ctx, "node-1")
	require.NoError(t, err)
	require.Equal(t, []byte("v2"), got.EncryptedMacaroon)
}

func TestPeerAddressSourcePriority(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.RecordPeerAddress(ctx, &PeerAddress{
		ID: "pa-1", NodeID: "node-1", Pubkey: "03aa", Address: "gossip:9735",
		Source: PeerAddressSourceGossip, LastConnectedAt: 10, CreatedAt: 10, UpdatedAt: 10,
	}))

	// A lower-priority gossip update with a later timestamp still wins
	// over an older gossip entry.
	require.NoError(t, db.RecordPeerAddress(ctx, &PeerAddress{
		ID: "pa-2", NodeID: "node-1", Pubkey: "03aa", Address: "gossip2:9735",
		Source: PeerAddressSourceGossip, LastConnectedAt: 20, CreatedAt: 20, UpdatedAt: 20,
	}))
	got, err := db.GetPeerAddress(ctx, "node-1", "03aa")
	require.NoError(t, err)
	require.Equal(t, "gossip2:9735", got.Address)

	// A manual address always outranks gossip, even an older one.
	require.NoError(t, db.RecordPeerAddress(ctx, &PeerAddress{
		ID: "pa-3", NodeID: "node-1", Pubkey: "03aa", Address: "manual:9735",
		Source: PeerAddressSourceManual, LastConnectedAt: 5, CreatedAt: 5, UpdatedAt: 5,
	}))
	got, err = db.GetPeerAddress(ctx, "node-1", "03aa")
	require.NoError(t, err)
	require.Equal(t, "manual:9735", got.Address)

	// A later gossip observation cannot clobber the manual entry.
	require.NoError(t, db.RecordPeerAddress(ctx, &PeerAddress{
		ID: "pa-4", NodeID: "node-1", Pubkey: "03aa", Address: "gossip3:9735",
		Source: PeerAddressSourceGossip, LastConnectedAt: 999, CreatedAt: 999, UpdatedAt: 999,
	}))
	got, err = db.GetPeerAddress(ctx, "node-1", "03aa")
	require.NoError(t, err)
	require.Equal(t, "manual:9735", got.Address)
}

func TestKvPutGetDelete(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.KvPut(ctx, "node-1", "graph/node/03aa", []byte("blob"), 1))
	v, err := db.KvGet(ctx, "node-1", "graph/node/03aa")
	require.NoError(t, err)
	require.Equal(t, []byte("blob"), v)

	keys, err := db.KvListKeys(ctx, "node-1", "graph/")
	require.NoError(t, err)
	require.Contains(t, keys, "graph/node/03aa")

	require.NoError(t, db.KvDelete(ctx, "node-1", "graph/node/03aa"))
	v, err = db.KvGet(ctx, "node-1", "graph/node/03aa")
	require.NoError(t, err)
	require.Nil(t, v)
}

func TestNextDerivationIndexIsMonotonic(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.CreateKeychain(ctx, &Keychain{
		ID: "kc-1", NodeID: "node-1", Name: "external", DescriptorChecksum: "abc",
		LastDerivationIndex: 0, CreatedAt: 1, UpdatedAt: 1,
	}))

	first, err := db.NextDerivationIndex(ctx, "node-1", "external")
	require.NoError(t, err)
	require.EqualValues(t, 1, first)

	second, err := db.NextDerivationIndex(ctx, "node-1", "external")
	require.NoError(t, err)
	require.EqualValues(t, 2, second)
}
