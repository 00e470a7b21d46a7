package node

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sensei-labs/senseid/store"
)

func TestAddKnownPeerThenListReturnsIt(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	pm := newPeerManager(db, "node-1")

	require.NoError(t, pm.AddKnownPeer(ctx, "02aa", "alice", "trusted", true))

	peers, err := pm.ListKnownPeers(ctx)
	require.NoError(t, err)
	require.Len(t, peers, 1)
	require.Equal(t, "02aa", peers[0].Pubkey)
	require.Equal(t, "alice", peers[0].Alias)
	require.True(t, peers[0].ZeroConf)
}

func TestRemoveKnownPeerDropsIt(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	pm := newPeerManager(db, "node-1")

	require.NoError(t, pm.AddKnownPeer(ctx, "02aa", "alice", "", false))
	require.NoError(t, pm.RemoveKnownPeer(ctx, "02aa"))

	peers, err := pm.ListKnownPeers(ctx)
	require.NoError(t, err)
	require.Empty(t, peers)
}

func TestResolveAddressReturnsEmptyWhenUnknown(t *testing.T) {
	db := newTestDB(t)
	pm := newPeerManager(db, "node-1")

	addr, err := pm.ResolveAddress(context.Background(), "02aa")
	require.NoError(t, err)
	require.Equal(t, "", addr)
}

func TestRecordAddressThenResolveReturnsIt(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	pm := newPeerManager(db, "node-1")

	require.NoError(t, pm.RecordAddress(ctx, "02aa", "10.0.0.1:9735", store.PeerAddressSourceManual))

	addr, err := pm.ResolveAddress(ctx, "02aa")
	require.NoError(t, err)
	require.Equal(t, "10.0.0.1:9735", addr)
}

// PeerManager scopes every read and write to its own nodeID: two hosted
// nodes tracking the same pubkey must not see each other's rows.
func TestPeerManagerIsolatesByNodeID(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	pm1 := newPeerManager(db, "node-1")
	pm2 := newPeerManager(db, "node-2")

	require.NoError(t, pm1.AddKnownPeer(ctx, "02aa", "alice", "", false))

	peers2, err := pm2.ListKnownPeers(ctx)
	require.NoError(t, err)
	require.Empty(t, peers2)
}
