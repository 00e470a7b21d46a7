package node

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sensei-labs/senseid/kv"
	"github.com/sensei-labs/senseid/persist"
	"github.com/sensei-labs/senseid/store"
)

func newTestChannelManager(t *testing.T, db *store.DB, nodeID string) *ChannelManager {
	t.Helper()
	persister := persist.New(kv.New(db, nodeID), persist.Config{})
	cm, err := newChannelManager(context.Background(), db, nodeID, persister, nil)
	require.NoError(t, err)
	return cm
}

func TestAcceptInboundRejectsUnknownPeer(t *testing.T) {
	db := newTestDB(t)
	cm := newTestChannelManager(t, db, "node-1")

	_, err := cm.AcceptInbound(context.Background(), "02aa")
	require.Error(t, err)
}

func TestAcceptInboundHonorsZeroConfFlag(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Now().Unix()

	require.NoError(t, db.UpsertPeer(ctx, &store.Peer{
		ID: "p1", NodeID: "node-1", Pubkey: "02aa", ZeroConf: true,
		CreatedAt: now, UpdatedAt: now,
	}))

	cm := newTestChannelManager(t, db, "node-1")
	zeroConf, err := cm.AcceptInbound(ctx, "02aa")
	require.NoError(t, err)
	require.True(t, zeroConf)
}

func TestChannelMonitorSurvivesRestart(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	cm1 := newTestChannelManager(t, db, "node-1")
	require.NoError(t, cm1.commit(ctx, &ChannelState{
		FundingOutpoint: "abcd:0", PeerPubkey: "02aa", CapacityMsat: 1_000_000,
	}))

	cm2 := newTestChannelManager(t, db, "node-1")
	state := cm2.Get("abcd:0")
	require.NotNil(t, state, "a channel monitor committed before restart must be restored after it")
	require.Equal(t, int64(1_000_000), state.CapacityMsat)
}

func TestCloseChannelIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	cm := newTestChannelManager(t, db, "node-1")

	require.NoError(t, cm.commit(ctx, &ChannelState{FundingOutpoint: "abcd:0", PeerPubkey: "02aa"}))
	require.NoError(t, cm.Close(ctx, "abcd:0", false))
	closedAt := cm.Get("abcd:0").ClosedAt

	require.NoError(t, cm.Close(ctx, "abcd:0", true))
	require.Equal(t, closedAt, cm.Get("abcd:0").ClosedAt, "closing an already-closed channel must not bump its close time")
}
