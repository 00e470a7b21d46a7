package p2p

import (
	"context"
	"encoding/hex"
	"path/filepath"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/require"

	"github.com/sensei-labs/senseid/config"
	"github.com/sensei-labs/senseid/kv"
	"github.com/sensei-labs/senseid/persist"
	"github.com/sensei-labs/senseid/store"
)

func newTestPlane(t *testing.T) *LocalPlane {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "senseid.db")
	db, err := store.Open(&config.Database{Backend: "sqlite", DSN: dsn})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	p := persist.New(kv.New(db, "p2p-plane"), persist.Config{})
	plane, err := NewLocalPlane(context.Background(), p)
	require.NoError(t, err)
	return plane
}

func testPubKey(t *testing.T) *btcec.PublicKey {
	t.Helper()
	seed := make([]byte, 32)
	seed[31] = 7
	_, pub := btcec.PrivKeyFromBytes(seed)
	return pub
}

func TestLocalPlaneNodeInfoRoundTrip(t *testing.T) {
	plane := newTestPlane(t)
	plane.AddNode("02aa", "alice", []string{"1.2.3.4:9735"})

	info, err := plane.NodeInfo(context.Background(), "02aa")
	require.NoError(t, err)
	require.Equal(t, "alice", info.Alias)

	_, err = plane.NodeInfo(context.Background(), "missing")
	require.Error(t, err)
}

func TestLocalPlaneFindRouteRequiresKnownDestination(t *testing.T) {
	plane := newTestPlane(t)
	pubKey := testPubKey(t)
	pubKeyHex := hex.EncodeToString(pubKey.SerializeCompressed())

	_, err := plane.FindRoute(context.Background(), RouteParams{
		Payer:       pubKey,
		Destination: pubKey,
		AmountMsat:  1000,
	})
	require.Error(t, err)

	plane.AddNode(pubKeyHex, "bob", nil)

	route, err := plane.FindRoute(context.Background(), RouteParams{
		Payer:       pubKey,
		Destination: pubKey,
		AmountMsat:  1000,
	})
	require.NoError(t, err)
	require.NotNil(t, route)
}

func TestLocalPlaneScorerPenaltyLifecycle(t *testing.T) {
	plane := newTestPlane(t)
	ctx := context.Background()

	penalty, err := plane.ChannelPenaltyMsat(ctx, 42, 1000)
	require.NoError(t, err)
	require.Equal(t, int64(0), penalty)

	require.NoError(t, plane.PaymentPathFailed(ctx, &Route{}, 42))
	penalty, err = plane.ChannelPenaltyMsat(ctx, 42, 1000)
	require.NoError(t, err)
	require.Equal(t, int64(penaltyIncrementMsat), penalty)

	require.NoError(t, plane.PaymentPathSuccessful(ctx, &Route{}))
	penalty, err = plane.ChannelPenaltyMsat(ctx, 42, 1000)
	require.NoError(t, err)
	require.Equal(t, int64(penaltyIncrementMsat-penaltyDecayMsat), penalty)
}
