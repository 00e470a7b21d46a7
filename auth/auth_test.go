package auth

import (
	"context"
	"crypto/rand"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"github.com/sensei-labs/senseid/config"
	"github.com/sensei-labs/senseid/esenseid"
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

func randBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}

func TestScopeGranted(t *testing.T) {
	require.True(t, ScopeGranted("*", "node:start"))
	require.True(t, ScopeGranted("node:start,node:stop", "node:stop"))
	require.False(t, ScopeGranted("node:start", "node:stop"))
}

func TestValidateAccessTokenSingleUse(t *testing.T) {
	db := newTestDB(t)
	token, err := NewBearerToken(randBytes)
	require.NoError(t, err)

	require.NoError(t, db.CreateAccessToken(context.Background(), &store.AccessToken{
		ID: "tok-1", Token: token, Name: "test", Scope: "*", SingleUse: true,
		CreatedAt: 1, UpdatedAt: 1,
	}))

	_, err = ValidateAccessToken(context.Background(), db, 100, token, "node:start")
	require.NoError(t, err)

	_, err = ValidateAccessToken(context.Background(), db, 100, token, "node:start")
	require.Error(t, err)
}

func TestValidateAccessTokenExpired(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.CreateAccessToken(context.Background(), &store.AccessToken{
		ID: "tok-1", Token: "abc", Name: "test", Scope: "*", SingleUse: false,
		ExpiresAt: 50, CreatedAt: 1, UpdatedAt: 1,
	}))

	_, err := ValidateAccessToken(context.Background(), db, 100, "abc", "node:start")
	require.ErrorIs(t, err, esenseid.ErrUnauthenticated)
}

func fixedRootKey(nodeID string) ([]byte, error) {
	key := make([]byte, 32)
	copy(key, nodeID)
	return key, nil
}

func TestMacaroonMintAndVerify(t *testing.T) {
	svc := NewMacaroonService(fixedRootKey)

	mac, err := svc.Mint("node-1", []string{"node:start", "node:stop"}, time.Time{})
	require.NoError(t, err)

	nodeID, err := svc.Verify(mac, "node:stop")
	require.NoError(t, err)
	require.Equal(t, "node-1", nodeID)

	_, err = svc.Verify(mac, "node:delete")
	require.Error(t, err)
}

func TestMacaroonExpiry(t *testing.T) {
	svc := NewMacaroonService(fixedRootKey)

	mac, err := svc.Mint("node-1", []string{"*"}, time.Now().Add(-time.Minute))
	require.NoError(t, err)

	_, err = svc.Verify(mac, "node:start")
	require.Error(t, err)
}

func TestMiddlewareRejectsMissingCredentials(t *testing.T) {
	db := newTestDB(t)
	svc := NewMacaroonService(fixedRootKey)
	mw := Middleware(db, svc, func(string) string { return "node:start" }, func() int64 { return 0 })

	handlerCalled := false
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		handlerCalled = true
		return nil, nil
	}

	_, err := mw(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/senseid.Node/StartNode"}, handler)
	require.Error(t, err)
	require.False(t, handlerCalled)
}

func TestMiddlewareAcceptsValidMacaroon(t *testing.T) {
	db := newTestDB(t)
	svc := NewMacaroonService(fixedRootKey)
	mw := Middleware(db, svc, func(string) string { return "node:start" }, func() int64 { return 0 })

	mac, err := svc.Mint("node-1", []string{"*"}, time.Time{})
	require.NoError(t, err)

	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("macaroon-bin", string(mac)))

	var sawNodeID string
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		sawNodeID, _ = NodeIDFromContext(ctx)
		return "ok", nil
	}

	resp, err := mw(ctx, nil, &grpc.UnaryServerInfo{FullMethod: "/senseid.Node/StartNode"}, handler)
	require.NoError(t, err)
	require.Equal(t, "ok", resp)
	require.Equal(t, "node-1", sawNodeID)
}
