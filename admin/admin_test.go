package admin

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/require"

	"github.com/sensei-labs/senseid/auth"
	"github.com/sensei-labs/senseid/config"
	"github.com/sensei-labs/senseid/store"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	dir := t.TempDir()
	db, err := store.Open(&config.Database{Backend: "sqlite", DSN: filepath.Join(dir, "senseid.db")})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	svc := New(Config{DB: db, Params: &chaincfg.RegressionNetParams})
	require.NoError(t, svc.Bootstrap(context.Background()))
	return svc
}

// TestCreateAdminStartAdminCreateNodeScenario exercises spec.md §8's
// concrete scenario: CreateAdmin with start:true yields a pubkey, a root
// access token minted with CreateToken and scope ScopeAll validates, and
// a second, non-root node can then be created and both nodes listed.
func TestCreateAdminStartAdminCreateNodeScenario(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	adminResult, err := svc.CreateAdmin(ctx, CreateNodeRequest{
		Username: "root", Passphrase: "pw", Start: true,
	})
	require.NoError(t, err)
	require.NotEmpty(t, adminResult.IdentityPubkey)

	status, err := svc.GetStatus(ctx)
	require.NoError(t, err)
	require.Equal(t, adminResult.Node.ID, status.AdminNodeID)
	require.True(t, status.AdminRunning)
	require.Equal(t, 1, status.TotalNodes)

	token, err := svc.CreateToken(ctx, CreateTokenRequest{Name: "root-token", Scope: auth.ScopeAll})
	require.NoError(t, err)

	_, err = auth.ValidateAccessToken(ctx, svc.db, time.Now().Unix(), token.Token, auth.ScopeAll)
	require.NoError(t, err)

	aliceResult, err := svc.CreateNode(ctx, CreateNodeRequest{
		Username: "alice", Passphrase: "alicepw", Start: true,
	})
	require.NoError(t, err)
	require.NotEmpty(t, aliceResult.IdentityPubkey)
	require.NotEqual(t, adminResult.IdentityPubkey, aliceResult.IdentityPubkey)

	listed, err := svc.ListNodes(ctx, store.ListNodesParams{})
	require.NoError(t, err)
	require.Len(t, listed.Nodes, 2)
}

func TestCreateAdminTwiceFails(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateAdmin(ctx, CreateNodeRequest{Username: "root", Passphrase: "pw", Start: true})
	require.NoError(t, err)

	_, err = svc.CreateAdmin(ctx, CreateNodeRequest{Username: "root2", Passphrase: "pw"})
	require.Error(t, err)
}

func TestDeleteNodeRequiresStopped(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	result, err := svc.CreateNode(ctx, CreateNodeRequest{Username: "bob", Passphrase: "pw", Start: true})
	require.NoError(t, err)

	require.Error(t, svc.DeleteNode(ctx, result.Node.ID))

	require.NoError(t, svc.StopNode(ctx, result.Node.ID))
	require.NoError(t, svc.DeleteNode(ctx, result.Node.ID))

	listed, err := svc.ListNodes(ctx, store.ListNodesParams{})
	require.NoError(t, err)
	require.Len(t, listed.Nodes, 0)
}

func TestStartAdminAfterBootstrapRestart(t *testing.T) {
	dir := t.TempDir()
	dsn := filepath.Join(dir, "senseid.db")

	db, err := store.Open(&config.Database{Backend: "sqlite", DSN: dsn})
	require.NoError(t, err)
	svc := New(Config{DB: db, Params: &chaincfg.RegressionNetParams})
	require.NoError(t, svc.Bootstrap(context.Background()))

	result, err := svc.CreateAdmin(context.Background(), CreateNodeRequest{Username: "root", Passphrase: "pw", Start: true})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	// Simulate a process restart: a fresh Service against the same DB
	// must find the admin node but must not auto-start it.
	db2, err := store.Open(&config.Database{Backend: "sqlite", DSN: dsn})
	require.NoError(t, err)
	t.Cleanup(func() { db2.Close() })

	svc2 := New(Config{DB: db2, Params: &chaincfg.RegressionNetParams})
	require.NoError(t, svc2.Bootstrap(context.Background()))

	status, err := svc2.GetStatus(context.Background())
	require.NoError(t, err)
	require.Equal(t, result.Node.ID, status.AdminNodeID)
	require.False(t, status.AdminRunning)

	require.NoError(t, svc2.StartAdmin(context.Background(), "pw"))
	status, err = svc2.GetStatus(context.Background())
	require.NoError(t, err)
	require.True(t, status.AdminRunning)
}

func TestTokenCRUD(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	token, err := svc.CreateToken(ctx, CreateTokenRequest{Name: "t1", Scope: "create_node"})
	require.NoError(t, err)

	tokens, err := svc.ListTokens(ctx)
	require.NoError(t, err)
	require.Len(t, tokens, 1)

	require.NoError(t, svc.DeleteToken(ctx, token.ID))
	tokens, err = svc.ListTokens(ctx)
	require.NoError(t, err)
	require.Len(t, tokens, 0)
}
