// senseicli is the operator CLI for senseid, matching cmd/lncli's role
// for a single-tenant lnd process generalized to the multi-tenant admin
// surface. Since the admin/node RPC surface is plain Go methods with no
// generated transport (SPEC_FULL.md §2), this CLI does not dial a
// running daemon: it opens the same on-disk Store and config a senseid
// process would and drives admin.Service directly, the way an
// offline/maintenance tool would. Every command, read-only ones (status,
// list-*) included, first runs admin.Service.Bootstrap, which rewrites
// every node row's status to Stopped; against a data directory senseid
// is actively serving, that overwrites the live daemon's Running rows,
// and StartNode/StopNode issued this way race whatever the live
// daemon's own Directory believes is running.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/urfave/cli"

	"github.com/sensei-labs/senseid/admin"
	"github.com/sensei-labs/senseid/config"
	"github.com/sensei-labs/senseid/store"
)

// networkParams mirrors cmd/senseid's helper of the same name; kept as
// a small duplicate rather than a shared package since the two binaries
// otherwise share nothing beyond admin.Service and store.DB.
func networkParams(network string) *chaincfg.Params {
	switch network {
	case "mainnet":
		return &chaincfg.MainNetParams
	case "testnet":
		return &chaincfg.TestNet3Params
	case "signet":
		return &chaincfg.SigNetParams
	default:
		return &chaincfg.RegressionNetParams
	}
}

// openService loads the daemon's own config file (if present) to find
// its data directory/DB DSN, then constructs a bare admin.Service bound
// to that Store -- no chain backend, no p2p plane, since the commands
// this CLI exposes never need to synchronize a wallet to the chain tip
// or resolve a payment route, only create/list/start/stop node rows and
// tokens.
func openService(c *cli.Context) (*admin.Service, *store.DB, error) {
	cfg, err := config.Load(nil)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}

	db, err := store.Open(&cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("opening store: %w", err)
	}

	svc := admin.New(admin.Config{DB: db, Params: networkParams(cfg.Bitcoin.Network)})
	if err := svc.Bootstrap(context.Background()); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("bootstrap: %w", err)
	}
	return svc, db, nil
}

func withService(fn func(*cli.Context, *admin.Service) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		svc, db, err := openService(c)
		if err != nil {
			return err
		}
		defer db.Close()
		return fn(c, svc)
	}
}

func main() {
	app := cli.NewApp()
	app.Name = "senseicli"
	app.Usage = "operator CLI for senseid"
	app.Commands = []cli.Command{
		statusCommand,
		createAdminCommand,
		startAdminCommand,
		createNodeCommand,
		listNodesCommand,
		startNodeCommand,
		stopNodeCommand,
		deleteNodeCommand,
		listTokensCommand,
		createTokenCommand,
		deleteTokenCommand,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
