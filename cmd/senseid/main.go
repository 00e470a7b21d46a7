// senseid is the multi-tenant Lightning service node daemon, the
// process entry point SPEC_FULL.md §2's "(entry points)" row names.
// Structured as a nested real-main function so deferred cleanup still
// runs on a graceful shutdown, matching lnd.go's lndMain()/main() split.
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"io/ioutil"
	"net"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/jrick/logrotate/rotator"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sensei-labs/senseid/admin"
	"github.com/sensei-labs/senseid/build"
	"github.com/sensei-labs/senseid/chainbackend"
	remotechain "github.com/sensei-labs/senseid/chainbackend/remote"
	"github.com/sensei-labs/senseid/chainsync"
	"github.com/sensei-labs/senseid/config"
	"github.com/sensei-labs/senseid/internal/eventbus"
	"github.com/sensei-labs/senseid/kv"
	"github.com/sensei-labs/senseid/p2p"
	remoteplane "github.com/sensei-labs/senseid/p2p/remote"
	"github.com/sensei-labs/senseid/persist"
	"github.com/sensei-labs/senseid/store"
)

var log = build.SubLogger(build.SubsystemDaemon)

// sharedPlaneNodeID namespaces the process-wide gossip graph/scorer
// persisted state, which belongs to no single hosted node. kv_store's
// foreign key to nodes is enforced at the application level only (see
// store.DeleteNode's comment), so a reserved id that never appears in
// the nodes table is safe to use as a namespace here.
const sharedPlaneNodeID = "__network__"

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

func loadRPCCert(cfg *config.Bitcoin) ([]byte, error) {
	if cfg.RawRPCCert != "" {
		return hex.DecodeString(cfg.RawRPCCert)
	}
	if cfg.RPCCert != "" {
		return ioutil.ReadFile(cfg.RPCCert)
	}
	return nil, nil
}

// newChainBackend selects the local-or-remote ChainBackend per
// spec.md §6, generalizing chainregistry.go's Node-kind branch: "remote"
// delegates every chain query over HTTP to another senseid instance,
// anything else dials a local full node's RPC directly. Neutrino is a
// valid config choice but isn't wired here -- bootstrapping an embedded
// SPV node (peer discovery, header sync) is out of scope for this entry
// point; see DESIGN.md.
func newChainBackend(cfg *config.Config) (chainbackend.Source, chainbackend.Broadcaster, chainbackend.FeeEstimator, error) {
	if cfg.RemoteChain != nil && cfg.RemoteChain.Host != "" {
		client := remotechain.New(cfg.RemoteChain.Host, cfg.RemoteChain.Token)
		return client, client, client, nil
	}

	switch cfg.Bitcoin.Node {
	case "btcd", "bitcoind", "":
		cert, err := loadRPCCert(&cfg.Bitcoin)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("loading chain backend cert: %w", err)
		}
		rpc, err := chainbackend.NewRPC(cfg.Bitcoin.RPCHost, cfg.Bitcoin.RPCUser, cfg.Bitcoin.RPCPass, cert)
		if err != nil {
			return nil, nil, nil, err
		}
		return rpc, nil, nil, nil
	default:
		return nil, nil, nil, fmt.Errorf("chain backend %q is not supported by this build (no remotechain configured)", cfg.Bitcoin.Node)
	}
}

// newP2PPlane selects the local-or-remote gossip/routing substrate per
// spec.md §4.4.
func newP2PPlane(ctx context.Context, cfg *config.Config, db *store.DB) (p2p.Plane, error) {
	if cfg.RemoteP2P != nil && cfg.RemoteP2P.Host != "" {
		return remoteplane.New(cfg.RemoteP2P.Host, cfg.RemoteP2P.Token), nil
	}

	sharedPersister := persist.New(kv.New(db, sharedPlaneNodeID), persist.Config{
		GraphFlushInterval: cfg.GraphPersistPeriod,
		ScorerInterval:     cfg.ScorerPersistPeriod,
	})
	plane, err := p2p.NewLocalPlane(ctx, sharedPersister)
	if err != nil {
		return nil, err
	}
	sharedPersister.Start()
	return plane, nil
}

// senseidMain is the real entry point; main() only handles the final
// error print and exit code so deferred cleanup above always runs.
func senseidMain() error {
	runtime.GOMAXPROCS(runtime.NumCPU())

	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		return err
	}
	if cfg.ShowVersion {
		fmt.Println("senseid")
		return nil
	}

	logDir := filepath.Join(cfg.DataDir, "logs")
	if err := os.MkdirAll(logDir, 0700); err != nil {
		return fmt.Errorf("creating log dir: %w", err)
	}
	logRotator, err := rotator.New(filepath.Join(logDir, "senseid.log"), 10*1024, false, 3)
	if err != nil {
		return fmt.Errorf("initializing log rotator: %w", err)
	}
	defer logRotator.Close()
	build.SetLogWriter(logRotator)

	log.Infof("starting senseid, datadir=%s", cfg.DataDir)

	if cfg.Profile != "" {
		go func() {
			addr := net.JoinHostPort("", cfg.Profile)
			log.Infof("profiling server listening on %s", addr)
			if err := http.ListenAndServe(addr, nil); err != nil {
				log.Errorf("profiling server exited: %v", err)
			}
		}()
	}

	db, err := store.Open(&cfg.Database)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer db.Close()

	ctx := context.Background()

	backend, broadcaster, feeEstimator, err := newChainBackend(cfg)
	if err != nil {
		return err
	}
	chainMgr := chainsync.New(chainsync.Config{Backend: backend, PollInterval: cfg.ChainPollInterval})
	if err := chainMgr.Start(ctx); err != nil {
		return fmt.Errorf("starting chain manager: %w", err)
	}
	defer chainMgr.Stop()

	plane, err := newP2PPlane(ctx, cfg, db)
	if err != nil {
		return fmt.Errorf("starting p2p plane: %w", err)
	}

	bus := eventbus.New()

	svc := admin.New(admin.Config{
		DB:                 db,
		Chain:              chainMgr,
		Plane:              plane,
		Bus:                bus,
		Params:             networkParams(cfg.Bitcoin.Network),
		Broadcaster:        broadcaster,
		FeeEstimator:       feeEstimator,
		GraphFlushInterval: cfg.GraphPersistPeriod,
		ScorerInterval:     cfg.ScorerPersistPeriod,
	})
	if err := svc.Bootstrap(ctx); err != nil {
		return fmt.Errorf("admin bootstrap: %w", err)
	}

	// The RPC surface itself (the generated transport a real admin/node
	// API would sit behind) is out of scope; RPCListen still hosts the
	// one concrete HTTP endpoint this build exposes, the Prometheus
	// registry's scrape target.
	if cfg.RPCListen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(svc.Registry(), promhttp.HandlerOpts{}))
		go func() {
			log.Infof("metrics listening on %s", cfg.RPCListen)
			if err := http.ListenAndServe(cfg.RPCListen, mux); err != nil {
				log.Errorf("metrics server exited: %v", err)
			}
		}()
	}

	log.Infof("senseid ready")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Infof("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := svc.Shutdown(shutdownCtx); err != nil {
		log.Errorf("error during shutdown: %v", err)
	}
	log.Infof("shutdown complete")
	return nil
}

func main() {
	if err := senseidMain(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
