// Package admin implements Admin, spec.md §4.6: the node-lifecycle and
// credential-orchestration layer that sits one level above store's raw
// CRUD and directory's bare start/stop registry, the role server.go
// plays for a single lnd process generalized to many hosted node
// identities sharing one. Service is the package's single exported
// entry point; every operation spec.md §6 lists off Admin hangs off it.
package admin

import (
	"context"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sensei-labs/senseid/auth"
	"github.com/sensei-labs/senseid/build"
	"github.com/sensei-labs/senseid/chainbackend"
	"github.com/sensei-labs/senseid/chainsync"
	"github.com/sensei-labs/senseid/directory"
	"github.com/sensei-labs/senseid/esenseid"
	"github.com/sensei-labs/senseid/internal/eventbus"
	"github.com/sensei-labs/senseid/node"
	"github.com/sensei-labs/senseid/p2p"
	"github.com/sensei-labs/senseid/store"
)

var log = build.SubLogger(build.SubsystemAdmin)

// Config bundles the process-wide collaborators Admin threads through
// to every hosted node it starts, mirroring node.Deps minus HTLCSender
// (Service supplies its own, routing same-process payments directly
// between hosted nodes rather than over a transport).
type Config struct {
	DB     *store.DB
	Chain  *chainsync.Manager
	Plane  p2p.Plane
	Bus    *eventbus.Bus
	Params *chaincfg.Params

	Broadcaster  chainbackend.Broadcaster
	FeeEstimator chainbackend.FeeEstimator

	GraphFlushInterval time.Duration
	ScorerInterval     time.Duration
}

// Service is Admin: bootstrap, node CRUD and lifecycle, token CRUD, and
// the health registry, all as plain Go methods per SPEC_FULL.md §2 (no
// generated transport code -- the RPC surface built on top of Service is
// out of scope here, same as spec.md §1 scopes it out for Node).
type Service struct {
	db   *store.DB
	bus  *eventbus.Bus
	dir  *directory.Directory
	deps node.Deps

	macaroons *auth.MacaroonService

	registry      *prometheus.Registry
	healthMonitor healthMonitor
}

// New constructs an idle Service. Call Bootstrap before serving any
// operation, per spec.md §4.6's startup sequence.
func New(cfg Config) *Service {
	dir := directory.New()

	svc := &Service{
		db:  cfg.DB,
		bus: cfg.Bus,
		dir: dir,
	}
	svc.deps = node.Deps{
		DB:                 cfg.DB,
		Chain:              cfg.Chain,
		Plane:              cfg.Plane,
		Bus:                cfg.Bus,
		Params:             cfg.Params,
		Broadcaster:        cfg.Broadcaster,
		FeeEstimator:       cfg.FeeEstimator,
		HTLCSender:         newLocalHTLCSender(dir, cfg.DB),
		GraphFlushInterval: cfg.GraphFlushInterval,
		ScorerInterval:     cfg.ScorerInterval,
	}
	svc.macaroons = auth.NewMacaroonService(svc.rootKeyFor)

	svc.registry = prometheus.NewRegistry()
	svc.registry.MustRegister(newScorerCollector(svc))

	return svc
}

// Registry exposes the Prometheus registry Service's metrics are
// collected through, for cmd/senseid to mount behind promhttp if
// configured to do so.
func (s *Service) Registry() *prometheus.Registry {
	return s.registry
}

// Directory exposes the underlying node-lifecycle registry read-only,
// for callers (e.g. cmd/senseid's shutdown path) that need the set of
// currently running node ids without going through a Service method for
// every one of them.
func (s *Service) Directory() *directory.Directory {
	return s.dir
}

// Bootstrap runs spec.md §4.6's startup sequence steps 2 and 4: every
// Node row is forced to Stopped (nothing in this process can actually be
// running yet), and if a Root node already exists its id is recorded as
// the admin node without starting it -- an operator must call StartAdmin
// explicitly to unlock it. Steps 1 (open + migrate) and 3 (construct
// ChainBackend/ChainManager/P2PPlane) are the caller's responsibility,
// completed before Config is ever built, matching node.Deps' model of
// process-wide collaborators being injected rather than constructed
// per-Service.
func (s *Service) Bootstrap(ctx context.Context) error {
	if err := s.db.NormalizeAllNodeStatuses(ctx, time.Now().Unix()); err != nil {
		return err
	}

	root, err := s.db.GetRootNode(ctx)
	if err != nil && esenseid.KindOf(err) != esenseid.KindAdminNodeNotCreated {
		return err
	}
	if root != nil {
		s.dir.SetAdminNodeID(root.ID)
		log.Infof("admin node %s found, awaiting StartAdmin to unlock", root.ID)
	}

	s.startHealthMonitor()
	return nil
}

// Shutdown stops every node currently running in this process (the
// admin node included, since it is just a Node with NodeRoleRoot) and
// halts the health monitor, the counterpart to Bootstrap called on
// graceful process exit.
func (s *Service) Shutdown(ctx context.Context) error {
	if s.healthMonitor != nil {
		s.healthMonitor.stop()
	}

	var firstErr error
	for _, id := range s.dir.List() {
		if err := s.dir.Stop(ctx, id); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
