// Package p2p implements P2PPlane, spec.md §4.4: the routing substrate
// shared by every hosted node on this process -- one network graph, one
// scorer, one gossip-only peer manager, and one peer connector -- with a
// local/remote tagged-variant split for Router and Scorer exactly as
// original_source/p2p/mod.rs's AnyRouter/AnyScorer: the choice between
// local gossip state and a remote HTTP delegate is made once at
// construction and never re-evaluated at call time.
package p2p

import (
	"context"

	"github.com/btcsuite/btcd/btcec/v2"

	"github.com/sensei-labs/senseid/build"
)

var log = build.SubLogger(build.SubsystemP2P)

// Route is an already-validated payment path, serialized the way the
// channel manager's onion-construction step consumes it: the hops'
// 33-byte compressed pubkeys in order, separated by '|'. The p2p package
// only builds and passes it along; the node package's invoice payer is
// what decodes the hops.
type Route struct {
	Raw []byte
}

// RouteParams bounds a FindRoute call: destination, total amount, and
// the final CLTV delta, the minimum a router needs to plan a path.
type RouteParams struct {
	Payer         *btcec.PublicKey
	Destination   *btcec.PublicKey
	AmountMsat    int64
	FinalCLTV     uint32
	PaymentHash   [32]byte
	FirstHopChans []uint64
}

// Router is P2PPlane's pathfinding contract, spec.md §4.4: a pure
// function of the current graph and scorer snapshot. Implementations
// must not mutate graph or scorer state from FindRoute.
type Router interface {
	FindRoute(ctx context.Context, params RouteParams) (*Route, error)
}

// Scorer tracks per-channel payment-path penalties, mutated only by
// P2PPlane itself (spec.md §5: "The network graph and scorer are
// mutated by the P2PPlane only; nodes observe them read-only").
type Scorer interface {
	// ChannelPenaltyMsat is unreachable against a remote backend
	// (routing happens remotely): RemoteScorer returns an error rather
	// than silently scoring with stale or absent data.
	ChannelPenaltyMsat(ctx context.Context, shortChanID uint64, amtMsat int64) (int64, error)
	PaymentPathFailed(ctx context.Context, route *Route, failedChanID uint64) error
	PaymentPathSuccessful(ctx context.Context, route *Route) error
}

// NodeInfo is the gossip-graph lookup result exposed over
// /v1/ldk/network/node_info and used locally by peer bootstrap to
// resolve an advertised address for a pubkey.
type NodeInfo struct {
	PubKeyHex string
	Alias     string
	Addresses []string
}

// GraphSource resolves node-level gossip info. Implemented by both the
// local plane (reading the in-memory graph) and the remote client
// (proxying to /v1/ldk/network/node_info).
type GraphSource interface {
	NodeInfo(ctx context.Context, pubKeyHex string) (*NodeInfo, error)
}

// Plane is everything a hosted Node needs from the shared routing
// substrate.
type Plane interface {
	Router
	Scorer
	GraphSource
}
