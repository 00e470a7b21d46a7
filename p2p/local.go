package p2p

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"sync"

	"github.com/sensei-labs/senseid/esenseid"
	"github.com/sensei-labs/senseid/persist"
)

// node is one gossip-graph entry, the in-memory shape MarkGraphDirty's
// JSON snapshot round-trips through persist's debounced writer.
type node struct {
	PubKeyHex string   `json:"pubkey"`
	Alias     string   `json:"alias"`
	Addresses []string `json:"addresses"`
}

// graphSnapshot is the persisted shape of the shared network graph.
type graphSnapshot struct {
	Nodes    map[string]node      `json:"nodes"`
	Channels map[uint64]channel   `json:"channels"`
}

type channel struct {
	ShortChanID uint64 `json:"short_chan_id"`
	NodeA       string `json:"node_a"`
	NodeB       string `json:"node_b"`
}

// scorerSnapshot is the persisted shape of the penalty scorer.
type scorerSnapshot struct {
	// PenaltyMsat is an additive per-channel penalty accumulated on
	// payment-path failure and decayed on success, the minimal scorer
	// spec.md §4.4 describes ("penalty metric updated on payment
	// success/failure").
	PenaltyMsat map[uint64]int64 `json:"penalty_msat"`
}

// LocalPlane is the in-process Router/Scorer/GraphSource backed by this
// node's own gossip state, persisted through the Persister. This is the
// "local" leg of the AnyRouter/AnyScorer tagged variant described in
// original_source/p2p/mod.rs and spec.md §4.4.
type LocalPlane struct {
	persister *persist.Persister

	mu     sync.RWMutex
	graph  graphSnapshot
	scorer scorerSnapshot
}

var _ Plane = (*LocalPlane)(nil)

// NewLocalPlane loads the last-persisted graph/scorer snapshot (if any)
// and wires the Persister's periodic scorer writer to this plane's
// in-memory state.
func NewLocalPlane(ctx context.Context, persister *persist.Persister) (*LocalPlane, error) {
	p := &LocalPlane{
		persister: persister,
		graph:     graphSnapshot{Nodes: make(map[string]node), Channels: make(map[uint64]channel)},
		scorer:    scorerSnapshot{PenaltyMsat: make(map[uint64]int64)},
	}

	if raw, err := persister.LoadGraph(ctx); err != nil {
		return nil, err
	} else if raw != nil {
		if err := json.Unmarshal(raw, &p.graph); err != nil {
			return nil, esenseid.Wrap(esenseid.KindIo, err)
		}
	}

	if raw, err := persister.LoadScorer(ctx); err != nil {
		return nil, err
	} else if raw != nil {
		if err := json.Unmarshal(raw, &p.scorer); err != nil {
			return nil, esenseid.Wrap(esenseid.KindIo, err)
		}
	}

	persister.SetScorerSource(p.snapshotScorerBlob)
	return p, nil
}

func (p *LocalPlane) snapshotScorerBlob() []byte {
	p.mu.RLock()
	defer p.mu.RUnlock()
	raw, err := json.Marshal(p.scorer)
	if err != nil {
		log.Errorf("marshaling scorer snapshot failed: %v", err)
		return nil
	}
	return raw
}

func (p *LocalPlane) markDirty() {
	raw, err := json.Marshal(p.graph)
	if err != nil {
		log.Errorf("marshaling graph snapshot failed: %v", err)
		return
	}
	p.persister.MarkGraphDirty(raw)
}

// AddNode upserts a gossip node-announcement into the shared graph,
// called by discovery as announcements arrive.
func (p *LocalPlane) AddNode(pubKeyHex, alias string, addrs []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.graph.Nodes[pubKeyHex] = node{PubKeyHex: pubKeyHex, Alias: alias, Addresses: addrs}
	p.markDirty()
}

// AddChannel upserts a gossip channel-announcement.
func (p *LocalPlane) AddChannel(shortChanID uint64, nodeAHex, nodeBHex string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.graph.Channels[shortChanID] = channel{ShortChanID: shortChanID, NodeA: nodeAHex, NodeB: nodeBHex}
	p.markDirty()
}

func (p *LocalPlane) NodeInfo(ctx context.Context, pubKeyHex string) (*NodeInfo, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	n, ok := p.graph.Nodes[pubKeyHex]
	if !ok {
		return nil, esenseid.New(esenseid.KindGeneric, "node not found in graph: "+pubKeyHex)
	}
	return &NodeInfo{PubKeyHex: n.PubKeyHex, Alias: n.Alias, Addresses: n.Addresses}, nil
}

// FindRoute is a pure function of the current graph/scorer snapshot, per
// spec.md §4.4's Router contract: it must not mutate either. The actual
// pathfinding algorithm (Dijkstra/Yen's-k-shortest-paths-equivalent over
// the gossip graph) is LDK's concern upstream of this module (spec.md
// §1 Non-goals); this is the integration seam a real pathfinder would
// be plugged into. It checks that the destination is in the graph and
// returns a single-hop route straight to it (the destination's 33-byte
// compressed pubkey); it does no path search and does not read the
// scorer's penalties.
func (p *LocalPlane) FindRoute(ctx context.Context, params RouteParams) (*Route, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if _, ok := p.graph.Nodes[hex.EncodeToString(params.Destination.SerializeCompressed())]; !ok {
		return nil, esenseid.New(esenseid.KindGeneric, "destination not present in network graph")
	}
	return &Route{Raw: params.Destination.SerializeCompressed()}, nil
}

func (p *LocalPlane) ChannelPenaltyMsat(ctx context.Context, shortChanID uint64, amtMsat int64) (int64, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.scorer.PenaltyMsat[shortChanID], nil
}

// PaymentPathFailed raises the failed channel's penalty, as reported by
// ChannelPenaltyMsat until PaymentPathSuccessful decays it. FindRoute
// does not consult the penalty.
func (p *LocalPlane) PaymentPathFailed(ctx context.Context, route *Route, failedChanID uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scorer.PenaltyMsat[failedChanID] += penaltyIncrementMsat
	return nil
}

// PaymentPathSuccessful decays every channel's penalty, rewarding the
// successful path implicitly by letting unused penalties fade.
func (p *LocalPlane) PaymentPathSuccessful(ctx context.Context, route *Route) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, penalty := range p.scorer.PenaltyMsat {
		decayed := penalty - penaltyDecayMsat
		if decayed <= 0 {
			delete(p.scorer.PenaltyMsat, id)
			continue
		}
		p.scorer.PenaltyMsat[id] = decayed
	}
	return nil
}

const (
	penaltyIncrementMsat = 500_000
	penaltyDecayMsat     = 50_000
)
