// Package node implements Node, spec.md §4.5: the per-hosted-node
// bundle of wallet, channel manager, peer manager, and invoice payer
// that registers itself with the process-wide ChainManager and
// P2PPlane on start, and unregisters on stop -- the role a standalone
// lnd process plays for itself, generalized so one process can run
// many of these at once.
package node

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"

	"github.com/sensei-labs/senseid/build"
	"github.com/sensei-labs/senseid/chainbackend"
	"github.com/sensei-labs/senseid/chainsync"
	"github.com/sensei-labs/senseid/esenseid"
	"github.com/sensei-labs/senseid/internal/eventbus"
	"github.com/sensei-labs/senseid/kv"
	"github.com/sensei-labs/senseid/p2p"
	"github.com/sensei-labs/senseid/persist"
	"github.com/sensei-labs/senseid/store"
)

var log = build.SubLogger(build.SubsystemNode)

// Deps bundles the process-wide collaborators shared by every hosted
// node: one Store, one ChainManager, one P2PPlane, one event bus, all
// injected rather than constructed per node, matching spec.md §1's
// "shared substrate, many hosted identities" split.
type Deps struct {
	DB           *store.DB
	Chain        *chainsync.Manager
	Plane        p2p.Plane
	Bus          *eventbus.Bus
	Params       *chaincfg.Params
	Broadcaster  chainbackend.Broadcaster
	FeeEstimator chainbackend.FeeEstimator
	HTLCSender   HTLCSender

	GraphFlushInterval time.Duration
	ScorerInterval     time.Duration
}

// Node is one hosted Lightning node identity: its own wallet, channel
// set, known peers, and invoice payer, all namespaced to one NodeID's
// rows in the shared Store and registered against the shared
// ChainManager/P2PPlane for as long as it is running.
type Node struct {
	deps   Deps
	nodeID string

	kv        *kv.Store
	persister *persist.Persister

	Wallet   *Wallet
	Channels *ChannelManager
	Peers    *PeerManager
	Invoices *InvoicePayer

	stopped int32
}

var _ chainsync.Listener = (*Node)(nil)

// New constructs, restores, and fully starts a hosted node: it loads (or
// generates) the wallet seed, replays durable channel monitors, catches
// the node up to the current chain tip, registers it with the shared
// ChainManager, and flips its Store row to Running. The (ctx, id,
// passphrase) -> (RunningNode, error) shape matches directory.Starter so
// a Deps-bound closure of this function is exactly what NodeDirectory's
// bootstrap path needs.
func New(ctx context.Context, deps Deps, id, passphrase string) (*Node, error) {
	nodeRow, err := deps.DB.GetNode(ctx, id)
	if err != nil {
		return nil, err
	}
	if nodeRow == nil {
		return nil, esenseid.New(esenseid.KindAdminNodeNotCreated, id)
	}

	kvStore := kv.New(deps.DB, id)
	persister := persist.New(kvStore, persist.Config{
		GraphFlushInterval: deps.GraphFlushInterval,
		ScorerInterval:     deps.ScorerInterval,
	})

	wallet, err := newWallet(ctx, deps.DB, id, []byte(passphrase), persister, deps.Params, deps.Broadcaster, deps.FeeEstimator)
	if err != nil {
		return nil, err
	}

	channels, err := newChannelManager(ctx, deps.DB, id, persister, deps.Bus)
	if err != nil {
		return nil, err
	}

	peers := newPeerManager(deps.DB, id)
	invoices := newInvoicePayer(deps.DB, id, deps.Params, deps.Bus, wallet, deps.Plane, deps.HTLCSender)

	n := &Node{
		deps: deps, nodeID: id, kv: kvStore, persister: persister,
		Wallet: wallet, Channels: channels, Peers: peers, Invoices: invoices,
	}

	persister.Start()

	if deps.Chain != nil {
		fromTip, err := n.lastSyncTip(ctx)
		if err != nil {
			return nil, err
		}
		if err := deps.Chain.SynchronizeToTip(ctx, n, fromTip); err != nil {
			return nil, esenseid.Wrap(esenseid.KindBitcoinRpc, err)
		}
		deps.Chain.Register(n)
	}

	now := time.Now().Unix()
	if err := deps.DB.UpdateNodeStatus(ctx, id, store.NodeStatusRunning, now); err != nil {
		return nil, err
	}

	if deps.Bus != nil {
		deps.Bus.Publish(ctx, eventbus.Event{Kind: eventbus.KindInstanceStarted, NodeID: id})
	}

	log.Infof("node %s started", id)
	return n, nil
}

// ID satisfies both chainsync.Listener and directory.RunningNode.
func (n *Node) ID() string {
	return n.nodeID
}

// lastSyncTip resolves the node's last-synchronized chain tip from its
// KV namespace, or the zero Tip on a fresh node (ChainManager treats a
// zero-hash fromHash as "catch up from genesis").
func (n *Node) lastSyncTip(ctx context.Context) (chainbackend.Tip, error) {
	raw, err := n.kv.Get(ctx, kv.KeySyncTip)
	if err != nil {
		return chainbackend.Tip{}, err
	}
	if raw == nil {
		return chainbackend.Tip{}, nil
	}
	return decodeTip(raw)
}

func (n *Node) saveSyncTip(ctx context.Context, tip chainbackend.Tip) error {
	return n.kv.Put(ctx, kv.KeySyncTip, encodeTip(tip), time.Now().Unix())
}

func encodeTip(tip chainbackend.Tip) []byte {
	buf := make([]byte, 36)
	copy(buf[:32], tip.Hash[:])
	putUint32(buf[32:36], uint32(tip.Height))
	return buf
}

func decodeTip(b []byte) (chainbackend.Tip, error) {
	if len(b) != 36 {
		return chainbackend.Tip{}, esenseid.New(esenseid.KindIo, "corrupt sync tip record")
	}
	var tip chainbackend.Tip
	copy(tip.Hash[:], b[:32])
	tip.Height = int32(getUint32(b[32:36]))
	return tip, nil
}

func getUint32(b []byte) uint32 {
	var v uint32
	for _, c := range b {
		v = v<<8 | uint32(c)
	}
	return v
}

// BlockConnected fans a newly connected block out to the channel
// manager's force-close scan and records the new sync tip.
func (n *Node) BlockConnected(ctx context.Context, tip chainbackend.Tip, block *wire.MsgBlock) error {
	n.Channels.handleBlock(ctx, block)
	return n.saveSyncTip(ctx, tip)
}

// BlockDisconnected rolls the recorded sync tip back to the
// newly-current tip and does nothing else: channel force-close
// detections triggered by now-orphaned blocks are not reverted, here or
// by a later BlockConnected.
func (n *Node) BlockDisconnected(ctx context.Context, tip chainbackend.Tip) error {
	return n.saveSyncTip(ctx, tip)
}

// Stop unregisters the node from the shared ChainManager, stops its
// Persister's background writers, and flips its Store row to Stopped.
// Calling Stop more than once is a no-op past the first call.
func (n *Node) Stop(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&n.stopped, 0, 1) {
		return nil
	}

	if n.deps.Chain != nil {
		n.deps.Chain.Deregister(n.nodeID)
	}
	n.persister.Stop()

	now := time.Now().Unix()
	if err := n.deps.DB.UpdateNodeStatus(ctx, n.nodeID, store.NodeStatusStopped, now); err != nil {
		return err
	}

	if n.deps.Bus != nil {
		n.deps.Bus.Publish(ctx, eventbus.Event{Kind: eventbus.KindInstanceStopped, NodeID: n.nodeID})
	}

	log.Infof("node %s stopped", n.nodeID)
	return nil
}

func (n *Node) String() string {
	return fmt.Sprintf("node(%s)", n.nodeID)
}

// ScorerPersistFailures reports this node's count of swallowed scorer
// write failures, the gauge spec.md §9 calls for Admin's health monitor
// to surface per running node.
func (n *Node) ScorerPersistFailures() int32 {
	return n.persister.ScorerPersistFailures()
}
