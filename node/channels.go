package node

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/btcsuite/btcd/wire"

	"github.com/sensei-labs/senseid/esenseid"
	"github.com/sensei-labs/senseid/internal/eventbus"
	"github.com/sensei-labs/senseid/persist"
	"github.com/sensei-labs/senseid/store"
)

// ChannelState is one channel's in-memory view, mirrored to a durable
// Monitor record on every mutation. Field names are exported only so
// encodeChannelState's JSON framing is stable; nothing outside this
// package reaches into a ChannelState directly.
type ChannelState struct {
	FundingOutpoint  string
	PeerPubkey       string
	CapacityMsat     int64
	LocalBalanceMsat int64
	ZeroConf         bool
	ClosedAt         int64

	sequence uint64
}

func encodeChannelState(s *ChannelState) ([]byte, error) {
	return json.Marshal(s)
}

func decodeChannelState(payload []byte) (*ChannelState, error) {
	s := &ChannelState{}
	if err := json.Unmarshal(payload, s); err != nil {
		return nil, esenseid.Wrap(esenseid.KindIo, err)
	}
	return s, nil
}

// ChannelManager holds a hosted node's open channels in memory, keeping
// every mutation durable-before-ack via Persister's monitor records
// before it ever updates the in-memory map, per spec.md §4.3's channel
// monitor invariant.
type ChannelManager struct {
	db        *store.DB
	nodeID    string
	persister *persist.Persister
	bus       *eventbus.Bus

	mu       sync.Mutex
	channels map[string]*ChannelState
}

func newChannelManager(ctx context.Context, db *store.DB, nodeID string, persister *persist.Persister, bus *eventbus.Bus) (*ChannelManager, error) {
	cm := &ChannelManager{
		db: db, nodeID: nodeID, persister: persister, bus: bus,
		channels: make(map[string]*ChannelState),
	}
	if err := cm.restore(ctx); err != nil {
		return nil, err
	}
	return cm, nil
}

// restore replays every durable monitor record into memory at startup,
// the scan spec.md §4.3 requires before a channel manager does anything
// else.
func (cm *ChannelManager) restore(ctx context.Context) error {
	outpoints, err := cm.persister.ListMonitorOutpoints(ctx)
	if err != nil {
		return err
	}
	for _, op := range outpoints {
		mon, ok, err := cm.persister.GetMonitor(ctx, op)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		state, err := decodeChannelState(mon.Payload)
		if err != nil {
			return err
		}
		state.sequence = mon.Sequence
		cm.channels[op] = state
	}
	return nil
}

// commit writes state's new sequence durably before publishing it to the
// in-memory map: callers must not treat a channel update as acknowledged
// until this returns nil.
func (cm *ChannelManager) commit(ctx context.Context, state *ChannelState) error {
	payload, err := encodeChannelState(state)
	if err != nil {
		return err
	}
	state.sequence++
	if err := cm.persister.PutMonitor(ctx, state.FundingOutpoint, state.sequence, payload); err != nil {
		return esenseid.Wrap(esenseid.KindDb, err)
	}

	cm.mu.Lock()
	cm.channels[state.FundingOutpoint] = state
	cm.mu.Unlock()
	return nil
}

// AcceptInbound gates an inbound channel open on the node's Peer table:
// a counterparty must already be a known peer, and that peer's
// ZeroConf flag is the only thing that can authorize a 0-conf channel,
// per spec.md §8 property 5.
func (cm *ChannelManager) AcceptInbound(ctx context.Context, peerPubkey string) (zeroConf bool, err error) {
	peer, err := cm.db.GetPeer(ctx, cm.nodeID, peerPubkey)
	if err != nil {
		return false, err
	}
	if peer == nil {
		return false, esenseid.ChannelOpenRejected("counterparty " + peerPubkey + " is not a known peer")
	}
	return peer.ZeroConf, nil
}

// Get returns the in-memory state for a channel, or nil if unknown.
func (cm *ChannelManager) Get(fundingOutpoint string) *ChannelState {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return cm.channels[fundingOutpoint]
}

// List returns a snapshot of every channel this node knows about,
// including closed ones still retained for history.
func (cm *ChannelManager) List() []*ChannelState {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	out := make([]*ChannelState, 0, len(cm.channels))
	for _, s := range cm.channels {
		out = append(out, s)
	}
	return out
}

// Close marks a channel closed and publishes a ChannelClosed event.
// Force is recorded only for the caller's logging purposes; both
// cooperative and force closes converge on the same durable state
// transition here.
func (cm *ChannelManager) Close(ctx context.Context, fundingOutpoint string, force bool) error {
	state := cm.Get(fundingOutpoint)
	if state == nil {
		return esenseid.New(esenseid.KindGeneric, "unknown channel: "+fundingOutpoint)
	}
	if state.ClosedAt != 0 {
		return nil
	}

	updated := *state
	updated.ClosedAt = time.Now().Unix()
	if err := cm.commit(ctx, &updated); err != nil {
		return err
	}

	if cm.bus != nil {
		cm.bus.Publish(ctx, eventbus.Event{
			Kind: eventbus.KindChannelClosed, NodeID: cm.nodeID,
			Payload: map[string]interface{}{"funding_outpoint": fundingOutpoint, "force": force},
		})
	}
	return nil
}

// handleBlock scans a newly connected block for spends of any open
// channel's funding outpoint, the chain monitor's force-close detection
// path.
func (cm *ChannelManager) handleBlock(ctx context.Context, block *wire.MsgBlock) {
	open := make([]*ChannelState, 0)
	for _, s := range cm.List() {
		if s.ClosedAt == 0 {
			open = append(open, s)
		}
	}
	if len(open) == 0 {
		return
	}

	spent := make(map[string]bool, len(block.Transactions)*2)
	for _, tx := range block.Transactions {
		for _, in := range tx.TxIn {
			spent[in.PreviousOutPoint.String()] = true
		}
	}

	for _, s := range open {
		if !spent[s.FundingOutpoint] {
			continue
		}
		log.Infof("detected spend of channel funding outpoint %s, recording force-close", s.FundingOutpoint)
		if err := cm.Close(ctx, s.FundingOutpoint, true); err != nil {
			log.Errorf("recording force-close for %s: %v", s.FundingOutpoint, err)
		}
	}
}
