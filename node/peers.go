package node

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/sensei-labs/senseid/store"
)

// PeerManager wraps a node's Peer/PeerAddress rows. The address
// priority tie-break itself (gossip < manual < inbound, freshest wins
// within a tier) is already implemented by store.RecordPeerAddress;
// this type only supplies the node-scoped call sites spec.md §6's
// ConnectPeer/ListPeers/ListKnownPeers/AddKnownPeer/RemoveKnownPeer
// operations need.
type PeerManager struct {
	db     *store.DB
	nodeID string
}

func newPeerManager(db *store.DB, nodeID string) *PeerManager {
	return &PeerManager{db: db, nodeID: nodeID}
}

// AddKnownPeer records a connection intent for pubkey, creating or
// updating its Peer row.
func (pm *PeerManager) AddKnownPeer(ctx context.Context, pubkey, alias, label string, zeroConf bool) error {
	now := time.Now().Unix()
	return pm.db.UpsertPeer(ctx, &store.Peer{
		ID: uuid.NewString(), NodeID: pm.nodeID, Pubkey: pubkey,
		Alias: alias, Label: label, ZeroConf: zeroConf,
		CreatedAt: now, UpdatedAt: now,
	})
}

// RemoveKnownPeer deletes a node's connection intent for pubkey.
func (pm *PeerManager) RemoveKnownPeer(ctx context.Context, pubkey string) error {
	return pm.db.DeletePeer(ctx, pm.nodeID, pubkey)
}

// ListKnownPeers returns every peer this node is configured to connect
// to, regardless of current connection status.
func (pm *PeerManager) ListKnownPeers(ctx context.Context) ([]*store.Peer, error) {
	return pm.db.ListPeers(ctx, pm.nodeID)
}

// RecordAddress applies a newly observed address for pubkey, subject to
// store.RecordPeerAddress's source-priority tie-break.
func (pm *PeerManager) RecordAddress(ctx context.Context, pubkey, address string, source store.PeerAddressSource) error {
	now := time.Now().Unix()
	return pm.db.RecordPeerAddress(ctx, &store.PeerAddress{
		ID: uuid.NewString(), NodeID: pm.nodeID, Pubkey: pubkey,
		Address: address, Source: source, LastConnectedAt: now,
		CreatedAt: now, UpdatedAt: now,
	})
}

// ResolveAddress returns the best known address for pubkey, or "" if
// none has ever been recorded.
func (pm *PeerManager) ResolveAddress(ctx context.Context, pubkey string) (string, error) {
	addr, err := pm.db.GetPeerAddress(ctx, pm.nodeID, pubkey)
	if err != nil {
		return "", err
	}
	if addr == nil {
		return "", nil
	}
	return addr.Address, nil
}
