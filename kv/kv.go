// Package kv is the typed KV layer SPEC_FULL.md §4.3's Persister is built
// on: a thin namespacing wrapper around store.DB's raw (node_id, key) ->
// bytes primitives, playing the role channeldb's bbolt bucket helpers
// play in the teacher tree, but against the relational kv_store table
// instead of a bbolt file.
package kv

import (
	"context"

	"github.com/sensei-labs/senseid/build"
	"github.com/sensei-labs/senseid/esenseid"
	"github.com/sensei-labs/senseid/store"
)

var log = build.SubLogger(build.SubsystemPersist)

// Store is the per-node KV handle Persister and its callers use. It
// binds a NodeID once so call sites never thread it through every
// method, mirroring how channeldb hands out a per-channel bucket handle
// rather than re-deriving the bucket path on every call.
type Store struct {
	db     *store.DB
	nodeID string
}

// New binds a KV handle to a single node's namespace.
func New(db *store.DB, nodeID string) *Store {
	return &Store{db: db, nodeID: nodeID}
}

// Put writes a raw value under key, overwriting any existing value.
func (s *Store) Put(ctx context.Context, key string, value []byte, now int64) error {
	if err := s.db.KvPut(ctx, s.nodeID, key, value, now); err != nil {
		return err
	}
	return nil
}

// Get reads the raw value for key, returning (nil, nil) if unset.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	return s.db.KvGet(ctx, s.nodeID, key)
}

// MustGet reads the raw value for key, returning esenseid.ErrEntropyNotFound's
// kind-compatible sibling for the seed/entropy lookups that must treat an
// absent key as a hard failure rather than a zero value.
func (s *Store) MustGet(ctx context.Context, key string) ([]byte, error) {
	v, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, esenseid.New(esenseid.KindEntropyNotFound, key)
	}
	return v, nil
}

// Delete removes key. Deleting an absent key is a no-op.
func (s *Store) Delete(ctx context.Context, key string) error {
	return s.db.KvDelete(ctx, s.nodeID, key)
}

// ListKeys enumerates every key under prefix, used by the channel
// monitor's startup scan ("every channel in the in-memory channel
// manager has a durable monitor record").
func (s *Store) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	return s.db.KvListKeys(ctx, s.nodeID, prefix)
}

// Namespace keys used throughout persist and node. Kept here, not in
// persist, so kv and its callers agree on the exact prefix strings
// without an import cycle.
const (
	PrefixMonitor = "monitor/"
	KeyGraph      = "graph"
	KeyScorer     = "scorer"
	KeySeed       = "seed"
	KeySyncTip    = "synctip"
	PrefixMacaroon = "macaroon/"

	// KeyMacaroonRootKey is where Admin stores the per-node root key
	// auth.MacaroonService mints and verifies macaroons under. Unlike
	// KeySeed it is not sealed with the node's passphrase: Admin must be
	// able to mint and verify a macaroon for a node that isn't currently
	// unlocked.
	KeyMacaroonRootKey = PrefixMacaroon + "root"
)

// MonitorKey returns the KV key for a channel monitor record, keyed by
// its funding outpoint as spec.md §4.3 specifies.
func MonitorKey(fundingOutpoint string) string {
	return PrefixMonitor + fundingOutpoint
}
