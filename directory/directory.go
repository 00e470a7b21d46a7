// Package directory implements NodeDirectory, spec.md §4.2: the
// node_id -> RunningNode registry every RPC handler and the admin
// bootstrap path consult, with per-id start/stop serialization so two
// concurrent callers starting the same node race down to exactly one
// winner, and concurrent starts of different nodes never block each
// other.
package directory

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/sensei-labs/senseid/build"
	"github.com/sensei-labs/senseid/esenseid"
)

var log = build.SubLogger(build.SubsystemDirectory)

// RunningNode is the subset of node.Node the directory needs to manage
// its lifecycle, kept minimal here to avoid an import cycle back into
// the node package (which itself depends on chainsync/p2p/persist, not
// on directory).
type RunningNode interface {
	ID() string
	Stop(ctx context.Context) error
}

// Starter constructs and fully starts a RunningNode for id, the
// directory's only dependency on the rest of the system: wallet/channel
// manager construction, ChainManager registration via
// synchronize_to_tip, and the Store status flip all happen inside this
// callback, matching spec.md §4.2's start() contract.
type Starter func(ctx context.Context, id, passphrase string) (RunningNode, error)

// Directory is the process-wide node_id -> RunningNode registry.
// Lookups read a snapshot protected by an RWMutex (cheap, concurrent);
// mutations (start/stop/delete) take the write lock only for the map
// update itself, not for the (possibly slow) construction work, which
// runs under a singleflight group keyed by id so at most one Starter
// call is in flight per id at a time.
type Directory struct {
	group singleflight.Group

	mu       sync.RWMutex
	running  map[string]RunningNode
	inFlight map[string]struct{}
	adminID  string
	hasAdmin bool
}

// New returns an empty Directory.
func New() *Directory {
	return &Directory{
		running:  make(map[string]RunningNode),
		inFlight: make(map[string]struct{}),
	}
}

// IsRunning reports whether id currently has a RunningNode registered.
// It reads under the directory's read lock, so it waits for any
// in-progress registration or removal to finish.
func (d *Directory) IsRunning(id string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.running[id]
	return ok
}

// Get returns the RunningNode for id, if running.
func (d *Directory) Get(id string) (RunningNode, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	n, ok := d.running[id]
	return n, ok
}

// List returns every currently running node id.
func (d *Directory) List() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ids := make([]string, 0, len(d.running))
	for id := range d.running {
		ids = append(ids, id)
	}
	return ids
}

// Start runs start via the singleflight group keyed by id, so concurrent
// Start(id) calls produce exactly one registration and one state
// transition, spec.md §8 property 2 ("At-most-one start"). A caller
// whose call was merged into another's in-flight Start still observes
// the correct outcome (the node ends up Running, or the error the
// winning caller saw).
func (d *Directory) Start(ctx context.Context, id, passphrase string, start Starter) error {
	if d.IsRunning(id) {
		return nil
	}

	_, err, _ := d.group.Do(id, func() (interface{}, error) {
		if d.IsRunning(id) {
			return nil, nil
		}

		node, err := start(ctx, id, passphrase)
		if err != nil {
			return nil, err
		}

		d.mu.Lock()
		d.running[id] = node
		d.mu.Unlock()
		return nil, nil
	})
	return err
}

// StartNonBlocking is the non-blocking variant of Start, spec.md §4.2:
// "Fails with NodeBeingStartedAlready if another caller holds the [start]
// lock and passed lock was contended in non-blocking mode." Unlike
// Start, a caller arriving while another Start is already in flight for
// id returns immediately with ErrNodeBeingStartedAlready instead of
// waiting to share the in-flight result.
func (d *Directory) StartNonBlocking(ctx context.Context, id, passphrase string, start Starter) error {
	if d.IsRunning(id) {
		return nil
	}

	d.mu.Lock()
	if _, busy := d.inFlight[id]; busy {
		d.mu.Unlock()
		return esenseid.ErrNodeBeingStartedAlready
	}
	d.inFlight[id] = struct{}{}
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		delete(d.inFlight, id)
		d.mu.Unlock()
	}()

	return d.Start(ctx, id, passphrase, start)
}

// Stop aborts background tasks, flushes monitors, and deregisters id via
// RunningNode.Stop, then removes it from the registry. Calling Stop on a
// node that isn't running is a no-op.
func (d *Directory) Stop(ctx context.Context, id string) error {
	d.mu.Lock()
	node, ok := d.running[id]
	if !ok {
		d.mu.Unlock()
		return nil
	}
	delete(d.running, id)
	d.mu.Unlock()

	return node.Stop(ctx)
}

// MustBeStopped is the precondition Admin's delete() operation checks
// before removing a node row, spec.md §4.2: "delete(id): requires
// Stopped".
func (d *Directory) MustBeStopped(id string) error {
	if d.IsRunning(id) {
		return esenseid.New(esenseid.KindGeneric, "node must be stopped before deletion: "+id)
	}
	return nil
}

// SetAdminNodeID records which node id is the administrator node, set
// once during Admin's bootstrap sequence.
func (d *Directory) SetAdminNodeID(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.adminID = id
	d.hasAdmin = true
}

// AdminNodeID returns the singleton administrator node id, spec.md
// §4.2's admin_node() contract: ErrAdminNodeNotCreated if bootstrap
// never ran, ErrAdminNodeNotStarted if it's created but not running.
func (d *Directory) AdminNodeID() (string, error) {
	d.mu.RLock()
	id := d.adminID
	hasAdmin := d.hasAdmin
	d.mu.RUnlock()

	if !hasAdmin {
		return "", esenseid.ErrAdminNodeNotCreated
	}
	if !d.IsRunning(id) {
		return "", esenseid.ErrAdminNodeNotStarted
	}
	return id, nil
}
