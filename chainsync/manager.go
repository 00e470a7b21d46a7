// Package chainsync implements ChainManager: one poll loop per process
// driving every hosted node's chain listeners from a single ChainBackend,
// in the atomic started/shutdown + wg/quit idiom server.go uses for its
// own top-level Start/Stop, generalized from a single-tenant daemon's one
// set of listeners to a dynamic, node-scoped listener registry.
package chainsync

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/queue"
	"github.com/lightningnetwork/lnd/ticker"

	"github.com/sensei-labs/senseid/build"
	"github.com/sensei-labs/senseid/chainbackend"
	"github.com/sensei-labs/senseid/esenseid"
)

var log = build.SubLogger(build.SubsystemChainSync)

// State is ChainManager's internal state machine, spec.md §4.1.
type State int32

const (
	StateIdle State = iota
	StatePolling
	StatePaused
	StateStopped
)

// Listener receives connect/disconnect notifications in registration
// order. Implementations must be idempotent on equal-height replays and
// must not block: slow work must be deferred to the listener's own
// goroutine, matching spec.md §4.1's fan-out contract.
type Listener interface {
	// ID identifies the listener for logging and deregistration; in
	// practice a funding outpoint or node id.
	ID() string
	BlockConnected(ctx context.Context, tip chainbackend.Tip, block *wire.MsgBlock) error
	BlockDisconnected(ctx context.Context, tip chainbackend.Tip) error
}

// Manager drives the single poll loop described in spec.md §4.1.
type Manager struct {
	src chainbackend.Source

	started  int32
	shutdown int32
	wg       sync.WaitGroup
	quit     chan struct{}

	state       int32 // atomic State
	updateTicks int32 // atomic

	pollTicker ticker.Ticker

	mu         sync.RWMutex
	currentTip chainbackend.Tip
	listeners  []Listener

	// notifyQueue decouples the blocking work of fetching headers/blocks
	// from a potentially slow backend (done in the poll goroutine) from
	// invoking listener callbacks (done in notifyLoop), so a Register
	// call arriving mid-cycle is never blocked behind listener dispatch.
	notifyQueue *queue.ConcurrentQueue
}

// notifyEvent is one fan-out item queued for notifyLoop: either a
// disconnect or a connect (block non-nil) at the given tip.
type notifyEvent struct {
	tip       chainbackend.Tip
	block     *wire.MsgBlock
	listeners []Listener
}

// Config configures a Manager.
type Config struct {
	Backend      chainbackend.Source
	PollInterval time.Duration
}

// New constructs an idle Manager. Call Start to begin polling.
func New(cfg Config) *Manager {
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = time.Second
	}
	m := &Manager{
		src:        cfg.Backend,
		quit:       make(chan struct{}),
		pollTicker: ticker.New(interval),
		state:      int32(StateIdle),
	}
	m.notifyQueue = queue.NewConcurrentQueue(20)
	return m
}

// Start seeds the current tip from the backend and begins the poll loop.
func (m *Manager) Start(ctx context.Context) error {
	if atomic.AddInt32(&m.started, 1) != 1 {
		return nil
	}

	tip, err := m.src.BestTip(ctx)
	if err != nil {
		return fmt.Errorf("seeding initial tip: %w", err)
	}
	m.mu.Lock()
	m.currentTip = tip
	m.mu.Unlock()

	atomic.StoreInt32(&m.state, int32(StatePolling))

	m.notifyQueue.Start()
	m.pollTicker.Resume()

	m.wg.Add(1)
	go m.pollLoop()

	m.wg.Add(1)
	go m.notifyLoop()

	return nil
}

// Stop halts the poll loop and waits for it to exit.
func (m *Manager) Stop() {
	if atomic.AddInt32(&m.shutdown, 1) != 1 {
		return
	}
	atomic.StoreInt32(&m.state, int32(StateStopped))
	close(m.quit)
	m.wg.Wait()
	m.pollTicker.Stop()
	m.notifyQueue.Stop()
}

// Pause transitions Polling -> Paused; the poller keeps ticking but does
// no work unless UpdateTicks has been bumped, per spec.md §4.1.
func (m *Manager) Pause() {
	atomic.CompareAndSwapInt32(&m.state, int32(StatePolling), int32(StatePaused))
}

// Resume transitions Paused -> Polling.
func (m *Manager) Resume() {
	atomic.CompareAndSwapInt32(&m.state, int32(StatePaused), int32(StatePolling))
}

// RequestUpdate increments the "please poll now" hint counter, letting a
// paused manager still service an urgent caller (e.g. synchronize-to-tip
// completion) without a full Resume.
func (m *Manager) RequestUpdate() {
	atomic.AddInt32(&m.updateTicks, 1)
}

// CurrentTip returns the manager's last-recorded validated tip.
func (m *Manager) CurrentTip() chainbackend.Tip {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.currentTip
}

// Register adds a listener to the live fan-out set. Registration is
// append-only during a run; callers needing catch-up semantics should
// use SynchronizeToTip first, which registers the listener itself once
// replay completes.
func (m *Manager) Register(l Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

// Deregister removes a listener, used on node stop or listener failure.
// Only safe to call between poll cycles; the caller (NodeDirectory.stop)
// is responsible for having drained the listener first.
func (m *Manager) Deregister(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, l := range m.listeners {
		if l.ID() == id {
			m.listeners = append(m.listeners[:i], m.listeners[i+1:]...)
			return
		}
	}
}

func (m *Manager) pollLoop() {
	defer m.wg.Done()

	for {
		select {
		case <-m.quit:
			return
		case <-m.pollTicker.Ticks():
			m.tick()
		}
	}
}

func (m *Manager) tick() {
	state := State(atomic.LoadInt32(&m.state))
	if state == StateStopped {
		return
	}
	if state == StatePaused && atomic.LoadInt32(&m.updateTicks) == 0 {
		return
	}

	ctx := context.Background()

	newTip, err := m.src.BestTip(ctx)
	if err != nil {
		log.Warnf("chain backend error on poll: %v", err)
		return
	}

	m.mu.RLock()
	oldTip := m.currentTip
	m.mu.RUnlock()

	cmp, err := chainbackend.Compare(ctx, m.src, oldTip, newTip)
	if err != nil {
		log.Warnf("header mismatch classifying new tip, aborting cycle: %v", err)
		return
	}

	if cmp == chainbackend.Common {
		m.decrementUpdateTicks()
		return
	}

	// Both Better and Worse require the ancestor walk: Worse is never
	// special-cased as a no-op extension (the ChainTip::Worse bug this
	// fixes), and Better still needs its full connect-chain enumerated
	// in case a listener joined mid-cycle and missed an intermediate
	// block.
	ancestor, disconnect, connect, err := chainbackend.CommonAncestor(ctx, m.src, oldTip, newTip)
	if err != nil {
		log.Warnf("ancestor walk failed, aborting cycle: %v", err)
		return
	}
	_ = ancestor

	m.mu.RLock()
	listeners := append([]Listener(nil), m.listeners...)
	m.mu.RUnlock()

	m.dispatchDisconnects(ctx, disconnect, listeners)
	if !m.dispatchConnects(ctx, connect, listeners) {
		return
	}

	m.mu.Lock()
	m.currentTip = newTip
	m.mu.Unlock()

	m.decrementUpdateTicks()
}

func (m *Manager) decrementUpdateTicks() {
	for {
		cur := atomic.LoadInt32(&m.updateTicks)
		if cur <= 0 {
			return
		}
		if atomic.CompareAndSwapInt32(&m.updateTicks, cur, cur-1) {
			return
		}
	}
}

func (m *Manager) dispatchDisconnects(ctx context.Context, chain []chainbackend.Tip, listeners []Listener) {
	for _, tip := range chain {
		m.notifyQueue.ChanIn() <- &notifyEvent{tip: tip, listeners: listeners}
	}
}

// dispatchConnects returns false if fetching any block failed, aborting
// the remainder of the cycle so the stored tip is not advanced past a
// block that was never actually delivered.
func (m *Manager) dispatchConnects(ctx context.Context, chain []chainbackend.Tip, listeners []Listener) bool {
	for _, tip := range chain {
		block, err := m.src.BlockByHash(ctx, tip.Hash)
		if err != nil {
			log.Warnf("fetching block %s failed, aborting cycle: %v", tip.Hash, err)
			return false
		}
		m.notifyQueue.ChanIn() <- &notifyEvent{tip: tip, block: block, listeners: listeners}
	}
	return true
}

// notifyLoop is the single consumer of notifyQueue, invoking listener
// callbacks in the order events were queued -- the actual fan-out work,
// kept off the poll goroutine so a concurrent Register never blocks
// behind a slow listener.
func (m *Manager) notifyLoop() {
	defer m.wg.Done()

	ctx := context.Background()
	for {
		select {
		case <-m.quit:
			return
		case item, ok := <-m.notifyQueue.ChanOut():
			if !ok {
				return
			}
			ev := item.(*notifyEvent)
			for _, l := range ev.listeners {
				var err error
				if ev.block != nil {
					err = l.BlockConnected(ctx, ev.tip, ev.block)
				} else {
					err = l.BlockDisconnected(ctx, ev.tip)
				}
				if err != nil {
					m.failListener(l, err)
				}
			}
		}
	}
}

// failListener removes a listener whose callback errored -- fatal to
// that listener only, per spec.md §4.1's failure semantics; the poller
// continues for the rest.
func (m *Manager) failListener(l Listener, err error) {
	log.Errorf("listener %s failed, removing from fan-out: %v", l.ID(), err)
	m.Deregister(l.ID())
}

// SynchronizeToTip replays blocks from a listener's last-known hash
// forward to the manager's current tip before adding it to the live set,
// holding the poller paused for the duration so no race can inject a
// block between catch-up and steady-state, per spec.md §4.1.
func (m *Manager) SynchronizeToTip(ctx context.Context, l Listener, fromHash chainbackend.Tip) error {
	m.Pause()
	defer m.Resume()

	target := m.CurrentTip()

	_, _, connect, err := chainbackend.CommonAncestor(ctx, m.src, fromHash, target)
	if err != nil {
		return esenseid.Wrap(esenseid.KindBitcoinRpc, err)
	}

	for _, tip := range connect {
		block, err := m.src.BlockByHash(ctx, tip.Hash)
		if err != nil {
			return esenseid.Wrap(esenseid.KindBitcoinRpc, err)
		}
		if err := l.BlockConnected(ctx, tip, block); err != nil {
			return esenseid.Wrap(esenseid.KindGeneric, err)
		}
	}

	m.Register(l)
	return nil
}
