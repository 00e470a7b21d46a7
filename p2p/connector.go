package p2p

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"
)

const (
	backoffBase = time.Second
	backoffCap  = 5 * time.Minute
	jitterFrac  = 0.2
)

// Dialer opens a gossip-only connection to a peer address, returning
// once the connection is fully established or an error if it never was.
// The returned function blocks until the connection is lost, at which
// point the connector reconnects per spec.md §4.4's backoff policy.
type Dialer func(ctx context.Context, addr string) (wait func(), err error)

// Connector maintains connectivity to a configured list of gossip peers,
// reconnecting with exponential backoff (base 1s, cap 5min, jitter
// ±20%), spec.md §4.4's "connection reaper".
type Connector struct {
	dial Dialer

	started  int32
	shutdown int32
	wg       sync.WaitGroup
	quit     chan struct{}

	mu    sync.Mutex
	peers map[string]struct{}
}

// NewConnector wires a Connector to the given Dialer.
func NewConnector(dial Dialer) *Connector {
	return &Connector{
		dial:  dial,
		quit:  make(chan struct{}),
		peers: make(map[string]struct{}),
	}
}

// Start begins maintaining connectivity to every peer added so far (and
// any added later via AddPeer).
func (c *Connector) Start() {
	atomic.StoreInt32(&c.started, 1)

	c.mu.Lock()
	addrs := make([]string, 0, len(c.peers))
	for addr := range c.peers {
		addrs = append(addrs, addr)
	}
	c.mu.Unlock()

	for _, addr := range addrs {
		c.wg.Add(1)
		go c.reconnectLoop(addr)
	}
}

// Stop halts every reconnect loop and waits for them to exit.
func (c *Connector) Stop() {
	if atomic.AddInt32(&c.shutdown, 1) != 1 {
		return
	}
	close(c.quit)
	c.wg.Wait()
}

// AddPeer registers addr for persistent connectivity, spawning its
// reconnect loop immediately if the connector is already running.
func (c *Connector) AddPeer(addr string) {
	c.mu.Lock()
	if _, exists := c.peers[addr]; exists {
		c.mu.Unlock()
		return
	}
	c.peers[addr] = struct{}{}
	c.mu.Unlock()

	if atomic.LoadInt32(&c.started) == 1 {
		c.wg.Add(1)
		go c.reconnectLoop(addr)
	}
}

// RemovePeer stops maintaining connectivity to addr. The in-flight
// connection, if any, is left to the next failed-dial cycle to notice;
// callers needing immediate teardown close the connection themselves.
func (c *Connector) RemovePeer(addr string) {
	c.mu.Lock()
	delete(c.peers, addr)
	c.mu.Unlock()
}

func (c *Connector) isRegistered(addr string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.peers[addr]
	return ok
}

func (c *Connector) reconnectLoop(addr string) {
	defer c.wg.Done()

	attempt := 0
	for {
		if !c.isRegistered(addr) {
			return
		}

		select {
		case <-c.quit:
			return
		default:
		}

		wait, err := c.dial(context.Background(), addr)
		if err != nil {
			log.Warnf("dial %s failed: %v", addr, err)
			if !c.sleepBackoff(attempt) {
				return
			}
			attempt++
			continue
		}

		attempt = 0
		wait()

		if !c.isRegistered(addr) {
			return
		}
		select {
		case <-c.quit:
			return
		default:
		}
	}
}

// sleepBackoff sleeps for the backoff duration at the given attempt
// count, returning false if the connector was stopped during the sleep.
func (c *Connector) sleepBackoff(attempt int) bool {
	d := backoffDuration(attempt)
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-c.quit:
		return false
	case <-timer.C:
		return true
	}
}

// backoffDuration computes base*2^attempt capped at backoffCap, with
// +/-20% jitter, per spec.md §4.4.
func backoffDuration(attempt int) time.Duration {
	d := backoffBase
	for i := 0; i < attempt && d < backoffCap; i++ {
		d *= 2
	}
	if d > backoffCap {
		d = backoffCap
	}

	jitter := 1 + (rand.Float64()*2-1)*jitterFrac
	return time.Duration(float64(d) * jitter)
}
