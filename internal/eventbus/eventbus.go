// Package eventbus implements the internal broadcast bus of spec.md §6
// ("Events"): a typed fan-out of InstanceStarted/Stopped,
// TransactionBroadcast, FundingGenerationReady, and ChannelClosed
// events to any number of subscribed notifiers, generalizing the
// teacher's single `chainntnfs` subscriber-fan-out pattern to an
// arbitrary notifier set (log line, HTTP POST, future subscribers)
// registered at startup rather than compiled in.
package eventbus

import (
	"context"
	"sync"
)

// Kind identifies an event's type without requiring a type assertion at
// every subscriber.
type Kind int

const (
	KindInstanceStarted Kind = iota
	KindInstanceStopped
	KindTransactionBroadcast
	KindFundingGenerationReady
	KindChannelClosed
)

func (k Kind) String() string {
	switch k {
	case KindInstanceStarted:
		return "instance_started"
	case KindInstanceStopped:
		return "instance_stopped"
	case KindTransactionBroadcast:
		return "transaction_broadcast"
	case KindFundingGenerationReady:
		return "funding_generation_ready"
	case KindChannelClosed:
		return "channel_closed"
	default:
		return "unknown"
	}
}

// Event is one bus item. Payload is event-kind-specific; concrete
// shapes live alongside the emitting package (node.FundingReadyPayload,
// etc) to avoid a dependency from eventbus back into node.
type Event struct {
	Kind    Kind
	NodeID  string
	Payload interface{}
}

// Notifier consumes bus events. Notify must not block the emitting
// goroutine for long -- Bus invokes notifiers synchronously in
// registration order, matching ChainManager's own "listeners are
// pushed, never pulled" fan-out discipline, so a slow notifier is the
// caller's problem to fix (e.g. by making its own Notify
// non-blocking).
type Notifier interface {
	Notify(ctx context.Context, ev Event)
}

// Bus is the process-wide event broadcaster.
type Bus struct {
	mu        sync.RWMutex
	notifiers []Notifier
}

func New() *Bus {
	return &Bus{}
}

// Subscribe registers n to receive every future Publish call.
func (b *Bus) Subscribe(n Notifier) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.notifiers = append(b.notifiers, n)
}

// Publish fans ev out to every subscribed notifier.
func (b *Bus) Publish(ctx context.Context, ev Event) {
	b.mu.RLock()
	notifiers := append([]Notifier(nil), b.notifiers...)
	b.mu.RUnlock()

	for _, n := range notifiers {
		n.Notify(ctx, ev)
	}
}
