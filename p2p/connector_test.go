package p2p

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBackoffDurationGrowsAndCaps(t *testing.T) {
	// Jitter is +/-20%, so compare against the jitter-free base value
	// with enough tolerance.
	within := func(got, want time.Duration) bool {
		lo := float64(want) * 0.79
		hi := float64(want) * 1.21
		return float64(got) >= lo && float64(got) <= hi
	}

	require.True(t, within(backoffDuration(0), backoffBase))
	require.True(t, within(backoffDuration(1), 2*backoffBase))
	require.True(t, within(backoffDuration(2), 4*backoffBase))

	// At a high attempt count, growth must have capped.
	capped := backoffDuration(30)
	require.LessOrEqual(t, capped, time.Duration(float64(backoffCap)*1.21))
}

func TestConnectorDialsRegisteredPeerAndStopsCleanly(t *testing.T) {
	var dials int32
	connected := make(chan struct{}, 1)

	dialer := func(ctx context.Context, addr string) (func(), error) {
		atomic.AddInt32(&dials, 1)
		select {
		case connected <- struct{}{}:
		default:
		}
		return func() { time.Sleep(20 * time.Millisecond) }, nil
	}

	c := NewConnector(dialer)
	c.AddPeer("127.0.0.1:9735")
	c.Start()

	select {
	case <-connected:
	case <-time.After(2 * time.Second):
		t.Fatal("dialer never invoked")
	}

	require.GreaterOrEqual(t, atomic.LoadInt32(&dials), int32(1))

	c.RemovePeer("127.0.0.1:9735")
	c.Stop()
}
