package directory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sensei-labs/senseid/esenseid"
)

type fakeNode struct {
	id      string
	stopped int32
}

func (n *fakeNode) ID() string { return n.id }
func (n *fakeNode) Stop(ctx context.Context) error {
	atomic.StoreInt32(&n.stopped, 1)
	return nil
}

func TestConcurrentStartProducesExactlyOneRegistration(t *testing.T) {
	d := New()

	var starts int32
	start := func(ctx context.Context, id, passphrase string) (RunningNode, error) {
		atomic.AddInt32(&starts, 1)
		time.Sleep(20 * time.Millisecond)
		return &fakeNode{id: id}, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, d.Start(context.Background(), "node-1", "pw", start))
		}()
	}
	wg.Wait()

	require.Equal(t, int32(1), atomic.LoadInt32(&starts))
	require.True(t, d.IsRunning("node-1"))
}

func TestStopRemovesFromRegistryAndCallsStop(t *testing.T) {
	d := New()
	n := &fakeNode{id: "node-1"}
	start := func(ctx context.Context, id, passphrase string) (RunningNode, error) {
		return n, nil
	}
	require.NoError(t, d.Start(context.Background(), "node-1", "pw", start))
	require.NoError(t, d.Stop(context.Background(), "node-1"))

	require.False(t, d.IsRunning("node-1"))
	require.Equal(t, int32(1), atomic.LoadInt32(&n.stopped))
}

func TestStartNonBlockingRejectsContendedStart(t *testing.T) {
	d := New()

	release := make(chan struct{})
	start := func(ctx context.Context, id, passphrase string) (RunningNode, error) {
		<-release
		return &fakeNode{id: id}, nil
	}

	go func() {
		_ = d.StartNonBlocking(context.Background(), "node-1", "pw", start)
	}()

	require.Eventually(t, func() bool {
		err := d.StartNonBlocking(context.Background(), "node-1", "pw", start)
		return errors.Is(err, esenseid.ErrNodeBeingStartedAlready)
	}, time.Second, 5*time.Millisecond)

	close(release)
}

func TestAdminNodeIDLifecycle(t *testing.T) {
	d := New()

	_, err := d.AdminNodeID()
	require.ErrorIs(t, err, esenseid.ErrAdminNodeNotCreated)

	d.SetAdminNodeID("admin-node")
	_, err = d.AdminNodeID()
	require.ErrorIs(t, err, esenseid.ErrAdminNodeNotStarted)

	start := func(ctx context.Context, id, passphrase string) (RunningNode, error) {
		return &fakeNode{id: id}, nil
	}
	require.NoError(t, d.Start(context.Background(), "admin-node", "pw", start))

	id, err := d.AdminNodeID()
	require.NoError(t, err)
	require.Equal(t, "admin-node", id)
}
