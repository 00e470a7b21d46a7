package chainsync

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"

	"github.com/sensei-labs/senseid/chainbackend"
)

// fakeSource is an in-memory chain supporting BestTip mutation, so tests
// can drive the poll loop through successive tips.
type fakeSource struct {
	mu      sync.Mutex
	best    chainbackend.Tip
	headers map[chainhash.Hash]*wire.BlockHeader
	blocks  map[chainhash.Hash]*wire.MsgBlock
}

func newFakeSource() *fakeSource {
	return &fakeSource{headers: make(map[chainhash.Hash]*wire.BlockHeader), blocks: make(map[chainhash.Hash]*wire.MsgBlock)}
}

func (f *fakeSource) addBlock(height int32, prev chainhash.Hash, nonce uint32) chainhash.Hash {
	hdr := &wire.BlockHeader{PrevBlock: prev, Nonce: nonce}
	hash := hdr.BlockHash()
	f.headers[hash] = hdr
	f.blocks[hash] = &wire.MsgBlock{Header: *hdr}
	return hash
}

func (f *fakeSource) setBest(hash chainhash.Hash, height int32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.best = chainbackend.Tip{Hash: hash, Height: height}
}

func (f *fakeSource) BestTip(ctx context.Context) (chainbackend.Tip, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.best, nil
}

func (f *fakeSource) HeaderByHash(ctx context.Context, hash chainhash.Hash) (*wire.BlockHeader, error) {
	h, ok := f.headers[hash]
	if !ok {
		return nil, errNotFound
	}
	return h, nil
}

func (f *fakeSource) BlockByHash(ctx context.Context, hash chainhash.Hash) (*wire.MsgBlock, error) {
	b, ok := f.blocks[hash]
	if !ok {
		return nil, errNotFound
	}
	return b, nil
}

func (f *fakeSource) HashByHeight(ctx context.Context, height int32) (chainhash.Hash, error) {
	return chainhash.Hash{}, nil
}

type testErr string

func (e testErr) Error() string { return string(e) }

const errNotFound = testErr("not found")

type recordingListener struct {
	id string

	mu         sync.Mutex
	connected  []chainhash.Hash
	disconnect []chainhash.Hash
}

func (l *recordingListener) ID() string { return l.id }

func (l *recordingListener) BlockConnected(ctx context.Context, tip chainbackend.Tip, block *wire.MsgBlock) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.connected = append(l.connected, tip.Hash)
	return nil
}

func (l *recordingListener) BlockDisconnected(ctx context.Context, tip chainbackend.Tip) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.disconnect = append(l.disconnect, tip.Hash)
	return nil
}

func (l *recordingListener) snapshot() (connected, disconnected []chainhash.Hash) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]chainhash.Hash(nil), l.connected...), append([]chainhash.Hash(nil), l.disconnect...)
}

func TestManagerDispatchesConnectInOrder(t *testing.T) {
	src := newFakeSource()
	genesis := chainhash.Hash{}
	h1 := src.addBlock(1, genesis, 1)
	h2 := src.addBlock(2, h1, 1)
	src.setBest(h1, 1)

	m := New(Config{Backend: src, PollInterval: 10 * time.Millisecond})
	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()

	l := &recordingListener{id: "l1"}
	m.Register(l)

	src.setBest(h2, 2)

	require.Eventually(t, func() bool {
		connected, _ := l.snapshot()
		return len(connected) == 1 && connected[0] == h2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestManagerSynchronizeToTipReplaysBeforeRegistering(t *testing.T) {
	src := newFakeSource()
	genesis := chainhash.Hash{}
	h1 := src.addBlock(1, genesis, 1)
	h2 := src.addBlock(2, h1, 1)
	h3 := src.addBlock(3, h2, 1)
	src.setBest(h3, 3)

	m := New(Config{Backend: src, PollInterval: time.Hour})
	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()

	l := &recordingListener{id: "catchup"}
	err := m.SynchronizeToTip(context.Background(), l, chainbackend.Tip{Hash: h1, Height: 1})
	require.NoError(t, err)

	connected, _ := l.snapshot()
	require.Equal(t, []chainhash.Hash{h2, h3}, connected)
}
