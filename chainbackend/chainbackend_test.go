package chainbackend

import (
	"context"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

// fakeSource is a tiny in-memory chain, one header per height, enough to
// exercise Compare/CommonAncestor without a real node.
type fakeSource struct {
	headers map[chainhash.Hash]*wire.BlockHeader
	heights map[chainhash.Hash]int32
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		headers: make(map[chainhash.Hash]*wire.BlockHeader),
		heights: make(map[chainhash.Hash]int32),
	}
}

// addBlock creates a synthetic block extending prev, distinguished from
// any other block at the same height by nonce.
func (f *fakeSource) addBlock(height int32, prev chainhash.Hash, nonce uint32) chainhash.Hash {
	hdr := &wire.BlockHeader{PrevBlock: prev, Nonce: nonce}
	hash := hdr.BlockHash()
	f.headers[hash] = hdr
	f.heights[hash] = height
	return hash
}

func (f *fakeSource) BestTip(ctx context.Context) (Tip, error) { return Tip{}, nil }

func (f *fakeSource) HeaderByHash(ctx context.Context, hash chainhash.Hash) (*wire.BlockHeader, error) {
	h, ok := f.headers[hash]
	if !ok {
		return nil, errNotFound
	}
	return h, nil
}

func (f *fakeSource) BlockByHash(ctx context.Context, hash chainhash.Hash) (*wire.MsgBlock, error) {
	return nil, nil
}

func (f *fakeSource) HashByHeight(ctx context.Context, height int32) (chainhash.Hash, error) {
	return chainhash.Hash{}, nil
}

type testErr string

func (e testErr) Error() string { return string(e) }

const errNotFound = testErr("not found")

func TestCompareCommonBetterWorse(t *testing.T) {
	ctx := context.Background()
	src := newFakeSource()

	genesis := chainhash.Hash{}
	h1 := src.addBlock(1, genesis, 1)
	h2 := src.addBlock(2, h1, 1)

	oldTip := Tip{Hash: h1, Height: 1}

	cmp, err := Compare(ctx, src, oldTip, oldTip)
	require.NoError(t, err)
	require.Equal(t, Common, cmp)

	cmp, err = Compare(ctx, src, oldTip, Tip{Hash: h2, Height: 2})
	require.NoError(t, err)
	require.Equal(t, Better, cmp)

	// A competing block at height 2 that does NOT extend h1 is a reorg.
	h2Prime := src.addBlock(2, genesis, 2)
	cmp, err = Compare(ctx, src, oldTip, Tip{Hash: h2Prime, Height: 2})
	require.NoError(t, err)
	require.Equal(t, Worse, cmp)
}

// TestCommonAncestorHandlesReorg is the regression test for the
// ChainTip::Worse bug: a reorg must walk back to the true common
// ancestor and enumerate a real disconnect chain, not be treated as a
// simple extension.
func TestCommonAncestorHandlesReorg(t *testing.T) {
	ctx := context.Background()
	src := newFakeSource()

	genesis := chainhash.Hash{}
	a1 := src.addBlock(1, genesis, 1)
	a2 := src.addBlock(2, a1, 1)
	a3 := src.addBlock(3, a2, 1)

	// A competing fork starting from a1: b2, b3, b4 -- longer than the
	// a-chain, forcing a genuine reorg.
	b2 := src.addBlock(2, a1, 2)
	b3 := src.addBlock(3, b2, 2)
	b4 := src.addBlock(4, b3, 2)

	oldTip := Tip{Hash: a3, Height: 3}
	newTip := Tip{Hash: b4, Height: 4}

	ancestor, disconnect, connect, err := CommonAncestor(ctx, src, oldTip, newTip)
	require.NoError(t, err)
	require.Equal(t, a1, ancestor.Hash)
	require.Equal(t, int32(1), ancestor.Height)

	require.Len(t, disconnect, 2)
	require.Equal(t, a2, disconnect[0].Hash)
	require.Equal(t, a3, disconnect[1].Hash)

	require.Len(t, connect, 3)
	require.Equal(t, b2, connect[0].Hash)
	require.Equal(t, b3, connect[1].Hash)
	require.Equal(t, b4, connect[2].Hash)
}

func TestCommonAncestorNoReorgStraightExtension(t *testing.T) {
	ctx := context.Background()
	src := newFakeSource()

	genesis := chainhash.Hash{}
	a1 := src.addBlock(1, genesis, 1)
	a2 := src.addBlock(2, a1, 1)

	oldTip := Tip{Hash: a1, Height: 1}
	newTip := Tip{Hash: a2, Height: 2}

	ancestor, disconnect, connect, err := CommonAncestor(ctx, src, oldTip, newTip)
	require.NoError(t, err)
	require.Equal(t, a1, ancestor.Hash)
	require.Empty(t, disconnect)
	require.Len(t, connect, 1)
	require.Equal(t, a2, connect[0].Hash)
}
