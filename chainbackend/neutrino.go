package chainbackend

import (
	"context"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightninglabs/neutrino"
)

// Neutrino implements Source against an embedded SPV node, the other
// "local" leg alongside RPC, matching chainregistry.go's neutrino branch
// of newChainControlFromConfig.
type Neutrino struct {
	cs *neutrino.ChainService
}

// NewNeutrino wraps an already-started neutrino.ChainService. Startup
// (peer bootstrap, header sync to the filter header checkpoint) is the
// caller's responsibility, matching how chainregistry.go hands an
// already-constructed *neutrino.ChainService to the rest of lnd.
func NewNeutrino(cs *neutrino.ChainService) *Neutrino {
	return &Neutrino{cs: cs}
}

func (n *Neutrino) BestTip(ctx context.Context) (Tip, error) {
	bs := n.cs.BestBlock()
	if bs == nil {
		return Tip{}, fmt.Errorf("neutrino chain service has no best block yet")
	}
	return Tip{Hash: bs.Hash, Height: bs.Height}, nil
}

func (n *Neutrino) HeaderByHash(ctx context.Context, hash chainhash.Hash) (*wire.BlockHeader, error) {
	hdr, _, err := n.cs.GetBlockHeader(&hash)
	if err != nil {
		return nil, fmt.Errorf("neutrino getblockheader %s: %w", hash, err)
	}
	return hdr, nil
}

func (n *Neutrino) BlockByHash(ctx context.Context, hash chainhash.Hash) (*wire.MsgBlock, error) {
	block, err := n.cs.GetBlock(hash)
	if err != nil {
		return nil, fmt.Errorf("neutrino getblock %s: %w", hash, err)
	}
	return block.MsgBlock(), nil
}

func (n *Neutrino) HashByHeight(ctx context.Context, height int32) (chainhash.Hash, error) {
	hash, err := n.cs.GetBlockHash(int64(height))
	if err != nil {
		return chainhash.Hash{}, fmt.Errorf("neutrino getblockhash %d: %w", height, err)
	}
	return *hash, nil
}
