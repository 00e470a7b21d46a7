package chainbackend

import (
	"context"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btcd/wire"
)

// RPC implements Source against a full node's RPC interface (btcd or
// bitcoind), the "local" leg of the tagged-variant selection, generalized
// from chainregistry.go's btcd/bitcoind ConnConfig branch.
type RPC struct {
	client *rpcclient.Client
}

// NewRPC dials a full node's RPC endpoint, matching chainregistry.go's
// newChainControlFromConfig's btcrpcclient.New call for the non-neutrino
// branch.
func NewRPC(host, user, pass string, certs []byte) (*RPC, error) {
	cfg := &rpcclient.ConnConfig{
		Host:         host,
		User:         user,
		Pass:         pass,
		Certificates: certs,
		HTTPPostMode: true,
		DisableTLS:   len(certs) == 0,
	}
	client, err := rpcclient.New(cfg, nil)
	if err != nil {
		return nil, fmt.Errorf("connecting to chain backend: %w", err)
	}
	return &RPC{client: client}, nil
}

func (r *RPC) BestTip(ctx context.Context) (Tip, error) {
	hash, height, err := r.client.GetBestBlock()
	if err != nil {
		return Tip{}, fmt.Errorf("getbestblock: %w", err)
	}
	return Tip{Hash: *hash, Height: height}, nil
}

func (r *RPC) HeaderByHash(ctx context.Context, hash chainhash.Hash) (*wire.BlockHeader, error) {
	hdr, err := r.client.GetBlockHeader(&hash)
	if err != nil {
		return nil, fmt.Errorf("getblockheader %s: %w", hash, err)
	}
	return hdr, nil
}

func (r *RPC) BlockByHash(ctx context.Context, hash chainhash.Hash) (*wire.MsgBlock, error) {
	block, err := r.client.GetBlock(&hash)
	if err != nil {
		return nil, fmt.Errorf("getblock %s: %w", hash, err)
	}
	return block, nil
}

func (r *RPC) HashByHeight(ctx context.Context, height int32) (chainhash.Hash, error) {
	hash, err := r.client.GetBlockHash(int64(height))
	if err != nil {
		return chainhash.Hash{}, fmt.Errorf("getblockhash %d: %w", height, err)
	}
	return *hash, nil
}

// Shutdown releases the underlying RPC connection.
func (r *RPC) Shutdown() {
	r.client.Shutdown()
}

var (
	_ Broadcaster  = (*RPC)(nil)
	_ FeeEstimator = (*RPC)(nil)
)

// PublishTransaction broadcasts tx via the backing full node's RPC,
// the local leg of spec.md §6's "broadcast" endpoint.
func (r *RPC) PublishTransaction(ctx context.Context, tx *wire.MsgTx) error {
	_, err := r.client.SendRawTransaction(tx, false)
	if err != nil {
		return fmt.Errorf("sendrawtransaction: %w", err)
	}
	return nil
}

// EstimateFeeRate asks the backing full node for a fee estimate,
// translating spec.md §6's three named priority buckets into
// conservative/economical confirmation targets.
func (r *RPC) EstimateFeeRate(ctx context.Context, priority FeePriority) (int64, error) {
	target := int64(6)
	switch priority {
	case FeeHighPriority:
		target = 2
	case FeeNormal:
		target = 6
	case FeeBackground:
		target = 144
	}
	rate, err := r.client.EstimateFee(target)
	if err != nil {
		return 0, fmt.Errorf("estimatefee: %w", err)
	}
	// btcd's EstimateFee reports BTC/KB; the wire protocol of spec.md §6
	// wants sat/1000-weight. Scaling by 1e8 sat/BTC gives sat/KB, and a
	// legacy kilobyte is 4000 weight units, so divide by 4.
	return int64(rate * 1e8 / 4), nil
}
