package admin

import (
	"context"
	"encoding/hex"

	"github.com/btcsuite/btcd/btcec/v2"
	sphinx "github.com/lightningnetwork/lightning-onion"

	"github.com/sensei-labs/senseid/directory"
	"github.com/sensei-labs/senseid/esenseid"
	"github.com/sensei-labs/senseid/node"
	"github.com/sensei-labs/senseid/store"
)

// localHTLCSender is the same-process node.HTLCSender Service wires
// into every hosted node's Deps: when a payment's first hop happens to
// also be a node hosted in this process, delivery is a direct call into
// its InvoicePayer rather than a wire send, the in-process shortcut
// node/invoices.go's HTLCSender doc comment describes. A first hop
// hosted elsewhere has no Service-local route and fails outright --
// reaching an actual peer over the wire is p2p.Plane's concern, out of
// scope for this Service.
type localHTLCSender struct {
	dir *directory.Directory
	db  *store.DB
}

func newLocalHTLCSender(dir *directory.Directory, db *store.DB) *localHTLCSender {
	return &localHTLCSender{dir: dir, db: db}
}

var _ node.HTLCSender = (*localHTLCSender)(nil)

func (s *localHTLCSender) SendHTLC(ctx context.Context, firstHop *btcec.PublicKey, packet *sphinx.OnionPacket, amtMsat int64, paymentHash [32]byte) ([32]byte, error) {
	var zero [32]byte
	target := hex.EncodeToString(firstHop.SerializeCompressed())

	for _, id := range s.dir.List() {
		rn, ok := s.dir.Get(id)
		if !ok {
			continue
		}
		n, ok := rn.(*node.Node)
		if !ok {
			continue
		}
		info, err := n.Info(ctx)
		if err != nil || info.IdentityPub != target {
			continue
		}

		paymentHashHex := hex.EncodeToString(paymentHash[:])
		if err := n.Invoices.SettleInvoice(ctx, paymentHashHex, amtMsat); err != nil {
			return zero, err
		}

		payment, err := s.db.GetPayment(ctx, id, paymentHashHex)
		if err != nil {
			return zero, err
		}
		if payment == nil {
			return zero, esenseid.New(esenseid.KindLdkInvoice, "settled payment vanished: "+paymentHashHex)
		}

		raw, err := hex.DecodeString(payment.Preimage)
		if err != nil {
			return zero, esenseid.Wrap(esenseid.KindIo, err)
		}
		var preimage [32]byte
		copy(preimage[:], raw)
		return preimage, nil
	}

	return zero, esenseid.New(esenseid.KindLdkAPI, "no hosted node with identity "+target+" is running in this process")
}
