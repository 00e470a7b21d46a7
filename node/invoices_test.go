package node

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	sphinx "github.com/lightningnetwork/lightning-onion"
	"github.com/stretchr/testify/require"

	"github.com/sensei-labs/senseid/internal/eventbus"
	"github.com/sensei-labs/senseid/p2p"
	"github.com/sensei-labs/senseid/store"
)

// fakePlane is the minimal p2p.Plane a payer-side unit test needs: a
// fixed one-hop route straight to the destination, no real gossip graph.
type fakePlane struct {
	findRouteErr error
}

func (f *fakePlane) FindRoute(ctx context.Context, params p2p.RouteParams) (*p2p.Route, error) {
	if f.findRouteErr != nil {
		return nil, f.findRouteErr
	}
	return &p2p.Route{Raw: encodeRouteHops([]*btcec.PublicKey{params.Destination})}, nil
}

func (f *fakePlane) ChannelPenaltyMsat(ctx context.Context, shortChanID uint64, amtMsat int64) (int64, error) {
	return 0, nil
}
func (f *fakePlane) PaymentPathFailed(ctx context.Context, route *p2p.Route, failedChanID uint64) error {
	return nil
}
func (f *fakePlane) PaymentPathSuccessful(ctx context.Context, route *p2p.Route) error { return nil }
func (f *fakePlane) NodeInfo(ctx context.Context, pubKeyHex string) (*p2p.NodeInfo, error) {
	return nil, nil
}

// fakeSender either settles every HTLC with a fixed preimage, or fails
// every attempt, depending on how it's configured.
type fakeSender struct {
	fail     bool
	preimage [32]byte
}

func (s *fakeSender) SendHTLC(ctx context.Context, firstHop *btcec.PublicKey, packet *sphinx.OnionPacket, amtMsat int64, paymentHash [32]byte) ([32]byte, error) {
	if s.fail {
		return [32]byte{}, errors.New("no route to destination")
	}
	return s.preimage, nil
}

func newTestInvoicePayer(t *testing.T, db *store.DB, nodeID string, plane p2p.Plane, sender HTLCSender) *InvoicePayer {
	t.Helper()
	w := newTestWallet(t, db, nodeID)
	return newInvoicePayer(db, nodeID, w.params, eventbus.New(), w, plane, sender)
}

func TestCreateAndDecodeInvoiceRoundTrips(t *testing.T) {
	db := newTestDB(t)
	payer := newTestInvoicePayer(t, db, "node-1", &fakePlane{}, nil)

	invoice, err := payer.CreateInvoice(context.Background(), 1000, "coffee", time.Hour)
	require.NoError(t, err)

	decoded, err := payer.DecodeInvoice(invoice)
	require.NoError(t, err)
	require.NotNil(t, decoded.MilliSat)
	require.EqualValues(t, 1000, *decoded.MilliSat)
	require.Equal(t, "coffee", *decoded.Description)
}

func TestPayInvoiceSucceedsAndRecordsPayment(t *testing.T) {
	db := newTestDB(t)
	sender := &fakeSender{preimage: [32]byte{1, 2, 3}}
	payer := newTestInvoicePayer(t, db, "node-1", &fakePlane{}, sender)

	// Keysend avoids needing a second node's wallet just to mint a
	// destination pubkey for this payer-side test.
	destWallet := newTestWallet(t, newTestDB(t), "node-2")
	destKey, err := destWallet.IdentityKey()
	require.NoError(t, err)

	err = payer.Keysend(context.Background(), destKey.PubKey(), 1000, 40)
	require.NoError(t, err)

	listed, err := db.ListPayments(context.Background(), store.ListPaymentsParams{NodeID: "node-1"})
	require.NoError(t, err)
	require.Len(t, listed.Payments, 1)
	require.Equal(t, store.PaymentStatusSucceeded, listed.Payments[0].Status)
}

func TestPayInvoiceFailsAfterExhaustingRetries(t *testing.T) {
	db := newTestDB(t)
	sender := &fakeSender{fail: true}
	payer := newTestInvoicePayer(t, db, "node-1", &fakePlane{}, sender)

	destWallet := newTestWallet(t, newTestDB(t), "node-2")
	destKey, err := destWallet.IdentityKey()
	require.NoError(t, err)

	err = payer.Keysend(context.Background(), destKey.PubKey(), 1000, 40)
	require.Error(t, err)
}

func TestLabelPaymentIsIdempotentDeleteIsNot(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	payer := newTestInvoicePayer(t, db, "node-1", &fakePlane{}, nil)

	invoice, err := payer.CreateInvoice(ctx, 1000, "coffee", time.Hour)
	require.NoError(t, err)
	decoded, err := payer.DecodeInvoice(invoice)
	require.NoError(t, err)
	paymentHash := hex(decoded.PaymentHash[:])

	require.NoError(t, db.LabelPayment(ctx, "node-1", paymentHash, "first label", time.Now().Unix()))
	require.NoError(t, db.LabelPayment(ctx, "node-1", paymentHash, "second label", time.Now().Unix()))

	payment, err := db.GetPayment(ctx, "node-1", paymentHash)
	require.NoError(t, err)
	require.Equal(t, "second label", payment.Label)

	require.NoError(t, db.DeletePayment(ctx, "node-1", paymentHash))
	require.Error(t, db.DeletePayment(ctx, "node-1", paymentHash), "deleting an already-deleted payment must fail, unlike labeling")
}

func hex(b []byte) string {
	const digits = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, c := range b {
		out[i*2] = digits[c>>4]
		out[i*2+1] = digits[c&0x0f]
	}
	return string(out)
}
