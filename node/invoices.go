package node

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/chaincfg"
	sphinx "github.com/lightningnetwork/lightning-onion"

	"github.com/sensei-labs/senseid/esenseid"
	"github.com/sensei-labs/senseid/internal/eventbus"
	"github.com/sensei-labs/senseid/lnwire"
	"github.com/sensei-labs/senseid/p2p"
	"github.com/sensei-labs/senseid/store"
	"github.com/sensei-labs/senseid/zpay32"
)

// maxPaymentAttempts bounds the invoice payer's retry loop: spec.md §5's
// invoice payer "retries transient path failures up to a bounded attempt
// count" rather than retrying forever.
const maxPaymentAttempts = 3

// HTLCSender delivers a constructed onion packet to its first hop and
// blocks until that payment resolves. node only builds the packet and
// drives the bounded retry loop; actually getting a packet across a wire
// (or, for two hosted nodes sharing this process, directly crediting the
// destination's InvoicePayer) is the concern of whatever wires a
// concrete Deps.HTLCSender -- the same local-vs-remote split P2PPlane
// itself makes for routing.
type HTLCSender interface {
	SendHTLC(ctx context.Context, firstHop *btcec.PublicKey, packet *sphinx.OnionPacket, amtMsat int64, paymentHash [32]byte) (preimage [32]byte, err error)
}

// InvoicePayer is a hosted node's BOLT-11 invoice encoder/decoder and
// outbound payment driver.
type InvoicePayer struct {
	db     *store.DB
	nodeID string
	params *chaincfg.Params
	bus    *eventbus.Bus

	wallet *Wallet
	plane  p2p.Plane
	sender HTLCSender
}

func newInvoicePayer(db *store.DB, nodeID string, params *chaincfg.Params, bus *eventbus.Bus, wallet *Wallet, plane p2p.Plane, sender HTLCSender) *InvoicePayer {
	return &InvoicePayer{
		db: db, nodeID: nodeID, params: params, bus: bus,
		wallet: wallet, plane: plane, sender: sender,
	}
}

// CreateInvoice mints a fresh preimage, records a pending inbound
// Payment, and returns its BOLT-11 encoding. amtMsat of zero omits the
// amount field, the BOLT-11 "any amount" invoice.
func (p *InvoicePayer) CreateInvoice(ctx context.Context, amtMsat int64, description string, expiry time.Duration) (string, error) {
	var preimage [32]byte
	if _, err := rand.Read(preimage[:]); err != nil {
		return "", esenseid.Wrap(esenseid.KindCrypto, err)
	}
	hash := sha256.Sum256(preimage[:])

	idKey, err := p.wallet.IdentityKey()
	if err != nil {
		return "", err
	}
	destPub := idKey.PubKey()

	opts := []func(*zpay32.Invoice){
		zpay32.Description(description),
		zpay32.Expiry(expiry),
		zpay32.Destination(destPub),
	}
	if amtMsat > 0 {
		opts = append(opts, zpay32.Amount(lnwire.MilliSatoshi(amtMsat)))
	}

	inv, err := zpay32.NewInvoice(p.params, hash, time.Now(), opts...)
	if err != nil {
		return "", esenseid.Wrap(esenseid.KindLdkInvoice, err)
	}

	encoded, err := inv.Encode(zpay32.MessageSigner{
		SignCompact: func(msgHash []byte) ([]byte, error) {
			return ecdsa.SignCompact(idKey, msgHash, true), nil
		},
	})
	if err != nil {
		return "", esenseid.Wrap(esenseid.KindLdkInvoiceSign, err)
	}

	var amt *int64
	if amtMsat > 0 {
		amt = &amtMsat
	}
	now := time.Now().Unix()
	paymentHashHex := hex.EncodeToString(hash[:])
	if err := p.db.CreatePayment(ctx, &store.Payment{
		ID: paymentHashHex, NodeID: p.nodeID, PaymentHash: paymentHashHex,
		Preimage: hex.EncodeToString(preimage[:]), Status: store.PaymentStatusPending,
		Origin: store.PaymentOriginInbound, Invoice: encoded, AmtMsat: amt,
		ReceivedByNodeID: &p.nodeID, CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		return "", err
	}

	return encoded, nil
}

// DecodeInvoice parses a BOLT-11 string without attempting to pay it.
func (p *InvoicePayer) DecodeInvoice(invoice string) (*zpay32.Invoice, error) {
	inv, err := zpay32.Decode(invoice)
	if err != nil {
		return nil, esenseid.Wrap(esenseid.KindLdkInvoiceParse, err)
	}
	return inv, nil
}

// SettleInvoice marks a previously created inbound invoice as paid. A
// concrete HTLCSender wired for same-process delivery calls this
// directly on the receiving node's InvoicePayer once it has credited the
// payment, the in-process counterpart of an incoming HTLC resolving at
// the final hop.
func (p *InvoicePayer) SettleInvoice(ctx context.Context, paymentHash string, amtMsat int64) error {
	payment, err := p.db.GetPayment(ctx, p.nodeID, paymentHash)
	if err != nil {
		return err
	}
	if payment == nil {
		return esenseid.New(esenseid.KindLdkInvoice, "unknown invoice: "+paymentHash)
	}
	if payment.Status == store.PaymentStatusSucceeded {
		return nil
	}

	feeMsat := int64(0)
	now := time.Now().Unix()
	if err := p.db.UpdatePaymentStatus(ctx, p.nodeID, paymentHash, store.PaymentStatusSucceeded, payment.Preimage, &feeMsat, now); err != nil {
		return err
	}

	if p.bus != nil {
		p.bus.Publish(ctx, eventbus.Event{
			Kind: eventbus.KindTransactionBroadcast, NodeID: p.nodeID,
			Payload: map[string]interface{}{"payment_hash": paymentHash, "amt_msat": amtMsat, "direction": "inbound"},
		})
	}
	return nil
}

// PayInvoice decodes invoice, resolves a route through the shared
// routing substrate, and drives the onion construction and HTLC send,
// retrying up to maxPaymentAttempts times on a transient path failure
// before giving up.
func (p *InvoicePayer) PayInvoice(ctx context.Context, invoice string, maxFeeMsat int64) error {
	inv, err := p.DecodeInvoice(invoice)
	if err != nil {
		return err
	}
	if inv.MilliSat == nil {
		return esenseid.New(esenseid.KindLdkInvoiceParse, "invoice has no amount")
	}
	return p.payTo(ctx, inv.Destination, *inv.PaymentHash, int64(*inv.MilliSat), uint32(inv.MinFinalCLTVExpiry()), invoice)
}

// Keysend pays a destination pubkey directly with a self-generated
// payment hash, BOLT-11's "spontaneous payment" -- no invoice, no prior
// contact with the payee required.
func (p *InvoicePayer) Keysend(ctx context.Context, destination *btcec.PublicKey, amtMsat int64, finalCLTV uint32) error {
	var preimage [32]byte
	if _, err := rand.Read(preimage[:]); err != nil {
		return esenseid.Wrap(esenseid.KindCrypto, err)
	}
	hash := sha256.Sum256(preimage[:])
	return p.payTo(ctx, destination, hash, amtMsat, finalCLTV, "")
}

func (p *InvoicePayer) payTo(ctx context.Context, destination *btcec.PublicKey, paymentHash [32]byte, amtMsat int64, finalCLTV uint32, invoiceStr string) error {
	identity, err := p.wallet.IdentityKey()
	if err != nil {
		return err
	}

	paymentHashHex := hex.EncodeToString(paymentHash[:])
	now := time.Now().Unix()
	if err := p.db.CreatePayment(ctx, &store.Payment{
		ID: paymentHashHex, NodeID: p.nodeID, PaymentHash: paymentHashHex,
		Status: store.PaymentStatusPending, Origin: store.PaymentOriginOutbound,
		Invoice: invoiceStr, AmtMsat: &amtMsat, CreatedByNodeID: &p.nodeID,
		CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt < maxPaymentAttempts; attempt++ {
		preimage, err := p.attempt(ctx, identity, destination, paymentHash, amtMsat, finalCLTV)
		if err == nil {
			feeMsat := int64(0)
			return p.db.UpdatePaymentStatus(ctx, p.nodeID, paymentHashHex,
				store.PaymentStatusSucceeded, hex.EncodeToString(preimage[:]), &feeMsat, time.Now().Unix())
		}
		lastErr = err
		log.Warnf("payment attempt %d/%d for %s failed: %v", attempt+1, maxPaymentAttempts, paymentHashHex, err)
	}

	_ = p.db.UpdatePaymentStatus(ctx, p.nodeID, paymentHashHex, store.PaymentStatusFailed, "", nil, time.Now().Unix())
	return fmt.Errorf("payment failed after %d attempts: %w", maxPaymentAttempts, lastErr)
}

func (p *InvoicePayer) attempt(ctx context.Context, identity *btcec.PrivateKey, destination *btcec.PublicKey, paymentHash [32]byte, amtMsat int64, finalCLTV uint32) ([32]byte, error) {
	var zero [32]byte

	route, err := p.plane.FindRoute(ctx, p2p.RouteParams{
		Payer: identity.PubKey(), Destination: destination,
		AmountMsat: amtMsat, FinalCLTV: finalCLTV, PaymentHash: paymentHash,
	})
	if err != nil {
		return zero, esenseid.Wrap(esenseid.KindLdkAPI, err)
	}

	hops, err := decodeRouteHops(route)
	if err != nil {
		return zero, err
	}

	sessionKey, err := btcec.NewPrivateKey()
	if err != nil {
		return zero, esenseid.Wrap(esenseid.KindCrypto, err)
	}

	packet, err := buildOnionPacket(hops, paymentHash, amtMsat, finalCLTV, sessionKey)
	if err != nil {
		return zero, err
	}

	if p.sender == nil {
		return zero, esenseid.New(esenseid.KindLdkAPI, "no HTLC sender configured")
	}

	preimage, err := p.sender.SendHTLC(ctx, hops[0], packet, amtMsat, paymentHash)
	if err != nil {
		// Blame the first hop: a more specific failing channel would come
		// from the onion failure message, which this trimmed payer
		// doesn't decode per-hop.
		if perr := p.plane.PaymentPathFailed(ctx, route, 0); perr != nil {
			log.Debugf("scorer update for failed path: %v", perr)
		}
		return zero, err
	}

	if serr := p.plane.PaymentPathSuccessful(ctx, route); serr != nil {
		log.Debugf("scorer update for successful path: %v", serr)
	}
	return preimage, nil
}
