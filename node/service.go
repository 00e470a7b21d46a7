package node

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"

	"github.com/sensei-labs/senseid/esenseid"
	"github.com/sensei-labs/senseid/store"
	"github.com/sensei-labs/senseid/zpay32"
)

// signedMsgPrefix mirrors lnd's "Lightning Signed Message:" convention:
// messages are hashed with a fixed prefix so a signature produced here
// can never be replayed as a signature over a raw Bitcoin transaction or
// another protocol's message.
const signedMsgPrefix = "Lightning Signed Message:"

// OpenChannelRequest is one entry of a batched OpenChannels call.
type OpenChannelRequest struct {
	PeerPubkey  string
	CapacitySat int64
}

// OpenChannelResult is the per-request outcome of OpenChannels: either a
// funding outpoint, or an error for that single request -- one request
// in the batch failing must not abort the rest.
type OpenChannelResult struct {
	PeerPubkey      string
	FundingOutpoint string
	Err             error
}

// OpenChannels builds a funding output for each request independently,
// matching spec.md §6's "OpenChannels (batched)" operation: a partial
// failure only fails its own entry.
func (n *Node) OpenChannels(ctx context.Context, reqs []OpenChannelRequest) []OpenChannelResult {
	results := make([]OpenChannelResult, len(reqs))
	for i, r := range reqs {
		outpoint, err := n.Wallet.BuildFundingOutput(ctx, r.CapacitySat)
		results[i] = OpenChannelResult{PeerPubkey: r.PeerPubkey, FundingOutpoint: outpoint, Err: err}
		if err != nil {
			continue
		}
		state := &ChannelState{
			FundingOutpoint: outpoint, PeerPubkey: r.PeerPubkey,
			CapacityMsat: r.CapacitySat * 1000,
		}
		if cerr := n.Channels.commit(ctx, state); cerr != nil {
			results[i].Err = cerr
		}
	}
	return results
}

// CloseChannel closes one channel by funding outpoint.
func (n *Node) CloseChannel(ctx context.Context, fundingOutpoint string, force bool) error {
	return n.Channels.Close(ctx, fundingOutpoint, force)
}

// ListChannels returns a snapshot of this node's channels.
func (n *Node) ListChannels() []*ChannelState {
	return n.Channels.List()
}

// ConnectPeer resolves pubkey's address (preferring a caller-supplied
// address, falling back to the shared plane's gossip graph) and records
// the connection intent. Actually dialing the transport is
// connector's job (p2p.Connector), wired in by whatever owns the
// process-wide connector instance; Node only owns the bookkeeping
// that survives a restart.
func (n *Node) ConnectPeer(ctx context.Context, pubkey, address string, zeroConf bool) error {
	if address == "" {
		info, err := n.deps.Plane.NodeInfo(ctx, pubkey)
		if err != nil {
			return esenseid.Wrap(esenseid.KindLdkAPI, err)
		}
		if info == nil || len(info.Addresses) == 0 {
			return esenseid.New(esenseid.KindLdkAPI, "no known address for "+pubkey)
		}
		address = info.Addresses[0]
	}

	if err := n.Peers.AddKnownPeer(ctx, pubkey, "", "", zeroConf); err != nil {
		return err
	}
	return n.Peers.RecordAddress(ctx, pubkey, address, store.PeerAddressSourceManual)
}

// ListPeers returns every Peer row of this node, whether or not an
// address has been recorded for it.
func (n *Node) ListPeers(ctx context.Context) ([]*store.Peer, error) {
	return n.Peers.ListKnownPeers(ctx)
}

// ListKnownPeers is an alias for ListPeers kept to match spec.md §6's
// naming of ListPeers and ListKnownPeers as two distinct operations; in
// this module's model a "known" peer and a "recorded" peer are the same
// Peer row, so both read from the same table.
func (n *Node) ListKnownPeers(ctx context.Context) ([]*store.Peer, error) {
	return n.Peers.ListKnownPeers(ctx)
}

// AddKnownPeer records a connection intent without connecting.
func (n *Node) AddKnownPeer(ctx context.Context, pubkey, alias, label string, zeroConf bool) error {
	return n.Peers.AddKnownPeer(ctx, pubkey, alias, label, zeroConf)
}

// RemoveKnownPeer forgets a previously recorded peer.
func (n *Node) RemoveKnownPeer(ctx context.Context, pubkey string) error {
	return n.Peers.RemoveKnownPeer(ctx, pubkey)
}

// PayInvoice, DecodeInvoice, Keysend, and CreateInvoice delegate
// straight to InvoicePayer; kept as Node methods so callers reach every
// spec.md §6 operation off one receiver.

func (n *Node) PayInvoice(ctx context.Context, invoice string, maxFeeMsat int64) error {
	return n.Invoices.PayInvoice(ctx, invoice, maxFeeMsat)
}

func (n *Node) DecodeInvoice(invoice string) (*zpay32.Invoice, error) {
	return n.Invoices.DecodeInvoice(invoice)
}

func (n *Node) Keysend(ctx context.Context, destination *btcec.PublicKey, amtMsat int64, finalCLTV uint32) error {
	return n.Invoices.Keysend(ctx, destination, amtMsat, finalCLTV)
}

func (n *Node) CreateInvoice(ctx context.Context, amtMsat int64, description string, expiry time.Duration) (string, error) {
	return n.Invoices.CreateInvoice(ctx, amtMsat, description, expiry)
}

// LabelPayment and DeletePayment expose store's idempotent-label /
// non-idempotent-delete pair directly (spec.md §8 property 7).

func (n *Node) LabelPayment(ctx context.Context, paymentHash, label string) error {
	return n.deps.DB.LabelPayment(ctx, n.nodeID, paymentHash, label, time.Now().Unix())
}

func (n *Node) DeletePayment(ctx context.Context, paymentHash string) error {
	return n.deps.DB.DeletePayment(ctx, n.nodeID, paymentHash)
}

func (n *Node) ListPayments(ctx context.Context, offset, limit int, origin *store.PaymentOrigin) (*store.ListPaymentsResult, error) {
	return n.deps.DB.ListPayments(ctx, store.ListPaymentsParams{NodeID: n.nodeID, Offset: offset, Limit: limit, Origin: origin})
}

// GetUnusedAddress and GetBalance delegate to Wallet.

func (n *Node) GetUnusedAddress(ctx context.Context) (string, error) {
	return n.Wallet.GetUnusedAddress(ctx, KeychainExternal)
}

func (n *Node) GetBalance(ctx context.Context) (int64, error) {
	return n.Wallet.GetBalance(ctx)
}

func (n *Node) ListUnspent(ctx context.Context) ([]*store.Utxo, error) {
	return n.Wallet.ListUnspent(ctx)
}

// Info is this node's GetInfo-equivalent: identity pubkey, channel
// count, and known-peer count, the minimal operator-facing summary
// spec.md §6 names.
type Info struct {
	NodeID      string
	IdentityPub string
	NumChannels int
	NumPeers    int
}

func (n *Node) Info(ctx context.Context) (*Info, error) {
	idKey, err := n.Wallet.IdentityKey()
	if err != nil {
		return nil, err
	}
	peers, err := n.Peers.ListKnownPeers(ctx)
	if err != nil {
		return nil, err
	}
	return &Info{
		NodeID:      n.nodeID,
		IdentityPub: hex.EncodeToString(idKey.PubKey().SerializeCompressed()),
		NumChannels: len(n.Channels.List()),
		NumPeers:    len(peers),
	}, nil
}

// SignMessage signs an arbitrary message with the node's identity key,
// returning a base64 compact signature a counterparty can verify against
// the node's known pubkey without ever contacting it directly.
func (n *Node) SignMessage(message []byte) (string, error) {
	idKey, err := n.Wallet.IdentityKey()
	if err != nil {
		return "", err
	}
	hash := signedMsgHash(message)
	sig := ecdsa.SignCompact(idKey, hash, true)
	return base64.StdEncoding.EncodeToString(sig), nil
}

// VerifyMessage recovers the signer's pubkey from sig and reports
// whether it matches expectedPubkeyHex.
func (n *Node) VerifyMessage(message []byte, sigBase64, expectedPubkeyHex string) (bool, error) {
	sig, err := base64.StdEncoding.DecodeString(sigBase64)
	if err != nil {
		return false, esenseid.Wrap(esenseid.KindSecp256k1, err)
	}
	hash := signedMsgHash(message)
	pub, _, err := ecdsa.RecoverCompact(sig, hash)
	if err != nil {
		return false, esenseid.Wrap(esenseid.KindSecp256k1, err)
	}
	return hex.EncodeToString(pub.SerializeCompressed()) == expectedPubkeyHex, nil
}

func signedMsgHash(message []byte) []byte {
	first := sha256.Sum256(append([]byte(signedMsgPrefix), message...))
	second := sha256.Sum256(first[:])
	return second[:]
}

// graphStatter is an optional capability a P2PPlane implementation may
// provide; LocalPlane does not expose aggregate graph counts today, so
// NetworkGraphInfo falls back to zero values rather than requiring every
// Plane implementation (including RemoteClient) to compute them.
type graphStatter interface {
	GraphStats(ctx context.Context) (numNodes int, numChannels int, err error)
}

// NetworkGraphInfo reports the shared routing substrate's graph size, if
// the configured Plane exposes it.
type NetworkGraphInfo struct {
	NumNodes    int
	NumChannels int
}

func (n *Node) NetworkGraphInfo(ctx context.Context) (*NetworkGraphInfo, error) {
	stats, ok := n.deps.Plane.(graphStatter)
	if !ok {
		return &NetworkGraphInfo{}, nil
	}
	numNodes, numChannels, err := stats.GraphStats(ctx)
	if err != nil {
		return nil, esenseid.Wrap(esenseid.KindLdkAPI, err)
	}
	return &NetworkGraphInfo{NumNodes: numNodes, NumChannels: numChannels}, nil
}
