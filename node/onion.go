package node

import (
	"bytes"

	"github.com/btcsuite/btcd/btcec/v2"
	sphinx "github.com/lightningnetwork/lightning-onion"

	"github.com/sensei-labs/senseid/esenseid"
	"github.com/sensei-labs/senseid/p2p"
)

// p2p.Route keeps its hop structure opaque to the routing substrate
// (pathfinding itself is out of scope there); the invoice payer
// interprets a resolved Route's Raw bytes as a list of fixed-size
// 33-byte compressed hop pubkeys, each followed by a '|' separator
// except the last, the minimal encoding buildOnionPacket needs to turn a
// path into a wire-ready onion. Hops are read by length, not by
// splitting on '|', since that byte can occur inside a pubkey.
func decodeRouteHops(route *p2p.Route) ([]*btcec.PublicKey, error) {
	if route == nil || len(route.Raw) == 0 {
		return nil, esenseid.New(esenseid.KindGeneric, "route has no hops")
	}
	const hopLen = 33

	var hops []*btcec.PublicKey
	for raw := route.Raw; len(raw) > 0; {
		if len(raw) < hopLen {
			return nil, esenseid.New(esenseid.KindGeneric, "route has a truncated hop")
		}
		pub, err := btcec.ParsePubKey(raw[:hopLen])
		if err != nil {
			return nil, esenseid.Wrap(esenseid.KindSecp256k1, err)
		}
		hops = append(hops, pub)
		raw = raw[hopLen:]
		if len(raw) > 0 && raw[0] == '|' {
			raw = raw[1:]
		}
	}
	if len(hops) == 0 {
		return nil, esenseid.New(esenseid.KindGeneric, "route decoded to zero hops")
	}
	return hops, nil
}

// encodeRouteHops is the inverse of decodeRouteHops, used by the invoice
// payer to hand p2p.Plane.FindRoute's result back in the shape
// buildOnionPacket expects once a route has been resolved.
func encodeRouteHops(hops []*btcec.PublicKey) []byte {
	var buf bytes.Buffer
	for i, h := range hops {
		if i > 0 {
			buf.WriteByte('|')
		}
		buf.Write(h.SerializeCompressed())
	}
	return buf.Bytes()
}

// buildOnionPacket constructs the sender-side Sphinx onion for an
// outgoing HTLC, grounded on the teacher's receive-side use of the same
// package (sphinx.Router.ProcessOnionPacket / sphinx.OnionPacket.Decode):
// this is the missing sender-side counterpart, delegating the actual
// mix-net construction (per-hop shared secrets, keystream XOR, HMAC
// chaining) entirely to the library rather than reimplementing
// Sphinx's cryptography by hand.
func buildOnionPacket(hops []*btcec.PublicKey, paymentHash [32]byte, amtMsat int64, finalCLTV uint32, sessionKey *btcec.PrivateKey) (*sphinx.OnionPacket, error) {
	if len(hops) == 0 || len(hops) > sphinx.NumMaxHops {
		return nil, esenseid.New(esenseid.KindGeneric, "route has no hops or exceeds the maximum onion hop count")
	}

	var path sphinx.PaymentPath
	for i, pub := range hops {
		path[i] = sphinx.OnionHop{
			NodePub: *pub,
			HopPayload: sphinx.HopPayload{
				Payload: encodeHopPayload(amtMsat, finalCLTV),
			},
		}
	}

	pkt, err := sphinx.NewOnionPacket(&path, sessionKey, paymentHash[:], sphinx.DeterministicPacketFiller)
	if err != nil {
		return nil, esenseid.Wrap(esenseid.KindGeneric, err)
	}
	return pkt, nil
}

// encodeHopPayload is a minimal per-hop forwarding instruction: amount
// to forward and the outgoing CLTV expiry, encoded as two big-endian
// integers. A full TLV onion payload (custom records, next short
// channel id per hop) is the channel manager's forwarding-policy
// concern, not this module's.
func encodeHopPayload(amtMsat int64, cltv uint32) []byte {
	buf := make([]byte, 12)
	putUint64(buf[0:8], uint64(amtMsat))
	putUint32(buf[8:12], cltv)
	return buf
}

func putUint64(b []byte, v uint64) {
	for i := 7; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
}

func putUint32(b []byte, v uint32) {
	for i := 3; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
}
