package lnwire

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
)

// DeserializeSigFromWire parses a fixed 64-byte r||s signature encoding,
// BOLT-0011's representation, into sig.
func DeserializeSigFromWire(sig **ecdsa.Signature, b [64]byte) error {
	var r, s btcec.ModNScalar
	if overflow := r.SetByteSlice(b[:32]); overflow {
		return fmt.Errorf("invalid signature: r overflows mod n")
	}
	if overflow := s.SetByteSlice(b[32:]); overflow {
		return fmt.Errorf("invalid signature: s overflows mod n")
	}
	*sig = ecdsa.NewSignature(&r, &s)
	return nil
}
