// Package esenseid defines the single tagged error type shared by every
// senseid package, generalizing channeldb's sentinel-error convention
// (channeldb/error.go) to the kind-tagged enum of
// original_source/senseicore/src/error.rs. Components return *Error instead
// of ad-hoc sentinels so callers can branch on Kind without import cycles
// back into the owning package.
package esenseid

import (
	"errors"
	"fmt"

	goerrors "github.com/go-errors/errors"
)

// Kind enumerates the error categories of spec.md §7. The set is closed:
// new categories should be rare enough to warrant a spec update.
type Kind int

const (
	KindGeneric Kind = iota
	KindDb
	KindCrypto
	KindMacaroon
	KindIo
	KindSecp256k1
	KindWallet
	KindBitcoinRpc
	KindLdkAPI
	KindLdkMsg
	KindLdkInvoice
	KindLdkInvoiceSign
	KindLdkInvoiceParse
	KindInvalidSeedLength
	KindInvalidEntropyLength
	KindFailedToWriteEntropy
	KindEntropyNotFound
	KindMacaroonNotFound
	KindUnauthenticated
	KindInvalidMacaroon
	KindAdminNodeNotStarted
	KindAdminNodeNotCreated
	KindFundingGenerationNeverHappened
	KindChannelOpenRejected
	KindNodeBeingStartedAlready
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindGeneric:
		return "generic"
	case KindDb:
		return "db"
	case KindCrypto:
		return "crypto"
	case KindMacaroon:
		return "macaroon"
	case KindIo:
		return "io"
	case KindSecp256k1:
		return "secp256k1"
	case KindWallet:
		return "wallet"
	case KindBitcoinRpc:
		return "bitcoin_rpc"
	case KindLdkAPI:
		return "ldk_api"
	case KindLdkMsg:
		return "ldk_msg"
	case KindLdkInvoice:
		return "ldk_invoice"
	case KindLdkInvoiceSign:
		return "ldk_invoice_sign"
	case KindLdkInvoiceParse:
		return "ldk_invoice_parse"
	case KindInvalidSeedLength:
		return "invalid_seed_length"
	case KindInvalidEntropyLength:
		return "invalid_entropy_length"
	case KindFailedToWriteEntropy:
		return "failed_to_write_entropy"
	case KindEntropyNotFound:
		return "entropy_not_found"
	case KindMacaroonNotFound:
		return "macaroon_not_found"
	case KindUnauthenticated:
		return "unauthenticated"
	case KindInvalidMacaroon:
		return "invalid_macaroon"
	case KindAdminNodeNotStarted:
		return "admin_node_not_started"
	case KindAdminNodeNotCreated:
		return "admin_node_not_created"
	case KindFundingGenerationNeverHappened:
		return "funding_generation_never_happened"
	case KindChannelOpenRejected:
		return "channel_open_rejected"
	case KindNodeBeingStartedAlready:
		return "node_being_started_already"
	case KindConflict:
		return "conflict"
	default:
		return "unknown"
	}
}

// Error is the error value every senseid component returns. Reason carries
// the ChannelOpenRejected-style free-form payload; Cause is the wrapped
// underlying error, if any. Stack is captured with go-errors so a crash
// report or RPC error log can show where the error was first minted, the
// same way lnd's rpcserver wraps errors returned from the wallet/channel
// layers before logging them.
type Error struct {
	Kind   Kind
	Reason string
	Cause  error
	stack  *goerrors.Error
}

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Reason: msg, stack: goerrors.Wrap(errors.New(msg), 1)}
}

func Wrap(kind Kind, cause error) *Error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Cause: cause, stack: goerrors.Wrap(cause, 1)}
}

func ChannelOpenRejected(reason string) *Error {
	return &Error{Kind: KindChannelOpenRejected, Reason: reason}
}

func (e *Error) Error() string {
	switch {
	case e.Reason != "" && e.Cause != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.Cause)
	case e.Reason != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
	case e.Cause != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
	default:
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// StackTrace renders the captured stack, for Fatal-path logging (schema
// migration failure, monitor corruption) where an operator needs to see
// exactly where the failure originated.
func (e *Error) StackTrace() string {
	if e.stack == nil {
		return ""
	}
	return string(e.stack.Stack())
}

// Is allows errors.Is(err, esenseid.ErrUnauthenticated) style comparisons:
// any *Error target matches when its Kind equals e's, so a Sentinel
// wrapping a bare Kind works as the target.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == other.Kind
}

// KindOf extracts the Kind of err if it is (or wraps) an *Error, defaulting
// to KindGeneric otherwise.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindGeneric
}

// Sentinel returns a comparable *Error of the given kind with no message,
// suitable for use with errors.Is at call sites, e.g.:
//
//	if errors.Is(err, esenseid.Sentinel(esenseid.KindAdminNodeNotStarted)) { ... }
func Sentinel(kind Kind) *Error {
	return &Error{Kind: kind}
}

var (
	ErrAdminNodeNotCreated           = Sentinel(KindAdminNodeNotCreated)
	ErrAdminNodeNotStarted           = Sentinel(KindAdminNodeNotStarted)
	ErrUnauthenticated               = Sentinel(KindUnauthenticated)
	ErrInvalidMacaroon               = Sentinel(KindInvalidMacaroon)
	ErrMacaroonNotFound              = Sentinel(KindMacaroonNotFound)
	ErrNodeBeingStartedAlready       = Sentinel(KindNodeBeingStartedAlready)
	ErrFundingGenerationNeverHappened = Sentinel(KindFundingGenerationNeverHappened)
	ErrEntropyNotFound               = Sentinel(KindEntropyNotFound)
	ErrInvalidSeedLength             = Sentinel(KindInvalidSeedLength)
	ErrInvalidEntropyLength          = Sentinel(KindInvalidEntropyLength)
	ErrConflict                      = Sentinel(KindConflict)
)
