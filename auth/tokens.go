// Package auth implements Auth, spec.md §4.7: the two credential kinds
// senseid accepts (coarse bearer AccessTokens and per-node capability
// Macaroons) and the middleware that resolves an inbound request to
// (node_id, capabilities) or rejects it, generalizing lnd's single
// admin-macaroon model to a multi-tenant one where each hosted node
// mints its own.
package auth

import (
	"context"
	"strings"

	"github.com/sensei-labs/senseid/esenseid"
	"github.com/sensei-labs/senseid/store"
)

// ScopeAll is the AccessToken scope value granting every capability,
// spec.md §3: "scope (comma-separated list; * = all)".
const ScopeAll = "*"

// ScopeGranted reports whether scope (a comma-separated capability
// list, possibly ScopeAll) covers the required capability. Shared
// between AccessToken scope checks and Macaroon capability checks so
// both credential kinds apply the same matching rule.
func ScopeGranted(scope, required string) bool {
	if scope == ScopeAll {
		return true
	}
	for _, s := range strings.Split(scope, ",") {
		if strings.TrimSpace(s) == required {
			return true
		}
	}
	return false
}

// ValidateAccessToken redeems token (deleting it if single-use, per
// spec.md §4.7) and checks it is unexpired and scoped to required,
// matching store.RedeemAccessToken's single-use-consumption invariant
// to the caller's required capability.
func ValidateAccessToken(ctx context.Context, db *store.DB, now int64, token, required string) (*store.AccessToken, error) {
	t, err := db.RedeemAccessToken(ctx, token)
	if err != nil {
		return nil, err
	}

	if t.ExpiresAt != 0 && t.ExpiresAt < now {
		return nil, esenseid.ErrUnauthenticated
	}
	if !ScopeGranted(t.Scope, required) {
		return nil, esenseid.ErrUnauthenticated
	}
	return t, nil
}

// NewBearerToken mints a fresh opaque token value for CreateToken,
// zbase32-encoded so the printed value is human-typeable -- no visually
// ambiguous characters, unlike raw hex or base64.
func NewBearerToken(randBytes func(n int) ([]byte, error)) (string, error) {
	raw, err := randBytes(20)
	if err != nil {
		return "", esenseid.Wrap(esenseid.KindCrypto, err)
	}
	return zbase32Encode(raw), nil
}
