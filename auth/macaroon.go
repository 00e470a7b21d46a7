package auth

import (
	"fmt"
	"strings"
	"time"

	macaroon "gopkg.in/macaroon.v2"
	"gopkg.in/macaroon-bakery.v2/bakery/checkers"

	"github.com/sensei-labs/senseid/esenseid"
)

// declaredCapabilityKey is the checkers.DeclaredCaveat key binding a
// macaroon to the capability set it grants, spec.md §4.7: "carries
// caveats (e.g., expiry, operation kind)".
const declaredCapabilityKey = "capability"

// RootKeyFunc resolves the node-scoped root key a macaroon for nodeID
// was minted (and must be verified) under. It takes no passphrase, so an
// implementation cannot unseal the node's seed: admin's implementation
// (rootKeyFor) returns a random per-node key kept unencrypted in the
// node's KV namespace, not a key derived from the seed.
type RootKeyFunc func(nodeID string) ([]byte, error)

// MacaroonService mints and verifies node-scoped capability macaroons.
type MacaroonService struct {
	rootKey RootKeyFunc
}

func NewMacaroonService(rootKey RootKeyFunc) *MacaroonService {
	return &MacaroonService{rootKey: rootKey}
}

// Mint issues a macaroon for nodeID granting capabilities (comma-joined
// into a single declared caveat), optionally expiring at expiry (zero
// value = no expiry caveat).
func (s *MacaroonService) Mint(nodeID string, capabilities []string, expiry time.Time) ([]byte, error) {
	key, err := s.rootKey(nodeID)
	if err != nil {
		return nil, esenseid.Wrap(esenseid.KindMacaroon, err)
	}

	m, err := macaroon.New(key, []byte(nodeID), "senseid", macaroon.LatestVersion)
	if err != nil {
		return nil, esenseid.Wrap(esenseid.KindMacaroon, err)
	}

	capCaveat := checkers.DeclaredCaveat(declaredCapabilityKey, strings.Join(capabilities, ","))
	if err := m.AddFirstPartyCaveat([]byte(capCaveat.Condition)); err != nil {
		return nil, esenseid.Wrap(esenseid.KindMacaroon, err)
	}

	if !expiry.IsZero() {
		timeCaveat := checkers.TimeBeforeCaveat(expiry)
		if err := m.AddFirstPartyCaveat([]byte(timeCaveat.Condition)); err != nil {
			return nil, esenseid.Wrap(esenseid.KindMacaroon, err)
		}
	}

	out, err := m.MarshalBinary()
	if err != nil {
		return nil, esenseid.Wrap(esenseid.KindMacaroon, err)
	}
	return out, nil
}

// Verify checks macBytes against its declared node's root key, enforces
// any time-before caveat, and confirms the declared capability set
// covers required. Returns the bound node id on success.
func (s *MacaroonService) Verify(macBytes []byte, required string) (string, error) {
	m := &macaroon.Macaroon{}
	if err := m.UnmarshalBinary(macBytes); err != nil {
		return "", esenseid.Wrap(esenseid.KindInvalidMacaroon, err)
	}
	nodeID := string(m.Id())

	key, err := s.rootKey(nodeID)
	if err != nil {
		return "", esenseid.ErrMacaroonNotFound
	}

	var grantedCapabilities string
	check := func(cond string) error {
		name, arg, err := checkers.ParseCaveat(cond)
		if err != nil {
			return err
		}
		switch name {
		case checkers.CondTimeBefore:
			t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(arg))
			if err != nil {
				return err
			}
			if !time.Now().Before(t) {
				return fmt.Errorf("macaroon expired")
			}
			return nil
		case checkers.CondDeclared:
			parts := strings.SplitN(strings.TrimSpace(arg), " ", 2)
			if len(parts) == 2 && parts[0] == declaredCapabilityKey {
				grantedCapabilities = parts[1]
			}
			return nil
		default:
			return fmt.Errorf("unrecognized caveat: %s", cond)
		}
	}

	if err := m.Verify(key, check, nil); err != nil {
		return "", esenseid.Wrap(esenseid.KindInvalidMacaroon, err)
	}

	if !ScopeGranted(grantedCapabilities, required) {
		return "", esenseid.ErrUnauthenticated
	}
	return nodeID, nil
}
