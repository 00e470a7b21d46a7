package admin

import (
	"context"
	"crypto/rand"
	"time"

	"github.com/google/uuid"

	"github.com/sensei-labs/senseid/auth"
	"github.com/sensei-labs/senseid/store"
)

// CreateTokenRequest is the input to CreateToken, spec.md §3's
// AccessToken fields minus the ones the Service itself generates (id,
// the token value, timestamps).
type CreateTokenRequest struct {
	Name      string
	Scope     string
	SingleUse bool
	ExpiresAt int64
}

// ListTokens returns every outstanding bearer AccessToken, spec.md §6's
// "ListTokens" operation. The bearer value itself is included: unlike a
// macaroon there is no way to re-derive it, so this is the only
// introspection surface an operator who lost a token value has.
func (s *Service) ListTokens(ctx context.Context) ([]*store.AccessToken, error) {
	return s.db.ListAccessTokens(ctx)
}

// CreateToken mints a fresh bearer AccessToken, spec.md §6's
// "CreateToken" operation. The root access token §8's scenario describes
// ("Using T, CreateNode{...}") is simply a token created with
// auth.ScopeAll.
func (s *Service) CreateToken(ctx context.Context, req CreateTokenRequest) (*store.AccessToken, error) {
	value, err := auth.NewBearerToken(func(n int) ([]byte, error) {
		b := make([]byte, n)
		_, err := rand.Read(b)
		return b, err
	})
	if err != nil {
		return nil, err
	}

	now := time.Now().Unix()
	t := &store.AccessToken{
		ID: uuid.NewString(), Token: value, Name: req.Name, Scope: req.Scope,
		SingleUse: req.SingleUse, ExpiresAt: req.ExpiresAt,
		CreatedAt: now, UpdatedAt: now,
	}
	if err := s.db.CreateAccessToken(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// DeleteToken revokes a token outright, spec.md §6's "DeleteToken"
// operation.
func (s *Service) DeleteToken(ctx context.Context, id string) error {
	return s.db.DeleteAccessToken(ctx, id)
}
