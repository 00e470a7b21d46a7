package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/sensei-labs/senseid/esenseid"
)

// CreateAccessToken inserts an access token row, as minted by Admin's
// token-issuance operation.
func (db *DB) CreateAccessToken(ctx context.Context, t *AccessToken) error {
	query := db.rebind(`
INSERT INTO access_tokens (id, token, name, scope, single_use, expires_at, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := db.ExecContext(ctx, query, t.ID, t.Token, t.Name, t.Scope, t.SingleUse, t.ExpiresAt, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		if IsUniqueViolation(err) {
			return esenseid.New(esenseid.KindConflict, "token collision, retry")
		}
		return esenseid.Wrap(esenseid.KindDb, err)
	}
	return nil
}

func scanAccessToken(row rowScanner) (*AccessToken, error) {
	t := &AccessToken{}
	err := row.Scan(&t.ID, &t.Token, &t.Name, &t.Scope, &t.SingleUse, &t.ExpiresAt, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// RedeemAccessToken atomically looks up a token by its bearer value and,
// if it is single-use, deletes it in the same transaction -- so two
// concurrent redemptions of the same single-use token can never both
// succeed (SPEC_FULL.md §8's single-use-token property).
func (db *DB) RedeemAccessToken(ctx context.Context, token string) (*AccessToken, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, esenseid.Wrap(esenseid.KindDb, err)
	}
	defer tx.Rollback()

	query := db.rebind(`SELECT id, token, name, scope, single_use, expires_at, created_at, updated_at FROM access_tokens WHERE token = ?`)
	t, err := scanAccessToken(tx.QueryRowContext(ctx, query, token))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, esenseid.ErrMacaroonNotFound
	}
	if err != nil {
		return nil, esenseid.Wrap(esenseid.KindDb, err)
	}

	if t.SingleUse {
		del := db.rebind(`DELETE FROM access_tokens WHERE id = ?`)
		if _, err := tx.ExecContext(ctx, del, t.ID); err != nil {
			return nil, esenseid.Wrap(esenseid.KindDb, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, esenseid.Wrap(esenseid.KindDb, err)
	}
	return t, nil
}

// DeleteAccessToken revokes a token outright, used by Admin's explicit
// token-revocation operation.
func (db *DB) DeleteAccessToken(ctx context.Context, id string) error {
	query := db.rebind(`DELETE FROM access_tokens WHERE id = ?`)
	res, err := db.ExecContext(ctx, query, id)
	if err != nil {
		return esenseid.Wrap(esenseid.KindDb, err)
	}
	return checkAffected(res)
}

// ListAccessTokens returns every outstanding token, for Admin's
// introspection surface.
func (db *DB) ListAccessTokens(ctx context.Context) ([]*AccessToken, error) {
	query := `SELECT id, token, name, scope, single_use, expires_at, created_at, updated_at FROM access_tokens ORDER BY created_at ASC`
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, esenseid.Wrap(esenseid.KindDb, err)
	}
	defer rows.Close()

	var tokens []*AccessToken
	for rows.Next() {
		t, err := scanAccessToken(rows)
		if err != nil {
			return nil, esenseid.Wrap(esenseid.KindDb, err)
		}
		tokens = append(tokens, t)
	}
	return tokens, rows.Err()
}
