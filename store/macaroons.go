package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/sensei-labs/senseid/esenseid"
)

// UpsertMacaroon inserts or replaces the single encrypted root-macaroon
// blob stored for a Node. Each node has at most one row here; per-request
// capability macaroons are derived from this root by the Auth package at
// verification time and are never themselves persisted.
func (db *DB) UpsertMacaroon(ctx context.Context, m *Macaroon) error {
	var query string
	switch db.Backend {
	case BackendPostgres:
		query = `
INSERT INTO macaroons (id, node_id, encrypted_macaroon, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (node_id) DO UPDATE SET encrypted_macaroon = EXCLUDED.encrypted_macaroon, updated_at = EXCLUDED.updated_at`
	default:
		query = `
INSERT INTO macaroons (id, node_id, encrypted_macaroon, created_at, updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (node_id) DO UPDATE SET encrypted_macaroon = excluded.encrypted_macaroon, updated_at = excluded.updated_at`
	}
	_, err := db.ExecContext(ctx, query, m.ID, m.NodeID, m.EncryptedMacaroon, m.CreatedAt, m.UpdatedAt)
	if err != nil {
		return esenseid.Wrap(esenseid.KindDb, err)
	}
	return nil
}

// GetMacaroon fetches the encrypted root macaroon for a Node.
func (db *DB) GetMacaroon(ctx context.Context, nodeID string) (*Macaroon, error) {
	query := db.rebind(`SELECT id, node_id, encrypted_macaroon, created_at, updated_at FROM macaroons WHERE node_id = ?`)
	row := db.QueryRowContext(ctx, query, nodeID)

	m := &Macaroon{}
	err := row.Scan(&m.ID, &m.NodeID, &m.EncryptedMacaroon, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, esenseid.ErrMacaroonNotFound
	}
	if err != nil {
		return nil, esenseid.Wrap(esenseid.KindDb, err)
	}
	return m, nil
}
