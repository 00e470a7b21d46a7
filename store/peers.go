package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/sensei-labs/senseid/esenseid"
)

// UpsertPeer records a connection intent, replacing the Alias/Label/
// ZeroConf fields of an existing (NodeID, Pubkey) row in place.
func (db *DB) UpsertPeer(ctx context.Context, p *Peer) error {
	var query string
	switch db.Backend {
	case BackendPostgres:
		query = `
INSERT INTO peers (id, node_id, pubkey, alias, label, zero_conf, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (node_id, pubkey) DO UPDATE SET alias = EXCLUDED.alias, label = EXCLUDED.label, zero_conf = EXCLUDED.zero_conf, updated_at = EXCLUDED.updated_at`
	default:
		query = `
INSERT INTO peers (id, node_id, pubkey, alias, label, zero_conf, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (node_id, pubkey) DO UPDATE SET alias = excluded.alias, label = excluded.label, zero_conf = excluded.zero_conf, updated_at = excluded.updated_at`
	}
	_, err := db.ExecContext(ctx, query, p.ID, p.NodeID, p.Pubkey, p.Alias, p.Label, p.ZeroConf, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return esenseid.Wrap(esenseid.KindDb, err)
	}
	return nil
}

// DeletePeer removes a connection intent.
func (db *DB) DeletePeer(ctx context.Context, nodeID, pubkey string) error {
	query := db.rebind(`DELETE FROM peers WHERE node_id = ? AND pubkey = ?`)
	res, err := db.ExecContext(ctx, query, nodeID, pubkey)
	if err != nil {
		return esenseid.Wrap(esenseid.KindDb, err)
	}
	return checkAffected(res)
}

// ListPeers returns every peer a node should maintain a connection to.
func (db *DB) ListPeers(ctx context.Context, nodeID string) ([]*Peer, error) {
	query := db.rebind(`SELECT id, node_id, pubkey, alias, label, zero_conf, created_at, updated_at FROM peers WHERE node_id = ? ORDER BY created_at ASC`)
	rows, err := db.QueryContext(ctx, query, nodeID)
	if err != nil {
		return nil, esenseid.Wrap(esenseid.KindDb, err)
	}
	defer rows.Close()

	var peers []*Peer
	for rows.Next() {
		p := &Peer{}
		if err := rows.Scan(&p.ID, &p.NodeID, &p.Pubkey, &p.Alias, &p.Label, &p.ZeroConf, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, esenseid.Wrap(esenseid.KindDb, err)
		}
		peers = append(peers, p)
	}
	return peers, rows.Err()
}

// GetPeer returns the (NodeID, Pubkey) row if the node has recorded a
// connection intent for that counterparty, or nil if it has not --
// the check a channel acceptance gate consults before allowing an
// inbound open.
func (db *DB) GetPeer(ctx context.Context, nodeID, pubkey string) (*Peer, error) {
	query := db.rebind(`SELECT id, node_id, pubkey, alias, label, zero_conf, created_at, updated_at FROM peers WHERE node_id = ? AND pubkey = ?`)
	p := &Peer{}
	err := db.QueryRowContext(ctx, query, nodeID, pubkey).Scan(&p.ID, &p.NodeID, &p.Pubkey, &p.Alias, &p.Label, &p.ZeroConf, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, esenseid.Wrap(esenseid.KindDb, err)
	}
	return p, nil
}

// RecordPeerAddress applies the source-priority tie-breaking rule of
// SPEC_FULL.md §3/§8 property 8: a new observation overwrites the stored
// address for (NodeID, Pubkey) only if its Source outranks the existing
// row's Source, or matches it with a LastConnectedAt that is not older
// than what is already stored. Gossip announcements (the lowest-priority
// source) never clobber a manually-configured or successfully-dialed
// address, but a fresher gossip update still wins against a stale one.
func (db *DB) RecordPeerAddress(ctx context.Context, a *PeerAddress) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return esenseid.Wrap(esenseid.KindDb, err)
	}
	defer tx.Rollback()

	query := db.rebind(`SELECT id, node_id, pubkey, address, source, last_connected_at, created_at, updated_at FROM peer_addresses WHERE node_id = ? AND pubkey = ?`)
	row := tx.QueryRowContext(ctx, query, a.NodeID, a.Pubkey)

	existing := &PeerAddress{}
	err = row.Scan(&existing.ID, &existing.NodeID, &existing.Pubkey, &existing.Address, &existing.Source, &existing.LastConnectedAt, &existing.CreatedAt, &existing.UpdatedAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		insert := db.rebind(`
INSERT INTO peer_addresses (id, node_id, pubkey, address, source, last_connected_at, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
		if _, err := tx.ExecContext(ctx, insert, a.ID, a.NodeID, a.Pubkey, a.Address, a.Source, a.LastConnectedAt, a.CreatedAt, a.UpdatedAt); err != nil {
			return esenseid.Wrap(esenseid.KindDb, err)
		}
		return tx.Commit()
	case err != nil:
		return esenseid.Wrap(esenseid.KindDb, err)
	}

	accept := a.Source > existing.Source ||
		(a.Source == existing.Source && a.LastConnectedAt >= existing.LastConnectedAt)
	if !accept {
		return tx.Commit()
	}

	update := db.rebind(`UPDATE peer_addresses SET address = ?, source = ?, last_connected_at = ?, updated_at = ? WHERE id = ?`)
	if _, err := tx.ExecContext(ctx, update, a.Address, a.Source, a.LastConnectedAt, a.UpdatedAt, existing.ID); err != nil {
		return esenseid.Wrap(esenseid.KindDb, err)
	}
	return tx.Commit()
}

// GetPeerAddress returns the stored address for (NodeID, Pubkey), or nil
// if none has ever been recorded.
func (db *DB) GetPeerAddress(ctx context.Context, nodeID, pubkey string) (*PeerAddress, error) {
	query := db.rebind(`SELECT id, node_id, pubkey, address, source, last_connected_at, created_at, updated_at FROM peer_addresses WHERE node_id = ? AND pubkey = ?`)
	a := &PeerAddress{}
	err := db.QueryRowContext(ctx, query, nodeID, pubkey).Scan(&a.ID, &a.NodeID, &a.Pubkey, &a.Address, &a.Source, &a.LastConnectedAt, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, esenseid.Wrap(esenseid.KindDb, err)
	}
	return a, nil
}
