package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/sensei-labs/senseid/esenseid"
)

// CreateClusterNode registers a pointer to a node hosted by another
// senseid instance, used by a cluster coordinator's request router.
func (db *DB) CreateClusterNode(ctx context.Context, c *ClusterNode) error {
	query := db.rebind(`
INSERT INTO cluster_nodes (id, node_id, host, port, macaroon_hex, label, pubkey, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := db.ExecContext(ctx, query, c.ID, c.NodeID, c.Host, c.Port, c.MacaroonHex, c.Label, c.Pubkey, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return esenseid.Wrap(esenseid.KindDb, err)
	}
	return nil
}

// GetClusterNodeByPubkey resolves a pubkey to the remote instance hosting
// it, or nil if this process does not know of such a node.
func (db *DB) GetClusterNodeByPubkey(ctx context.Context, pubkey string) (*ClusterNode, error) {
	query := db.rebind(`SELECT id, node_id, host, port, macaroon_hex, label, pubkey, created_at, updated_at FROM cluster_nodes WHERE pubkey = ?`)
	c := &ClusterNode{}
	err := db.QueryRowContext(ctx, query, pubkey).Scan(&c.ID, &c.NodeID, &c.Host, &c.Port, &c.MacaroonHex, &c.Label, &c.Pubkey, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, esenseid.Wrap(esenseid.KindDb, err)
	}
	return c, nil
}

// ListClusterNodes returns every known remote node pointer.
func (db *DB) ListClusterNodes(ctx context.Context) ([]*ClusterNode, error) {
	rows, err := db.QueryContext(ctx, `SELECT id, node_id, host, port, macaroon_hex, label, pubkey, created_at, updated_at FROM cluster_nodes ORDER BY created_at ASC`)
	if err != nil {
		return nil, esenseid.Wrap(esenseid.KindDb, err)
	}
	defer rows.Close()

	var nodes []*ClusterNode
	for rows.Next() {
		c := &ClusterNode{}
		if err := rows.Scan(&c.ID, &c.NodeID, &c.Host, &c.Port, &c.MacaroonHex, &c.Label, &c.Pubkey, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, esenseid.Wrap(esenseid.KindDb, err)
		}
		nodes = append(nodes, c)
	}
	return nodes, rows.Err()
}

// DeleteClusterNode removes a remote node pointer.
func (db *DB) DeleteClusterNode(ctx context.Context, id string) error {
	query := db.rebind(`DELETE FROM cluster_nodes WHERE id = ?`)
	res, err := db.ExecContext(ctx, query, id)
	if err != nil {
		return esenseid.Wrap(esenseid.KindDb, err)
	}
	return checkAffected(res)
}
