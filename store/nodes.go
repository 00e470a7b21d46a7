package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/sensei-labs/senseid/esenseid"
)

// CreateNode inserts a new Node row. Username uniqueness is enforced by
// the nodes table's UNIQUE constraint; a conflicting username surfaces
// as esenseid.ErrConflict rather than a generic esenseid.KindDb, so
// Admin can tell a username collision apart from a real storage failure.
func (db *DB) CreateNode(ctx context.Context, n *Node) error {
	query := db.rebind(`
INSERT INTO nodes (id, role, username, alias, network, listen_addr, listen_port, status, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := db.ExecContext(ctx, query,
		n.ID, n.Role, n.Username, n.Alias, n.Network, n.ListenAddr, n.ListenPort, n.Status, n.CreatedAt, n.UpdatedAt)
	if err != nil {
		if IsUniqueViolation(err) {
			return esenseid.New(esenseid.KindConflict, "username already in use")
		}
		return esenseid.Wrap(esenseid.KindDb, err)
	}
	return nil
}

func scanNode(row rowScanner) (*Node, error) {
	n := &Node{}
	err := row.Scan(&n.ID, &n.Role, &n.Username, &n.Alias, &n.Network, &n.ListenAddr, &n.ListenPort, &n.Status, &n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return n, nil
}

// GetNode looks up a Node by id, returning ErrAdminNodeNotCreated if no
// such row exists -- the Store layer speaks in terms of Admin's own
// vocabulary here since "no node with this id" only ever arises from an
// Admin-level lookup.
func (db *DB) GetNode(ctx context.Context, id string) (*Node, error) {
	query := db.rebind(`SELECT id, role, username, alias, network, listen_addr, listen_port, status, created_at, updated_at FROM nodes WHERE id = ?`)
	row := db.QueryRowContext(ctx, query, id)
	n, err := scanNode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, esenseid.ErrAdminNodeNotCreated
	}
	if err != nil {
		return nil, esenseid.Wrap(esenseid.KindDb, err)
	}
	return n, nil
}

// GetRootNode returns the sole NodeRoleRoot node, or ErrAdminNodeNotCreated
// if CreateAdmin has never run. The nodes table does not enforce
// uniqueness of role=Root at the schema level; Admin's CreateAdmin is
// solely responsible for never inserting a second one.
func (db *DB) GetRootNode(ctx context.Context) (*Node, error) {
	query := db.rebind(`SELECT id, role, username, alias, network, listen_addr, listen_port, status, created_at, updated_at FROM nodes WHERE role = ? LIMIT 1`)
	row := db.QueryRowContext(ctx, query, NodeRoleRoot)
	n, err := scanNode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, esenseid.ErrAdminNodeNotCreated
	}
	if err != nil {
		return nil, esenseid.Wrap(esenseid.KindDb, err)
	}
	return n, nil
}

// GetNodeByUsername looks up a Node by its username, used by auth to
// resolve a login into a node id before checking its password/macaroon.
func (db *DB) GetNodeByUsername(ctx context.Context, username string) (*Node, error) {
	query := db.rebind(`SELECT id, role, username, alias, network, listen_addr, listen_port, status, created_at, updated_at FROM nodes WHERE username = ?`)
	row := db.QueryRowContext(ctx, query, username)
	n, err := scanNode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, esenseid.ErrAdminNodeNotCreated
	}
	if err != nil {
		return nil, esenseid.Wrap(esenseid.KindDb, err)
	}
	return n, nil
}

// ListNodesParams mirrors senseicore's ListNodesParams pagination inputs.
type ListNodesParams struct {
	Offset int
	Limit  int
	Query  string
}

// ListNodesResult mirrors senseicore's PaginationResponse, telling the
// caller whether more pages exist without a separate COUNT round trip for
// the common case of walking forward page by page.
type ListNodesResult struct {
	Nodes   []*Node
	HasMore bool
	Total   int
}

// ListNodes returns a page of nodes ordered by creation time, optionally
// filtered by a substring match against username or alias.
func (db *DB) ListNodes(ctx context.Context, p ListNodesParams) (*ListNodesResult, error) {
	limit := p.Limit
	if limit <= 0 {
		limit = 100
	}

	where := ""
	args := []interface{}{}
	if p.Query != "" {
		where = "WHERE username LIKE ? OR alias LIKE ?"
		like := "%" + p.Query + "%"
		args = append(args, like, like)
	}

	var total int
	countQuery := db.rebind("SELECT COUNT(*) FROM nodes " + where)
	if err := db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, esenseid.Wrap(esenseid.KindDb, err)
	}

	listArgs := append(append([]interface{}{}, args...), limit+1, p.Offset)
	listQuery := db.rebind(`
SELECT id, role, username, alias, network, listen_addr, listen_port, status, created_at, updated_at
FROM nodes ` + where + `
ORDER BY created_at ASC
LIMIT ? OFFSET ?`)

	rows, err := db.QueryContext(ctx, listQuery, listArgs...)
	if err != nil {
		return nil, esenseid.Wrap(esenseid.KindDb, err)
	}
	defer rows.Close()

	var nodes []*Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, esenseid.Wrap(esenseid.KindDb, err)
		}
		nodes = append(nodes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, esenseid.Wrap(esenseid.KindDb, err)
	}

	hasMore := len(nodes) > limit
	if hasMore {
		nodes = nodes[:limit]
	}

	return &ListNodesResult{Nodes: nodes, HasMore: hasMore, Total: total}, nil
}

// NormalizeAllNodeStatuses forces every Node row to Stopped, the second
// step of Admin's bootstrap sequence (spec.md §4.6): no node can be
// Running or Starting immediately after a fresh process start, since
// nothing has been started yet in this process.
func (db *DB) NormalizeAllNodeStatuses(ctx context.Context, updatedAt int64) error {
	query := db.rebind(`UPDATE nodes SET status = ?, updated_at = ? WHERE status != ?`)
	_, err := db.ExecContext(ctx, query, NodeStatusStopped, updatedAt, NodeStatusStopped)
	if err != nil {
		return esenseid.Wrap(esenseid.KindDb, err)
	}
	return nil
}

// UpdateNodeStatus transitions a Node's status column and bumps
// updated_at, used by Admin and the NodeDirectory to record lifecycle
// changes without re-writing the full row.
func (db *DB) UpdateNodeStatus(ctx context.Context, id string, status NodeStatus, updatedAt int64) error {
	query := db.rebind(`UPDATE nodes SET status = ?, updated_at = ? WHERE id = ?`)
	res, err := db.ExecContext(ctx, query, status, updatedAt, id)
	if err != nil {
		return esenseid.Wrap(esenseid.KindDb, err)
	}
	return checkAffected(res)
}

// DeleteNode removes a Node and, via the application-level cascade this
// method performs explicitly (sqlite's default FK enforcement is
// connection-scoped and easy to leave disabled), every row in every
// per-node table that references it.
func (db *DB) DeleteNode(ctx context.Context, id string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return esenseid.Wrap(esenseid.KindDb, err)
	}
	defer tx.Rollback()

	tables := []string{
		"macaroons", "payments", "peers", "peer_addresses",
		"utxos", "script_pubkeys", "transactions", "keychains",
		"kv_store", "cluster_nodes",
	}
	for _, table := range tables {
		q := db.rebind("DELETE FROM " + table + " WHERE node_id = ?")
		if _, err := tx.ExecContext(ctx, q, id); err != nil {
			return esenseid.Wrap(esenseid.KindDb, err)
		}
	}

	q := db.rebind(`DELETE FROM nodes WHERE id = ?`)
	res, err := tx.ExecContext(ctx, q, id)
	if err != nil {
		return esenseid.Wrap(esenseid.KindDb, err)
	}
	if err := checkAffected(res); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return esenseid.Wrap(esenseid.KindDb, err)
	}
	return nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows, letting
// scanNode serve both a single-row lookup and a multi-row list query.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func checkAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return esenseid.Wrap(esenseid.KindDb, err)
	}
	if n == 0 {
		return esenseid.ErrAdminNodeNotCreated
	}
	return nil
}
