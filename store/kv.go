package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/sensei-labs/senseid/esenseid"
)

// KvPut upserts a raw value under (NodeID, Key), the primitive the kv
// package's typed Persister wrapper is built on.
func (db *DB) KvPut(ctx context.Context, nodeID, key string, value []byte, now int64) error {
	var query string
	switch db.Backend {
	case BackendPostgres:
		query = `
INSERT INTO kv_store (node_id, key, value, created_at, updated_at)
VALUES ($1, $2, $3, $4, $4)
ON CONFLICT (node_id, key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`
	default:
		query = `
INSERT INTO kv_store (node_id, key, value, created_at, updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (node_id, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`
	}
	var err error
	if db.Backend == BackendPostgres {
		_, err = db.ExecContext(ctx, query, nodeID, key, value, now)
	} else {
		_, err = db.ExecContext(ctx, query, nodeID, key, value, now, now)
	}
	if err != nil {
		return esenseid.Wrap(esenseid.KindDb, err)
	}
	return nil
}

// KvGet fetches the raw value for (NodeID, Key), returning (nil, nil) if
// unset -- callers distinguish "not set" from "set to empty" by the nil
// slice, as channeldb's kvdb buckets do.
func (db *DB) KvGet(ctx context.Context, nodeID, key string) ([]byte, error) {
	query := db.rebind(`SELECT value FROM kv_store WHERE node_id = ? AND key = ?`)
	var value []byte
	err := db.QueryRowContext(ctx, query, nodeID, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, esenseid.Wrap(esenseid.KindDb, err)
	}
	return value, nil
}

// KvDelete removes a key. Deleting a key that does not exist is not an
// error, matching bbolt's Delete semantics that channeldb relies on.
func (db *DB) KvDelete(ctx context.Context, nodeID, key string) error {
	query := db.rebind(`DELETE FROM kv_store WHERE node_id = ? AND key = ?`)
	_, err := db.ExecContext(ctx, query, nodeID, key)
	if err != nil {
		return esenseid.Wrap(esenseid.KindDb, err)
	}
	return nil
}

// KvListKeys returns every key stored under a given prefix for a node,
// the primitive the channel-monitor scan uses to enumerate its
// per-outpoint keys. The network graph and scorer each live under a
// single key and are not enumerated.
func (db *DB) KvListKeys(ctx context.Context, nodeID, prefix string) ([]string, error) {
	query := db.rebind(`SELECT key FROM kv_store WHERE node_id = ? AND key LIKE ? ORDER BY key ASC`)
	rows, err := db.QueryContext(ctx, query, nodeID, prefix+"%")
	if err != nil {
		return nil, esenseid.Wrap(esenseid.KindDb, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, esenseid.Wrap(esenseid.KindDb, err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}
