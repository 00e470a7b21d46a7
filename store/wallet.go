package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/sensei-labs/senseid/esenseid"
)

// -- Keychains ---------------------------------------------------------

// CreateKeychain inserts a new derivation-path root for a node's wallet.
func (db *DB) CreateKeychain(ctx context.Context, k *Keychain) error {
	query := db.rebind(`
INSERT INTO keychains (id, node_id, name, descriptor_checksum, last_derivation_index, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`)
	_, err := db.ExecContext(ctx, query, k.ID, k.NodeID, k.Name, k.DescriptorChecksum, k.LastDerivationIndex, k.CreatedAt, k.UpdatedAt)
	if err != nil {
		return esenseid.Wrap(esenseid.KindDb, err)
	}
	return nil
}

// GetKeychain looks up a node's keychain by name (e.g. "external",
// "internal"), returning nil if it has not been created yet.
func (db *DB) GetKeychain(ctx context.Context, nodeID, name string) (*Keychain, error) {
	query := db.rebind(`SELECT id, node_id, name, descriptor_checksum, last_derivation_index, created_at, updated_at FROM keychains WHERE node_id = ? AND name = ?`)
	k := &Keychain{}
	err := db.QueryRowContext(ctx, query, nodeID, name).Scan(&k.ID, &k.NodeID, &k.Name, &k.DescriptorChecksum, &k.LastDerivationIndex, &k.CreatedAt, &k.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, esenseid.Wrap(esenseid.KindDb, err)
	}
	return k, nil
}

// NextDerivationIndex atomically reserves the next child index for a
// keychain and advances LastDerivationIndex, so two concurrent address
// requests against the same wallet can never be handed the same child.
func (db *DB) NextDerivationIndex(ctx context.Context, nodeID, name string) (int32, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, esenseid.Wrap(esenseid.KindDb, err)
	}
	defer tx.Rollback()

	query := db.rebind(`SELECT last_derivation_index FROM keychains WHERE node_id = ? AND name = ?`)
	var current int32
	if err := tx.QueryRowContext(ctx, query, nodeID, name).Scan(&current); err != nil {
		return 0, esenseid.Wrap(esenseid.KindDb, err)
	}

	next := current + 1
	update := db.rebind(`UPDATE keychains SET last_derivation_index = ? WHERE node_id = ? AND name = ?`)
	if _, err := tx.ExecContext(ctx, update, next, nodeID, name); err != nil {
		return 0, esenseid.Wrap(esenseid.KindDb, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, esenseid.Wrap(esenseid.KindDb, err)
	}
	return next, nil
}

// -- Script pubkeys ------------------------------------------------------

// CreateScriptPubkey records a derived output script the wallet watches.
func (db *DB) CreateScriptPubkey(ctx context.Context, s *ScriptPubkey) error {
	query := db.rebind(`
INSERT INTO script_pubkeys (id, node_id, keychain, child, script, address, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := db.ExecContext(ctx, query, s.ID, s.NodeID, s.Keychain, s.Child, s.Script, s.Address, s.CreatedAt, s.UpdatedAt)
	if err != nil {
		return esenseid.Wrap(esenseid.KindDb, err)
	}
	return nil
}

// FindScriptPubkey looks up the derivation metadata for a raw script, so
// the wallet can decide whether an output it observed on-chain belongs
// to it and, if so, sign for it.
func (db *DB) FindScriptPubkey(ctx context.Context, nodeID, script string) (*ScriptPubkey, error) {
	query := db.rebind(`SELECT id, node_id, keychain, child, script, address, created_at, updated_at FROM script_pubkeys WHERE node_id = ? AND script = ?`)
	s := &ScriptPubkey{}
	err := db.QueryRowContext(ctx, query, nodeID, script).Scan(&s.ID, &s.NodeID, &s.Keychain, &s.Child, &s.Script, &s.Address, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, esenseid.Wrap(esenseid.KindDb, err)
	}
	return s, nil
}

// -- UTXOs ---------------------------------------------------------------

// UpsertUtxo records (or updates the spent flag of) a wallet-owned
// output, keyed by (Txid, Vout) regardless of node -- an output belongs
// to exactly one hosted wallet's keychain by construction, so the unique
// index on (txid, vout) alone is sufficient.
func (db *DB) UpsertUtxo(ctx context.Context, u *Utxo) error {
	var query string
	switch db.Backend {
	case BackendPostgres:
		query = `
INSERT INTO utxos (id, node_id, txid, vout, value_sat, script_pubkey, keychain, child, is_spent, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (txid, vout) DO UPDATE SET is_spent = EXCLUDED.is_spent, updated_at = EXCLUDED.updated_at`
	default:
		query = `
INSERT INTO utxos (id, node_id, txid, vout, value_sat, script_pubkey, keychain, child, is_spent, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (txid, vout) DO UPDATE SET is_spent = excluded.is_spent, updated_at = excluded.updated_at`
	}
	_, err := db.ExecContext(ctx, query, u.ID, u.NodeID, u.Txid, u.Vout, u.ValueSat, u.ScriptPubkey, u.Keychain, u.Child, u.IsSpent, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		return esenseid.Wrap(esenseid.KindDb, err)
	}
	return nil
}

// ListUnspentUtxos returns every unspent output owned by a node's wallet,
// the set lnwallet's coin selection draws its inputs from.
func (db *DB) ListUnspentUtxos(ctx context.Context, nodeID string) ([]*Utxo, error) {
	query := db.rebind(`
SELECT id, node_id, txid, vout, value_sat, script_pubkey, keychain, child, is_spent, created_at, updated_at
FROM utxos WHERE node_id = ? AND is_spent = ?`)
	rows, err := db.QueryContext(ctx, query, nodeID, false)
	if err != nil {
		return nil, esenseid.Wrap(esenseid.KindDb, err)
	}
	defer rows.Close()

	var utxos []*Utxo
	for rows.Next() {
		u := &Utxo{}
		if err := rows.Scan(&u.ID, &u.NodeID, &u.Txid, &u.Vout, &u.ValueSat, &u.ScriptPubkey, &u.Keychain, &u.Child, &u.IsSpent, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, esenseid.Wrap(esenseid.KindDb, err)
		}
		utxos = append(utxos, u)
	}
	return utxos, rows.Err()
}

// MarkUtxoSpent flips a utxo's is_spent flag, called from the chain
// monitor's spend-notification handler.
func (db *DB) MarkUtxoSpent(ctx context.Context, txid string, vout int32, updatedAt int64) error {
	query := db.rebind(`UPDATE utxos SET is_spent = ?, updated_at = ? WHERE txid = ? AND vout = ?`)
	res, err := db.ExecContext(ctx, query, true, updatedAt, txid, vout)
	if err != nil {
		return esenseid.Wrap(esenseid.KindDb, err)
	}
	return checkAffected(res)
}

// -- Transactions ---------------------------------------------------------

// CreateTransaction records a wallet-relevant on-chain transaction.
func (db *DB) CreateTransaction(ctx context.Context, t *Transaction) error {
	query := db.rebind(`
INSERT INTO transactions (id, node_id, txid, raw_tx, confirmation_height, confirmation_time, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := db.ExecContext(ctx, query, t.ID, t.NodeID, t.Txid, t.RawTx, t.ConfirmationHeight, t.ConfirmationTime, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return esenseid.Wrap(esenseid.KindDb, err)
	}
	return nil
}

// ConfirmTransaction stamps the height and time a previously-unconfirmed
// transaction was first seen in a block.
func (db *DB) ConfirmTransaction(ctx context.Context, nodeID, txid string, height, confirmedAt, updatedAt int64) error {
	query := db.rebind(`UPDATE transactions SET confirmation_height = ?, confirmation_time = ?, updated_at = ? WHERE node_id = ? AND txid = ?`)
	res, err := db.ExecContext(ctx, query, height, confirmedAt, updatedAt, nodeID, txid)
	if err != nil {
		return esenseid.Wrap(esenseid.KindDb, err)
	}
	return checkAffected(res)
}

// ListTransactions returns a node's recorded transactions, most recent
// first, for the wallet's transaction-history operation.
func (db *DB) ListTransactions(ctx context.Context, nodeID string) ([]*Transaction, error) {
	query := db.rebind(`
SELECT id, node_id, txid, raw_tx, confirmation_height, confirmation_time, created_at, updated_at
FROM transactions WHERE node_id = ? ORDER BY created_at DESC`)
	rows, err := db.QueryContext(ctx, query, nodeID)
	if err != nil {
		return nil, esenseid.Wrap(esenseid.KindDb, err)
	}
	defer rows.Close()

	var txs []*Transaction
	for rows.Next() {
		t := &Transaction{}
		if err := rows.Scan(&t.ID, &t.NodeID, &t.Txid, &t.RawTx, &t.ConfirmationHeight, &t.ConfirmationTime, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, esenseid.Wrap(esenseid.KindDb, err)
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}
