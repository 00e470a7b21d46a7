package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/sensei-labs/senseid/esenseid"
)

// CreatePayment inserts a payment row. Label is taken as-is; later label
// changes go through LabelPayment. This is a plain INSERT with no
// upsert path.
func (db *DB) CreatePayment(ctx context.Context, p *Payment) error {
	query := db.rebind(`
INSERT INTO payments (id, node_id, payment_hash, preimage, secret, status, origin, label, invoice, amt_msat, fee_paid_msat, created_by_node_id, received_by_node_id, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := db.ExecContext(ctx, query,
		p.ID, p.NodeID, p.PaymentHash, p.Preimage, p.Secret, p.Status, p.Origin, p.Label, p.Invoice,
		p.AmtMsat, p.FeePaidMsat, p.CreatedByNodeID, p.ReceivedByNodeID, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return esenseid.Wrap(esenseid.KindDb, err)
	}
	return nil
}

func scanPayment(row rowScanner) (*Payment, error) {
	p := &Payment{}
	err := row.Scan(&p.ID, &p.NodeID, &p.PaymentHash, &p.Preimage, &p.Secret, &p.Status, &p.Origin, &p.Label,
		&p.Invoice, &p.AmtMsat, &p.FeePaidMsat, &p.CreatedByNodeID, &p.ReceivedByNodeID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return p, nil
}

const paymentColumns = `id, node_id, payment_hash, preimage, secret, status, origin, label, invoice, amt_msat, fee_paid_msat, created_by_node_id, received_by_node_id, created_at, updated_at`

// GetPayment looks up a payment by (NodeID, PaymentHash), the natural key
// a node's invoice payer and event loop resolve HTLC resolutions against.
func (db *DB) GetPayment(ctx context.Context, nodeID, paymentHash string) (*Payment, error) {
	query := db.rebind(`SELECT ` + paymentColumns + ` FROM payments WHERE node_id = ? AND payment_hash = ?`)
	p, err := scanPayment(db.QueryRowContext(ctx, query, nodeID, paymentHash))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, esenseid.Wrap(esenseid.KindDb, err)
	}
	return p, nil
}

// UpdatePaymentStatus transitions a payment's status and, for a
// successful outbound payment, records the settling preimage and fee.
// It overwrites status, preimage, fee and updated_at on every call and
// never touches the label.
func (db *DB) UpdatePaymentStatus(ctx context.Context, nodeID, paymentHash string, status PaymentStatus, preimage string, feeMsat *int64, updatedAt int64) error {
	query := db.rebind(`
UPDATE payments SET status = ?, preimage = ?, fee_paid_msat = ?, updated_at = ?
WHERE node_id = ? AND payment_hash = ?`)
	res, err := db.ExecContext(ctx, query, status, preimage, feeMsat, updatedAt, nodeID, paymentHash)
	if err != nil {
		return esenseid.Wrap(esenseid.KindDb, err)
	}
	return checkAffected(res)
}

// LabelPayment sets a payment's label. Applying the same label twice, or
// relabeling an already-labeled payment, is accepted: labeling is
// idempotent per SPEC_FULL.md §8 property 7, with no notion of a "second
// label is an error" failure mode the way a second delete is.
func (db *DB) LabelPayment(ctx context.Context, nodeID, paymentHash, label string, updatedAt int64) error {
	query := db.rebind(`UPDATE payments SET label = ?, updated_at = ? WHERE node_id = ? AND payment_hash = ?`)
	res, err := db.ExecContext(ctx, query, label, updatedAt, nodeID, paymentHash)
	if err != nil {
		return esenseid.Wrap(esenseid.KindDb, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return esenseid.Wrap(esenseid.KindDb, err)
	}
	if n == 0 {
		return esenseid.New(esenseid.KindDb, "payment not found: "+paymentHash)
	}
	return nil
}

// DeletePayment removes a payment row outright. Unlike LabelPayment,
// deleting a payment that is already gone is an error: a second delete
// has nothing to affect and must not be silently swallowed, per
// SPEC_FULL.md §8 property 7's "delete is not idempotent" half.
func (db *DB) DeletePayment(ctx context.Context, nodeID, paymentHash string) error {
	query := db.rebind(`DELETE FROM payments WHERE node_id = ? AND payment_hash = ?`)
	res, err := db.ExecContext(ctx, query, nodeID, paymentHash)
	if err != nil {
		return esenseid.Wrap(esenseid.KindDb, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return esenseid.Wrap(esenseid.KindDb, err)
	}
	if n == 0 {
		return esenseid.New(esenseid.KindDb, "payment not found: "+paymentHash)
	}
	return nil
}

// ListPaymentsParams mirrors senseicore's ListPaymentsParams.
type ListPaymentsParams struct {
	NodeID string
	Offset int
	Limit  int
	Origin *PaymentOrigin
}

// ListPaymentsResult mirrors PaginationResponse.
type ListPaymentsResult struct {
	Payments []*Payment
	HasMore  bool
	Total    int
}

// ListPayments returns a page of a node's payments, most recent first.
func (db *DB) ListPayments(ctx context.Context, p ListPaymentsParams) (*ListPaymentsResult, error) {
	limit := p.Limit
	if limit <= 0 {
		limit = 100
	}

	where := "WHERE node_id = ?"
	args := []interface{}{p.NodeID}
	if p.Origin != nil {
		where += " AND origin = ?"
		args = append(args, *p.Origin)
	}

	var total int
	countQuery := db.rebind("SELECT COUNT(*) FROM payments " + where)
	if err := db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, esenseid.Wrap(esenseid.KindDb, err)
	}

	listArgs := append(append([]interface{}{}, args...), limit+1, p.Offset)
	listQuery := db.rebind(`SELECT ` + paymentColumns + ` FROM payments ` + where + ` ORDER BY created_at DESC LIMIT ? OFFSET ?`)

	rows, err := db.QueryContext(ctx, listQuery, listArgs...)
	if err != nil {
		return nil, esenseid.Wrap(esenseid.KindDb, err)
	}
	defer rows.Close()

	var payments []*Payment
	for rows.Next() {
		pay, err := scanPayment(rows)
		if err != nil {
			return nil, esenseid.Wrap(esenseid.KindDb, err)
		}
		payments = append(payments, pay)
	}
	if err := rows.Err(); err != nil {
		return nil, esenseid.Wrap(esenseid.KindDb, err)
	}

	hasMore := len(payments) > limit
	if hasMore {
		payments = payments[:limit]
	}
	return &ListPaymentsResult{Payments: payments, HasMore: hasMore, Total: total}, nil
}
