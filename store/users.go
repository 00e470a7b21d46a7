package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/sensei-labs/senseid/esenseid"
)

// CreateUser inserts an operator account row.
func (db *DB) CreateUser(ctx context.Context, u *User) error {
	query := db.rebind(`
INSERT INTO users (id, role, username, hashed_password, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?)`)
	_, err := db.ExecContext(ctx, query, u.ID, u.Role, u.Username, u.HashedPassword, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		return esenseid.Wrap(esenseid.KindDb, err)
	}
	return nil
}

func scanUser(row rowScanner) (*User, error) {
	u := &User{}
	err := row.Scan(&u.ID, &u.Role, &u.Username, &u.HashedPassword, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return u, nil
}

// GetUserByUsername looks up an operator account for login.
func (db *DB) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	query := db.rebind(`SELECT id, role, username, hashed_password, created_at, updated_at FROM users WHERE username = ?`)
	u, err := scanUser(db.QueryRowContext(ctx, query, username))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, esenseid.ErrUnauthenticated
	}
	if err != nil {
		return nil, esenseid.Wrap(esenseid.KindDb, err)
	}
	return u, nil
}

// AnyUserExists reports whether at least one operator account has been
// created, used by Admin's bootstrap sequence to decide whether the
// process is starting up for the very first time and needs to prompt for
// an initial admin account.
func (db *DB) AnyUserExists(ctx context.Context) (bool, error) {
	var count int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&count); err != nil {
		return false, esenseid.Wrap(esenseid.KindDb, err)
	}
	return count > 0, nil
}
