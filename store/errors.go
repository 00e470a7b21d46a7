package store

import (
	"errors"
	"strings"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
)

// IsUniqueViolation reports whether err is a unique-constraint conflict
// from whichever backend the DB was opened against: pgx surfaces this as
// a *pgconn.PgError with pgerrcode.UniqueViolation, modernc.org/sqlite
// has no typed equivalent exported through database/sql and just returns
// an error whose message names the constraint. CreateNode/
// CreateAccessToken use this to turn a raw driver error into
// esenseid.ErrConflict instead of the generic esenseid.KindDb escape
// hatch their doc comments used to settle for.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.UniqueViolation
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
