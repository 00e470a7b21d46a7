// Package store implements senseid's relational Store: the per-node and
// shared tables described in SPEC_FULL.md §3, backed by either Postgres
// (jackc/pgx's stdlib adapter) or sqlite (modernc.org/sqlite, pure Go).
// Structurally this plays the role channeldb/db.go plays in the teacher
// tree -- a single DB handle opened once at startup and threaded through
// every other component -- but against a real SQL schema instead of a
// single bolt file.
package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v4/stdlib"
	_ "modernc.org/sqlite"

	"github.com/sensei-labs/senseid/build"
	"github.com/sensei-labs/senseid/config"
)

var log = build.SubLogger(build.SubsystemStore)

// Backend identifies which SQL dialect a DB handle was opened against, so
// callers writing dialect-sensitive queries (placeholder style, upsert
// syntax) can branch on it.
type Backend int

const (
	BackendSQLite Backend = iota
	BackendPostgres
)

// DB wraps a *sql.DB together with the dialect it was opened against.
// Every store/*.go CRUD file is written against this handle.
type DB struct {
	*sql.DB
	Backend Backend
}

// Open opens (creating and migrating if necessary) the Store described by
// cfg, mirroring channeldb.Open's create-then-syncVersions sequence.
func Open(cfg *config.Database) (*DB, error) {
	switch cfg.Backend {
	case "", "sqlite":
		return openSQLite(cfg.DSN)
	case "postgres":
		return openPostgres(cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown database backend %q", cfg.Backend)
	}
}

func openSQLite(dsn string) (*DB, error) {
	if dsn == "" {
		dsn = "senseid.db"
	}
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}
	// modernc.org/sqlite serializes writers internally; a single
	// connection avoids SQLITE_BUSY under concurrent access from the
	// node directory's many hosted instances.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetConnMaxLifetime(0)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("pinging sqlite db: %w", err)
	}

	db := &DB{DB: sqlDB, Backend: BackendSQLite}
	if err := migrateSQLite(sqlDB); err != nil {
		return nil, fmt.Errorf("migrating sqlite db: %w", err)
	}
	return db, nil
}

func openPostgres(dsn string) (*DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres backend requires a DSN")
	}
	sqlDB, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgres db: %w", err)
	}
	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("pinging postgres db: %w", err)
	}

	db := &DB{DB: sqlDB, Backend: BackendPostgres}
	if err := migratePostgres(sqlDB); err != nil {
		return nil, fmt.Errorf("migrating postgres db: %w", err)
	}
	return db, nil
}

// Close closes the underlying connection pool.
func (db *DB) Close() error {
	return db.DB.Close()
}

// rebind rewrites a query written with '?' placeholders into the '$1'
// style postgres/pgx requires, so CRUD files can be written once against
// sqlite's native placeholder syntax and still run against postgres.
func (db *DB) rebind(query string) string {
	if db.Backend != BackendPostgres {
		return query
	}
	out := make([]byte, 0, len(query)+8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			out = append(out, '$')
			out = append(out, []byte(fmt.Sprintf("%d", n))...)
			continue
		}
		out = append(out, query[i])
	}
	return string(out)
}
