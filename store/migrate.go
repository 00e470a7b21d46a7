// Migration wiring for Store. Postgres uses golang-migrate/migrate/v4 with
// an embedded iofs source, the same mechanism channeldb's boltdb
// dbVersions/syncVersions mechanism fills for the KV file in the teacher
// tree, generalized to SQL schema files. modernc.org/sqlite is a pure-Go
// driver with no golang-migrate sqlite backend compatible with it (the
// official one targets mattn/go-sqlite3's cgo driver), so the sqlite path
// runs the same embedded SQL files through a small hand-rolled runner in
// the spirit of channeldb's syncVersions loop.
package store

import (
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	_ "github.com/golang-migrate/migrate/v4/source/file"
)

//go:embed migrations/postgres/*.sql
var postgresMigrations embed.FS

//go:embed migrations/sqlite/*.sql
var sqliteMigrations embed.FS

// migratePostgres drives the real golang-migrate engine against the given
// *sql.DB, tracking applied versions in its own schema_migrations table.
func migratePostgres(db *sql.DB) error {
	srcFS, err := fs.Sub(postgresMigrations, "migrations/postgres")
	if err != nil {
		return fmt.Errorf("sub fs: %w", err)
	}
	src, err := iofs.New(srcFS, ".")
	if err != nil {
		return fmt.Errorf("iofs source: %w", err)
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("postgres driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}

// migrateSQLite runs the embedded sqlite migration files in numeric
// version order inside a schema_migrations tracking table of its own,
// since golang-migrate has no maintained driver for modernc.org/sqlite.
func migrateSQLite(db *sql.DB) error {
	const createTracking = `
CREATE TABLE IF NOT EXISTS schema_migrations (
	version INTEGER PRIMARY KEY NOT NULL
);`
	if _, err := db.Exec(createTracking); err != nil {
		return fmt.Errorf("creating schema_migrations: %w", err)
	}

	applied := make(map[int]bool)
	rows, err := db.Query(`SELECT version FROM schema_migrations`)
	if err != nil {
		return fmt.Errorf("reading schema_migrations: %w", err)
	}
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return fmt.Errorf("scanning version: %w", err)
		}
		applied[v] = true
	}
	if err := rows.Err(); err != nil {
		return err
	}
	rows.Close()

	entries, err := sqliteMigrations.ReadDir("migrations/sqlite")
	if err != nil {
		return fmt.Errorf("reading embedded migrations: %w", err)
	}

	type step struct {
		version int
		name    string
	}
	var steps []step
	for _, e := range entries {
		if !strings.HasSuffix(e.Name(), ".up.sql") {
			continue
		}
		version, err := versionOf(e.Name())
		if err != nil {
			return err
		}
		steps = append(steps, step{version: version, name: e.Name()})
	}
	sort.Slice(steps, func(i, j int) bool { return steps[i].version < steps[j].version })

	for _, s := range steps {
		if applied[s.version] {
			continue
		}
		raw, err := sqliteMigrations.ReadFile("migrations/sqlite/" + s.name)
		if err != nil {
			return fmt.Errorf("reading %s: %w", s.name, err)
		}
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin tx for %s: %w", s.name, err)
		}
		if _, err := tx.Exec(string(raw)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying %s: %w", s.name, err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_migrations (version) VALUES (?)`, s.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording %s: %w", s.name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing %s: %w", s.name, err)
		}
		log.Infof("applied migration %s", s.name)
	}

	return nil
}

func versionOf(filename string) (int, error) {
	idx := strings.Index(filename, "_")
	if idx < 0 {
		return 0, fmt.Errorf("malformed migration filename %q", filename)
	}
	return strconv.Atoi(filename[:idx])
}
