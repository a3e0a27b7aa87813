// Package metastore persists Package and Dependency records in a single
// SQLite file and answers the structured half of a query: candidate-id
// lookups under arbitrary filters, dependency-aware exclusion/inclusion, and
// the plain CRUD the incremental-ingest diff needs. See spec §4.4, §6.
package metastore

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"net/url"
	"sort"
	"time"

	"github.com/doug-martin/goqu/v8"
	_ "github.com/doug-martin/goqu/v8/dialect/sqlite3"
	_ "modernc.org/sqlite"

	"github.com/rpmqd/rpmqd"
)

//go:embed schema/*.sql
var schemaFS embed.FS

// schemaVersion is the highest migration this build understands. A database
// whose schema_migrations table names a version greater than this is
// refused outright rather than risk misreading a newer layout.
const schemaVersion = 1

// Store is a handle to the metadata database. The zero value is not usable;
// construct one with Open.
type Store struct {
	db      *sql.DB
	dialect goqu.DialectWrapper
}

// Open opens (creating if absent) the named SQLite file, applies any
// migrations this build knows about, and refuses to proceed against a
// database from a newer build.
func Open(ctx context.Context, path string) (*Store, error) {
	const op = "metastore.Open"
	u := url.URL{
		Scheme: "file",
		Opaque: path,
		RawQuery: url.Values{
			"_pragma": {"foreign_keys(1)", "journal_mode(WAL)"},
		}.Encode(),
	}
	db, err := sql.Open("sqlite", u.String())
	if err != nil {
		return nil, rpmqd.Wrap(rpmqd.ErrStorage, op, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, rpmqd.Wrap(rpmqd.ErrStorage, op, err)
	}
	s := &Store{db: db, dialect: goqu.Dialect("sqlite3")}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate(ctx context.Context) error {
	const op = "metastore.migrate"
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER PRIMARY KEY, applied_at TIMESTAMP NOT NULL)`); err != nil {
		return rpmqd.Wrap(rpmqd.ErrStorage, op, err)
	}

	var current int
	row := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`)
	if err := row.Scan(&current); err != nil {
		return rpmqd.Wrap(rpmqd.ErrStorage, op, err)
	}
	if current > schemaVersion {
		return rpmqd.Newf(rpmqd.ErrSchemaMismatch, op, "database schema version %d is newer than this build understands (%d)", current, schemaVersion)
	}

	entries, err := schemaFS.ReadDir("schema")
	if err != nil {
		return rpmqd.Wrap(rpmqd.ErrStorage, op, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)

	for i, name := range names {
		version := i + 1
		if version <= current {
			continue
		}
		stmt, err := schemaFS.ReadFile("schema/" + name)
		if err != nil {
			return rpmqd.Wrap(rpmqd.ErrStorage, op, err)
		}
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return rpmqd.Wrap(rpmqd.ErrStorage, op, err)
		}
		if _, err := tx.ExecContext(ctx, string(stmt)); err != nil {
			tx.Rollback()
			return rpmqd.Wrap(rpmqd.ErrStorage, op, fmt.Errorf("applying %s: %w", name, err))
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`, version, time.Now().UTC()); err != nil {
			tx.Rollback()
			return rpmqd.Wrap(rpmqd.ErrStorage, op, err)
		}
		if err := tx.Commit(); err != nil {
			return rpmqd.Wrap(rpmqd.ErrStorage, op, err)
		}
	}
	return nil
}

// DB exposes the underlying handle for collaborators (the ingest package's
// transaction boundary, the vector store sharing the same file) that must
// run in the same database.
func (s *Store) DB() *sql.DB { return s.db }
