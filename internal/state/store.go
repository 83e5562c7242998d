// Package state manages the database holding locations, shift types, shifts,
// volunteer sign-ups and schedule sources, and the linkages between imported
// feed events and the shifts they produced.
//
// Only this package may open or query the database. All other packages receive
// a [*Store] and call its methods. SQLite is the default backend; a
// postgres:// DSN selects PostgreSQL.
package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"           // PostgreSQL driver
	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Driver names as registered with database/sql.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// schema is written once for both backends. {{id}} and {{bool}} are replaced
// with the dialect's column types before it is applied.
const schema = `
CREATE TABLE IF NOT EXISTS locations (
    id   {{id}},
    name TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS shift_types (
    id   {{id}},
    name TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS shifts (
    id             {{id}},
    title          TEXT    NOT NULL,
    shift_type_id  BIGINT  NOT NULL REFERENCES shift_types (id),
    location_id    BIGINT  NOT NULL REFERENCES locations (id),
    starts_at      TEXT    NOT NULL,
    ends_at        TEXT    NOT NULL,
    url            TEXT    NOT NULL DEFAULT '',
    transaction_id TEXT    NOT NULL DEFAULT '',
    created_by     TEXT    NOT NULL DEFAULT '',
    updated_by     TEXT    NOT NULL DEFAULT '',
    created_at     TEXT    NOT NULL DEFAULT '',
    updated_at     TEXT    NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS shift_entries (
    id         {{id}},
    shift_id   BIGINT NOT NULL REFERENCES shifts (id) ON DELETE CASCADE,
    user_id    BIGINT NOT NULL,
    user_name  TEXT   NOT NULL DEFAULT '',
    angel_type TEXT   NOT NULL DEFAULT '',
    freeloaded {{bool}}
);

CREATE TABLE IF NOT EXISTS schedules (
    id                     {{id}},
    name                   TEXT    NOT NULL,
    url                    TEXT    NOT NULL,
    format                 TEXT    NOT NULL DEFAULT 'xml',
    shift_type_id          BIGINT  NOT NULL REFERENCES shift_types (id),
    needed_from_shift_type {{bool}},
    minutes_before         INTEGER NOT NULL DEFAULT 0,
    minutes_after          INTEGER NOT NULL DEFAULT 0,
    created_at             TEXT    NOT NULL DEFAULT '',
    updated_at             TEXT    NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS schedule_locations (
    schedule_id BIGINT NOT NULL REFERENCES schedules (id) ON DELETE CASCADE,
    location_id BIGINT NOT NULL REFERENCES locations (id) ON DELETE CASCADE,
    PRIMARY KEY (schedule_id, location_id)
);

CREATE TABLE IF NOT EXISTS schedule_shift (
    schedule_id BIGINT NOT NULL REFERENCES schedules (id) ON DELETE CASCADE,
    guid        TEXT   NOT NULL,
    shift_id    BIGINT NOT NULL REFERENCES shifts (id) ON DELETE CASCADE,
    PRIMARY KEY (schedule_id, guid)
);

CREATE INDEX IF NOT EXISTS idx_shift_entries_shift ON shift_entries (shift_id);
CREATE INDEX IF NOT EXISTS idx_schedule_shift_shift ON schedule_shift (shift_id);
`

var dialects = map[string]*strings.Replacer{
	DriverSQLite: strings.NewReplacer(
		"{{id}}", "INTEGER PRIMARY KEY AUTOINCREMENT",
		"{{bool}}", "INTEGER NOT NULL DEFAULT 0",
	),
	DriverPostgres: strings.NewReplacer(
		"{{id}}", "BIGSERIAL PRIMARY KEY",
		"{{bool}}", "BOOLEAN NOT NULL DEFAULT FALSE",
	),
}

// Store is the SQL-backed state repository. Reads and writes outside a
// transaction go through the embedded queries; use [Store.InTx] to group
// mutations.
type Store struct {
	queries
	db *sqlx.DB
}

// Tx is a running transaction. It offers the same queries as [Store].
type Tx struct {
	queries
}

// DefaultDBPath returns the default path for the SQLite database:
// ~/.local/share/scheduleimport/schedule.db
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "scheduleimport", "schedule.db"), nil
}

// Open opens (or creates) the database described by dsn and applies the
// schema. A postgres:// or postgresql:// URL opens PostgreSQL; anything else
// is taken as a SQLite file path, optionally prefixed with sqlite:// or file:.
func Open(dsn string) (*Store, error) {
	driver, source, err := parseDSN(dsn)
	if err != nil {
		return nil, err
	}

	if driver == DriverSQLite {
		if err := os.MkdirAll(filepath.Dir(source), 0o700); err != nil {
			return nil, fmt.Errorf("creating state directory: %w", err)
		}
		source += "?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000"
	}

	db, err := sqlx.Open(driver, source)
	if err != nil {
		return nil, fmt.Errorf("opening %s database: %w", driver, err)
	}

	if driver == DriverSQLite {
		// Single writer to avoid SQLITE_BUSY under WAL.
		db.SetMaxOpenConns(1)
	}

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	return New(db), nil
}

// New wraps an already opened database without applying the schema.
func New(db *sqlx.DB) *Store {
	return &Store{queries: queries{ext: db}, db: db}
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// InTx runs fn inside a transaction. The transaction commits when fn returns
// nil and rolls back otherwise. fn must only use the Tx it is given.
func (s *Store) InTx(ctx context.Context, fn func(tx *Tx) error) error {
	sqlTx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	if err := fn(&Tx{queries: queries{ext: sqlTx}}); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rolling back: %w", rbErr))
		}
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// migrate applies the schema DDL idempotently (CREATE IF NOT EXISTS).
func migrate(db *sqlx.DB) error {
	r, ok := dialects[db.DriverName()]
	if !ok {
		return fmt.Errorf("no schema for driver %q", db.DriverName())
	}
	_, err := db.Exec(r.Replace(schema))
	return err
}

func parseDSN(dsn string) (driver, source string, err error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return "", "", errors.New("empty database dsn")
	}
	if strings.HasPrefix(dsn, "file:") {
		return DriverSQLite, strings.TrimPrefix(dsn, "file:"), nil
	}
	if !strings.Contains(dsn, "://") {
		return DriverSQLite, dsn, nil
	}

	u, err := url.Parse(dsn)
	if err != nil {
		return "", "", fmt.Errorf("parsing database dsn: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "postgres", "postgresql":
		return DriverPostgres, dsn, nil
	case "sqlite", "sqlite3":
		path := u.Host + u.Path
		if path == "" {
			return "", "", errors.New("sqlite dsn has no path")
		}
		return DriverSQLite, path, nil
	default:
		return "", "", fmt.Errorf("unsupported database scheme %q", u.Scheme)
	}
}

// --- helpers -----------------------------------------------------------------

// queries holds every statement. It runs them against either the database or
// a transaction, rebinding placeholders for the active driver.
type queries struct {
	ext sqlx.ExtContext
}

func (q *queries) get(ctx context.Context, dest any, query string, args ...any) error {
	return sqlx.GetContext(ctx, q.ext, dest, q.ext.Rebind(query), args...)
}

func (q *queries) sel(ctx context.Context, dest any, query string, args ...any) error {
	return sqlx.SelectContext(ctx, q.ext, dest, q.ext.Rebind(query), args...)
}

func (q *queries) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return q.ext.ExecContext(ctx, q.ext.Rebind(query), args...)
}

// insert runs an INSERT ... RETURNING id statement and returns the new id.
func (q *queries) insert(ctx context.Context, query string, args ...any) (int64, error) {
	var id int64
	if err := q.get(ctx, &id, query+" RETURNING id", args...); err != nil {
		return 0, err
	}
	return id, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}
