// Package sqlstore persists audits and action plans in SQLite through
// database/sql and the pure-Go modernc.org/sqlite driver.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/alexisbeaulieu97/tuner/internal/domain/audit"
	"github.com/alexisbeaulieu97/tuner/internal/ports"
)

// timeLayout is fixed width so TEXT columns sort chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const schema = `
CREATE TABLE IF NOT EXISTS audits (
	id             TEXT PRIMARY KEY,
	name           TEXT NOT NULL,
	goal           TEXT NOT NULL DEFAULT '',
	strategy_id    TEXT NOT NULL DEFAULT '',
	parameters     TEXT NOT NULL DEFAULT '{}',
	state          TEXT NOT NULL,
	failure_code   TEXT NOT NULL DEFAULT '',
	failure_reason TEXT NOT NULL DEFAULT '',
	created_at     TEXT NOT NULL,
	updated_at     TEXT NOT NULL,
	started_at     TEXT,
	finished_at    TEXT
);
CREATE INDEX IF NOT EXISTS idx_audits_state ON audits(state);

CREATE TABLE IF NOT EXISTS action_plans (
	id                 TEXT PRIMARY KEY,
	audit_id           TEXT NOT NULL REFERENCES audits(id),
	strategy_id        TEXT NOT NULL,
	state              TEXT NOT NULL,
	first_action_id    TEXT NOT NULL DEFAULT '',
	global_name        TEXT NOT NULL DEFAULT '',
	global_description TEXT NOT NULL DEFAULT '',
	global_unit        TEXT NOT NULL DEFAULT '',
	global_value       REAL NOT NULL DEFAULT 0,
	created_at         TEXT NOT NULL,
	updated_at         TEXT NOT NULL,
	deleted_at         TEXT
);
CREATE INDEX IF NOT EXISTS idx_action_plans_audit ON action_plans(audit_id);

CREATE TABLE IF NOT EXISTS actions (
	id               TEXT PRIMARY KEY,
	action_plan_id   TEXT NOT NULL REFERENCES action_plans(id),
	idx              INTEGER NOT NULL,
	action_type      TEXT NOT NULL,
	resource_id      TEXT NOT NULL,
	input_parameters TEXT NOT NULL DEFAULT '{}',
	state            TEXT NOT NULL,
	parents          TEXT NOT NULL DEFAULT '[]',
	created_at       TEXT NOT NULL,
	deleted_at       TEXT,
	UNIQUE (action_plan_id, idx)
);

CREATE TABLE IF NOT EXISTS efficacy_indicators (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	action_plan_id TEXT NOT NULL REFERENCES action_plans(id),
	position       INTEGER NOT NULL,
	name           TEXT NOT NULL,
	description    TEXT NOT NULL DEFAULT '',
	unit           TEXT NOT NULL DEFAULT '',
	value          REAL NOT NULL,
	deleted_at     TEXT
);
`

// Store implements ports.Store on a *sql.DB.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Option customises a Store.
type Option func(*Store)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Open creates or opens the SQLite database at path and applies the schema.
// The parent directory is created if it does not exist.
func Open(path string, opts ...Option) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("store: failed to create directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("store: failed to open database: %w", err)
	}
	// SQLite allows one writer; a single connection serialises CAS updates
	// and commits instead of surfacing SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	s := New(db, opts...)
	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing connection without touching the schema.
func New(db *sql.DB, opts ...Option) *Store {
	s := &Store{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Migrate creates the tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("store: migration failed: %w", err)
	}
	return nil
}

// Close releases database resources.
func (s *Store) Close() error {
	return s.db.Close()
}

type txKey struct{}

func withTransaction(ctx context.Context, tx *sql.Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

func getTransaction(ctx context.Context) *sql.Tx {
	tx, _ := ctx.Value(txKey{}).(*sql.Tx)
	return tx
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// q returns the transaction bound to ctx, or the pool.
func (s *Store) q(ctx context.Context) querier {
	if tx := getTransaction(ctx); tx != nil {
		return tx
	}
	return s.db
}

// inTx runs fn in a transaction bound to ctx. fn's error rolls back.
func (s *Store) inTx(ctx context.Context, fn func(ctx context.Context) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(withTransaction(ctx, tx)); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTime(raw string) (time.Time, error) {
	t, err := time.Parse(timeLayout, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", raw, err)
	}
	return t, nil
}

func parseTimePtr(raw sql.NullString) (*time.Time, error) {
	if !raw.Valid {
		return nil, nil
	}
	t, err := parseTime(raw.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// persistence wraps infrastructure failures, leaving domain errors intact.
func persistence(operation string, err error) error {
	if err == nil {
		return nil
	}
	if audit.CodeOf(err) != "" {
		return err
	}
	return audit.NewPersistenceError(operation, err)
}

var _ ports.Store = (*Store)(nil)
