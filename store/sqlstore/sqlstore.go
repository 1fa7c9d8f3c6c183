/*
Package sqlstore provides a database/sql implementation of billing.TxStore
and billing.RunLog.

PURPOSE:
  Persists residents, payment periods and orchestrator runs. The same
  queries serve SQLite (mattn/go-sqlite3) and PostgreSQL (lib/pq); only
  placeholder syntax differs, handled by rebind.

KEY TABLES:
  residents:       Resident profiles and base maintenance
  payment_periods: One row per (resident_id, period), UNIQUE enforced
  runs:            Generation / recalculation / overdue refresh executions

STORAGE FORMATS:
  Money is stored as TEXT (decimal string) so no float rounding ever
  touches an amount. Periods are TEXT "YYYY-MM", which sorts correctly.
  Times are RFC3339 TEXT in UTC.

CONCURRENCY:
  SQLite runs with a single open connection and a sync.RWMutex, the
  transaction holding the write lock. The Store passed to WithTx's fn
  uses the sql.Tx directly and never takes the mutex again.
  PostgreSQL relies on database-level concurrency control instead.

USAGE:
  store, err := sqlstore.Open("sqlite3", "./data/rwa.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  svc := billing.NewService(store)

MIGRATION:
  Schema is auto-migrated on Open().

SEE ALSO:
  - billing/store.go: Interface definitions
  - billing/store/memory.go: In-memory implementation for testing
*/
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"sync"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/warp/rwa-ledger/billing"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// Store implements billing.TxStore and billing.RunLog.
type Store struct {
	conn
	db *sql.DB
	mu sync.RWMutex
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// conn runs the queries against a queryer in one dialect.
type conn struct {
	q      queryer
	driver string
}

// Open connects to the database and migrates the schema.
// For sqlite3, dsn is a file path or ":memory:".
func Open(driver, dsn string) (*Store, error) {
	switch driver {
	case DriverSQLite:
		dsn = sqliteDSN(dsn)
	case DriverPostgres:
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if driver == DriverSQLite {
		// One connection keeps ":memory:" a single database and serializes writers.
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db, conn: conn{q: db, driver: driver}}
	if err := store.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// New opens a SQLite store at path.
func New(path string) (*Store, error) {
	return Open(DriverSQLite, path)
}

func sqliteDSN(path string) string {
	if strings.Contains(path, "?") {
		return path
	}
	params := "_foreign_keys=on&_busy_timeout=5000"
	if path != ":memory:" {
		params += "&_journal_mode=WAL"
	}
	return path + "?" + params
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the connection, for health endpoints.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS residents (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			unit TEXT NOT NULL,
			phone TEXT,
			email TEXT,
			base_maintenance TEXT NOT NULL,
			occupancy TEXT NOT NULL DEFAULT 'occupied',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_residents_occupancy ON residents(occupancy)`,

		`CREATE TABLE IF NOT EXISTS payment_periods (
			id TEXT PRIMARY KEY,
			resident_id TEXT NOT NULL REFERENCES residents(id),
			period TEXT NOT NULL,
			amount_due TEXT NOT NULL,
			amount_paid TEXT NOT NULL,
			status TEXT NOT NULL,
			payment_date TEXT,
			payment_method TEXT,
			transaction_id TEXT,
			remarks TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			UNIQUE(resident_id, period)
		)`,
		// Hot path: one resident's history in period order.
		`CREATE INDEX IF NOT EXISTS idx_payment_periods_resident_period
			ON payment_periods(resident_id, period)`,
		`CREATE INDEX IF NOT EXISTS idx_payment_periods_period
			ON payment_periods(period)`,

		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			period TEXT,
			resident_id TEXT,
			dry_run BOOLEAN NOT NULL DEFAULT FALSE,
			status TEXT NOT NULL,
			created_count INTEGER NOT NULL DEFAULT 0,
			updated_count INTEGER NOT NULL DEFAULT 0,
			changed_count INTEGER NOT NULL DEFAULT 0,
			failed_count INTEGER NOT NULL DEFAULT 0,
			total_due TEXT NOT NULL DEFAULT '0',
			error TEXT,
			started_at TEXT NOT NULL,
			completed_at TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// LOCKING
// =============================================================================

func (s *Store) rlock() func() {
	if s.driver != DriverSQLite {
		return func() {}
	}
	s.mu.RLock()
	return s.mu.RUnlock
}

func (s *Store) lock() func() {
	if s.driver != DriverSQLite {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

// =============================================================================
// TRANSACTIONAL STORE (billing.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store billing.Store) error) error {
	defer s.lock()()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{conn: conn{q: sqlTx, driver: s.driver}}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// txStore is the billing.Store view inside WithTx.
type txStore struct {
	conn
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	defer s.lock()()

	for _, table := range []string{"payment_periods", "runs", "residents"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// rebind rewrites ? placeholders as $1, $2... for PostgreSQL.
func (c conn) rebind(query string) string {
	if c.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (c conn) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return c.q.ExecContext(ctx, c.rebind(query), args...)
}

func (c conn) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return c.q.QueryContext(ctx, c.rebind(query), args...)
}

func (c conn) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return c.q.QueryRowContext(ctx, c.rebind(query), args...)
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}
