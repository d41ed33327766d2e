package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"jitstreamer/internal/config"
)

// ErrUnavailable reports that the store stayed contended for the whole retry
// budget. It is distinct from sql.ErrNoRows.
var ErrUnavailable = errors.New("store unavailable")

// Options tunes the connection. Zero values fall back to the defaults used by
// config.Default.
type Options struct {
	RetryAttempts int
	RetryBackoff  time.Duration
	BusyTimeout   time.Duration
}

// DB wraps the SQLite handle with contention retry.
type DB struct {
	db       *sql.DB
	path     string
	attempts int
	backoff  time.Duration
	sleep    func(context.Context, time.Duration) error
}

// Open initializes or connects to the database under the configured data directory.
func Open(cfg *config.Config) (*DB, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	return OpenPath(cfg.DatabasePath(), Options{
		RetryAttempts: cfg.Store.RetryAttempts,
		RetryBackoff:  cfg.StoreRetryBackoff(),
		BusyTimeout:   time.Duration(cfg.Store.BusyTimeoutMS) * time.Millisecond,
	})
}

// OpenPath opens the database at path, creating the schema when needed.
func OpenPath(path string, opts Options) (*DB, error) {
	if opts.RetryAttempts <= 0 {
		opts.RetryAttempts = 50
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 100 * time.Millisecond
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dsn(path, opts.BusyTimeout))
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	s := &DB{
		db:       db,
		path:     path,
		attempts: opts.RetryAttempts,
		backoff:  opts.RetryBackoff,
		sleep:    sleepContext,
	}
	if err := s.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// dsn applies pragmas per connection so every pooled connection agrees on
// journal mode and busy handling. Transactions take the write lock up front.
func dsn(path string, busyTimeout time.Duration) string {
	query := url.Values{}
	query.Add("_pragma", "journal_mode(WAL)")
	query.Add("_pragma", "foreign_keys(1)")
	query.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busyTimeout.Milliseconds()))
	query.Set("_txlock", "immediate")
	return "file:" + path + "?" + query.Encode()
}

// Path returns the database file location.
func (s *DB) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

// Close closes the underlying database connection.
func (s *DB) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Exec runs a statement that returns no rows.
func (s *DB) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	ctx = ensureContext(ctx)
	var res sql.Result
	err := s.retry(ctx, func() error {
		var execErr error
		res, execErr = s.db.ExecContext(ctx, query, args...)
		return execErr
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Query runs a statement returning rows. Only opening the cursor is retried;
// errors during iteration surface through rows.Err.
func (s *DB) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	ctx = ensureContext(ctx)
	var rows *sql.Rows
	err := s.retry(ctx, func() error {
		var queryErr error
		rows, queryErr = s.db.QueryContext(ctx, query, args...)
		return queryErr
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// Row is a deferred single-row query. The statement runs when Scan is called.
type Row struct {
	s     *DB
	ctx   context.Context
	query string
	args  []any
}

// QueryRow prepares a single-row query.
func (s *DB) QueryRow(ctx context.Context, query string, args ...any) *Row {
	return &Row{s: s, ctx: ensureContext(ctx), query: query, args: args}
}

// Scan runs the query and copies the columns into dest. sql.ErrNoRows is
// returned unchanged.
func (r *Row) Scan(dest ...any) error {
	return r.s.retry(r.ctx, func() error {
		return r.s.db.QueryRowContext(r.ctx, r.query, r.args...).Scan(dest...)
	})
}

// Tx runs fn inside a transaction. The whole transaction is retried when any
// step hits contention; fn must therefore be safe to run more than once.
func (s *DB) Tx(ctx context.Context, fn func(*sql.Tx) error) error {
	ctx = ensureContext(ctx)
	return s.retry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if err := fn(tx); err != nil {
			_ = tx.Rollback()
			return err
		}
		return tx.Commit()
	})
}

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}
