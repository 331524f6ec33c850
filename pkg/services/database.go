package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"
	_ "modernc.org/sqlite"

	"sba-cms/pkg/logging"
)

// Supported database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

const connectTimeout = 5 * time.Second

var schemas = map[string]string{
	DriverSQLite: `
		CREATE TABLE IF NOT EXISTS content (
			collection TEXT NOT NULL,
			slug       TEXT NOT NULL,
			data       TEXT NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			PRIMARY KEY (collection, slug)
		);

		CREATE TABLE IF NOT EXISTS media (
			filename   TEXT PRIMARY KEY,
			path       TEXT NOT NULL,
			size       INTEGER NOT NULL,
			mime_type  TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		);

		CREATE TABLE IF NOT EXISTS users (
			username      TEXT PRIMARY KEY,
			password_hash TEXT NOT NULL,
			role          TEXT NOT NULL DEFAULT 'admin'
		);

		CREATE TABLE IF NOT EXISTS requests (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			type       TEXT NOT NULL,
			name       TEXT,
			email      TEXT,
			data       TEXT,
			created_at TIMESTAMP NOT NULL
		);
	`,
	DriverPostgres: `
		CREATE TABLE IF NOT EXISTS content (
			collection TEXT NOT NULL,
			slug       TEXT NOT NULL,
			data       TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (collection, slug)
		);

		CREATE TABLE IF NOT EXISTS media (
			filename   TEXT PRIMARY KEY,
			path       TEXT NOT NULL,
			size       BIGINT NOT NULL,
			mime_type  TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		);

		CREATE TABLE IF NOT EXISTS users (
			username      TEXT PRIMARY KEY,
			password_hash TEXT NOT NULL,
			role          TEXT NOT NULL DEFAULT 'admin'
		);

		CREATE TABLE IF NOT EXISTS requests (
			id         BIGSERIAL PRIMARY KEY,
			type       TEXT NOT NULL,
			name       TEXT,
			email      TEXT,
			data       TEXT,
			created_at TIMESTAMPTZ NOT NULL
		);
	`,
}

// Database is the optional database tier. The connection is opened lazily on
// first use; a missing DSN makes the tier permanently unavailable. Calls go
// through a circuit breaker so a dead server is skipped until the breaker
// timeout elapses.
type Database struct {
	driver string
	dsn    string
	logger zerolog.Logger

	mu      sync.Mutex
	db      *sql.DB
	breaker *gobreaker.CircuitBreaker[any]
}

// NewDatabase returns a handle that connects on first use. An empty dsn
// yields a handle whose every call returns ErrUnavailable.
func NewDatabase(driver, dsn string, breakerTimeout time.Duration) *Database {
	d := &Database{
		driver: driver,
		dsn:    dsn,
		logger: logging.With().Str("component", "database").Str("driver", driver).Logger(),
	}
	d.breaker = newBreaker(d.logger, breakerTimeout)
	return d
}

// NewDatabaseFromDB wraps an already open handle. The schema is not created.
func NewDatabaseFromDB(db *sql.DB, driver string) *Database {
	d := &Database{
		driver: driver,
		db:     db,
		logger: logging.With().Str("component", "database").Str("driver", driver).Logger(),
	}
	d.breaker = newBreaker(d.logger, 0)
	return d
}

func newBreaker(logger zerolog.Logger, timeout time.Duration) *gobreaker.CircuitBreaker[any] {
	return gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "database",
		MaxRequests: 1,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		IsSuccessful: func(err error) bool {
			var done *callerDoneError
			return err == nil || errors.Is(err, sql.ErrNoRows) || errors.Is(err, ErrNotFound) || errors.As(err, &done)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().Str("from", from.String()).Str("to", to.String()).Msg("database breaker state changed")
		},
	})
}

// Configured reports whether the tier can ever be available.
func (d *Database) Configured() bool {
	if d == nil {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.db != nil || d.dsn != ""
}

// Available reports whether the tier can serve a call right now, connecting
// if needed.
func (d *Database) Available(ctx context.Context) bool {
	return d.Do(ctx, func(*sql.DB) error { return nil }) == nil
}

// Do runs fn with the open handle. It returns an error wrapping
// ErrUnavailable when the tier is not configured, cannot connect, or the
// breaker is open; otherwise fn's error. A call whose ctx is done returns the
// context error and does not count against the breaker.
func (d *Database) Do(ctx context.Context, fn func(db *sql.DB) error) error {
	if !d.Configured() {
		return ErrUnavailable
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	_, err := d.breaker.Execute(func() (any, error) {
		db, err := d.conn(ctx)
		if err == nil {
			err = fn(db)
		}
		if err != nil && ctx.Err() != nil {
			return nil, &callerDoneError{err: ctx.Err()}
		}
		return nil, err
	})

	var done *callerDoneError
	switch {
	case errors.As(err, &done):
		return done.err
	case errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests):
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}

// callerDoneError marks a failure caused by the caller's context ending
// mid-call. The breaker treats it as a success.
type callerDoneError struct {
	err error
}

func (e *callerDoneError) Error() string { return e.err.Error() }

func (e *callerDoneError) Unwrap() error { return e.err }

func (d *Database) conn(ctx context.Context) (*sql.DB, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.db != nil {
		return d.db, nil
	}

	db, err := d.open(ctx)
	if err != nil {
		d.logger.Warn().Err(err).Msg("database tier unavailable")
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	d.db = db
	d.logger.Info().Msg("database tier connected")
	return db, nil
}

func (d *Database) open(ctx context.Context) (*sql.DB, error) {
	schema, ok := schemas[d.driver]
	if !ok {
		return nil, fmt.Errorf("unsupported driver %q", d.driver)
	}

	if d.driver == DriverSQLite {
		if path := sqlitePath(d.dsn); path != "" {
			if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
				return nil, fmt.Errorf("creating database directory: %w", err)
			}
		}
	}

	db, err := sql.Open(d.driver, d.dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if d.driver == DriverSQLite {
		// One connection keeps :memory: databases shared and avoids SQLITE_BUSY.
		db.SetMaxOpenConns(1)
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enabling WAL mode: %w", err)
		}
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return db, nil
}

// sqlitePath extracts the file path from a SQLite DSN, or "" for in-memory.
func sqlitePath(dsn string) string {
	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" || path == ":memory:" {
		return ""
	}
	return path
}

// Close releases the connection, if one was opened.
func (d *Database) Close() error {
	if d == nil {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.db == nil {
		return nil
	}
	err := d.db.Close()
	d.db = nil
	return err
}
