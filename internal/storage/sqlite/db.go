// Package sqlite implements a durable cache backend on SQLite via modernc.org/sqlite.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"runtime"

	"github.com/jonboulle/clockwork"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Backend implements cache.Backend using SQLite.
type Backend struct {
	write *sql.DB // single-writer connection
	read  *sql.DB // multi-reader pool
	clock clockwork.Clock
}

// Option configures a Backend.
type Option func(*Backend)

// WithClock sets the time source used for expiration.
func WithClock(c clockwork.Clock) Option {
	return func(b *Backend) {
		if c != nil {
			b.clock = c
		}
	}
}

// New opens a SQLite database, runs migrations, and returns a Backend.
func New(dsn string, opts ...Option) (*Backend, error) {
	pragmas := "_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"

	// :memory: needs a shared cache so both pools see the same database
	var fullDSN string
	if dsn == ":memory:" {
		fullDSN = "file::memory:?mode=memory&cache=shared&" + pragmas
	} else {
		fullDSN = "file:" + dsn + "?" + pragmas
	}

	write, err := sql.Open("sqlite", fullDSN)
	if err != nil {
		return nil, fmt.Errorf("open write db: %w", err)
	}
	write.SetMaxOpenConns(1)

	read, err := sql.Open("sqlite", fullDSN)
	if err != nil {
		write.Close()
		return nil, fmt.Errorf("open read db: %w", err)
	}
	read.SetMaxOpenConns(max(4, runtime.NumCPU()))

	if err := runMigrations(write); err != nil {
		write.Close()
		read.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}

	b := &Backend{write: write, read: read, clock: clockwork.NewRealClock()}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// runMigrations applies the embedded goose migrations.
func runMigrations(db *sql.DB) error {
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("sub fs: %w", err)
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, db, fsys)
	if err != nil {
		return fmt.Errorf("create migration provider: %w", err)
	}
	_, err = provider.Up(context.Background())
	return err
}

// Ping verifies database connectivity by pinging the read pool.
func (b *Backend) Ping(ctx context.Context) error {
	return b.read.PingContext(ctx)
}

// Close closes both database connections.
func (b *Backend) Close() error {
	return errors.Join(b.write.Close(), b.read.Close())
}
