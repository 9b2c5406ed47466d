// Package sqlite keeps the generation ledger in a local SQLite file via
// modernc.org/sqlite.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/eugener/respcache/internal/storage"
)

//go:embed migrations/*.sql
var migrations embed.FS

var _ storage.Store = (*Store)(nil)

// readConns bounds the reader pool. Only the operator listing endpoint
// and the readiness probe read from the ledger.
const readConns = 2

// Store is the ledger. The recorder's batched inserts and the retention
// sweep go through a single writer connection, so SQLite never sees two
// concurrent write transactions; reads use a small separate pool.
type Store struct {
	write *sql.DB
	read  *sql.DB
}

// ledgerDSN builds the driver DSN for path. WAL lets readers run while a
// batch is being inserted; synchronous=NORMAL may lose the last batch on
// power loss, which the ledger tolerates.
func ledgerDSN(path string) string {
	q := url.Values{}
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "synchronous(NORMAL)")
	if path == ":memory:" {
		// Both pools must see the same in-memory database.
		q.Set("mode", "memory")
		q.Set("cache", "shared")
		return "file::memory:?" + q.Encode()
	}
	return "file:" + path + "?" + q.Encode()
}

// New opens the ledger at path (or ":memory:") and migrates it to the
// latest schema.
func New(path string) (*Store, error) {
	dsn := ledgerDSN(path)
	write, err := openPool(dsn, 1)
	if err != nil {
		return nil, fmt.Errorf("open ledger writer: %w", err)
	}
	read, err := openPool(dsn, readConns)
	if err != nil {
		write.Close()
		return nil, fmt.Errorf("open ledger readers: %w", err)
	}

	s := &Store{write: write, read: read}
	if err := s.migrate(context.Background()); err != nil {
		s.Close()
		return nil, fmt.Errorf("migrate ledger: %w", err)
	}
	return s, nil
}

func openPool(dsn string, conns int) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(conns)
	db.SetMaxIdleConns(conns)
	return db, nil
}

func (s *Store) migrate(ctx context.Context) error {
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return err
	}
	p, err := goose.NewProvider(goose.DialectSQLite3, s.write, fsys)
	if err != nil {
		return err
	}
	results, err := p.Up(ctx)
	for _, r := range results {
		slog.LogAttrs(ctx, slog.LevelInfo, "ledger migration applied",
			slog.String("source", r.Source.Path),
			slog.Duration("duration", r.Duration),
		)
	}
	return err
}

// Ping checks that the ledger answers reads.
func (s *Store) Ping(ctx context.Context) error {
	return s.read.PingContext(ctx)
}

// Close closes both pools.
func (s *Store) Close() error {
	return errors.Join(s.write.Close(), s.read.Close())
}
