// Package sqlite implements C2, the embedded relational store: a
// single-file transactional database holding every entity, its indexes,
// the full-text index, the sync-state tables, and the conflict ledger.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver" // registers the "sqlite3" database/sql driver
	_ "github.com/ncruces/go-sqlite3/embed"  // embeds the WASM SQLite build, no cgo required

	"github.com/kbengine/kbengine/internal/dbretry"
)

// Store wraps the single-file database and the busy-retry policy every
// write goes through.
type Store struct {
	db         *sql.DB
	log        *slog.Logger
	busyDelay  time.Duration
	instanceID string
}

// Open opens (creating if absent) the SQLite file at path, enables WAL
// journaling, NORMAL synchronous mode, and foreign-key enforcement, and
// applies any pending schema migrations in order.
func Open(ctx context.Context, path string, instanceID string, busyDelay time.Duration, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(1000)", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // single-file writer; WAL still allows concurrent readers at the SQLite layer

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping %s: %w", path, err)
	}

	s := &Store{db: db, log: log, busyDelay: busyDelay, instanceID: instanceID}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// withRetry is the store-wide busy-retry wrapper used by every write
// path: one automatic retry after busyDelay, surfacing kberrors.Busy on a
// second failure.
func (s *Store) withRetry(ctx context.Context, op string, fn func(context.Context) error) error {
	return dbretry.WithRetry(ctx, op, s.busyDelay, isBusyError, fn)
}

// withTx runs fn inside a single transaction, retried as one unit under
// the busy policy, committing on success and rolling back when fn returns
// an error; a panic in fn is not recovered.
func (s *Store) withTx(ctx context.Context, op string, fn func(context.Context, *sql.Tx) error) error {
	return s.withRetry(ctx, op, func(ctx context.Context) error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("%s: begin tx: %w", op, err)
		}
		if err := fn(ctx, tx); err != nil {
			_ = tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("%s: commit: %w", op, err)
		}
		return nil
	})
}

// DB exposes the underlying handle for components (search, watermark)
// that need direct read access without going through a write-oriented
// capability method.
func (s *Store) DB() *sql.DB { return s.db }

// querier is satisfied by both *sql.DB and *sql.Tx, letting the read
// helpers below run unchanged against either the store's pooled
// connection or a single caller-supplied transaction.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// WithTx runs fn once against a single shared transaction exposed as a
// TxStore, committing at the end or rolling back on any error — the
// same commit-or-rollback discipline as withTx, scaled up to span many
// writes as one atomic unit instead of one transaction per call. Used
// by package import so applying an entire package commits (or rolls
// back) together.
func (s *Store) WithTx(ctx context.Context, op string, fn func(ctx context.Context, txStore *TxStore) error) error {
	return s.withRetry(ctx, op, func(ctx context.Context) error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("%s: begin tx: %w", op, err)
		}
		if err := fn(ctx, &TxStore{tx: tx}); err != nil {
			_ = tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("%s: commit: %w", op, err)
		}
		return nil
	})
}
