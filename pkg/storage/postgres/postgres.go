// Package postgres implements the ledger store on PostgreSQL through sqlx and the
// pgx database/sql driver. Lot and order rows are locked with SELECT ... FOR UPDATE
// inside read-committed transactions.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"hardwarestore/pkg/ledger"
)

// Options tunes the connection pool.
type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Store implements ledger.Store.
type Store struct {
	db *sqlx.DB
}

// Open connects to databaseURL and verifies the connection.
func Open(ctx context.Context, databaseURL string, opts Options) (*Store, error) {
	db, err := sqlx.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if opts.MaxOpenConns <= 0 {
		opts.MaxOpenConns = 10
	}
	if opts.MaxIdleConns <= 0 {
		opts.MaxIdleConns = opts.MaxOpenConns / 2
	}
	if opts.ConnMaxLifetime <= 0 {
		opts.ConnMaxLifetime = 30 * time.Minute
	}
	db.SetMaxOpenConns(opts.MaxOpenConns)
	db.SetMaxIdleConns(opts.MaxIdleConns)
	db.SetConnMaxLifetime(opts.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Update runs fn in a read-committed transaction and commits when it returns nil.
func (s *Store) Update(ctx context.Context, fn ledger.TxFunc) error {
	return s.run(ctx, fn, false)
}

// View runs fn in a read-only transaction.
func (s *Store) View(ctx context.Context, fn ledger.TxFunc) error {
	return s.run(ctx, fn, true)
}

func (s *Store) run(ctx context.Context, fn ledger.TxFunc, readOnly bool) error {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted, ReadOnly: readOnly})
	if err != nil {
		return mapError("begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return mapError("commit", err)
	}
	return nil
}

// SQLSTATE codes mapped to ledger kinds.
const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
	codeCheckViolation      = "23514"
	codeNotNullViolation    = "23502"
)

// mapError converts driver errors into ledger errors.
func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Wrap(ledger.KindNotFound, op, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeUniqueViolation:
			return ledger.Wrap(ledger.KindConflict, op, err)
		case codeForeignKeyViolation, codeCheckViolation, codeNotNullViolation:
			return ledger.Wrap(ledger.KindConstraintViolation, op, err)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
