package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx, so the SQL helpers
// in this package can run inside or outside an explicit transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Tx is an open transaction exposing the domain mutations the saga,
// synchronizer, and ledger perform. The remote chat calls those components
// make happen while a Tx is open, so the transaction's lifetime is bounded
// by the chat client's per-call timeout.
type Tx struct {
	tx     pgx.Tx
	logger *slog.Logger
}

// Begin opens a transaction.
func (db *DB) Begin(ctx context.Context) (*Tx, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("storage: begin tx: %w", err)
	}
	return &Tx{tx: tx, logger: db.logger}, nil
}

// Commit commits the transaction.
func (t *Tx) Commit(ctx context.Context) error {
	if err := t.tx.Commit(ctx); err != nil {
		return fmt.Errorf("storage: commit tx: %w", err)
	}
	return nil
}

// Rollback aborts the transaction. Safe to defer after Commit; rolling back
// a finished transaction is a no-op.
func (t *Tx) Rollback(ctx context.Context) {
	if err := t.tx.Rollback(ctx); err != nil && err != pgx.ErrTxClosed {
		t.logger.Warn("storage: rollback failed", "error", err)
	}
}
