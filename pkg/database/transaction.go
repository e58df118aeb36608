package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Gobusters/ectologger"
	"github.com/jmoiron/sqlx"
)

type txKey struct{}

// Tx is a transaction that can be finished at most once; later Commit or
// Rollback calls are no-ops.
type Tx interface {
	Querier
	IsOpen() bool
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

type Transaction struct {
	*sqlx.Tx
	logger ectologger.Logger
	done   bool
}

func NewTx(tx *sqlx.Tx, logger ectologger.Logger) Tx {
	return &Transaction{Tx: tx, logger: logger}
}

func (t *Transaction) IsOpen() bool { return !t.done }

func (t *Transaction) Commit(ctx context.Context) error {
	return t.finish(ctx, "commit", t.Tx.Commit)
}

func (t *Transaction) Rollback(ctx context.Context) error {
	return t.finish(ctx, "rollback", t.Tx.Rollback)
}

func (t *Transaction) finish(ctx context.Context, op string, fn func() error) error {
	if t.done {
		return nil
	}
	t.done = true
	if err := fn(); err != nil {
		t.logger.WithContext(ctx).WithError(err).Errorf("Transaction %s failed", op)
		return fmt.Errorf("transaction %s: %w", op, err)
	}
	return nil
}

// participant is what a nested caller gets: the outer transaction with
// Commit and Rollback disabled, leaving the outcome to whoever began it.
type participant struct{ Tx }

func (participant) Commit(context.Context) error   { return nil }
func (participant) Rollback(context.Context) error { return nil }

// TxFromContext returns the open transaction carried by ctx, or nil.
func TxFromContext(ctx context.Context) Tx {
	if tx, ok := ctx.Value(txKey{}).(Tx); ok && tx.IsOpen() {
		return tx
	}
	return nil
}

// GetTx joins the transaction on ctx when there is one and begins a new one
// otherwise. The returned context carries the transaction.
func GetTx(ctx context.Context, logger ectologger.Logger, db DB, opts *sql.TxOptions) (context.Context, Tx, error) {
	if outer := TxFromContext(ctx); outer != nil {
		return ctx, participant{outer}, nil
	}

	sqlTx, err := db.BeginTxx(ctx, opts)
	if err != nil {
		logger.WithContext(ctx).WithError(err).Error("Failed to begin transaction")
		return ctx, nil, fmt.Errorf("begin transaction: %w", err)
	}
	tx := NewTx(sqlTx, logger)
	return context.WithValue(ctx, txKey{}, tx), tx, nil
}
