package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Gobusters/ectologger"
	"github.com/jmoiron/sqlx"
)

type TxContextKey string

const txKey = TxContextKey("tx-context-key")

type Tx interface {
	Querier
	IsOpen() bool
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Transaction wraps sqlx.Tx. A Transaction obtained while another one is
// already open on the context is nested: it shares the outer sqlx.Tx and its
// Commit and Rollback are left to the outer owner.
type Transaction struct {
	*sqlx.Tx
	logger ectologger.Logger
	root   *Transaction
	closed bool
}

func NewTx(tx *sqlx.Tx, logger ectologger.Logger) *Transaction {
	return &Transaction{
		Tx:     tx,
		logger: logger,
	}
}

// GetTx returns the open transaction on ctx, or begins one and stores it on
// the returned context.
func GetTx(ctx context.Context, logger ectologger.Logger, db DB, opts *sql.TxOptions) (context.Context, Tx, error) {
	if outer := txFromContext(ctx); outer != nil && outer.IsOpen() {
		return ctx, &Transaction{Tx: outer.Tx, logger: logger, root: outer.owner()}, nil
	}

	tx, err := db.BeginTxx(ctx, opts)
	if err != nil {
		logger.WithContext(ctx).WithError(err).Errorf("error while beginning transaction")
		return ctx, nil, fmt.Errorf("error while beginning transaction: %w", err)
	}

	newTx := NewTx(tx, logger)
	return context.WithValue(ctx, txKey, newTx), newTx, nil
}

// TxFromContext returns the open transaction on ctx as a Querier, or nil.
func TxFromContext(ctx context.Context) Querier {
	tx := txFromContext(ctx)
	if tx == nil || !tx.IsOpen() {
		return nil
	}
	return tx
}

func txFromContext(ctx context.Context) *Transaction {
	tx, _ := ctx.Value(txKey).(*Transaction)
	return tx
}

func (t *Transaction) owner() *Transaction {
	if t.root != nil {
		return t.root
	}
	return t
}

func (t *Transaction) IsNested() bool {
	return t.root != nil
}

func (t *Transaction) IsOpen() bool {
	return !t.owner().closed
}

func (t *Transaction) Rollback(ctx context.Context) error {
	if t.IsNested() || t.closed {
		return nil
	}

	if err := t.Tx.Rollback(); err != nil {
		t.logger.WithContext(ctx).WithError(err).Errorf("error while rolling back transaction")
		return fmt.Errorf("error while rolling back transaction: %w", err)
	}

	t.closed = true
	return nil
}

func (t *Transaction) Commit(ctx context.Context) error {
	if t.IsNested() || t.closed {
		return nil
	}

	err := t.Tx.Commit()
	t.closed = true
	if err != nil {
		t.logger.WithContext(ctx).WithError(err).Errorf("error while committing transaction")
		return fmt.Errorf("error while committing transaction: %w", err)
	}

	return nil
}

// WithTx runs fn inside a transaction, committing when fn succeeds and rolling
// back otherwise. Called inside an open transaction it joins it.
func WithTx(ctx context.Context, db DB, fn func(ctx context.Context) error) error {
	ctx, tx, err := db.GetTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(ctx); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// TxRunner runs fn inside a transaction carried on ctx
type TxRunner func(ctx context.Context, fn func(ctx context.Context) error) error

// Runner binds WithTx to db
func Runner(db DB) TxRunner {
	return func(ctx context.Context, fn func(ctx context.Context) error) error {
		return WithTx(ctx, db, fn)
	}
}

// NoTx runs fn without a transaction, for in-memory stores
func NoTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
