package database

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/multierr"
)

type TxOptions struct {
	IsolationLevel sql.IsolationLevel
	ReadOnly       bool
	MaxRetries     int
}

func DefaultTxOptions() TxOptions {
	return TxOptions{
		IsolationLevel: sql.LevelReadCommitted,
		ReadOnly:       false,
		MaxRetries:     3,
	}
}

func WithTransaction(ctx context.Context, db *sql.DB, opts TxOptions, fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, &sql.TxOptions{
		Isolation: opts.IsolationLevel,
		ReadOnly:  opts.ReadOnly,
	})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		return rollback(tx, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	return nil
}

// WithRetry reruns fn in a fresh transaction when the failure is a
// serialization failure, deadlock or lock timeout.
func WithRetry(ctx context.Context, db *sql.DB, opts TxOptions, fn func(*sql.Tx) error) error {
	var lastErr error
	backoff := 50 * time.Millisecond

	for attempt := 0; attempt <= opts.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := WithTransaction(ctx, db, opts, fn)
		if err == nil {
			return nil
		}
		if !IsRetryable(err) {
			return err
		}
		if attempt == opts.MaxRetries {
			return fmt.Errorf("max retries (%d) exceeded: %w", opts.MaxRetries, err)
		}
		lastErr = err

		if err := sleep(ctx, backoff); err != nil {
			return err
		}
		backoff *= 2
	}

	return lastErr
}

func rollback(tx *sql.Tx, cause error) error {
	if rbErr := tx.Rollback(); rbErr != nil {
		return multierr.Append(cause, fmt.Errorf("rollback failed: %w", rbErr))
	}
	return cause
}

func sleep(ctx context.Context, backoff time.Duration) error {
	jitter := time.Duration(rand.Int63n(int64(backoff/4) + 1))
	select {
	case <-time.After(backoff + jitter):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TxRunner runs callbacks inside a transaction on the wrapped pool.
type TxRunner struct {
	db   *sql.DB
	opts TxOptions
}

func NewTxRunner(db *sql.DB, opts TxOptions) *TxRunner {
	return &TxRunner{db: db, opts: opts}
}

func (r *TxRunner) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	if r.opts.MaxRetries > 0 {
		return WithRetry(ctx, r.db, r.opts, fn)
	}
	return WithTransaction(ctx, r.db, r.opts, fn)
}

// Bound runs callbacks on a transaction that is already open, so a service
// can take part in its caller's unit of work.
type Bound struct {
	tx *sql.Tx
}

func BoundTo(tx *sql.Tx) Bound {
	return Bound{tx: tx}
}

func (b Bound) WithTx(_ context.Context, fn func(tx *sql.Tx) error) error {
	return fn(b.tx)
}
