package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// maxTxAttempts bounds serialization retries. Two concurrent transitions on
// one voucher resolve within a single retry; the bound covers pile-ups.
const maxTxAttempts = 3

// WithTx runs fn inside a RepeatableRead transaction. The workflow
// repositories rely on this level so a transition sees a stable snapshot of
// the voucher, its signatures and the counters it touches.
//
// When the transaction loses a concurrency race (SQLSTATE 40001 or a
// deadlock) the whole callback is re-run on a fresh snapshot, so fn must be
// safe to call more than once. A retried transition re-reads the winner's
// committed state and fails its own precondition instead of surfacing the
// retryable error.
func WithTx(ctx context.Context, pool *pgxpool.Pool, fn func(pgx.Tx) error) error {
	return withRetry(func() error {
		return runTx(ctx, pool, fn)
	})
}

func withRetry(attempt func() error) error {
	var err error
	for i := 0; i < maxTxAttempts; i++ {
		err = attempt()
		if !retryableTxError(err) {
			return err
		}
	}
	return fmt.Errorf("platform/db: tx retries exhausted: %w", err)
}

func runTx(ctx context.Context, pool *pgxpool.Pool, fn func(pgx.Tx) error) error {
	tx, err := pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return fmt.Errorf("platform/db: begin tx: %w", err)
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("platform/db: commit tx: %w", err)
	}

	return nil
}

func retryableTxError(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	// serialization_failure and deadlock_detected.
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}
