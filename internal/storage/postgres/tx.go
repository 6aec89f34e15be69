package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/garvit124/AutoPO/internal/storage/txctx"
)

type txKey struct{}

// withTx runs fn in a transaction carried by the context. Repositories sharing
// a pool join the same transaction; nested calls reuse it. Compensations
// registered through txctx run when fn fails. A failed COMMIT may still have
// landed, so compensations are dropped then and left to ledger reconciliation.
func withTx(ctx context.Context, pool *pgxpool.Pool, fn func(ctx context.Context) error) error {
	if txFromContext(ctx) != nil {
		return fn(ctx)
	}

	tx, err := pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}

	txCtx, hooks := txctx.Begin(context.WithValue(ctx, txKey{}, tx))
	if err := fn(txCtx); err != nil {
		_ = tx.Rollback(ctx)
		return compensate(ctx, hooks, err)
	}
	if err := tx.Commit(ctx); err != nil {
		hooks.Discard()
		return fmt.Errorf("commit: %w", err)
	}
	hooks.Discard()
	return nil
}

func compensate(ctx context.Context, hooks *txctx.Hooks, cause error) error {
	if err := hooks.Rollback(context.WithoutCancel(ctx)); err != nil {
		return errors.Join(cause, fmt.Errorf("rollback compensation: %w", err))
	}
	return cause
}

func txFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(txKey{}).(pgx.Tx)
	return tx
}

// conn routes statements through the context transaction when there is one.
type conn struct {
	pool *pgxpool.Pool
}

func (c conn) exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if tx := txFromContext(ctx); tx != nil {
		return tx.Exec(ctx, sql, args...)
	}
	return c.pool.Exec(ctx, sql, args...)
}

func (c conn) queryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if tx := txFromContext(ctx); tx != nil {
		return tx.QueryRow(ctx, sql, args...)
	}
	return c.pool.QueryRow(ctx, sql, args...)
}

func (c conn) query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if tx := txFromContext(ctx); tx != nil {
		return tx.Query(ctx, sql, args...)
	}
	return c.pool.Query(ctx, sql, args...)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func isInvalidUUID(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "22P02"
}
