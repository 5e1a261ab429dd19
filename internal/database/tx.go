package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// querier is the part of *sql.DB and *sql.Tx the movement and stream
// queries need, so the same query code runs inside and outside InTx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// activeTxKey marks the transaction opened by InTx in the context.
type activeTxKey struct{}

// InTx runs fn in a transaction carried by its context. A nested call joins
// the outer transaction, and only the outermost call commits. A failed
// rollback is returned together with the error of fn.
func (d *Database) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if activeTx(ctx) != nil {
		return fn(ctx)
	}

	tx, err := d.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(context.WithValue(ctx, activeTxKey{}, tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Join(err, fmt.Errorf("failed to rollback transaction: %w", rbErr))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// querier возвращает открытую в ctx транзакцию, иначе пул соединений
func (d *Database) querier(ctx context.Context) querier {
	if tx := activeTx(ctx); tx != nil {
		return tx
	}
	return d.DB
}

func activeTx(ctx context.Context) *sql.Tx {
	tx, _ := ctx.Value(activeTxKey{}).(*sql.Tx)
	return tx
}
