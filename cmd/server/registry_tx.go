package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	txcontext "addrreg/pkg/platform/tx"
)

// postgresTx runs entity mutations inside a real database transaction.
// The transaction travels in context; the postgres stores pick it up and
// execute against it instead of the pool.
type postgresTx struct {
	db *sql.DB
}

func newPostgresTx(db *sql.DB) *postgresTx {
	return &postgresTx{db: db}
}

func (t *postgresTx) RunInTx(ctx context.Context, _ string, _ uuid.UUID, fn func(ctx context.Context) error) error {
	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(txcontext.WithTx(ctx, tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback after %w: %v", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
