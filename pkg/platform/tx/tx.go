package tx

import (
	"context"
	"database/sql"
	"fmt"
)

// Run executes fn inside a SQL transaction. The transaction is committed when
// fn returns nil and rolled back otherwise.
func Run(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
