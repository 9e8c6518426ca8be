package sqlstore

import (
	"context"

	"github.com/jmoiron/sqlx"
)

type txContextKey struct{}

// TransactionManager groups the post row and its media rows of one archived
// post into a single commit, so the index never holds a post without its
// attachments.
type TransactionManager struct {
	db *sqlx.DB
}

func NewTransactionManager(db *sqlx.DB) *TransactionManager {
	return &TransactionManager{db: db}
}

// WithTransaction runs fn inside a transaction carried by the context. An
// error from fn rolls back; constraint and driver errors from begin or commit
// are classified like any other store error.
//
// SQLite is opened with a single connection, so while fn runs every other
// query on the same *sqlx.DB waits for the transaction. Stores must go
// through GetExecutor with the context they were handed.
func (tm *TransactionManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	tx, err := tm.db.BeginTxx(ctx, nil)
	if err != nil {
		return classify("begin transaction", err)
	}

	if err := fn(context.WithValue(ctx, txContextKey{}, tx)); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return classify("commit transaction", err)
	}
	return nil
}

func txFromContext(ctx context.Context) *sqlx.Tx {
	tx, _ := ctx.Value(txContextKey{}).(*sqlx.Tx)
	return tx
}

// GetExecutor returns the transaction carried by ctx, or db outside of
// WithTransaction. InsertMedia must run on the same transaction as the post
// row it references, or the post_id foreign key check fails.
func GetExecutor(ctx context.Context, db *sqlx.DB) sqlx.ExtContext {
	if tx := txFromContext(ctx); tx != nil {
		return tx
	}
	return db
}
