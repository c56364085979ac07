package outbox

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// TxWork is the caller-supplied business mutation executed inside the same
// transaction that stores the outbox event.
type TxWork func(ctx context.Context, tx Tx) error

// Writer couples a business write and its outbox event in one database
// transaction, closing the dual-write gap at creation time: either both
// rows persist or neither does.
type Writer struct {
	db    *sql.DB
	store Store
}

// NewWriter creates a Writer over the given database handle and store.
func NewWriter(db *sql.DB, store Store) (*Writer, error) {
	if db == nil {
		return nil, ErrDBRequired
	}

	if store == nil {
		return nil, ErrStoreRequired
	}

	return &Writer{db: db, store: store}, nil
}

// Write begins a transaction, runs work, appends event inside the same
// transaction, and commits. Any failure rolls back both the business
// mutation and the event.
func (w *Writer) Write(ctx context.Context, event *Event, work TxWork) error {
	if w == nil || w.db == nil || w.store == nil {
		return ErrStoreRequired
	}

	if event == nil {
		return ErrEventRequired
	}

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin outbox transaction: %w", err)
	}

	// After a commit or an explicit rollback this is a no-op; it is here so
	// a panic inside work cannot leak the open transaction.
	defer func() {
		_ = tx.Rollback()
	}()

	if work != nil {
		if err := work(ctx, tx); err != nil {
			return rollbackOnError(tx, fmt.Errorf("business write: %w", err))
		}
	}

	if err := w.store.AppendInTx(ctx, tx, event); err != nil {
		return rollbackOnError(tx, fmt.Errorf("append outbox event: %w", err))
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit outbox transaction: %w", err)
	}

	return nil
}

func rollbackOnError(tx Tx, err error) error {
	if rollbackErr := tx.Rollback(); rollbackErr != nil && !errors.Is(rollbackErr, sql.ErrTxDone) {
		return errors.Join(err, fmt.Errorf("rollback: %w", rollbackErr))
	}

	return err
}
