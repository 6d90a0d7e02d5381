// internal/service/unit_of_work.go
package service

import (
	"context"
	"fmt"
	"time"

	"custody-ledger/internal/repository"
	"custody-ledger/pkg/db"
)

// UnitOfWork bundles the injected transaction lifecycle. Every multi-row mutation
// runs through run, bounded by Timeout, and never performs network I/O inside fn.
type UnitOfWork struct {
	Beginner db.DBTxBeginner
	Begin    db.BeginTxFunc
	Commit   db.CommitTxFunc
	Rollback db.RollbackTxFunc
	Timeout  time.Duration
}

func (u UnitOfWork) run(ctx context.Context, op string, fn func(ctx context.Context, q repository.DBExecutor) error) error {
	if u.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, u.Timeout)
		defer cancel()
	}

	txController, err := u.Begin(ctx, u.Beginner)
	if err != nil {
		return fmt.Errorf("%s: failed to begin transaction: %w", op, err)
	}
	defer u.Rollback(txController)

	txExecutor, ok := txController.(repository.DBExecutor)
	if !ok {
		return fmt.Errorf("%s: transaction controller does not implement DBExecutor", op)
	}

	if err := fn(ctx, txExecutor); err != nil {
		return err
	}

	if err := u.Commit(txController); err != nil {
		return fmt.Errorf("%s: failed to commit transaction: %w", op, err)
	}
	return nil
}
