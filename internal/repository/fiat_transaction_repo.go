// internal/repository/fiat_transaction_repo.go
package repository

import (
	"context"

	"custody-ledger/internal/domain"

	"github.com/shopspring/decimal"
)

// FiatTransactionRepository defines the interface for wallet-side transaction records.
type FiatTransactionRepository interface {
	// CreateFiatTransaction inserts a pending record.
	CreateFiatTransaction(ctx context.Context, q DBExecutor, tx *domain.FiatTransaction) error
	GetFiatTransactionByID(ctx context.Context, q DBExecutor, id int64) (*domain.FiatTransaction, error)
	// CompleteFiatTransaction moves a pending record to completed with its balance snapshot.
	// It returns util.ErrNotFound when no pending record with that ID exists.
	CompleteFiatTransaction(ctx context.Context, q DBExecutor, id int64, before, after decimal.Decimal) error
	// FailFiatTransaction moves a pending record to failed.
	FailFiatTransaction(ctx context.Context, q DBExecutor, id int64, reason string) error
	// ListFiatTransactionsByWallet returns a newest-first page and the total count.
	ListFiatTransactionsByWallet(ctx context.Context, q DBExecutor, walletID int64, limit, offset int) ([]domain.FiatTransaction, int64, error)
	// ListRefundsFor returns the REFUND records pointing at a transaction.
	ListRefundsFor(ctx context.Context, q DBExecutor, relatedID int64) ([]domain.FiatTransaction, error)
}
