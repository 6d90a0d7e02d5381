// internal/repository/crypto_transaction_repo.go
package repository

import (
	"context"

	"custody-ledger/internal/domain"
)

// CryptoTransactionRepository stores transaction headers together with their single detail row.
type CryptoTransactionRepository interface {
	// CreateCryptoTransaction inserts the header and its detail in the caller's transaction.
	CreateCryptoTransaction(ctx context.Context, q DBExecutor, tx *domain.CryptoTransaction) error
	GetCryptoTransactionByReference(ctx context.Context, q DBExecutor, reference string) (*domain.CryptoTransaction, error)
	// ListCryptoTransactions returns a newest-first page matching the filter and the total count.
	ListCryptoTransactions(ctx context.Context, q DBExecutor, filter domain.TransactionFilter) ([]domain.CryptoTransaction, int64, error)
	// FindReceiveByTxHash looks up an already-credited deposit.
	FindReceiveByTxHash(ctx context.Context, q DBExecutor, blockchain, txHash string) (*domain.CryptoTransaction, error)
}
