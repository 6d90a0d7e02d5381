// internal/repository/wallet_repo.go
package repository

import (
	"context"

	"custody-ledger/internal/domain"

	"github.com/shopspring/decimal"
)

// WalletRepository defines the interface for fiat wallet data operations.
type WalletRepository interface {
	// CreateWallet adds a new wallet. A second primary wallet for the same
	// (user, currency) yields util.ErrDuplicateEntry.
	CreateWallet(ctx context.Context, q DBExecutor, wallet *domain.Wallet) error
	// GetWalletByID retrieves a wallet by its ID.
	GetWalletByID(ctx context.Context, q DBExecutor, id int64) (*domain.Wallet, error)
	// GetWalletForUpdate retrieves a wallet and locks its row until the transaction ends.
	GetWalletForUpdate(ctx context.Context, q DBExecutor, id int64) (*domain.Wallet, error)
	// GetPrimaryWallet retrieves the user's primary wallet in a currency.
	GetPrimaryWallet(ctx context.Context, q DBExecutor, userID int64, currency string) (*domain.Wallet, error)
	// SetWalletBalance overwrites the balance of a wallet previously locked for update.
	SetWalletBalance(ctx context.Context, q DBExecutor, walletID int64, balance decimal.Decimal) error
}
