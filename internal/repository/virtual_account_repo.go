// internal/repository/virtual_account_repo.go
package repository

import (
	"context"

	"custody-ledger/internal/domain"

	"github.com/shopspring/decimal"
)

// VirtualAccountRepository defines the interface for crypto virtual account data operations.
type VirtualAccountRepository interface {
	CreateVirtualAccount(ctx context.Context, q DBExecutor, account *domain.VirtualAccount) error
	GetVirtualAccountByID(ctx context.Context, q DBExecutor, id int64) (*domain.VirtualAccount, error)
	// GetVirtualAccountForUpdate locks the account row until the transaction ends.
	GetVirtualAccountForUpdate(ctx context.Context, q DBExecutor, id int64) (*domain.VirtualAccount, error)
	GetUserVirtualAccount(ctx context.Context, q DBExecutor, userID int64, currency, blockchain string) (*domain.VirtualAccount, error)
	// FindVirtualAccountByAddress resolves the owner of a deposit address.
	FindVirtualAccountByAddress(ctx context.Context, q DBExecutor, blockchain, address string) (*domain.VirtualAccount, error)
	// SetVirtualAccountBalance writes both balance columns to the same value.
	SetVirtualAccountBalance(ctx context.Context, q DBExecutor, id int64, balance decimal.Decimal) error

	GetWalletCurrency(ctx context.Context, q DBExecutor, currency, blockchain string) (*domain.WalletCurrency, error)
	ListWalletCurrencies(ctx context.Context, q DBExecutor) ([]domain.WalletCurrency, error)
	UpdateWalletCurrencyPrice(ctx context.Context, q DBExecutor, currency, blockchain string, price decimal.Decimal) error
}
