// internal/repository/postgres/wallet_pg.go
package postgres

import (
	"context"
	"fmt"
	"time"

	"custody-ledger/internal/domain"
	"custody-ledger/internal/repository"

	"github.com/shopspring/decimal"
)

const walletColumns = `id, user_id, currency, balance, status, is_primary, created_at, updated_at`

// WalletRepository implements repository.WalletRepository for PostgreSQL.
type WalletRepository struct{}

// NewWalletRepository creates a new WalletRepository.
func NewWalletRepository() repository.WalletRepository {
	return &WalletRepository{}
}

// CreateWallet inserts a new wallet into the database using the provided DBExecutor.
func (r *WalletRepository) CreateWallet(ctx context.Context, q repository.DBExecutor, wallet *domain.Wallet) error {
	query := `INSERT INTO wallets (user_id, currency, balance, status, is_primary, created_at, updated_at)
              VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`
	err := q.QueryRowContext(ctx, query, wallet.UserID, wallet.Currency, wallet.Balance, wallet.Status,
		wallet.IsPrimary, wallet.CreatedAt, wallet.UpdatedAt).Scan(&wallet.ID)
	if err != nil {
		return fmt.Errorf("failed to create wallet: %w", translate(err))
	}
	return nil
}

// GetWalletByID retrieves a wallet by its ID using the provided DBExecutor.
func (r *WalletRepository) GetWalletByID(ctx context.Context, q repository.DBExecutor, id int64) (*domain.Wallet, error) {
	var wallet domain.Wallet
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE id = $1`
	if err := q.GetContext(ctx, &wallet, query, id); err != nil {
		return nil, fmt.Errorf("failed to get wallet by ID %d: %w", id, translate(err))
	}
	return &wallet, nil
}

// GetWalletForUpdate retrieves a wallet and holds its row lock for the rest of the transaction.
func (r *WalletRepository) GetWalletForUpdate(ctx context.Context, q repository.DBExecutor, id int64) (*domain.Wallet, error) {
	var wallet domain.Wallet
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE id = $1 FOR UPDATE`
	if err := q.GetContext(ctx, &wallet, query, id); err != nil {
		return nil, fmt.Errorf("failed to lock wallet %d: %w", id, translate(err))
	}
	return &wallet, nil
}

// GetPrimaryWallet retrieves a user's primary wallet for a currency.
func (r *WalletRepository) GetPrimaryWallet(ctx context.Context, q repository.DBExecutor, userID int64, currency string) (*domain.Wallet, error) {
	var wallet domain.Wallet
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE user_id = $1 AND currency = $2 AND is_primary`
	if err := q.GetContext(ctx, &wallet, query, userID, currency); err != nil {
		return nil, fmt.Errorf("failed to get primary wallet for user %d and currency %s: %w", userID, currency, translate(err))
	}
	return &wallet, nil
}

// SetWalletBalance overwrites the balance of a wallet locked by GetWalletForUpdate.
func (r *WalletRepository) SetWalletBalance(ctx context.Context, q repository.DBExecutor, walletID int64, balance decimal.Decimal) error {
	query := `UPDATE wallets SET balance = $1, updated_at = $2 WHERE id = $3`
	res, err := q.ExecContext(ctx, query, balance, time.Now().UTC(), walletID)
	if err != nil {
		return fmt.Errorf("failed to update wallet balance for ID %d: %w", walletID, err)
	}
	if err := expectOne(res); err != nil {
		return fmt.Errorf("failed to update wallet balance for ID %d: %w", walletID, err)
	}
	return nil
}
