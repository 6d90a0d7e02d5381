// internal/repository/postgres/virtual_account_pg.go
package postgres

import (
	"context"
	"fmt"
	"time"

	"custody-ledger/internal/domain"
	"custody-ledger/internal/repository"

	"github.com/shopspring/decimal"
)

const virtualAccountColumns = `id, user_id, currency, blockchain, available_balance, account_balance,
	active, frozen, deposit_address, encrypted_secret, created_at, updated_at`

const walletCurrencyColumns = `id, currency, blockchain, price, decimals, contract_address, is_token, updated_at`

// VirtualAccountRepository implements repository.VirtualAccountRepository for PostgreSQL.
type VirtualAccountRepository struct{}

// NewVirtualAccountRepository creates a new VirtualAccountRepository.
func NewVirtualAccountRepository() repository.VirtualAccountRepository {
	return &VirtualAccountRepository{}
}

func (r *VirtualAccountRepository) CreateVirtualAccount(ctx context.Context, q repository.DBExecutor, a *domain.VirtualAccount) error {
	query := `INSERT INTO virtual_accounts (user_id, currency, blockchain, available_balance, account_balance,
                active, frozen, deposit_address, encrypted_secret, created_at, updated_at)
              VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11) RETURNING id`
	err := q.QueryRowContext(ctx, query, a.UserID, a.Currency, a.Blockchain, a.AvailableBalance, a.AccountBalance,
		a.Active, a.Frozen, a.DepositAddress, a.EncryptedSecret, a.CreatedAt, a.UpdatedAt).Scan(&a.ID)
	if err != nil {
		return fmt.Errorf("failed to create virtual account: %w", translate(err))
	}
	return nil
}

func (r *VirtualAccountRepository) GetVirtualAccountByID(ctx context.Context, q repository.DBExecutor, id int64) (*domain.VirtualAccount, error) {
	var a domain.VirtualAccount
	query := `SELECT ` + virtualAccountColumns + ` FROM virtual_accounts WHERE id = $1`
	if err := q.GetContext(ctx, &a, query, id); err != nil {
		return nil, fmt.Errorf("failed to get virtual account %d: %w", id, translate(err))
	}
	return &a, nil
}

func (r *VirtualAccountRepository) GetVirtualAccountForUpdate(ctx context.Context, q repository.DBExecutor, id int64) (*domain.VirtualAccount, error) {
	var a domain.VirtualAccount
	query := `SELECT ` + virtualAccountColumns + ` FROM virtual_accounts WHERE id = $1 FOR UPDATE`
	if err := q.GetContext(ctx, &a, query, id); err != nil {
		return nil, fmt.Errorf("failed to lock virtual account %d: %w", id, translate(err))
	}
	return &a, nil
}

func (r *VirtualAccountRepository) GetUserVirtualAccount(ctx context.Context, q repository.DBExecutor, userID int64, currency, blockchain string) (*domain.VirtualAccount, error) {
	var a domain.VirtualAccount
	query := `SELECT ` + virtualAccountColumns + ` FROM virtual_accounts
              WHERE user_id = $1 AND UPPER(currency) = UPPER($2) AND LOWER(blockchain) = LOWER($3)`
	if err := q.GetContext(ctx, &a, query, userID, currency, blockchain); err != nil {
		return nil, fmt.Errorf("failed to get %s/%s virtual account for user %d: %w", currency, blockchain, userID, translate(err))
	}
	return &a, nil
}

func (r *VirtualAccountRepository) FindVirtualAccountByAddress(ctx context.Context, q repository.DBExecutor, blockchain, address string) (*domain.VirtualAccount, error) {
	var a domain.VirtualAccount
	query := `SELECT ` + virtualAccountColumns + ` FROM virtual_accounts
              WHERE LOWER(blockchain) = LOWER($1) AND deposit_address = $2
              ORDER BY id LIMIT 1`
	if err := q.GetContext(ctx, &a, query, blockchain, address); err != nil {
		return nil, fmt.Errorf("failed to find virtual account by address %s: %w", address, translate(err))
	}
	return &a, nil
}

// SetVirtualAccountBalance keeps available and account balance equal.
func (r *VirtualAccountRepository) SetVirtualAccountBalance(ctx context.Context, q repository.DBExecutor, id int64, balance decimal.Decimal) error {
	query := `UPDATE virtual_accounts SET available_balance = $1, account_balance = $1, updated_at = $2 WHERE id = $3`
	res, err := q.ExecContext(ctx, query, balance, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update virtual account balance for ID %d: %w", id, err)
	}
	if err := expectOne(res); err != nil {
		return fmt.Errorf("failed to update virtual account balance for ID %d: %w", id, err)
	}
	return nil
}

func (r *VirtualAccountRepository) GetWalletCurrency(ctx context.Context, q repository.DBExecutor, currency, blockchain string) (*domain.WalletCurrency, error) {
	var wc domain.WalletCurrency
	query := `SELECT ` + walletCurrencyColumns + ` FROM wallet_currencies
              WHERE UPPER(currency) = UPPER($1) AND LOWER(blockchain) = LOWER($2)`
	if err := q.GetContext(ctx, &wc, query, currency, blockchain); err != nil {
		return nil, fmt.Errorf("failed to get wallet currency %s/%s: %w", currency, blockchain, translate(err))
	}
	return &wc, nil
}

func (r *VirtualAccountRepository) ListWalletCurrencies(ctx context.Context, q repository.DBExecutor) ([]domain.WalletCurrency, error) {
	currencies := []domain.WalletCurrency{}
	query := `SELECT ` + walletCurrencyColumns + ` FROM wallet_currencies ORDER BY blockchain, currency`
	if err := q.SelectContext(ctx, &currencies, query); err != nil {
		return nil, fmt.Errorf("failed to list wallet currencies: %w", err)
	}
	return currencies, nil
}

func (r *VirtualAccountRepository) UpdateWalletCurrencyPrice(ctx context.Context, q repository.DBExecutor, currency, blockchain string, price decimal.Decimal) error {
	query := `UPDATE wallet_currencies SET price = $1, updated_at = $2
              WHERE UPPER(currency) = UPPER($3) AND LOWER(blockchain) = LOWER($4)`
	res, err := q.ExecContext(ctx, query, price, time.Now().UTC(), currency, blockchain)
	if err != nil {
		return fmt.Errorf("failed to update price for %s/%s: %w", currency, blockchain, err)
	}
	if err := expectOne(res); err != nil {
		return fmt.Errorf("failed to update price for %s/%s: %w", currency, blockchain, err)
	}
	return nil
}
