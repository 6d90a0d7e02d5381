// internal/repository/postgres/fiat_transaction_pg.go
package postgres

import (
	"context"
	"fmt"
	"time"

	"custody-ledger/internal/domain"
	"custody-ledger/internal/repository"

	"github.com/shopspring/decimal"
)

const fiatTransactionColumns = `id, reference, user_id, wallet_id, type, status, currency, amount, fees, total_amount,
	balance_before, balance_after, description, provider_order_no, related_transaction_id, failure_reason,
	created_at, updated_at`

// FiatTransactionRepository implements repository.FiatTransactionRepository for PostgreSQL.
type FiatTransactionRepository struct{}

// NewFiatTransactionRepository creates a new FiatTransactionRepository.
func NewFiatTransactionRepository() repository.FiatTransactionRepository {
	return &FiatTransactionRepository{}
}

// CreateFiatTransaction inserts a new transaction record using the provided DBExecutor.
func (r *FiatTransactionRepository) CreateFiatTransaction(ctx context.Context, q repository.DBExecutor, t *domain.FiatTransaction) error {
	query := `INSERT INTO fiat_transactions (reference, user_id, wallet_id, type, status, currency, amount, fees,
                total_amount, balance_before, balance_after, description, provider_order_no, related_transaction_id,
                failure_reason, created_at, updated_at)
              VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17) RETURNING id`

	err := q.QueryRowContext(ctx, query,
		t.Reference,
		t.UserID,
		t.WalletID,
		t.Type,
		t.Status,
		t.Currency,
		t.Amount,
		t.Fees,
		t.TotalAmount,
		t.BalanceBefore,
		t.BalanceAfter,
		t.Description,
		t.ProviderOrderNo,
		t.RelatedTransactionID,
		t.FailureReason,
		t.CreatedAt,
		t.UpdatedAt,
	).Scan(&t.ID)
	if err != nil {
		return fmt.Errorf("failed to create fiat transaction: %w", translate(err))
	}
	return nil
}

func (r *FiatTransactionRepository) GetFiatTransactionByID(ctx context.Context, q repository.DBExecutor, id int64) (*domain.FiatTransaction, error) {
	var t domain.FiatTransaction
	query := `SELECT ` + fiatTransactionColumns + ` FROM fiat_transactions WHERE id = $1`
	if err := q.GetContext(ctx, &t, query, id); err != nil {
		return nil, fmt.Errorf("failed to get fiat transaction %d: %w", id, translate(err))
	}
	return &t, nil
}

// CompleteFiatTransaction records the balance snapshot; it only matches pending rows.
func (r *FiatTransactionRepository) CompleteFiatTransaction(ctx context.Context, q repository.DBExecutor, id int64, before, after decimal.Decimal) error {
	query := `UPDATE fiat_transactions
              SET status = $1, balance_before = $2, balance_after = $3, updated_at = $4
              WHERE id = $5 AND status = $6`
	res, err := q.ExecContext(ctx, query, domain.FiatTransactionCompleted, before, after, time.Now().UTC(), id, domain.FiatTransactionPending)
	if err != nil {
		return fmt.Errorf("failed to complete fiat transaction %d: %w", id, err)
	}
	if err := expectOne(res); err != nil {
		return fmt.Errorf("failed to complete fiat transaction %d: %w", id, err)
	}
	return nil
}

func (r *FiatTransactionRepository) FailFiatTransaction(ctx context.Context, q repository.DBExecutor, id int64, reason string) error {
	query := `UPDATE fiat_transactions SET status = $1, failure_reason = $2, updated_at = $3
              WHERE id = $4 AND status = $5`
	res, err := q.ExecContext(ctx, query, domain.FiatTransactionFailed, reason, time.Now().UTC(), id, domain.FiatTransactionPending)
	if err != nil {
		return fmt.Errorf("failed to fail fiat transaction %d: %w", id, err)
	}
	if err := expectOne(res); err != nil {
		return fmt.Errorf("failed to fail fiat transaction %d: %w", id, err)
	}
	return nil
}

// ListFiatTransactionsByWallet retrieves a paginated list of transactions for a specific wallet.
// It performs two queries: one for the data and one for the total count.
func (r *FiatTransactionRepository) ListFiatTransactionsByWallet(ctx context.Context, q repository.DBExecutor, walletID int64, limit, offset int) ([]domain.FiatTransaction, int64, error) {
	transactions := []domain.FiatTransaction{}
	query := `SELECT ` + fiatTransactionColumns + ` FROM fiat_transactions
              WHERE wallet_id = $1
              ORDER BY created_at DESC, id DESC
              LIMIT $2 OFFSET $3`
	if err := q.SelectContext(ctx, &transactions, query, walletID, limit, offset); err != nil {
		return nil, 0, fmt.Errorf("failed to fetch transactions for wallet %d: %w", walletID, err)
	}

	var totalCount int64
	countQuery := `SELECT COUNT(*) FROM fiat_transactions WHERE wallet_id = $1`
	if err := q.GetContext(ctx, &totalCount, countQuery, walletID); err != nil {
		return nil, 0, fmt.Errorf("failed to get total transaction count for wallet %d: %w", walletID, err)
	}

	return transactions, totalCount, nil
}

func (r *FiatTransactionRepository) ListRefundsFor(ctx context.Context, q repository.DBExecutor, relatedID int64) ([]domain.FiatTransaction, error) {
	refunds := []domain.FiatTransaction{}
	query := `SELECT ` + fiatTransactionColumns + ` FROM fiat_transactions
              WHERE related_transaction_id = $1 AND type = $2 ORDER BY id`
	if err := q.SelectContext(ctx, &refunds, query, relatedID, domain.FiatTransactionRefund); err != nil {
		return nil, fmt.Errorf("failed to list refunds for transaction %d: %w", relatedID, err)
	}
	return refunds, nil
}
