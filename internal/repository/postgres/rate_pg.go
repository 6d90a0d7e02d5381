// internal/repository/postgres/rate_pg.go
package postgres

import (
	"context"
	"fmt"
	"hash/fnv"

	"custody-ledger/internal/domain"
	"custody-ledger/internal/repository"
)

const rateColumns = `id, transaction_type, min_amount, max_amount, rate, is_active, created_by, updated_by, created_at, updated_at`

// RateRepository implements repository.RateRepository for PostgreSQL.
type RateRepository struct{}

// NewRateRepository creates a new RateRepository.
func NewRateRepository() repository.RateRepository {
	return &RateRepository{}
}

// LockRateType takes a transaction-scoped advisory lock keyed by the transaction class,
// so concurrent tier mutations for one class cannot both pass the overlap check.
func (r *RateRepository) LockRateType(ctx context.Context, q repository.DBExecutor, txType domain.TransactionType) error {
	h := fnv.New64a()
	_, _ = h.Write([]byte("crypto_rates:" + string(txType)))
	if _, err := q.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(h.Sum64())); err != nil {
		return fmt.Errorf("failed to lock rate tiers for %s: %w", txType, err)
	}
	return nil
}

func (r *RateRepository) ListActiveRates(ctx context.Context, q repository.DBExecutor, txType domain.TransactionType) ([]domain.CryptoRate, error) {
	rates := []domain.CryptoRate{}
	query := `SELECT ` + rateColumns + ` FROM crypto_rates WHERE transaction_type = $1 AND is_active ORDER BY min_amount`
	if err := q.SelectContext(ctx, &rates, query, txType); err != nil {
		return nil, fmt.Errorf("failed to list active %s rates: %w", txType, err)
	}
	return rates, nil
}

func (r *RateRepository) ListRates(ctx context.Context, q repository.DBExecutor, txType domain.TransactionType) ([]domain.CryptoRate, error) {
	rates := []domain.CryptoRate{}
	var err error
	if txType == "" {
		err = q.SelectContext(ctx, &rates, `SELECT `+rateColumns+` FROM crypto_rates ORDER BY transaction_type, min_amount, id`)
	} else {
		err = q.SelectContext(ctx, &rates, `SELECT `+rateColumns+` FROM crypto_rates WHERE transaction_type = $1 ORDER BY min_amount, id`, txType)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list rates: %w", err)
	}
	return rates, nil
}

func (r *RateRepository) GetRateByID(ctx context.Context, q repository.DBExecutor, id int64) (*domain.CryptoRate, error) {
	var rate domain.CryptoRate
	if err := q.GetContext(ctx, &rate, `SELECT `+rateColumns+` FROM crypto_rates WHERE id = $1`, id); err != nil {
		return nil, fmt.Errorf("failed to get rate %d: %w", id, translate(err))
	}
	return &rate, nil
}

func (r *RateRepository) CreateRate(ctx context.Context, q repository.DBExecutor, rate *domain.CryptoRate) error {
	query := `INSERT INTO crypto_rates (transaction_type, min_amount, max_amount, rate, is_active, created_by, updated_by,
                created_at, updated_at)
              VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id`
	err := q.QueryRowContext(ctx, query, rate.TransactionType, rate.MinAmount, rate.MaxAmount, rate.Rate, rate.IsActive,
		rate.CreatedBy, rate.UpdatedBy, rate.CreatedAt, rate.UpdatedAt).Scan(&rate.ID)
	if err != nil {
		return fmt.Errorf("failed to create rate: %w", translate(err))
	}
	return nil
}

func (r *RateRepository) UpdateRate(ctx context.Context, q repository.DBExecutor, rate *domain.CryptoRate) error {
	query := `UPDATE crypto_rates SET min_amount = $1, max_amount = $2, rate = $3, is_active = $4, updated_by = $5, updated_at = $6
              WHERE id = $7`
	res, err := q.ExecContext(ctx, query, rate.MinAmount, rate.MaxAmount, rate.Rate, rate.IsActive, rate.UpdatedBy, rate.UpdatedAt, rate.ID)
	if err != nil {
		return fmt.Errorf("failed to update rate %d: %w", rate.ID, err)
	}
	if err := expectOne(res); err != nil {
		return fmt.Errorf("failed to update rate %d: %w", rate.ID, err)
	}
	return nil
}

func (r *RateRepository) CreateRateHistory(ctx context.Context, q repository.DBExecutor, h *domain.CryptoRateHistory) error {
	query := `INSERT INTO crypto_rate_histories (rate_id, transaction_type, old_rate, new_rate, action, actor_id, created_at)
              VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`
	err := q.QueryRowContext(ctx, query, h.RateID, h.TransactionType, h.OldRate, h.NewRate, h.Action, h.ActorID, h.CreatedAt).Scan(&h.ID)
	if err != nil {
		return fmt.Errorf("failed to record rate history for rate %d: %w", h.RateID, err)
	}
	return nil
}

func (r *RateRepository) ListRateHistory(ctx context.Context, q repository.DBExecutor, rateID int64) ([]domain.CryptoRateHistory, error) {
	history := []domain.CryptoRateHistory{}
	query := `SELECT id, rate_id, transaction_type, old_rate, new_rate, action, actor_id, created_at
              FROM crypto_rate_histories WHERE rate_id = $1 ORDER BY created_at, id`
	if err := q.SelectContext(ctx, &history, query, rateID); err != nil {
		return nil, fmt.Errorf("failed to list history for rate %d: %w", rateID, err)
	}
	return history, nil
}
