// internal/repository/rate_repo.go
package repository

import (
	"context"

	"custody-ledger/internal/domain"
)

// RateRepository defines the interface for rate tiers and their history.
type RateRepository interface {
	// LockRateType serializes tier mutations for one transaction class until the transaction ends.
	LockRateType(ctx context.Context, q DBExecutor, txType domain.TransactionType) error
	ListActiveRates(ctx context.Context, q DBExecutor, txType domain.TransactionType) ([]domain.CryptoRate, error)
	// ListRates returns all tiers, inactive included, optionally narrowed to one class.
	ListRates(ctx context.Context, q DBExecutor, txType domain.TransactionType) ([]domain.CryptoRate, error)
	GetRateByID(ctx context.Context, q DBExecutor, id int64) (*domain.CryptoRate, error)
	CreateRate(ctx context.Context, q DBExecutor, rate *domain.CryptoRate) error
	UpdateRate(ctx context.Context, q DBExecutor, rate *domain.CryptoRate) error
	CreateRateHistory(ctx context.Context, q DBExecutor, h *domain.CryptoRateHistory) error
	ListRateHistory(ctx context.Context, q DBExecutor, rateID int64) ([]domain.CryptoRateHistory, error)
}
