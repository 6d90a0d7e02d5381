// internal/repository/settlement_failure_repo.go
package repository

import (
	"context"
	"time"

	"custody-ledger/internal/domain"
)

// SettlementFailureRepository is the outbox of partially settled operations.
type SettlementFailureRepository interface {
	// CreateSettlementFailure inserts a row; a second row for the same reference and
	// stage yields util.ErrDuplicateEntry.
	CreateSettlementFailure(ctx context.Context, q DBExecutor, f *domain.SettlementFailure) error
	// ClaimDueSettlementFailures moves up to limit rows due at or before now to processing
	// and pushes their next attempt out by lease, so a row whose worker died is picked up
	// again once the lease lapses. Rows claimed by another worker are skipped.
	ClaimDueSettlementFailures(ctx context.Context, q DBExecutor, now time.Time, lease time.Duration, limit int) ([]domain.SettlementFailure, error)
	UpdateSettlementFailure(ctx context.Context, q DBExecutor, f *domain.SettlementFailure) error
	GetSettlementFailureByID(ctx context.Context, q DBExecutor, id int64) (*domain.SettlementFailure, error)
	ListSettlementFailures(ctx context.Context, q DBExecutor, status domain.SettlementFailureStatus, limit int) ([]domain.SettlementFailure, error)
	CountSettlementFailures(ctx context.Context, q DBExecutor, status domain.SettlementFailureStatus) (int64, error)
}
