// internal/repository/postgres/settlement_failure_pg.go
package postgres

import (
	"context"
	"fmt"
	"time"

	"custody-ledger/internal/domain"
	"custody-ledger/internal/repository"
)

const settlementFailureColumns = `id, reference, operation, stage, status, user_id, attempts, max_attempts, next_attempt_at,
	last_error, payload, external_refs, created_at, updated_at`

// SettlementFailureRepository implements repository.SettlementFailureRepository for PostgreSQL.
type SettlementFailureRepository struct{}

// NewSettlementFailureRepository creates a new SettlementFailureRepository.
func NewSettlementFailureRepository() repository.SettlementFailureRepository {
	return &SettlementFailureRepository{}
}

func (r *SettlementFailureRepository) CreateSettlementFailure(ctx context.Context, q repository.DBExecutor, f *domain.SettlementFailure) error {
	query := `INSERT INTO settlement_failures (reference, operation, stage, status, user_id, attempts, max_attempts,
                next_attempt_at, last_error, payload, external_refs, created_at, updated_at)
              VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13) RETURNING id`
	err := q.QueryRowContext(ctx, query, f.Reference, f.Operation, f.Stage, f.Status, f.UserID, f.Attempts, f.MaxAttempts,
		f.NextAttemptAt, f.LastError, f.Payload, f.ExternalRefs, f.CreatedAt, f.UpdatedAt).Scan(&f.ID)
	if err != nil {
		return fmt.Errorf("failed to record settlement failure for %s: %w", f.Reference, translate(err))
	}
	return nil
}

// ClaimDueSettlementFailures uses SKIP LOCKED so concurrent workers never claim the same row.
func (r *SettlementFailureRepository) ClaimDueSettlementFailures(ctx context.Context, q repository.DBExecutor, now time.Time, lease time.Duration, limit int) ([]domain.SettlementFailure, error) {
	claimed := []domain.SettlementFailure{}
	query := `UPDATE settlement_failures SET status = $1, next_attempt_at = $2, updated_at = $3
              WHERE id IN (
                SELECT id FROM settlement_failures
                WHERE status IN ($4, $1) AND next_attempt_at <= $3
                ORDER BY next_attempt_at
                LIMIT $5
                FOR UPDATE SKIP LOCKED
              )
              RETURNING ` + settlementFailureColumns
	if err := q.SelectContext(ctx, &claimed, query, domain.FailureProcessing, now.Add(lease), now, domain.FailurePending, limit); err != nil {
		return nil, fmt.Errorf("failed to claim settlement failures: %w", err)
	}
	return claimed, nil
}

func (r *SettlementFailureRepository) UpdateSettlementFailure(ctx context.Context, q repository.DBExecutor, f *domain.SettlementFailure) error {
	f.UpdatedAt = time.Now().UTC()
	query := `UPDATE settlement_failures SET status = $1, attempts = $2, next_attempt_at = $3, last_error = $4,
                external_refs = $5, updated_at = $6
              WHERE id = $7`
	res, err := q.ExecContext(ctx, query, f.Status, f.Attempts, f.NextAttemptAt, f.LastError, f.ExternalRefs, f.UpdatedAt, f.ID)
	if err != nil {
		return fmt.Errorf("failed to update settlement failure %d: %w", f.ID, err)
	}
	if err := expectOne(res); err != nil {
		return fmt.Errorf("failed to update settlement failure %d: %w", f.ID, err)
	}
	return nil
}

func (r *SettlementFailureRepository) GetSettlementFailureByID(ctx context.Context, q repository.DBExecutor, id int64) (*domain.SettlementFailure, error) {
	var f domain.SettlementFailure
	if err := q.GetContext(ctx, &f, `SELECT `+settlementFailureColumns+` FROM settlement_failures WHERE id = $1`, id); err != nil {
		return nil, fmt.Errorf("failed to get settlement failure %d: %w", id, translate(err))
	}
	return &f, nil
}

func (r *SettlementFailureRepository) ListSettlementFailures(ctx context.Context, q repository.DBExecutor, status domain.SettlementFailureStatus, limit int) ([]domain.SettlementFailure, error) {
	failures := []domain.SettlementFailure{}
	query := `SELECT ` + settlementFailureColumns + ` FROM settlement_failures WHERE status = $1 ORDER BY created_at LIMIT $2`
	if err := q.SelectContext(ctx, &failures, query, status, limit); err != nil {
		return nil, fmt.Errorf("failed to list %s settlement failures: %w", status, err)
	}
	return failures, nil
}

func (r *SettlementFailureRepository) CountSettlementFailures(ctx context.Context, q repository.DBExecutor, status domain.SettlementFailureStatus) (int64, error) {
	var n int64
	if err := q.GetContext(ctx, &n, `SELECT COUNT(*) FROM settlement_failures WHERE status = $1`, status); err != nil {
		return 0, fmt.Errorf("failed to count %s settlement failures: %w", status, err)
	}
	return n, nil
}
