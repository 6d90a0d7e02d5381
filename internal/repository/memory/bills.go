package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"custody-ledger/internal/domain"
	"custody-ledger/internal/repository"
	"custody-ledger/internal/util"
)

// BillPaymentRepository implements repository.BillPaymentRepository over a Store.
type BillPaymentRepository struct{ store *Store }

func NewBillPaymentRepository(s *Store) repository.BillPaymentRepository {
	return &BillPaymentRepository{store: s}
}

func (r *BillPaymentRepository) CreateBillPayment(ctx context.Context, q repository.DBExecutor, bp *domain.BillPayment) error {
	return r.store.with(ctx, q, func(st *state) error {
		for _, existing := range st.bills {
			if existing.OutOrderNo == bp.OutOrderNo {
				return fmt.Errorf("failed to create bill payment: %w", util.ErrDuplicateEntry)
			}
		}
		bp.ID = st.id()
		st.bills[bp.ID] = *bp
		return nil
	})
}

func (r *BillPaymentRepository) GetBillPaymentByID(ctx context.Context, q repository.DBExecutor, id int64) (*domain.BillPayment, error) {
	var out domain.BillPayment
	err := r.store.with(ctx, q, func(st *state) error {
		bp, ok := st.bills[id]
		if !ok {
			return fmt.Errorf("failed to get bill payment %d: %w", id, util.ErrNotFound)
		}
		out = bp
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *BillPaymentRepository) GetBillPaymentForUpdate(ctx context.Context, q repository.DBExecutor, id int64) (*domain.BillPayment, error) {
	return r.GetBillPaymentByID(ctx, q, id)
}

func (r *BillPaymentRepository) UpdateBillPayment(ctx context.Context, q repository.DBExecutor, bp *domain.BillPayment) error {
	bp.UpdatedAt = time.Now().UTC()
	return r.store.with(ctx, q, func(st *state) error {
		if _, ok := st.bills[bp.ID]; !ok {
			return fmt.Errorf("failed to update bill payment %d: %w", bp.ID, util.ErrNotFound)
		}
		st.bills[bp.ID] = *bp
		return nil
	})
}

// SettlementFailureRepository implements repository.SettlementFailureRepository over a Store.
type SettlementFailureRepository struct{ store *Store }

func NewSettlementFailureRepository(s *Store) repository.SettlementFailureRepository {
	return &SettlementFailureRepository{store: s}
}

func (r *SettlementFailureRepository) CreateSettlementFailure(ctx context.Context, q repository.DBExecutor, f *domain.SettlementFailure) error {
	return r.store.with(ctx, q, func(st *state) error {
		for _, existing := range st.failures {
			if existing.Reference == f.Reference && existing.Stage == f.Stage {
				return fmt.Errorf("failed to record settlement failure for %s: %w", f.Reference, util.ErrDuplicateEntry)
			}
		}
		f.ID = st.id()
		st.failures[f.ID] = *f
		return nil
	})
}

func (r *SettlementFailureRepository) ClaimDueSettlementFailures(ctx context.Context, q repository.DBExecutor, now time.Time, lease time.Duration, limit int) ([]domain.SettlementFailure, error) {
	claimed := []domain.SettlementFailure{}
	err := r.store.with(ctx, q, func(st *state) error {
		for _, f := range st.failures {
			claimable := f.Status == domain.FailurePending || f.Status == domain.FailureProcessing
			if claimable && !f.NextAttemptAt.After(now) {
				claimed = append(claimed, f)
			}
		}
		sort.Slice(claimed, func(i, j int) bool { return claimed[i].NextAttemptAt.Before(claimed[j].NextAttemptAt) })
		if limit > 0 && len(claimed) > limit {
			claimed = claimed[:limit]
		}
		for i := range claimed {
			claimed[i].Status = domain.FailureProcessing
			claimed[i].NextAttemptAt = now.Add(lease)
			claimed[i].UpdatedAt = now
			st.failures[claimed[i].ID] = claimed[i]
		}
		return nil
	})
	return claimed, err
}

func (r *SettlementFailureRepository) UpdateSettlementFailure(ctx context.Context, q repository.DBExecutor, f *domain.SettlementFailure) error {
	f.UpdatedAt = time.Now().UTC()
	return r.store.with(ctx, q, func(st *state) error {
		existing, ok := st.failures[f.ID]
		if !ok {
			return fmt.Errorf("failed to update settlement failure %d: %w", f.ID, util.ErrNotFound)
		}
		existing.Status = f.Status
		existing.Attempts = f.Attempts
		existing.NextAttemptAt = f.NextAttemptAt
		existing.LastError = f.LastError
		existing.ExternalRefs = f.ExternalRefs
		existing.UpdatedAt = f.UpdatedAt
		st.failures[f.ID] = existing
		return nil
	})
}

func (r *SettlementFailureRepository) GetSettlementFailureByID(ctx context.Context, q repository.DBExecutor, id int64) (*domain.SettlementFailure, error) {
	var out domain.SettlementFailure
	err := r.store.with(ctx, q, func(st *state) error {
		f, ok := st.failures[id]
		if !ok {
			return fmt.Errorf("failed to get settlement failure %d: %w", id, util.ErrNotFound)
		}
		out = f
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *SettlementFailureRepository) ListSettlementFailures(ctx context.Context, q repository.DBExecutor, status domain.SettlementFailureStatus, limit int) ([]domain.SettlementFailure, error) {
	failures := []domain.SettlementFailure{}
	err := r.store.with(ctx, q, func(st *state) error {
		for _, f := range st.failures {
			if f.Status == status {
				failures = append(failures, f)
			}
		}
		return nil
	})
	sort.Slice(failures, func(i, j int) bool { return failures[i].ID < failures[j].ID })
	if limit > 0 && len(failures) > limit {
		failures = failures[:limit]
	}
	return failures, err
}

func (r *SettlementFailureRepository) CountSettlementFailures(ctx context.Context, q repository.DBExecutor, status domain.SettlementFailureStatus) (int64, error) {
	var n int64
	err := r.store.with(ctx, q, func(st *state) error {
		for _, f := range st.failures {
			if f.Status == status {
				n++
			}
		}
		return nil
	})
	return n, err
}
