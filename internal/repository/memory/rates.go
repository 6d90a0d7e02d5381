package memory

import (
	"context"
	"fmt"
	"sort"

	"custody-ledger/internal/domain"
	"custody-ledger/internal/repository"
	"custody-ledger/internal/util"
)

// RateRepository implements repository.RateRepository over a Store.
type RateRepository struct{ store *Store }

func NewRateRepository(s *Store) repository.RateRepository { return &RateRepository{store: s} }

// LockRateType is a no-op: the transaction already owns the store.
func (r *RateRepository) LockRateType(context.Context, repository.DBExecutor, domain.TransactionType) error {
	return nil
}

func (r *RateRepository) ListActiveRates(ctx context.Context, q repository.DBExecutor, txType domain.TransactionType) ([]domain.CryptoRate, error) {
	return r.list(ctx, q, func(rate domain.CryptoRate) bool { return rate.IsActive && rate.TransactionType == txType })
}

func (r *RateRepository) ListRates(ctx context.Context, q repository.DBExecutor, txType domain.TransactionType) ([]domain.CryptoRate, error) {
	return r.list(ctx, q, func(rate domain.CryptoRate) bool { return txType == "" || rate.TransactionType == txType })
}

func (r *RateRepository) list(ctx context.Context, q repository.DBExecutor, match func(domain.CryptoRate) bool) ([]domain.CryptoRate, error) {
	rates := []domain.CryptoRate{}
	err := r.store.with(ctx, q, func(st *state) error {
		for _, rate := range st.rates {
			if match(rate) {
				rates = append(rates, rate)
			}
		}
		return nil
	})
	sort.Slice(rates, func(i, j int) bool {
		if !rates[i].MinAmount.Equal(rates[j].MinAmount) {
			return rates[i].MinAmount.LessThan(rates[j].MinAmount)
		}
		return rates[i].ID < rates[j].ID
	})
	return rates, err
}

func (r *RateRepository) GetRateByID(ctx context.Context, q repository.DBExecutor, id int64) (*domain.CryptoRate, error) {
	var out domain.CryptoRate
	err := r.store.with(ctx, q, func(st *state) error {
		rate, ok := st.rates[id]
		if !ok {
			return fmt.Errorf("failed to get rate %d: %w", id, util.ErrNotFound)
		}
		out = rate
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *RateRepository) CreateRate(ctx context.Context, q repository.DBExecutor, rate *domain.CryptoRate) error {
	return r.store.with(ctx, q, func(st *state) error {
		rate.ID = st.id()
		st.rates[rate.ID] = *rate
		return nil
	})
}

func (r *RateRepository) UpdateRate(ctx context.Context, q repository.DBExecutor, rate *domain.CryptoRate) error {
	return r.store.with(ctx, q, func(st *state) error {
		existing, ok := st.rates[rate.ID]
		if !ok {
			return fmt.Errorf("failed to update rate %d: %w", rate.ID, util.ErrNotFound)
		}
		existing.MinAmount = rate.MinAmount
		existing.MaxAmount = rate.MaxAmount
		existing.Rate = rate.Rate
		existing.IsActive = rate.IsActive
		existing.UpdatedBy = rate.UpdatedBy
		existing.UpdatedAt = rate.UpdatedAt
		st.rates[rate.ID] = existing
		return nil
	})
}

func (r *RateRepository) CreateRateHistory(ctx context.Context, q repository.DBExecutor, h *domain.CryptoRateHistory) error {
	return r.store.with(ctx, q, func(st *state) error {
		if _, ok := st.rates[h.RateID]; !ok {
			return fmt.Errorf("failed to record rate history for rate %d: %w", h.RateID, util.ErrNotFound)
		}
		h.ID = st.id()
		st.rateHistory = append(st.rateHistory, *h)
		return nil
	})
}

func (r *RateRepository) ListRateHistory(ctx context.Context, q repository.DBExecutor, rateID int64) ([]domain.CryptoRateHistory, error) {
	history := []domain.CryptoRateHistory{}
	err := r.store.with(ctx, q, func(st *state) error {
		for _, h := range st.rateHistory {
			if h.RateID == rateID {
				history = append(history, h)
			}
		}
		return nil
	})
	return history, err
}
