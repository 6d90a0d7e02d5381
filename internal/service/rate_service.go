// internal/service/rate_service.go
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"custody-ledger/internal/domain"
	"custody-ledger/internal/repository"
	"custody-ledger/internal/util"

	"github.com/shopspring/decimal"
)

// RateInput is an administrative create/update request for a tier.
type RateInput struct {
	TransactionType domain.TransactionType
	MinAmount       decimal.Decimal
	MaxAmount       decimal.NullDecimal
	Rate            decimal.Decimal
}

// RateService resolves and administers tiered currency-per-USD rates.
type RateService interface {
	// GetRateForAmount returns the active tier covering usd, or util.ErrRateNotConfigured.
	GetRateForAmount(ctx context.Context, txType domain.TransactionType, usd decimal.Decimal) (*domain.CryptoRate, error)
	CreateRate(ctx context.Context, in RateInput, actorID int64) (*domain.CryptoRate, error)
	UpdateRate(ctx context.Context, id int64, in RateInput, actorID int64) (*domain.CryptoRate, error)
	// DeleteRate deactivates a tier. The row stays resolvable through GetRate.
	DeleteRate(ctx context.Context, id int64, actorID int64) error
	GetRate(ctx context.Context, id int64) (*domain.CryptoRate, error)
	ListRates(ctx context.Context, txType domain.TransactionType) ([]domain.CryptoRate, error)
	RateHistory(ctx context.Context, id int64) ([]domain.CryptoRateHistory, error)
}

type rateService struct {
	dbExecutor repository.DBExecutor
	rates      repository.RateRepository
	uow        UnitOfWork
	logger     *slog.Logger
}

// NewRateService creates a new instance of RateService.
func NewRateService(dbExecutor repository.DBExecutor, rates repository.RateRepository, uow UnitOfWork, logger *slog.Logger) RateService {
	return &rateService{dbExecutor: dbExecutor, rates: rates, uow: uow, logger: logger}
}

func (s *rateService) GetRateForAmount(ctx context.Context, txType domain.TransactionType, usd decimal.Decimal) (*domain.CryptoRate, error) {
	if !txType.Valid() {
		return nil, util.Invalid("unknown transaction type %q", txType)
	}
	if usd.IsNegative() {
		return nil, util.Invalid("usd amount must not be negative")
	}
	tiers, err := s.rates.ListActiveRates(ctx, s.dbExecutor, txType)
	if err != nil {
		return nil, fmt.Errorf("get rate for amount: %w", err)
	}
	tier := selectTier(tiers, usd)
	if tier == nil {
		return nil, fmt.Errorf("%w: %s at %s USD", util.ErrRateNotConfigured, txType, usd)
	}
	return tier, nil
}

// selectTier picks the covering tier with the highest MinAmount. It returns nil
// when no tier covers usd.
func selectTier(tiers []domain.CryptoRate, usd decimal.Decimal) *domain.CryptoRate {
	var best *domain.CryptoRate
	for i := range tiers {
		t := &tiers[i]
		if !t.IsActive || !t.Covers(usd) {
			continue
		}
		if best == nil || t.MinAmount.GreaterThan(best.MinAmount) {
			best = t
		}
	}
	if best == nil {
		return nil
	}
	out := *best
	return &out
}

func validateRateInput(in RateInput) error {
	if !in.TransactionType.Valid() {
		return util.Invalid("unknown transaction type %q", in.TransactionType)
	}
	if in.MinAmount.IsNegative() {
		return util.Invalid("min amount must not be negative")
	}
	if in.MaxAmount.Valid && !in.MaxAmount.Decimal.GreaterThan(in.MinAmount) {
		return util.Invalid("max amount must be greater than min amount")
	}
	if !in.Rate.IsPositive() {
		return util.Invalid("rate must be positive")
	}
	return nil
}

// checkOverlap rejects candidate if it intersects any active tier other than itself.
func checkOverlap(active []domain.CryptoRate, candidate *domain.CryptoRate) error {
	for i := range active {
		other := &active[i]
		if other.ID == candidate.ID {
			continue
		}
		if candidate.Overlaps(other) {
			return fmt.Errorf("%w: tier %d covers [%s, %s)", util.ErrRateOverlap, other.ID, other.MinAmount, maxLabel(other.MaxAmount))
		}
	}
	return nil
}

func maxLabel(d decimal.NullDecimal) string {
	if !d.Valid {
		return "inf"
	}
	return d.Decimal.String()
}

func (s *rateService) CreateRate(ctx context.Context, in RateInput, actorID int64) (*domain.CryptoRate, error) {
	if err := validateRateInput(in); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	rate := &domain.CryptoRate{
		TransactionType: in.TransactionType,
		MinAmount:       in.MinAmount,
		MaxAmount:       in.MaxAmount,
		Rate:            in.Rate,
		IsActive:        true,
		CreatedBy:       actorID,
		UpdatedBy:       actorID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	err := s.uow.run(ctx, "create rate", func(ctx context.Context, q repository.DBExecutor) error {
		if err := s.rates.LockRateType(ctx, q, in.TransactionType); err != nil {
			return err
		}
		active, err := s.rates.ListActiveRates(ctx, q, in.TransactionType)
		if err != nil {
			return err
		}
		if err := checkOverlap(active, rate); err != nil {
			return err
		}
		if err := s.rates.CreateRate(ctx, q, rate); err != nil {
			return err
		}
		return s.rates.CreateRateHistory(ctx, q, &domain.CryptoRateHistory{
			RateID:          rate.ID,
			TransactionType: rate.TransactionType,
			NewRate:         rate.Rate,
			Action:          domain.RateActionCreate,
			ActorID:         actorID,
			CreatedAt:       now,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("create rate: %w", err)
	}

	s.logger.Info("Rate tier created", "rate_id", rate.ID, "transaction_type", rate.TransactionType,
		"min", rate.MinAmount, "max", maxLabel(rate.MaxAmount), "rate", rate.Rate, "actor_id", actorID)
	return rate, nil
}

func (s *rateService) UpdateRate(ctx context.Context, id int64, in RateInput, actorID int64) (*domain.CryptoRate, error) {
	if err := validateRateInput(in); err != nil {
		return nil, err
	}
	var updated *domain.CryptoRate
	err := s.uow.run(ctx, "update rate", func(ctx context.Context, q repository.DBExecutor) error {
		if err := s.rates.LockRateType(ctx, q, in.TransactionType); err != nil {
			return err
		}
		rate, err := s.rates.GetRateByID(ctx, q, id)
		if err != nil {
			return err
		}
		if rate.TransactionType != in.TransactionType {
			return util.Invalid("transaction type of a tier cannot change")
		}
		oldRate := rate.Rate
		rate.MinAmount = in.MinAmount
		rate.MaxAmount = in.MaxAmount
		rate.Rate = in.Rate
		rate.UpdatedBy = actorID
		rate.UpdatedAt = time.Now().UTC()

		if rate.IsActive {
			active, err := s.rates.ListActiveRates(ctx, q, rate.TransactionType)
			if err != nil {
				return err
			}
			if err := checkOverlap(active, rate); err != nil {
				return err
			}
		}
		if err := s.rates.UpdateRate(ctx, q, rate); err != nil {
			return err
		}
		if err := s.rates.CreateRateHistory(ctx, q, &domain.CryptoRateHistory{
			RateID:          rate.ID,
			TransactionType: rate.TransactionType,
			OldRate:         decimal.NewNullDecimal(oldRate),
			NewRate:         rate.Rate,
			Action:          domain.RateActionUpdate,
			ActorID:         actorID,
			CreatedAt:       rate.UpdatedAt,
		}); err != nil {
			return err
		}
		updated = rate
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("update rate %d: %w", id, err)
	}

	s.logger.Info("Rate tier updated", "rate_id", id, "rate", updated.Rate, "actor_id", actorID)
	return updated, nil
}

func (s *rateService) DeleteRate(ctx context.Context, id int64, actorID int64) error {
	err := s.uow.run(ctx, "delete rate", func(ctx context.Context, q repository.DBExecutor) error {
		rate, err := s.rates.GetRateByID(ctx, q, id)
		if err != nil {
			return err
		}
		if !rate.IsActive {
			return nil
		}
		rate.IsActive = false
		rate.UpdatedBy = actorID
		rate.UpdatedAt = time.Now().UTC()
		if err := s.rates.UpdateRate(ctx, q, rate); err != nil {
			return err
		}
		return s.rates.CreateRateHistory(ctx, q, &domain.CryptoRateHistory{
			RateID:          rate.ID,
			TransactionType: rate.TransactionType,
			OldRate:         decimal.NewNullDecimal(rate.Rate),
			NewRate:         rate.Rate,
			Action:          domain.RateActionDeactivate,
			ActorID:         actorID,
			CreatedAt:       rate.UpdatedAt,
		})
	})
	if err != nil {
		return fmt.Errorf("delete rate %d: %w", id, err)
	}
	s.logger.Info("Rate tier deactivated", "rate_id", id, "actor_id", actorID)
	return nil
}

func (s *rateService) GetRate(ctx context.Context, id int64) (*domain.CryptoRate, error) {
	rate, err := s.rates.GetRateByID(ctx, s.dbExecutor, id)
	if err != nil {
		return nil, fmt.Errorf("get rate %d: %w", id, err)
	}
	return rate, nil
}

func (s *rateService) ListRates(ctx context.Context, txType domain.TransactionType) ([]domain.CryptoRate, error) {
	if txType != "" && !txType.Valid() {
		return nil, util.Invalid("unknown transaction type %q", txType)
	}
	return s.rates.ListRates(ctx, s.dbExecutor, txType)
}

func (s *rateService) RateHistory(ctx context.Context, id int64) ([]domain.CryptoRateHistory, error) {
	if _, err := s.rates.GetRateByID(ctx, s.dbExecutor, id); err != nil {
		return nil, fmt.Errorf("rate history %d: %w", id, err)
	}
	return s.rates.ListRateHistory(ctx, s.dbExecutor, id)
}

// optionalRate resolves a tier for informational conversions. A missing tier yields nil.
func optionalRate(ctx context.Context, rates RateService, txType domain.TransactionType, usd decimal.Decimal) (*domain.CryptoRate, error) {
	rate, err := rates.GetRateForAmount(ctx, txType, usd)
	if errors.Is(err, util.ErrRateNotConfigured) {
		return nil, nil
	}
	return rate, err
}
