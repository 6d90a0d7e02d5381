// internal/pricing/source.go
package pricing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"custody-ledger/internal/repository"
	"custody-ledger/internal/util"

	"github.com/shopspring/decimal"
)

// Source serves USD prices from the cache, falling back to the stored currency price.
type Source struct {
	dbExecutor repository.DBExecutor
	accounts   repository.VirtualAccountRepository
	cache      Cache
	ttl        time.Duration
	logger     *slog.Logger
}

func NewSource(dbExecutor repository.DBExecutor, accounts repository.VirtualAccountRepository, cache Cache, ttl time.Duration, logger *slog.Logger) *Source {
	if cache == nil {
		cache = NoCache{}
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Source{dbExecutor: dbExecutor, accounts: accounts, cache: cache, ttl: ttl, logger: logger}
}

func cacheKey(currency, blockchain string) string {
	return strings.ToUpper(currency) + ":" + strings.ToLower(blockchain)
}

// USDPrice returns the current USD price of currency on blockchain.
func (s *Source) USDPrice(ctx context.Context, currency, blockchain string) (decimal.Decimal, error) {
	key := cacheKey(currency, blockchain)
	price, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		s.logger.Warn("Price cache read failed", "key", key, "error", err)
	} else if ok && price.IsPositive() {
		return price, nil
	}

	asset, err := s.accounts.GetWalletCurrency(ctx, s.dbExecutor, currency, blockchain)
	if err != nil {
		if errors.Is(err, util.ErrNotFound) {
			return decimal.Zero, util.Invalid("no price for %s on %s", currency, blockchain)
		}
		return decimal.Zero, fmt.Errorf("load price: %w", err)
	}
	if asset.Price.IsPositive() {
		if err := s.cache.Set(ctx, key, asset.Price, s.ttl); err != nil {
			s.logger.Warn("Price cache write failed", "key", key, "error", err)
		}
	}
	return asset.Price, nil
}

// SetPrice records a fresh price from an out-of-band feed.
func (s *Source) SetPrice(ctx context.Context, currency, blockchain string, price decimal.Decimal) error {
	if !price.IsPositive() {
		return util.Invalid("price must be positive")
	}
	if err := s.accounts.UpdateWalletCurrencyPrice(ctx, s.dbExecutor, currency, blockchain, price); err != nil {
		return fmt.Errorf("set price: %w", err)
	}
	if err := s.cache.Set(ctx, cacheKey(currency, blockchain), price, s.ttl); err != nil {
		s.logger.Warn("Price cache write failed", "currency", currency, "blockchain", blockchain, "error", err)
	}
	s.logger.Info("Price updated", "currency", currency, "blockchain", blockchain, "price", price)
	return nil
}
