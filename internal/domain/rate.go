// internal/domain/rate.go
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// CryptoRate is a tier mapping a USD notional range to a currency-per-USD rate
// for one transaction class. MaxAmount nil means the tier is open-ended.
type CryptoRate struct {
	ID              int64               `db:"id" json:"id"`
	TransactionType TransactionType     `db:"transaction_type" json:"transaction_type"`
	MinAmount       decimal.Decimal     `db:"min_amount" json:"min_amount"`
	MaxAmount       decimal.NullDecimal `db:"max_amount" json:"max_amount"`
	Rate            decimal.Decimal     `db:"rate" json:"rate"`
	IsActive        bool                `db:"is_active" json:"is_active"`
	CreatedBy       int64               `db:"created_by" json:"created_by"`
	UpdatedBy       int64               `db:"updated_by" json:"updated_by"`
	CreatedAt       time.Time           `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time           `db:"updated_at" json:"updated_at"`
}

// Covers reports whether usd falls inside the tier: min <= usd and (max is null or usd <= max).
func (r *CryptoRate) Covers(usd decimal.Decimal) bool {
	if usd.LessThan(r.MinAmount) {
		return false
	}
	return !r.MaxAmount.Valid || usd.LessThanOrEqual(r.MaxAmount.Decimal)
}

// Overlaps reports whether two tiers' [min, max) ranges intersect. A null max is +inf.
func (r *CryptoRate) Overlaps(o *CryptoRate) bool {
	// r.min < o.max && o.min < r.max
	if o.MaxAmount.Valid && !r.MinAmount.LessThan(o.MaxAmount.Decimal) {
		return false
	}
	if r.MaxAmount.Valid && !o.MinAmount.LessThan(r.MaxAmount.Decimal) {
		return false
	}
	return true
}

// CryptoRateHistory is the immutable audit row written on every rate mutation.
type CryptoRateHistory struct {
	ID              int64               `db:"id" json:"id"`
	RateID          int64               `db:"rate_id" json:"rate_id"`
	TransactionType TransactionType     `db:"transaction_type" json:"transaction_type"`
	OldRate         decimal.NullDecimal `db:"old_rate" json:"old_rate"`
	NewRate         decimal.Decimal     `db:"new_rate" json:"new_rate"`
	Action          string              `db:"action" json:"action"`
	ActorID         int64               `db:"actor_id" json:"actor_id"`
	CreatedAt       time.Time           `db:"created_at" json:"created_at"`
}

// Rate history actions.
const (
	RateActionCreate     = "create"
	RateActionUpdate     = "update"
	RateActionDeactivate = "deactivate"
)
