// internal/domain/money.go
package domain

import "github.com/shopspring/decimal"

// Rounding rules applied at every conversion boundary.
const (
	FiatScale = 2
	USDScale  = 8
)

// FiatCurrency is the local currency rate tiers are quoted in (currency per USD).
const FiatCurrency = "NGN"

// RoundFiat rounds a local-currency amount half away from zero to kobo.
func RoundFiat(d decimal.Decimal) decimal.Decimal {
	return d.Round(FiatScale)
}

// RoundUSD rounds a USD notional to USDScale places.
func RoundUSD(d decimal.Decimal) decimal.Decimal {
	return d.Round(USDScale)
}

// TruncateCrypto drops precision beyond the asset's decimals. Amounts credited to
// a user are truncated so the ledger never credits more than was priced.
func TruncateCrypto(d decimal.Decimal, decimals int32) decimal.Decimal {
	return d.Truncate(decimals)
}

// CeilCrypto rounds a charged crypto fee up to the asset's decimals.
func CeilCrypto(d decimal.Decimal, decimals int32) decimal.Decimal {
	return d.RoundUp(decimals)
}

// USDValue prices an asset amount in USD.
func USDValue(amount, usdPrice decimal.Decimal) decimal.Decimal {
	return RoundUSD(amount.Mul(usdPrice))
}

// FiatValue converts a USD notional to local currency at a currency-per-USD rate.
func FiatValue(usd, rate decimal.Decimal) decimal.Decimal {
	return RoundFiat(usd.Mul(rate))
}
