// internal/service/quote.go
package service

import (
	"custody-ledger/internal/domain"

	"github.com/shopspring/decimal"
)

// Pure conversion math shared by previews and execution. Every crossing between
// crypto, USD and local currency goes through the rounding helpers in domain.

// fiatCost prices amount of an asset in local currency: amount*price rounded to USD
// precision, then times rate rounded to kobo.
func fiatCost(amount, usdPrice, rate decimal.Decimal) (usd, fiat decimal.Decimal) {
	usd = domain.USDValue(amount, usdPrice)
	return usd, domain.FiatValue(usd, rate)
}

// feeInFiat converts a native-currency network fee to local currency, rounding up
// so the platform never under-charges a fee.
func feeInFiat(feeNative, nativeUSDPrice, rate decimal.Decimal) decimal.Decimal {
	if !feeNative.IsPositive() {
		return decimal.Zero
	}
	return domain.USDValue(feeNative, nativeUSDPrice).Mul(rate).RoundUp(domain.FiatScale)
}

// sellPayout is gross minus fee. ok is false when nothing would be paid out.
func sellPayout(gross, feeFiat decimal.Decimal) (payout decimal.Decimal, ok bool) {
	payout = gross.Sub(feeFiat)
	return payout, payout.IsPositive()
}

// convertAsset converts amount of one asset into another through USD. The target
// amount is truncated so the ledger never credits more than was priced.
func convertAsset(amount, fromPrice, toPrice decimal.Decimal, toDecimals int32) (usd, toAmount decimal.Decimal) {
	usd = domain.USDValue(amount, fromPrice)
	if !toPrice.IsPositive() {
		return usd, decimal.Zero
	}
	return usd, domain.TruncateCrypto(usd.Div(toPrice), toDecimals)
}

// feeInAsset expresses a native-currency fee in another asset of the same chain,
// rounded up to the asset's precision.
func feeInAsset(feeNative, nativeUSDPrice, assetUSDPrice decimal.Decimal, decimals int32) decimal.Decimal {
	if !feeNative.IsPositive() || !assetUSDPrice.IsPositive() {
		return decimal.Zero
	}
	return domain.CeilCrypto(feeNative.Mul(nativeUSDPrice).Div(assetUSDPrice), decimals)
}

// blockers collects the preconditions a quote fails. Execution returns the first.
type blockers []error

func (b *blockers) add(err error) {
	*b = append(*b, err)
}

func (b blockers) reasons() []string {
	out := make([]string, 0, len(b))
	for _, err := range b {
		out = append(out, err.Error())
	}
	return out
}

func (b blockers) first() error {
	if len(b) == 0 {
		return nil
	}
	return b[0]
}
