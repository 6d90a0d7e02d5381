// internal/domain/domain_test.go
package domain

import (
	"regexp"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestRounding(t *testing.T) {
	tests := []struct {
		name string
		got  decimal.Decimal
		want string
	}{
		{"fiat half up", RoundFiat(d("1.005")), "1.01"},
		{"fiat half away from zero", RoundFiat(d("-1.005")), "-1.01"},
		{"fiat down", RoundFiat(d("2.344")), "2.34"},
		{"usd", RoundUSD(d("0.123456789")), "0.12345679"},
		{"credit truncates", TruncateCrypto(d("0.123456789"), 8), "0.12345678"},
		{"fee rounds up", CeilCrypto(d("0.0000000001"), 8), "0.00000001"},
		{"usd value", USDValue(d("0.02"), d("2000")), "40"},
		{"fiat value", FiatValue(d("40"), d("1500")), "60000"},
		{"fiat value rounds", FiatValue(d("0.333333"), d("1500.5")), "500.17"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Truef(t, d(tt.want).Equal(tt.got), "want %s, got %s", tt.want, tt.got)
		})
	}
}

func TestNewReference(t *testing.T) {
	at := time.UnixMilli(1700000000000)
	ref := NewReference("BUY", 7, at)
	assert.Regexp(t, regexp.MustCompile(`^BUY-1700000000000-7-[0-9A-F]{10}$`), ref)
	assert.NotEqual(t, ref, NewReference("BUY", 7, at))
}

func TestRateTierBounds(t *testing.T) {
	bounded := &CryptoRate{MinAmount: d("10"), MaxAmount: decimal.NewNullDecimal(d("1000"))}
	open := &CryptoRate{MinAmount: d("1000")}

	assert.False(t, bounded.Covers(d("9.99")))
	assert.True(t, bounded.Covers(d("10")))
	assert.True(t, bounded.Covers(d("1000")))
	assert.False(t, bounded.Covers(d("1000.01")))
	assert.True(t, open.Covers(d("1000000")))

	// Ranges are half-open for overlap purposes, so adjacent tiers may coexist.
	assert.False(t, bounded.Overlaps(open))
	assert.False(t, open.Overlaps(bounded))
	assert.True(t, bounded.Overlaps(&CryptoRate{MinAmount: d("999")}))
	assert.True(t, open.Overlaps(&CryptoRate{MinAmount: d("5000")}))
	assert.True(t, bounded.Overlaps(&CryptoRate{MinAmount: d("0"), MaxAmount: decimal.NewNullDecimal(d("11"))}))
	assert.False(t, bounded.Overlaps(&CryptoRate{MinAmount: d("0"), MaxAmount: decimal.NewNullDecimal(d("10"))}))
}

func TestNetworkRegistry(t *testing.T) {
	reg, err := NewNetworkRegistry([]Network{
		{Blockchain: "Ethereum", NativeCurrency: "ETH", OnChain: true, AddressPattern: `^0x[0-9a-fA-F]{40}$`},
		{Blockchain: "bitcoin", NativeCurrency: "BTC"},
	})
	require.NoError(t, err)

	eth, ok := reg.Get("ETHEREUM")
	require.True(t, ok)
	assert.True(t, eth.OnChain)
	assert.True(t, eth.IsNative("eth"))
	assert.False(t, eth.IsNative("USDT"))
	assert.True(t, eth.ValidAddress("0x52908400098527886E0F7030069857D2E4169EE7"))
	assert.False(t, eth.ValidAddress("52908400098527886E0F7030069857D2E4169EE7"))

	btc, ok := reg.Get("bitcoin")
	require.True(t, ok)
	assert.True(t, btc.ValidAddress("anything"))
	assert.False(t, btc.ValidAddress(""))

	_, ok = reg.Get("solana")
	assert.False(t, ok)

	_, err = NewNetworkRegistry([]Network{{Blockchain: "tron", AddressPattern: "("}})
	assert.Error(t, err)
	_, err = NewNetworkRegistry([]Network{{NativeCurrency: "TRX"}})
	assert.Error(t, err)
}

func TestFeeEstimateTotal(t *testing.T) {
	fee := FeeEstimate{Limit: d("21000"), Price: d("0.00000005")}
	assert.True(t, d("0.00105").Equal(fee.Total()))
}

func TestStateHelpers(t *testing.T) {
	assert.True(t, TransactionTypeSwap.Valid())
	assert.False(t, TransactionType("LOAN").Valid())

	assert.True(t, FiatTransactionCryptoBuy.IsDebit())
	assert.True(t, FiatTransactionBillPayment.IsDebit())
	assert.False(t, FiatTransactionCryptoSell.IsDebit())
	assert.False(t, FiatTransactionRefund.IsDebit())

	w := NewWallet(1, FiatCurrency)
	assert.True(t, w.IsActive())
	w.Status = WalletStatusFrozen
	assert.False(t, w.IsActive())

	a := NewVirtualAccount(1, "BTC", "bitcoin", "bc1", "secret")
	assert.True(t, a.Usable())
	a.Frozen = true
	assert.False(t, a.Usable())

	for status, terminal := range map[SettlementFailureStatus]bool{
		FailurePending:    false,
		FailureProcessing: false,
		FailureResolved:   true,
		FailureExhausted:  true,
	} {
		f := &SettlementFailure{Status: status}
		assert.Equal(t, terminal, f.Terminal(), status)
	}
}

func TestDetailDiscriminants(t *testing.T) {
	account := NewVirtualAccount(1, "BTC", "bitcoin", "bc1", "secret")
	for want, detail := range map[TransactionType]CryptoDetail{
		TransactionTypeBuy:     BuyDetail{},
		TransactionTypeSell:    SellDetail{},
		TransactionTypeSend:    SendDetail{},
		TransactionTypeReceive: ReceiveDetail{},
		TransactionTypeSwap:    SwapDetail{},
	} {
		tx := NewCryptoTransaction("REF", account, CryptoStatusSuccessful, detail)
		assert.Equal(t, want, tx.Type)
		assert.Equal(t, "BTC", tx.Currency)
	}
}
