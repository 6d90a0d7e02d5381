// internal/service/settlement_service_test.go
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"custody-ledger/internal/domain"
	"custody-ledger/internal/pricing"
	"custody-ledger/internal/repository"
	"custody-ledger/internal/repository/memory"
	"custody-ledger/internal/secret"
	"custody-ledger/internal/util"
	"custody-ledger/pkg/db"
)

const (
	testUser      int64 = 7
	masterAddress       = "0xmaster"
	userAddress         = "0xuser1"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.Truef(t, dec(want).Equal(got), "want %s, got %s", want, got)
}

// harness wires the real services over a memory store. Only the transfer provider
// is mocked.
type harness struct {
	t         *testing.T
	ctx       context.Context
	store     *memory.Store
	repos     repository.Repositories
	uow       UnitOfWork
	ledger    LedgerService
	rates     RateService
	transfers *MockTransferProvider
	sink      *recordingSink
	cipher    *secret.Cipher
	svc       SettlementService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()
	store := memory.NewStore()
	repos := store.Repositories()
	logger := discardLogger()
	uow := UnitOfWork{Begin: store.BeginTx, Commit: db.CommitTx, Rollback: db.RollbackTx, Timeout: 5 * time.Second}

	cipher, err := secret.NewCipher("settlement-test-secret-key")
	require.NoError(t, err)
	masterSecret, err := cipher.Encrypt("master-signing-key")
	require.NoError(t, err)

	networks, err := domain.NewNetworkRegistry([]domain.Network{
		{Blockchain: "bitcoin", NativeCurrency: "BTC"},
		{Blockchain: "tron", NativeCurrency: "TRX"},
		{
			Blockchain:     "ethereum",
			NativeCurrency: "ETH",
			OnChain:        true,
			AddressPattern: `^0x[0-9a-z]+$`,
			MasterAddress:  masterAddress,
			MasterSecret:   masterSecret,
		},
	})
	require.NoError(t, err)

	for _, wc := range []domain.WalletCurrency{
		{Currency: "BTC", Blockchain: "bitcoin", Price: dec("2000"), Decimals: 8},
		{Currency: "TRX", Blockchain: "tron", Price: dec("0.1"), Decimals: 6},
		{Currency: "ETH", Blockchain: "ethereum", Price: dec("1250"), Decimals: 18},
		{Currency: "USDT", Blockchain: "ethereum", Price: dec("100"), Decimals: 6, IsToken: true},
	} {
		require.NoError(t, store.PutWalletCurrency(ctx, wc))
	}

	h := &harness{
		t:         t,
		ctx:       ctx,
		store:     store,
		repos:     repos,
		uow:       uow,
		ledger:    NewLedgerService(store.DB(), repos.Wallets, repos.Accounts, repos.FiatTxs, uow, logger),
		rates:     NewRateService(store.DB(), repos.Rates, uow, logger),
		transfers: new(MockTransferProvider),
		sink:      &recordingSink{},
		cipher:    cipher,
	}
	h.svc = NewSettlementService(SettlementDeps{
		DB:        store.DB(),
		Repos:     repos,
		Ledger:    h.ledger,
		Rates:     h.rates,
		Prices:    pricing.NewSource(store.DB(), repos.Accounts, nil, time.Minute, logger),
		Transfers: h.transfers,
		Networks:  networks,
		Cipher:    cipher,
		Sink:      h.sink,
		UoW:       uow,
		Config:    SettlementConfig{ConfirmAttempts: 2, ConfirmInterval: time.Millisecond},
		Logger:    logger,
	})
	return h
}

func (h *harness) fundWallet(userID int64, balance string) *domain.Wallet {
	h.t.Helper()
	w := domain.NewWallet(userID, domain.FiatCurrency)
	w.Balance = dec(balance)
	require.NoError(h.t, h.repos.Wallets.CreateWallet(h.ctx, h.store.DB(), w))
	return w
}

func (h *harness) openAccount(userID int64, currency, blockchain, address, balance string) *domain.VirtualAccount {
	h.t.Helper()
	return h.createAccount(userID, currency, blockchain, address, balance, false)
}

func (h *harness) openFrozenAccount(userID int64, currency, blockchain, address, balance string) *domain.VirtualAccount {
	h.t.Helper()
	return h.createAccount(userID, currency, blockchain, address, balance, true)
}

func (h *harness) createAccount(userID int64, currency, blockchain, address, balance string, frozen bool) *domain.VirtualAccount {
	h.t.Helper()
	enc, err := h.cipher.Encrypt("signing-key-" + address)
	require.NoError(h.t, err)
	a := domain.NewVirtualAccount(userID, currency, blockchain, address, enc)
	a.Frozen = frozen
	require.NoError(h.t, h.repos.Accounts.CreateVirtualAccount(h.ctx, h.store.DB(), a))
	require.NoError(h.t, h.repos.Accounts.SetVirtualAccountBalance(h.ctx, h.store.DB(), a.ID, dec(balance)))
	return a
}

func (h *harness) tier(txType domain.TransactionType, min, rate string) {
	h.t.Helper()
	_, err := h.rates.CreateRate(h.ctx, RateInput{TransactionType: txType, MinAmount: dec(min), Rate: dec(rate)}, 1)
	require.NoError(h.t, err)
}

func (h *harness) walletBalance(id int64) decimal.Decimal {
	h.t.Helper()
	w, err := h.repos.Wallets.GetWalletByID(h.ctx, h.store.DB(), id)
	require.NoError(h.t, err)
	return w.Balance
}

func (h *harness) accountBalance(id int64) decimal.Decimal {
	h.t.Helper()
	a, err := h.repos.Accounts.GetVirtualAccountByID(h.ctx, h.store.DB(), id)
	require.NoError(h.t, err)
	return a.AvailableBalance
}

func (h *harness) cryptoTxs(userID int64) []domain.CryptoTransaction {
	h.t.Helper()
	items, _, err := h.repos.CryptoTxs.ListCryptoTransactions(h.ctx, h.store.DB(), domain.TransactionFilter{UserID: userID})
	require.NoError(h.t, err)
	return items
}

func (h *harness) fiatTxs(walletID int64) []domain.FiatTransaction {
	h.t.Helper()
	items, _, err := h.repos.FiatTxs.ListFiatTransactionsByWallet(h.ctx, h.store.DB(), walletID, 0, 0)
	require.NoError(h.t, err)
	return items
}

func (h *harness) pendingFailures() []domain.SettlementFailure {
	h.t.Helper()
	rows, err := h.repos.Failures.ListSettlementFailures(h.ctx, h.store.DB(), domain.FailurePending, 10)
	require.NoError(h.t, err)
	return rows
}

func feeFrom(from string) interface{} {
	return mock.MatchedBy(func(r domain.FeeRequest) bool { return r.From == from })
}

func TestBuyInternalNetwork(t *testing.T) {
	h := newHarness(t)
	h.tier(domain.TransactionTypeBuy, "0", "1500")
	wallet := h.fundWallet(testUser, "100000")
	account := h.openAccount(testUser, "BTC", "bitcoin", "bc1-user", "0")
	req := BuyRequest{UserID: testUser, Currency: "BTC", Blockchain: "bitcoin", Amount: dec("0.02")}

	q, err := h.svc.PreviewBuy(h.ctx, req)
	require.NoError(t, err)
	assert.True(t, q.CanProceed)
	assertDecimal(t, "40", q.AmountUSD)
	assertDecimal(t, "60000", q.AmountNGN)
	assertDecimal(t, "40000", q.WalletBalanceAfter)
	assertDecimal(t, "0.02", q.AccountBalanceAfter)
	assert.False(t, q.OnChain)

	result, err := h.svc.Buy(h.ctx, req)
	require.NoError(t, err)
	assert.Equal(t, domain.CryptoStatusSuccessful, result.Status)
	require.NotNil(t, result.Transaction)
	assert.Equal(t, domain.TransactionTypeBuy, result.Transaction.Type)
	assert.True(t, strings.HasPrefix(result.Reference, "BUY-"))

	assertDecimal(t, "40000", h.walletBalance(wallet.ID))
	assertDecimal(t, "0.02", h.accountBalance(account.ID))

	fiat := h.fiatTxs(wallet.ID)
	require.Len(t, fiat, 1)
	assert.Equal(t, domain.FiatTransactionCryptoBuy, fiat[0].Type)
	assert.Equal(t, domain.FiatTransactionCompleted, fiat[0].Status)
	assert.Equal(t, result.Reference, fiat[0].Reference)
	assertDecimal(t, "100000", fiat[0].BalanceBefore.Decimal)
	assertDecimal(t, "40000", fiat[0].BalanceAfter.Decimal)

	assert.Contains(t, h.sink.kinds(), domain.NotificationSettled)
	h.transfers.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
}

func TestBuyRejectedWhenWalletCannotCoverCost(t *testing.T) {
	h := newHarness(t)
	h.tier(domain.TransactionTypeBuy, "0", "1500")
	wallet := h.fundWallet(testUser, "100000")
	account := h.openAccount(testUser, "BTC", "bitcoin", "bc1-user", "0")
	req := BuyRequest{UserID: testUser, Currency: "BTC", Blockchain: "bitcoin", Amount: dec("10")}

	q, err := h.svc.PreviewBuy(h.ctx, req)
	require.NoError(t, err)
	assertDecimal(t, "20000", q.AmountUSD)
	assertDecimal(t, "30000000", q.AmountNGN)
	assert.False(t, q.CanProceed)
	require.Len(t, q.Reasons, 1)
	assert.Contains(t, q.Reasons[0], "insufficient balance")

	_, err = h.svc.Buy(h.ctx, req)
	assert.ErrorIs(t, err, util.ErrInsufficientBalance)

	assertDecimal(t, "100000", h.walletBalance(wallet.ID))
	assertDecimal(t, "0", h.accountBalance(account.ID))
	assert.Empty(t, h.cryptoTxs(testUser))
	assert.Empty(t, h.fiatTxs(wallet.ID))
}

func TestBuyRequiresRateTier(t *testing.T) {
	h := newHarness(t)
	h.fundWallet(testUser, "100000")
	h.openAccount(testUser, "BTC", "bitcoin", "bc1-user", "0")

	_, err := h.svc.PreviewBuy(h.ctx, BuyRequest{UserID: testUser, Currency: "BTC", Blockchain: "bitcoin", Amount: dec("0.01")})
	assert.ErrorIs(t, err, util.ErrRateNotConfigured)
}

func TestBuyValidation(t *testing.T) {
	h := newHarness(t)
	h.tier(domain.TransactionTypeBuy, "0", "1500")
	h.openAccount(testUser, "BTC", "bitcoin", "bc1-user", "0")

	tests := []struct {
		name string
		req  BuyRequest
	}{
		{"zero amount", BuyRequest{UserID: testUser, Currency: "BTC", Blockchain: "bitcoin", Amount: decimal.Zero}},
		{"below smallest unit", BuyRequest{UserID: testUser, Currency: "BTC", Blockchain: "bitcoin", Amount: dec("0.000000001")}},
		{"unknown chain", BuyRequest{UserID: testUser, Currency: "BTC", Blockchain: "dogechain", Amount: dec("1")}},
		{"unknown currency", BuyRequest{UserID: testUser, Currency: "DOGE", Blockchain: "bitcoin", Amount: dec("1")}},
		{"missing user", BuyRequest{Currency: "BTC", Blockchain: "bitcoin", Amount: dec("1")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.svc.Buy(h.ctx, tt.req)
			assert.ErrorIs(t, err, util.ErrInvalidInput)
		})
	}
}

func TestSellOnChainDeductsNetworkFee(t *testing.T) {
	h := newHarness(t)
	h.tier(domain.TransactionTypeSell, "0", "1600")
	account := h.openAccount(testUser, "USDT", "ethereum", userAddress, "10")

	h.transfers.On("EstimateFee", mock.Anything, feeFrom(userAddress)).
		Return(domain.FeeEstimate{Limit: dec("50000"), Price: dec("0.0000001")}, nil)
	h.transfers.On("GetBalance", mock.Anything, "ethereum", userAddress, "ETH").Return(dec("0.01"), nil)
	h.transfers.On("GetBalance", mock.Anything, "ethereum", userAddress, "USDT").Return(dec("10"), nil)
	h.transfers.On("Send", mock.Anything, mock.MatchedBy(func(r domain.TransferRequest) bool {
		return r.From == userAddress && r.To == masterAddress && r.Currency == "USDT" &&
			r.Amount.Equal(dec("5")) && r.SigningSecret == "signing-key-"+userAddress &&
			strings.HasSuffix(r.IdempotencyKey, "-token")
	})).Return("0xsellhash", nil).Once()

	req := SellRequest{UserID: testUser, Currency: "USDT", Blockchain: "ethereum", Amount: dec("5")}
	q, err := h.svc.PreviewSell(h.ctx, req)
	require.NoError(t, err)
	assert.True(t, q.CanProceed)
	assert.False(t, q.TopUpRequired)
	assertDecimal(t, "800000", q.GrossNGN)
	assertDecimal(t, "0.005", q.NetworkFee)
	assertDecimal(t, "10000", q.FeeNGN)
	assertDecimal(t, "790000", q.PayoutNGN)
	assertDecimal(t, "790000", q.WalletBalanceAfter)

	result, err := h.svc.Sell(h.ctx, req)
	require.NoError(t, err)
	assert.Equal(t, domain.CryptoStatusSuccessful, result.Status)

	wallet, err := h.repos.Wallets.GetPrimaryWallet(h.ctx, h.store.DB(), testUser, domain.FiatCurrency)
	require.NoError(t, err)
	assertDecimal(t, "790000", wallet.Balance)
	assertDecimal(t, "5", h.accountBalance(account.ID))

	detail, ok := result.Transaction.Detail.(domain.SellDetail)
	require.True(t, ok)
	assert.Equal(t, "0xsellhash", detail.TxHash)
	assert.Empty(t, detail.TopUpTxHash)
	assertDecimal(t, "790000", detail.PayoutNGN)

	fiat := h.fiatTxs(wallet.ID)
	require.Len(t, fiat, 1)
	assert.Equal(t, domain.FiatTransactionCryptoSell, fiat[0].Type)
	assertDecimal(t, "790000", fiat[0].TotalAmount)
	h.transfers.AssertExpectations(t)
}

func TestSellRejectedWhenFeeExceedsPayout(t *testing.T) {
	h := newHarness(t)
	h.tier(domain.TransactionTypeSell, "0", "1600")
	h.openAccount(testUser, "USDT", "ethereum", userAddress, "10")

	h.transfers.On("EstimateFee", mock.Anything, feeFrom(userAddress)).
		Return(domain.FeeEstimate{Limit: dec("1"), Price: dec("1")}, nil)
	h.transfers.On("GetBalance", mock.Anything, "ethereum", userAddress, "ETH").Return(dec("2"), nil)
	h.transfers.On("GetBalance", mock.Anything, "ethereum", userAddress, "USDT").Return(dec("10"), nil)

	req := SellRequest{UserID: testUser, Currency: "USDT", Blockchain: "ethereum", Amount: dec("0.5")}
	q, err := h.svc.PreviewSell(h.ctx, req)
	require.NoError(t, err)
	assert.False(t, q.CanProceed)
	assertDecimal(t, "0", q.PayoutNGN)

	_, err = h.svc.Sell(h.ctx, req)
	assert.ErrorIs(t, err, util.ErrFeeExceedsPayout)
	h.transfers.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
}

func expectSellWithTopUp(h *harness, tokenHeld string) {
	h.transfers.On("EstimateFee", mock.Anything, feeFrom(userAddress)).
		Return(domain.FeeEstimate{Limit: dec("50000"), Price: dec("0.0000001")}, nil)
	h.transfers.On("EstimateFee", mock.Anything, feeFrom(masterAddress)).
		Return(domain.FeeEstimate{Limit: dec("21000"), Price: dec("0.0000001")}, nil)
	h.transfers.On("GetBalance", mock.Anything, "ethereum", userAddress, "ETH").Return(dec("0.001"), nil)
	h.transfers.On("GetBalance", mock.Anything, "ethereum", userAddress, "USDT").Return(dec(tokenHeld), nil)
	h.transfers.On("GetBalance", mock.Anything, "ethereum", masterAddress, "ETH").Return(dec("1"), nil)
	h.transfers.On("Send", mock.Anything, mock.MatchedBy(func(r domain.TransferRequest) bool {
		return r.Currency == "ETH" && r.From == masterAddress && r.To == userAddress &&
			r.Amount.Equal(dec("0.004")) && r.SigningSecret == "master-signing-key"
	})).Return("0xtopup", nil).Once()
	h.transfers.On("TransferStatus", mock.Anything, "ethereum", "0xtopup").Return(domain.TransferConfirmed, nil)
}

func isTokenTransfer(r domain.TransferRequest) bool {
	return r.Currency == "USDT" && r.From == userAddress && r.To == masterAddress
}

func TestSellWithGasTopUp(t *testing.T) {
	h := newHarness(t)
	h.tier(domain.TransactionTypeSell, "0", "1600")
	account := h.openAccount(testUser, "USDT", "ethereum", userAddress, "10")
	expectSellWithTopUp(h, "10")
	h.transfers.On("Send", mock.Anything, mock.MatchedBy(isTokenTransfer)).Return("0xtoken", nil).Once()

	req := SellRequest{UserID: testUser, Currency: "USDT", Blockchain: "ethereum", Amount: dec("5")}
	q, err := h.svc.PreviewSell(h.ctx, req)
	require.NoError(t, err)
	assert.True(t, q.TopUpRequired)
	assertDecimal(t, "0.004", q.TopUpAmount)
	assertDecimal(t, "0.0071", q.NetworkFee)
	assertDecimal(t, "14200", q.FeeNGN)
	assertDecimal(t, "785800", q.PayoutNGN)

	result, err := h.svc.Sell(h.ctx, req)
	require.NoError(t, err)
	detail := result.Transaction.Detail.(domain.SellDetail)
	assert.Equal(t, "0xtopup", detail.TopUpTxHash)
	assert.Equal(t, "0xtoken", detail.TxHash)
	assertDecimal(t, "5", h.accountBalance(account.ID))
	h.transfers.AssertExpectations(t)
}

func TestSellTokenTransferFailureAfterTopUpIsQueuedAndResumed(t *testing.T) {
	h := newHarness(t)
	h.tier(domain.TransactionTypeSell, "0", "1600")
	account := h.openAccount(testUser, "USDT", "ethereum", userAddress, "10")
	expectSellWithTopUp(h, "10")
	h.transfers.On("Send", mock.Anything, mock.MatchedBy(isTokenTransfer)).Return("", errors.New("node unavailable")).Once()
	h.transfers.On("Send", mock.Anything, mock.MatchedBy(isTokenTransfer)).Return("0xtoken", nil).Once()

	result, err := h.svc.Sell(h.ctx, SellRequest{UserID: testUser, Currency: "USDT", Blockchain: "ethereum", Amount: dec("5")})
	require.NoError(t, err)
	assert.Equal(t, domain.CryptoStatusProcessing, result.Status)
	assert.Nil(t, result.Transaction)
	assertDecimal(t, "10", h.accountBalance(account.ID))
	assert.Contains(t, h.sink.kinds(), domain.NotificationProcessing)

	rows := h.pendingFailures()
	require.Len(t, rows, 1)
	row := rows[0]
	assert.Equal(t, domain.OperationSell, row.Operation)
	assert.Equal(t, domain.StageTokenTransfer, row.Stage)
	assert.Equal(t, result.Reference, row.Reference)
	assert.Equal(t, "0xtopup", decodeRefs(&row)["top_up_tx_hash"])

	require.NoError(t, h.svc.Resume(h.ctx, &row))
	wallet, err := h.repos.Wallets.GetPrimaryWallet(h.ctx, h.store.DB(), testUser, domain.FiatCurrency)
	require.NoError(t, err)
	assertDecimal(t, "785800", wallet.Balance)
	assertDecimal(t, "5", h.accountBalance(account.ID))
	assert.Equal(t, "0xtoken", decodeRefs(&row)["tx_hash"])

	// A second resume finds the ledger unit applied and transfers nothing.
	require.NoError(t, h.svc.Resume(h.ctx, &row))
	assertDecimal(t, "785800", h.walletBalance(wallet.ID))
	h.transfers.AssertNumberOfCalls(t, "Send", 3)
}

func TestSellRejectedWhenDepositAddressHoldsLessThanLedger(t *testing.T) {
	h := newHarness(t)
	h.tier(domain.TransactionTypeSell, "0", "1600")
	account := h.openAccount(testUser, "USDT", "ethereum", userAddress, "10")
	expectSellWithTopUp(h, "0")

	req := SellRequest{UserID: testUser, Currency: "USDT", Blockchain: "ethereum", Amount: dec("5")}
	q, err := h.svc.PreviewSell(h.ctx, req)
	require.NoError(t, err)
	assert.False(t, q.CanProceed)
	require.Len(t, q.Reasons, 1)

	_, err = h.svc.Sell(h.ctx, req)
	assert.ErrorIs(t, err, util.ErrInsufficientBalance)
	h.transfers.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
	assertDecimal(t, "10", h.accountBalance(account.ID))
	assert.Empty(t, h.pendingFailures())
}

func TestBuyOnChainLedgerFailureIsRetried(t *testing.T) {
	h := newHarness(t)
	h.tier(domain.TransactionTypeBuy, "0", "1500")
	wallet := h.fundWallet(testUser, "100000")
	account := h.openAccount(testUser, "ETH", "ethereum", userAddress, "0")

	h.transfers.On("EstimateFee", mock.Anything, feeFrom(masterAddress)).
		Return(domain.FeeEstimate{Limit: dec("21000"), Price: dec("0.0000001")}, nil)
	h.transfers.On("GetBalance", mock.Anything, "ethereum", masterAddress, "ETH").Return(dec("1"), nil)
	h.transfers.On("Send", mock.Anything, mock.MatchedBy(func(r domain.TransferRequest) bool {
		return r.From == masterAddress && r.To == userAddress && r.SigningSecret == "master-signing-key"
	})).Run(func(args mock.Arguments) {
		// The wallet is drained while the transfer is in flight.
		require.NoError(t, h.repos.Wallets.SetWalletBalance(h.ctx, h.store.DB(), wallet.ID, decimal.Zero))
	}).Return("0xbuyhash", nil).Once()

	result, err := h.svc.Buy(h.ctx, BuyRequest{UserID: testUser, Currency: "ETH", Blockchain: "ethereum", Amount: dec("0.01")})
	require.NoError(t, err)
	assert.Equal(t, domain.CryptoStatusProcessing, result.Status)
	assertDecimal(t, "0", h.accountBalance(account.ID))

	rows := h.pendingFailures()
	require.Len(t, rows, 1)
	assert.Equal(t, domain.OperationBuy, rows[0].Operation)
	assert.Equal(t, domain.StageLedger, rows[0].Stage)
	assert.Equal(t, "0xbuyhash", decodeRefs(&rows[0])["tx_hash"])

	require.NoError(t, h.repos.Wallets.SetWalletBalance(h.ctx, h.store.DB(), wallet.ID, dec("100000")))

	worker := NewRetryWorker(h.store.DB(), h.repos.Failures, h.uow,
		map[domain.SettlementOperation]Resumer{domain.OperationBuy: h.svc}, h.sink, RetryConfig{}, discardLogger())
	worker.now = func() time.Time { return time.Now().UTC().Add(time.Hour) }
	n, err := worker.ProcessDue(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	row, err := h.repos.Failures.GetSettlementFailureByID(h.ctx, h.store.DB(), rows[0].ID)
	require.NoError(t, err)
	assert.Equal(t, domain.FailureResolved, row.Status)
	assert.Equal(t, 1, row.Attempts)

	assertDecimal(t, "81250", h.walletBalance(wallet.ID))
	assertDecimal(t, "0.01", h.accountBalance(account.ID))
	tx, err := h.repos.CryptoTxs.GetCryptoTransactionByReference(h.ctx, h.store.DB(), result.Reference)
	require.NoError(t, err)
	assert.Equal(t, "0xbuyhash", tx.Detail.(domain.BuyDetail).TxHash)
}

func TestBuyOnChainTransferFailureDebitsNothing(t *testing.T) {
	h := newHarness(t)
	h.tier(domain.TransactionTypeBuy, "0", "1500")
	wallet := h.fundWallet(testUser, "100000")
	account := h.openAccount(testUser, "ETH", "ethereum", userAddress, "0")

	h.transfers.On("EstimateFee", mock.Anything, feeFrom(masterAddress)).
		Return(domain.FeeEstimate{Limit: dec("21000"), Price: dec("0.0000001")}, nil)
	h.transfers.On("GetBalance", mock.Anything, "ethereum", masterAddress, "ETH").Return(dec("1"), nil)
	h.transfers.On("Send", mock.Anything, mock.Anything).
		Return("", fmt.Errorf("hot wallet empty: %w", util.ErrProviderInsufficientFunds)).Once()

	_, err := h.svc.Buy(h.ctx, BuyRequest{UserID: testUser, Currency: "ETH", Blockchain: "ethereum", Amount: dec("0.01")})
	assert.ErrorIs(t, err, util.ErrExternalTransferFailed)
	assert.ErrorIs(t, err, util.ErrProviderInsufficientFunds)
	assertDecimal(t, "100000", h.walletBalance(wallet.ID))
	assertDecimal(t, "0", h.accountBalance(account.ID))
	assert.Empty(t, h.pendingFailures())
}

func TestBuyOnChainBlockedByCustodyCapacity(t *testing.T) {
	h := newHarness(t)
	h.tier(domain.TransactionTypeBuy, "0", "1500")
	h.fundWallet(testUser, "100000")
	h.openAccount(testUser, "ETH", "ethereum", userAddress, "0")

	h.transfers.On("EstimateFee", mock.Anything, feeFrom(masterAddress)).
		Return(domain.FeeEstimate{Limit: dec("21000"), Price: dec("0.0000001")}, nil)
	h.transfers.On("GetBalance", mock.Anything, "ethereum", masterAddress, "ETH").Return(dec("0.005"), nil)

	_, err := h.svc.Buy(h.ctx, BuyRequest{UserID: testUser, Currency: "ETH", Blockchain: "ethereum", Amount: dec("0.01")})
	assert.ErrorIs(t, err, util.ErrCustodyCapacity)
	h.transfers.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
}

func TestSwapInternal(t *testing.T) {
	h := newHarness(t)
	from := h.openAccount(testUser, "BTC", "bitcoin", "bc1-user", "1")
	to := h.openAccount(testUser, "TRX", "tron", "T-user", "0")
	req := SwapRequest{
		UserID:         testUser,
		FromCurrency:   "BTC",
		FromBlockchain: "bitcoin",
		ToCurrency:     "TRX",
		ToBlockchain:   "tron",
		Amount:         dec("0.01"),
	}

	q, err := h.svc.PreviewSwap(h.ctx, req)
	require.NoError(t, err)
	assert.True(t, q.CanProceed)
	assertDecimal(t, "20", q.AmountUSD)
	assertDecimal(t, "200", q.ToAmount)
	assertDecimal(t, "0", q.Fee)
	assert.False(t, q.AmountNGN.Valid, "no SWAP tier means no local-currency equivalent")

	result, err := h.svc.Swap(h.ctx, req)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionTypeSwap, result.Transaction.Type)
	assert.Equal(t, from.ID, result.Transaction.VirtualAccountID)
	assert.Equal(t, to.ID, result.Transaction.Detail.(domain.SwapDetail).ToVirtualAccountID)
	assertDecimal(t, "0.99", h.accountBalance(from.ID))
	assertDecimal(t, "200", h.accountBalance(to.ID))
	h.transfers.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)

	t.Run("into itself", func(t *testing.T) {
		_, err := h.svc.Swap(h.ctx, SwapRequest{UserID: testUser, FromCurrency: "BTC", FromBlockchain: "bitcoin",
			ToCurrency: "btc", ToBlockchain: "Bitcoin", Amount: dec("0.01")})
		assert.ErrorIs(t, err, util.ErrInvalidInput)
	})

	t.Run("more than held", func(t *testing.T) {
		_, err := h.svc.Swap(h.ctx, SwapRequest{UserID: testUser, FromCurrency: "BTC", FromBlockchain: "bitcoin",
			ToCurrency: "TRX", ToBlockchain: "tron", Amount: dec("5")})
		assert.ErrorIs(t, err, util.ErrInsufficientBalance)
		assertDecimal(t, "0.99", h.accountBalance(from.ID))
	})
}

func expectTokenSend(h *harness, external, reserve string) {
	h.transfers.On("GetBalance", mock.Anything, "ethereum", userAddress, "USDT").Return(dec(external), nil)
	h.transfers.On("GetBalance", mock.Anything, "ethereum", userAddress, "ETH").Return(dec(reserve), nil)
	h.transfers.On("EstimateFee", mock.Anything, feeFrom(userAddress)).
		Return(domain.FeeEstimate{Limit: dec("50000"), Price: dec("0.0000001")}, nil)
}

func TestSendToken(t *testing.T) {
	h := newHarness(t)
	account := h.openAccount(testUser, "USDT", "ethereum", userAddress, "10")
	expectTokenSend(h, "12", "0.01")
	h.transfers.On("Send", mock.Anything, mock.MatchedBy(func(r domain.TransferRequest) bool {
		return r.To == "0xrecipient" && r.Amount.Equal(dec("4")) && r.SigningSecret == "signing-key-"+userAddress
	})).Return("0xsendhash", nil).Once()
	req := SendRequest{UserID: testUser, Currency: "USDT", Blockchain: "ethereum", ToAddress: "0xrecipient", Amount: dec("4")}

	q, err := h.svc.PreviewSend(h.ctx, req)
	require.NoError(t, err)
	assert.True(t, q.CanProceed)
	assertDecimal(t, "10", q.LedgerBalance)
	assertDecimal(t, "12", q.ExternalBalance)
	assertDecimal(t, "8", q.BalanceAfter)
	assertDecimal(t, "0.005", q.NetworkFee)
	assert.False(t, q.AmountNGN.Valid)
	assertDecimal(t, "10", h.accountBalance(account.ID))

	result, err := h.svc.Send(h.ctx, req)
	require.NoError(t, err)
	assert.Equal(t, domain.CryptoStatusSuccessful, result.Status)
	detail := result.Transaction.Detail.(domain.SendDetail)
	assert.Equal(t, "0xsendhash", detail.TxHash)
	assert.Equal(t, "ETH", detail.FeeCurrency)
	// Resynced to the observed 12 before the 4 left.
	assertDecimal(t, "8", h.accountBalance(account.ID))
}

func TestSendRejections(t *testing.T) {
	t.Run("fee reserve too small", func(t *testing.T) {
		h := newHarness(t)
		h.openAccount(testUser, "USDT", "ethereum", userAddress, "10")
		expectTokenSend(h, "10", "0.001")

		_, err := h.svc.Send(h.ctx, SendRequest{UserID: testUser, Currency: "USDT", Blockchain: "ethereum",
			ToAddress: "0xrecipient", Amount: dec("4")})
		assert.ErrorIs(t, err, util.ErrInsufficientFeeReserve)
		h.transfers.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
	})

	t.Run("frozen account keeps its ledger balance", func(t *testing.T) {
		h := newHarness(t)
		account := h.openFrozenAccount(testUser, "USDT", "ethereum", userAddress, "10")
		expectTokenSend(h, "12", "0.01")

		_, err := h.svc.Send(h.ctx, SendRequest{UserID: testUser, Currency: "USDT", Blockchain: "ethereum",
			ToAddress: "0xrecipient", Amount: dec("4")})
		assert.ErrorIs(t, err, util.ErrAccountFrozen)
		assertDecimal(t, "10", h.accountBalance(account.ID))
		h.transfers.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
	})

	t.Run("frozen fee account", func(t *testing.T) {
		h := newHarness(t)
		account := h.openAccount(testUser, "USDT", "ethereum", userAddress, "10")
		feeAccount := h.openFrozenAccount(testUser, "ETH", "ethereum", userAddress, "0.02")
		expectTokenSend(h, "12", "0.01")
		req := SendRequest{UserID: testUser, Currency: "USDT", Blockchain: "ethereum", ToAddress: "0xrecipient", Amount: dec("4")}

		q, err := h.svc.PreviewSend(h.ctx, req)
		require.NoError(t, err)
		assert.False(t, q.CanProceed)

		_, err = h.svc.Send(h.ctx, req)
		assert.ErrorIs(t, err, util.ErrAccountFrozen)
		h.transfers.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
		assertDecimal(t, "10", h.accountBalance(account.ID))
		assertDecimal(t, "0.02", h.accountBalance(feeAccount.ID))
		assert.Empty(t, h.pendingFailures())
		assert.Empty(t, h.cryptoTxs(testUser))
	})

	t.Run("invalid address", func(t *testing.T) {
		h := newHarness(t)
		h.openAccount(testUser, "USDT", "ethereum", userAddress, "10")

		_, err := h.svc.Send(h.ctx, SendRequest{UserID: testUser, Currency: "USDT", Blockchain: "ethereum",
			ToAddress: "not-an-address", Amount: dec("4")})
		assert.ErrorIs(t, err, util.ErrInvalidInput)
	})

	t.Run("internal network", func(t *testing.T) {
		h := newHarness(t)
		h.openAccount(testUser, "BTC", "bitcoin", "bc1-user", "1")

		_, err := h.svc.Send(h.ctx, SendRequest{UserID: testUser, Currency: "BTC", Blockchain: "bitcoin",
			ToAddress: "bc1-other", Amount: dec("0.1")})
		assert.ErrorIs(t, err, util.ErrInvalidInput)
	})

	t.Run("provider failure records a failed send", func(t *testing.T) {
		h := newHarness(t)
		account := h.openAccount(testUser, "USDT", "ethereum", userAddress, "10")
		expectTokenSend(h, "10", "0.01")
		h.transfers.On("Send", mock.Anything, mock.Anything).Return("", errors.New("nonce too low")).Once()

		_, err := h.svc.Send(h.ctx, SendRequest{UserID: testUser, Currency: "USDT", Blockchain: "ethereum",
			ToAddress: "0xrecipient", Amount: dec("4")})
		assert.ErrorIs(t, err, util.ErrExternalTransferFailed)
		assertDecimal(t, "10", h.accountBalance(account.ID))

		txs := h.cryptoTxs(testUser)
		require.Len(t, txs, 1)
		assert.Equal(t, domain.CryptoStatusFailed, txs[0].Status)
		assert.Equal(t, domain.TransactionTypeSend, txs[0].Type)
	})
}

func TestCreditDeposit(t *testing.T) {
	h := newHarness(t)
	account := h.openAccount(testUser, "USDT", "ethereum", userAddress, "0")
	req := DepositRequest{
		Blockchain:  "ethereum",
		Currency:    "USDT",
		ToAddress:   userAddress,
		FromAddress: "0xsender",
		TxHash:      "0xdeposit",
		Amount:      dec("3"),
	}

	tx, err := h.svc.CreditDeposit(h.ctx, req)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionTypeReceive, tx.Type)
	assertDecimal(t, "300", tx.Detail.(domain.ReceiveDetail).AmountUSD)
	assertDecimal(t, "3", h.accountBalance(account.ID))

	again, err := h.svc.CreditDeposit(h.ctx, req)
	require.NoError(t, err)
	assert.Equal(t, tx.Reference, again.Reference)
	assertDecimal(t, "3", h.accountBalance(account.ID))
	assert.Len(t, h.cryptoTxs(testUser), 1)

	_, err = h.svc.CreditDeposit(h.ctx, DepositRequest{Blockchain: "ethereum", Currency: "USDT", ToAddress: "0xnobody",
		TxHash: "0xother", Amount: dec("1")})
	assert.ErrorIs(t, err, util.ErrAccountNotFound)

	_, err = h.svc.CreditDeposit(h.ctx, DepositRequest{Blockchain: "ethereum", Currency: "USDT", ToAddress: userAddress,
		Amount: dec("1")})
	assert.ErrorIs(t, err, util.ErrInvalidInput)
}

func TestSettlementsConserveValue(t *testing.T) {
	h := newHarness(t)
	h.tier(domain.TransactionTypeBuy, "0", "1500")
	h.tier(domain.TransactionTypeSell, "0", "1480")
	wallet := h.fundWallet(testUser, "500000")
	account := h.openAccount(testUser, "BTC", "bitcoin", "bc1-user", "0")

	steps := []struct {
		buy    bool
		amount string
	}{
		{true, "0.01"}, {true, "0.02"}, {false, "0.015"}, {true, "0.005"}, {false, "0.001"}, {false, "0.019"},
	}
	for _, s := range steps {
		if s.buy {
			_, err := h.svc.Buy(h.ctx, BuyRequest{UserID: testUser, Currency: "BTC", Blockchain: "bitcoin", Amount: dec(s.amount)})
			require.NoError(t, err)
		} else {
			_, err := h.svc.Sell(h.ctx, SellRequest{UserID: testUser, Currency: "BTC", Blockchain: "bitcoin", Amount: dec(s.amount)})
			require.NoError(t, err)
		}
	}

	walletDelta := decimal.Zero
	for _, ft := range h.fiatTxs(wallet.ID) {
		require.Equal(t, domain.FiatTransactionCompleted, ft.Status)
		moved := ft.BalanceAfter.Decimal.Sub(ft.BalanceBefore.Decimal)
		if ft.Type.IsDebit() {
			assert.True(t, moved.Equal(ft.TotalAmount.Neg()), "debit %s moved %s", ft.Reference, moved)
		} else {
			assert.True(t, moved.Equal(ft.TotalAmount), "credit %s moved %s", ft.Reference, moved)
		}
		walletDelta = walletDelta.Add(moved)
	}
	assertDecimal(t, dec("500000").Add(walletDelta).String(), h.walletBalance(wallet.ID))

	accountDelta := decimal.Zero
	for _, tx := range h.cryptoTxs(testUser) {
		switch d := tx.Detail.(type) {
		case domain.BuyDetail:
			accountDelta = accountDelta.Add(d.Amount)
		case domain.SellDetail:
			accountDelta = accountDelta.Sub(d.Amount)
		}
	}
	assertDecimal(t, accountDelta.String(), h.accountBalance(account.ID))
	assert.Len(t, h.cryptoTxs(testUser), len(steps))
}

func TestConcurrentBuysCannotOverdraw(t *testing.T) {
	h := newHarness(t)
	h.tier(domain.TransactionTypeBuy, "0", "1500")
	wallet := h.fundWallet(testUser, "150000")
	account := h.openAccount(testUser, "BTC", "bitcoin", "bc1-user", "0")

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.svc.Buy(h.ctx, BuyRequest{UserID: testUser, Currency: "BTC", Blockchain: "bitcoin", Amount: dec("0.05")})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
				return
			}
			assert.ErrorIs(t, err, util.ErrInsufficientBalance)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assertDecimal(t, "0", h.walletBalance(wallet.ID))
	assertDecimal(t, "0.05", h.accountBalance(account.ID))
	assert.Len(t, h.cryptoTxs(testUser), 1)
}

func TestPreviewsAreSideEffectFree(t *testing.T) {
	h := newHarness(t)
	h.tier(domain.TransactionTypeBuy, "0", "1500")
	h.tier(domain.TransactionTypeSell, "0", "1480")
	account := h.openAccount(testUser, "BTC", "bitcoin", "bc1-user", "0.5")

	buy := BuyRequest{UserID: testUser, Currency: "BTC", Blockchain: "bitcoin", Amount: dec("0.1")}
	first, err := h.svc.PreviewBuy(h.ctx, buy)
	require.NoError(t, err)
	second, err := h.svc.PreviewBuy(h.ctx, buy)
	require.NoError(t, err)
	assert.True(t, first.AmountNGN.Equal(second.AmountNGN))
	assert.Equal(t, first.RateID, second.RateID)
	assert.Equal(t, first.Reasons, second.Reasons)
	assert.False(t, first.CanProceed, "a user without a wallet holds nothing")

	sell := SellRequest{UserID: testUser, Currency: "BTC", Blockchain: "bitcoin", Amount: dec("0.1")}
	s1, err := h.svc.PreviewSell(h.ctx, sell)
	require.NoError(t, err)
	s2, err := h.svc.PreviewSell(h.ctx, sell)
	require.NoError(t, err)
	assert.True(t, s1.PayoutNGN.Equal(s2.PayoutNGN))
	assertDecimal(t, "296000", s1.PayoutNGN)

	_, err = h.repos.Wallets.GetPrimaryWallet(h.ctx, h.store.DB(), testUser, domain.FiatCurrency)
	assert.ErrorIs(t, err, util.ErrNotFound)
	assertDecimal(t, "0.5", h.accountBalance(account.ID))
	assert.Empty(t, h.cryptoTxs(testUser))
}
