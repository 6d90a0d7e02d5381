// internal/service/ledger_service_test.go
package service

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"custody-ledger/internal/domain"
	"custody-ledger/internal/util"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type ledgerMocks struct {
	executor *MockDBExecutor
	tx       *MockTxController
	wallets  *MockWalletRepository
	accounts *MockVirtualAccountRepository
	fiatTxs  *MockFiatTransactionRepository
}

func newLedgerWithMocks() (LedgerService, *ledgerMocks) {
	m := &ledgerMocks{
		executor: new(MockDBExecutor),
		tx:       new(MockTxController),
		wallets:  new(MockWalletRepository),
		accounts: new(MockVirtualAccountRepository),
		fiatTxs:  new(MockFiatTransactionRepository),
	}
	svc := NewLedgerService(m.executor, m.wallets, m.accounts, m.fiatTxs, mockUnitOfWork(m.tx), discardLogger())
	return svc, m
}

func (m *ledgerMocks) assertAll(t *testing.T) {
	mock.AssertExpectationsForObjects(t, m.executor, m.tx, m.wallets, m.accounts, m.fiatTxs)
}

// TestCreditWallet tests the CreditWallet method of LedgerService.
func TestCreditWallet(t *testing.T) {
	walletID := int64(1)
	fiatTxID := int64(10)
	amount := decimal.NewFromInt(790000)

	newWallet := func(balance string, status domain.WalletStatus) *domain.Wallet {
		return &domain.Wallet{ID: walletID, UserID: 1, Currency: "NGN", Balance: decimal.RequireFromString(balance), Status: status}
	}
	pendingTx := func(txType domain.FiatTransactionType) *domain.FiatTransaction {
		return &domain.FiatTransaction{ID: fiatTxID, WalletID: walletID, Type: txType, Status: domain.FiatTransactionPending,
			Currency: "NGN", Amount: amount, TotalAmount: amount, Reference: "SELL-1"}
	}

	t.Run("SuccessfulCredit", func(t *testing.T) {
		ctx := context.Background()
		svc, m := newLedgerWithMocks()

		m.tx.On("Commit").Return(nil).Once()
		m.tx.On("Rollback").Return(nil).Maybe()
		m.wallets.On("GetWalletForUpdate", mock.Anything, mock.Anything, walletID).Return(newWallet("10000", domain.WalletStatusActive), nil).Once()
		m.fiatTxs.On("GetFiatTransactionByID", mock.Anything, mock.Anything, fiatTxID).Return(pendingTx(domain.FiatTransactionCryptoSell), nil).Once()
		m.wallets.On("SetWalletBalance", mock.Anything, mock.Anything, walletID, decEq(decimal.NewFromInt(800000))).Return(nil).Once()
		m.fiatTxs.On("CompleteFiatTransaction", mock.Anything, mock.Anything, fiatTxID, decEq(decimal.NewFromInt(10000)), decEq(decimal.NewFromInt(800000))).Return(nil).Once()

		wallet, err := svc.CreditWallet(ctx, walletID, amount, fiatTxID)

		assert.NoError(t, err)
		assert.True(t, wallet.Balance.Equal(decimal.NewFromInt(800000)))
		m.assertAll(t)
	})

	t.Run("InvalidAmount", func(t *testing.T) {
		ctx := context.Background()
		svc, m := newLedgerWithMocks()
		m.tx.On("Rollback").Return(nil).Once()

		wallet, err := svc.CreditWallet(ctx, walletID, decimal.NewFromInt(-5), fiatTxID)

		assert.ErrorIs(t, err, util.ErrInvalidInput)
		assert.Nil(t, wallet)
		m.tx.AssertNotCalled(t, "Commit")
		m.wallets.AssertNotCalled(t, "GetWalletForUpdate", mock.Anything, mock.Anything, mock.Anything)
		m.assertAll(t)
	})

	t.Run("WalletNotFound", func(t *testing.T) {
		ctx := context.Background()
		svc, m := newLedgerWithMocks()
		m.wallets.On("GetWalletForUpdate", mock.Anything, mock.Anything, walletID).Return(nil, util.ErrNotFound).Once()
		m.tx.On("Rollback").Return(nil).Once()

		wallet, err := svc.CreditWallet(ctx, walletID, amount, fiatTxID)

		assert.ErrorIs(t, err, util.ErrWalletNotFound)
		assert.Nil(t, wallet)
		m.tx.AssertNotCalled(t, "Commit")
		m.assertAll(t)
	})

	t.Run("CurrencyMismatch", func(t *testing.T) {
		ctx := context.Background()
		svc, m := newLedgerWithMocks()
		usdTx := pendingTx(domain.FiatTransactionCryptoSell)
		usdTx.Currency = "USD"
		m.wallets.On("GetWalletForUpdate", mock.Anything, mock.Anything, walletID).Return(newWallet("0", domain.WalletStatusActive), nil).Once()
		m.fiatTxs.On("GetFiatTransactionByID", mock.Anything, mock.Anything, fiatTxID).Return(usdTx, nil).Once()
		m.tx.On("Rollback").Return(nil).Once()

		_, err := svc.CreditWallet(ctx, walletID, amount, fiatTxID)

		assert.ErrorIs(t, err, util.ErrCurrencyMismatch)
		m.wallets.AssertNotCalled(t, "SetWalletBalance", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		m.assertAll(t)
	})

	t.Run("FrozenWalletAcceptsOnlyRefunds", func(t *testing.T) {
		ctx := context.Background()
		svc, m := newLedgerWithMocks()
		m.wallets.On("GetWalletForUpdate", mock.Anything, mock.Anything, walletID).Return(newWallet("0", domain.WalletStatusFrozen), nil).Once()
		m.fiatTxs.On("GetFiatTransactionByID", mock.Anything, mock.Anything, fiatTxID).Return(pendingTx(domain.FiatTransactionCryptoSell), nil).Once()
		m.tx.On("Rollback").Return(nil).Once()

		_, err := svc.CreditWallet(ctx, walletID, amount, fiatTxID)
		assert.ErrorIs(t, err, util.ErrWalletInactive)
		m.assertAll(t)

		svc, m = newLedgerWithMocks()
		m.wallets.On("GetWalletForUpdate", mock.Anything, mock.Anything, walletID).Return(newWallet("0", domain.WalletStatusFrozen), nil).Once()
		m.fiatTxs.On("GetFiatTransactionByID", mock.Anything, mock.Anything, fiatTxID).Return(pendingTx(domain.FiatTransactionRefund), nil).Once()
		m.wallets.On("SetWalletBalance", mock.Anything, mock.Anything, walletID, decEq(amount)).Return(nil).Once()
		m.fiatTxs.On("CompleteFiatTransaction", mock.Anything, mock.Anything, fiatTxID, decEq(decimal.Zero), decEq(amount)).Return(nil).Once()
		m.tx.On("Commit").Return(nil).Once()
		m.tx.On("Rollback").Return(nil).Maybe()

		wallet, err := svc.CreditWallet(ctx, walletID, amount, fiatTxID)
		assert.NoError(t, err)
		assert.True(t, wallet.Balance.Equal(amount))
		m.assertAll(t)
	})
}

// TestDebitWallet tests the DebitWallet method of LedgerService.
func TestDebitWallet(t *testing.T) {
	walletID := int64(2)
	fiatTxID := int64(20)

	t.Run("InsufficientBalance", func(t *testing.T) {
		ctx := context.Background()
		svc, m := newLedgerWithMocks()
		amount := decimal.NewFromInt(5000)
		m.wallets.On("GetWalletForUpdate", mock.Anything, mock.Anything, walletID).
			Return(&domain.Wallet{ID: walletID, Currency: "NGN", Balance: decimal.NewFromInt(4999), Status: domain.WalletStatusActive}, nil).Once()
		m.fiatTxs.On("GetFiatTransactionByID", mock.Anything, mock.Anything, fiatTxID).
			Return(&domain.FiatTransaction{ID: fiatTxID, WalletID: walletID, Type: domain.FiatTransactionBillPayment,
				Status: domain.FiatTransactionPending, Currency: "NGN", Amount: amount, TotalAmount: amount}, nil).Once()
		m.tx.On("Rollback").Return(nil).Once()

		wallet, err := svc.DebitWallet(ctx, walletID, amount, fiatTxID)

		assert.ErrorIs(t, err, util.ErrInsufficientBalance)
		assert.Nil(t, wallet)
		m.wallets.AssertNotCalled(t, "SetWalletBalance", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		m.assertAll(t)
	})

	t.Run("DirectionMustMatchType", func(t *testing.T) {
		ctx := context.Background()
		svc, m := newLedgerWithMocks()
		amount := decimal.NewFromInt(100)
		m.wallets.On("GetWalletForUpdate", mock.Anything, mock.Anything, walletID).
			Return(&domain.Wallet{ID: walletID, Currency: "NGN", Balance: decimal.NewFromInt(1000), Status: domain.WalletStatusActive}, nil).Once()
		m.fiatTxs.On("GetFiatTransactionByID", mock.Anything, mock.Anything, fiatTxID).
			Return(&domain.FiatTransaction{ID: fiatTxID, WalletID: walletID, Type: domain.FiatTransactionRefund,
				Status: domain.FiatTransactionPending, Currency: "NGN", Amount: amount, TotalAmount: amount}, nil).Once()
		m.tx.On("Rollback").Return(nil).Once()

		_, err := svc.DebitWallet(ctx, walletID, amount, fiatTxID)

		assert.ErrorIs(t, err, util.ErrInvalidInput)
		m.assertAll(t)
	})
}

func TestAccountMovements(t *testing.T) {
	accountID := int64(5)
	account := func(balance string, frozen bool) *domain.VirtualAccount {
		b := decimal.RequireFromString(balance)
		return &domain.VirtualAccount{ID: accountID, Currency: "ETH", Blockchain: "ethereum", AvailableBalance: b, AccountBalance: b, Active: true, Frozen: frozen}
	}

	t.Run("DebitKeepsBothBalancesEqual", func(t *testing.T) {
		svc, m := newLedgerWithMocks()
		m.accounts.On("GetVirtualAccountForUpdate", mock.Anything, m.executor, accountID).Return(account("1.5", false), nil).Once()
		m.accounts.On("SetVirtualAccountBalance", mock.Anything, m.executor, accountID, decEq(decimal.RequireFromString("1"))).Return(nil).Once()

		got, err := svc.DebitAccount(context.Background(), m.executor, accountID, decimal.RequireFromString("0.5"))

		assert.NoError(t, err)
		assert.Equal(t, "1", got.AvailableBalance.String())
		assert.True(t, got.AccountBalance.Equal(got.AvailableBalance))
		m.assertAll(t)
	})

	t.Run("FrozenAccountRejected", func(t *testing.T) {
		svc, m := newLedgerWithMocks()
		m.accounts.On("GetVirtualAccountForUpdate", mock.Anything, m.executor, accountID).Return(account("1", true), nil).Once()

		_, err := svc.CreditAccount(context.Background(), m.executor, accountID, decimal.NewFromInt(1))

		assert.ErrorIs(t, err, util.ErrAccountFrozen)
		m.assertAll(t)
	})

	t.Run("ResyncIsNoopWhenEqual", func(t *testing.T) {
		svc, m := newLedgerWithMocks()
		m.accounts.On("GetVirtualAccountForUpdate", mock.Anything, m.executor, accountID).Return(account("2", false), nil).Once()

		got, err := svc.ResyncAccount(context.Background(), m.executor, accountID, decimal.NewFromInt(2))

		assert.NoError(t, err)
		assert.Equal(t, "2", got.AvailableBalance.String())
		m.accounts.AssertNotCalled(t, "SetVirtualAccountBalance", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		m.assertAll(t)
	})

	t.Run("ResyncOverwritesDrift", func(t *testing.T) {
		svc, m := newLedgerWithMocks()
		m.accounts.On("GetVirtualAccountForUpdate", mock.Anything, m.executor, accountID).Return(account("2", false), nil).Once()
		m.accounts.On("SetVirtualAccountBalance", mock.Anything, m.executor, accountID, decEq(decimal.RequireFromString("1.75"))).Return(nil).Once()

		got, err := svc.ResyncAccount(context.Background(), m.executor, accountID, decimal.RequireFromString("1.75"))

		assert.NoError(t, err)
		assert.Equal(t, "1.75", got.AccountBalance.String())
		m.assertAll(t)
	})
}

func TestGetOrCreatePrimaryWallet(t *testing.T) {
	t.Run("CreatesOnFirstAccess", func(t *testing.T) {
		svc, m := newLedgerWithMocks()
		m.wallets.On("GetPrimaryWallet", mock.Anything, m.executor, int64(9), "NGN").Return(nil, util.ErrNotFound).Once()
		m.wallets.On("CreateWallet", mock.Anything, m.executor, mock.MatchedBy(func(w *domain.Wallet) bool {
			return w.UserID == 9 && w.Currency == "NGN" && w.IsPrimary && w.Balance.IsZero()
		})).Run(func(args mock.Arguments) {
			args.Get(2).(*domain.Wallet).ID = 77
		}).Return(nil).Once()

		w, err := svc.GetOrCreatePrimaryWallet(context.Background(), 9, " ngn ")

		assert.NoError(t, err)
		assert.Equal(t, int64(77), w.ID)
		m.assertAll(t)
	})

	t.Run("LostRaceReturnsWinner", func(t *testing.T) {
		svc, m := newLedgerWithMocks()
		winner := &domain.Wallet{ID: 78, UserID: 9, Currency: "NGN", IsPrimary: true}
		m.wallets.On("GetPrimaryWallet", mock.Anything, m.executor, int64(9), "NGN").Return(nil, util.ErrNotFound).Once()
		m.wallets.On("CreateWallet", mock.Anything, m.executor, mock.Anything).Return(util.ErrDuplicateEntry).Once()
		m.wallets.On("GetPrimaryWallet", mock.Anything, m.executor, int64(9), "NGN").Return(winner, nil).Once()

		w, err := svc.GetOrCreatePrimaryWallet(context.Background(), 9, "NGN")

		assert.NoError(t, err)
		assert.Equal(t, int64(78), w.ID)
		m.assertAll(t)
	})
}
