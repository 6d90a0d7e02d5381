// internal/service/ledger_service.go
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"custody-ledger/internal/domain"
	"custody-ledger/internal/repository"
	"custody-ledger/internal/util"

	"github.com/shopspring/decimal"
)

// LedgerService owns every balance mutation. Wallet primitives run as their own
// atomic unit; the *Tx variants and the virtual-account primitives run inside the
// caller's unit so one operation can move fiat and crypto together.
type LedgerService interface {
	// CreditWallet adds amount to a wallet and completes the pending fiat transaction
	// fiatTxID with its balance snapshot, in one atomic unit.
	CreditWallet(ctx context.Context, walletID int64, amount decimal.Decimal, fiatTxID int64) (*domain.Wallet, error)
	// DebitWallet is CreditWallet's counterpart. It fails with util.ErrInsufficientBalance
	// if the balance would go negative.
	DebitWallet(ctx context.Context, walletID int64, amount decimal.Decimal, fiatTxID int64) (*domain.Wallet, error)

	CreditWalletTx(ctx context.Context, q repository.DBExecutor, walletID int64, amount decimal.Decimal, fiatTxID int64) (*domain.Wallet, error)
	DebitWalletTx(ctx context.Context, q repository.DBExecutor, walletID int64, amount decimal.Decimal, fiatTxID int64) (*domain.Wallet, error)

	CreditAccount(ctx context.Context, q repository.DBExecutor, accountID int64, amount decimal.Decimal) (*domain.VirtualAccount, error)
	DebitAccount(ctx context.Context, q repository.DBExecutor, accountID int64, amount decimal.Decimal) (*domain.VirtualAccount, error)
	// ResyncAccount overwrites the ledger balance with an externally observed one.
	ResyncAccount(ctx context.Context, q repository.DBExecutor, accountID int64, observed decimal.Decimal) (*domain.VirtualAccount, error)

	// GetOrCreatePrimaryWallet returns the user's primary wallet, creating it on first need.
	GetOrCreatePrimaryWallet(ctx context.Context, userID int64, currency string) (*domain.Wallet, error)
	GetWallet(ctx context.Context, walletID int64) (*domain.Wallet, error)
	GetVirtualAccount(ctx context.Context, userID int64, currency, blockchain string) (*domain.VirtualAccount, error)
}

type ledgerService struct {
	dbExecutor repository.DBExecutor
	wallets    repository.WalletRepository
	accounts   repository.VirtualAccountRepository
	fiatTxs    repository.FiatTransactionRepository
	uow        UnitOfWork
	logger     *slog.Logger
}

// NewLedgerService creates a new instance of LedgerService.
func NewLedgerService(
	dbExecutor repository.DBExecutor,
	wallets repository.WalletRepository,
	accounts repository.VirtualAccountRepository,
	fiatTxs repository.FiatTransactionRepository,
	uow UnitOfWork,
	logger *slog.Logger,
) LedgerService {
	return &ledgerService{
		dbExecutor: dbExecutor,
		wallets:    wallets,
		accounts:   accounts,
		fiatTxs:    fiatTxs,
		uow:        uow,
		logger:     logger,
	}
}

func (s *ledgerService) CreditWallet(ctx context.Context, walletID int64, amount decimal.Decimal, fiatTxID int64) (*domain.Wallet, error) {
	var wallet *domain.Wallet
	err := s.uow.run(ctx, "credit wallet", func(ctx context.Context, q repository.DBExecutor) error {
		var err error
		wallet, err = s.CreditWalletTx(ctx, q, walletID, amount, fiatTxID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return wallet, nil
}

func (s *ledgerService) DebitWallet(ctx context.Context, walletID int64, amount decimal.Decimal, fiatTxID int64) (*domain.Wallet, error) {
	var wallet *domain.Wallet
	err := s.uow.run(ctx, "debit wallet", func(ctx context.Context, q repository.DBExecutor) error {
		var err error
		wallet, err = s.DebitWalletTx(ctx, q, walletID, amount, fiatTxID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return wallet, nil
}

func (s *ledgerService) CreditWalletTx(ctx context.Context, q repository.DBExecutor, walletID int64, amount decimal.Decimal, fiatTxID int64) (*domain.Wallet, error) {
	return s.moveWallet(ctx, q, "credit wallet", walletID, amount, fiatTxID)
}

func (s *ledgerService) DebitWalletTx(ctx context.Context, q repository.DBExecutor, walletID int64, amount decimal.Decimal, fiatTxID int64) (*domain.Wallet, error) {
	return s.moveWallet(ctx, q, "debit wallet", walletID, amount.Neg(), fiatTxID)
}

// moveWallet applies a signed delta under the wallet's row lock and completes the
// paired fiat transaction with the before/after snapshot.
func (s *ledgerService) moveWallet(ctx context.Context, q repository.DBExecutor, op string, walletID int64, delta decimal.Decimal, fiatTxID int64) (*domain.Wallet, error) {
	amount := delta.Abs()
	if !amount.IsPositive() {
		return nil, util.Invalid("%s: amount must be positive", op)
	}

	wallet, err := s.wallets.GetWalletForUpdate(ctx, q, walletID)
	if err != nil {
		if errors.Is(err, util.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, util.ErrWalletNotFound)
		}
		return nil, fmt.Errorf("%s: failed to lock wallet %d: %w", op, walletID, err)
	}

	fiatTx, err := s.fiatTxs.GetFiatTransactionByID(ctx, q, fiatTxID)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to get fiat transaction %d: %w", op, fiatTxID, err)
	}
	if err := checkPairing(wallet, fiatTx, delta); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !wallet.IsActive() && !(delta.IsPositive() && fiatTx.Type == domain.FiatTransactionRefund && wallet.Status != domain.WalletStatusClosed) {
		return nil, fmt.Errorf("%s: wallet %d is %s: %w", op, walletID, wallet.Status, util.ErrWalletInactive)
	}

	before := wallet.Balance
	after := before.Add(delta)
	if after.IsNegative() {
		return nil, fmt.Errorf("%s: wallet %d holds %s, needs %s: %w", op, walletID, before, amount, util.ErrInsufficientBalance)
	}

	if err := s.wallets.SetWalletBalance(ctx, q, walletID, after); err != nil {
		return nil, fmt.Errorf("%s: failed to update wallet balance: %w", op, err)
	}
	if err := s.fiatTxs.CompleteFiatTransaction(ctx, q, fiatTxID, before, after); err != nil {
		return nil, fmt.Errorf("%s: failed to complete fiat transaction %d: %w", op, fiatTxID, err)
	}

	wallet.Balance = after
	s.logger.Debug("Wallet balance moved", "wallet_id", walletID, "fiat_transaction_id", fiatTxID,
		"reference", fiatTx.Reference, "before", before, "after", after)
	return wallet, nil
}

func checkPairing(wallet *domain.Wallet, fiatTx *domain.FiatTransaction, delta decimal.Decimal) error {
	if fiatTx.WalletID != wallet.ID {
		return util.Invalid("fiat transaction %d belongs to wallet %d", fiatTx.ID, fiatTx.WalletID)
	}
	if fiatTx.Status != domain.FiatTransactionPending {
		return util.Invalid("fiat transaction %d is %s, not pending", fiatTx.ID, fiatTx.Status)
	}
	if !strings.EqualFold(fiatTx.Currency, wallet.Currency) {
		return util.ErrCurrencyMismatch
	}
	if !fiatTx.TotalAmount.Equal(delta.Abs()) {
		return util.Invalid("fiat transaction %d total %s does not match amount %s", fiatTx.ID, fiatTx.TotalAmount, delta.Abs())
	}
	if fiatTx.Type.IsDebit() != delta.IsNegative() {
		return util.Invalid("fiat transaction %d of type %s cannot move the wallet in this direction", fiatTx.ID, fiatTx.Type)
	}
	return nil
}

func (s *ledgerService) CreditAccount(ctx context.Context, q repository.DBExecutor, accountID int64, amount decimal.Decimal) (*domain.VirtualAccount, error) {
	return s.moveAccount(ctx, q, "credit account", accountID, amount)
}

func (s *ledgerService) DebitAccount(ctx context.Context, q repository.DBExecutor, accountID int64, amount decimal.Decimal) (*domain.VirtualAccount, error) {
	return s.moveAccount(ctx, q, "debit account", accountID, amount.Neg())
}

func (s *ledgerService) moveAccount(ctx context.Context, q repository.DBExecutor, op string, accountID int64, delta decimal.Decimal) (*domain.VirtualAccount, error) {
	if !delta.Abs().IsPositive() {
		return nil, util.Invalid("%s: amount must be positive", op)
	}
	account, err := s.lockAccount(ctx, q, op, accountID)
	if err != nil {
		return nil, err
	}
	if !account.Usable() {
		return nil, fmt.Errorf("%s: account %d: %w", op, accountID, util.ErrAccountFrozen)
	}
	after := account.AvailableBalance.Add(delta)
	if after.IsNegative() {
		return nil, fmt.Errorf("%s: account %d holds %s %s, needs %s: %w", op, accountID,
			account.AvailableBalance, account.Currency, delta.Abs(), util.ErrInsufficientBalance)
	}
	if err := s.accounts.SetVirtualAccountBalance(ctx, q, accountID, after); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	account.AvailableBalance = after
	account.AccountBalance = after
	return account, nil
}

func (s *ledgerService) ResyncAccount(ctx context.Context, q repository.DBExecutor, accountID int64, observed decimal.Decimal) (*domain.VirtualAccount, error) {
	if observed.IsNegative() {
		return nil, util.Invalid("resync account: observed balance must not be negative")
	}
	account, err := s.lockAccount(ctx, q, "resync account", accountID)
	if err != nil {
		return nil, err
	}
	if account.AvailableBalance.Equal(observed) && account.AccountBalance.Equal(observed) {
		return account, nil
	}
	if err := s.accounts.SetVirtualAccountBalance(ctx, q, accountID, observed); err != nil {
		return nil, fmt.Errorf("resync account: %w", err)
	}
	s.logger.Warn("Virtual account resynced to external balance", "account_id", accountID,
		"currency", account.Currency, "blockchain", account.Blockchain,
		"ledger_balance", account.AvailableBalance, "external_balance", observed)
	account.AvailableBalance = observed
	account.AccountBalance = observed
	return account, nil
}

func (s *ledgerService) lockAccount(ctx context.Context, q repository.DBExecutor, op string, accountID int64) (*domain.VirtualAccount, error) {
	account, err := s.accounts.GetVirtualAccountForUpdate(ctx, q, accountID)
	if err != nil {
		if errors.Is(err, util.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, util.ErrAccountNotFound)
		}
		return nil, fmt.Errorf("%s: failed to lock account %d: %w", op, accountID, err)
	}
	return account, nil
}

func (s *ledgerService) GetOrCreatePrimaryWallet(ctx context.Context, userID int64, currency string) (*domain.Wallet, error) {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if userID <= 0 || currency == "" {
		return nil, util.Invalid("user and currency are required")
	}
	wallet, err := s.wallets.GetPrimaryWallet(ctx, s.dbExecutor, userID, currency)
	if err == nil {
		return wallet, nil
	}
	if !errors.Is(err, util.ErrNotFound) {
		return nil, fmt.Errorf("get or create wallet: %w", err)
	}

	wallet = domain.NewWallet(userID, currency)
	if err := s.wallets.CreateWallet(ctx, s.dbExecutor, wallet); err != nil {
		if errors.Is(err, util.ErrDuplicateEntry) {
			// Lost a creation race; the other request's wallet is the primary one.
			return s.wallets.GetPrimaryWallet(ctx, s.dbExecutor, userID, currency)
		}
		return nil, fmt.Errorf("get or create wallet: %w", err)
	}
	s.logger.Info("Primary wallet created", "user_id", userID, "wallet_id", wallet.ID, "currency", currency)
	return wallet, nil
}

func (s *ledgerService) GetWallet(ctx context.Context, walletID int64) (*domain.Wallet, error) {
	wallet, err := s.wallets.GetWalletByID(ctx, s.dbExecutor, walletID)
	if err != nil {
		if errors.Is(err, util.ErrNotFound) {
			return nil, util.ErrWalletNotFound
		}
		return nil, fmt.Errorf("get wallet %d: %w", walletID, err)
	}
	return wallet, nil
}

func (s *ledgerService) GetVirtualAccount(ctx context.Context, userID int64, currency, blockchain string) (*domain.VirtualAccount, error) {
	account, err := s.accounts.GetUserVirtualAccount(ctx, s.dbExecutor, userID, currency, blockchain)
	if err != nil {
		if errors.Is(err, util.ErrNotFound) {
			return nil, fmt.Errorf("%s on %s: %w", currency, blockchain, util.ErrAccountNotFound)
		}
		return nil, err
	}
	return account, nil
}
