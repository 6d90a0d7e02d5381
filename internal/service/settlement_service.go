// internal/service/settlement_service.go
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"custody-ledger/internal/domain"
	"custody-ledger/internal/repository"
	"custody-ledger/internal/util"

	"github.com/jmoiron/sqlx/types"
	"github.com/shopspring/decimal"
)

// SettlementService sequences buy, sell, swap and send: quote, validate, optional
// external transfer, then one atomic ledger unit. External calls never run inside
// the unit. When the external leg succeeded but the ledger leg did not, the
// operation is queued as a settlement failure and reported as processing.
type SettlementService interface {
	PreviewBuy(ctx context.Context, req BuyRequest) (*BuyQuote, error)
	Buy(ctx context.Context, req BuyRequest) (*SettlementResult, error)
	PreviewSell(ctx context.Context, req SellRequest) (*SellQuote, error)
	Sell(ctx context.Context, req SellRequest) (*SettlementResult, error)
	PreviewSwap(ctx context.Context, req SwapRequest) (*SwapQuote, error)
	Swap(ctx context.Context, req SwapRequest) (*SettlementResult, error)
	PreviewSend(ctx context.Context, req SendRequest) (*SendQuote, error)
	Send(ctx context.Context, req SendRequest) (*SettlementResult, error)
	// CreditDeposit credits an inbound on-chain deposit once per (blockchain, tx hash).
	CreditDeposit(ctx context.Context, req DepositRequest) (*domain.CryptoTransaction, error)
	// Resume re-drives a queued settlement failure. It is safe to call repeatedly.
	Resume(ctx context.Context, f *domain.SettlementFailure) error
}

// SettlementConfig tunes confirmation polling and failure queueing.
type SettlementConfig struct {
	ConfirmAttempts  int
	ConfirmInterval  time.Duration
	RetryMaxAttempts int
	RetryBaseBackoff time.Duration
	NotifyTimeout    time.Duration
}

// SettlementDeps are the collaborators of the settlement service.
type SettlementDeps struct {
	DB        repository.DBExecutor
	Repos     repository.Repositories
	Ledger    LedgerService
	Rates     RateService
	Prices    PriceSource
	Transfers ValueTransferProvider
	Networks  *domain.NetworkRegistry
	Cipher    SecretCipher
	Sink      NotificationSink
	UoW       UnitOfWork
	Config    SettlementConfig
	Logger    *slog.Logger
}

// SettlementResult is what execution returns. Transaction is nil while Status is processing.
type SettlementResult struct {
	Reference   string                         `json:"reference"`
	Status      domain.CryptoTransactionStatus `json:"status"`
	Message     string                         `json:"message,omitempty"`
	Transaction *domain.CryptoTransaction      `json:"transaction,omitempty"`
}

type settlementService struct {
	db        repository.DBExecutor
	repos     repository.Repositories
	ledger    LedgerService
	rates     RateService
	prices    PriceSource
	transfers ValueTransferProvider
	networks  *domain.NetworkRegistry
	cipher    SecretCipher
	notifier  *notifier
	uow       UnitOfWork
	cfg       SettlementConfig
	logger    *slog.Logger
	now       func() time.Time
}

// NewSettlementService creates a new instance of SettlementService.
func NewSettlementService(deps SettlementDeps) SettlementService {
	cfg := deps.Config
	if cfg.ConfirmAttempts <= 0 {
		cfg.ConfirmAttempts = 10
	}
	if cfg.ConfirmInterval <= 0 {
		cfg.ConfirmInterval = 3 * time.Second
	}
	if cfg.RetryMaxAttempts <= 0 {
		cfg.RetryMaxAttempts = 5
	}
	if cfg.RetryBaseBackoff <= 0 {
		cfg.RetryBaseBackoff = 30 * time.Second
	}
	return &settlementService{
		db:        deps.DB,
		repos:     deps.Repos,
		ledger:    deps.Ledger,
		rates:     deps.Rates,
		prices:    deps.Prices,
		transfers: deps.Transfers,
		networks:  deps.Networks,
		cipher:    deps.Cipher,
		notifier:  newNotifier(deps.Sink, deps.Config.NotifyTimeout, deps.Logger),
		uow:       deps.UoW,
		cfg:       cfg,
		logger:    deps.Logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// asset resolves the network and asset metadata for a currency on a blockchain.
func (s *settlementService) asset(ctx context.Context, currency, blockchain string) (*domain.Network, *domain.WalletCurrency, error) {
	network, ok := s.networks.Get(blockchain)
	if !ok {
		return nil, nil, util.Invalid("unsupported blockchain %q", blockchain)
	}
	asset, err := s.repos.Accounts.GetWalletCurrency(ctx, s.db, currency, blockchain)
	if err != nil {
		if errors.Is(err, util.ErrNotFound) {
			return nil, nil, util.Invalid("unsupported currency %s on %s", currency, blockchain)
		}
		return nil, nil, err
	}
	return network, asset, nil
}

func (s *settlementService) price(ctx context.Context, currency, blockchain string) (decimal.Decimal, error) {
	price, err := s.prices.USDPrice(ctx, currency, blockchain)
	if err != nil {
		return decimal.Zero, fmt.Errorf("price of %s on %s: %w", currency, blockchain, err)
	}
	if !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("price of %s on %s is not available", currency, blockchain)
	}
	return price, nil
}

// normalizeAmount truncates to the asset precision and rejects non-positive results.
func normalizeAmount(amount decimal.Decimal, asset *domain.WalletCurrency) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, util.Invalid("amount must be positive")
	}
	truncated := domain.TruncateCrypto(amount, asset.Decimals)
	if !truncated.IsPositive() {
		return decimal.Zero, util.Invalid("amount is below the smallest unit of %s", asset.Currency)
	}
	return truncated, nil
}

// fiatWallet finds the user's local-currency wallet. Previews never create one;
// a missing wallet reads as a zero balance.
func (s *settlementService) fiatWallet(ctx context.Context, userID int64, create bool) (*domain.Wallet, error) {
	if create {
		return s.ledger.GetOrCreatePrimaryWallet(ctx, userID, domain.FiatCurrency)
	}
	wallet, err := s.repos.Wallets.GetPrimaryWallet(ctx, s.db, userID, domain.FiatCurrency)
	if errors.Is(err, util.ErrNotFound) {
		return nil, nil
	}
	return wallet, err
}

func (s *settlementService) estimateFee(ctx context.Context, req domain.FeeRequest) (domain.FeeEstimate, error) {
	fee, err := s.transfers.EstimateFee(ctx, req)
	if err != nil {
		return domain.FeeEstimate{}, fmt.Errorf("%w: %s %s: %v", util.ErrFeeEstimationFailed, req.Amount, req.Currency, err)
	}
	return fee, nil
}

func (s *settlementService) externalBalance(ctx context.Context, blockchain, address, currency string) (decimal.Decimal, error) {
	balance, err := s.transfers.GetBalance(ctx, blockchain, address, currency)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: balance of %s on %s: %v", util.ErrExternalTransferFailed, currency, blockchain, err)
	}
	return balance, nil
}

// send submits a transfer and normalises provider errors. An empty hash is a failure.
func (s *settlementService) send(ctx context.Context, req domain.TransferRequest) (string, error) {
	hash, err := s.transfers.Send(ctx, req)
	if err != nil {
		if errors.Is(err, util.ErrProviderInsufficientFunds) {
			return "", fmt.Errorf("%w: %w", util.ErrExternalTransferFailed, err)
		}
		return "", fmt.Errorf("%w: %v", util.ErrExternalTransferFailed, err)
	}
	if strings.TrimSpace(hash) == "" {
		return "", fmt.Errorf("%w: provider returned no transaction hash", util.ErrExternalTransferFailed)
	}
	return hash, nil
}

// awaitConfirmation polls a submitted transfer. It gives up after the configured
// attempts and lets the caller proceed; only an explicit on-chain failure is an error.
func (s *settlementService) awaitConfirmation(ctx context.Context, blockchain, txHash string) error {
	for attempt := 1; attempt <= s.cfg.ConfirmAttempts; attempt++ {
		status, err := s.transfers.TransferStatus(ctx, blockchain, txHash)
		switch {
		case err != nil:
			s.logger.Warn("Transfer status lookup failed", "tx_hash", txHash, "attempt", attempt, "error", err)
		case status == domain.TransferConfirmed:
			return nil
		case status == domain.TransferFailed:
			return fmt.Errorf("%w: transfer %s failed on %s", util.ErrExternalTransferFailed, txHash, blockchain)
		}
		if attempt == s.cfg.ConfirmAttempts {
			break
		}
		timer := time.NewTimer(s.cfg.ConfirmInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Warn("Stopped waiting for confirmation", "tx_hash", txHash, "error", ctx.Err())
			return nil
		case <-timer.C:
		}
	}
	s.logger.Warn("Confirmation not observed, proceeding", "tx_hash", txHash, "blockchain", blockchain,
		"attempts", s.cfg.ConfirmAttempts)
	return nil
}

func (s *settlementService) decryptSecret(ciphertext, owner string) (string, error) {
	secret, err := s.cipher.Decrypt(ciphertext)
	if err != nil {
		return "", fmt.Errorf("decrypt signing secret for %s: %w", owner, err)
	}
	return secret, nil
}

// settlementIntent is everything needed to (re)apply an operation's ledger unit.
// It is the payload of a settlement failure row.
type settlementIntent struct {
	Reference    string             `json:"reference"`
	UserID       int64              `json:"user_id"`
	Currency     string             `json:"currency"`
	WalletID     int64              `json:"wallet_id,omitempty"`
	AccountID    int64              `json:"account_id"`
	FeeAccountID int64              `json:"fee_account_id,omitempty"`
	FiatAmount   decimal.Decimal    `json:"fiat_amount"`
	CryptoAmount decimal.Decimal    `json:"crypto_amount"`
	FeeAmount    decimal.Decimal    `json:"fee_amount"`
	Buy          *domain.BuyDetail  `json:"buy,omitempty"`
	Sell         *domain.SellDetail `json:"sell,omitempty"`
	Send         *domain.SendDetail `json:"send,omitempty"`
	// TokenTransfer is the SELL leg still owed after a successful native top-up.
	TokenTransfer *transferIntent `json:"token_transfer,omitempty"`
}

type transferIntent struct {
	Blockchain     string             `json:"blockchain"`
	From           string             `json:"from"`
	To             string             `json:"to"`
	Amount         decimal.Decimal    `json:"amount"`
	Currency       string             `json:"currency"`
	Fee            domain.FeeEstimate `json:"fee"`
	IdempotencyKey string             `json:"idempotency_key"`
}

// queueFailure records a partial settlement and reports the operation as processing.
// If the row itself cannot be written the failure is logged for manual reconciliation
// and ErrPartialSettlement is returned.
func (s *settlementService) queueFailure(ctx context.Context, op domain.SettlementOperation, stage domain.SettlementStage,
	intent *settlementIntent, refs map[string]string, cause error) (*SettlementResult, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	attrs := []any{
		"reference", intent.Reference, "operation", op, "stage", stage, "user_id", intent.UserID,
		"fiat_amount", intent.FiatAmount, "crypto_amount", intent.CryptoAmount, "error", cause,
	}
	for k, v := range refs {
		attrs = append(attrs, k, v)
	}

	f, err := newSettlementFailure(op, stage, intent.Reference, intent.UserID, intent, refs, cause,
		s.cfg.RetryMaxAttempts, s.now().Add(s.cfg.RetryBaseBackoff))
	if err == nil {
		err = s.uow.run(ctx, "record settlement failure", func(ctx context.Context, q repository.DBExecutor) error {
			return s.repos.Failures.CreateSettlementFailure(ctx, q, f)
		})
	}
	if err != nil {
		s.logger.Error("Partial settlement could not be queued, manual reconciliation required",
			append(attrs, "queue_error", err)...)
		return nil, fmt.Errorf("%w: %s: %v", util.ErrPartialSettlement, intent.Reference, cause)
	}

	s.logger.Error("Partial settlement queued for retry", append(attrs, "failure_id", f.ID)...)
	s.notifier.notify(ctx, domain.Notification{
		Kind:      domain.NotificationProcessing,
		UserID:    intent.UserID,
		Reference: intent.Reference,
		Title:     "Transaction processing",
		Body:      "Your transaction is processing and will be retried automatically.",
	})
	return &SettlementResult{
		Reference: intent.Reference,
		Status:    domain.CryptoStatusProcessing,
		Message:   "processing, will retry",
	}, nil
}

func newSettlementFailure(op domain.SettlementOperation, stage domain.SettlementStage, reference string, userID int64,
	payload any, refs map[string]string, cause error, maxAttempts int, next time.Time) (*domain.SettlementFailure, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode settlement payload: %w", err)
	}
	if refs == nil {
		refs = map[string]string{}
	}
	refBody, err := json.Marshal(refs)
	if err != nil {
		return nil, fmt.Errorf("encode settlement refs: %w", err)
	}
	now := time.Now().UTC()
	return &domain.SettlementFailure{
		Reference:     reference,
		Operation:     op,
		Stage:         stage,
		Status:        domain.FailurePending,
		UserID:        userID,
		MaxAttempts:   maxAttempts,
		NextAttemptAt: next,
		LastError:     cause.Error(),
		Payload:       types.JSONText(body),
		ExternalRefs:  types.JSONText(refBody),
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

func decodeRefs(f *domain.SettlementFailure) map[string]string {
	refs := map[string]string{}
	if len(f.ExternalRefs) > 0 {
		_ = f.ExternalRefs.Unmarshal(&refs)
	}
	return refs
}

func encodeRefs(f *domain.SettlementFailure, refs map[string]string) {
	if body, err := json.Marshal(refs); err == nil {
		f.ExternalRefs = types.JSONText(body)
	}
}

// alreadyApplied reports whether the ledger unit for reference has committed.
func (s *settlementService) alreadyApplied(ctx context.Context, reference string) (bool, error) {
	_, err := s.repos.CryptoTxs.GetCryptoTransactionByReference(ctx, s.db, reference)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, util.ErrNotFound) {
		return false, nil
	}
	return false, err
}

func (s *settlementService) Resume(ctx context.Context, f *domain.SettlementFailure) error {
	var intent settlementIntent
	if err := f.Payload.Unmarshal(&intent); err != nil {
		return fmt.Errorf("resume %s: decode payload: %w", f.Reference, err)
	}
	done, err := s.alreadyApplied(ctx, f.Reference)
	if err != nil {
		return fmt.Errorf("resume %s: %w", f.Reference, err)
	}
	if done {
		return nil
	}

	switch {
	case f.Operation == domain.OperationBuy && f.Stage == domain.StageLedger:
		_, err = s.applyBuy(ctx, &intent)
	case f.Operation == domain.OperationSell && f.Stage == domain.StageTokenTransfer:
		err = s.resumeSellTransfer(ctx, f, &intent)
	case f.Operation == domain.OperationSell && f.Stage == domain.StageLedger:
		_, err = s.applySell(ctx, &intent)
	case f.Operation == domain.OperationSend && f.Stage == domain.StageLedger:
		_, err = s.applySend(ctx, &intent)
	default:
		return fmt.Errorf("resume %s: unsupported %s/%s", f.Reference, f.Operation, f.Stage)
	}
	if errors.Is(err, util.ErrDuplicateEntry) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("resume %s: %w", f.Reference, err)
	}
	return nil
}

func (s *settlementService) notifySettled(ctx context.Context, tx *domain.CryptoTransaction, body string) {
	s.notifier.notify(ctx, domain.Notification{
		Kind:      domain.NotificationSettled,
		UserID:    tx.UserID,
		Reference: tx.Reference,
		Title:     fmt.Sprintf("%s %s completed", tx.Type, tx.Currency),
		Body:      body,
		Data: map[string]string{
			"type":       string(tx.Type),
			"currency":   tx.Currency,
			"blockchain": tx.Blockchain,
		},
	})
}

func successResult(tx *domain.CryptoTransaction) *SettlementResult {
	return &SettlementResult{Reference: tx.Reference, Status: tx.Status, Transaction: tx}
}
