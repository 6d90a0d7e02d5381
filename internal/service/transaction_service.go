// internal/service/transaction_service.go
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
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// TransactionPage is one newest-first page of crypto transactions.
type TransactionPage struct {
	Items  []domain.CryptoTransaction `json:"items"`
	Total  int64                      `json:"total"`
	Limit  int                        `json:"limit"`
	Offset int                        `json:"offset"`
}

// FiatTransactionPage is one newest-first page of wallet movements.
type FiatTransactionPage struct {
	Items  []domain.FiatTransaction `json:"items"`
	Total  int64                    `json:"total"`
	Limit  int                      `json:"limit"`
	Offset int                      `json:"offset"`
}

// TransactionSummary is the flat presentation of a crypto transaction.
type TransactionSummary struct {
	Reference string                         `json:"reference"`
	Type      domain.TransactionType         `json:"type"`
	Status    domain.CryptoTransactionStatus `json:"status"`
	From      string                         `json:"from"`
	To        string                         `json:"to"`
	Amount    string                         `json:"amount"`
	Date      time.Time                      `json:"date"`
}

// TransactionService reads the immutable transaction records.
type TransactionService interface {
	ListTransactions(ctx context.Context, filter domain.TransactionFilter) (*TransactionPage, error)
	GetTransaction(ctx context.Context, reference string) (*domain.CryptoTransaction, error)
	ListWalletTransactions(ctx context.Context, walletID int64, limit, offset int) (*FiatTransactionPage, error)
	Summarize(tx *domain.CryptoTransaction) TransactionSummary
}

type transactionService struct {
	dbExecutor repository.DBExecutor
	cryptoTxs  repository.CryptoTransactionRepository
	fiatTxs    repository.FiatTransactionRepository
	wallets    repository.WalletRepository
	logger     *slog.Logger
}

// NewTransactionService creates a new instance of TransactionService.
func NewTransactionService(
	dbExecutor repository.DBExecutor,
	cryptoTxs repository.CryptoTransactionRepository,
	fiatTxs repository.FiatTransactionRepository,
	wallets repository.WalletRepository,
	logger *slog.Logger,
) TransactionService {
	return &transactionService{
		dbExecutor: dbExecutor,
		cryptoTxs:  cryptoTxs,
		fiatTxs:    fiatTxs,
		wallets:    wallets,
		logger:     logger,
	}
}

func pageBounds(limit, offset int) (int, int, error) {
	if offset < 0 {
		return 0, 0, util.Invalid("offset must not be negative")
	}
	switch {
	case limit <= 0:
		limit = defaultPageSize
	case limit > maxPageSize:
		limit = maxPageSize
	}
	return limit, offset, nil
}

func (s *transactionService) ListTransactions(ctx context.Context, filter domain.TransactionFilter) (*TransactionPage, error) {
	if filter.UserID == 0 && filter.VirtualAccountID == 0 {
		return nil, util.Invalid("a user or virtual account is required")
	}
	if filter.Type != "" && !filter.Type.Valid() {
		return nil, util.Invalid("unknown transaction type %q", filter.Type)
	}
	limit, offset, err := pageBounds(filter.Limit, filter.Offset)
	if err != nil {
		return nil, err
	}
	filter.Limit, filter.Offset = limit, offset

	items, total, err := s.cryptoTxs.ListCryptoTransactions(ctx, s.dbExecutor, filter)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	if items == nil {
		items = []domain.CryptoTransaction{}
	}
	return &TransactionPage{Items: items, Total: total, Limit: limit, Offset: offset}, nil
}

func (s *transactionService) GetTransaction(ctx context.Context, reference string) (*domain.CryptoTransaction, error) {
	if reference == "" {
		return nil, util.Invalid("reference is required")
	}
	tx, err := s.cryptoTxs.GetCryptoTransactionByReference(ctx, s.dbExecutor, reference)
	if err != nil {
		if errors.Is(err, util.ErrNotFound) {
			return nil, fmt.Errorf("transaction %s: %w", reference, util.ErrNotFound)
		}
		return nil, fmt.Errorf("get transaction: %w", err)
	}
	return tx, nil
}

func (s *transactionService) ListWalletTransactions(ctx context.Context, walletID int64, limit, offset int) (*FiatTransactionPage, error) {
	limit, offset, err := pageBounds(limit, offset)
	if err != nil {
		return nil, err
	}
	if _, err := s.wallets.GetWalletByID(ctx, s.dbExecutor, walletID); err != nil {
		if errors.Is(err, util.ErrNotFound) {
			return nil, util.ErrWalletNotFound
		}
		return nil, fmt.Errorf("list wallet transactions: %w", err)
	}
	items, total, err := s.fiatTxs.ListFiatTransactionsByWallet(ctx, s.dbExecutor, walletID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list wallet transactions: %w", err)
	}
	if items == nil {
		items = []domain.FiatTransaction{}
	}
	return &FiatTransactionPage{Items: items, Total: total, Limit: limit, Offset: offset}, nil
}

func (s *transactionService) Summarize(tx *domain.CryptoTransaction) TransactionSummary {
	sum := TransactionSummary{
		Reference: tx.Reference,
		Type:      tx.Type,
		Status:    tx.Status,
		Date:      tx.CreatedAt,
	}
	amount := func(v fmt.Stringer, currency string) string { return v.String() + " " + currency }

	switch d := tx.Detail.(type) {
	case domain.BuyDetail:
		sum.From = amount(d.AmountNGN, domain.FiatCurrency)
		sum.To = amount(d.Amount, tx.Currency)
		sum.Amount = sum.To
	case domain.SellDetail:
		sum.From = amount(d.Amount, tx.Currency)
		sum.To = amount(d.PayoutNGN, domain.FiatCurrency)
		sum.Amount = sum.From
	case domain.SendDetail:
		sum.From = d.FromAddress
		sum.To = d.ToAddress
		sum.Amount = amount(d.Amount, tx.Currency)
	case domain.ReceiveDetail:
		sum.From = d.FromAddress
		sum.To = d.ToAddress
		sum.Amount = amount(d.Amount, tx.Currency)
	case domain.SwapDetail:
		sum.From = amount(d.FromAmount, d.FromCurrency)
		sum.To = amount(d.ToAmount, d.ToCurrency)
		sum.Amount = sum.From
	default:
		s.logger.Warn("Transaction has no detail record", "reference", tx.Reference, "type", tx.Type)
	}
	return sum
}
