// internal/service/receive.go
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"custody-ledger/internal/domain"
	"custody-ledger/internal/repository"
	"custody-ledger/internal/util"

	"github.com/shopspring/decimal"
)

// DepositRequest is an inbound transfer observed on chain to a user's deposit address.
type DepositRequest struct {
	Blockchain  string
	Currency    string
	ToAddress   string
	FromAddress string
	TxHash      string
	Amount      decimal.Decimal
}

func (s *settlementService) CreditDeposit(ctx context.Context, req DepositRequest) (*domain.CryptoTransaction, error) {
	txHash := strings.TrimSpace(req.TxHash)
	if txHash == "" {
		return nil, util.Invalid("deposit tx hash is required")
	}
	_, asset, err := s.asset(ctx, req.Currency, req.Blockchain)
	if err != nil {
		return nil, err
	}
	amount, err := normalizeAmount(req.Amount, asset)
	if err != nil {
		return nil, err
	}

	if existing, err := s.repos.CryptoTxs.FindReceiveByTxHash(ctx, s.db, asset.Blockchain, txHash); err == nil {
		return existing, nil
	} else if !errors.Is(err, util.ErrNotFound) {
		return nil, fmt.Errorf("credit deposit: %w", err)
	}

	owner, err := s.repos.Accounts.FindVirtualAccountByAddress(ctx, s.db, asset.Blockchain, req.ToAddress)
	if err != nil {
		if errors.Is(err, util.ErrNotFound) {
			return nil, fmt.Errorf("credit deposit: no account owns %s: %w", req.ToAddress, util.ErrAccountNotFound)
		}
		return nil, fmt.Errorf("credit deposit: %w", err)
	}
	account, err := s.ledger.GetVirtualAccount(ctx, owner.UserID, asset.Currency, asset.Blockchain)
	if err != nil {
		return nil, fmt.Errorf("credit deposit: %w", err)
	}

	amountUSD := amount.Mul(asset.Price)
	if price, err := s.price(ctx, asset.Currency, asset.Blockchain); err == nil {
		amountUSD = domain.USDValue(amount, price)
	} else {
		s.logger.Warn("Deposit priced from stored currency price", "currency", asset.Currency, "error", err)
		amountUSD = domain.RoundUSD(amountUSD)
	}

	reference := domain.NewReference(string(domain.TransactionTypeReceive), owner.UserID, s.now())
	detail := domain.ReceiveDetail{
		Amount:      amount,
		AmountUSD:   amountUSD,
		TxHash:      txHash,
		FromAddress: req.FromAddress,
		ToAddress:   req.ToAddress,
	}
	var record *domain.CryptoTransaction
	err = s.uow.run(ctx, "credit deposit", func(ctx context.Context, q repository.DBExecutor) error {
		credited, err := s.ledger.CreditAccount(ctx, q, account.ID, amount)
		if err != nil {
			return err
		}
		record = domain.NewCryptoTransaction(reference, credited, domain.CryptoStatusSuccessful, detail)
		return s.repos.CryptoTxs.CreateCryptoTransaction(ctx, q, record)
	})
	if errors.Is(err, util.ErrDuplicateEntry) {
		// Credited concurrently by another delivery of the same deposit.
		return s.repos.CryptoTxs.FindReceiveByTxHash(ctx, s.db, asset.Blockchain, txHash)
	}
	if err != nil {
		return nil, fmt.Errorf("credit deposit: %w", err)
	}

	s.logger.Info("Deposit credited", "reference", reference, "user_id", owner.UserID, "currency", asset.Currency,
		"blockchain", asset.Blockchain, "amount", amount, "tx_hash", txHash)
	s.notifySettled(ctx, record, fmt.Sprintf("You received %s %s.", amount, asset.Currency))
	return record, nil
}
