// internal/service/swap.go
package service

import (
	"context"
	"fmt"
	"strings"

	"custody-ledger/internal/domain"
	"custody-ledger/internal/repository"
	"custody-ledger/internal/util"

	"github.com/shopspring/decimal"
)

// SwapRequest converts Amount of one of the user's assets into another. Swaps settle
// on the internal ledger only; no external transfer takes place.
type SwapRequest struct {
	UserID         int64
	FromCurrency   string
	FromBlockchain string
	ToCurrency     string
	ToBlockchain   string
	Amount         decimal.Decimal
}

type SwapQuote struct {
	FromCurrency     string              `json:"from_currency"`
	FromBlockchain   string              `json:"from_blockchain"`
	ToCurrency       string              `json:"to_currency"`
	ToBlockchain     string              `json:"to_blockchain"`
	FromAmount       decimal.Decimal     `json:"from_amount"`
	ToAmount         decimal.Decimal     `json:"to_amount"`
	Fee              decimal.Decimal     `json:"fee"`
	TotalDebit       decimal.Decimal     `json:"total_debit"`
	FromPrice        decimal.Decimal     `json:"from_price"`
	ToPrice          decimal.Decimal     `json:"to_price"`
	AmountUSD        decimal.Decimal     `json:"amount_usd"`
	AmountNGN        decimal.NullDecimal `json:"amount_ngn"`
	FromBalance      decimal.Decimal     `json:"from_balance"`
	FromBalanceAfter decimal.Decimal     `json:"from_balance_after"`
	ToBalance        decimal.Decimal     `json:"to_balance"`
	ToBalanceAfter   decimal.Decimal     `json:"to_balance_after"`
	CanProceed       bool                `json:"can_proceed"`
	Reasons          []string            `json:"reasons,omitempty"`

	blockers blockers
	from     *domain.VirtualAccount
	to       *domain.VirtualAccount
}

func (s *settlementService) PreviewSwap(ctx context.Context, req SwapRequest) (*SwapQuote, error) {
	return s.quoteSwap(ctx, req)
}

func (s *settlementService) quoteSwap(ctx context.Context, req SwapRequest) (*SwapQuote, error) {
	if req.UserID <= 0 {
		return nil, util.Invalid("user is required")
	}
	if strings.EqualFold(req.FromCurrency, req.ToCurrency) && strings.EqualFold(req.FromBlockchain, req.ToBlockchain) {
		return nil, util.Invalid("cannot swap %s on %s into itself", req.FromCurrency, req.FromBlockchain)
	}
	fromNetwork, fromAsset, err := s.asset(ctx, req.FromCurrency, req.FromBlockchain)
	if err != nil {
		return nil, err
	}
	_, toAsset, err := s.asset(ctx, req.ToCurrency, req.ToBlockchain)
	if err != nil {
		return nil, err
	}
	amount, err := normalizeAmount(req.Amount, fromAsset)
	if err != nil {
		return nil, err
	}
	from, err := s.ledger.GetVirtualAccount(ctx, req.UserID, fromAsset.Currency, fromAsset.Blockchain)
	if err != nil {
		return nil, err
	}
	to, err := s.ledger.GetVirtualAccount(ctx, req.UserID, toAsset.Currency, toAsset.Blockchain)
	if err != nil {
		return nil, err
	}

	fromPrice, err := s.price(ctx, fromAsset.Currency, fromAsset.Blockchain)
	if err != nil {
		return nil, err
	}
	toPrice, err := s.price(ctx, toAsset.Currency, toAsset.Blockchain)
	if err != nil {
		return nil, err
	}
	usd, toAmount := convertAsset(amount, fromPrice, toPrice, toAsset.Decimals)
	if !toAmount.IsPositive() {
		return nil, util.Invalid("%s %s converts to less than the smallest unit of %s", amount, fromAsset.Currency, toAsset.Currency)
	}

	fee := decimal.Zero
	if fromNetwork.OnChain {
		estimate, err := s.estimateFee(ctx, domain.FeeRequest{
			Blockchain: fromNetwork.Blockchain,
			From:       from.DepositAddress,
			To:         fromNetwork.MasterAddress,
			Amount:     amount,
			Currency:   fromAsset.Currency,
		})
		if err != nil {
			return nil, err
		}
		fee = estimate.Total()
		if !fromNetwork.IsNative(fromAsset.Currency) {
			nativePrice, err := s.price(ctx, fromNetwork.NativeCurrency, fromNetwork.Blockchain)
			if err != nil {
				return nil, err
			}
			fee = feeInAsset(fee, nativePrice, fromPrice, fromAsset.Decimals)
		} else {
			fee = domain.CeilCrypto(fee, fromAsset.Decimals)
		}
	}

	rate, err := optionalRate(ctx, s.rates, domain.TransactionTypeSwap, usd)
	if err != nil {
		return nil, err
	}
	var amountNGN decimal.NullDecimal
	if rate != nil {
		amountNGN = decimal.NewNullDecimal(domain.FiatValue(usd, rate.Rate))
	}

	total := amount.Add(fee)
	q := &SwapQuote{
		FromCurrency:     fromAsset.Currency,
		FromBlockchain:   fromAsset.Blockchain,
		ToCurrency:       toAsset.Currency,
		ToBlockchain:     toAsset.Blockchain,
		FromAmount:       amount,
		ToAmount:         toAmount,
		Fee:              fee,
		TotalDebit:       total,
		FromPrice:        fromPrice,
		ToPrice:          toPrice,
		AmountUSD:        usd,
		AmountNGN:        amountNGN,
		FromBalance:      from.AvailableBalance,
		FromBalanceAfter: from.AvailableBalance.Sub(total),
		ToBalance:        to.AvailableBalance,
		ToBalanceAfter:   to.AvailableBalance.Add(toAmount),
		from:             from,
		to:               to,
	}
	if !from.Usable() {
		q.blockers.add(fmt.Errorf("%s account: %w", fromAsset.Currency, util.ErrAccountFrozen))
	}
	if !to.Usable() {
		q.blockers.add(fmt.Errorf("%s account: %w", toAsset.Currency, util.ErrAccountFrozen))
	}
	if q.FromBalanceAfter.IsNegative() {
		q.blockers.add(fmt.Errorf("%s balance %s is below %s plus fee %s: %w",
			fromAsset.Currency, from.AvailableBalance, amount, fee, util.ErrInsufficientBalance))
	}
	q.CanProceed = len(q.blockers) == 0
	q.Reasons = q.blockers.reasons()
	return q, nil
}

func (s *settlementService) Swap(ctx context.Context, req SwapRequest) (*SettlementResult, error) {
	q, err := s.quoteSwap(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("swap: %w", err)
	}
	if err := q.blockers.first(); err != nil {
		return nil, fmt.Errorf("swap: %w", err)
	}

	reference := domain.NewReference(string(domain.TransactionTypeSwap), req.UserID, s.now())
	detail := domain.SwapDetail{
		FromCurrency:       q.FromCurrency,
		FromBlockchain:     q.FromBlockchain,
		ToCurrency:         q.ToCurrency,
		ToBlockchain:       q.ToBlockchain,
		ToVirtualAccountID: q.to.ID,
		FromAmount:         q.FromAmount,
		ToAmount:           q.ToAmount,
		Fee:                q.Fee,
		FromPrice:          q.FromPrice,
		ToPrice:            q.ToPrice,
		AmountUSD:          q.AmountUSD,
		AmountNGN:          q.AmountNGN,
	}

	var record *domain.CryptoTransaction
	err = s.uow.run(ctx, "swap", func(ctx context.Context, tx repository.DBExecutor) error {
		var (
			from *domain.VirtualAccount
			err  error
		)
		// Accounts are locked in ascending id order.
		if q.from.ID < q.to.ID {
			if from, err = s.ledger.DebitAccount(ctx, tx, q.from.ID, q.TotalDebit); err != nil {
				return err
			}
			if _, err = s.ledger.CreditAccount(ctx, tx, q.to.ID, q.ToAmount); err != nil {
				return err
			}
		} else {
			if _, err = s.ledger.CreditAccount(ctx, tx, q.to.ID, q.ToAmount); err != nil {
				return err
			}
			if from, err = s.ledger.DebitAccount(ctx, tx, q.from.ID, q.TotalDebit); err != nil {
				return err
			}
		}
		record = domain.NewCryptoTransaction(reference, from, domain.CryptoStatusSuccessful, detail)
		return s.repos.CryptoTxs.CreateCryptoTransaction(ctx, tx, record)
	})
	if err != nil {
		return nil, fmt.Errorf("swap: %w", err)
	}

	s.logger.Info("Swap settled", "reference", reference, "user_id", req.UserID,
		"from", q.FromCurrency, "to", q.ToCurrency, "from_amount", q.FromAmount, "to_amount", q.ToAmount, "fee", q.Fee)
	s.notifySettled(ctx, record, fmt.Sprintf("You swapped %s %s for %s %s.", q.FromAmount, q.FromCurrency, q.ToAmount, q.ToCurrency))
	return successResult(record), nil
}
