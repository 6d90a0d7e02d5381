// internal/service/buy.go
package service

import (
	"context"
	"fmt"

	"custody-ledger/internal/domain"
	"custody-ledger/internal/repository"
	"custody-ledger/internal/util"

	"github.com/shopspring/decimal"
)

// BuyRequest buys Amount of Currency on Blockchain with the user's local-currency wallet.
type BuyRequest struct {
	UserID     int64
	Currency   string
	Blockchain string
	Amount     decimal.Decimal
}

// BuyQuote is the read-only result of pricing a buy.
type BuyQuote struct {
	Currency            string          `json:"currency"`
	Blockchain          string          `json:"blockchain"`
	Amount              decimal.Decimal `json:"amount"`
	Price               decimal.Decimal `json:"price"`
	AmountUSD           decimal.Decimal `json:"amount_usd"`
	RateID              int64           `json:"rate_id"`
	Rate                decimal.Decimal `json:"rate"`
	AmountNGN           decimal.Decimal `json:"amount_ngn"`
	OnChain             bool            `json:"on_chain"`
	NetworkFee          decimal.Decimal `json:"network_fee"`
	FeeCurrency         string          `json:"fee_currency,omitempty"`
	WalletBalance       decimal.Decimal `json:"wallet_balance"`
	WalletBalanceAfter  decimal.Decimal `json:"wallet_balance_after"`
	AccountBalance      decimal.Decimal `json:"account_balance"`
	AccountBalanceAfter decimal.Decimal `json:"account_balance_after"`
	CanProceed          bool            `json:"can_proceed"`
	Reasons             []string        `json:"reasons,omitempty"`

	blockers blockers
	wallet   *domain.Wallet
	account  *domain.VirtualAccount
	network  *domain.Network
	fee      domain.FeeEstimate
}

func (s *settlementService) PreviewBuy(ctx context.Context, req BuyRequest) (*BuyQuote, error) {
	return s.quoteBuy(ctx, req, false)
}

func (s *settlementService) quoteBuy(ctx context.Context, req BuyRequest, execute bool) (*BuyQuote, error) {
	if req.UserID <= 0 {
		return nil, util.Invalid("user is required")
	}
	network, asset, err := s.asset(ctx, req.Currency, req.Blockchain)
	if err != nil {
		return nil, err
	}
	amount, err := normalizeAmount(req.Amount, asset)
	if err != nil {
		return nil, err
	}
	account, err := s.ledger.GetVirtualAccount(ctx, req.UserID, asset.Currency, asset.Blockchain)
	if err != nil {
		return nil, err
	}
	wallet, err := s.fiatWallet(ctx, req.UserID, execute)
	if err != nil {
		return nil, err
	}

	price, err := s.price(ctx, asset.Currency, asset.Blockchain)
	if err != nil {
		return nil, err
	}
	amountUSD := domain.USDValue(amount, price)
	rate, err := s.rates.GetRateForAmount(ctx, domain.TransactionTypeBuy, amountUSD)
	if err != nil {
		return nil, err
	}
	_, cost := fiatCost(amount, price, rate.Rate)

	q := &BuyQuote{
		Currency:            asset.Currency,
		Blockchain:          asset.Blockchain,
		Amount:              amount,
		Price:               price,
		AmountUSD:           amountUSD,
		RateID:              rate.ID,
		Rate:                rate.Rate,
		AmountNGN:           cost,
		OnChain:             network.OnChain,
		NetworkFee:          decimal.Zero,
		AccountBalance:      account.AvailableBalance,
		AccountBalanceAfter: account.AvailableBalance.Add(amount),
		wallet:              wallet,
		account:             account,
		network:             network,
	}

	if wallet != nil {
		q.WalletBalance = wallet.Balance
		if !wallet.IsActive() {
			q.blockers.add(fmt.Errorf("wallet is %s: %w", wallet.Status, util.ErrWalletInactive))
		}
	}
	q.WalletBalanceAfter = q.WalletBalance.Sub(cost)
	if q.WalletBalanceAfter.IsNegative() {
		q.blockers.add(fmt.Errorf("wallet balance %s is below cost %s: %w", q.WalletBalance, cost, util.ErrInsufficientBalance))
	}
	if !account.Usable() {
		q.blockers.add(fmt.Errorf("%s account: %w", asset.Currency, util.ErrAccountFrozen))
	}

	if network.OnChain {
		fee, err := s.estimateFee(ctx, domain.FeeRequest{
			Blockchain: network.Blockchain,
			From:       network.MasterAddress,
			To:         account.DepositAddress,
			Amount:     amount,
			Currency:   asset.Currency,
		})
		if err != nil {
			return nil, err
		}
		q.fee = fee
		q.NetworkFee = fee.Total()
		q.FeeCurrency = network.NativeCurrency
		if err := s.checkCustody(ctx, network, asset.Currency, amount, fee.Total(), &q.blockers); err != nil {
			return nil, err
		}
	}

	q.CanProceed = len(q.blockers) == 0
	q.Reasons = q.blockers.reasons()
	return q, nil
}

// checkCustody verifies the master wallet can fund amount of currency plus the fee
// in the native currency. Shortfalls are added as blockers.
func (s *settlementService) checkCustody(ctx context.Context, network *domain.Network, currency string, amount, fee decimal.Decimal, b *blockers) error {
	if network.IsNative(currency) {
		balance, err := s.externalBalance(ctx, network.Blockchain, network.MasterAddress, currency)
		if err != nil {
			return err
		}
		if balance.LessThan(amount.Add(fee)) {
			b.add(fmt.Errorf("custodial %s balance %s cannot cover %s plus fee %s: %w", currency, balance, amount, fee, util.ErrCustodyCapacity))
		}
		return nil
	}

	balance, err := s.externalBalance(ctx, network.Blockchain, network.MasterAddress, currency)
	if err != nil {
		return err
	}
	if balance.LessThan(amount) {
		b.add(fmt.Errorf("custodial %s balance %s cannot cover %s: %w", currency, balance, amount, util.ErrCustodyCapacity))
	}
	native, err := s.externalBalance(ctx, network.Blockchain, network.MasterAddress, network.NativeCurrency)
	if err != nil {
		return err
	}
	if native.LessThan(fee) {
		b.add(fmt.Errorf("custodial %s balance %s cannot cover fee %s: %w", network.NativeCurrency, native, fee, util.ErrCustodyCapacity))
	}
	return nil
}

func (s *settlementService) Buy(ctx context.Context, req BuyRequest) (*SettlementResult, error) {
	q, err := s.quoteBuy(ctx, req, true)
	if err != nil {
		return nil, fmt.Errorf("buy: %w", err)
	}
	if err := q.blockers.first(); err != nil {
		return nil, fmt.Errorf("buy: %w", err)
	}

	reference := domain.NewReference(string(domain.TransactionTypeBuy), req.UserID, s.now())
	intent := &settlementIntent{
		Reference:    reference,
		UserID:       req.UserID,
		Currency:     q.Currency,
		WalletID:     q.wallet.ID,
		AccountID:    q.account.ID,
		FiatAmount:   q.AmountNGN,
		CryptoAmount: q.Amount,
		Buy: &domain.BuyDetail{
			Amount:     q.Amount,
			Price:      q.Price,
			AmountUSD:  q.AmountUSD,
			Rate:       q.Rate,
			RateID:     q.RateID,
			AmountNGN:  q.AmountNGN,
			NetworkFee: q.NetworkFee,
			ToAddress:  q.account.DepositAddress,
		},
	}

	if q.network.OnChain {
		secret, err := s.decryptSecret(q.network.MasterSecret, "master wallet "+q.network.Blockchain)
		if err != nil {
			return nil, fmt.Errorf("buy: %w", err)
		}
		hash, err := s.send(ctx, domain.TransferRequest{
			Blockchain:     q.network.Blockchain,
			From:           q.network.MasterAddress,
			To:             q.account.DepositAddress,
			Amount:         q.Amount,
			Currency:       q.Currency,
			SigningSecret:  secret,
			Fee:            q.fee,
			IdempotencyKey: reference,
		})
		if err != nil {
			s.logger.Warn("Buy transfer failed, nothing was debited", "reference", reference, "user_id", req.UserID, "error", err)
			return nil, fmt.Errorf("buy: %w", err)
		}
		intent.Buy.TxHash = hash
		intent.Buy.FromAddress = q.network.MasterAddress
	}

	tx, err := s.applyBuy(ctx, intent)
	if err != nil {
		if !q.network.OnChain {
			return nil, fmt.Errorf("buy: %w", err)
		}
		return s.queueFailure(ctx, domain.OperationBuy, domain.StageLedger, intent,
			map[string]string{"tx_hash": intent.Buy.TxHash}, err)
	}

	s.logger.Info("Buy settled", "reference", reference, "user_id", req.UserID, "currency", q.Currency,
		"amount", q.Amount, "amount_ngn", q.AmountNGN, "tx_hash", intent.Buy.TxHash)
	s.notifySettled(ctx, tx, fmt.Sprintf("You bought %s %s for %s %s.", q.Amount, q.Currency, q.AmountNGN, domain.FiatCurrency))
	return successResult(tx), nil
}

// applyBuy debits the wallet, credits the account and records the buy in one unit.
func (s *settlementService) applyBuy(ctx context.Context, in *settlementIntent) (*domain.CryptoTransaction, error) {
	var record *domain.CryptoTransaction
	err := s.uow.run(ctx, "buy", func(ctx context.Context, q repository.DBExecutor) error {
		wallet, err := s.repos.Wallets.GetWalletByID(ctx, q, in.WalletID)
		if err != nil {
			return err
		}
		fiatTx := domain.NewFiatTransaction(in.Reference, wallet, domain.FiatTransactionCryptoBuy, in.FiatAmount,
			fmt.Sprintf("Buy %s %s", in.CryptoAmount, in.Currency))
		if err := s.repos.FiatTxs.CreateFiatTransaction(ctx, q, fiatTx); err != nil {
			return err
		}
		if _, err := s.ledger.DebitWalletTx(ctx, q, in.WalletID, in.FiatAmount, fiatTx.ID); err != nil {
			return err
		}
		account, err := s.ledger.CreditAccount(ctx, q, in.AccountID, in.CryptoAmount)
		if err != nil {
			return err
		}
		record = domain.NewCryptoTransaction(in.Reference, account, domain.CryptoStatusSuccessful, *in.Buy)
		return s.repos.CryptoTxs.CreateCryptoTransaction(ctx, q, record)
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}
