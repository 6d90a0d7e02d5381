// internal/service/sell.go
package service

import (
	"context"
	"fmt"

	"custody-ledger/internal/domain"
	"custody-ledger/internal/repository"
	"custody-ledger/internal/util"

	"github.com/shopspring/decimal"
)

// SellRequest sells Amount of Currency on Blockchain into the user's local-currency wallet.
type SellRequest struct {
	UserID     int64
	Currency   string
	Blockchain string
	Amount     decimal.Decimal
}

// SellQuote is the read-only result of pricing a sell. PayoutNGN is GrossNGN less
// FeeNGN, the network fees converted at the same tier rate.
type SellQuote struct {
	Currency            string          `json:"currency"`
	Blockchain          string          `json:"blockchain"`
	Amount              decimal.Decimal `json:"amount"`
	Price               decimal.Decimal `json:"price"`
	AmountUSD           decimal.Decimal `json:"amount_usd"`
	RateID              int64           `json:"rate_id"`
	Rate                decimal.Decimal `json:"rate"`
	GrossNGN            decimal.Decimal `json:"gross_ngn"`
	OnChain             bool            `json:"on_chain"`
	NetworkFee          decimal.Decimal `json:"network_fee"`
	FeeCurrency         string          `json:"fee_currency,omitempty"`
	FeeNGN              decimal.Decimal `json:"fee_ngn"`
	PayoutNGN           decimal.Decimal `json:"payout_ngn"`
	TopUpRequired       bool            `json:"top_up_required"`
	TopUpAmount         decimal.Decimal `json:"top_up_amount"`
	AccountBalance      decimal.Decimal `json:"account_balance"`
	AccountBalanceAfter decimal.Decimal `json:"account_balance_after"`
	WalletBalance       decimal.Decimal `json:"wallet_balance"`
	WalletBalanceAfter  decimal.Decimal `json:"wallet_balance_after"`
	CanProceed          bool            `json:"can_proceed"`
	Reasons             []string        `json:"reasons,omitempty"`

	blockers blockers
	wallet   *domain.Wallet
	account  *domain.VirtualAccount
	network  *domain.Network
	tokenFee domain.FeeEstimate
	topUpFee domain.FeeEstimate
}

func (s *settlementService) PreviewSell(ctx context.Context, req SellRequest) (*SellQuote, error) {
	return s.quoteSell(ctx, req, false)
}

func (s *settlementService) quoteSell(ctx context.Context, req SellRequest, execute bool) (*SellQuote, error) {
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
	rate, err := s.rates.GetRateForAmount(ctx, domain.TransactionTypeSell, amountUSD)
	if err != nil {
		return nil, err
	}
	_, gross := fiatCost(amount, price, rate.Rate)

	q := &SellQuote{
		Currency:            asset.Currency,
		Blockchain:          asset.Blockchain,
		Amount:              amount,
		Price:               price,
		AmountUSD:           amountUSD,
		RateID:              rate.ID,
		Rate:                rate.Rate,
		GrossNGN:            gross,
		OnChain:             network.OnChain,
		NetworkFee:          decimal.Zero,
		FeeNGN:              decimal.Zero,
		TopUpAmount:         decimal.Zero,
		AccountBalance:      account.AvailableBalance,
		AccountBalanceAfter: account.AvailableBalance.Sub(amount),
		wallet:              wallet,
		account:             account,
		network:             network,
	}

	if !account.Usable() {
		q.blockers.add(fmt.Errorf("%s account: %w", asset.Currency, util.ErrAccountFrozen))
	}
	if q.AccountBalanceAfter.IsNegative() {
		q.blockers.add(fmt.Errorf("%s balance %s is below %s: %w", asset.Currency, account.AvailableBalance, amount, util.ErrInsufficientBalance))
	}
	if wallet != nil && !wallet.IsActive() {
		q.blockers.add(fmt.Errorf("wallet is %s: %w", wallet.Status, util.ErrWalletInactive))
	}

	if network.OnChain {
		if err := s.quoteSellFees(ctx, q, network, asset, price, rate.Rate); err != nil {
			return nil, err
		}
	}

	payout, ok := sellPayout(gross, q.FeeNGN)
	if !ok {
		q.blockers.add(fmt.Errorf("fee %s %s leaves nothing of %s: %w", q.FeeNGN, domain.FiatCurrency, gross, util.ErrFeeExceedsPayout))
		payout = decimal.Zero
	}
	q.PayoutNGN = payout
	if wallet != nil {
		q.WalletBalance = wallet.Balance
	}
	q.WalletBalanceAfter = q.WalletBalance.Add(payout)

	q.CanProceed = len(q.blockers) == 0
	q.Reasons = q.blockers.reasons()
	return q, nil
}

// quoteSellFees estimates the user-to-custody transfer and, when the deposit address
// lacks native currency for gas, the custodial top-up that must precede it.
func (s *settlementService) quoteSellFees(ctx context.Context, q *SellQuote, network *domain.Network, asset *domain.WalletCurrency, price, rate decimal.Decimal) error {
	tokenFee, err := s.estimateFee(ctx, domain.FeeRequest{
		Blockchain: network.Blockchain,
		From:       q.account.DepositAddress,
		To:         network.MasterAddress,
		Amount:     q.Amount,
		Currency:   asset.Currency,
	})
	if err != nil {
		return err
	}
	q.tokenFee = tokenFee
	q.FeeCurrency = network.NativeCurrency

	required := tokenFee.Total()
	if network.IsNative(asset.Currency) {
		required = required.Add(q.Amount)
	}
	held, err := s.externalBalance(ctx, network.Blockchain, q.account.DepositAddress, network.NativeCurrency)
	if err != nil {
		return err
	}
	// Swap credits never reach the chain, so the deposit address may hold less than the ledger.
	onChain := held
	if !network.IsNative(asset.Currency) {
		if onChain, err = s.externalBalance(ctx, network.Blockchain, q.account.DepositAddress, asset.Currency); err != nil {
			return err
		}
	}
	if onChain.LessThan(q.Amount) {
		q.blockers.add(fmt.Errorf("%s held at %s is %s, below %s: %w",
			asset.Currency, q.account.DepositAddress, onChain, q.Amount, util.ErrInsufficientBalance))
	}
	feeNative := tokenFee.Total()
	if deficit := required.Sub(held); deficit.IsPositive() {
		topUpFee, err := s.estimateFee(ctx, domain.FeeRequest{
			Blockchain: network.Blockchain,
			From:       network.MasterAddress,
			To:         q.account.DepositAddress,
			Amount:     deficit,
			Currency:   network.NativeCurrency,
		})
		if err != nil {
			return err
		}
		q.topUpFee = topUpFee
		q.TopUpRequired = true
		q.TopUpAmount = deficit
		feeNative = feeNative.Add(topUpFee.Total())

		master, err := s.externalBalance(ctx, network.Blockchain, network.MasterAddress, network.NativeCurrency)
		if err != nil {
			return err
		}
		if master.LessThan(deficit.Add(topUpFee.Total())) {
			q.blockers.add(fmt.Errorf("custodial %s balance %s cannot fund gas top-up %s: %w",
				network.NativeCurrency, master, deficit, util.ErrCustodyCapacity))
		}
	}

	nativePrice := price
	if !network.IsNative(asset.Currency) {
		if nativePrice, err = s.price(ctx, network.NativeCurrency, network.Blockchain); err != nil {
			return err
		}
	}
	q.NetworkFee = feeNative
	q.FeeNGN = feeInFiat(feeNative, nativePrice, rate)
	return nil
}

func (s *settlementService) Sell(ctx context.Context, req SellRequest) (*SettlementResult, error) {
	q, err := s.quoteSell(ctx, req, true)
	if err != nil {
		return nil, fmt.Errorf("sell: %w", err)
	}
	if err := q.blockers.first(); err != nil {
		return nil, fmt.Errorf("sell: %w", err)
	}

	reference := domain.NewReference(string(domain.TransactionTypeSell), req.UserID, s.now())
	intent := &settlementIntent{
		Reference:    reference,
		UserID:       req.UserID,
		Currency:     q.Currency,
		WalletID:     q.wallet.ID,
		AccountID:    q.account.ID,
		FiatAmount:   q.PayoutNGN,
		CryptoAmount: q.Amount,
		Sell: &domain.SellDetail{
			Amount:      q.Amount,
			Price:       q.Price,
			AmountUSD:   q.AmountUSD,
			Rate:        q.Rate,
			RateID:      q.RateID,
			GrossNGN:    q.GrossNGN,
			FeeNGN:      q.FeeNGN,
			PayoutNGN:   q.PayoutNGN,
			NetworkFee:  q.NetworkFee,
			FromAddress: q.account.DepositAddress,
		},
	}

	if q.network.OnChain {
		intent.Sell.ToAddress = q.network.MasterAddress
		if result, err := s.sellOnChain(ctx, q, intent); result != nil || err != nil {
			return result, err
		}
	}

	tx, err := s.applySell(ctx, intent)
	if err != nil {
		if !q.network.OnChain {
			return nil, fmt.Errorf("sell: %w", err)
		}
		return s.queueFailure(ctx, domain.OperationSell, domain.StageLedger, intent, map[string]string{
			"tx_hash":        intent.Sell.TxHash,
			"top_up_tx_hash": intent.Sell.TopUpTxHash,
		}, err)
	}

	s.logger.Info("Sell settled", "reference", reference, "user_id", req.UserID, "currency", q.Currency,
		"amount", q.Amount, "gross_ngn", q.GrossNGN, "fee_ngn", q.FeeNGN, "payout_ngn", q.PayoutNGN,
		"tx_hash", intent.Sell.TxHash, "top_up_tx_hash", intent.Sell.TopUpTxHash)
	s.notifySettled(ctx, tx, fmt.Sprintf("You sold %s %s for %s %s.", q.Amount, q.Currency, q.PayoutNGN, domain.FiatCurrency))
	return successResult(tx), nil
}

// sellOnChain runs the optional gas top-up and the token transfer to custody. It
// returns a non-nil result or error only when the sell must stop here.
func (s *settlementService) sellOnChain(ctx context.Context, q *SellQuote, intent *settlementIntent) (*SettlementResult, error) {
	network := q.network
	if q.TopUpRequired {
		masterSecret, err := s.decryptSecret(network.MasterSecret, "master wallet "+network.Blockchain)
		if err != nil {
			return nil, fmt.Errorf("sell: %w", err)
		}
		hash, err := s.send(ctx, domain.TransferRequest{
			Blockchain:     network.Blockchain,
			From:           network.MasterAddress,
			To:             q.account.DepositAddress,
			Amount:         q.TopUpAmount,
			Currency:       network.NativeCurrency,
			SigningSecret:  masterSecret,
			Fee:            q.topUpFee,
			IdempotencyKey: intent.Reference + "-topup",
		})
		if err != nil {
			s.logger.Warn("Sell gas top-up failed, nothing was moved", "reference", intent.Reference, "error", err)
			return nil, fmt.Errorf("sell: %w", err)
		}
		if err := s.awaitConfirmation(ctx, network.Blockchain, hash); err != nil {
			return nil, fmt.Errorf("sell: gas top-up: %w", err)
		}
		intent.Sell.TopUpTxHash = hash
	}

	token := &transferIntent{
		Blockchain:     network.Blockchain,
		From:           q.account.DepositAddress,
		To:             network.MasterAddress,
		Amount:         q.Amount,
		Currency:       q.Currency,
		Fee:            q.tokenFee,
		IdempotencyKey: intent.Reference + "-token",
	}
	hash, err := s.transferFromAccount(ctx, q.account, token)
	if err != nil {
		if intent.Sell.TopUpTxHash == "" {
			s.logger.Warn("Sell transfer failed, nothing was debited", "reference", intent.Reference, "error", err)
			return nil, fmt.Errorf("sell: %w", err)
		}
		intent.TokenTransfer = token
		return s.queueFailure(ctx, domain.OperationSell, domain.StageTokenTransfer, intent, map[string]string{
			"top_up_tx_hash": intent.Sell.TopUpTxHash,
			"top_up_amount":  q.TopUpAmount.String(),
			"token_amount":   q.Amount.String(),
		}, err)
	}
	intent.Sell.TxHash = hash
	return nil, nil
}

func (s *settlementService) transferFromAccount(ctx context.Context, account *domain.VirtualAccount, t *transferIntent) (string, error) {
	secret, err := s.decryptSecret(account.EncryptedSecret, fmt.Sprintf("account %d", account.ID))
	if err != nil {
		return "", err
	}
	return s.send(ctx, domain.TransferRequest{
		Blockchain:     t.Blockchain,
		From:           t.From,
		To:             t.To,
		Amount:         t.Amount,
		Currency:       t.Currency,
		SigningSecret:  secret,
		Fee:            t.Fee,
		IdempotencyKey: t.IdempotencyKey,
	})
}

// resumeSellTransfer finishes a sell whose top-up went through but whose token
// transfer did not. The token hash is stored in the failure refs before the ledger
// unit runs so a later attempt never transfers twice.
func (s *settlementService) resumeSellTransfer(ctx context.Context, f *domain.SettlementFailure, intent *settlementIntent) error {
	refs := decodeRefs(f)
	hash := refs["tx_hash"]
	if hash == "" {
		if intent.TokenTransfer == nil {
			return fmt.Errorf("sell %s: no pending token transfer", f.Reference)
		}
		account, err := s.repos.Accounts.GetVirtualAccountByID(ctx, s.db, intent.AccountID)
		if err != nil {
			return err
		}
		hash, err = s.transferFromAccount(ctx, account, intent.TokenTransfer)
		if err != nil {
			return err
		}
		refs["tx_hash"] = hash
		encodeRefs(f, refs)
		s.logger.Info("Sell token transfer completed on retry", "reference", f.Reference, "tx_hash", hash,
			"top_up_tx_hash", refs["top_up_tx_hash"])
	}
	intent.Sell.TxHash = hash
	_, err := s.applySell(ctx, intent)
	return err
}

// applySell credits the payout, debits the account and records the sell in one unit.
func (s *settlementService) applySell(ctx context.Context, in *settlementIntent) (*domain.CryptoTransaction, error) {
	var record *domain.CryptoTransaction
	err := s.uow.run(ctx, "sell", func(ctx context.Context, q repository.DBExecutor) error {
		wallet, err := s.repos.Wallets.GetWalletByID(ctx, q, in.WalletID)
		if err != nil {
			return err
		}
		fiatTx := domain.NewFiatTransaction(in.Reference, wallet, domain.FiatTransactionCryptoSell, in.FiatAmount,
			fmt.Sprintf("Sell %s %s", in.CryptoAmount, in.Currency))
		if err := s.repos.FiatTxs.CreateFiatTransaction(ctx, q, fiatTx); err != nil {
			return err
		}
		if _, err := s.ledger.CreditWalletTx(ctx, q, in.WalletID, in.FiatAmount, fiatTx.ID); err != nil {
			return err
		}
		account, err := s.ledger.DebitAccount(ctx, q, in.AccountID, in.CryptoAmount)
		if err != nil {
			return err
		}
		record = domain.NewCryptoTransaction(in.Reference, account, domain.CryptoStatusSuccessful, *in.Sell)
		return s.repos.CryptoTxs.CreateCryptoTransaction(ctx, q, record)
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}
