// internal/service/send.go
package service

import (
	"context"
	"errors"
	"fmt"

	"custody-ledger/internal/domain"
	"custody-ledger/internal/repository"
	"custody-ledger/internal/util"

	"github.com/shopspring/decimal"
)

// SendRequest moves Amount of Currency from the user's deposit address to ToAddress.
type SendRequest struct {
	UserID     int64
	Currency   string
	Blockchain string
	ToAddress  string
	Amount     decimal.Decimal
}

// SendQuote prices an outbound transfer against the externally observed balances.
// The ledger balance is shown alongside; execution resyncs it when they disagree.
type SendQuote struct {
	Currency        string              `json:"currency"`
	Blockchain      string              `json:"blockchain"`
	ToAddress       string              `json:"to_address"`
	Amount          decimal.Decimal     `json:"amount"`
	AmountUSD       decimal.Decimal     `json:"amount_usd"`
	AmountNGN       decimal.NullDecimal `json:"amount_ngn"`
	NetworkFee      decimal.Decimal     `json:"network_fee"`
	FeeCurrency     string              `json:"fee_currency"`
	LedgerBalance   decimal.Decimal     `json:"ledger_balance"`
	ExternalBalance decimal.Decimal     `json:"external_balance"`
	FeeReserve      decimal.Decimal     `json:"fee_reserve"`
	BalanceAfter    decimal.Decimal     `json:"balance_after"`
	CanProceed      bool                `json:"can_proceed"`
	Reasons         []string            `json:"reasons,omitempty"`

	blockers   blockers
	network    *domain.Network
	account    *domain.VirtualAccount
	feeAccount *domain.VirtualAccount
	fee        domain.FeeEstimate
}

func (s *settlementService) PreviewSend(ctx context.Context, req SendRequest) (*SendQuote, error) {
	return s.quoteSend(ctx, req, false)
}

func (s *settlementService) quoteSend(ctx context.Context, req SendRequest, execute bool) (*SendQuote, error) {
	if req.UserID <= 0 {
		return nil, util.Invalid("user is required")
	}
	network, asset, err := s.asset(ctx, req.Currency, req.Blockchain)
	if err != nil {
		return nil, err
	}
	if !network.OnChain {
		return nil, util.Invalid("external sends are not supported on %s", network.Blockchain)
	}
	if !network.ValidAddress(req.ToAddress) {
		return nil, util.Invalid("%q is not a valid %s address", req.ToAddress, network.Blockchain)
	}
	amount, err := normalizeAmount(req.Amount, asset)
	if err != nil {
		return nil, err
	}
	account, err := s.ledger.GetVirtualAccount(ctx, req.UserID, asset.Currency, asset.Blockchain)
	if err != nil {
		return nil, err
	}
	if account.DepositAddress == req.ToAddress {
		return nil, util.Invalid("cannot send to the account's own deposit address")
	}
	var feeAccount *domain.VirtualAccount
	if !network.IsNative(asset.Currency) {
		if feeAccount, err = s.nativeAccount(ctx, req.UserID, network); err != nil {
			return nil, err
		}
	}

	q := &SendQuote{
		Currency:      asset.Currency,
		Blockchain:    asset.Blockchain,
		ToAddress:     req.ToAddress,
		Amount:        amount,
		FeeCurrency:   network.NativeCurrency,
		LedgerBalance: account.AvailableBalance,
		FeeReserve:    decimal.Zero,
		network:       network,
		account:       account,
		feeAccount:    feeAccount,
	}
	if !account.Usable() {
		q.blockers.add(fmt.Errorf("%s account: %w", asset.Currency, util.ErrAccountFrozen))
	}
	if feeAccount != nil && !feeAccount.Usable() {
		q.blockers.add(fmt.Errorf("%s fee account: %w", network.NativeCurrency, util.ErrAccountFrozen))
	}

	// The external balance is ground truth for what may leave the address.
	external, err := s.externalBalance(ctx, network.Blockchain, account.DepositAddress, asset.Currency)
	if err != nil {
		return nil, err
	}
	q.ExternalBalance = external

	fee, err := s.estimateFee(ctx, domain.FeeRequest{
		Blockchain: network.Blockchain,
		From:       account.DepositAddress,
		To:         req.ToAddress,
		Amount:     amount,
		Currency:   asset.Currency,
	})
	if err != nil {
		return nil, err
	}
	q.fee = fee
	q.NetworkFee = fee.Total()

	if network.IsNative(asset.Currency) {
		q.BalanceAfter = external.Sub(amount).Sub(q.NetworkFee)
		if q.BalanceAfter.IsNegative() {
			q.blockers.add(fmt.Errorf("%s balance %s is below %s plus fee %s: %w",
				asset.Currency, external, amount, q.NetworkFee, util.ErrInsufficientBalance))
		}
	} else {
		q.BalanceAfter = external.Sub(amount)
		if q.BalanceAfter.IsNegative() {
			q.blockers.add(fmt.Errorf("%s balance %s is below %s: %w", asset.Currency, external, amount, util.ErrInsufficientBalance))
		}
		reserve, err := s.externalBalance(ctx, network.Blockchain, account.DepositAddress, network.NativeCurrency)
		if err != nil {
			return nil, err
		}
		q.FeeReserve = reserve
		if reserve.LessThan(q.NetworkFee) {
			q.blockers.add(fmt.Errorf("%s balance %s cannot pay network fee %s: %w",
				network.NativeCurrency, reserve, q.NetworkFee, util.ErrInsufficientFeeReserve))
		}
	}

	price, err := s.price(ctx, asset.Currency, asset.Blockchain)
	if err != nil {
		return nil, err
	}
	q.AmountUSD = domain.USDValue(amount, price)
	rate, err := optionalRate(ctx, s.rates, domain.TransactionTypeSend, q.AmountUSD)
	if err != nil {
		return nil, err
	}
	if rate != nil {
		q.AmountNGN = decimal.NewNullDecimal(domain.FiatValue(q.AmountUSD, rate.Rate))
	}

	q.CanProceed = len(q.blockers) == 0
	q.Reasons = q.blockers.reasons()

	// Ledger balances follow the chain only once the send is allowed to go out.
	if execute && q.CanProceed {
		if err := s.resyncSendAccounts(ctx, q); err != nil {
			return nil, err
		}
	}
	return q, nil
}

func (s *settlementService) resyncSendAccounts(ctx context.Context, q *SendQuote) error {
	var err error
	if !q.ExternalBalance.Equal(q.account.AvailableBalance) {
		if q.account, err = s.resync(ctx, q.account.ID, q.ExternalBalance); err != nil {
			return err
		}
	}
	if q.feeAccount != nil && !q.FeeReserve.Equal(q.feeAccount.AvailableBalance) {
		if q.feeAccount, err = s.resync(ctx, q.feeAccount.ID, q.FeeReserve); err != nil {
			return err
		}
	}
	return nil
}

// nativeAccount returns the user's native-currency account on the network, or nil.
func (s *settlementService) nativeAccount(ctx context.Context, userID int64, network *domain.Network) (*domain.VirtualAccount, error) {
	account, err := s.ledger.GetVirtualAccount(ctx, userID, network.NativeCurrency, network.Blockchain)
	if errors.Is(err, util.ErrAccountNotFound) {
		return nil, nil
	}
	return account, err
}

func (s *settlementService) resync(ctx context.Context, accountID int64, observed decimal.Decimal) (*domain.VirtualAccount, error) {
	var account *domain.VirtualAccount
	err := s.uow.run(ctx, "resync account", func(ctx context.Context, q repository.DBExecutor) error {
		var err error
		account, err = s.ledger.ResyncAccount(ctx, q, accountID, observed)
		return err
	})
	return account, err
}

func (s *settlementService) Send(ctx context.Context, req SendRequest) (*SettlementResult, error) {
	q, err := s.quoteSend(ctx, req, true)
	if err != nil {
		return nil, fmt.Errorf("send: %w", err)
	}
	if err := q.blockers.first(); err != nil {
		return nil, fmt.Errorf("send: %w", err)
	}

	reference := domain.NewReference(string(domain.TransactionTypeSend), req.UserID, s.now())
	intent := &settlementIntent{
		Reference:    reference,
		UserID:       req.UserID,
		Currency:     q.Currency,
		AccountID:    q.account.ID,
		CryptoAmount: q.Amount,
		FeeAmount:    decimal.Zero,
		Send: &domain.SendDetail{
			Amount:      q.Amount,
			AmountUSD:   q.AmountUSD,
			AmountNGN:   q.AmountNGN,
			NetworkFee:  q.NetworkFee,
			FeeCurrency: q.FeeCurrency,
			FromAddress: q.account.DepositAddress,
			ToAddress:   q.ToAddress,
		},
	}
	if q.network.IsNative(q.Currency) {
		intent.CryptoAmount = q.Amount.Add(q.NetworkFee)
	} else if q.feeAccount != nil {
		intent.FeeAccountID = q.feeAccount.ID
		intent.FeeAmount = q.NetworkFee
	}

	secret, err := s.decryptSecret(q.account.EncryptedSecret, fmt.Sprintf("account %d", q.account.ID))
	if err != nil {
		return nil, fmt.Errorf("send: %w", err)
	}
	hash, err := s.send(ctx, domain.TransferRequest{
		Blockchain:     q.network.Blockchain,
		From:           q.account.DepositAddress,
		To:             q.ToAddress,
		Amount:         q.Amount,
		Currency:       q.Currency,
		SigningSecret:  secret,
		Fee:            q.fee,
		IdempotencyKey: reference,
	})
	if err != nil {
		s.logger.Warn("Send transfer failed, nothing was debited", "reference", reference, "user_id", req.UserID, "error", err)
		if recErr := s.recordFailedSend(ctx, intent); recErr != nil {
			s.logger.Error("Failed send could not be recorded", "reference", reference, "error", recErr)
		}
		return nil, fmt.Errorf("send %s: %w", reference, err)
	}
	intent.Send.TxHash = hash

	tx, err := s.applySend(ctx, intent)
	if err != nil {
		return s.queueFailure(ctx, domain.OperationSend, domain.StageLedger, intent, map[string]string{"tx_hash": hash}, err)
	}

	s.logger.Info("Send settled", "reference", reference, "user_id", req.UserID, "currency", q.Currency,
		"amount", q.Amount, "network_fee", q.NetworkFee, "to", q.ToAddress, "tx_hash", hash)
	s.notifySettled(ctx, tx, fmt.Sprintf("You sent %s %s to %s.", q.Amount, q.Currency, q.ToAddress))
	return successResult(tx), nil
}

// applySend debits the sent amount (and a token send's fee from the native account)
// and records the send in one unit. Accounts are locked in ascending id order.
func (s *settlementService) applySend(ctx context.Context, in *settlementIntent) (*domain.CryptoTransaction, error) {
	type debit struct {
		accountID int64
		amount    decimal.Decimal
	}
	debits := []debit{{in.AccountID, in.CryptoAmount}}
	if in.FeeAccountID != 0 && in.FeeAmount.IsPositive() {
		fee := debit{in.FeeAccountID, in.FeeAmount}
		if fee.accountID < in.AccountID {
			debits = []debit{fee, debits[0]}
		} else {
			debits = append(debits, fee)
		}
	}

	var record *domain.CryptoTransaction
	err := s.uow.run(ctx, "send", func(ctx context.Context, q repository.DBExecutor) error {
		var account *domain.VirtualAccount
		for _, d := range debits {
			updated, err := s.ledger.DebitAccount(ctx, q, d.accountID, d.amount)
			if err != nil {
				return err
			}
			if d.accountID == in.AccountID {
				account = updated
			}
		}
		record = domain.NewCryptoTransaction(in.Reference, account, domain.CryptoStatusSuccessful, *in.Send)
		return s.repos.CryptoTxs.CreateCryptoTransaction(ctx, q, record)
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// recordFailedSend writes a failed send without touching balances.
func (s *settlementService) recordFailedSend(ctx context.Context, in *settlementIntent) error {
	return s.uow.run(ctx, "record failed send", func(ctx context.Context, q repository.DBExecutor) error {
		account, err := s.repos.Accounts.GetVirtualAccountByID(ctx, q, in.AccountID)
		if err != nil {
			return err
		}
		record := domain.NewCryptoTransaction(in.Reference, account, domain.CryptoStatusFailed, *in.Send)
		return s.repos.CryptoTxs.CreateCryptoTransaction(ctx, q, record)
	})
}
