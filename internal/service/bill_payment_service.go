// internal/service/bill_payment_service.go
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"custody-ledger/internal/domain"
	"custody-ledger/internal/repository"
	"custody-ledger/internal/util"

	"github.com/shopspring/decimal"
)

// BillPaymentRequest pays a third-party bill from the user's local-currency wallet.
type BillPaymentRequest struct {
	UserID          int64
	SceneCode       string
	BillerID        string
	ItemID          string
	RechargeAccount string
	Amount          decimal.Decimal
}

// BillPaymentService runs the bill lifecycle: debit, place order, then complete or refund.
type BillPaymentService interface {
	PayBill(ctx context.Context, req BillPaymentRequest) (*domain.BillPayment, error)
	GetBillPayment(ctx context.Context, id int64) (*domain.BillPayment, error)
	// RefreshBillPayment asks the provider for the status of a pending order and
	// settles it the same way PayBill would have.
	RefreshBillPayment(ctx context.Context, id int64) (*domain.BillPayment, error)
	// Resume re-drives a refund that could not be applied when the order failed.
	Resume(ctx context.Context, f *domain.SettlementFailure) error
}

type billPaymentService struct {
	dbExecutor repository.DBExecutor
	repos      repository.Repositories
	ledger     LedgerService
	provider   BillProvider
	notifier   *notifier
	uow        UnitOfWork
	cfg        SettlementConfig
	logger     *slog.Logger
}

// NewBillPaymentService creates a new instance of BillPaymentService.
func NewBillPaymentService(
	dbExecutor repository.DBExecutor,
	repos repository.Repositories,
	ledger LedgerService,
	provider BillProvider,
	sink NotificationSink,
	uow UnitOfWork,
	cfg SettlementConfig,
	logger *slog.Logger,
) BillPaymentService {
	if cfg.RetryMaxAttempts <= 0 {
		cfg.RetryMaxAttempts = 5
	}
	if cfg.RetryBaseBackoff <= 0 {
		cfg.RetryBaseBackoff = 30 * time.Second
	}
	return &billPaymentService{
		dbExecutor: dbExecutor,
		repos:      repos,
		ledger:     ledger,
		provider:   provider,
		notifier:   newNotifier(sink, cfg.NotifyTimeout, logger),
		uow:        uow,
		cfg:        cfg,
		logger:     logger,
	}
}

func (s *billPaymentService) PayBill(ctx context.Context, req BillPaymentRequest) (*domain.BillPayment, error) {
	amount := domain.RoundFiat(req.Amount)
	switch {
	case req.UserID <= 0:
		return nil, util.Invalid("user is required")
	case strings.TrimSpace(req.BillerID) == "" || strings.TrimSpace(req.RechargeAccount) == "":
		return nil, util.Invalid("biller and recharge account are required")
	case !amount.IsPositive():
		return nil, util.Invalid("amount must be positive")
	}

	wallet, err := s.ledger.GetOrCreatePrimaryWallet(ctx, req.UserID, domain.FiatCurrency)
	if err != nil {
		return nil, fmt.Errorf("pay bill: %w", err)
	}

	reference := domain.NewReference("BILL", req.UserID, time.Now().UTC())
	bp := &domain.BillPayment{
		UserID:          req.UserID,
		WalletID:        wallet.ID,
		Provider:        s.provider.Name(),
		SceneCode:       req.SceneCode,
		BillerID:        req.BillerID,
		ItemID:          req.ItemID,
		RechargeAccount: req.RechargeAccount,
		Amount:          amount,
		Status:          domain.BillPaymentPending,
		OutOrderNo:      reference,
	}
	description := fmt.Sprintf("Bill payment to %s for %s", req.BillerID, req.RechargeAccount)
	err = s.uow.run(ctx, "pay bill", func(ctx context.Context, q repository.DBExecutor) error {
		fiatTx := domain.NewFiatTransaction(reference, wallet, domain.FiatTransactionBillPayment, amount, description)
		if err := s.repos.FiatTxs.CreateFiatTransaction(ctx, q, fiatTx); err != nil {
			return err
		}
		if _, err := s.ledger.DebitWalletTx(ctx, q, wallet.ID, amount, fiatTx.ID); err != nil {
			return err
		}
		now := time.Now().UTC()
		bp.TransactionID = fiatTx.ID
		bp.CreatedAt, bp.UpdatedAt = now, now
		return s.repos.Bills.CreateBillPayment(ctx, q, bp)
	})
	if err != nil {
		if errors.Is(err, util.ErrInsufficientBalance) || errors.Is(err, util.ErrWalletInactive) {
			s.recordRejectedDebit(ctx, wallet, reference, amount, description, err)
		}
		return nil, fmt.Errorf("pay bill: %w", err)
	}

	result, err := s.provider.PlaceOrder(ctx, domain.BillOrder{
		SceneCode:       bp.SceneCode,
		BillerID:        bp.BillerID,
		ItemID:          bp.ItemID,
		RechargeAccount: bp.RechargeAccount,
		Amount:          bp.Amount,
		OutOrderNo:      bp.OutOrderNo,
	})
	if err != nil {
		s.logger.Warn("Bill order failed, refunding", "bill_payment_id", bp.ID, "out_order_no", bp.OutOrderNo, "error", err)
		return s.refund(ctx, bp, err.Error(), nil)
	}
	return s.settle(ctx, bp, result)
}

// recordRejectedDebit keeps a failed BILL_PAYMENT record for a debit the wallet refused.
// The balance is untouched.
func (s *billPaymentService) recordRejectedDebit(ctx context.Context, wallet *domain.Wallet, reference string, amount decimal.Decimal, description string, cause error) {
	err := s.uow.run(ctx, "record rejected bill debit", func(ctx context.Context, q repository.DBExecutor) error {
		fiatTx := domain.NewFiatTransaction(reference, wallet, domain.FiatTransactionBillPayment, amount, description)
		if err := s.repos.FiatTxs.CreateFiatTransaction(ctx, q, fiatTx); err != nil {
			return err
		}
		return s.repos.FiatTxs.FailFiatTransaction(ctx, q, fiatTx.ID, cause.Error())
	})
	if err != nil {
		s.logger.Error("Rejected bill debit could not be recorded", "reference", reference, "wallet_id", wallet.ID, "error", err)
		return
	}
	s.logger.Info("Bill payment rejected before debit", "reference", reference, "wallet_id", wallet.ID,
		"amount", amount, "reason", cause)
}

// settle applies a provider result to a pending bill payment.
func (s *billPaymentService) settle(ctx context.Context, bp *domain.BillPayment, result *domain.BillOrderResult) (*domain.BillPayment, error) {
	switch result.Status {
	case domain.BillOrderSuccess:
		return s.complete(ctx, bp, result)
	case domain.BillOrderFailed:
		reason := result.ErrorMessage
		if reason == "" {
			reason = "provider reported the order as failed"
		}
		return s.refund(ctx, bp, reason, result)
	default:
		err := s.uow.run(ctx, "record bill order", func(ctx context.Context, q repository.DBExecutor) error {
			locked, err := s.repos.Bills.GetBillPaymentForUpdate(ctx, q, bp.ID)
			if err != nil {
				return err
			}
			if locked.Status != domain.BillPaymentPending {
				*bp = *locked
				return nil
			}
			applyOrderResult(locked, result)
			if err := s.repos.Bills.UpdateBillPayment(ctx, q, locked); err != nil {
				return err
			}
			*bp = *locked
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("record bill order: %w", err)
		}
		s.logger.Info("Bill order pending at provider", "bill_payment_id", bp.ID, "out_order_no", bp.OutOrderNo)
		return bp, nil
	}
}

func applyOrderResult(bp *domain.BillPayment, result *domain.BillOrderResult) {
	if result == nil {
		return
	}
	if result.OrderNo != "" {
		orderNo := result.OrderNo
		bp.ProviderOrderNo = &orderNo
	}
	if result.BillReference != "" {
		ref := result.BillReference
		bp.BillReference = &ref
	}
	if len(result.Raw) > 0 {
		bp.ProviderResponse = result.Raw
	}
	bp.UpdatedAt = time.Now().UTC()
}

func (s *billPaymentService) complete(ctx context.Context, bp *domain.BillPayment, result *domain.BillOrderResult) (*domain.BillPayment, error) {
	completed := false
	err := s.uow.run(ctx, "complete bill payment", func(ctx context.Context, q repository.DBExecutor) error {
		locked, err := s.repos.Bills.GetBillPaymentForUpdate(ctx, q, bp.ID)
		if err != nil {
			return err
		}
		if locked.Status == domain.BillPaymentPending {
			applyOrderResult(locked, result)
			locked.Status = domain.BillPaymentCompleted
			if err := s.repos.Bills.UpdateBillPayment(ctx, q, locked); err != nil {
				return err
			}
			completed = true
		}
		*bp = *locked
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("complete bill payment: %w", err)
	}
	if completed {
		s.logger.Info("Bill payment completed", "bill_payment_id", bp.ID, "out_order_no", bp.OutOrderNo, "amount", bp.Amount)
		s.notifier.notify(ctx, domain.Notification{
			Kind:      domain.NotificationBillCompleted,
			UserID:    bp.UserID,
			Reference: bp.OutOrderNo,
			Title:     "Bill payment successful",
			Body:      fmt.Sprintf("Your %s %s payment to %s was successful.", bp.Amount, domain.FiatCurrency, bp.BillerID),
		})
	}
	return bp, nil
}

type billRefundPayload struct {
	BillPaymentID int64  `json:"bill_payment_id"`
	Reason        string `json:"reason"`
}

// refund returns a failed order's amount to the wallet. When the refund itself
// cannot be applied it is queued for the retry worker and an operator alert is raised.
func (s *billPaymentService) refund(ctx context.Context, bp *domain.BillPayment, reason string, result *domain.BillOrderResult) (*domain.BillPayment, error) {
	refunded, err := s.applyRefund(ctx, bp, reason, result)
	if err == nil {
		if refunded {
			s.logger.Info("Bill payment refunded", "bill_payment_id", bp.ID, "out_order_no", bp.OutOrderNo,
				"amount", bp.Amount, "reason", reason)
			s.notifier.notify(ctx, domain.Notification{
				Kind:      domain.NotificationBillRefunded,
				UserID:    bp.UserID,
				Reference: bp.OutOrderNo,
				Title:     "Bill payment failed",
				Body:      fmt.Sprintf("Your %s %s payment failed and has been refunded.", bp.Amount, domain.FiatCurrency),
			})
		}
		return bp, nil
	}

	s.logger.Error("Bill payment refund failed, wallet not yet restored",
		"bill_payment_id", bp.ID, "user_id", bp.UserID, "wallet_id", bp.WalletID, "out_order_no", bp.OutOrderNo,
		"amount", bp.Amount, "reason", reason, "error", err)

	qctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	f, ferr := newSettlementFailure(domain.OperationBillPayment, domain.StageRefund, bp.OutOrderNo, bp.UserID,
		billRefundPayload{BillPaymentID: bp.ID, Reason: reason}, map[string]string{"out_order_no": bp.OutOrderNo},
		err, s.cfg.RetryMaxAttempts, time.Now().UTC().Add(s.cfg.RetryBaseBackoff))
	if ferr == nil {
		ferr = s.uow.run(qctx, "record refund failure", func(ctx context.Context, q repository.DBExecutor) error {
			return s.repos.Failures.CreateSettlementFailure(ctx, q, f)
		})
	}
	if ferr != nil && !errors.Is(ferr, util.ErrDuplicateEntry) {
		s.logger.Error("Refund failure could not be queued, manual reconciliation required",
			"bill_payment_id", bp.ID, "out_order_no", bp.OutOrderNo, "error", ferr)
	}
	s.notifier.notify(qctx, domain.Notification{
		Kind:      domain.AlertRefundFailed,
		Reference: bp.OutOrderNo,
		Title:     "Bill payment refund failed",
		Body:      fmt.Sprintf("Refund of %s %s to wallet %d failed: %v", bp.Amount, domain.FiatCurrency, bp.WalletID, err),
		Data: map[string]string{
			"bill_payment_id": fmt.Sprint(bp.ID),
			"user_id":         fmt.Sprint(bp.UserID),
		},
	})
	return bp, fmt.Errorf("%w: bill payment %d: %v", util.ErrRefundFailed, bp.ID, err)
}

// applyRefund credits the wallet with a REFUND record tied to the original debit and
// marks the bill failed, in one unit. It is a no-op for a bill that is no longer
// pending, and never writes a second refund for the same debit.
func (s *billPaymentService) applyRefund(ctx context.Context, bp *domain.BillPayment, reason string, result *domain.BillOrderResult) (bool, error) {
	refunded := false
	err := s.uow.run(ctx, "refund bill payment", func(ctx context.Context, q repository.DBExecutor) error {
		locked, err := s.repos.Bills.GetBillPaymentForUpdate(ctx, q, bp.ID)
		if err != nil {
			return err
		}
		if locked.Status != domain.BillPaymentPending {
			*bp = *locked
			return nil
		}

		existing, err := s.repos.FiatTxs.ListRefundsFor(ctx, q, locked.TransactionID)
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			locked.RefundTransactionID = &existing[0].ID
		} else {
			wallet, err := s.repos.Wallets.GetWalletByID(ctx, q, locked.WalletID)
			if err != nil {
				return err
			}
			refundTx := domain.NewFiatTransaction("REFUND-"+locked.OutOrderNo, wallet, domain.FiatTransactionRefund,
				locked.Amount, fmt.Sprintf("Refund for bill payment %s", locked.OutOrderNo))
			relatedID := locked.TransactionID
			refundTx.RelatedTransactionID = &relatedID
			if err := s.repos.FiatTxs.CreateFiatTransaction(ctx, q, refundTx); err != nil {
				return err
			}
			if _, err := s.ledger.CreditWalletTx(ctx, q, locked.WalletID, locked.Amount, refundTx.ID); err != nil {
				return err
			}
			locked.RefundTransactionID = &refundTx.ID
			refunded = true
		}

		applyOrderResult(locked, result)
		locked.Status = domain.BillPaymentFailed
		locked.ErrorMessage = &reason
		locked.UpdatedAt = time.Now().UTC()
		if err := s.repos.Bills.UpdateBillPayment(ctx, q, locked); err != nil {
			return err
		}
		*bp = *locked
		return nil
	})
	return refunded, err
}

func (s *billPaymentService) GetBillPayment(ctx context.Context, id int64) (*domain.BillPayment, error) {
	bp, err := s.repos.Bills.GetBillPaymentByID(ctx, s.dbExecutor, id)
	if err != nil {
		return nil, fmt.Errorf("get bill payment %d: %w", id, err)
	}
	return bp, nil
}

func (s *billPaymentService) RefreshBillPayment(ctx context.Context, id int64) (*domain.BillPayment, error) {
	bp, err := s.GetBillPayment(ctx, id)
	if err != nil {
		return nil, err
	}
	if bp.Status != domain.BillPaymentPending {
		return bp, nil
	}
	result, err := s.provider.QueryOrder(ctx, bp.OutOrderNo)
	if err != nil {
		return nil, fmt.Errorf("%w: query bill order %s: %v", util.ErrExternalTransferFailed, bp.OutOrderNo, err)
	}
	return s.settle(ctx, bp, result)
}

func (s *billPaymentService) Resume(ctx context.Context, f *domain.SettlementFailure) error {
	if f.Stage != domain.StageRefund {
		return fmt.Errorf("resume %s: unsupported %s/%s", f.Reference, f.Operation, f.Stage)
	}
	var payload billRefundPayload
	if err := f.Payload.Unmarshal(&payload); err != nil {
		return fmt.Errorf("resume %s: decode payload: %w", f.Reference, err)
	}
	bp, err := s.repos.Bills.GetBillPaymentByID(ctx, s.dbExecutor, payload.BillPaymentID)
	if err != nil {
		return fmt.Errorf("resume %s: %w", f.Reference, err)
	}
	refunded, err := s.applyRefund(ctx, bp, payload.Reason, nil)
	if err != nil {
		return fmt.Errorf("resume %s: %w", f.Reference, err)
	}
	if refunded {
		s.logger.Info("Bill payment refunded on retry", "bill_payment_id", bp.ID, "out_order_no", bp.OutOrderNo, "attempt", f.Attempts)
	}
	return nil
}
