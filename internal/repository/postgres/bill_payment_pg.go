// internal/repository/postgres/bill_payment_pg.go
package postgres

import (
	"context"
	"fmt"
	"time"

	"custody-ledger/internal/domain"
	"custody-ledger/internal/repository"

	"github.com/jmoiron/sqlx/types"
)

const billPaymentColumns = `id, user_id, wallet_id, transaction_id, refund_transaction_id, provider, scene_code, biller_id,
	item_id, recharge_account, amount, status, out_order_no, provider_order_no, provider_response, bill_reference,
	error_message, created_at, updated_at`

// BillPaymentRepository implements repository.BillPaymentRepository for PostgreSQL.
type BillPaymentRepository struct{}

// NewBillPaymentRepository creates a new BillPaymentRepository.
func NewBillPaymentRepository() repository.BillPaymentRepository {
	return &BillPaymentRepository{}
}

// nullableJSON stores empty provider responses as NULL; JSONText refuses to encode an empty value.
func nullableJSON(j types.JSONText) interface{} {
	if len(j) == 0 {
		return nil
	}
	return j
}

func (r *BillPaymentRepository) CreateBillPayment(ctx context.Context, q repository.DBExecutor, bp *domain.BillPayment) error {
	query := `INSERT INTO bill_payments (user_id, wallet_id, transaction_id, refund_transaction_id, provider, scene_code,
                biller_id, item_id, recharge_account, amount, status, out_order_no, provider_order_no, provider_response,
                bill_reference, error_message, created_at, updated_at)
              VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18) RETURNING id`
	err := q.QueryRowContext(ctx, query, bp.UserID, bp.WalletID, bp.TransactionID, bp.RefundTransactionID, bp.Provider,
		bp.SceneCode, bp.BillerID, bp.ItemID, bp.RechargeAccount, bp.Amount, bp.Status, bp.OutOrderNo, bp.ProviderOrderNo,
		nullableJSON(bp.ProviderResponse), bp.BillReference, bp.ErrorMessage, bp.CreatedAt, bp.UpdatedAt).Scan(&bp.ID)
	if err != nil {
		return fmt.Errorf("failed to create bill payment: %w", translate(err))
	}
	return nil
}

func (r *BillPaymentRepository) GetBillPaymentByID(ctx context.Context, q repository.DBExecutor, id int64) (*domain.BillPayment, error) {
	var bp domain.BillPayment
	if err := q.GetContext(ctx, &bp, `SELECT `+billPaymentColumns+` FROM bill_payments WHERE id = $1`, id); err != nil {
		return nil, fmt.Errorf("failed to get bill payment %d: %w", id, translate(err))
	}
	return &bp, nil
}

func (r *BillPaymentRepository) GetBillPaymentForUpdate(ctx context.Context, q repository.DBExecutor, id int64) (*domain.BillPayment, error) {
	var bp domain.BillPayment
	if err := q.GetContext(ctx, &bp, `SELECT `+billPaymentColumns+` FROM bill_payments WHERE id = $1 FOR UPDATE`, id); err != nil {
		return nil, fmt.Errorf("failed to lock bill payment %d: %w", id, translate(err))
	}
	return &bp, nil
}

func (r *BillPaymentRepository) UpdateBillPayment(ctx context.Context, q repository.DBExecutor, bp *domain.BillPayment) error {
	bp.UpdatedAt = time.Now().UTC()
	query := `UPDATE bill_payments SET status = $1, provider_order_no = $2, provider_response = $3, bill_reference = $4,
                error_message = $5, refund_transaction_id = $6, updated_at = $7
              WHERE id = $8`
	res, err := q.ExecContext(ctx, query, bp.Status, bp.ProviderOrderNo, nullableJSON(bp.ProviderResponse), bp.BillReference,
		bp.ErrorMessage, bp.RefundTransactionID, bp.UpdatedAt, bp.ID)
	if err != nil {
		return fmt.Errorf("failed to update bill payment %d: %w", bp.ID, err)
	}
	if err := expectOne(res); err != nil {
		return fmt.Errorf("failed to update bill payment %d: %w", bp.ID, err)
	}
	return nil
}
