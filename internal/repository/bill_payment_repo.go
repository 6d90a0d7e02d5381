// internal/repository/bill_payment_repo.go
package repository

import (
	"context"

	"custody-ledger/internal/domain"
)

// BillPaymentRepository defines the interface for bill payment records.
type BillPaymentRepository interface {
	CreateBillPayment(ctx context.Context, q DBExecutor, bp *domain.BillPayment) error
	GetBillPaymentByID(ctx context.Context, q DBExecutor, id int64) (*domain.BillPayment, error)
	GetBillPaymentForUpdate(ctx context.Context, q DBExecutor, id int64) (*domain.BillPayment, error)
	// UpdateBillPayment persists the mutable fields: status, provider correlation, refund link.
	UpdateBillPayment(ctx context.Context, q DBExecutor, bp *domain.BillPayment) error
}
