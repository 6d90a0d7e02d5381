// internal/domain/bill_payment.go
package domain

import (
	"time"

	"github.com/jmoiron/sqlx/types"
	"github.com/shopspring/decimal"
)

// BillPaymentStatus tracks a bill order through the provider.
type BillPaymentStatus string

const (
	BillPaymentPending   BillPaymentStatus = "pending"
	BillPaymentCompleted BillPaymentStatus = "completed"
	BillPaymentFailed    BillPaymentStatus = "failed"
)

// BillPayment is the settlement record for a third-party bill, utility or airtime order.
type BillPayment struct {
	ID                  int64             `db:"id" json:"id"`
	UserID              int64             `db:"user_id" json:"user_id"`
	WalletID            int64             `db:"wallet_id" json:"wallet_id"`
	TransactionID       int64             `db:"transaction_id" json:"transaction_id"`
	RefundTransactionID *int64            `db:"refund_transaction_id" json:"refund_transaction_id,omitempty"`
	Provider            string            `db:"provider" json:"provider"`
	SceneCode           string            `db:"scene_code" json:"scene_code"`
	BillerID            string            `db:"biller_id" json:"biller_id"`
	ItemID              string            `db:"item_id" json:"item_id"`
	RechargeAccount     string            `db:"recharge_account" json:"recharge_account"`
	Amount              decimal.Decimal   `db:"amount" json:"amount"`
	Status              BillPaymentStatus `db:"status" json:"status"`
	OutOrderNo          string            `db:"out_order_no" json:"out_order_no"`
	ProviderOrderNo     *string           `db:"provider_order_no" json:"provider_order_no,omitempty"`
	ProviderResponse    types.JSONText    `db:"provider_response" json:"provider_response,omitempty"`
	BillReference       *string           `db:"bill_reference" json:"bill_reference,omitempty"`
	ErrorMessage        *string           `db:"error_message" json:"error_message,omitempty"`
	CreatedAt           time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time         `db:"updated_at" json:"updated_at"`
}

// BillOrder is what the bill provider needs to place an order.
type BillOrder struct {
	SceneCode       string
	BillerID        string
	ItemID          string
	RechargeAccount string
	Amount          decimal.Decimal
	OutOrderNo      string
}

// BillOrderStatus is the provider's view of an order.
type BillOrderStatus string

const (
	BillOrderPending BillOrderStatus = "PENDING"
	BillOrderSuccess BillOrderStatus = "SUCCESS"
	BillOrderFailed  BillOrderStatus = "FAILED"
)

// BillOrderResult is returned by place-order and query-order calls.
type BillOrderResult struct {
	OrderNo       string
	Status        BillOrderStatus
	BillReference string
	ErrorMessage  string
	Raw           types.JSONText
}
