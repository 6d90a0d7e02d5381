// internal/domain/fiat_transaction.go
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// FiatTransactionType classifies a ledger-side wallet movement.
type FiatTransactionType string

const (
	FiatTransactionCryptoBuy   FiatTransactionType = "CRYPTO_BUY"
	FiatTransactionCryptoSell  FiatTransactionType = "CRYPTO_SELL"
	FiatTransactionBillPayment FiatTransactionType = "BILL_PAYMENT"
	FiatTransactionRefund      FiatTransactionType = "REFUND"
)

// IsDebit reports whether the type removes value from the wallet.
func (t FiatTransactionType) IsDebit() bool {
	return t == FiatTransactionCryptoBuy || t == FiatTransactionBillPayment
}

// FiatTransactionStatus is the audit-trail state: pending, then completed or failed.
type FiatTransactionStatus string

const (
	FiatTransactionPending   FiatTransactionStatus = "pending"
	FiatTransactionCompleted FiatTransactionStatus = "completed"
	FiatTransactionFailed    FiatTransactionStatus = "failed"
)

// FiatTransaction is the wallet-side record paired with every balance change.
// BalanceAfter = BalanceBefore ± TotalAmount, captured in the same atomic unit as the
// balance update.
type FiatTransaction struct {
	ID                   int64                 `db:"id" json:"id"`
	Reference            string                `db:"reference" json:"reference"`
	UserID               int64                 `db:"user_id" json:"user_id"`
	WalletID             int64                 `db:"wallet_id" json:"wallet_id"`
	Type                 FiatTransactionType   `db:"type" json:"type"`
	Status               FiatTransactionStatus `db:"status" json:"status"`
	Currency             string                `db:"currency" json:"currency"`
	Amount               decimal.Decimal       `db:"amount" json:"amount"`
	Fees                 decimal.Decimal       `db:"fees" json:"fees"`
	TotalAmount          decimal.Decimal       `db:"total_amount" json:"total_amount"`
	BalanceBefore        decimal.NullDecimal   `db:"balance_before" json:"balance_before"`
	BalanceAfter         decimal.NullDecimal   `db:"balance_after" json:"balance_after"`
	Description          string                `db:"description" json:"description"`
	ProviderOrderNo      *string               `db:"provider_order_no" json:"provider_order_no,omitempty"`
	RelatedTransactionID *int64                `db:"related_transaction_id" json:"related_transaction_id,omitempty"`
	FailureReason        *string               `db:"failure_reason" json:"failure_reason,omitempty"`
	CreatedAt            time.Time             `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time             `db:"updated_at" json:"updated_at"`
}

// NewFiatTransaction creates a pending record with no fees.
func NewFiatTransaction(reference string, wallet *Wallet, txType FiatTransactionType, amount decimal.Decimal, description string) *FiatTransaction {
	now := time.Now().UTC()
	return &FiatTransaction{
		Reference:   reference,
		UserID:      wallet.UserID,
		WalletID:    wallet.ID,
		Type:        txType,
		Status:      FiatTransactionPending,
		Currency:    wallet.Currency,
		Amount:      amount,
		Fees:        decimal.Zero,
		TotalAmount: amount,
		Description: description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}
