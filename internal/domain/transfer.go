// internal/domain/transfer.go
package domain

import "github.com/shopspring/decimal"

// FeeRequest asks the value-transfer provider what moving Amount of Currency costs.
type FeeRequest struct {
	Blockchain string
	From       string
	To         string
	Amount     decimal.Decimal
	Currency   string
}

// FeeEstimate is a gas-style fee: Limit units at Price native currency per unit.
type FeeEstimate struct {
	Limit decimal.Decimal `json:"limit"`
	Price decimal.Decimal `json:"price"`
}

// Total is the fee in the chain's native currency.
func (f FeeEstimate) Total() decimal.Decimal {
	return f.Limit.Mul(f.Price)
}

// TransferRequest is one outbound submission. IdempotencyKey lets a provider
// deduplicate retried submissions.
type TransferRequest struct {
	Blockchain     string
	From           string
	To             string
	Amount         decimal.Decimal
	Currency       string
	SigningSecret  string
	Fee            FeeEstimate
	IdempotencyKey string
}

// TransferStatus is the provider's view of a submitted transfer.
type TransferStatus string

const (
	TransferPending   TransferStatus = "PENDING"
	TransferConfirmed TransferStatus = "CONFIRMED"
	TransferFailed    TransferStatus = "FAILED"
)
