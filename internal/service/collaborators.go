// internal/service/collaborators.go
package service

import (
	"context"

	"custody-ledger/internal/domain"

	"github.com/shopspring/decimal"
)

// ValueTransferProvider moves value on an external network. Implementations must
// wrap a provider-reported lack of funds in util.ErrProviderInsufficientFunds so it
// stays distinguishable from other submission failures.
type ValueTransferProvider interface {
	EstimateFee(ctx context.Context, req domain.FeeRequest) (domain.FeeEstimate, error)
	// Send submits a transfer and returns its transaction hash. An empty hash with a
	// nil error means the provider accepted the call but nothing was broadcast.
	Send(ctx context.Context, req domain.TransferRequest) (string, error)
	GetBalance(ctx context.Context, blockchain, address, currency string) (decimal.Decimal, error)
	TransferStatus(ctx context.Context, blockchain, txHash string) (domain.TransferStatus, error)
}

// PriceSource returns the current USD price of an asset. Prices are point-in-time reads.
type PriceSource interface {
	USDPrice(ctx context.Context, currency, blockchain string) (decimal.Decimal, error)
}

// NotificationSink delivers fire-and-forget notices and operator alerts.
type NotificationSink interface {
	Notify(ctx context.Context, n domain.Notification) error
}

// BillProvider places and queries third-party bill orders.
type BillProvider interface {
	Name() string
	PlaceOrder(ctx context.Context, order domain.BillOrder) (*domain.BillOrderResult, error)
	QueryOrder(ctx context.Context, outOrderNo string) (*domain.BillOrderResult, error)
}

// SecretCipher decrypts stored signing secrets just before use.
type SecretCipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}
