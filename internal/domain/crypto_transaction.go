// internal/domain/crypto_transaction.go
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType is the discriminant of a CryptoTransaction and also the
// transaction class rate tiers are keyed by.
type TransactionType string

const (
	TransactionTypeBuy     TransactionType = "BUY"
	TransactionTypeSell    TransactionType = "SELL"
	TransactionTypeSend    TransactionType = "SEND"
	TransactionTypeReceive TransactionType = "RECEIVE"
	TransactionTypeSwap    TransactionType = "SWAP"
)

// Valid reports whether t is one of the known transaction classes.
func (t TransactionType) Valid() bool {
	switch t {
	case TransactionTypeBuy, TransactionTypeSell, TransactionTypeSend, TransactionTypeReceive, TransactionTypeSwap:
		return true
	}
	return false
}

// CryptoTransactionStatus is the lifecycle state of a crypto transaction header.
type CryptoTransactionStatus string

const (
	CryptoStatusPending    CryptoTransactionStatus = "pending"
	CryptoStatusProcessing CryptoTransactionStatus = "processing"
	CryptoStatusSuccessful CryptoTransactionStatus = "successful"
	CryptoStatusFailed     CryptoTransactionStatus = "failed"
	CryptoStatusCancelled  CryptoTransactionStatus = "cancelled"
)

// CryptoDetail is the sealed set of per-type detail records. Exactly one is attached
// to every CryptoTransaction and its TransactionType is the header's discriminant.
type CryptoDetail interface {
	TransactionType() TransactionType
	isCryptoDetail()
}

// CryptoTransaction is the immutable header of a monetary crypto event.
type CryptoTransaction struct {
	ID               int64                   `db:"id" json:"id"`
	Reference        string                  `db:"reference" json:"reference"`
	UserID           int64                   `db:"user_id" json:"user_id"`
	VirtualAccountID int64                   `db:"virtual_account_id" json:"virtual_account_id"`
	Type             TransactionType         `db:"transaction_type" json:"transaction_type"`
	Status           CryptoTransactionStatus `db:"status" json:"status"`
	Currency         string                  `db:"currency" json:"currency"`
	Blockchain       string                  `db:"blockchain" json:"blockchain"`
	Detail           CryptoDetail            `db:"-" json:"detail"`
	CreatedAt        time.Time               `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time               `db:"updated_at" json:"updated_at"`
}

// NewCryptoTransaction builds a header whose type is taken from the detail, so the
// discriminant and payload cannot disagree.
func NewCryptoTransaction(reference string, account *VirtualAccount, status CryptoTransactionStatus, detail CryptoDetail) *CryptoTransaction {
	now := time.Now().UTC()
	return &CryptoTransaction{
		Reference:        reference,
		UserID:           account.UserID,
		VirtualAccountID: account.ID,
		Type:             detail.TransactionType(),
		Status:           status,
		Currency:         account.Currency,
		Blockchain:       account.Blockchain,
		Detail:           detail,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// BuyDetail records a fiat→crypto purchase.
type BuyDetail struct {
	Amount      decimal.Decimal `db:"amount" json:"amount"`
	Price       decimal.Decimal `db:"price" json:"price"`
	AmountUSD   decimal.Decimal `db:"amount_usd" json:"amount_usd"`
	Rate        decimal.Decimal `db:"rate" json:"rate"`
	RateID      int64           `db:"rate_id" json:"rate_id"`
	AmountNGN   decimal.Decimal `db:"amount_ngn" json:"amount_ngn"`
	NetworkFee  decimal.Decimal `db:"network_fee" json:"network_fee"`
	TxHash      string          `db:"tx_hash" json:"tx_hash,omitempty"`
	FromAddress string          `db:"from_address" json:"from_address,omitempty"`
	ToAddress   string          `db:"to_address" json:"to_address,omitempty"`
}

// SellDetail records a crypto→fiat sale. PayoutNGN = GrossNGN - FeeNGN.
type SellDetail struct {
	Amount      decimal.Decimal `db:"amount" json:"amount"`
	Price       decimal.Decimal `db:"price" json:"price"`
	AmountUSD   decimal.Decimal `db:"amount_usd" json:"amount_usd"`
	Rate        decimal.Decimal `db:"rate" json:"rate"`
	RateID      int64           `db:"rate_id" json:"rate_id"`
	GrossNGN    decimal.Decimal `db:"gross_ngn" json:"gross_ngn"`
	FeeNGN      decimal.Decimal `db:"fee_ngn" json:"fee_ngn"`
	PayoutNGN   decimal.Decimal `db:"payout_ngn" json:"payout_ngn"`
	NetworkFee  decimal.Decimal `db:"network_fee" json:"network_fee"`
	TxHash      string          `db:"tx_hash" json:"tx_hash,omitempty"`
	TopUpTxHash string          `db:"top_up_tx_hash" json:"top_up_tx_hash,omitempty"`
	FromAddress string          `db:"from_address" json:"from_address,omitempty"`
	ToAddress   string          `db:"to_address" json:"to_address,omitempty"`
}

// SendDetail records an outbound transfer to an external address.
type SendDetail struct {
	Amount      decimal.Decimal     `db:"amount" json:"amount"`
	AmountUSD   decimal.Decimal     `db:"amount_usd" json:"amount_usd"`
	AmountNGN   decimal.NullDecimal `db:"amount_ngn" json:"amount_ngn"`
	NetworkFee  decimal.Decimal     `db:"network_fee" json:"network_fee"`
	FeeCurrency string              `db:"fee_currency" json:"fee_currency"`
	TxHash      string              `db:"tx_hash" json:"tx_hash,omitempty"`
	FromAddress string              `db:"from_address" json:"from_address"`
	ToAddress   string              `db:"to_address" json:"to_address"`
}

// ReceiveDetail records an inbound deposit credited to a virtual account.
type ReceiveDetail struct {
	Amount      decimal.Decimal `db:"amount" json:"amount"`
	AmountUSD   decimal.Decimal `db:"amount_usd" json:"amount_usd"`
	TxHash      string          `db:"tx_hash" json:"tx_hash"`
	FromAddress string          `db:"from_address" json:"from_address"`
	ToAddress   string          `db:"to_address" json:"to_address"`
}

// SwapDetail records both legs of an internal crypto→crypto conversion.
type SwapDetail struct {
	FromCurrency       string              `db:"from_currency" json:"from_currency"`
	FromBlockchain     string              `db:"from_blockchain" json:"from_blockchain"`
	ToCurrency         string              `db:"to_currency" json:"to_currency"`
	ToBlockchain       string              `db:"to_blockchain" json:"to_blockchain"`
	ToVirtualAccountID int64               `db:"to_virtual_account_id" json:"to_virtual_account_id"`
	FromAmount         decimal.Decimal     `db:"from_amount" json:"from_amount"`
	ToAmount           decimal.Decimal     `db:"to_amount" json:"to_amount"`
	Fee                decimal.Decimal     `db:"fee" json:"fee"`
	FromPrice          decimal.Decimal     `db:"from_price" json:"from_price"`
	ToPrice            decimal.Decimal     `db:"to_price" json:"to_price"`
	AmountUSD          decimal.Decimal     `db:"amount_usd" json:"amount_usd"`
	AmountNGN          decimal.NullDecimal `db:"amount_ngn" json:"amount_ngn"`
}

func (BuyDetail) TransactionType() TransactionType     { return TransactionTypeBuy }
func (SellDetail) TransactionType() TransactionType    { return TransactionTypeSell }
func (SendDetail) TransactionType() TransactionType    { return TransactionTypeSend }
func (ReceiveDetail) TransactionType() TransactionType { return TransactionTypeReceive }
func (SwapDetail) TransactionType() TransactionType    { return TransactionTypeSwap }

func (BuyDetail) isCryptoDetail()     {}
func (SellDetail) isCryptoDetail()    {}
func (SendDetail) isCryptoDetail()    {}
func (ReceiveDetail) isCryptoDetail() {}
func (SwapDetail) isCryptoDetail()    {}

// TransactionFilter narrows a transaction listing. Zero values mean "any".
type TransactionFilter struct {
	UserID           int64
	VirtualAccountID int64
	Type             TransactionType
	Limit            int
	Offset           int
}
