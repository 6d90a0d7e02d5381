// internal/domain/virtual_account.go
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// VirtualAccount is a per-user, per-asset crypto ledger balance.
// AvailableBalance and AccountBalance are kept equal; there is no pending tier.
type VirtualAccount struct {
	ID               int64           `db:"id" json:"id"`
	UserID           int64           `db:"user_id" json:"user_id"`
	Currency         string          `db:"currency" json:"currency"`
	Blockchain       string          `db:"blockchain" json:"blockchain"`
	AvailableBalance decimal.Decimal `db:"available_balance" json:"available_balance"`
	AccountBalance   decimal.Decimal `db:"account_balance" json:"account_balance"`
	Active           bool            `db:"active" json:"active"`
	Frozen           bool            `db:"frozen" json:"frozen"`
	DepositAddress   string          `db:"deposit_address" json:"deposit_address"`
	// EncryptedSecret is the ciphertext of the deposit address signing key.
	EncryptedSecret string    `db:"encrypted_secret" json:"-"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}

// NewVirtualAccount creates an active zero-balance account bound to a deposit address.
func NewVirtualAccount(userID int64, currency, blockchain, depositAddress, encryptedSecret string) *VirtualAccount {
	now := time.Now().UTC()
	return &VirtualAccount{
		UserID:           userID,
		Currency:         currency,
		Blockchain:       blockchain,
		AvailableBalance: decimal.Zero,
		AccountBalance:   decimal.Zero,
		Active:           true,
		DepositAddress:   depositAddress,
		EncryptedSecret:  encryptedSecret,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// Usable reports whether the account may be debited or credited.
func (a *VirtualAccount) Usable() bool {
	return a.Active && !a.Frozen
}

// WalletCurrency is the asset metadata linked to a virtual account.
type WalletCurrency struct {
	ID              int64           `db:"id" json:"id"`
	Currency        string          `db:"currency" json:"currency"`
	Blockchain      string          `db:"blockchain" json:"blockchain"`
	Price           decimal.Decimal `db:"price" json:"price"`
	Decimals        int32           `db:"decimals" json:"decimals"`
	ContractAddress *string         `db:"contract_address" json:"contract_address,omitempty"`
	IsToken         bool            `db:"is_token" json:"is_token"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updated_at"`
}
