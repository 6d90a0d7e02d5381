// internal/domain/wallet.go
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// WalletStatus is the administrative state of a fiat wallet.
type WalletStatus string

const (
	WalletStatusActive WalletStatus = "active"
	WalletStatusFrozen WalletStatus = "frozen"
	WalletStatusClosed WalletStatus = "closed"
)

// Wallet is a user's single-currency fiat wallet. Balance only moves through the
// ledger's paired debit/credit primitives and is never negative after a commit.
type Wallet struct {
	ID        int64           `db:"id" json:"id"`
	UserID    int64           `db:"user_id" json:"user_id"`
	Currency  string          `db:"currency" json:"currency"`
	Balance   decimal.Decimal `db:"balance" json:"balance"`
	Status    WalletStatus    `db:"status" json:"status"`
	IsPrimary bool            `db:"is_primary" json:"is_primary"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt time.Time       `db:"updated_at" json:"updated_at"`
}

// NewWallet creates an empty, active primary wallet.
func NewWallet(userID int64, currency string) *Wallet {
	now := time.Now().UTC()
	return &Wallet{
		UserID:    userID,
		Currency:  currency,
		Balance:   decimal.Zero,
		Status:    WalletStatusActive,
		IsPrimary: true,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// IsActive reports whether the wallet accepts debits and credits.
func (w *Wallet) IsActive() bool {
	return w.Status == WalletStatusActive
}
