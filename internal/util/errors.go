// internal/util/errors.go
package util

import (
	"errors"
	"fmt"
)

// Common application-specific errors.
var (
	ErrNotFound         = errors.New("resource not found")
	ErrInvalidInput     = errors.New("invalid input provided")
	ErrDuplicateEntry   = errors.New("duplicate entry")
	ErrWalletNotFound   = errors.New("wallet not found")
	ErrAccountNotFound  = errors.New("virtual account not found")
	ErrCurrencyMismatch = errors.New("currency mismatch")

	// Balance and restriction errors are rejected before any mutation.
	ErrInsufficientBalance    = errors.New("insufficient balance")
	ErrInsufficientFeeReserve = errors.New("insufficient native balance for network fee")
	ErrWalletInactive         = errors.New("wallet is not active")
	ErrAccountFrozen          = errors.New("virtual account is frozen or inactive")

	ErrRateNotConfigured = errors.New("no rate configured for amount")
	ErrRateOverlap       = errors.New("rate tier overlaps an active tier")
	ErrFeeExceedsPayout  = errors.New("network fee exceeds payout")

	// External settlement errors.
	ErrExternalTransferFailed    = errors.New("external transfer failed")
	ErrCustodyCapacity           = errors.New("custodial reserve cannot cover transfer")
	ErrProviderInsufficientFunds = errors.New("provider reported insufficient funds")
	ErrFeeEstimationFailed       = errors.New("network fee estimation failed")
	ErrPartialSettlement         = errors.New("partial settlement failure")
	ErrRefundFailed              = errors.New("refund failed")
)

// IsError reports whether any error in err's chain matches target.
func IsError(err, target error) bool {
	return errors.Is(err, target)
}

// Invalid wraps ErrInvalidInput with a caller-facing reason.
func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
