// internal/repository/postgres/repositories.go
package postgres

import "custody-ledger/internal/repository"

// NewRepositories wires every PostgreSQL repository.
func NewRepositories() repository.Repositories {
	return repository.Repositories{
		Wallets:   NewWalletRepository(),
		Accounts:  NewVirtualAccountRepository(),
		FiatTxs:   NewFiatTransactionRepository(),
		CryptoTxs: NewCryptoTransactionRepository(),
		Rates:     NewRateRepository(),
		Bills:     NewBillPaymentRepository(),
		Failures:  NewSettlementFailureRepository(),
	}
}
