// internal/repository/repositories.go
package repository

// Repositories groups every repository a service layer needs.
type Repositories struct {
	Wallets   WalletRepository
	Accounts  VirtualAccountRepository
	FiatTxs   FiatTransactionRepository
	CryptoTxs CryptoTransactionRepository
	Rates     RateRepository
	Bills     BillPaymentRepository
	Failures  SettlementFailureRepository
}
