// internal/service/mocks_test.go
package service

import (
	"context"
	"database/sql"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"

	"custody-ledger/internal/domain"
	"custody-ledger/internal/repository"
	"custody-ledger/pkg/db"
)

// MockDBExecutor is a mock implementation of repository.DBExecutor.
type MockDBExecutor struct {
	mock.Mock
}

func (m *MockDBExecutor) GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	argsCalled := m.Called(ctx, dest, query, args)
	return argsCalled.Error(0)
}

func (m *MockDBExecutor) SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	argsCalled := m.Called(ctx, dest, query, args)
	return argsCalled.Error(0)
}

func (m *MockDBExecutor) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	argsCalled := m.Called(ctx, query, args)
	return argsCalled.Get(0).(sql.Result), argsCalled.Error(1)
}

func (m *MockDBExecutor) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	m.Called(ctx, query, args)
	return &sql.Row{}
}

// MockTxController is a mock implementation of db.TxController. It embeds
// MockDBExecutor so the unit of work can hand it to repositories.
type MockTxController struct {
	mock.Mock
	MockDBExecutor
}

func (m *MockTxController) Commit() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockTxController) Rollback() error {
	args := m.Called()
	return args.Error(0)
}

// mockUnitOfWork runs every unit against tx.
func mockUnitOfWork(tx *MockTxController) UnitOfWork {
	return UnitOfWork{
		Begin: func(ctx context.Context, dbConn db.DBTxBeginner) (db.TxController, error) {
			return tx, nil
		},
		Commit: func(t db.TxController) error {
			return tx.Commit()
		},
		Rollback: func(t db.TxController) {
			_ = tx.Rollback()
		},
	}
}

// MockWalletRepository is a mock implementation of repository.WalletRepository.
type MockWalletRepository struct {
	mock.Mock
}

func (m *MockWalletRepository) CreateWallet(ctx context.Context, q repository.DBExecutor, wallet *domain.Wallet) error {
	args := m.Called(ctx, q, wallet)
	return args.Error(0)
}

func (m *MockWalletRepository) GetWalletByID(ctx context.Context, q repository.DBExecutor, id int64) (*domain.Wallet, error) {
	args := m.Called(ctx, q, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Wallet), args.Error(1)
}

func (m *MockWalletRepository) GetWalletForUpdate(ctx context.Context, q repository.DBExecutor, id int64) (*domain.Wallet, error) {
	args := m.Called(ctx, q, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Wallet), args.Error(1)
}

func (m *MockWalletRepository) GetPrimaryWallet(ctx context.Context, q repository.DBExecutor, userID int64, currency string) (*domain.Wallet, error) {
	args := m.Called(ctx, q, userID, currency)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Wallet), args.Error(1)
}

func (m *MockWalletRepository) SetWalletBalance(ctx context.Context, q repository.DBExecutor, walletID int64, balance decimal.Decimal) error {
	args := m.Called(ctx, q, walletID, balance)
	return args.Error(0)
}

// MockFiatTransactionRepository is a mock implementation of repository.FiatTransactionRepository.
type MockFiatTransactionRepository struct {
	mock.Mock
}

func (m *MockFiatTransactionRepository) CreateFiatTransaction(ctx context.Context, q repository.DBExecutor, tx *domain.FiatTransaction) error {
	args := m.Called(ctx, q, tx)
	return args.Error(0)
}

func (m *MockFiatTransactionRepository) GetFiatTransactionByID(ctx context.Context, q repository.DBExecutor, id int64) (*domain.FiatTransaction, error) {
	args := m.Called(ctx, q, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.FiatTransaction), args.Error(1)
}

func (m *MockFiatTransactionRepository) CompleteFiatTransaction(ctx context.Context, q repository.DBExecutor, id int64, before, after decimal.Decimal) error {
	args := m.Called(ctx, q, id, before, after)
	return args.Error(0)
}

func (m *MockFiatTransactionRepository) FailFiatTransaction(ctx context.Context, q repository.DBExecutor, id int64, reason string) error {
	args := m.Called(ctx, q, id, reason)
	return args.Error(0)
}

func (m *MockFiatTransactionRepository) ListFiatTransactionsByWallet(ctx context.Context, q repository.DBExecutor, walletID int64, limit, offset int) ([]domain.FiatTransaction, int64, error) {
	args := m.Called(ctx, q, walletID, limit, offset)
	return args.Get(0).([]domain.FiatTransaction), args.Get(1).(int64), args.Error(2)
}

func (m *MockFiatTransactionRepository) ListRefundsFor(ctx context.Context, q repository.DBExecutor, relatedID int64) ([]domain.FiatTransaction, error) {
	args := m.Called(ctx, q, relatedID)
	return args.Get(0).([]domain.FiatTransaction), args.Error(1)
}

// MockVirtualAccountRepository is a mock implementation of repository.VirtualAccountRepository.
type MockVirtualAccountRepository struct {
	mock.Mock
}

func (m *MockVirtualAccountRepository) CreateVirtualAccount(ctx context.Context, q repository.DBExecutor, account *domain.VirtualAccount) error {
	return m.Called(ctx, q, account).Error(0)
}

func (m *MockVirtualAccountRepository) GetVirtualAccountByID(ctx context.Context, q repository.DBExecutor, id int64) (*domain.VirtualAccount, error) {
	args := m.Called(ctx, q, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.VirtualAccount), args.Error(1)
}

func (m *MockVirtualAccountRepository) GetVirtualAccountForUpdate(ctx context.Context, q repository.DBExecutor, id int64) (*domain.VirtualAccount, error) {
	args := m.Called(ctx, q, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.VirtualAccount), args.Error(1)
}

func (m *MockVirtualAccountRepository) GetUserVirtualAccount(ctx context.Context, q repository.DBExecutor, userID int64, currency, blockchain string) (*domain.VirtualAccount, error) {
	args := m.Called(ctx, q, userID, currency, blockchain)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.VirtualAccount), args.Error(1)
}

func (m *MockVirtualAccountRepository) FindVirtualAccountByAddress(ctx context.Context, q repository.DBExecutor, blockchain, address string) (*domain.VirtualAccount, error) {
	args := m.Called(ctx, q, blockchain, address)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.VirtualAccount), args.Error(1)
}

func (m *MockVirtualAccountRepository) SetVirtualAccountBalance(ctx context.Context, q repository.DBExecutor, id int64, balance decimal.Decimal) error {
	return m.Called(ctx, q, id, balance).Error(0)
}

func (m *MockVirtualAccountRepository) GetWalletCurrency(ctx context.Context, q repository.DBExecutor, currency, blockchain string) (*domain.WalletCurrency, error) {
	args := m.Called(ctx, q, currency, blockchain)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.WalletCurrency), args.Error(1)
}

func (m *MockVirtualAccountRepository) ListWalletCurrencies(ctx context.Context, q repository.DBExecutor) ([]domain.WalletCurrency, error) {
	args := m.Called(ctx, q)
	return args.Get(0).([]domain.WalletCurrency), args.Error(1)
}

func (m *MockVirtualAccountRepository) UpdateWalletCurrencyPrice(ctx context.Context, q repository.DBExecutor, currency, blockchain string, price decimal.Decimal) error {
	return m.Called(ctx, q, currency, blockchain, price).Error(0)
}

// decEq matches a decimal argument by numeric value, ignoring its exponent.
func decEq(want decimal.Decimal) interface{} {
	return mock.MatchedBy(func(d decimal.Decimal) bool { return d.Equal(want) })
}

// MockTransferProvider is a mock implementation of ValueTransferProvider.
type MockTransferProvider struct {
	mock.Mock
}

func (m *MockTransferProvider) EstimateFee(ctx context.Context, req domain.FeeRequest) (domain.FeeEstimate, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(domain.FeeEstimate), args.Error(1)
}

func (m *MockTransferProvider) Send(ctx context.Context, req domain.TransferRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *MockTransferProvider) GetBalance(ctx context.Context, blockchain, address, currency string) (decimal.Decimal, error) {
	args := m.Called(ctx, blockchain, address, currency)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

func (m *MockTransferProvider) TransferStatus(ctx context.Context, blockchain, txHash string) (domain.TransferStatus, error) {
	args := m.Called(ctx, blockchain, txHash)
	return args.Get(0).(domain.TransferStatus), args.Error(1)
}

// MockBillProvider is a mock implementation of BillProvider.
type MockBillProvider struct {
	mock.Mock
}

func (m *MockBillProvider) Name() string {
	return "mockbills"
}

func (m *MockBillProvider) PlaceOrder(ctx context.Context, order domain.BillOrder) (*domain.BillOrderResult, error) {
	args := m.Called(ctx, order)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.BillOrderResult), args.Error(1)
}

func (m *MockBillProvider) QueryOrder(ctx context.Context, outOrderNo string) (*domain.BillOrderResult, error) {
	args := m.Called(ctx, outOrderNo)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.BillOrderResult), args.Error(1)
}

// recordingSink keeps every delivered notification.
type recordingSink struct {
	mu    sync.Mutex
	notes []domain.Notification
}

func (s *recordingSink) Notify(_ context.Context, n domain.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notes = append(s.notes, n)
	return nil
}

func (s *recordingSink) kinds() []domain.NotificationKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.NotificationKind, 0, len(s.notes))
	for _, n := range s.notes {
		out = append(out, n.Kind)
	}
	return out
}
