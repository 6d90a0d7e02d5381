// internal/repository/postgres/integration_test.go
package postgres_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"custody-ledger/internal/domain"
	"custody-ledger/internal/repository/postgres"
	"custody-ledger/internal/service"
	"custody-ledger/internal/util"
	"custody-ledger/migrations"
	"custody-ledger/pkg/db"
)

// connect opens TEST_DATABASE_URL and applies the schema, or skips the test.
func connect(t *testing.T) *sqlx.DB {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	conn, err := sqlx.Connect("postgres", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, db.RunMigrations(context.Background(), conn, migrations.FS))
	return conn
}

// uniqueUser keeps runs against a shared database apart.
func uniqueUser() int64 {
	return time.Now().UnixNano() % 1_000_000_000_000
}

func TestConcurrentDebitsAgainstPostgres(t *testing.T) {
	conn := connect(t)
	ctx := context.Background()
	repos := postgres.NewRepositories()
	uow := service.UnitOfWork{
		Beginner: conn,
		Begin:    db.NewBoundedBeginTx(10*time.Second, 15*time.Second),
		Commit:   db.CommitTx,
		Rollback: db.RollbackTx,
		Timeout:  30 * time.Second,
	}
	ledger := service.NewLedgerService(conn, repos.Wallets, repos.Accounts, repos.FiatTxs, uow,
		slog.New(slog.NewTextHandler(io.Discard, nil)))

	user := uniqueUser()
	wallet := domain.NewWallet(user, domain.FiatCurrency)
	wallet.Balance = decimal.NewFromInt(100)
	require.NoError(t, repos.Wallets.CreateWallet(ctx, conn, wallet))

	const workers = 10
	ids := make([]int64, workers)
	for i := range ids {
		ft := domain.NewFiatTransaction(fmt.Sprintf("IT-%d-%d", user, i), wallet, domain.FiatTransactionBillPayment,
			decimal.NewFromInt(100), "integration debit")
		require.NoError(t, repos.FiatTxs.CreateFiatTransaction(ctx, conn, ft))
		ids[i] = ft.ID
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ok       int
		rejected int
	)
	for _, id := range ids {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			_, err := ledger.DebitWallet(ctx, wallet.ID, decimal.NewFromInt(100), id)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, util.ErrInsufficientBalance):
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(id)
	}
	wg.Wait()

	assert.Equal(t, 1, ok)
	assert.Equal(t, workers-1, rejected)
	got, err := repos.Wallets.GetWalletByID(ctx, conn, wallet.ID)
	require.NoError(t, err)
	assert.True(t, got.Balance.IsZero(), "balance %s", got.Balance)
}

func TestCryptoTransactionDetailRoundTrip(t *testing.T) {
	conn := connect(t)
	ctx := context.Background()
	repos := postgres.NewRepositories()

	user := uniqueUser()
	account := domain.NewVirtualAccount(user, "BTC", "bitcoin", fmt.Sprintf("bc1-%d", user), "")
	require.NoError(t, repos.Accounts.CreateVirtualAccount(ctx, conn, account))
	target := domain.NewVirtualAccount(user, "TRX", "tron", fmt.Sprintf("T-%d", user), "")
	require.NoError(t, repos.Accounts.CreateVirtualAccount(ctx, conn, target))

	detail := domain.SwapDetail{
		FromCurrency:       "BTC",
		FromBlockchain:     "bitcoin",
		ToCurrency:         "TRX",
		ToBlockchain:       "tron",
		ToVirtualAccountID: target.ID,
		FromAmount:         decimal.RequireFromString("0.01"),
		ToAmount:           decimal.RequireFromString("200"),
		Fee:                decimal.Zero,
		FromPrice:          decimal.RequireFromString("2000"),
		ToPrice:            decimal.RequireFromString("0.1"),
		AmountUSD:          decimal.RequireFromString("20"),
	}
	ref := domain.NewReference("SWAP", user, time.Now())
	tx := domain.NewCryptoTransaction(ref, account, domain.CryptoStatusSuccessful, detail)
	require.NoError(t, repos.CryptoTxs.CreateCryptoTransaction(ctx, conn, tx))

	err := repos.CryptoTxs.CreateCryptoTransaction(ctx, conn, domain.NewCryptoTransaction(ref, account, domain.CryptoStatusSuccessful, detail))
	assert.ErrorIs(t, err, util.ErrDuplicateEntry)

	got, err := repos.CryptoTxs.GetCryptoTransactionByReference(ctx, conn, ref)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionTypeSwap, got.Type)
	swap, ok := got.Detail.(domain.SwapDetail)
	require.True(t, ok)
	assert.Equal(t, "TRX", swap.ToCurrency)
	assert.Equal(t, target.ID, swap.ToVirtualAccountID)
	assert.True(t, swap.ToAmount.Equal(detail.ToAmount))
	assert.False(t, swap.AmountNGN.Valid)

	items, total, err := repos.CryptoTxs.ListCryptoTransactions(ctx, conn, domain.TransactionFilter{UserID: user, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, items, 1)
	assert.IsType(t, domain.SwapDetail{}, items[0].Detail)
}
