// Package memory is a transactional in-memory implementation of the repository
// interfaces. A transaction holds the store exclusively from begin to commit or
// rollback, so units of work are serialized the way row locks serialize them in
// PostgreSQL. Rollback restores the snapshot taken at begin.
//
// It backs the service tests; the running application always uses the postgres package.
package memory

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"

	"custody-ledger/internal/domain"
	"custody-ledger/internal/repository"
	"custody-ledger/pkg/db"
)

var errNoSQL = errors.New("memory store does not execute SQL")

type state struct {
	nextID      int64
	wallets     map[int64]domain.Wallet
	accounts    map[int64]domain.VirtualAccount
	currencies  map[string]domain.WalletCurrency
	fiatTxs     map[int64]domain.FiatTransaction
	cryptoTxs   map[int64]domain.CryptoTransaction
	rates       map[int64]domain.CryptoRate
	rateHistory []domain.CryptoRateHistory
	bills       map[int64]domain.BillPayment
	failures    map[int64]domain.SettlementFailure
}

func newState() *state {
	return &state{
		wallets:    map[int64]domain.Wallet{},
		accounts:   map[int64]domain.VirtualAccount{},
		currencies: map[string]domain.WalletCurrency{},
		fiatTxs:    map[int64]domain.FiatTransaction{},
		cryptoTxs:  map[int64]domain.CryptoTransaction{},
		rates:      map[int64]domain.CryptoRate{},
		bills:      map[int64]domain.BillPayment{},
		failures:   map[int64]domain.SettlementFailure{},
	}
}

func (s *state) clone() *state {
	c := newState()
	c.nextID = s.nextID
	for k, v := range s.wallets {
		c.wallets[k] = v
	}
	for k, v := range s.accounts {
		c.accounts[k] = v
	}
	for k, v := range s.currencies {
		c.currencies[k] = v
	}
	for k, v := range s.fiatTxs {
		c.fiatTxs[k] = v
	}
	for k, v := range s.cryptoTxs {
		c.cryptoTxs[k] = v
	}
	for k, v := range s.rates {
		c.rates[k] = v
	}
	c.rateHistory = append(c.rateHistory, s.rateHistory...)
	for k, v := range s.bills {
		c.bills[k] = v
	}
	for k, v := range s.failures {
		c.failures[k] = v
	}
	return c
}

func (s *state) id() int64 {
	s.nextID++
	return s.nextID
}

func currencyKey(currency, blockchain string) string {
	return strings.ToUpper(currency) + "/" + strings.ToLower(blockchain)
}

// Store holds all tables. The zero value is not usable; call NewStore.
type Store struct {
	sem  chan struct{}
	mu   sync.Mutex // guards st pointer swaps
	st   *state
	conn *Conn
}

// NewStore returns an empty store.
func NewStore() *Store {
	s := &Store{sem: make(chan struct{}, 1), st: newState()}
	s.conn = &Conn{store: s}
	return s
}

// DB returns the non-transactional executor, the equivalent of *sqlx.DB.
func (s *Store) DB() *Conn {
	return s.conn
}

func (s *Store) acquire(ctx context.Context) error {
	select {
	case s.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Store) release() {
	<-s.sem
}

// BeginTx has the signature of db.BeginTxFunc. The beginner argument is ignored.
// Waiting for a concurrent transaction honours ctx, which is how lock waits are bounded.
func (s *Store) BeginTx(ctx context.Context, _ db.DBTxBeginner) (db.TxController, error) {
	if err := s.acquire(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	snapshot := s.st.clone()
	s.mu.Unlock()
	return &Tx{store: s, snapshot: snapshot}, nil
}

// with runs fn against the live state. Inside a transaction of this store it runs
// directly; otherwise it takes the store for the duration of fn.
func (s *Store) with(ctx context.Context, q repository.DBExecutor, fn func(st *state) error) error {
	if tx, ok := q.(*Tx); ok && tx.store == s {
		if tx.done {
			return sql.ErrTxDone
		}
		return fn(s.st)
	}
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()
	return fn(s.st)
}

// Tx is a store transaction. It satisfies both db.TxController and repository.DBExecutor.
type Tx struct {
	executor
	store    *Store
	snapshot *state
	done     bool
}

func (t *Tx) Commit() error {
	if t.done {
		return sql.ErrTxDone
	}
	t.done = true
	t.store.release()
	return nil
}

func (t *Tx) Rollback() error {
	if t.done {
		return sql.ErrTxDone
	}
	t.done = true
	t.store.mu.Lock()
	t.store.st = t.snapshot
	t.store.mu.Unlock()
	t.store.release()
	return nil
}

// Conn is the store's non-transactional repository.DBExecutor.
type Conn struct {
	executor
	store *Store
}

// executor satisfies repository.DBExecutor for values that never run SQL.
type executor struct{}

func (executor) GetContext(context.Context, interface{}, string, ...interface{}) error { return errNoSQL }

func (executor) SelectContext(context.Context, interface{}, string, ...interface{}) error {
	return errNoSQL
}

func (executor) ExecContext(context.Context, string, ...interface{}) (sql.Result, error) {
	return nil, errNoSQL
}

func (executor) QueryRowContext(context.Context, string, ...interface{}) *sql.Row { return nil }

var (
	_ db.TxController       = (*Tx)(nil)
	_ repository.DBExecutor = (*Tx)(nil)
	_ repository.DBExecutor = (*Conn)(nil)
)

// Repositories wires every repository over this store.
func (s *Store) Repositories() repository.Repositories {
	return repository.Repositories{
		Wallets:   NewWalletRepository(s),
		Accounts:  NewVirtualAccountRepository(s),
		FiatTxs:   NewFiatTransactionRepository(s),
		CryptoTxs: NewCryptoTransactionRepository(s),
		Rates:     NewRateRepository(s),
		Bills:     NewBillPaymentRepository(s),
		Failures:  NewSettlementFailureRepository(s),
	}
}
