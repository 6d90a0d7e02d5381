package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"custody-ledger/internal/domain"
	"custody-ledger/internal/repository"
	"custody-ledger/internal/util"

	"github.com/shopspring/decimal"
)

// WalletRepository implements repository.WalletRepository over a Store.
type WalletRepository struct{ store *Store }

func NewWalletRepository(s *Store) repository.WalletRepository { return &WalletRepository{store: s} }

func (r *WalletRepository) CreateWallet(ctx context.Context, q repository.DBExecutor, w *domain.Wallet) error {
	return r.store.with(ctx, q, func(st *state) error {
		if w.IsPrimary {
			for _, existing := range st.wallets {
				if existing.IsPrimary && existing.UserID == w.UserID && strings.EqualFold(existing.Currency, w.Currency) {
					return fmt.Errorf("failed to create wallet: %w", util.ErrDuplicateEntry)
				}
			}
		}
		w.ID = st.id()
		st.wallets[w.ID] = *w
		return nil
	})
}

func (r *WalletRepository) GetWalletByID(ctx context.Context, q repository.DBExecutor, id int64) (*domain.Wallet, error) {
	var out domain.Wallet
	err := r.store.with(ctx, q, func(st *state) error {
		w, ok := st.wallets[id]
		if !ok {
			return fmt.Errorf("failed to get wallet by ID %d: %w", id, util.ErrNotFound)
		}
		out = w
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetWalletForUpdate needs no row lock; the transaction already owns the store.
func (r *WalletRepository) GetWalletForUpdate(ctx context.Context, q repository.DBExecutor, id int64) (*domain.Wallet, error) {
	return r.GetWalletByID(ctx, q, id)
}

func (r *WalletRepository) GetPrimaryWallet(ctx context.Context, q repository.DBExecutor, userID int64, currency string) (*domain.Wallet, error) {
	var out *domain.Wallet
	err := r.store.with(ctx, q, func(st *state) error {
		for _, w := range st.wallets {
			if w.IsPrimary && w.UserID == userID && strings.EqualFold(w.Currency, currency) {
				w := w
				out = &w
				return nil
			}
		}
		return fmt.Errorf("failed to get primary wallet for user %d and currency %s: %w", userID, currency, util.ErrNotFound)
	})
	return out, err
}

func (r *WalletRepository) SetWalletBalance(ctx context.Context, q repository.DBExecutor, walletID int64, balance decimal.Decimal) error {
	return r.store.with(ctx, q, func(st *state) error {
		w, ok := st.wallets[walletID]
		if !ok {
			return fmt.Errorf("failed to update wallet balance for ID %d: %w", walletID, util.ErrNotFound)
		}
		if balance.IsNegative() {
			return fmt.Errorf("failed to update wallet balance for ID %d: balance would be negative", walletID)
		}
		w.Balance = balance
		w.UpdatedAt = time.Now().UTC()
		st.wallets[walletID] = w
		return nil
	})
}

// VirtualAccountRepository implements repository.VirtualAccountRepository over a Store.
type VirtualAccountRepository struct{ store *Store }

func NewVirtualAccountRepository(s *Store) repository.VirtualAccountRepository {
	return &VirtualAccountRepository{store: s}
}

func (r *VirtualAccountRepository) CreateVirtualAccount(ctx context.Context, q repository.DBExecutor, a *domain.VirtualAccount) error {
	return r.store.with(ctx, q, func(st *state) error {
		for _, existing := range st.accounts {
			if existing.UserID == a.UserID && strings.EqualFold(existing.Currency, a.Currency) &&
				strings.EqualFold(existing.Blockchain, a.Blockchain) {
				return fmt.Errorf("failed to create virtual account: %w", util.ErrDuplicateEntry)
			}
		}
		a.ID = st.id()
		st.accounts[a.ID] = *a
		return nil
	})
}

func (r *VirtualAccountRepository) GetVirtualAccountByID(ctx context.Context, q repository.DBExecutor, id int64) (*domain.VirtualAccount, error) {
	var out domain.VirtualAccount
	err := r.store.with(ctx, q, func(st *state) error {
		a, ok := st.accounts[id]
		if !ok {
			return fmt.Errorf("failed to get virtual account %d: %w", id, util.ErrNotFound)
		}
		out = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *VirtualAccountRepository) GetVirtualAccountForUpdate(ctx context.Context, q repository.DBExecutor, id int64) (*domain.VirtualAccount, error) {
	return r.GetVirtualAccountByID(ctx, q, id)
}

func (r *VirtualAccountRepository) GetUserVirtualAccount(ctx context.Context, q repository.DBExecutor, userID int64, currency, blockchain string) (*domain.VirtualAccount, error) {
	return r.find(ctx, q, func(a domain.VirtualAccount) bool {
		return a.UserID == userID && strings.EqualFold(a.Currency, currency) && strings.EqualFold(a.Blockchain, blockchain)
	}, fmt.Sprintf("%s/%s virtual account for user %d", currency, blockchain, userID))
}

func (r *VirtualAccountRepository) FindVirtualAccountByAddress(ctx context.Context, q repository.DBExecutor, blockchain, address string) (*domain.VirtualAccount, error) {
	return r.find(ctx, q, func(a domain.VirtualAccount) bool {
		return strings.EqualFold(a.Blockchain, blockchain) && a.DepositAddress == address
	}, "virtual account by address "+address)
}

func (r *VirtualAccountRepository) find(ctx context.Context, q repository.DBExecutor, match func(domain.VirtualAccount) bool, what string) (*domain.VirtualAccount, error) {
	var out *domain.VirtualAccount
	err := r.store.with(ctx, q, func(st *state) error {
		for _, a := range st.accounts {
			if match(a) && (out == nil || a.ID < out.ID) {
				a := a
				out = &a
			}
		}
		if out == nil {
			return fmt.Errorf("failed to get %s: %w", what, util.ErrNotFound)
		}
		return nil
	})
	return out, err
}

func (r *VirtualAccountRepository) SetVirtualAccountBalance(ctx context.Context, q repository.DBExecutor, id int64, balance decimal.Decimal) error {
	return r.store.with(ctx, q, func(st *state) error {
		a, ok := st.accounts[id]
		if !ok {
			return fmt.Errorf("failed to update virtual account balance for ID %d: %w", id, util.ErrNotFound)
		}
		if balance.IsNegative() {
			return fmt.Errorf("failed to update virtual account balance for ID %d: balance would be negative", id)
		}
		a.AvailableBalance = balance
		a.AccountBalance = balance
		a.UpdatedAt = time.Now().UTC()
		st.accounts[id] = a
		return nil
	})
}

// PutWalletCurrency inserts or replaces asset metadata. It has no repository
// counterpart; currencies are provisioned out of band.
func (s *Store) PutWalletCurrency(ctx context.Context, wc domain.WalletCurrency) error {
	return s.with(ctx, s.DB(), func(st *state) error {
		key := currencyKey(wc.Currency, wc.Blockchain)
		if existing, ok := st.currencies[key]; ok {
			wc.ID = existing.ID
		} else {
			wc.ID = st.id()
		}
		st.currencies[key] = wc
		return nil
	})
}

func (r *VirtualAccountRepository) GetWalletCurrency(ctx context.Context, q repository.DBExecutor, currency, blockchain string) (*domain.WalletCurrency, error) {
	var out domain.WalletCurrency
	err := r.store.with(ctx, q, func(st *state) error {
		wc, ok := st.currencies[currencyKey(currency, blockchain)]
		if !ok {
			return fmt.Errorf("failed to get wallet currency %s/%s: %w", currency, blockchain, util.ErrNotFound)
		}
		out = wc
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *VirtualAccountRepository) ListWalletCurrencies(ctx context.Context, q repository.DBExecutor) ([]domain.WalletCurrency, error) {
	out := []domain.WalletCurrency{}
	err := r.store.with(ctx, q, func(st *state) error {
		for _, wc := range st.currencies {
			out = append(out, wc)
		}
		return nil
	})
	return out, err
}

func (r *VirtualAccountRepository) UpdateWalletCurrencyPrice(ctx context.Context, q repository.DBExecutor, currency, blockchain string, price decimal.Decimal) error {
	return r.store.with(ctx, q, func(st *state) error {
		key := currencyKey(currency, blockchain)
		wc, ok := st.currencies[key]
		if !ok {
			return fmt.Errorf("failed to update price for %s/%s: %w", currency, blockchain, util.ErrNotFound)
		}
		wc.Price = price
		wc.UpdatedAt = time.Now().UTC()
		st.currencies[key] = wc
		return nil
	})
}
