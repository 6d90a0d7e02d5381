package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"custody-ledger/internal/domain"
	"custody-ledger/internal/repository"
	"custody-ledger/internal/util"

	"github.com/shopspring/decimal"
)

// FiatTransactionRepository implements repository.FiatTransactionRepository over a Store.
type FiatTransactionRepository struct{ store *Store }

func NewFiatTransactionRepository(s *Store) repository.FiatTransactionRepository {
	return &FiatTransactionRepository{store: s}
}

func (r *FiatTransactionRepository) CreateFiatTransaction(ctx context.Context, q repository.DBExecutor, t *domain.FiatTransaction) error {
	return r.store.with(ctx, q, func(st *state) error {
		if _, ok := st.wallets[t.WalletID]; !ok {
			return fmt.Errorf("failed to create fiat transaction: wallet %d: %w", t.WalletID, util.ErrNotFound)
		}
		for _, existing := range st.fiatTxs {
			if existing.Reference == t.Reference {
				return fmt.Errorf("failed to create fiat transaction: %w", util.ErrDuplicateEntry)
			}
			if t.Type == domain.FiatTransactionRefund && existing.Type == domain.FiatTransactionRefund &&
				t.RelatedTransactionID != nil && existing.RelatedTransactionID != nil &&
				*t.RelatedTransactionID == *existing.RelatedTransactionID {
				return fmt.Errorf("failed to create fiat transaction: %w", util.ErrDuplicateEntry)
			}
		}
		t.ID = st.id()
		st.fiatTxs[t.ID] = *t
		return nil
	})
}

func (r *FiatTransactionRepository) GetFiatTransactionByID(ctx context.Context, q repository.DBExecutor, id int64) (*domain.FiatTransaction, error) {
	var out domain.FiatTransaction
	err := r.store.with(ctx, q, func(st *state) error {
		t, ok := st.fiatTxs[id]
		if !ok {
			return fmt.Errorf("failed to get fiat transaction %d: %w", id, util.ErrNotFound)
		}
		out = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *FiatTransactionRepository) CompleteFiatTransaction(ctx context.Context, q repository.DBExecutor, id int64, before, after decimal.Decimal) error {
	return r.store.with(ctx, q, func(st *state) error {
		t, ok := st.fiatTxs[id]
		if !ok || t.Status != domain.FiatTransactionPending {
			return fmt.Errorf("failed to complete fiat transaction %d: %w", id, util.ErrNotFound)
		}
		t.Status = domain.FiatTransactionCompleted
		t.BalanceBefore = decimal.NewNullDecimal(before)
		t.BalanceAfter = decimal.NewNullDecimal(after)
		t.UpdatedAt = time.Now().UTC()
		st.fiatTxs[id] = t
		return nil
	})
}

func (r *FiatTransactionRepository) FailFiatTransaction(ctx context.Context, q repository.DBExecutor, id int64, reason string) error {
	return r.store.with(ctx, q, func(st *state) error {
		t, ok := st.fiatTxs[id]
		if !ok || t.Status != domain.FiatTransactionPending {
			return fmt.Errorf("failed to fail fiat transaction %d: %w", id, util.ErrNotFound)
		}
		t.Status = domain.FiatTransactionFailed
		t.FailureReason = &reason
		t.UpdatedAt = time.Now().UTC()
		st.fiatTxs[id] = t
		return nil
	})
}

func (r *FiatTransactionRepository) ListFiatTransactionsByWallet(ctx context.Context, q repository.DBExecutor, walletID int64, limit, offset int) ([]domain.FiatTransaction, int64, error) {
	var all []domain.FiatTransaction
	err := r.store.with(ctx, q, func(st *state) error {
		for _, t := range st.fiatTxs {
			if t.WalletID == walletID {
				all = append(all, t)
			}
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	sort.Slice(all, func(i, j int) bool { return newerFirst(all[i].CreatedAt, all[i].ID, all[j].CreatedAt, all[j].ID) })
	return page(all, limit, offset), int64(len(all)), nil
}

func (r *FiatTransactionRepository) ListRefundsFor(ctx context.Context, q repository.DBExecutor, relatedID int64) ([]domain.FiatTransaction, error) {
	refunds := []domain.FiatTransaction{}
	err := r.store.with(ctx, q, func(st *state) error {
		for _, t := range st.fiatTxs {
			if t.Type == domain.FiatTransactionRefund && t.RelatedTransactionID != nil && *t.RelatedTransactionID == relatedID {
				refunds = append(refunds, t)
			}
		}
		return nil
	})
	sort.Slice(refunds, func(i, j int) bool { return refunds[i].ID < refunds[j].ID })
	return refunds, err
}

// CryptoTransactionRepository implements repository.CryptoTransactionRepository over a Store.
type CryptoTransactionRepository struct{ store *Store }

func NewCryptoTransactionRepository(s *Store) repository.CryptoTransactionRepository {
	return &CryptoTransactionRepository{store: s}
}

func (r *CryptoTransactionRepository) CreateCryptoTransaction(ctx context.Context, q repository.DBExecutor, t *domain.CryptoTransaction) error {
	if t.Detail == nil || t.Detail.TransactionType() != t.Type {
		return fmt.Errorf("failed to create crypto transaction %s: detail does not match type %s", t.Reference, t.Type)
	}
	return r.store.with(ctx, q, func(st *state) error {
		if _, ok := st.accounts[t.VirtualAccountID]; !ok {
			return fmt.Errorf("failed to create crypto transaction %s: account %d: %w", t.Reference, t.VirtualAccountID, util.ErrNotFound)
		}
		recv, isRecv := t.Detail.(domain.ReceiveDetail)
		for _, existing := range st.cryptoTxs {
			if existing.Reference == t.Reference {
				return fmt.Errorf("failed to create crypto transaction %s: %w", t.Reference, util.ErrDuplicateEntry)
			}
			if isRecv {
				if d, ok := existing.Detail.(domain.ReceiveDetail); ok && d.TxHash == recv.TxHash &&
					strings.EqualFold(existing.Blockchain, t.Blockchain) {
					return fmt.Errorf("failed to create crypto transaction %s: %w", t.Reference, util.ErrDuplicateEntry)
				}
			}
		}
		t.ID = st.id()
		st.cryptoTxs[t.ID] = *t
		return nil
	})
}

func (r *CryptoTransactionRepository) GetCryptoTransactionByReference(ctx context.Context, q repository.DBExecutor, reference string) (*domain.CryptoTransaction, error) {
	var out *domain.CryptoTransaction
	err := r.store.with(ctx, q, func(st *state) error {
		for _, t := range st.cryptoTxs {
			if t.Reference == reference {
				t := t
				out = &t
				return nil
			}
		}
		return fmt.Errorf("failed to get crypto transaction %s: %w", reference, util.ErrNotFound)
	})
	return out, err
}

func (r *CryptoTransactionRepository) ListCryptoTransactions(ctx context.Context, q repository.DBExecutor, filter domain.TransactionFilter) ([]domain.CryptoTransaction, int64, error) {
	var all []domain.CryptoTransaction
	err := r.store.with(ctx, q, func(st *state) error {
		for _, t := range st.cryptoTxs {
			if filter.UserID != 0 && t.UserID != filter.UserID {
				continue
			}
			if filter.VirtualAccountID != 0 && t.VirtualAccountID != filter.VirtualAccountID {
				continue
			}
			if filter.Type != "" && t.Type != filter.Type {
				continue
			}
			all = append(all, t)
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	sort.Slice(all, func(i, j int) bool { return newerFirst(all[i].CreatedAt, all[i].ID, all[j].CreatedAt, all[j].ID) })
	return page(all, filter.Limit, filter.Offset), int64(len(all)), nil
}

func (r *CryptoTransactionRepository) FindReceiveByTxHash(ctx context.Context, q repository.DBExecutor, blockchain, txHash string) (*domain.CryptoTransaction, error) {
	var out *domain.CryptoTransaction
	err := r.store.with(ctx, q, func(st *state) error {
		for _, t := range st.cryptoTxs {
			if d, ok := t.Detail.(domain.ReceiveDetail); ok && d.TxHash == txHash && strings.EqualFold(t.Blockchain, blockchain) {
				t := t
				out = &t
				return nil
			}
		}
		return fmt.Errorf("failed to find deposit %s on %s: %w", txHash, blockchain, util.ErrNotFound)
	})
	return out, err
}

func newerFirst(at time.Time, aID int64, bt time.Time, bID int64) bool {
	if !at.Equal(bt) {
		return at.After(bt)
	}
	return aID > bID
}

func page[T any](all []T, limit, offset int) []T {
	if offset >= len(all) {
		return []T{}
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all
}
