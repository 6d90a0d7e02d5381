// internal/repository/postgres/crypto_transaction_pg.go
package postgres

import (
	"context"
	"fmt"
	"strings"

	"custody-ledger/internal/domain"
	"custody-ledger/internal/repository"

	"github.com/lib/pq"
)

const cryptoTransactionColumns = `id, reference, user_id, virtual_account_id, transaction_type, status, currency,
	blockchain, created_at, updated_at`

type buyRow struct {
	TransactionID int64 `db:"transaction_id"`
	domain.BuyDetail
}

type sellRow struct {
	TransactionID int64 `db:"transaction_id"`
	domain.SellDetail
}

type sendRow struct {
	TransactionID int64 `db:"transaction_id"`
	domain.SendDetail
}

type receiveRow struct {
	TransactionID int64  `db:"transaction_id"`
	Blockchain    string `db:"blockchain"`
	domain.ReceiveDetail
}

type swapRow struct {
	TransactionID int64 `db:"transaction_id"`
	domain.SwapDetail
}

// CryptoTransactionRepository implements repository.CryptoTransactionRepository for PostgreSQL.
// Each header owns exactly one row in the detail table named by its transaction type.
type CryptoTransactionRepository struct{}

// NewCryptoTransactionRepository creates a new CryptoTransactionRepository.
func NewCryptoTransactionRepository() repository.CryptoTransactionRepository {
	return &CryptoTransactionRepository{}
}

// CreateCryptoTransaction inserts the header and then its detail. Callers run it inside
// the settlement's unit of work so both rows commit together.
func (r *CryptoTransactionRepository) CreateCryptoTransaction(ctx context.Context, q repository.DBExecutor, t *domain.CryptoTransaction) error {
	if t.Detail == nil {
		return fmt.Errorf("failed to create crypto transaction %s: missing detail", t.Reference)
	}
	if t.Detail.TransactionType() != t.Type {
		return fmt.Errorf("failed to create crypto transaction %s: detail type %s does not match %s",
			t.Reference, t.Detail.TransactionType(), t.Type)
	}

	query := `INSERT INTO crypto_transactions (reference, user_id, virtual_account_id, transaction_type, status,
                currency, blockchain, created_at, updated_at)
              VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id`
	err := q.QueryRowContext(ctx, query, t.Reference, t.UserID, t.VirtualAccountID, t.Type, t.Status,
		t.Currency, t.Blockchain, t.CreatedAt, t.UpdatedAt).Scan(&t.ID)
	if err != nil {
		return fmt.Errorf("failed to create crypto transaction %s: %w", t.Reference, translate(err))
	}

	if err := r.insertDetail(ctx, q, t); err != nil {
		return fmt.Errorf("failed to create %s detail for %s: %w", t.Type, t.Reference, translate(err))
	}
	return nil
}

func (r *CryptoTransactionRepository) insertDetail(ctx context.Context, q repository.DBExecutor, t *domain.CryptoTransaction) error {
	var err error
	switch d := t.Detail.(type) {
	case domain.BuyDetail:
		_, err = q.ExecContext(ctx, `INSERT INTO crypto_buys (transaction_id, amount, price, amount_usd, rate, rate_id,
                amount_ngn, network_fee, tx_hash, from_address, to_address)
              VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			t.ID, d.Amount, d.Price, d.AmountUSD, d.Rate, d.RateID, d.AmountNGN, d.NetworkFee, d.TxHash, d.FromAddress, d.ToAddress)
	case domain.SellDetail:
		_, err = q.ExecContext(ctx, `INSERT INTO crypto_sells (transaction_id, amount, price, amount_usd, rate, rate_id,
                gross_ngn, fee_ngn, payout_ngn, network_fee, tx_hash, top_up_tx_hash, from_address, to_address)
              VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
			t.ID, d.Amount, d.Price, d.AmountUSD, d.Rate, d.RateID, d.GrossNGN, d.FeeNGN, d.PayoutNGN, d.NetworkFee,
			d.TxHash, d.TopUpTxHash, d.FromAddress, d.ToAddress)
	case domain.SendDetail:
		_, err = q.ExecContext(ctx, `INSERT INTO crypto_sends (transaction_id, amount, amount_usd, amount_ngn, network_fee,
                fee_currency, tx_hash, from_address, to_address)
              VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			t.ID, d.Amount, d.AmountUSD, d.AmountNGN, d.NetworkFee, d.FeeCurrency, d.TxHash, d.FromAddress, d.ToAddress)
	case domain.ReceiveDetail:
		_, err = q.ExecContext(ctx, `INSERT INTO crypto_receives (transaction_id, blockchain, amount, amount_usd, tx_hash,
                from_address, to_address)
              VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			t.ID, strings.ToLower(t.Blockchain), d.Amount, d.AmountUSD, d.TxHash, d.FromAddress, d.ToAddress)
	case domain.SwapDetail:
		_, err = q.ExecContext(ctx, `INSERT INTO crypto_swaps (transaction_id, from_currency, from_blockchain, to_currency,
                to_blockchain, to_virtual_account_id, from_amount, to_amount, fee, from_price, to_price, amount_usd, amount_ngn)
              VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
			t.ID, d.FromCurrency, d.FromBlockchain, d.ToCurrency, d.ToBlockchain, d.ToVirtualAccountID, d.FromAmount,
			d.ToAmount, d.Fee, d.FromPrice, d.ToPrice, d.AmountUSD, d.AmountNGN)
	default:
		err = fmt.Errorf("unknown detail type %T", t.Detail)
	}
	return err
}

func (r *CryptoTransactionRepository) GetCryptoTransactionByReference(ctx context.Context, q repository.DBExecutor, reference string) (*domain.CryptoTransaction, error) {
	var t domain.CryptoTransaction
	query := `SELECT ` + cryptoTransactionColumns + ` FROM crypto_transactions WHERE reference = $1`
	if err := q.GetContext(ctx, &t, query, reference); err != nil {
		return nil, fmt.Errorf("failed to get crypto transaction %s: %w", reference, translate(err))
	}
	txs := []domain.CryptoTransaction{t}
	if err := r.loadDetails(ctx, q, txs); err != nil {
		return nil, err
	}
	return &txs[0], nil
}

// ListCryptoTransactions returns headers newest-first with their details attached.
func (r *CryptoTransactionRepository) ListCryptoTransactions(ctx context.Context, q repository.DBExecutor, filter domain.TransactionFilter) ([]domain.CryptoTransaction, int64, error) {
	var (
		conds []string
		args  []interface{}
	)
	if filter.UserID != 0 {
		args = append(args, filter.UserID)
		conds = append(conds, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if filter.VirtualAccountID != 0 {
		args = append(args, filter.VirtualAccountID)
		conds = append(conds, fmt.Sprintf("virtual_account_id = $%d", len(args)))
	}
	if filter.Type != "" {
		args = append(args, filter.Type)
		conds = append(conds, fmt.Sprintf("transaction_type = $%d", len(args)))
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var totalCount int64
	if err := q.GetContext(ctx, &totalCount, `SELECT COUNT(*) FROM crypto_transactions`+where, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count crypto transactions: %w", err)
	}

	pageArgs := append(append([]interface{}{}, args...), filter.Limit, filter.Offset)
	query := fmt.Sprintf(`SELECT %s FROM crypto_transactions%s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		cryptoTransactionColumns, where, len(args)+1, len(args)+2)
	transactions := []domain.CryptoTransaction{}
	if err := q.SelectContext(ctx, &transactions, query, pageArgs...); err != nil {
		return nil, 0, fmt.Errorf("failed to list crypto transactions: %w", err)
	}
	if err := r.loadDetails(ctx, q, transactions); err != nil {
		return nil, 0, err
	}
	return transactions, totalCount, nil
}

func (r *CryptoTransactionRepository) FindReceiveByTxHash(ctx context.Context, q repository.DBExecutor, blockchain, txHash string) (*domain.CryptoTransaction, error) {
	var t domain.CryptoTransaction
	query := `SELECT t.id, t.reference, t.user_id, t.virtual_account_id, t.transaction_type, t.status, t.currency,
                t.blockchain, t.created_at, t.updated_at
              FROM crypto_transactions t
              JOIN crypto_receives d ON d.transaction_id = t.id
              WHERE d.blockchain = LOWER($1) AND d.tx_hash = $2`
	if err := q.GetContext(ctx, &t, query, blockchain, txHash); err != nil {
		return nil, fmt.Errorf("failed to find deposit %s on %s: %w", txHash, blockchain, translate(err))
	}
	txs := []domain.CryptoTransaction{t}
	if err := r.loadDetails(ctx, q, txs); err != nil {
		return nil, err
	}
	return &txs[0], nil
}

// loadDetails fetches details with one query per transaction type present in txs.
func (r *CryptoTransactionRepository) loadDetails(ctx context.Context, q repository.DBExecutor, txs []domain.CryptoTransaction) error {
	if len(txs) == 0 {
		return nil
	}
	byType := map[domain.TransactionType][]int64{}
	index := make(map[int64]int, len(txs))
	for i, t := range txs {
		byType[t.Type] = append(byType[t.Type], t.ID)
		index[t.ID] = i
	}

	attach := func(id int64, d domain.CryptoDetail) {
		if i, ok := index[id]; ok {
			txs[i].Detail = d
		}
	}

	for txType, ids := range byType {
		switch txType {
		case domain.TransactionTypeBuy:
			var rows []buyRow
			if err := q.SelectContext(ctx, &rows, `SELECT transaction_id, amount, price, amount_usd, rate, rate_id, amount_ngn,
                network_fee, tx_hash, from_address, to_address FROM crypto_buys WHERE transaction_id = ANY($1)`, pq.Array(ids)); err != nil {
				return fmt.Errorf("failed to load buy details: %w", err)
			}
			for _, row := range rows {
				attach(row.TransactionID, row.BuyDetail)
			}
		case domain.TransactionTypeSell:
			var rows []sellRow
			if err := q.SelectContext(ctx, &rows, `SELECT transaction_id, amount, price, amount_usd, rate, rate_id, gross_ngn,
                fee_ngn, payout_ngn, network_fee, tx_hash, top_up_tx_hash, from_address, to_address
                FROM crypto_sells WHERE transaction_id = ANY($1)`, pq.Array(ids)); err != nil {
				return fmt.Errorf("failed to load sell details: %w", err)
			}
			for _, row := range rows {
				attach(row.TransactionID, row.SellDetail)
			}
		case domain.TransactionTypeSend:
			var rows []sendRow
			if err := q.SelectContext(ctx, &rows, `SELECT transaction_id, amount, amount_usd, amount_ngn, network_fee, fee_currency,
                tx_hash, from_address, to_address FROM crypto_sends WHERE transaction_id = ANY($1)`, pq.Array(ids)); err != nil {
				return fmt.Errorf("failed to load send details: %w", err)
			}
			for _, row := range rows {
				attach(row.TransactionID, row.SendDetail)
			}
		case domain.TransactionTypeReceive:
			var rows []receiveRow
			if err := q.SelectContext(ctx, &rows, `SELECT transaction_id, blockchain, amount, amount_usd, tx_hash, from_address,
                to_address FROM crypto_receives WHERE transaction_id = ANY($1)`, pq.Array(ids)); err != nil {
				return fmt.Errorf("failed to load receive details: %w", err)
			}
			for _, row := range rows {
				attach(row.TransactionID, row.ReceiveDetail)
			}
		case domain.TransactionTypeSwap:
			var rows []swapRow
			if err := q.SelectContext(ctx, &rows, `SELECT transaction_id, from_currency, from_blockchain, to_currency, to_blockchain,
                to_virtual_account_id, from_amount, to_amount, fee, from_price, to_price, amount_usd, amount_ngn
                FROM crypto_swaps WHERE transaction_id = ANY($1)`, pq.Array(ids)); err != nil {
				return fmt.Errorf("failed to load swap details: %w", err)
			}
			for _, row := range rows {
				attach(row.TransactionID, row.SwapDetail)
			}
		default:
			return fmt.Errorf("unknown transaction type %q", txType)
		}
	}
	return nil
}
