// internal/api/handler/transaction.go
package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"custody-ledger/internal/api/types"
	"custody-ledger/internal/domain"
	"custody-ledger/internal/service"
)

// TransactionHandler serves the read side of the transaction records.
type TransactionHandler struct {
	responder
	service service.TransactionService
}

// NewTransactionHandler creates a new TransactionHandler.
func NewTransactionHandler(svc service.TransactionService, validate *validator.Validate, logger *slog.Logger) *TransactionHandler {
	return &TransactionHandler{
		responder: responder{validate: validate, logger: logger},
		service:   svc,
	}
}

// ListTransactions handles GET /transactions?user_id=&virtual_account_id=&type=&limit=&offset=.
// Set summary=true for the flat presentation.
func (h *TransactionHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	var (
		filter domain.TransactionFilter
		err    error
	)
	if filter.UserID, err = queryID(r, "user_id"); err != nil {
		h.respondWithError(w, err)
		return
	}
	if filter.VirtualAccountID, err = queryID(r, "virtual_account_id"); err != nil {
		h.respondWithError(w, err)
		return
	}
	if filter.Limit, err = queryInt(r, "limit"); err != nil {
		h.respondWithError(w, err)
		return
	}
	if filter.Offset, err = queryInt(r, "offset"); err != nil {
		h.respondWithError(w, err)
		return
	}
	filter.Type = domain.TransactionType(strings.ToUpper(r.URL.Query().Get("type")))

	page, err := h.service.ListTransactions(r.Context(), filter)
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	if r.URL.Query().Get("summary") == "true" {
		summaries := make([]service.TransactionSummary, 0, len(page.Items))
		for i := range page.Items {
			summaries = append(summaries, h.service.Summarize(&page.Items[i]))
		}
		h.respondWithJSON(w, http.StatusOK, types.PaginatedResponse[service.TransactionSummary]{
			Data: summaries, Limit: page.Limit, Offset: page.Offset, TotalCount: page.Total,
		})
		return
	}
	h.respondWithJSON(w, http.StatusOK, types.PaginatedResponse[domain.CryptoTransaction]{
		Data: page.Items, Limit: page.Limit, Offset: page.Offset, TotalCount: page.Total,
	})
}

// GetTransaction handles GET /transactions/{reference}.
func (h *TransactionHandler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	tx, err := h.service.GetTransaction(r.Context(), chi.URLParam(r, "reference"))
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, map[string]any{
		"transaction": tx,
		"summary":     h.service.Summarize(tx),
	})
}

// ListWalletTransactions handles GET /wallets/{walletID}/transactions.
func (h *TransactionHandler) ListWalletTransactions(w http.ResponseWriter, r *http.Request) {
	walletID, err := pathID(r, "walletID")
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	page, err := h.service.ListWalletTransactions(r.Context(), walletID, limit, offset)
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, types.PaginatedResponse[domain.FiatTransaction]{
		Data: page.Items, Limit: page.Limit, Offset: page.Offset, TotalCount: page.Total,
	})
}
