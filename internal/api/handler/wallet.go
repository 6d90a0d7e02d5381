// internal/api/handler/wallet.go
package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	"custody-ledger/internal/service"
	"custody-ledger/internal/util"
)

// WalletHandler handles HTTP requests for fiat wallets and virtual accounts.
type WalletHandler struct {
	responder
	service service.LedgerService
}

// NewWalletHandler creates a new WalletHandler.
func NewWalletHandler(svc service.LedgerService, validate *validator.Validate, logger *slog.Logger) *WalletHandler {
	return &WalletHandler{
		responder: responder{validate: validate, logger: logger},
		service:   svc,
	}
}

// GetPrimaryWallet handles GET /wallets/primary?user_id=&currency=.
// The wallet is created on first access.
func (h *WalletHandler) GetPrimaryWallet(w http.ResponseWriter, r *http.Request) {
	userID, err := queryID(r, "user_id")
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	currency := r.URL.Query().Get("currency")
	if userID == 0 || currency == "" {
		h.respondWithError(w, util.Invalid("user_id and currency are required"))
		return
	}
	wallet, err := h.service.GetOrCreatePrimaryWallet(r.Context(), userID, currency)
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, wallet)
}

// GetWallet handles GET /wallets/{walletID}.
func (h *WalletHandler) GetWallet(w http.ResponseWriter, r *http.Request) {
	walletID, err := pathID(r, "walletID")
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	wallet, err := h.service.GetWallet(r.Context(), walletID)
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, wallet)
}

// GetVirtualAccount handles GET /accounts?user_id=&currency=&blockchain=.
func (h *WalletHandler) GetVirtualAccount(w http.ResponseWriter, r *http.Request) {
	userID, err := queryID(r, "user_id")
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	q := r.URL.Query()
	currency, blockchain := q.Get("currency"), q.Get("blockchain")
	if userID == 0 || currency == "" || blockchain == "" {
		h.respondWithError(w, util.Invalid("user_id, currency and blockchain are required"))
		return
	}
	account, err := h.service.GetVirtualAccount(r.Context(), userID, currency, blockchain)
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, account)
}
