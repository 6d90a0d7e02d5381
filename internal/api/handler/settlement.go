// internal/api/handler/settlement.go
package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"custody-ledger/internal/domain"
	"custody-ledger/internal/service"
)

// SettlementHandler serves quotes and executions for BUY, SELL, SWAP and SEND,
// plus inbound deposit notifications.
type SettlementHandler struct {
	responder
	service service.SettlementService
}

// NewSettlementHandler creates a new SettlementHandler.
func NewSettlementHandler(svc service.SettlementService, validate *validator.Validate, logger *slog.Logger) *SettlementHandler {
	return &SettlementHandler{
		responder: responder{validate: validate, logger: logger},
		service:   svc,
	}
}

// AssetRequest is the body of buy and sell calls.
type AssetRequest struct {
	UserID     int64           `json:"user_id" validate:"required,gt=0"`
	Currency   string          `json:"currency" validate:"required"`
	Blockchain string          `json:"blockchain" validate:"required"`
	Amount     decimal.Decimal `json:"amount" validate:"gt=0"`
}

// SwapRequest is the body of swap calls.
type SwapRequest struct {
	UserID         int64           `json:"user_id" validate:"required,gt=0"`
	FromCurrency   string          `json:"from_currency" validate:"required"`
	FromBlockchain string          `json:"from_blockchain" validate:"required"`
	ToCurrency     string          `json:"to_currency" validate:"required"`
	ToBlockchain   string          `json:"to_blockchain" validate:"required"`
	Amount         decimal.Decimal `json:"amount" validate:"gt=0"`
}

// SendRequest is the body of send calls.
type SendRequest struct {
	UserID     int64           `json:"user_id" validate:"required,gt=0"`
	Currency   string          `json:"currency" validate:"required"`
	Blockchain string          `json:"blockchain" validate:"required"`
	ToAddress  string          `json:"to_address" validate:"required"`
	Amount     decimal.Decimal `json:"amount" validate:"gt=0"`
}

// DepositNotification reports an inbound on-chain transfer to a deposit address.
type DepositNotification struct {
	Blockchain  string          `json:"blockchain" validate:"required"`
	Currency    string          `json:"currency" validate:"required"`
	ToAddress   string          `json:"to_address" validate:"required"`
	FromAddress string          `json:"from_address"`
	TxHash      string          `json:"tx_hash" validate:"required"`
	Amount      decimal.Decimal `json:"amount" validate:"gt=0"`
}

func (r AssetRequest) buy() service.BuyRequest {
	return service.BuyRequest{UserID: r.UserID, Currency: r.Currency, Blockchain: r.Blockchain, Amount: r.Amount}
}

func (r AssetRequest) sell() service.SellRequest {
	return service.SellRequest{UserID: r.UserID, Currency: r.Currency, Blockchain: r.Blockchain, Amount: r.Amount}
}

func (r SwapRequest) swap() service.SwapRequest {
	return service.SwapRequest{
		UserID:         r.UserID,
		FromCurrency:   r.FromCurrency,
		FromBlockchain: r.FromBlockchain,
		ToCurrency:     r.ToCurrency,
		ToBlockchain:   r.ToBlockchain,
		Amount:         r.Amount,
	}
}

func (r SendRequest) send() service.SendRequest {
	return service.SendRequest{UserID: r.UserID, Currency: r.Currency, Blockchain: r.Blockchain, ToAddress: r.ToAddress, Amount: r.Amount}
}

// QuoteBuy handles POST /quotes/buy.
func (h *SettlementHandler) QuoteBuy(w http.ResponseWriter, r *http.Request) {
	var req AssetRequest
	if err := h.decode(r, &req); err != nil {
		h.respondWithError(w, err)
		return
	}
	quote, err := h.service.PreviewBuy(r.Context(), req.buy())
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, quote)
}

// Buy handles POST /settlements/buy.
func (h *SettlementHandler) Buy(w http.ResponseWriter, r *http.Request) {
	var req AssetRequest
	if err := h.decode(r, &req); err != nil {
		h.respondWithError(w, err)
		return
	}
	result, err := h.service.Buy(r.Context(), req.buy())
	h.respondWithSettlement(w, result, err)
}

// QuoteSell handles POST /quotes/sell.
func (h *SettlementHandler) QuoteSell(w http.ResponseWriter, r *http.Request) {
	var req AssetRequest
	if err := h.decode(r, &req); err != nil {
		h.respondWithError(w, err)
		return
	}
	quote, err := h.service.PreviewSell(r.Context(), req.sell())
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, quote)
}

// Sell handles POST /settlements/sell.
func (h *SettlementHandler) Sell(w http.ResponseWriter, r *http.Request) {
	var req AssetRequest
	if err := h.decode(r, &req); err != nil {
		h.respondWithError(w, err)
		return
	}
	result, err := h.service.Sell(r.Context(), req.sell())
	h.respondWithSettlement(w, result, err)
}

// QuoteSwap handles POST /quotes/swap.
func (h *SettlementHandler) QuoteSwap(w http.ResponseWriter, r *http.Request) {
	var req SwapRequest
	if err := h.decode(r, &req); err != nil {
		h.respondWithError(w, err)
		return
	}
	quote, err := h.service.PreviewSwap(r.Context(), req.swap())
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, quote)
}

// Swap handles POST /settlements/swap.
func (h *SettlementHandler) Swap(w http.ResponseWriter, r *http.Request) {
	var req SwapRequest
	if err := h.decode(r, &req); err != nil {
		h.respondWithError(w, err)
		return
	}
	result, err := h.service.Swap(r.Context(), req.swap())
	h.respondWithSettlement(w, result, err)
}

// QuoteSend handles POST /quotes/send.
func (h *SettlementHandler) QuoteSend(w http.ResponseWriter, r *http.Request) {
	var req SendRequest
	if err := h.decode(r, &req); err != nil {
		h.respondWithError(w, err)
		return
	}
	quote, err := h.service.PreviewSend(r.Context(), req.send())
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, quote)
}

// Send handles POST /settlements/send.
func (h *SettlementHandler) Send(w http.ResponseWriter, r *http.Request) {
	var req SendRequest
	if err := h.decode(r, &req); err != nil {
		h.respondWithError(w, err)
		return
	}
	result, err := h.service.Send(r.Context(), req.send())
	h.respondWithSettlement(w, result, err)
}

// Deposit handles POST /deposits. Replays of the same tx hash return the
// original record.
func (h *SettlementHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	var req DepositNotification
	if err := h.decode(r, &req); err != nil {
		h.respondWithError(w, err)
		return
	}
	tx, err := h.service.CreditDeposit(r.Context(), service.DepositRequest{
		Blockchain:  req.Blockchain,
		Currency:    req.Currency,
		ToAddress:   req.ToAddress,
		FromAddress: req.FromAddress,
		TxHash:      req.TxHash,
		Amount:      req.Amount,
	})
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, tx)
}

// respondWithSettlement answers 202 when the external leg went through but the
// ledger step was queued for retry.
func (h *SettlementHandler) respondWithSettlement(w http.ResponseWriter, result *service.SettlementResult, err error) {
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	code := http.StatusOK
	if result.Status == domain.CryptoStatusProcessing {
		code = http.StatusAccepted
	}
	h.respondWithJSON(w, code, result)
}
