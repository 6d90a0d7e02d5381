// internal/api/handler/rate.go
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"custody-ledger/internal/domain"
	"custody-ledger/internal/service"
)

// PriceSetter refreshes a stored USD price.
type PriceSetter interface {
	SetPrice(ctx context.Context, currency, blockchain string, price decimal.Decimal) error
}

// RateHandler serves rate tier administration and USD price refreshes.
type RateHandler struct {
	responder
	service service.RateService
	prices  PriceSetter
}

// NewRateHandler creates a new RateHandler.
func NewRateHandler(svc service.RateService, prices PriceSetter, validate *validator.Validate, logger *slog.Logger) *RateHandler {
	return &RateHandler{
		responder: responder{validate: validate, logger: logger},
		service:   svc,
		prices:    prices,
	}
}

// RateRequest creates or replaces a tier. A missing max_amount is open-ended.
type RateRequest struct {
	ActorID         int64               `json:"actor_id" validate:"required,gt=0"`
	TransactionType string              `json:"transaction_type" validate:"required"`
	MinAmount       decimal.Decimal     `json:"min_amount" validate:"gte=0"`
	MaxAmount       decimal.NullDecimal `json:"max_amount"`
	Rate            decimal.Decimal     `json:"rate" validate:"gt=0"`
}

func (r RateRequest) input() service.RateInput {
	return service.RateInput{
		TransactionType: domain.TransactionType(strings.ToUpper(r.TransactionType)),
		MinAmount:       r.MinAmount,
		MaxAmount:       r.MaxAmount,
		Rate:            r.Rate,
	}
}

// PriceRequest sets the stored USD price of an asset.
type PriceRequest struct {
	Price decimal.Decimal `json:"price" validate:"gt=0"`
}

// ListRates handles GET /rates?type=.
func (h *RateHandler) ListRates(w http.ResponseWriter, r *http.Request) {
	rates, err := h.service.ListRates(r.Context(), domain.TransactionType(strings.ToUpper(r.URL.Query().Get("type"))))
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, rates)
}

// GetRate handles GET /rates/{rateID}. Deactivated tiers still resolve.
func (h *RateHandler) GetRate(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "rateID")
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	rate, err := h.service.GetRate(r.Context(), id)
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, rate)
}

// CreateRate handles POST /rates.
func (h *RateHandler) CreateRate(w http.ResponseWriter, r *http.Request) {
	var req RateRequest
	if err := h.decode(r, &req); err != nil {
		h.respondWithError(w, err)
		return
	}
	rate, err := h.service.CreateRate(r.Context(), req.input(), req.ActorID)
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusCreated, rate)
}

// UpdateRate handles PUT /rates/{rateID}.
func (h *RateHandler) UpdateRate(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "rateID")
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	var req RateRequest
	if err := h.decode(r, &req); err != nil {
		h.respondWithError(w, err)
		return
	}
	rate, err := h.service.UpdateRate(r.Context(), id, req.input(), req.ActorID)
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, rate)
}

// DeleteRate handles DELETE /rates/{rateID}?actor_id=.
func (h *RateHandler) DeleteRate(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "rateID")
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	actorID, err := queryID(r, "actor_id")
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	if err := h.service.DeleteRate(r.Context(), id, actorID); err != nil {
		h.respondWithError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RateHistory handles GET /rates/{rateID}/history.
func (h *RateHandler) RateHistory(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "rateID")
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	history, err := h.service.RateHistory(r.Context(), id)
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, history)
}

// SetPrice handles PUT /prices/{blockchain}/{currency}.
func (h *RateHandler) SetPrice(w http.ResponseWriter, r *http.Request) {
	var req PriceRequest
	if err := h.decode(r, &req); err != nil {
		h.respondWithError(w, err)
		return
	}
	currency, blockchain := chi.URLParam(r, "currency"), chi.URLParam(r, "blockchain")
	if err := h.prices.SetPrice(r.Context(), currency, blockchain, req.Price); err != nil {
		h.respondWithError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, map[string]any{
		"currency":   currency,
		"blockchain": blockchain,
		"price":      req.Price,
	})
}
