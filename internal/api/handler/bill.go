// internal/api/handler/bill.go
package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"custody-ledger/internal/service"
)

// BillHandler serves bill payments paid from the fiat wallet.
type BillHandler struct {
	responder
	service service.BillPaymentService
}

// NewBillHandler creates a new BillHandler.
func NewBillHandler(svc service.BillPaymentService, validate *validator.Validate, logger *slog.Logger) *BillHandler {
	return &BillHandler{
		responder: responder{validate: validate, logger: logger},
		service:   svc,
	}
}

// PayBillRequest is the body of POST /bill-payments.
type PayBillRequest struct {
	UserID          int64           `json:"user_id" validate:"required,gt=0"`
	SceneCode       string          `json:"scene_code" validate:"required"`
	BillerID        string          `json:"biller_id" validate:"required"`
	ItemID          string          `json:"item_id" validate:"required"`
	RechargeAccount string          `json:"recharge_account" validate:"required"`
	Amount          decimal.Decimal `json:"amount" validate:"gt=0"`
}

// PayBill handles POST /bill-payments. A failed order is refunded before the
// response is written, so the body always carries a terminal or pending state.
func (h *BillHandler) PayBill(w http.ResponseWriter, r *http.Request) {
	var req PayBillRequest
	if err := h.decode(r, &req); err != nil {
		h.respondWithError(w, err)
		return
	}
	bp, err := h.service.PayBill(r.Context(), service.BillPaymentRequest{
		UserID:          req.UserID,
		SceneCode:       req.SceneCode,
		BillerID:        req.BillerID,
		ItemID:          req.ItemID,
		RechargeAccount: req.RechargeAccount,
		Amount:          req.Amount,
	})
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusCreated, bp)
}

// GetBillPayment handles GET /bill-payments/{billID}.
func (h *BillHandler) GetBillPayment(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "billID")
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	bp, err := h.service.GetBillPayment(r.Context(), id)
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, bp)
}

// RefreshBillPayment handles POST /bill-payments/{billID}/refresh.
func (h *BillHandler) RefreshBillPayment(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "billID")
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	bp, err := h.service.RefreshBillPayment(r.Context(), id)
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, bp)
}
