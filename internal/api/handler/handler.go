// internal/api/handler/handler.go
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"custody-ledger/internal/util"
)

// DefaultTimeout bounds every request. Settlements poll chain confirmations, so it
// is longer than a plain CRUD budget.
const DefaultTimeout = 60 * time.Second

// NewValidator returns a validator that checks decimal.Decimal fields numerically,
// so tags like gt=0 work on amounts.
func NewValidator() *validator.Validate {
	v := validator.New()
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			return d.InexactFloat64()
		}
		return nil
	}, decimal.Decimal{})
	return v
}

// responder carries the JSON helpers every handler shares.
type responder struct {
	validate *validator.Validate
	logger   *slog.Logger
}

func (h *responder) respondWithJSON(w http.ResponseWriter, code int, payload any) {
	response, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error("Failed to marshal JSON response", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(response)
}

// respondWithError maps service errors to HTTP status codes. Unknown errors are
// logged and hidden behind a generic 500.
func (h *responder) respondWithError(w http.ResponseWriter, err error) {
	statusCode := http.StatusInternalServerError
	message := "Internal server error"

	switch {
	case util.IsError(err, util.ErrInvalidInput), util.IsError(err, util.ErrCurrencyMismatch):
		statusCode = http.StatusBadRequest
		message = err.Error()
	case util.IsError(err, util.ErrNotFound), util.IsError(err, util.ErrWalletNotFound), util.IsError(err, util.ErrAccountNotFound):
		statusCode = http.StatusNotFound
		message = "Resource not found"
	case util.IsError(err, util.ErrInsufficientBalance), util.IsError(err, util.ErrInsufficientFeeReserve):
		statusCode = http.StatusPaymentRequired
		message = err.Error()
	case util.IsError(err, util.ErrWalletInactive), util.IsError(err, util.ErrAccountFrozen),
		util.IsError(err, util.ErrDuplicateEntry), util.IsError(err, util.ErrRateOverlap):
		statusCode = http.StatusConflict
		message = err.Error()
	case util.IsError(err, util.ErrRateNotConfigured), util.IsError(err, util.ErrFeeExceedsPayout),
		util.IsError(err, util.ErrCustodyCapacity):
		statusCode = http.StatusUnprocessableEntity
		message = err.Error()
	case util.IsError(err, util.ErrExternalTransferFailed), util.IsError(err, util.ErrProviderInsufficientFunds),
		util.IsError(err, util.ErrFeeEstimationFailed), util.IsError(err, util.ErrRefundFailed):
		statusCode = http.StatusBadGateway
		message = err.Error()
	default:
		h.logger.Error("Unhandled service error", "error", err)
	}

	h.respondWithJSON(w, statusCode, map[string]string{"error": message})
}

// decode reads a JSON body into dst and validates it.
func (h *responder) decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return util.Invalid("malformed request body: %v", err)
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s failed %s", strings.ToLower(fe.Field()), fe.Tag()))
			}
			return util.Invalid("%s", strings.Join(fields, "; "))
		}
		return util.Invalid("%v", err)
	}
	return nil
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, util.Invalid("%s must be a positive integer", name)
	}
	return id, nil
}

// queryInt reads an optional integer query parameter.
func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, util.Invalid("%s must be an integer", name)
	}
	return n, nil
}

func queryID(r *http.Request, name string) (int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, util.Invalid("%s must be a positive integer", name)
	}
	return id, nil
}
