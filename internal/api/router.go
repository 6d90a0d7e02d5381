// internal/api/router.go
package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"custody-ledger/internal/api/handler"
)

// Handlers groups the HTTP handlers the router mounts.
type Handlers struct {
	Settlements  *handler.SettlementHandler
	Transactions *handler.TransactionHandler
	Rates        *handler.RateHandler
	Bills        *handler.BillHandler
	Wallets      *handler.WalletHandler
}

// NewRouter sets up and returns a new HTTP router.
func NewRouter(h Handlers, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(structuredLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(handler.DefaultTimeout))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	r.Route("/quotes", func(r chi.Router) {
		r.Post("/buy", h.Settlements.QuoteBuy)
		r.Post("/sell", h.Settlements.QuoteSell)
		r.Post("/swap", h.Settlements.QuoteSwap)
		r.Post("/send", h.Settlements.QuoteSend)
	})
	r.Route("/settlements", func(r chi.Router) {
		r.Post("/buy", h.Settlements.Buy)
		r.Post("/sell", h.Settlements.Sell)
		r.Post("/swap", h.Settlements.Swap)
		r.Post("/send", h.Settlements.Send)
	})
	r.Post("/deposits", h.Settlements.Deposit)

	r.Route("/transactions", func(r chi.Router) {
		r.Get("/", h.Transactions.ListTransactions)
		r.Get("/{reference}", h.Transactions.GetTransaction)
	})

	r.Route("/wallets", func(r chi.Router) {
		r.Get("/primary", h.Wallets.GetPrimaryWallet)
		r.Get("/{walletID}", h.Wallets.GetWallet)
		r.Get("/{walletID}/transactions", h.Transactions.ListWalletTransactions)
	})
	r.Get("/accounts", h.Wallets.GetVirtualAccount)

	r.Route("/rates", func(r chi.Router) {
		r.Get("/", h.Rates.ListRates)
		r.Post("/", h.Rates.CreateRate)
		r.Get("/{rateID}", h.Rates.GetRate)
		r.Put("/{rateID}", h.Rates.UpdateRate)
		r.Delete("/{rateID}", h.Rates.DeleteRate)
		r.Get("/{rateID}/history", h.Rates.RateHistory)
	})
	r.Put("/prices/{blockchain}/{currency}", h.Rates.SetPrice)

	r.Route("/bill-payments", func(r chi.Router) {
		r.Post("/", h.Bills.PayBill)
		r.Get("/{billID}", h.Bills.GetBillPayment)
		r.Post("/{billID}/refresh", h.Bills.RefreshBillPayment)
	})

	return r
}
