package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/eytgaming/checkout-service/internal/cart"
	"github.com/eytgaming/checkout-service/internal/checkout"
	"github.com/eytgaming/checkout-service/internal/inventory"
	"github.com/eytgaming/checkout-service/internal/order"
	"github.com/eytgaming/checkout-service/internal/payment"
	"github.com/eytgaming/checkout-service/internal/refund"
	"github.com/eytgaming/checkout-service/internal/webhook"
)

// Services bundles everything the HTTP surface exposes.
type Services struct {
	Carts      cart.Service
	Orders     order.Service
	Checkout   checkout.Service
	Refunds    refund.Coordinator
	Payments   payment.Repository
	Ledger     inventory.Ledger
	Reconciler webhook.Reconciler
}

func NewRouter(s Services) *chi.Mux {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	NewCartHandler(s.Carts).RegisterRoutes(router)
	NewCheckoutHandler(s.Checkout).RegisterRoutes(router)
	NewOrderHandler(s.Orders).RegisterRoutes(router)
	NewInventoryHandler(s.Ledger).RegisterRoutes(router)
	NewWebhookHandler(s.Reconciler).RegisterRoutes(router)
	NewRefundHandler(s.Refunds, s.Orders, s.Payments).RegisterRoutes(router)

	return router
}
