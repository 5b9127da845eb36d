package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"

	"github.com/eytgaming/checkout-service/internal/cart"
	"github.com/eytgaming/checkout-service/internal/checkout"
	"github.com/eytgaming/checkout-service/internal/inventory"
	"github.com/eytgaming/checkout-service/internal/money"
	"github.com/eytgaming/checkout-service/internal/order"
)

type AddressPayload struct {
	Name       string `json:"name" validate:"required"`
	Phone      string `json:"phone"`
	Line1      string `json:"line1" validate:"required"`
	Line2      string `json:"line2"`
	City       string `json:"city" validate:"required"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country" validate:"required,len=2"`
}

type CheckoutRequest struct {
	PaymentMethod string         `json:"payment_method" validate:"required"`
	Email         string         `json:"email" validate:"omitempty,email"`
	ShippingCents int64          `json:"shipping_cents" validate:"min=0"`
	TaxCents      int64          `json:"tax_cents" validate:"min=0"`
	Address       AddressPayload `json:"shipping_address" validate:"required"`
}

type RetryPaymentRequest struct {
	PaymentMethod string `json:"payment_method" validate:"required"`
	Email         string `json:"email" validate:"omitempty,email"`
}

type CheckoutResponse struct {
	OrderID      uuid.UUID         `json:"order_id"`
	OrderNumber  string            `json:"order_number"`
	Status       order.OrderStatus `json:"status"`
	TotalCents   money.Amount      `json:"total_cents"`
	Currency     string            `json:"currency"`
	PaymentID    uuid.UUID         `json:"payment_id"`
	Gateway      string            `json:"gateway"`
	ClientSecret string            `json:"client_secret,omitempty"`
}

// CartProblemsResponse lists every line blocking the checkout so the
// client can fix the whole cart in one round trip.
type CartProblemsResponse struct {
	Error    string             `json:"error"`
	Problems []cart.LineProblem `json:"problems"`
}

type CheckoutHandler struct {
	service  checkout.Service
	validate *validator.Validate
}

func NewCheckoutHandler(service checkout.Service) *CheckoutHandler {
	return &CheckoutHandler{
		service:  service,
		validate: validator.New(),
	}
}

func (h *CheckoutHandler) RegisterRoutes(router chi.Router) {
	router.Post("/checkout", h.handleCheckout)
	router.Post("/orders/{number}/payment-attempts", h.handleRetryPayment)
}

func (h *CheckoutHandler) handleCheckout(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.FromString(r.Header.Get("X-User-ID"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Checkout requires a valid X-User-ID header")
		return
	}

	var requestPayload CheckoutRequest

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&requestPayload); err != nil {
		log.Warn().Err(err).Msg("Failed to decode checkout request")
		respondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	if err := h.validate.Struct(requestPayload); err != nil {
		validationErrors, ok := err.(validator.ValidationErrors)
		if ok {
			respondWithJSON(w, http.StatusBadRequest, ValidationErrorResponse{
				Error:   "Validation failed",
				Details: formatValidationErrors(validationErrors),
			})
		} else {
			log.Error().Err(err).Msg("Unexpected error type during validation")
			respondWithError(w, http.StatusInternalServerError, "Internal validation error")
		}
		return
	}

	result, err := h.service.Checkout(r.Context(), checkout.Request{
		UserID:  userID,
		Gateway: requestPayload.PaymentMethod,
		Email:   requestPayload.Email,
		Address: order.ShippingAddress{
			Name:       requestPayload.Address.Name,
			Phone:      requestPayload.Address.Phone,
			Line1:      requestPayload.Address.Line1,
			Line2:      requestPayload.Address.Line2,
			City:       requestPayload.Address.City,
			PostalCode: requestPayload.Address.PostalCode,
			Country:    requestPayload.Address.Country,
		},
		Shipping: money.Amount(requestPayload.ShippingCents),
		Tax:      money.Amount(requestPayload.TaxCents),
	})
	if err != nil {
		h.respondCheckoutError(w, err)
		return
	}

	respondWithJSON(w, http.StatusCreated, checkoutResponse(result))
}

func (h *CheckoutHandler) handleRetryPayment(w http.ResponseWriter, r *http.Request) {
	number := chi.URLParam(r, "number")
	if number == "" {
		respondWithError(w, http.StatusBadRequest, "Order number is required")
		return
	}

	var requestPayload RetryPaymentRequest

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&requestPayload); err != nil {
		log.Warn().Err(err).Msg("Failed to decode payment retry request")
		respondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	if err := h.validate.Struct(requestPayload); err != nil {
		validationErrors, ok := err.(validator.ValidationErrors)
		if ok {
			respondWithJSON(w, http.StatusBadRequest, ValidationErrorResponse{
				Error:   "Validation failed",
				Details: formatValidationErrors(validationErrors),
			})
		} else {
			log.Error().Err(err).Msg("Unexpected error type during validation")
			respondWithError(w, http.StatusInternalServerError, "Internal validation error")
		}
		return
	}

	result, err := h.service.RetryPayment(r.Context(), number, requestPayload.PaymentMethod, requestPayload.Email)
	if err != nil {
		log.Warn().Err(err).Str("order_number", number).Msg("Failed to open a new payment attempt")

		statusCode := mapErrorToStatusCode(err)

		var clientMessage string
		if errors.Is(err, checkout.ErrOrderNotPayable) {
			clientMessage = "Order is not awaiting payment"
		} else if statusCode == http.StatusNotFound {
			clientMessage = "Order not found"
		} else {
			clientMessage = "Failed to open a new payment attempt"
		}

		respondWithError(w, statusCode, clientMessage)
		return
	}

	respondWithJSON(w, http.StatusCreated, checkoutResponse(result))
}

func (h *CheckoutHandler) respondCheckoutError(w http.ResponseWriter, err error) {
	var cartProblems *order.CartProblemsError
	if errors.As(err, &cartProblems) {
		respondWithJSON(w, http.StatusUnprocessableEntity, CartProblemsResponse{
			Error:    "Cart cannot be checked out",
			Problems: cartProblems.Problems,
		})
		return
	}

	// A reservation-stage shortage means this shopper lost a race for
	// the last units. Shaped like the validation payload so clients
	// handle both the same way.
	var noStock *inventory.InsufficientStockError
	if errors.As(err, &noStock) {
		respondWithJSON(w, http.StatusUnprocessableEntity, CartProblemsResponse{
			Error: "Cart cannot be checked out",
			Problems: []cart.LineProblem{{
				ProductID: noStock.ProductID,
				Reason:    cart.ProblemInsufficientStock,
				Requested: noStock.Requested,
				Available: noStock.Available,
			}},
		})
		return
	}

	if errors.Is(err, checkout.ErrBusy) {
		w.Header().Set("Retry-After", "1")
		respondWithError(w, http.StatusServiceUnavailable, "Inventory is busy, please retry")
		return
	}

	log.Error().Err(err).Msg("Checkout failed")

	statusCode := mapErrorToStatusCode(err)

	var clientMessage string
	if errors.Is(err, order.ErrEmptyCart) {
		clientMessage = "Cart is empty"
	} else if statusCode == http.StatusBadGateway {
		clientMessage = "Payment provider is unavailable, the order is kept for a later payment attempt"
	} else {
		clientMessage = "Failed to check out"
	}

	respondWithError(w, statusCode, clientMessage)
}

func checkoutResponse(result *checkout.Result) CheckoutResponse {
	return CheckoutResponse{
		OrderID:      result.Order.ID,
		OrderNumber:  result.Order.Number,
		Status:       result.Order.Status,
		TotalCents:   result.Order.Total,
		Currency:     result.Order.Currency,
		PaymentID:    result.Payment.ID,
		Gateway:      result.Payment.Gateway,
		ClientSecret: result.ClientSecret,
	}
}
