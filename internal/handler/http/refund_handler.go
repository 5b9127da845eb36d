package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"

	"github.com/eytgaming/checkout-service/internal/money"
	"github.com/eytgaming/checkout-service/internal/order"
	"github.com/eytgaming/checkout-service/internal/payment"
	"github.com/eytgaming/checkout-service/internal/refund"
)

type IssueRefundRequest struct {
	OrderNumber string `json:"order_number" validate:"required"`
	// Zero or omitted refunds everything still available.
	AmountCents int64  `json:"amount_cents" validate:"min=0"`
	Reason      string `json:"reason" validate:"required"`
	Restock     bool   `json:"restock"`
}

type ExceedsAvailableResponse struct {
	Error              string       `json:"error"`
	MaxRefundableCents money.Amount `json:"max_refundable_cents"`
}

type RefundHandler struct {
	coordinator refund.Coordinator
	orders      order.Service
	payments    payment.Repository
	validate    *validator.Validate
}

func NewRefundHandler(coordinator refund.Coordinator, orders order.Service, payments payment.Repository) *RefundHandler {
	return &RefundHandler{
		coordinator: coordinator,
		orders:      orders,
		payments:    payments,
		validate:    validator.New(),
	}
}

func (h *RefundHandler) RegisterRoutes(router chi.Router) {
	router.Post("/refunds", h.handleIssueRefund)
	router.Get("/payments/{paymentID}/refunds", h.handleListRefunds)
}

func (h *RefundHandler) handleIssueRefund(w http.ResponseWriter, r *http.Request) {
	var requestPayload IssueRefundRequest

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&requestPayload); err != nil {
		log.Warn().Err(err).Msg("Failed to decode refund request")
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

	settled, err := h.settledPaymentFor(r, requestPayload.OrderNumber)
	if err != nil {
		statusCode := mapErrorToStatusCode(err)

		var clientMessage string
		if errors.Is(err, refund.ErrPaymentNotRefundable) {
			clientMessage = "Order has no settled payment to refund"
		} else if statusCode == http.StatusNotFound {
			clientMessage = "Order not found"
		} else {
			log.Error().Err(err).Str("order_number", requestPayload.OrderNumber).Msg("Failed to resolve payment for refund")
			clientMessage = "Failed to issue refund"
		}

		respondWithError(w, statusCode, clientMessage)
		return
	}

	issued, err := h.coordinator.Issue(r.Context(), refund.Request{
		PaymentID: settled.ID,
		Amount:    money.Amount(requestPayload.AmountCents),
		Reason:    requestPayload.Reason,
		Restock:   requestPayload.Restock,
	})
	if err != nil {
		var exceeds *refund.ExceedsAvailableError
		if errors.As(err, &exceeds) {
			respondWithJSON(w, http.StatusUnprocessableEntity, ExceedsAvailableResponse{
				Error:              exceeds.Error(),
				MaxRefundableCents: exceeds.MaxRefundable,
			})
			return
		}

		log.Error().Err(err).Str("order_number", requestPayload.OrderNumber).Msg("Failed to issue refund")
		respondWithError(w, mapErrorToStatusCode(err), "Failed to issue refund")
		return
	}

	respondWithJSON(w, http.StatusCreated, issued)
}

func (h *RefundHandler) handleListRefunds(w http.ResponseWriter, r *http.Request) {
	paymentID, err := uuid.FromString(chi.URLParam(r, "paymentID"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid paymentID parameter")
		return
	}

	refunds, err := h.coordinator.ListByPayment(r.Context(), paymentID)
	if err != nil {
		statusCode := mapErrorToStatusCode(err)
		if statusCode == http.StatusNotFound {
			respondWithError(w, statusCode, "Payment not found")
			return
		}
		log.Error().Err(err).Stringer("payment_id", paymentID).Msg("Failed to list refunds")
		respondWithError(w, statusCode, "Failed to list refunds")
		return
	}

	respondWithJSON(w, http.StatusOK, refunds)
}

// settledPaymentFor finds the one captured payment on the order. The
// partial unique index on payments guarantees at most one exists.
func (h *RefundHandler) settledPaymentFor(r *http.Request, orderNumber string) (*payment.Payment, error) {
	foundOrder, err := h.orders.GetByNumber(r.Context(), orderNumber)
	if err != nil {
		return nil, err
	}

	payments, err := h.payments.ListByOrder(r.Context(), foundOrder.ID)
	if err != nil {
		return nil, err
	}
	for i := range payments {
		if payments[i].Status.Settled() {
			return &payments[i], nil
		}
	}
	return nil, refund.ErrPaymentNotRefundable
}
