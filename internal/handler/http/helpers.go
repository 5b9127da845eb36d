package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"

	"github.com/eytgaming/checkout-service/internal/cart"
	"github.com/eytgaming/checkout-service/internal/catalog"
	"github.com/eytgaming/checkout-service/internal/checkout"
	"github.com/eytgaming/checkout-service/internal/inventory"
	"github.com/eytgaming/checkout-service/internal/order"
	"github.com/eytgaming/checkout-service/internal/payment"
	"github.com/eytgaming/checkout-service/internal/refund"
)

// respondWithError sends a plain {"error": message} body.
func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal JSON response")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"Failed to marshal JSON response"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if _, err := w.Write(response); err != nil {
		log.Error().Err(err).Msg("Failed to write JSON response")
	}
}

type ValidationErrorResponse struct {
	Error   string            `json:"error"`
	Details map[string]string `json:"details"`
}

func formatValidationErrors(errs validator.ValidationErrors) map[string]string {
	details := make(map[string]string, len(errs))
	for _, fieldError := range errs {
		switch fieldError.Tag() {
		case "required":
			details[fieldError.Field()] = "is required"
		case "min":
			details[fieldError.Field()] = fmt.Sprintf("must be at least %s", fieldError.Param())
		case "max":
			details[fieldError.Field()] = fmt.Sprintf("must be at most %s", fieldError.Param())
		case "uuid4":
			details[fieldError.Field()] = "must be a valid UUID"
		case "email":
			details[fieldError.Field()] = "must be a valid email address"
		case "len":
			details[fieldError.Field()] = fmt.Sprintf("must be exactly %s characters", fieldError.Param())
		default:
			details[fieldError.Field()] = fmt.Sprintf("failed %s validation", fieldError.Tag())
		}
	}
	return details
}

func mapErrorToStatusCode(err error) int {
	var (
		cartProblems *order.CartProblemsError
		noStock      *inventory.InsufficientStockError
		exceeds      *refund.ExceedsAvailableError
		gatewayErr   *payment.APIError
	)

	switch {
	case errors.As(err, &cartProblems),
		errors.As(err, &noStock),
		errors.As(err, &exceeds),
		errors.Is(err, order.ErrEmptyCart),
		errors.Is(err, cart.ErrProductInactive):
		return http.StatusUnprocessableEntity
	case errors.As(err, &gatewayErr):
		return http.StatusBadGateway
	case errors.Is(err, cart.ErrCartNotFound),
		errors.Is(err, cart.ErrLineNotFound),
		errors.Is(err, catalog.ErrProductNotFound),
		errors.Is(err, inventory.ErrProductNotFound),
		errors.Is(err, order.ErrOrderNotFound),
		errors.Is(err, payment.ErrPaymentNotFound):
		return http.StatusNotFound
	case errors.Is(err, cart.ErrInvalidQuantity),
		errors.Is(err, inventory.ErrInvalidQuantity),
		errors.Is(err, cart.ErrInvalidOwner),
		errors.Is(err, refund.ErrInvalidAmount),
		errors.Is(err, payment.ErrGatewayUnknown):
		return http.StatusBadRequest
	case errors.Is(err, payment.ErrSignatureInvalid):
		return http.StatusUnauthorized
	case errors.Is(err, order.ErrInvalidTransition),
		errors.Is(err, checkout.ErrOrderNotPayable),
		errors.Is(err, refund.ErrPaymentNotRefundable):
		return http.StatusConflict
	case errors.Is(err, checkout.ErrBusy):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
