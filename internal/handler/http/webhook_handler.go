package http

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/eytgaming/checkout-service/internal/webhook"
)

// signatureHeaders maps each gateway to the header carrying its webhook
// signature.
var signatureHeaders = map[string]string{
	"stripe":   "Stripe-Signature",
	"paystack": "X-Paystack-Signature",
}

const maxWebhookBody = 1 << 20

type WebhookHandler struct {
	reconciler webhook.Reconciler
}

func NewWebhookHandler(reconciler webhook.Reconciler) *WebhookHandler {
	return &WebhookHandler{reconciler: reconciler}
}

func (h *WebhookHandler) RegisterRoutes(router chi.Router) {
	router.Post("/payments/webhook/{gateway}", h.handleWebhook)
}

func (h *WebhookHandler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	gatewayName := chi.URLParam(r, "gateway")

	headerName, ok := signatureHeaders[gatewayName]
	if !ok {
		respondWithError(w, http.StatusNotFound, "Unknown gateway")
		return
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Failed to read request body")
		return
	}

	if err := h.reconciler.Process(r.Context(), gatewayName, r.Header.Get(headerName), payload); err != nil {
		statusCode := mapErrorToStatusCode(err)
		if statusCode == http.StatusUnauthorized {
			respondWithError(w, statusCode, "Invalid signature")
			return
		}
		log.Error().Err(err).Str("gateway", gatewayName).Msg("Webhook processing failed, the gateway will retry")
		respondWithError(w, http.StatusInternalServerError, "Failed to process event")
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]bool{"received": true})
}
