package http

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"

	"github.com/eytgaming/checkout-service/internal/inventory"
)

// AvailabilityResponse is advisory: stock can change between this
// answer and checkout, where the locked re-check decides.
type AvailabilityResponse struct {
	ProductID uuid.UUID `json:"product_id"`
	Quantity  int       `json:"quantity"`
	Available bool      `json:"available"`
}

type InventoryHandler struct {
	ledger inventory.Ledger
}

func NewInventoryHandler(ledger inventory.Ledger) *InventoryHandler {
	return &InventoryHandler{ledger: ledger}
}

func (h *InventoryHandler) RegisterRoutes(router chi.Router) {
	router.Get("/products/{productID}/availability", h.handleCheckAvailability)
}

func (h *InventoryHandler) handleCheckAvailability(w http.ResponseWriter, r *http.Request) {
	productID, err := uuid.FromString(chi.URLParam(r, "productID"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid productID parameter")
		return
	}

	quantity := 1
	if raw := r.URL.Query().Get("quantity"); raw != "" {
		quantity, err = strconv.Atoi(raw)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "Invalid quantity parameter")
			return
		}
	}

	available, err := h.ledger.CheckAvailability(r.Context(), productID, quantity)
	if err != nil {
		statusCode := mapErrorToStatusCode(err)
		if statusCode == http.StatusInternalServerError {
			log.Error().Err(err).Stringer("product_id", productID).Msg("Failed to check availability")
			respondWithError(w, statusCode, "Failed to check availability")
			return
		}
		respondWithError(w, statusCode, err.Error())
		return
	}

	respondWithJSON(w, http.StatusOK, AvailabilityResponse{
		ProductID: productID,
		Quantity:  quantity,
		Available: available,
	})
}
