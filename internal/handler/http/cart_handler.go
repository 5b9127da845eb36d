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
)

type AddItemRequest struct {
	ProductID string `json:"product_id" validate:"required,uuid4"`
	Quantity  int    `json:"quantity" validate:"required,min=1"`
}

type UpdateItemRequest struct {
	Quantity *int `json:"quantity" validate:"required,min=0"`
}

type MergeResponse struct {
	Merged bool `json:"merged"`
}

type CartHandler struct {
	service  cart.Service
	validate *validator.Validate
}

func NewCartHandler(service cart.Service) *CartHandler {
	return &CartHandler{
		service:  service,
		validate: validator.New(),
	}
}

func (h *CartHandler) RegisterRoutes(router chi.Router) {
	router.Get("/cart", h.handleGetCart)
	router.Post("/cart/items", h.handleAddItem)
	router.Patch("/cart/items/{productID}", h.handleUpdateItem)
	router.Delete("/cart/items/{productID}", h.handleRemoveItem)
	router.Post("/cart/merge", h.handleMerge)
}

// ownerFromRequest trusts the identity headers the gateway in front of
// this service injects: X-User-ID for logged-in shoppers, X-Session-Key
// for anonymous ones.
func ownerFromRequest(r *http.Request) (cart.Owner, error) {
	if raw := r.Header.Get("X-User-ID"); raw != "" {
		userID, err := uuid.FromString(raw)
		if err != nil {
			return cart.Owner{}, errors.New("invalid X-User-ID header")
		}
		return cart.OwnerForUser(userID), nil
	}
	if key := r.Header.Get("X-Session-Key"); key != "" {
		return cart.OwnerForSession(key), nil
	}
	return cart.Owner{}, errors.New("X-User-ID or X-Session-Key header is required")
}

func (h *CartHandler) handleGetCart(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerFromRequest(r)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	view, err := h.service.GetView(r.Context(), owner)
	if err != nil {
		log.Error().Err(err).Msg("Failed to load cart")
		respondWithError(w, mapErrorToStatusCode(err), "Failed to load cart")
		return
	}

	respondWithJSON(w, http.StatusOK, view)
}

func (h *CartHandler) handleAddItem(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerFromRequest(r)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	var requestPayload AddItemRequest

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&requestPayload); err != nil {
		log.Warn().Err(err).Msg("Failed to decode add item request")
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

	productID, err := uuid.FromString(requestPayload.ProductID)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid product_id")
		return
	}

	view, err := h.service.AddLine(r.Context(), owner, productID, requestPayload.Quantity)
	if err != nil {
		log.Warn().Err(err).Stringer("product_id", productID).Msg("Failed to add cart line")

		statusCode := mapErrorToStatusCode(err)

		var clientMessage string
		if errors.Is(err, cart.ErrProductInactive) {
			clientMessage = "Product is not available for purchase"
		} else if statusCode == http.StatusNotFound {
			clientMessage = "Product not found"
		} else {
			clientMessage = "Failed to add item to cart"
		}

		respondWithError(w, statusCode, clientMessage)
		return
	}

	respondWithJSON(w, http.StatusOK, view)
}

func (h *CartHandler) handleUpdateItem(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerFromRequest(r)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	productID, err := uuid.FromString(chi.URLParam(r, "productID"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid productID parameter")
		return
	}

	var requestPayload UpdateItemRequest

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&requestPayload); err != nil {
		log.Warn().Err(err).Msg("Failed to decode update item request")
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

	view, err := h.service.UpdateQuantity(r.Context(), owner, productID, *requestPayload.Quantity)
	if err != nil {
		log.Warn().Err(err).Stringer("product_id", productID).Msg("Failed to update cart line")

		statusCode := mapErrorToStatusCode(err)

		var clientMessage string
		if statusCode == http.StatusNotFound {
			clientMessage = "Cart line not found"
		} else {
			clientMessage = "Failed to update cart line"
		}

		respondWithError(w, statusCode, clientMessage)
		return
	}

	respondWithJSON(w, http.StatusOK, view)
}

func (h *CartHandler) handleRemoveItem(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerFromRequest(r)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	productID, err := uuid.FromString(chi.URLParam(r, "productID"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid productID parameter")
		return
	}

	view, err := h.service.RemoveLine(r.Context(), owner, productID)
	if err != nil {
		log.Error().Err(err).Stringer("product_id", productID).Msg("Failed to remove cart line")
		respondWithError(w, mapErrorToStatusCode(err), "Failed to remove cart line")
		return
	}

	respondWithJSON(w, http.StatusOK, view)
}

func (h *CartHandler) handleMerge(w http.ResponseWriter, r *http.Request) {
	rawUserID := r.Header.Get("X-User-ID")
	sessionKey := r.Header.Get("X-Session-Key")
	if rawUserID == "" || sessionKey == "" {
		respondWithError(w, http.StatusBadRequest, "Merge requires both X-User-ID and X-Session-Key headers")
		return
	}

	userID, err := uuid.FromString(rawUserID)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid X-User-ID header")
		return
	}

	merged, err := h.service.Merge(r.Context(), sessionKey, userID)
	if err != nil {
		log.Error().Err(err).Stringer("user_id", userID).Msg("Failed to merge carts")
		respondWithError(w, mapErrorToStatusCode(err), "Failed to merge carts")
		return
	}

	respondWithJSON(w, http.StatusOK, MergeResponse{Merged: merged})
}
