package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/restaurant-orders/internal/auth"
	"github.com/vasiliy-maslov/restaurant-orders/internal/order"
	"github.com/vasiliy-maslov/restaurant-orders/internal/payment"
)

type errorResponse struct {
	Error string `json:"error"`
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("handler: failed to encode response")
	}
}

// respondError maps domain sentinels onto HTTP status codes in one place,
// so handlers never hand-pick codes.
func respondError(w http.ResponseWriter, err error) {
	var status int
	switch {
	case errors.Is(err, auth.ErrUnauthenticated):
		status = http.StatusUnauthorized
	case errors.Is(err, order.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, order.ErrOrderNotFound), errors.Is(err, order.ErrRecipeNotFound):
		status = http.StatusNotFound
	case errors.Is(err, order.ErrValidation),
		errors.Is(err, order.ErrInvalidTransition),
		errors.Is(err, payment.ErrNotPending),
		errors.Is(err, payment.ErrVerification):
		status = http.StatusBadRequest
	case errors.Is(err, order.ErrStatusConflict):
		status = http.StatusConflict
	default:
		log.Error().Err(err).Msg("handler: internal error")
		respondJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}
	respondJSON(w, status, errorResponse{Error: err.Error()})
}
