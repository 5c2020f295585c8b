package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/restaurant-orders/internal/auth"
	"github.com/vasiliy-maslov/restaurant-orders/internal/order"
	"github.com/vasiliy-maslov/restaurant-orders/internal/payment"
)

// Stripe events are small; anything bigger is not a webhook.
const maxWebhookBody = 64 << 10

// Payments is what the handler needs from the payment adapter.
type Payments interface {
	CreateCheckout(ctx context.Context, actor auth.Actor, orderID uuid.UUID) (*payment.Checkout, error)
	HandleWebhook(ctx context.Context, payload []byte, sigHeader string) error
}

// OrderHandler exposes the order lifecycle over HTTP.
type OrderHandler struct {
	svc      order.Service
	payments Payments
	resolver auth.Resolver
}

func NewOrderHandler(svc order.Service, payments Payments, resolver auth.Resolver) *OrderHandler {
	return &OrderHandler{svc: svc, payments: payments, resolver: resolver}
}

// CreateOrder handles POST /orders: place an order from a cart snapshot.
func (h *OrderHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	actor, err := h.resolver.Resolve(r)
	if err != nil {
		respondError(w, err)
		return
	}

	var in order.PlaceOrderInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	ord, err := h.svc.PlaceOrder(r.Context(), actor, in)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, ord)
}

// ListMyOrders handles GET /orders: the caller's own orders, newest first.
func (h *OrderHandler) ListMyOrders(w http.ResponseWriter, r *http.Request) {
	actor, err := h.resolver.Resolve(r)
	if err != nil {
		respondError(w, err)
		return
	}

	orders, err := h.svc.ListCustomerOrders(r.Context(), actor, actor.ID)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, orders)
}

// GetOrder handles GET /orders/{id}.
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	actor, err := h.resolver.Resolve(r)
	if err != nil {
		respondError(w, err)
		return
	}

	id, err := uuid.FromString(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid order id", http.StatusBadRequest)
		return
	}

	ord, err := h.svc.GetOrder(r.Context(), actor, id)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, ord)
}

// GetOrderHistory handles GET /orders/{id}/history: the order's status
// audit trail, oldest first.
func (h *OrderHandler) GetOrderHistory(w http.ResponseWriter, r *http.Request) {
	actor, err := h.resolver.Resolve(r)
	if err != nil {
		respondError(w, err)
		return
	}

	id, err := uuid.FromString(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid order id", http.StatusBadRequest)
		return
	}

	history, err := h.svc.GetOrderHistory(r.Context(), actor, id)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, history)
}

// ListRestaurantOrders handles GET /restaurants/{id}/orders with an
// optional ?status= filter. Staff only.
func (h *OrderHandler) ListRestaurantOrders(w http.ResponseWriter, r *http.Request) {
	actor, err := h.resolver.Resolve(r)
	if err != nil {
		respondError(w, err)
		return
	}

	restaurantID, err := uuid.FromString(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid restaurant id", http.StatusBadRequest)
		return
	}

	var statusFilter *order.Status
	if raw := r.URL.Query().Get("status"); raw != "" {
		status, err := order.ParseStatus(raw)
		if err != nil {
			respondError(w, err)
			return
		}
		statusFilter = &status
	}

	orders, err := h.svc.ListRestaurantOrders(r.Context(), actor, restaurantID, statusFilter)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, orders)
}

type updateStatusRequest struct {
	Status string `json:"status"`
}

// UpdateStatus handles PATCH /orders/{id}/status: a lifecycle transition
// requested by a customer (cancellation) or restaurant staff.
func (h *OrderHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	actor, err := h.resolver.Resolve(r)
	if err != nil {
		respondError(w, err)
		return
	}

	id, err := uuid.FromString(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid order id", http.StatusBadRequest)
		return
	}

	var req updateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	target, err := order.ParseStatus(req.Status)
	if err != nil {
		respondError(w, err)
		return
	}

	ord, err := h.svc.RequestTransition(r.Context(), actor, id, target)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, ord)
}

// StartCheckout handles POST /orders/{id}/checkout: returns the provider's
// redirect URL for a pending order.
func (h *OrderHandler) StartCheckout(w http.ResponseWriter, r *http.Request) {
	actor, err := h.resolver.Resolve(r)
	if err != nil {
		respondError(w, err)
		return
	}

	id, err := uuid.FromString(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid order id", http.StatusBadRequest)
		return
	}

	checkout, err := h.payments.CreateCheckout(r.Context(), actor, id)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, checkout)
}

// PaymentWebhook handles POST /payments/webhook, the provider's
// asynchronous confirmation callback.
func (h *OrderHandler) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	err = h.payments.HandleWebhook(r.Context(), payload, r.Header.Get("Stripe-Signature"))
	switch {
	case err == nil:
		respondJSON(w, http.StatusOK, map[string]string{"status": "success"})
	case errors.Is(err, payment.ErrVerification):
		respondError(w, err)
	case errors.Is(err, order.ErrOrderNotFound):
		// Nothing to apply the confirmation to; acknowledge so the
		// provider stops redelivering.
		log.Warn().Err(err).Msg("handler: confirmation for unknown order acknowledged")
		respondJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
	default:
		// Non-2xx makes the provider retry later, which is what we want
		// for transient failures.
		respondError(w, err)
	}
}
