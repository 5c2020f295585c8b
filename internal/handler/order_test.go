package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vasiliy-maslov/restaurant-orders/internal/auth"
	"github.com/vasiliy-maslov/restaurant-orders/internal/handler"
	"github.com/vasiliy-maslov/restaurant-orders/internal/order"
	"github.com/vasiliy-maslov/restaurant-orders/internal/payment"
)

type mockOrderService struct {
	placeOrderFunc           func(ctx context.Context, actor auth.Actor, in order.PlaceOrderInput) (*order.Order, error)
	getOrderFunc             func(ctx context.Context, actor auth.Actor, id uuid.UUID) (*order.Order, error)
	getOrderHistoryFunc      func(ctx context.Context, actor auth.Actor, id uuid.UUID) ([]order.StatusChange, error)
	listCustomerOrdersFunc   func(ctx context.Context, actor auth.Actor, customerID uuid.UUID) ([]order.Order, error)
	listRestaurantOrdersFunc func(ctx context.Context, actor auth.Actor, restaurantID uuid.UUID, statusFilter *order.Status) ([]order.Order, error)
	requestTransitionFunc    func(ctx context.Context, actor auth.Actor, orderID uuid.UUID, target order.Status) (*order.Order, error)
	confirmPaymentFunc       func(ctx context.Context, orderID uuid.UUID) (*order.Order, error)
}

func (m *mockOrderService) PlaceOrder(ctx context.Context, actor auth.Actor, in order.PlaceOrderInput) (*order.Order, error) {
	return m.placeOrderFunc(ctx, actor, in)
}

func (m *mockOrderService) GetOrder(ctx context.Context, actor auth.Actor, id uuid.UUID) (*order.Order, error) {
	return m.getOrderFunc(ctx, actor, id)
}

func (m *mockOrderService) GetOrderHistory(ctx context.Context, actor auth.Actor, id uuid.UUID) ([]order.StatusChange, error) {
	return m.getOrderHistoryFunc(ctx, actor, id)
}

func (m *mockOrderService) ListCustomerOrders(ctx context.Context, actor auth.Actor, customerID uuid.UUID) ([]order.Order, error) {
	return m.listCustomerOrdersFunc(ctx, actor, customerID)
}

func (m *mockOrderService) ListRestaurantOrders(ctx context.Context, actor auth.Actor, restaurantID uuid.UUID, statusFilter *order.Status) ([]order.Order, error) {
	return m.listRestaurantOrdersFunc(ctx, actor, restaurantID, statusFilter)
}

func (m *mockOrderService) RequestTransition(ctx context.Context, actor auth.Actor, orderID uuid.UUID, target order.Status) (*order.Order, error) {
	return m.requestTransitionFunc(ctx, actor, orderID, target)
}

func (m *mockOrderService) ConfirmPayment(ctx context.Context, orderID uuid.UUID) (*order.Order, error) {
	return m.confirmPaymentFunc(ctx, orderID)
}

type mockPayments struct {
	createCheckoutFunc func(ctx context.Context, actor auth.Actor, orderID uuid.UUID) (*payment.Checkout, error)
	handleWebhookFunc  func(ctx context.Context, payload []byte, sigHeader string) error
}

func (m *mockPayments) CreateCheckout(ctx context.Context, actor auth.Actor, orderID uuid.UUID) (*payment.Checkout, error) {
	return m.createCheckoutFunc(ctx, actor, orderID)
}

func (m *mockPayments) HandleWebhook(ctx context.Context, payload []byte, sigHeader string) error {
	return m.handleWebhookFunc(ctx, payload, sigHeader)
}

func mustUUID(t *testing.T) uuid.UUID {
	t.Helper()
	id, err := uuid.NewV4()
	require.NoError(t, err)
	return id
}

func newRouter(svc order.Service, payments handler.Payments) *chi.Mux {
	h := handler.NewOrderHandler(svc, payments, auth.NewHeaderResolver())
	r := chi.NewRouter()
	r.Post("/orders", h.CreateOrder)
	r.Get("/orders", h.ListMyOrders)
	r.Get("/orders/{id}", h.GetOrder)
	r.Get("/orders/{id}/history", h.GetOrderHistory)
	r.Patch("/orders/{id}/status", h.UpdateStatus)
	r.Post("/orders/{id}/checkout", h.StartCheckout)
	r.Get("/restaurants/{id}/orders", h.ListRestaurantOrders)
	r.Post("/payments/webhook", h.PaymentWebhook)
	return r
}

func TestCreateOrder(t *testing.T) {
	customerID := mustUUID(t)
	restaurantID := mustUUID(t)
	recipeID := mustUUID(t)
	orderID := mustUUID(t)

	svc := &mockOrderService{
		placeOrderFunc: func(ctx context.Context, actor auth.Actor, in order.PlaceOrderInput) (*order.Order, error) {
			assert.Equal(t, customerID, actor.ID)
			assert.Equal(t, restaurantID, in.RestaurantID)
			require.Len(t, in.Items, 1)
			return &order.Order{ID: orderID, CustomerID: customerID, RestaurantID: restaurantID, Status: order.StatusPending, TotalAmount: 1900}, nil
		},
	}

	body, err := json.Marshal(order.PlaceOrderInput{
		RestaurantID: restaurantID,
		Items:        []order.PlaceOrderItem{{RecipeID: recipeID, Quantity: 2}},
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/orders", bytes.NewReader(body))
	req.Header.Set("X-User-ID", customerID.String())
	rec := httptest.NewRecorder()
	newRouter(svc, &mockPayments{}).ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	var got order.Order
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, orderID, got.ID)
	assert.Equal(t, order.StatusPending, got.Status)
}

func TestCreateOrder_Unauthenticated(t *testing.T) {
	svc := &mockOrderService{}
	req := httptest.NewRequest(http.MethodPost, "/orders", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()
	newRouter(svc, &mockPayments{}).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestUpdateStatus_ErrorMapping(t *testing.T) {
	orderID := mustUUID(t)

	tests := []struct {
		name       string
		svcErr     error
		wantStatus int
	}{
		{"forbidden", order.ErrForbidden, http.StatusForbidden},
		{"not_found", order.ErrOrderNotFound, http.StatusNotFound},
		{"invalid_transition", order.ErrInvalidTransition, http.StatusBadRequest},
		{"conflict", order.ErrStatusConflict, http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockOrderService{
				requestTransitionFunc: func(ctx context.Context, actor auth.Actor, id uuid.UUID, target order.Status) (*order.Order, error) {
					return nil, tt.svcErr
				},
			}

			req := httptest.NewRequest(http.MethodPatch,
				fmt.Sprintf("/orders/%s/status", orderID),
				bytes.NewReader([]byte(`{"status": "preparing"}`)))
			req.Header.Set("X-User-ID", mustUUID(t).String())
			rec := httptest.NewRecorder()
			newRouter(svc, &mockPayments{}).ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}

func TestUpdateStatus_UnknownStatus(t *testing.T) {
	svc := &mockOrderService{}
	req := httptest.NewRequest(http.MethodPatch,
		fmt.Sprintf("/orders/%s/status", mustUUID(t)),
		bytes.NewReader([]byte(`{"status": "shipped"}`)))
	req.Header.Set("X-User-ID", mustUUID(t).String())
	rec := httptest.NewRecorder()
	newRouter(svc, &mockPayments{}).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetOrderHistory(t *testing.T) {
	orderID := mustUUID(t)
	customerID := mustUUID(t)

	svc := &mockOrderService{
		getOrderHistoryFunc: func(ctx context.Context, actor auth.Actor, id uuid.UUID) ([]order.StatusChange, error) {
			assert.Equal(t, customerID, actor.ID)
			assert.Equal(t, orderID, id)
			return []order.StatusChange{
				{OrderID: orderID, Status: order.StatusPending},
				{OrderID: orderID, Status: order.StatusPaid},
			}, nil
		},
	}

	req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/orders/%s/history", orderID), nil)
	req.Header.Set("X-User-ID", customerID.String())
	rec := httptest.NewRecorder()
	newRouter(svc, &mockPayments{}).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var got []order.StatusChange
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 2)
	assert.Equal(t, order.StatusPending, got[0].Status)
	assert.Equal(t, order.StatusPaid, got[1].Status)
}

func TestGetOrderHistory_Forbidden(t *testing.T) {
	svc := &mockOrderService{
		getOrderHistoryFunc: func(ctx context.Context, actor auth.Actor, id uuid.UUID) ([]order.StatusChange, error) {
			return nil, order.ErrForbidden
		},
	}

	req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/orders/%s/history", mustUUID(t)), nil)
	req.Header.Set("X-User-ID", mustUUID(t).String())
	rec := httptest.NewRecorder()
	newRouter(svc, &mockPayments{}).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestListRestaurantOrders_StatusFilter(t *testing.T) {
	restaurantID := mustUUID(t)

	var gotFilter *order.Status
	svc := &mockOrderService{
		listRestaurantOrdersFunc: func(ctx context.Context, actor auth.Actor, id uuid.UUID, statusFilter *order.Status) ([]order.Order, error) {
			assert.Equal(t, restaurantID, id)
			gotFilter = statusFilter
			return []order.Order{}, nil
		},
	}

	req := httptest.NewRequest(http.MethodGet,
		fmt.Sprintf("/restaurants/%s/orders?status=paid", restaurantID), nil)
	req.Header.Set("X-User-ID", mustUUID(t).String())
	rec := httptest.NewRecorder()
	newRouter(svc, &mockPayments{}).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, gotFilter)
	assert.Equal(t, order.StatusPaid, *gotFilter)
}

func TestStartCheckout(t *testing.T) {
	orderID := mustUUID(t)
	customerID := mustUUID(t)

	payments := &mockPayments{
		createCheckoutFunc: func(ctx context.Context, actor auth.Actor, id uuid.UUID) (*payment.Checkout, error) {
			assert.Equal(t, customerID, actor.ID)
			assert.Equal(t, orderID, id)
			return &payment.Checkout{URL: "https://checkout.example/cs_1", SessionID: "cs_1"}, nil
		},
	}

	req := httptest.NewRequest(http.MethodPost, fmt.Sprintf("/orders/%s/checkout", orderID), nil)
	req.Header.Set("X-User-ID", customerID.String())
	rec := httptest.NewRecorder()
	newRouter(&mockOrderService{}, payments).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var got payment.Checkout
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "cs_1", got.SessionID)
}

func TestPaymentWebhook(t *testing.T) {
	var gotSig string
	payments := &mockPayments{
		handleWebhookFunc: func(ctx context.Context, payload []byte, sigHeader string) error {
			gotSig = sigHeader
			assert.JSONEq(t, `{"id": "evt_1"}`, string(payload))
			return nil
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/payments/webhook", bytes.NewReader([]byte(`{"id": "evt_1"}`)))
	req.Header.Set("Stripe-Signature", "t=1,v1=abc")
	rec := httptest.NewRecorder()
	newRouter(&mockOrderService{}, payments).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "t=1,v1=abc", gotSig)
}

func TestPaymentWebhook_BadSignature(t *testing.T) {
	payments := &mockPayments{
		handleWebhookFunc: func(ctx context.Context, payload []byte, sigHeader string) error {
			return fmt.Errorf("%w: no signatures matched", payment.ErrVerification)
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/payments/webhook", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()
	newRouter(&mockOrderService{}, payments).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPaymentWebhook_UnknownOrderAcknowledged(t *testing.T) {
	payments := &mockPayments{
		handleWebhookFunc: func(ctx context.Context, payload []byte, sigHeader string) error {
			return order.ErrOrderNotFound
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/payments/webhook", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()
	newRouter(&mockOrderService{}, payments).ServeHTTP(rec, req)

	// Acknowledge so the provider stops retrying a confirmation we can
	// never apply.
	assert.Equal(t, http.StatusOK, rec.Code)
}
