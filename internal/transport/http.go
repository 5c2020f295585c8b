package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/vasiliy-maslov/restaurant-orders/internal/handler"
	"github.com/vasiliy-maslov/restaurant-orders/internal/push"
)

func NewRouter(orders *handler.OrderHandler, ws *push.WSHandler) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	r.Route("/orders", func(r chi.Router) {
		r.Post("/", orders.CreateOrder)
		r.Get("/", orders.ListMyOrders)
		r.Get("/{id}", orders.GetOrder)
		r.Get("/{id}/history", orders.GetOrderHistory)
		r.Patch("/{id}/status", orders.UpdateStatus)
		r.Post("/{id}/checkout", orders.StartCheckout)
	})

	r.Get("/restaurants/{id}/orders", orders.ListRestaurantOrders)

	r.Post("/payments/webhook", orders.PaymentWebhook)

	r.Get("/ws/customer", ws.ServeCustomer)
	r.Get("/ws/restaurant/{id}", ws.ServeRestaurant)

	return r
}
