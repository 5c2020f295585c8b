package push

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gofrs/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/restaurant-orders/internal/auth"
	"github.com/vasiliy-maslov/restaurant-orders/internal/order"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	maxClientMessageSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Browsers connect from the storefront origin; origin policy is
	// enforced by the gateway in front of this service.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WSHandler upgrades HTTP requests to websocket subscriptions on the hub.
type WSHandler struct {
	hub      *Hub
	resolver auth.Resolver
	staff    order.StaffDirectory
}

func NewWSHandler(hub *Hub, resolver auth.Resolver, staff order.StaffDirectory) *WSHandler {
	return &WSHandler{hub: hub, resolver: resolver, staff: staff}
}

// ServeCustomer subscribes the calling user to their own order updates.
func (h *WSHandler) ServeCustomer(w http.ResponseWriter, r *http.Request) {
	actor, err := h.resolver.Resolve(r)
	if err != nil {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}
	h.serve(w, r, AudienceCustomer, actor.ID)
}

// ServeRestaurant subscribes restaurant staff to their restaurant's order
// feed. The staff check happens before the upgrade.
func (h *WSHandler) ServeRestaurant(w http.ResponseWriter, r *http.Request) {
	actor, err := h.resolver.Resolve(r)
	if err != nil {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}

	restaurantID, err := uuid.FromString(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid restaurant id", http.StatusBadRequest)
		return
	}

	staff, err := h.staff.IsStaff(r.Context(), actor.ID, restaurantID)
	if err != nil {
		log.Error().Err(err).Msg("push: staff check failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if !staff {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	h.serve(w, r, AudienceRestaurant, restaurantID)
}

func (h *WSHandler) serve(w http.ResponseWriter, r *http.Request, audience Audience, key uuid.UUID) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		log.Warn().Err(err).Msg("push: websocket upgrade failed")
		return
	}

	sub := h.hub.Subscribe(audience, key)
	go writePump(conn, sub)
	readPump(conn, sub)
}

// writePump forwards hub events to the connection and keeps it alive with
// pings. It exits when the subscription closes or a write fails.
func writePump(conn *websocket.Conn, sub *Subscription) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		sub.Close()
		conn.Close()
	}()

	for {
		select {
		case payload, ok := <-sub.C():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				log.Debug().Err(err).Msg("push: write failed, dropping connection")
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump drains client frames so pongs and close frames are processed.
// Clients send nothing meaningful on this channel.
func readPump(conn *websocket.Conn, sub *Subscription) {
	defer func() {
		sub.Close()
		conn.Close()
	}()

	conn.SetReadLimit(maxClientMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
