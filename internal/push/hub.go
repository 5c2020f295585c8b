package push

import (
	"encoding/json"
	"sync"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/restaurant-orders/internal/order"
)

type Audience string

const (
	AudienceCustomer   Audience = "customer"
	AudienceRestaurant Audience = "restaurant"
)

// Message type labels, matching what clients already dispatch on: a fresh
// pending order is "new_order" for both audiences, everything else is
// "order_update".
const (
	messageNewOrder    = "new_order"
	messageOrderUpdate = "order_update"
)

type message struct {
	Type string            `json:"type"`
	Data order.StatusEvent `json:"data"`
}

// subscriberBuffer bounds how far a slow connection may lag. A full buffer
// drops the event for that connection only; the client re-fetches on
// reconnect, the store stays the source of truth.
const subscriberBuffer = 16

// Subscription is one live connection's mailbox in the hub.
type Subscription struct {
	hub      *Hub
	audience Audience
	key      uuid.UUID
	ch       chan []byte
	once     sync.Once
}

// C yields serialized events for this connection. It is closed by Close.
func (s *Subscription) C() <-chan []byte { return s.ch }

// Close unregisters the subscription and closes its channel. Safe to call
// more than once and from any goroutine.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.unsubscribe(s)
	})
}

// Hub keeps two independent registries of open connections, one keyed by
// customer id and one by restaurant id, and fans lifecycle events out to
// all connections interested in the event's order. Delivery is
// fire-and-forget per connection.
type Hub struct {
	mu          sync.RWMutex
	customers   map[uuid.UUID]map[*Subscription]struct{}
	restaurants map[uuid.UUID]map[*Subscription]struct{}
}

func NewHub() *Hub {
	return &Hub{
		customers:   make(map[uuid.UUID]map[*Subscription]struct{}),
		restaurants: make(map[uuid.UUID]map[*Subscription]struct{}),
	}
}

// Subscribe registers a new connection under the given audience key. The
// caller must Close the returned subscription when the connection ends.
func (h *Hub) Subscribe(audience Audience, key uuid.UUID) *Subscription {
	sub := &Subscription{
		hub:      h,
		audience: audience,
		key:      key,
		ch:       make(chan []byte, subscriberBuffer),
	}

	h.mu.Lock()
	registry := h.registry(audience)
	if registry[key] == nil {
		registry[key] = make(map[*Subscription]struct{})
	}
	registry[key][sub] = struct{}{}
	h.mu.Unlock()

	log.Debug().Str("audience", string(audience)).Stringer("key", key).Msg("push: subscribed")
	return sub
}

// unsubscribe removes the subscription and closes its channel under the
// write lock, so it cannot interleave with a Publish holding the read lock.
func (h *Hub) unsubscribe(sub *Subscription) {
	h.mu.Lock()
	registry := h.registry(sub.audience)
	if set, ok := registry[sub.key]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(registry, sub.key)
		}
	}
	close(sub.ch)
	h.mu.Unlock()
}

// registry must be called with h.mu held.
func (h *Hub) registry(audience Audience) map[uuid.UUID]map[*Subscription]struct{} {
	if audience == AudienceRestaurant {
		return h.restaurants
	}
	return h.customers
}

// Publish pushes the event to every open connection of the order's customer
// and of its restaurant. A slow or dead connection loses the event; it
// never blocks the others and nothing propagates back to the caller.
func (h *Hub) Publish(evt order.StatusEvent) {
	kind := messageOrderUpdate
	if evt.Status == order.StatusPending {
		kind = messageNewOrder
	}
	payload, err := json.Marshal(message{Type: kind, Data: evt})
	if err != nil {
		log.Error().Err(err).Stringer("order_id", evt.OrderID).Msg("push: failed to marshal event")
		return
	}

	// Sends are non-blocking, so holding the read lock here is cheap and
	// ensures no channel is closed mid-delivery.
	h.mu.RLock()
	defer h.mu.RUnlock()

	for sub := range h.customers[evt.CustomerID] {
		sub.deliver(payload, evt.OrderID)
	}
	for sub := range h.restaurants[evt.RestaurantID] {
		sub.deliver(payload, evt.OrderID)
	}
}

func (s *Subscription) deliver(payload []byte, orderID uuid.UUID) {
	select {
	case s.ch <- payload:
	default:
		log.Warn().Str("audience", string(s.audience)).Stringer("key", s.key).
			Stringer("order_id", orderID).Msg("push: subscriber buffer full, event dropped")
	}
}
