package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	stripe "github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/checkout/session"
	"github.com/stripe/stripe-go/v79/webhook"
	"github.com/vasiliy-maslov/restaurant-orders/internal/auth"
	"github.com/vasiliy-maslov/restaurant-orders/internal/order"
)

var (
	// ErrVerification means an inbound confirmation failed the signature
	// check. It is provider-to-server traffic: logged, dropped, and never
	// surfaced to an end user.
	ErrVerification = errors.New("payment event verification failed")

	// ErrNotPending means checkout was requested for an order that is not
	// awaiting payment.
	ErrNotPending = errors.New("order is not awaiting payment")
)

// How long a processed webhook event id is remembered. Stripe retries for
// up to three days; keep markers a bit longer.
const eventMarkerTTL = 96 * time.Hour

// IdempotencyStore remembers processed provider event ids so webhook
// redeliveries short-circuit before touching the engine. The engine's
// already-paid check backstops it if the marker is lost.
type IdempotencyStore interface {
	SetIfAbsent(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error
}

// OrderGetter is the slice of the order store the adapter reads.
type OrderGetter interface {
	GetByID(ctx context.Context, id uuid.UUID) (*order.Order, error)
}

type Config struct {
	SecretKey     string
	WebhookSecret string
	// FrontendURL is where the provider redirects the customer after a
	// finished or abandoned checkout.
	FrontendURL string
}

type Checkout struct {
	URL       string `json:"checkout_url"`
	SessionID string `json:"session_id"`
}

type createSessionFunc func(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)

// Service bridges pending orders to the payment provider: it creates
// checkout sessions and turns verified confirmation webhooks into
// pending -> paid transitions.
type Service struct {
	orders        OrderGetter
	engine        order.Service
	idem          IdempotencyStore
	cfg           Config
	createSession createSessionFunc
}

func NewService(orders OrderGetter, engine order.Service, idem IdempotencyStore, cfg Config) *Service {
	stripe.Key = cfg.SecretKey
	return &Service{
		orders:        orders,
		engine:        engine,
		idem:          idem,
		cfg:           cfg,
		createSession: session.New,
	}
}

// CreateCheckout builds a provider checkout session for the order's exact
// total and returns the redirect URL. It does not transition the order;
// only the confirmation webhook does that.
func (s *Service) CreateCheckout(ctx context.Context, actor auth.Actor, orderID uuid.UUID) (*Checkout, error) {
	ord, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	// A non-owner gets not-found, same as a missing id, so probing ids
	// cannot reveal which orders exist.
	if actor.Kind != auth.ActorUser || ord.CustomerID != actor.ID {
		return nil, order.ErrOrderNotFound
	}
	if ord.Status != order.StatusPending {
		return nil, fmt.Errorf("%w: order is %s", ErrNotPending, ord.Status)
	}

	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency: stripe.String(string(stripe.CurrencyUSD)),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(fmt.Sprintf("Order %s", ord.ID)),
					},
					UnitAmount: stripe.Int64(ord.TotalAmount),
				},
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(fmt.Sprintf("%s/orders?payment=success&order_id=%s", s.cfg.FrontendURL, ord.ID)),
		CancelURL:  stripe.String(fmt.Sprintf("%s/orders?payment=cancelled&order_id=%s", s.cfg.FrontendURL, ord.ID)),
	}
	// Metadata links the provider's session back to our order.
	params.AddMetadata("order_id", ord.ID.String())
	params.AddMetadata("customer_id", ord.CustomerID.String())

	sess, err := s.createSession(params)
	if err != nil {
		log.Error().Err(err).Stringer("order_id", ord.ID).Msg("payment: failed to create checkout session")
		return nil, fmt.Errorf("payment: failed to create checkout session: %w", err)
	}

	log.Info().Stringer("order_id", ord.ID).Str("session_id", sess.ID).Msg("payment: checkout session created")
	return &Checkout{URL: sess.URL, SessionID: sess.ID}, nil
}

// HandleWebhook processes an inbound provider event. Unverified payloads
// are rejected before any state is touched. Verified completion events are
// idempotent under redelivery: a replay is acknowledged without a second
// transition.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, sigHeader string) error {
	event, err := webhook.ConstructEvent(payload, sigHeader, s.cfg.WebhookSecret)
	if err != nil {
		log.Warn().Err(err).Msg("payment: rejected webhook with bad signature")
		return fmt.Errorf("%w: %v", ErrVerification, err)
	}

	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted:
		return s.handleCheckoutCompleted(ctx, event)
	default:
		log.Debug().Str("event_type", string(event.Type)).Msg("payment: ignoring webhook event")
		return nil
	}
}

func (s *Service) handleCheckoutCompleted(ctx context.Context, event stripe.Event) error {
	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return fmt.Errorf("payment: failed to decode checkout session from event %s: %w", event.ID, err)
	}

	rawOrderID, ok := sess.Metadata["order_id"]
	if !ok {
		log.Warn().Str("event_id", event.ID).Msg("payment: completed session without order_id metadata")
		return nil
	}
	orderID, err := uuid.FromString(rawOrderID)
	if err != nil {
		return fmt.Errorf("payment: malformed order_id %q in event %s: %w", rawOrderID, event.ID, err)
	}

	markerKey := "stripe-event:" + event.ID
	markerSet := false
	if s.idem != nil {
		fresh, err := s.idem.SetIfAbsent(ctx, markerKey, eventMarkerTTL)
		if err != nil {
			// Marker store trouble is not fatal: ConfirmPayment is a no-op
			// on an already-paid order anyway.
			log.Warn().Err(err).Str("event_id", event.ID).Msg("payment: idempotency store unavailable")
		} else if !fresh {
			log.Info().Str("event_id", event.ID).Stringer("order_id", orderID).
				Msg("payment: duplicate confirmation event, already processed")
			return nil
		} else {
			markerSet = true
		}
	}

	if _, err := s.engine.ConfirmPayment(ctx, orderID); err != nil {
		// The marker must only dedup committed transitions. Release it so
		// the provider's redelivery of this event gets another attempt.
		if markerSet {
			if delErr := s.idem.Delete(ctx, markerKey); delErr != nil {
				log.Error().Err(delErr).Str("event_id", event.ID).
					Msg("payment: failed to release marker for failed confirmation")
			}
		}
		return err
	}
	return nil
}
