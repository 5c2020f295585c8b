package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/restaurant-orders/internal/auth"
)

// Catalog is the slice of the menu subsystem this service consumes: price
// and ownership lookup for a recipe.
type Catalog interface {
	Recipe(ctx context.Context, id uuid.UUID) (*Recipe, error)
}

// StaffDirectory answers whether a user is staff (admin or employee) of a
// restaurant. Membership management itself lives elsewhere.
type StaffDirectory interface {
	IsStaff(ctx context.Context, userID, restaurantID uuid.UUID) (bool, error)
}

// EventPublisher receives lifecycle events after a transition commits.
// Publishing is fire-and-forget: implementations must never block the
// caller and must swallow per-connection delivery failures.
type EventPublisher interface {
	Publish(evt StatusEvent)
}

type PlaceOrderItem struct {
	RecipeID uuid.UUID `json:"recipe_id"`
	Quantity int       `json:"quantity"`
	Notes    string    `json:"notes,omitempty"`
}

type PlaceOrderInput struct {
	RestaurantID uuid.UUID        `json:"restaurant_id"`
	Items        []PlaceOrderItem `json:"items"`
	Notes        string           `json:"notes,omitempty"`
}

type Service interface {
	PlaceOrder(ctx context.Context, actor auth.Actor, in PlaceOrderInput) (*Order, error)
	GetOrder(ctx context.Context, actor auth.Actor, id uuid.UUID) (*Order, error)
	GetOrderHistory(ctx context.Context, actor auth.Actor, id uuid.UUID) ([]StatusChange, error)
	ListCustomerOrders(ctx context.Context, actor auth.Actor, customerID uuid.UUID) ([]Order, error)
	ListRestaurantOrders(ctx context.Context, actor auth.Actor, restaurantID uuid.UUID, statusFilter *Status) ([]Order, error)
	RequestTransition(ctx context.Context, actor auth.Actor, orderID uuid.UUID, target Status) (*Order, error)

	// ConfirmPayment is the only path to the paid status. It is invoked by
	// the payment confirmation flow, never by a request handler, and is
	// idempotent: confirming an already-paid order is a success no-op.
	ConfirmPayment(ctx context.Context, orderID uuid.UUID) (*Order, error)
}

type edge struct {
	from, to Status
}

type edgePolicy uint8

const (
	allowOwner edgePolicy = 1 << iota
	allowStaff
	allowSystem
)

// transitionPolicy is the single authorization table for the lifecycle
// graph. Every legal edge appears here; an edge missing from the table is
// an invalid transition for everyone.
var transitionPolicy = map[edge]edgePolicy{
	{StatusPending, StatusCancelled}: allowOwner | allowStaff | allowSystem,
	{StatusPending, StatusPaid}:      allowSystem,
	{StatusPaid, StatusPreparing}:    allowStaff,
	{StatusPaid, StatusCancelled}:    allowStaff,
	{StatusPreparing, StatusReady}:   allowStaff,
	{StatusReady, StatusCompleted}:   allowStaff,
}

type service struct {
	repo      Repository
	catalog   Catalog
	staff     StaffDirectory
	publisher EventPublisher
}

func NewService(repo Repository, catalog Catalog, staff StaffDirectory, publisher EventPublisher) Service {
	return &service{
		repo:      repo,
		catalog:   catalog,
		staff:     staff,
		publisher: publisher,
	}
}

func (s *service) PlaceOrder(ctx context.Context, actor auth.Actor, in PlaceOrderInput) (*Order, error) {
	if actor.Kind != auth.ActorUser {
		return nil, fmt.Errorf("%w: only customers can place orders", ErrForbidden)
	}
	if in.RestaurantID == uuid.Nil {
		return nil, fmt.Errorf("%w: restaurant id is required", ErrValidation)
	}
	if len(in.Items) == 0 {
		return nil, fmt.Errorf("%w: order must contain at least one item", ErrValidation)
	}

	items := make([]OrderItem, 0, len(in.Items))
	for _, line := range in.Items {
		if line.Quantity < 1 {
			return nil, fmt.Errorf("%w: quantity for recipe %s must be at least 1", ErrValidation, line.RecipeID)
		}

		recipe, err := s.catalog.Recipe(ctx, line.RecipeID)
		if err != nil {
			if errors.Is(err, ErrRecipeNotFound) {
				return nil, fmt.Errorf("%w: recipe %s does not exist", ErrValidation, line.RecipeID)
			}
			return nil, fmt.Errorf("service: failed to look up recipe %s: %w", line.RecipeID, err)
		}
		if recipe.RestaurantID != in.RestaurantID {
			return nil, fmt.Errorf("%w: recipe %s does not belong to restaurant %s", ErrValidation, line.RecipeID, in.RestaurantID)
		}

		items = append(items, OrderItem{
			RecipeID:  recipe.ID,
			Quantity:  line.Quantity,
			UnitPrice: recipe.PriceCents,
			Notes:     line.Notes,
		})
	}

	// V7 ids sort by creation time, which keeps order ids creation-ordered.
	orderID, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("service: failed to generate order ID: %w", err)
	}

	ord := &Order{
		ID:           orderID,
		CustomerID:   actor.ID,
		RestaurantID: in.RestaurantID,
		Status:       StatusPending,
		Items:        items,
		Notes:        in.Notes,
	}
	ord.TotalAmount = ord.ItemsTotal()

	if err := s.repo.Create(ctx, ord); err != nil {
		log.Error().Err(err).Stringer("customer_id", actor.ID).Msg("service: failed to create order")
		return nil, fmt.Errorf("service: failed to create order: %w", err)
	}

	log.Info().Stringer("order_id", ord.ID).Stringer("customer_id", ord.CustomerID).
		Stringer("restaurant_id", ord.RestaurantID).Int64("total_cents", ord.TotalAmount).
		Msg("service: order created")

	s.publish(ord, ord.CreatedAt)
	return ord, nil
}

func (s *service) GetOrder(ctx context.Context, actor auth.Actor, id uuid.UUID) (*Order, error) {
	ord, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	allowed, err := s.canObserve(ctx, actor, ord)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, fmt.Errorf("%w: not your order", ErrForbidden)
	}
	return ord, nil
}

// GetOrderHistory returns the audit trail of an order's status changes,
// oldest first. Visibility matches GetOrder.
func (s *service) GetOrderHistory(ctx context.Context, actor auth.Actor, id uuid.UUID) ([]StatusChange, error) {
	ord, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	allowed, err := s.canObserve(ctx, actor, ord)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, fmt.Errorf("%w: not your order", ErrForbidden)
	}
	return s.repo.StatusHistory(ctx, id)
}

func (s *service) ListCustomerOrders(ctx context.Context, actor auth.Actor, customerID uuid.UUID) ([]Order, error) {
	if actor.Kind != auth.ActorSystem && actor.ID != customerID {
		return nil, fmt.Errorf("%w: you can only list your own orders", ErrForbidden)
	}
	return s.repo.ListByCustomer(ctx, customerID)
}

func (s *service) ListRestaurantOrders(ctx context.Context, actor auth.Actor, restaurantID uuid.UUID, statusFilter *Status) ([]Order, error) {
	if actor.Kind != auth.ActorSystem {
		staff, err := s.staff.IsStaff(ctx, actor.ID, restaurantID)
		if err != nil {
			return nil, fmt.Errorf("service: staff check failed: %w", err)
		}
		if !staff {
			return nil, fmt.Errorf("%w: not staff of restaurant %s", ErrForbidden, restaurantID)
		}
	}
	return s.repo.ListByRestaurant(ctx, restaurantID, statusFilter)
}

func (s *service) RequestTransition(ctx context.Context, actor auth.Actor, orderID uuid.UUID, target Status) (*Order, error) {
	if !target.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrValidation, target)
	}

	// One bounded retry: if the compare-and-swap loses a race, re-read and
	// re-validate once from scratch, then surface the conflict.
	for attempt := 0; attempt < 2; attempt++ {
		ord, err := s.repo.GetByID(ctx, orderID)
		if err != nil {
			return nil, err
		}

		if err := s.authorizeTransition(ctx, actor, ord, target); err != nil {
			return nil, err
		}
		if !ord.Status.CanTransitionTo(target) {
			return nil, invalidTransition(ord.Status, target)
		}

		now := time.Now().UTC()
		err = s.repo.UpdateStatusCAS(ctx, orderID, ord.Status, target, now)
		if errors.Is(err, ErrStatusConflict) {
			if attempt == 0 {
				continue
			}
			return nil, err
		}
		if err != nil {
			return nil, fmt.Errorf("service: failed to update order status: %w", err)
		}

		log.Info().Stringer("order_id", orderID).Str("old_status", string(ord.Status)).
			Str("new_status", string(target)).Msg("service: order status updated")

		ord.Status = target
		ord.UpdatedAt = now
		s.publish(ord, now)
		return ord, nil
	}

	return nil, ErrStatusConflict
}

func (s *service) ConfirmPayment(ctx context.Context, orderID uuid.UUID) (*Order, error) {
	for attempt := 0; attempt < 2; attempt++ {
		ord, err := s.repo.GetByID(ctx, orderID)
		if err != nil {
			return nil, err
		}

		// Redelivered confirmations land here: nothing to do, no error.
		if ord.Status == StatusPaid {
			log.Info().Stringer("order_id", orderID).Msg("service: payment already confirmed")
			return ord, nil
		}
		if ord.Status != StatusPending {
			return nil, invalidTransition(ord.Status, StatusPaid)
		}

		now := time.Now().UTC()
		err = s.repo.UpdateStatusCAS(ctx, orderID, StatusPending, StatusPaid, now)
		if errors.Is(err, ErrStatusConflict) {
			// A concurrent replay may have won; re-read to find out.
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("service: failed to confirm payment: %w", err)
		}

		log.Info().Stringer("order_id", orderID).Msg("service: payment confirmed")

		ord.Status = StatusPaid
		ord.UpdatedAt = now
		s.publish(ord, now)
		return ord, nil
	}

	return nil, ErrStatusConflict
}

func (s *service) authorizeTransition(ctx context.Context, actor auth.Actor, ord *Order, target Status) error {
	policy, ok := transitionPolicy[edge{from: ord.Status, to: target}]
	if !ok {
		// Not an edge of the graph at all; report it as such rather than
		// guessing who would have been allowed.
		return invalidTransition(ord.Status, target)
	}

	if actor.Kind == auth.ActorSystem {
		if policy&allowSystem != 0 {
			return nil
		}
		return fmt.Errorf("%w: transition %s -> %s is not a system operation", ErrForbidden, ord.Status, target)
	}

	if policy&allowOwner != 0 && actor.ID == ord.CustomerID {
		return nil
	}
	if policy&allowStaff != 0 {
		staff, err := s.staff.IsStaff(ctx, actor.ID, ord.RestaurantID)
		if err != nil {
			return fmt.Errorf("service: staff check failed: %w", err)
		}
		if staff {
			return nil
		}
	}

	return fmt.Errorf("%w: not allowed to move order %s from %s to %s", ErrForbidden, ord.ID, ord.Status, target)
}

// canObserve reports whether the actor may read the order: the owning
// customer, staff of the owning restaurant, or the system.
func (s *service) canObserve(ctx context.Context, actor auth.Actor, ord *Order) (bool, error) {
	if actor.Kind == auth.ActorSystem || actor.ID == ord.CustomerID {
		return true, nil
	}
	staff, err := s.staff.IsStaff(ctx, actor.ID, ord.RestaurantID)
	if err != nil {
		return false, fmt.Errorf("service: staff check failed: %w", err)
	}
	return staff, nil
}

// publish hands the committed transition to the hub. The transition is
// already durable; a notification problem must never surface to the caller.
func (s *service) publish(ord *Order, at time.Time) {
	if s.publisher == nil {
		return
	}
	s.publisher.Publish(StatusEvent{
		OrderID:      ord.ID,
		CustomerID:   ord.CustomerID,
		RestaurantID: ord.RestaurantID,
		Status:       ord.Status,
		OccurredAt:   at,
	})
}
