package order

import (
	"fmt"
	"time"

	"github.com/gofrs/uuid"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusPaid      Status = "paid"
	StatusPreparing Status = "preparing"
	StatusReady     Status = "ready"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

func (s Status) String() string { return string(s) }

// allowedTransitions is the full lifecycle graph. pending is the sole
// initial status; completed and cancelled are terminal.
var allowedTransitions = map[Status][]Status{
	StatusPending:   {StatusPaid, StatusCancelled},
	StatusPaid:      {StatusPreparing, StatusCancelled},
	StatusPreparing: {StatusReady},
	StatusReady:     {StatusCompleted},
	StatusCompleted: {},
	StatusCancelled: {},
}

func (s Status) Valid() bool {
	_, ok := allowedTransitions[s]
	return ok
}

func (s Status) Terminal() bool {
	targets, ok := allowedTransitions[s]
	return ok && len(targets) == 0
}

func (s Status) CanTransitionTo(target Status) bool {
	for _, t := range allowedTransitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

func ParseStatus(raw string) (Status, error) {
	s := Status(raw)
	if !s.Valid() {
		return "", fmt.Errorf("%w: unknown status %q", ErrValidation, raw)
	}
	return s, nil
}

// OrderItem is a line of an order. The unit price is copied from the recipe
// at order-creation time, so later menu price changes do not touch existing
// orders. All money is in cents.
type OrderItem struct {
	ID        uuid.UUID `json:"id" db:"id"`
	OrderID   uuid.UUID `json:"order_id" db:"order_id"`
	RecipeID  uuid.UUID `json:"recipe_id" db:"recipe_id"`
	Quantity  int       `json:"quantity" db:"quantity"`
	UnitPrice int64     `json:"unit_price_cents" db:"unit_price_cents"`
	Notes     string    `json:"notes,omitempty" db:"notes"`
}

func (i OrderItem) Subtotal() int64 {
	return i.UnitPrice * int64(i.Quantity)
}

type Order struct {
	ID           uuid.UUID   `json:"id" db:"id"`
	CustomerID   uuid.UUID   `json:"customer_id" db:"customer_id"`
	RestaurantID uuid.UUID   `json:"restaurant_id" db:"restaurant_id"`
	Status       Status      `json:"status" db:"status"`
	Items        []OrderItem `json:"items" db:"-"`
	TotalAmount  int64       `json:"total_amount_cents" db:"total_amount_cents"`
	Notes        string      `json:"notes,omitempty" db:"notes"`
	CreatedAt    time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at" db:"updated_at"`
}

// ItemsTotal re-derives the total from the line items. It exists for
// integrity checks; TotalAmount stays the persisted source of truth.
func (o *Order) ItemsTotal() int64 {
	var total int64
	for _, item := range o.Items {
		total += item.Subtotal()
	}
	return total
}

func (o *Order) CheckTotal() error {
	if derived := o.ItemsTotal(); derived != o.TotalAmount {
		return fmt.Errorf("%w: total %d does not match item sum %d", ErrValidation, o.TotalAmount, derived)
	}
	return nil
}

// StatusChange is one step of an order's audit trail.
type StatusChange struct {
	OrderID   uuid.UUID `json:"order_id" db:"order_id"`
	Status    Status    `json:"status" db:"status"`
	ChangedAt time.Time `json:"changed_at" db:"changed_at"`
}

// StatusEvent is what the engine hands to the fan-out hub after a committed
// transition. Customer and restaurant ids are routing keys only.
type StatusEvent struct {
	OrderID      uuid.UUID `json:"order_id"`
	CustomerID   uuid.UUID `json:"customer_id"`
	RestaurantID uuid.UUID `json:"restaurant_id"`
	Status       Status    `json:"status"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// Recipe is the slice of the menu subsystem this service needs: enough to
// validate an order line and snapshot its price.
type Recipe struct {
	ID           uuid.UUID `json:"id" db:"id"`
	RestaurantID uuid.UUID `json:"restaurant_id" db:"restaurant_id"`
	Name         string    `json:"name" db:"name"`
	PriceCents   int64     `json:"price_cents" db:"price_cents"`
}
