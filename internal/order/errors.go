package order

import (
	"errors"
	"fmt"
)

var (
	ErrOrderNotFound  = errors.New("order not found")
	ErrRecipeNotFound = errors.New("recipe not found")

	// ErrValidation covers malformed input: empty item lists, non-positive
	// quantities, recipes from another restaurant.
	ErrValidation = errors.New("validation failed")

	// ErrForbidden means the actor is not allowed to perform the operation.
	// It is never retried.
	ErrForbidden = errors.New("forbidden")

	// ErrInvalidTransition means the requested status change is not an edge
	// of the lifecycle graph from the order's current status.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrStatusConflict means a compare-and-swap update lost a race with a
	// concurrent transition. The engine retries once internally; callers
	// that still see it should re-fetch and decide again.
	ErrStatusConflict = errors.New("order status changed concurrently")
)

func invalidTransition(from, to Status) error {
	return fmt.Errorf("%w: cannot go from %s to %s", ErrInvalidTransition, from, to)
}
