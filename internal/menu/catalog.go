package menu

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vasiliy-maslov/restaurant-orders/internal/order"
)

// Catalog is the read-only view of the menu subsystem the order flow
// needs. Recipe CRUD is owned by another service; this only resolves a
// recipe's restaurant and current price.
type Catalog struct {
	db *pgxpool.Pool
}

func NewCatalog(db *pgxpool.Pool) *Catalog {
	return &Catalog{db: db}
}

func (c *Catalog) Recipe(ctx context.Context, id uuid.UUID) (*order.Recipe, error) {
	query := `
		SELECT id, restaurant_id, name, price_cents
		FROM recipes
		WHERE id = $1
	`

	var recipe order.Recipe
	err := c.db.QueryRow(ctx, query, id).Scan(
		&recipe.ID,
		&recipe.RestaurantID,
		&recipe.Name,
		&recipe.PriceCents,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrRecipeNotFound
		}
		return nil, fmt.Errorf("menu: failed to select recipe %s: %w", id, err)
	}
	return &recipe, nil
}
