package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

type Repository interface {
	Create(ctx context.Context, ord *Order) error
	GetByID(ctx context.Context, id uuid.UUID) (*Order, error)
	ListByCustomer(ctx context.Context, customerID uuid.UUID) ([]Order, error)
	ListByRestaurant(ctx context.Context, restaurantID uuid.UUID, statusFilter *Status) ([]Order, error)

	// UpdateStatusCAS applies a compare-and-swap status update: it succeeds
	// only if the persisted status still equals from at write time, and
	// returns ErrStatusConflict otherwise. This is the sole concurrency
	// control for order mutation.
	UpdateStatusCAS(ctx context.Context, id uuid.UUID, from, to Status, at time.Time) error

	StatusHistory(ctx context.Context, id uuid.UUID) ([]StatusChange, error)
	ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]Order, error)
}

type postgresRepository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &postgresRepository{db: db}
}

func (r *postgresRepository) Create(ctx context.Context, ord *Order) error {
	if len(ord.Items) == 0 {
		return fmt.Errorf("%w: order has no items", ErrValidation)
	}
	// The service validates before it gets here; re-check the money math as
	// a last line of defence before anything is persisted.
	if err := ord.CheckTotal(); err != nil {
		return err
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("repository: failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()
	ord.CreatedAt = now
	ord.UpdatedAt = now

	queryOrder := `
		INSERT INTO orders (id, customer_id, restaurant_id, status, total_amount_cents, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err = tx.Exec(ctx, queryOrder,
		ord.ID,
		ord.CustomerID,
		ord.RestaurantID,
		string(ord.Status),
		ord.TotalAmount,
		ord.Notes,
		ord.CreatedAt,
		ord.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("repository: failed to insert order: %w", err)
	}

	queryItem := `
		INSERT INTO order_items (id, order_id, recipe_id, quantity, unit_price_cents, notes)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	for i := range ord.Items {
		item := &ord.Items[i]

		if item.ID == uuid.Nil {
			itemID, genErr := uuid.NewV4()
			if genErr != nil {
				return fmt.Errorf("repository: failed to generate order item ID: %w", genErr)
			}
			item.ID = itemID
		}
		item.OrderID = ord.ID

		_, err = tx.Exec(ctx, queryItem,
			item.ID,
			item.OrderID,
			item.RecipeID,
			item.Quantity,
			item.UnitPrice,
			item.Notes,
		)
		if err != nil {
			return fmt.Errorf("repository: failed to insert order item for order %s: %w", ord.ID, err)
		}
	}

	if err := insertStatusChange(ctx, tx, ord.ID, ord.Status, now); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("repository: failed to commit transaction: %w", err)
	}
	return nil
}

func (r *postgresRepository) GetByID(ctx context.Context, id uuid.UUID) (*Order, error) {
	queryOrder := `
		SELECT id, customer_id, restaurant_id, status, total_amount_cents, notes, created_at, updated_at
		FROM orders
		WHERE id = $1
	`

	var ord Order
	err := r.db.QueryRow(ctx, queryOrder, id).Scan(
		&ord.ID,
		&ord.CustomerID,
		&ord.RestaurantID,
		&ord.Status,
		&ord.TotalAmount,
		&ord.Notes,
		&ord.CreatedAt,
		&ord.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("repository: failed to select order by id %s: %w", id, err)
	}

	items, err := r.loadItems(ctx, []uuid.UUID{id})
	if err != nil {
		return nil, err
	}
	ord.Items = items[id]
	if ord.Items == nil {
		ord.Items = []OrderItem{}
	}

	return &ord, nil
}

func (r *postgresRepository) ListByCustomer(ctx context.Context, customerID uuid.UUID) ([]Order, error) {
	query := `
		SELECT id, customer_id, restaurant_id, status, total_amount_cents, notes, created_at, updated_at
		FROM orders
		WHERE customer_id = $1
		ORDER BY created_at DESC
	`
	return r.listOrders(ctx, query, customerID)
}

func (r *postgresRepository) ListByRestaurant(ctx context.Context, restaurantID uuid.UUID, statusFilter *Status) ([]Order, error) {
	if statusFilter != nil {
		query := `
			SELECT id, customer_id, restaurant_id, status, total_amount_cents, notes, created_at, updated_at
			FROM orders
			WHERE restaurant_id = $1 AND status = $2
			ORDER BY created_at DESC
		`
		return r.listOrders(ctx, query, restaurantID, string(*statusFilter))
	}

	query := `
		SELECT id, customer_id, restaurant_id, status, total_amount_cents, notes, created_at, updated_at
		FROM orders
		WHERE restaurant_id = $1
		ORDER BY created_at DESC
	`
	return r.listOrders(ctx, query, restaurantID)
}

func (r *postgresRepository) listOrders(ctx context.Context, query string, args ...any) ([]Order, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query orders: %w", err)
	}
	defer rows.Close()

	ordersMap := make(map[uuid.UUID]*Order)
	var orderIDs []uuid.UUID

	for rows.Next() {
		var ord Order
		err := rows.Scan(
			&ord.ID,
			&ord.CustomerID,
			&ord.RestaurantID,
			&ord.Status,
			&ord.TotalAmount,
			&ord.Notes,
			&ord.CreatedAt,
			&ord.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("repository: failed to scan order: %w", err)
		}
		ord.Items = []OrderItem{}
		ordersMap[ord.ID] = &ord
		orderIDs = append(orderIDs, ord.ID)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating orders: %w", err)
	}

	if len(orderIDs) == 0 {
		return []Order{}, nil
	}

	items, err := r.loadItems(ctx, orderIDs)
	if err != nil {
		return nil, err
	}
	for orderID, orderItems := range items {
		if ord, ok := ordersMap[orderID]; ok {
			ord.Items = orderItems
		}
	}

	result := make([]Order, 0, len(orderIDs))
	for _, id := range orderIDs {
		result = append(result, *ordersMap[id])
	}
	return result, nil
}

func (r *postgresRepository) loadItems(ctx context.Context, orderIDs []uuid.UUID) (map[uuid.UUID][]OrderItem, error) {
	query := `
		SELECT id, order_id, recipe_id, quantity, unit_price_cents, notes
		FROM order_items
		WHERE order_id = ANY($1)
	`
	rows, err := r.db.Query(ctx, query, orderIDs)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query order items: %w", err)
	}
	defer rows.Close()

	items := make(map[uuid.UUID][]OrderItem)
	for rows.Next() {
		var item OrderItem
		err := rows.Scan(
			&item.ID,
			&item.OrderID,
			&item.RecipeID,
			&item.Quantity,
			&item.UnitPrice,
			&item.Notes,
		)
		if err != nil {
			return nil, fmt.Errorf("repository: failed to scan order item: %w", err)
		}
		items[item.OrderID] = append(items[item.OrderID], item)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating order items: %w", err)
	}
	return items, nil
}

func (r *postgresRepository) UpdateStatusCAS(ctx context.Context, id uuid.UUID, from, to Status, at time.Time) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("repository: failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		UPDATE orders
		SET status = $1, updated_at = $2
		WHERE id = $3 AND status = $4
	`
	cmdTag, err := tx.Exec(ctx, query, string(to), at, id, string(from))
	if err != nil {
		return fmt.Errorf("repository: failed to update order status %s: %w", id, err)
	}

	if cmdTag.RowsAffected() == 0 {
		// Either the order does not exist or its status moved under us.
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, id).Scan(&exists); err != nil {
			return fmt.Errorf("repository: failed to check order existence %s: %w", id, err)
		}
		if !exists {
			return ErrOrderNotFound
		}
		log.Warn().Stringer("order_id", id).Str("expected_status", string(from)).Str("new_status", string(to)).
			Msg("repository: compare-and-swap lost a concurrent status race")
		return ErrStatusConflict
	}

	if err := insertStatusChange(ctx, tx, id, to, at); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("repository: failed to commit transaction: %w", err)
	}
	return nil
}

func (r *postgresRepository) StatusHistory(ctx context.Context, id uuid.UUID) ([]StatusChange, error) {
	query := `
		SELECT order_id, status, changed_at
		FROM order_status_history
		WHERE order_id = $1
		ORDER BY changed_at ASC, id ASC
	`
	rows, err := r.db.Query(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query status history for order %s: %w", id, err)
	}
	defer rows.Close()

	history := make([]StatusChange, 0)
	for rows.Next() {
		var change StatusChange
		if err := rows.Scan(&change.OrderID, &change.Status, &change.ChangedAt); err != nil {
			return nil, fmt.Errorf("repository: failed to scan status change for order %s: %w", id, err)
		}
		history = append(history, change)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating status history for order %s: %w", id, err)
	}
	return history, nil
}

func (r *postgresRepository) ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]Order, error) {
	query := `
		SELECT id, customer_id, restaurant_id, status, total_amount_cents, notes, created_at, updated_at
		FROM orders
		WHERE status = $1 AND created_at < $2
		ORDER BY created_at ASC
		LIMIT $3
	`
	return r.listOrders(ctx, query, string(StatusPending), olderThan, limit)
}

func insertStatusChange(ctx context.Context, tx pgx.Tx, orderID uuid.UUID, status Status, at time.Time) error {
	query := `
		INSERT INTO order_status_history (order_id, status, changed_at)
		VALUES ($1, $2, $3)
	`
	if _, err := tx.Exec(ctx, query, orderID, string(status), at); err != nil {
		return fmt.Errorf("repository: failed to insert status change for order %s: %w", orderID, err)
	}
	return nil
}
