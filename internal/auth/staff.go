package auth

import (
	"context"
	"fmt"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgStaffDirectory answers staff-membership checks against the
// restaurant_memberships table. Membership management (invites, role
// changes) is owned by the accounts service; this is a read-only view.
type PgStaffDirectory struct {
	db *pgxpool.Pool
}

func NewPgStaffDirectory(db *pgxpool.Pool) *PgStaffDirectory {
	return &PgStaffDirectory{db: db}
}

// IsStaff reports whether the user holds any staff role (admin or
// employee) at the restaurant.
func (d *PgStaffDirectory) IsStaff(ctx context.Context, userID, restaurantID uuid.UUID) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM restaurant_memberships
			WHERE user_id = $1 AND restaurant_id = $2
		)
	`

	var staff bool
	if err := d.db.QueryRow(ctx, query, userID, restaurantID).Scan(&staff); err != nil {
		return false, fmt.Errorf("auth: failed to check staff membership: %w", err)
	}
	return staff, nil
}
