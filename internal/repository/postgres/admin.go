package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// AdminRepo answers whether a user holds the admin role.
type AdminRepo struct{ db *sql.DB }

// NewAdminRepo creates a Postgres-backed admin lookup.
func NewAdminRepo(db *sql.DB) *AdminRepo { return &AdminRepo{db: db} }

// IsAdmin reports whether userID has a row in admins.
func (r *AdminRepo) IsAdmin(ctx context.Context, userID string) (bool, error) {
	if _, err := uuid.Parse(userID); err != nil {
		return false, nil
	}
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM admins WHERE "user" = $1)`, userID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check admin: %w", err)
	}
	return exists, nil
}
