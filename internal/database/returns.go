package database

import (
	"context"
	"fmt"

	"dockwave-backend/internal/models"

	"github.com/jmoiron/sqlx"
)

// ReturnRegistry is the package-return registry on the primary database
type ReturnRegistry struct {
	db *sqlx.DB
}

// NewReturnRegistry creates a registry over db
func NewReturnRegistry(db *sqlx.DB) *ReturnRegistry {
	return &ReturnRegistry{db: db}
}

// Claim inserts the registration unless the package id is already taken
func (r *ReturnRegistry) Claim(ctx context.Context, ret models.PackageReturn) (bool, error) {
	res, err := r.db.NamedExecContext(ctx, `
		INSERT INTO package_returns (package_id, driver_id, shift_id, registered_at)
		VALUES (:package_id, :driver_id, :shift_id, :registered_at)
		ON CONFLICT (package_id) DO NOTHING
	`, ret)
	if err != nil {
		return false, fmt.Errorf("failed to claim package %s: %w", ret.PackageID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *ReturnRegistry) ListByShift(ctx context.Context, shiftID string) ([]models.PackageReturn, error) {
	list := []models.PackageReturn{}
	err := r.db.SelectContext(ctx, &list, `
		SELECT package_id, driver_id, shift_id, registered_at
		FROM package_returns WHERE shift_id = $1
		ORDER BY registered_at, package_id
	`, shiftID)
	if err != nil {
		return nil, fmt.Errorf("failed to list package returns: %w", err)
	}
	return list, nil
}
