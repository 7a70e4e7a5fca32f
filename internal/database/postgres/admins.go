package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kozaktomas/face-attendance/internal/database"
)

// AdminRepository stores operator accounts.
type AdminRepository struct {
	pool *Pool
}

// NewAdminRepository creates a new PostgreSQL admin repository.
func NewAdminRepository(pool *Pool) *AdminRepository {
	return &AdminRepository{pool: pool}
}

// GetAdmin retrieves an admin by username.
func (r *AdminRepository) GetAdmin(ctx context.Context, username string) (*database.Admin, error) {
	var a database.Admin
	err := r.pool.QueryRow(ctx,
		"SELECT id, username, password_hash, created_at FROM admins WHERE username = $1", username,
	).Scan(&a.ID, &a.Username, &a.PasswordHash, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("admin %q: %w", username, database.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get admin: %w", err)
	}
	return &a, nil
}

// CreateAdmin inserts a new admin.
func (r *AdminRepository) CreateAdmin(ctx context.Context, username, passwordHash string) (*database.Admin, error) {
	a := database.Admin{Username: username, PasswordHash: passwordHash}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO admins (username, password_hash) VALUES ($1, $2)
		RETURNING id, created_at
	`, username, passwordHash).Scan(&a.ID, &a.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create admin: %w", mapError(err))
	}
	return &a, nil
}

// SetPassword replaces the password hash of an admin.
func (r *AdminRepository) SetPassword(ctx context.Context, username, passwordHash string) error {
	result, err := r.pool.Exec(ctx, "UPDATE admins SET password_hash = $2 WHERE username = $1", username, passwordHash)
	if err != nil {
		return fmt.Errorf("set password: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("admin %q: %w", username, database.ErrNotFound)
	}
	return nil
}
