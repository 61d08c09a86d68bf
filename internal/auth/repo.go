package auth

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-commerce/meridian-admin/internal/shared"
)

// Repository defines the persistence surface the auth service needs.
type Repository interface {
	FindByEmail(ctx context.Context, email string) (*User, error)
}

// PGRepository provides PostgreSQL backed account lookup. The role flags
// are resolved in the same query so the actor context is built from one
// consistent read.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PGRepository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// FindByEmail fetches the operator account with its role flags.
func (r *PGRepository) FindByEmail(ctx context.Context, email string) (*User, error) {
	var u User
	err := r.pool.QueryRow(ctx, `SELECT u.id, u.email, u.name, u.password_hash, u.is_active, u.role_id,
       r.name, r.is_super_admin, r.can_edit_permissions, u.created_at
FROM users u JOIN roles r ON r.id = u.role_id
WHERE lower(u.email) = lower($1)`, email).Scan(
		&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.IsActive, &u.RoleID,
		&u.RoleName, &u.IsSuperAdmin, &u.CanEditPerms, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}
