package themes

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-commerce/meridian-admin/internal/shared"
)

// Repository provides PostgreSQL backed theme catalog access.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const themeColumns = `id, name, author, version, is_active, created_at, updated_at`

// List returns the theme catalog, active theme first.
func (r *Repository) List(ctx context.Context) ([]Theme, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+themeColumns+` FROM themes ORDER BY is_active DESC, lower(name)`)
	if err != nil {
		return nil, fmt.Errorf("list themes: %w", err)
	}
	defer rows.Close()

	var out []Theme
	for rows.Next() {
		var t Theme
		if err := rows.Scan(&t.ID, &t.Name, &t.Author, &t.Version, &t.IsActive, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Get fetches one theme.
func (r *Repository) Get(ctx context.Context, id int64) (Theme, error) {
	var t Theme
	err := r.pool.QueryRow(ctx, `SELECT `+themeColumns+` FROM themes WHERE id = $1`, id).
		Scan(&t.ID, &t.Name, &t.Author, &t.Version, &t.IsActive, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Theme{}, shared.ErrNotFound
		}
		return Theme{}, err
	}
	return t, nil
}

// Activate makes the theme current and retires the previous one in the same
// transaction.
func (r *Repository) Activate(ctx context.Context, id int64) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin activate: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `UPDATE themes SET is_active = FALSE, updated_at = NOW() WHERE is_active`); err != nil {
		return fmt.Errorf("retire active theme: %w", err)
	}
	tag, err := tx.Exec(ctx, `UPDATE themes SET is_active = TRUE, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("activate theme: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return tx.Commit(ctx)
}

// Delete removes the theme record. The active theme cannot be removed.
func (r *Repository) Delete(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM themes WHERE id = $1 AND NOT is_active`, id)
	if err != nil {
		return fmt.Errorf("delete theme: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Either missing or still active; the caller distinguishes via Get.
		if _, getErr := r.Get(ctx, id); getErr != nil {
			return getErr
		}
		return ErrThemeActive
	}
	return nil
}
