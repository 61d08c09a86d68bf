package roles

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-commerce/meridian-admin/internal/perm"
	"github.com/meridian-commerce/meridian-admin/internal/shared"
)

// Repository provides PostgreSQL backed persistence for roles and their
// grants. Grants live in role_grants keyed by (role_id, section,
// subsection); the empty subsection row carries the section-level set.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ListRoles returns all roles with their grants.
func (r *Repository) ListRoles(ctx context.Context) ([]perm.Role, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name, description, is_super_admin, can_edit_permissions, created_at, updated_at
FROM roles ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []perm.Role
	index := make(map[int64]int)
	for rows.Next() {
		var role perm.Role
		if err := rows.Scan(&role.ID, &role.Name, &role.Description, &role.IsSuperAdmin, &role.CanEditPermissions, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, err
		}
		index[role.ID] = len(roles)
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	grants, err := r.loadGrants(ctx, nil)
	if err != nil {
		return nil, err
	}
	for roleID, sectionGrants := range grants {
		if i, ok := index[roleID]; ok {
			roles[i].Grants = sectionGrants
		}
	}
	return roles, nil
}

// GetRole fetches one role with its grants.
func (r *Repository) GetRole(ctx context.Context, id int64) (perm.Role, error) {
	var role perm.Role
	err := r.pool.QueryRow(ctx, `SELECT id, name, description, is_super_admin, can_edit_permissions, created_at, updated_at
FROM roles WHERE id = $1`, id).Scan(&role.ID, &role.Name, &role.Description, &role.IsSuperAdmin, &role.CanEditPermissions, &role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return perm.Role{}, shared.ErrNotFound
		}
		return perm.Role{}, err
	}
	grants, err := r.loadGrants(ctx, []int64{id})
	if err != nil {
		return perm.Role{}, err
	}
	role.Grants = grants[id]
	return role, nil
}

// GetRoleByName fetches one role with its grants by name.
func (r *Repository) GetRoleByName(ctx context.Context, name string) (perm.Role, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `SELECT id FROM roles WHERE name = $1`, name).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return perm.Role{}, shared.ErrNotFound
		}
		return perm.Role{}, err
	}
	return r.GetRole(ctx, id)
}

// ReplaceGrants atomically replaces the role's grant rows with the given
// array. The caller guarantees the array covers every declared section.
func (r *Repository) ReplaceGrants(ctx context.Context, roleID int64, grants []perm.SectionGrant) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `UPDATE roles SET updated_at = NOW() WHERE id = $1`, roleID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	if _, err := tx.Exec(ctx, `DELETE FROM role_grants WHERE role_id = $1`, roleID); err != nil {
		return err
	}
	for _, grant := range grants {
		if _, err := tx.Exec(ctx, `INSERT INTO role_grants (role_id, section, subsection, kinds) VALUES ($1, $2, '', $3)`,
			roleID, grant.Section, grant.Set.Strings()); err != nil {
			return err
		}
		for _, sub := range grant.SubGrants {
			if _, err := tx.Exec(ctx, `INSERT INTO role_grants (role_id, section, subsection, kinds) VALUES ($1, $2, $3, $4)`,
				roleID, grant.Section, sub.Subsection, sub.Set.Strings()); err != nil {
				return err
			}
		}
	}
	return tx.Commit(ctx)
}

func (r *Repository) loadGrants(ctx context.Context, roleIDs []int64) (map[int64][]perm.SectionGrant, error) {
	query := `SELECT role_id, section, subsection, kinds FROM role_grants ORDER BY role_id, section, subsection`
	args := []any{}
	if roleIDs != nil {
		query = `SELECT role_id, section, subsection, kinds FROM role_grants WHERE role_id = ANY($1) ORDER BY role_id, section, subsection`
		args = append(args, roleIDs)
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int64][]perm.SectionGrant)
	for rows.Next() {
		var (
			roleID     int64
			section    string
			subsection string
			kinds      []string
		)
		if err := rows.Scan(&roleID, &section, &subsection, &kinds); err != nil {
			return nil, err
		}
		set := perm.SetFromStrings(kinds)
		grants := out[roleID]
		idx := -1
		for i := range grants {
			if grants[i].Section == section {
				idx = i
				break
			}
		}
		if idx == -1 {
			grants = append(grants, perm.SectionGrant{Section: section, Set: perm.NewSet()})
			idx = len(grants) - 1
		}
		if subsection == "" {
			grants[idx].Set = set
		} else {
			grants[idx].SubGrants = append(grants[idx].SubGrants, perm.SubGrant{Subsection: subsection, Set: set})
		}
		out[roleID] = grants
	}
	return out, rows.Err()
}
