package auth

import (
	"context"
	"net/http"

	"github.com/meridian-commerce/meridian-admin/internal/perm"
	"github.com/meridian-commerce/meridian-admin/internal/platform/httpx"
	"github.com/meridian-commerce/meridian-admin/internal/shared"
)

// RoleProvider resolves a role by name so the gate can evaluate grants.
type RoleProvider interface {
	GetRoleByName(ctx context.Context, name string) (perm.Role, error)
}

// RequireActor blocks requests without an authenticated session.
func RequireActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if shared.ActorFromContext(r.Context()) == nil {
			httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "login required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Gate builds permission middleware bound to a role provider.
type Gate struct {
	roles RoleProvider
}

// NewGate constructs a Gate.
func NewGate(roles RoleProvider) *Gate {
	return &Gate{roles: roles}
}

// Require allows the request only when the actor's role grants the kind on
// the section. Super admins pass unconditionally inside Resolve.
func (g *Gate) Require(section string, kind perm.Kind) func(http.Handler) http.Handler {
	return g.RequireSub(section, "", kind)
}

// RequireSub is Require scoped to a subsection.
func (g *Gate) RequireSub(section, subsection string, kind perm.Kind) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor := shared.ActorFromContext(r.Context())
			if actor == nil {
				httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "login required")
				return
			}
			role, err := g.roles.GetRoleByName(r.Context(), actor.RoleName)
			if err != nil {
				httpx.Problem(w, http.StatusForbidden, "Forbidden", "role could not be resolved")
				return
			}
			if !perm.Resolve(role, nil, section, subsection, kind) {
				httpx.Problem(w, http.StatusForbidden, "Forbidden", "missing permission")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
