package auth

import (
	"context"

	"golang.org/x/crypto/bcrypt"

	"github.com/meridian-commerce/meridian-admin/internal/shared"
)

// Service wraps authentication business rules.
type Service struct {
	repo Repository
}

// NewService constructs a new Service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Authenticate validates email/password credentials.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*User, error) {
	user, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		return nil, shared.ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, shared.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, shared.ErrInvalidCredentials
	}
	return user, nil
}

// ActorFor maps an authenticated account to the session actor: the role
// context the authorization core reads but never writes.
func ActorFor(user *User) shared.Actor {
	return shared.Actor{
		UserID:             user.ID,
		Email:              user.Email,
		RoleID:             user.RoleID,
		RoleName:           user.RoleName,
		IsSuperAdmin:       user.IsSuperAdmin,
		CanEditPermissions: user.CanEditPerms,
	}
}
