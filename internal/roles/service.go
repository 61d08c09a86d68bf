package roles

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"golang.org/x/sync/singleflight"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/meridian-commerce/meridian-admin/internal/perm"
	"github.com/meridian-commerce/meridian-admin/internal/platform/httpx"
	"github.com/meridian-commerce/meridian-admin/internal/shared"
	"github.com/meridian-commerce/meridian-admin/internal/staged"
)

// RepositoryPort defines data access methods for roles.
type RepositoryPort interface {
	ListRoles(ctx context.Context) ([]perm.Role, error)
	GetRole(ctx context.Context, id int64) (perm.Role, error)
	GetRoleByName(ctx context.Context, name string) (perm.Role, error)
	ReplaceGrants(ctx context.Context, roleID int64, grants []perm.SectionGrant) error
}

// AuditRecorder persists audit entries for permission saves.
type AuditRecorder interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service handles role permission editing: editor sessions, staged toggles,
// and atomic saves.
type Service struct {
	repo    RepositoryPort
	manager *staged.Manager
	audit   AuditRecorder
	logger  *slog.Logger
	saves   singleflight.Group
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, manager *staged.Manager, audit AuditRecorder, logger *slog.Logger) *Service {
	return &Service{repo: repo, manager: manager, audit: audit, logger: logger}
}

// ListRoles returns all roles ordered by collated name.
func (s *Service) ListRoles(ctx context.Context) ([]perm.Role, error) {
	roles, err := s.repo.ListRoles(ctx)
	if err != nil {
		return nil, err
	}
	c := collate.New(language.English, collate.IgnoreCase)
	sort.SliceStable(roles, func(i, j int) bool {
		return c.CompareString(roles[i].Name, roles[j].Name) < 0
	})
	return roles, nil
}

// GetRole fetches one role.
func (s *Service) GetRole(ctx context.Context, id int64) (perm.Role, error) {
	return s.repo.GetRole(ctx, id)
}

// GetRoleByName fetches one role by name.
func (s *Service) GetRoleByName(ctx context.Context, name string) (perm.Role, error) {
	return s.repo.GetRoleByName(ctx, name)
}

// OpenEditor starts (or resumes) an editing session for the role. With
// unsaved changes for a different role open, the call fails unless discard
// is set; two roles' pending maps are never merged.
func (s *Service) OpenEditor(ctx context.Context, sessionID string, roleID int64, discard bool) (perm.Role, *staged.PendingChangeSet, error) {
	role, err := s.repo.GetRole(ctx, roleID)
	if err != nil {
		return perm.Role{}, nil, err
	}
	pending, err := s.manager.Open(ctx, sessionID, roleID, discard)
	if err != nil {
		return perm.Role{}, nil, err
	}
	return role, pending, nil
}

// Toggle flips one permission kind for the role's (section, subsection) and
// stages the outcome. The base set is the one the console displays: staged
// value first, then the persisted grant with subsection inheritance.
//
// Callers lacking CanEditPermissions, and super-admin target roles, get a
// no-op: the returned set is the unchanged effective set. The console
// renders those controls disabled; a stale call is absorbed here.
func (s *Service) Toggle(ctx context.Context, sessionID string, actor *shared.Actor, roleID int64, section, subsection string, kind perm.Kind) (perm.Set, bool, error) {
	role, err := s.repo.GetRole(ctx, roleID)
	if err != nil {
		return nil, false, err
	}
	pending, err := s.manager.Get(ctx, sessionID)
	if err != nil {
		return nil, false, err
	}

	current, ok := perm.EffectiveSet(role, pending, section, subsection)
	if !ok {
		current = perm.NewSet()
	}

	if actor == nil || !actor.CanEditPermissions {
		s.logger.Warn("toggle denied", slog.Int64("role_id", roleID), slog.String("section", section))
		return current, false, nil
	}
	if role.IsSuperAdmin {
		// Super-admin permissions are derived unconditionally; their grants
		// are bookkeeping and never a toggle target.
		return current, false, nil
	}
	if !perm.Declares(section, subsection) {
		return nil, false, fmt.Errorf("%w: unknown section or subsection", httpx.ErrValidation)
	}

	next, changed := perm.Toggle(current, kind)
	if !changed {
		return current, false, nil
	}
	if err := s.manager.Stage(ctx, sessionID, roleID, section, subsection, next); err != nil {
		return nil, false, err
	}
	return next, true, nil
}

// HasPendingChanges reports whether the session holds staged changes for
// the role.
func (s *Service) HasPendingChanges(ctx context.Context, sessionID string, roleID int64) (bool, error) {
	return s.manager.HasPendingChanges(ctx, sessionID, roleID)
}

// Save commits the session's staged changes atomically. Concurrent saves
// for the same session coalesce into one; a failed save leaves the pending
// state intact so the operator can retry without re-entering changes. On
// success the pending state is cleared and the refreshed role returned;
// postgres stays the only source of truth.
func (s *Service) Save(ctx context.Context, sessionID string, actor *shared.Actor, roleID int64) (perm.Role, error) {
	result, err, _ := s.saves.Do(sessionID, func() (any, error) {
		return s.save(ctx, sessionID, actor, roleID)
	})
	if err != nil {
		return perm.Role{}, err
	}
	return result.(perm.Role), nil
}

func (s *Service) save(ctx context.Context, sessionID string, actor *shared.Actor, roleID int64) (perm.Role, error) {
	if actor == nil || !actor.CanEditPermissions {
		return perm.Role{}, shared.ErrUnauthorized
	}
	pending, err := s.manager.Get(ctx, sessionID)
	if err != nil {
		return perm.Role{}, err
	}
	if pending == nil || pending.RoleID != roleID {
		return perm.Role{}, staged.ErrNoEditorSession
	}
	role, err := s.repo.GetRole(ctx, roleID)
	if err != nil {
		return perm.Role{}, err
	}
	if role.IsSuperAdmin {
		return perm.Role{}, shared.ErrUnauthorized
	}

	request := staged.BuildSaveRequest(pending, role)
	if err := s.repo.ReplaceGrants(ctx, roleID, request); err != nil {
		// Pending state deliberately untouched: the operator retries.
		return perm.Role{}, err
	}
	if err := s.manager.ClearCommitted(ctx, sessionID, roleID); err != nil {
		s.logger.Warn("clear committed pending state", slog.Any("error", err))
	}
	if s.audit != nil {
		if err := s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actor.UserID,
			Action:   "permissions.save",
			Entity:   "role",
			EntityID: fmt.Sprintf("%d", roleID),
		}); err != nil {
			s.logger.Warn("audit permissions save", slog.Any("error", err))
		}
	}
	return s.repo.GetRole(ctx, roleID)
}

// ReplacePermissions applies a full grant array directly, bypassing the
// editor session. The array must cover every declared section exactly once.
func (s *Service) ReplacePermissions(ctx context.Context, actor *shared.Actor, roleID int64, grants []perm.SectionGrant) (perm.Role, error) {
	if actor == nil || !actor.CanEditPermissions {
		return perm.Role{}, shared.ErrUnauthorized
	}
	role, err := s.repo.GetRole(ctx, roleID)
	if err != nil {
		return perm.Role{}, err
	}
	if role.IsSuperAdmin {
		return perm.Role{}, shared.ErrUnauthorized
	}
	if err := perm.ValidateCoverage(grants); err != nil {
		return perm.Role{}, fmt.Errorf("%w: %s", httpx.ErrValidation, err)
	}
	for i := range grants {
		grants[i].Set = grants[i].Set.Clone().Normalize()
		for j := range grants[i].SubGrants {
			grants[i].SubGrants[j].Set = grants[i].SubGrants[j].Set.Clone().Normalize()
		}
	}
	if err := s.repo.ReplaceGrants(ctx, roleID, grants); err != nil {
		return perm.Role{}, err
	}
	if s.audit != nil {
		if err := s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actor.UserID,
			Action:   "permissions.replace",
			Entity:   "role",
			EntityID: fmt.Sprintf("%d", roleID),
		}); err != nil {
			s.logger.Warn("audit permissions replace", slog.Any("error", err))
		}
	}
	return s.repo.GetRole(ctx, roleID)
}

// Cancel discards the session's whole pending state for the role.
func (s *Service) Cancel(ctx context.Context, sessionID string, roleID int64) error {
	return s.manager.Cancel(ctx, sessionID, roleID)
}
