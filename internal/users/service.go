package users

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/meridian-commerce/meridian-admin/internal/shared"
	"github.com/meridian-commerce/meridian-admin/internal/verify"
)

// RepositoryPort defines data access methods for managed accounts.
type RepositoryPort interface {
	List(ctx context.Context) ([]User, error)
	Get(ctx context.Context, id int64) (User, error)
	Update(ctx context.Context, id int64, in UpdateInput) error
	Delete(ctx context.Context, id int64) error
	SetStatus(ctx context.Context, id int64, active bool) error
}

// AuditRecorder persists audit entries for account mutations.
type AuditRecorder interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service handles account listing and the code-gated mutations. Writes never
// run directly: each is committed through the verified workflow.
type Service struct {
	repo   RepositoryPort
	audit  AuditRecorder
	logger *slog.Logger
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, audit AuditRecorder, logger *slog.Logger) *Service {
	return &Service{repo: repo, audit: audit, logger: logger}
}

// List returns all managed accounts.
func (s *Service) List(ctx context.Context) ([]User, error) {
	return s.repo.List(ctx)
}

// Get fetches one account.
func (s *Service) Get(ctx context.Context, id int64) (User, error) {
	return s.repo.Get(ctx, id)
}

// UpdatePayload is the challenge payload for ActionUpdate.
type UpdatePayload struct {
	ActorID int64  `json:"actor_id"`
	UserID  int64  `json:"user_id"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	RoleID  int64  `json:"role_id"`
}

// DeletePayload is the challenge payload for ActionDelete.
type DeletePayload struct {
	ActorID int64 `json:"actor_id"`
	UserID  int64 `json:"user_id"`
}

// StatusPayload is the challenge payload for ActionStatus.
type StatusPayload struct {
	ActorID int64 `json:"actor_id"`
	UserID  int64 `json:"user_id"`
	Active  bool  `json:"active"`
}

// RegisterCommits binds the account mutations to the verified workflow. The
// code argument is already redeemed by the authority when a commit runs.
func (s *Service) RegisterCommits(reg *verify.Registry) {
	reg.Register(ActionUpdate, s.commitUpdate)
	reg.Register(ActionDelete, s.commitDelete)
	reg.Register(ActionStatus, s.commitStatus)
}

func (s *Service) commitUpdate(ctx context.Context, raw json.RawMessage, _ string) error {
	var p UpdatePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return fmt.Errorf("decode update payload: %w", err)
	}
	if err := s.repo.Update(ctx, p.UserID, UpdateInput{Email: p.Email, Name: p.Name, RoleID: p.RoleID}); err != nil {
		return err
	}
	s.record(ctx, p.ActorID, ActionUpdate, p.UserID)
	return nil
}

func (s *Service) commitDelete(ctx context.Context, raw json.RawMessage, _ string) error {
	var p DeletePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return fmt.Errorf("decode delete payload: %w", err)
	}
	if err := s.repo.Delete(ctx, p.UserID); err != nil {
		return err
	}
	s.record(ctx, p.ActorID, ActionDelete, p.UserID)
	return nil
}

func (s *Service) commitStatus(ctx context.Context, raw json.RawMessage, _ string) error {
	var p StatusPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return fmt.Errorf("decode status payload: %w", err)
	}
	if err := s.repo.SetStatus(ctx, p.UserID, p.Active); err != nil {
		return err
	}
	s.record(ctx, p.ActorID, ActionStatus, p.UserID)
	return nil
}

func (s *Service) record(ctx context.Context, actorID int64, action string, userID int64) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "user",
		EntityID: fmt.Sprintf("%d", userID),
		Meta:     map[string]any{"code_gated": true},
	})
	if err != nil {
		s.logger.Warn("audit user mutation", slog.String("action", action), slog.Any("error", err))
	}
}
