package themes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/meridian-commerce/meridian-admin/internal/shared"
	"github.com/meridian-commerce/meridian-admin/internal/verify"
)

// ErrThemeActive is returned when a delete targets the active theme.
var ErrThemeActive = errors.New("active theme cannot be removed")

// RepositoryPort defines data access methods for the theme catalog.
type RepositoryPort interface {
	List(ctx context.Context) ([]Theme, error)
	Get(ctx context.Context, id int64) (Theme, error)
	Activate(ctx context.Context, id int64) error
	Delete(ctx context.Context, id int64) error
}

// AuditRecorder persists audit entries for theme mutations.
type AuditRecorder interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service handles the theme catalog. Deletion is committed only through the
// verified workflow; activation is a plain permissioned write.
type Service struct {
	repo   RepositoryPort
	audit  AuditRecorder
	logger *slog.Logger
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, audit AuditRecorder, logger *slog.Logger) *Service {
	return &Service{repo: repo, audit: audit, logger: logger}
}

// List returns the theme catalog.
func (s *Service) List(ctx context.Context) ([]Theme, error) {
	return s.repo.List(ctx)
}

// Get fetches one theme.
func (s *Service) Get(ctx context.Context, id int64) (Theme, error) {
	return s.repo.Get(ctx, id)
}

// Activate switches the current theme.
func (s *Service) Activate(ctx context.Context, actor *shared.Actor, id int64) (Theme, error) {
	if err := s.repo.Activate(ctx, id); err != nil {
		return Theme{}, err
	}
	if s.audit != nil && actor != nil {
		if err := s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actor.UserID,
			Action:   "theme.activate",
			Entity:   "theme",
			EntityID: fmt.Sprintf("%d", id),
		}); err != nil {
			s.logger.Warn("audit theme activate", slog.Any("error", err))
		}
	}
	return s.repo.Get(ctx, id)
}

// DeletePayload is the challenge payload for ActionDelete.
type DeletePayload struct {
	ActorID int64 `json:"actor_id"`
	ThemeID int64 `json:"theme_id"`
}

// RegisterCommits binds theme deletion to the verified workflow.
func (s *Service) RegisterCommits(reg *verify.Registry) {
	reg.Register(ActionDelete, s.commitDelete)
}

func (s *Service) commitDelete(ctx context.Context, raw json.RawMessage, _ string) error {
	var p DeletePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return fmt.Errorf("decode delete payload: %w", err)
	}
	if err := s.repo.Delete(ctx, p.ThemeID); err != nil {
		return err
	}
	if s.audit != nil {
		if err := s.audit.Record(ctx, shared.AuditLog{
			ActorID:  p.ActorID,
			Action:   ActionDelete,
			Entity:   "theme",
			EntityID: fmt.Sprintf("%d", p.ThemeID),
			Meta:     map[string]any{"code_gated": true},
		}); err != nil {
			s.logger.Warn("audit theme delete", slog.Any("error", err))
		}
	}
	return nil
}
