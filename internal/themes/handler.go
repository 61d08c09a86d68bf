package themes

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/meridian-commerce/meridian-admin/internal/auth"
	"github.com/meridian-commerce/meridian-admin/internal/perm"
	"github.com/meridian-commerce/meridian-admin/internal/platform/httpx"
	"github.com/meridian-commerce/meridian-admin/internal/shared"
	"github.com/meridian-commerce/meridian-admin/internal/verify"
)

// Handler exposes the theme catalog. Deletion follows the same gated shape
// as account mutations: no code opens a challenge, a code submits it.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	workflow *verify.Workflow
	registry *verify.Registry
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, workflow *verify.Workflow, registry *verify.Registry) *Handler {
	return &Handler{logger: logger, service: service, workflow: workflow, registry: registry}
}

// MountRoutes registers theme routes behind the permission gate.
func (h *Handler) MountRoutes(r chi.Router, gate *auth.Gate) {
	r.With(gate.Require(perm.SectionThemes, perm.KindView)).Get("/", h.list)
	r.With(gate.Require(perm.SectionThemes, perm.KindView)).Get("/{id}", h.get)
	r.With(gate.Require(perm.SectionThemes, perm.KindEdit)).Put("/{id}/activate", h.activate)
	r.With(gate.Require(perm.SectionThemes, perm.KindEdit)).Delete("/{id}", h.del)
}

type themeDTO struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Author   string `json:"author"`
	Version  string `json:"version"`
	IsActive bool   `json:"is_active"`
}

func toThemeDTO(t Theme) themeDTO {
	return themeDTO{ID: t.ID, Name: t.Name, Author: t.Author, Version: t.Version, IsActive: t.IsActive}
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.List(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}
	out := make([]themeDTO, len(list))
	for i, t := range list {
		out[i] = toThemeDTO(t)
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"themes": out})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.themeID(w, r)
	if !ok {
		return
	}
	t, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toThemeDTO(t))
}

func (h *Handler) activate(w http.ResponseWriter, r *http.Request) {
	id, ok := h.themeID(w, r)
	if !ok {
		return
	}
	t, err := h.service.Activate(r.Context(), shared.ActorFromContext(r.Context()), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toThemeDTO(t))
}

type deleteRequest struct {
	Code string `json:"code"`
}

func (h *Handler) del(w http.ResponseWriter, r *http.Request) {
	id, ok := h.themeID(w, r)
	if !ok {
		return
	}
	var req deleteRequest
	if err := httpx.DecodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	sess := shared.SessionFromContext(r.Context())
	if sess == nil || sess.User() == "" {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "login required")
		return
	}
	actor := shared.ActorFromContext(r.Context())
	raw, err := json.Marshal(DeletePayload{ActorID: actor.UserID, ThemeID: id})
	if err != nil {
		h.respondError(w, err)
		return
	}

	if req.Code == "" {
		current, err := h.workflow.Current(r.Context(), sess.ID)
		if err != nil {
			h.respondError(w, err)
			return
		}
		if current == nil {
			if _, err := h.workflow.Initiate(r.Context(), sess.ID, ActionDelete, raw); err != nil {
				h.respondError(w, err)
				return
			}
		} else if current.Action != ActionDelete || !bytes.Equal(current.Payload, raw) {
			h.respondError(w, verify.ErrChallengeActive)
			return
		}
		h.respondError(w, fmt.Errorf("%w: request a code and repeat the call with it", httpx.ErrCodeRequired))
		return
	}

	// Check the match before submitting so a call aimed at the wrong
	// target does not redeem the code.
	current, err := h.workflow.Current(r.Context(), sess.ID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	if current == nil {
		h.respondError(w, verify.ErrNoChallenge)
		return
	}
	if current.Action != ActionDelete || !bytes.Equal(current.Payload, raw) {
		h.respondError(w, verify.ErrChallengeActive)
		return
	}

	err = h.workflow.Submit(r.Context(), sess.ID, req.Code, func(ctx context.Context, stored json.RawMessage, redeemed string) error {
		return h.registry.Commit(ctx, ActionDelete, stored, redeemed)
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) themeID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid theme id")
		return 0, false
	}
	return id, true
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, shared.ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", "theme not found")
	case errors.Is(err, ErrThemeActive):
		httpx.Problem(w, http.StatusConflict, "Theme Active", err.Error())
	case errors.Is(err, verify.ErrChallengeActive):
		httpx.Problem(w, http.StatusConflict, "Challenge Active", err.Error())
	case errors.Is(err, verify.ErrNoChallenge):
		httpx.Problem(w, http.StatusConflict, "No Challenge", "no pending confirmation; repeat the call without a code first")
	case errors.Is(err, verify.ErrCodeMalformed), errors.Is(err, verify.ErrCodeInvalid):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Code Rejected", err.Error())
	case errors.Is(err, verify.ErrInvalidState):
		httpx.Problem(w, http.StatusConflict, "Invalid State", err.Error())
	case errors.Is(err, httpx.ErrCodeRequired):
		httpx.RespondError(w, err)
	default:
		h.logger.Error("themes request failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
