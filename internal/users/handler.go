package users

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
	"github.com/go-playground/validator/v10"

	"github.com/meridian-commerce/meridian-admin/internal/auth"
	"github.com/meridian-commerce/meridian-admin/internal/perm"
	"github.com/meridian-commerce/meridian-admin/internal/platform/httpx"
	"github.com/meridian-commerce/meridian-admin/internal/shared"
	"github.com/meridian-commerce/meridian-admin/internal/verify"
)

// Handler exposes account listing and the code-gated mutations. A mutation
// call without a code opens (or reuses) a challenge and answers with the
// distinguished code-required error; the same call with a code submits it.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	workflow *verify.Workflow
	registry *verify.Registry
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, workflow *verify.Workflow, registry *verify.Registry) *Handler {
	return &Handler{logger: logger, service: service, workflow: workflow, registry: registry, validate: validator.New()}
}

// MountRoutes registers user routes behind the permission gate.
func (h *Handler) MountRoutes(r chi.Router, gate *auth.Gate) {
	r.With(gate.Require(perm.SectionUsers, perm.KindView)).Get("/", h.list)
	r.With(gate.Require(perm.SectionUsers, perm.KindView)).Get("/{id}", h.get)
	r.With(gate.Require(perm.SectionUsers, perm.KindEdit)).Put("/{id}", h.update)
	r.With(gate.Require(perm.SectionUsers, perm.KindEdit)).Delete("/{id}", h.del)
	r.With(gate.Require(perm.SectionUsers, perm.KindEdit)).Put("/{id}/status", h.status)
}

type userDTO struct {
	ID        int64  `json:"id"`
	Email     string `json:"email"`
	Name      string `json:"name"`
	RoleID    int64  `json:"role_id"`
	RoleName  string `json:"role_name"`
	IsActive  bool   `json:"is_active"`
	CreatedAt string `json:"created_at"`
}

func toUserDTO(u User) userDTO {
	return userDTO{
		ID:        u.ID,
		Email:     u.Email,
		Name:      u.Name,
		RoleID:    u.RoleID,
		RoleName:  u.RoleName,
		IsActive:  u.IsActive,
		CreatedAt: u.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.List(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}
	out := make([]userDTO, len(list))
	for i, u := range list {
		out[i] = toUserDTO(u)
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"users": out})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.userID(w, r)
	if !ok {
		return
	}
	u, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toUserDTO(u))
}

type updateRequest struct {
	Email  string `json:"email" validate:"required,email"`
	Name   string `json:"name" validate:"required"`
	RoleID int64  `json:"role_id" validate:"required"`
	Code   string `json:"code"`
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, ok := h.userID(w, r)
	if !ok {
		return
	}
	var req updateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	actor := shared.ActorFromContext(r.Context())
	payload := UpdatePayload{ActorID: actor.UserID, UserID: id, Email: req.Email, Name: req.Name, RoleID: req.RoleID}
	h.gated(w, r, ActionUpdate, payload, req.Code, func() {
		u, err := h.service.Get(r.Context(), id)
		if err != nil {
			h.respondError(w, err)
			return
		}
		httpx.JSON(w, http.StatusOK, toUserDTO(u))
	})
}

type gatedRequest struct {
	Code string `json:"code"`
}

func (h *Handler) del(w http.ResponseWriter, r *http.Request) {
	id, ok := h.userID(w, r)
	if !ok {
		return
	}
	var req gatedRequest
	// An empty body means no code attached yet.
	if err := httpx.DecodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	actor := shared.ActorFromContext(r.Context())
	payload := DeletePayload{ActorID: actor.UserID, UserID: id}
	h.gated(w, r, ActionDelete, payload, req.Code, func() {
		w.WriteHeader(http.StatusNoContent)
	})
}

type statusRequest struct {
	Active *bool  `json:"active" validate:"required"`
	Code   string `json:"code"`
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	id, ok := h.userID(w, r)
	if !ok {
		return
	}
	var req statusRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	actor := shared.ActorFromContext(r.Context())
	payload := StatusPayload{ActorID: actor.UserID, UserID: id, Active: *req.Active}
	h.gated(w, r, ActionStatus, payload, req.Code, func() {
		u, err := h.service.Get(r.Context(), id)
		if err != nil {
			h.respondError(w, err)
			return
		}
		httpx.JSON(w, http.StatusOK, toUserDTO(u))
	})
}

// gated drives one round of the verified workflow for the request. Without a
// code it opens the challenge and answers code-required; with a code it
// submits against the active challenge and, on commit, runs done. The
// request must match the active challenge exactly: a call for the same
// action but a different payload is rejected, so a code can only ever
// confirm the mutation it was requested for.
func (h *Handler) gated(w http.ResponseWriter, r *http.Request, action string, payload any, code string, done func()) {
	sess := shared.SessionFromContext(r.Context())
	if sess == nil || sess.User() == "" {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "login required")
		return
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		h.respondError(w, err)
		return
	}

	if code == "" {
		current, err := h.workflow.Current(r.Context(), sess.ID)
		if err != nil {
			h.respondError(w, err)
			return
		}
		if current == nil {
			if _, err := h.workflow.Initiate(r.Context(), sess.ID, action, raw); err != nil {
				h.respondError(w, err)
				return
			}
		} else if current.Action != action || !bytes.Equal(current.Payload, raw) {
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
	if current.Action != action || !bytes.Equal(current.Payload, raw) {
		h.respondError(w, verify.ErrChallengeActive)
		return
	}

	err = h.workflow.Submit(r.Context(), sess.ID, code, func(ctx context.Context, stored json.RawMessage, redeemed string) error {
		return h.registry.Commit(ctx, action, stored, redeemed)
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	done()
}

func (h *Handler) userID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid user id")
		return 0, false
	}
	return id, true
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, shared.ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", "user not found")
	case errors.Is(err, verify.ErrChallengeActive):
		httpx.Problem(w, http.StatusConflict, "Challenge Active", err.Error())
	case errors.Is(err, verify.ErrNoChallenge):
		httpx.Problem(w, http.StatusConflict, "No Challenge", "no pending confirmation; repeat the call without a code first")
	case errors.Is(err, verify.ErrCodeMalformed), errors.Is(err, verify.ErrCodeInvalid):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Code Rejected", err.Error())
	case errors.Is(err, verify.ErrInvalidState):
		httpx.Problem(w, http.StatusConflict, "Invalid State", err.Error())
	case errors.Is(err, httpx.ErrCodeRequired), errors.Is(err, httpx.ErrDuplicate), errors.Is(err, httpx.ErrValidation):
		httpx.RespondError(w, err)
	default:
		h.logger.Error("users request failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
