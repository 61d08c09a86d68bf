package verify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-commerce/meridian-admin/internal/platform/httpx"
	"github.com/meridian-commerce/meridian-admin/internal/shared"
)

// Registry maps gated action names to their commit functions. Feature
// packages register their sensitive mutations here at startup.
type Registry struct {
	funcs map[string]CommitFunc
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{funcs: make(map[string]CommitFunc)}
}

// Register binds a commit function to an action name. Later registrations
// for the same action replace earlier ones.
func (r *Registry) Register(action string, fn CommitFunc) {
	r.funcs[action] = fn
}

// Known reports whether the action has a registered commit function.
func (r *Registry) Known(action string) bool {
	_, ok := r.funcs[action]
	return ok
}

// Commit dispatches to the registered function for the action.
func (r *Registry) Commit(ctx context.Context, action string, payload json.RawMessage, code string) error {
	fn, ok := r.funcs[action]
	if !ok {
		return fmt.Errorf("verify: unknown action %q", action)
	}
	return fn(ctx, payload, code)
}

// Handler exposes the verified-commit workflow to the console frontend.
type Handler struct {
	logger   *slog.Logger
	workflow *Workflow
	registry *Registry
	validate *validator.Validate
}

// NewHandler builds a Handler.
func NewHandler(logger *slog.Logger, workflow *Workflow, registry *Registry) *Handler {
	return &Handler{logger: logger, workflow: workflow, registry: registry, validate: validator.New()}
}

// MountRoutes registers the verification endpoints.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.current)
	r.Post("/initiate", h.initiate)
	r.With(httprate.Limit(5, time.Minute, httprate.WithKeyFuncs(sessionRateKey))).
		Post("/request-code", h.requestCode)
	r.Post("/submit", h.submit)
	r.Delete("/", h.cancel)
}

type challengeResponse struct {
	Active                   bool   `json:"active"`
	Action                   string `json:"action,omitempty"`
	State                    string `json:"state,omitempty"`
	CodeRequested            bool   `json:"code_requested"`
	CooldownRemainingSeconds int    `json:"cooldown_remaining_seconds"`
}

func (h *Handler) current(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	ch, err := h.workflow.Current(r.Context(), sessionID)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, h.describe(ch))
}

type initiateRequest struct {
	Action  string          `json:"action" validate:"required"`
	Payload json.RawMessage `json:"payload" validate:"required"`
}

func (h *Handler) initiate(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	var req initiateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if !h.registry.Known(req.Action) {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "unknown action")
		return
	}
	ch, err := h.workflow.Initiate(r.Context(), sessionID, req.Action, req.Payload)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, h.describe(ch))
}

func (h *Handler) requestCode(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	ch, err := h.workflow.RequestCode(r.Context(), sessionID)
	if err != nil {
		h.fail(w, err)
		return
	}
	// Acknowledgement only: the code itself goes to the authority mailbox.
	httpx.JSON(w, http.StatusAccepted, h.describe(ch))
}

type submitRequest struct {
	Code string `json:"code" validate:"required"`
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	var req submitRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	err := h.workflow.Submit(r.Context(), sessionID, req.Code, func(ctx context.Context, payload json.RawMessage, code string) error {
		ch, loadErr := h.workflow.Current(ctx, sessionID)
		if loadErr != nil {
			return loadErr
		}
		if ch == nil {
			return ErrNoChallenge
		}
		return h.registry.Commit(ctx, ch.Action, payload, code)
	})
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, challengeResponse{Active: false})
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	if err := h.workflow.Cancel(r.Context(), sessionID); err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, challengeResponse{Active: false})
}

func (h *Handler) describe(ch *Challenge) challengeResponse {
	if ch == nil {
		return challengeResponse{Active: false}
	}
	return challengeResponse{
		Active:                   true,
		Action:                   ch.Action,
		State:                    string(ch.State),
		CodeRequested:            ch.State == StateCodeRequested || ch.State == StateSubmitted,
		CooldownRemainingSeconds: ch.CooldownRemaining(h.workflow.Clock()()),
	}
}

func (h *Handler) sessionID(w http.ResponseWriter, r *http.Request) (string, bool) {
	sess := shared.SessionFromContext(r.Context())
	if sess == nil || sess.User() == "" {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "login required")
		return "", false
	}
	return sess.ID, true
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrChallengeActive):
		httpx.Problem(w, http.StatusConflict, "Challenge Active", err.Error())
	case errors.Is(err, ErrNoChallenge):
		httpx.Problem(w, http.StatusNotFound, "No Challenge", err.Error())
	case errors.Is(err, ErrCooldownActive):
		httpx.Problem(w, http.StatusTooManyRequests, "Cooldown Active", err.Error())
	case errors.Is(err, ErrCodeMalformed):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrCodeInvalid):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Code Rejected", err.Error())
	case errors.Is(err, ErrInvalidState):
		httpx.Problem(w, http.StatusConflict, "Invalid State", err.Error())
	default:
		h.logger.Error("verify request failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func sessionRateKey(r *http.Request) (string, error) {
	if sess := shared.SessionFromContext(r.Context()); sess != nil {
		return sess.ID, nil
	}
	return httprate.KeyByIP(r)
}
