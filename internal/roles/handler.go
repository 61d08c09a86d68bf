package roles

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-commerce/meridian-admin/internal/perm"
	"github.com/meridian-commerce/meridian-admin/internal/platform/httpx"
	"github.com/meridian-commerce/meridian-admin/internal/shared"
	"github.com/meridian-commerce/meridian-admin/internal/staged"
)

// Handler exposes role listing and the permission editor endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers role routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.listRoles)
	r.Get("/sections", h.listSections)
	r.Get("/{id}", h.getRole)
	r.Put("/{id}/permissions", h.replacePermissions)
	r.Post("/{id}/editor", h.openEditor)
	r.Post("/{id}/editor/toggle", h.toggle)
	r.Post("/{id}/editor/save", h.save)
	r.Delete("/{id}/editor", h.cancelEditor)
}

type subGrantDTO struct {
	Subsection  string   `json:"subsection"`
	Permissions []string `json:"permissions"`
}

type grantDTO struct {
	Section     string        `json:"section"`
	Permissions []string      `json:"permissions"`
	Subsections []subGrantDTO `json:"subsections,omitempty"`
}

type roleDTO struct {
	ID                 int64      `json:"id"`
	Name               string     `json:"name"`
	Description        string     `json:"description"`
	IsSuperAdmin       bool       `json:"is_super_admin"`
	CanEditPermissions bool       `json:"can_edit_permissions"`
	Grants             []grantDTO `json:"grants"`
}

type sectionDTO struct {
	Name        string   `json:"name"`
	Subsections []string `json:"subsections,omitempty"`
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.service.ListRoles(r.Context())
	if err != nil {
		h.logger.Error("list roles failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	out := make([]roleDTO, len(roles))
	for i, role := range roles {
		out[i] = toRoleDTO(role)
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"roles": out})
}

func (h *Handler) listSections(w http.ResponseWriter, r *http.Request) {
	sections := make([]sectionDTO, 0, len(perm.Taxonomy()))
	for _, s := range perm.Taxonomy() {
		sections = append(sections, sectionDTO{Name: s.Name, Subsections: s.Subsections})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"sections": sections})
}

func (h *Handler) getRole(w http.ResponseWriter, r *http.Request) {
	id, ok := h.roleID(w, r)
	if !ok {
		return
	}
	role, err := h.service.GetRole(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toRoleDTO(role))
}

type replacePermissionsRequest struct {
	Permissions []grantDTO `json:"permissions" validate:"required"`
}

func (h *Handler) replacePermissions(w http.ResponseWriter, r *http.Request) {
	id, ok := h.roleID(w, r)
	if !ok {
		return
	}
	var req replacePermissionsRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	grants := make([]perm.SectionGrant, len(req.Permissions))
	for i, g := range req.Permissions {
		grants[i] = fromGrantDTO(g)
	}
	role, err := h.service.ReplacePermissions(r.Context(), shared.ActorFromContext(r.Context()), id, grants)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toRoleDTO(role))
}

func (h *Handler) openEditor(w http.ResponseWriter, r *http.Request) {
	id, ok := h.roleID(w, r)
	if !ok {
		return
	}
	sessionID, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	discard := r.URL.Query().Get("discard") == "1"
	role, pending, err := h.service.OpenEditor(r.Context(), sessionID, id, discard)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"role":    toRoleDTO(role),
		"pending": !pending.Empty(),
	})
}

type toggleRequest struct {
	Section    string `json:"section" validate:"required"`
	Subsection string `json:"subsection"`
	Kind       string `json:"kind" validate:"required,oneof=view edit upload"`
}

func (h *Handler) toggle(w http.ResponseWriter, r *http.Request) {
	id, ok := h.roleID(w, r)
	if !ok {
		return
	}
	sessionID, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	var req toggleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	set, changed, err := h.service.Toggle(r.Context(), sessionID, shared.ActorFromContext(r.Context()), id, req.Section, req.Subsection, perm.Kind(req.Kind))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"permissions": set.Strings(),
		"changed":     changed,
	})
}

func (h *Handler) save(w http.ResponseWriter, r *http.Request) {
	id, ok := h.roleID(w, r)
	if !ok {
		return
	}
	sessionID, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	role, err := h.service.Save(r.Context(), sessionID, shared.ActorFromContext(r.Context()), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toRoleDTO(role))
}

func (h *Handler) cancelEditor(w http.ResponseWriter, r *http.Request) {
	id, ok := h.roleID(w, r)
	if !ok {
		return
	}
	sessionID, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	if err := h.service.Cancel(r.Context(), sessionID, id); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) roleID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid role id")
		return 0, false
	}
	return id, true
}

func (h *Handler) sessionID(w http.ResponseWriter, r *http.Request) (string, bool) {
	sess := shared.SessionFromContext(r.Context())
	if sess == nil || sess.User() == "" {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "login required")
		return "", false
	}
	return sess.ID, true
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, shared.ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", "role not found")
	case errors.Is(err, shared.ErrUnauthorized):
		httpx.Problem(w, http.StatusForbidden, "Forbidden", err.Error())
	case errors.Is(err, staged.ErrEditorBusy):
		httpx.Problem(w, http.StatusConflict, "Editor Busy", err.Error())
	case errors.Is(err, staged.ErrNoEditorSession), errors.Is(err, staged.ErrRoleMismatch):
		httpx.Problem(w, http.StatusConflict, "No Editor Session", err.Error())
	case errors.Is(err, staged.ErrUndeclaredSubject), errors.Is(err, httpx.ErrValidation):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		h.logger.Error("roles request failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func toRoleDTO(role perm.Role) roleDTO {
	grants := make([]grantDTO, len(role.Grants))
	for i, g := range role.Grants {
		dto := grantDTO{Section: g.Section, Permissions: g.Set.Strings()}
		for _, sg := range g.SubGrants {
			dto.Subsections = append(dto.Subsections, subGrantDTO{
				Subsection:  sg.Subsection,
				Permissions: sg.Set.Strings(),
			})
		}
		grants[i] = dto
	}
	return roleDTO{
		ID:                 role.ID,
		Name:               role.Name,
		Description:        role.Description,
		IsSuperAdmin:       role.IsSuperAdmin,
		CanEditPermissions: role.CanEditPermissions,
		Grants:             grants,
	}
}

func fromGrantDTO(dto grantDTO) perm.SectionGrant {
	grant := perm.SectionGrant{
		Section: dto.Section,
		Set:     perm.SetFromStrings(dto.Permissions),
	}
	for _, sg := range dto.Subsections {
		grant.SubGrants = append(grant.SubGrants, perm.SubGrant{
			Subsection: sg.Subsection,
			Set:        perm.SetFromStrings(sg.Permissions),
		})
	}
	return grant
}
