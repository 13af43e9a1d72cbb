package rbac

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/prenda-erp/prenda-erp/internal/platform/httpx"
	"github.com/prenda-erp/prenda-erp/internal/shared"
)

// PermissionsHandler exposes permission listing and role administration.
type PermissionsHandler struct {
	logger  *slog.Logger
	service *Service
	rbac    Middleware
}

// NewPermissionsHandler builds PermissionsHandler instance.
func NewPermissionsHandler(logger *slog.Logger, service *Service, rbac Middleware) *PermissionsHandler {
	return &PermissionsHandler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers permission and role routes.
func (h *PermissionsHandler) MountRoutes(r chi.Router) {
	r.Route("/permisos", func(r chi.Router) {
		r.Get("/mios", h.mine)
		r.Group(func(r chi.Router) {
			r.Use(h.rbac.RequireAny("permissions.view"))
			r.Get("/", h.listPermissions)
		})
	})
	r.Route("/roles", func(r chi.Router) {
		r.Use(h.rbac.RequireAny(PermissionManageRoles))
		r.Get("/", h.listRoles)
		r.Post("/", h.createRole)
		r.Route("/{id}", func(r chi.Router) {
			// Granting permissions needs the catalog as well.
			r.With(h.rbac.RequireAll(PermissionManageRoles, "permissions.view")).Put("/permisos", h.setPermissions)
			r.Post("/usuarios", h.assignRole)
			r.Delete("/usuarios/{userID}", h.removeRole)
		})
	})
}

type createRoleRequest struct {
	Name        string `json:"nombre" validate:"required,max=100"`
	Description string `json:"descripcion" validate:"max=500"`
}

type setPermissionsRequest struct {
	PermissionIDs []int64 `json:"permisos" validate:"dive,gt=0"`
}

type assignRoleRequest struct {
	UserID string `json:"usuario_id" validate:"required,uuid"`
}

func (h *PermissionsHandler) listPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := h.service.ListPermissions(r.Context())
	if err != nil {
		h.fail(w, "list permissions", err)
		return
	}
	if perms == nil {
		perms = []Permission{}
	}
	httpx.JSON(w, http.StatusOK, perms)
}

func (h *PermissionsHandler) mine(w http.ResponseWriter, r *http.Request) {
	_, actorID, err := httpx.Scope(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	perms, err := h.service.EffectivePermissions(r.Context(), actorID)
	if err != nil {
		h.fail(w, "effective permissions", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"usuario_id": actorID, "permisos": perms})
}

func (h *PermissionsHandler) listRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.service.ListRoles(r.Context())
	if err != nil {
		h.fail(w, "list roles", err)
		return
	}
	if roles == nil {
		roles = []Role{}
	}
	httpx.JSON(w, http.StatusOK, roles)
}

func (h *PermissionsHandler) createRole(w http.ResponseWriter, r *http.Request) {
	var req createRoleRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	role, err := h.service.CreateRole(r.Context(), req.Name, req.Description)
	if err != nil {
		h.fail(w, "create role", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, role)
}

func (h *PermissionsHandler) setPermissions(w http.ResponseWriter, r *http.Request) {
	roleID, err := roleParam(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req setPermissionsRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.SetRolePermissions(r.Context(), roleID, req.PermissionIDs); err != nil {
		h.fail(w, "set role permissions", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *PermissionsHandler) assignRole(w http.ResponseWriter, r *http.Request) {
	roleID, err := roleParam(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req assignRoleRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if _, err := h.service.GetRole(r.Context(), roleID); err != nil {
		h.fail(w, "get role", err)
		return
	}
	userID, err := parseUser(req.UserID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.AssignRole(r.Context(), userID, roleID); err != nil {
		h.fail(w, "assign role", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *PermissionsHandler) removeRole(w http.ResponseWriter, r *http.Request) {
	roleID, err := roleParam(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	userID, err := httpx.UUIDParam(r, "userID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.RemoveRole(r.Context(), userID, roleID); err != nil {
		h.fail(w, "remove role", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *PermissionsHandler) fail(w http.ResponseWriter, op string, err error) {
	if httpx.StatusFor(err) == http.StatusInternalServerError {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func roleParam(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid role id", shared.ErrValidation)
	}
	return id, nil
}

func parseUser(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, fmt.Errorf("%w: invalid usuario_id", shared.ErrValidation)
	}
	return id, nil
}
