package interest

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/prenda-erp/prenda-erp/internal/platform/httpx"
	"github.com/prenda-erp/prenda-erp/internal/shared"
)

// PermissionConfigEdit guards policy updates.
const PermissionConfigEdit = "config.intereses.editar"

// Guard wraps routes with a permission requirement.
type Guard interface {
	RequireAny(perms ...string) func(http.Handler) http.Handler
}

// Handler exposes the tenant interest policy over HTTP.
type Handler struct {
	logger  *slog.Logger
	service *Service
	guard   Guard
}

// NewHandler builds a Handler.
func NewHandler(logger *slog.Logger, service *Service, guard Guard) *Handler {
	return &Handler{logger: logger, service: service, guard: guard}
}

// MountRoutes registers /config/intereses routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/config/intereses", h.get)
	r.Group(func(r chi.Router) {
		if h.guard != nil {
			r.Use(h.guard.RequireAny(PermissionConfigEdit))
		}
		r.Put("/config/intereses", h.update)
	})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := shared.TenantFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "tenant required")
		return
	}
	cfg, err := h.service.Get(r.Context(), tenantID)
	if err != nil {
		h.logger.Error("get interest config", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, UpdateResult{Success: true, Config: &cfg})
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := shared.TenantFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "tenant required")
		return
	}
	actorID, _ := shared.ActorFromContext(r.Context())
	var patch Patch
	if err := httpx.DecodeJSON(r, &patch); err != nil {
		httpx.JSON(w, http.StatusBadRequest, UpdateResult{Error: err.Error()})
		return
	}
	res := h.service.Update(r.Context(), tenantID, actorID, patch)
	status := http.StatusOK
	if !res.Success {
		status = http.StatusUnprocessableEntity
	}
	httpx.JSON(w, status, res)
}
