package reconcile

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/prenda-erp/prenda-erp/internal/platform/httpx"
	"github.com/prenda-erp/prenda-erp/internal/shared"
)

// Handler exposes reconciliation reports.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds a Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers the reconciliation routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/cuadre", h.day)
	r.Get("/cuadre/cajas/{id}", h.register)
	r.Get("/descuadres", h.detect)
	r.Get("/descuadres/historial", h.history)
}

func (h *Handler) day(w http.ResponseWriter, r *http.Request) {
	tenantID, _, err := httpx.Scope(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	date := time.Now()
	if raw := r.URL.Query().Get("fecha"); raw != "" {
		if date, err = ParseDate(raw, time.Local); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}
	res, err := h.service.ReconcileDay(r.Context(), tenantID, date)
	if err != nil {
		h.fail(w, "reconcile day", err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	tenantID, _, err := httpx.Scope(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	id, err := httpx.UUIDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var asOf time.Time
	if raw := r.URL.Query().Get("al"); raw != "" {
		if asOf, err = time.Parse(time.RFC3339, raw); err != nil {
			httpx.RespondError(w, shared.ErrValidation)
			return
		}
	}
	res, err := h.service.Reconcile(r.Context(), id, asOf)
	if err != nil {
		h.fail(w, "reconcile register", err)
		return
	}
	if res.TenantID != tenantID {
		httpx.RespondError(w, shared.ErrNotFound)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) detect(w http.ResponseWriter, r *http.Request) {
	tenantID, _, err := httpx.Scope(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	window := DefaultWindowDays
	if raw := r.URL.Query().Get("dias"); raw != "" {
		if window, err = strconv.Atoi(raw); err != nil || window < 1 {
			httpx.RespondError(w, shared.ErrValidation)
			return
		}
	}
	found, err := h.service.DetectMismatches(r.Context(), tenantID, window)
	if err != nil {
		h.fail(w, "detect mismatches", err)
		return
	}
	httpx.JSON(w, http.StatusOK, found)
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	tenantID, _, err := httpx.Scope(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	to := time.Now()
	from := to.AddDate(0, 0, -30)
	q := r.URL.Query()
	if raw := q.Get("desde"); raw != "" {
		if from, err = ParseDate(raw, time.Local); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}
	if raw := q.Get("hasta"); raw != "" {
		if to, err = ParseDate(raw, time.Local); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}
	rows, err := h.service.Discrepancies(r.Context(), tenantID, from, to)
	if err != nil {
		h.fail(w, "list discrepancies", err)
		return
	}
	httpx.JSON(w, http.StatusOK, rows)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if httpx.StatusFor(err) == http.StatusInternalServerError {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
