package ledger

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/prenda-erp/prenda-erp/internal/platform/httpx"
)

// Handler exposes registers and movements over HTTP.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds a Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers /cajas and /movimientos routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/cajas", func(r chi.Router) {
		r.Post("/", h.open)
		r.Get("/actual", h.current)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.get)
			r.Post("/cerrar", h.close)
			r.Get("/saldo", h.balance)
			r.Get("/movimientos", h.listMovements)
			r.Post("/movimientos", h.appendMovement)
		})
	})
	r.Post("/movimientos/{id}/revertir", h.reverse)
}

type openRequest struct {
	OpeningBalance decimal.Decimal `json:"saldo_inicial"`
}

type closeRequest struct {
	Declared decimal.Decimal `json:"monto_declarado"`
}

type movementRequest struct {
	Concept     string          `json:"concepto" validate:"required"`
	Amount      decimal.Decimal `json:"monto"`
	Description string          `json:"descripcion" validate:"max=500"`
}

type reverseRequest struct {
	Reason string `json:"motivo" validate:"required,max=500"`
}

type reverseResponse struct {
	Success    bool       `json:"success"`
	Message    string     `json:"message"`
	ReversalID *uuid.UUID `json:"reversal_id,omitempty"`
}

type balanceResponse struct {
	RegisterID uuid.UUID       `json:"caja_id"`
	Effective  decimal.Decimal `json:"saldo_efectivo"`
	Stored     decimal.Decimal `json:"saldo_actual"`
}

func (h *Handler) open(w http.ResponseWriter, r *http.Request) {
	tenantID, actorID, err := httpx.Scope(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req openRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	res, err := h.service.OpenRegister(r.Context(), OpenInput{TenantID: tenantID, OperatorID: actorID, OpeningBalance: req.OpeningBalance})
	if err != nil {
		h.fail(w, "open register", err)
		return
	}
	status := http.StatusCreated
	if res.Reused {
		status = http.StatusOK
	}
	httpx.JSON(w, status, res)
}

func (h *Handler) current(w http.ResponseWriter, r *http.Request) {
	tenantID, actorID, err := httpx.Scope(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	reg, err := h.service.OpenRegisterFor(r.Context(), tenantID, actorID)
	if err != nil {
		h.fail(w, "current register", err)
		return
	}
	httpx.JSON(w, http.StatusOK, reg)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
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
	reg, err := h.service.GetRegister(r.Context(), tenantID, id)
	if err != nil {
		h.fail(w, "get register", err)
		return
	}
	httpx.JSON(w, http.StatusOK, reg)
}

func (h *Handler) close(w http.ResponseWriter, r *http.Request) {
	tenantID, actorID, err := httpx.Scope(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	id, err := httpx.UUIDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req closeRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	res, err := h.service.CloseRegister(r.Context(), CloseInput{TenantID: tenantID, RegisterID: id, Declared: req.Declared, ActorID: actorID})
	if err != nil {
		h.fail(w, "close register", err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) balance(w http.ResponseWriter, r *http.Request) {
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
	reg, err := h.service.GetRegister(r.Context(), tenantID, id)
	if err != nil {
		h.fail(w, "get register", err)
		return
	}
	effective, err := h.service.EffectiveBalance(r.Context(), tenantID, id)
	if err != nil {
		h.fail(w, "effective balance", err)
		return
	}
	httpx.JSON(w, http.StatusOK, balanceResponse{RegisterID: id, Effective: effective, Stored: reg.Balance})
}

func (h *Handler) listMovements(w http.ResponseWriter, r *http.Request) {
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
	items, err := h.service.ListMovements(r.Context(), tenantID, id)
	if err != nil {
		h.fail(w, "list movements", err)
		return
	}
	if items == nil {
		items = []Movement{}
	}
	httpx.JSON(w, http.StatusOK, items)
}

func (h *Handler) appendMovement(w http.ResponseWriter, r *http.Request) {
	tenantID, actorID, err := httpx.Scope(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	id, err := httpx.UUIDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req movementRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	concept, kind, err := ManualInput{Concept: Concept(req.Concept)}.Resolve()
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	m, err := h.service.AppendMovement(r.Context(), AppendInput{
		TenantID:    tenantID,
		RegisterID:  id,
		Type:        kind,
		Concept:     concept,
		Amount:      req.Amount,
		Description: req.Description,
		AuthorID:    actorID,
	})
	if err != nil {
		h.fail(w, "append movement", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, m)
}

func (h *Handler) reverse(w http.ResponseWriter, r *http.Request) {
	tenantID, actorID, err := httpx.Scope(r)
	if err != nil {
		httpx.JSON(w, httpx.StatusFor(err), reverseResponse{Message: err.Error()})
		return
	}
	id, err := httpx.UUIDParam(r, "id")
	if err != nil {
		httpx.JSON(w, httpx.StatusFor(err), reverseResponse{Message: err.Error()})
		return
	}
	var req reverseRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.JSON(w, httpx.StatusFor(err), reverseResponse{Message: err.Error()})
		return
	}
	reversal, err := h.service.ReverseMovement(r.Context(), ReverseInput{TenantID: tenantID, MovementID: id, Reason: req.Reason, RequestedBy: actorID})
	if err != nil {
		status := httpx.StatusFor(err)
		msg := err.Error()
		if status == http.StatusInternalServerError {
			h.logger.Error("reverse movement", slog.Any("error", err))
			msg = "no se pudo revertir el movimiento"
		}
		httpx.JSON(w, status, reverseResponse{Message: msg})
		return
	}
	httpx.JSON(w, http.StatusOK, reverseResponse{Success: true, Message: "movimiento revertido", ReversalID: &reversal.ID})
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if httpx.StatusFor(err) == http.StatusInternalServerError {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
