package credit

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/prenda-erp/prenda-erp/internal/platform/httpx"
)

// Handler exposes the credit lifecycle over HTTP.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds a Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers /creditos and /pagos routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/creditos", func(r chi.Router) {
		r.Post("/cotizar", h.quote)
		r.Post("/", h.issue)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.get)
			r.Post("/pagos", h.pay)
			r.Post("/remate", h.auction)
			r.Post("/vendido", h.sold)
			r.Post("/anular", h.annul)
		})
	})
	r.Post("/pagos/{id}/anular", h.voidPayment)
}

type issueRequest struct {
	RegisterID uuid.UUID       `json:"caja_id" validate:"required"`
	ClientDoc  string          `json:"cliente_documento" validate:"required,max=20"`
	ClientName string          `json:"cliente_nombre" validate:"required,max=200"`
	Collateral CollateralInput `json:"garantia" validate:"required"`
	Contract   ContractInput   `json:"contrato" validate:"required"`
}

type paymentRequest struct {
	RegisterID     uuid.UUID       `json:"caja_id" validate:"required"`
	Amount         decimal.Decimal `json:"monto"`
	Operation      string          `json:"tipo_operacion" validate:"required"`
	Method         string          `json:"metodo_pago" validate:"max=30"`
	Metadata       map[string]any  `json:"metadata"`
	IdempotencyKey string          `json:"idempotency_key" validate:"max=120"`
	ExtensionDays  int             `json:"dias_extension" validate:"gte=0,lte=365"`
}

type reasonRequest struct {
	Reason string `json:"motivo" validate:"max=500"`
}

type voidResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func (h *Handler) quote(w http.ResponseWriter, r *http.Request) {
	var req QuoteInput
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	q, err := h.service.Quote(req)
	if err != nil {
		h.fail(w, "quote", err)
		return
	}
	httpx.JSON(w, http.StatusOK, q)
}

func (h *Handler) issue(w http.ResponseWriter, r *http.Request) {
	tenantID, actorID, err := httpx.Scope(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req issueRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	c, err := h.service.Issue(r.Context(), IssueInput{
		TenantID:   tenantID,
		ActorID:    actorID,
		RegisterID: req.RegisterID,
		ClientDoc:  req.ClientDoc,
		ClientName: req.ClientName,
		Collateral: req.Collateral,
		Contract:   req.Contract,
	})
	if err != nil {
		h.fail(w, "issue credit", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"credito_id": c.ID, "codigo": c.Code, "fecha_vencimiento": c.DueDate})
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
	view, err := h.service.GetCredit(r.Context(), tenantID, id)
	if err != nil {
		h.fail(w, "get credit", err)
		return
	}
	httpx.JSON(w, http.StatusOK, view)
}

func (h *Handler) pay(w http.ResponseWriter, r *http.Request) {
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
	var req paymentRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	key := req.IdempotencyKey
	if key == "" {
		key = r.Header.Get("Idempotency-Key")
	}
	res, err := h.service.RegisterPayment(r.Context(), PaymentInput{
		TenantID:       tenantID,
		ActorID:        actorID,
		RegisterID:     req.RegisterID,
		CreditID:       id,
		Amount:         req.Amount,
		Operation:      Operation(req.Operation),
		Method:         req.Method,
		Metadata:       req.Metadata,
		IdempotencyKey: key,
		ExtensionDays:  req.ExtensionDays,
	})
	if err != nil {
		h.fail(w, "register payment", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, res)
}

func (h *Handler) auction(w http.ResponseWriter, r *http.Request) {
	h.runTransition(w, r, "send to auction", h.service.SendToAuction)
}

func (h *Handler) sold(w http.ResponseWriter, r *http.Request) {
	h.runTransition(w, r, "mark sold", h.service.MarkSold)
}

func (h *Handler) annul(w http.ResponseWriter, r *http.Request) {
	h.runTransition(w, r, "annul credit", h.service.Annul)
}

func (h *Handler) runTransition(w http.ResponseWriter, r *http.Request, op string, fn func(context.Context, TransitionInput) (Credit, error)) {
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
	var req reasonRequest
	if r.ContentLength != 0 {
		if err := httpx.Bind(r, &req); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}
	c, err := fn(r.Context(), TransitionInput{TenantID: tenantID, CreditID: id, ActorID: actorID, Reason: req.Reason})
	if err != nil {
		h.fail(w, op, err)
		return
	}
	httpx.JSON(w, http.StatusOK, c)
}

func (h *Handler) voidPayment(w http.ResponseWriter, r *http.Request) {
	tenantID, actorID, err := httpx.Scope(r)
	if err != nil {
		httpx.JSON(w, httpx.StatusFor(err), voidResponse{Message: err.Error()})
		return
	}
	id, err := httpx.UUIDParam(r, "id")
	if err != nil {
		httpx.JSON(w, httpx.StatusFor(err), voidResponse{Message: err.Error()})
		return
	}
	var req reasonRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.JSON(w, httpx.StatusFor(err), voidResponse{Message: err.Error()})
		return
	}
	if _, err := h.service.VoidPayment(r.Context(), VoidInput{TenantID: tenantID, PaymentID: id, Reason: req.Reason, ActorID: actorID}); err != nil {
		status := httpx.StatusFor(err)
		msg := err.Error()
		if status == http.StatusInternalServerError {
			h.logger.Error("void payment", slog.Any("error", err))
			msg = "no se pudo anular el pago"
		}
		httpx.JSON(w, status, voidResponse{Message: msg})
		return
	}
	httpx.JSON(w, http.StatusOK, voidResponse{Success: true, Message: "pago anulado"})
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if httpx.StatusFor(err) == http.StatusInternalServerError {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
