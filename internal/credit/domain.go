// Package credit implements the pawn credit contract lifecycle.
package credit

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/prenda-erp/prenda-erp/internal/shared"
)

// Status enumerates contract states.
type Status string

const (
	StatusIssued     Status = "EMITIDO"
	StatusCurrent    Status = "VIGENTE"
	StatusDueSoon    Status = "POR_VENCER"
	StatusOverdue    Status = "VENCIDO"
	StatusInArrears  Status = "EN_MORA"
	StatusPreAuction Status = "PRE_REMATE"
	StatusInAuction  Status = "EN_REMATE"
	StatusSold       Status = "VENDIDO"
	StatusCancelled  Status = "CANCELADO"
	StatusRenewed    Status = "RENOVADO"
	StatusAnnulled   Status = "ANULADO"
)

// authoritative states are the only stored values that override derivation.
var authoritative = map[Status]bool{
	StatusCancelled: true,
	StatusSold:      true,
	StatusAnnulled:  true,
	StatusInAuction: true,
}

// Payable reports whether payments may still be applied in status s.
func (s Status) Payable() bool {
	return !authoritative[s]
}

// Operation enumerates payment kinds.
type Operation string

const (
	OperationPartial    Operation = "AMORTIZACION"
	OperationRenewal    Operation = "RENOVACION"
	OperationRedemption Operation = "DESEMPENO"
)

// ParseOperation resolves a case-insensitive operation name.
func ParseOperation(raw string) (Operation, error) {
	switch op := Operation(strings.ToUpper(strings.TrimSpace(raw))); op {
	case OperationPartial, OperationRenewal, OperationRedemption:
		return op, nil
	case "DESEMPEÑO":
		return OperationRedemption, nil
	default:
		return "", fmt.Errorf("%w: credit: unknown operation %q", shared.ErrValidation, raw)
	}
}

// Collateral is the pawned item.
type Collateral struct {
	ID          uuid.UUID       `json:"id"`
	TenantID    uuid.UUID       `json:"tenant_id"`
	ClientID    uuid.UUID       `json:"cliente_id"`
	Description string          `json:"descripcion"`
	Category    string          `json:"categoria"`
	Condition   string          `json:"estado_conservacion"`
	MarketValue decimal.Decimal `json:"valor_mercado"`
	Photos      []string        `json:"fotos"`
}

// Credit is a pawn contract. Status holds the last stored value; read paths
// expose DeriveStatus instead.
type Credit struct {
	ID                     uuid.UUID       `json:"id"`
	TenantID               uuid.UUID       `json:"tenant_id"`
	Code                   string          `json:"codigo"`
	ClientID               uuid.UUID       `json:"cliente_id"`
	ClientDoc              string          `json:"cliente_documento"`
	ClientName             string          `json:"cliente_nombre"`
	CollateralID           uuid.UUID       `json:"garantia_id"`
	RegisterID             uuid.UUID       `json:"caja_id"`
	DisbursementMovementID *uuid.UUID      `json:"movimiento_desembolso_id,omitempty"`
	Principal              decimal.Decimal `json:"monto_prestado"`
	MonthlyRate            decimal.Decimal `json:"tasa_interes"`
	Frequency              string          `json:"frecuencia"`
	Installments           int             `json:"numero_cuotas"`
	TermDays               int             `json:"dias_plazo"`
	DisbursedAt            time.Time       `json:"fecha_desembolso"`
	DueDate                time.Time       `json:"fecha_vencimiento"`
	InterestFrom           time.Time       `json:"fecha_inicio_interes"`
	Balance                decimal.Decimal `json:"saldo_pendiente"`
	Status                 Status          `json:"estado"`
	CancelledAt            *time.Time      `json:"fecha_cancelacion,omitempty"`
	RenewalCount           int             `json:"renovaciones"`
	CreatedBy              uuid.UUID       `json:"created_by"`
	CreatedAt              time.Time       `json:"created_at"`
	UpdatedAt              time.Time       `json:"updated_at"`
}

// Breakdown splits an applied amount.
type Breakdown struct {
	Capital  decimal.Decimal `json:"capital"`
	Interest decimal.Decimal `json:"interes"`
	Mora     decimal.Decimal `json:"mora"`
}

// Snapshot is the contract state before a payment, kept so the payment can be voided exactly.
type Snapshot struct {
	Balance      decimal.Decimal `json:"saldo_anterior"`
	DueDate      time.Time       `json:"fecha_vencimiento_anterior"`
	InterestFrom time.Time       `json:"fecha_inicio_interes_anterior"`
	Status       Status          `json:"estado_anterior"`
	CancelledAt  *time.Time      `json:"fecha_cancelacion_anterior,omitempty"`
	RenewalCount int             `json:"renovaciones_anteriores"`
}

// Payment is a payment applied to a credit.
type Payment struct {
	ID             uuid.UUID       `json:"id"`
	TenantID       uuid.UUID       `json:"tenant_id"`
	CreditID       uuid.UUID       `json:"credito_id"`
	RegisterID     uuid.UUID       `json:"caja_id"`
	MovementID     uuid.UUID       `json:"movimiento_id"`
	Amount         decimal.Decimal `json:"monto"`
	Method         string          `json:"metodo_pago"`
	Operation      Operation       `json:"tipo_operacion"`
	Applied        Breakdown       `json:"desglose"`
	Before         Snapshot        `json:"snapshot"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	Metadata       map[string]any  `json:"metadata,omitempty"`
	ActorID        uuid.UUID       `json:"usuario_id"`
	CreatedAt      time.Time       `json:"fecha"`
	Voided         bool            `json:"anulado"`
	VoidReason     string          `json:"motivo_anulacion,omitempty"`
	VoidedBy       *uuid.UUID      `json:"anulado_by,omitempty"`
	VoidedAt       *time.Time      `json:"anulado_at,omitempty"`
}

// MoraSnapshot is the daily penalty assessment of an open credit.
type MoraSnapshot struct {
	CreditID    uuid.UUID       `json:"credito_id"`
	TenantID    uuid.UUID       `json:"tenant_id"`
	Date        time.Time       `json:"fecha"`
	Status      Status          `json:"estado"`
	OverdueDays int             `json:"dias_vencido"`
	Interest    decimal.Decimal `json:"interes"`
	Mora        decimal.Decimal `json:"mora"`
	Balance     decimal.Decimal `json:"saldo_pendiente"`
}

// Permissions required by explicit transitions.
const (
	PermissionVoidPayment = "credito.pago.anular"
	PermissionAuction     = "credito.remate"
	PermissionAnnul       = "credito.anular"
)

var (
	// ErrCreditNotFound indicates an unknown contract.
	ErrCreditNotFound = fmt.Errorf("%w: credit", shared.ErrNotFound)
	// ErrPaymentNotFound indicates an unknown payment.
	ErrPaymentNotFound = fmt.Errorf("%w: credit: payment", shared.ErrNotFound)
	// ErrCreditClosed indicates the contract no longer accepts payments.
	ErrCreditClosed = fmt.Errorf("%w: credit: contract is closed", shared.ErrConflict)
	// ErrPaymentVoided indicates a second void attempt.
	ErrPaymentVoided = fmt.Errorf("%w: credit: payment already voided", shared.ErrAlreadyVoided)
	// ErrNotLatestPayment indicates a void out of order.
	ErrNotLatestPayment = fmt.Errorf("%w: credit: only the latest payment can be voided", shared.ErrConflict)
	// ErrInvalidTransition indicates an explicit transition from the wrong state.
	ErrInvalidTransition = fmt.Errorf("%w: credit: transition not allowed", shared.ErrConflict)
	// ErrExceedsLTV indicates the requested amount is above the collateral limit.
	ErrExceedsLTV = fmt.Errorf("%w: credit: amount exceeds LTV maximum", shared.ErrValidation)
	// ErrInsufficientCash indicates the register cannot fund a disbursement.
	ErrInsufficientCash = fmt.Errorf("%w: credit: register balance insufficient for disbursement", shared.ErrValidation)
)
