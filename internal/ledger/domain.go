// Package ledger keeps cash registers and their append-only movement log.
package ledger

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/prenda-erp/prenda-erp/internal/shared"
)

// MovementType is the direction of a cash movement.
type MovementType string

const (
	MovementIncome  MovementType = "INGRESO"
	MovementOutflow MovementType = "EGRESO"
)

// Inverse returns the opposite direction.
func (t MovementType) Inverse() MovementType {
	if t == MovementIncome {
		return MovementOutflow
	}
	return MovementIncome
}

// Valid reports whether t is a known direction.
func (t MovementType) Valid() bool {
	return t == MovementIncome || t == MovementOutflow
}

// Concept classifies why cash moved.
type Concept string

const (
	ConceptOpening      Concept = "APERTURA"
	ConceptDisbursement Concept = "DESEMBOLSO"
	ConceptPayment      Concept = "PAGO"
	ConceptRenewal      Concept = "RENOVACION"
	ConceptRedemption   Concept = "DESEMPENO"
	ConceptManualIn     Concept = "INGRESO_MANUAL"
	ConceptManualOut    Concept = "EGRESO_MANUAL"
	ConceptReversal     Concept = "REVERSION"
)

var manualConcepts = map[Concept]MovementType{
	ConceptManualIn:  MovementIncome,
	ConceptManualOut: MovementOutflow,
}

// RegisterStatus enumerates cash register states.
type RegisterStatus string

const (
	RegisterOpen   RegisterStatus = "ABIERTA"
	RegisterClosed RegisterStatus = "CERRADA"
)

// Register is an operator's cash drawer for one shift.
type Register struct {
	ID              uuid.UUID           `json:"id"`
	TenantID        uuid.UUID           `json:"tenant_id"`
	OperatorID      uuid.UUID           `json:"usuario_id"`
	OpeningBalance  decimal.Decimal     `json:"saldo_inicial"`
	Balance         decimal.Decimal     `json:"saldo_actual"`
	Status          RegisterStatus      `json:"estado"`
	OpenedAt        time.Time           `json:"fecha_apertura"`
	ClosedAt        *time.Time          `json:"fecha_cierre,omitempty"`
	DeclaredClosing decimal.NullDecimal `json:"monto_cierre_declarado"`
}

// IsOpen reports whether the register accepts movements.
func (r Register) IsOpen() bool {
	return r.Status == RegisterOpen
}

// Movement is one immutable ledger row. Only the void markers are ever updated.
type Movement struct {
	ID          uuid.UUID       `json:"id"`
	TenantID    uuid.UUID       `json:"tenant_id"`
	RegisterID  uuid.UUID       `json:"caja_id"`
	Type        MovementType    `json:"tipo"`
	Concept     Concept         `json:"concepto"`
	Amount      decimal.Decimal `json:"monto"`
	Description string          `json:"descripcion"`
	AuthorID    uuid.UUID       `json:"usuario_id"`
	CreatedAt   time.Time       `json:"fecha"`
	Voided      bool            `json:"anulado"`
	VoidReason  string          `json:"motivo_anulacion,omitempty"`
	VoidedBy    *uuid.UUID      `json:"anulado_by,omitempty"`
	VoidedAt    *time.Time      `json:"anulado_at,omitempty"`
	IsReversal  bool            `json:"es_reversion"`
	OriginalID  *uuid.UUID      `json:"movimiento_original_id,omitempty"`
	CreditID    *uuid.UUID      `json:"credito_id,omitempty"`
	PaymentID   *uuid.UUID      `json:"pago_id,omitempty"`
}

// Signed returns the amount with the sign implied by its type.
func (m Movement) Signed() decimal.Decimal {
	return SignedAmount(m.Type, m.Amount)
}

// Counts reports whether the row participates in the effective balance.
func (m Movement) Counts() bool {
	return !m.Voided && !m.IsReversal
}

// SignedAmount applies the direction sign to amount.
func SignedAmount(t MovementType, amount decimal.Decimal) decimal.Decimal {
	if t == MovementOutflow {
		return amount.Neg()
	}
	return amount
}

// OpenInput opens a register for an operator.
type OpenInput struct {
	TenantID       uuid.UUID
	OperatorID     uuid.UUID
	OpeningBalance decimal.Decimal
}

// Validate ensures the open request is well formed.
func (in OpenInput) Validate() error {
	if in.TenantID == uuid.Nil || in.OperatorID == uuid.Nil {
		return fmt.Errorf("%w: ledger: tenant and operator required", shared.ErrValidation)
	}
	if in.OpeningBalance.IsNegative() {
		return fmt.Errorf("%w: ledger: opening balance must not be negative", shared.ErrValidation)
	}
	return nil
}

// OpenResult reports the register in use and whether an existing one was reused.
type OpenResult struct {
	Register Register `json:"caja"`
	Reused   bool     `json:"reutilizada"`
}

// CloseInput closes a register with the operator's counted cash.
type CloseInput struct {
	TenantID   uuid.UUID
	RegisterID uuid.UUID
	Declared   decimal.Decimal
	ActorID    uuid.UUID
}

// CloseResult compares counted cash with the stored balance.
type CloseResult struct {
	Register   Register        `json:"caja"`
	Expected   decimal.Decimal `json:"saldo_esperado"`
	Declared   decimal.Decimal `json:"monto_declarado"`
	Difference decimal.Decimal `json:"diferencia"`
	Matches    bool            `json:"cuadra"`
}

// AppendInput describes a new movement.
type AppendInput struct {
	TenantID    uuid.UUID
	RegisterID  uuid.UUID
	Type        MovementType
	Concept     Concept
	Amount      decimal.Decimal
	Description string
	AuthorID    uuid.UUID
	CreditID    *uuid.UUID
	PaymentID   *uuid.UUID
}

// Validate ensures the movement is well formed.
func (in AppendInput) Validate() error {
	if in.RegisterID == uuid.Nil {
		return fmt.Errorf("%w: ledger: register required", shared.ErrValidation)
	}
	if in.AuthorID == uuid.Nil {
		return fmt.Errorf("%w: ledger: author required", shared.ErrValidation)
	}
	if !in.Type.Valid() {
		return fmt.Errorf("%w: ledger: unknown movement type %q", shared.ErrValidation, in.Type)
	}
	if in.Concept == "" || in.Concept == ConceptReversal {
		return fmt.Errorf("%w: ledger: invalid concept %q", shared.ErrValidation, in.Concept)
	}
	if !in.Amount.IsPositive() {
		return fmt.Errorf("%w: ledger: amount must be positive", shared.ErrValidation)
	}
	if !in.Amount.Equal(shared.Round2(in.Amount)) {
		return fmt.Errorf("%w: ledger: amount has more than two decimals", shared.ErrValidation)
	}
	return nil
}

// ManualInput is an operator-entered movement against their open register.
type ManualInput struct {
	TenantID    uuid.UUID
	OperatorID  uuid.UUID
	Concept     Concept
	Amount      decimal.Decimal
	Description string
}

// Resolve returns the normalized manual concept and the direction it implies.
func (in ManualInput) Resolve() (Concept, MovementType, error) {
	concept := Concept(strings.ToUpper(strings.TrimSpace(string(in.Concept))))
	t, ok := manualConcepts[concept]
	if !ok {
		return "", "", fmt.Errorf("%w: ledger: concept %q is not a manual concept", shared.ErrValidation, in.Concept)
	}
	return concept, t, nil
}

// ReverseInput requests a compensating entry for a movement.
type ReverseInput struct {
	// TenantID scopes the lookup; uuid.Nil is only used by in-process callers
	// that already own the movement.
	TenantID    uuid.UUID
	MovementID  uuid.UUID
	Reason      string
	RequestedBy uuid.UUID
}

// Validate ensures the reversal request is complete.
func (in ReverseInput) Validate() error {
	if in.MovementID == uuid.Nil || in.RequestedBy == uuid.Nil {
		return fmt.Errorf("%w: ledger: movement and requester required", shared.ErrValidation)
	}
	if strings.TrimSpace(in.Reason) == "" {
		return ErrReasonRequired
	}
	return nil
}

// PermissionReverse is required to annul a movement.
const PermissionReverse = "caja.movimiento.anular"

var (
	// ErrRegisterNotFound indicates an unknown register.
	ErrRegisterNotFound = fmt.Errorf("%w: ledger: register", shared.ErrNotFound)
	// ErrMovementNotFound indicates an unknown movement.
	ErrMovementNotFound = fmt.Errorf("%w: ledger: movement", shared.ErrNotFound)
	// ErrRegisterClosed indicates the register no longer accepts movements.
	ErrRegisterClosed = fmt.Errorf("%w: ledger: register is closed", shared.ErrNoOpenRegister)
	// ErrReasonRequired indicates a reversal without a reason.
	ErrReasonRequired = fmt.Errorf("%w: ledger: reason required", shared.ErrValidation)
	// ErrMovementVoided indicates a second reversal attempt.
	ErrMovementVoided = fmt.Errorf("%w: ledger: movement already voided", shared.ErrAlreadyVoided)
	// ErrReversalOfReversal indicates an attempt to reverse a compensating row.
	ErrReversalOfReversal = fmt.Errorf("%w: ledger: movement is itself a reversal", shared.ErrAlreadyVoided)
	// ErrLinkedMovement indicates a movement owned by a credit. Those are
	// undone by voiding the payment or annulling the credit.
	ErrLinkedMovement = fmt.Errorf("%w: ledger: movement belongs to a credit, void the payment or annul the credit", shared.ErrConflict)
	// ErrOpenRegisterExists is raised by the store when the unique open index fires.
	ErrOpenRegisterExists = errors.New("ledger: operator already has an open register")
)
