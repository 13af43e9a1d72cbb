package credit

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/prenda-erp/prenda-erp/internal/shared"
)

// QuoteInput sizes a loan before issuance.
type QuoteInput struct {
	MarketValue     decimal.Decimal `json:"valor_mercado"`
	Category        string          `json:"categoria"`
	Condition       string          `json:"estado_conservacion"`
	RequestedAmount decimal.Decimal `json:"monto_solicitado"`
	MonthlyRate     decimal.Decimal `json:"tasa_interes"`
	Frequency       string          `json:"frecuencia"`
	Installments    int             `json:"numero_cuotas"`
	Start           *time.Time      `json:"fecha_inicio,omitempty"`
}

// CollateralInput describes the pawned item on issuance.
type CollateralInput struct {
	Description string          `json:"descripcion" validate:"required,max=500"`
	Category    string          `json:"categoria" validate:"required"`
	Condition   string          `json:"estado_conservacion"`
	MarketValue decimal.Decimal `json:"valor_mercado"`
	Photos      []string        `json:"fotos" validate:"omitempty,dive,url"`
}

// ContractInput holds the contract terms chosen at issuance.
type ContractInput struct {
	Amount       decimal.Decimal `json:"monto_prestado"`
	MonthlyRate  decimal.Decimal `json:"tasa_interes"`
	Frequency    string          `json:"frecuencia" validate:"required"`
	Installments int             `json:"numero_cuotas" validate:"gte=1,lte=365"`
}

// IssueInput creates a contract and disburses it from a register.
type IssueInput struct {
	TenantID   uuid.UUID
	ActorID    uuid.UUID
	RegisterID uuid.UUID
	ClientDoc  string
	ClientName string
	Collateral CollateralInput
	Contract   ContractInput
}

// Validate checks the parts of the request that need no lookups.
func (in IssueInput) Validate() error {
	if in.TenantID == uuid.Nil || in.ActorID == uuid.Nil || in.RegisterID == uuid.Nil {
		return fmt.Errorf("%w: credit: tenant, actor and register required", shared.ErrValidation)
	}
	if strings.TrimSpace(in.ClientDoc) == "" || strings.TrimSpace(in.ClientName) == "" {
		return fmt.Errorf("%w: credit: client document and name required", shared.ErrValidation)
	}
	if !in.Contract.Amount.IsPositive() {
		return fmt.Errorf("%w: credit: amount must be positive", shared.ErrValidation)
	}
	if !in.Contract.Amount.Equal(shared.Round2(in.Contract.Amount)) {
		return fmt.Errorf("%w: credit: amount has more than two decimals", shared.ErrValidation)
	}
	if in.Contract.MonthlyRate.IsNegative() {
		return fmt.Errorf("%w: credit: rate must not be negative", shared.ErrValidation)
	}
	if in.Contract.Installments < 1 {
		return fmt.Errorf("%w: credit: at least one installment required", shared.ErrValidation)
	}
	return nil
}

// PaymentInput applies a payment to a credit.
type PaymentInput struct {
	TenantID       uuid.UUID
	ActorID        uuid.UUID
	RegisterID     uuid.UUID
	CreditID       uuid.UUID
	Amount         decimal.Decimal
	Operation      Operation
	Method         string
	Metadata       map[string]any
	IdempotencyKey string
	// ExtensionDays overrides the renewal extension; zero uses the contract term.
	ExtensionDays int
}

// Validate checks the request shape.
func (in PaymentInput) Validate() error {
	if in.ActorID == uuid.Nil || in.RegisterID == uuid.Nil || in.CreditID == uuid.Nil {
		return fmt.Errorf("%w: credit: actor, register and credit required", shared.ErrValidation)
	}
	if !in.Amount.IsPositive() {
		return fmt.Errorf("%w: credit: amount must be positive", shared.ErrValidation)
	}
	if !in.Amount.Equal(shared.Round2(in.Amount)) {
		return fmt.Errorf("%w: credit: amount has more than two decimals", shared.ErrValidation)
	}
	if _, err := ParseOperation(string(in.Operation)); err != nil {
		return err
	}
	if in.ExtensionDays < 0 {
		return fmt.Errorf("%w: credit: extension days must not be negative", shared.ErrValidation)
	}
	return nil
}

// PaymentResult summarises an applied payment.
type PaymentResult struct {
	PaymentID   uuid.UUID       `json:"pago_id"`
	MovementID  uuid.UUID       `json:"movimiento_id"`
	Operation   Operation       `json:"tipo_operacion"`
	Applied     Breakdown       `json:"desglose"`
	Balance     decimal.Decimal `json:"saldo_pendiente"`
	Status      Status          `json:"estado"`
	DueDate     time.Time       `json:"fecha_vencimiento"`
	CancelledAt *time.Time      `json:"fecha_cancelacion,omitempty"`
}

// VoidInput voids a payment.
type VoidInput struct {
	TenantID  uuid.UUID
	PaymentID uuid.UUID
	Reason    string
	ActorID   uuid.UUID
}

// TransitionInput drives explicit status transitions.
type TransitionInput struct {
	TenantID uuid.UUID
	CreditID uuid.UUID
	ActorID  uuid.UUID
	Reason   string
}
