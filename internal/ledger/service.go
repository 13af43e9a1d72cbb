package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/prenda-erp/prenda-erp/internal/shared"
)

// RepositoryPort abstracts transactional repository behaviour.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// AuditPort records ledger events for compliance.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// PermissionChecker resolves whether a user holds a permission.
type PermissionChecker interface {
	HasPermission(ctx context.Context, userID uuid.UUID, permission string) (bool, error)
}

// MetricsPort counts ledger activity.
type MetricsPort interface {
	RecordMovement(concept, kind string)
	RecordReversal(concept string)
}

// Service coordinates registers, movement appends and reversals.
type Service struct {
	repo    RepositoryPort
	audit   AuditPort
	perms   PermissionChecker
	metrics MetricsPort
	now     func() time.Time
}

// NewService constructs the ledger service.
func NewService(repo RepositoryPort, audit AuditPort, perms PermissionChecker, metrics MetricsPort) *Service {
	return &Service{repo: repo, audit: audit, perms: perms, metrics: metrics, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// OpenRegister opens a register for the operator, or returns the one already
// open. A concurrent open that trips the unique index is resolved the same way.
func (s *Service) OpenRegister(ctx context.Context, in OpenInput) (OpenResult, error) {
	if err := in.Validate(); err != nil {
		return OpenResult{}, err
	}
	var res OpenResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		existing, err := tx.GetOpenRegisterForOperator(ctx, in.TenantID, in.OperatorID)
		if err == nil {
			res = OpenResult{Register: existing, Reused: true}
			return nil
		}
		if !errors.Is(err, shared.ErrNoOpenRegister) {
			return err
		}
		reg, err := tx.InsertRegister(ctx, Register{
			TenantID:       in.TenantID,
			OperatorID:     in.OperatorID,
			OpeningBalance: shared.Round2(in.OpeningBalance),
			OpenedAt:       s.now(),
		})
		if err != nil {
			return err
		}
		res = OpenResult{Register: reg}
		return nil
	})
	if errors.Is(err, ErrOpenRegisterExists) {
		reg, lookupErr := s.OpenRegisterFor(ctx, in.TenantID, in.OperatorID)
		if lookupErr != nil {
			return OpenResult{}, lookupErr
		}
		return OpenResult{Register: reg, Reused: true}, nil
	}
	if err != nil {
		return OpenResult{}, err
	}
	if !res.Reused {
		s.record(ctx, shared.AuditLog{
			TenantID: in.TenantID,
			ActorID:  in.OperatorID,
			Action:   "caja.abrir",
			Entity:   "caja_operativa",
			EntityID: res.Register.ID.String(),
			Meta: map[string]any{
				"saldo_inicial": res.Register.OpeningBalance.StringFixed(2),
			},
		})
	}
	return res, nil
}

// OpenRegisterFor returns the operator's open register.
func (s *Service) OpenRegisterFor(ctx context.Context, tenantID, operatorID uuid.UUID) (Register, error) {
	var reg Register
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		reg, err = tx.GetOpenRegisterForOperator(ctx, tenantID, operatorID)
		return err
	})
	return reg, err
}

// GetRegister loads a register of the tenant by id.
func (s *Service) GetRegister(ctx context.Context, tenantID, id uuid.UUID) (Register, error) {
	var reg Register
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		reg, err = tenantRegister(ctx, tx, tenantID, id)
		return err
	})
	return reg, err
}

func tenantRegister(ctx context.Context, tx TxRepository, tenantID, id uuid.UUID) (Register, error) {
	if tenantID == uuid.Nil {
		return Register{}, fmt.Errorf("%w: ledger: tenant required", shared.ErrValidation)
	}
	reg, err := tx.GetRegister(ctx, id)
	if err != nil {
		return Register{}, err
	}
	if reg.TenantID != tenantID {
		return Register{}, ErrRegisterNotFound
	}
	return reg, nil
}

// CloseRegister closes an open register and compares declared cash to the stored balance.
func (s *Service) CloseRegister(ctx context.Context, in CloseInput) (CloseResult, error) {
	if in.TenantID == uuid.Nil || in.RegisterID == uuid.Nil {
		return CloseResult{}, fmt.Errorf("%w: ledger: tenant and register required", shared.ErrValidation)
	}
	if in.Declared.IsNegative() {
		return CloseResult{}, fmt.Errorf("%w: ledger: declared amount must not be negative", shared.ErrValidation)
	}
	var res CloseResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		reg, err := tx.GetRegisterForUpdate(ctx, in.RegisterID)
		if err != nil {
			return err
		}
		if reg.TenantID != in.TenantID {
			return ErrRegisterNotFound
		}
		if !reg.IsOpen() {
			return ErrRegisterClosed
		}
		closedAt := s.now()
		declared := shared.Round2(in.Declared)
		if err := tx.CloseRegister(ctx, reg.ID, declared, closedAt); err != nil {
			return err
		}
		reg.Status = RegisterClosed
		reg.ClosedAt = &closedAt
		reg.DeclaredClosing = decimal.NewNullDecimal(declared)
		diff := declared.Sub(reg.Balance)
		res = CloseResult{
			Register:   reg,
			Expected:   reg.Balance,
			Declared:   declared,
			Difference: diff,
			Matches:    diff.Abs().LessThan(shared.Cent),
		}
		return nil
	})
	if err != nil {
		return CloseResult{}, err
	}
	s.record(ctx, shared.AuditLog{
		TenantID: res.Register.TenantID,
		ActorID:  in.ActorID,
		Action:   "caja.cerrar",
		Entity:   "caja_operativa",
		EntityID: res.Register.ID.String(),
		Meta: map[string]any{
			"saldo_esperado": res.Expected.StringFixed(2),
			"declarado":      res.Declared.StringFixed(2),
			"diferencia":     res.Difference.StringFixed(2),
		},
	})
	return res, nil
}

// AppendMovement records a movement on an open register of the tenant.
func (s *Service) AppendMovement(ctx context.Context, in AppendInput) (Movement, error) {
	if in.TenantID == uuid.Nil {
		return Movement{}, fmt.Errorf("%w: ledger: tenant required", shared.ErrValidation)
	}
	var m Movement
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		m, err = Post(ctx, tx, in, s.now())
		return err
	})
	if err != nil {
		return Movement{}, err
	}
	s.afterAppend(ctx, m)
	return m, nil
}

// AppendForOperator records a manual movement against the operator's open register.
func (s *Service) AppendForOperator(ctx context.Context, in ManualInput) (Movement, error) {
	concept, kind, err := in.Resolve()
	if err != nil {
		return Movement{}, err
	}
	var m Movement
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		reg, err := tx.GetOpenRegisterForOperator(ctx, in.TenantID, in.OperatorID)
		if err != nil {
			return err
		}
		m, err = Post(ctx, tx, AppendInput{
			TenantID:    in.TenantID,
			RegisterID:  reg.ID,
			Type:        kind,
			Concept:     concept,
			Amount:      in.Amount,
			Description: in.Description,
			AuthorID:    in.OperatorID,
		}, s.now())
		return err
	})
	if err != nil {
		return Movement{}, err
	}
	s.afterAppend(ctx, m)
	return m, nil
}

func (s *Service) afterAppend(ctx context.Context, m Movement) {
	if s.metrics != nil {
		s.metrics.RecordMovement(string(m.Concept), string(m.Type))
	}
	s.record(ctx, shared.AuditLog{
		TenantID: m.TenantID,
		ActorID:  m.AuthorID,
		Action:   "caja.movimiento.registrar",
		Entity:   "movimiento_caja",
		EntityID: m.ID.String(),
		Meta: map[string]any{
			"caja_id":  m.RegisterID.String(),
			"tipo":     m.Type,
			"concepto": m.Concept,
			"monto":    m.Amount.StringFixed(2),
		},
	})
}

// ReverseMovement voids a movement with a compensating entry. The permission
// check runs before any write. Movements tied to a credit or payment are
// refused so cash and contract state cannot drift apart.
func (s *Service) ReverseMovement(ctx context.Context, in ReverseInput) (Movement, error) {
	if err := in.Validate(); err != nil {
		return Movement{}, err
	}
	if in.TenantID == uuid.Nil {
		return Movement{}, fmt.Errorf("%w: ledger: tenant required", shared.ErrValidation)
	}
	if err := s.authorize(ctx, in.RequestedBy, PermissionReverse); err != nil {
		return Movement{}, err
	}
	var reversal Movement
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		original, err := tx.GetMovementForUpdate(ctx, in.MovementID)
		if err != nil {
			return err
		}
		if original.TenantID != in.TenantID {
			return ErrMovementNotFound
		}
		if original.CreditID != nil || original.PaymentID != nil {
			return ErrLinkedMovement
		}
		reversal, err = Reverse(ctx, tx, in, s.now())
		return err
	})
	if err != nil {
		return Movement{}, err
	}
	if s.metrics != nil {
		s.metrics.RecordReversal(string(ConceptReversal))
	}
	s.record(ctx, shared.AuditLog{
		TenantID: reversal.TenantID,
		ActorID:  in.RequestedBy,
		Action:   "caja.movimiento.anular",
		Entity:   "movimiento_caja",
		EntityID: in.MovementID.String(),
		Meta: map[string]any{
			"reversal_id": reversal.ID.String(),
			"motivo":      in.Reason,
		},
	})
	return reversal, nil
}

func (s *Service) authorize(ctx context.Context, userID uuid.UUID, perm string) error {
	if s.perms == nil {
		return fmt.Errorf("%w: %s", shared.ErrPermissionDenied, perm)
	}
	ok, err := s.perms.HasPermission(ctx, userID, perm)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", shared.ErrPermissionDenied, perm)
	}
	return nil
}

// EffectiveBalance is opening balance plus the signed sum of counted movements.
func (s *Service) EffectiveBalance(ctx context.Context, tenantID, registerID uuid.UUID) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		reg, err := tenantRegister(ctx, tx, tenantID, registerID)
		if err != nil {
			return err
		}
		balance, err = Effective(ctx, tx, reg)
		return err
	})
	return balance, err
}

// ListMovements returns the register's full history, voided rows included.
func (s *Service) ListMovements(ctx context.Context, tenantID, registerID uuid.UUID) ([]Movement, error) {
	var out []Movement
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tenantRegister(ctx, tx, tenantID, registerID); err != nil {
			return err
		}
		var err error
		out, err = tx.ListMovements(ctx, registerID)
		return err
	})
	return out, err
}

func (s *Service) record(ctx context.Context, log shared.AuditLog) {
	if s.audit == nil {
		return
	}
	log.At = s.now()
	_ = s.audit.Record(ctx, log)
}
