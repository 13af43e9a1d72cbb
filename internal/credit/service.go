package credit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/prenda-erp/prenda-erp/internal/interest"
	"github.com/prenda-erp/prenda-erp/internal/ledger"
	"github.com/prenda-erp/prenda-erp/internal/ltv"
	"github.com/prenda-erp/prenda-erp/internal/schedule"
	"github.com/prenda-erp/prenda-erp/internal/shared"
)

// TxRepository exposes credit persistence plus the ledger operations of the same transaction.
type TxRepository interface {
	ledger.TxRepository
	UpsertClient(ctx context.Context, tenantID uuid.UUID, doc, name string) (uuid.UUID, error)
	InsertCollateral(ctx context.Context, c Collateral) (Collateral, error)
	NextCreditCode(ctx context.Context, tenantID uuid.UUID) (string, error)
	InsertCredit(ctx context.Context, c Credit) (Credit, error)
	GetCredit(ctx context.Context, id uuid.UUID) (Credit, error)
	GetCreditForUpdate(ctx context.Context, id uuid.UUID) (Credit, error)
	UpdateCredit(ctx context.Context, c Credit) error
	ReserveIdempotencyKey(ctx context.Context, key string) error
	InsertPayment(ctx context.Context, p Payment) error
	GetPaymentForUpdate(ctx context.Context, id uuid.UUID) (Payment, error)
	LatestActivePayment(ctx context.Context, creditID uuid.UUID) (Payment, error)
	MarkPaymentVoided(ctx context.Context, id uuid.UUID, reason string, actorID uuid.UUID, at time.Time) error
	ListPayments(ctx context.Context, creditID uuid.UUID) ([]Payment, error)
	ListOpenCredits(ctx context.Context) ([]Credit, error)
	UpsertMoraSnapshot(ctx context.Context, s MoraSnapshot) error
}

// RepositoryPort abstracts transactional repository behaviour.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// ConfigSource resolves tenant interest policy.
type ConfigSource interface {
	Get(ctx context.Context, tenantID uuid.UUID) (interest.Config, error)
}

// AuditPort records contract events.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// PermissionChecker resolves whether a user holds a permission.
type PermissionChecker interface {
	HasPermission(ctx context.Context, userID uuid.UUID, permission string) (bool, error)
}

// MetricsPort counts credit activity.
type MetricsPort interface {
	RecordPayment(operation string)
	RecordMovement(concept, kind string)
	RecordReversal(concept string)
}

// Service runs the credit lifecycle.
type Service struct {
	repo    RepositoryPort
	policy  *ltv.Policy
	configs ConfigSource
	audit   AuditPort
	perms   PermissionChecker
	metrics MetricsPort
	status  StatusPolicy
	now     func() time.Time
}

// Options carries the optional collaborators of Service.
type Options struct {
	Audit   AuditPort
	Perms   PermissionChecker
	Metrics MetricsPort
	Status  StatusPolicy
}

// NewService constructs the credit service.
func NewService(repo RepositoryPort, policy *ltv.Policy, configs ConfigSource, opts Options) *Service {
	if policy == nil {
		policy = ltv.MustDefaultPolicy()
	}
	status := opts.Status
	if status == (StatusPolicy{}) {
		status = DefaultStatusPolicy()
	}
	return &Service{
		repo:    repo,
		policy:  policy,
		configs: configs,
		audit:   opts.Audit,
		perms:   opts.Perms,
		metrics: opts.Metrics,
		status:  status,
		now:     time.Now,
	}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Quote sizes a loan and builds its schedule without writing anything.
func (s *Service) Quote(in QuoteInput) (Quote, error) {
	return buildQuote(s.policy, in, s.now())
}

func (s *Service) config(ctx context.Context, tenantID uuid.UUID) (interest.Config, error) {
	if s.configs == nil {
		return interest.Default(), nil
	}
	return s.configs.Get(ctx, tenantID)
}

// Issue creates the collateral and contract and disburses the principal from
// the register, all in one transaction.
func (s *Service) Issue(ctx context.Context, in IssueInput) (Credit, error) {
	if err := in.Validate(); err != nil {
		return Credit{}, err
	}
	now := s.now()
	quote, err := buildQuote(s.policy, QuoteInput{
		MarketValue:     in.Collateral.MarketValue,
		Category:        in.Collateral.Category,
		Condition:       in.Collateral.Condition,
		RequestedAmount: in.Contract.Amount,
		MonthlyRate:     in.Contract.MonthlyRate,
		Frequency:       in.Contract.Frequency,
		Installments:    in.Contract.Installments,
	}, now)
	if err != nil {
		return Credit{}, err
	}
	var created Credit
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		reg, err := tx.GetRegisterForUpdate(ctx, in.RegisterID)
		if err != nil {
			return err
		}
		if !reg.IsOpen() || reg.TenantID != in.TenantID {
			return ledger.ErrRegisterClosed
		}
		if reg.Balance.LessThan(quote.Amount) {
			return ErrInsufficientCash
		}
		clientID, err := tx.UpsertClient(ctx, in.TenantID, strings.TrimSpace(in.ClientDoc), strings.TrimSpace(in.ClientName))
		if err != nil {
			return err
		}
		collateral, err := tx.InsertCollateral(ctx, Collateral{
			TenantID:    in.TenantID,
			ClientID:    clientID,
			Description: strings.TrimSpace(in.Collateral.Description),
			Category:    quote.Sizing.Breakdown.Category,
			Condition:   string(quote.Sizing.Breakdown.Condition),
			MarketValue: shared.Round2(in.Collateral.MarketValue),
			Photos:      in.Collateral.Photos,
		})
		if err != nil {
			return err
		}
		code, err := tx.NextCreditCode(ctx, in.TenantID)
		if err != nil {
			return err
		}
		created, err = tx.InsertCredit(ctx, Credit{
			TenantID:     in.TenantID,
			Code:         code,
			ClientID:     clientID,
			ClientDoc:    strings.TrimSpace(in.ClientDoc),
			ClientName:   strings.TrimSpace(in.ClientName),
			CollateralID: collateral.ID,
			RegisterID:   reg.ID,
			Principal:    quote.Amount,
			MonthlyRate:  quote.MonthlyRate,
			Frequency:    string(quote.Frequency),
			Installments: len(quote.Plan),
			TermDays:     quote.TermDays,
			DisbursedAt:  now,
			DueDate:      quote.DueDate,
			InterestFrom: now,
			Balance:      quote.Amount,
			Status:       StatusCurrent,
			CreatedBy:    in.ActorID,
			CreatedAt:    now,
			UpdatedAt:    now,
		})
		if err != nil {
			return err
		}
		creditID := created.ID
		mov, err := ledger.Post(ctx, tx, ledger.AppendInput{
			TenantID:    in.TenantID,
			RegisterID:  reg.ID,
			Type:        ledger.MovementOutflow,
			Concept:     ledger.ConceptDisbursement,
			Amount:      quote.Amount,
			Description: fmt.Sprintf("Desembolso %s", code),
			AuthorID:    in.ActorID,
			CreditID:    &creditID,
		}, now)
		if err != nil {
			return err
		}
		created.DisbursementMovementID = &mov.ID
		return tx.UpdateCredit(ctx, created)
	})
	if err != nil {
		return Credit{}, err
	}
	if s.metrics != nil {
		s.metrics.RecordMovement(string(ledger.ConceptDisbursement), string(ledger.MovementOutflow))
	}
	s.record(ctx, shared.AuditLog{
		TenantID: in.TenantID,
		ActorID:  in.ActorID,
		Action:   "credito.emitir",
		Entity:   "credito",
		EntityID: created.ID.String(),
		Meta: map[string]any{
			"codigo":  created.Code,
			"monto":   created.Principal.StringFixed(2),
			"ltv":     quote.Sizing.LTV,
			"caja_id": created.RegisterID.String(),
		},
	})
	return created, nil
}

// RegisterPayment applies a payment. The register and contract rows are
// locked, and the ledger append, register balance and contract update commit
// together or not at all.
func (s *Service) RegisterPayment(ctx context.Context, in PaymentInput) (PaymentResult, error) {
	if err := in.Validate(); err != nil {
		return PaymentResult{}, err
	}
	op, _ := ParseOperation(string(in.Operation))
	method := strings.ToUpper(strings.TrimSpace(in.Method))
	if method == "" {
		method = "EFECTIVO"
	}
	cfg, err := s.config(ctx, in.TenantID)
	if err != nil {
		return PaymentResult{}, err
	}
	now := s.now()
	var res PaymentResult
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if key := strings.TrimSpace(in.IdempotencyKey); key != "" {
			if err := tx.ReserveIdempotencyKey(ctx, key); err != nil {
				return err
			}
		}
		reg, err := tx.GetRegisterForUpdate(ctx, in.RegisterID)
		if err != nil {
			return err
		}
		if !reg.IsOpen() {
			return ledger.ErrRegisterClosed
		}
		c, err := tx.GetCreditForUpdate(ctx, in.CreditID)
		if err != nil {
			return err
		}
		if in.TenantID != uuid.Nil && c.TenantID != in.TenantID {
			return ErrCreditNotFound
		}
		if !DeriveStatus(c, now, cfg.GraceDays, s.status).Payable() {
			return ErrCreditClosed
		}
		before := Snapshot{
			Balance:      c.Balance,
			DueDate:      c.DueDate,
			InterestFrom: c.InterestFrom,
			Status:       c.Status,
			CancelledAt:  c.CancelledAt,
			RenewalCount: c.RenewalCount,
		}
		charges := ComputeCharges(c, now, cfg)
		applied, concept, err := apply(&c, op, in, charges, now)
		if err != nil {
			return err
		}
		paymentID := uuid.New()
		creditID := c.ID
		mov, err := ledger.Post(ctx, tx, ledger.AppendInput{
			TenantID:    c.TenantID,
			RegisterID:  reg.ID,
			Type:        ledger.MovementIncome,
			Concept:     concept,
			Amount:      in.Amount,
			Description: fmt.Sprintf("%s %s", op, c.Code),
			AuthorID:    in.ActorID,
			CreditID:    &creditID,
			PaymentID:   &paymentID,
		}, now)
		if err != nil {
			return err
		}
		if err := tx.InsertPayment(ctx, Payment{
			ID:             paymentID,
			TenantID:       c.TenantID,
			CreditID:       c.ID,
			RegisterID:     reg.ID,
			MovementID:     mov.ID,
			Amount:         in.Amount,
			Method:         method,
			Operation:      op,
			Applied:        applied,
			Before:         before,
			IdempotencyKey: strings.TrimSpace(in.IdempotencyKey),
			Metadata:       in.Metadata,
			ActorID:        in.ActorID,
			CreatedAt:      now,
		}); err != nil {
			return err
		}
		c.UpdatedAt = now
		if err := tx.UpdateCredit(ctx, c); err != nil {
			return err
		}
		res = PaymentResult{
			PaymentID:   paymentID,
			MovementID:  mov.ID,
			Operation:   op,
			Applied:     applied,
			Balance:     c.Balance,
			Status:      DeriveStatus(c, now, cfg.GraceDays, s.status),
			DueDate:     c.DueDate,
			CancelledAt: c.CancelledAt,
		}
		return nil
	})
	if err != nil {
		return PaymentResult{}, err
	}
	if s.metrics != nil {
		s.metrics.RecordPayment(string(op))
		s.metrics.RecordMovement(string(operationConcept(op)), string(ledger.MovementIncome))
	}
	s.record(ctx, shared.AuditLog{
		TenantID: in.TenantID,
		ActorID:  in.ActorID,
		Action:   "credito.pago." + strings.ToLower(string(op)),
		Entity:   "pago",
		EntityID: res.PaymentID.String(),
		Meta: map[string]any{
			"credito_id": in.CreditID.String(),
			"monto":      in.Amount.StringFixed(2),
			"capital":    res.Applied.Capital.StringFixed(2),
			"interes":    res.Applied.Interest.StringFixed(2),
			"mora":       res.Applied.Mora.StringFixed(2),
			"estado":     res.Status,
		},
	})
	return res, nil
}

func operationConcept(op Operation) ledger.Concept {
	switch op {
	case OperationRenewal:
		return ledger.ConceptRenewal
	case OperationRedemption:
		return ledger.ConceptRedemption
	default:
		return ledger.ConceptPayment
	}
}

// apply mutates c for the operation and returns how the amount was applied.
func apply(c *Credit, op Operation, in PaymentInput, charges Charges, now time.Time) (Breakdown, ledger.Concept, error) {
	amount := in.Amount
	switch op {
	case OperationPartial:
		// Accrued interest is settled first and the rest reduces capital.
		// Mora is left outstanding, so clearing the balance needs DESEMPENO.
		accrued := charges.Interest.Amount
		if amount.LessThan(accrued) {
			return Breakdown{}, "", fmt.Errorf("%w: credit: amount must cover accrued interest %s", shared.ErrValidation, accrued.StringFixed(2))
		}
		capital := amount.Sub(accrued)
		if capital.GreaterThan(c.Balance) {
			return Breakdown{}, "", fmt.Errorf("%w: credit: amount exceeds payoff %s", shared.ErrValidation, c.Balance.Add(accrued).StringFixed(2))
		}
		if capital.Equal(c.Balance) && charges.Mora.PenaltyDue.IsPositive() {
			return Breakdown{}, "", fmt.Errorf("%w: credit: mora %s outstanding, use %s", shared.ErrValidation, charges.Mora.PenaltyDue.StringFixed(2), OperationRedemption)
		}
		c.Balance = c.Balance.Sub(capital)
		c.InterestFrom = now
		if c.Balance.IsZero() {
			c.Status = StatusCancelled
			c.CancelledAt = &now
		}
		return Breakdown{Capital: capital, Interest: accrued, Mora: decimal.Zero}, ledger.ConceptPayment, nil

	case OperationRenewal:
		if amount.LessThan(charges.Renewal) {
			return Breakdown{}, "", fmt.Errorf("%w: credit: renewal requires at least %s", shared.ErrValidation, charges.Renewal.StringFixed(2))
		}
		excess := amount.Sub(charges.Renewal)
		if !excess.LessThan(c.Balance) {
			return Breakdown{}, "", fmt.Errorf("%w: credit: amount settles the contract, use %s", shared.ErrValidation, OperationRedemption)
		}
		extension := in.ExtensionDays
		if extension == 0 {
			extension = c.TermDays
		}
		if extension == 0 {
			extension = schedule.Monthly.Days()
		}
		// A lapsed contract is re-anchored on today so the renewal buys a full term.
		base := c.DueDate
		if now.After(base) {
			base = now
		}
		c.Balance = c.Balance.Sub(excess)
		c.DueDate = base.AddDate(0, 0, extension)
		c.InterestFrom = now
		c.RenewalCount++
		c.Status = StatusCurrent
		return Breakdown{Capital: excess, Interest: charges.Interest.Amount, Mora: charges.Mora.PenaltyDue}, ledger.ConceptRenewal, nil

	case OperationRedemption:
		if charges.Payoff.Sub(amount).GreaterThanOrEqual(shared.Cent) {
			return Breakdown{}, "", fmt.Errorf("%w: credit: redemption requires %s", shared.ErrValidation, charges.Payoff.StringFixed(2))
		}
		if amount.Sub(charges.Payoff).GreaterThanOrEqual(shared.Cent) {
			return Breakdown{}, "", fmt.Errorf("%w: credit: amount exceeds payoff %s", shared.ErrValidation, charges.Payoff.StringFixed(2))
		}
		applied := Breakdown{Capital: c.Balance, Interest: charges.Interest.Amount, Mora: charges.Mora.PenaltyDue}
		c.Balance = decimal.Zero
		c.Status = StatusCancelled
		c.CancelledAt = &now
		return applied, ledger.ConceptRedemption, nil
	}
	return Breakdown{}, "", fmt.Errorf("%w: credit: unknown operation %q", shared.ErrValidation, op)
}

// Renew is RegisterPayment with a RENOVACION operation.
func (s *Service) Renew(ctx context.Context, in PaymentInput) (PaymentResult, error) {
	in.Operation = OperationRenewal
	return s.RegisterPayment(ctx, in)
}

// VoidPayment annuls a payment: its movement is reversed in the ledger and the
// contract returns to its pre-payment snapshot, in one transaction. Only the
// latest active payment of a contract can be voided.
func (s *Service) VoidPayment(ctx context.Context, in VoidInput) (Payment, error) {
	if in.TenantID == uuid.Nil || in.PaymentID == uuid.Nil || in.ActorID == uuid.Nil {
		return Payment{}, fmt.Errorf("%w: credit: tenant, payment and actor required", shared.ErrValidation)
	}
	if strings.TrimSpace(in.Reason) == "" {
		return Payment{}, fmt.Errorf("%w: credit: reason required", shared.ErrValidation)
	}
	if err := s.authorize(ctx, in.ActorID, PermissionVoidPayment); err != nil {
		return Payment{}, err
	}
	now := s.now()
	var voided Payment
	var reversal ledger.Movement
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		p, err := tx.GetPaymentForUpdate(ctx, in.PaymentID)
		if err != nil {
			return err
		}
		if p.TenantID != in.TenantID {
			return ErrPaymentNotFound
		}
		if p.Voided {
			return ErrPaymentVoided
		}
		c, err := tx.GetCreditForUpdate(ctx, p.CreditID)
		if err != nil {
			return err
		}
		switch c.Status {
		case StatusInAuction, StatusSold, StatusAnnulled:
			return fmt.Errorf("%w: payment on a %s contract cannot be voided", ErrInvalidTransition, c.Status)
		}
		latest, err := tx.LatestActivePayment(ctx, c.ID)
		if err != nil {
			return err
		}
		if latest.ID != p.ID {
			return ErrNotLatestPayment
		}
		reversal, err = ledger.Reverse(ctx, tx, ledger.ReverseInput{
			TenantID:    p.TenantID,
			MovementID:  p.MovementID,
			Reason:      in.Reason,
			RequestedBy: in.ActorID,
		}, now)
		if err != nil {
			return err
		}
		if err := tx.MarkPaymentVoided(ctx, p.ID, strings.TrimSpace(in.Reason), in.ActorID, now); err != nil {
			return err
		}
		c.Balance = p.Before.Balance
		c.DueDate = p.Before.DueDate
		c.InterestFrom = p.Before.InterestFrom
		c.Status = p.Before.Status
		c.CancelledAt = p.Before.CancelledAt
		c.RenewalCount = p.Before.RenewalCount
		c.UpdatedAt = now
		if err := tx.UpdateCredit(ctx, c); err != nil {
			return err
		}
		actor := in.ActorID
		p.Voided = true
		p.VoidReason = strings.TrimSpace(in.Reason)
		p.VoidedBy = &actor
		p.VoidedAt = &now
		voided = p
		return nil
	})
	if err != nil {
		return Payment{}, err
	}
	if s.metrics != nil {
		s.metrics.RecordReversal(string(operationConcept(voided.Operation)))
	}
	s.record(ctx, shared.AuditLog{
		TenantID: voided.TenantID,
		ActorID:  in.ActorID,
		Action:   "credito.pago.anular",
		Entity:   "pago",
		EntityID: voided.ID.String(),
		Meta: map[string]any{
			"credito_id":  voided.CreditID.String(),
			"motivo":      voided.VoidReason,
			"reversal_id": reversal.ID.String(),
		},
	})
	return voided, nil
}

// SendToAuction moves a PRE_REMATE credit into EN_REMATE.
func (s *Service) SendToAuction(ctx context.Context, in TransitionInput) (Credit, error) {
	return s.transition(ctx, in, PermissionAuction, "credito.remate", func(c Credit, derived Status) error {
		if derived != StatusPreAuction {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, derived, StatusInAuction)
		}
		return nil
	}, StatusInAuction)
}

// MarkSold closes an EN_REMATE credit as VENDIDO.
func (s *Service) MarkSold(ctx context.Context, in TransitionInput) (Credit, error) {
	return s.transition(ctx, in, PermissionAuction, "credito.vendido", func(c Credit, derived Status) error {
		if c.Status != StatusInAuction {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, derived, StatusSold)
		}
		return nil
	}, StatusSold)
}

// Annul voids a contract issued in error. It is allowed only before any
// payment, and the disbursement is reversed in the same transaction.
func (s *Service) Annul(ctx context.Context, in TransitionInput) (Credit, error) {
	if strings.TrimSpace(in.Reason) == "" {
		return Credit{}, fmt.Errorf("%w: credit: reason required", shared.ErrValidation)
	}
	return s.transition(ctx, in, PermissionAnnul, "credito.anular", nil, StatusAnnulled)
}

func (s *Service) transition(ctx context.Context, in TransitionInput, perm, action string, guard func(Credit, Status) error, target Status) (Credit, error) {
	if in.CreditID == uuid.Nil || in.ActorID == uuid.Nil {
		return Credit{}, fmt.Errorf("%w: credit: credit and actor required", shared.ErrValidation)
	}
	if err := s.authorize(ctx, in.ActorID, perm); err != nil {
		return Credit{}, err
	}
	cfg, err := s.config(ctx, in.TenantID)
	if err != nil {
		return Credit{}, err
	}
	now := s.now()
	var out Credit
	var from Status
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		c, err := tx.GetCreditForUpdate(ctx, in.CreditID)
		if err != nil {
			return err
		}
		if in.TenantID != uuid.Nil && c.TenantID != in.TenantID {
			return ErrCreditNotFound
		}
		from = DeriveStatus(c, now, cfg.GraceDays, s.status)
		if guard != nil {
			if err := guard(c, from); err != nil {
				return err
			}
		}
		if target == StatusAnnulled {
			if err := annul(ctx, tx, c, in, from, now); err != nil {
				return err
			}
		}
		c.Status = target
		c.UpdatedAt = now
		if err := tx.UpdateCredit(ctx, c); err != nil {
			return err
		}
		out = c
		return nil
	})
	if err != nil {
		return Credit{}, err
	}
	s.record(ctx, shared.AuditLog{
		TenantID: out.TenantID,
		ActorID:  in.ActorID,
		Action:   action,
		Entity:   "credito",
		EntityID: out.ID.String(),
		Meta: map[string]any{
			"desde":  from,
			"hacia":  target,
			"motivo": in.Reason,
		},
	})
	return out, nil
}

func annul(ctx context.Context, tx TxRepository, c Credit, in TransitionInput, from Status, now time.Time) error {
	if !from.Payable() {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, StatusAnnulled)
	}
	_, err := tx.LatestActivePayment(ctx, c.ID)
	if err == nil {
		return fmt.Errorf("%w: credit has payments", ErrInvalidTransition)
	}
	if !errors.Is(err, ErrPaymentNotFound) {
		return err
	}
	if c.DisbursementMovementID == nil {
		return nil
	}
	_, err = ledger.Reverse(ctx, tx, ledger.ReverseInput{
		MovementID:  *c.DisbursementMovementID,
		Reason:      "Anulación de contrato: " + strings.TrimSpace(in.Reason),
		RequestedBy: in.ActorID,
	}, now)
	return err
}

// View is a credit as seen at a point in time.
type View struct {
	Credit
	DerivedStatus Status    `json:"estado_actual"`
	Charges       Charges   `json:"cargos"`
	Payments      []Payment `json:"pagos"`
	AsOf          time.Time `json:"calculado_al"`
}

// GetCredit returns the credit with its derived status and current charges.
func (s *Service) GetCredit(ctx context.Context, tenantID, id uuid.UUID) (View, error) {
	cfg, err := s.config(ctx, tenantID)
	if err != nil {
		return View{}, err
	}
	now := s.now()
	var view View
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		c, err := tx.GetCredit(ctx, id)
		if err != nil {
			return err
		}
		if tenantID != uuid.Nil && c.TenantID != tenantID {
			return ErrCreditNotFound
		}
		payments, err := tx.ListPayments(ctx, id)
		if err != nil {
			return err
		}
		if payments == nil {
			payments = []Payment{}
		}
		view = View{
			Credit:        c,
			DerivedStatus: DeriveStatus(c, now, cfg.GraceDays, s.status),
			Charges:       ComputeCharges(c, now, cfg),
			Payments:      payments,
			AsOf:          now,
		}
		if !view.DerivedStatus.Payable() {
			view.Charges = Charges{Payoff: decimal.Zero, Renewal: decimal.Zero}
		}
		return nil
	})
	return view, err
}

// MoraRun summarises one mora evaluation pass.
type MoraRun struct {
	Evaluated    int             `json:"evaluados"`
	InArrears    int             `json:"en_mora"`
	TotalPenalty decimal.Decimal `json:"mora_total"`
}

// EvaluateMora snapshots status, interest and mora of every open credit for
// the day of asOf. Snapshots are upserted per credit and day so reruns are safe.
func (s *Service) EvaluateMora(ctx context.Context, asOf time.Time) (MoraRun, error) {
	run := MoraRun{TotalPenalty: decimal.Zero}
	configs := map[uuid.UUID]interest.Config{}
	day := time.Date(asOf.Year(), asOf.Month(), asOf.Day(), 0, 0, 0, 0, asOf.Location())
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		credits, err := tx.ListOpenCredits(ctx)
		if err != nil {
			return err
		}
		for _, c := range credits {
			cfg, ok := configs[c.TenantID]
			if !ok {
				cfg, err = s.config(ctx, c.TenantID)
				if err != nil {
					return err
				}
				configs[c.TenantID] = cfg
			}
			status := DeriveStatus(c, asOf, cfg.GraceDays, s.status)
			if !status.Payable() {
				continue
			}
			charges := ComputeCharges(c, asOf, cfg)
			if err := tx.UpsertMoraSnapshot(ctx, MoraSnapshot{
				CreditID:    c.ID,
				TenantID:    c.TenantID,
				Date:        day,
				Status:      status,
				OverdueDays: charges.Mora.OverdueDays,
				Interest:    charges.Interest.Amount,
				Mora:        charges.Mora.PenaltyDue,
				Balance:     c.Balance,
			}); err != nil {
				return err
			}
			run.Evaluated++
			if status == StatusInArrears || status == StatusPreAuction {
				run.InArrears++
			}
			run.TotalPenalty = run.TotalPenalty.Add(charges.Mora.PenaltyDue)
		}
		return nil
	})
	if err != nil {
		return MoraRun{}, err
	}
	return run, nil
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

func (s *Service) record(ctx context.Context, log shared.AuditLog) {
	if s.audit == nil {
		return
	}
	log.At = s.now()
	_ = s.audit.Record(ctx, log)
}
