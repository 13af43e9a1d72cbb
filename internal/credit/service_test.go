package credit_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prenda-erp/prenda-erp/internal/credit"
	"github.com/prenda-erp/prenda-erp/internal/interest"
	"github.com/prenda-erp/prenda-erp/internal/ledger"
	"github.com/prenda-erp/prenda-erp/internal/shared"
)

type staticConfig struct {
	cfg interest.Config
}

func (s staticConfig) Get(ctx context.Context, tenantID uuid.UUID) (interest.Config, error) {
	return s.cfg, nil
}

type allowList map[string]bool

func (a allowList) HasPermission(ctx context.Context, userID uuid.UUID, perm string) (bool, error) {
	return a[perm], nil
}

type harness struct {
	store   *memStore
	service *credit.Service
	perms   allowList
	now     time.Time
	tenant  uuid.UUID
	cashier uuid.UUID
	reg     ledger.Register
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:   newMemStore(),
		perms:   allowList{credit.PermissionVoidPayment: true, credit.PermissionAuction: true, credit.PermissionAnnul: true},
		now:     time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC),
		tenant:  uuid.New(),
		cashier: uuid.New(),
	}
	h.reg = h.store.ledger.AddRegister(ledger.Register{
		TenantID:       h.tenant,
		OperatorID:     h.cashier,
		OpeningBalance: d("5000"),
		OpenedAt:       h.now,
	})
	h.service = credit.NewService(h.store, nil, staticConfig{cfg: interest.Default()}, credit.Options{Perms: h.perms})
	h.service.WithNow(func() time.Time { return h.now })
	return h
}

func (h *harness) advance(days int) {
	h.now = h.now.AddDate(0, 0, days)
}

func (h *harness) issue(t *testing.T, amount string) credit.Credit {
	t.Helper()
	c, err := h.service.Issue(context.Background(), h.issueInput(amount))
	require.NoError(t, err)
	return c
}

func (h *harness) issueInput(amount string) credit.IssueInput {
	return credit.IssueInput{
		TenantID:   h.tenant,
		ActorID:    h.cashier,
		RegisterID: h.reg.ID,
		ClientDoc:  "45871236",
		ClientName: "Rosa Quispe",
		Collateral: credit.CollateralInput{
			Description: "Cadena de oro 18k",
			Category:    "Joyería",
			Condition:   "REGULAR",
			MarketValue: d("1000"),
		},
		Contract: credit.ContractInput{
			Amount:       d(amount),
			MonthlyRate:  d("10"),
			Frequency:    "MENSUAL",
			Installments: 1,
		},
	}
}

func (h *harness) pay(c credit.Credit, op credit.Operation, amount string) (credit.PaymentResult, error) {
	return h.service.RegisterPayment(context.Background(), credit.PaymentInput{
		TenantID:   h.tenant,
		ActorID:    h.cashier,
		RegisterID: h.reg.ID,
		CreditID:   c.ID,
		Amount:     d(amount),
		Operation:  op,
		Method:     "efectivo",
	})
}

func (h *harness) registerBalance() decimal.Decimal {
	return h.store.ledger.Register(h.reg.ID).Balance
}

func TestIssueDisbursesFromRegister(t *testing.T) {
	h := newHarness(t)
	c := h.issue(t, "500")

	assert.Equal(t, credit.StatusCurrent, c.Status)
	assert.True(t, c.Balance.Equal(d("500")))
	assert.Equal(t, 30, c.TermDays)
	assert.Equal(t, h.now.AddDate(0, 0, 30), c.DueDate)
	require.NotNil(t, c.DisbursementMovementID)

	movs := h.store.ledger.Movements()
	require.Len(t, movs, 1)
	assert.Equal(t, ledger.ConceptDisbursement, movs[0].Concept)
	assert.Equal(t, ledger.MovementOutflow, movs[0].Type)
	assert.Equal(t, c.ID, *movs[0].CreditID)
	assert.True(t, h.registerBalance().Equal(d("4500")))
}

func TestIssueRejectsAmountAboveLTV(t *testing.T) {
	h := newHarness(t)
	_, err := h.service.Issue(context.Background(), h.issueInput("531"))
	assert.True(t, errors.Is(err, shared.ErrValidation))
	assert.Empty(t, h.store.ledger.Movements())
}

func TestIssueRequiresOpenRegister(t *testing.T) {
	h := newHarness(t)
	in := h.issueInput("300")
	in.RegisterID = h.store.ledger.AddRegister(ledger.Register{TenantID: h.tenant, OperatorID: uuid.New(), Status: ledger.RegisterClosed}).ID
	_, err := h.service.Issue(context.Background(), in)
	assert.True(t, errors.Is(err, shared.ErrNoOpenRegister))
}

func TestPartialPaymentLeavesStatusUnchanged(t *testing.T) {
	h := newHarness(t)
	c := h.issue(t, "500")
	h.advance(10)

	// 10 days at 10%/30d is settled before capital.
	res, err := h.pay(c, credit.OperationPartial, "100")
	require.NoError(t, err)
	assert.True(t, res.Applied.Interest.Equal(d("16.67")), "interest %s", res.Applied.Interest)
	assert.True(t, res.Applied.Capital.Equal(d("83.33")), "capital %s", res.Applied.Capital)
	assert.True(t, res.Balance.Equal(d("416.67")), "balance %s", res.Balance)
	assert.Equal(t, credit.StatusCurrent, res.Status)

	stored := h.store.credit(c.ID)
	assert.Equal(t, credit.StatusCurrent, stored.Status)
	assert.Nil(t, stored.CancelledAt)
	assert.Equal(t, h.now, stored.InterestFrom)
	assert.True(t, h.registerBalance().Equal(d("4600")))
}

func TestPartialPaymentMustCoverAccruedInterest(t *testing.T) {
	h := newHarness(t)
	c := h.issue(t, "500")
	h.advance(10)
	_, err := h.pay(c, credit.OperationPartial, "16.66")
	assert.True(t, errors.Is(err, shared.ErrValidation))
	assert.Equal(t, 0, h.store.paymentCount())
	assert.True(t, h.store.credit(c.ID).Balance.Equal(d("500")))
}

func TestPartialPaymentOnOverdueContractLeavesMora(t *testing.T) {
	h := newHarness(t)
	c := h.issue(t, "500")
	h.advance(60)

	view, err := h.service.GetCredit(context.Background(), h.tenant, c.ID)
	require.NoError(t, err)
	assert.True(t, view.Charges.Interest.Amount.Equal(d("100")), "interest %s", view.Charges.Interest.Amount)
	assert.True(t, view.Charges.Mora.PenaltyDue.Equal(d("67.5")), "mora %s", view.Charges.Mora.PenaltyDue)

	// Capital plus interest would clear the balance while mora is still owed.
	_, err = h.pay(c, credit.OperationPartial, "600")
	assert.True(t, errors.Is(err, shared.ErrValidation))

	res, err := h.pay(c, credit.OperationPartial, "500")
	require.NoError(t, err)
	assert.True(t, res.Applied.Interest.Equal(d("100")))
	assert.True(t, res.Applied.Capital.Equal(d("400")))
	assert.True(t, res.Applied.Mora.IsZero())
	assert.True(t, res.Balance.Equal(d("100")))
	assert.NotEqual(t, credit.StatusCancelled, res.Status)
	assert.Nil(t, res.CancelledAt)

	view, err = h.service.GetCredit(context.Background(), h.tenant, c.ID)
	require.NoError(t, err)
	assert.True(t, view.Charges.Mora.PenaltyDue.IsPositive(), "mora must stay outstanding")
}

func TestPartialPaymentCannotExceedBalance(t *testing.T) {
	h := newHarness(t)
	c := h.issue(t, "500")
	// Payoff at day 0 is 500 plus one minimum day of interest.
	_, err := h.pay(c, credit.OperationPartial, "501.68")
	assert.True(t, errors.Is(err, shared.ErrValidation))
	assert.Equal(t, 0, h.store.paymentCount())
}

func TestPartialPaymentToZeroCancels(t *testing.T) {
	h := newHarness(t)
	c := h.issue(t, "500")
	res, err := h.pay(c, credit.OperationPartial, "501.67")
	require.NoError(t, err)
	assert.True(t, res.Applied.Capital.Equal(d("500")))
	assert.True(t, res.Applied.Interest.Equal(d("1.67")))
	assert.Equal(t, credit.StatusCancelled, res.Status)
	require.NotNil(t, res.CancelledAt)
	assert.Equal(t, h.now, *res.CancelledAt)
}

func TestRedemptionSettlesContractAtomically(t *testing.T) {
	h := newHarness(t)
	c := h.issue(t, "500")
	h.advance(15)

	view, err := h.service.GetCredit(context.Background(), h.tenant, c.ID)
	require.NoError(t, err)
	assert.True(t, view.Charges.Interest.Amount.Equal(d("25")), "interest %s", view.Charges.Interest.Amount)
	assert.True(t, view.Charges.Payoff.Equal(d("525")), "payoff %s", view.Charges.Payoff)

	res, err := h.pay(c, credit.OperationRedemption, "525")
	require.NoError(t, err)
	assert.Equal(t, credit.StatusCancelled, res.Status)
	assert.True(t, res.Applied.Capital.Equal(d("500")))
	assert.True(t, res.Applied.Interest.Equal(d("25")))

	stored := h.store.credit(c.ID)
	assert.True(t, stored.Balance.IsZero())
	assert.Equal(t, credit.StatusCancelled, stored.Status)
	require.NotNil(t, stored.CancelledAt)
	assert.Equal(t, h.now, *stored.CancelledAt)

	movs := h.store.ledger.Movements()
	require.Len(t, movs, 2)
	assert.Equal(t, ledger.ConceptRedemption, movs[1].Concept)
	assert.Equal(t, res.PaymentID, *movs[1].PaymentID)
	assert.True(t, h.registerBalance().Equal(d("5025")))
}

func TestRedemptionFailureLeavesLedgerAndContractUntouched(t *testing.T) {
	h := newHarness(t)
	c := h.issue(t, "500")
	h.advance(15)
	h.store.failOn["UpdateCredit"] = errors.New("connection reset")

	_, err := h.pay(c, credit.OperationRedemption, "525")
	require.Error(t, err)

	stored := h.store.credit(c.ID)
	assert.True(t, stored.Balance.Equal(d("500")))
	assert.Equal(t, credit.StatusCurrent, stored.Status)
	assert.Nil(t, stored.CancelledAt)
	assert.Len(t, h.store.ledger.Movements(), 1)
	assert.Equal(t, 0, h.store.paymentCount())
	assert.True(t, h.registerBalance().Equal(d("4500")))
}

func TestRedemptionRequiresFullPayoff(t *testing.T) {
	h := newHarness(t)
	c := h.issue(t, "500")
	h.advance(15)
	_, err := h.pay(c, credit.OperationRedemption, "500")
	assert.True(t, errors.Is(err, shared.ErrValidation))
	assert.Equal(t, 0, h.store.paymentCount())
}

func TestRenewalExtendsDueDateAndCollectsCharges(t *testing.T) {
	h := newHarness(t)
	c := h.issue(t, "500")
	originalDue := c.DueDate
	h.advance(35)

	// 35 days of interest at 10%/30d plus 2 penalty days at 0.5%
	_, err := h.pay(c, credit.OperationRenewal, "50")
	assert.True(t, errors.Is(err, shared.ErrValidation))

	res, err := h.pay(c, credit.OperationRenewal, "63.33")
	require.NoError(t, err)
	assert.True(t, res.Applied.Interest.Equal(d("58.33")), "interest %s", res.Applied.Interest)
	assert.True(t, res.Applied.Mora.Equal(d("5")), "mora %s", res.Applied.Mora)
	assert.True(t, res.Applied.Capital.IsZero())
	assert.Equal(t, h.now.AddDate(0, 0, 30), res.DueDate)
	assert.True(t, res.DueDate.After(originalDue.AddDate(0, 0, 30)))
	assert.Equal(t, credit.StatusCurrent, res.Status)

	stored := h.store.credit(c.ID)
	assert.Equal(t, 1, stored.RenewalCount)
	assert.Equal(t, h.now, stored.InterestFrom)
	assert.True(t, stored.Balance.Equal(d("500")))
	assert.Equal(t, ledger.ConceptRenewal, h.store.ledger.Movements()[1].Concept)
}

func TestRenewalOfLongLapsedContractIsCurrent(t *testing.T) {
	h := newHarness(t)
	c := h.issue(t, "500")
	h.advance(400)

	view, err := h.service.GetCredit(context.Background(), h.tenant, c.ID)
	require.NoError(t, err)
	assert.Equal(t, credit.StatusPreAuction, view.DerivedStatus)

	res, err := h.pay(c, credit.OperationRenewal, view.Charges.Renewal.StringFixed(2))
	require.NoError(t, err)
	assert.Equal(t, h.now.AddDate(0, 0, 30), res.DueDate)
	assert.Equal(t, credit.StatusCurrent, res.Status)

	view, err = h.service.GetCredit(context.Background(), h.tenant, c.ID)
	require.NoError(t, err)
	assert.Equal(t, credit.StatusCurrent, view.DerivedStatus)
	assert.True(t, view.Charges.Mora.PenaltyDue.IsZero())
}

func TestRenewalBeforeDueKeepsSchedule(t *testing.T) {
	h := newHarness(t)
	c := h.issue(t, "500")
	h.advance(20)
	res, err := h.pay(c, credit.OperationRenewal, "33.33")
	require.NoError(t, err)
	assert.Equal(t, c.DueDate.AddDate(0, 0, 30), res.DueDate)
}

func TestRenewalExcessReducesPrincipal(t *testing.T) {
	h := newHarness(t)
	c := h.issue(t, "500")
	h.advance(15)
	res, err := h.pay(c, credit.OperationRenewal, "125")
	require.NoError(t, err)
	assert.True(t, res.Applied.Capital.Equal(d("100")))
	assert.True(t, res.Balance.Equal(d("400")))
}

func TestVoidPaymentRestoresSnapshot(t *testing.T) {
	h := newHarness(t)
	c := h.issue(t, "500")
	h.advance(15)
	res, err := h.pay(c, credit.OperationRedemption, "525")
	require.NoError(t, err)

	voided, err := h.service.VoidPayment(context.Background(), credit.VoidInput{TenantID: h.tenant, PaymentID: res.PaymentID, Reason: "billete falso", ActorID: h.cashier})
	require.NoError(t, err)
	assert.True(t, voided.Voided)

	stored := h.store.credit(c.ID)
	assert.True(t, stored.Balance.Equal(d("500")))
	assert.Equal(t, credit.StatusCurrent, stored.Status)
	assert.Nil(t, stored.CancelledAt)
	assert.True(t, h.registerBalance().Equal(d("4500")))

	movs := h.store.ledger.Movements()
	require.Len(t, movs, 3)
	assert.True(t, movs[1].Voided)
	assert.True(t, movs[2].IsReversal)

	_, err = h.service.VoidPayment(context.Background(), credit.VoidInput{TenantID: h.tenant, PaymentID: res.PaymentID, Reason: "otra vez", ActorID: h.cashier})
	assert.True(t, errors.Is(err, shared.ErrAlreadyVoided))
	assert.Len(t, h.store.ledger.Movements(), 3)
}

func TestVoidPaymentOnlyLatest(t *testing.T) {
	h := newHarness(t)
	c := h.issue(t, "500")
	first, err := h.pay(c, credit.OperationPartial, "100")
	require.NoError(t, err)
	_, err = h.pay(c, credit.OperationPartial, "50")
	require.NoError(t, err)

	_, err = h.service.VoidPayment(context.Background(), credit.VoidInput{TenantID: h.tenant, PaymentID: first.PaymentID, Reason: "x", ActorID: h.cashier})
	assert.True(t, errors.Is(err, shared.ErrConflict))
}

func TestVoidPaymentRequiresPermission(t *testing.T) {
	h := newHarness(t)
	c := h.issue(t, "500")
	res, err := h.pay(c, credit.OperationPartial, "100")
	require.NoError(t, err)
	delete(h.perms, credit.PermissionVoidPayment)

	_, err = h.service.VoidPayment(context.Background(), credit.VoidInput{TenantID: h.tenant, PaymentID: res.PaymentID, Reason: "x", ActorID: h.cashier})
	assert.True(t, errors.Is(err, shared.ErrPermissionDenied))
	assert.True(t, h.store.credit(c.ID).Balance.Equal(d("401.67")))
	assert.Len(t, h.store.ledger.Movements(), 2)
}

func TestIdempotencyKeyRejectsReplay(t *testing.T) {
	h := newHarness(t)
	c := h.issue(t, "500")
	in := credit.PaymentInput{
		TenantID:       h.tenant,
		ActorID:        h.cashier,
		RegisterID:     h.reg.ID,
		CreditID:       c.ID,
		Amount:         d("20"),
		Operation:      credit.OperationPartial,
		IdempotencyKey: "pos-7781",
	}
	_, err := h.service.RegisterPayment(context.Background(), in)
	require.NoError(t, err)
	_, err = h.service.RegisterPayment(context.Background(), in)
	assert.True(t, errors.Is(err, shared.ErrIdempotencyConflict))
	assert.True(t, h.store.credit(c.ID).Balance.Equal(d("481.67")))
}

func TestPaymentWithoutOpenRegister(t *testing.T) {
	h := newHarness(t)
	c := h.issue(t, "500")
	_, err := h.service.RegisterPayment(context.Background(), credit.PaymentInput{
		TenantID:   h.tenant,
		ActorID:    h.cashier,
		RegisterID: uuid.New(),
		CreditID:   c.ID,
		Amount:     d("20"),
		Operation:  credit.OperationPartial,
	})
	assert.True(t, errors.Is(err, shared.ErrNotFound))

	closed := h.store.ledger.AddRegister(ledger.Register{TenantID: h.tenant, OperatorID: uuid.New(), Status: ledger.RegisterClosed})
	_, err = h.service.RegisterPayment(context.Background(), credit.PaymentInput{
		TenantID:   h.tenant,
		ActorID:    h.cashier,
		RegisterID: closed.ID,
		CreditID:   c.ID,
		Amount:     d("20"),
		Operation:  credit.OperationPartial,
	})
	assert.True(t, errors.Is(err, shared.ErrNoOpenRegister))
}

func TestPaymentOnClosedCredit(t *testing.T) {
	h := newHarness(t)
	c := h.issue(t, "500")
	_, err := h.pay(c, credit.OperationPartial, "501.67")
	require.NoError(t, err)
	_, err = h.pay(c, credit.OperationPartial, "1")
	assert.True(t, errors.Is(err, credit.ErrCreditClosed))
}

func TestAuctionLifecycle(t *testing.T) {
	h := newHarness(t)
	c := h.issue(t, "500")
	in := credit.TransitionInput{TenantID: h.tenant, CreditID: c.ID, ActorID: h.cashier}

	_, err := h.service.SendToAuction(context.Background(), in)
	assert.True(t, errors.Is(err, credit.ErrInvalidTransition))

	h.advance(65)
	view, err := h.service.GetCredit(context.Background(), h.tenant, c.ID)
	require.NoError(t, err)
	assert.Equal(t, credit.StatusPreAuction, view.DerivedStatus)

	_, err = h.service.MarkSold(context.Background(), in)
	assert.True(t, errors.Is(err, credit.ErrInvalidTransition))

	auctioned, err := h.service.SendToAuction(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, credit.StatusInAuction, auctioned.Status)

	_, err = h.pay(c, credit.OperationRedemption, "600")
	assert.True(t, errors.Is(err, credit.ErrCreditClosed))

	sold, err := h.service.MarkSold(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, credit.StatusSold, sold.Status)
}

func TestVoidPaymentRejectedOnceAuctioned(t *testing.T) {
	h := newHarness(t)
	c := h.issue(t, "500")
	h.advance(65)
	res, err := h.pay(c, credit.OperationPartial, "200")
	require.NoError(t, err)
	in := credit.TransitionInput{TenantID: h.tenant, CreditID: c.ID, ActorID: h.cashier}
	void := credit.VoidInput{TenantID: h.tenant, PaymentID: res.PaymentID, Reason: "billete falso", ActorID: h.cashier}

	_, err = h.service.SendToAuction(context.Background(), in)
	require.NoError(t, err)
	_, err = h.service.VoidPayment(context.Background(), void)
	assert.True(t, errors.Is(err, credit.ErrInvalidTransition))

	_, err = h.service.MarkSold(context.Background(), in)
	require.NoError(t, err)
	movements := len(h.store.ledger.Movements())
	_, err = h.service.VoidPayment(context.Background(), void)
	assert.True(t, errors.Is(err, credit.ErrInvalidTransition))

	stored := h.store.credit(c.ID)
	assert.Equal(t, credit.StatusSold, stored.Status)
	assert.True(t, stored.Balance.Equal(res.Balance))
	assert.Len(t, h.store.ledger.Movements(), movements)
	assert.False(t, h.store.ledger.Movements()[1].Voided)
}

func TestVoidPaymentOfOtherTenant(t *testing.T) {
	h := newHarness(t)
	c := h.issue(t, "500")
	res, err := h.pay(c, credit.OperationPartial, "100")
	require.NoError(t, err)

	_, err = h.service.VoidPayment(context.Background(), credit.VoidInput{TenantID: uuid.New(), PaymentID: res.PaymentID, Reason: "x", ActorID: h.cashier})
	assert.True(t, errors.Is(err, shared.ErrNotFound))
	assert.True(t, h.store.credit(c.ID).Balance.Equal(d("401.67")))
	assert.Len(t, h.store.ledger.Movements(), 2)
}

func TestAnnulReversesDisbursement(t *testing.T) {
	h := newHarness(t)
	c := h.issue(t, "500")
	in := credit.TransitionInput{TenantID: h.tenant, CreditID: c.ID, ActorID: h.cashier, Reason: "datos errados"}

	annulled, err := h.service.Annul(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, credit.StatusAnnulled, annulled.Status)
	assert.True(t, h.registerBalance().Equal(d("5000")))

	_, err = h.service.Annul(context.Background(), in)
	assert.True(t, errors.Is(err, credit.ErrInvalidTransition))
}

func TestAnnulRejectedAfterPayment(t *testing.T) {
	h := newHarness(t)
	c := h.issue(t, "500")
	_, err := h.pay(c, credit.OperationPartial, "10")
	require.NoError(t, err)
	_, err = h.service.Annul(context.Background(), credit.TransitionInput{TenantID: h.tenant, CreditID: c.ID, ActorID: h.cashier, Reason: "x"})
	assert.True(t, errors.Is(err, shared.ErrConflict))
}

func TestEvaluateMoraIsRepeatable(t *testing.T) {
	h := newHarness(t)
	c := h.issue(t, "500")
	h.advance(35)

	run, err := h.service.EvaluateMora(context.Background(), h.now)
	require.NoError(t, err)
	assert.Equal(t, 1, run.Evaluated)
	assert.Equal(t, 1, run.InArrears)
	assert.True(t, run.TotalPenalty.Equal(d("5")))

	again, err := h.service.EvaluateMora(context.Background(), h.now)
	require.NoError(t, err)
	assert.Equal(t, run.Evaluated, again.Evaluated)
	assert.True(t, run.TotalPenalty.Equal(again.TotalPenalty))
	assert.Len(t, h.store.snapshots, 1)
	assert.Equal(t, c.ID, h.store.snapshots[c.ID.String()+h.now.Format("2006-01-02")].CreditID)
}

func TestQuoteUsesLTVAndSchedule(t *testing.T) {
	h := newHarness(t)
	q, err := h.service.Quote(credit.QuoteInput{
		MarketValue:  d("1000"),
		Category:     "joyeria",
		Condition:    "REGULAR",
		MonthlyRate:  d("20"),
		Frequency:    "semanal",
		Installments: 4,
	})
	require.NoError(t, err)
	assert.Equal(t, 53, q.Sizing.LTV)
	assert.True(t, q.Amount.Equal(d("530")))
	assert.Len(t, q.Plan, 4)
	assert.Equal(t, 28, q.TermDays)
	assert.Equal(t, q.DueDate, q.Plan[3].Date)
	assert.True(t, q.Summary.TotalCapital.Equal(d("530")))
}
