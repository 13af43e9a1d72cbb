package credit

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/prenda-erp/prenda-erp/internal/interest"
	"github.com/prenda-erp/prenda-erp/internal/ltv"
	"github.com/prenda-erp/prenda-erp/internal/schedule"
	"github.com/prenda-erp/prenda-erp/internal/shared"
)

// Quote is a priced offer derived from collateral and contract terms.
type Quote struct {
	Sizing      ltv.Sizing             `json:"ltv"`
	Amount      decimal.Decimal        `json:"monto"`
	MonthlyRate decimal.Decimal        `json:"tasa_interes"`
	Frequency   schedule.Frequency     `json:"frecuencia"`
	TermDays    int                    `json:"dias_plazo"`
	DisbursedAt time.Time              `json:"fecha_desembolso"`
	DueDate     time.Time              `json:"fecha_vencimiento"`
	Plan        []schedule.Installment `json:"cronograma"`
	Summary     schedule.Summary       `json:"resumen"`
}

// Charges is what a credit owes on top of principal at a point in time.
type Charges struct {
	Interest interest.Interest `json:"interes"`
	Mora     interest.Mora     `json:"mora"`
	Payoff   decimal.Decimal   `json:"monto_desempeno"`
	Renewal  decimal.Decimal   `json:"monto_renovacion"`
}

// ComputeCharges accrues interest from the interest anchor and mora from the due date.
func ComputeCharges(c Credit, now time.Time, cfg interest.Config) Charges {
	accrued := interest.AccruedInterest(c.Balance, c.MonthlyRate, c.InterestFrom, now, cfg)
	mora := interest.CalculateMora(c.Balance, c.DueDate, now, cfg)
	renewal := accrued.Amount.Add(mora.PenaltyDue)
	return Charges{
		Interest: accrued,
		Mora:     mora,
		Renewal:  shared.Round2(renewal),
		Payoff:   shared.Round2(c.Balance.Add(renewal)),
	}
}

func buildQuote(policy *ltv.Policy, in QuoteInput, now time.Time) (Quote, error) {
	sizing, err := policy.SizeLoan(in.MarketValue, in.Category, in.Condition)
	if err != nil {
		return Quote{}, err
	}
	amount := sizing.MaxAmount
	if in.RequestedAmount.IsPositive() {
		amount = shared.Round2(in.RequestedAmount)
	}
	if amount.GreaterThan(sizing.MaxAmount) {
		return Quote{}, ErrExceedsLTV
	}
	freq, err := schedule.ParseFrequency(in.Frequency)
	if err != nil {
		return Quote{}, err
	}
	installments := in.Installments
	if installments == 0 {
		installments = 1
	}
	start := now
	if in.Start != nil {
		start = *in.Start
	}
	plan, err := schedule.Build(amount, in.MonthlyRate, freq, installments, start.AddDate(0, 0, freq.Days()))
	if err != nil {
		return Quote{}, err
	}
	term := installments * freq.Days()
	return Quote{
		Sizing:      sizing,
		Amount:      amount,
		MonthlyRate: in.MonthlyRate,
		Frequency:   freq,
		TermDays:    term,
		DisbursedAt: start,
		DueDate:     start.AddDate(0, 0, term),
		Plan:        plan,
		Summary:     schedule.Summarize(plan),
	}, nil
}
