// Package schedule builds equal-principal installment plans for pawn credits.
package schedule

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/prenda-erp/prenda-erp/internal/shared"
)

// Frequency is the installment cadence.
type Frequency string

const (
	Daily      Frequency = "DIARIO"
	Weekly     Frequency = "SEMANAL"
	Biweekly   Frequency = "QUINCENAL"
	ThreeWeeks Frequency = "TRISEMANAL"
	Monthly    Frequency = "MENSUAL"
)

var frequencyAliases = map[string]Frequency{
	"DIARIO":     Daily,
	"DAILY":      Daily,
	"SEMANAL":    Weekly,
	"WEEKLY":     Weekly,
	"QUINCENAL":  Biweekly,
	"BIWEEKLY":   Biweekly,
	"TRISEMANAL": ThreeWeeks,
	"TRIWEEKLY":  ThreeWeeks,
	"MENSUAL":    Monthly,
	"MONTHLY":    Monthly,
}

// ParseFrequency resolves a case-insensitive frequency name.
func ParseFrequency(raw string) (Frequency, error) {
	f, ok := frequencyAliases[strings.ToUpper(strings.TrimSpace(raw))]
	if !ok {
		return "", fmt.Errorf("%w: unknown frequency %q", shared.ErrValidation, raw)
	}
	return f, nil
}

// Days is the spacing between installments.
func (f Frequency) Days() int {
	switch f {
	case Daily:
		return 1
	case Weekly:
		return 7
	case Biweekly:
		return 15
	case ThreeWeeks:
		return 21
	default:
		return 30
	}
}

// Rate converts a monthly percentage into the per-installment percentage.
func (f Frequency) Rate(monthly decimal.Decimal) decimal.Decimal {
	switch f {
	case Daily:
		return monthly.Div(decimal.NewFromInt(30))
	case Weekly:
		return monthly.Div(decimal.NewFromInt(4))
	case Biweekly:
		return monthly.Div(decimal.NewFromInt(2))
	case ThreeWeeks:
		return monthly.Div(decimal.NewFromInt(4)).Mul(decimal.NewFromInt(3))
	default:
		return monthly
	}
}

// Installment is one row of the plan. Saldo is the balance after the row is paid.
type Installment struct {
	Number   int             `json:"numero"`
	Date     time.Time       `json:"fecha"`
	Capital  decimal.Decimal `json:"capital"`
	Interest decimal.Decimal `json:"interes"`
	Total    decimal.Decimal `json:"total"`
	Saldo    decimal.Decimal `json:"saldo"`
}

// Build returns count installments amortizing principal in equal capital parts.
// Interest is charged on the balance before each row's capital is subtracted and
// the last row absorbs any rounding residual.
func Build(principal, monthlyRate decimal.Decimal, freq Frequency, count int, start time.Time) ([]Installment, error) {
	if !principal.IsPositive() {
		return nil, fmt.Errorf("%w: principal must be positive", shared.ErrValidation)
	}
	if count < 1 {
		return nil, fmt.Errorf("%w: installment count must be at least 1", shared.ErrValidation)
	}
	if monthlyRate.IsNegative() {
		return nil, fmt.Errorf("%w: rate must not be negative", shared.ErrValidation)
	}
	freq, err := ParseFrequency(string(freq))
	if err != nil {
		return nil, err
	}

	rate := shared.Percent(freq.Rate(monthlyRate))
	capitalPart := shared.Round2(principal.Div(decimal.NewFromInt(int64(count))))
	remaining := shared.Round2(principal)
	step := freq.Days()

	out := make([]Installment, 0, count)
	for i := 1; i <= count; i++ {
		interest := shared.Round2(remaining.Mul(rate))
		capital := capitalPart
		if i == count || capital.GreaterThan(remaining) {
			capital = remaining
		}
		remaining = remaining.Sub(capital)
		out = append(out, Installment{
			Number:   i,
			Date:     start.AddDate(0, 0, (i-1)*step),
			Capital:  capital,
			Interest: interest,
			Total:    capital.Add(interest),
			Saldo:    remaining,
		})
	}
	return out, nil
}

// Summary aggregates a plan for quotes.
type Summary struct {
	Installments  int             `json:"cuotas"`
	TotalCapital  decimal.Decimal `json:"total_capital"`
	TotalInterest decimal.Decimal `json:"total_interes"`
	TotalPayable  decimal.Decimal `json:"total_pagar"`
	LastDate      time.Time       `json:"fecha_ultima_cuota"`
}

// Summarize totals a plan.
func Summarize(plan []Installment) Summary {
	s := Summary{
		Installments:  len(plan),
		TotalCapital:  decimal.Zero,
		TotalInterest: decimal.Zero,
		TotalPayable:  decimal.Zero,
	}
	for _, row := range plan {
		s.TotalCapital = s.TotalCapital.Add(row.Capital)
		s.TotalInterest = s.TotalInterest.Add(row.Interest)
		s.TotalPayable = s.TotalPayable.Add(row.Total)
		if row.Date.After(s.LastDate) {
			s.LastDate = row.Date
		}
	}
	return s
}
