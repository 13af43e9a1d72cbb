package interest

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/prenda-erp/prenda-erp/internal/shared"
)

const day = 24 * time.Hour

// DaysBetween returns floor((to - from) / 1 day); negative when to precedes from.
func DaysBetween(from, to time.Time) int {
	return int(math.Floor(float64(to.Sub(from)) / float64(day)))
}

// Mora is the penalty assessment for an overdue balance.
type Mora struct {
	OverdueDays int             `json:"dias_vencido"`
	PenaltyDays int             `json:"dias_mora"`
	Uncapped    decimal.Decimal `json:"mora_sin_tope"`
	Cap         decimal.Decimal `json:"tope"`
	PenaltyDue  decimal.Decimal `json:"mora"`
	Capped      bool            `json:"topado"`
}

// CalculateMora computes the penalty owed on outstanding at now. The cap is
// re-derived from the live balance on every call so penalty never compounds.
func CalculateMora(outstanding decimal.Decimal, dueDate, now time.Time, cfg Config) Mora {
	overdue := DaysBetween(dueDate, now)
	if overdue < 0 {
		overdue = 0
	}
	penaltyDays := overdue - cfg.GraceDays
	if penaltyDays < 0 {
		penaltyDays = 0
	}
	if !outstanding.IsPositive() {
		return Mora{OverdueDays: overdue, PenaltyDays: penaltyDays}
	}
	uncapped := outstanding.Mul(cfg.DailyRate()).Mul(decimal.NewFromInt(int64(penaltyDays)))
	limit := outstanding.Mul(cfg.CapRate())
	due := uncapped
	capped := false
	if uncapped.GreaterThan(limit) {
		due = limit
		capped = true
	}
	return Mora{
		OverdueDays: overdue,
		PenaltyDays: penaltyDays,
		Uncapped:    shared.Round2(uncapped),
		Cap:         shared.Round2(limit),
		PenaltyDue:  shared.Round2(due),
		Capped:      capped,
	}
}

// Interest is ordinary interest accrued on a capital balance.
type Interest struct {
	Days        int             `json:"dias"`
	ChargedDays int             `json:"dias_cobrados"`
	Amount      decimal.Decimal `json:"interes"`
}

// AccruedInterest computes interest on capital at monthlyRate percent per base
// period, from the interest anchor up to now, honouring minimum chargeable days.
func AccruedInterest(capital, monthlyRate decimal.Decimal, from, now time.Time, cfg Config) Interest {
	days := DaysBetween(from, now)
	if days < 0 {
		days = 0
	}
	charged := days
	if charged < cfg.MinimumDays {
		charged = cfg.MinimumDays
	}
	out := Interest{Days: days, ChargedDays: charged, Amount: decimal.Zero}
	if !capital.IsPositive() || charged == 0 || !monthlyRate.IsPositive() {
		return out
	}
	base := cfg.BasePeriodDays
	if base <= 0 {
		base = Default().BasePeriodDays
	}
	rate := shared.Percent(monthlyRate)
	var amount decimal.Decimal
	switch cfg.Mode {
	case ModeCompound:
		amount = capital.Mul(compoundFactor(rate, charged, base, cfg.MonthlyCapitalization).Sub(decimal.NewFromInt(1)))
	default:
		periods := decimal.NewFromInt(int64(charged)).Div(decimal.NewFromInt(int64(base)))
		amount = capital.Mul(rate).Mul(periods)
	}
	out.Amount = shared.Round2(amount)
	return out
}

// compoundFactor returns the growth factor for charged days. With monthly
// capitalization only whole periods compound and the remainder accrues simply.
func compoundFactor(rate decimal.Decimal, charged, base int, capitalize bool) decimal.Decimal {
	r := rate.InexactFloat64()
	if capitalize {
		whole := charged / base
		rem := charged % base
		f := math.Pow(1+r, float64(whole)) * (1 + r*float64(rem)/float64(base))
		return decimal.NewFromFloat(f)
	}
	return decimal.NewFromFloat(math.Pow(1+r, float64(charged)/float64(base)))
}
