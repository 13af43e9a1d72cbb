// Package reconcile compares stored register balances with the balance their
// movement history implies. Mismatches are reported, never corrected.
package reconcile

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/prenda-erp/prenda-erp/internal/ledger"
	"github.com/prenda-erp/prenda-erp/internal/shared"
)

const (
	// DefaultWindowDays is the trailing window scanned when none is given.
	DefaultWindowDays = 7
	// MaxWindowDays bounds a single mismatch scan.
	MaxWindowDays = 90
)

// Result is the reconciliation of one register.
type Result struct {
	RegisterID uuid.UUID             `json:"caja_id"`
	TenantID   uuid.UUID             `json:"tenant_id"`
	OperatorID uuid.UUID             `json:"usuario_id"`
	Status     ledger.RegisterStatus `json:"estado"`
	AsOf       time.Time             `json:"calculado_al"`
	Matches    bool                  `json:"cuadra"`
	Expected   decimal.Decimal       `json:"saldo_esperado"`
	Actual     decimal.Decimal       `json:"saldo_real"`
	Difference decimal.Decimal       `json:"diferencia"`
	Movements  int                   `json:"movimientos"`
	// Later counts rows written after AsOf. The stored balance already
	// includes them, so a mismatch with Later > 0 is not a discrepancy.
	Later int `json:"movimientos_posteriores"`
}

// DayResult aggregates the registers opened on one day.
type DayResult struct {
	Date          time.Time       `json:"fecha"`
	Cuadra        bool            `json:"cuadra"`
	Diferencia    decimal.Decimal `json:"diferencia"`
	SaldoEsperado decimal.Decimal `json:"saldo_esperado"`
	SaldoReal     decimal.Decimal `json:"saldo_real"`
	Detalle       []Result        `json:"detalle"`
}

// Discrepancy is a register/day needing manual review.
type Discrepancy struct {
	ID         uuid.UUID       `json:"id"`
	TenantID   uuid.UUID       `json:"tenant_id"`
	RegisterID uuid.UUID       `json:"caja_id"`
	OperatorID uuid.UUID       `json:"usuario_id"`
	Date       time.Time       `json:"fecha"`
	Expected   decimal.Decimal `json:"saldo_esperado"`
	Actual     decimal.Decimal `json:"saldo_real"`
	Difference decimal.Decimal `json:"diferencia"`
	DetectedAt time.Time       `json:"detectado_at"`
}

// discrepancyID is stable per register and day so reruns upsert the same row.
func discrepancyID(registerID uuid.UUID, day time.Time) uuid.UUID {
	return uuid.NewSHA1(registerID, []byte(day.Format("2006-01-02")))
}

func newDiscrepancy(res Result, day, at time.Time) Discrepancy {
	return Discrepancy{
		ID:         discrepancyID(res.RegisterID, day),
		TenantID:   res.TenantID,
		RegisterID: res.RegisterID,
		OperatorID: res.OperatorID,
		Date:       day,
		Expected:   res.Expected,
		Actual:     res.Actual,
		Difference: res.Difference,
		DetectedAt: at,
	}
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// ParseDate parses YYYY-MM-DD in loc.
func ParseDate(raw string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	day, err := time.ParseInLocation("2006-01-02", raw, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: reconcile: date must be YYYY-MM-DD", shared.ErrValidation)
	}
	return day, nil
}
