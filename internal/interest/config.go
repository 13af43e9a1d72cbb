// Package interest holds per-tenant interest policy and the interest/mora calculator.
package interest

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/prenda-erp/prenda-erp/internal/shared"
)

// Mode enumerates interest calculation modes.
type Mode string

const (
	ModeSimple   Mode = "simple"
	ModeCompound Mode = "compuesto"
)

// Config is the tenant interest policy stored as the config_intereses blob.
type Config struct {
	BasePeriodDays        int     `json:"dias_periodo_base" validate:"gte=1,lte=365"`
	GraceDays             int     `json:"dias_gracia" validate:"gte=0,lte=30"`
	Mode                  Mode    `json:"modo_calculo" validate:"oneof=simple compuesto"`
	DailyPenaltyRate      float64 `json:"tasa_mora_diaria" validate:"gte=0,lte=5"`
	MinimumDays           int     `json:"dias_minimos" validate:"gte=0,lte=365"`
	MonthlyCapitalization bool    `json:"capitalizacion_mensual"`
	MonthlyPenaltyCap     float64 `json:"tope_mora_mensual" validate:"gte=0,lte=100"`
}

// Default returns the policy applied until a tenant overrides it.
func Default() Config {
	return Config{
		BasePeriodDays:        30,
		GraceDays:             3,
		Mode:                  ModeSimple,
		DailyPenaltyRate:      0.5,
		MinimumDays:           1,
		MonthlyCapitalization: false,
		MonthlyPenaltyCap:     15,
	}
}

// Patch carries a partial update; nil fields keep their current value.
type Patch struct {
	BasePeriodDays        *int     `json:"dias_periodo_base,omitempty"`
	GraceDays             *int     `json:"dias_gracia,omitempty"`
	Mode                  *Mode    `json:"modo_calculo,omitempty"`
	DailyPenaltyRate      *float64 `json:"tasa_mora_diaria,omitempty"`
	MinimumDays           *int     `json:"dias_minimos,omitempty"`
	MonthlyCapitalization *bool    `json:"capitalizacion_mensual,omitempty"`
	MonthlyPenaltyCap     *float64 `json:"tope_mora_mensual,omitempty"`
}

// Apply merges the patch over base.
func (p Patch) Apply(base Config) Config {
	out := base
	if p.BasePeriodDays != nil {
		out.BasePeriodDays = *p.BasePeriodDays
	}
	if p.GraceDays != nil {
		out.GraceDays = *p.GraceDays
	}
	if p.Mode != nil {
		out.Mode = Mode(strings.ToLower(strings.TrimSpace(string(*p.Mode))))
	}
	if p.DailyPenaltyRate != nil {
		out.DailyPenaltyRate = *p.DailyPenaltyRate
	}
	if p.MinimumDays != nil {
		out.MinimumDays = *p.MinimumDays
	}
	if p.MonthlyCapitalization != nil {
		out.MonthlyCapitalization = *p.MonthlyCapitalization
	}
	if p.MonthlyPenaltyCap != nil {
		out.MonthlyPenaltyCap = *p.MonthlyPenaltyCap
	}
	return out
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	return v
}

// Validate checks the policy bounds.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			msgs := make([]string, 0, len(fieldErrs))
			for _, fe := range fieldErrs {
				msgs = append(msgs, describe(fe))
			}
			return fmt.Errorf("%w: %s", shared.ErrValidation, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", shared.ErrValidation, err)
	}
	return nil
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "gte":
		return fmt.Sprintf("%s must be >= %s", fe.Field(), fe.Param())
	case "lte":
		return fmt.Sprintf("%s must be <= %s", fe.Field(), fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag())
	}
}

// DailyRate is the daily penalty rate as a fraction.
func (c Config) DailyRate() decimal.Decimal {
	return shared.Percent(decimal.NewFromFloat(c.DailyPenaltyRate))
}

// CapRate is the monthly penalty cap as a fraction.
func (c Config) CapRate() decimal.Decimal {
	return shared.Percent(decimal.NewFromFloat(c.MonthlyPenaltyCap))
}
