package interest

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prenda-erp/prenda-erp/internal/shared"
)

func TestDefaultConfigIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestConfigValidateBounds(t *testing.T) {
	cases := []struct {
		name  string
		mut   func(*Config)
		field string
	}{
		{"grace too long", func(c *Config) { c.GraceDays = 31 }, "dias_gracia"},
		{"negative penalty", func(c *Config) { c.DailyPenaltyRate = -0.1 }, "tasa_mora_diaria"},
		{"penalty too high", func(c *Config) { c.DailyPenaltyRate = 5.01 }, "tasa_mora_diaria"},
		{"cap above 100", func(c *Config) { c.MonthlyPenaltyCap = 101 }, "tope_mora_mensual"},
		{"base period zero", func(c *Config) { c.BasePeriodDays = 0 }, "dias_periodo_base"},
		{"minimum days", func(c *Config) { c.MinimumDays = 366 }, "dias_minimos"},
		{"unknown mode", func(c *Config) { c.Mode = "flat" }, "modo_calculo"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mut(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, shared.ErrValidation))
			assert.Contains(t, err.Error(), tc.field)
		})
	}
}

func TestPatchApplyKeepsUnsetFields(t *testing.T) {
	grace := 5
	mode := Mode(" Compuesto ")
	next := Patch{GraceDays: &grace, Mode: &mode}.Apply(Default())
	assert.Equal(t, 5, next.GraceDays)
	assert.Equal(t, ModeCompound, next.Mode)
	assert.Equal(t, 30, next.BasePeriodDays)
	assert.Equal(t, 15.0, next.MonthlyPenaltyCap)
}
