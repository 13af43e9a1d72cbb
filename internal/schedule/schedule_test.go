package schedule

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prenda-erp/prenda-erp/internal/shared"
)

var start = time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)

func TestBuildWeeklyPlan(t *testing.T) {
	plan, err := Build(decimal.NewFromInt(1000), decimal.NewFromInt(20), Weekly, 4, start)
	require.NoError(t, err)
	require.Len(t, plan, 4)

	// weekly rate 5%: 1000, 750, 500, 250 balances
	wantInterest := []string{"50", "37.5", "25", "12.5"}
	for i, row := range plan {
		assert.Equal(t, i+1, row.Number)
		assert.True(t, row.Capital.Equal(decimal.NewFromInt(250)), "row %d capital %s", i+1, row.Capital)
		assert.True(t, row.Interest.Equal(decimal.RequireFromString(wantInterest[i])), "row %d interest %s", i+1, row.Interest)
		assert.Equal(t, start.AddDate(0, 0, i*7), row.Date)
	}
	assert.True(t, plan[3].Saldo.IsZero())
}

func TestBuildCapitalSumsToPrincipal(t *testing.T) {
	freqs := []Frequency{Daily, Weekly, Biweekly, ThreeWeeks, Monthly}
	principals := []string{"100", "999.99", "1234.56", "0.07", "50000"}
	for _, f := range freqs {
		for _, p := range principals {
			for _, count := range []int{1, 3, 7, 12} {
				principal := decimal.RequireFromString(p)
				plan, err := Build(principal, decimal.RequireFromString("12.5"), f, count, start)
				require.NoError(t, err)
				sum := decimal.Zero
				for _, row := range plan {
					sum = sum.Add(row.Capital)
					assert.False(t, row.Capital.IsNegative())
					assert.True(t, row.Capital.Equal(row.Capital.Round(2)))
					assert.True(t, row.Interest.Equal(row.Interest.Round(2)))
				}
				assert.True(t, sum.Equal(principal), "%s %s x%d sum=%s", f, p, count, sum)
				assert.True(t, plan[len(plan)-1].Saldo.IsZero(), "%s %s x%d final saldo %s", f, p, count, plan[len(plan)-1].Saldo)
			}
		}
	}
}

func TestBuildResidualOnLastInstallment(t *testing.T) {
	plan, err := Build(decimal.NewFromInt(100), decimal.Zero, Monthly, 3, start)
	require.NoError(t, err)
	assert.True(t, plan[0].Capital.Equal(decimal.RequireFromString("33.33")))
	assert.True(t, plan[1].Capital.Equal(decimal.RequireFromString("33.33")))
	assert.True(t, plan[2].Capital.Equal(decimal.RequireFromString("33.34")))
}

func TestBuildValidation(t *testing.T) {
	_, err := Build(decimal.Zero, decimal.NewFromInt(10), Monthly, 1, start)
	assert.True(t, errors.Is(err, shared.ErrValidation))
	_, err = Build(decimal.NewFromInt(10), decimal.NewFromInt(10), Monthly, 0, start)
	assert.True(t, errors.Is(err, shared.ErrValidation))
	_, err = Build(decimal.NewFromInt(10), decimal.NewFromInt(-1), Monthly, 1, start)
	assert.True(t, errors.Is(err, shared.ErrValidation))
	_, err = Build(decimal.NewFromInt(10), decimal.NewFromInt(10), Frequency("ANUAL"), 1, start)
	assert.True(t, errors.Is(err, shared.ErrValidation))
}

func TestParseFrequencyAliases(t *testing.T) {
	f, err := ParseFrequency(" weekly ")
	require.NoError(t, err)
	assert.Equal(t, Weekly, f)
	f, err = ParseFrequency("trisemanal")
	require.NoError(t, err)
	assert.Equal(t, 21, f.Days())
	assert.True(t, f.Rate(decimal.NewFromInt(20)).Equal(decimal.NewFromInt(15)))
}

func TestSummarize(t *testing.T) {
	plan, err := Build(decimal.NewFromInt(1000), decimal.NewFromInt(20), Weekly, 4, start)
	require.NoError(t, err)
	s := Summarize(plan)
	assert.Equal(t, 4, s.Installments)
	assert.True(t, s.TotalCapital.Equal(decimal.NewFromInt(1000)))
	assert.True(t, s.TotalInterest.Equal(decimal.NewFromInt(125)))
	assert.True(t, s.TotalPayable.Equal(decimal.NewFromInt(1125)))
	assert.Equal(t, start.AddDate(0, 0, 21), s.LastDate)
}
