// Package ltv sizes pawn loans from appraised collateral value.
package ltv

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/prenda-erp/prenda-erp/internal/shared"
)

// Condition enumerates the appraised physical state of a collateral item.
type Condition string

const (
	ConditionExcellent Condition = "EXCELENTE"
	ConditionGood      Condition = "BUENO"
	ConditionRegular   Condition = "REGULAR"
	ConditionPoor      Condition = "MALO"
)

// DefaultCategory names the fallback bounds for unknown categories.
const DefaultCategory = "otros"

// Bounds is the suggested/minimum/maximum LTV percentage triple of a category.
type Bounds struct {
	Suggested int `json:"sugerido"`
	Minimum   int `json:"minimo"`
	Maximum   int `json:"maximo"`
}

// Validate ensures minimum <= suggested <= maximum within [0,100].
func (b Bounds) Validate() error {
	if b.Minimum < 0 || b.Maximum > 100 {
		return fmt.Errorf("ltv: bounds must lie within 0..100, got %d..%d", b.Minimum, b.Maximum)
	}
	if b.Minimum > b.Suggested || b.Suggested > b.Maximum {
		return fmt.Errorf("ltv: bounds must satisfy min <= suggested <= max, got %d/%d/%d", b.Minimum, b.Suggested, b.Maximum)
	}
	return nil
}

var conditionFactors = map[Condition]decimal.Decimal{
	ConditionExcellent: decimal.RequireFromString("1.00"),
	ConditionGood:      decimal.RequireFromString("0.90"),
	ConditionRegular:   decimal.RequireFromString("0.75"),
	ConditionPoor:      decimal.RequireFromString("0.50"),
}

var conditionAliases = map[string]Condition{
	"excelente": ConditionExcellent,
	"excellent": ConditionExcellent,
	"bueno":     ConditionGood,
	"good":      ConditionGood,
	"regular":   ConditionRegular,
	"malo":      ConditionPoor,
	"poor":      ConditionPoor,
}

// DefaultBounds is the built-in category table.
var DefaultBounds = map[string]Bounds{
	"joyeria":           {Suggested: 70, Minimum: 50, Maximum: 85},
	"oro":               {Suggested: 80, Minimum: 60, Maximum: 90},
	"electronica":       {Suggested: 60, Minimum: 40, Maximum: 70},
	"celulares":         {Suggested: 55, Minimum: 35, Maximum: 65},
	"computadoras":      {Suggested: 60, Minimum: 40, Maximum: 70},
	"electrodomesticos": {Suggested: 50, Minimum: 30, Maximum: 60},
	"herramientas":      {Suggested: 50, Minimum: 30, Maximum: 60},
	"vehiculos":         {Suggested: 65, Minimum: 50, Maximum: 75},
	"instrumentos":      {Suggested: 55, Minimum: 35, Maximum: 65},
	DefaultCategory:     {Suggested: 50, Minimum: 30, Maximum: 60},
}

// Policy maps categories to LTV bounds.
type Policy struct {
	bounds map[string]Bounds
}

// NewPolicy validates the table and builds a Policy. The table must contain DefaultCategory.
func NewPolicy(table map[string]Bounds) (*Policy, error) {
	if _, ok := table[DefaultCategory]; !ok {
		return nil, errors.New("ltv: default category bounds missing")
	}
	bounds := make(map[string]Bounds, len(table))
	for category, b := range table {
		if err := b.Validate(); err != nil {
			return nil, fmt.Errorf("ltv: category %q: %w", category, err)
		}
		bounds[NormalizeCategory(category)] = b
	}
	return &Policy{bounds: bounds}, nil
}

// MustDefaultPolicy returns the built-in policy and panics if the table is malformed.
func MustDefaultPolicy() *Policy {
	p, err := NewPolicy(DefaultBounds)
	if err != nil {
		panic(err)
	}
	return p
}

// Breakdown explains how the LTV was derived.
type Breakdown struct {
	Category          string          `json:"categoria"`
	CategoryFallback  bool            `json:"categoria_por_defecto"`
	Condition         Condition       `json:"estado"`
	ConditionFallback bool            `json:"estado_por_defecto"`
	Factor            decimal.Decimal `json:"factor"`
	Unclamped         int             `json:"ltv_sin_limites"`
	Bounds            Bounds          `json:"limites"`
}

// Sizing is the outcome of SizeLoan.
type Sizing struct {
	MarketValue decimal.Decimal `json:"valor_mercado"`
	MaxAmount   decimal.Decimal `json:"monto_maximo"`
	LTV         int             `json:"ltv"`
	Breakdown   Breakdown       `json:"detalle"`
}

// SizeLoan computes the maximum loan for a collateral item.
func (p *Policy) SizeLoan(marketValue decimal.Decimal, category, condition string) (Sizing, error) {
	if !marketValue.IsPositive() {
		return Sizing{}, fmt.Errorf("%w: market value must be positive", shared.ErrValidation)
	}
	bounds, categoryKey, categoryFallback := p.lookup(category)
	cond, factor, conditionFallback := ParseCondition(condition)

	unclamped := int(decimal.NewFromInt(int64(bounds.Suggested)).Mul(factor).Round(0).IntPart())
	adjusted := clamp(unclamped, bounds.Minimum, bounds.Maximum)
	maxAmount := marketValue.Mul(decimal.NewFromInt(int64(adjusted))).Div(shared.Hundred).Round(0)

	return Sizing{
		MarketValue: marketValue,
		MaxAmount:   maxAmount,
		LTV:         adjusted,
		Breakdown: Breakdown{
			Category:          categoryKey,
			CategoryFallback:  categoryFallback,
			Condition:         cond,
			ConditionFallback: conditionFallback,
			Factor:            factor,
			Unclamped:         unclamped,
			Bounds:            bounds,
		},
	}, nil
}

// Bounds returns the bounds applied for category.
func (p *Policy) Bounds(category string) Bounds {
	b, _, _ := p.lookup(category)
	return b
}

// Categories lists the configured categories.
func (p *Policy) Categories() []string {
	out := make([]string, 0, len(p.bounds))
	for c := range p.bounds {
		out = append(out, c)
	}
	return out
}

func (p *Policy) lookup(category string) (Bounds, string, bool) {
	key := NormalizeCategory(category)
	if b, ok := p.bounds[key]; ok {
		return b, key, false
	}
	return p.bounds[DefaultCategory], DefaultCategory, true
}

// ParseCondition resolves a condition label; unknown labels fall back to BUENO.
func ParseCondition(raw string) (Condition, decimal.Decimal, bool) {
	if c, ok := conditionAliases[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return c, conditionFactors[c], false
	}
	return ConditionGood, conditionFactors[ConditionGood], true
}

// NormalizeCategory lowercases, trims and strips accents ("Joyería" -> "joyeria").
func NormalizeCategory(raw string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, strings.ToLower(strings.TrimSpace(raw)))
	if err != nil {
		return strings.ToLower(strings.TrimSpace(raw))
	}
	return strings.Join(strings.Fields(out), "_")
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
