package reconcile

import (
	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// NewPrinter returns a message printer for lang, falling back to Latin American Spanish.
func NewPrinter(lang string) *message.Printer {
	tag, err := language.Parse(lang)
	if lang == "" || err != nil {
		tag = language.LatinAmericanSpanish
	}
	return message.NewPrinter(tag)
}

// FormatAmount renders a two-decimal amount with the printer's grouping.
func FormatAmount(p *message.Printer, amount decimal.Decimal) string {
	return p.Sprintf("%.2f", amount.Round(2).InexactFloat64())
}

// Describe renders a one-line summary of the day for logs and the CLI.
func (d DayResult) Describe(p *message.Printer) string {
	status := "DESCUADRE"
	if d.Cuadra {
		status = "CUADRA"
	}
	return p.Sprintf("%s %s cajas=%d esperado=%s real=%s diferencia=%s",
		d.Date.Format("2006-01-02"), status, len(d.Detalle),
		FormatAmount(p, d.SaldoEsperado), FormatAmount(p, d.SaldoReal), FormatAmount(p, d.Diferencia))
}
