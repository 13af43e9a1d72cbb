package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/message"

	"github.com/prenda-erp/prenda-erp/internal/reconcile"
)

// DayReconciler reconciles every register opened on a date.
type DayReconciler interface {
	ReconcileDay(ctx context.Context, tenantID uuid.UUID, date time.Time) (reconcile.DayResult, error)
}

// ReconcileCLI runs a day reconciliation from the command line.
type ReconcileCLI struct {
	service DayReconciler
	printer *message.Printer
}

// NewReconcileCLI constructs the helper. printer may be nil.
func NewReconcileCLI(service DayReconciler, printer *message.Printer) (*ReconcileCLI, error) {
	if service == nil {
		return nil, fmt.Errorf("reconcile cli: service not configured")
	}
	if printer == nil {
		printer = reconcile.NewPrinter("")
	}
	return &ReconcileCLI{service: service, printer: printer}, nil
}

// ReconcileOptions defines available flags for the reconcile command.
type ReconcileOptions struct {
	Date       string
	Tenant     string
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// ReconcileCommand reconciles the requested day and prints the outcome. It
// exits 10 when any register does not balance.
func (c *ReconcileCLI) ReconcileCommand(ctx context.Context, opts ReconcileOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	date, err := time.ParseInLocation("2006-01-02", strings.TrimSpace(opts.Date), time.UTC)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "reconcile: invalid date %q (expected YYYY-MM-DD)\n", opts.Date)
		return 1
	}
	tenant := uuid.Nil
	if raw := strings.TrimSpace(opts.Tenant); raw != "" {
		tenant, err = uuid.Parse(raw)
		if err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "reconcile: invalid tenant %q\n", opts.Tenant)
			return 1
		}
	}
	result, err := c.service.ReconcileDay(ctx, tenant, date)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "reconcile: %v\n", err)
		return 1
	}
	if opts.JSONOutput {
		if err := json.NewEncoder(opts.Stdout).Encode(result); err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "reconcile: encode json: %v\n", err)
			return 1
		}
	} else {
		c.renderHuman(opts.Stdout, result)
	}
	if !result.Cuadra {
		return 10
	}
	return 0
}

func (c *ReconcileCLI) renderHuman(out io.Writer, result reconcile.DayResult) {
	_, _ = fmt.Fprintln(out, result.Describe(c.printer))
	for _, r := range result.Detalle {
		state := "OK"
		if !r.Matches {
			state = "DESCUADRE"
		}
		_, _ = fmt.Fprintf(out, "  caja=%s operador=%s %s esperado=%s real=%s diferencia=%s\n",
			r.RegisterID, r.OperatorID, state,
			reconcile.FormatAmount(c.printer, r.Expected),
			reconcile.FormatAmount(c.printer, r.Actual),
			reconcile.FormatAmount(c.printer, r.Difference),
		)
	}
}
