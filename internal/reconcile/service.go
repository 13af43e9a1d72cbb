package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/message"

	"github.com/prenda-erp/prenda-erp/internal/ledger"
	"github.com/prenda-erp/prenda-erp/internal/shared"
)

// TxRepository reads the ledger and stores discrepancy rows.
type TxRepository interface {
	ledger.TxRepository
	UpsertDiscrepancy(ctx context.Context, d Discrepancy) error
	ListDiscrepancies(ctx context.Context, tenantID uuid.UUID, from, to time.Time) ([]Discrepancy, error)
}

// RepositoryPort opens transactions.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// MetricsPort records reconciliation outcomes.
type MetricsPort interface {
	RecordReconciliation(matched bool)
	SetOpenDiscrepancies(n int)
}

// Service reconciles registers.
type Service struct {
	repo    RepositoryPort
	metrics MetricsPort
	logger  *slog.Logger
	printer *message.Printer
	workers int
	now     func() time.Time
}

// Options carries the optional collaborators of Service.
type Options struct {
	Metrics MetricsPort
	Logger  *slog.Logger
	Printer *message.Printer
	// Workers bounds how many days DetectMismatches scans at once.
	Workers int
}

// NewService constructs the reconciler.
func NewService(repo RepositoryPort, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	printer := opts.Printer
	if printer == nil {
		printer = NewPrinter("")
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = 4
	}
	return &Service{
		repo:    repo,
		metrics: opts.Metrics,
		logger:  logger.With(slog.String("component", "reconcile")),
		printer: printer,
		workers: workers,
		now:     time.Now,
	}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Reconcile compares the stored balance of a register with its opening
// balance plus every counted movement up to asOf. A mismatch is persisted as a
// discrepancy for the register's opening day, unless movements were written
// after asOf; the stored balance is left as is.
func (s *Service) Reconcile(ctx context.Context, registerID uuid.UUID, asOf time.Time) (Result, error) {
	if registerID == uuid.Nil {
		return Result{}, fmt.Errorf("%w: reconcile: register required", shared.ErrValidation)
	}
	now := s.now()
	if asOf.IsZero() {
		asOf = now
	}
	var res Result
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		reg, err := tx.GetRegister(ctx, registerID)
		if err != nil {
			return err
		}
		res, err = evaluate(ctx, tx, reg, asOf)
		if err != nil {
			return err
		}
		if !res.Matches && res.Later == 0 {
			return tx.UpsertDiscrepancy(ctx, newDiscrepancy(res, startOfDay(reg.OpenedAt), now))
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	s.observe(res)
	return res, nil
}

// ReconcileDay reconciles every register opened on date. A nil tenant covers
// all tenants.
func (s *Service) ReconcileDay(ctx context.Context, tenantID uuid.UUID, date time.Time) (DayResult, error) {
	day := startOfDay(date)
	now := s.now()
	out := DayResult{
		Date:          day,
		Cuadra:        true,
		Diferencia:    decimal.Zero,
		SaldoEsperado: decimal.Zero,
		SaldoReal:     decimal.Zero,
		Detalle:       []Result{},
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		regs, err := tx.ListRegistersOpenedBetween(ctx, tenantID, day, day.AddDate(0, 0, 1))
		if err != nil {
			return err
		}
		for _, reg := range regs {
			res, err := evaluate(ctx, tx, reg, now)
			if err != nil {
				return err
			}
			if !res.Matches {
				out.Cuadra = false
				if err := tx.UpsertDiscrepancy(ctx, newDiscrepancy(res, day, now)); err != nil {
					return err
				}
			}
			out.SaldoEsperado = out.SaldoEsperado.Add(res.Expected)
			out.SaldoReal = out.SaldoReal.Add(res.Actual)
			out.Detalle = append(out.Detalle, res)
		}
		return nil
	})
	if err != nil {
		return DayResult{}, err
	}
	out.Diferencia = out.SaldoReal.Sub(out.SaldoEsperado)
	for _, res := range out.Detalle {
		s.observe(res)
	}
	return out, nil
}

// DetectMismatches reconciles each day of the trailing window, newest first,
// and lists the register/days that do not balance.
func (s *Service) DetectMismatches(ctx context.Context, tenantID uuid.UUID, windowDays int) ([]Discrepancy, error) {
	if windowDays == 0 {
		windowDays = DefaultWindowDays
	}
	if windowDays < 0 || windowDays > MaxWindowDays {
		return nil, fmt.Errorf("%w: reconcile: window must be between 1 and %d days", shared.ErrValidation, MaxWindowDays)
	}
	now := s.now()
	today := startOfDay(now)

	var (
		mu    sync.Mutex
		found []Discrepancy
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i := 0; i < windowDays; i++ {
		day := today.AddDate(0, 0, -i)
		g.Go(func() error {
			res, err := s.ReconcileDay(gctx, tenantID, day)
			if err != nil {
				return fmt.Errorf("reconcile %s: %w", day.Format("2006-01-02"), err)
			}
			mu.Lock()
			defer mu.Unlock()
			for _, r := range res.Detalle {
				if !r.Matches {
					found = append(found, newDiscrepancy(r, day, now))
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(found, func(i, j int) bool {
		if !found[i].Date.Equal(found[j].Date) {
			return found[i].Date.After(found[j].Date)
		}
		return found[i].RegisterID.String() < found[j].RegisterID.String()
	})
	for _, d := range found {
		s.logger.Warn("register balance mismatch",
			slog.String("caja_id", d.RegisterID.String()),
			slog.String("usuario_id", d.OperatorID.String()),
			slog.String("fecha", d.Date.Format("2006-01-02")),
			slog.String("esperado", FormatAmount(s.printer, d.Expected)),
			slog.String("real", FormatAmount(s.printer, d.Actual)),
			slog.String("diferencia", FormatAmount(s.printer, d.Difference)),
		)
	}
	if s.metrics != nil {
		s.metrics.SetOpenDiscrepancies(len(found))
	}
	if found == nil {
		found = []Discrepancy{}
	}
	return found, nil
}

// Discrepancies lists persisted discrepancy rows for days in [from, to].
func (s *Service) Discrepancies(ctx context.Context, tenantID uuid.UUID, from, to time.Time) ([]Discrepancy, error) {
	from, to = startOfDay(from), startOfDay(to)
	if to.Before(from) {
		return nil, fmt.Errorf("%w: reconcile: range end before start", shared.ErrValidation)
	}
	var out []Discrepancy
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		out, err = tx.ListDiscrepancies(ctx, tenantID, from, to.AddDate(0, 0, 1))
		return err
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []Discrepancy{}
	}
	return out, nil
}

func (s *Service) observe(res Result) {
	if s.metrics != nil {
		s.metrics.RecordReconciliation(res.Matches)
	}
}

// evaluate walks the movement history; reversal rows and voided rows do not count.
func evaluate(ctx context.Context, tx ledger.TxRepository, reg ledger.Register, asOf time.Time) (Result, error) {
	movements, err := tx.ListMovements(ctx, reg.ID)
	if err != nil {
		return Result{}, err
	}
	expected := reg.OpeningBalance
	counted, later := 0, 0
	for _, m := range movements {
		if m.CreatedAt.After(asOf) {
			later++
			continue
		}
		if !m.Counts() {
			continue
		}
		expected = expected.Add(m.Signed())
		counted++
	}
	diff := reg.Balance.Sub(expected)
	return Result{
		RegisterID: reg.ID,
		TenantID:   reg.TenantID,
		OperatorID: reg.OperatorID,
		Status:     reg.Status,
		AsOf:       asOf,
		Matches:    diff.Abs().LessThan(shared.Cent),
		Expected:   expected,
		Actual:     reg.Balance,
		Difference: diff,
		Movements:  counted,
		Later:      later,
	}, nil
}
