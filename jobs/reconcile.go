package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	jobmetrics "github.com/prenda-erp/prenda-erp/internal/jobs"
	"github.com/prenda-erp/prenda-erp/internal/reconcile"
	"github.com/prenda-erp/prenda-erp/internal/shared"
)

const lockTTL = 10 * time.Minute

// Locker guards a run so only one worker processes a given day.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// ReconcileService is the reconciliation behaviour the job drives.
type ReconcileService interface {
	ReconcileDay(ctx context.Context, tenantID uuid.UUID, date time.Time) (reconcile.DayResult, error)
	DetectMismatches(ctx context.Context, tenantID uuid.UUID, windowDays int) ([]reconcile.Discrepancy, error)
}

// ReconcileJob reconciles every register of a day and then scans the trailing
// window for discrepancies across all tenants.
type ReconcileJob struct {
	Service    ReconcileService
	Locker     Locker
	Logger     *slog.Logger
	Metrics    *jobmetrics.Metrics
	WindowDays int
	clock      func() time.Time
}

// NewReconcileJob constructs the job handler.
func NewReconcileJob(service ReconcileService, locker Locker, logger *slog.Logger, metrics *jobmetrics.Metrics, windowDays int) *ReconcileJob {
	return &ReconcileJob{
		Service:    service,
		Locker:     locker,
		Logger:     logger,
		Metrics:    metrics,
		WindowDays: windowDays,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes the reconciliation run.
func (j *ReconcileJob) Handle(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Service == nil {
		return errors.New("reconcile job: dependencies not configured")
	}
	var payload ReconcilePayload
	if len(task.Payload()) > 0 {
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	date, err := resolveDate(payload.Date, j.now().AddDate(0, 0, -1))
	if err != nil {
		j.log().Warn("invalid payload date", slog.String("date", payload.Date))
		return asynq.SkipRetry
	}
	window := payload.WindowDays
	if window <= 0 {
		window = j.WindowDays
	}

	release, err := j.acquire(ctx, shared.ReconcileLockKey(date))
	if errors.Is(err, shared.ErrLockHeld) {
		j.metrics().Skip(TaskReconcile)
		j.log().Info("reconciliation already running", slog.String("date", date.Format(dateLayout)))
		return nil
	}
	if err != nil {
		return err
	}
	defer release()

	tracker := j.metrics().Track(TaskReconcile)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	start := j.now()
	day, err := j.Service.ReconcileDay(ctx, uuid.Nil, date)
	if err != nil {
		resultErr = err
		j.log().Error("reconcile day", slog.String("date", date.Format(dateLayout)), slog.Any("error", err))
		return resultErr
	}
	j.metrics().AddItems(TaskReconcile, "registers", len(day.Detalle))

	found, err := j.Service.DetectMismatches(ctx, uuid.Nil, window)
	if err != nil {
		resultErr = err
		j.log().Error("detect mismatches", slog.Int("window_days", window), slog.Any("error", err))
		return resultErr
	}
	j.metrics().AddItems(TaskReconcile, "discrepancies", len(found))

	j.log().Info("reconciliation completed",
		slog.String("date", date.Format(dateLayout)),
		slog.Bool("cuadra", day.Cuadra),
		slog.Int("registers", len(day.Detalle)),
		slog.Int("discrepancies", len(found)),
		slog.Duration("duration", time.Since(start)),
	)
	return resultErr
}

func (j *ReconcileJob) acquire(ctx context.Context, key string) (func(), error) {
	if j.Locker == nil {
		return func() {}, nil
	}
	return j.Locker.Acquire(ctx, key, lockTTL)
}

func (j *ReconcileJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *ReconcileJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskReconcile))
	}
	return slog.Default().With(slog.String("job", TaskReconcile))
}

func (j *ReconcileJob) now() time.Time {
	if j != nil && j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}

// WithClock overrides the internal clock for deterministic tests.
func (j *ReconcileJob) WithClock(clock func() time.Time) {
	if j != nil && clock != nil {
		j.clock = clock
	}
}

func resolveDate(raw string, fallback time.Time) (time.Time, error) {
	if raw == "" {
		return time.Date(fallback.Year(), fallback.Month(), fallback.Day(), 0, 0, 0, 0, time.UTC), nil
	}
	return time.ParseInLocation(dateLayout, raw, time.UTC)
}
