package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/prenda-erp/prenda-erp/internal/credit"
	jobmetrics "github.com/prenda-erp/prenda-erp/internal/jobs"
	"github.com/prenda-erp/prenda-erp/internal/shared"
)

// MoraService evaluates arrears for open credits.
type MoraService interface {
	EvaluateMora(ctx context.Context, asOf time.Time) (credit.MoraRun, error)
}

// MoraJob snapshots status and penalty interest of every open credit once a day.
type MoraJob struct {
	Service MoraService
	Locker  Locker
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewMoraJob constructs the job handler.
func NewMoraJob(service MoraService, locker Locker, logger *slog.Logger, metrics *jobmetrics.Metrics) *MoraJob {
	return &MoraJob{
		Service: service,
		Locker:  locker,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes the mora evaluation.
func (j *MoraJob) Handle(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Service == nil {
		return errors.New("mora job: dependencies not configured")
	}
	var payload MoraPayload
	if len(task.Payload()) > 0 {
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	now := j.now()
	asOf := now
	if payload.Date != "" {
		day, err := resolveDate(payload.Date, now)
		if err != nil {
			j.log().Warn("invalid payload date", slog.String("date", payload.Date))
			return asynq.SkipRetry
		}
		asOf = day.Add(23*time.Hour + 59*time.Minute)
	}

	var release func()
	var err error
	if j.Locker != nil {
		release, err = j.Locker.Acquire(ctx, shared.MoraLockKey(asOf), lockTTL)
		if errors.Is(err, shared.ErrLockHeld) {
			j.metrics().Skip(TaskMora)
			j.log().Info("mora evaluation already running", slog.String("date", asOf.Format(dateLayout)))
			return nil
		}
		if err != nil {
			return err
		}
		defer release()
	}

	tracker := j.metrics().Track(TaskMora)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	run, err := j.Service.EvaluateMora(ctx, asOf)
	if err != nil {
		resultErr = err
		j.log().Error("evaluate mora", slog.String("date", asOf.Format(dateLayout)), slog.Any("error", err))
		return resultErr
	}
	j.metrics().AddItems(TaskMora, "evaluated", run.Evaluated)
	j.metrics().AddItems(TaskMora, "in_arrears", run.InArrears)

	j.log().Info("mora evaluation completed",
		slog.String("date", asOf.Format(dateLayout)),
		slog.Int("evaluated", run.Evaluated),
		slog.Int("in_arrears", run.InArrears),
		slog.String("mora_total", run.TotalPenalty.StringFixed(2)),
		slog.Duration("duration", time.Since(now)),
	)
	return resultErr
}

func (j *MoraJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *MoraJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskMora))
	}
	return slog.Default().With(slog.String("job", TaskMora))
}

func (j *MoraJob) now() time.Time {
	if j != nil && j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}

// WithClock overrides the internal clock for deterministic tests.
func (j *MoraJob) WithClock(clock func() time.Time) {
	if j != nil && clock != nil {
		j.clock = clock
	}
}
