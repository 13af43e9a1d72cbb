package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prenda-erp/prenda-erp/internal/credit"
	jobmetrics "github.com/prenda-erp/prenda-erp/internal/jobs"
	"github.com/prenda-erp/prenda-erp/internal/reconcile"
	"github.com/prenda-erp/prenda-erp/internal/shared"
)

type stubReconciler struct {
	days    []time.Time
	windows []int
	found   []reconcile.Discrepancy
	err     error
}

func (s *stubReconciler) ReconcileDay(_ context.Context, tenantID uuid.UUID, date time.Time) (reconcile.DayResult, error) {
	s.days = append(s.days, date)
	if s.err != nil {
		return reconcile.DayResult{}, s.err
	}
	return reconcile.DayResult{Date: date, Cuadra: true, Detalle: []reconcile.Result{{RegisterID: uuid.New()}}}, nil
}

func (s *stubReconciler) DetectMismatches(_ context.Context, _ uuid.UUID, windowDays int) ([]reconcile.Discrepancy, error) {
	s.windows = append(s.windows, windowDays)
	return s.found, nil
}

type stubMora struct {
	calls []time.Time
}

func (s *stubMora) EvaluateMora(_ context.Context, asOf time.Time) (credit.MoraRun, error) {
	s.calls = append(s.calls, asOf)
	return credit.MoraRun{Evaluated: 3, InArrears: 1, TotalPenalty: decimal.NewFromInt(5)}, nil
}

func newLocker(t *testing.T) (*shared.Locker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return shared.NewLocker(client), mr
}

var fixedNow = time.Date(2025, 6, 10, 2, 0, 0, 0, time.UTC)

func TestReconcileJobDefaultsToPreviousDay(t *testing.T) {
	locker, mr := newLocker(t)
	svc := &stubReconciler{found: []reconcile.Discrepancy{{ID: uuid.New()}}}
	job := NewReconcileJob(svc, locker, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()), 7)
	job.WithClock(func() time.Time { return fixedNow })

	task, err := NewReconcileTask(ReconcilePayload{})
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))

	require.Len(t, svc.days, 1)
	assert.Equal(t, "2025-06-09", svc.days[0].Format(dateLayout))
	assert.Equal(t, []int{7}, svc.windows)
	assert.False(t, mr.Exists(shared.ReconcileLockKey(svc.days[0])), "lock released after run")
}

func TestReconcileJobSkipsWhenLockHeld(t *testing.T) {
	locker, mr := newLocker(t)
	date := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, mr.Set(shared.ReconcileLockKey(date), "other"))

	svc := &stubReconciler{}
	job := NewReconcileJob(svc, locker, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()), 7)
	task, err := NewReconcileTask(ReconcilePayload{Date: "2025-06-01", WindowDays: 3})
	require.NoError(t, err)

	require.NoError(t, job.Handle(context.Background(), task))
	assert.Empty(t, svc.days)
}

func TestReconcileJobPayloadWindowOverrides(t *testing.T) {
	svc := &stubReconciler{}
	job := NewReconcileJob(svc, nil, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()), 7)
	task, err := NewReconcileTask(ReconcilePayload{Date: "2025-06-01", WindowDays: 3})
	require.NoError(t, err)

	require.NoError(t, job.Handle(context.Background(), task))
	assert.Equal(t, []int{3}, svc.windows)
}

func TestReconcileJobPropagatesFailure(t *testing.T) {
	svc := &stubReconciler{err: errors.New("db down")}
	job := NewReconcileJob(svc, nil, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()), 7)
	task, err := NewReconcileTask(ReconcilePayload{Date: "2025-06-01"})
	require.NoError(t, err)

	err = job.Handle(context.Background(), task)
	require.Error(t, err)
	assert.Empty(t, svc.windows)
}

func TestReconcileJobRejectsBadPayload(t *testing.T) {
	job := NewReconcileJob(&stubReconciler{}, nil, nil, nil, 7)
	err := job.Handle(context.Background(), asynq.NewTask(TaskReconcile, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)

	body, _ := json.Marshal(ReconcilePayload{Date: "06/01/2025"})
	err = job.Handle(context.Background(), asynq.NewTask(TaskReconcile, body))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestMoraJobUsesEndOfPayloadDay(t *testing.T) {
	locker, mr := newLocker(t)
	svc := &stubMora{}
	job := NewMoraJob(svc, locker, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))
	job.WithClock(func() time.Time { return fixedNow })

	task, err := NewMoraTask(MoraPayload{Date: "2025-06-05"})
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))

	require.Len(t, svc.calls, 1)
	assert.Equal(t, time.Date(2025, 6, 5, 23, 59, 0, 0, time.UTC), svc.calls[0])
	assert.False(t, mr.Exists(shared.MoraLockKey(svc.calls[0])))
}

func TestMoraJobDefaultsToNowAndSkipsWhenLocked(t *testing.T) {
	locker, mr := newLocker(t)
	svc := &stubMora{}
	job := NewMoraJob(svc, locker, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))
	job.WithClock(func() time.Time { return fixedNow })

	task, err := NewMoraTask(MoraPayload{})
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, []time.Time{fixedNow}, svc.calls)

	require.NoError(t, mr.Set(shared.MoraLockKey(fixedNow), "other"))
	require.NoError(t, job.Handle(context.Background(), task))
	assert.Len(t, svc.calls, 1)
}

func TestNewTaskByName(t *testing.T) {
	task, err := NewTask(TaskMora, "")
	require.NoError(t, err)
	assert.Equal(t, TaskMora, task.Type())

	task, err = NewTask(TaskReconcile, "2025-01-02")
	require.NoError(t, err)
	var payload ReconcilePayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	assert.Equal(t, "2025-01-02", payload.Date)

	_, err = NewTask("mail:send", "")
	assert.Error(t, err)
	_, err = NewTask(TaskMora, "tomorrow")
	assert.Error(t, err)
}

type stubInspector struct {
	info *asynq.QueueInfo
	err  error
}

func (s stubInspector) GetQueueInfo(string) (*asynq.QueueInfo, error) {
	return s.info, s.err
}

func TestHealthReportsQueueStats(t *testing.T) {
	r := chi.NewRouter()
	NewHandler(stubInspector{info: &asynq.QueueInfo{Queue: QueueDefault, Pending: 2, Failed: 1}}, nil).MountRoutes(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var stats QueueStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 2, stats.Pending)
	assert.Equal(t, 1, stats.Failed)

	r = chi.NewRouter()
	NewHandler(stubInspector{err: errors.New("redis gone")}, nil).MountRoutes(r)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
