package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/ledger-core/internal/accounting/ledger"
	jobmetrics "github.com/odyssey-erp/ledger-core/internal/jobs"
	"github.com/odyssey-erp/ledger-core/internal/platform/cache"
	"github.com/odyssey-erp/ledger-core/internal/revaluation"
	"github.com/odyssey-erp/ledger-core/internal/shared"
)

type auditorStub struct {
	since  time.Time
	result []ledger.VoucherImbalance
	err    error
}

func (a *auditorStub) UnbalancedVouchers(_ context.Context, since time.Time) ([]ledger.VoucherImbalance, error) {
	a.since = since
	return a.result, a.err
}

func TestGLIntegrityJobScansWindow(t *testing.T) {
	stub := &auditorStub{result: []ledger.VoucherImbalance{{
		VoucherNumber: "JV-2026-000001",
		Debit:         decimal.NewFromInt(100),
		Credit:        decimal.NewFromInt(90),
	}}}
	job := NewGLIntegrityJob(stub, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))
	now := time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC)
	job.clock = func() time.Time { return now }

	task, err := NewGLIntegrityTask(7)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, now.AddDate(0, 0, -7), stub.since)
}

func TestGLIntegrityJobPropagatesErrors(t *testing.T) {
	boom := errors.New("db down")
	job := NewGLIntegrityJob(&auditorStub{err: boom}, nil, nil)
	require.ErrorIs(t, job.Handle(context.Background(), asynq.NewTask(TaskGLIntegrity, nil)), boom)
}

type revaluerStub struct {
	input revaluation.RunInput
	err   error
}

func (r *revaluerStub) Run(_ context.Context, input revaluation.RunInput) (revaluation.RunResult, error) {
	r.input = input
	return revaluation.RunResult{NetEffect: decimal.NewFromInt(30)}, r.err
}

func TestCurrencyRevaluationJobRuns(t *testing.T) {
	stub := &revaluerStub{}
	job := NewCurrencyRevaluationJob(stub, nil, nil)
	period := int64(4)
	task, err := NewCurrencyRevaluationTask(CurrencyRevaluationPayload{
		CurrencyID: 2, NewRate: "3.80", FiscalPeriodID: &period, PostVoucher: true,
	})
	require.NoError(t, err)

	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, int64(2), stub.input.CurrencyID)
	require.True(t, stub.input.NewRate.Equal(decimal.RequireFromString("3.8")))
	require.Equal(t, &period, stub.input.FiscalPeriodID)
	require.True(t, stub.input.PostVoucher)
}

func TestCurrencyRevaluationJobRetryPolicy(t *testing.T) {
	task, err := NewCurrencyRevaluationTask(CurrencyRevaluationPayload{CurrencyID: 2, NewRate: "3.80"})
	require.NoError(t, err)

	inProgress := NewCurrencyRevaluationJob(&revaluerStub{err: revaluation.ErrRunInProgress}, nil, nil)
	err = inProgress.Handle(context.Background(), task)
	require.ErrorIs(t, err, revaluation.ErrRunInProgress)
	require.NotErrorIs(t, err, asynq.SkipRetry)

	done := NewCurrencyRevaluationJob(&revaluerStub{err: revaluation.ErrAlreadyRun}, nil, nil)
	require.NoError(t, done.Handle(context.Background(), task))

	disabled := NewCurrencyRevaluationJob(&revaluerStub{err: revaluation.ErrRevaluationDisabled}, nil, nil)
	err = disabled.Handle(context.Background(), task)
	require.ErrorIs(t, err, asynq.SkipRetry)
	require.ErrorIs(t, err, revaluation.ErrRevaluationDisabled)

	bad := asynq.NewTask(TaskCurrencyRevaluation, []byte(`{"currency_id":2,"new_rate":"abc"}`))
	require.ErrorIs(t, done.Handle(context.Background(), bad), asynq.SkipRetry)
}

type refresherStub struct {
	mu  sync.Mutex
	ids []int64
}

func (r *refresherStub) UpdateWeightedAverageCost(_ context.Context, productID int64) (decimal.Decimal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, productID)
	return decimal.NewFromInt(10), nil
}

type listerStub []int64

func (l listerStub) WeightedAverageProducts(context.Context) ([]int64, error) { return l, nil }

type lockerStub struct {
	held map[string]bool
}

func (l lockerStub) Acquire(_ context.Context, key string, _ time.Duration) (func(context.Context) error, error) {
	if l.held[key] {
		return nil, cache.ErrLockHeld
	}
	return func(context.Context) error { return nil }, nil
}

func TestWACRefreshJobSkipsLockedProducts(t *testing.T) {
	refresher := &refresherStub{}
	locker := lockerStub{held: map[string]bool{shared.CostingLockKey(2): true}}
	job := NewWACRefreshJob(refresher, listerStub{1, 2, 3}, locker, nil, nil)

	task, err := NewWACRefreshTask()
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.ElementsMatch(t, []int64{1, 3}, refresher.ids)
}

func TestWACRefreshJobUsesPayloadProducts(t *testing.T) {
	refresher := &refresherStub{}
	job := NewWACRefreshJob(refresher, nil, nil, nil, nil)

	task, err := NewWACRefreshTask(7)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, []int64{7}, refresher.ids)
}

func TestHealthWithoutInspector(t *testing.T) {
	r := chi.NewRouter()
	NewHandler(nil, nil).MountRoutes(r)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var out []queueHealth
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out, 2)
	require.Equal(t, QueueCritical, out[0].Queue)
}
