package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"

	jobmetrics "github.com/odyssey-erp/ledger-core/internal/jobs"
	"github.com/odyssey-erp/ledger-core/internal/revaluation"
)

// Revaluer runs currency revaluations.
type Revaluer interface {
	Run(ctx context.Context, input revaluation.RunInput) (revaluation.RunResult, error)
}

// CurrencyRevaluationJob executes queued revaluation runs.
type CurrencyRevaluationJob struct {
	Service Revaluer
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewCurrencyRevaluationJob initialises the revaluation handler.
func NewCurrencyRevaluationJob(svc Revaluer, logger *slog.Logger, metrics *jobmetrics.Metrics) *CurrencyRevaluationJob {
	return &CurrencyRevaluationJob{Service: svc, Logger: logger, Metrics: metrics}
}

// Handle runs one revaluation. A run already in progress is retried later;
// a completed or rejected run is not.
func (j *CurrencyRevaluationJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Service == nil {
		return errors.New("currency revaluation: handler not configured")
	}
	var payload CurrencyRevaluationPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	rate, err := decimal.NewFromString(payload.NewRate)
	if err != nil || payload.CurrencyID == 0 {
		return fmt.Errorf("currency revaluation: invalid payload: %w", asynq.SkipRetry)
	}
	tracker := j.Metrics.Track(TaskCurrencyRevaluation)
	defer func() { err = tracker.End(err) }()

	logger := loggerOrDefault(j.Logger).With(slog.String("job", TaskCurrencyRevaluation), slog.Int64("currency_id", payload.CurrencyID))
	result, err := j.Service.Run(ctx, revaluation.RunInput{
		CurrencyID:     payload.CurrencyID,
		NewRate:        rate,
		FiscalPeriodID: payload.FiscalPeriodID,
		Date:           payload.Date,
		PostVoucher:    payload.PostVoucher,
		ActorID:        payload.ActorID,
	})
	switch {
	case err == nil:
		logger.Info("revaluation completed", slog.String("run_id", result.RunID.String()),
			slog.String("net_effect", result.NetEffect.String()))
		return nil
	case errors.Is(err, revaluation.ErrRunInProgress):
		logger.Warn("revaluation in progress, retrying later")
		return err
	case errors.Is(err, revaluation.ErrAlreadyRun):
		logger.Info("revaluation already completed", slog.Any("error", err))
		return nil
	case errors.Is(err, revaluation.ErrRevaluationDisabled), errors.Is(err, revaluation.ErrReferenceCurrency),
		errors.Is(err, revaluation.ErrInvalidRate):
		logger.Error("revaluation rejected", slog.Any("error", err))
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	logger.Error("revaluation failed", slog.Any("error", err))
	return err
}
