package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/ledger-core/internal/accounting/ledger"
	jobmetrics "github.com/odyssey-erp/ledger-core/internal/jobs"
)

// VoucherAuditor lists vouchers whose lines do not balance.
type VoucherAuditor interface {
	UnbalancedVouchers(ctx context.Context, since time.Time) ([]ledger.VoucherImbalance, error)
}

// GLIntegrityJob verifies the double-entry invariant over recent vouchers.
type GLIntegrityJob struct {
	Ledger  VoucherAuditor
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewGLIntegrityJob initialises the integrity handler.
func NewGLIntegrityJob(l VoucherAuditor, logger *slog.Logger, metrics *jobmetrics.Metrics) *GLIntegrityJob {
	return &GLIntegrityJob{Ledger: l, Logger: logger, Metrics: metrics, clock: func() time.Time { return time.Now().UTC() }}
}

// Handle executes the scan. Findings are logged and counted; the task itself
// succeeds so it is not retried.
func (j *GLIntegrityJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Ledger == nil {
		return errors.New("gl integrity: handler not configured")
	}
	var payload GLIntegrityPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	if payload.LookbackDays <= 0 {
		payload.LookbackDays = 35
	}
	tracker := j.Metrics.Track(TaskGLIntegrity)
	defer func() { err = tracker.End(err) }()

	logger := loggerOrDefault(j.Logger).With(slog.String("job", TaskGLIntegrity), slog.Int("lookback_days", payload.LookbackDays))
	since := j.clock().AddDate(0, 0, -payload.LookbackDays)
	broken, err := j.Ledger.UnbalancedVouchers(ctx, since)
	if err != nil {
		logger.Error("scan failed", slog.Any("error", err))
		return err
	}
	for _, v := range broken {
		logger.Error("unbalanced voucher detected",
			slog.String("voucher", v.VoucherNumber),
			slog.String("debit", v.Debit.String()),
			slog.String("credit", v.Credit.String()),
		)
	}
	j.Metrics.AddAnomalies("unbalanced_voucher", len(broken))
	logger.Info("GL integrity check executed", slog.Int("unbalanced", len(broken)))
	return nil
}

func loggerOrDefault(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}
