package revaluation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/ledger-core/internal/accounting/ledger"
	"github.com/odyssey-erp/ledger-core/internal/currency"
	"github.com/odyssey-erp/ledger-core/internal/observability"
	"github.com/odyssey-erp/ledger-core/internal/platform/cache"
	"github.com/odyssey-erp/ledger-core/internal/shared"
)

// ReferenceType tags vouchers posted by revaluation runs.
const ReferenceType = "currency_revaluation"

const idempotencyModule = "revaluation"

var validate = validator.New(validator.WithRequiredStructEnabled())

// CurrencyPort is the subset of the currency engine used by runs.
type CurrencyPort interface {
	ActivePolicy(ctx context.Context) (currency.Policy, error)
	ReferenceCurrency(ctx context.Context) (currency.Currency, error)
	ExchangeRate(ctx context.Context, sourceID, targetID int64, date *time.Time) (decimal.Decimal, error)
	RecordExchangeRate(ctx context.Context, input currency.RateInput) (currency.Rate, error)
}

// LedgerPort reads foreign balances and posts the gain/loss voucher.
type LedgerPort interface {
	ForeignCurrencyBalances(ctx context.Context, currencyID int64, asOf *time.Time) ([]ledger.ForeignBalance, error)
	PostTransaction(ctx context.Context, input ledger.PostingInput) (string, error)
	ReverseTransaction(ctx context.Context, input ledger.ReverseInput) (string, error)
}

// Locker serialises runs across processes.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error)
}

// IdempotencyPort remembers completed runs.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// AuditPort records runs for compliance.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Config names the unrealised exchange accounts.
type Config struct {
	GainAccountCode string
	LossAccountCode string
	LockTTL         time.Duration
}

// Deps groups the collaborators of Service.
type Deps struct {
	Repo        RepositoryPort
	Currency    CurrencyPort
	Ledger      LedgerPort
	Locker      Locker
	Idempotency IdempotencyPort
	Audit       AuditPort
	Logger      *slog.Logger
}

// Service records revaluations and runs them per currency.
type Service struct {
	repo     RepositoryPort
	currency CurrencyPort
	ledger   LedgerPort
	locker   Locker
	idem     IdempotencyPort
	audit    AuditPort
	metrics  *observability.Domain
	logger   *slog.Logger
	cfg      Config
	now      func() time.Time
}

// NewService constructs Service.
func NewService(deps Deps, cfg Config) *Service {
	if cfg.GainAccountCode == "" {
		cfg.GainAccountCode = "4501"
	}
	if cfg.LossAccountCode == "" {
		cfg.LossAccountCode = "5501"
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 5 * time.Minute
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:     deps.Repo,
		currency: deps.Currency,
		ledger:   deps.Ledger,
		locker:   deps.Locker,
		idem:     deps.Idempotency,
		audit:    deps.Audit,
		logger:   logger,
		cfg:      cfg,
		now:      time.Now,
	}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// WithMetrics attaches domain counters.
func (s *Service) WithMetrics(m *observability.Domain) *Service {
	s.metrics = m
	return s
}

// Record computes and persists one revaluation row. It never posts ledger
// entries.
func (s *Service) Record(ctx context.Context, input RecordInput) (Revaluation, error) {
	if err := validate.Struct(input); err != nil {
		return Revaluation{}, fmt.Errorf("revaluation: record: %w", err)
	}
	if !input.PreviousRate.IsPositive() || !input.NewRate.IsPositive() {
		return Revaluation{}, ErrInvalidRate
	}
	if input.RunID == uuid.Nil {
		input.RunID = uuid.New()
	}
	if input.Date.IsZero() {
		input.Date = s.now()
	}
	var out Revaluation
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		out, err = tx.Insert(ctx, Compute(input))
		return err
	})
	if err != nil {
		return Revaluation{}, err
	}
	s.metrics.Revalued(string(out.Type), out.Amount)
	return out, nil
}

// Run revalues every account with a balance in input.CurrencyID at the new
// rate. One run per currency and period executes at a time, and a completed
// run for the same date is rejected.
func (s *Service) Run(ctx context.Context, input RunInput) (RunResult, error) {
	if err := validate.Struct(input); err != nil {
		return RunResult{}, fmt.Errorf("revaluation: run: %w", err)
	}
	if !input.NewRate.IsPositive() {
		return RunResult{}, ErrInvalidRate
	}
	policy, err := s.currency.ActivePolicy(ctx)
	if err != nil {
		return RunResult{}, err
	}
	if !policy.RevaluationEnabled {
		return RunResult{}, ErrRevaluationDisabled
	}
	ref, err := s.currency.ReferenceCurrency(ctx)
	if err != nil {
		return RunResult{}, err
	}
	if ref.ID == input.CurrencyID {
		return RunResult{}, ErrReferenceCurrency
	}
	date := s.now()
	if input.Date != nil {
		date = *input.Date
	}
	y, m, d := date.Date()
	date = time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	var periodID int64
	if input.FiscalPeriodID != nil {
		periodID = *input.FiscalPeriodID
	}

	if s.locker != nil {
		release, err := s.locker.Acquire(ctx, shared.RevaluationLockKey(input.CurrencyID, periodID), s.cfg.LockTTL)
		if errors.Is(err, cache.ErrLockHeld) {
			return RunResult{}, fmt.Errorf("%w: currency %d", ErrRunInProgress, input.CurrencyID)
		}
		if err != nil {
			return RunResult{}, err
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				s.logger.Warn("release revaluation lock", slog.Any("error", err))
			}
		}()
	}

	idemKey := shared.RevaluationIdempotencyKey(input.CurrencyID, periodID, date.Format("2006-01-02"))
	if s.idem != nil {
		if err := s.idem.CheckAndInsert(ctx, idemKey, idempotencyModule); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				return RunResult{}, fmt.Errorf("%w: %s", ErrAlreadyRun, idemKey)
			}
			return RunResult{}, err
		}
	}
	result, persisted, err := s.run(ctx, input, ref, date)
	if err != nil && !persisted && s.idem != nil {
		if derr := s.idem.Delete(context.WithoutCancel(ctx), idemKey); derr != nil {
			s.logger.Warn("release revaluation key", slog.String("key", idemKey), slog.Any("error", derr))
		}
	}
	return result, err
}

func (s *Service) run(ctx context.Context, input RunInput, ref currency.Currency, date time.Time) (RunResult, bool, error) {
	previous, err := s.currency.ExchangeRate(ctx, input.CurrencyID, ref.ID, &date)
	if errors.Is(err, currency.ErrRateUnavailable) {
		previous, err = decimal.NewFromInt(1), nil
	}
	if err != nil {
		return RunResult{}, false, err
	}
	balances, err := s.ledger.ForeignCurrencyBalances(ctx, input.CurrencyID, &date)
	if err != nil {
		return RunResult{}, false, err
	}
	result := RunResult{
		RunID:        uuid.New(),
		PreviousRate: previous,
		NewRate:      input.NewRate,
		TotalGain:    decimal.Zero,
		TotalLoss:    decimal.Zero,
	}
	for _, b := range balances {
		if b.Balance.IsZero() {
			continue
		}
		rv := Compute(RecordInput{
			RunID:          result.RunID,
			CurrencyID:     input.CurrencyID,
			AccountID:      b.AccountID,
			AccountCode:    b.AccountCode,
			FiscalPeriodID: input.FiscalPeriodID,
			Date:           date,
			ForeignBalance: b.Balance,
			PreviousRate:   previous,
			NewRate:        input.NewRate,
		})
		if rv.IsGain() {
			result.TotalGain = result.TotalGain.Add(rv.Amount)
		} else {
			result.TotalLoss = result.TotalLoss.Add(rv.Amount)
		}
		result.Revaluations = append(result.Revaluations, rv)
	}
	result.NetEffect = result.TotalGain.Sub(result.TotalLoss)

	if input.PostVoucher {
		if entries := s.voucherEntries(result.Revaluations); len(entries) > 0 {
			voucher, err := s.ledger.PostTransaction(ctx, ledger.PostingInput{
				Entries:       entries,
				VoucherDate:   date,
				ReferenceType: ReferenceType,
				PostedBy:      input.ActorID,
			})
			if err != nil {
				return RunResult{}, false, err
			}
			result.VoucherNumber = voucher
			for i := range result.Revaluations {
				result.Revaluations[i].VoucherNumber = voucher
			}
		}
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		for i, rv := range result.Revaluations {
			stored, err := tx.Insert(ctx, rv)
			if err != nil {
				return err
			}
			result.Revaluations[i] = stored
		}
		return nil
	})
	if err != nil {
		if result.VoucherNumber != "" {
			s.compensate(ctx, result.VoucherNumber, input.ActorID)
		}
		return RunResult{}, false, err
	}

	if _, err := s.currency.RecordExchangeRate(ctx, currency.RateInput{
		SourceCurrencyID: input.CurrencyID,
		TargetCurrencyID: ref.ID,
		Rate:             input.NewRate,
		Date:             &date,
		Source:           currency.SourceSystem,
		Reference:        "REVALUATION",
	}); err != nil {
		return result, true, fmt.Errorf("revaluation: run %s stored but new rate not recorded: %w", result.RunID, err)
	}

	for _, rv := range result.Revaluations {
		s.metrics.Revalued(string(rv.Type), rv.Amount)
	}
	s.logger.Info("revaluation run completed", slog.String("run_id", result.RunID.String()),
		slog.Int64("currency_id", input.CurrencyID), slog.Int("accounts", len(result.Revaluations)),
		slog.String("net_effect", result.NetEffect.String()), slog.String("voucher", result.VoucherNumber))
	s.record(ctx, input.ActorID, result)
	return result, true, nil
}

// voucherEntries books each account delta against the unrealised gain or
// loss account.
func (s *Service) voucherEntries(rows []Revaluation) []ledger.EntryInput {
	var (
		entries []ledger.EntryInput
		gain    = decimal.Zero
		loss    = decimal.Zero
	)
	for _, rv := range rows {
		delta := rv.Delta()
		switch {
		case delta.IsPositive():
			entries = append(entries, ledger.EntryInput{AccountID: rv.AccountID, Direction: ledger.Debit, Amount: delta,
				Description: "Unrealised exchange gain " + rv.AccountCode})
			gain = gain.Add(delta)
		case delta.IsNegative():
			entries = append(entries, ledger.EntryInput{AccountID: rv.AccountID, Direction: ledger.Credit, Amount: delta.Neg(),
				Description: "Unrealised exchange loss " + rv.AccountCode})
			loss = loss.Add(delta.Neg())
		}
	}
	if gain.IsPositive() {
		entries = append(entries, ledger.EntryInput{AccountCode: s.cfg.GainAccountCode, Direction: ledger.Credit, Amount: gain,
			Description: "Unrealised exchange gain"})
	}
	if loss.IsPositive() {
		entries = append(entries, ledger.EntryInput{AccountCode: s.cfg.LossAccountCode, Direction: ledger.Debit, Amount: loss,
			Description: "Unrealised exchange loss"})
	}
	return entries
}

func (s *Service) compensate(ctx context.Context, voucher string, actor int64) {
	reversal, err := s.ledger.ReverseTransaction(context.WithoutCancel(ctx), ledger.ReverseInput{
		VoucherNumber: voucher,
		Reason:        "Revaluation rows not stored",
		Override:      true,
		PostedBy:      actor,
	})
	if err != nil {
		s.logger.Error("revaluation voucher left unreversed", slog.String("voucher", voucher), slog.Any("error", err))
		return
	}
	s.logger.Warn("revaluation voucher reversed", slog.String("voucher", voucher), slog.String("reversal", reversal))
}

// ByRun lists the rows of a run.
func (s *Service) ByRun(ctx context.Context, runID uuid.UUID) ([]Revaluation, error) {
	return s.repo.ByRun(ctx, runID)
}

func (s *Service) record(ctx context.Context, actor int64, result RunResult) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actor,
		Action:   "currency.revaluation.run",
		Entity:   "currency_revaluation_run",
		EntityID: result.RunID.String(),
		Meta: map[string]any{
			"accounts":   len(result.Revaluations),
			"total_gain": result.TotalGain.String(),
			"total_loss": result.TotalLoss.String(),
			"voucher":    result.VoucherNumber,
		},
		At: s.now(),
	}); err != nil {
		s.logger.Warn("audit record", slog.String("run_id", result.RunID.String()), slog.Any("error", err))
	}
}
