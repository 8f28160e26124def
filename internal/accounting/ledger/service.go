package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/ledger-core/internal/accounting/accounts"
	"github.com/odyssey-erp/ledger-core/internal/accounting/periods"
	"github.com/odyssey-erp/ledger-core/internal/observability"
	"github.com/odyssey-erp/ledger-core/internal/shared"
)

// AuditPort records ledger events for compliance.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Config tunes posting rules.
type Config struct {
	DocumentType         string
	PreventParentPosting bool
}

// Service is the only writer of ledger rows.
type Service struct {
	repo    RepositoryPort
	audit   AuditPort
	metrics *observability.Domain
	logger  *slog.Logger
	cfg     Config
	now     func() time.Time
}

// NewService constructs the ledger service.
func NewService(repo RepositoryPort, audit AuditPort, cfg Config, logger *slog.Logger) *Service {
	if cfg.DocumentType == "" {
		cfg.DocumentType = DefaultDocumentType
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, logger: logger, cfg: cfg, now: time.Now}
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

// NextVoucherNumber allocates the next number of documentType in its own
// transaction. Numbers are never reused once committed.
func (s *Service) NextVoucherNumber(ctx context.Context, documentType string) (string, error) {
	var number string
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		number, err = s.allocate(ctx, tx, documentType)
		return err
	})
	return number, err
}

func (s *Service) allocate(ctx context.Context, tx TxRepository, documentType string) (string, error) {
	if documentType == "" {
		documentType = s.cfg.DocumentType
	}
	seq, err := tx.NextSequence(ctx, documentType)
	if err != nil {
		return "", err
	}
	return FormatVoucherNumber(seq), nil
}

// PostTransaction validates and persists a balanced voucher, returning its number.
func (s *Service) PostTransaction(ctx context.Context, input PostingInput) (string, error) {
	if err := input.Validate(); err != nil {
		s.metrics.PostingRejected(rejectionReason(err))
		return "", err
	}
	date := s.voucherDate(input.VoucherDate)
	var voucher string
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		period, err := postablePeriod(ctx, tx, date)
		if err != nil {
			return err
		}
		resolved := make([]accounts.Account, len(input.Entries))
		for idx, entry := range input.Entries {
			account, err := tx.Account(ctx, entry.AccountID, entry.AccountCode)
			if err != nil {
				return err
			}
			if err := account.EnsurePostable(s.cfg.PreventParentPosting); err != nil {
				return err
			}
			resolved[idx] = account
		}
		number := input.VoucherNumber
		if number == "" {
			if number, err = s.allocate(ctx, tx, input.DocumentType); err != nil {
				return err
			}
		}
		if err := tx.InsertVoucher(ctx, Voucher{Number: number, Date: date, FiscalPeriodID: period.ID, PostedBy: input.PostedBy}); err != nil {
			return err
		}
		for idx, entry := range input.Entries {
			_, err := tx.InsertEntry(ctx, Entry{
				VoucherNumber:  number,
				VoucherDate:    date,
				AccountID:      resolved[idx].ID,
				AccountCode:    resolved[idx].Code,
				Direction:      entry.Direction,
				Amount:         entry.Amount,
				Description:    entry.Description,
				ReferenceType:  input.ReferenceType,
				ReferenceID:    input.ReferenceID,
				FiscalPeriodID: period.ID,
				PostedBy:       input.PostedBy,
				Currency:       entry.Currency,
			})
			if err != nil {
				return err
			}
		}
		voucher = number
		return nil
	})
	if err != nil {
		s.metrics.PostingRejected(rejectionReason(err))
		return "", err
	}
	debit, _ := input.Totals()
	s.metrics.VoucherPosted("posting")
	s.logger.Info("voucher posted", slog.String("voucher", voucher), slog.String("date", date.Format("2006-01-02")),
		slog.Int("entries", len(input.Entries)), slog.String("amount", debit.String()))
	s.record(ctx, input.PostedBy, "ledger.post", voucher, map[string]any{
		"reference_type": input.ReferenceType,
		"amount":         debit.String(),
	})
	return voucher, nil
}

// ReverseTransaction posts a mirrored voucher and flags both vouchers reversed.
func (s *Service) ReverseTransaction(ctx context.Context, input ReverseInput) (string, error) {
	if err := validate.Struct(input); err != nil {
		return "", fmt.Errorf("ledger: reverse: %w", err)
	}
	var reversal string
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		original, err := tx.EntriesForUpdate(ctx, input.VoucherNumber)
		if err != nil {
			return err
		}
		if len(original) == 0 {
			return fmt.Errorf("%w: %s", ErrVoucherNotFound, input.VoucherNumber)
		}
		for _, e := range original {
			if e.IsReversed {
				return fmt.Errorf("%w: %s", ErrAlreadyReversed, input.VoucherNumber)
			}
		}
		origPeriod, err := tx.PeriodForUpdate(ctx, original[0].FiscalPeriodID)
		if err != nil {
			return err
		}
		switch origPeriod.Status() {
		case periods.PeriodStatusClosed:
			return fmt.Errorf("%w: %s holds voucher %s", periods.ErrPeriodClosed, origPeriod.Code, input.VoucherNumber)
		case periods.PeriodStatusLocked:
			if !input.Override {
				return fmt.Errorf("%w: %s holds voucher %s", periods.ErrPeriodLocked, origPeriod.Code, input.VoucherNumber)
			}
		}

		date, err := reversalDate(ctx, tx, input, original[0].VoucherDate, origPeriod)
		if err != nil {
			return err
		}
		target, err := postablePeriod(ctx, tx, date)
		if err != nil {
			return err
		}
		number, err := s.allocate(ctx, tx, input.DocumentType)
		if err != nil {
			return err
		}
		if err := tx.InsertVoucher(ctx, Voucher{Number: number, Date: date, FiscalPeriodID: target.ID, ReversalOf: input.VoucherNumber, PostedBy: input.PostedBy}); err != nil {
			return err
		}
		description := input.Reason
		if description == "" {
			description = "Reversal of " + input.VoucherNumber
		}
		for _, e := range original {
			_, err := tx.InsertEntry(ctx, Entry{
				VoucherNumber:  number,
				VoucherDate:    date,
				AccountID:      e.AccountID,
				AccountCode:    e.AccountCode,
				Direction:      e.Direction.Opposite(),
				Amount:         e.Amount,
				Description:    description,
				ReferenceType:  e.ReferenceType,
				ReferenceID:    e.ReferenceID,
				FiscalPeriodID: target.ID,
				ReversalOf:     input.VoucherNumber,
				PostedBy:       input.PostedBy,
				Currency:       e.Currency,
			})
			if err != nil {
				return err
			}
		}
		if err := tx.MarkReversed(ctx, input.VoucherNumber, number); err != nil {
			return err
		}
		reversal = number
		return nil
	})
	if err != nil {
		return "", err
	}
	s.metrics.VoucherPosted("reversal")
	s.logger.Info("voucher reversed", slog.String("voucher", input.VoucherNumber), slog.String("reversal", reversal), slog.Bool("override", input.Override))
	s.record(ctx, input.PostedBy, "ledger.reverse", input.VoucherNumber, map[string]any{
		"reversal": reversal,
		"reason":   input.Reason,
		"override": input.Override,
	})
	return reversal, nil
}

// AccountBalance returns debits minus credits for the account.
func (s *Service) AccountBalance(ctx context.Context, accountID int64, asOf *time.Time) (decimal.Decimal, error) {
	if accountID == 0 {
		return decimal.Zero, errors.New("ledger: account id required")
	}
	return s.repo.AccountBalance(ctx, accountID, asOf)
}

// TrialBalance lists each active account with a non-zero net balance in the
// debit or credit column.
func (s *Service) TrialBalance(ctx context.Context, asOf *time.Time) (TrialBalance, error) {
	totals, err := s.repo.AccountTotals(ctx, asOf)
	if err != nil {
		return TrialBalance{}, err
	}
	tb := TrialBalance{AsOf: asOf}
	for _, t := range totals {
		row := TrialBalanceRow{
			AccountID:   t.Account.ID,
			AccountCode: t.Account.Code,
			AccountName: t.Account.Name,
			Type:        t.Account.Type,
		}
		net := t.Debit.Sub(t.Credit)
		switch {
		case net.IsZero():
			continue
		case net.IsPositive():
			row.Debit = net
		default:
			row.Credit = net.Neg()
		}
		tb.TotalDebit = tb.TotalDebit.Add(row.Debit)
		tb.TotalCredit = tb.TotalCredit.Add(row.Credit)
		tb.Rows = append(tb.Rows, row)
	}
	return tb, nil
}

// VoucherEntries lists the lines of a voucher.
func (s *Service) VoucherEntries(ctx context.Context, voucherNumber string) ([]Entry, error) {
	entries, err := s.repo.VoucherEntries(ctx, voucherNumber)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrVoucherNotFound, voucherNumber)
	}
	return entries, nil
}

// ForeignCurrencyBalances returns signed original-currency balances per account.
func (s *Service) ForeignCurrencyBalances(ctx context.Context, currencyID int64, asOf *time.Time) ([]ForeignBalance, error) {
	return s.repo.ForeignCurrencyBalances(ctx, currencyID, asOf)
}

// UnbalancedVouchers reports vouchers violating the double-entry invariant.
func (s *Service) UnbalancedVouchers(ctx context.Context, since time.Time) ([]VoucherImbalance, error) {
	return s.repo.UnbalancedVouchers(ctx, since)
}

func (s *Service) voucherDate(d time.Time) time.Time {
	if d.IsZero() {
		d = s.now()
	}
	return periods.DateOnly(d)
}

func (s *Service) record(ctx context.Context, actor int64, action, voucher string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actor,
		Action:   action,
		Entity:   "ledger_voucher",
		EntityID: voucher,
		Meta:     meta,
		At:       s.now(),
	}); err != nil {
		s.logger.Warn("audit record", slog.String("voucher", voucher), slog.Any("error", err))
	}
}

func postablePeriod(ctx context.Context, tx TxRepository, date time.Time) (periods.Period, error) {
	candidates, err := tx.PeriodsCovering(ctx, date)
	if err != nil {
		return periods.Period{}, err
	}
	period, err := periods.Resolve(candidates, date)
	if err != nil {
		return periods.Period{}, err
	}
	if err := period.EnsurePostable(date); err != nil {
		return periods.Period{}, err
	}
	return period, nil
}

func reversalDate(ctx context.Context, tx TxRepository, input ReverseInput, originalDate time.Time, origPeriod periods.Period) (time.Time, error) {
	if input.Date != nil {
		return periods.DateOnly(*input.Date), nil
	}
	if origPeriod.Status() == periods.PeriodStatusOpen {
		return periods.DateOnly(originalDate), nil
	}
	next, err := tx.NextOpenPeriodAfter(ctx, origPeriod.EndDate)
	if err != nil {
		return time.Time{}, err
	}
	return periods.DateOnly(next.StartDate), nil
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, ErrUnbalanced):
		return "unbalanced"
	case errors.Is(err, ErrTooFewEntries), errors.Is(err, ErrInvalidEntry):
		return "invalid"
	case errors.Is(err, periods.ErrPeriodLocked), errors.Is(err, periods.ErrPeriodClosed):
		return "period_state"
	case errors.Is(err, periods.ErrNoPeriod), errors.Is(err, periods.ErrOverlappingPeriods), errors.Is(err, periods.ErrDateOutOfRange):
		return "period_lookup"
	case errors.Is(err, accounts.ErrAccountNotFound), errors.Is(err, accounts.ErrAccountInactive), errors.Is(err, accounts.ErrSummaryAccount):
		return "account"
	case errors.Is(err, ErrDuplicateVoucher):
		return "duplicate"
	}
	return "other"
}
