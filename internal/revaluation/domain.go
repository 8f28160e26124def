package revaluation

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Type classifies a revaluation row.
type Type string

const (
	TypeGain Type = "GAIN"
	TypeLoss Type = "LOSS"
)

const balanceScale = 4

var (
	// ErrRevaluationDisabled is returned when the active policy does not revalue.
	ErrRevaluationDisabled = errors.New("revaluation: not enabled in the current policy")
	// ErrReferenceCurrency is returned when revaluing the reference currency itself.
	ErrReferenceCurrency = errors.New("revaluation: reference currency cannot be revalued")
	// ErrRunInProgress indicates another run holds the lock.
	ErrRunInProgress = errors.New("revaluation: run already in progress")
	// ErrAlreadyRun indicates the run for this currency, period and date completed before.
	ErrAlreadyRun = errors.New("revaluation: already run for currency, period and date")
	// ErrInvalidRate indicates a non-positive rate.
	ErrInvalidRate = errors.New("revaluation: rate must be positive")
)

// Revaluation is one immutable row per account and run.
type Revaluation struct {
	ID                       int64
	RunID                    uuid.UUID
	FiscalPeriodID           *int64
	CurrencyID               int64
	AccountID                int64
	AccountCode              string
	Date                     time.Time
	ForeignBalance           decimal.Decimal
	PreviousRate             decimal.Decimal
	NewRate                  decimal.Decimal
	PreviousReferenceBalance decimal.Decimal
	NewReferenceBalance      decimal.Decimal
	Amount                   decimal.Decimal
	Type                     Type
	VoucherNumber            string
	Notes                    string
	CreatedAt                time.Time
}

// IsGain reports whether the row is a gain.
func (r Revaluation) IsGain() bool {
	return r.Type == TypeGain
}

// Delta is the signed change of the reference balance.
func (r Revaluation) Delta() decimal.Decimal {
	return r.NewReferenceBalance.Sub(r.PreviousReferenceBalance)
}

// RecordInput carries the figures of one account revaluation.
type RecordInput struct {
	RunID          uuid.UUID
	CurrencyID     int64 `validate:"required"`
	AccountID      int64 `validate:"required"`
	AccountCode    string
	FiscalPeriodID *int64
	Date           time.Time
	ForeignBalance decimal.Decimal
	PreviousRate   decimal.Decimal
	NewRate        decimal.Decimal
	VoucherNumber  string `validate:"max=64"`
	Notes          string `validate:"max=500"`
}

// Compute derives reference balances, the absolute difference and its type.
// Balances are signed debit-positive, so a credit balance whose rate rises
// yields a loss.
func Compute(input RecordInput) Revaluation {
	prev := input.ForeignBalance.Mul(input.PreviousRate).Round(balanceScale)
	next := input.ForeignBalance.Mul(input.NewRate).Round(balanceScale)
	kind := TypeGain
	if next.LessThan(prev) {
		kind = TypeLoss
	}
	return Revaluation{
		RunID:                    input.RunID,
		FiscalPeriodID:           input.FiscalPeriodID,
		CurrencyID:               input.CurrencyID,
		AccountID:                input.AccountID,
		AccountCode:              input.AccountCode,
		Date:                     input.Date,
		ForeignBalance:           input.ForeignBalance,
		PreviousRate:             input.PreviousRate,
		NewRate:                  input.NewRate,
		PreviousReferenceBalance: prev,
		NewReferenceBalance:      next,
		Amount:                   next.Sub(prev).Abs(),
		Type:                     kind,
		VoucherNumber:            input.VoucherNumber,
		Notes:                    input.Notes,
	}
}

// RunInput requests a revaluation of every account holding CurrencyID.
type RunInput struct {
	CurrencyID     int64 `validate:"required"`
	NewRate        decimal.Decimal
	FiscalPeriodID *int64
	Date           *time.Time
	// PostVoucher posts the unrealised gain/loss voucher through the ledger.
	PostVoucher bool
	ActorID     int64
}

// RunResult summarises a completed run.
type RunResult struct {
	RunID         uuid.UUID
	Revaluations  []Revaluation
	PreviousRate  decimal.Decimal
	NewRate       decimal.Decimal
	TotalGain     decimal.Decimal
	TotalLoss     decimal.Decimal
	NetEffect     decimal.Decimal
	VoucherNumber string
}
