package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/ledger-core/internal/accounting/accounts"
)

// Direction is the side of a voucher line.
type Direction string

const (
	Debit  Direction = "DEBIT"
	Credit Direction = "CREDIT"
)

// Opposite flips the direction.
func (d Direction) Opposite() Direction {
	if d == Debit {
		return Credit
	}
	return Debit
}

// DefaultDocumentType is the sequence used when a posting names none.
const DefaultDocumentType = "VOU"

var (
	// ErrTooFewEntries indicates a voucher with fewer than two lines.
	ErrTooFewEntries = errors.New("ledger: transaction requires at least two entries")
	// ErrInvalidEntry indicates a malformed entry.
	ErrInvalidEntry = errors.New("ledger: invalid entry")
	// ErrUnbalanced indicates total debits differ from total credits.
	ErrUnbalanced = errors.New("ledger: transaction not balanced")
	// ErrDuplicateVoucher indicates an explicit voucher number already in use.
	ErrDuplicateVoucher = errors.New("ledger: voucher number already used")
	// ErrVoucherNotFound indicates an unknown voucher.
	ErrVoucherNotFound = errors.New("ledger: voucher not found")
	// ErrAlreadyReversed indicates a voucher that has been reversed before.
	ErrAlreadyReversed = errors.New("ledger: voucher already reversed")
)

// CurrencyAmount carries the foreign-currency side of an entry.
type CurrencyAmount struct {
	CurrencyID      int64 `validate:"required"`
	OriginalAmount  decimal.Decimal
	ExchangeRate    decimal.Decimal
	ReferenceAmount decimal.Decimal
}

// EntryInput is one requested voucher line. Either AccountID or AccountCode
// identifies the account.
type EntryInput struct {
	AccountID   int64     `validate:"required_without=AccountCode"`
	AccountCode string    `validate:"required_without=AccountID,max=32"`
	Direction   Direction `validate:"required,oneof=DEBIT CREDIT"`
	Amount      decimal.Decimal
	Description string `validate:"max=500"`
	Currency    *CurrencyAmount
}

// PostingInput groups the lines and metadata of one voucher.
type PostingInput struct {
	Entries       []EntryInput `validate:"dive"`
	VoucherNumber string       `validate:"max=64"`
	VoucherDate   time.Time
	DocumentType  string `validate:"max=16"`
	ReferenceType string `validate:"max=64"`
	ReferenceID   *int64
	PostedBy      int64
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Stored scales of ledger amount and rate columns.
const (
	AmountScale = 4
	RateScale   = 8
)

// fitsScale reports whether d has at most places decimal places.
func fitsScale(d decimal.Decimal, places int32) bool {
	return d.Equal(d.Round(places))
}

// Totals sums debit and credit amounts.
func (in PostingInput) Totals() (debit, credit decimal.Decimal) {
	for _, e := range in.Entries {
		switch e.Direction {
		case Debit:
			debit = debit.Add(e.Amount)
		case Credit:
			credit = credit.Add(e.Amount)
		}
	}
	return debit, credit
}

// Validate checks shape, positivity and exact balance.
func (in PostingInput) Validate() error {
	if len(in.Entries) < 2 {
		return fmt.Errorf("%w: got %d", ErrTooFewEntries, len(in.Entries))
	}
	if err := validate.Struct(in); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	for idx, e := range in.Entries {
		if !e.Amount.IsPositive() {
			return fmt.Errorf("%w: entry %d amount %s must be positive", ErrInvalidEntry, idx, e.Amount)
		}
		if !fitsScale(e.Amount, AmountScale) {
			return fmt.Errorf("%w: entry %d amount %s exceeds %d decimal places", ErrInvalidEntry, idx, e.Amount, AmountScale)
		}
		if c := e.Currency; c != nil {
			if !c.OriginalAmount.IsPositive() || !c.ExchangeRate.IsPositive() {
				return fmt.Errorf("%w: entry %d currency amount and rate must be positive", ErrInvalidEntry, idx)
			}
			if !fitsScale(c.OriginalAmount, AmountScale) || !fitsScale(c.ReferenceAmount, AmountScale) {
				return fmt.Errorf("%w: entry %d currency amounts exceed %d decimal places", ErrInvalidEntry, idx, AmountScale)
			}
			if !fitsScale(c.ExchangeRate, RateScale) {
				return fmt.Errorf("%w: entry %d exchange rate %s exceeds %d decimal places", ErrInvalidEntry, idx, c.ExchangeRate, RateScale)
			}
		}
	}
	debit, credit := in.Totals()
	if !debit.Equal(credit) {
		return fmt.Errorf("%w: debits %s, credits %s", ErrUnbalanced, debit.String(), credit.String())
	}
	return nil
}

// Voucher is the header grouping entries under one number.
type Voucher struct {
	Number         string
	Date           time.Time
	FiscalPeriodID int64
	ReversalOf     string
	PostedBy       int64
}

// Entry is a persisted voucher line.
type Entry struct {
	ID             int64
	VoucherNumber  string
	VoucherDate    time.Time
	AccountID      int64
	AccountCode    string
	Direction      Direction
	Amount         decimal.Decimal
	Description    string
	ReferenceType  string
	ReferenceID    *int64
	FiscalPeriodID int64
	IsReversed     bool
	ReversalOf     string
	PostedBy       int64
	CreatedAt      time.Time
	Currency       *CurrencyAmount
}

// Signed returns the amount with debits positive and credits negative.
func (e Entry) Signed() decimal.Decimal {
	if e.Direction == Credit {
		return e.Amount.Neg()
	}
	return e.Amount
}

// ReverseInput identifies the voucher to reverse.
type ReverseInput struct {
	VoucherNumber string `validate:"required"`
	Reason        string `validate:"max=500"`
	// Date of the mirrored voucher. Defaults to the original date, or the
	// first open period after the original when its period is no longer open.
	Date *time.Time
	// Override permits reversing vouchers whose period is locked.
	Override     bool
	DocumentType string
	PostedBy     int64
}

// Sequence is the counter row backing voucher numbers.
type Sequence struct {
	DocumentType string
	Prefix       string
	Number       int64
	Format       string
}

// AccountTotals are raw per-account sums used by the trial balance.
type AccountTotals struct {
	Account accounts.Account
	Debit   decimal.Decimal
	Credit  decimal.Decimal
}

// TrialBalanceRow presents a net balance on its normal side.
type TrialBalanceRow struct {
	AccountID   int64
	AccountCode string
	AccountName string
	Type        accounts.AccountType
	Debit       decimal.Decimal
	Credit      decimal.Decimal
}

// TrialBalance lists every active account balance as of a date.
type TrialBalance struct {
	AsOf        *time.Time
	Rows        []TrialBalanceRow
	TotalDebit  decimal.Decimal
	TotalCredit decimal.Decimal
}

// IsBalanced reports whether total debits equal total credits.
func (tb TrialBalance) IsBalanced() bool {
	return tb.TotalDebit.Equal(tb.TotalCredit)
}

// ForeignBalance is the signed foreign-currency balance of one account.
type ForeignBalance struct {
	AccountID   int64
	AccountCode string
	CurrencyID  int64
	Balance     decimal.Decimal
}

// VoucherImbalance reports a voucher whose stored lines do not balance.
type VoucherImbalance struct {
	VoucherNumber string
	Debit         decimal.Decimal
	Credit        decimal.Decimal
}
