package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/ledger-core/internal/accounting/accounts"
	"github.com/odyssey-erp/ledger-core/internal/accounting/periods"
)

// RepositoryPort abstracts transactional repository behaviour.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	AccountBalance(ctx context.Context, accountID int64, asOf *time.Time) (decimal.Decimal, error)
	AccountTotals(ctx context.Context, asOf *time.Time) ([]AccountTotals, error)
	VoucherEntries(ctx context.Context, voucherNumber string) ([]Entry, error)
	ForeignCurrencyBalances(ctx context.Context, currencyID int64, asOf *time.Time) ([]ForeignBalance, error)
	UnbalancedVouchers(ctx context.Context, since time.Time) ([]VoucherImbalance, error)
}

// TxRepository exposes the operations available inside one unit of work.
type TxRepository interface {
	// NextSequence increments and returns the counter for documentType,
	// creating it on first use. The row stays locked until commit.
	NextSequence(ctx context.Context, documentType string) (Sequence, error)
	PeriodsCovering(ctx context.Context, date time.Time) ([]periods.Period, error)
	// PeriodForUpdate loads a period and locks it until commit.
	PeriodForUpdate(ctx context.Context, id int64) (periods.Period, error)
	NextOpenPeriodAfter(ctx context.Context, date time.Time) (periods.Period, error)
	Account(ctx context.Context, id int64, code string) (accounts.Account, error)
	// InsertVoucher fails with ErrDuplicateVoucher when the number exists.
	InsertVoucher(ctx context.Context, v Voucher) error
	InsertEntry(ctx context.Context, e Entry) (int64, error)
	EntriesForUpdate(ctx context.Context, voucherNumber string) ([]Entry, error)
	MarkReversed(ctx context.Context, voucherNumbers ...string) error
}
