package currency

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// RepositoryPort is the policy store plus currency lookups.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	ActivePolicy(ctx context.Context) (Policy, error)
	Currency(ctx context.Context, id int64) (Currency, error)
	CurrencyByCode(ctx context.Context, code string) (Currency, error)
	ReferenceCurrency(ctx context.Context) (Currency, error)
	// RateOn returns the latest recorded rate of currencyID effective on or
	// before date; ok is false when none exists.
	RateOn(ctx context.Context, currencyID int64, date time.Time) (rate decimal.Decimal, ok bool, err error)
	ContextFor(ctx context.Context, transactionType string, transactionID int64) (TransactionContext, error)
}

// TxRepository exposes the operations available inside one unit of work.
type TxRepository interface {
	// LockPolicies serialises writers of the active flag.
	LockPolicies(ctx context.Context) error
	ActivePolicy(ctx context.Context) (Policy, error)
	Policy(ctx context.Context, id int64) (Policy, error)
	InsertPolicy(ctx context.Context, p Policy) (Policy, error)
	DeactivatePolicies(ctx context.Context) error
	ActivatePolicy(ctx context.Context, id int64) error
	InsertContext(ctx context.Context, c TransactionContext) (TransactionContext, error)
	InsertCurrency(ctx context.Context, c Currency) (Currency, error)
	InsertRate(ctx context.Context, r Rate) (Rate, error)
}
