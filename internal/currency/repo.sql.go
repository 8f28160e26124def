package currency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/ledger-core/internal/platform/db"
)

// Repository persists policies, currencies and contexts in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepository struct {
	tx pgx.Tx
}

const selectPolicy = `SELECT id, name, code, description, policy_type, requires_reference_currency,
allow_multi_currency_balances, conversion_timing, revaluation_enabled, COALESCE(revaluation_frequency, ''),
exchange_rate_source, is_active, created_at, updated_at FROM currency_policies`

const selectCurrency = `SELECT id, code, name, exchange_rate, is_primary, is_active FROM currencies`

const selectContext = `SELECT id, transaction_type, transaction_id, currency_policy_id, policy_snapshot,
transaction_currency_id, reference_currency_id, exchange_rate, exchange_rate_date, transaction_amount,
reference_amount, conversion_decision, conversion_reason, created_at FROM transaction_currency_contexts`

// WithTx executes fn within a read-committed transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("currency repository not initialised")
	}
	return db.WithLockingTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

// ActivePolicy returns the single active policy.
func (r *Repository) ActivePolicy(ctx context.Context) (Policy, error) {
	p, err := scanPolicy(r.pool.QueryRow(ctx, selectPolicy+` WHERE is_active`))
	if errors.Is(err, ErrPolicyNotFound) {
		return Policy{}, ErrNoActivePolicy
	}
	return p, err
}

// Currency loads a currency by id.
func (r *Repository) Currency(ctx context.Context, id int64) (Currency, error) {
	return scanCurrency(r.pool.QueryRow(ctx, selectCurrency+` WHERE id = $1`, id))
}

// CurrencyByCode loads a currency by ISO code.
func (r *Repository) CurrencyByCode(ctx context.Context, code string) (Currency, error) {
	return scanCurrency(r.pool.QueryRow(ctx, selectCurrency+` WHERE code = $1`, code))
}

// ReferenceCurrency loads the primary currency.
func (r *Repository) ReferenceCurrency(ctx context.Context) (Currency, error) {
	c, err := scanCurrency(r.pool.QueryRow(ctx, selectCurrency+` WHERE is_primary`))
	if errors.Is(err, ErrCurrencyNotFound) {
		return Currency{}, ErrNoReferenceCurrency
	}
	return c, err
}

// RateOn returns the most recent rate effective on or before date.
func (r *Repository) RateOn(ctx context.Context, currencyID int64, date time.Time) (decimal.Decimal, bool, error) {
	var rate decimal.Decimal
	err := r.pool.QueryRow(ctx, `SELECT rate FROM exchange_rate_history
WHERE currency_id = $1 AND effective_date <= $2
ORDER BY effective_date DESC, id DESC LIMIT 1`, currencyID, dateOnly(date)).Scan(&rate)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, err
	}
	return rate, true, nil
}

// ContextFor loads the stored context of a transaction.
func (r *Repository) ContextFor(ctx context.Context, transactionType string, transactionID int64) (TransactionContext, error) {
	return scanContext(r.pool.QueryRow(ctx, selectContext+` WHERE transaction_type = $1 AND transaction_id = $2`, transactionType, transactionID))
}

func (r *txRepository) LockPolicies(ctx context.Context) error {
	_, err := r.tx.Exec(ctx, `SELECT id FROM currency_policies ORDER BY id FOR UPDATE`)
	return err
}

func (r *txRepository) ActivePolicy(ctx context.Context) (Policy, error) {
	p, err := scanPolicy(r.tx.QueryRow(ctx, selectPolicy+` WHERE is_active FOR SHARE`))
	if errors.Is(err, ErrPolicyNotFound) {
		return Policy{}, ErrNoActivePolicy
	}
	return p, err
}

func (r *txRepository) Policy(ctx context.Context, id int64) (Policy, error) {
	return scanPolicy(r.tx.QueryRow(ctx, selectPolicy+` WHERE id = $1`, id))
}

func (r *txRepository) InsertPolicy(ctx context.Context, p Policy) (Policy, error) {
	var freq any
	if p.RevaluationFrequency != "" {
		freq = string(p.RevaluationFrequency)
	}
	source := p.ExchangeRateSource
	if source == "" {
		source = SourceManual
	}
	err := r.tx.QueryRow(ctx, `INSERT INTO currency_policies (name, code, description, policy_type,
requires_reference_currency, allow_multi_currency_balances, conversion_timing, revaluation_enabled,
revaluation_frequency, exchange_rate_source)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
RETURNING id, created_at, updated_at`, p.Name, p.Code, p.Description, string(p.Type), p.RequiresReferenceCurrency,
		p.AllowMultiCurrencyBalances, string(p.ConversionTiming), p.RevaluationEnabled, freq, string(source)).
		Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return Policy{}, fmt.Errorf("currency: insert policy %s: %w", p.Code, err)
	}
	p.ExchangeRateSource = source
	p.IsActive = false
	return p, nil
}

func (r *txRepository) DeactivatePolicies(ctx context.Context) error {
	_, err := r.tx.Exec(ctx, `UPDATE currency_policies SET is_active = FALSE, updated_at = NOW() WHERE is_active`)
	return err
}

func (r *txRepository) ActivatePolicy(ctx context.Context, id int64) error {
	tag, err := r.tx.Exec(ctx, `UPDATE currency_policies SET is_active = TRUE, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrPolicyNotFound
	}
	return nil
}

func (r *txRepository) InsertContext(ctx context.Context, c TransactionContext) (TransactionContext, error) {
	var rateDate any
	if c.RateDate != nil {
		rateDate = dateOnly(*c.RateDate)
	}
	err := r.tx.QueryRow(ctx, `INSERT INTO transaction_currency_contexts (transaction_type, transaction_id,
currency_policy_id, policy_snapshot, transaction_currency_id, reference_currency_id, exchange_rate,
exchange_rate_date, transaction_amount, reference_amount, conversion_decision, conversion_reason)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
RETURNING id, created_at`, c.TransactionType, c.TransactionID, c.PolicyID, c.Snapshot, c.TransactionCurrencyID,
		c.ReferenceCurrencyID, c.ExchangeRate, rateDate, c.TransactionAmount, c.ReferenceAmount, string(c.Decision), c.Reason).
		Scan(&c.ID, &c.CreatedAt)
	if db.IsUniqueViolation(err, "uq_transaction_currency_context") {
		return TransactionContext{}, fmt.Errorf("%w: %s #%d", ErrContextExists, c.TransactionType, c.TransactionID)
	}
	if err != nil {
		return TransactionContext{}, err
	}
	return c, nil
}

func (r *txRepository) InsertCurrency(ctx context.Context, c Currency) (Currency, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO currencies (code, name, exchange_rate, is_primary, is_active)
VALUES ($1,$2,$3,$4,$5) RETURNING id`, c.Code, c.Name, c.ExchangeRate, c.IsPrimary, c.IsActive).Scan(&c.ID)
	if err != nil {
		return Currency{}, fmt.Errorf("currency: insert %s: %w", c.Code, err)
	}
	return c, nil
}

func (r *txRepository) InsertRate(ctx context.Context, rate Rate) (Rate, error) {
	var ref any
	if rate.Reference != "" {
		ref = rate.Reference
	}
	err := r.tx.QueryRow(ctx, `INSERT INTO exchange_rate_history (currency_id, rate, effective_date, source, reference)
VALUES ($1,$2,$3,$4,$5) RETURNING id, created_at`, rate.CurrencyID, rate.Rate, dateOnly(rate.EffectiveDate),
		string(rate.Source), ref).Scan(&rate.ID, &rate.CreatedAt)
	if err != nil {
		return Rate{}, fmt.Errorf("currency: insert rate: %w", err)
	}
	return rate, nil
}

func scanPolicy(row pgx.Row) (Policy, error) {
	var (
		p                          Policy
		kind, timing, freq, source string
	)
	err := row.Scan(&p.ID, &p.Name, &p.Code, &p.Description, &kind, &p.RequiresReferenceCurrency,
		&p.AllowMultiCurrencyBalances, &timing, &p.RevaluationEnabled, &freq, &source, &p.IsActive, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Policy{}, ErrPolicyNotFound
		}
		return Policy{}, err
	}
	p.Type, p.ConversionTiming, p.RevaluationFrequency, p.ExchangeRateSource = PolicyType(kind), ConversionTiming(timing), Frequency(freq), RateSource(source)
	return p, nil
}

func scanCurrency(row pgx.Row) (Currency, error) {
	var c Currency
	if err := row.Scan(&c.ID, &c.Code, &c.Name, &c.ExchangeRate, &c.IsPrimary, &c.IsActive); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Currency{}, ErrCurrencyNotFound
		}
		return Currency{}, err
	}
	return c, nil
}

func scanContext(row pgx.Row) (TransactionContext, error) {
	var (
		c        TransactionContext
		rate     decimal.NullDecimal
		refAmt   decimal.NullDecimal
		rateDate *time.Time
		decision string
	)
	err := row.Scan(&c.ID, &c.TransactionType, &c.TransactionID, &c.PolicyID, &c.Snapshot, &c.TransactionCurrencyID,
		&c.ReferenceCurrencyID, &rate, &rateDate, &c.TransactionAmount, &refAmt, &decision, &c.Reason, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return TransactionContext{}, ErrContextNotFound
		}
		return TransactionContext{}, err
	}
	if rate.Valid {
		c.ExchangeRate = &rate.Decimal
	}
	if refAmt.Valid {
		c.ReferenceAmount = &refAmt.Decimal
	}
	c.RateDate = rateDate
	c.Decision = Decision(decision)
	return c, nil
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
