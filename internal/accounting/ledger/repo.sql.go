package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/ledger-core/internal/accounting/accounts"
	"github.com/odyssey-erp/ledger-core/internal/accounting/periods"
	"github.com/odyssey-erp/ledger-core/internal/platform/db"
)

// Repository persists vouchers and entries in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepository struct {
	tx       pgx.Tx
	periods  periods.Repository
	accounts accounts.Repository
}

// WithTx executes fn within a read-committed transaction; posting paths
// serialise on row locks.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("ledger repository not initialised")
	}
	return db.WithLockingTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx, periods: periods.NewRepository(tx), accounts: accounts.NewRepository(tx)})
	})
}

func (r *txRepository) NextSequence(ctx context.Context, documentType string) (Sequence, error) {
	seq := Sequence{DocumentType: documentType}
	err := r.tx.QueryRow(ctx, `INSERT INTO document_sequences (document_type, prefix, current_number)
VALUES ($1, $1, 1)
ON CONFLICT (document_type) DO UPDATE SET current_number = document_sequences.current_number + 1, updated_at = NOW()
RETURNING prefix, current_number, format`, documentType).Scan(&seq.Prefix, &seq.Number, &seq.Format)
	if err != nil {
		return Sequence{}, fmt.Errorf("ledger: next sequence %s: %w", documentType, err)
	}
	return seq, nil
}

func (r *txRepository) PeriodsCovering(ctx context.Context, date time.Time) ([]periods.Period, error) {
	return r.periods.Covering(ctx, date, true)
}

func (r *txRepository) PeriodForUpdate(ctx context.Context, id int64) (periods.Period, error) {
	return r.periods.Get(ctx, id, true)
}

func (r *txRepository) NextOpenPeriodAfter(ctx context.Context, date time.Time) (periods.Period, error) {
	return r.periods.NextOpenAfter(ctx, date)
}

func (r *txRepository) Account(ctx context.Context, id int64, code string) (accounts.Account, error) {
	return accounts.Resolve(ctx, r.accounts, id, code)
}

func (r *txRepository) InsertVoucher(ctx context.Context, v Voucher) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO ledger_vouchers (voucher_number, voucher_date, fiscal_period_id, reversal_of, posted_by)
VALUES ($1,$2,$3,$4,$5)`, v.Number, periods.DateOnly(v.Date), v.FiscalPeriodID, nullString(v.ReversalOf), nullInt(v.PostedBy))
	if db.IsUniqueViolation(err, "ledger_vouchers_pkey") {
		return fmt.Errorf("%w: %s", ErrDuplicateVoucher, v.Number)
	}
	return err
}

func (r *txRepository) InsertEntry(ctx context.Context, e Entry) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO ledger_entries (voucher_number, voucher_date, account_id, direction, amount, description,
reference_type, reference_id, fiscal_period_id, reversal_of, posted_by)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11) RETURNING id`,
		e.VoucherNumber, periods.DateOnly(e.VoucherDate), e.AccountID, e.Direction, e.Amount, e.Description,
		nullString(e.ReferenceType), e.ReferenceID, e.FiscalPeriodID, nullString(e.ReversalOf), nullInt(e.PostedBy)).Scan(&id)
	if err != nil {
		return 0, err
	}
	if e.Currency != nil {
		_, err = r.tx.Exec(ctx, `INSERT INTO currency_ledger_entries (ledger_entry_id, currency_id, original_amount, exchange_rate, reference_amount)
VALUES ($1,$2,$3,$4,$5)`, id, e.Currency.CurrencyID, e.Currency.OriginalAmount, e.Currency.ExchangeRate, e.Currency.ReferenceAmount)
		if err != nil {
			return 0, err
		}
	}
	return id, nil
}

const selectEntry = `SELECT e.id, e.voucher_number, e.voucher_date, e.account_id, a.code, e.direction, e.amount, e.description,
COALESCE(e.reference_type, ''), e.reference_id, e.fiscal_period_id, e.is_reversed, COALESCE(e.reversal_of, ''),
COALESCE(e.posted_by, 0), e.created_at, c.currency_id, c.original_amount, c.exchange_rate, c.reference_amount
FROM ledger_entries e
JOIN accounts a ON a.id = e.account_id
LEFT JOIN currency_ledger_entries c ON c.ledger_entry_id = e.id`

func (r *txRepository) EntriesForUpdate(ctx context.Context, voucherNumber string) ([]Entry, error) {
	return queryEntries(ctx, r.tx, selectEntry+` WHERE e.voucher_number=$1 ORDER BY e.id FOR UPDATE OF e`, voucherNumber)
}

func (r *txRepository) MarkReversed(ctx context.Context, voucherNumbers ...string) error {
	for _, number := range voucherNumbers {
		cmd, err := r.tx.Exec(ctx, `UPDATE ledger_entries SET is_reversed=TRUE WHERE voucher_number=$1`, number)
		if err != nil {
			return err
		}
		if cmd.RowsAffected() == 0 {
			return fmt.Errorf("%w: %s", ErrVoucherNotFound, number)
		}
	}
	return nil
}

// AccountBalance returns debits minus credits, optionally up to asOf inclusive.
func (r *Repository) AccountBalance(ctx context.Context, accountID int64, asOf *time.Time) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := r.pool.QueryRow(ctx, `SELECT COALESCE(SUM(CASE WHEN direction='DEBIT' THEN amount ELSE -amount END), 0)
FROM ledger_entries WHERE account_id=$1 AND ($2::date IS NULL OR voucher_date <= $2::date)`, accountID, dateArg(asOf)).Scan(&balance)
	return balance, err
}

// AccountTotals sums debits and credits for every active account.
func (r *Repository) AccountTotals(ctx context.Context, asOf *time.Time) ([]AccountTotals, error) {
	rows, err := r.pool.Query(ctx, `SELECT a.id, a.code, a.name, a.type, a.parent_id, a.is_active,
COALESCE(SUM(CASE WHEN e.direction='DEBIT' THEN e.amount END), 0),
COALESCE(SUM(CASE WHEN e.direction='CREDIT' THEN e.amount END), 0)
FROM accounts a
LEFT JOIN ledger_entries e ON e.account_id = a.id AND ($1::date IS NULL OR e.voucher_date <= $1::date)
WHERE a.is_active
GROUP BY a.id ORDER BY a.code`, dateArg(asOf))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []AccountTotals
	for rows.Next() {
		var t AccountTotals
		if err := rows.Scan(&t.Account.ID, &t.Account.Code, &t.Account.Name, &t.Account.Type, &t.Account.ParentID, &t.Account.IsActive, &t.Debit, &t.Credit); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// VoucherEntries lists the lines of a voucher.
func (r *Repository) VoucherEntries(ctx context.Context, voucherNumber string) ([]Entry, error) {
	return queryEntries(ctx, r.pool, selectEntry+` WHERE e.voucher_number=$1 ORDER BY e.id`, voucherNumber)
}

// ForeignCurrencyBalances returns debit-positive original-currency balances per account.
func (r *Repository) ForeignCurrencyBalances(ctx context.Context, currencyID int64, asOf *time.Time) ([]ForeignBalance, error) {
	rows, err := r.pool.Query(ctx, `SELECT e.account_id, a.code,
SUM(CASE WHEN e.direction='DEBIT' THEN c.original_amount ELSE -c.original_amount END) AS balance
FROM currency_ledger_entries c
JOIN ledger_entries e ON e.id = c.ledger_entry_id
JOIN accounts a ON a.id = e.account_id
WHERE c.currency_id=$1 AND ($2::date IS NULL OR e.voucher_date <= $2::date)
GROUP BY e.account_id, a.code ORDER BY a.code`, currencyID, dateArg(asOf))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ForeignBalance
	for rows.Next() {
		b := ForeignBalance{CurrencyID: currencyID}
		if err := rows.Scan(&b.AccountID, &b.AccountCode, &b.Balance); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// UnbalancedVouchers scans vouchers dated on or after since for debit/credit drift.
func (r *Repository) UnbalancedVouchers(ctx context.Context, since time.Time) ([]VoucherImbalance, error) {
	rows, err := r.pool.Query(ctx, `SELECT voucher_number,
COALESCE(SUM(CASE WHEN direction='DEBIT' THEN amount END), 0) AS debit,
COALESCE(SUM(CASE WHEN direction='CREDIT' THEN amount END), 0) AS credit
FROM ledger_entries WHERE voucher_date >= $1::date
GROUP BY voucher_number
HAVING COALESCE(SUM(CASE WHEN direction='DEBIT' THEN amount END), 0) <> COALESCE(SUM(CASE WHEN direction='CREDIT' THEN amount END), 0)
	OR COUNT(*) < 2
ORDER BY voucher_number`, periods.DateOnly(since))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []VoucherImbalance
	for rows.Next() {
		var v VoucherImbalance
		if err := rows.Scan(&v.VoucherNumber, &v.Debit, &v.Credit); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func queryEntries(ctx context.Context, q db.Querier, query string, args ...any) ([]Entry, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		var (
			e          Entry
			currencyID *int64
			original   decimal.NullDecimal
			rate       decimal.NullDecimal
			reference  decimal.NullDecimal
		)
		if err := rows.Scan(&e.ID, &e.VoucherNumber, &e.VoucherDate, &e.AccountID, &e.AccountCode, &e.Direction, &e.Amount, &e.Description,
			&e.ReferenceType, &e.ReferenceID, &e.FiscalPeriodID, &e.IsReversed, &e.ReversalOf, &e.PostedBy, &e.CreatedAt,
			&currencyID, &original, &rate, &reference); err != nil {
			return nil, err
		}
		if currencyID != nil {
			e.Currency = &CurrencyAmount{
				CurrencyID:      *currencyID,
				OriginalAmount:  original.Decimal,
				ExchangeRate:    rate.Decimal,
				ReferenceAmount: reference.Decimal,
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func dateArg(t *time.Time) any {
	if t == nil {
		return nil
	}
	return periods.DateOnly(*t)
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullInt(val int64) any {
	if val == 0 {
		return nil
	}
	return val
}
