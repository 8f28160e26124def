package revaluation

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/ledger-core/internal/platform/db"
)

// Repository persists revaluation rows in PostgreSQL.
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

// WithTx executes fn within a read-committed transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("revaluation repository not initialised")
	}
	return db.WithLockingTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

// ByRun lists the rows written by one run.
func (r *Repository) ByRun(ctx context.Context, runID uuid.UUID) ([]Revaluation, error) {
	rows, err := r.pool.Query(ctx, `SELECT rv.id, rv.run_id, rv.fiscal_period_id, rv.currency_id, rv.account_id, a.code,
rv.revaluation_date, rv.foreign_balance, rv.previous_rate, rv.new_rate, rv.previous_reference_balance,
rv.new_reference_balance, rv.revaluation_amount, rv.type, COALESCE(rv.voucher_number, ''), rv.notes, rv.created_at
FROM currency_revaluations rv
JOIN accounts a ON a.id = rv.account_id
WHERE rv.run_id = $1
ORDER BY rv.id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Revaluation
	for rows.Next() {
		var (
			rv   Revaluation
			kind string
		)
		if err := rows.Scan(&rv.ID, &rv.RunID, &rv.FiscalPeriodID, &rv.CurrencyID, &rv.AccountID, &rv.AccountCode,
			&rv.Date, &rv.ForeignBalance, &rv.PreviousRate, &rv.NewRate, &rv.PreviousReferenceBalance,
			&rv.NewReferenceBalance, &rv.Amount, &kind, &rv.VoucherNumber, &rv.Notes, &rv.CreatedAt); err != nil {
			return nil, err
		}
		rv.Type = Type(kind)
		out = append(out, rv)
	}
	return out, rows.Err()
}

func (r *txRepository) Insert(ctx context.Context, rv Revaluation) (Revaluation, error) {
	var voucher any
	if rv.VoucherNumber != "" {
		voucher = rv.VoucherNumber
	}
	y, m, d := rv.Date.Date()
	err := r.tx.QueryRow(ctx, `INSERT INTO currency_revaluations (run_id, fiscal_period_id, currency_id, account_id,
revaluation_date, foreign_balance, previous_rate, new_rate, previous_reference_balance, new_reference_balance,
revaluation_amount, type, voucher_number, notes)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
RETURNING id, created_at`, rv.RunID, rv.FiscalPeriodID, rv.CurrencyID, rv.AccountID,
		fmt.Sprintf("%04d-%02d-%02d", y, m, d), rv.ForeignBalance, rv.PreviousRate, rv.NewRate,
		rv.PreviousReferenceBalance, rv.NewReferenceBalance, rv.Amount, string(rv.Type), voucher, rv.Notes).
		Scan(&rv.ID, &rv.CreatedAt)
	if err != nil {
		return Revaluation{}, fmt.Errorf("revaluation: insert account %d: %w", rv.AccountID, err)
	}
	return rv, nil
}
