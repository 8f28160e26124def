package periods

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/ledger-core/internal/platform/db"
)

// Repository persists fiscal periods.
type Repository interface {
	// Covering returns every period whose range includes date. lock selects
	// FOR SHARE so administrative transitions wait for in-flight postings.
	Covering(ctx context.Context, date time.Time, lock bool) ([]Period, error)
	Overlapping(ctx context.Context, start, end time.Time) ([]Period, error)
	NextOpenAfter(ctx context.Context, date time.Time) (Period, error)
	Get(ctx context.Context, id int64, lock bool) (Period, error)
	Create(ctx context.Context, p Period) (Period, error)
	UpdateFlags(ctx context.Context, id int64, locked, closed bool) error
}

type repository struct {
	db db.Querier
}

// NewRepository accepts a pool or an open transaction.
func NewRepository(q db.Querier) Repository {
	return &repository{db: q}
}

const selectPeriod = `SELECT id, code, start_date, end_date, is_locked, is_closed, locked_at, closed_at, created_at, updated_at FROM fiscal_periods`

func (r *repository) Covering(ctx context.Context, date time.Time, lock bool) ([]Period, error) {
	query := selectPeriod + ` WHERE $1::date BETWEEN start_date AND end_date ORDER BY start_date, id`
	if lock {
		query += ` FOR SHARE`
	}
	return r.list(ctx, query, DateOnly(date))
}

func (r *repository) Overlapping(ctx context.Context, start, end time.Time) ([]Period, error) {
	return r.list(ctx, selectPeriod+` WHERE start_date <= $2::date AND end_date >= $1::date ORDER BY start_date, id`, DateOnly(start), DateOnly(end))
}

func (r *repository) NextOpenAfter(ctx context.Context, date time.Time) (Period, error) {
	p, err := scanPeriod(r.db.QueryRow(ctx, selectPeriod+` WHERE NOT is_locked AND NOT is_closed AND start_date > $1::date
ORDER BY start_date LIMIT 1 FOR SHARE`, DateOnly(date)))
	if errors.Is(err, pgx.ErrNoRows) {
		return Period{}, fmt.Errorf("%w: no open period after %s", ErrNoPeriod, formatDate(date))
	}
	return p, err
}

func (r *repository) list(ctx context.Context, query string, args ...any) ([]Period, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Period
	for rows.Next() {
		p, err := scanPeriod(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *repository) Get(ctx context.Context, id int64, lock bool) (Period, error) {
	query := selectPeriod + ` WHERE id=$1`
	if lock {
		query += ` FOR UPDATE`
	}
	p, err := scanPeriod(r.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Period{}, fmt.Errorf("%w: %d", ErrPeriodNotFound, id)
	}
	return p, err
}

func (r *repository) Create(ctx context.Context, p Period) (Period, error) {
	err := r.db.QueryRow(ctx, `INSERT INTO fiscal_periods (code, start_date, end_date) VALUES ($1,$2,$3)
RETURNING id, created_at, updated_at`, p.Code, DateOnly(p.StartDate), DateOnly(p.EndDate)).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return Period{}, err
	}
	return p, nil
}

func (r *repository) UpdateFlags(ctx context.Context, id int64, locked, closed bool) error {
	cmd, err := r.db.Exec(ctx, `UPDATE fiscal_periods SET is_locked=$2, is_closed=$3,
locked_at=CASE WHEN $2 THEN COALESCE(locked_at, NOW()) ELSE NULL END,
closed_at=CASE WHEN $3 THEN COALESCE(closed_at, NOW()) ELSE NULL END,
updated_at=NOW() WHERE id=$1`, id, locked, closed)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return fmt.Errorf("%w: %d", ErrPeriodNotFound, id)
	}
	return nil
}

func scanPeriod(row pgx.Row) (Period, error) {
	var p Period
	err := row.Scan(&p.ID, &p.Code, &p.StartDate, &p.EndDate, &p.IsLocked, &p.IsClosed, &p.LockedAt, &p.ClosedAt, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

// Store opens transaction-scoped repositories over a pool.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore constructs Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// WithTx executes fn within a repeatable-read transaction.
func (s *Store) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	if s == nil || s.pool == nil {
		return errors.New("periods: store not initialised")
	}
	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(ctx, NewRepository(tx))
	})
}
