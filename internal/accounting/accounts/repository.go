package accounts

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/ledger-core/internal/platform/db"
)

// Repository reads the chart of accounts.
type Repository interface {
	List(ctx context.Context) ([]Account, error)
	GetByCode(ctx context.Context, code string) (Account, error)
	GetByID(ctx context.Context, id int64) (Account, error)
}

type repository struct {
	db db.Querier
}

// NewRepository accepts a pool or an open transaction.
func NewRepository(q db.Querier) Repository {
	return &repository{db: q}
}

const selectAccount = `SELECT a.id, a.code, a.name, a.type, a.parent_id, a.is_active,
EXISTS (SELECT 1 FROM accounts c WHERE c.parent_id = a.id) AS has_children,
a.created_at, a.updated_at FROM accounts a`

func (r *repository) List(ctx context.Context) ([]Account, error) {
	rows, err := r.db.Query(ctx, selectAccount+` ORDER BY a.code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var accounts []Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func (r *repository) GetByCode(ctx context.Context, code string) (Account, error) {
	a, err := scanAccount(r.db.QueryRow(ctx, selectAccount+` WHERE a.code=$1`, code))
	if errors.Is(err, pgx.ErrNoRows) {
		return Account{}, fmt.Errorf("%w: code %s", ErrAccountNotFound, code)
	}
	return a, err
}

func (r *repository) GetByID(ctx context.Context, id int64) (Account, error) {
	a, err := scanAccount(r.db.QueryRow(ctx, selectAccount+` WHERE a.id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Account{}, fmt.Errorf("%w: id %d", ErrAccountNotFound, id)
	}
	return a, err
}

func scanAccount(row pgx.Row) (Account, error) {
	var a Account
	err := row.Scan(&a.ID, &a.Code, &a.Name, &a.Type, &a.ParentID, &a.IsActive, &a.HasChildren, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}
