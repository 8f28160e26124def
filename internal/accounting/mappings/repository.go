package mappings

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/ledger-core/internal/platform/db"
)

// Repository resolves integration keys to accounts.
type Repository interface {
	Get(ctx context.Context, module, key string) (AccountMapping, error)
}

type repository struct {
	q db.Querier
}

// NewRepository returns a Repository over q.
func NewRepository(q db.Querier) Repository {
	return &repository{q: q}
}

// Get resolves an account mapping for the specified key.
func (r *repository) Get(ctx context.Context, module, key string) (AccountMapping, error) {
	if module == "" || key == "" {
		return AccountMapping{}, errors.New("mappings: module and key required")
	}
	normalized := strings.ToUpper(module)
	var mapping AccountMapping
	err := r.q.QueryRow(ctx, `SELECT module, key, account_id, created_at, updated_at FROM account_mappings WHERE module=$1 AND key=$2`, normalized, key).
		Scan(&mapping.Module, &mapping.Key, &mapping.AccountID, &mapping.CreatedAt, &mapping.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return AccountMapping{}, fmt.Errorf("%w: %s/%s", ErrMappingNotFound, normalized, key)
		}
		return AccountMapping{}, err
	}
	return mapping, nil
}
