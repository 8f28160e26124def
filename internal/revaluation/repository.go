package revaluation

import (
	"context"

	"github.com/google/uuid"
)

// RepositoryPort abstracts transactional repository behaviour.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	ByRun(ctx context.Context, runID uuid.UUID) ([]Revaluation, error)
}

// TxRepository exposes the operations available inside one unit of work.
type TxRepository interface {
	Insert(ctx context.Context, r Revaluation) (Revaluation, error)
}
