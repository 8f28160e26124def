package inventory

import (
	"context"

	"github.com/shopspring/decimal"
)

// RepositoryPort abstracts transactional repository behaviour.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Product(ctx context.Context, id int64) (Product, error)
	// Layers returns the product's layers ordered by ascending id.
	Layers(ctx context.Context, productID int64, onlyRemaining bool) ([]CostLayer, error)
}

// TxRepository exposes the operations available inside one unit of work.
type TxRepository interface {
	// ProductForUpdate locks the product row; every layer mutation of the
	// product serialises on it.
	ProductForUpdate(ctx context.Context, id int64) (Product, error)
	// LayersForUpdate locks and returns layers with remaining quantity,
	// ordered by ascending id.
	LayersForUpdate(ctx context.Context, productID int64) ([]CostLayer, error)
	InsertLayer(ctx context.Context, layer CostLayer) (CostLayer, error)
	// ConsumeLayer increments consumed_quantity and fails with
	// ErrLayerOverConsumed when it would exceed the layer quantity.
	ConsumeLayer(ctx context.Context, layerID int64, qty decimal.Decimal) error
	InsertConsumption(ctx context.Context, c Consumption) (int64, error)
	// LayerTotals sums quantity and total cost over every layer ever created.
	LayerTotals(ctx context.Context, productID int64) (qty, cost decimal.Decimal, err error)
	UpdateWeightedAverageCost(ctx context.Context, productID int64, cost decimal.Decimal) error
}
