package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/ledger-core/internal/platform/db"
)

// Repository persists cost layers in PostgreSQL.
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

const selectProduct = `SELECT id, sku, name, costing_method, purchase_price, weighted_average_cost FROM products WHERE id = $1`

const selectLayer = `SELECT id, product_id, purchase_id, COALESCE(reference_type, ''), reference_id, quantity, unit_cost,
total_cost, costing_method, consumed_quantity, created_at FROM inventory_cost_layers`

// WithTx executes fn within a read-committed transaction; callers lock the
// product row before touching its layers.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("inventory repository not initialised")
	}
	return db.WithLockingTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

// Product loads a product without locking.
func (r *Repository) Product(ctx context.Context, id int64) (Product, error) {
	return scanProduct(r.pool.QueryRow(ctx, selectProduct, id))
}

// Layers lists a product's layers in creation order.
func (r *Repository) Layers(ctx context.Context, productID int64, onlyRemaining bool) ([]CostLayer, error) {
	query := selectLayer + ` WHERE product_id = $1`
	if onlyRemaining {
		query += ` AND consumed_quantity < quantity`
	}
	return collectLayers(r.pool.Query(ctx, query+` ORDER BY id`, productID))
}

// WeightedAverageProducts lists ids of products costed at WAC.
func (r *Repository) WeightedAverageProducts(ctx context.Context) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM products WHERE costing_method = $1 ORDER BY id`, string(MethodWAC))
	if err != nil {
		return nil, fmt.Errorf("inventory: list wac products: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

func (r *txRepository) ProductForUpdate(ctx context.Context, id int64) (Product, error) {
	return scanProduct(r.tx.QueryRow(ctx, selectProduct+` FOR UPDATE`, id))
}

func (r *txRepository) LayersForUpdate(ctx context.Context, productID int64) ([]CostLayer, error) {
	return collectLayers(r.tx.Query(ctx, selectLayer+` WHERE product_id = $1 AND consumed_quantity < quantity ORDER BY id FOR UPDATE`, productID))
}

func (r *txRepository) InsertLayer(ctx context.Context, layer CostLayer) (CostLayer, error) {
	var refType any
	if layer.ReferenceType != "" {
		refType = layer.ReferenceType
	}
	err := r.tx.QueryRow(ctx, `INSERT INTO inventory_cost_layers
(product_id, purchase_id, reference_type, reference_id, quantity, unit_cost, total_cost, costing_method)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
RETURNING id, created_at`, layer.ProductID, layer.PurchaseID, refType, layer.ReferenceID,
		layer.Quantity, layer.UnitCost, layer.TotalCost, string(layer.Method)).Scan(&layer.ID, &layer.CreatedAt)
	if err != nil {
		return CostLayer{}, fmt.Errorf("inventory: insert layer: %w", err)
	}
	return layer, nil
}

func (r *txRepository) ConsumeLayer(ctx context.Context, layerID int64, qty decimal.Decimal) error {
	tag, err := r.tx.Exec(ctx, `UPDATE inventory_cost_layers SET consumed_quantity = consumed_quantity + $2
WHERE id = $1 AND consumed_quantity + $2 <= quantity`, layerID, qty)
	if err != nil {
		return fmt.Errorf("inventory: consume layer %d: %w", layerID, err)
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("%w: layer %d", ErrLayerOverConsumed, layerID)
	}
	return nil
}

func (r *txRepository) InsertConsumption(ctx context.Context, c Consumption) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO inventory_consumptions (layer_id, sale_id, consumption_type, quantity, unit_cost, total_cost)
VALUES ($1,$2,$3,$4,$5,$6) RETURNING id`, c.LayerID, c.SaleID, string(c.Type), c.Quantity, c.UnitCost, c.TotalCost).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("inventory: insert consumption: %w", err)
	}
	return id, nil
}

func (r *txRepository) LayerTotals(ctx context.Context, productID int64) (decimal.Decimal, decimal.Decimal, error) {
	var qty, cost decimal.Decimal
	err := r.tx.QueryRow(ctx, `SELECT COALESCE(SUM(quantity), 0), COALESCE(SUM(total_cost), 0)
FROM inventory_cost_layers WHERE product_id = $1`, productID).Scan(&qty, &cost)
	return qty, cost, err
}

func (r *txRepository) UpdateWeightedAverageCost(ctx context.Context, productID int64, cost decimal.Decimal) error {
	_, err := r.tx.Exec(ctx, `UPDATE products SET weighted_average_cost = $2, updated_at = NOW() WHERE id = $1`, productID, cost)
	return err
}

func scanProduct(row pgx.Row) (Product, error) {
	var (
		p      Product
		method string
	)
	if err := row.Scan(&p.ID, &p.SKU, &p.Name, &method, &p.PurchasePrice, &p.WeightedAverageCost); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Product{}, ErrProductNotFound
		}
		return Product{}, err
	}
	p.CostingMethod = CostingMethod(method)
	return p, nil
}

func collectLayers(rows pgx.Rows, err error) ([]CostLayer, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var layers []CostLayer
	for rows.Next() {
		var (
			l      CostLayer
			method string
		)
		if err := rows.Scan(&l.ID, &l.ProductID, &l.PurchaseID, &l.ReferenceType, &l.ReferenceID, &l.Quantity,
			&l.UnitCost, &l.TotalCost, &method, &l.ConsumedQuantity, &l.CreatedAt); err != nil {
			return nil, err
		}
		l.Method = CostingMethod(method)
		layers = append(layers, l)
	}
	return layers, rows.Err()
}
