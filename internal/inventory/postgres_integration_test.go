//go:build integration

package inventory_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/ledger-core/internal/inventory"
	"github.com/odyssey-erp/ledger-core/internal/platform/db/dbtest"
)

func TestPostgresConcurrentSalesNeverOverConsume(t *testing.T) {
	pool := dbtest.NewPool(t)
	productID := dbtest.QueryInt64(t, pool, `INSERT INTO products (sku, name) VALUES ('SKU-1', 'Widget') RETURNING id`)

	repo := inventory.NewRepository(pool)
	svc := inventory.NewService(repo, nil, nil, nil)
	ctx := context.Background()
	for _, cost := range []string{"10", "12"} {
		_, err := svc.RecordPurchase(ctx, inventory.PurchaseInput{
			ProductID: productID,
			Quantity:  decimal.NewFromInt(50),
			UnitCost:  decimal.RequireFromString(cost),
		})
		require.NoError(t, err)
	}

	var sold, rejected atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	for range 30 {
		g.Go(func() error {
			_, err := svc.RecordSale(gctx, inventory.SaleInput{ProductID: productID, Quantity: decimal.NewFromInt(4)})
			switch {
			case err == nil:
				sold.Add(1)
			case errors.Is(err, inventory.ErrInsufficientInventory):
				rejected.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	require.EqualValues(t, 25, sold.Load())
	require.EqualValues(t, 5, rejected.Load())

	require.Zero(t, dbtest.QueryInt64(t, pool,
		`SELECT COUNT(*) FROM inventory_cost_layers WHERE product_id = $1 AND consumed_quantity <> quantity`, productID))
	require.EqualValues(t, 1100, dbtest.QueryInt64(t, pool,
		`SELECT SUM(total_cost)::BIGINT FROM inventory_consumptions`))

	ids, err := repo.WeightedAverageProducts(ctx)
	require.NoError(t, err)
	require.Empty(t, ids)
}
