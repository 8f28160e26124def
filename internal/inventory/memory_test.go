package inventory

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// memoryRepo serialises units of work on a mutex and restores a snapshot
// when fn fails, mirroring commit/rollback.
type memoryRepo struct {
	mu           sync.Mutex
	products     map[int64]Product
	layers       []CostLayer
	consumptions []Consumption
	nextID       int64
}

type memoryTx struct {
	r *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{products: make(map[int64]Product)}
}

func (m *memoryRepo) addProduct(p Product) {
	m.products[p.ID] = p
}

func (m *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	products, layers, consumptions, nextID := maps.Clone(m.products), slices.Clone(m.layers), slices.Clone(m.consumptions), m.nextID
	if err := fn(ctx, &memoryTx{r: m}); err != nil {
		m.products, m.layers, m.consumptions, m.nextID = products, layers, consumptions, nextID
		return err
	}
	return nil
}

func (m *memoryRepo) Product(_ context.Context, id int64) (Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[id]
	if !ok {
		return Product{}, ErrProductNotFound
	}
	return p, nil
}

func (m *memoryRepo) Layers(_ context.Context, productID int64, onlyRemaining bool) ([]CostLayer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.layersOf(productID, onlyRemaining), nil
}

func (m *memoryRepo) layersOf(productID int64, onlyRemaining bool) []CostLayer {
	var out []CostLayer
	for _, l := range m.layers {
		if l.ProductID != productID || (onlyRemaining && !l.Remaining().IsPositive()) {
			continue
		}
		out = append(out, l)
	}
	return out
}

func (m *memoryRepo) consumptionsOf(layerID int64) []Consumption {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Consumption
	for _, c := range m.consumptions {
		if c.LayerID == layerID {
			out = append(out, c)
		}
	}
	return out
}

func (tx *memoryTx) ProductForUpdate(_ context.Context, id int64) (Product, error) {
	p, ok := tx.r.products[id]
	if !ok {
		return Product{}, ErrProductNotFound
	}
	return p, nil
}

func (tx *memoryTx) LayersForUpdate(_ context.Context, productID int64) ([]CostLayer, error) {
	return tx.r.layersOf(productID, true), nil
}

func (tx *memoryTx) InsertLayer(_ context.Context, layer CostLayer) (CostLayer, error) {
	tx.r.nextID++
	layer.ID = tx.r.nextID
	layer.ConsumedQuantity = decimal.Zero
	layer.CreatedAt = time.Now()
	tx.r.layers = append(tx.r.layers, layer)
	return layer, nil
}

func (tx *memoryTx) ConsumeLayer(_ context.Context, layerID int64, qty decimal.Decimal) error {
	for i := range tx.r.layers {
		l := &tx.r.layers[i]
		if l.ID != layerID {
			continue
		}
		if l.ConsumedQuantity.Add(qty).GreaterThan(l.Quantity) {
			return ErrLayerOverConsumed
		}
		l.ConsumedQuantity = l.ConsumedQuantity.Add(qty)
		return nil
	}
	return ErrLayerOverConsumed
}

func (tx *memoryTx) InsertConsumption(_ context.Context, c Consumption) (int64, error) {
	tx.r.nextID++
	c.ID = tx.r.nextID
	tx.r.consumptions = append(tx.r.consumptions, c)
	return c.ID, nil
}

func (tx *memoryTx) LayerTotals(_ context.Context, productID int64) (decimal.Decimal, decimal.Decimal, error) {
	qty, cost := decimal.Zero, decimal.Zero
	for _, l := range tx.r.layersOf(productID, false) {
		qty = qty.Add(l.Quantity)
		cost = cost.Add(l.TotalCost)
	}
	return qty, cost, nil
}

func (tx *memoryTx) UpdateWeightedAverageCost(_ context.Context, productID int64, cost decimal.Decimal) error {
	p := tx.r.products[productID]
	p.WeightedAverageCost = cost
	tx.r.products[productID] = p
	return nil
}
