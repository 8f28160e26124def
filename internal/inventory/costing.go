package inventory

import "github.com/shopspring/decimal"

// costScale is the number of decimal places kept on computed costs.
const costScale = 4

// fitsScale reports whether d fits the stored quantity and cost columns.
func fitsScale(d decimal.Decimal) bool {
	return d.Equal(d.Round(costScale))
}

// available sums remaining quantity across layers.
func available(layers []CostLayer) decimal.Decimal {
	total := decimal.Zero
	for _, l := range layers {
		if r := l.Remaining(); r.IsPositive() {
			total = total.Add(r)
		}
	}
	return total
}

// ordered returns layers with remaining quantity in consumption order.
// Input must be sorted by ascending id.
func ordered(layers []CostLayer, method CostingMethod) []CostLayer {
	out := make([]CostLayer, 0, len(layers))
	for _, l := range layers {
		if l.Remaining().IsPositive() {
			out = append(out, l)
		}
	}
	if method == MethodLIFO {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out
}

// averageRemainingCost is the quantity weighted unit cost of what is left.
func averageRemainingCost(layers []CostLayer) decimal.Decimal {
	qty, value := decimal.Zero, decimal.Zero
	for _, l := range layers {
		r := l.Remaining()
		if !r.IsPositive() {
			continue
		}
		qty = qty.Add(r)
		value = value.Add(r.Mul(l.UnitCost))
	}
	if qty.IsZero() {
		return decimal.Zero
	}
	return value.Div(qty)
}

// plan walks layers and returns the consumptions needed for qty along with
// the cost of goods sold. FIFO and WAC deplete oldest first, LIFO newest
// first. Every consumption records its layer's unit cost; under WAC only the
// returned cost is priced at the pre-sale average remaining cost. Callers
// must check availability first.
func plan(layers []CostLayer, qty decimal.Decimal, method CostingMethod) ([]Consumption, decimal.Decimal) {
	var (
		out  []Consumption
		cogs = decimal.Zero
		need = qty
	)
	avg := averageRemainingCost(layers)
	for _, l := range ordered(layers, method) {
		if !need.IsPositive() {
			break
		}
		take := decimal.Min(need, l.Remaining())
		total := take.Mul(l.UnitCost).Round(costScale)
		out = append(out, Consumption{LayerID: l.ID, Quantity: take, UnitCost: l.UnitCost, TotalCost: total})
		cogs = cogs.Add(total)
		need = need.Sub(take)
	}
	if method == MethodWAC {
		cogs = qty.Mul(avg).Round(costScale)
	}
	return out, cogs
}

// weightedAverage computes total cost over total quantity for the full layer
// history. It returns false when there are no layers.
func weightedAverage(qty, cost decimal.Decimal) (decimal.Decimal, bool) {
	if !qty.IsPositive() {
		return decimal.Zero, false
	}
	return cost.Div(qty).Round(costScale), true
}
