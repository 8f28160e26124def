package inventory

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// CostingMethod selects the layer consumption order.
type CostingMethod string

const (
	MethodFIFO CostingMethod = "FIFO"
	MethodLIFO CostingMethod = "LIFO"
	MethodWAC  CostingMethod = "WAC"
)

// Valid reports whether m is supported.
func (m CostingMethod) Valid() bool {
	return m == MethodFIFO || m == MethodLIFO || m == MethodWAC
}

// ConsumptionType tags why layer quantity was consumed.
type ConsumptionType string

const (
	ConsumptionSale       ConsumptionType = "SALE"
	ConsumptionAdjustment ConsumptionType = "ADJUSTMENT"
)

var (
	// ErrInvalidQuantity indicates zero or negative quantity.
	ErrInvalidQuantity = errors.New("inventory: quantity must be positive")
	// ErrInvalidUnitCost indicates a negative unit cost.
	ErrInvalidUnitCost = errors.New("inventory: unit cost must not be negative")
	// ErrInvalidMethod indicates an unknown costing method.
	ErrInvalidMethod = errors.New("inventory: unknown costing method")
	// ErrProductNotFound indicates an unknown product.
	ErrProductNotFound = errors.New("inventory: product not found")
	// ErrInsufficientInventory matches every *InsufficientInventoryError.
	ErrInsufficientInventory = errors.New("inventory: insufficient inventory")
	// ErrLayerOverConsumed indicates the guarded layer update matched no row.
	ErrLayerOverConsumed = errors.New("inventory: layer consumption exceeds quantity")
)

// InsufficientInventoryError reports requested versus available quantity.
type InsufficientInventoryError struct {
	ProductID int64
	Requested decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientInventoryError) Error() string {
	return fmt.Sprintf("inventory: insufficient inventory for product %d. Requested: %s, Available: %s",
		e.ProductID, e.Requested.String(), e.Available.String())
}

// Is lets errors.Is match ErrInsufficientInventory.
func (e *InsufficientInventoryError) Is(target error) bool {
	return target == ErrInsufficientInventory
}

// Product carries the costing attributes of a stock item.
type Product struct {
	ID                  int64
	SKU                 string
	Name                string
	CostingMethod       CostingMethod
	PurchasePrice       decimal.Decimal
	WeightedAverageCost decimal.Decimal
}

// CostLayer is one purchased batch at a fixed unit cost.
type CostLayer struct {
	ID               int64
	ProductID        int64
	PurchaseID       *int64
	ReferenceType    string
	ReferenceID      *int64
	Quantity         decimal.Decimal
	UnitCost         decimal.Decimal
	TotalCost        decimal.Decimal
	Method           CostingMethod
	ConsumedQuantity decimal.Decimal
	CreatedAt        time.Time
}

// Remaining is the unconsumed quantity of the layer.
func (l CostLayer) Remaining() decimal.Decimal {
	return l.Quantity.Sub(l.ConsumedQuantity)
}

// Consumption is an immutable record of quantity drawn from a layer.
type Consumption struct {
	ID        int64
	LayerID   int64
	SaleID    *int64
	Type      ConsumptionType
	Quantity  decimal.Decimal
	UnitCost  decimal.Decimal
	TotalCost decimal.Decimal
	CreatedAt time.Time
}

// PurchaseInput appends a cost layer.
type PurchaseInput struct {
	ProductID     int64 `validate:"required"`
	PurchaseID    *int64
	ReferenceType string `validate:"max=64"`
	ReferenceID   *int64
	Quantity      decimal.Decimal
	UnitCost      decimal.Decimal
	// TotalCost defaults to Quantity x UnitCost when zero.
	TotalCost decimal.Decimal
	Method    CostingMethod `validate:"omitempty,oneof=FIFO LIFO WAC"`
	ActorID   int64
}

// SaleInput consumes layers. Method defaults to the product's method.
type SaleInput struct {
	ProductID int64 `validate:"required"`
	SaleID    *int64
	Quantity  decimal.Decimal
	Method    CostingMethod   `validate:"omitempty,oneof=FIFO LIFO WAC"`
	Type      ConsumptionType `validate:"omitempty,oneof=SALE ADJUSTMENT"`
	ActorID   int64
}

// AdjustmentInput books a stock count variance. Positive variance adds a
// layer, negative consumes FIFO.
type AdjustmentInput struct {
	ProductID     int64 `validate:"required"`
	Variance      decimal.Decimal
	ReferenceType string `validate:"max=64"`
	ReferenceID   *int64
	Reason        string `validate:"max=255"`
	ActorID       int64
}

// AdjustmentResult reports the value moved by an adjustment.
type AdjustmentResult struct {
	ProductID int64
	Quantity  decimal.Decimal
	UnitCost  decimal.Decimal
	Value     decimal.Decimal
	Layer     *CostLayer
}

// ValuationLine is the remaining value of one layer.
type ValuationLine struct {
	LayerID   int64
	Quantity  decimal.Decimal
	UnitCost  decimal.Decimal
	Value     decimal.Decimal
	CreatedAt time.Time
}

// Valuation aggregates the remaining layers of a product.
type Valuation struct {
	ProductID   int64
	Method      CostingMethod
	Lines       []ValuationLine
	Quantity    decimal.Decimal
	Value       decimal.Decimal
	AverageCost decimal.Decimal
}
