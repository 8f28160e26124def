package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/ledger-core/internal/observability"
	"github.com/odyssey-erp/ledger-core/internal/shared"
)

// AdjustmentReferenceType tags layers created by positive stock counts.
const AdjustmentReferenceType = "inventory_counts"

var validate = validator.New(validator.WithRequiredStructEnabled())

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// IntegrationHandler receives adjustments that must reach the ledger.
type IntegrationHandler interface {
	HandleInventoryAdjustmentPosted(ctx context.Context, evt AdjustmentPostedEvent) error
}

// Service maintains cost layers and computes cost of goods sold.
type Service struct {
	repo        RepositoryPort
	audit       AuditPort
	integration IntegrationHandler
	metrics     *observability.Domain
	logger      *slog.Logger
	now         func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, integration IntegrationHandler, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, integration: integration, logger: logger, now: time.Now}
}

// WithMetrics attaches domain counters.
func (s *Service) WithMetrics(m *observability.Domain) *Service {
	s.metrics = m
	return s
}

// RecordPurchase appends a cost layer for received stock.
func (s *Service) RecordPurchase(ctx context.Context, input PurchaseInput) (CostLayer, error) {
	if err := validate.Struct(input); err != nil {
		return CostLayer{}, fmt.Errorf("inventory: purchase: %w", err)
	}
	if !input.Quantity.IsPositive() {
		return CostLayer{}, ErrInvalidQuantity
	}
	if !fitsScale(input.Quantity) {
		return CostLayer{}, fmt.Errorf("%w: %s exceeds %d decimal places", ErrInvalidQuantity, input.Quantity, costScale)
	}
	if input.UnitCost.IsNegative() || input.TotalCost.IsNegative() {
		return CostLayer{}, ErrInvalidUnitCost
	}
	if !fitsScale(input.UnitCost) || !fitsScale(input.TotalCost) {
		return CostLayer{}, fmt.Errorf("%w: cost exceeds %d decimal places", ErrInvalidUnitCost, costScale)
	}
	total := input.TotalCost
	if total.IsZero() {
		total = input.Quantity.Mul(input.UnitCost).Round(costScale)
	}
	var layer CostLayer
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		product, err := tx.ProductForUpdate(ctx, input.ProductID)
		if err != nil {
			return err
		}
		method := input.Method
		if method == "" {
			method = product.CostingMethod
		}
		layer, err = tx.InsertLayer(ctx, CostLayer{
			ProductID:     input.ProductID,
			PurchaseID:    input.PurchaseID,
			ReferenceType: input.ReferenceType,
			ReferenceID:   input.ReferenceID,
			Quantity:      input.Quantity,
			UnitCost:      input.UnitCost,
			TotalCost:     total,
			Method:        method,
		})
		return err
	})
	if err != nil {
		return CostLayer{}, err
	}
	s.logger.Info("cost layer recorded", slog.Int64("product_id", layer.ProductID), slog.Int64("layer_id", layer.ID),
		slog.String("quantity", layer.Quantity.String()), slog.String("unit_cost", layer.UnitCost.String()))
	s.record(ctx, input.ActorID, "inventory.purchase", layer.ProductID, map[string]any{
		"layer_id": layer.ID,
		"quantity": layer.Quantity.String(),
		"total":    layer.TotalCost.String(),
	})
	return layer, nil
}

// RecordSale consumes layers for qty units and returns the cost of goods sold.
// Nothing is written when the product lacks enough remaining quantity.
func (s *Service) RecordSale(ctx context.Context, input SaleInput) (decimal.Decimal, error) {
	if err := validate.Struct(input); err != nil {
		return decimal.Zero, fmt.Errorf("inventory: sale: %w", err)
	}
	if !input.Quantity.IsPositive() {
		return decimal.Zero, ErrInvalidQuantity
	}
	if !fitsScale(input.Quantity) {
		return decimal.Zero, fmt.Errorf("%w: %s exceeds %d decimal places", ErrInvalidQuantity, input.Quantity, costScale)
	}
	var (
		cogs   decimal.Decimal
		method CostingMethod
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		cogs, method, err = s.consume(ctx, tx, input)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrInsufficientInventory) {
			s.metrics.InsufficientStock()
		}
		return decimal.Zero, err
	}
	s.metrics.QuantityCosted(string(method), input.Quantity)
	s.logger.Info("inventory consumed", slog.Int64("product_id", input.ProductID), slog.String("method", string(method)),
		slog.String("quantity", input.Quantity.String()), slog.String("cogs", cogs.String()))
	s.record(ctx, input.ActorID, "inventory.sale", input.ProductID, map[string]any{
		"quantity": input.Quantity.String(),
		"method":   string(method),
		"cogs":     cogs.String(),
	})
	return cogs, nil
}

func (s *Service) consume(ctx context.Context, tx TxRepository, input SaleInput) (decimal.Decimal, CostingMethod, error) {
	product, err := tx.ProductForUpdate(ctx, input.ProductID)
	if err != nil {
		return decimal.Zero, "", err
	}
	method := input.Method
	if method == "" {
		method = product.CostingMethod
	}
	if !method.Valid() {
		return decimal.Zero, "", ErrInvalidMethod
	}
	kind := input.Type
	if kind == "" {
		kind = ConsumptionSale
	}
	layers, err := tx.LayersForUpdate(ctx, input.ProductID)
	if err != nil {
		return decimal.Zero, "", err
	}
	if avail := available(layers); avail.LessThan(input.Quantity) {
		return decimal.Zero, "", &InsufficientInventoryError{ProductID: input.ProductID, Requested: input.Quantity, Available: avail}
	}
	portions, cogs := plan(layers, input.Quantity, method)
	for _, p := range portions {
		p.SaleID = input.SaleID
		p.Type = kind
		if _, err := tx.InsertConsumption(ctx, p); err != nil {
			return decimal.Zero, "", err
		}
		if err := tx.ConsumeLayer(ctx, p.LayerID, p.Quantity); err != nil {
			return decimal.Zero, "", err
		}
	}
	return cogs, method, nil
}

// CostOfGoodsSold previews the cost of selling qty without writing anything.
func (s *Service) CostOfGoodsSold(ctx context.Context, productID int64, qty decimal.Decimal, method CostingMethod) (decimal.Decimal, error) {
	if !qty.IsPositive() {
		return decimal.Zero, ErrInvalidQuantity
	}
	if !fitsScale(qty) {
		return decimal.Zero, fmt.Errorf("%w: %s exceeds %d decimal places", ErrInvalidQuantity, qty, costScale)
	}
	if method == "" {
		product, err := s.repo.Product(ctx, productID)
		if err != nil {
			return decimal.Zero, err
		}
		method = product.CostingMethod
	}
	if !method.Valid() {
		return decimal.Zero, ErrInvalidMethod
	}
	layers, err := s.repo.Layers(ctx, productID, true)
	if err != nil {
		return decimal.Zero, err
	}
	if avail := available(layers); avail.LessThan(qty) {
		return decimal.Zero, &InsufficientInventoryError{ProductID: productID, Requested: qty, Available: avail}
	}
	_, cogs := plan(layers, qty, method)
	return cogs, nil
}

// Valuation lists remaining layers in consumption order with their value.
func (s *Service) Valuation(ctx context.Context, productID int64, method CostingMethod) (Valuation, error) {
	if method == "" {
		product, err := s.repo.Product(ctx, productID)
		if err != nil {
			return Valuation{}, err
		}
		method = product.CostingMethod
	}
	if !method.Valid() {
		return Valuation{}, ErrInvalidMethod
	}
	layers, err := s.repo.Layers(ctx, productID, true)
	if err != nil {
		return Valuation{}, err
	}
	out := Valuation{ProductID: productID, Method: method, Quantity: decimal.Zero, Value: decimal.Zero, AverageCost: decimal.Zero}
	for _, l := range ordered(layers, method) {
		r := l.Remaining()
		line := ValuationLine{LayerID: l.ID, Quantity: r, UnitCost: l.UnitCost, Value: r.Mul(l.UnitCost).Round(costScale), CreatedAt: l.CreatedAt}
		out.Lines = append(out.Lines, line)
		out.Quantity = out.Quantity.Add(r)
		out.Value = out.Value.Add(line.Value)
	}
	if out.Quantity.IsPositive() {
		out.AverageCost = out.Value.Div(out.Quantity).Round(costScale)
	}
	return out, nil
}

// UpdateWeightedAverageCost recomputes the product's average over its full
// layer history. It returns zero and leaves the product untouched when no
// layers exist.
func (s *Service) UpdateWeightedAverageCost(ctx context.Context, productID int64) (decimal.Decimal, error) {
	var avg decimal.Decimal
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.ProductForUpdate(ctx, productID); err != nil {
			return err
		}
		qty, cost, err := tx.LayerTotals(ctx, productID)
		if err != nil {
			return err
		}
		var ok bool
		if avg, ok = weightedAverage(qty, cost); !ok {
			return nil
		}
		return tx.UpdateWeightedAverageCost(ctx, productID, avg)
	})
	if err != nil {
		return decimal.Zero, err
	}
	return avg, nil
}

// RecordAdjustment books a count variance. A surplus becomes a new layer
// priced at the product's average cost, or its purchase price when no
// average exists; a shortage consumes layers FIFO.
func (s *Service) RecordAdjustment(ctx context.Context, input AdjustmentInput) (AdjustmentResult, error) {
	if err := validate.Struct(input); err != nil {
		return AdjustmentResult{}, fmt.Errorf("inventory: adjustment: %w", err)
	}
	if input.Variance.IsZero() {
		return AdjustmentResult{}, ErrInvalidQuantity
	}
	if !fitsScale(input.Variance) {
		return AdjustmentResult{}, fmt.Errorf("%w: %s exceeds %d decimal places", ErrInvalidQuantity, input.Variance, costScale)
	}
	refType := input.ReferenceType
	if refType == "" {
		refType = AdjustmentReferenceType
	}
	result := AdjustmentResult{ProductID: input.ProductID, Quantity: input.Variance}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if input.Variance.IsNegative() {
			qty := input.Variance.Neg()
			cogs, _, err := s.consume(ctx, tx, SaleInput{
				ProductID: input.ProductID,
				Quantity:  qty,
				Method:    MethodFIFO,
				Type:      ConsumptionAdjustment,
			})
			if err != nil {
				return err
			}
			result.Value = cogs.Neg()
			result.UnitCost = cogs.Div(qty).Round(costScale)
			return nil
		}
		product, err := tx.ProductForUpdate(ctx, input.ProductID)
		if err != nil {
			return err
		}
		unit := product.WeightedAverageCost
		if !unit.IsPositive() {
			unit = product.PurchasePrice
		}
		layer, err := tx.InsertLayer(ctx, CostLayer{
			ProductID:     input.ProductID,
			ReferenceType: refType,
			ReferenceID:   input.ReferenceID,
			Quantity:      input.Variance,
			UnitCost:      unit,
			TotalCost:     input.Variance.Mul(unit).Round(costScale),
			Method:        MethodFIFO,
		})
		if err != nil {
			return err
		}
		result.Layer = &layer
		result.UnitCost = unit
		result.Value = layer.TotalCost
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrInsufficientInventory) {
			s.metrics.InsufficientStock()
		}
		return AdjustmentResult{}, err
	}
	s.metrics.QuantityCosted("ADJUSTMENT", input.Variance.Abs())
	s.logger.Info("inventory adjusted", slog.Int64("product_id", input.ProductID),
		slog.String("variance", input.Variance.String()), slog.String("value", result.Value.String()))
	s.record(ctx, input.ActorID, "inventory.adjust", input.ProductID, map[string]any{
		"variance": input.Variance.String(),
		"value":    result.Value.String(),
		"reason":   input.Reason,
	})
	if s.integration != nil {
		evt := AdjustmentPostedEvent{
			ProductID:     input.ProductID,
			Quantity:      input.Variance,
			UnitCost:      result.UnitCost,
			Value:         result.Value,
			ReferenceType: refType,
			ReferenceID:   input.ReferenceID,
			Reason:        input.Reason,
			PostedAt:      s.now(),
		}
		if err := s.integration.HandleInventoryAdjustmentPosted(ctx, evt); err != nil {
			return result, fmt.Errorf("inventory: adjustment posted but ledger hook failed: %w", err)
		}
	}
	return result, nil
}

func (s *Service) record(ctx context.Context, actor int64, action string, productID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actor,
		Action:   action,
		Entity:   "product",
		EntityID: strconv.FormatInt(productID, 10),
		Meta:     meta,
		At:       s.now(),
	}); err != nil {
		s.logger.Warn("audit record", slog.Int64("product_id", productID), slog.Any("error", err))
	}
}
