package integration

import (
	"context"
	"errors"
	"fmt"

	"github.com/odyssey-erp/ledger-core/internal/accounting/ledger"
	"github.com/odyssey-erp/ledger-core/internal/accounting/mappings"
	"github.com/odyssey-erp/ledger-core/internal/inventory"
)

// Mapping keys resolved for inventory adjustments.
const (
	ModuleInventory     = "INVENTORY"
	KeyAdjustmentStock  = "inventory.adjustment.inventory"
	KeyAdjustmentGain   = "inventory.adjustment.gain"
	KeyAdjustmentLoss   = "inventory.adjustment.loss"
	AdjustmentReference = "inventory_adjustment"
)

// Ledger exposes voucher posting required by integrations.
type Ledger interface {
	PostTransaction(ctx context.Context, input ledger.PostingInput) (string, error)
}

// AccountMappingRepository provides mapping lookups.
type AccountMappingRepository interface {
	Get(ctx context.Context, module, key string) (mappings.AccountMapping, error)
}

// Hooks wires domain events from operational modules into the general ledger.
type Hooks struct {
	ledger      Ledger
	mappingRepo AccountMappingRepository
}

// NewHooks constructs integration hooks.
func NewHooks(ledger Ledger, mappingRepo AccountMappingRepository) *Hooks {
	return &Hooks{ledger: ledger, mappingRepo: mappingRepo}
}

func (h *Hooks) resolveAccount(ctx context.Context, module, key string) (int64, error) {
	mapping, err := h.mappingRepo.Get(ctx, module, key)
	if err != nil {
		return 0, err
	}
	return mapping.AccountID, nil
}

// HandleInventoryAdjustmentPosted books a count variance: a surplus debits
// inventory against the adjustment gain account, a shortage debits the loss
// account against inventory.
func (h *Hooks) HandleInventoryAdjustmentPosted(ctx context.Context, evt inventory.AdjustmentPostedEvent) error {
	if h == nil || h.ledger == nil || h.mappingRepo == nil {
		return nil
	}
	if evt.PostedAt.IsZero() {
		return errors.New("integration: adjustment post date required")
	}
	amount := evt.Value.Abs().Round(2)
	if amount.IsZero() {
		return nil
	}
	stock, err := h.resolveAccount(ctx, ModuleInventory, KeyAdjustmentStock)
	if err != nil {
		return err
	}
	memo := fmt.Sprintf("Inventory adjustment product %d", evt.ProductID)
	var entries []ledger.EntryInput
	if evt.Quantity.IsPositive() {
		gain, err := h.resolveAccount(ctx, ModuleInventory, KeyAdjustmentGain)
		if err != nil {
			return err
		}
		entries = []ledger.EntryInput{
			{AccountID: stock, Direction: ledger.Debit, Amount: amount, Description: memo},
			{AccountID: gain, Direction: ledger.Credit, Amount: amount, Description: memo},
		}
	} else {
		loss, err := h.resolveAccount(ctx, ModuleInventory, KeyAdjustmentLoss)
		if err != nil {
			return err
		}
		entries = []ledger.EntryInput{
			{AccountID: loss, Direction: ledger.Debit, Amount: amount, Description: memo},
			{AccountID: stock, Direction: ledger.Credit, Amount: amount, Description: memo},
		}
	}
	_, err = h.ledger.PostTransaction(ctx, ledger.PostingInput{
		Entries:       entries,
		VoucherDate:   evt.PostedAt,
		ReferenceType: AdjustmentReference,
		ReferenceID:   evt.ReferenceID,
	})
	return err
}

var _ inventory.IntegrationHandler = (*Hooks)(nil)
