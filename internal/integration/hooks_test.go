package integration

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/ledger-core/internal/accounting/ledger"
	"github.com/odyssey-erp/ledger-core/internal/accounting/mappings"
	"github.com/odyssey-erp/ledger-core/internal/inventory"
)

type stubLedger struct {
	posted []ledger.PostingInput
}

func (s *stubLedger) PostTransaction(_ context.Context, input ledger.PostingInput) (string, error) {
	if err := input.Validate(); err != nil {
		return "", err
	}
	s.posted = append(s.posted, input)
	return "VOU-000001", nil
}

type stubMappings map[string]int64

func (m stubMappings) Get(_ context.Context, module, key string) (mappings.AccountMapping, error) {
	id, ok := m[key]
	if !ok {
		return mappings.AccountMapping{}, mappings.ErrMappingNotFound
	}
	return mappings.AccountMapping{Module: module, Key: key, AccountID: id}, nil
}

func newHooks() (*Hooks, *stubLedger) {
	l := &stubLedger{}
	return NewHooks(l, stubMappings{KeyAdjustmentStock: 1300, KeyAdjustmentGain: 4900, KeyAdjustmentLoss: 5900}), l
}

func TestAdjustmentSurplusDebitsInventory(t *testing.T) {
	hooks, l := newHooks()
	err := hooks.HandleInventoryAdjustmentPosted(context.Background(), inventory.AdjustmentPostedEvent{
		ProductID: 7, Quantity: decimal.NewFromInt(5), Value: decimal.RequireFromString("45.004"), PostedAt: time.Now(),
	})
	require.NoError(t, err)
	require.Len(t, l.posted, 1)
	entries := l.posted[0].Entries
	require.Equal(t, int64(1300), entries[0].AccountID)
	require.Equal(t, ledger.Debit, entries[0].Direction)
	require.Equal(t, int64(4900), entries[1].AccountID)
	require.True(t, entries[0].Amount.Equal(decimal.RequireFromString("45")))
	require.Equal(t, AdjustmentReference, l.posted[0].ReferenceType)
}

func TestAdjustmentShortageDebitsLoss(t *testing.T) {
	hooks, l := newHooks()
	err := hooks.HandleInventoryAdjustmentPosted(context.Background(), inventory.AdjustmentPostedEvent{
		ProductID: 7, Quantity: decimal.NewFromInt(-2), Value: decimal.NewFromInt(-24), PostedAt: time.Now(),
	})
	require.NoError(t, err)
	entries := l.posted[0].Entries
	require.Equal(t, int64(5900), entries[0].AccountID)
	require.Equal(t, int64(1300), entries[1].AccountID)
	require.Equal(t, ledger.Credit, entries[1].Direction)
}

func TestAdjustmentSkipsZeroAndNeedsMapping(t *testing.T) {
	hooks, l := newHooks()
	require.NoError(t, hooks.HandleInventoryAdjustmentPosted(context.Background(), inventory.AdjustmentPostedEvent{
		Quantity: decimal.NewFromInt(1), Value: decimal.Zero, PostedAt: time.Now(),
	}))
	require.Empty(t, l.posted)

	missing := NewHooks(l, stubMappings{})
	err := missing.HandleInventoryAdjustmentPosted(context.Background(), inventory.AdjustmentPostedEvent{
		Quantity: decimal.NewFromInt(1), Value: decimal.NewFromInt(3), PostedAt: time.Now(),
	})
	require.ErrorIs(t, err, mappings.ErrMappingNotFound)

	var nilHooks *Hooks
	require.NoError(t, nilHooks.HandleInventoryAdjustmentPosted(context.Background(), inventory.AdjustmentPostedEvent{}))
}
