package inventory

import (
	"time"

	"github.com/shopspring/decimal"
)

// AdjustmentPostedEvent represents an inventory adjustment ready for ledger posting.
type AdjustmentPostedEvent struct {
	ProductID     int64
	Quantity      decimal.Decimal
	UnitCost      decimal.Decimal
	Value         decimal.Decimal
	ReferenceType string
	ReferenceID   *int64
	Reason        string
	PostedAt      time.Time
}
