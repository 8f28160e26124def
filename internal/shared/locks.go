package shared

import "fmt"

// RevaluationLockKey builds the redis key serialising revaluation runs for a
// currency within a fiscal period.
func RevaluationLockKey(currencyID, periodID int64) string {
	return fmt.Sprintf("ledger:revaluation:%d:%d:lock", currencyID, periodID)
}

// RevaluationIdempotencyKey identifies a completed revaluation run.
func RevaluationIdempotencyKey(currencyID, periodID int64, date string) string {
	return fmt.Sprintf("revaluation:%d:%d:%s", currencyID, periodID, date)
}

// CostingLockKey builds the redis key for batch WAC refresh of a product.
func CostingLockKey(productID int64) string {
	return fmt.Sprintf("ledger:costing:%d:lock", productID)
}
