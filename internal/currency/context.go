package currency

import (
	"time"

	"github.com/shopspring/decimal"
)

// amountScale is the precision of converted amounts.
const amountScale = 4

// ContextInput describes a transaction that needs currency treatment.
type ContextInput struct {
	TransactionType       string `validate:"required,max=64"`
	TransactionID         int64  `validate:"required"`
	TransactionCurrencyID int64  `validate:"required"`
	TransactionAmount     decimal.Decimal
	ReferenceCurrencyID   *int64
	ExchangeRate          *decimal.Decimal
	RateDate              *time.Time
	Decision              Decision `validate:"omitempty,oneof=SAME_CURRENCY USER_REQUESTED POLICY_MANDATED DEFERRED"`
}

// TransactionContext binds a transaction to the policy in force when it was
// created. Rows are insert-only.
type TransactionContext struct {
	ID                    int64
	TransactionType       string
	TransactionID         int64
	PolicyID              int64
	Snapshot              Snapshot
	TransactionCurrencyID int64
	ReferenceCurrencyID   *int64
	ExchangeRate          *decimal.Decimal
	RateDate              *time.Time
	TransactionAmount     decimal.Decimal
	ReferenceAmount       *decimal.Decimal
	Decision              Decision
	Reason                string
	CreatedAt             time.Time
}

// NewTransactionContext builds the context for input under policy without
// touching storage. A reference amount is computed only when a reference
// currency and rate are given and the decision converts.
func NewTransactionContext(policy Policy, input ContextInput, now time.Time) TransactionContext {
	decision := input.Decision
	if decision == "" {
		decision = DecisionPolicyMandated
	}
	ctx := TransactionContext{
		TransactionType:       input.TransactionType,
		TransactionID:         input.TransactionID,
		PolicyID:              policy.ID,
		Snapshot:              policy.Snapshot(now),
		TransactionCurrencyID: input.TransactionCurrencyID,
		ReferenceCurrencyID:   input.ReferenceCurrencyID,
		TransactionAmount:     input.TransactionAmount,
		Decision:              decision,
		Reason:                decision.Reason(),
	}
	if input.ExchangeRate != nil && input.ReferenceCurrencyID != nil && decision.InvolvesConversion() && input.ExchangeRate.IsPositive() {
		rate := *input.ExchangeRate
		amount := input.TransactionAmount.Mul(rate).Round(amountScale)
		ctx.ExchangeRate = &rate
		ctx.ReferenceAmount = &amount
		date := now
		if input.RateDate != nil {
			date = *input.RateDate
		}
		ctx.RateDate = &date
	}
	return ctx
}

// WasConverted reports whether a reference amount was computed at posting.
func (c TransactionContext) WasConverted() bool {
	return c.ReferenceAmount != nil
}

// EffectiveAmount returns the reference amount when conversion happened and
// preferReference is set, otherwise the original amount.
func (c TransactionContext) EffectiveAmount(preferReference bool) decimal.Decimal {
	if preferReference && c.ReferenceAmount != nil {
		return *c.ReferenceAmount
	}
	return c.TransactionAmount
}

// PolicyType is the type of the policy captured in the snapshot.
func (c TransactionContext) PolicyType() PolicyType {
	return c.Snapshot.PolicyType
}
