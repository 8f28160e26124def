package currency

import (
	"errors"
	"time"
)

// PolicyType is the organisation's currency treatment model.
type PolicyType string

const (
	PolicyUnitOfMeasure PolicyType = "UNIT_OF_MEASURE"
	PolicyValuedAsset   PolicyType = "VALUED_ASSET"
	PolicyNormalization PolicyType = "NORMALIZATION"
)

// Label returns a human readable name.
func (t PolicyType) Label() string {
	switch t {
	case PolicyUnitOfMeasure:
		return "Unit of Measure (Non-Converted)"
	case PolicyValuedAsset:
		return "Valued Asset (Conditionally Convertible)"
	case PolicyNormalization:
		return "Normalization (Immediate Conversion)"
	}
	return string(t)
}

// RequiresPostingConversion reports whether amounts are normalised at posting.
func (t PolicyType) RequiresPostingConversion() bool {
	return t == PolicyNormalization
}

// SupportsMultiCurrencyBalances reports whether native balances may coexist.
func (t PolicyType) SupportsMultiCurrencyBalances() bool {
	return t == PolicyUnitOfMeasure || t == PolicyValuedAsset
}

// TypicallyRequiresRevaluation reports whether revaluation usually applies.
func (t PolicyType) TypicallyRequiresRevaluation() bool {
	return t == PolicyValuedAsset
}

// ConversionTiming says when a valued asset policy converts.
type ConversionTiming string

const (
	TimingPosting    ConversionTiming = "POSTING"
	TimingSettlement ConversionTiming = "SETTLEMENT"
	TimingReporting  ConversionTiming = "REPORTING"
	TimingNever      ConversionTiming = "NEVER"
)

// Decision is the outcome of evaluating a policy for one transaction.
type Decision string

const (
	DecisionSameCurrency   Decision = "SAME_CURRENCY"
	DecisionUserRequested  Decision = "USER_REQUESTED"
	DecisionPolicyMandated Decision = "POLICY_MANDATED"
	DecisionDeferred       Decision = "DEFERRED"
)

// InvolvesConversion reports whether a reference amount is computed.
func (d Decision) InvolvesConversion() bool {
	return d == DecisionUserRequested || d == DecisionPolicyMandated
}

// Reason describes the decision for the stored context.
func (d Decision) Reason() string {
	switch d {
	case DecisionSameCurrency:
		return "transaction already in reference currency"
	case DecisionUserRequested:
		return "conversion requested by user"
	case DecisionPolicyMandated:
		return "conversion mandated by active policy"
	case DecisionDeferred:
		return "conversion deferred by active policy"
	}
	return ""
}

// RateSource records where an exchange rate came from.
type RateSource string

const (
	SourceManual      RateSource = "MANUAL"
	SourceCentralBank RateSource = "CENTRAL_BANK"
	SourceAPI         RateSource = "API"
	SourceSystem      RateSource = "SYSTEM"
)

// Frequency is how often revaluation runs under a policy.
type Frequency string

const (
	FrequencyDaily     Frequency = "DAILY"
	FrequencyWeekly    Frequency = "WEEKLY"
	FrequencyMonthly   Frequency = "MONTHLY"
	FrequencyPeriodEnd Frequency = "PERIOD_END"
)

var (
	// ErrNoActivePolicy is returned when a transaction needs a policy and none is active.
	ErrNoActivePolicy = errors.New("currency: no active currency policy, cannot process transaction")
	// ErrPolicyNotFound indicates an unknown policy id.
	ErrPolicyNotFound = errors.New("currency: policy not found")
	// ErrCurrencyNotFound indicates an unknown currency id.
	ErrCurrencyNotFound = errors.New("currency: currency not found")
	// ErrNoReferenceCurrency indicates no primary currency is configured.
	ErrNoReferenceCurrency = errors.New("currency: no reference currency configured")
	// ErrRateUnavailable indicates no rate could be derived for a pair.
	ErrRateUnavailable = errors.New("currency: no exchange rate available")
	// ErrContextNotFound indicates no context exists for a transaction.
	ErrContextNotFound = errors.New("currency: transaction context not found")
	// ErrContextExists indicates a transaction already has a context.
	ErrContextExists = errors.New("currency: transaction context already exists")
	// ErrInvalidCode indicates a code that is not ISO 4217.
	ErrInvalidCode = errors.New("currency: invalid ISO 4217 code")
)

// Policy governs how foreign currency amounts are treated.
type Policy struct {
	ID                         int64
	Name                       string     `validate:"required,max=128"`
	Code                       string     `validate:"required,max=64"`
	Description                string     `validate:"max=1024"`
	Type                       PolicyType `validate:"required,oneof=UNIT_OF_MEASURE VALUED_ASSET NORMALIZATION"`
	RequiresReferenceCurrency  bool
	AllowMultiCurrencyBalances bool
	ConversionTiming           ConversionTiming `validate:"required,oneof=POSTING SETTLEMENT REPORTING NEVER"`
	RevaluationEnabled         bool
	RevaluationFrequency       Frequency  `validate:"omitempty,oneof=DAILY WEEKLY MONTHLY PERIOD_END"`
	ExchangeRateSource         RateSource `validate:"omitempty,oneof=MANUAL CENTRAL_BANK API SYSTEM"`
	IsActive                   bool
	CreatedAt                  time.Time
	UpdatedAt                  time.Time
}

// RequiresPostingConversion is true for normalisation policies converting at posting.
func (p Policy) RequiresPostingConversion() bool {
	return p.Type.RequiresPostingConversion() && p.ConversionTiming == TimingPosting
}

// AllowsMultiCurrencyBalances is true when both the flag and the type allow it.
func (p Policy) AllowsMultiCurrencyBalances() bool {
	return p.AllowMultiCurrencyBalances && p.Type.SupportsMultiCurrencyBalances()
}

// Decide evaluates the policy for a transaction in a non-reference currency.
func (p Policy) Decide(userRequested bool) Decision {
	if userRequested {
		return DecisionUserRequested
	}
	switch p.Type {
	case PolicyNormalization:
		return DecisionPolicyMandated
	case PolicyValuedAsset:
		if p.ConversionTiming == TimingPosting {
			return DecisionPolicyMandated
		}
	}
	return DecisionDeferred
}

// Snapshot is the frozen copy of a policy stored with each transaction.
type Snapshot struct {
	ID                         int64            `json:"id"`
	Code                       string           `json:"code"`
	PolicyType                 PolicyType       `json:"policy_type"`
	RequiresReferenceCurrency  bool             `json:"requires_reference_currency"`
	AllowMultiCurrencyBalances bool             `json:"allow_multi_currency_balances"`
	ConversionTiming           ConversionTiming `json:"conversion_timing"`
	RevaluationEnabled         bool             `json:"revaluation_enabled"`
	SnapshotAt                 time.Time        `json:"snapshot_at"`
}

// Snapshot freezes the policy at now.
func (p Policy) Snapshot(now time.Time) Snapshot {
	return Snapshot{
		ID:                         p.ID,
		Code:                       p.Code,
		PolicyType:                 p.Type,
		RequiresReferenceCurrency:  p.RequiresReferenceCurrency,
		AllowMultiCurrencyBalances: p.AllowMultiCurrencyBalances,
		ConversionTiming:           p.ConversionTiming,
		RevaluationEnabled:         p.RevaluationEnabled,
		SnapshotAt:                 now.UTC(),
	}
}
