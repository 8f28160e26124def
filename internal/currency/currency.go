package currency

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

// Currency is a registered currency. ExchangeRate is units of the reference
// currency per unit of this currency.
type Currency struct {
	ID           int64
	Code         string `validate:"required,len=3"`
	Name         string `validate:"required,max=128"`
	ExchangeRate decimal.Decimal
	IsPrimary    bool
	IsActive     bool
}

// NormalizeCode upper-cases code and checks it against ISO 4217.
func NormalizeCode(code string) (string, error) {
	unit, err := currency.ParseISO(strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidCode, code)
	}
	return unit.String(), nil
}

// Rate is one historical exchange rate against the reference currency.
type Rate struct {
	ID            int64
	CurrencyID    int64
	Rate          decimal.Decimal
	EffectiveDate time.Time
	Source        RateSource
	Reference     string
	CreatedAt     time.Time
}

// RateInput records a rate between two currencies, one of which must be the
// reference currency.
type RateInput struct {
	SourceCurrencyID int64 `validate:"required"`
	TargetCurrencyID int64 `validate:"required"`
	Rate             decimal.Decimal
	Date             *time.Time
	Source           RateSource `validate:"omitempty,oneof=MANUAL CENTRAL_BANK API SYSTEM"`
	Reference        string     `validate:"max=255"`
}

// Conversion is a converted amount with the rate applied.
type Conversion struct {
	Amount decimal.Decimal
	Rate   decimal.Decimal
}

// PostingAmount is the amount and currency a ledger line should carry.
type PostingAmount struct {
	Amount     decimal.Decimal
	CurrencyID int64
}

// Status summarises the active configuration.
type Status struct {
	HasActivePolicy             bool
	PolicyName                  string
	PolicyType                  PolicyType
	PolicyTypeLabel             string
	ConversionTiming            ConversionTiming
	RequiresPostingConversion   bool
	AllowsMultiCurrencyBalances bool
	RevaluationEnabled          bool
	ReferenceCurrency           *Currency
}
