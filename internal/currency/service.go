package currency

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/ledger-core/internal/shared"
)

// rateScale is the precision of derived rates.
const rateScale = 8

var validate = validator.New(validator.WithRequiredStructEnabled())

// AuditPort records policy changes.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service is the currency decision engine.
type Service struct {
	repo   RepositoryPort
	audit  AuditPort
	logger *slog.Logger
	now    func() time.Time
}

// NewService constructs Service.
func NewService(repo RepositoryPort, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, logger: logger, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// CreatePolicy stores an inactive policy.
func (s *Service) CreatePolicy(ctx context.Context, p Policy) (Policy, error) {
	if err := validate.Struct(p); err != nil {
		return Policy{}, fmt.Errorf("currency: policy: %w", err)
	}
	var out Policy
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		out, err = tx.InsertPolicy(ctx, p)
		return err
	})
	return out, err
}

// Activate makes policyID the only active policy in one transaction.
func (s *Service) Activate(ctx context.Context, policyID, actorID int64) (Policy, error) {
	var policy Policy
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.LockPolicies(ctx); err != nil {
			return err
		}
		var err error
		if policy, err = tx.Policy(ctx, policyID); err != nil {
			return err
		}
		if err := tx.DeactivatePolicies(ctx); err != nil {
			return err
		}
		if err := tx.ActivatePolicy(ctx, policyID); err != nil {
			return err
		}
		policy.IsActive = true
		return nil
	})
	if err != nil {
		return Policy{}, err
	}
	s.logger.Info("currency policy activated", slog.Int64("policy_id", policy.ID), slog.String("type", string(policy.Type)))
	s.record(ctx, actorID, "currency.policy.activate", "currency_policy", strconv.FormatInt(policy.ID, 10), map[string]any{
		"code": policy.Code,
		"type": string(policy.Type),
	})
	return policy, nil
}

// ActivePolicy returns the active policy or ErrNoActivePolicy.
func (s *Service) ActivePolicy(ctx context.Context) (Policy, error) {
	return s.repo.ActivePolicy(ctx)
}

// RegisterCurrency validates the ISO code and stores the currency.
func (s *Service) RegisterCurrency(ctx context.Context, c Currency) (Currency, error) {
	code, err := NormalizeCode(c.Code)
	if err != nil {
		return Currency{}, err
	}
	c.Code = code
	if err := validate.Struct(c); err != nil {
		return Currency{}, fmt.Errorf("currency: register: %w", err)
	}
	if c.IsPrimary {
		c.ExchangeRate = decimal.NewFromInt(1)
	}
	if !c.ExchangeRate.IsPositive() {
		return Currency{}, fmt.Errorf("currency: register %s: exchange rate must be positive", code)
	}
	var out Currency
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		out, err = tx.InsertCurrency(ctx, c)
		return err
	})
	return out, err
}

// CurrencyByCode resolves an ISO 4217 code to a registered currency.
func (s *Service) CurrencyByCode(ctx context.Context, code string) (Currency, error) {
	normalized, err := NormalizeCode(code)
	if err != nil {
		return Currency{}, err
	}
	c, err := s.repo.CurrencyByCode(ctx, normalized)
	if err != nil {
		return Currency{}, fmt.Errorf("currency %s: %w", normalized, err)
	}
	return c, nil
}

// ReferenceCurrency returns the primary currency.
func (s *Service) ReferenceCurrency(ctx context.Context) (Currency, error) {
	return s.repo.ReferenceCurrency(ctx)
}

// DetermineConversionDecision evaluates the active policy for a transaction
// in currencyID. Without an active policy conversion is mandated.
func (s *Service) DetermineConversionDecision(ctx context.Context, currencyID int64, userRequested bool) (Decision, error) {
	policy, err := s.repo.ActivePolicy(ctx)
	if errors.Is(err, ErrNoActivePolicy) {
		s.logger.Warn("no active currency policy, defaulting to policy mandated conversion")
		return DecisionPolicyMandated, nil
	}
	if err != nil {
		return "", err
	}
	var refID *int64
	ref, err := s.repo.ReferenceCurrency(ctx)
	switch {
	case err == nil:
		refID = &ref.ID
	case !errors.Is(err, ErrNoReferenceCurrency):
		return "", err
	}
	return decisionFor(policy, refID, currencyID, userRequested), nil
}

func decisionFor(policy Policy, referenceID *int64, currencyID int64, userRequested bool) Decision {
	if referenceID != nil && *referenceID == currencyID {
		return DecisionSameCurrency
	}
	return policy.Decide(userRequested)
}

// ExchangeRate returns units of target per unit of source on date. Recorded
// history wins over the currency's current rate; pairs without the reference
// currency are crossed through it.
func (s *Service) ExchangeRate(ctx context.Context, sourceID, targetID int64, date *time.Time) (decimal.Decimal, error) {
	if sourceID == targetID {
		return decimal.NewFromInt(1), nil
	}
	on := s.now()
	if date != nil {
		on = *date
	}
	source, err := s.repo.Currency(ctx, sourceID)
	if err != nil {
		return decimal.Zero, err
	}
	target, err := s.repo.Currency(ctx, targetID)
	if err != nil {
		return decimal.Zero, err
	}
	toReference := func(c Currency) (decimal.Decimal, error) {
		if c.IsPrimary {
			return decimal.NewFromInt(1), nil
		}
		rate, ok, err := s.repo.RateOn(ctx, c.ID, on)
		if err != nil {
			return decimal.Zero, err
		}
		if ok {
			return rate, nil
		}
		return c.ExchangeRate, nil
	}
	sr, err := toReference(source)
	if err != nil {
		return decimal.Zero, err
	}
	tr, err := toReference(target)
	if err != nil {
		return decimal.Zero, err
	}
	if !sr.IsPositive() || !tr.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %s to %s", ErrRateUnavailable, source.Code, target.Code)
	}
	if target.IsPrimary {
		return sr, nil
	}
	return sr.DivRound(tr, rateScale), nil
}

// Convert converts amount from source to target, rounded to four places.
func (s *Service) Convert(ctx context.Context, amount decimal.Decimal, sourceID, targetID int64, date *time.Time) (Conversion, error) {
	rate, err := s.ExchangeRate(ctx, sourceID, targetID, date)
	if err != nil {
		return Conversion{}, err
	}
	return Conversion{Amount: amount.Mul(rate).Round(amountScale), Rate: rate}, nil
}

// RecordExchangeRate appends a rate to history. One side of the pair must be
// the reference currency; a reference-to-foreign rate is stored inverted.
func (s *Service) RecordExchangeRate(ctx context.Context, input RateInput) (Rate, error) {
	if err := validate.Struct(input); err != nil {
		return Rate{}, fmt.Errorf("currency: rate: %w", err)
	}
	if !input.Rate.IsPositive() {
		return Rate{}, fmt.Errorf("currency: rate must be positive, got %s", input.Rate)
	}
	ref, err := s.repo.ReferenceCurrency(ctx)
	if err != nil {
		return Rate{}, err
	}
	rate := Rate{Rate: input.Rate, Source: input.Source, Reference: input.Reference, EffectiveDate: s.now()}
	if input.Date != nil {
		rate.EffectiveDate = *input.Date
	}
	if rate.Source == "" {
		rate.Source = SourceManual
	}
	switch ref.ID {
	case input.TargetCurrencyID:
		rate.CurrencyID = input.SourceCurrencyID
	case input.SourceCurrencyID:
		rate.CurrencyID = input.TargetCurrencyID
		rate.Rate = decimal.NewFromInt(1).DivRound(input.Rate, rateScale)
	default:
		return Rate{}, fmt.Errorf("currency: rate %d/%d must involve the reference currency %s",
			input.SourceCurrencyID, input.TargetCurrencyID, ref.Code)
	}
	if rate.CurrencyID == ref.ID {
		return Rate{}, fmt.Errorf("currency: rate of reference currency %s is fixed at 1", ref.Code)
	}
	var out Rate
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		out, err = tx.InsertRate(ctx, rate)
		return err
	})
	if err != nil {
		return Rate{}, err
	}
	s.logger.Info("exchange rate recorded", slog.Int64("currency_id", out.CurrencyID), slog.String("rate", out.Rate.String()),
		slog.String("source", string(out.Source)))
	return out, nil
}

// CreateForTransaction binds input to the policy active at this moment. The
// policy row is share-locked so activation cannot interleave.
func (s *Service) CreateForTransaction(ctx context.Context, input ContextInput) (TransactionContext, error) {
	return s.bind(ctx, input, nil)
}

// CreateTransactionContext decides against the active policy, converts with
// the current rate when the decision calls for it and stores the context.
// The decision and the snapshot come from the same policy read.
func (s *Service) CreateTransactionContext(ctx context.Context, transactionType string, transactionID, currencyID int64, amount decimal.Decimal, userRequested bool) (TransactionContext, error) {
	input := ContextInput{
		TransactionType:       transactionType,
		TransactionID:         transactionID,
		TransactionCurrencyID: currencyID,
		TransactionAmount:     amount,
	}
	var rateErr error
	ref, err := s.repo.ReferenceCurrency(ctx)
	switch {
	case err == nil:
		input.ReferenceCurrencyID = &ref.ID
		if ref.ID != currencyID {
			rate, err := s.ExchangeRate(ctx, currencyID, ref.ID, nil)
			if err != nil {
				rateErr = err
			} else {
				input.ExchangeRate = &rate
			}
		}
	case !errors.Is(err, ErrNoReferenceCurrency):
		return TransactionContext{}, err
	}
	return s.bind(ctx, input, func(policy Policy) (Decision, error) {
		decision := decisionFor(policy, input.ReferenceCurrencyID, currencyID, userRequested)
		if decision.InvolvesConversion() && rateErr != nil {
			return "", rateErr
		}
		return decision, nil
	})
}

// bind stores the context under the share-locked active policy. decide, when
// set, derives the decision from that same policy.
func (s *Service) bind(ctx context.Context, input ContextInput, decide func(Policy) (Decision, error)) (TransactionContext, error) {
	if err := validate.Struct(input); err != nil {
		return TransactionContext{}, fmt.Errorf("currency: context: %w", err)
	}
	var out TransactionContext
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		policy, err := tx.ActivePolicy(ctx)
		if err != nil {
			return err
		}
		in := input
		if decide != nil {
			if in.Decision, err = decide(policy); err != nil {
				return err
			}
		}
		out, err = tx.InsertContext(ctx, NewTransactionContext(policy, in, s.now()))
		return err
	})
	if err != nil {
		return TransactionContext{}, err
	}
	return out, nil
}

// ContextFor returns the stored context of a transaction.
func (s *Service) ContextFor(ctx context.Context, transactionType string, transactionID int64) (TransactionContext, error) {
	return s.repo.ContextFor(ctx, transactionType, transactionID)
}

// LedgerPostingAmount returns the amount and currency a ledger line should
// carry under the active policy.
func (s *Service) LedgerPostingAmount(ctx context.Context, amount decimal.Decimal, currencyID int64, tc *TransactionContext) (PostingAmount, error) {
	original := PostingAmount{Amount: amount, CurrencyID: currencyID}
	policy, err := s.repo.ActivePolicy(ctx)
	if errors.Is(err, ErrNoActivePolicy) {
		return original, nil
	}
	if err != nil {
		return PostingAmount{}, err
	}
	if policy.AllowsMultiCurrencyBalances() {
		return original, nil
	}
	if tc != nil && tc.WasConverted() && tc.ReferenceCurrencyID != nil {
		return PostingAmount{Amount: *tc.ReferenceAmount, CurrencyID: *tc.ReferenceCurrencyID}, nil
	}
	ref, err := s.repo.ReferenceCurrency(ctx)
	if errors.Is(err, ErrNoReferenceCurrency) {
		return original, nil
	}
	if err != nil {
		return PostingAmount{}, err
	}
	if ref.ID == currencyID || !policy.RequiresPostingConversion() {
		return original, nil
	}
	conv, err := s.Convert(ctx, amount, currencyID, ref.ID, nil)
	if err != nil {
		return PostingAmount{}, err
	}
	return PostingAmount{Amount: conv.Amount, CurrencyID: ref.ID}, nil
}

// PolicyStatus summarises the active configuration.
func (s *Service) PolicyStatus(ctx context.Context) (Status, error) {
	var status Status
	policy, err := s.repo.ActivePolicy(ctx)
	switch {
	case err == nil:
		status.HasActivePolicy = true
		status.PolicyName = policy.Name
		status.PolicyType = policy.Type
		status.PolicyTypeLabel = policy.Type.Label()
		status.ConversionTiming = policy.ConversionTiming
		status.RequiresPostingConversion = policy.RequiresPostingConversion()
		status.AllowsMultiCurrencyBalances = policy.AllowsMultiCurrencyBalances()
		status.RevaluationEnabled = policy.RevaluationEnabled
	case !errors.Is(err, ErrNoActivePolicy):
		return Status{}, err
	}
	ref, err := s.repo.ReferenceCurrency(ctx)
	switch {
	case err == nil:
		status.ReferenceCurrency = &ref
	case !errors.Is(err, ErrNoReferenceCurrency):
		return Status{}, err
	}
	return status, nil
}

func (s *Service) record(ctx context.Context, actor int64, action, entity, id string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{ActorID: actor, Action: action, Entity: entity, EntityID: id, Meta: meta, At: s.now()}); err != nil {
		s.logger.Warn("audit record", slog.String("entity", entity), slog.Any("error", err))
	}
}
