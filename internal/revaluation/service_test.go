package revaluation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/ledger-core/internal/accounting/ledger"
	"github.com/odyssey-erp/ledger-core/internal/currency"
	"github.com/odyssey-erp/ledger-core/internal/platform/cache"
	"github.com/odyssey-erp/ledger-core/internal/shared"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type memoryRepo struct {
	mu   sync.Mutex
	rows []Revaluation
	fail error
}

type memoryTx struct{ r *memoryRepo }

func (m *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	n := len(m.rows)
	if err := fn(ctx, memoryTx{r: m}); err != nil {
		m.rows = m.rows[:n]
		return err
	}
	return nil
}

func (m *memoryRepo) ByRun(_ context.Context, runID uuid.UUID) ([]Revaluation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Revaluation
	for _, r := range m.rows {
		if r.RunID == runID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (tx memoryTx) Insert(_ context.Context, r Revaluation) (Revaluation, error) {
	r.ID = int64(len(tx.r.rows) + 1)
	tx.r.rows = append(tx.r.rows, r)
	return r, nil
}

type fakeCurrency struct {
	policy currency.Policy
	ref    currency.Currency
	rate   decimal.Decimal
	rates  []currency.RateInput
}

func (f *fakeCurrency) ActivePolicy(context.Context) (currency.Policy, error) {
	if f.policy.ID == 0 {
		return currency.Policy{}, currency.ErrNoActivePolicy
	}
	return f.policy, nil
}

func (f *fakeCurrency) ReferenceCurrency(context.Context) (currency.Currency, error) {
	return f.ref, nil
}

func (f *fakeCurrency) ExchangeRate(context.Context, int64, int64, *time.Time) (decimal.Decimal, error) {
	if f.rate.IsZero() {
		return decimal.Zero, currency.ErrRateUnavailable
	}
	return f.rate, nil
}

func (f *fakeCurrency) RecordExchangeRate(_ context.Context, input currency.RateInput) (currency.Rate, error) {
	f.rates = append(f.rates, input)
	return currency.Rate{CurrencyID: input.SourceCurrencyID, Rate: input.Rate, Source: input.Source}, nil
}

type fakeLedger struct {
	balances []ledger.ForeignBalance
	posted   []ledger.PostingInput
	reversed []string
}

func (f *fakeLedger) ForeignCurrencyBalances(context.Context, int64, *time.Time) ([]ledger.ForeignBalance, error) {
	return f.balances, nil
}

func (f *fakeLedger) PostTransaction(_ context.Context, input ledger.PostingInput) (string, error) {
	if err := input.Validate(); err != nil {
		return "", err
	}
	f.posted = append(f.posted, input)
	return "VOU-000001", nil
}

func (f *fakeLedger) ReverseTransaction(_ context.Context, input ledger.ReverseInput) (string, error) {
	f.reversed = append(f.reversed, input.VoucherNumber)
	return "VOU-000002", nil
}

type memoryIdempotency struct {
	keys map[string]bool
}

func (m *memoryIdempotency) CheckAndInsert(_ context.Context, key, _ string) error {
	if m.keys[key] {
		return shared.ErrIdempotencyConflict
	}
	m.keys[key] = true
	return nil
}

func (m *memoryIdempotency) Delete(_ context.Context, key string) error {
	delete(m.keys, key)
	return nil
}

type fixture struct {
	svc    *Service
	repo   *memoryRepo
	fx     *fakeCurrency
	ledger *fakeLedger
	idem   *memoryIdempotency
	locker *cache.Locker
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	f := &fixture{
		repo: &memoryRepo{},
		fx: &fakeCurrency{
			policy: currency.Policy{ID: 1, Type: currency.PolicyValuedAsset, RevaluationEnabled: true},
			ref:    currency.Currency{ID: 1, Code: "SAR", IsPrimary: true},
			rate:   dec("3.75"),
		},
		ledger: &fakeLedger{balances: []ledger.ForeignBalance{
			{AccountID: 10, AccountCode: "1120", CurrencyID: 2, Balance: dec("1000")},
			{AccountID: 20, AccountCode: "2110", CurrencyID: 2, Balance: dec("-400")},
			{AccountID: 30, AccountCode: "1130", CurrencyID: 2, Balance: dec("0")},
		}},
		idem:   &memoryIdempotency{keys: make(map[string]bool)},
		locker: cache.NewLocker(client),
	}
	f.svc = NewService(Deps{Repo: f.repo, Currency: f.fx, Ledger: f.ledger, Locker: f.locker, Idempotency: f.idem}, Config{})
	f.svc.WithNow(func() time.Time { return time.Date(2025, 3, 31, 18, 0, 0, 0, time.UTC) })
	return f
}

func TestComputeGain(t *testing.T) {
	rv := Compute(RecordInput{CurrencyID: 2, AccountID: 10, ForeignBalance: dec("1000"), PreviousRate: dec("3.75"), NewRate: dec("3.80")})
	require.True(t, rv.PreviousReferenceBalance.Equal(dec("3750")))
	require.True(t, rv.NewReferenceBalance.Equal(dec("3800")))
	require.True(t, rv.Amount.Equal(dec("50")))
	require.Equal(t, TypeGain, rv.Type)

	rv = Compute(RecordInput{ForeignBalance: dec("1000"), PreviousRate: dec("3.80"), NewRate: dec("3.75")})
	require.Equal(t, TypeLoss, rv.Type)
	require.True(t, rv.Amount.Equal(dec("50")))

	rv = Compute(RecordInput{ForeignBalance: dec("1000"), PreviousRate: dec("3.75"), NewRate: dec("3.75")})
	require.Equal(t, TypeGain, rv.Type)
	require.True(t, rv.Amount.IsZero())
}

func TestRecordPersistsWithoutPosting(t *testing.T) {
	f := newFixture(t)
	rv, err := f.svc.Record(context.Background(), RecordInput{
		CurrencyID: 2, AccountID: 10, ForeignBalance: dec("1000"), PreviousRate: dec("3.75"), NewRate: dec("3.80"),
	})
	require.NoError(t, err)
	require.True(t, rv.Amount.Equal(dec("50")))
	require.Equal(t, TypeGain, rv.Type)
	require.NotEqual(t, uuid.Nil, rv.RunID)
	require.Len(t, f.repo.rows, 1)
	require.Empty(t, f.ledger.posted)

	_, err = f.svc.Record(context.Background(), RecordInput{CurrencyID: 2, AccountID: 10, ForeignBalance: dec("1"), PreviousRate: dec("0"), NewRate: dec("1")})
	require.ErrorIs(t, err, ErrInvalidRate)
}

func TestRunPostsBalancedVoucher(t *testing.T) {
	f := newFixture(t)
	res, err := f.svc.Run(context.Background(), RunInput{CurrencyID: 2, NewRate: dec("3.80"), PostVoucher: true})
	require.NoError(t, err)

	require.Len(t, res.Revaluations, 2, "zero balances are skipped")
	require.True(t, res.TotalGain.Equal(dec("50")))
	require.True(t, res.TotalLoss.Equal(dec("20")), "credit balance loses when the rate rises")
	require.True(t, res.NetEffect.Equal(dec("30")))
	require.Equal(t, "VOU-000001", res.VoucherNumber)

	require.Len(t, f.ledger.posted, 1)
	posted := f.ledger.posted[0]
	require.Equal(t, ReferenceType, posted.ReferenceType)
	debit, credit := posted.Totals()
	require.True(t, debit.Equal(credit))
	require.True(t, debit.Equal(dec("70")))

	stored, err := f.svc.ByRun(context.Background(), res.RunID)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	for _, rv := range stored {
		require.Equal(t, "VOU-000001", rv.VoucherNumber)
	}

	require.Len(t, f.fx.rates, 1)
	require.Equal(t, currency.SourceSystem, f.fx.rates[0].Source)
	require.True(t, f.fx.rates[0].Rate.Equal(dec("3.80")))
}

func TestRunIsIdempotentPerDate(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Run(context.Background(), RunInput{CurrencyID: 2, NewRate: dec("3.80")})
	require.NoError(t, err)
	_, err = f.svc.Run(context.Background(), RunInput{CurrencyID: 2, NewRate: dec("3.81")})
	require.ErrorIs(t, err, ErrAlreadyRun)
	require.Len(t, f.repo.rows, 2)
}

func TestRunRejectsWhileLocked(t *testing.T) {
	f := newFixture(t)
	release, err := f.locker.Acquire(context.Background(), shared.RevaluationLockKey(2, 0), time.Minute)
	require.NoError(t, err)
	_, err = f.svc.Run(context.Background(), RunInput{CurrencyID: 2, NewRate: dec("3.80")})
	require.ErrorIs(t, err, ErrRunInProgress)
	require.NoError(t, release(context.Background()))

	_, err = f.svc.Run(context.Background(), RunInput{CurrencyID: 2, NewRate: dec("3.80")})
	require.NoError(t, err)
}

func TestRunPolicyGuards(t *testing.T) {
	f := newFixture(t)
	f.fx.policy.RevaluationEnabled = false
	_, err := f.svc.Run(context.Background(), RunInput{CurrencyID: 2, NewRate: dec("3.80")})
	require.ErrorIs(t, err, ErrRevaluationDisabled)

	f.fx.policy.RevaluationEnabled = true
	_, err = f.svc.Run(context.Background(), RunInput{CurrencyID: 1, NewRate: dec("3.80")})
	require.ErrorIs(t, err, ErrReferenceCurrency)

	f.fx.policy = currency.Policy{}
	_, err = f.svc.Run(context.Background(), RunInput{CurrencyID: 2, NewRate: dec("3.80")})
	require.ErrorIs(t, err, currency.ErrNoActivePolicy)
}

func TestRunCompensatesWhenRowsFail(t *testing.T) {
	f := newFixture(t)
	f.repo.fail = errors.New("db down")
	_, err := f.svc.Run(context.Background(), RunInput{CurrencyID: 2, NewRate: dec("3.80"), PostVoucher: true})
	require.Error(t, err)
	require.Equal(t, []string{"VOU-000001"}, f.ledger.reversed)
	require.Empty(t, f.idem.keys, "failed run can be retried")
	require.Empty(t, f.fx.rates)
}

func TestRunWithoutPreviousRateDefaultsToOne(t *testing.T) {
	f := newFixture(t)
	f.fx.rate = decimal.Zero
	res, err := f.svc.Run(context.Background(), RunInput{CurrencyID: 2, NewRate: dec("1.5")})
	require.NoError(t, err)
	require.True(t, res.PreviousRate.Equal(dec("1")))
	require.Empty(t, res.VoucherNumber)
}
