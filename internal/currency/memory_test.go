package currency

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

type memoryRepo struct {
	mu         sync.Mutex
	policies   map[int64]Policy
	currencies map[int64]Currency
	rates      []Rate
	contexts   []TransactionContext
	nextID     int64
}

type memoryTx struct {
	r *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{policies: make(map[int64]Policy), currencies: make(map[int64]Currency)}
}

func (m *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	policies, currencies, rates, contexts, next := maps.Clone(m.policies), maps.Clone(m.currencies), slices.Clone(m.rates), slices.Clone(m.contexts), m.nextID
	if err := fn(ctx, &memoryTx{r: m}); err != nil {
		m.policies, m.currencies, m.rates, m.contexts, m.nextID = policies, currencies, rates, contexts, next
		return err
	}
	return nil
}

func (m *memoryRepo) active() (Policy, error) {
	for _, p := range m.policies {
		if p.IsActive {
			return p, nil
		}
	}
	return Policy{}, ErrNoActivePolicy
}

func (m *memoryRepo) ActivePolicy(context.Context) (Policy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active()
}

func (m *memoryRepo) Currency(_ context.Context, id int64) (Currency, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.currencies[id]
	if !ok {
		return Currency{}, ErrCurrencyNotFound
	}
	return c, nil
}

func (m *memoryRepo) CurrencyByCode(_ context.Context, code string) (Currency, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.currencies {
		if c.Code == code {
			return c, nil
		}
	}
	return Currency{}, ErrCurrencyNotFound
}

func (m *memoryRepo) ReferenceCurrency(context.Context) (Currency, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.currencies {
		if c.IsPrimary {
			return c, nil
		}
	}
	return Currency{}, ErrNoReferenceCurrency
}

func (m *memoryRepo) RateOn(_ context.Context, currencyID int64, date time.Time) (decimal.Decimal, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var (
		best  Rate
		found bool
	)
	for _, r := range m.rates {
		if r.CurrencyID != currencyID || r.EffectiveDate.After(date) {
			continue
		}
		if !found || !r.EffectiveDate.Before(best.EffectiveDate) {
			best, found = r, true
		}
	}
	return best.Rate, found, nil
}

func (m *memoryRepo) ContextFor(_ context.Context, transactionType string, transactionID int64) (TransactionContext, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.contexts {
		if c.TransactionType == transactionType && c.TransactionID == transactionID {
			return c, nil
		}
	}
	return TransactionContext{}, ErrContextNotFound
}

func (tx *memoryTx) LockPolicies(context.Context) error { return nil }

func (tx *memoryTx) ActivePolicy(context.Context) (Policy, error) { return tx.r.active() }

func (tx *memoryTx) Policy(_ context.Context, id int64) (Policy, error) {
	p, ok := tx.r.policies[id]
	if !ok {
		return Policy{}, ErrPolicyNotFound
	}
	return p, nil
}

func (tx *memoryTx) InsertPolicy(_ context.Context, p Policy) (Policy, error) {
	tx.r.nextID++
	p.ID = tx.r.nextID
	p.IsActive = false
	tx.r.policies[p.ID] = p
	return p, nil
}

func (tx *memoryTx) DeactivatePolicies(context.Context) error {
	for id, p := range tx.r.policies {
		p.IsActive = false
		tx.r.policies[id] = p
	}
	return nil
}

func (tx *memoryTx) ActivatePolicy(_ context.Context, id int64) error {
	p, ok := tx.r.policies[id]
	if !ok {
		return ErrPolicyNotFound
	}
	p.IsActive = true
	tx.r.policies[id] = p
	return nil
}

func (tx *memoryTx) InsertContext(_ context.Context, c TransactionContext) (TransactionContext, error) {
	for _, existing := range tx.r.contexts {
		if existing.TransactionType == c.TransactionType && existing.TransactionID == c.TransactionID {
			return TransactionContext{}, ErrContextExists
		}
	}
	tx.r.nextID++
	c.ID = tx.r.nextID
	tx.r.contexts = append(tx.r.contexts, c)
	return c, nil
}

func (tx *memoryTx) InsertCurrency(_ context.Context, c Currency) (Currency, error) {
	tx.r.nextID++
	c.ID = tx.r.nextID
	tx.r.currencies[c.ID] = c
	return c, nil
}

func (tx *memoryTx) InsertRate(_ context.Context, r Rate) (Rate, error) {
	tx.r.nextID++
	r.ID = tx.r.nextID
	tx.r.rates = append(tx.r.rates, r)
	return r, nil
}
