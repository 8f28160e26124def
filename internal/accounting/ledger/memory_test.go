package ledger

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/ledger-core/internal/accounting/accounts"
	"github.com/odyssey-erp/ledger-core/internal/accounting/periods"
)

// memoryStore serialises units of work on a mutex and restores a snapshot
// when fn fails, mirroring commit/rollback.
type memoryStore struct {
	mu          sync.Mutex
	periods     []periods.Period
	accounts    map[int64]accounts.Account
	sequences   map[string]Sequence
	vouchers    map[string]Voucher
	entries     []Entry
	nextEntryID int64
	// lockedPeriods records ids read through PeriodForUpdate.
	lockedPeriods []int64
}

type memoryTx struct {
	s *memoryStore
}

type snapshot struct {
	periods     []periods.Period
	sequences   map[string]Sequence
	vouchers    map[string]Voucher
	entries     []Entry
	nextEntryID int64
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		accounts:  make(map[int64]accounts.Account),
		sequences: make(map[string]Sequence),
		vouchers:  make(map[string]Voucher),
	}
}

func (m *memoryStore) addPeriod(p periods.Period) periods.Period {
	p.ID = int64(len(m.periods) + 1)
	m.periods = append(m.periods, p)
	return p
}

func (m *memoryStore) setPeriod(p periods.Period) {
	for i := range m.periods {
		if m.periods[i].ID == p.ID {
			m.periods[i] = p
		}
	}
}

func (m *memoryStore) addAccount(a accounts.Account) accounts.Account {
	a.ID = int64(len(m.accounts) + 1)
	if a.Type == "" {
		a.Type = accounts.AccountTypeAsset
	}
	a.IsActive = true
	if a.ParentID != nil {
		parent := m.accounts[*a.ParentID]
		parent.HasChildren = true
		m.accounts[parent.ID] = parent
	}
	m.accounts[a.ID] = a
	return a
}

func (m *memoryStore) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := snapshot{
		periods:     slices.Clone(m.periods),
		sequences:   maps.Clone(m.sequences),
		vouchers:    maps.Clone(m.vouchers),
		entries:     slices.Clone(m.entries),
		nextEntryID: m.nextEntryID,
	}
	if err := fn(ctx, &memoryTx{s: m}); err != nil {
		m.periods, m.sequences, m.vouchers, m.entries, m.nextEntryID = snap.periods, snap.sequences, snap.vouchers, snap.entries, snap.nextEntryID
		return err
	}
	return nil
}

func (m *memoryStore) AccountBalance(_ context.Context, accountID int64, asOf *time.Time) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := decimal.Zero
	for _, e := range m.entries {
		if e.AccountID != accountID || (asOf != nil && e.VoucherDate.After(*asOf)) {
			continue
		}
		total = total.Add(e.Signed())
	}
	return total, nil
}

func (m *memoryStore) AccountTotals(_ context.Context, asOf *time.Time) ([]AccountTotals, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []AccountTotals
	for id := int64(1); id <= int64(len(m.accounts)); id++ {
		t := AccountTotals{Account: m.accounts[id]}
		for _, e := range m.entries {
			if e.AccountID != id || (asOf != nil && e.VoucherDate.After(*asOf)) {
				continue
			}
			if e.Direction == Debit {
				t.Debit = t.Debit.Add(e.Amount)
			} else {
				t.Credit = t.Credit.Add(e.Amount)
			}
		}
		out = append(out, t)
	}
	return out, nil
}

func (m *memoryStore) VoucherEntries(_ context.Context, voucherNumber string) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entriesOf(voucherNumber), nil
}

func (m *memoryStore) ForeignCurrencyBalances(_ context.Context, currencyID int64, _ *time.Time) ([]ForeignBalance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byAccount := map[int64]decimal.Decimal{}
	for _, e := range m.entries {
		if e.Currency == nil || e.Currency.CurrencyID != currencyID {
			continue
		}
		amount := e.Currency.OriginalAmount
		if e.Direction == Credit {
			amount = amount.Neg()
		}
		byAccount[e.AccountID] = byAccount[e.AccountID].Add(amount)
	}
	var out []ForeignBalance
	for _, id := range slices.Sorted(maps.Keys(byAccount)) {
		out = append(out, ForeignBalance{AccountID: id, AccountCode: m.accounts[id].Code, CurrencyID: currencyID, Balance: byAccount[id]})
	}
	return out, nil
}

func (m *memoryStore) UnbalancedVouchers(context.Context, time.Time) ([]VoucherImbalance, error) {
	return nil, nil
}

func (m *memoryStore) entriesOf(voucher string) []Entry {
	var out []Entry
	for _, e := range m.entries {
		if e.VoucherNumber == voucher {
			out = append(out, e)
		}
	}
	return out
}

func (tx *memoryTx) NextSequence(_ context.Context, documentType string) (Sequence, error) {
	seq, ok := tx.s.sequences[documentType]
	if !ok {
		seq = Sequence{DocumentType: documentType, Prefix: documentType, Format: defaultVoucherFormat}
	}
	seq.Number++
	tx.s.sequences[documentType] = seq
	return seq, nil
}

func (tx *memoryTx) PeriodsCovering(_ context.Context, date time.Time) ([]periods.Period, error) {
	var out []periods.Period
	for _, p := range tx.s.periods {
		if p.Contains(date) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (tx *memoryTx) PeriodForUpdate(_ context.Context, id int64) (periods.Period, error) {
	for _, p := range tx.s.periods {
		if p.ID == id {
			tx.s.lockedPeriods = append(tx.s.lockedPeriods, id)
			return p, nil
		}
	}
	return periods.Period{}, periods.ErrPeriodNotFound
}

func (tx *memoryTx) NextOpenPeriodAfter(_ context.Context, date time.Time) (periods.Period, error) {
	for _, p := range tx.s.periods {
		if p.Status() == periods.PeriodStatusOpen && p.StartDate.After(date) {
			return p, nil
		}
	}
	return periods.Period{}, periods.ErrNoPeriod
}

func (tx *memoryTx) Account(_ context.Context, id int64, code string) (accounts.Account, error) {
	for _, a := range tx.s.accounts {
		if (id != 0 && a.ID == id) || (id == 0 && a.Code == code) {
			return a, nil
		}
	}
	return accounts.Account{}, fmt.Errorf("%w: %d/%s", accounts.ErrAccountNotFound, id, code)
}

func (tx *memoryTx) InsertVoucher(_ context.Context, v Voucher) error {
	if _, ok := tx.s.vouchers[v.Number]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateVoucher, v.Number)
	}
	tx.s.vouchers[v.Number] = v
	return nil
}

func (tx *memoryTx) InsertEntry(_ context.Context, e Entry) (int64, error) {
	tx.s.nextEntryID++
	e.ID = tx.s.nextEntryID
	tx.s.entries = append(tx.s.entries, e)
	return e.ID, nil
}

func (tx *memoryTx) EntriesForUpdate(_ context.Context, voucherNumber string) ([]Entry, error) {
	return tx.s.entriesOf(voucherNumber), nil
}

func (tx *memoryTx) MarkReversed(_ context.Context, voucherNumbers ...string) error {
	for _, number := range voucherNumbers {
		found := false
		for i := range tx.s.entries {
			if tx.s.entries[i].VoucherNumber == number {
				tx.s.entries[i].IsReversed = true
				found = true
			}
		}
		if !found {
			return ErrVoucherNotFound
		}
	}
	return nil
}
