package accounts

import (
	"errors"
	"fmt"
	"time"
)

// AccountType enumerates CoA categories.
type AccountType string

const (
	AccountTypeAsset     AccountType = "ASSET"
	AccountTypeLiability AccountType = "LIABILITY"
	AccountTypeEquity    AccountType = "EQUITY"
	AccountTypeRevenue   AccountType = "REVENUE"
	AccountTypeExpense   AccountType = "EXPENSE"
)

// Valid reports whether t is a known account type.
func (t AccountType) Valid() bool {
	switch t {
	case AccountTypeAsset, AccountTypeLiability, AccountTypeEquity, AccountTypeRevenue, AccountTypeExpense:
		return true
	}
	return false
}

// DebitNormal reports whether balances of this type grow on the debit side.
func (t AccountType) DebitNormal() bool {
	return t == AccountTypeAsset || t == AccountTypeExpense
}

var (
	// ErrAccountNotFound indicates an unknown account code or id.
	ErrAccountNotFound = errors.New("accounts: account not found")
	// ErrAccountInactive indicates postings against a deactivated account.
	ErrAccountInactive = errors.New("accounts: account is inactive")
	// ErrSummaryAccount indicates postings against a parent (non-leaf) account.
	ErrSummaryAccount = errors.New("accounts: cannot post to a summary account")
)

// Account models a chart of accounts node.
type Account struct {
	ID          int64
	Code        string
	Name        string
	Type        AccountType
	ParentID    *int64
	IsActive    bool
	HasChildren bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// IsLeaf reports whether the account has no children.
func (a Account) IsLeaf() bool {
	return !a.HasChildren
}

// EnsurePostable rejects inactive accounts and, when preventParent is set,
// summary accounts.
func (a Account) EnsurePostable(preventParent bool) error {
	if !a.IsActive {
		return fmt.Errorf("%w: %s", ErrAccountInactive, a.Code)
	}
	if preventParent && !a.IsLeaf() {
		return fmt.Errorf("%w: %s", ErrSummaryAccount, a.Code)
	}
	return nil
}
