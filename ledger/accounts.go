package ledger

import (
	"context"
	"sync"
)

// =============================================================================
// CHART OF ACCOUNTS
// =============================================================================

// Standard account codes used by the business-event wrappers.
const (
	AccountRawMaterials    AccountCode = "1200"
	AccountWIP             AccountCode = "1300"
	AccountFinishedGoods   AccountCode = "1400"
	AccountGRNI            AccountCode = "2100" // goods received not invoiced
	AccountCOGS            AccountCode = "5000"
	AccountScrapExpense    AccountCode = "5100"
	AccountInventoryAdjust AccountCode = "5200"
	AccountAppliedOverhead AccountCode = "5300"
)

type AccountType string

const (
	AccountAsset     AccountType = "asset"
	AccountLiability AccountType = "liability"
	AccountExpense   AccountType = "expense"
	AccountRevenue   AccountType = "revenue"
	AccountEquity    AccountType = "equity"
)

type Account struct {
	Code AccountCode
	Name string
	Type AccountType
}

// DefaultAccounts is the chart the wrappers assume. Stores seed it on migrate.
func DefaultAccounts() []Account {
	return []Account{
		{Code: AccountRawMaterials, Name: "Raw Materials Inventory", Type: AccountAsset},
		{Code: AccountWIP, Name: "Work In Process", Type: AccountAsset},
		{Code: AccountFinishedGoods, Name: "Finished Goods Inventory", Type: AccountAsset},
		{Code: AccountGRNI, Name: "Goods Received Not Invoiced", Type: AccountLiability},
		{Code: AccountCOGS, Name: "Cost of Goods Sold", Type: AccountExpense},
		{Code: AccountScrapExpense, Name: "Scrap Expense", Type: AccountExpense},
		{Code: AccountInventoryAdjust, Name: "Inventory Adjustments", Type: AccountExpense},
		{Code: AccountAppliedOverhead, Name: "Applied Overhead", Type: AccountExpense},
	}
}

// AccountLookup resolves account codes. It is passed in explicitly so tests
// can substitute a fake chart; there is no process-wide cache.
type AccountLookup interface {
	Account(ctx context.Context, code AccountCode) (Account, error)
}

// StaticChart is an in-memory AccountLookup.
type StaticChart struct {
	mu       sync.RWMutex
	accounts map[AccountCode]Account
}

func NewStaticChart(accounts ...Account) *StaticChart {
	c := &StaticChart{accounts: make(map[AccountCode]Account, len(accounts))}
	for _, a := range accounts {
		c.accounts[a.Code] = a
	}
	return c
}

// NewDefaultChart returns a StaticChart holding DefaultAccounts.
func NewDefaultChart() *StaticChart {
	return NewStaticChart(DefaultAccounts()...)
}

func (c *StaticChart) Add(a Account) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accounts[a.Code] = a
}

func (c *StaticChart) Account(_ context.Context, code AccountCode) (Account, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	a, ok := c.accounts[code]
	if !ok {
		return Account{}, &UnknownAccountError{Code: code}
	}
	return a, nil
}
