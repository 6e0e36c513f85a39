package ledger

import (
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrInsufficientBalance is returned by Transfer when the source account
// cannot cover the amount.
var ErrInsufficientBalance = errors.New("insufficient balance")

// CurrencyLedger tracks purchase-currency balances per account. The matching
// engine never touches it directly; only issuance and settlement do.
type CurrencyLedger interface {
	Mint(account string, amount decimal.Decimal)
	Transfer(from, to string, amount decimal.Decimal) error
	Balance(account string) decimal.Decimal
}

// EquityLedger tracks share balances per holder per project.
type EquityLedger interface {
	Mint(projectID uuid.UUID, account string, amount decimal.Decimal)
	Transfer(projectID uuid.UUID, from, to string, amount decimal.Decimal) error
	Balance(projectID uuid.UUID, account string) decimal.Decimal
}

// MemCurrencyLedger is an in-memory CurrencyLedger.
type MemCurrencyLedger struct {
	mu       sync.RWMutex
	balances map[string]decimal.Decimal
}

func NewMemCurrencyLedger() *MemCurrencyLedger {
	return &MemCurrencyLedger{balances: make(map[string]decimal.Decimal)}
}

func (l *MemCurrencyLedger) Mint(account string, amount decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[account] = l.balances[account].Add(amount)
}

func (l *MemCurrencyLedger) Transfer(from, to string, amount decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.balances[from].LessThan(amount) {
		return ErrInsufficientBalance
	}
	l.balances[from] = l.balances[from].Sub(amount)
	l.balances[to] = l.balances[to].Add(amount)
	return nil
}

func (l *MemCurrencyLedger) Balance(account string) decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.balances[account]
}

// SetBalance overwrites an account balance. Used when reloading persisted
// state on startup.
func (l *MemCurrencyLedger) SetBalance(account string, amount decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[account] = amount
}

// Balances returns a snapshot of all account balances.
func (l *MemCurrencyLedger) Balances() map[string]decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[string]decimal.Decimal, len(l.balances))
	for k, v := range l.balances {
		out[k] = v
	}
	return out
}

type equityKey struct {
	project uuid.UUID
	account string
}

// MemEquityLedger is an in-memory EquityLedger.
type MemEquityLedger struct {
	mu       sync.RWMutex
	balances map[equityKey]decimal.Decimal
}

func NewMemEquityLedger() *MemEquityLedger {
	return &MemEquityLedger{balances: make(map[equityKey]decimal.Decimal)}
}

func (l *MemEquityLedger) Mint(projectID uuid.UUID, account string, amount decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	k := equityKey{projectID, account}
	l.balances[k] = l.balances[k].Add(amount)
}

func (l *MemEquityLedger) Transfer(projectID uuid.UUID, from, to string, amount decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	fk := equityKey{projectID, from}
	if l.balances[fk].LessThan(amount) {
		return ErrInsufficientBalance
	}
	tk := equityKey{projectID, to}
	l.balances[fk] = l.balances[fk].Sub(amount)
	l.balances[tk] = l.balances[tk].Add(amount)
	return nil
}

func (l *MemEquityLedger) Balance(projectID uuid.UUID, account string) decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.balances[equityKey{projectID, account}]
}

// SetBalance overwrites a holding. Used when reloading persisted state.
func (l *MemEquityLedger) SetBalance(projectID uuid.UUID, account string, amount decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[equityKey{projectID, account}] = amount
}

// ProjectHoldings returns every holder's balance for one project.
func (l *MemEquityLedger) ProjectHoldings(projectID uuid.UUID) map[string]decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[string]decimal.Decimal)
	for k, v := range l.balances {
		if k.project == projectID {
			out[k.account] = v
		}
	}
	return out
}
