// Package account owns the balance singleton and performance statistics
// derived from the trade ledger.
package account

import (
	"sync"
)

// Balance is the account snapshot. Equity is always recomputed from
// balance plus open unrealized P&L, never drifted incrementally.
type Balance struct {
	Balance     float64 `json:"balance"`
	Equity      float64 `json:"equity"`
	Margin      float64 `json:"margin"`
	FreeMargin  float64 `json:"free_margin"`
	MarginLevel float64 `json:"margin_level"`
}

// Tracker mutates the balance on position open/close and price updates.
type Tracker struct {
	mu  sync.RWMutex
	bal Balance
}

func NewTracker(initialBalance float64) *Tracker {
	t := &Tracker{}
	t.bal.Balance = initialBalance
	t.bal.Equity = initialBalance
	t.bal.FreeMargin = initialBalance
	return t
}

// Restore replaces the snapshot with persisted state on startup.
func (t *Tracker) Restore(b Balance) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.bal = b
}

// Reserve locks margin when a position opens.
func (t *Tracker) Reserve(margin float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.bal.Margin += margin
	t.recalc(t.bal.Equity - t.bal.Balance)
}

// Settle releases a position's reserved margin and books its realized P&L.
func (t *Tracker) Settle(margin, realizedPnL float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.bal.Balance += realizedPnL
	t.bal.Margin -= margin
	if t.bal.Margin < 0 {
		t.bal.Margin = 0
	}
	t.recalc(0)
}

// Reconcile recomputes equity from the authoritative inputs: current balance
// plus the sum of unrealized P&L over open positions.
func (t *Tracker) Reconcile(unrealizedSum float64) Balance {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.recalc(unrealizedSum)
	return t.bal
}

// recalc derives equity, free margin, and margin level. Caller holds the lock.
func (t *Tracker) recalc(unrealizedSum float64) {
	t.bal.Equity = t.bal.Balance + unrealizedSum
	t.bal.FreeMargin = t.bal.Equity - t.bal.Margin
	if t.bal.Margin > 0 {
		t.bal.MarginLevel = t.bal.Equity / t.bal.Margin * 100
	} else {
		t.bal.MarginLevel = 0
	}
}

// Snapshot returns a copy of the current balance.
func (t *Tracker) Snapshot() Balance {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.bal
}
