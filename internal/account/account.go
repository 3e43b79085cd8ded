// Package account implements the paper ledger that turns routed
// strategy signals into the balance/position bookkeeping the state
// snapshot persists. VeloZ never places or learns of fills on a live
// venue; "pending" here means "routed to the sink this session," the
// direct generalization of the teacher's risk.Manager exposure
// tracking and strategy.Inventory position tracking from a binary
// YES/NO market to a multi-asset spot ledger.
package account

import (
	"sync"

	"github.com/shopspring/decimal"
)

// Balance is one asset's free/locked split.
type Balance struct {
	Asset  string
	Free   decimal.Decimal
	Locked decimal.Decimal
}

// PendingOrder mirrors an order-request the strategy host has routed to
// the sink but has not yet been told is resolved.
type PendingOrder struct {
	ClientOrderID string
	StrategyID    string
	Symbol        string
	Side          string
	Qty           decimal.Decimal
	Price         decimal.Decimal
}

// Account is the runtime's paper ledger: per-asset balances, the set of
// currently-pending order requests, and a monotonic counter of every
// order request routed this session.
type Account struct {
	mu           sync.RWMutex
	balances     map[string]Balance
	pending      map[string]PendingOrder
	venueCounter int64
}

// New creates an empty ledger.
func New() *Account {
	return &Account{
		balances: make(map[string]Balance),
		pending:  make(map[string]PendingOrder),
	}
}

// Credit increases asset's free balance by amt.
func (a *Account) Credit(asset string, amt decimal.Decimal) {
	a.mu.Lock()
	defer a.mu.Unlock()
	b := a.balances[asset]
	b.Asset = asset
	b.Free = b.Free.Add(amt)
	a.balances[asset] = b
}

// Debit decreases asset's free balance by amt (may go negative; the
// ledger doesn't enforce solvency since it never rejects a strategy's
// order request).
func (a *Account) Debit(asset string, amt decimal.Decimal) {
	a.Credit(asset, amt.Neg())
}

// Lock moves amt from free to locked for asset.
func (a *Account) Lock(asset string, amt decimal.Decimal) {
	a.mu.Lock()
	defer a.mu.Unlock()
	b := a.balances[asset]
	b.Asset = asset
	b.Free = b.Free.Sub(amt)
	b.Locked = b.Locked.Add(amt)
	a.balances[asset] = b
}

// Unlock moves amt from locked back to free for asset.
func (a *Account) Unlock(asset string, amt decimal.Decimal) {
	a.mu.Lock()
	defer a.mu.Unlock()
	b := a.balances[asset]
	b.Locked = b.Locked.Sub(amt)
	b.Free = b.Free.Add(amt)
	a.balances[asset] = b
}

// Balances returns a snapshot of every tracked balance.
func (a *Account) Balances() []Balance {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]Balance, 0, len(a.balances))
	for _, b := range a.balances {
		out = append(out, b)
	}
	return out
}

// RecordPending registers a newly-routed order request and bumps the
// venue counter.
func (a *Account) RecordPending(p PendingOrder) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pending[p.ClientOrderID] = p
	a.venueCounter++
}

// ResolvePending removes a pending order once the caller considers it
// resolved (filled, cancelled, or expired externally).
func (a *Account) ResolvePending(clientOrderID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.pending, clientOrderID)
}

// PendingOrders returns every currently-outstanding order request.
func (a *Account) PendingOrders() []PendingOrder {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]PendingOrder, 0, len(a.pending))
	for _, p := range a.pending {
		out = append(out, p)
	}
	return out
}

// VenueCounter returns the monotonic count of order requests routed
// this session.
func (a *Account) VenueCounter() int64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.venueCounter
}
