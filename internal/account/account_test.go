package account

import (
	"testing"

	"github.com/shopspring/decimal"
)

func balanceOf(t *testing.T, a *Account, asset string) Balance {
	t.Helper()
	for _, b := range a.Balances() {
		if b.Asset == asset {
			return b
		}
	}
	return Balance{Asset: asset}
}

func TestCreditDebit(t *testing.T) {
	a := New()
	a.Credit("USDT", decimal.NewFromInt(100))
	a.Debit("USDT", decimal.NewFromInt(40))

	b := balanceOf(t, a, "USDT")
	if !b.Free.Equal(decimal.NewFromInt(60)) {
		t.Errorf("expected free balance 60, got %s", b.Free)
	}
}

func TestLockUnlock(t *testing.T) {
	a := New()
	a.Credit("BTC", decimal.NewFromInt(1))
	a.Lock("BTC", decimal.NewFromFloat(0.4))

	b := balanceOf(t, a, "BTC")
	if !b.Free.Equal(decimal.NewFromFloat(0.6)) {
		t.Errorf("expected free 0.6 after lock, got %s", b.Free)
	}
	if !b.Locked.Equal(decimal.NewFromFloat(0.4)) {
		t.Errorf("expected locked 0.4, got %s", b.Locked)
	}

	a.Unlock("BTC", decimal.NewFromFloat(0.4))
	b = balanceOf(t, a, "BTC")
	if !b.Free.Equal(decimal.NewFromInt(1)) {
		t.Errorf("expected free back to 1 after unlock, got %s", b.Free)
	}
	if !b.Locked.IsZero() {
		t.Errorf("expected locked back to 0 after unlock, got %s", b.Locked)
	}
}

func TestRecordAndResolvePending(t *testing.T) {
	a := New()
	a.RecordPending(PendingOrder{ClientOrderID: "c1", StrategyID: "s1", Symbol: "BTCUSDT", Side: "BUY", Qty: decimal.NewFromInt(1)})
	a.RecordPending(PendingOrder{ClientOrderID: "c2", StrategyID: "s1", Symbol: "BTCUSDT", Side: "SELL", Qty: decimal.NewFromInt(1)})

	if got := len(a.PendingOrders()); got != 2 {
		t.Fatalf("expected 2 pending orders, got %d", got)
	}
	if got := a.VenueCounter(); got != 2 {
		t.Errorf("expected venue counter 2, got %d", got)
	}

	a.ResolvePending("c1")
	pending := a.PendingOrders()
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending order after resolve, got %d", len(pending))
	}
	if pending[0].ClientOrderID != "c2" {
		t.Errorf("expected remaining order c2, got %s", pending[0].ClientOrderID)
	}
	// VenueCounter never decreases: it counts every order ever routed.
	if got := a.VenueCounter(); got != 2 {
		t.Errorf("expected venue counter to stay at 2 after resolve, got %d", got)
	}
}
