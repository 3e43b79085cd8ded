package market

import (
	"testing"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func lvl(price, qty string) BookLevel {
	return BookLevel{Price: dec(price), Qty: dec(qty)}
}

func TestBookApplySnapshotOrdering(t *testing.T) {
	b := NewBook("BTCUSDT")
	b.ApplySnapshot(
		[]BookLevel{lvl("100", "1"), lvl("101", "2"), lvl("99", "3")},
		[]BookLevel{lvl("102", "1"), lvl("104", "2"), lvl("103", "3")},
		10,
	)

	bid, ok := b.BestBid()
	if !ok || !bid.Price.Equal(dec("101")) {
		t.Fatalf("want best bid 101, got %v ok=%v", bid.Price, ok)
	}
	ask, ok := b.BestAsk()
	if !ok || !ask.Price.Equal(dec("102")) {
		t.Fatalf("want best ask 102, got %v ok=%v", ask.Price, ok)
	}
	if b.Sequence() != 10 {
		t.Fatalf("want sequence 10, got %d", b.Sequence())
	}
}

func TestBookApplyDeltasDeleteOnZeroQty(t *testing.T) {
	b := NewBook("BTCUSDT")
	b.ApplySnapshot([]BookLevel{lvl("100", "1")}, []BookLevel{lvl("101", "1")}, 5)

	res := b.ApplyDeltas([]BookLevel{lvl("100", "0")}, nil, 6, 6)
	if res != Applied {
		t.Fatalf("want Applied, got %v", res)
	}
	if _, ok := b.BestBid(); ok {
		t.Fatal("level with zero qty should have been deleted")
	}
}

func TestBookApplyDeltasStaleAndGap(t *testing.T) {
	b := NewBook("BTCUSDT")
	b.ApplySnapshot([]BookLevel{lvl("100", "1")}, []BookLevel{lvl("101", "1")}, 10)

	if res := b.ApplyDeltas(nil, nil, 5, 9); res != Stale {
		t.Fatalf("want Stale for seq<=current, got %v", res)
	}
	if res := b.ApplyDeltas(nil, nil, 15, 20); res != Gap {
		t.Fatalf("want Gap for first_update_id skipping ahead, got %v", res)
	}
	if res := b.ApplyDeltas(nil, nil, 11, 11); res != Applied {
		t.Fatalf("want Applied for contiguous delta, got %v", res)
	}
}

func TestBookApplyDeltaIdempotentReject(t *testing.T) {
	b := NewBook("BTCUSDT")
	b.ApplySnapshot([]BookLevel{lvl("100", "1")}, []BookLevel{lvl("101", "1")}, 10)

	b.ApplyDelta(lvl("99", "5"), true, 9)
	if len(b.TopBids(10)) != 1 {
		t.Fatalf("replay of stale sequence should have been rejected, bids=%v", b.TopBids(10))
	}
	if b.Sequence() != 10 {
		t.Fatalf("stale ApplyDelta must not advance sequence, got %d", b.Sequence())
	}

	b.ApplyDelta(lvl("99", "5"), true, 11)
	if b.Sequence() != 11 {
		t.Fatalf("want sequence 11 after a fresh delta, got %d", b.Sequence())
	}
	bids := b.TopBids(10)
	if len(bids) != 2 {
		t.Fatalf("want 2 bid levels after applying new level, got %v", bids)
	}

	b.ApplyDelta(lvl("99", "0"), true, 11)
	if len(b.TopBids(10)) != 2 {
		t.Fatalf("replay of same sequence must stay idempotent, got %v", b.TopBids(10))
	}
}

func TestBookMidAndSpread(t *testing.T) {
	b := NewBook("BTCUSDT")
	b.ApplySnapshot([]BookLevel{lvl("100", "1")}, []BookLevel{lvl("102", "1")}, 1)

	mid, ok := b.MidPrice()
	if !ok || !mid.Equal(dec("101")) {
		t.Fatalf("want mid 101, got %v", mid)
	}
	spread, ok := b.Spread()
	if !ok || !spread.Equal(dec("2")) {
		t.Fatalf("want spread 2, got %v", spread)
	}
}

func TestBookVWAPWalksMultipleLevels(t *testing.T) {
	b := NewBook("BTCUSDT")
	b.ApplySnapshot(nil, []BookLevel{lvl("100", "1"), lvl("101", "2"), lvl("102", "5")}, 1)

	vwap, filled := b.VWAP(false, dec("3"))
	if !filled.Equal(dec("3")) {
		t.Fatalf("want filled 3, got %v", filled)
	}
	// (100*1 + 101*2) / 3 = 302/3
	want := dec("100").Mul(dec("1")).Add(dec("101").Mul(dec("2"))).Div(dec("3"))
	if !vwap.Equal(want) {
		t.Fatalf("want vwap %v, got %v", want, vwap)
	}
}
