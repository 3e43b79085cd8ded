package market

import (
	"context"
	"testing"
	"time"
)

func waitForState(t *testing.T, m *ManagedOrderBook, want SyncState, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if m.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for state %v, currently %v", want, m.State())
}

func TestManagedOrderBookReconcilesBufferedDeltas(t *testing.T) {
	m := NewManagedOrderBook("BTCUSDT", nil)
	m.SetSnapshotFetcher(func(ctx context.Context, symbol string) (BookData, error) {
		return BookData{
			Symbol:   symbol,
			Sequence: 100,
			Bids:     []BookLevel{lvl("100", "1")},
			Asks:     []BookLevel{lvl("101", "1")},
		}, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)

	// Delivered while still buffering/fetching: straddles lastUpdateId=100.
	m.OnDelta(BookData{FirstUpdateID: 98, Sequence: 105, Bids: []BookLevel{lvl("100", "2")}})
	m.OnDelta(BookData{FirstUpdateID: 106, Sequence: 110, Bids: []BookLevel{lvl("100", "3")}})

	waitForState(t, m, Synchronized, 2*time.Second)

	bid, ok := m.Book().BestBid()
	if !ok || !bid.Qty.Equal(dec("3")) {
		t.Fatalf("want reconciled bid qty 3, got %v ok=%v", bid.Qty, ok)
	}
	if m.Book().Sequence() != 110 {
		t.Fatalf("want sequence 110, got %d", m.Book().Sequence())
	}
}

func TestManagedOrderBookResyncsOnGapDuringSnapshotReconciliation(t *testing.T) {
	// spec.md §8 E2: snapshot L=100, buffered deltas [(101,103),(108,110)].
	// The first straddles L+1 and applies; the second skips ahead of
	// lastProcessedU+1=104, which must trigger a resync rather than a
	// false Synchronized.
	m := NewManagedOrderBook("BTCUSDT", nil)
	m.SetSnapshotFetcher(func(ctx context.Context, symbol string) (BookData, error) {
		return BookData{Symbol: symbol, Sequence: 100}, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)

	m.OnDelta(BookData{FirstUpdateID: 101, Sequence: 103})
	m.OnDelta(BookData{FirstUpdateID: 108, Sequence: 110})

	waitForState(t, m, Buffering, 2*time.Second)

	stats := m.Stats()
	if stats.GapCount == 0 {
		t.Fatal("expected gap_count == 1 from the snapshot-phase reconciliation gap")
	}
	if stats.ResyncCount == 0 {
		t.Fatal("expected resync triggered instead of falsely reporting Synchronized")
	}
	if m.IsSynchronized() {
		t.Fatal("book must not report Synchronized after an unreconciled gap")
	}
}

func TestManagedOrderBookResyncsOnGapWhileSynchronized(t *testing.T) {
	m := NewManagedOrderBook("BTCUSDT", nil)
	calls := 0
	m.SetSnapshotFetcher(func(ctx context.Context, symbol string) (BookData, error) {
		calls++
		return BookData{Symbol: symbol, Sequence: 10}, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)
	waitForState(t, m, Synchronized, 2*time.Second)

	m.OnDelta(BookData{FirstUpdateID: 500, Sequence: 501}) // huge gap
	waitForState(t, m, Buffering, 2*time.Second)

	stats := m.Stats()
	if stats.GapCount == 0 {
		t.Fatal("expected gap to be recorded")
	}
	if stats.ResyncCount == 0 {
		t.Fatal("expected resync to be recorded")
	}
}
