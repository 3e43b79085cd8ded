package market

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// ErrSequenceGap names a hole between the book's current sequence and an
// incoming delta. Gaps are counted and handled through RequestResync; no
// function in this package returns this value.
var ErrSequenceGap = errors.New("market: sequence gap detected")

// ErrSnapshotFetchFailed names a failed snapshot fetch. Fetcher errors
// are logged and not wrapped with this value; no function in this
// package returns it.
var ErrSnapshotFetchFailed = errors.New("market: snapshot fetch failed")

// SyncState is a managed book's synchronization state.
type SyncState int32

const (
	Disconnected SyncState = iota
	Buffering
	FetchingSnapshot
	Synchronizing
	Synchronized
	Resynchronizing
)

func (s SyncState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Buffering:
		return "buffering"
	case FetchingSnapshot:
		return "fetching_snapshot"
	case Synchronizing:
		return "synchronizing"
	case Synchronized:
		return "synchronized"
	case Resynchronizing:
		return "resynchronizing"
	default:
		return "unknown"
	}
}

// ManagedOrderBookStats tracks lifetime counters for diagnostics.
type ManagedOrderBookStats struct {
	SnapshotCount     int64
	DeltaCount        int64
	DroppedDeltaCount int64
	ResyncCount       int64
	GapCount          int64
	LastSyncTimeNS    int64
}

// SnapshotFetcher fetches a full depth snapshot for symbol.
type SnapshotFetcher func(ctx context.Context, symbol string) (BookData, error)

// UpdateCallback is invoked after the book changes as a result of a
// successfully applied delta or snapshot.
type UpdateCallback func(*Book)

type bufferState struct {
	mu                 sync.Mutex
	buffer             []BookData
	snapshotLastID     int64
	firstDeltaApplied  bool
}

// ManagedOrderBook drives a Book through the Binance-style
// buffer-then-snapshot-then-reconcile synchronization protocol: deltas
// arriving before a snapshot is fetched are buffered, then replayed
// against the snapshot's lastUpdateId using the exact continuity rule
// Binance documents (first buffered delta must straddle lastUpdateId,
// every later one must chain U == prevU+1), falling back to a full
// resync whenever a gap is detected once synchronized.
type ManagedOrderBook struct {
	symbol          string
	book            *Book
	state           atomic.Int32
	running         atomic.Bool
	stats           ManagedOrderBookStats
	statsMu         sync.Mutex
	buf             bufferState
	fetcher         SnapshotFetcher
	onUpdate        UpdateCallback
	maxBufferSize   int
	snapshotTimeout time.Duration
	log             *slog.Logger
}

// NewManagedOrderBook creates a managed book for symbol. Call
// SetSnapshotFetcher before Start.
func NewManagedOrderBook(symbol string, log *slog.Logger) *ManagedOrderBook {
	if log == nil {
		log = slog.Default()
	}
	m := &ManagedOrderBook{
		symbol:          symbol,
		book:            NewBook(symbol),
		maxBufferSize:   2000,
		snapshotTimeout: 5 * time.Second,
		log:             log.With("component", "managed_book", "symbol", symbol),
	}
	return m
}

func (m *ManagedOrderBook) SetSnapshotFetcher(f SnapshotFetcher) { m.fetcher = f }
func (m *ManagedOrderBook) SetUpdateCallback(cb UpdateCallback)  { m.onUpdate = cb }
func (m *ManagedOrderBook) SetMaxBufferSize(n int)               { m.maxBufferSize = n }
func (m *ManagedOrderBook) SetMaxDepthLevels(n int)              { m.book.SetMaxDepthLevels(n) }
func (m *ManagedOrderBook) SetSnapshotTimeout(d time.Duration)   { m.snapshotTimeout = d }

// Book returns the underlying book (safe for concurrent reads).
func (m *ManagedOrderBook) Book() *Book { return m.book }

// State returns the current sync state.
func (m *ManagedOrderBook) State() SyncState { return SyncState(m.state.Load()) }

// IsSynchronized reports whether the book is currently trustworthy.
func (m *ManagedOrderBook) IsSynchronized() bool { return m.State() == Synchronized }

// Symbol returns the managed book's symbol.
func (m *ManagedOrderBook) Symbol() string { return m.symbol }

// Stats returns a snapshot of lifetime counters.
func (m *ManagedOrderBook) Stats() ManagedOrderBookStats {
	m.statsMu.Lock()
	defer m.statsMu.Unlock()
	return m.stats
}

// Start begins synchronization: it transitions to Buffering immediately
// so incoming deltas are collected, waits 100ms to build up buffer
// depth (matching the original implementation), then fetches and
// reconciles a snapshot in the background. Start is a no-op if already
// running.
func (m *ManagedOrderBook) Start(ctx context.Context) {
	if m.running.Swap(true) {
		return
	}
	m.transitionTo(Buffering)
	go func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(100 * time.Millisecond):
		}
		if !m.running.Load() {
			return
		}
		m.fetchAndSync(ctx)
	}()
}

// Stop halts synchronization and clears buffered state.
func (m *ManagedOrderBook) Stop() {
	m.running.Store(false)
	m.transitionTo(Disconnected)
	m.buf.mu.Lock()
	m.buf.buffer = nil
	m.buf.snapshotLastID = 0
	m.buf.firstDeltaApplied = false
	m.buf.mu.Unlock()
}

// OnDelta feeds one incoming delta through the FSM.
func (m *ManagedOrderBook) OnDelta(delta BookData) {
	if !m.running.Load() {
		return
	}
	m.bumpStat(func(s *ManagedOrderBookStats) { s.DeltaCount++ })

	switch m.State() {
	case Disconnected:
		m.bumpStat(func(s *ManagedOrderBookStats) { s.DroppedDeltaCount++ })
	case Buffering, FetchingSnapshot, Synchronizing, Resynchronizing:
		m.bufferDelta(delta)
	case Synchronized:
		m.applyDeltaInternal(delta)
	}
}

func (m *ManagedOrderBook) bufferDelta(delta BookData) {
	m.buf.mu.Lock()
	defer m.buf.mu.Unlock()
	if len(m.buf.buffer) >= m.maxBufferSize {
		m.log.Warn("delta buffer overflow, dropping delta", "sequence", delta.Sequence)
		m.bumpStat(func(s *ManagedOrderBookStats) { s.DroppedDeltaCount++ })
		return
	}
	m.buf.buffer = append(m.buf.buffer, delta)
}

// RequestResync clears state and restarts synchronization from scratch:
// it returns to Buffering and, after a 100ms buffering window, fetches a
// fresh snapshot.
func (m *ManagedOrderBook) RequestResync() {
	if !m.running.Load() {
		return
	}
	m.log.Info("resync requested")
	m.bumpStat(func(s *ManagedOrderBookStats) { s.ResyncCount++ })
	m.transitionTo(Resynchronizing)

	m.buf.mu.Lock()
	m.buf.buffer = nil
	m.buf.snapshotLastID = 0
	m.buf.firstDeltaApplied = false
	m.buf.mu.Unlock()
	m.book.Clear()

	m.transitionTo(Buffering)

	go func() {
		time.Sleep(100 * time.Millisecond)
		if m.running.Load() && m.State() == Buffering {
			m.fetchAndSync(context.Background())
		}
	}()
}

func (m *ManagedOrderBook) fetchAndSync(ctx context.Context) {
	if m.fetcher == nil {
		m.log.Error("no snapshot fetcher configured")
		return
	}
	m.transitionTo(FetchingSnapshot)
	m.log.Info("fetching snapshot")

	fetchCtx, cancel := context.WithTimeout(ctx, m.snapshotTimeout)
	snapshot, err := m.fetcher(fetchCtx, m.symbol)
	cancel()
	if err != nil {
		m.log.Error("snapshot fetch failed", "error", err)
		if m.running.Load() {
			m.transitionTo(Buffering)
		}
		return
	}
	if !m.running.Load() {
		return
	}

	m.log.Info("snapshot received", "sequence", snapshot.Sequence, "bids", len(snapshot.Bids), "asks", len(snapshot.Asks))
	m.bumpStat(func(s *ManagedOrderBookStats) { s.SnapshotCount++ })

	m.buf.mu.Lock()
	m.buf.snapshotLastID = snapshot.Sequence
	m.buf.firstDeltaApplied = false
	m.buf.mu.Unlock()

	m.book.ApplySnapshot(snapshot.Bids, snapshot.Asks, snapshot.Sequence)

	m.transitionTo(Synchronizing)
	gapFound := m.processBufferedDeltas()

	if !m.running.Load() {
		return
	}
	if gapFound {
		m.log.Warn("gap found while reconciling buffered deltas against snapshot, resyncing")
		m.RequestResync()
		return
	}
	m.transitionTo(Synchronized)
	m.statsMu.Lock()
	m.stats.LastSyncTimeNS = time.Now().UnixNano()
	m.statsMu.Unlock()
	m.notifyUpdate()
}

// processBufferedDeltas replays the buffered deltas against the snapshot
// just applied to m.book, per the continuity rule in spec.md §4.5. It
// reports whether a gap was detected so the caller can trigger a resync
// instead of falsely declaring the book Synchronized.
func (m *ManagedOrderBook) processBufferedDeltas() bool {
	m.buf.mu.Lock()
	defer m.buf.mu.Unlock()

	snapshotLastID := m.buf.snapshotLastID
	sort.Slice(m.buf.buffer, func(i, j int) bool {
		return m.buf.buffer[i].FirstUpdateID < m.buf.buffer[j].FirstUpdateID
	})

	var remaining []BookData
	foundFirstValid := false
	gapFound := false
	lastProcessedU := snapshotLastID

	for _, delta := range m.buf.buffer {
		if delta.Sequence <= snapshotLastID {
			m.bumpStat(func(s *ManagedOrderBookStats) { s.DroppedDeltaCount++ })
			continue
		}
		if !foundFirstValid {
			if delta.FirstUpdateID <= snapshotLastID+1 && delta.Sequence >= snapshotLastID+1 {
				foundFirstValid = true
				m.buf.firstDeltaApplied = true
				if m.book.ApplyDeltas(delta.Bids, delta.Asks, delta.FirstUpdateID, delta.Sequence) == Applied {
					lastProcessedU = delta.Sequence
				}
			} else {
				remaining = append(remaining, delta)
			}
			continue
		}
		switch {
		case delta.FirstUpdateID == lastProcessedU+1:
			if m.book.ApplyDeltas(delta.Bids, delta.Asks, delta.FirstUpdateID, delta.Sequence) == Applied {
				lastProcessedU = delta.Sequence
			}
		case delta.FirstUpdateID > lastProcessedU+1:
			m.bumpStat(func(s *ManagedOrderBookStats) { s.GapCount++ })
			gapFound = true
			remaining = append(remaining, delta)
		default:
			m.bumpStat(func(s *ManagedOrderBookStats) { s.DroppedDeltaCount++ })
		}
	}
	m.buf.buffer = remaining

	if !foundFirstValid && len(m.buf.buffer) > 0 {
		m.log.Warn("no valid first delta found", "buffered", len(m.buf.buffer))
	}
	return gapFound
}

func (m *ManagedOrderBook) applyDeltaInternal(delta BookData) {
	expectedFirst := m.book.Sequence() + 1

	if delta.FirstUpdateID != expectedFirst {
		if delta.FirstUpdateID > expectedFirst {
			m.bumpStat(func(s *ManagedOrderBookStats) { s.GapCount++ })
			m.log.Warn("sequence gap detected", "expected", expectedFirst, "got", delta.FirstUpdateID)
			m.bufferDelta(delta)
			m.RequestResync()
			return
		}
		m.bumpStat(func(s *ManagedOrderBookStats) { s.DroppedDeltaCount++ })
		return
	}

	if m.book.ApplyDeltas(delta.Bids, delta.Asks, delta.FirstUpdateID, delta.Sequence) == Applied {
		m.notifyUpdate()
	}
}

func (m *ManagedOrderBook) transitionTo(s SyncState) {
	old := SyncState(m.state.Swap(int32(s)))
	if old != s {
		m.log.Info("state transition", "from", old, "to", s)
	}
}

func (m *ManagedOrderBook) notifyUpdate() {
	if m.onUpdate != nil {
		m.onUpdate(m.book)
	}
}

func (m *ManagedOrderBook) bumpStat(f func(*ManagedOrderBookStats)) {
	m.statsMu.Lock()
	f(&m.stats)
	m.statsMu.Unlock()
}
