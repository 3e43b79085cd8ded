package market

import (
	"sort"
	"sync"

	"github.com/shopspring/decimal"
)

// UpdateResult reports how ApplyDeltas handled a batch relative to the
// book's current sequence.
type UpdateResult int

const (
	Applied UpdateResult = iota
	Gap
	Stale
)

func (r UpdateResult) String() string {
	switch r {
	case Applied:
		return "applied"
	case Gap:
		return "gap"
	case Stale:
		return "stale"
	default:
		return "unknown"
	}
}

// Book is a plain limit order book for one symbol: bids sorted
// descending, asks sorted ascending, rebuilt from sorted maps on every
// mutation (mirroring the C++ original's std::map<double,double,...>
// rebuild_cache step — cheap because real depth is shallow).
type Book struct {
	mu       sync.RWMutex
	symbol   string
	bids     map[string]decimal.Decimal // price.String() -> qty
	asks     map[string]decimal.Decimal
	bidCache []BookLevel
	askCache []BookLevel
	sequence int64
	maxDepth int
}

// NewBook creates an empty book for symbol with unlimited depth.
func NewBook(symbol string) *Book {
	return &Book{
		symbol: symbol,
		bids:   make(map[string]decimal.Decimal),
		asks:   make(map[string]decimal.Decimal),
	}
}

// SetMaxDepthLevels bounds how many levels per side are retained after a
// rebuild; 0 means unbounded.
func (b *Book) SetMaxDepthLevels(n int) {
	b.mu.Lock()
	b.maxDepth = n
	b.rebuildLocked()
	b.mu.Unlock()
}

// Symbol returns the book's symbol.
func (b *Book) Symbol() string { return b.symbol }

// Sequence returns the last applied update id.
func (b *Book) Sequence() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.sequence
}

// Clear empties the book and resets its sequence to 0.
func (b *Book) Clear() {
	b.mu.Lock()
	b.bids = make(map[string]decimal.Decimal)
	b.asks = make(map[string]decimal.Decimal)
	b.bidCache = nil
	b.askCache = nil
	b.sequence = 0
	b.mu.Unlock()
}

// ApplySnapshot replaces the book's contents wholesale and sets its
// sequence to lastUpdateID.
func (b *Book) ApplySnapshot(bids, asks []BookLevel, lastUpdateID int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bids = make(map[string]decimal.Decimal, len(bids))
	b.asks = make(map[string]decimal.Decimal, len(asks))
	for _, l := range bids {
		if l.Qty.Sign() > 0 {
			b.bids[l.Price.String()] = l.Qty
		}
	}
	for _, l := range asks {
		if l.Qty.Sign() > 0 {
			b.asks[l.Price.String()] = l.Qty
		}
	}
	b.sequence = lastUpdateID
	b.rebuildLocked()
}

// ApplyDelta applies a single level update for one side, keyed only by
// sequence: any sequence <= the book's current sequence is a no-op
// (idempotent replay protection), with no gap/continuity check — that
// reconciliation belongs to ApplyDeltas and the managed book above it.
func (b *Book) ApplyDelta(level BookLevel, isBid bool, sequence int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sequence <= b.sequence {
		return
	}
	side := b.asks
	if isBid {
		side = b.bids
	}
	b.mergeLevelLocked(side, level)
	b.sequence = sequence
	b.rebuildLocked()
}

// ApplyDeltas applies one venue update batch with continuity checking:
// the batch is dropped as Stale if its final id (seq) doesn't advance
// past the book's current sequence, reported as Gap if firstUpdateID
// skips ahead of the expected next id, and otherwise merged level by
// level (qty == 0 deletes the level) and reported Applied.
func (b *Book) ApplyDeltas(bids, asks []BookLevel, firstUpdateID, seq int64) UpdateResult {
	b.mu.Lock()
	defer b.mu.Unlock()

	if seq <= b.sequence {
		return Stale
	}
	expected := b.sequence + 1
	if b.sequence > 0 && firstUpdateID > expected {
		return Gap
	}

	for _, l := range bids {
		b.mergeLevelLocked(b.bids, l)
	}
	for _, l := range asks {
		b.mergeLevelLocked(b.asks, l)
	}
	b.sequence = seq
	b.rebuildLocked()
	return Applied
}

func (b *Book) mergeLevelLocked(side map[string]decimal.Decimal, l BookLevel) {
	key := l.Price.String()
	if l.Qty.Sign() == 0 {
		delete(side, key)
		return
	}
	side[key] = l.Qty
}

func (b *Book) rebuildLocked() {
	bids := make([]BookLevel, 0, len(b.bids))
	for k, qty := range b.bids {
		price, _ := decimal.NewFromString(k)
		bids = append(bids, BookLevel{Price: price, Qty: qty})
	}
	sort.Slice(bids, func(i, j int) bool { return bids[i].Price.GreaterThan(bids[j].Price) })

	asks := make([]BookLevel, 0, len(b.asks))
	for k, qty := range b.asks {
		price, _ := decimal.NewFromString(k)
		asks = append(asks, BookLevel{Price: price, Qty: qty})
	}
	sort.Slice(asks, func(i, j int) bool { return asks[i].Price.LessThan(asks[j].Price) })

	if b.maxDepth > 0 {
		if len(bids) > b.maxDepth {
			bids = bids[:b.maxDepth]
		}
		if len(asks) > b.maxDepth {
			asks = asks[:b.maxDepth]
		}
	}
	b.bidCache = bids
	b.askCache = asks
}

// BestBid returns the top bid level and whether one exists.
func (b *Book) BestBid() (BookLevel, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.bidCache) == 0 {
		return BookLevel{}, false
	}
	return b.bidCache[0], true
}

// BestAsk returns the top ask level and whether one exists.
func (b *Book) BestAsk() (BookLevel, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.askCache) == 0 {
		return BookLevel{}, false
	}
	return b.askCache[0], true
}

// Spread returns ask - bid, or false if either side is empty.
func (b *Book) Spread() (decimal.Decimal, bool) {
	bid, ok1 := b.BestBid()
	ask, ok2 := b.BestAsk()
	if !ok1 || !ok2 {
		return decimal.Zero, false
	}
	return ask.Price.Sub(bid.Price), true
}

// MidPrice returns (bid+ask)/2, or false if either side is empty.
func (b *Book) MidPrice() (decimal.Decimal, bool) {
	bid, ok1 := b.BestBid()
	ask, ok2 := b.BestAsk()
	if !ok1 || !ok2 {
		return decimal.Zero, false
	}
	return bid.Price.Add(ask.Price).Div(decimal.NewFromInt(2)), true
}

// TopBids returns up to n bid levels, best first.
func (b *Book) TopBids(n int) []BookLevel {
	return topLevels(b, true, n)
}

// TopAsks returns up to n ask levels, best first.
func (b *Book) TopAsks(n int) []BookLevel {
	return topLevels(b, false, n)
}

func topLevels(b *Book, bids bool, n int) []BookLevel {
	b.mu.RLock()
	defer b.mu.RUnlock()
	src := b.askCache
	if bids {
		src = b.bidCache
	}
	if n <= 0 || n > len(src) {
		n = len(src)
	}
	out := make([]BookLevel, n)
	copy(out, src[:n])
	return out
}

// CumulativeDepth sums quantity across the top n levels of one side.
func (b *Book) CumulativeDepth(bids bool, n int) decimal.Decimal {
	total := decimal.Zero
	for _, l := range topLevels(b, bids, n) {
		total = total.Add(l.Qty)
	}
	return total
}

// VWAP computes the volume-weighted average fill price for an order of
// size qty walking the given side, and the quantity actually fillable
// (which may be less than qty if the side has insufficient depth).
func (b *Book) VWAP(bids bool, qty decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	b.mu.RLock()
	src := b.askCache
	if bids {
		src = b.bidCache
	}
	levels := make([]BookLevel, len(src))
	copy(levels, src)
	b.mu.RUnlock()

	remaining := qty
	notional := decimal.Zero
	filled := decimal.Zero
	for _, l := range levels {
		if remaining.Sign() <= 0 {
			break
		}
		take := l.Qty
		if take.GreaterThan(remaining) {
			take = remaining
		}
		notional = notional.Add(take.Mul(l.Price))
		filled = filled.Add(take)
		remaining = remaining.Sub(take)
	}
	if filled.Sign() == 0 {
		return decimal.Zero, decimal.Zero
	}
	return notional.Div(filled), filled
}

// MarketImpact estimates the price movement (in price units) caused by
// walking qty into the given side relative to the best price.
func (b *Book) MarketImpact(bids bool, qty decimal.Decimal) decimal.Decimal {
	var best BookLevel
	var ok bool
	if bids {
		best, ok = b.BestBid()
	} else {
		best, ok = b.BestAsk()
	}
	if !ok {
		return decimal.Zero
	}
	vwap, filled := b.VWAP(bids, qty)
	if filled.Sign() == 0 {
		return decimal.Zero
	}
	return vwap.Sub(best.Price).Abs()
}

// LiquidityProfile reports cumulative bid/ask depth across n levels and
// their imbalance ratio ((bid-ask)/(bid+ask)).
type LiquidityProfile struct {
	BidDepth  decimal.Decimal
	AskDepth  decimal.Decimal
	Imbalance decimal.Decimal
}

// LiquidityProfile computes depth/imbalance across the top n levels.
func (b *Book) LiquidityProfile(n int) LiquidityProfile {
	bidDepth := b.CumulativeDepth(true, n)
	askDepth := b.CumulativeDepth(false, n)
	total := bidDepth.Add(askDepth)
	imbalance := decimal.Zero
	if total.Sign() > 0 {
		imbalance = bidDepth.Sub(askDepth).Div(total)
	}
	return LiquidityProfile{BidDepth: bidDepth, AskDepth: askDepth, Imbalance: imbalance}
}
